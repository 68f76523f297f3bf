package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/bigkaa/goartstore/record-module/internal/config"
	"github.com/bigkaa/goartstore/record-module/internal/database"
	"github.com/bigkaa/goartstore/record-module/internal/ledger"
	"github.com/bigkaa/goartstore/record-module/internal/ledger/sqliteledger"
	"github.com/bigkaa/goartstore/record-module/internal/repository"
	"github.com/bigkaa/goartstore/record-module/internal/storage/badgerstore"
)

// ErrLedgerDisabled — реестр не настроен (RM_LEDGER_MODE=none).
var ErrLedgerDisabled = errors.New("реестр не настроен (RM_LEDGER_MODE=none)")

// Backends открывает хранилища для команд.
// Каждая функция возвращает ресурс и функцию его закрытия.
type Backends struct {
	OpenRecords func(ctx context.Context, logger *slog.Logger) (repository.RecordRepository, func(), error)
	OpenLedger  func(ctx context.Context, logger *slog.Logger) (ledger.Ledger, func(), error)
	Migrate     func(ctx context.Context, logger *slog.Logger) error
}

// EnvBackends возвращает Backends, настроенные по переменным окружения.
func EnvBackends() *Backends {
	return &Backends{
		OpenRecords: openRecordsFromEnv,
		OpenLedger:  openLedgerFromEnv,
		Migrate:     migrateFromEnv,
	}
}

func openRecordsFromEnv(ctx context.Context, logger *slog.Logger) (repository.RecordRepository, func(), error) {
	cfg, err := config.LoadTool()
	if err != nil {
		return nil, nil, err
	}

	switch cfg.StoreBackend {
	case config.StoreBackendBadger:
		store, err := badgerstore.Open(cfg.BadgerDir, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, closeQuietly(store), nil
	default:
		pool, err := database.Connect(ctx, cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		return repository.NewRecordRepository(pool), pool.Close, nil
	}
}

func openLedgerFromEnv(_ context.Context, logger *slog.Logger) (ledger.Ledger, func(), error) {
	cfg, err := config.LoadTool()
	if err != nil {
		return nil, nil, err
	}

	switch cfg.LedgerMode {
	case config.LedgerModeHTTP:
		client, err := ledger.NewHTTPClient(cfg.LedgerURL, cfg.LedgerCACertPath, cfg.LedgerToken, cfg.LedgerTimeout, logger)
		if err != nil {
			return nil, nil, err
		}
		return client, func() {}, nil
	case config.LedgerModeSQLite:
		store, err := sqliteledger.Open(cfg.LedgerSQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return store, closeQuietly(store), nil
	default:
		return nil, nil, ErrLedgerDisabled
	}
}

func migrateFromEnv(_ context.Context, logger *slog.Logger) error {
	cfg, err := config.LoadTool()
	if err != nil {
		return err
	}
	if cfg.StoreBackend != config.StoreBackendPostgres {
		return fmt.Errorf("миграции применимы только к postgres, RM_STORE_BACKEND=%s", cfg.StoreBackend)
	}
	return database.Migrate(cfg, logger)
}

func closeQuietly(c io.Closer) func() {
	return func() { _ = c.Close() }
}
