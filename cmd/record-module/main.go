// Точка входа Record Module — сервис записей пациентов.
// Загружает конфигурацию, открывает хранилище записей (PostgreSQL или Badger)
// и файловое хранилище (диск или S3), подключает внешний реестр,
// создаёт сервисный слой и API handlers, запускает фоновую отправку
// в реестр, topologymetrics и HTTP-сервер с JWT middleware и graceful shutdown.
package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/goartstore/record-module/internal/api/handlers"
	"github.com/bigkaa/goartstore/record-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/record-module/internal/api/openapi"
	"github.com/bigkaa/goartstore/record-module/internal/config"
	"github.com/bigkaa/goartstore/record-module/internal/database"
	"github.com/bigkaa/goartstore/record-module/internal/domain/access"
	"github.com/bigkaa/goartstore/record-module/internal/identity"
	"github.com/bigkaa/goartstore/record-module/internal/ledger"
	"github.com/bigkaa/goartstore/record-module/internal/ledger/sqliteledger"
	"github.com/bigkaa/goartstore/record-module/internal/repository"
	"github.com/bigkaa/goartstore/record-module/internal/server"
	"github.com/bigkaa/goartstore/record-module/internal/service"
	"github.com/bigkaa/goartstore/record-module/internal/storage"
	"github.com/bigkaa/goartstore/record-module/internal/storage/badgerstore"
	"github.com/bigkaa/goartstore/record-module/internal/storage/filestore"
	"github.com/bigkaa/goartstore/record-module/internal/storage/s3store"
)

const serviceID = "record-module"

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Record Module запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("store", cfg.StoreBackend),
		slog.String("filestore", cfg.FileStoreBackend),
		slog.String("ledger", cfg.LedgerMode),
	)

	ctx := context.Background()
	var (
		closers      []io.Closer
		checks       []handlers.HealthCheck
		depTargets   service.DephealthTargets
		recordRepo   repository.RecordRepository
		principalRep repository.PrincipalRepository
	)
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
	}()
	fatal := func(msg string, err error) {
		logger.Error(msg, slog.String("error", err.Error()))
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
		os.Exit(1)
	}

	// 3. Хранилище записей
	switch cfg.StoreBackend {
	case config.StoreBackendPostgres:
		// 3.1 Применение миграций БД
		logger.Info("Применение миграций БД...")
		if err := database.Migrate(cfg, logger); err != nil {
			fatal("Ошибка миграций БД", err)
		}

		// 3.2 Подключение к PostgreSQL (pgxpool)
		pool, err := database.Connect(ctx, cfg, logger)
		if err != nil {
			fatal("Ошибка подключения к PostgreSQL", err)
		}
		closers = append(closers, closerFunc(func() error { pool.Close(); return nil }))

		// 3.3 Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode)
		pgDB := stdlib.OpenDBFromPool(pool)
		closers = append(closers, pgDB)
		depTargets.DB = pgDB
		depTargets.PGConnURL = cfg.DatabaseURL()

		recordRepo = repository.NewRecordRepository(pool)
		principalRep = repository.NewPrincipalRepository(pool)
		checks = append(checks, handlers.HealthCheck{Name: "postgresql", Checker: database.NewReadinessChecker(pool)})

	case config.StoreBackendBadger:
		store, err := badgerstore.Open(cfg.BadgerDir, logger)
		if err != nil {
			fatal("Ошибка открытия Badger", err)
		}
		closers = append(closers, store)

		recordRepo = store
		principalRep = store
		checks = append(checks, handlers.HealthCheck{Name: "badger", Checker: store})
	}

	// 4. Файловое хранилище
	var files storage.FileStore
	switch cfg.FileStoreBackend {
	case config.FileStoreBackendS3:
		client, err := s3store.NewClient(ctx, s3store.Config{
			Endpoint:     cfg.S3Endpoint,
			Region:       cfg.S3Region,
			Bucket:       cfg.S3Bucket,
			Prefix:       cfg.S3Prefix,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			UsePathStyle: cfg.S3UsePathStyle,
		})
		if err != nil {
			fatal("Ошибка создания S3-клиента", err)
		}
		s3Store := s3store.New(client, cfg.S3Bucket, cfg.S3Prefix)
		files = s3Store
		checks = append(checks, handlers.HealthCheck{
			Name: "s3",
			Checker: handlers.ReadinessFunc(func() (string, string) {
				checkCtx, cancel := context.WithTimeout(context.Background(), cfg.JWKSClientTimeout)
				defer cancel()
				return s3Store.CheckReady(checkCtx)
			}),
		})
		logger.Info("Файловое хранилище S3",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("endpoint", cfg.S3Endpoint),
		)

	default:
		fs, err := filestore.New(cfg.FileStoreDir)
		if err != nil {
			fatal("Ошибка инициализации файлового хранилища", err)
		}
		files = fs
		checks = append(checks, handlers.HealthCheck{Name: "filestore", Checker: fs})
	}

	// 5. Внешний реестр
	var l ledger.Ledger = ledger.Noop{}
	switch cfg.LedgerMode {
	case config.LedgerModeHTTP:
		client, err := ledger.NewHTTPClient(cfg.LedgerURL, cfg.LedgerCACertPath, cfg.LedgerToken, cfg.LedgerTimeout, logger)
		if err != nil {
			fatal("Ошибка создания клиента реестра", err)
		}
		l = client
		depTargets.LedgerURL = client.BaseURL()

	case config.LedgerModeSQLite:
		sl, err := sqliteledger.Open(cfg.LedgerSQLitePath)
		if err != nil {
			fatal("Ошибка открытия SQLite-реестра", err)
		}
		closers = append(closers, sl)
		l = sl
		checks = append(checks, handlers.HealthCheck{Name: "ledger", Checker: sl})
	}

	// 6. Справочник principal
	resolver := identity.NewResolver(principalRep, cfg.IdentityCacheSize, cfg.IdentityCacheTTL, logger)

	// 7. Движок доступа и хранилище агрегатов
	engine := access.NewEngine()
	aggregates := service.NewAggregateStore(recordRepo, engine, cfg.ApplyMaxAttempts, cfg.ApplyBackoff, logger)

	// 8. Фоновая отправка в реестр
	var publisher *service.LedgerPublisher
	if cfg.LedgerMode != config.LedgerModeNone {
		publisher = service.NewLedgerPublisher(l, cfg.LedgerQueueSize, cfg.LedgerTimeout, logger)
		publisher.Start(ctx)
	}

	// 9. Сервис записей
	records := service.NewRecordService(aggregates, recordRepo, files, resolver, publisher, l, cfg.MaxFileSize, logger)

	// 10. Readiness checkers и health handler
	jwksChecker, err := middleware.NewJWKSReadinessChecker(cfg.JWTJWKSURL, cfg.JWKSCACertPath, cfg.JWKSClientTimeout)
	if err != nil {
		fatal("Ошибка создания JWKS readiness checker", err)
	}
	checks = append(checks, handlers.HealthCheck{Name: "jwks", Checker: jwksChecker})
	healthHandler := handlers.NewHealthHandler(checks...)

	// 11. API handler
	apiHandler := handlers.NewAPIHandler(healthHandler, records, logger)

	// 12. JWT middleware: principal регистрируется в справочнике при первом обращении
	jwtAuth, err := middleware.NewJWTAuth(
		cfg.JWTJWKSURL,
		cfg.JWKSCACertPath,
		cfg.JWTIssuer,
		cfg.JWKSClientTimeout,
		cfg.JWKSRefreshInterval,
		cfg.JWTLeeway,
		resolver,
		logger,
	)
	if err != nil {
		fatal("Ошибка создания JWT middleware", err)
	}
	logger.Info("JWT middleware инициализирован",
		slog.String("jwks_url", cfg.JWTJWKSURL),
		slog.String("issuer", cfg.JWTIssuer),
	)

	// 13. Валидация запросов по OpenAPI-контракту
	doc, err := openapi.Load(ctx)
	if err != nil {
		fatal("Ошибка загрузки OpenAPI-контракта", err)
	}
	validator, err := middleware.NewOpenAPIValidator(doc, maxRequestBody(cfg.MaxFileSize), logger)
	if err != nil {
		fatal("Ошибка создания OpenAPI-валидатора", err)
	}

	// 14. topologymetrics — мониторинг зависимостей (PostgreSQL, реестр)
	dephealthSvc, dephealthErr := service.NewDephealthService(
		serviceID,
		cfg.DephealthGroup,
		depTargets,
		cfg.DephealthCheckInterval,
		os.Getenv("DEPHEALTH_ISENTRY") == "yes",
		logger,
	)
	switch {
	case errors.Is(dephealthErr, service.ErrNoDependencies):
		logger.Info("topologymetrics: внешних зависимостей нет, мониторинг не запускается")
	case dephealthErr != nil:
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
	default:
		if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics",
				slog.String("error", startErr.Error()),
			)
		} else {
			defer dephealthSvc.Stop()
			logger.Info("topologymetrics запущен",
				slog.String("group", cfg.DephealthGroup),
				slog.String("check_interval", cfg.DephealthCheckInterval.String()),
			)
		}
	}

	// 15. HTTP-сервер: health и metrics без JWT
	srv := server.New(cfg, logger, apiHandler,
		middleware.RequestID(),
		middleware.MetricsMiddleware(),
		middleware.RequestLogger(logger),
		server.JWTAuthWithExclusions(jwtAuth.Middleware(), "/health/", "/metrics"),
		validator.Middleware(),
	)

	// 16. Запуск сервера (блокирующий вызов с graceful shutdown)
	runErr := srv.Run()

	// Отправляем в реестр то, что уже в очереди
	if publisher != nil {
		publisher.Stop()
	}

	if runErr != nil && !errors.Is(runErr, http.ErrServerClosed) {
		fatal("Сервер завершился с ошибкой", runErr)
	}

	logger.Info("Record Module остановлен")
}

// maxRequestBody — предел тела запроса: два файла максимального
// размера в base64 плюс запас на JSON.
func maxRequestBody(maxFileSize int64) int64 {
	return maxFileSize/3*4*2 + 1<<20
}

// closerFunc — адаптер функции к io.Closer.
type closerFunc func() error

func (f closerFunc) Close() error { return f() }
