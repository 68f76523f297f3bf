// dephealth.go — интеграция с topologymetrics SDK для мониторинга зависимостей.
//
// Record Module мониторит только внешние сетевые зависимости:
//   - PostgreSQL — SQL checker через существующий pgxpool (connection pool mode, critical)
//   - внешний реестр — HTTP checker к health endpoint (не critical: реестр
//     асинхронный, его недоступность не мешает операциям над записями)
//
// Встроенные бэкенды (badger, SQLite-реестр, локальный каталог) не мониторятся.
//
// Метрики доступны на /metrics вместе с остальными Prometheus-метриками:
//   - app_dependency_health — состояние зависимости (1 = ok, 0 = fail)
//   - app_dependency_latency_seconds — задержка проверки
//   - app_dependency_status — категория статуса
//   - app_dependency_status_detail — детальный статус
package service

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/url"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/httpcheck" // регистрация HTTP checker factory
	"github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/pgcheck"
	"github.com/prometheus/client_golang/prometheus"
)

// ErrNoDependencies — нечего мониторить (встроенные бэкенды).
var ErrNoDependencies = errors.New("нет внешних зависимостей для мониторинга")

// DephealthTargets — мониторируемые зависимости. Пустые поля пропускаются.
type DephealthTargets struct {
	// DB — *sql.DB, полученный из pgxpool через stdlib.OpenDBFromPool()
	DB *sql.DB
	// PGConnURL — URL подключения к PostgreSQL (для метрик/лейблов, не для подключения)
	PGConnURL string
	// LedgerURL — базовый URL внешнего реестра
	LedgerURL string
}

// Empty сообщает, что мониторить нечего.
func (t DephealthTargets) Empty() bool {
	return t.DB == nil && t.LedgerURL == ""
}

// DephealthService — сервис мониторинга зависимостей через topologymetrics.
type DephealthService struct {
	dh     *dephealth.DepHealth
	names  []string
	logger *slog.Logger
}

// NewDephealthService создаёт сервис мониторинга зависимостей.
// Метрики регистрируются в глобальном Prometheus registry.
//
// Параметры:
//   - serviceID — имя вершины графа текущего приложения ("record-module")
//   - group — имя группы в метриках (RM_DEPHEALTH_GROUP)
//   - checkInterval — интервал проверки (RM_DEPHEALTH_CHECK_INTERVAL)
//   - isEntry — при true добавляет лейбл isentry=yes ко всем зависимостям (DEPHEALTH_ISENTRY)
func NewDephealthService(
	serviceID string,
	group string,
	targets DephealthTargets,
	checkInterval time.Duration,
	isEntry bool,
	logger *slog.Logger,
) (*DephealthService, error) {
	return newDephealthService(serviceID, group, targets, checkInterval, isEntry, logger)
}

// NewDephealthServiceWithRegisterer создаёт сервис с указанным Prometheus registerer.
// Используется в тестах для изоляции метрик.
func NewDephealthServiceWithRegisterer(
	serviceID string,
	group string,
	targets DephealthTargets,
	checkInterval time.Duration,
	isEntry bool,
	logger *slog.Logger,
	registerer prometheus.Registerer,
) (*DephealthService, error) {
	return newDephealthService(serviceID, group, targets, checkInterval, isEntry,
		logger, dephealth.WithRegisterer(registerer))
}

func newDephealthService(
	serviceID string,
	group string,
	targets DephealthTargets,
	checkInterval time.Duration,
	isEntry bool,
	logger *slog.Logger,
	extraOpts ...dephealth.Option,
) (*DephealthService, error) {
	if targets.Empty() {
		return nil, ErrNoDependencies
	}

	common := func(critical bool) []dephealth.DependencyOption {
		opts := []dephealth.DependencyOption{
			dephealth.CheckInterval(checkInterval),
			dephealth.Critical(critical),
		}
		if isEntry {
			opts = append(opts, dephealth.WithLabel("isentry", "yes"))
		}
		return opts
	}

	opts := []dephealth.Option{dephealth.WithLogger(logger)}
	var names []string

	if targets.DB != nil {
		pgOpts := append([]dephealth.DependencyOption{dephealth.FromURL(targets.PGConnURL)}, common(true)...)
		opts = append(opts, dephealth.AddDependency("postgresql", dephealth.TypePostgres,
			pgcheck.New(pgcheck.WithDB(targets.DB)), pgOpts...))
		names = append(names, "postgresql")
	}

	if targets.LedgerURL != "" {
		ledgerOpts := append([]dephealth.DependencyOption{
			dephealth.FromURL(targets.LedgerURL),
			dephealth.WithHTTPHealthPath("/health/ready"),
		}, common(false)...)
		if parsed, err := url.Parse(targets.LedgerURL); err == nil && parsed.Scheme == "https" {
			ledgerOpts = append(ledgerOpts, dephealth.WithHTTPTLSSkipVerify(false))
		}
		opts = append(opts, dephealth.HTTP("ledger", ledgerOpts...))
		names = append(names, "ledger")
	}

	opts = append(opts, extraOpts...)

	dh, err := dephealth.New(serviceID, group, opts...)
	if err != nil {
		return nil, err
	}

	return &DephealthService{
		dh:     dh,
		names:  names,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// Start запускает периодическую проверку зависимостей.
func (ds *DephealthService) Start(ctx context.Context) error {
	ds.logger.Info("Мониторинг зависимостей запущен", slog.Any("dependencies", ds.names))
	return ds.dh.Start(ctx)
}

// Stop останавливает мониторинг зависимостей.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг зависимостей остановлен")
}

// Health возвращает текущее состояние зависимостей.
// Ключ — имя зависимости, значение — true если ok.
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}
