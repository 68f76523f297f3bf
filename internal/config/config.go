// Пакет config — загрузка и валидация конфигурации Record Module
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Бэкенды хранилищ.
const (
	StoreBackendPostgres = "postgres"
	StoreBackendBadger   = "badger"

	FileStoreBackendLocal = "local"
	FileStoreBackendS3    = "s3"

	LedgerModeNone   = "none"
	LedgerModeHTTP   = "http"
	LedgerModeSQLite = "sqlite"
)

// Config содержит все параметры конфигурации Record Module.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера (диапазон 8040-8049)
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- HTTP Server Timeouts ---

	// Таймаут чтения HTTP-сервера (по умолчанию 30s)
	HTTPReadTimeout time.Duration
	// Таймаут записи HTTP-сервера (по умолчанию 60s)
	HTTPWriteTimeout time.Duration
	// Таймаут простоя HTTP-сервера (по умолчанию 120s)
	HTTPIdleTimeout time.Duration

	// --- Хранилище записей ---

	// Бэкенд хранилища записей: postgres, badger
	StoreBackend string
	// Хост PostgreSQL
	DBHost string
	// Порт PostgreSQL
	DBPort int
	// Имя базы данных
	DBName string
	// Имя пользователя PostgreSQL
	DBUser string
	// Пароль пользователя PostgreSQL
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string
	// Каталог данных Badger
	BadgerDir string

	// --- Движок ---

	// Максимум попыток применения операции при конфликте версий
	ApplyMaxAttempts int
	// Базовая пауза между попытками (с джиттером)
	ApplyBackoff time.Duration

	// --- JWT ---

	// URL JWKS endpoint
	JWTJWKSURL string
	// Ожидаемый issuer (пусто — не проверяется)
	JWTIssuer string
	// Допустимое расхождение часов
	JWTLeeway time.Duration
	// Интервал обновления JWKS
	JWKSRefreshInterval time.Duration
	// Таймаут HTTP-клиента JWKS
	JWKSClientTimeout time.Duration
	// Путь к CA-сертификату для JWKS (опционально)
	JWKSCACertPath string

	// --- Файловое хранилище ---

	// Бэкенд: local, s3
	FileStoreBackend string
	// Каталог локального хранилища
	FileStoreDir string
	// Максимальный размер файла в байтах
	MaxFileSize int64
	// S3 endpoint (пусто — AWS по умолчанию)
	S3Endpoint string
	// S3 регион
	S3Region string
	// S3 бакет
	S3Bucket string
	// Префикс ключей в бакете
	S3Prefix string
	// S3 access key (пусто — цепочка учётных данных SDK)
	S3AccessKey string
	// S3 secret key
	S3SecretKey string
	// Path-style адресация (MinIO, Ceph)
	S3UsePathStyle bool

	// --- Identity ---

	// Размер кэша разрешения principal
	IdentityCacheSize int
	// TTL кэша разрешения principal
	IdentityCacheTTL time.Duration

	// --- Реестр (ledger) ---

	// Режим: none, http, sqlite
	LedgerMode string
	// URL внешнего реестра
	LedgerURL string
	// Bearer-токен внешнего реестра (опционально)
	LedgerToken string
	// Путь к CA-сертификату реестра (опционально)
	LedgerCACertPath string
	// Путь к файлу SQLite-реестра
	LedgerSQLitePath string
	// Таймаут одной отправки
	LedgerTimeout time.Duration
	// Размер очереди отправки
	LedgerQueueSize int

	// --- Topologymetrics ---

	// Интервал проверки зависимостей
	DephealthCheckInterval time.Duration
	// Имя группы сервисов
	DephealthGroup string

	// --- Graceful shutdown ---

	// Таймаут graceful shutdown (по умолчанию 5s)
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения.
// Возвращает ошибку, если обязательные переменные не заданы
// или значения некорректны.
//
//nolint:gocyclo,cyclop,funlen // последовательная загрузка всех групп параметров
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// RM_PORT — порт HTTP-сервера (по умолчанию 8040)
	cfg.Port, err = getEnvInt("RM_PORT", 8040)
	if err != nil {
		return nil, fmt.Errorf("RM_PORT: %w", err)
	}
	if cfg.Port < 8040 || cfg.Port > 8049 {
		return nil, fmt.Errorf("RM_PORT: значение %d вне допустимого диапазона 8040-8049", cfg.Port)
	}

	// RM_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("RM_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("RM_LOG_LEVEL: %w", err)
	}

	// RM_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("RM_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("RM_LOG_FORMAT: недопустимый формат %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- HTTP Server Timeouts ---

	if cfg.HTTPReadTimeout, err = getEnvDuration("RM_HTTP_READ_TIMEOUT", 30*time.Second); err != nil {
		return nil, fmt.Errorf("RM_HTTP_READ_TIMEOUT: %w", err)
	}
	if cfg.HTTPWriteTimeout, err = getEnvDuration("RM_HTTP_WRITE_TIMEOUT", 60*time.Second); err != nil {
		return nil, fmt.Errorf("RM_HTTP_WRITE_TIMEOUT: %w", err)
	}
	if cfg.HTTPIdleTimeout, err = getEnvDuration("RM_HTTP_IDLE_TIMEOUT", 120*time.Second); err != nil {
		return nil, fmt.Errorf("RM_HTTP_IDLE_TIMEOUT: %w", err)
	}

	// --- Хранилище записей ---

	if err := loadRecordStore(cfg); err != nil {
		return nil, err
	}

	// --- Движок ---

	// RM_APPLY_MAX_ATTEMPTS — попыток при конфликте версий (по умолчанию 5)
	cfg.ApplyMaxAttempts, err = getEnvInt("RM_APPLY_MAX_ATTEMPTS", 5)
	if err != nil {
		return nil, fmt.Errorf("RM_APPLY_MAX_ATTEMPTS: %w", err)
	}
	if cfg.ApplyMaxAttempts < 1 || cfg.ApplyMaxAttempts > 50 {
		return nil, fmt.Errorf("RM_APPLY_MAX_ATTEMPTS: значение %d вне допустимого диапазона 1-50", cfg.ApplyMaxAttempts)
	}

	// RM_APPLY_BACKOFF — базовая пауза между попытками (по умолчанию 10ms)
	cfg.ApplyBackoff, err = getEnvDurationFallback("RM_APPLY_BACKOFF", 10*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("RM_APPLY_BACKOFF: %w", err)
	}

	// --- JWT ---

	// RM_JWT_JWKS_URL — обязательный
	cfg.JWTJWKSURL, err = getEnvRequired("RM_JWT_JWKS_URL")
	if err != nil {
		return nil, err
	}
	cfg.JWTIssuer = getEnvDefault("RM_JWT_ISSUER", "")
	if cfg.JWTLeeway, err = getEnvDuration("RM_JWT_LEEWAY", 5*time.Second); err != nil {
		return nil, fmt.Errorf("RM_JWT_LEEWAY: %w", err)
	}
	if cfg.JWKSRefreshInterval, err = getEnvDurationFallback("RM_JWKS_REFRESH_INTERVAL", 15*time.Minute); err != nil {
		return nil, fmt.Errorf("RM_JWKS_REFRESH_INTERVAL: %w", err)
	}
	if cfg.JWKSClientTimeout, err = getEnvDurationFallback("RM_JWKS_CLIENT_TIMEOUT", 10*time.Second); err != nil {
		return nil, fmt.Errorf("RM_JWKS_CLIENT_TIMEOUT: %w", err)
	}
	cfg.JWKSCACertPath = getEnvDefault("RM_JWKS_CA_CERT_PATH", "")

	// --- Файловое хранилище ---

	if err := loadFileStore(cfg); err != nil {
		return nil, err
	}

	// --- Identity ---

	cfg.IdentityCacheSize, err = getEnvInt("RM_IDENTITY_CACHE_SIZE", 10000)
	if err != nil {
		return nil, fmt.Errorf("RM_IDENTITY_CACHE_SIZE: %w", err)
	}
	if cfg.IdentityCacheSize < 1 {
		return nil, fmt.Errorf("RM_IDENTITY_CACHE_SIZE: значение должно быть > 0")
	}
	if cfg.IdentityCacheTTL, err = getEnvDurationFallback("RM_IDENTITY_CACHE_TTL", 5*time.Minute); err != nil {
		return nil, fmt.Errorf("RM_IDENTITY_CACHE_TTL: %w", err)
	}

	// --- Реестр ---

	if err := loadLedger(cfg); err != nil {
		return nil, err
	}

	// --- Topologymetrics ---

	if cfg.DephealthCheckInterval, err = getEnvDuration("RM_DEPHEALTH_CHECK_INTERVAL", 15*time.Second); err != nil {
		return nil, fmt.Errorf("RM_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}
	cfg.DephealthGroup = getEnvDefault("RM_DEPHEALTH_GROUP", "artstore")

	// --- Graceful shutdown ---

	// RM_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("RM_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("RM_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// LoadTool загружает подмножество конфигурации для утилиты recordctl:
// логирование, хранилище записей и реестр. JWT и HTTP-сервер не нужны.
func LoadTool() (*Config, error) {
	cfg := &Config{}
	var err error

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("RM_LOG_LEVEL", "warn"))
	if err != nil {
		return nil, fmt.Errorf("RM_LOG_LEVEL: %w", err)
	}
	cfg.LogFormat = getEnvDefault("RM_LOG_FORMAT", "text")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("RM_LOG_FORMAT: недопустимый формат %q, допустимые: json, text", cfg.LogFormat)
	}

	if err := loadRecordStore(cfg); err != nil {
		return nil, err
	}
	if err := loadLedger(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadRecordStore загружает выбор и параметры хранилища записей.
func loadRecordStore(cfg *Config) error {
	var err error

	// RM_STORE_BACKEND — postgres (по умолчанию) или badger
	cfg.StoreBackend = getEnvDefault("RM_STORE_BACKEND", StoreBackendPostgres)
	switch cfg.StoreBackend {
	case StoreBackendPostgres:
		return loadPostgres(cfg)
	case StoreBackendBadger:
		// RM_BADGER_DIR — обязательный для badger
		cfg.BadgerDir, err = getEnvRequired("RM_BADGER_DIR")
		return err
	default:
		return fmt.Errorf("RM_STORE_BACKEND: недопустимое значение %q, допустимые: postgres, badger", cfg.StoreBackend)
	}
}

// loadPostgres загружает параметры PostgreSQL.
func loadPostgres(cfg *Config) error {
	var err error

	// RM_DB_HOST — обязательный
	if cfg.DBHost, err = getEnvRequired("RM_DB_HOST"); err != nil {
		return err
	}

	// RM_DB_PORT — порт PostgreSQL (по умолчанию 5432)
	if cfg.DBPort, err = getEnvInt("RM_DB_PORT", 5432); err != nil {
		return fmt.Errorf("RM_DB_PORT: %w", err)
	}

	// RM_DB_NAME, RM_DB_USER, RM_DB_PASSWORD — обязательные
	if cfg.DBName, err = getEnvRequired("RM_DB_NAME"); err != nil {
		return err
	}
	if cfg.DBUser, err = getEnvRequired("RM_DB_USER"); err != nil {
		return err
	}
	if cfg.DBPassword, err = getEnvRequired("RM_DB_PASSWORD"); err != nil {
		return err
	}

	// RM_DB_SSL_MODE — режим SSL (по умолчанию disable)
	cfg.DBSSLMode = getEnvDefault("RM_DB_SSL_MODE", "disable")
	switch cfg.DBSSLMode {
	case "disable", "require", "verify-ca", "verify-full":
	default:
		return fmt.Errorf("RM_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}
	return nil
}

// loadFileStore загружает параметры файлового хранилища.
func loadFileStore(cfg *Config) error {
	var err error

	maxSize, err := getEnvInt("RM_MAX_FILE_SIZE", 50*1024*1024)
	if err != nil {
		return fmt.Errorf("RM_MAX_FILE_SIZE: %w", err)
	}
	if maxSize < 1 {
		return fmt.Errorf("RM_MAX_FILE_SIZE: значение должно быть > 0")
	}
	cfg.MaxFileSize = int64(maxSize)

	cfg.FileStoreBackend = getEnvDefault("RM_FILESTORE_BACKEND", FileStoreBackendLocal)
	switch cfg.FileStoreBackend {
	case FileStoreBackendLocal:
		// RM_FILESTORE_DIR — каталог файлов (по умолчанию ./data/files)
		cfg.FileStoreDir = getEnvDefault("RM_FILESTORE_DIR", "./data/files")
	case FileStoreBackendS3:
		if cfg.S3Bucket, err = getEnvRequired("RM_S3_BUCKET"); err != nil {
			return err
		}
		cfg.S3Endpoint = strings.TrimRight(getEnvDefault("RM_S3_ENDPOINT", ""), "/")
		cfg.S3Region = getEnvDefault("RM_S3_REGION", "us-east-1")
		cfg.S3Prefix = getEnvDefault("RM_S3_PREFIX", "records/")
		cfg.S3AccessKey = getEnvDefault("RM_S3_ACCESS_KEY", "")
		cfg.S3SecretKey = getEnvDefault("RM_S3_SECRET_KEY", "")
		if (cfg.S3AccessKey == "") != (cfg.S3SecretKey == "") {
			return fmt.Errorf("RM_S3_ACCESS_KEY и RM_S3_SECRET_KEY задаются только вместе")
		}
		if cfg.S3UsePathStyle, err = getEnvBool("RM_S3_USE_PATH_STYLE", cfg.S3Endpoint != ""); err != nil {
			return fmt.Errorf("RM_S3_USE_PATH_STYLE: %w", err)
		}
	default:
		return fmt.Errorf("RM_FILESTORE_BACKEND: недопустимое значение %q, допустимые: local, s3", cfg.FileStoreBackend)
	}
	return nil
}

// loadLedger загружает параметры внешнего реестра.
func loadLedger(cfg *Config) error {
	var err error

	cfg.LedgerMode = getEnvDefault("RM_LEDGER_MODE", LedgerModeNone)
	switch cfg.LedgerMode {
	case LedgerModeNone:
	case LedgerModeHTTP:
		if cfg.LedgerURL, err = getEnvRequired("RM_LEDGER_URL"); err != nil {
			return err
		}
		cfg.LedgerURL = strings.TrimRight(cfg.LedgerURL, "/")
		cfg.LedgerToken = getEnvDefault("RM_LEDGER_TOKEN", "")
		cfg.LedgerCACertPath = getEnvDefault("RM_LEDGER_CA_CERT_PATH", "")
	case LedgerModeSQLite:
		cfg.LedgerSQLitePath = getEnvDefault("RM_LEDGER_SQLITE_PATH", "./data/ledger.db")
	default:
		return fmt.Errorf("RM_LEDGER_MODE: недопустимое значение %q, допустимые: none, http, sqlite", cfg.LedgerMode)
	}

	if cfg.LedgerTimeout, err = getEnvDurationFallback("RM_LEDGER_TIMEOUT", 10*time.Second); err != nil {
		return fmt.Errorf("RM_LEDGER_TIMEOUT: %w", err)
	}
	if cfg.LedgerQueueSize, err = getEnvInt("RM_LEDGER_QUEUE_SIZE", 1024); err != nil {
		return fmt.Errorf("RM_LEDGER_QUEUE_SIZE: %w", err)
	}
	if cfg.LedgerQueueSize < 1 {
		return fmt.Errorf("RM_LEDGER_QUEUE_SIZE: значение должно быть > 0")
	}
	return nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL подключения к PostgreSQL (для лейблов topologymetrics).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// MigrationURL возвращает URL базы для golang-migrate (драйвер pgx5).
func (c *Config) MigrationURL() string {
	return fmt.Sprintf(
		"pgx5://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// getEnvDurationFallback возвращает time.Duration из переменной окружения.
// Если переменная не задана, используется fallbackVal.
// Если задана — парсится и валидируется (> 0).
func getEnvDurationFallback(key string, fallbackVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallbackVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	if d <= 0 {
		return 0, fmt.Errorf("значение должно быть > 0")
	}
	return d, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q (допустимые: true, false, 1, 0)", val)
	}
	return b, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
