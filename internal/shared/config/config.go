package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Provider   ProviderConfig
	Sync       SyncConfig
	Scheduler  SchedulerConfig
	Redis      RedisConfig
	Encryption EncryptionConfig
	TLS        TLSConfig
	Telemetry  TelemetryConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	AllowedHosts []string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type ProviderConfig struct {
	BaseURL string
}

type SyncConfig struct {
	MaxAttempts        int
	BaseBackoff        time.Duration
	MaxConcurrentItems int
	LookbackMonths     int
}

type SchedulerConfig struct {
	Enabled         bool
	ScheduleTimes   []string
	WorkerCount     int
	JobDelay        time.Duration
	QueueSize       int
	RunOnStartup    bool
	JobFetchTimeout time.Duration
}

type RedisConfig struct {
	Enabled bool
	Addr    string
	TTL     time.Duration
}

type EncryptionConfig struct {
	Key string
}

type TLSConfig struct {
	Enabled      bool
	CertPath     string
	KeyPath      string
	RedirectHTTP bool
}

type TelemetryConfig struct {
	Enabled      bool
	ServiceName  string
	Environment  string
	OTLPEndpoint string
	MetricsPort  string
}

func Load() (*Config, error) {

	dbPort, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}

	// Parse sync configuration
	syncAttempts, err := strconv.Atoi(getEnv("SYNC_MAX_ATTEMPTS", "3"))
	if err != nil {
		return nil, fmt.Errorf("invalid SYNC_MAX_ATTEMPTS: %w", err)
	}
	syncBackoff, err := time.ParseDuration(getEnv("SYNC_BASE_BACKOFF", "1s"))
	if err != nil {
		return nil, fmt.Errorf("invalid SYNC_BASE_BACKOFF: %w", err)
	}
	syncConcurrency, err := strconv.Atoi(getEnv("SYNC_MAX_CONCURRENT_ITEMS", "4"))
	if err != nil {
		return nil, fmt.Errorf("invalid SYNC_MAX_CONCURRENT_ITEMS: %w", err)
	}
	lookbackMonths, err := strconv.Atoi(getEnv("SYNC_LOOKBACK_MONTHS", "6"))
	if err != nil {
		return nil, fmt.Errorf("invalid SYNC_LOOKBACK_MONTHS: %w", err)
	}

	// Parse scheduler configuration
	schedulerEnabled := getBoolEnv("SCHEDULER_ENABLED", true)
	schedulerTimes := strings.Split(getEnv("SCHEDULER_TIMES", "05:00,10:00,14:00,20:00"), ",")
	schedulerWorkers, err := strconv.Atoi(getEnv("SCHEDULER_WORKERS", "5"))
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULER_WORKERS: %w", err)
	}
	schedulerJobDelay, err := time.ParseDuration(getEnv("SCHEDULER_JOB_DELAY", "1s"))
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULER_JOB_DELAY: %w", err)
	}
	schedulerQueueSize, err := strconv.Atoi(getEnv("SCHEDULER_QUEUE_SIZE", "100"))
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULER_QUEUE_SIZE: %w", err)
	}
	schedulerRunOnStartup := getBoolEnv("SCHEDULER_RUN_ON_STARTUP", false)
	schedulerJobFetchTimeout, err := time.ParseDuration(getEnv("SCHEDULER_JOB_FETCH_TIMEOUT", "5m"))
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULER_JOB_FETCH_TIMEOUT: %w", err)
	}

	// Parse Redis cache configuration
	redisTTL, err := time.ParseDuration(getEnv("REDIS_CACHE_TTL", "5m"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_CACHE_TTL: %w", err)
	}

	// Parse TLS configuration
	tlsEnabled := getBoolEnv("TLS_ENABLED", false)
	tlsCertPath := getEnv("TLS_CERT_PATH", "")
	tlsKeyPath := getEnv("TLS_KEY_PATH", "")
	tlsRedirectHTTP := getBoolEnv("TLS_REDIRECT_HTTP", false)

	// Parse allowed hosts (comma-separated list)
	allowedHostsStr := getEnv("ALLOWED_HOSTS", "")
	var allowedHosts []string
	if allowedHostsStr != "" {
		for _, host := range strings.Split(allowedHostsStr, ",") {
			host = strings.TrimSpace(host)
			if host != "" {
				allowedHosts = append(allowedHosts, host)
			}
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			Host:         getEnv("HOST", "0.0.0.0"),
			AllowedHosts: allowedHosts,
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     dbPort,
			User:     getEnv("DB_USER", "finsync"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "finsync"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Provider: ProviderConfig{
			BaseURL: getEnv("PROVIDER_BASE_URL", ""),
		},
		Sync: SyncConfig{
			MaxAttempts:        syncAttempts,
			BaseBackoff:        syncBackoff,
			MaxConcurrentItems: syncConcurrency,
			LookbackMonths:     lookbackMonths,
		},
		Scheduler: SchedulerConfig{
			Enabled:         schedulerEnabled,
			ScheduleTimes:   schedulerTimes,
			WorkerCount:     schedulerWorkers,
			JobDelay:        schedulerJobDelay,
			QueueSize:       schedulerQueueSize,
			RunOnStartup:    schedulerRunOnStartup,
			JobFetchTimeout: schedulerJobFetchTimeout,
		},
		Redis: RedisConfig{
			Enabled: getBoolEnv("REDIS_ENABLED", false),
			Addr:    getEnv("REDIS_ADDR", "localhost:6379"),
			TTL:     redisTTL,
		},
		Encryption: EncryptionConfig{
			Key: getEnv("ENCRYPTION_KEY", ""),
		},
		TLS: TLSConfig{
			Enabled:      tlsEnabled,
			CertPath:     tlsCertPath,
			KeyPath:      tlsKeyPath,
			RedirectHTTP: tlsRedirectHTTP,
		},
		Telemetry: TelemetryConfig{
			Enabled:      getBoolEnv("OTEL_ENABLED", false),
			ServiceName:  getEnv("OTEL_SERVICE_NAME", "finsync-api"),
			Environment:  getEnv("ENVIRONMENT", "development"),
			OTLPEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4318"),
			MetricsPort:  getEnv("OTEL_METRICS_PORT", "9090"),
		},
	}

	// Validate required fields
	if cfg.Encryption.Key == "" {
		return nil, fmt.Errorf("ENCRYPTION_KEY is required")
	}
	if len(cfg.Encryption.Key) != 32 {
		return nil, fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes for AES-256")
	}

	// Validate TLS configuration
	if cfg.TLS.Enabled {
		if cfg.TLS.CertPath == "" {
			return nil, fmt.Errorf("TLS_CERT_PATH is required when TLS_ENABLED=true")
		}
		if cfg.TLS.KeyPath == "" {
			return nil, fmt.Errorf("TLS_KEY_PATH is required when TLS_ENABLED=true")
		}
	}

	return cfg, nil
}

func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	// Accept: true, false, 1, 0, yes, no (case-insensitive)
	switch strings.ToLower(value) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultValue
	}
}
