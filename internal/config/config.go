// Package config provides application configuration loaded from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	App       AppConfig
	Log       LogConfig
	Scheduler SchedulerConfig
	Mail      MailConfig
	Tracing   TracingConfig
	Metrics   MetricsConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         string
	ReadTimeout  int // seconds
	WriteTimeout int // seconds
	IdleTimeout  int // seconds
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Driver   string // postgres or sqlite
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	// Path is the SQLite file, used when Driver is sqlite.
	Path    string
	Debug   bool
	Retries int
}

// AppConfig holds application-level settings.
type AppConfig struct {
	Env           string
	Dev           bool
	Migrations    bool
	SessionSecret string
	// ProfileCacheTTL bounds how long resolved permission profiles are reused.
	ProfileCacheTTL time.Duration
	// NodeID distinguishes server instances in generated snowflake IDs.
	NodeID int64
}

type LogConfig struct {
	Level string
}

// Missing-client policies for the scheduler.
const (
	OnMissingClientRetry = "retry"
	OnMissingClientSkip  = "skip"
)

// SchedulerConfig drives the recurring invoice generator.
type SchedulerConfig struct {
	Enabled     bool
	Interval    time.Duration
	BatchSize   int
	Concurrency int
	// LeaseTTL is how long a worker may hold a template before another worker
	// is allowed to retry it.
	LeaseTTL        time.Duration
	OnMissingClient string
	RunOnStart      bool
	// ReservationTTL is the age after which uncommitted invoice numbers are swept.
	ReservationTTL time.Duration
	DueInDays      int
}

// Mail drivers.
const (
	MailDriverSMTP = "smtp"
	MailDriverLog  = "log"
)

type MailConfig struct {
	Driver   string
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Addr returns host:port for net/smtp.
func (m MailConfig) Addr() string {
	return fmt.Sprintf("%s:%d", m.Host, m.Port)
}

type TracingConfig struct {
	Enabled      bool
	ServiceName  string
	Endpoint     string
	Protocol     string // http or grpc
	Insecure     bool
	SamplingRate float64
}

type MetricsConfig struct {
	Enabled bool
	Path    string
}

// DSN returns the PostgreSQL connection string in key=value format.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// URL returns the PostgreSQL connection string in URL format.
func (d DatabaseConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

// Load reads configuration from environment variables.
// It uses sensible defaults for local development.
func Load() *Config {
	env := getEnv("APP_ENV", "development")
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			ReadTimeout:  getEnvInt("SERVER_READ_TIMEOUT", 15),
			WriteTimeout: getEnvInt("SERVER_WRITE_TIMEOUT", 15),
			IdleTimeout:  getEnvInt("SERVER_IDLE_TIMEOUT", 60),
		},
		Database: DatabaseConfig{
			Driver:   strings.ToLower(getEnv("DB_DRIVER", "postgres")),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "invoices"),
			Password: getEnv("DB_PASSWORD", "invoices123"),
			DBName:   getEnv("DB_NAME", "invoices"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			Path:     getEnv("DB_PATH", "invoices.db"),
			Debug:    getEnvBool("DB_DEBUG", false),
			Retries:  getEnvInt("DB_CONNECT_RETRIES", 5),
		},
		App: AppConfig{
			Env:             env,
			Dev:             getEnvBool("DEV", env == "development"),
			Migrations:      getEnvBool("MIGRATIONS", false),
			SessionSecret:   getEnv("SESSION_SECRET", "devsessionsecret"),
			ProfileCacheTTL: getEnvDuration("PROFILE_CACHE_TTL", 5*time.Minute),
			NodeID:          int64(getEnvInt("NODE_ID", 1)),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Scheduler: SchedulerConfig{
			Enabled:         getEnvBool("SCHEDULER_ENABLED", true),
			Interval:        getEnvDuration("SCHEDULER_INTERVAL", 10*time.Minute),
			BatchSize:       getEnvInt("SCHEDULER_BATCH_SIZE", 100),
			Concurrency:     getEnvInt("SCHEDULER_CONCURRENCY", 1),
			LeaseTTL:        getEnvDuration("SCHEDULER_LEASE_TTL", 5*time.Minute),
			OnMissingClient: strings.ToLower(getEnv("SCHEDULER_ON_MISSING_CLIENT", OnMissingClientRetry)),
			RunOnStart:      getEnvBool("SCHEDULER_RUN_ON_START", false),
			ReservationTTL:  getEnvDuration("SCHEDULER_RESERVATION_TTL", time.Hour),
			DueInDays:       getEnvInt("SCHEDULER_DUE_IN_DAYS", 7),
		},
		Mail: MailConfig{
			Driver:   strings.ToLower(getEnv("MAIL_DRIVER", MailDriverLog)),
			Host:     getEnv("SMTP_HOST", "localhost"),
			Port:     getEnvInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("MAIL_FROM", "billing@localhost"),
		},
		Tracing: TracingConfig{
			Enabled:      getEnvBool("OTEL_ENABLED", false),
			ServiceName:  getEnv("OTEL_SERVICE_NAME", "recurring-invoices"),
			Endpoint:     getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
			Protocol:     strings.ToLower(getEnv("OTEL_EXPORTER_OTLP_PROTOCOL", "http")),
			Insecure:     getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", true),
			SamplingRate: getEnvFloat("OTEL_SAMPLING_RATIO", 1.0),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
			Path:    getEnv("METRICS_PATH", "/metrics"),
		},
	}
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER %q: want postgres or sqlite", c.Database.Driver))
	}
	if c.Scheduler.Interval <= 0 {
		errs = append(errs, errors.New("SCHEDULER_INTERVAL must be positive"))
	}
	if c.Scheduler.BatchSize <= 0 {
		errs = append(errs, errors.New("SCHEDULER_BATCH_SIZE must be positive"))
	}
	if c.Scheduler.Concurrency <= 0 {
		errs = append(errs, errors.New("SCHEDULER_CONCURRENCY must be positive"))
	}
	if c.Scheduler.LeaseTTL <= 0 {
		errs = append(errs, errors.New("SCHEDULER_LEASE_TTL must be positive"))
	}
	switch c.Scheduler.OnMissingClient {
	case OnMissingClientRetry, OnMissingClientSkip:
	default:
		errs = append(errs, fmt.Errorf("SCHEDULER_ON_MISSING_CLIENT %q: want retry or skip", c.Scheduler.OnMissingClient))
	}
	switch c.Mail.Driver {
	case MailDriverLog:
	case MailDriverSMTP:
		if c.Mail.Host == "" || c.Mail.From == "" {
			errs = append(errs, errors.New("SMTP_HOST and MAIL_FROM are required for the smtp mail driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("MAIL_DRIVER %q: want smtp or log", c.Mail.Driver))
	}
	if c.App.NodeID < 0 || c.App.NodeID > 1023 {
		errs = append(errs, errors.New("NODE_ID must be within [0,1023]"))
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		errs = append(errs, errors.New("OTEL_SAMPLING_RATIO must be within [0,1]"))
	}
	if !c.App.Dev && c.App.SessionSecret == "devsessionsecret" {
		errs = append(errs, errors.New("SESSION_SECRET must be set outside development"))
	}
	return errors.Join(errs...)
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the integer value of an environment variable or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvBool returns the boolean value of an environment variable or a default.
// Accepts "1", "true", "yes" as true; everything else is false.
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "1" || value == "true" || value == "yes"
}

// getEnvDuration accepts Go duration strings ("90s", "10m") or a bare number of seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
