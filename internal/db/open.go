package db

import (
	"context"
	"fmt"
	"time"

	"github.com/diewo77/recurring-invoices/internal/config"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// retryDelay is the pause between connection attempts.
var retryDelay = 2 * time.Second

// Open connects to the configured database, retrying a few times so the server
// can start before Postgres accepts connections.
func Open(cfg config.DatabaseConfig, log *zap.Logger) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	}
	if cfg.Debug {
		gormCfg.Logger = logger.Default.LogMode(logger.Info)
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.Path)
		log.Info("opening database", zap.String("driver", cfg.Driver), zap.String("path", cfg.Path))
	default:
		dialector = postgres.Open(cfg.DSN())
		log.Info("opening database",
			zap.String("driver", "postgres"),
			zap.String("host", cfg.Host),
			zap.Int("port", cfg.Port),
			zap.String("dbname", cfg.DBName),
			zap.String("user", cfg.User),
		)
	}

	attempts := cfg.Retries
	if attempts < 1 {
		attempts = 1
	}

	var (
		conn *gorm.DB
		err  error
	)
	for i := 0; i < attempts; i++ {
		conn, err = gorm.Open(dialector, gormCfg)
		if err == nil {
			err = ping(conn)
		}
		if err == nil {
			break
		}
		log.Warn("database not ready, retrying",
			zap.Int("attempt", i+1),
			zap.Int("max_attempts", attempts),
			zap.Error(err),
		)
		time.Sleep(retryDelay)
	}
	if err != nil {
		return nil, fmt.Errorf("db: connect: %w", err)
	}

	if cfg.Driver == "sqlite" {
		// SQLite allows a single writer; serialize through one connection.
		sqlDB, err := conn.DB()
		if err != nil {
			return nil, fmt.Errorf("db: sql handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return conn, nil
}

func ping(conn *gorm.DB) error {
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return sqlDB.PingContext(ctx)
}

// Close releases the connection pool.
func Close(conn *gorm.DB) error {
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
