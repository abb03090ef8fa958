package db

import (
	"context"

	"github.com/diewo77/recurring-invoices/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.DatabaseConfig
	App       config.AppConfig
	Log       *zap.Logger
}

// NewDB opens the connection, migrates when MIGRATIONS is on, seeds the default
// profiles and closes the pool on shutdown.
func NewDB(p Params) (*gorm.DB, error) {
	log := p.Log.Named("db")
	conn, err := Open(p.Config, log)
	if err != nil {
		return nil, err
	}
	if p.App.Migrations {
		if err := Migrate(conn); err != nil {
			return nil, err
		}
		log.Info("migrations completed")
	}
	if err := Seed(conn); err != nil {
		return nil, err
	}

	p.Lifecycle.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return Close(conn)
		},
	})
	return conn, nil
}

var Module = fx.Module("db",
	fx.Provide(NewDB),
)
