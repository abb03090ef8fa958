package access

import (
	"context"

	"github.com/diewo77/recurring-invoices/internal/auth"
	"github.com/diewo77/recurring-invoices/internal/clock"
	"github.com/diewo77/recurring-invoices/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("access",
	fx.Provide(
		newTable,
		NewDBProfileResolver,
		func(inner *DBProfileResolver, clk clock.Clock, cfg config.AppConfig) *CachedResolver[auth.Principal] {
			return NewCachedResolver[auth.Principal](inner, clk, cfg.ProfileCacheTTL)
		},
		NewAuthGate,
	),
)

func newTable(db *gorm.DB, log *zap.Logger) (*Table, error) {
	table, err := LoadTable(context.Background(), db)
	if err != nil {
		return nil, err
	}
	log.Named("access").Info("capability table loaded", zap.Int("profiles", len(table.profiles)))
	return table, nil
}
