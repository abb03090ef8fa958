package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/diewo77/recurring-invoices/internal/access"
	"github.com/diewo77/recurring-invoices/internal/auth"
	"github.com/diewo77/recurring-invoices/internal/clock"
	"github.com/diewo77/recurring-invoices/internal/config"
	"github.com/diewo77/recurring-invoices/internal/db"
	"github.com/diewo77/recurring-invoices/internal/handlers"
	"github.com/diewo77/recurring-invoices/internal/logger"
	"github.com/diewo77/recurring-invoices/internal/notify"
	"github.com/diewo77/recurring-invoices/internal/numbering"
	"github.com/diewo77/recurring-invoices/internal/observability/metrics"
	"github.com/diewo77/recurring-invoices/internal/observability/tracing"
	"github.com/diewo77/recurring-invoices/internal/recurring"
	"github.com/diewo77/recurring-invoices/internal/scheduler"
	"github.com/diewo77/recurring-invoices/internal/services"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func appOptions(cfg *config.Config) fx.Option {
	return fx.Options(
		fx.Supply(cfg),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
		config.Module,
		logger.Module,
		clock.Module,
		tracing.Module,
		metrics.Module,
		db.Module,
		numbering.Module,
		notify.Module,
		recurring.Module,
		scheduler.Module,
		auth.Module,
		access.Module,
		services.Module,
		handlers.Module,
		fx.Provide(newHTTPServer),
		fx.Invoke(func(*http.Server) {}),
	)
}

type serverParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.ServerConfig
	Metrics   config.MetricsConfig
	Router    *handlers.Router
	Gatherer  prometheus.Gatherer
	Log       *zap.Logger
}

// newHTTPServer mounts the API and metrics endpoint and ties the listener to
// the fx lifecycle.
func newHTTPServer(p serverParams) *http.Server {
	log := p.Log.Named("http")
	if p.Metrics.Enabled {
		p.Router.Handle("GET "+p.Metrics.Path, metrics.Handler(p.Gatherer))
	}

	srv := &http.Server{
		Addr:         ":" + p.Config.Port,
		Handler:      logger.Middleware(log)(tracing.Middleware(p.Router)),
		ReadTimeout:  time.Duration(p.Config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(p.Config.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(p.Config.IdleTimeout) * time.Second,
	}

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			log.Info("server starting", zap.String("addr", srv.Addr))
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("server stopping")
			return srv.Shutdown(ctx)
		},
	})
	return srv
}
