// Package logger builds the application's zap logger.
package logger

import (
	"context"
	"fmt"

	"github.com/diewo77/recurring-invoices/internal/config"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a console logger in development and a JSON logger otherwise.
func New(logCfg config.LogConfig, appCfg config.AppConfig) (*zap.Logger, error) {
	level := zap.NewAtomicLevel()
	if logCfg.Level != "" {
		if err := level.UnmarshalText([]byte(logCfg.Level)); err != nil {
			return nil, fmt.Errorf("logger: invalid level %q: %w", logCfg.Level, err)
		}
	}

	var zcfg zap.Config
	if appCfg.Dev {
		zcfg = zap.NewDevelopmentConfig()
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zcfg = zap.NewProductionConfig()
		zcfg.EncoderConfig.TimeKey = "ts"
		zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	zcfg.Level = level

	log, err := zcfg.Build(zap.Fields(zap.String("env", appCfg.Env)))
	if err != nil {
		return nil, fmt.Errorf("logger: build: %w", err)
	}
	return log, nil
}

// FromContext returns the global logger enriched with the trace and span IDs
// carried by ctx, if any.
func FromContext(ctx context.Context) *zap.Logger {
	log := zap.L()
	if ctx == nil {
		return log
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return log
	}
	return log.With(
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	)
}

var Module = fx.Module("logger",
	fx.Provide(New),
	fx.Invoke(func(lc fx.Lifecycle, log *zap.Logger) {
		undo := zap.ReplaceGlobals(log)
		lc.Append(fx.StopHook(func() {
			_ = log.Sync()
			undo()
		}))
	}),
)
