package logger

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Rogue-Bear-Innovations/bookmarker-sync/internal/config"
)

var (
	Module = fx.Provide(
		NewLogger,
	)
)

func NewLogger(lc fx.Lifecycle, cfg *config.Config) (*zap.SugaredLogger, error) {
	l, err := build(cfg)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			// stdout/stderr sync fails with EINVAL on most terminals
			_ = l.Sync()
			return nil
		},
	})

	return l.Sugar(), nil
}

func build(cfg *config.Config) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.LogDevelopment {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zc = zap.NewProductionConfig()
	}

	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return nil, errors.Wrap(err, "parse log level")
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)

	l, err := zc.Build(zap.AddStacktrace(zapcore.FatalLevel))
	if err != nil {
		return nil, errors.Wrap(err, "build zap logger")
	}
	return l, nil
}
