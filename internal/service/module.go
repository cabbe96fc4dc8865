package service

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Rogue-Bear-Innovations/bookmarker-sync/internal/auth"
	"github.com/Rogue-Bear-Innovations/bookmarker-sync/internal/config"
	"github.com/Rogue-Bear-Innovations/bookmarker-sync/internal/store"
	"github.com/Rogue-Bear-Innovations/bookmarker-sync/internal/validation"
)

var (
	Module = fx.Provide(
		ProvideViews,
	)
)

func ProvideViews(lc fx.Lifecycle, cfg *config.Config, a *auth.Authenticator, st store.Store, schema *validation.Schema, l *zap.SugaredLogger) *Views {
	views := NewViews(a, a, st, schema, l)
	views.idleTTL = cfg.ViewIdleTTL

	hookViews(lc, views, cfg.ViewSweepInterval)
	return views
}

func hookViews(lc fx.Lifecycle, views *Views, interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	reaped := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(reaped)
				views.Reap(ctx, interval)
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			<-reaped
			views.Close()
			return nil
		},
	})
}
