package store

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Rogue-Bear-Innovations/bookmarker-sync/internal/config"
)

var (
	Module = fx.Provide(
		NewStore,
	)
)

func NewStore(lc fx.Lifecycle, cfg *config.Config, gdb *gorm.DB, l *zap.SugaredLogger) (Store, error) {
	if cfg.FeedDriver != config.FeedDriverRedis {
		hosted := NewHosted(gdb, nil, nil, l)
		hosted.feeds = NewPGListener(cfg.DSN(), cfg.FeedChannel, hosted, l)
		return hosted, nil
	}

	client, err := NewRedisClient(context.Background(), cfg)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			l.Info("Closing redis client.")
			return client.Close()
		},
	})

	feed := NewRedisFeed(client, cfg.FeedChannel, l)
	return NewHosted(gdb, feed, feed, l), nil
}
