package store

import (
	"context"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Rogue-Bear-Innovations/bookmarker-sync/internal/config"
)

// RedisFeed fans change events out through redis pub/sub. The store publishes after each write.
type RedisFeed struct {
	client  *redis.Client
	channel string
	logger  *zap.SugaredLogger
}

func NewRedisClient(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "ping redis at %s", cfg.RedisAddr)
	}
	return client, nil
}

func NewRedisFeed(client *redis.Client, channel string, l *zap.SugaredLogger) *RedisFeed {
	return &RedisFeed{
		client:  client,
		channel: channel,
		logger:  l,
	}
}

func (r *RedisFeed) Publish(ctx context.Context, ev Event) error {
	payload, err := EncodeEvent(ev)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return errors.Wrap(err, "publish event")
	}
	return nil
}

func (r *RedisFeed) Subscribe(ctx context.Context, owner string, kinds ...EventKind) (Feed, error) {
	ps := r.client.Subscribe(ctx, r.channel)
	// the first reply confirms the subscription
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, errors.Wrap(err, "subscribe")
	}

	sub, runCtx := NewSubscription(owner, kinds)
	go r.run(runCtx, ps, sub)

	r.logger.Infow("Subscription status", "status", "subscribed", "channel", r.channel, "owner", owner)
	return sub, nil
}

func (r *RedisFeed) run(ctx context.Context, ps *redis.PubSub, sub *Subscription) {
	defer sub.Finish()
	defer func() {
		if err := ps.Close(); err != nil {
			r.logger.Warnw("close pubsub", "error", err)
		}
		r.logger.Infow("Subscription status", "status", "closed", "channel", r.channel)
	}()

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				r.logger.Errorw("change feed dropped", "channel", r.channel)
				return
			}
			ev, err := DecodeEvent([]byte(msg.Payload))
			if err != nil {
				r.logger.Warnw("skip malformed message", "channel", r.channel, "error", err)
				continue
			}
			if !sub.Deliver(ctx, ev) {
				return
			}
		}
	}
}
