package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const DefaultChannel = "cache:invalidate"

// Invalidator signals dependent views that a cached path is stale.
type Invalidator interface {
	Invalidate(ctx context.Context, path string) error
}

var _ Invalidator = (*RedisInvalidator)(nil)

// RedisInvalidator drops the cached copy of a path and publishes the path so
// page servers holding their own copy can refresh.
type RedisInvalidator struct {
	client  redis.UniversalClient
	prefix  string
	channel string
	logger  logrus.FieldLogger
}

func NewRedisInvalidator(client redis.UniversalClient, prefix, channel string, logger logrus.FieldLogger) *RedisInvalidator {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisInvalidator{
		client:  client,
		prefix:  prefix,
		channel: channel,
		logger:  logger.WithField("component", "cache"),
	}
}

func (r *RedisInvalidator) Key(path string) string {
	return r.prefix + path
}

func (r *RedisInvalidator) Invalidate(ctx context.Context, path string) error {
	pipe := r.client.TxPipeline()
	del := pipe.Del(ctx, r.Key(path))
	pub := pipe.Publish(ctx, r.channel, path)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("pipe.Exec: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"path":        path,
		"deleted":     del.Val(),
		"subscribers": pub.Val(),
	}).Debug("invalidated cached path")
	return nil
}

// Nop discards invalidations.
type Nop struct{}

func (Nop) Invalidate(context.Context, string) error { return nil }

// Func adapts a function to Invalidator.
type Func func(ctx context.Context, path string) error

func (f Func) Invalidate(ctx context.Context, path string) error { return f(ctx, path) }
