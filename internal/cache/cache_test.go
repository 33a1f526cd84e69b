package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func redisClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("FULFILLMENT_TEST_REDIS")
	if addr == "" {
		t.Skip("FULFILLMENT_TEST_REDIS not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not reachable: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisInvalidator_Invalidate(t *testing.T) {
	client := redisClient(t)
	ctx := context.Background()

	channel := "test:" + uuid.NewString()
	inv := NewRedisInvalidator(client, "page:", channel, logrus.New())

	sub := client.Subscribe(ctx, channel)
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	path := "/payments/" + uuid.NewString()
	require.NoError(t, client.Set(ctx, inv.Key(path), "cached", time.Minute).Err())

	require.NoError(t, inv.Invalidate(ctx, path))

	exists, err := client.Exists(ctx, inv.Key(path)).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), exists)

	select {
	case msg := <-sub.Channel():
		assert.Equal(t, path, msg.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("no invalidation message received")
	}
}

func TestRedisInvalidator_ConnectionError(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	inv := NewRedisInvalidator(client, "", "", logrus.New())
	err := inv.Invalidate(context.Background(), "/payments/x")
	assert.Error(t, err)
}

func TestNopAndFunc(t *testing.T) {
	assert.NoError(t, Nop{}.Invalidate(context.Background(), "/x"))

	var got string
	f := Func(func(_ context.Context, path string) error {
		got = path
		return nil
	})
	require.NoError(t, f.Invalidate(context.Background(), "/payments/1"))
	assert.Equal(t, "/payments/1", got)
}
