package main

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/carpool-sync/internal/auth"
	"github.com/example/carpool-sync/internal/config"
	"github.com/example/carpool-sync/internal/events"
	"github.com/example/carpool-sync/internal/geo"
	"github.com/example/carpool-sync/internal/logging"
)

func TestWiringWithoutRedis(t *testing.T) {
	cfg := config.Config{StateDir: t.TempDir()}
	assert.Nil(t, seenFactory(nil, 0))
	assert.IsType(t, &geo.MemoryIndex{}, geoIndex(nil))
	assert.IsType(t, &auth.FileStore{}, sessionStore(cfg, nil))

	p, err := newPublisher(cfg, logging.Discard())
	require.NoError(t, err)
	assert.IsType(t, events.Nop{}, p)
}

func TestWiringWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	ctx := context.Background()

	assert.IsType(t, &geo.RedisIndex{}, geoIndex(rdb))
	assert.IsType(t, &auth.RedisStore{}, sessionStore(config.Config{}, rdb))

	seen := seenFactory(rdb, 0)
	require.NotNil(t, seen)
	first, second := seen(7, "request"), seen(7, "request")
	ok, err := first.Claim(ctx, 11)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = second.Claim(ctx, 11)
	require.NoError(t, err)
	assert.False(t, ok, "sets for the same user and kind share state")

	ok, err = seen(8, "request").Claim(ctx, 11)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNewPublisherKafka(t *testing.T) {
	p, err := newPublisher(config.Config{KafkaBrokers: []string{"localhost:9092"}, KafkaTopic: "t"}, logging.Discard())
	require.NoError(t, err)
	assert.IsType(t, &events.KafkaPublisher{}, p)
	_ = p.Close()
}
