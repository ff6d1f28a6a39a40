package dedup

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis keeps the seen set in a Redis SET so that several agent processes
// serving the same user session agree on what has been shown.
type Redis struct {
	client redis.Cmdable
	key    string
	ttl    time.Duration
}

// NewRedis scopes the set to one session; the key expires ttl after the
// last write so abandoned sessions clean themselves up.
func NewRedis(client redis.Cmdable, session, kind string, ttl time.Duration) *Redis {
	return &Redis{client: client, key: seenKey(session, kind), ttl: ttl}
}

func seenKey(session, kind string) string { return "carpool:seen:" + session + ":" + kind }

func (r *Redis) IsNew(ctx context.Context, id int64) (bool, error) {
	ok, err := r.client.SIsMember(ctx, r.key, strconv.FormatInt(id, 10)).Result()
	if err != nil {
		return false, fmt.Errorf("seen lookup %d: %w", id, err)
	}
	return !ok, nil
}

func (r *Redis) MarkSeen(ctx context.Context, id int64) error {
	_, err := r.Claim(ctx, id)
	return err
}

// Claim relies on SADD reporting how many members were actually added.
func (r *Redis) Claim(ctx context.Context, id int64) (bool, error) {
	pipe := r.client.TxPipeline()
	add := pipe.SAdd(ctx, r.key, strconv.FormatInt(id, 10))
	if r.ttl > 0 {
		pipe.Expire(ctx, r.key, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("seen claim %d: %w", id, err)
	}
	return add.Val() == 1, nil
}

func (r *Redis) Reset(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("seen reset: %w", err)
	}
	return nil
}
