package persistence

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const DefaultRedisKey = "ladder:monitors"

// Redis keeps the snapshot under one key and its save time under a companion
// key, written in one MULTI/EXEC.
type Redis struct {
	client redis.UniversalClient
	key    string
}

func NewRedis(client redis.UniversalClient, key string) *Redis {
	if key == "" {
		key = DefaultRedisKey
	}
	return &Redis{client: client, key: key}
}

func (r *Redis) Name() string { return "redis" }

func (r *Redis) savedAtKey() string { return r.key + ":saved_at" }

func (r *Redis) Write(ctx context.Context, data []byte, savedAt time.Time) error {
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.key, data, 0)
	pipe.Set(ctx, r.savedAtKey(), savedAt.UTC().Format(time.RFC3339Nano), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "redis exec")
	}
	return nil
}

func (r *Redis) Read(ctx context.Context) ([]byte, error) {
	b, err := r.client.Get(ctx, r.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNoSnapshot
		}
		return nil, errors.Wrap(err, "redis get")
	}
	return b, nil
}

// SavedAt returns when the stored snapshot was written.
func (r *Redis) SavedAt(ctx context.Context) (time.Time, error) {
	s, err := r.client.Get(ctx, r.savedAtKey()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, ErrNoSnapshot
		}
		return time.Time{}, errors.Wrap(err, "redis get")
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	return t, errors.Wrap(err, "parse saved_at")
}
