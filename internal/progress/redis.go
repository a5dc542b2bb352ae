package progress

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const defaultTTL = 30 * time.Minute

// RedisStore keeps progress in Redis so polling can be served by any
// instance, not just the one running the worker. Entries expire on their own
// in case Drop is never reached.
type RedisStore struct {
	client    goredis.Cmdable
	keyPrefix string
}

func NewRedisStore(client goredis.Cmdable) *RedisStore {
	return &RedisStore{client: client, keyPrefix: "generation:progress:"}
}

var _ Store = (*RedisStore)(nil)

func (s *RedisStore) key(jobID uuid.UUID) string {
	return s.keyPrefix + jobID.String()
}

func (s *RedisStore) Set(ctx context.Context, jobID uuid.UUID, progress int) error {
	key := s.key(jobID)
	cur, err := s.client.Get(ctx, key).Int()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return err
	}
	if progress <= cur {
		return nil
	}
	return s.client.Set(ctx, key, progress, defaultTTL).Err()
}

func (s *RedisStore) Get(ctx context.Context, jobID uuid.UUID) (int, bool, error) {
	p, err := s.client.Get(ctx, s.key(jobID)).Int()
	if errors.Is(err, goredis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return p, true, nil
}

func (s *RedisStore) Drop(ctx context.Context, jobID uuid.UUID) error {
	return s.client.Del(ctx, s.key(jobID)).Err()
}
