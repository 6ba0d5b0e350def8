package buffer

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisFragmentStore keeps pending fragments in a Redis list per key,
// so a multi-process deployment shares one buffer. Lists carry a TTL:
// fragments orphaned by a crashed debouncer expire instead of leaking.
type RedisFragmentStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisFragmentStore(url string, ttl time.Duration) (*RedisFragmentStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("error parsing redis url: %v", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("error connecting to redis: %v", err)
	}
	if ttl <= 0 {
		ttl = DefaultFragmentTTL
	}
	return &RedisFragmentStore{client: client, ttl: ttl}, nil
}

func bufferKey(key string) string {
	return "chatflow:buffer:" + key
}

func (s *RedisFragmentStore) Append(ctx context.Context, key, fragment string) error {
	rkey := bufferKey(key)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, rkey, fragment)
	pipe.Expire(ctx, rkey, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("error appending fragment: %v", err)
	}
	return nil
}

func (s *RedisFragmentStore) Drain(ctx context.Context, key string) ([]string, error) {
	rkey := bufferKey(key)
	pipe := s.client.TxPipeline()
	list := pipe.LRange(ctx, rkey, 0, -1)
	pipe.Del(ctx, rkey)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("error draining fragments: %v", err)
	}
	return list.Val(), nil
}

func (s *RedisFragmentStore) Close() error {
	return s.client.Close()
}
