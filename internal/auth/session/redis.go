package session

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on Redis. Each entry lives under
// sess:<sid>:<key>, so per-key TTLs come for free and a session leaves
// nothing behind once its keys expire.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

func redisKey(sid, key string) string {
	return "sess:" + sid + ":" + key
}

func (s *RedisStore) Get(ctx context.Context, sid, key string) ([]byte, error) {
	raw, err := s.client.Get(ctx, redisKey(sid, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoValue
	}
	return raw, err
}

func (s *RedisStore) Set(ctx context.Context, sid, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, redisKey(sid, key), value, ttl).Err()
}

func (s *RedisStore) Take(ctx context.Context, sid, key string) ([]byte, error) {
	// GETDEL is atomic, so two concurrent consumers cannot both win.
	raw, err := s.client.GetDel(ctx, redisKey(sid, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoValue
	}
	return raw, err
}

func (s *RedisStore) Remove(ctx context.Context, sid, key string) error {
	return s.client.Del(ctx, redisKey(sid, key)).Err()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error { return s.client.Close() }
