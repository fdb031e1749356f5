package kv

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "pagepulse:kv:"

// Redis shares entries between processes through a Redis server. Entries
// never expire.
type Redis struct {
	Client    *redis.Client
	namespace string
}

func NewRedis(addr, pass string, db int, namespace string) *Redis {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr, Password: pass, DB: db,
	})
	return &Redis{Client: rdb, namespace: namespace}
}

func (r *Redis) key(k string) string {
	return redisKeyPrefix + r.namespace + ":" + k
}

func (r *Redis) Load(ctx context.Context, key string) ([]byte, error) {
	val, err := r.Client.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return val, nil
}

func (r *Redis) Save(ctx context.Context, key string, value []byte) error {
	return r.Client.Set(ctx, r.key(key), value, 0).Err()
}

func (r *Redis) Remove(ctx context.Context, key string) error {
	return r.Client.Del(ctx, r.key(key)).Err()
}

func (r *Redis) Close() error {
	return r.Client.Close()
}
