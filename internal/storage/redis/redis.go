package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisRepo struct {
	client *redis.Client
}

func New(ctx context.Context, addr, pass string, db int) (*RedisRepo, error) {
	const op = "storage.redis.New"

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     pass,
		DB:           db,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &RedisRepo{
		client: client,
	}, nil
}

// MarkStateTokenUsed records the jti of a consumed OAuth state token.
// Returns true on first use, false when the jti was already consumed.
// SETNX makes the check-and-set atomic; the key expires together with the
// token itself, so the set never grows past the state TTL.
func (r *RedisRepo) MarkStateTokenUsed(ctx context.Context, jti string, ttl time.Duration) (bool, error) {
	const op = "storage.redis.MarkStateTokenUsed"

	key := fmt.Sprintf("oauth:state:used:%s", jti)

	success, err := r.client.SetNX(ctx, key, "used", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return success, nil
}

// Close closes the underlying connection.
func (r *RedisRepo) Close() {
	r.client.Close()
}
