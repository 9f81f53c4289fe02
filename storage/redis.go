package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Redis stores each namespace as a Redis hash.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis creates a [Redis] storage. prefix namespaces every key.
func NewRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{
		client: client,
		prefix: prefix,
	}
}

func (r *Redis) hashKey(namespace string) string {
	return fmt.Sprintf("%s:kv:%s", r.prefix, namespace)
}

// Get implements Storage.
func (r *Redis) Get(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	val, err := r.client.HGet(ctx, r.hashKey(namespace), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s/%s from Redis: %w", namespace, key, err)
	}

	return val, true, nil
}

// Put implements Storage.
func (r *Redis) Put(ctx context.Context, namespace, key string, value []byte) error {
	if err := r.client.HSet(ctx, r.hashKey(namespace), key, value).Err(); err != nil {
		return fmt.Errorf("failed to write %s/%s to Redis: %w", namespace, key, err)
	}

	return nil
}

// Delete implements Storage.
func (r *Redis) Delete(ctx context.Context, namespace, key string) error {
	if err := r.client.HDel(ctx, r.hashKey(namespace), key).Err(); err != nil {
		return fmt.Errorf("failed to delete %s/%s from Redis: %w", namespace, key, err)
	}

	return nil
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}

var _ Storage = (*Redis)(nil)
