package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/pilab-dev/biolock/domain"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// maxRotateRetries bounds how often a rotation is retried when another writer
// touched the current token between WATCH and EXEC.
const maxRotateRetries = 5

// Redis is a TokenRegistry shared through Redis. The current token lives in a
// plain key and the expired set holds token hashes only.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis creates a [Redis] registry. prefix namespaces every key.
func NewRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{
		client: client,
		prefix: prefix,
	}
}

func (r *Redis) currentKey() string {
	return fmt.Sprintf("%s:registry:current", r.prefix)
}

func (r *Redis) expiredKey() string {
	return fmt.Sprintf("%s:registry:expired", r.prefix)
}

// UpdateToken implements domain.TokenRegistry. The read of the previous token and
// the write of the new one run in one optimistic transaction.
func (r *Redis) UpdateToken(ctx context.Context, token domain.Token) error {
	currentKey := r.currentKey()

	rotate := func(tx *redis.Tx) error {
		previous, err := tx.Get(ctx, currentKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if domain.Token(previous) == token {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if previous != "" {
				pipe.SAdd(ctx, r.expiredKey(), HashToken(domain.Token(previous)))
			}
			pipe.Set(ctx, currentKey, string(token), 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxRotateRetries; i++ {
		err := r.client.Watch(ctx, rotate, currentKey)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			log.Debug().Int("attempt", i+1).Msg("registry: concurrent rotation, retrying")
			continue
		}
		return fmt.Errorf("failed to rotate token in Redis: %w", err)
	}

	return fmt.Errorf("failed to rotate token in Redis: %w", redis.TxFailedErr)
}

// CurrentToken implements domain.TokenRegistry.
func (r *Redis) CurrentToken(ctx context.Context) (domain.Token, bool, error) {
	val, err := r.client.Get(ctx, r.currentKey()).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read current token from Redis: %w", err)
	}

	return domain.Token(val), val != "", nil
}

// IsExpired implements domain.TokenRegistry.
func (r *Redis) IsExpired(ctx context.Context, token domain.Token) (bool, error) {
	ok, err := r.client.SIsMember(ctx, r.expiredKey(), HashToken(token)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check expired set in Redis: %w", err)
	}

	return ok, nil
}

var _ domain.TokenRegistry = (*Redis)(nil)
