package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"quiz-session-service/internal/store"
)

const maxTxRetries = 5

// KV stores values as plain Redis strings under an optional key prefix. Update uses
// WATCH/MULTI so concurrent writers from several instances never lose an update.
type KV struct {
	client *redis.Client
	prefix string
}

func NewKV(client *redis.Client, prefix string) *KV {
	return &KV{client: client, prefix: prefix}
}

func (k *KV) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := k.client.Get(ctx, k.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, nil
}

func (k *KV) Set(ctx context.Context, key string, value []byte) error {
	if err := k.client.Set(ctx, k.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (k *KV) Delete(ctx context.Context, key string) error {
	if err := k.client.Del(ctx, k.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

func (k *KV) Update(ctx context.Context, key string, fn func(current []byte, exists bool) ([]byte, error)) error {
	full := k.prefix + key
	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, full).Bytes()
		exists := true
		if errors.Is(err, redis.Nil) {
			current, exists = nil, false
		} else if err != nil {
			return err
		}

		next, err := fn(current, exists)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if next == nil {
				pipe.Del(ctx, full)
			} else {
				pipe.Set(ctx, full, next, 0)
			}
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := k.client.Watch(ctx, txf, full)
		if errors.Is(err, redis.TxFailedErr) {
			// key changed under us; retry against the new value
			continue
		}
		return err
	}
	return fmt.Errorf("redis update %s: %w", key, redis.TxFailedErr)
}
