package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quiz-session-service/internal/store"
)

const upsertSQL = `INSERT INTO kv_entries (key, value, updated_at) VALUES ($1, $2, now())
ON CONFLICT (key) DO UPDATE SET value=EXCLUDED.value, updated_at=now()`

// KV stores JSON values in the kv_entries table. Update takes a transaction-scoped
// advisory lock on the key, so concurrent read-modify-write cycles serialise even
// when the row does not exist yet.
type KV struct {
	pool *pgxpool.Pool
}

func NewKV(pool *pgxpool.Pool) *KV {
	return &KV{pool: pool}
}

func (k *KV) Get(ctx context.Context, key string) ([]byte, error) {
	var raw []byte
	err := k.pool.QueryRow(ctx, `SELECT value FROM kv_entries WHERE key=$1`, key).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	return raw, nil
}

func (k *KV) Set(ctx context.Context, key string, value []byte) error {
	if _, err := k.pool.Exec(ctx, upsertSQL, key, value); err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	return nil
}

func (k *KV) Delete(ctx context.Context, key string) error {
	if _, err := k.pool.Exec(ctx, `DELETE FROM kv_entries WHERE key=$1`, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (k *KV) Update(ctx context.Context, key string, fn func(current []byte, exists bool) ([]byte, error)) error {
	tx, err := k.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin update %s: %w", key, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
		return fmt.Errorf("lock %s: %w", key, err)
	}

	var current []byte
	exists := true
	err = tx.QueryRow(ctx, `SELECT value FROM kv_entries WHERE key=$1`, key).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		current, exists = nil, false
	} else if err != nil {
		return fmt.Errorf("load %s: %w", key, err)
	}

	next, err := fn(current, exists)
	if err != nil {
		return err
	}
	if next == nil {
		if _, err := tx.Exec(ctx, `DELETE FROM kv_entries WHERE key=$1`, key); err != nil {
			return fmt.Errorf("delete %s: %w", key, err)
		}
	} else if _, err := tx.Exec(ctx, upsertSQL, key, next); err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	return tx.Commit(ctx)
}
