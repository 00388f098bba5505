// Package store persists quizzes, save slots and results as JSON lists in a
// key-value backend, using the same key layout the browser build used for local
// storage.
package store

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrNotFound is returned by KV.Get for a missing key.
var ErrNotFound = errors.New("key not found")

// KV is the key-value backend contract.
//
// Update performs a fetch, mutate, write-back sequence for one key. fn receives
// the current value (exists is false when absent) and returns the new value; a nil
// value deletes the key. Backends make Update atomic where they can; across
// processes without such support the last writer wins.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Update(ctx context.Context, key string, fn func(current []byte, exists bool) ([]byte, error)) error
}

const (
	// QuizzesKey holds the ordered quiz catalogue.
	QuizzesKey = "quizzes"
	// ResultsKey holds every stored result, newest first.
	ResultsKey = "quiz-results"
)

// SavesKey is the key of the save slot list for one quiz.
func SavesKey(quizID string) string {
	return "quiz-" + quizID + "-saves"
}

func getList[T any](ctx context.Context, kv KV, key string) ([]T, error) {
	raw, err := kv.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var items []T
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, &corruptError{key: key, err: err}
	}
	return items, nil
}

// updateList runs fn over the decoded list stored at key. An empty result deletes
// the key. An undecodable value is reported as corrupt and left untouched.
func updateList[T any](ctx context.Context, kv KV, key string, fn func(items []T) ([]T, error)) error {
	return modifyList(ctx, kv, key, false, fn)
}

// healList is updateList for lists that may be rebuilt from scratch: an
// undecodable value is replaced instead of blocking the write.
func healList[T any](ctx context.Context, kv KV, key string, fn func(items []T) ([]T, error)) error {
	return modifyList(ctx, kv, key, true, fn)
}

func modifyList[T any](ctx context.Context, kv KV, key string, discardCorrupt bool, fn func(items []T) ([]T, error)) error {
	return kv.Update(ctx, key, func(current []byte, exists bool) ([]byte, error) {
		var items []T
		if exists && len(current) > 0 {
			if err := json.Unmarshal(current, &items); err != nil {
				if !discardCorrupt {
					return nil, &corruptError{key: key, err: err}
				}
				items = nil
			}
		}
		next, err := fn(items)
		if err != nil {
			return nil, err
		}
		if len(next) == 0 {
			return nil, nil
		}
		return json.Marshal(next)
	})
}

type corruptError struct {
	key string
	err error
}

func (e *corruptError) Error() string { return "corrupt value at " + e.key + ": " + e.err.Error() }
func (e *corruptError) Unwrap() error { return e.err }

func isCorrupt(err error) bool {
	var c *corruptError
	return errors.As(err, &c)
}
