package memory

import (
	"context"
	"sync"

	"quiz-session-service/internal/store"
)

// KV is an in-process implementation of store.KV. Update holds the lock for the
// whole read-modify-write, so it is atomic within the process.
type KV struct {
	mu   sync.Mutex
	data map[string][]byte
}

func NewKV() *KV {
	return &KV{data: make(map[string][]byte)}
}

func (k *KV) Get(_ context.Context, key string) ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	v, ok := k.data[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (k *KV) Set(_ context.Context, key string, value []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.data[key] = append([]byte(nil), value...)
	return nil
}

func (k *KV) Delete(_ context.Context, key string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.data, key)
	return nil
}

func (k *KV) Update(_ context.Context, key string, fn func(current []byte, exists bool) ([]byte, error)) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	current, ok := k.data[key]
	next, err := fn(append([]byte(nil), current...), ok)
	if err != nil {
		return err
	}
	if next == nil {
		delete(k.data, key)
		return nil
	}
	k.data[key] = next
	return nil
}
