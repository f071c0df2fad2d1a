package store

import (
	"context"
	"maps"
	"sync"
)

// MemoryBackend keeps pairs in a map guarded by a mutex.
type MemoryBackend struct {
	mu    sync.RWMutex
	items map[string]string
}

// NewMemoryBackend returns an empty [MemoryBackend].
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{items: map[string]string{}}
}

func (b *MemoryBackend) Get(_ context.Context, keys ...string) (map[string]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := b.items[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (b *MemoryBackend) Put(_ context.Context, values map[string]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	maps.Copy(b.items, values)
	return nil
}

func (b *MemoryBackend) Delete(_ context.Context, keys ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, k := range keys {
		delete(b.items, k)
	}
	return nil
}

// Snapshot copies the current contents.
func (b *MemoryBackend) Snapshot() map[string]string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return maps.Clone(b.items)
}
