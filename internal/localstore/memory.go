package localstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/ridelines/draftsync/internal/common"
)

// Memory is an in-memory KV for tests and throwaway sessions. MaxBytes, when
// positive, caps the total stored size to simulate a storage quota.
type Memory struct {
	mu       sync.Mutex
	data     map[string][]byte
	MaxBytes int
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, fmt.Errorf("key %q: %w", key, common.ErrNotFound)
	}
	return append([]byte(nil), v...), nil
}

func (m *Memory) Set(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.MaxBytes > 0 {
		total := len(value)
		for k, v := range m.data {
			if k != key {
				total += len(v)
			}
		}
		if total > m.MaxBytes {
			return fmt.Errorf("key %q: %w", key, common.ErrStorageQuota)
		}
	}
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *Memory) Remove(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}
