// Package lockmgr provides advisory, in-process, per-draft mutual exclusion.
// It does not replace the remote optimistic-version check; it only prevents
// two operations in the same process from interleaving on one draft. A lock
// held past the timeout is treated as abandoned and reclaimable.
package lockmgr

import (
	"sync"
	"time"

	"github.com/ridelines/draftsync/internal/clock"
)

// DefaultTimeout is how long a held lock stays valid before it is treated as
// abandoned (e.g. a crashed operation).
const DefaultTimeout = 5 * time.Second

// Manager tracks one advisory lock per draft id.
type Manager struct {
	mu      sync.Mutex
	held    map[string]time.Time
	timeout time.Duration
	clock   clock.Clock
}

func New(timeout time.Duration, clk clock.Clock) *Manager {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Manager{
		held:    make(map[string]time.Time),
		timeout: timeout,
		clock:   clk,
	}
}

// Acquire grants the lock for draftID if it is free, or if the current
// holder is older than the timeout. Returns false on contention.
func (m *Manager) Acquire(draftID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	if acquiredAt, ok := m.held[draftID]; ok && now.Sub(acquiredAt) < m.timeout {
		return false
	}
	m.held[draftID] = now
	return true
}

// Release removes the lock unconditionally. Callers release in a deferred
// block around every write so an error path cannot leave a permanent lock.
func (m *Manager) Release(draftID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.held, draftID)
}
