// Package cache provides the short-TTL draft cache that sits in front of the
// remote document store. Entries expire a fixed interval after insertion
// regardless of remote freshness; writers invalidate explicitly.
package cache

import (
	"sync"
	"time"

	"github.com/ridelines/draftsync/internal/clock"
	"github.com/ridelines/draftsync/internal/draft"
)

// DefaultTTL is how long a cached draft stays valid after insertion.
const DefaultTTL = 30 * time.Second

type entry struct {
	draft    *draft.Draft
	storedAt time.Time
}

// DraftCache is a mutex-guarded map from draft id to the last-known
// snapshot. Drafts are deep-copied on the way in and out, so callers can
// never mutate a cached value through aliasing.
type DraftCache struct {
	mu      sync.Mutex
	entries map[string]entry
	ttl     time.Duration
	clock   clock.Clock
}

func New(ttl time.Duration, clk clock.Clock) *DraftCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &DraftCache{
		entries: make(map[string]entry),
		ttl:     ttl,
		clock:   clk,
	}
}

// Get returns a copy of the cached draft, or nil on a miss. An entry past
// its TTL is a miss and is dropped.
func (c *DraftCache) Get(draftID string) *draft.Draft {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[draftID]
	if !ok {
		return nil
	}
	if c.clock.Now().Sub(e.storedAt) >= c.ttl {
		delete(c.entries, draftID)
		return nil
	}
	return e.draft.Clone()
}

// Put stores a copy of d with a fresh timestamp, unconditionally
// overwriting any previous entry.
func (c *DraftCache) Put(d *draft.Draft) {
	if d == nil || d.ID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[d.ID] = entry{draft: d.Clone(), storedAt: c.clock.Now()}
}

// Invalidate removes the entry for draftID, forcing the next read to
// consult the remote store.
func (c *DraftCache) Invalidate(draftID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, draftID)
}

// Len reports the number of entries, including ones that may have expired.
func (c *DraftCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
