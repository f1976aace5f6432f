// Package events provides the in-process notification bus upstream callers
// (the UI layer) subscribe to, so progress indicators can update without
// polling the synchronizer.
package events

import "sync"

// Type identifies what happened to a draft.
type Type string

const (
	SaveCompleted    Type = "save-completed"
	SaveQueued       Type = "save-queued"
	SaveFailed       Type = "save-failed"
	ConflictResolved Type = "conflict-resolved"
	QueueDrained     Type = "queue-drained"
	DraftDeleted     Type = "draft-deleted"
)

// Event is one notification. Err carries a sanitized description for
// failures; Version is the persisted version for successful saves.
type Event struct {
	Type    Type
	DraftID string
	Version int64
	Err     string
}

// Handler receives events synchronously on the publisher's goroutine.
// Handlers must not block.
type Handler func(Event)

// Bus fan-outs events to subscribers. Subscription order is delivery order.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers h for all subsequent events.
func (b *Bus) Subscribe(h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish delivers e to every subscriber.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	handlers := b.handlers
	b.mu.RUnlock()

	for _, h := range handlers {
		h(e)
	}
}
