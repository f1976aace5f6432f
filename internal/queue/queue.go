// Package queue implements the durable offline operation queue: an ordered
// log of pending remote writes that survives process restarts and drains in
// FIFO order when connectivity returns.
//
// The whole queue is persisted as a single value in local storage, so each
// mutation is one atomic write to the medium.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ridelines/draftsync/internal/clock"
	"github.com/ridelines/draftsync/internal/common"
	"github.com/ridelines/draftsync/internal/localstore"
	"github.com/ridelines/draftsync/internal/logging"
	"github.com/ridelines/draftsync/internal/store"
)

// OperationType is the verb of a queued write. Only saves are queued today;
// the field exists so replay logic can dispatch when more verbs arrive.
type OperationType string

const OpSave OperationType = "save"

// Operation is a queued, not-yet-committed remote write.
type Operation struct {
	ID         string          `json:"id"`
	Type       OperationType   `json:"type"`
	Collection string          `json:"collection"`
	DocumentID string          `json:"documentId"`
	Payload    json.RawMessage `json:"payload"`
	Version    int64           `json:"version"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
	Attempts   int             `json:"attempts"`
}

// DefaultCapacity bounds the queue when no explicit capacity is configured.
const DefaultCapacity = 100

const storageKey = "draftsync.offline_queue"

type state struct {
	Items []Operation `json:"items"`
}

// Queue is the durable FIFO of pending writes.
type Queue struct {
	kv       localstore.KV
	capacity int
	logger   logging.Logger
	clock    clock.Clock

	mu    sync.Mutex
	items []Operation
}

// New loads any persisted queue state from kv and returns the queue.
func New(ctx context.Context, kv localstore.KV, capacity int, logger logging.Logger, clk clock.Clock) (*Queue, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = logging.Nop{}
	}
	if clk == nil {
		clk = clock.Real{}
	}

	q := &Queue{kv: kv, capacity: capacity, logger: logger, clock: clk}

	raw, err := kv.Get(ctx, storageKey)
	switch {
	case err == nil:
		var st state
		if jsonErr := json.Unmarshal(raw, &st); jsonErr != nil {
			// A corrupt log cannot be replayed safely; start fresh rather
			// than fail every future save.
			logger.Error(ctx, "offline queue state corrupt, resetting", "error", jsonErr)
		} else {
			q.items = st.Items
		}
	case store.Classify(err) == store.KindNotFound:
		// empty queue
	default:
		return nil, fmt.Errorf("failed to load offline queue: %w", err)
	}

	return q, nil
}

// Enqueue appends op and persists the queue. It fails with ErrQueueFull at
// capacity and propagates storage-quota errors from the medium.
func (q *Queue) Enqueue(ctx context.Context, op Operation) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.capacity {
		return fmt.Errorf("%d operations pending: %w", len(q.items), common.ErrQueueFull)
	}

	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	if op.Type == "" {
		op.Type = OpSave
	}
	if op.EnqueuedAt.IsZero() {
		op.EnqueuedAt = q.clock.Now()
	}

	q.items = append(q.items, op)
	if err := q.persistLocked(ctx); err != nil {
		q.items = q.items[:len(q.items)-1]
		return err
	}

	q.logger.Info(ctx, "operation queued offline",
		"op_id", op.ID, "document_id", op.DocumentID, "depth", len(q.items))
	return nil
}

// Pending returns a copy of the queued operations in order.
func (q *Queue) Pending() []Operation {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Operation(nil), q.items...)
}

// Depth reports the number of queued operations.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drain replays queued operations in FIFO order, one at a time, removing
// each on success. Saves for the same document are first coalesced to the
// most recent payload, since only the final state matters for a
// document-level overwrite.
//
// A network-classified failure leaves the operation at the head and stops
// the drain, preserving per-document ordering. A permanently failing
// operation (validation, permission) is dropped with a log entry: replaying
// it can never succeed.
func (q *Queue) Drain(ctx context.Context, apply func(ctx context.Context, op Operation) error) (int, error) {
	q.mu.Lock()
	q.coalesceLocked()
	if err := q.persistLocked(ctx); err != nil {
		q.mu.Unlock()
		return 0, err
	}
	q.mu.Unlock()

	applied := 0
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.mu.Unlock()
			return applied, nil
		}
		op := q.items[0]
		q.mu.Unlock()

		err := apply(ctx, op)
		if err != nil {
			if store.IsNetwork(err) {
				q.logger.Warn(ctx, "drain stopped, still offline",
					"op_id", op.ID, "document_id", op.DocumentID, "error", err)
				q.bumpAttempts(ctx, op.ID)
				return applied, nil
			}
			q.logger.Error(ctx, "dropping unreplayable operation",
				"op_id", op.ID, "document_id", op.DocumentID, "error", err)
		} else {
			applied++
		}

		q.mu.Lock()
		if len(q.items) > 0 && q.items[0].ID == op.ID {
			q.items = q.items[1:]
			if perr := q.persistLocked(ctx); perr != nil {
				q.logger.Error(ctx, "failed to persist queue after drain step", "error", perr)
			}
		}
		q.mu.Unlock()
	}
}

// coalesceLocked keeps, for each document, a single save carrying the most
// recently enqueued payload at the position of the earliest occurrence.
func (q *Queue) coalesceLocked() {
	latest := make(map[string]int)
	for i, op := range q.items {
		if op.Type == OpSave {
			latest[op.Collection+"/"+op.DocumentID] = i
		}
	}

	var out []Operation
	seen := make(map[string]bool)
	for i, op := range q.items {
		if op.Type != OpSave {
			out = append(out, op)
			continue
		}
		key := op.Collection + "/" + op.DocumentID
		if seen[key] {
			continue
		}
		seen[key] = true
		keep := op
		if li := latest[key]; li != i {
			newer := q.items[li]
			keep.Payload = newer.Payload
			keep.Version = newer.Version
		}
		out = append(out, keep)
	}
	q.items = out
}

func (q *Queue) bumpAttempts(ctx context.Context, opID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.items {
		if q.items[i].ID == opID {
			q.items[i].Attempts++
			break
		}
	}
	if err := q.persistLocked(ctx); err != nil {
		q.logger.Error(ctx, "failed to persist queue attempts", "error", err)
	}
}

func (q *Queue) persistLocked(ctx context.Context) error {
	raw, err := json.Marshal(state{Items: q.items})
	if err != nil {
		return fmt.Errorf("failed to encode offline queue: %w", err)
	}
	if err := q.kv.Set(ctx, storageKey, raw); err != nil {
		return fmt.Errorf("failed to persist offline queue: %w", err)
	}
	return nil
}
