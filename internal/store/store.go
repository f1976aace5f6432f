// Package store defines the remote document store contract consumed by the
// synchronization engine: opaque JSON documents keyed by collection and id,
// carrying an integer version field, with get/set/delete/query operations and
// a transactional read-then-write primitive.
package store

import (
	"context"
	"time"
)

// Document is an opaque JSON document plus the sync metadata the engine
// relies on. Version mirrors the draft's optimistic-concurrency token so the
// store can be queried without decoding payloads.
type Document struct {
	ID        string
	Data      []byte
	Version   int64
	UpdatedAt time.Time
}

// SetOptions modifies Set behavior.
type SetOptions struct {
	// Merge shallow-merges the document's top-level JSON fields into the
	// existing document instead of overwriting it wholesale.
	Merge bool
}

// Query filters and orders a collection scan. Filters match top-level JSON
// string fields for equality.
type Query struct {
	Filters            map[string]string
	OrderByUpdatedDesc bool
	Limit              int
}

// Reader is the read half of the store.
type Reader interface {
	// Get returns the document or an error matching common.ErrNotFound.
	Get(ctx context.Context, collection, id string) (*Document, error)
}

// Writer is the write half of the store.
type Writer interface {
	// Set creates or replaces a document. With SetOptions.Merge it merges
	// top-level fields instead.
	Set(ctx context.Context, collection string, doc *Document, opts SetOptions) error

	// Delete removes a document. Deleting a missing document is not an error.
	Delete(ctx context.Context, collection, id string) error
}

// Tx is the view of the store available inside RunTransaction.
type Tx interface {
	Reader
	Writer
}

// DocumentStore is the full remote store contract.
type DocumentStore interface {
	Reader
	Writer

	// Query returns documents in a collection matching q.
	Query(ctx context.Context, collection string, q Query) ([]*Document, error)

	// RunTransaction executes fn so that the reads and writes inside it are
	// atomic with respect to other transactions.
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error
}
