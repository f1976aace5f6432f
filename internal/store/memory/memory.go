// Package memory provides an in-memory DocumentStore. It backs tests and
// anonymous (no remote account) sessions.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/ridelines/draftsync/internal/clock"
	"github.com/ridelines/draftsync/internal/common"
	"github.com/ridelines/draftsync/internal/store"
)

// Store is a mutex-guarded map of collections. A single mutex also serves as
// the transaction boundary: RunTransaction holds it for the whole callback.
type Store struct {
	mu    sync.Mutex
	data  map[string]map[string]*store.Document
	clock clock.Clock
}

func New(clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Store{
		data:  make(map[string]map[string]*store.Document),
		clock: clk,
	}
}

func (s *Store) Get(ctx context.Context, collection, id string) (*store.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(collection, id)
}

func (s *Store) getLocked(collection, id string) (*store.Document, error) {
	doc, ok := s.data[collection][id]
	if !ok {
		return nil, fmt.Errorf("document %s/%s: %w", collection, id, common.ErrNotFound)
	}
	return copyDoc(doc), nil
}

func (s *Store) Set(ctx context.Context, collection string, doc *store.Document, opts store.SetOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setLocked(collection, doc, opts)
}

func (s *Store) setLocked(collection string, doc *store.Document, opts store.SetOptions) error {
	if doc == nil || doc.ID == "" {
		return fmt.Errorf("document id missing: %w", common.ErrValidation)
	}
	if len(doc.Data) > 0 && !json.Valid(doc.Data) {
		return fmt.Errorf("document payload is not valid JSON: %w", common.ErrValidation)
	}

	coll := s.data[collection]
	if coll == nil {
		coll = make(map[string]*store.Document)
		s.data[collection] = coll
	}

	stored := copyDoc(doc)
	stored.UpdatedAt = s.clock.Now()

	if opts.Merge {
		if existing, ok := coll[doc.ID]; ok {
			merged, err := mergeJSON(existing.Data, doc.Data)
			if err != nil {
				return fmt.Errorf("merge failed: %w", err)
			}
			stored.Data = merged
		}
	}

	coll[doc.ID] = stored
	return nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data[collection], id)
	return nil
}

func (s *Store) Query(ctx context.Context, collection string, q store.Query) ([]*store.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*store.Document
	for _, doc := range s.data[collection] {
		if matches(doc, q.Filters) {
			out = append(out, copyDoc(doc))
		}
	}

	if q.OrderByUpdatedDesc {
		sort.Slice(out, func(i, j int) bool {
			if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
				return out[i].UpdatedAt.After(out[j].UpdatedAt)
			}
			return out[i].ID < out[j].ID
		})
	} else {
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	}

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// tx routes reads and writes back to the store while the store mutex is held.
type tx struct{ s *Store }

func (t tx) Get(ctx context.Context, collection, id string) (*store.Document, error) {
	return t.s.getLocked(collection, id)
}

func (t tx) Set(ctx context.Context, collection string, doc *store.Document, opts store.SetOptions) error {
	return t.s.setLocked(collection, doc, opts)
}

func (t tx) Delete(ctx context.Context, collection, id string) error {
	delete(t.s.data[collection], id)
	return nil
}

func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(ctx, tx{s: s})
}

func (s *Store) Ping(ctx context.Context) error { return nil }

func copyDoc(d *store.Document) *store.Document {
	out := *d
	out.Data = append([]byte(nil), d.Data...)
	return &out
}

func matches(doc *store.Document, filters map[string]string) bool {
	if len(filters) == 0 {
		return true
	}
	var fields map[string]any
	if err := json.Unmarshal(doc.Data, &fields); err != nil {
		return false
	}
	for k, want := range filters {
		got, ok := fields[k].(string)
		if !ok || got != want {
			return false
		}
	}
	return true
}

func mergeJSON(base, overlay []byte) ([]byte, error) {
	var b, o map[string]json.RawMessage
	if err := json.Unmarshal(base, &b); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(overlay, &o); err != nil {
		return nil, err
	}
	for k, v := range o {
		b[k] = v
	}
	return json.Marshal(b)
}
