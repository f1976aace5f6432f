// Package localstore provides the durable local key-value storage used by
// the offline operation queue and the workflow tracker's fast path. It is
// best-effort capacity: callers treat overflow as a recoverable condition.
package localstore

import "context"

// KV is synchronous, durable, local key-value storage.
type KV interface {
	// Get returns the value for key, or an error matching common.ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, overwriting any previous value. A full
	// medium returns an error matching common.ErrStorageQuota.
	Set(ctx context.Context, key string, value []byte) error

	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error
}
