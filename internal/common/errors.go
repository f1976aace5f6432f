// Package common defines shared constants and sentinel errors used across
// the draftsync engine. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Store-level errors.
	ErrNotFound        = errors.New("not found")
	ErrVersionConflict = errors.New("version conflict")
	ErrPermission      = errors.New("permission denied")
	ErrValidation      = errors.New("validation failed")
	ErrUnavailable     = errors.New("remote store unavailable")

	// Synchronizer-level errors.
	ErrBusy      = errors.New("draft busy, retry")
	ErrQueueFull = errors.New("offline queue capacity exceeded")

	// Local storage errors.
	ErrStorageQuota = errors.New("local storage quota exceeded")
)
