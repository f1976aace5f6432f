// Package syncer implements the draft synchronizer: the top-level
// orchestrator that composes the local cache, lock manager, retry controller,
// conflict resolver and offline queue into the create/read/update/delete
// surface consumed by upstream callers.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ridelines/draftsync/internal/cache"
	"github.com/ridelines/draftsync/internal/clock"
	"github.com/ridelines/draftsync/internal/common"
	"github.com/ridelines/draftsync/internal/conflict"
	"github.com/ridelines/draftsync/internal/draft"
	"github.com/ridelines/draftsync/internal/events"
	"github.com/ridelines/draftsync/internal/lockmgr"
	"github.com/ridelines/draftsync/internal/logging"
	"github.com/ridelines/draftsync/internal/metrics"
	"github.com/ridelines/draftsync/internal/queue"
	"github.com/ridelines/draftsync/internal/retryx"
	"github.com/ridelines/draftsync/internal/schedule"
	"github.com/ridelines/draftsync/internal/store"
	"github.com/ridelines/draftsync/internal/workflow"
)

// Collection is the remote store collection holding draft documents.
const Collection = "drafts"

// DefaultMaxSaveAttempts bounds conflict-resolution rounds within one save.
const DefaultMaxSaveAttempts = 3

// DefaultBackoffBase is the first conflict-retry backoff; doubles per attempt.
const DefaultBackoffBase = 100 * time.Millisecond

// SaveOutcome reports how a save landed. A queued save is a success: the data
// is durably queued, just not yet synced, and Status lets the UI say so.
type SaveOutcome struct {
	Queued  bool
	Status  draft.SyncStatus
	Version int64
}

// Deps are the collaborators a Synchronizer composes. Store, Cache, Locks,
// Queue, Retrier and Resolver are required; the rest default to no-ops.
type Deps struct {
	Store    store.DocumentStore
	Cache    *cache.DraftCache
	Locks    *lockmgr.Manager
	Queue    *queue.Queue
	Retrier  *retryx.Controller
	Resolver *conflict.Resolver
	Tracker  *workflow.Tracker
	Bus      *events.Bus
	Metrics  *metrics.Collector
	Logger   logging.Logger
	Clock    clock.Clock

	MaxSaveAttempts int
	BackoffBase     time.Duration
}

// Synchronizer owns the draft lifecycle. All mutations go through a per-draft
// advisory lock, the remote optimistic-version check, and on network failure
// the offline queue.
type Synchronizer struct {
	store    store.DocumentStore
	cache    *cache.DraftCache
	locks    *lockmgr.Manager
	queue    *queue.Queue
	retrier  *retryx.Controller
	resolver *conflict.Resolver
	tracker  *workflow.Tracker
	bus      *events.Bus
	metrics  *metrics.Collector
	logger   logging.Logger
	clock    clock.Clock

	maxSaveAttempts int
	backoffBase     time.Duration
}

func New(d Deps) *Synchronizer {
	if d.Logger == nil {
		d.Logger = logging.Nop{}
	}
	if d.Clock == nil {
		d.Clock = clock.Real{}
	}
	if d.Bus == nil {
		d.Bus = events.NewBus()
	}
	if d.MaxSaveAttempts <= 0 {
		d.MaxSaveAttempts = DefaultMaxSaveAttempts
	}
	if d.BackoffBase <= 0 {
		d.BackoffBase = DefaultBackoffBase
	}
	return &Synchronizer{
		store:           d.Store,
		cache:           d.Cache,
		locks:           d.Locks,
		queue:           d.Queue,
		retrier:         d.Retrier,
		resolver:        d.Resolver,
		tracker:         d.Tracker,
		bus:             d.Bus,
		metrics:         d.Metrics,
		logger:          d.Logger,
		clock:           d.Clock,
		maxSaveAttempts: d.MaxSaveAttempts,
		backoffBase:     d.BackoffBase,
	}
}

// Bus exposes the event bus for upstream subscribers.
func (s *Synchronizer) Bus() *events.Bus { return s.bus }

// Tracker exposes the workflow tracker, or nil when none is wired.
func (s *Synchronizer) Tracker() *workflow.Tracker { return s.tracker }

// Create assigns a new draft id, seeds the immutable upload snapshot and
// persists the draft so it is retrievable by id once Create returns (either
// synced at version 1 or durably queued offline).
func (s *Synchronizer) Create(ctx context.Context, name, ownerID string, original draft.OriginalData) (*draft.Draft, SaveOutcome, error) {
	now := s.clock.Now()
	d := &draft.Draft{
		ID:           uuid.NewString(),
		OwnerID:      ownerID,
		Name:         name,
		CurrentStep:  draft.StepUpload,
		OriginalData: original,
		CreatedAt:    now,
		Metadata: draft.Metadata{
			Version:          0,
			LastModifiedAt:   now,
			LastModifiedStep: draft.StepUpload,
			SyncStatus:       draft.StatusPending,
		},
	}
	if d.OriginalData.UploadedAt.IsZero() {
		d.OriginalData.UploadedAt = now
	}

	outcome, err := s.Save(ctx, d)
	if err != nil {
		return nil, outcome, fmt.Errorf("failed to create draft %q: %w", name, err)
	}

	if s.tracker != nil {
		if _, werr := s.tracker.Activate(ctx, d.ID, draft.StepUpload); werr != nil {
			s.logger.Warn(ctx, "workflow activation failed", "draft_id", d.ID, "error", werr)
		}
	}

	s.logger.Info(ctx, "draft created",
		"draft_id", d.ID, "name", name, "version", outcome.Version, "queued", outcome.Queued)
	return d, outcome, nil
}

// Get returns the draft from the cache when fresh, otherwise from the remote
// store. Remote reads run a structural repair on any embedded schedule before
// the draft is cached or returned.
func (s *Synchronizer) Get(ctx context.Context, draftID string) (*draft.Draft, error) {
	if d := s.cache.Get(draftID); d != nil {
		s.metrics.CacheGet(true)
		return d, nil
	}
	s.metrics.CacheGet(false)

	d, err := s.fetchRemote(ctx, draftID)
	if err != nil {
		return nil, err
	}
	s.cache.Put(d)
	return d, nil
}

// List returns the drafts owned by ownerID, most recently updated first.
// Pass an empty ownerID in anonymous mode to list every draft.
func (s *Synchronizer) List(ctx context.Context, ownerID string) ([]*draft.Draft, error) {
	q := store.Query{OrderByUpdatedDesc: true}
	if ownerID != "" {
		q.Filters = map[string]string{"ownerId": ownerID}
	}

	docs, err := s.store.Query(ctx, Collection, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list drafts: %w", err)
	}

	out := make([]*draft.Draft, 0, len(docs))
	for _, doc := range docs {
		d, err := draft.Decode(doc.Data)
		if err != nil {
			s.logger.Warn(ctx, "skipping undecodable draft", "document_id", doc.ID, "error", err)
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// UpdateStep merges the partial step payload into the draft, advances the
// current step and progress (both forward-only), and persists via the
// retrying save path.
func (s *Synchronizer) UpdateStep(ctx context.Context, draftID string, step draft.Step, progress int, patch draft.StepData) (SaveOutcome, error) {
	if !step.Valid() {
		return SaveOutcome{}, fmt.Errorf("unknown workflow step %q: %w", step, common.ErrValidation)
	}

	if !s.locks.Acquire(draftID) {
		return SaveOutcome{}, fmt.Errorf("draft %s is locked by another operation: %w", draftID, common.ErrBusy)
	}
	defer s.locks.Release(draftID)

	d, err := s.Get(ctx, draftID)
	if err != nil {
		return SaveOutcome{}, err
	}

	d.StepData.Apply(patch)
	d.CurrentStep = draft.Later(d.CurrentStep, step)
	if progress > d.Progress {
		d.Progress = progress
	}
	d.Metadata.LastModifiedAt = s.clock.Now()
	d.Metadata.LastModifiedStep = step

	outcome, err := s.saveLocked(ctx, d)
	if err != nil {
		return outcome, err
	}

	if s.tracker != nil {
		if _, werr := s.tracker.Activate(ctx, draftID, step); werr != nil {
			s.logger.Warn(ctx, "workflow activation failed", "draft_id", draftID, "error", werr)
		}
	}
	return outcome, nil
}

// Rename replaces the draft's display name and the upload snapshot's file
// name. The snapshot is otherwise immutable, so this is the one wholesale
// replacement path it supports.
func (s *Synchronizer) Rename(ctx context.Context, draftID, name string) (SaveOutcome, error) {
	if name == "" {
		return SaveOutcome{}, fmt.Errorf("draft name must not be empty: %w", common.ErrValidation)
	}

	if !s.locks.Acquire(draftID) {
		return SaveOutcome{}, fmt.Errorf("draft %s is locked by another operation: %w", draftID, common.ErrBusy)
	}
	defer s.locks.Release(draftID)

	d, err := s.Get(ctx, draftID)
	if err != nil {
		return SaveOutcome{}, err
	}

	d.Name = name
	d.OriginalData.FileName = name
	d.Metadata.LastModifiedAt = s.clock.Now()

	return s.saveLocked(ctx, d)
}

// Save persists the caller's draft through the full write path: per-draft
// lock, conflict-resolving remote write with retries, and the offline queue
// as the fallback for network failure. The draft is updated in place with the
// persisted version and sync status.
func (s *Synchronizer) Save(ctx context.Context, d *draft.Draft) (SaveOutcome, error) {
	if d == nil || d.ID == "" {
		return SaveOutcome{}, fmt.Errorf("draft id is required: %w", common.ErrValidation)
	}

	if !s.locks.Acquire(d.ID) {
		return SaveOutcome{}, fmt.Errorf("draft %s is locked by another operation: %w", d.ID, common.ErrBusy)
	}
	defer s.locks.Release(d.ID)

	return s.saveLocked(ctx, d)
}

// Delete removes the draft remotely and from the workflow tracker. The cache
// entry is invalidated regardless of the remote outcome.
func (s *Synchronizer) Delete(ctx context.Context, draftID string) error {
	s.cache.Invalidate(draftID)

	err := s.retrier.Do(ctx, s.maxSaveAttempts, func(ctx context.Context) error {
		return s.store.Delete(ctx, Collection, draftID)
	})
	if err != nil {
		return fmt.Errorf("failed to delete draft %s: %w", draftID, err)
	}

	if s.tracker != nil {
		s.tracker.Delete(ctx, draftID)
	}
	s.bus.Publish(events.Event{Type: events.DraftDeleted, DraftID: draftID})
	s.logger.Info(ctx, "draft deleted", "draft_id", draftID)
	return nil
}

// DrainQueue replays queued offline saves against the remote store. The
// connectivity monitor calls it on the offline→online transition; it is also
// safe to invoke manually.
func (s *Synchronizer) DrainQueue(ctx context.Context) (int, error) {
	applied, err := s.queue.Drain(ctx, s.applyQueued)
	s.metrics.SetQueueDepth(s.queue.Depth())
	if applied > 0 {
		s.bus.Publish(events.Event{Type: events.QueueDrained})
		s.logger.Info(ctx, "offline queue drained", "applied", applied, "remaining", s.queue.Depth())
	}
	return applied, err
}

// OnOnline adapts DrainQueue to the connectivity monitor's callback shape.
func (s *Synchronizer) OnOnline(ctx context.Context) {
	if _, err := s.DrainQueue(ctx); err != nil {
		s.logger.Error(ctx, "queue drain after reconnect failed", "error", err)
	}
}

// applyQueued replays one queued operation. Network errors propagate so the
// drain stops at the head; the replayed draft goes through the same per-draft
// lock and conflict-resolving write as a live save. A draft locked by a live
// operation stops the drain retryably rather than racing it.
func (s *Synchronizer) applyQueued(ctx context.Context, op queue.Operation) error {
	if op.Type != queue.OpSave {
		return fmt.Errorf("unsupported queued operation type %q: %w", op.Type, common.ErrValidation)
	}

	d, err := draft.Decode(op.Payload)
	if err != nil {
		return fmt.Errorf("failed to decode queued draft %s: %w", op.DocumentID, err)
	}

	if !s.locks.Acquire(d.ID) {
		return fmt.Errorf("draft %s is locked by another operation, deferring replay: %w",
			d.ID, common.ErrUnavailable)
	}
	defer s.locks.Release(d.ID)

	version, err := s.saveWithConflictResolution(ctx, d)
	if err != nil {
		return err
	}

	s.cache.Invalidate(d.ID)
	s.bus.Publish(events.Event{Type: events.SaveCompleted, DraftID: d.ID, Version: version})
	return nil
}

// saveLocked is the write path behind the per-draft lock: structural repair,
// conflict-resolving write with retries, and queue fallback.
func (s *Synchronizer) saveLocked(ctx context.Context, d *draft.Draft) (SaveOutcome, error) {
	start := time.Now()
	defer func() {
		s.metrics.ObserveSaveDuration(time.Since(start).Seconds())
	}()

	if schedule.RepairTripDetails(d.StepData.Summary) {
		s.logger.Info(ctx, "repaired inconsistent trip details before save", "draft_id", d.ID)
	}

	var version int64
	err := s.retrier.Do(ctx, s.maxSaveAttempts, func(ctx context.Context) error {
		v, err := s.saveWithConflictResolution(ctx, d)
		if err == nil {
			version = v
		}
		return err
	})

	switch {
	case err == nil:
		d.Metadata.Version = version
		s.cache.Put(d)
		s.metrics.SaveResult("synced")
		s.bus.Publish(events.Event{Type: events.SaveCompleted, DraftID: d.ID, Version: version})
		return SaveOutcome{Status: d.Metadata.SyncStatus, Version: version}, nil

	case store.IsNetwork(err):
		return s.enqueueOffline(ctx, d, err)

	default:
		d.Metadata.SyncStatus = draft.StatusError
		s.metrics.SaveResult("failed")
		s.bus.Publish(events.Event{
			Type: events.SaveFailed, DraftID: d.ID, Err: common.Sanitize(err.Error()),
		})
		return SaveOutcome{Status: draft.StatusError}, err
	}
}

// enqueueOffline durably queues the draft after retries exhausted on network
// failure. A successful enqueue is reported as success to the caller; a queue
// that cannot even accept the operation is a genuine failure.
func (s *Synchronizer) enqueueOffline(ctx context.Context, d *draft.Draft, cause error) (SaveOutcome, error) {
	d.Metadata.SyncStatus = draft.StatusPending

	payload, err := d.Encode()
	if err != nil {
		return SaveOutcome{Status: draft.StatusError}, err
	}

	qerr := s.queue.Enqueue(ctx, queue.Operation{
		Type:       queue.OpSave,
		Collection: Collection,
		DocumentID: d.ID,
		Payload:    payload,
		Version:    d.Metadata.Version,
	})
	s.metrics.SetQueueDepth(s.queue.Depth())

	if qerr != nil {
		d.Metadata.SyncStatus = draft.StatusError
		s.metrics.SaveResult("failed")
		s.bus.Publish(events.Event{
			Type: events.SaveFailed, DraftID: d.ID, Err: common.Sanitize(qerr.Error()),
		})
		return SaveOutcome{Status: draft.StatusError}, fmt.Errorf("save failed and could not be queued: %w", qerr)
	}

	s.cache.Put(d)
	s.metrics.SaveResult("queued")
	s.bus.Publish(events.Event{Type: events.SaveQueued, DraftID: d.ID, Version: d.Metadata.Version})
	s.logger.Warn(ctx, "save queued offline",
		"draft_id", d.ID, "version", d.Metadata.Version, "cause", cause)
	return SaveOutcome{Queued: true, Status: draft.StatusPending, Version: d.Metadata.Version}, nil
}

// saveWithConflictResolution is the central write: plan against the
// authoritative remote copy, merge on divergence, then persist inside a
// transaction that re-checks the version it planned against. A version that
// moves mid-transaction is retried with exponential backoff; when attempts
// exhaust, the draft is force-written optimistically so a single user's work
// is never lost to a livelock.
func (s *Synchronizer) saveWithConflictResolution(ctx context.Context, d *draft.Draft) (int64, error) {
	for attempt := 0; attempt < s.maxSaveAttempts; attempt++ {
		if attempt > 0 {
			if err := s.sleepBackoff(ctx, attempt); err != nil {
				return 0, err
			}
		}

		version, err := s.planAndPersist(ctx, d)
		if err == nil {
			return version, nil
		}
		if errors.Is(err, common.ErrVersionConflict) {
			s.logger.Warn(ctx, "version moved during save, replanning",
				"draft_id", d.ID, "attempt", attempt+1)
			continue
		}
		return 0, err
	}

	return s.optimisticSave(ctx, d)
}

// planAndPersist performs one round: read the remote copy, decide the target
// version (merging on divergence), and write inside a transaction that
// verifies the planned-against version is still current.
func (s *Synchronizer) planAndPersist(ctx context.Context, d *draft.Draft) (int64, error) {
	remoteDoc, err := s.store.Get(ctx, Collection, d.ID)
	remoteMissing := false
	switch {
	case err == nil:
	case store.Classify(err) == store.KindNotFound:
		remoteMissing = true
	default:
		return 0, err
	}

	toWrite := d
	var plannedRemote int64
	var target int64
	merged := false

	if remoteMissing {
		target = d.Metadata.Version + 1
	} else {
		remote, derr := draft.Decode(remoteDoc.Data)
		if derr != nil {
			return 0, fmt.Errorf("failed to decode remote draft %s: %w", d.ID, derr)
		}
		plannedRemote = remote.Metadata.Version

		switch {
		case remote.Metadata.Version == d.Metadata.Version:
			target = d.Metadata.Version + 1

		case remote.Metadata.Version > d.Metadata.Version:
			toWrite = s.resolver.Merge(ctx, d, remote)
			target = remote.Metadata.Version + 1
			merged = true

		default:
			// Local ahead of remote signals a write that succeeded without
			// the caller learning its version. Proceed optimistically and
			// log for diagnosis.
			s.logger.Warn(ctx, "local version ahead of remote",
				"draft_id", d.ID,
				"local_version", d.Metadata.Version,
				"remote_version", remote.Metadata.Version)
			target = maxInt64(d.Metadata.Version, remote.Metadata.Version) + 1
		}
	}

	if err := s.persistAt(ctx, toWrite, target, plannedRemote, remoteMissing); err != nil {
		return 0, err
	}

	if merged {
		s.metrics.ConflictResolved()
		s.bus.Publish(events.Event{Type: events.ConflictResolved, DraftID: d.ID, Version: target})
	}

	if toWrite != d {
		*d = *toWrite
	}
	d.Metadata.Version = target
	if d.Metadata.SyncStatus != draft.StatusConflict {
		d.Metadata.SyncStatus = draft.StatusSynced
	}
	return target, nil
}

// persistAt writes the draft at the target version inside a transaction,
// failing with ErrVersionConflict if the remote version no longer matches
// what the plan was based on.
func (s *Synchronizer) persistAt(ctx context.Context, d *draft.Draft, target, plannedRemote int64, remoteMissing bool) error {
	out := d.Clone()
	out.Metadata.Version = target
	if out.Metadata.SyncStatus != draft.StatusConflict {
		out.Metadata.SyncStatus = draft.StatusSynced
	}

	data, err := out.Encode()
	if err != nil {
		return err
	}

	return s.store.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		current, err := tx.Get(ctx, Collection, d.ID)
		switch {
		case err == nil:
			if remoteMissing || current.Version != plannedRemote {
				return fmt.Errorf("draft %s moved to version %d during save: %w",
					d.ID, current.Version, common.ErrVersionConflict)
			}
		case store.Classify(err) == store.KindNotFound:
			if !remoteMissing {
				return fmt.Errorf("draft %s disappeared during save: %w", d.ID, common.ErrVersionConflict)
			}
		default:
			return err
		}

		return tx.Set(ctx, Collection, &store.Document{
			ID:        d.ID,
			Data:      data,
			Version:   target,
			UpdatedAt: s.clock.Now(),
		}, store.SetOptions{})
	})
}

// optimisticSave is the exhaustion fallback: force version local+1, flag the
// draft, and write without a version check. Durability over strict
// consistency for a single-user tool.
func (s *Synchronizer) optimisticSave(ctx context.Context, d *draft.Draft) (int64, error) {
	target := d.Metadata.Version + 1

	out := d.Clone()
	out.Metadata.Version = target
	out.Metadata.ConflictResolutionFailed = true
	out.Metadata.SyncStatus = draft.StatusSynced

	data, err := out.Encode()
	if err != nil {
		return 0, err
	}

	err = s.store.Set(ctx, Collection, &store.Document{
		ID:        d.ID,
		Data:      data,
		Version:   target,
		UpdatedAt: s.clock.Now(),
	}, store.SetOptions{})
	if err != nil {
		return 0, err
	}

	s.logger.Error(ctx, "conflict resolution exhausted, forced optimistic save",
		"draft_id", d.ID, "version", target)

	*d = *out
	return target, nil
}

// fetchRemote reads and decodes the authoritative copy, repairing any
// structurally inconsistent embedded schedule before returning it.
func (s *Synchronizer) fetchRemote(ctx context.Context, draftID string) (*draft.Draft, error) {
	doc, err := s.store.Get(ctx, Collection, draftID)
	if err != nil {
		return nil, fmt.Errorf("failed to load draft %s: %w", draftID, err)
	}

	d, err := draft.Decode(doc.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode draft %s: %w", draftID, err)
	}

	if schedule.RepairTripDetails(d.StepData.Summary) {
		s.logger.Info(ctx, "repaired inconsistent trip details on load", "draft_id", draftID)
	}
	return d, nil
}

func (s *Synchronizer) sleepBackoff(ctx context.Context, attempt int) error {
	delay := s.backoffBase << (attempt - 1)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
