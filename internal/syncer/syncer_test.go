package syncer

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridelines/draftsync/internal/cache"
	"github.com/ridelines/draftsync/internal/clock"
	"github.com/ridelines/draftsync/internal/common"
	"github.com/ridelines/draftsync/internal/conflict"
	"github.com/ridelines/draftsync/internal/draft"
	"github.com/ridelines/draftsync/internal/events"
	"github.com/ridelines/draftsync/internal/localstore"
	"github.com/ridelines/draftsync/internal/lockmgr"
	"github.com/ridelines/draftsync/internal/queue"
	"github.com/ridelines/draftsync/internal/retryx"
	"github.com/ridelines/draftsync/internal/schedule"
	"github.com/ridelines/draftsync/internal/store"
	"github.com/ridelines/draftsync/internal/store/memory"
	"github.com/ridelines/draftsync/internal/workflow"
)

// flakyStore decorates a DocumentStore with switchable network failure, for
// offline-path tests.
type flakyStore struct {
	store.DocumentStore

	mu      sync.Mutex
	offline bool
	gets    int
	sets    int
}

func (f *flakyStore) setOffline(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offline = v
}

func (f *flakyStore) netErr() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offline {
		return fmt.Errorf("remote store: %w", common.ErrUnavailable)
	}
	return nil
}

func (f *flakyStore) Get(ctx context.Context, collection, id string) (*store.Document, error) {
	if err := f.netErr(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.gets++
	f.mu.Unlock()
	return f.DocumentStore.Get(ctx, collection, id)
}

func (f *flakyStore) Set(ctx context.Context, collection string, doc *store.Document, opts store.SetOptions) error {
	if err := f.netErr(); err != nil {
		return err
	}
	f.mu.Lock()
	f.sets++
	f.mu.Unlock()
	return f.DocumentStore.Set(ctx, collection, doc, opts)
}

func (f *flakyStore) Delete(ctx context.Context, collection, id string) error {
	if err := f.netErr(); err != nil {
		return err
	}
	return f.DocumentStore.Delete(ctx, collection, id)
}

func (f *flakyStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := f.netErr(); err != nil {
		return err
	}
	f.mu.Lock()
	f.sets++
	f.mu.Unlock()
	return f.DocumentStore.RunTransaction(ctx, fn)
}

type fixture struct {
	sync  *Synchronizer
	store *flakyStore
	raw   *memory.Store
	clock *clock.Manual
	locks *lockmgr.Manager
	queue *queue.Queue
	cache *cache.DraftCache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	clk := clock.NewManual(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	raw := memory.New(clk)
	flaky := &flakyStore{DocumentStore: raw}
	local := localstore.NewMemory()

	q, err := queue.New(ctx, local, 0, nil, clk)
	require.NoError(t, err)

	locks := lockmgr.New(time.Second, clk)
	c := cache.New(30*time.Second, clk)

	s := New(Deps{
		Store:           flaky,
		Cache:           c,
		Locks:           locks,
		Queue:           q,
		Retrier:         retryx.New(time.Millisecond, time.Millisecond, nil),
		Resolver:        conflict.NewResolver(nil, clk),
		Tracker:         workflow.NewTracker(local, nil, nil, clk),
		Clock:           clk,
		BackoffBase:     time.Millisecond,
		MaxSaveAttempts: 3,
	})
	return &fixture{sync: s, store: flaky, raw: raw, clock: clk, locks: locks, queue: q, cache: c}
}

func TestCreateThenUpdateStep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d, outcome, err := f.sync.Create(ctx, "route 7", "owner-1", draft.OriginalData{FileName: "route7.csv"})
	require.NoError(t, err)
	assert.False(t, outcome.Queued)
	assert.Equal(t, int64(1), outcome.Version)
	assert.Equal(t, draft.StatusSynced, d.Metadata.SyncStatus)

	outcome, err = f.sync.UpdateStep(ctx, d.ID, draft.StepTimepoints, 30, draft.StepData{
		Timepoints: &draft.TimepointsAnalysis{OutliersRemoved: 4},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), outcome.Version)

	got, err := f.sync.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Metadata.Version)
	assert.Equal(t, 30, got.Progress)
	assert.Equal(t, draft.StepTimepoints, got.CurrentStep)
	require.NotNil(t, got.StepData.Timepoints)
	assert.Equal(t, 4, got.StepData.Timepoints.OutliersRemoved)
}

func TestVersionIncrementsByOnePerSave(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d, _, err := f.sync.Create(ctx, "r", "", draft.OriginalData{})
	require.NoError(t, err)

	for want := int64(2); want <= 5; want++ {
		outcome, err := f.sync.Save(ctx, d)
		require.NoError(t, err)
		assert.Equal(t, want, outcome.Version)
	}
}

func TestProgressNeverRegresses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d, _, err := f.sync.Create(ctx, "r", "", draft.OriginalData{})
	require.NoError(t, err)

	_, err = f.sync.UpdateStep(ctx, d.ID, draft.StepBlocks, 60, draft.StepData{})
	require.NoError(t, err)
	_, err = f.sync.UpdateStep(ctx, d.ID, draft.StepBlocks, 20, draft.StepData{})
	require.NoError(t, err)

	got, err := f.sync.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 60, got.Progress)
}

func TestSave_MergesOnRemoteConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d, _, err := f.sync.Create(ctx, "r", "", draft.OriginalData{})
	require.NoError(t, err)

	// another device moved the draft to version 5 at an earlier step
	remote := d.Clone()
	remote.CurrentStep = draft.StepTimepoints
	remote.Metadata.Version = 5
	remote.Metadata.LastModifiedAt = f.clock.Now().Add(-time.Minute)
	raw, err := remote.Encode()
	require.NoError(t, err)
	require.NoError(t, f.raw.Set(ctx, Collection, &store.Document{
		ID: d.ID, Data: raw, Version: 5, UpdatedAt: f.clock.Now(),
	}, store.SetOptions{}))

	// local caller holds version 3 further along the workflow
	local := d.Clone()
	local.CurrentStep = draft.StepBlocks
	local.Metadata.Version = 3
	local.Metadata.LastModifiedAt = f.clock.Now()

	var conflicts int
	f.sync.Bus().Subscribe(func(e events.Event) {
		if e.Type == events.ConflictResolved {
			conflicts++
		}
	})

	outcome, err := f.sync.Save(ctx, local)
	require.NoError(t, err)
	assert.Equal(t, int64(6), outcome.Version, "merged version is remote+1")
	assert.Equal(t, draft.StepBlocks, local.CurrentStep, "further step wins")
	assert.Equal(t, draft.StatusConflict, local.Metadata.SyncStatus)
	assert.NotNil(t, local.Metadata.LastConflictResolution)
	assert.Equal(t, 1, conflicts)
}

func TestSave_QueuesOfflineAfterNetworkFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d, _, err := f.sync.Create(ctx, "r", "", draft.OriginalData{})
	require.NoError(t, err)

	f.store.setOffline(true)
	d.Name = "renamed while offline"
	outcome, err := f.sync.Save(ctx, d)

	require.NoError(t, err, "a queued save is a success to the caller")
	assert.True(t, outcome.Queued)
	assert.Equal(t, draft.StatusPending, outcome.Status)
	assert.Equal(t, 1, f.queue.Depth())

	// cached copy reflects the pending state without a remote round-trip
	got, err := f.sync.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, draft.StatusPending, got.Metadata.SyncStatus)
	assert.Equal(t, "renamed while offline", got.Name)
}

func TestDrainQueue_AppliesNewestPayloadOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d, _, err := f.sync.Create(ctx, "r", "", draft.OriginalData{})
	require.NoError(t, err)

	f.store.setOffline(true)
	d.Name = "first offline edit"
	_, err = f.sync.Save(ctx, d)
	require.NoError(t, err)
	d.Name = "second offline edit"
	_, err = f.sync.Save(ctx, d)
	require.NoError(t, err)
	require.Equal(t, 2, f.queue.Depth())

	f.store.setOffline(false)
	before := func() int {
		f.store.mu.Lock()
		defer f.store.mu.Unlock()
		return f.store.sets
	}()

	applied, err := f.sync.DrainQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, applied, "saves for one document coalesce to the newest payload")
	assert.Equal(t, 0, f.queue.Depth())

	after := func() int {
		f.store.mu.Lock()
		defer f.store.mu.Unlock()
		return f.store.sets
	}()
	assert.Equal(t, 1, after-before, "one transactional write for the coalesced save")

	got, err := f.sync.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "second offline edit", got.Name)
}

func TestDrainQueue_StopsWhileStillOffline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d, _, err := f.sync.Create(ctx, "r", "", draft.OriginalData{})
	require.NoError(t, err)

	f.store.setOffline(true)
	d.Name = "offline edit"
	_, err = f.sync.Save(ctx, d)
	require.NoError(t, err)

	applied, err := f.sync.DrainQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, applied)
	assert.Equal(t, 1, f.queue.Depth(), "operation stays queued for the next transition")
}

func TestDrainQueue_DefersLockedDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d, _, err := f.sync.Create(ctx, "r", "", draft.OriginalData{})
	require.NoError(t, err)

	f.store.setOffline(true)
	d.Name = "offline edit"
	_, err = f.sync.Save(ctx, d)
	require.NoError(t, err)
	require.Equal(t, 1, f.queue.Depth())
	f.store.setOffline(false)

	// a live operation holds the draft's lock while the drain runs
	require.True(t, f.locks.Acquire(d.ID))
	applied, err := f.sync.DrainQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, applied, "replay must not interleave with a live operation on the same draft")
	assert.Equal(t, 1, f.queue.Depth(), "deferred operation stays at the head")

	f.locks.Release(d.ID)
	applied, err = f.sync.DrainQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)
	assert.Equal(t, 0, f.queue.Depth())

	got, err := f.sync.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "offline edit", got.Name)
}

func TestGet_RepairsInconsistentBlockNumbers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	legacy := &draft.Draft{
		ID:          "legacy-1",
		Name:        "legacy",
		CurrentStep: draft.StepSummary,
		StepData: draft.StepData{
			Summary: &schedule.SummarySchedule{
				TimePoints:     []string{"A", "B"},
				LayoverMinutes: 10,
				Trips: []schedule.Trip{
					{TripNumber: 1, BlockNumber: 1, DepartureTimes: []string{"08:00", "08:30"}},
					{TripNumber: 2, BlockNumber: 1, DepartureTimes: []string{"08:15", "08:45"}},
					{TripNumber: 3, BlockNumber: 1, DepartureTimes: []string{"09:00", "09:30"}},
				},
			},
		},
		Metadata: draft.Metadata{Version: 1},
	}
	raw, err := legacy.Encode()
	require.NoError(t, err)
	require.NoError(t, f.raw.Set(ctx, Collection, &store.Document{
		ID: legacy.ID, Data: raw, Version: 1, UpdatedAt: f.clock.Now(),
	}, store.SetOptions{}))

	got, err := f.sync.Get(ctx, legacy.ID)
	require.NoError(t, err)

	blocks := make([]int, 0, 3)
	for _, trip := range got.StepData.Summary.Trips {
		blocks = append(blocks, trip.BlockNumber)
	}
	// 08:15 departs while block 1's first trip is still out (free again at
	// 08:40 after layover), so it needs a second bus; 09:00 reuses block 1.
	assert.Equal(t, []int{1, 2, 1}, blocks)
}

func TestSave_LockedDraftReturnsBusy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d, _, err := f.sync.Create(ctx, "r", "", draft.OriginalData{})
	require.NoError(t, err)

	require.True(t, f.locks.Acquire(d.ID))
	_, err = f.sync.Save(ctx, d)
	assert.ErrorIs(t, err, common.ErrBusy)

	f.locks.Release(d.ID)
	_, err = f.sync.Save(ctx, d)
	assert.NoError(t, err)
}

func TestDelete_InvalidatesCacheEvenWhenRemoteFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d, _, err := f.sync.Create(ctx, "r", "", draft.OriginalData{})
	require.NoError(t, err)
	require.NotNil(t, f.cache.Get(d.ID))

	f.store.setOffline(true)
	err = f.sync.Delete(ctx, d.ID)
	assert.Error(t, err)
	assert.Nil(t, f.cache.Get(d.ID), "cache entry gone regardless of remote outcome")
}

func TestDelete_RemovesDraftAndNotifies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d, _, err := f.sync.Create(ctx, "r", "", draft.OriginalData{})
	require.NoError(t, err)

	var deleted []string
	f.sync.Bus().Subscribe(func(e events.Event) {
		if e.Type == events.DraftDeleted {
			deleted = append(deleted, e.DraftID)
		}
	})

	require.NoError(t, f.sync.Delete(ctx, d.ID))
	assert.Equal(t, []string{d.ID}, deleted)

	_, err = f.sync.Get(ctx, d.ID)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestList_FiltersByOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.sync.Create(ctx, "mine", "owner-1", draft.OriginalData{})
	require.NoError(t, err)
	_, _, err = f.sync.Create(ctx, "theirs", "owner-2", draft.OriginalData{})
	require.NoError(t, err)

	mine, err := f.sync.List(ctx, "owner-1")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "mine", mine[0].Name)

	all, err := f.sync.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestUpdateStep_RejectsUnknownStep(t *testing.T) {
	f := newFixture(t)
	_, err := f.sync.UpdateStep(context.Background(), "d1", draft.Step("bogus"), 10, draft.StepData{})
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestCreate_ActivatesWorkflow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d, _, err := f.sync.Create(ctx, "r", "", draft.OriginalData{})
	require.NoError(t, err)

	state, err := f.sync.Tracker().Load(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusInProgress, state.StepStatus(draft.StepUpload))
}

func TestCachedGetSkipsRemote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d, _, err := f.sync.Create(ctx, "r", "", draft.OriginalData{})
	require.NoError(t, err)

	before := func() int {
		f.store.mu.Lock()
		defer f.store.mu.Unlock()
		return f.store.gets
	}()

	_, err = f.sync.Get(ctx, d.ID)
	require.NoError(t, err)

	after := func() int {
		f.store.mu.Lock()
		defer f.store.mu.Unlock()
		return f.store.gets
	}()
	assert.Equal(t, before, after, "fresh cache entry answers without a remote read")

	f.clock.Advance(time.Minute) // past the TTL
	_, err = f.sync.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Greater(t, func() int {
		f.store.mu.Lock()
		defer f.store.mu.Unlock()
		return f.store.gets
	}(), after)
}
