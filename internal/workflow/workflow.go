// Package workflow tracks per-step progress of a draft's schedule-creation
// workflow: a denormalized state machine persisted alongside the draft and
// consumed by the UI for progress display.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/ridelines/draftsync/internal/clock"
	"github.com/ridelines/draftsync/internal/common"
	"github.com/ridelines/draftsync/internal/draft"
	"github.com/ridelines/draftsync/internal/localstore"
	"github.com/ridelines/draftsync/internal/logging"
	"github.com/ridelines/draftsync/internal/store"
)

// Collection is the remote store collection for workflow state documents.
const Collection = "workflows"

const localKeyPrefix = "draftsync.workflow."

// Status is the lifecycle state of a single workflow step.
type Status string

const (
	StatusNotStarted Status = "not-started"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusSkipped    Status = "skipped"
)

// StepState is one step's status plus optional per-step detail.
type StepState struct {
	Step     draft.Step      `json:"step"`
	Status   Status          `json:"status"`
	Progress int             `json:"progress,omitempty"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// State is a draft's full workflow projection.
type State struct {
	DraftID   string      `json:"draftId"`
	Steps     []StepState `json:"steps"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// NewState returns a fresh workflow for a draft: every canonical step
// not-started, with the upload step already in progress since a draft only
// exists once an upload has begun.
func NewState(draftID string) *State {
	s := &State{DraftID: draftID, Steps: make([]StepState, 0, len(draft.Steps))}
	for _, step := range draft.Steps {
		s.Steps = append(s.Steps, StepState{Step: step, Status: StatusNotStarted})
	}
	s.Steps[0].Status = StatusInProgress
	return s
}

// find returns a pointer into Steps for the given step, or nil.
func (s *State) find(step draft.Step) *StepState {
	for i := range s.Steps {
		if s.Steps[i].Step == step {
			return &s.Steps[i]
		}
	}
	return nil
}

// StepStatus returns the status of step, or StatusNotStarted for unknown steps.
func (s *State) StepStatus(step draft.Step) Status {
	if st := s.find(step); st != nil {
		return st.Status
	}
	return StatusNotStarted
}

// OverallProgress derives the whole-workflow percentage: completed and skipped
// steps count fully, in-progress steps count half.
func (s *State) OverallProgress() int {
	if len(s.Steps) == 0 {
		return 0
	}
	var score float64
	for _, st := range s.Steps {
		switch st.Status {
		case StatusCompleted, StatusSkipped:
			score++
		case StatusInProgress:
			score += 0.5
		}
	}
	return int(math.Round(100 * score / float64(len(s.Steps))))
}

// Tracker owns workflow state persistence. Local storage is written
// synchronously and is authoritative for immediate UI feedback; the remote
// store is written best-effort for cross-device resume. Persistence failures
// on either side are logged, never propagated, so workflow bookkeeping can
// not fail a save.
type Tracker struct {
	local  localstore.KV
	remote store.DocumentStore
	logger logging.Logger
	clock  clock.Clock
}

// NewTracker returns a Tracker. remote may be nil in anonymous/offline-only
// mode.
func NewTracker(local localstore.KV, remote store.DocumentStore, logger logging.Logger, clk clock.Clock) *Tracker {
	if logger == nil {
		logger = logging.Nop{}
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Tracker{local: local, remote: remote, logger: logger, clock: clk}
}

// Load returns the workflow state for a draft, preferring local storage and
// falling back to the remote store. A draft with no state on either side
// returns an error matching common.ErrNotFound.
func (t *Tracker) Load(ctx context.Context, draftID string) (*State, error) {
	if raw, err := t.local.Get(ctx, localKeyPrefix+draftID); err == nil {
		var s State
		if err := json.Unmarshal(raw, &s); err == nil {
			s.normalize()
			return &s, nil
		}
		t.logger.Warn(ctx, "discarding corrupt local workflow state", "draft_id", draftID)
	}

	if t.remote != nil {
		doc, err := t.remote.Get(ctx, Collection, draftID)
		if err == nil {
			var s State
			if err := json.Unmarshal(doc.Data, &s); err != nil {
				return nil, fmt.Errorf("decoding remote workflow state: %w", err)
			}
			s.normalize()
			return &s, nil
		}
	}
	return nil, fmt.Errorf("workflow state for draft %q: %w", draftID, common.ErrNotFound)
}

// normalize appends any canonical steps missing from a persisted state, so
// states written by older versions stay addressable.
func (s *State) normalize() {
	for _, step := range draft.Steps {
		if s.find(step) == nil {
			s.Steps = append(s.Steps, StepState{Step: step, Status: StatusNotStarted})
		}
	}
}

// loadOrNew is Load with a fresh state substituted for not-found.
func (t *Tracker) loadOrNew(ctx context.Context, draftID string) *State {
	if s, err := t.Load(ctx, draftID); err == nil {
		return s
	}
	return NewState(draftID)
}

// Activate transitions a not-started step to in-progress. Completed and
// skipped steps are left alone so activation is safe to repeat.
func (t *Tracker) Activate(ctx context.Context, draftID string, step draft.Step) (*State, error) {
	if !step.Valid() {
		return nil, fmt.Errorf("unknown workflow step %q: %w", step, common.ErrValidation)
	}
	s := t.loadOrNew(ctx, draftID)
	if st := s.find(step); st.Status == StatusNotStarted {
		st.Status = StatusInProgress
	}
	t.persist(ctx, s)
	return s, nil
}

// Complete marks a step completed, stores the given metadata verbatim, and
// cascades the immediately following step from not-started to in-progress.
func (t *Tracker) Complete(ctx context.Context, draftID string, step draft.Step, metadata json.RawMessage) (*State, error) {
	if !step.Valid() {
		return nil, fmt.Errorf("unknown workflow step %q: %w", step, common.ErrValidation)
	}
	s := t.loadOrNew(ctx, draftID)

	st := s.find(step)
	st.Status = StatusCompleted
	st.Progress = 100
	if metadata != nil {
		st.Metadata = metadata
	}

	if next := step.Next(); next != step {
		if ns := s.find(next); ns.Status == StatusNotStarted {
			ns.Status = StatusInProgress
		}
	}

	t.persist(ctx, s)
	return s, nil
}

// SkipTo marks every step before target as skipped (unless already completed)
// and activates target, as a single persisted mutation. The import path uses
// it when a pre-computed schedule bypasses the intermediate analysis steps.
func (t *Tracker) SkipTo(ctx context.Context, draftID string, target draft.Step) (*State, error) {
	if !target.Valid() {
		return nil, fmt.Errorf("unknown workflow step %q: %w", target, common.ErrValidation)
	}
	s := t.loadOrNew(ctx, draftID)

	for i := range s.Steps {
		if s.Steps[i].Step == target {
			if s.Steps[i].Status == StatusNotStarted {
				s.Steps[i].Status = StatusInProgress
			}
			break
		}
		if s.Steps[i].Status != StatusCompleted {
			s.Steps[i].Status = StatusSkipped
		}
	}

	t.persist(ctx, s)
	return s, nil
}

// SetProgress records a step's own percentage without changing its status.
func (t *Tracker) SetProgress(ctx context.Context, draftID string, step draft.Step, progress int) (*State, error) {
	if !step.Valid() {
		return nil, fmt.Errorf("unknown workflow step %q: %w", step, common.ErrValidation)
	}
	s := t.loadOrNew(ctx, draftID)
	st := s.find(step)
	if progress > st.Progress {
		st.Progress = progress
	}
	t.persist(ctx, s)
	return s, nil
}

// Delete removes a draft's workflow state locally and remotely.
func (t *Tracker) Delete(ctx context.Context, draftID string) {
	if err := t.local.Remove(ctx, localKeyPrefix+draftID); err != nil {
		t.logger.Warn(ctx, "removing local workflow state failed", "draft_id", draftID, "error", err)
	}
	if t.remote != nil {
		if err := t.remote.Delete(ctx, Collection, draftID); err != nil {
			t.logger.Warn(ctx, "removing remote workflow state failed", "draft_id", draftID, "error", err)
		}
	}
}

func (t *Tracker) persist(ctx context.Context, s *State) {
	s.UpdatedAt = t.clock.Now()

	raw, err := json.Marshal(s)
	if err != nil {
		t.logger.Error(ctx, "encoding workflow state failed", "draft_id", s.DraftID, "error", err)
		return
	}

	if err := t.local.Set(ctx, localKeyPrefix+s.DraftID, raw); err != nil {
		t.logger.Warn(ctx, "persisting workflow state locally failed", "draft_id", s.DraftID, "error", err)
	}

	if t.remote != nil {
		doc := &store.Document{ID: s.DraftID, Data: raw, UpdatedAt: s.UpdatedAt}
		if err := t.remote.Set(ctx, Collection, doc, store.SetOptions{}); err != nil {
			t.logger.Warn(ctx, "persisting workflow state remotely failed", "draft_id", s.DraftID, "error", err)
		}
	}
}
