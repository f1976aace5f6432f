// Package conflict implements the deterministic, field-level merge of two
// divergent copies of a draft: the caller's local pending state and the
// authoritative remote copy. It is not a general CRDT — it reconciles
// exactly two versions using per-field heuristics.
package conflict

import (
	"context"

	"github.com/ridelines/draftsync/internal/clock"
	"github.com/ridelines/draftsync/internal/draft"
	"github.com/ridelines/draftsync/internal/logging"
)

// Resolver merges divergent drafts. All branching depends only on the two
// inputs (including their own timestamps); the clock is used solely to stamp
// the resolution time on the result.
type Resolver struct {
	logger logging.Logger
	clock  clock.Clock
}

func NewResolver(logger logging.Logger, clk clock.Clock) *Resolver {
	if logger == nil {
		logger = logging.Nop{}
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Resolver{logger: logger, clock: clk}
}

// Merge produces the merged draft from local (the caller's in-memory state)
// and remote (the authoritative latest). Field rules:
//
//   - uiState: local wins; celebration lists are unioned.
//   - progress: max of the two sides.
//   - currentStep: the step further along the canonical order wins.
//   - stepData payloads: one-sided values are taken as-is; when both sides
//     have a payload, the side with the more recent top-level
//     lastModifiedAt wins (decided once per merge, not per field).
//   - originalData: remote wins unconditionally.
//   - version: left for the caller to assign per the writer protocol.
//
// The result is marked with syncStatus=conflict and a resolution timestamp
// so the UI can surface that a silent merge occurred.
func (r *Resolver) Merge(ctx context.Context, local, remote *draft.Draft) *draft.Draft {
	merged := local.Clone()

	// localNewer is the single per-merge recency decision used for every
	// two-sided stepData payload. Ties go to local: the device asking to
	// save is the one holding unsynced work.
	localNewer := !local.Metadata.LastModifiedAt.Before(remote.Metadata.LastModifiedAt)

	merged.CurrentStep = draft.Later(local.CurrentStep, remote.CurrentStep)

	if remote.Progress > merged.Progress {
		merged.Progress = remote.Progress
	}

	merged.StepData.Timepoints = pick(local.StepData.Timepoints, remote.StepData.Timepoints, localNewer)
	merged.StepData.Blocks = pick(local.StepData.Blocks, remote.StepData.Blocks, localNewer)
	merged.StepData.Summary = pick(local.StepData.Summary, remote.StepData.Summary, localNewer)
	merged.StepData = merged.StepData.Clone()

	merged.OriginalData = remote.Clone().OriginalData

	merged.UIState.CelebrationsShown = unionStrings(
		local.UIState.CelebrationsShown, remote.UIState.CelebrationsShown)

	if remote.Metadata.LastModifiedAt.After(merged.Metadata.LastModifiedAt) {
		merged.Metadata.LastModifiedAt = remote.Metadata.LastModifiedAt
		merged.Metadata.LastModifiedStep = remote.Metadata.LastModifiedStep
	}

	merged.Metadata.SyncStatus = draft.StatusConflict
	now := r.clock.Now()
	merged.Metadata.LastConflictResolution = &now

	r.logger.Debug(ctx, "merged divergent draft copies",
		"draft_id", local.ID,
		"local_version", local.Metadata.Version,
		"remote_version", remote.Metadata.Version,
		"local_newer", localNewer,
		"current_step", merged.CurrentStep)

	return merged
}

// pick resolves one independently-optional payload: a one-sided value wins
// outright, a two-sided value goes to the more recently modified draft.
func pick[T any](local, remote *T, localNewer bool) *T {
	switch {
	case local == nil:
		return remote
	case remote == nil:
		return local
	case localNewer:
		return local
	default:
		return remote
	}
}

// unionStrings keeps local order and appends remote-only entries in remote
// order, so the result is deterministic for a given input pair.
func unionStrings(local, remote []string) []string {
	if len(local) == 0 && len(remote) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(local))
	out := make([]string, 0, len(local)+len(remote))
	for _, s := range local {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range remote {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
