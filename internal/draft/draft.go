// Package draft defines the versioned draft document that the
// synchronization engine keeps consistent across the local cache, the remote
// document store and the offline queue.
package draft

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ridelines/draftsync/internal/schedule"
)

// SyncStatus is the UI-observable synchronization state of a draft. It is
// not authoritative for merge logic.
type SyncStatus string

const (
	StatusSynced   SyncStatus = "synced"
	StatusPending  SyncStatus = "pending"
	StatusConflict SyncStatus = "conflict"
	StatusError    SyncStatus = "error"
)

// Metadata carries the optimistic-concurrency token and merge tie-breakers.
type Metadata struct {
	// Version is the monotonically increasing optimistic-concurrency token.
	// Every successful write increments it by exactly one relative to the
	// version it was based on.
	Version int64 `json:"version"`

	LastModifiedAt   time.Time `json:"lastModifiedAt"`
	LastModifiedStep Step      `json:"lastModifiedStep,omitempty"`

	SyncStatus SyncStatus `json:"syncStatus"`

	// LastConflictResolution is stamped whenever a silent merge occurred, so
	// the UI can surface it.
	LastConflictResolution *time.Time `json:"lastConflictResolution,omitempty"`

	// ConflictResolutionFailed marks a draft persisted by the last-resort
	// optimistic save after all conflict-resolution attempts were exhausted.
	ConflictResolutionFailed bool `json:"conflictResolutionFailed,omitempty"`
}

// ServiceBand groups trips that share similar running times.
type ServiceBand struct {
	Name                 string `json:"name"`
	StartTime            string `json:"startTime"`
	EndTime              string `json:"endTime"`
	TotalTripTimeMinutes int    `json:"totalTripTimeMinutes"`
}

// TimepointsAnalysis is the payload of the timepoints step.
type TimepointsAnalysis struct {
	ServiceBands []ServiceBand `json:"serviceBands,omitempty"`

	// TravelTimes maps "from>to" segment keys to travel minutes.
	TravelTimes map[string]int `json:"travelTimes,omitempty"`

	OutliersRemoved int `json:"outliersRemoved,omitempty"`
}

// BlockConfiguration is the payload of the blocks step.
type BlockConfiguration struct {
	NumberOfBuses           int  `json:"numberOfBuses"`
	CycleTimeMinutes        int  `json:"cycleTimeMinutes"`
	AutomateBlockStartTimes bool `json:"automateBlockStartTimes"`
}

// StepData holds the independently optional, step-specific payloads. Each
// field is a concrete type so merge and repair logic can switch on the known
// step kinds instead of probing untyped maps.
type StepData struct {
	Timepoints *TimepointsAnalysis       `json:"timepoints,omitempty"`
	Blocks     *BlockConfiguration       `json:"blockConfiguration,omitempty"`
	Summary    *schedule.SummarySchedule `json:"summarySchedule,omitempty"`
}

// ValidationResult records the outcome of validating the uploaded file.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// OriginalData is the immutable upload snapshot that seeded the draft.
// Written once at creation; only replaced wholesale (e.g. a rename).
type OriginalData struct {
	FileName   string            `json:"fileName"`
	FileType   string            `json:"fileType,omitempty"`
	UploadedAt time.Time         `json:"uploadedAt"`
	Rows       [][]string        `json:"rows,omitempty"`
	Validation *ValidationResult `json:"validation,omitempty"`
}

// UIState is ephemeral presentation state. It reflects the current device's
// viewing context, so conflict resolution prefers the local copy.
type UIState struct {
	CelebrationsShown []string `json:"celebrationsShown,omitempty"`
	LastViewedStep    Step     `json:"lastViewedStep,omitempty"`
}

// Draft is the unit of synchronization.
type Draft struct {
	ID      string `json:"draftId"`
	OwnerID string `json:"ownerId,omitempty"`
	Name    string `json:"name"`

	CurrentStep Step `json:"currentStep"`

	// Progress is 0–100 and never regresses on the same device.
	Progress int `json:"progress"`

	StepData     StepData     `json:"stepData"`
	OriginalData OriginalData `json:"originalData"`
	UIState      UIState      `json:"uiState"`
	Metadata     Metadata     `json:"metadata"`

	CreatedAt time.Time `json:"createdAt"`
}

// Clone returns a deep copy, so cached drafts cannot be mutated through
// aliased slices or maps.
func (d *Draft) Clone() *Draft {
	if d == nil {
		return nil
	}
	out := *d

	out.StepData = d.StepData.Clone()

	out.OriginalData.Rows = cloneRows(d.OriginalData.Rows)
	if d.OriginalData.Validation != nil {
		v := *d.OriginalData.Validation
		v.Errors = append([]string(nil), d.OriginalData.Validation.Errors...)
		v.Warnings = append([]string(nil), d.OriginalData.Validation.Warnings...)
		out.OriginalData.Validation = &v
	}

	out.UIState.CelebrationsShown = append([]string(nil), d.UIState.CelebrationsShown...)

	if d.Metadata.LastConflictResolution != nil {
		ts := *d.Metadata.LastConflictResolution
		out.Metadata.LastConflictResolution = &ts
	}
	return &out
}

// Clone returns a deep copy of the step payloads.
func (sd StepData) Clone() StepData {
	out := sd
	if sd.Timepoints != nil {
		tp := *sd.Timepoints
		tp.ServiceBands = append([]ServiceBand(nil), sd.Timepoints.ServiceBands...)
		if sd.Timepoints.TravelTimes != nil {
			tp.TravelTimes = make(map[string]int, len(sd.Timepoints.TravelTimes))
			for k, v := range sd.Timepoints.TravelTimes {
				tp.TravelTimes[k] = v
			}
		}
		out.Timepoints = &tp
	}
	if sd.Blocks != nil {
		b := *sd.Blocks
		out.Blocks = &b
	}
	out.Summary = sd.Summary.Clone()
	return out
}

// Apply overlays non-nil payloads from patch onto sd.
func (sd *StepData) Apply(patch StepData) {
	if patch.Timepoints != nil {
		sd.Timepoints = patch.Timepoints
	}
	if patch.Blocks != nil {
		sd.Blocks = patch.Blocks
	}
	if patch.Summary != nil {
		sd.Summary = patch.Summary
	}
}

func cloneRows(rows [][]string) [][]string {
	if rows == nil {
		return nil
	}
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = append([]string(nil), r...)
	}
	return out
}

// Encode serializes the draft as JSON for the document store.
func (d *Draft) Encode() ([]byte, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to encode draft: %w", err)
	}
	return b, nil
}

// Decode deserializes a draft from its JSON document form.
func Decode(data []byte) (*Draft, error) {
	var d Draft
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to decode draft: %w", err)
	}
	return &d, nil
}
