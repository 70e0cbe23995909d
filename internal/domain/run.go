package domain

import (
	"github.com/google/uuid"
)

// Lifecycle is the coarse state of a discovery run as seen by the controller.
type Lifecycle string

const (
	LifecycleIdle      Lifecycle = "idle"
	LifecycleRunning   Lifecycle = "running"
	LifecyclePaused    Lifecycle = "paused"
	LifecycleCompleted Lifecycle = "completed"
	LifecycleFailed    Lifecycle = "failed"
)

// Stage is a named phase of a running discovery run. The zero value means "no stage".
type Stage string

const (
	StageNone      Stage = ""
	StageSearching Stage = "searching"
	StageVetting   Stage = "vetting"
	StageHero      Stage = "hero"
	StageSaved     Stage = "saved"
)

// Valid reports whether s is one of the known stages.
func (s Stage) Valid() bool {
	switch s {
	case StageSearching, StageVetting, StageHero, StageSaved:
		return true
	}
	return false
}

// RunID identifies one run attempt. IDs are UUIDv7 so they sort by creation time.
type RunID string

// NoRun is the zero RunID.
const NoRun RunID = ""

// NewRunID allocates a fresh time-ordered run identifier.
func NewRunID() (RunID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return NoRun, err
	}
	return RunID(id.String()), nil
}

// Counters is the reconciled counter block shown with the run state.
type Counters struct {
	ItemsFound      int   `json:"itemsFound"`
	TotalSaved      int64 `json:"totalSaved"`
	TotalSkipped    int64 `json:"totalSkipped"`
	TotalDuplicates int64 `json:"totalDuplicates"`
	FrontierSize    int64 `json:"frontierSize"`
}

// RunState is the controller's observable snapshot.
type RunState struct {
	Lifecycle     Lifecycle   `json:"lifecycle"`
	CurrentStage  Stage       `json:"currentStage,omitempty"`
	RunID         RunID       `json:"runId,omitempty"`
	Error         string      `json:"error,omitempty"`
	Counters      Counters    `json:"counters"`
	Metrics       MetricsView `json:"metrics"`
	LastItemTitle string      `json:"lastItemTitle,omitempty"`
	Batch         int         `json:"batch,omitempty"`
	BatchItems    int         `json:"batchItems,omitempty"`
	// ContinuationPending is set while a completed batch waits for the next one.
	ContinuationPending bool `json:"continuationPending,omitempty"`
}

// Terminal reports whether the run has ended on its own.
func (s RunState) Terminal() bool {
	return s.Lifecycle == LifecycleCompleted || s.Lifecycle == LifecycleFailed
}
