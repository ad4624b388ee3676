package diagnostics

import (
	"time"

	"github.com/google/uuid"

	"github.com/whttlr/cnc-bridge/internal/machine"
)

// StepStatus is the outcome of a single executed step.
type StepStatus string

const (
	StatusPassed   StepStatus = "passed"
	StatusFailed   StepStatus = "failed"
	StatusTimedOut StepStatus = "timed_out"
	StatusSkipped  StepStatus = "skipped"
)

// Overall is the aggregate verdict of a diagnostics run.
type Overall string

const (
	OverallCompleted Overall = "completed"
	OverallPartial   Overall = "partial"
	OverallFailed    Overall = "failed"
)

// EffectCheck verifies that a step had its intended physical effect by
// comparing the snapshots taken before and after execution. A nil return
// means the effect was observed; an error carries the human-readable detail.
type EffectCheck func(before, after *machine.State) error

// Step is one entry of the configured diagnostic sequence. Sequences are
// declared up front and never mutated during a run.
type Step struct {
	Description  string
	Command      string
	Timeout      time.Duration
	Rollback     string
	Fatal        bool
	Check        EffectCheck
	Displacement machine.Position
}

// StepResult records what happened to one step.
type StepResult struct {
	Description string     `json:"description"`
	Command     string     `json:"command,omitempty"`
	Status      StepStatus `json:"status"`
	DurationMs  int64      `json:"duration_ms"`
	Detail      string     `json:"detail,omitempty"`
}

// Report is the immutable outcome of one diagnostics run.
type Report struct {
	ID         uuid.UUID    `json:"id"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Overall    Overall      `json:"overall"`
	Steps      []StepResult `json:"steps"`
}
