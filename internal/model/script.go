package model

import "time"

// Script is a declarative workflow, immutable once submitted.
type Script struct {
	Name           string              `json:"name"`
	Description    string              `json:"description"`
	StartingPage   string              `json:"starting_page"`
	AbortOnError   bool                `json:"abort_on_error"`
	Session        SessionRequirements `json:"-"`
	Steps          []Step              `json:"steps"`
}

// ScriptStatus is the aggregate outcome classification of a ScriptResult.
type ScriptStatus string

const (
	ScriptCompleted ScriptStatus = "completed"
	ScriptAborted   ScriptStatus = "aborted"
	ScriptStopped   ScriptStatus = "stopped"
	ScriptError     ScriptStatus = "error"
)

// ScriptResult is the aggregate outcome of one script run.
type ScriptResult struct {
	Status       ScriptStatus       `json:"status"`
	ScriptName   string             `json:"script_name"`
	SessionID    string             `json:"session_id"`
	StepResults  []StepResult       `json:"step_results"`
	StartedAt    time.Time          `json:"started_at"`
	EndedAt      time.Time          `json:"ended_at"`
	Duration     time.Duration      `json:"duration"`
	Artifacts    []Artifact         `json:"artifacts,omitempty"`
	ErrorKind    ErrorKind          `json:"error_kind,omitempty"`
	ErrorMessage string             `json:"error_message,omitempty"`
	Stats        EscalationStats    `json:"escalation_stats"`
}

// EscalationStats are the per-run counters the Progressive Escalation Engine
// accumulates across every step of a script (spec.md §4.3 "Cost accounting").
type EscalationStats struct {
	TotalEscalations  int                      `json:"total_escalations"`
	TierSuccesses     map[int]int              `json:"tier_successes"`
	TotalCost         float64                  `json:"total_cost"`
	TotalVisionCalls  int                      `json:"total_vision_calls"`
}

// NewEscalationStats returns a zero-valued, ready-to-use EscalationStats.
func NewEscalationStats() EscalationStats {
	return EscalationStats{TierSuccesses: make(map[int]int)}
}
