package model

import "time"

// SessionOptions configures a new Session at open() time.
type SessionOptions struct {
	Headless       bool
	ProfileName    string
	BrowserChannel string
	Requirements   SessionRequirements
	StartingPage   string
}

// SessionSnapshot is a read-only view of a live Session's state, returned
// by lookups and streamed to observers; it never aliases the live struct's
// mutable fields directly.
type SessionSnapshot struct {
	SessionID        string    `json:"session_id"`
	ProfileName      string    `json:"profile_name,omitempty"`
	UserDataDir      string    `json:"user_data_dir,omitempty"`
	Cloned           bool      `json:"cloned"`
	StartingPage     string    `json:"starting_page"`
	CurrentURL       string    `json:"current_url"`
	Running          bool      `json:"running"`
	Paused           bool      `json:"paused"`
	ActiveStepIndex  int       `json:"active_step_index"`
	CreatedAt        time.Time `json:"created_at"`
	Seq              uint64    `json:"seq"`
}

// ValidationCheck is one named boolean check inside a ValidationReport.
type ValidationCheck struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// ValidationReport is the §4.1 profile validation outcome.
type ValidationReport struct {
	ProfileName     string            `json:"profile_name"`
	Mode            string            `json:"mode"`
	Status          string            `json:"status"` // ok|warn|missing
	PathExists      bool              `json:"path_exists"`
	SizeBytes       int64             `json:"size_bytes"`
	ModifiedAt      *time.Time        `json:"modified_at,omitempty"`
	StaticChecks    []ValidationCheck `json:"static_checks"`
	RuntimeChecks    []ValidationCheck `json:"runtime_checks,omitempty"`
	Recommendations []string          `json:"recommendations,omitempty"`
}
