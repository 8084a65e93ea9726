package model

import "time"

// StepKind enumerates the step kinds the Step Executor understands. It is a
// closed enum dispatched through a table (see internal/step) rather than
// routed by raw string comparisons scattered across the codebase.
type StepKind string

const (
	StepNavigate        StepKind = "navigate"
	StepClick           StepKind = "click"
	StepFill            StepKind = "fill"
	StepWait            StepKind = "wait"
	StepPress           StepKind = "press"
	StepHover           StepKind = "hover"
	StepSelect          StepKind = "select"
	StepScroll          StepKind = "scroll"
	StepScreenshot      StepKind = "screenshot"
	StepEvaluate        StepKind = "evaluate"
	StepExtract         StepKind = "extract"
	StepActWithSchema   StepKind = "act_with_schema"
	StepValidateProfile StepKind = "validate_profile"
)

// LocatorKind enumerates how a Locator finds an element.
type LocatorKind string

const (
	LocatorSelector LocatorKind = "selector"
	LocatorXPath    LocatorKind = "xpath"
	LocatorText     LocatorKind = "text"
	LocatorRole     LocatorKind = "role"
	LocatorID       LocatorKind = "id"
	LocatorClass    LocatorKind = "class"
)

// Locator is the tagged-union locator spec from spec.md §4.4.
type Locator struct {
	Kind  LocatorKind `json:"kind"`
	Value string      `json:"value"`
	Nth   *int        `json:"nth,omitempty"`
}

// EscalationMethod names one rung of the progressive escalation ladder.
type EscalationMethod string

const (
	MethodPlaywrightDOM     EscalationMethod = "playwright_dom"
	MethodPlaywrightLocator EscalationMethod = "playwright_locator"
	MethodVisionDecide      EscalationMethod = "vision_llm"
	MethodVisionLocate      EscalationMethod = "vision_find_element"
)

// EscalationTier is one entry of an escalation chain.
type EscalationTier struct {
	Method              EscalationMethod       `json:"method"`
	Parameters          map[string]interface{} `json:"parameters,omitempty"`
	ConfidenceThreshold float64                `json:"confidence_threshold"`
}

// Step is one immutable unit of work in a Script.
type Step struct {
	Index           int                    `json:"-"`
	Kind            StepKind               `json:"action"`
	Description     string                 `json:"description,omitempty"`
	URL             string                 `json:"url,omitempty"`
	Key             string                 `json:"key,omitempty"`
	Value           string                 `json:"value,omitempty"`
	WaitCondition   string                 `json:"wait_condition,omitempty"`
	TimeoutMS       int                    `json:"timeout_ms,omitempty"`
	DurationMS      int                    `json:"duration_ms,omitempty"`
	Locator         *Locator               `json:"locator,omitempty"`
	EscalationChain []EscalationTier       `json:"escalation_chain,omitempty"`
	Script          string                 `json:"script,omitempty"`
	ExtractTemplate map[string]interface{} `json:"extract_template,omitempty"`
	Prompt          string                 `json:"prompt,omitempty"`
	Schema          map[string]interface{} `json:"schema,omitempty"`
	ValidateMode    string                 `json:"mode,omitempty"`
	UIProbe         string                 `json:"ui_prompt,omitempty"`
	CookieDomains   []string               `json:"cookie_domains,omitempty"`
	CookieNames     []string               `json:"cookie_names,omitempty"`
	LocalStorageKeys []string              `json:"local_storage_keys,omitempty"`
	ScreenshotAfter bool                   `json:"screenshot_after,omitempty"`
	Credentials     map[string]interface{} `json:"credentials,omitempty"`
}

// StepStatus is the outcome classification of a StepResult.
type StepStatus string

const (
	StepSuccess StepStatus = "success"
	StepError   StepStatus = "error"
	StepSkipped StepStatus = "skipped"
)

// StepResult is the outcome of executing one Step.
type StepResult struct {
	StepIndex    int                    `json:"step_index"`
	Kind         StepKind               `json:"kind"`
	Status       StepStatus             `json:"status"`
	StartedAt    time.Time              `json:"started_at"`
	EndedAt      time.Time              `json:"ended_at"`
	Output       interface{}            `json:"output,omitempty"`
	Artifacts    []Artifact             `json:"artifacts,omitempty"`
	ErrorKind    ErrorKind              `json:"error_kind,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Escalation   *EscalationMetadata    `json:"escalation,omitempty"`
}

// EscalationMetadata summarizes the attempts made to resolve a single step
// via the Progressive Escalation Engine, attached to the step's result.
type EscalationMetadata struct {
	LevelUsed      int                  `json:"level_used"`
	MethodName     EscalationMethod     `json:"method_name"`
	CostEstimate   float64              `json:"cost_estimate"`
	CumulativeCost float64              `json:"cumulative_cost"`
	Attempts       []EscalationAttempt  `json:"attempts"`
}

// EscalationAttempt is one rung's outcome, logged per attempt.
type EscalationAttempt struct {
	Method            EscalationMethod `json:"method"`
	ConfidenceThreshold float64        `json:"confidence_threshold"`
	Success           bool             `json:"success"`
	Confidence        float64          `json:"confidence"`
	CostEstimate      float64          `json:"cost_estimate"`
	WallClock         time.Duration    `json:"wall_clock"`
}
