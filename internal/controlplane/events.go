// Package controlplane implements the Control Plane (spec.md §4.7): a REST
// surface (gin, grounded on the teacher's api/internal/handlers package)
// plus a streaming hub-and-spoke WebSocket channel (gorilla/websocket,
// grounded directly on the teacher's websocket_enterprise.go), routing
// requests to the Session Manager / Script Runner and applying
// credential-injection and backpressure policy.
package controlplane

import (
	"encoding/json"
	"time"
)

// Envelope is one server->client streaming-channel message (spec.md §6
// "Streaming channel message schema"): every message carries type,
// session_id, and a per-session monotonic seq.
type Envelope struct {
	Type      string      `json:"type"`
	SessionID string      `json:"session_id"`
	Seq       uint64      `json:"seq"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// Inbound is one client->server streaming-channel message. Fields holds
// every JSON property besides action/session_id, so a single inbound
// payload can carry whatever a given action needs (a URL for navigate, a
// locator for click, a whole step for execute_step) without one bloated
// struct covering every action's parameters.
type Inbound struct {
	Action    string
	SessionID string
	Fields    map[string]interface{}
}

// UnmarshalJSON splits the raw message into the well-known action/
// session_id pair plus a Fields bag holding everything else.
func (in *Inbound) UnmarshalJSON(data []byte) error {
	raw := map[string]interface{}{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw["action"].(string); ok {
		in.Action = v
	}
	delete(raw, "action")
	if v, ok := raw["session_id"].(string); ok {
		in.SessionID = v
	}
	delete(raw, "session_id")
	in.Fields = raw
	return nil
}

// Event type constants, spec.md §4.7 "Event types emitted".
const (
	EventSessionStarted   = "session_started"
	EventNavigateComplete = "navigate_complete"
	EventClickComplete    = "click_complete"
	EventFillComplete     = "fill_complete"
	EventScreenshot       = "screenshot"
	EventRecordingStatus  = "recording_status"
	EventRecordingComplete = "recording_complete"
	EventPageInfo         = "page_info"
	EventSessionClosed    = "session_closed"
	EventPong             = "pong"
	EventScriptStarted    = "script_started"
	EventStepStart        = "step_start"
	EventStepComplete     = "step_complete"
	EventScriptComplete   = "script_complete"
	EventScriptPaused     = "script_paused"
	EventScriptResumed    = "script_resumed"
	EventScriptStopped    = "script_stopped"
	EventScriptError      = "script_error"
	EventError            = "error"
)

// Action name constants, spec.md §4.7 "Ingress surfaces".
const (
	ActionStartSession    = "start_session"
	ActionNavigate        = "navigate"
	ActionClick           = "click"
	ActionFill            = "fill"
	ActionScreenshot      = "screenshot"
	ActionStartRecording  = "start_recording"
	ActionStopRecording   = "stop_recording"
	ActionGetPageInfo     = "get_page_info"
	ActionCloseSession    = "close_session"
	ActionExecuteScript   = "execute_script"
	ActionExecuteStep     = "execute_step"
	ActionPauseScript     = "pause_script"
	ActionResumeScript    = "resume_script"
	ActionStopScript      = "stop_script"
	ActionPing            = "ping"
)
