package controlplane

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/streamspace/browser-orchestrator/internal/model"
	"github.com/streamspace/browser-orchestrator/internal/session"
	"github.com/streamspace/browser-orchestrator/internal/step"
)

// dispatch executes one Inbound streaming action against sess (nil for
// start_session/ping, which don't need an existing session) and emits the
// resulting event(s) onto the hub. It mirrors spec.md §4.7's ingress-action
// table: every recognized action ends in exactly one primary event, plus
// whatever step_start/step_complete/screenshot events a script run emits
// along the way.
func (srv *Server) dispatch(ctx context.Context, sess *session.Session, in Inbound) {
	sessionID := in.SessionID
	switch in.Action {
	case ActionPing:
		srv.emit(sessionID, EventPong, nil)

	case ActionStartSession:
		opts := model.SessionOptions{}
		_ = decodeFields(in.Fields, &opts)
		newSess, err := srv.sessions.Open(ctx, opts)
		if err != nil {
			srv.emitError(sessionID, err.Error())
			return
		}
		srv.emit(newSess.ID, EventSessionStarted, newSess.Snapshot())

	case ActionCloseSession:
		if sess == nil {
			srv.emitError(sessionID, "unknown session")
			return
		}
		if err := srv.sessions.Close(ctx, sessionID); err != nil {
			srv.emitError(sessionID, err.Error())
			return
		}
		srv.emit(sessionID, EventSessionClosed, nil)

	case ActionNavigate:
		srv.runSingleStep(ctx, sess, sessionID, model.StepNavigate, in.Fields, EventNavigateComplete)

	case ActionClick:
		srv.runSingleStep(ctx, sess, sessionID, model.StepClick, in.Fields, EventClickComplete)

	case ActionFill:
		srv.runSingleStep(ctx, sess, sessionID, model.StepFill, in.Fields, EventFillComplete)

	case ActionScreenshot:
		srv.runSingleStep(ctx, sess, sessionID, model.StepScreenshot, in.Fields, EventScreenshot)

	case ActionGetPageInfo:
		if sess == nil {
			srv.emitError(sessionID, "unknown session")
			return
		}
		snap := sess.Snapshot()
		srv.emit(sessionID, EventPageInfo, snap)

	case ActionExecuteStep:
		if sess == nil {
			srv.emitError(sessionID, "unknown session")
			return
		}
		var st model.Step
		if err := decodeFields(in.Fields, &st); err != nil {
			srv.emitError(sessionID, err.Error())
			return
		}
		st.Credentials = srv.injectedCredentials(in.Fields, st.Credentials)
		result := sess.Runner().RunOne(ctx, st, nil, srv.sinkFor(sessionID))
		srv.emit(sessionID, EventStepComplete, result)

	case ActionExecuteScript:
		if sess == nil {
			srv.emitError(sessionID, "unknown session")
			return
		}
		var scr model.Script
		if err := decodeFields(in.Fields, &scr); err != nil {
			srv.emitError(sessionID, err.Error())
			return
		}
		for i := range scr.Steps {
			scr.Steps[i].Credentials = srv.injectedCredentials(in.Fields, scr.Steps[i].Credentials)
		}
		srv.emit(sessionID, EventScriptStarted, scr.Name)
		go func() {
			result := sess.Run(ctx, scr, nil, srv.sinkFor(sessionID))
			switch result.Status {
			case model.ScriptAborted:
				srv.emit(sessionID, EventScriptError, result)
			case model.ScriptStopped:
				srv.emit(sessionID, EventScriptStopped, result)
			case model.ScriptError:
				srv.emit(sessionID, EventScriptError, result)
			default:
				srv.emit(sessionID, EventScriptComplete, result)
			}
		}()

	case ActionPauseScript:
		if sess == nil {
			srv.emitError(sessionID, "unknown session")
			return
		}
		sess.Runner().Pause()
		srv.emit(sessionID, EventScriptPaused, nil)

	case ActionResumeScript:
		if sess == nil {
			srv.emitError(sessionID, "unknown session")
			return
		}
		sess.Runner().Resume()
		srv.emit(sessionID, EventScriptResumed, nil)

	case ActionStopScript:
		if sess == nil {
			srv.emitError(sessionID, "unknown session")
			return
		}
		sess.Runner().Stop()
		srv.emit(sessionID, EventScriptStopped, nil)

	case ActionStartRecording:
		srv.emit(sessionID, EventRecordingStatus, map[string]string{"status": "started"})

	case ActionStopRecording:
		srv.emit(sessionID, EventRecordingComplete, map[string]string{"status": "stopped"})

	default:
		srv.emitError(sessionID, fmt.Sprintf("unknown action %q", in.Action))
	}
}

// runSingleStep builds a one-off Step of kind from fields, runs it directly
// against the session's Runner, and emits the result under eventType.
func (srv *Server) runSingleStep(ctx context.Context, sess *session.Session, sessionID string, kind model.StepKind, fields map[string]interface{}, eventType string) {
	if sess == nil {
		srv.emitError(sessionID, "unknown session")
		return
	}
	var st model.Step
	if err := decodeFields(fields, &st); err != nil {
		srv.emitError(sess.ID, err.Error())
		return
	}
	st.Kind = kind
	result := sess.Runner().RunOne(ctx, st, nil, srv.sinkFor(sess.ID))
	srv.emit(sess.ID, eventType, result)
}

// sinkFor adapts the hub's Emit into a step.Sink bound to one session, so
// step_start/step_complete/screenshot events stream out as the Runner
// executes rather than only after it finishes.
func (srv *Server) sinkFor(sessionID string) step.Sink {
	return step.SinkFunc(func(ev step.Event) {
		switch ev.Type {
		case "step_start":
			srv.emit(sessionID, EventStepStart, ev)
		case "step_complete":
			srv.emit(sessionID, EventStepComplete, ev)
		case "screenshot":
			srv.emit(sessionID, EventScreenshot, screenshotPayload(ev))
		default:
			srv.emit(sessionID, ev.Type, ev)
		}
	})
}

func screenshotPayload(ev step.Event) map[string]interface{} {
	payload := map[string]interface{}{"step_index": ev.StepIndex}
	if ev.Artifact != nil {
		payload["handle"] = ev.Artifact.Handle
		payload["destination_uri"] = ev.Artifact.DestinationURI
	}
	return payload
}

// injectedCredentials merges credential-injection results for a step whose
// raw fields name a "tool" (spec.md §4.7 "Credential injection").
func (srv *Server) injectedCredentials(fields map[string]interface{}, existing map[string]interface{}) map[string]interface{} {
	tool, _ := fields["tool"].(string)
	if tool == "" {
		return existing
	}
	merged := injectCredentials(srv.secrets, tool, map[string]interface{}{})
	creds, _ := merged["credentials"].(map[string]interface{})
	if creds == nil {
		return existing
	}
	if existing == nil {
		return creds
	}
	for k, v := range creds {
		existing[k] = v
	}
	return existing
}

// decodeFields round-trips fields through JSON into dst, relying on dst's
// json struct tags (the same ones the REST API and model package use) to
// pick out whichever properties the action needs.
func decodeFields(fields map[string]interface{}, dst interface{}) error {
	raw, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}
