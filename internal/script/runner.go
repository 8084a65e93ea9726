// Package script implements the Script Runner (spec.md §4.5): linear
// execution of a Script's steps against one bound Session, with
// pause/resume/stop control and the abort-on-error policy. Grounded on the
// teacher's session_reconciler.go ctx/cancel loop idiom
// (api/internal/services/session_reconciler.go) and the original
// implementation's execute_script control flow
// (original_source/.../script_executor.py).
package script

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/streamspace/browser-orchestrator/internal/logging"
	"github.com/streamspace/browser-orchestrator/internal/model"
	"github.com/streamspace/browser-orchestrator/internal/step"
)

// retryableSteps names the StepKinds the runner treats as idempotent enough
// to retry once after a transient driver error, per spec.md §4.4's
// "Retries" note ("the Script Runner's concern only for transient driver
// errors it can classify").
var retryableSteps = map[model.StepKind]bool{
	model.StepWait:       true,
	model.StepScreenshot: true,
}

const retryBackoff = 200 * time.Millisecond

// nonRetryableErrorKinds are semantic failures that must never be retried
// even for a StepKind in retryableSteps (spec.md §4.4).
var nonRetryableErrorKinds = map[model.ErrorKind]bool{
	model.ErrEscalationExhausted: true,
	model.ErrSchemaValidation:    true,
}

// Executor is the subset of step.Executor the runner depends on, narrowed
// to ease testing with a fake.
type Executor interface {
	Execute(ctx context.Context, st model.Step, execContext map[string]string, sink step.Sink) model.StepResult
	EscalationStats() model.EscalationStats
}

// Runner drives one Script against one bound Executor.
type Runner struct {
	executor  Executor
	sessionID string
	log       zerolog.Logger

	mu      sync.Mutex
	running bool
	paused  bool
	stopped bool
	resume  chan struct{}
}

// New constructs a Runner for sessionID, bound to executor.
func New(executor Executor, sessionID string) *Runner {
	return &Runner{
		executor:  executor,
		sessionID: sessionID,
		log:       logging.Component("script").With().Str("session_id", sessionID).Logger(),
		resume:    make(chan struct{}),
	}
}

// Pause sets paused=true; the in-flight step completes normally and
// subsequent steps block until Resume or Stop.
func (r *Runner) Pause() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused = true
}

// Resume clears paused, releasing any step blocked on it.
func (r *Runner) Resume() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.paused {
		r.paused = false
		close(r.resume)
		r.resume = make(chan struct{})
	}
}

// Stop marks the run stopped; the in-flight step finishes and the loop exits.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	if r.paused {
		r.paused = false
		close(r.resume)
		r.resume = make(chan struct{})
	}
}

func (r *Runner) isStopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

// waitIfPaused blocks the run loop between steps while paused, honoring
// ctx cancellation and Stop.
func (r *Runner) waitIfPaused(ctx context.Context) {
	for {
		r.mu.Lock()
		if !r.paused || r.stopped {
			r.mu.Unlock()
			return
		}
		ch := r.resume
		r.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return
		}
	}
}

// Start binds the Session to this run and iterates the script's steps,
// honoring the abort-on-error policy and pause/resume/stop control
// (spec.md §4.5).
func (r *Runner) Start(ctx context.Context, scr model.Script, execContext map[string]string, sink step.Sink) (result model.ScriptResult) {
	r.mu.Lock()
	r.running = true
	r.paused = false
	r.stopped = false
	r.mu.Unlock()

	result.ScriptName = scr.Name
	result.SessionID = r.sessionID
	result.StartedAt = time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			// A panic during execution or result aggregation is a runner
			// failure, not a step failure (spec.md §4.5 "Failure model").
			result.Status = model.ScriptError
			result.ErrorKind = model.ErrRunnerCrash
			result.ErrorMessage = fmt.Sprintf("script runner panic: %v", rec)
			r.log.Error().Interface("panic", rec).Msg("script runner crashed")
		}
		result.EndedAt = time.Now()
		result.Duration = result.EndedAt.Sub(result.StartedAt)
		result.Stats = r.executor.EscalationStats()
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	if scr.StartingPage != "" {
		startStep := model.Step{Index: -1, Kind: model.StepNavigate, URL: scr.StartingPage}
		sr := r.executor.Execute(ctx, startStep, execContext, sink)
		if sr.Status == model.StepError {
			result.Status = model.ScriptAborted
			result.ErrorKind = sr.ErrorKind
			result.ErrorMessage = sr.ErrorMessage
			result.StepResults = append(result.StepResults, sr)
			return result
		}
		result.StepResults = append(result.StepResults, sr)
	}

	for _, st := range scr.Steps {
		r.waitIfPaused(ctx)
		if r.isStopped() {
			result.Status = model.ScriptStopped
			return result
		}
		if ctx.Err() != nil {
			result.Status = model.ScriptError
			result.ErrorKind = model.ErrDeadlineExceeded
			result.ErrorMessage = ctx.Err().Error()
			return result
		}

		sr := r.runStepWithRetry(ctx, st, execContext, sink)
		result.StepResults = append(result.StepResults, sr)
		result.Artifacts = append(result.Artifacts, sr.Artifacts...)

		if sr.Status == model.StepError && scr.AbortOnError {
			result.Status = model.ScriptAborted
			result.ErrorKind = sr.ErrorKind
			result.ErrorMessage = sr.ErrorMessage
			return result
		}

		if r.isStopped() {
			result.Status = model.ScriptStopped
			return result
		}
	}

	result.Status = model.ScriptCompleted
	return result
}

// RunOne executes a single step directly against the bound executor,
// applying the same retry policy as a scripted run, outside of Start's
// linear iteration. Used by the Control Plane's execute_step/navigate
// /click/fill/screenshot streaming actions (spec.md §4.7), which operate
// on a live session without a full Script.
func (r *Runner) RunOne(ctx context.Context, st model.Step, execContext map[string]string, sink step.Sink) model.StepResult {
	return r.runStepWithRetry(ctx, st, execContext, sink)
}

// runStepWithRetry executes st once, retrying exactly once after a 200ms
// back-off when st's kind is in retryableSteps and the failure is a
// transient driver error (never for semantic failures such as escalation
// exhaustion or schema mismatch).
func (r *Runner) runStepWithRetry(ctx context.Context, st model.Step, execContext map[string]string, sink step.Sink) model.StepResult {
	sr := r.executor.Execute(ctx, st, execContext, sink)
	if sr.Status != model.StepError || !retryableSteps[st.Kind] || nonRetryableErrorKinds[sr.ErrorKind] {
		return sr
	}

	r.log.Debug().Int("step_index", st.Index).Str("kind", string(st.Kind)).Msg("retrying step after transient failure")
	select {
	case <-time.After(retryBackoff):
	case <-ctx.Done():
		return sr
	}
	return r.executor.Execute(ctx, st, execContext, sink)
}
