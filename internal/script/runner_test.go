package script

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamspace/browser-orchestrator/internal/model"
	"github.com/streamspace/browser-orchestrator/internal/step"
)

// scriptedExecutor is a fake step.Executor returning a pre-scripted result
// per step index, recording every call made to it.
type scriptedExecutor struct {
	results map[int]model.StepResult
	calls   []int
}

func (s *scriptedExecutor) Execute(_ context.Context, st model.Step, _ map[string]string, _ step.Sink) model.StepResult {
	s.calls = append(s.calls, st.Index)
	if r, ok := s.results[st.Index]; ok {
		r.StepIndex = st.Index
		return r
	}
	return model.StepResult{StepIndex: st.Index, Status: model.StepSuccess}
}

func (s *scriptedExecutor) EscalationStats() model.EscalationStats { return model.NewEscalationStats() }

func TestRunnerCompletesAllStepsOnSuccess(t *testing.T) {
	ex := &scriptedExecutor{results: map[int]model.StepResult{}}
	r := New(ex, "sess-1")

	scr := model.Script{
		Name:  "demo",
		Steps: []model.Step{{Index: 0, Kind: model.StepClick}, {Index: 1, Kind: model.StepFill}},
	}
	result := r.Start(context.Background(), scr, nil, nil)

	require.Equal(t, model.ScriptCompleted, result.Status)
	assert.Len(t, result.StepResults, 2)
}

func TestRunnerAbortsOnErrorWhenAbortOnErrorIsTrue(t *testing.T) {
	ex := &scriptedExecutor{results: map[int]model.StepResult{
		1: {Status: model.StepError, ErrorKind: model.ErrElementNotFound, ErrorMessage: "boom"},
	}}
	r := New(ex, "sess-1")

	scr := model.Script{
		Name:         "demo",
		AbortOnError: true,
		Steps:        []model.Step{{Index: 0, Kind: model.StepClick}, {Index: 1, Kind: model.StepFill}, {Index: 2, Kind: model.StepPress}},
	}
	result := r.Start(context.Background(), scr, nil, nil)

	require.Equal(t, model.ScriptAborted, result.Status)
	assert.Equal(t, model.ErrElementNotFound, result.ErrorKind)
	assert.Len(t, result.StepResults, 2)
	assert.Equal(t, []int{0, 1}, ex.calls)
}

func TestRunnerContinuesOnErrorWhenAbortOnErrorIsFalse(t *testing.T) {
	ex := &scriptedExecutor{results: map[int]model.StepResult{
		1: {Status: model.StepError, ErrorKind: model.ErrElementNotFound},
	}}
	r := New(ex, "sess-1")

	scr := model.Script{
		Name:  "demo",
		Steps: []model.Step{{Index: 0, Kind: model.StepClick}, {Index: 1, Kind: model.StepFill}, {Index: 2, Kind: model.StepPress}},
	}
	result := r.Start(context.Background(), scr, nil, nil)

	require.Equal(t, model.ScriptCompleted, result.Status)
	assert.Len(t, result.StepResults, 3)
}

func TestRunnerStartingPageFailureAborts(t *testing.T) {
	ex := &scriptedExecutor{results: map[int]model.StepResult{
		-1: {Status: model.StepError, ErrorKind: model.ErrNavigationFailed},
	}}
	r := New(ex, "sess-1")

	scr := model.Script{Name: "demo", StartingPage: "https://bad.example", Steps: []model.Step{{Index: 0, Kind: model.StepClick}}}
	result := r.Start(context.Background(), scr, nil, nil)

	require.Equal(t, model.ScriptAborted, result.Status)
	assert.Equal(t, []int{-1}, ex.calls)
}

func TestRunnerRetriesRetryableStepKindOnce(t *testing.T) {
	attempt := 0
	ex := &recordingRetryExecutor{
		fn: func(idx int) model.StepResult {
			attempt++
			if attempt == 1 {
				return model.StepResult{Status: model.StepError, ErrorKind: model.ErrTimeout}
			}
			return model.StepResult{Status: model.StepSuccess}
		},
	}
	r := New(ex, "sess-1")
	scr := model.Script{Name: "demo", Steps: []model.Step{{Index: 0, Kind: model.StepWait}}}
	result := r.Start(context.Background(), scr, nil, nil)

	require.Equal(t, model.ScriptCompleted, result.Status)
	assert.Equal(t, 2, attempt)
}

func TestRunnerNeverRetriesEscalationExhausted(t *testing.T) {
	attempt := 0
	ex := &recordingRetryExecutor{
		fn: func(idx int) model.StepResult {
			attempt++
			return model.StepResult{Status: model.StepError, ErrorKind: model.ErrEscalationExhausted}
		},
	}
	r := New(ex, "sess-1")
	scr := model.Script{Name: "demo", Steps: []model.Step{{Index: 0, Kind: model.StepScreenshot}}}
	r.Start(context.Background(), scr, nil, nil)

	assert.Equal(t, 1, attempt)
}

type recordingRetryExecutor struct {
	fn func(idx int) model.StepResult
}

func (r *recordingRetryExecutor) Execute(_ context.Context, st model.Step, _ map[string]string, _ step.Sink) model.StepResult {
	res := r.fn(st.Index)
	res.StepIndex = st.Index
	return res
}
func (r *recordingRetryExecutor) EscalationStats() model.EscalationStats { return model.NewEscalationStats() }

func TestRunnerStopMidRunSetsStoppedStatus(t *testing.T) {
	var r *Runner
	ex := &recordingRetryExecutor{}
	ex.fn = func(idx int) model.StepResult {
		if idx == 0 {
			r.Stop() // simulates a Stop() call arriving while step 0 is in flight
		}
		return model.StepResult{Status: model.StepSuccess}
	}
	r = New(ex, "sess-1")

	scr := model.Script{Name: "demo", Steps: []model.Step{{Index: 0, Kind: model.StepClick}, {Index: 1, Kind: model.StepFill}}}
	result := r.Start(context.Background(), scr, nil, nil)
	assert.Equal(t, model.ScriptStopped, result.Status)
	assert.Len(t, result.StepResults, 1)
}
