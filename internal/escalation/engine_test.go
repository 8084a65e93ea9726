package escalation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamspace/browser-orchestrator/internal/model"
)

type stubActuator struct {
	dom     func(map[string]interface{}) (TierResult, error)
	locator func(map[string]interface{}) (TierResult, error)
	decide  func(map[string]interface{}) (TierResult, error)
	locate  func(map[string]interface{}) (TierResult, error)
}

func (s *stubActuator) DOMCheck(_ context.Context, p map[string]interface{}) (TierResult, error) {
	if s.dom == nil {
		return TierResult{}, nil
	}
	return s.dom(p)
}
func (s *stubActuator) LocatorCheck(_ context.Context, p map[string]interface{}) (TierResult, error) {
	if s.locator == nil {
		return TierResult{}, nil
	}
	return s.locator(p)
}
func (s *stubActuator) VisionDecide(_ context.Context, p map[string]interface{}) (TierResult, error) {
	if s.decide == nil {
		return TierResult{}, nil
	}
	return s.decide(p)
}
func (s *stubActuator) VisionLocate(_ context.Context, p map[string]interface{}) (TierResult, error) {
	if s.locate == nil {
		return TierResult{}, nil
	}
	return s.locate(p)
}

// TestEscalationShortCircuitsAtLocatorTier implements scenario S3: a click
// step whose target exists in the DOM resolves at tier 1 without any vision
// calls and at zero cost.
func TestEscalationShortCircuitsAtLocatorTier(t *testing.T) {
	actuator := &stubActuator{
		locator: func(map[string]interface{}) (TierResult, error) {
			return TierResult{Success: true, Confidence: 0.95}, nil
		},
		locate: func(map[string]interface{}) (TierResult, error) {
			t.Fatal("vision tier should never run once the locator tier succeeds")
			return TierResult{}, nil
		},
	}
	e := New(actuator)

	chain := []model.EscalationTier{
		{Method: model.MethodPlaywrightLocator, Parameters: map[string]interface{}{"selector": "#submit"}, ConfidenceThreshold: 0.9},
		{Method: model.MethodVisionLocate, Parameters: map[string]interface{}{"prompt": "the submit button"}, ConfidenceThreshold: 0.7},
	}

	meta, err := e.Execute(context.Background(), chain, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, meta.LevelUsed)
	assert.Equal(t, model.MethodPlaywrightLocator, meta.MethodName)
	assert.Equal(t, 0.0, meta.CostEstimate)
	assert.Equal(t, 0, e.Stats().TotalVisionCalls)
}

func TestEscalationFallsThroughToVisionAndExhausts(t *testing.T) {
	actuator := &stubActuator{
		dom: func(map[string]interface{}) (TierResult, error) {
			return TierResult{Success: false}, nil
		},
		decide: func(map[string]interface{}) (TierResult, error) {
			return TierResult{Success: true, Confidence: 0.4}, nil // below threshold
		},
	}
	e := New(actuator)
	chain := []model.EscalationTier{
		{Method: model.MethodPlaywrightDOM, ConfidenceThreshold: 0.8},
		{Method: model.MethodVisionDecide, ConfidenceThreshold: 0.7},
	}

	_, err := e.Execute(context.Background(), chain, nil)
	require.Error(t, err)
	var merr *model.Error
	require.True(t, errors.As(err, &merr))
	assert.Equal(t, model.ErrEscalationExhausted, merr.Kind)
	assert.Equal(t, 1, e.Stats().TotalVisionCalls)
}

func TestTierErrorCountsAsFailureNotStepFailure(t *testing.T) {
	actuator := &stubActuator{
		dom: func(map[string]interface{}) (TierResult, error) {
			return TierResult{}, errors.New("boom")
		},
		locator: func(map[string]interface{}) (TierResult, error) {
			return TierResult{Success: true, Confidence: 1.0}, nil
		},
	}
	e := New(actuator)
	chain := []model.EscalationTier{
		{Method: model.MethodPlaywrightDOM, ConfidenceThreshold: 0.8},
		{Method: model.MethodPlaywrightLocator, ConfidenceThreshold: 0.9},
	}

	meta, err := e.Execute(context.Background(), chain, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, meta.LevelUsed)
	assert.Len(t, meta.Attempts, 2)
	assert.False(t, meta.Attempts[0].Success)
}

func TestContextInterpolation(t *testing.T) {
	var seen string
	actuator := &stubActuator{
		locator: func(p map[string]interface{}) (TierResult, error) {
			seen = p["selector"].(string)
			return TierResult{Success: true, Confidence: 1.0}, nil
		},
	}
	e := New(actuator)
	chain := []model.EscalationTier{
		{Method: model.MethodPlaywrightLocator, Parameters: map[string]interface{}{"selector": "#{{field_id}}"}, ConfidenceThreshold: 0.9},
	}
	_, err := e.Execute(context.Background(), chain, map[string]string{"field_id": "email"})
	require.NoError(t, err)
	assert.Equal(t, "#email", seen)
}
