// Package escalation implements the Progressive Escalation Engine
// (spec.md §4.3): given an ordered chain of methods from cheapest to most
// expensive, try each in turn and stop at the first whose result meets its
// confidence threshold. Grounded directly on the original Python
// implementation's ProgressiveEscalationEngine
// (original_source/.../progressive_escalation_engine.py), including its
// per-tier try/continue semantics and cost accounting.
package escalation

import (
	"context"
	"regexp"
	"time"

	"github.com/rs/zerolog"

	"github.com/streamspace/browser-orchestrator/internal/logging"
	"github.com/streamspace/browser-orchestrator/internal/model"
)

// TierResult is what one escalation tier reports back to the engine.
type TierResult struct {
	Success    bool
	Confidence float64
	Output     interface{}
}

// Actuator executes one escalation tier against the live browser context.
// The engine dispatches to these by method name (spec.md §9 "Dynamic
// dispatch by string name" reified as a table), keeping the engine itself
// free of any driver dependency.
type Actuator interface {
	DOMCheck(ctx context.Context, params map[string]interface{}) (TierResult, error)
	LocatorCheck(ctx context.Context, params map[string]interface{}) (TierResult, error)
	VisionDecide(ctx context.Context, params map[string]interface{}) (TierResult, error)
	VisionLocate(ctx context.Context, params map[string]interface{}) (TierResult, error)
}

// costEstimate mirrors the original's cost_map for the four tiers this
// spec keeps (the original's extra paid "server_agent" tier is not part of
// the four-tier ladder spec.md §4.3 defines, so it has no counterpart here).
var costEstimate = map[model.EscalationMethod]float64{
	model.MethodPlaywrightDOM:     0,
	model.MethodPlaywrightLocator: 0,
	model.MethodVisionDecide:      0.01,
	model.MethodVisionLocate:      0.02,
}

var contextVarPattern = regexp.MustCompile(`\{\{(\w+)\}\}`)

// Engine is the Progressive Escalation Engine. One Engine is created per
// script run so that its cost-accounting counters (spec.md §4.3 "Cost
// accounting") reflect exactly one ScriptResult.
type Engine struct {
	actuator Actuator
	log      zerolog.Logger
	stats    model.EscalationStats
}

// New constructs an Engine bound to actuator for the duration of one run.
func New(actuator Actuator) *Engine {
	return &Engine{actuator: actuator, log: logging.Component("escalation"), stats: model.NewEscalationStats()}
}

// Stats returns the cost-accounting counters accumulated so far.
func (e *Engine) Stats() model.EscalationStats { return e.stats }

// Execute runs chain against execContext, substituting {{variable}}
// placeholders in every string parameter before each tier runs, and returns
// on the first tier whose result meets its confidence threshold. If every
// tier fails, it returns model.ErrEscalationExhausted.
func (e *Engine) Execute(ctx context.Context, chain []model.EscalationTier, execContext map[string]string) (*model.EscalationMetadata, error) {
	meta := &model.EscalationMetadata{}

	for level, tier := range chain {
		params := substituteContext(tier.Parameters, execContext)
		start := time.Now()

		result, err := e.runTier(ctx, tier.Method, params)
		wall := time.Since(start)
		cost := costEstimate[tier.Method]

		e.stats.TotalEscalations++
		if tier.Method == model.MethodVisionDecide || tier.Method == model.MethodVisionLocate {
			e.stats.TotalVisionCalls++
		}

		attempt := model.EscalationAttempt{
			Method:              tier.Method,
			ConfidenceThreshold: tier.ConfidenceThreshold,
			WallClock:           wall,
			CostEstimate:        cost,
		}

		if err != nil {
			// A tier exception is caught and counts as a tier failure, never
			// a step failure (spec.md §4.3 "Failure semantics").
			e.log.Debug().Err(err).Str("method", string(tier.Method)).Int("level", level).Msg("escalation tier raised an error, continuing")
			attempt.Success = false
			meta.Attempts = append(meta.Attempts, attempt)
			continue
		}

		attempt.Success = result.Success
		attempt.Confidence = result.Confidence
		meta.Attempts = append(meta.Attempts, attempt)

		if result.Success && result.Confidence >= tier.ConfidenceThreshold {
			e.stats.TierSuccesses[level]++
			e.stats.TotalCost += cost
			meta.LevelUsed = level
			meta.MethodName = tier.Method
			meta.CostEstimate = cost
			meta.CumulativeCost = e.stats.TotalCost
			return meta, nil
		}
	}

	return meta, model.NewError(model.ErrEscalationExhausted, "escalation.Execute", "all escalation tiers failed", nil)
}

func (e *Engine) runTier(ctx context.Context, method model.EscalationMethod, params map[string]interface{}) (TierResult, error) {
	switch method {
	case model.MethodPlaywrightDOM:
		return e.actuator.DOMCheck(ctx, params)
	case model.MethodPlaywrightLocator:
		return e.actuator.LocatorCheck(ctx, params)
	case model.MethodVisionDecide:
		return e.actuator.VisionDecide(ctx, params)
	case model.MethodVisionLocate:
		return e.actuator.VisionLocate(ctx, params)
	default:
		return TierResult{}, model.NewError(model.ErrInternal, "escalation.runTier", "unknown escalation method: "+string(method), nil)
	}
}

// substituteContext replaces every {{variable}} placeholder in string
// parameter values with its value from execContext, leaving non-string
// values and unknown variables untouched.
func substituteContext(params map[string]interface{}, execContext map[string]string) map[string]interface{} {
	if params == nil {
		return nil
	}
	out := make(map[string]interface{}, len(params))
	for k, v := range params {
		s, ok := v.(string)
		if !ok {
			out[k] = v
			continue
		}
		out[k] = contextVarPattern.ReplaceAllStringFunc(s, func(match string) string {
			name := contextVarPattern.FindStringSubmatch(match)[1]
			if val, ok := execContext[name]; ok {
				return val
			}
			return match
		})
	}
	return out
}
