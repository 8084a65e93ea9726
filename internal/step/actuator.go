package step

import (
	"context"
	"fmt"
	"strings"

	"github.com/streamspace/browser-orchestrator/internal/driver"
	"github.com/streamspace/browser-orchestrator/internal/escalation"
	"github.com/streamspace/browser-orchestrator/internal/vision"
)

// driverActuator implements escalation.Actuator over a bound driver.Adapter
// and vision.Provider, grounded on the original implementation's four
// concrete tier strategies (original_source/.../progressive_escalation_engine.py):
// DOM inspection (title/URL/selector-exists/evaluate), structural locator
// count, vision decision, and vision element-finder.
type driverActuator struct {
	adapter driver.Adapter
	vision  vision.Provider
}

func newDriverActuator(adapter driver.Adapter, vp vision.Provider) *driverActuator {
	return &driverActuator{adapter: adapter, vision: vp}
}

func paramString(params map[string]interface{}, key string) string {
	if v, ok := params[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// DOMCheck implements tier 0: title/URL/selector-exists/evaluate strategies,
// each with a fixed confidence (0.8-1.0) matching the original's
// check_page_title (0.9), check_url_path (0.85), check_key_elements (0.8)
// and execute_script (1.0, guaranteed success).
func (a *driverActuator) DOMCheck(ctx context.Context, params map[string]interface{}) (escalation.TierResult, error) {
	strategy := paramString(params, "strategy")
	switch strategy {
	case "title":
		want := paramString(params, "contains")
		if want == "" {
			return escalation.TierResult{}, fmt.Errorf("DOMCheck title: missing 'contains' parameter")
		}
		ok := strings.Contains(strings.ToLower(a.adapter.Title()), strings.ToLower(want))
		return escalation.TierResult{Success: ok, Confidence: confidenceIf(ok, 0.9)}, nil

	case "url":
		want := paramString(params, "contains")
		if want == "" {
			return escalation.TierResult{}, fmt.Errorf("DOMCheck url: missing 'contains' parameter")
		}
		ok := strings.Contains(a.adapter.CurrentURL(), want)
		return escalation.TierResult{Success: ok, Confidence: confidenceIf(ok, 0.85)}, nil

	case "selector":
		sel := paramString(params, "selector")
		count, err := a.adapter.ElementCount(ctx, sel)
		if err != nil {
			return escalation.TierResult{}, err
		}
		ok := count > 0
		return escalation.TierResult{Success: ok, Confidence: confidenceIf(ok, 0.8)}, nil

	case "script":
		script := paramString(params, "script")
		result, err := a.adapter.Evaluate(ctx, script)
		if err != nil {
			return escalation.TierResult{}, err
		}
		// execute_script is the guaranteed-success DOM strategy (spec.md P5):
		// it succeeds by definition once the script runs without error.
		return escalation.TierResult{Success: true, Confidence: 1.0, Output: result}, nil

	default:
		return escalation.TierResult{}, fmt.Errorf("DOMCheck: unknown strategy %q", strategy)
	}
}

// LocatorCheck implements tier 1: a structural locator (CSS selector, text
// matcher, or ARIA role, already compiled by compileLocator) with confidence
// 0.95 when at least one match exists.
func (a *driverActuator) LocatorCheck(ctx context.Context, params map[string]interface{}) (escalation.TierResult, error) {
	sel := paramString(params, "selector")
	if sel == "" {
		return escalation.TierResult{}, fmt.Errorf("LocatorCheck: missing 'selector' parameter")
	}
	count, err := a.adapter.ElementCount(ctx, sel)
	if err != nil {
		return escalation.TierResult{}, err
	}
	ok := count > 0
	return escalation.TierResult{Success: ok, Confidence: confidenceIf(ok, 0.95), Output: count}, nil
}

// VisionDecide implements tier 2: a screenshot plus natural-language prompt
// sent to the configured vision provider, returning a model-supplied
// confidence in [0,1].
func (a *driverActuator) VisionDecide(ctx context.Context, params map[string]interface{}) (escalation.TierResult, error) {
	prompt := paramString(params, "prompt")
	shot, err := a.adapter.Screenshot(ctx, "")
	if err != nil {
		return escalation.TierResult{}, err
	}
	decision, err := a.vision.Decide(ctx, shot, prompt)
	if err != nil {
		return escalation.TierResult{}, err
	}
	return escalation.TierResult{Success: decision.Verdict, Confidence: decision.Confidence, Output: decision}, nil
}

// VisionLocate implements tier 3: a vision element-finder preferring
// selector over text over coordinates, per spec.md §4.3.
func (a *driverActuator) VisionLocate(ctx context.Context, params map[string]interface{}) (escalation.TierResult, error) {
	prompt := paramString(params, "prompt")
	shot, err := a.adapter.Screenshot(ctx, "")
	if err != nil {
		return escalation.TierResult{}, err
	}
	hint, err := a.vision.FindElement(ctx, shot, prompt)
	if err != nil {
		return escalation.TierResult{}, err
	}
	success := hint.Selector != "" || hint.Text != "" || (hint.X != 0 || hint.Y != 0)
	return escalation.TierResult{Success: success, Confidence: hint.Confidence, Output: hint}, nil
}

func confidenceIf(ok bool, conf float64) float64 {
	if ok {
		return conf
	}
	return 0
}
