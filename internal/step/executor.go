// Package step implements the Step Executor (spec.md §4.4): it executes one
// Step against a bound driver.Adapter, compiling locator specs, running the
// Progressive Escalation Engine when a step carries an escalation chain, and
// emitting the step_start/step_complete lifecycle events the Script Runner
// and Control Plane observe.
package step

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/streamspace/browser-orchestrator/internal/driver"
	"github.com/streamspace/browser-orchestrator/internal/escalation"
	"github.com/streamspace/browser-orchestrator/internal/logging"
	"github.com/streamspace/browser-orchestrator/internal/metrics"
	"github.com/streamspace/browser-orchestrator/internal/model"
	"github.com/streamspace/browser-orchestrator/internal/profile"
	"github.com/streamspace/browser-orchestrator/internal/vision"
)

const defaultNavigateTimeout = 60 * time.Second

// Event is one lifecycle event the executor emits during a step's run.
type Event struct {
	Type      string // step_start|step_complete|screenshot
	StepIndex int
	Kind      model.StepKind
	Timestamp time.Time
	Result    *model.StepResult
	Artifact  *model.Artifact
}

// Sink receives the events a step execution emits. Implementations must not
// block; the executor calls Sink synchronously on its own goroutine.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a plain function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// ArtifactStore persists a screenshot's bytes and returns the artifact
// record the uploader will later pick up. Supplied by the Session Manager
// so the step package never depends on the artifact package's storage
// layout directly.
type ArtifactStore interface {
	SaveScreenshot(sessionID string, stepIndex int, data []byte) (model.Artifact, error)
}

// Executor runs Steps against one bound driver.Adapter for the lifetime of
// one Session.
type Executor struct {
	adapter     driver.Adapter
	vision      vision.Provider
	escEngine   *escalation.Engine
	artifacts   ArtifactStore
	profiles    *profile.Store
	profileName string
	sessionID   string
	log         zerolog.Logger
}

// New constructs an Executor bound to adapter for sessionID, wiring a fresh
// escalation.Engine around a driverActuator (so cost accounting is scoped
// to exactly one session's run, per spec.md §4.3). profiles/profileName may
// be nil/empty for sessions opened without a Profile Manager binding, in
// which case validate_profile steps fail with ErrConfiguration.
func New(adapter driver.Adapter, vp vision.Provider, artifacts ArtifactStore, profiles *profile.Store, profileName, sessionID string) *Executor {
	if vp == nil {
		vp = vision.StubProvider{}
	}
	return &Executor{
		adapter:     adapter,
		vision:      vp,
		escEngine:   escalation.New(newDriverActuator(adapter, vp)),
		artifacts:   artifacts,
		profiles:    profiles,
		profileName: profileName,
		sessionID:   sessionID,
		log:         logging.Component("step").With().Str("session_id", sessionID).Logger(),
	}
}

// EscalationStats exposes the bound engine's running cost-accounting
// counters, aggregated into the owning ScriptResult at run end.
func (e *Executor) EscalationStats() model.EscalationStats { return e.escEngine.Stats() }

// Execute runs one Step, emitting step_start/step_complete (and any
// screenshot events) to sink, and returns its StepResult. It never panics:
// every StepKind branch that can fail returns a classified model.Error
// instead.
func (e *Executor) Execute(ctx context.Context, st model.Step, execContext map[string]string, sink Sink) model.StepResult {
	started := time.Now()
	if sink != nil {
		sink.Emit(Event{Type: "step_start", StepIndex: st.Index, Kind: st.Kind, Timestamp: started})
	}

	result := model.StepResult{StepIndex: st.Index, Kind: st.Kind, StartedAt: started}
	output, escMeta, err := e.dispatch(ctx, st, execContext)
	result.EndedAt = time.Now()
	result.Escalation = escMeta

	if err != nil {
		result.Status = model.StepError
		if merr, ok := err.(*model.Error); ok {
			result.ErrorKind = merr.Kind
		} else {
			result.ErrorKind = model.ErrInternal
		}
		result.ErrorMessage = err.Error()
		e.log.Warn().Err(err).Int("step_index", st.Index).Str("kind", string(st.Kind)).Msg("step failed")
	} else {
		result.Status = model.StepSuccess
		result.Output = output
	}

	if st.ScreenshotAfter && e.artifacts != nil {
		if art, serr := e.captureScreenshot(ctx, st.Index, ""); serr == nil {
			result.Artifacts = append(result.Artifacts, art)
			if sink != nil {
				sink.Emit(Event{Type: "screenshot", StepIndex: st.Index, Timestamp: time.Now(), Artifact: &art})
			}
		} else {
			e.log.Warn().Err(serr).Int("step_index", st.Index).Msg("screenshot_after capture failed")
		}
	}

	metrics.StepsTotal.WithLabelValues(string(st.Kind), string(result.Status)).Inc()
	if escMeta != nil {
		metrics.EscalationTierUsed.WithLabelValues(strconv.Itoa(escMeta.LevelUsed)).Inc()
		metrics.EscalationCost.Add(escMeta.CostEstimate)
	}

	if sink != nil {
		sink.Emit(Event{Type: "step_complete", StepIndex: st.Index, Kind: st.Kind, Timestamp: result.EndedAt, Result: &result})
	}
	return result
}

func (e *Executor) dispatch(ctx context.Context, st model.Step, execContext map[string]string) (interface{}, *model.EscalationMetadata, error) {
	switch st.Kind {
	case model.StepNavigate:
		return e.doNavigate(ctx, st)
	case model.StepClick:
		return e.doLocated(ctx, st, execContext, func(sel string, nth int) (interface{}, error) {
			return nil, e.adapter.Click(ctx, sel, nth)
		})
	case model.StepFill:
		return e.doLocated(ctx, st, execContext, func(sel string, nth int) (interface{}, error) {
			return nil, e.adapter.Fill(ctx, sel, st.Value, nth)
		})
	case model.StepWait:
		return e.doWait(ctx, st, execContext)
	case model.StepPress:
		return nil, nil, e.adapter.Press(ctx, st.Key)
	case model.StepHover:
		return e.doLocated(ctx, st, execContext, func(sel string, nth int) (interface{}, error) {
			return nil, e.adapter.Hover(ctx, sel, nth)
		})
	case model.StepSelect:
		return e.doLocated(ctx, st, execContext, func(sel string, nth int) (interface{}, error) {
			return nil, e.adapter.SelectOption(ctx, sel, st.Value, nth)
		})
	case model.StepScroll:
		return nil, nil, e.adapter.Scroll(ctx, dxyFromValue(st.Value))
	case model.StepScreenshot:
		return e.doScreenshot(ctx, st)
	case model.StepEvaluate:
		out, err := e.adapter.Evaluate(ctx, st.Script)
		return out, nil, err
	case model.StepExtract:
		return e.doExtract(ctx, st, execContext)
	case model.StepActWithSchema:
		return e.doActWithSchema(ctx, st)
	case model.StepValidateProfile:
		return e.doValidateProfile(ctx, st)
	default:
		return nil, nil, model.NewError(model.ErrInternal, "step.Execute", fmt.Sprintf("unknown step kind %q", st.Kind), nil)
	}
}

func (e *Executor) doNavigate(ctx context.Context, st model.Step) (interface{}, *model.EscalationMetadata, error) {
	wait := driver.WaitDOMContentLoaded
	if st.WaitCondition == string(driver.WaitNetworkIdle) {
		wait = driver.WaitNetworkIdle
	}
	timeout := defaultNavigateTimeout
	if st.TimeoutMS > 0 {
		timeout = time.Duration(st.TimeoutMS) * time.Millisecond
	}
	if err := e.adapter.Navigate(ctx, st.URL, wait, timeout); err != nil {
		return nil, nil, err
	}
	return map[string]string{"current_url": e.adapter.CurrentURL()}, nil, nil
}

// doLocated resolves st's locator or escalation chain and invokes action
// with the compiled selector. If st carries an escalation chain, the engine
// resolves it first (tier "playwright_locator"/"playwright_dom" results
// carry the already-compiled selector in their params); otherwise the
// static locator is compiled directly.
func (e *Executor) doLocated(ctx context.Context, st model.Step, execContext map[string]string, action func(sel string, nth int) (interface{}, error)) (interface{}, *model.EscalationMetadata, error) {
	if len(st.EscalationChain) > 0 {
		meta, err := e.escEngine.Execute(ctx, st.EscalationChain, execContext)
		if err != nil {
			return nil, meta, err
		}
		sel := selectorFromChain(st.EscalationChain, meta.LevelUsed)
		out, err := action(sel, nthOf(st.Locator))
		return out, meta, err
	}
	sel, err := compileLocator(st.Locator)
	if err != nil {
		return nil, nil, model.NewError(model.ErrElementNotFound, "step.doLocated", err.Error(), err)
	}
	out, err := action(sel, nthOf(st.Locator))
	if err != nil {
		return nil, nil, model.NewError(model.ErrElementNotFound, "step.doLocated", "locator resolution failed", err)
	}
	return out, nil, nil
}

// selectorFromChain recovers the "selector" parameter of the tier that
// resolved an escalation chain, so the action can re-resolve the same
// element the engine validated.
func selectorFromChain(chain []model.EscalationTier, level int) string {
	if level < 0 || level >= len(chain) {
		return ""
	}
	if v, ok := chain[level].Parameters["selector"]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func (e *Executor) doWait(ctx context.Context, st model.Step, execContext map[string]string) (interface{}, *model.EscalationMetadata, error) {
	if st.DurationMS > 0 {
		select {
		case <-time.After(time.Duration(st.DurationMS) * time.Millisecond):
			return nil, nil, nil
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}
	timeout := defaultNavigateTimeout
	if st.TimeoutMS > 0 {
		timeout = time.Duration(st.TimeoutMS) * time.Millisecond
	}
	if len(st.EscalationChain) > 0 {
		meta, err := e.escEngine.Execute(ctx, st.EscalationChain, execContext)
		return nil, meta, err
	}
	sel, err := compileLocator(st.Locator)
	if err != nil {
		return nil, nil, model.NewError(model.ErrElementNotFound, "step.doWait", err.Error(), err)
	}
	if err := e.adapter.WaitForSelector(ctx, sel, timeout); err != nil {
		return nil, nil, model.NewError(model.ErrTimeout, "step.doWait", "wait predicate did not hold", err)
	}
	return nil, nil, nil
}

func (e *Executor) doScreenshot(ctx context.Context, st model.Step) (interface{}, *model.EscalationMetadata, error) {
	sel := ""
	if st.Locator != nil {
		compiled, err := compileLocator(st.Locator)
		if err != nil {
			return nil, nil, err
		}
		sel = compiled
	}
	art, err := e.captureScreenshot(ctx, st.Index, sel)
	if err != nil {
		return nil, nil, err
	}
	return art, nil, nil
}

func (e *Executor) captureScreenshot(ctx context.Context, stepIndex int, sel string) (model.Artifact, error) {
	data, err := e.adapter.Screenshot(ctx, sel)
	if err != nil {
		return model.Artifact{}, model.NewError(model.ErrEvaluationFailed, "step.captureScreenshot", "screenshot capture failed", err)
	}
	if e.artifacts == nil {
		return model.Artifact{Kind: model.ArtifactScreenshot, SessionID: e.sessionID, StepIndex: stepIndex, Timestamp: time.Now(), ContentType: "image/png"}, nil
	}
	return e.artifacts.SaveScreenshot(e.sessionID, stepIndex, data)
}

func (e *Executor) doExtract(ctx context.Context, st model.Step, execContext map[string]string) (interface{}, *model.EscalationMetadata, error) {
	var meta *model.EscalationMetadata
	if len(st.EscalationChain) > 0 {
		m, err := e.escEngine.Execute(ctx, st.EscalationChain, execContext)
		if err != nil {
			return nil, m, err
		}
		meta = m
	}
	extracted := make(map[string]interface{}, len(st.ExtractTemplate))
	for field, spec := range st.ExtractTemplate {
		script, ok := spec.(string)
		if !ok {
			extracted[field] = spec
			continue
		}
		val, err := e.adapter.Evaluate(ctx, script)
		if err != nil {
			return nil, meta, model.NewError(model.ErrEvaluationFailed, "step.doExtract", fmt.Sprintf("failed extracting field %q", field), err)
		}
		extracted[field] = val
	}
	return extracted, meta, nil
}

// doActWithSchema runs st.Prompt through the vision provider's Decide and
// returns SchemaValidation when the verdict is negative; the response is not
// checked against st.Schema. No concrete LLM client is wired (see
// internal/vision's doc comment); StubProvider-backed configurations always
// return SchemaValidation.
func (e *Executor) doActWithSchema(ctx context.Context, st model.Step) (interface{}, *model.EscalationMetadata, error) {
	shot, err := e.adapter.Screenshot(ctx, "")
	if err != nil {
		return nil, nil, err
	}
	decision, err := e.vision.Decide(ctx, shot, st.Prompt)
	if err != nil {
		return nil, nil, err
	}
	if !decision.Verdict {
		return nil, nil, model.NewError(model.ErrSchemaValidation, "step.doActWithSchema", "provider did not return a schema-conformant response", nil)
	}
	raw, _ := json.Marshal(decision)
	var out map[string]interface{}
	_ = json.Unmarshal(raw, &out)
	return out, nil, nil
}

func (e *Executor) doValidateProfile(ctx context.Context, st model.Step) (interface{}, *model.EscalationMetadata, error) {
	if e.profiles == nil || e.profileName == "" {
		return nil, nil, model.NewError(model.ErrConfiguration, "step.doValidateProfile", "validate_profile requires a session opened against a named profile", nil)
	}
	mode := st.ValidateMode
	if mode == "" {
		mode = "static"
	}
	var probe profile.RuntimeProbe
	if mode == "runtime" || mode == "both" {
		probe = &adapterRuntimeProbe{adapter: e.adapter, vision: e.vision, ctx: ctx, st: st}
	}
	report, err := e.profiles.Validate(e.profileName, mode, probe)
	if err != nil {
		return nil, nil, err
	}
	return report, nil, nil
}

// adapterRuntimeProbe implements profile.RuntimeProbe over a live
// driver.Adapter, letting the Step Executor's validate_profile step reuse
// the Profile Manager's validation algorithm (spec.md §4.1) against an
// already-open browser context instead of duplicating it.
type adapterRuntimeProbe struct {
	adapter driver.Adapter
	vision  vision.Provider
	ctx     context.Context
	st      model.Step
}

var _ profile.RuntimeProbe = (*adapterRuntimeProbe)(nil)

func (p *adapterRuntimeProbe) UIProbe(prompt string) (bool, error) {
	shot, err := p.adapter.Screenshot(p.ctx, "")
	if err != nil {
		return false, err
	}
	decision, err := p.vision.Decide(p.ctx, shot, prompt)
	if err != nil {
		return false, err
	}
	return decision.Verdict, nil
}

func (p *adapterRuntimeProbe) CookiesPresent(domains, names []string) (bool, []string, error) {
	cookies, err := p.adapter.Cookies(p.ctx, domains)
	if err != nil {
		return false, nil, err
	}
	have := make(map[string]bool, len(cookies))
	for _, c := range cookies {
		have[c.Name] = true
	}
	var missing []string
	for _, n := range names {
		if !have[n] {
			missing = append(missing, n)
		}
	}
	return len(missing) == 0, missing, nil
}

func (p *adapterRuntimeProbe) LocalStorageKeysPresent(keys []string) (map[string]bool, error) {
	out := make(map[string]bool, len(keys))
	for _, k := range keys {
		script := fmt.Sprintf("() => window.localStorage.getItem(%q) !== null", k)
		val, err := p.adapter.Evaluate(p.ctx, script)
		if err != nil {
			return nil, err
		}
		present, _ := val.(bool)
		out[k] = present
	}
	return out, nil
}

// dxyFromValue parses a "dx,dy" scroll step value; malformed values scroll
// by zero in both axes rather than erroring, since scroll is best-effort.
func dxyFromValue(value string) (int, int) {
	var dx, dy int
	fmt.Sscanf(value, "%d,%d", &dx, &dy)
	return dx, dy
}
