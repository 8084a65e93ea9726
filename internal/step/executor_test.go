package step

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamspace/browser-orchestrator/internal/driver"
	"github.com/streamspace/browser-orchestrator/internal/model"
)

// fakeAdapter is a minimal in-memory driver.Adapter double for step tests.
type fakeAdapter struct {
	url          string
	title        string
	elementCount map[string]int
	clicked      []string
	filled       map[string]string
	screenshot   []byte
	evalResult   interface{}
	evalErr      error
	cookies      []driver.Cookie
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{elementCount: map[string]int{}, filled: map[string]string{}}
}

func (f *fakeAdapter) Launch(context.Context, driver.LaunchOptions) error        { return nil }
func (f *fakeAdapter) Attach(context.Context, string, driver.LaunchOptions) error { return nil }
func (f *fakeAdapter) OpenPage(context.Context, string) error                    { return nil }
func (f *fakeAdapter) Navigate(_ context.Context, url string, _ driver.WaitCondition, _ time.Duration) error {
	f.url = url
	return nil
}
func (f *fakeAdapter) Click(_ context.Context, selector string, _ int) error {
	f.clicked = append(f.clicked, selector)
	return nil
}
func (f *fakeAdapter) Fill(_ context.Context, selector, value string, _ int) error {
	f.filled[selector] = value
	return nil
}
func (f *fakeAdapter) Type(context.Context, string) error              { return nil }
func (f *fakeAdapter) Press(context.Context, string) error             { return nil }
func (f *fakeAdapter) Hover(context.Context, string, int) error        { return nil }
func (f *fakeAdapter) SelectOption(context.Context, string, string, int) error { return nil }
func (f *fakeAdapter) Scroll(context.Context, int, int) error          { return nil }
func (f *fakeAdapter) Screenshot(context.Context, string) ([]byte, error) {
	return f.screenshot, nil
}
func (f *fakeAdapter) Evaluate(context.Context, string) (interface{}, error) {
	return f.evalResult, f.evalErr
}
func (f *fakeAdapter) Cookies(context.Context, []string) ([]driver.Cookie, error) {
	return f.cookies, nil
}
func (f *fakeAdapter) WaitForSelector(_ context.Context, selector string, _ time.Duration) error {
	if f.elementCount[selector] > 0 {
		return nil
	}
	return model.NewError(model.ErrTimeout, "fakeAdapter.WaitForSelector", "not found", nil)
}
func (f *fakeAdapter) ElementCount(_ context.Context, selector string) (int, error) {
	return f.elementCount[selector], nil
}
func (f *fakeAdapter) CurrentURL() string      { return f.url }
func (f *fakeAdapter) Title() string           { return f.title }
func (f *fakeAdapter) OnExit(func(error))      {}
func (f *fakeAdapter) Close(context.Context) error { return nil }

var _ driver.Adapter = (*fakeAdapter)(nil)

func TestExecuteNavigateUpdatesCurrentURL(t *testing.T) {
	a := newFakeAdapter()
	ex := New(a, nil, nil, nil, "", "sess-1")

	result := ex.Execute(context.Background(), model.Step{Index: 0, Kind: model.StepNavigate, URL: "https://example.com"}, nil, nil)

	require.Equal(t, model.StepSuccess, result.Status)
	assert.Equal(t, "https://example.com", a.url)
}

func TestExecuteClickWithPlainSelector(t *testing.T) {
	a := newFakeAdapter()
	ex := New(a, nil, nil, nil, "", "sess-1")
	loc := &model.Locator{Kind: model.LocatorSelector, Value: "#submit"}

	result := ex.Execute(context.Background(), model.Step{Index: 1, Kind: model.StepClick, Locator: loc}, nil, nil)

	require.Equal(t, model.StepSuccess, result.Status)
	assert.Equal(t, []string{"#submit"}, a.clicked)
}

func TestExecuteClickMissingLocatorIsElementNotFound(t *testing.T) {
	a := newFakeAdapter()
	ex := New(a, nil, nil, nil, "", "sess-1")

	result := ex.Execute(context.Background(), model.Step{Index: 1, Kind: model.StepClick, Locator: nil}, nil, nil)

	require.Equal(t, model.StepError, result.Status)
	assert.Equal(t, model.ErrElementNotFound, result.ErrorKind)
}

func TestExecuteClickViaEscalationChainUsesResolvedTier(t *testing.T) {
	a := newFakeAdapter()
	a.elementCount["#login-btn"] = 1
	ex := New(a, nil, nil, nil, "", "sess-1")

	st := model.Step{
		Index: 2,
		Kind:  model.StepClick,
		EscalationChain: []model.EscalationTier{
			{Method: model.MethodPlaywrightLocator, Parameters: map[string]interface{}{"selector": "#login-btn"}, ConfidenceThreshold: 0.9},
		},
	}
	result := ex.Execute(context.Background(), st, nil, nil)

	require.Equal(t, model.StepSuccess, result.Status)
	require.NotNil(t, result.Escalation)
	assert.Equal(t, 0, result.Escalation.LevelUsed)
	assert.Equal(t, []string{"#login-btn"}, a.clicked)
}

func TestExecuteEscalationExhaustedSurfacesOnStepResult(t *testing.T) {
	a := newFakeAdapter() // no elements ever match
	ex := New(a, nil, nil, nil, "", "sess-1")

	st := model.Step{
		Index: 2,
		Kind:  model.StepClick,
		EscalationChain: []model.EscalationTier{
			{Method: model.MethodPlaywrightLocator, Parameters: map[string]interface{}{"selector": "#missing"}, ConfidenceThreshold: 0.9},
		},
	}
	result := ex.Execute(context.Background(), st, nil, nil)

	require.Equal(t, model.StepError, result.Status)
	assert.Equal(t, model.ErrEscalationExhausted, result.ErrorKind)
}

func TestExecuteEmitsStepStartAndCompleteEvents(t *testing.T) {
	a := newFakeAdapter()
	ex := New(a, nil, nil, nil, "", "sess-1")

	var events []Event
	sink := SinkFunc(func(e Event) { events = append(events, e) })

	ex.Execute(context.Background(), model.Step{Index: 0, Kind: model.StepNavigate, URL: "https://a.example"}, nil, sink)

	require.Len(t, events, 2)
	assert.Equal(t, "step_start", events[0].Type)
	assert.Equal(t, "step_complete", events[1].Type)
	require.NotNil(t, events[1].Result)
	assert.Equal(t, model.StepSuccess, events[1].Result.Status)
}

func TestExecuteScreenshotAfterEmitsArtifactEvent(t *testing.T) {
	a := newFakeAdapter()
	a.screenshot = []byte{0x89, 'P', 'N', 'G'}
	store := &recordingArtifactStore{}
	ex := New(a, nil, store, nil, "", "sess-1")

	var events []Event
	sink := SinkFunc(func(e Event) { events = append(events, e) })
	ex.Execute(context.Background(), model.Step{Index: 0, Kind: model.StepNavigate, URL: "https://a.example", ScreenshotAfter: true}, nil, sink)

	require.Len(t, store.saved, 1)
	found := false
	for _, e := range events {
		if e.Type == "screenshot" {
			found = true
		}
	}
	assert.True(t, found, "expected a screenshot event to be emitted")
}

type recordingArtifactStore struct {
	saved [][]byte
}

func (r *recordingArtifactStore) SaveScreenshot(sessionID string, stepIndex int, data []byte) (model.Artifact, error) {
	r.saved = append(r.saved, data)
	return model.Artifact{SessionID: sessionID, StepIndex: stepIndex, Kind: model.ArtifactScreenshot}, nil
}

func TestExecuteExtractRunsTemplateScripts(t *testing.T) {
	a := newFakeAdapter()
	a.evalResult = "hello"
	ex := New(a, nil, nil, nil, "", "sess-1")

	result := ex.Execute(context.Background(), model.Step{
		Index: 0, Kind: model.StepExtract,
		ExtractTemplate: map[string]interface{}{"greeting": "() => document.title"},
	}, nil, nil)

	require.Equal(t, model.StepSuccess, result.Status)
	out, ok := result.Output.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "hello", out["greeting"])
}

func TestExecuteValidateProfileWithoutStoreIsConfigurationError(t *testing.T) {
	a := newFakeAdapter()
	ex := New(a, nil, nil, nil, "", "sess-1")

	result := ex.Execute(context.Background(), model.Step{Index: 0, Kind: model.StepValidateProfile}, nil, nil)

	require.Equal(t, model.StepError, result.Status)
	assert.Equal(t, model.ErrConfiguration, result.ErrorKind)
}
