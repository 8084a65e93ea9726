package session

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamspace/browser-orchestrator/internal/driver"
	"github.com/streamspace/browser-orchestrator/internal/model"
	"github.com/streamspace/browser-orchestrator/internal/profile"
)

type nopAdapter struct {
	closed         bool
	attachedCDPURL string
	openedPage     string
}

func (a *nopAdapter) Launch(context.Context, driver.LaunchOptions) error { return nil }
func (a *nopAdapter) Attach(_ context.Context, cdpURL string, _ driver.LaunchOptions) error {
	a.attachedCDPURL = cdpURL
	return nil
}
func (a *nopAdapter) OpenPage(_ context.Context, startingURL string) error {
	a.openedPage = startingURL
	return nil
}
func (a *nopAdapter) Navigate(context.Context, string, driver.WaitCondition, time.Duration) error {
	return nil
}
func (a *nopAdapter) Click(context.Context, string, int) error               { return nil }
func (a *nopAdapter) Fill(context.Context, string, string, int) error        { return nil }
func (a *nopAdapter) Type(context.Context, string) error                     { return nil }
func (a *nopAdapter) Press(context.Context, string) error                    { return nil }
func (a *nopAdapter) Hover(context.Context, string, int) error               { return nil }
func (a *nopAdapter) SelectOption(context.Context, string, string, int) error { return nil }
func (a *nopAdapter) Scroll(context.Context, int, int) error                 { return nil }
func (a *nopAdapter) Screenshot(context.Context, string) ([]byte, error)     { return nil, nil }
func (a *nopAdapter) Evaluate(context.Context, string) (interface{}, error)  { return nil, nil }
func (a *nopAdapter) Cookies(context.Context, []string) ([]driver.Cookie, error) { return nil, nil }
func (a *nopAdapter) WaitForSelector(context.Context, string, time.Duration) error { return nil }
func (a *nopAdapter) ElementCount(context.Context, string) (int, error)      { return 0, nil }
func (a *nopAdapter) CurrentURL() string                                     { return "" }
func (a *nopAdapter) Title() string                                          { return "" }
func (a *nopAdapter) OnExit(func(error))                                     {}
func (a *nopAdapter) Close(context.Context) error                            { a.closed = true; return nil }

var _ driver.Adapter = (*nopAdapter)(nil)

func nopFactory(ctx context.Context, opts driver.LaunchOptions, useContainer bool) (driver.Adapter, Teardown, error) {
	return &nopAdapter{}, nil, nil
}

func newTestManager(t *testing.T) (*Manager, *profile.Store) {
	t.Helper()
	dir := t.TempDir()
	store, err := profile.Open(dir)
	require.NoError(t, err)
	return New(store, nopFactory, nil, nil, time.Second), store
}

func TestOpenAndCloseTemporarySession(t *testing.T) {
	m, _ := newTestManager(t)
	sess, err := m.Open(context.Background(), model.SessionOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, sess.ID)
	assert.True(t, sess.Cloned, "temporary profiles are always considered throwaway")

	_, ok := m.Lookup(sess.ID)
	assert.True(t, ok)

	require.NoError(t, m.Close(context.Background(), sess.ID))
	_, ok = m.Lookup(sess.ID)
	assert.False(t, ok)
}

func TestNonClonedSessionAgainstSameProfileIsBusy(t *testing.T) {
	m, store := newTestManager(t)
	_, err := store.Create("shared", "", nil, nil)
	require.NoError(t, err)

	first, err := m.Open(context.Background(), model.SessionOptions{Requirements: model.SessionRequirements{ProfileName: "shared"}})
	require.NoError(t, err)

	_, err = m.Open(context.Background(), model.SessionOptions{Requirements: model.SessionRequirements{ProfileName: "shared"}})
	require.Error(t, err)
	var merr *model.Error
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, model.ErrProfileBusy, merr.Kind)

	require.NoError(t, m.Close(context.Background(), first.ID))

	// After closing, the lock releases and the same profile can be reused.
	second, err := m.Open(context.Background(), model.SessionOptions{Requirements: model.SessionRequirements{ProfileName: "shared"}})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestClonedSessionsAreAlwaysAdmitted(t *testing.T) {
	m, store := newTestManager(t)
	p, err := store.Create("cloneable", "", nil, nil)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(p.UserDataDir+"/marker.txt", []byte("x"), 0o644))

	req := model.SessionRequirements{ProfileName: "cloneable", CloneForParallel: true}
	first, err := m.Open(context.Background(), model.SessionOptions{Requirements: req})
	require.NoError(t, err)
	second, err := m.Open(context.Background(), model.SessionOptions{Requirements: req})
	require.NoError(t, err)

	assert.NotEqual(t, first.UserDataDir, second.UserDataDir)
	assert.NotEqual(t, p.UserDataDir, first.UserDataDir)
}

func TestOpenCallsOpenPageOnTheDriver(t *testing.T) {
	m, _ := newTestManager(t)
	sess, err := m.Open(context.Background(), model.SessionOptions{StartingPage: "about:blank"})
	require.NoError(t, err)
	adapter := sess.driver.(*nopAdapter)
	assert.Equal(t, "about:blank", adapter.openedPage)
}

func TestOpenUsesContainerBackendAndCloseTearsItDown(t *testing.T) {
	dir := t.TempDir()
	store, err := profile.Open(dir)
	require.NoError(t, err)

	var gotUseContainer bool
	var tornDown bool
	factory := func(ctx context.Context, opts driver.LaunchOptions, useContainer bool) (driver.Adapter, Teardown, error) {
		gotUseContainer = useContainer
		adapter := &nopAdapter{}
		if !useContainer {
			return adapter, nil, nil
		}
		if err := adapter.Attach(ctx, "http://127.0.0.1:1234", opts); err != nil {
			return nil, nil, err
		}
		return adapter, func(context.Context) { tornDown = true }, nil
	}

	m := New(store, factory, nil, nil, time.Second)
	m.UseContainerBackend(true)

	sess, err := m.Open(context.Background(), model.SessionOptions{})
	require.NoError(t, err)
	assert.True(t, gotUseContainer)
	assert.Equal(t, "http://127.0.0.1:1234", sess.driver.(*nopAdapter).attachedCDPURL)

	require.NoError(t, m.Close(context.Background(), sess.ID))
	assert.True(t, tornDown, "closing a container-backed session must release its container")
}

func TestShutdownDrainsAllLiveSessions(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.Open(context.Background(), model.SessionOptions{})
	require.NoError(t, err)
	_, err = m.Open(context.Background(), model.SessionOptions{})
	require.NoError(t, err)

	m.Shutdown(context.Background())

	count := 0
	m.ForEachLive(func(*Session) { count++ })
	assert.Equal(t, 0, count)
}
