// Package session implements the Session Manager (spec.md §4.6): it owns
// the session-id -> {Script Runner, Session} mapping, serializes control
// commands per session, and enforces the advisory profile-directory lock
// that keeps two non-cloned sessions from sharing one user-data directory.
// Grounded on the teacher's session_reconciler.go ctx/cancel idiom
// (api/internal/services/session_reconciler.go) and
// docker-controller/cmd/main.go's signal-driven graceful shutdown.
package session

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/streamspace/browser-orchestrator/internal/driver"
	"github.com/streamspace/browser-orchestrator/internal/logging"
	"github.com/streamspace/browser-orchestrator/internal/metrics"
	"github.com/streamspace/browser-orchestrator/internal/model"
	"github.com/streamspace/browser-orchestrator/internal/profile"
	"github.com/streamspace/browser-orchestrator/internal/script"
	"github.com/streamspace/browser-orchestrator/internal/step"
	"github.com/streamspace/browser-orchestrator/internal/vision"
)

// DriverFactory builds the Browser Driver Adapter backend for a new
// session. Supplied by the process entrypoint so the session package
// never chooses between the go-rod and containerized backends itself.
// useContainer is Manager's own backend selection (spec.md §3's "local
// launch or attach to a remote CDP endpoint"), not a per-call choice.
// The returned Teardown releases any backend resource beyond the
// Adapter's own Close (e.g. stopping a container); it may be nil.
type DriverFactory func(ctx context.Context, opts driver.LaunchOptions, useContainer bool) (driver.Adapter, Teardown, error)

// Teardown releases driver-backend resources that outlive the Adapter
// itself once Close has run. A nil Teardown means there's nothing extra
// to release (the local go-rod backend has no such resource).
type Teardown func(ctx context.Context)

// Session is one live browser automation session: its driver handle, the
// Script Runner bound to it, and the profile it was opened against.
type Session struct {
	ID           string
	ProfileName  string
	UserDataDir  string
	Cloned       bool
	CreatedAt    time.Time
	StartingPage string

	driver   driver.Adapter
	teardown Teardown
	runner   *script.Runner
	mu       sync.Mutex // guards running and seq
	running  bool
	seq      uint64
}

// Snapshot returns a read-only view of the session's current state.
func (s *Session) Snapshot() model.SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.SessionSnapshot{
		SessionID:    s.ID,
		ProfileName:  s.ProfileName,
		UserDataDir:  s.UserDataDir,
		Cloned:       s.Cloned,
		StartingPage: s.StartingPage,
		CurrentURL:   s.driver.CurrentURL(),
		Running:      s.running,
		CreatedAt:    s.CreatedAt,
		Seq:          s.seq,
	}
}

// Runner exposes the bound Script Runner so callers can issue start/pause
// /resume/stop; each pause/resume/stop state change is made under the
// Runner's own lock (spec.md §4.6 "Concurrency").
func (s *Session) Runner() *script.Runner { return s.runner }

// Run starts scr on this session and marks it running until the script
// returns. It does not wait for or reject a Run already in progress on the
// same session.
func (s *Session) Run(ctx context.Context, scr model.Script, execContext map[string]string, sink step.Sink) model.ScriptResult {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.seq++
		s.mu.Unlock()
	}()
	return s.runner.Start(ctx, scr, execContext, sink)
}

// Manager owns every live Session and the advisory profile-directory lock.
type Manager struct {
	profiles      *profile.Store
	driverFactory DriverFactory
	vision        vision.Provider
	artifacts     step.ArtifactStore
	drainDeadline time.Duration
	useContainer  bool
	log           zerolog.Logger

	mu          sync.RWMutex
	sessions    map[string]*Session
	profileLock map[string]string // user-data-dir -> holding session id
	locker      profileLocker
}

// New constructs a Manager. drainDeadline is the graceful-shutdown budget
// per live session (default 30s per spec.md §4.6 if zero is passed).
func New(profiles *profile.Store, factory DriverFactory, vp vision.Provider, artifacts step.ArtifactStore, drainDeadline time.Duration) *Manager {
	if drainDeadline <= 0 {
		drainDeadline = 30 * time.Second
	}
	m := &Manager{
		profiles:      profiles,
		driverFactory: factory,
		vision:        vp,
		artifacts:     artifacts,
		drainDeadline: drainDeadline,
		log:           logging.Component("session"),
		sessions:      make(map[string]*Session),
		profileLock:   make(map[string]string),
	}
	m.locker = localLocker{mgr: m}
	return m
}

// UseDistributedLocker swaps the profile-exclusivity lock for a Redis-backed
// one, so the advisory lock holds across multiple orchestratord replicas
// sharing one profiles_root (spec.md §5, generalized per SPEC_FULL.md's
// redis_addr option). Call once at startup, before any session is opened.
func (m *Manager) UseDistributedLocker(locker profileLocker) {
	m.locker = locker
}

// UseContainerBackend selects whether newly opened sessions launch a local
// go-rod browser process or attach to a headless-Chromium container
// (driver_backend=container). Call once at startup before any session is
// opened; the process entrypoint derives use from cfg.DriverBackend.
func (m *Manager) UseContainerBackend(use bool) {
	m.useContainer = use
}

// Open resolves opts' profile, acquires the exclusivity lock for non-cloned
// persistent profiles, launches a driver, and registers the new Session.
func (m *Manager) Open(ctx context.Context, opts model.SessionOptions) (*Session, error) {
	resolved, err := m.profiles.Resolve(opts.Requirements)
	if err != nil {
		return nil, err
	}

	userDataDir := resolved.TempUserDir
	profileName := ""
	cloned := resolved.Clone || resolved.Temporary
	if resolved.Profile != nil {
		profileName = resolved.Profile.Name
		userDataDir = resolved.Profile.UserDataDir
		if resolved.Clone {
			cloneDir, err := cloneUserDataDir(userDataDir)
			if err != nil {
				return nil, model.NewError(model.ErrUserDataDirUnwritable, "session.Open", "failed to clone user-data dir", err)
			}
			userDataDir = cloneDir
			cloned = true
		}
	}

	sessionID := uuid.New().String()

	if !cloned && userDataDir != "" {
		if err := m.locker.acquire(ctx, userDataDir, sessionID); err != nil {
			return nil, err
		}
	}

	headless := opts.Headless
	if opts.Requirements.HeadlessOverride != nil {
		headless = *opts.Requirements.HeadlessOverride
	}
	channel := opts.BrowserChannel
	if channel == "" && resolved.Profile != nil {
		channel = resolved.Profile.BrowserChannel
	}

	launchOpts := driver.LaunchOptions{
		UserDataDir:       userDataDir,
		Headless:          headless,
		BrowserChannel:    channel,
		IgnoreHTTPSErrors: true,
	}

	drv, teardown, err := m.driverFactory(ctx, launchOpts, m.useContainer)
	if err != nil {
		if !cloned && userDataDir != "" {
			m.locker.release(ctx, userDataDir)
		}
		return nil, err
	}

	if err := drv.OpenPage(ctx, opts.StartingPage); err != nil {
		_ = drv.Close(ctx)
		if teardown != nil {
			teardown(ctx)
		}
		if !cloned && userDataDir != "" {
			m.locker.release(ctx, userDataDir)
		}
		return nil, err
	}

	sess := &Session{
		ID:           sessionID,
		ProfileName:  profileName,
		UserDataDir:  userDataDir,
		Cloned:       cloned,
		CreatedAt:    time.Now(),
		StartingPage: opts.StartingPage,
		driver:       drv,
		teardown:     teardown,
	}
	exec := step.New(drv, m.vision, m.artifacts, m.profiles, profileName, sessionID)
	sess.runner = script.New(exec, sessionID)

	drv.OnExit(func(err error) {
		m.log.Warn().Str("session_id", sessionID).Err(err).Msg("driver process exited unexpectedly")
	})

	m.mu.Lock()
	m.sessions[sessionID] = sess
	m.mu.Unlock()
	metrics.SessionsOpen.Inc()

	if resolved.Profile != nil {
		_ = m.profiles.Touch(resolved.Profile.Name)
	}

	m.log.Info().Str("session_id", sessionID).Str("profile", profileName).Bool("cloned", cloned).Msg("session opened")
	return sess, nil
}

// Close stops the session's runner, closes its driver handle, releases any
// profile lock it held, and removes it from the registry.
func (m *Manager) Close(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()
	if !ok {
		return model.NewError(model.ErrNotFound, "session.Close", fmt.Sprintf("session %q not found", sessionID), nil)
	}
	metrics.SessionsOpen.Dec()

	sess.runner.Stop()
	err := sess.driver.Close(ctx)
	if sess.teardown != nil {
		sess.teardown(ctx)
	}

	if !sess.Cloned && sess.UserDataDir != "" {
		m.locker.release(ctx, sess.UserDataDir)
	} else if sess.Cloned && sess.UserDataDir != "" {
		_ = os.RemoveAll(sess.UserDataDir)
	}

	m.log.Info().Str("session_id", sessionID).Msg("session closed")
	return err
}

// Profiles exposes the bound Profile Manager so callers outside this
// package (the Control Plane's export/import endpoints) can reach profile
// operations that don't need a live session.
func (m *Manager) Profiles() *profile.Store {
	return m.profiles
}

// Lookup returns the live Session for sessionID, if any.
func (m *Manager) Lookup(sessionID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	return s, ok
}

// ForEachLive invokes fn for every currently registered session. Used at
// shutdown to fan out stop() and by the Control Plane to enumerate
// sessions for observers.
func (m *Manager) ForEachLive(fn func(*Session)) {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()
	for _, s := range sessions {
		fn(s)
	}
}

// Shutdown asks every live runner to stop, waits up to the configured drain
// deadline for each driver handle to close, then force-releases resources
// (spec.md §4.6 "Graceful shutdown").
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	m.log.Info().Int("live_sessions", len(ids)).Msg("shutdown: stopping live sessions")

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			drainCtx, cancel := context.WithTimeout(ctx, m.drainDeadline)
			defer cancel()
			if err := m.Close(drainCtx, id); err != nil {
				m.log.Warn().Str("session_id", id).Err(err).Msg("shutdown: session did not close cleanly")
			}
		}(id)
	}
	wg.Wait()
	m.log.Info().Msg("shutdown: all sessions drained")
}

func (m *Manager) acquireProfileLock(userDataDir, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if holder, busy := m.profileLock[userDataDir]; busy {
		return model.NewError(model.ErrProfileBusy, "session.Open", fmt.Sprintf("user-data dir %q is already in use by session %q", userDataDir, holder), nil)
	}
	m.profileLock[userDataDir] = sessionID
	return nil
}

func (m *Manager) releaseProfileLock(userDataDir string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.profileLock, userDataDir)
}

// cloneUserDataDir makes a throwaway copy of a profile's user-data
// directory for a parallel ("cloned") session, so concurrent runs never
// contend for the same on-disk Chromium lock files.
func cloneUserDataDir(src string) (string, error) {
	dst, err := os.MkdirTemp("", "browser-profile-clone-*")
	if err != nil {
		return "", err
	}
	if err := copyDir(src, dst); err != nil {
		os.RemoveAll(dst)
		return "", err
	}
	return dst, nil
}

func copyDir(src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		srcPath := src + string(os.PathSeparator) + entry.Name()
		dstPath := dst + string(os.PathSeparator) + entry.Name()
		if entry.IsDir() {
			if err := os.MkdirAll(dstPath, 0o755); err != nil {
				return err
			}
			if err := copyDir(srcPath, dstPath); err != nil {
				return err
			}
			continue
		}
		if err := copyFile(srcPath, dstPath); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}
