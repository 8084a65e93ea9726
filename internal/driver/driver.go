// Package driver implements the Browser Driver Adapter (spec.md §4.2): a
// narrow, typed interface over the real browser automation library so the
// rest of the orchestrator never imports a browser-automation SDK directly.
package driver

import (
	"context"
	"time"
)

// WaitCondition names the navigation-completion predicate Navigate honors.
type WaitCondition string

const (
	WaitDOMContentLoaded WaitCondition = "domcontentloaded"
	WaitNetworkIdle      WaitCondition = "networkidle"
)

// LaunchOptions configures a browser launch, enforcing the launch-flag
// contract from spec.md §4.2.
type LaunchOptions struct {
	UserDataDir       string // empty means ephemeral context
	Headless          bool
	UserAgent         string // empty uses the channel's default
	ViewportWidth     int    // default 1920
	ViewportHeight    int    // default 1080
	IgnoreHTTPSErrors bool   // default true for this core
	BrowserChannel    string
	NoSandbox         bool // caller asserts a containerized/rootless environment
}

// Cookie is a narrow projection of a browser cookie.
type Cookie struct {
	Name   string
	Domain string
	Value  string
}

// Adapter drives exactly one browser context for exactly one Session,
// matching the invariant that a Session owns exactly one driver handle
// (spec.md §3).
type Adapter interface {
	// Launch starts a local browser process honoring opts.
	Launch(ctx context.Context, opts LaunchOptions) error
	// Attach connects to an already-running browser exposing a CDP
	// endpoint, used by the containerized backend.
	Attach(ctx context.Context, cdpURL string, opts LaunchOptions) error

	OpenPage(ctx context.Context, startingURL string) error
	Navigate(ctx context.Context, url string, wait WaitCondition, timeout time.Duration) error
	Click(ctx context.Context, selector string, nth int) error
	Fill(ctx context.Context, selector, value string, nth int) error
	Type(ctx context.Context, text string) error
	Press(ctx context.Context, key string) error
	Hover(ctx context.Context, selector string, nth int) error
	SelectOption(ctx context.Context, selector, value string, nth int) error
	Scroll(ctx context.Context, dx, dy int) error
	Screenshot(ctx context.Context, selector string) ([]byte, error)
	Evaluate(ctx context.Context, script string) (interface{}, error)
	Cookies(ctx context.Context, domains []string) ([]Cookie, error)
	WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error
	ElementCount(ctx context.Context, selector string) (int, error)

	CurrentURL() string
	Title() string

	// OnExit registers a callback invoked from a supervising goroutine if
	// the underlying browser process/container exits unexpectedly
	// (spec.md §9 "Subprocess orchestration").
	OnExit(fn func(error))

	Close(ctx context.Context) error
}
