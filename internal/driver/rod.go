package driver

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog"

	"github.com/streamspace/browser-orchestrator/internal/logging"
	"github.com/streamspace/browser-orchestrator/internal/model"
)

// keyByName maps the Step Executor's key names onto go-rod's input.Key
// constants for the `press` step kind.
var keyByName = map[string]input.Key{
	"Enter":      input.Enter,
	"Tab":        input.Tab,
	"Escape":     input.Escape,
	"Backspace":  input.Backspace,
	"ArrowDown":  input.ArrowDown,
	"ArrowUp":    input.ArrowUp,
	"ArrowLeft":  input.ArrowLeft,
	"ArrowRight": input.ArrowRight,
	"Space":      input.Space,
}

// RodAdapter is the local Browser Driver Adapter backend, grounded on the
// pack's real go-rod launcher usage (other_examples session_manager.go).
type RodAdapter struct {
	mu       sync.Mutex
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	log      zerolog.Logger
	onExit   func(error)
	launched bool
}

// NewRodAdapter constructs an idle adapter; Launch or Attach binds it to a
// live browser.
func NewRodAdapter() *RodAdapter {
	return &RodAdapter{log: logging.Component("driver")}
}

// Launch starts a local Chromium process honoring the launch-flag contract:
// no automation banner, password-manager extensions left enabled,
// no-sandbox only when the caller asserts a containerized environment, a
// caller-supplied user-agent and viewport (default 1920x1080), and
// ignore_https_errors when requested.
func (a *RodAdapter) Launch(ctx context.Context, opts LaunchOptions) error {
	l := launcher.New().Headless(opts.Headless)

	if opts.UserDataDir != "" {
		l = l.UserDataDir(opts.UserDataDir)
	}
	if opts.NoSandbox {
		l = l.Set(flags.Flag("no-sandbox"))
	}
	// Deliberately do NOT set "enable-automation" (the automation banner
	// flag) and do NOT disable component extensions — password-manager UI
	// must keep working (spec.md §4.2 launch-flag contract).
	l = l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")

	w, h := opts.ViewportWidth, opts.ViewportHeight
	if w == 0 {
		w = 1920
	}
	if h == 0 {
		h = 1080
	}
	l = l.Set(flags.Flag("window-size"), fmt.Sprintf("%d,%d", w, h))

	if opts.IgnoreHTTPSErrors {
		l = l.Set(flags.Flag("ignore-certificate-errors"))
	}
	if opts.UserAgent != "" {
		l = l.Set(flags.Flag("user-agent"), opts.UserAgent)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return model.NewError(model.ErrLaunchFailed, "driver.Launch", "launcher failed to start chromium", err)
	}

	a.mu.Lock()
	a.launcher = l
	a.mu.Unlock()

	return a.connect(ctx, controlURL, w, h, opts.IgnoreHTTPSErrors)
}

// Attach connects to an already-running browser's CDP endpoint, used by the
// containerized backend once it has a headless-Chromium container with an
// exposed debugging port.
func (a *RodAdapter) Attach(ctx context.Context, cdpURL string, opts LaunchOptions) error {
	w, h := opts.ViewportWidth, opts.ViewportHeight
	if w == 0 {
		w = 1920
	}
	if h == 0 {
		h = 1080
	}
	return a.connect(ctx, cdpURL, w, h, opts.IgnoreHTTPSErrors)
}

func (a *RodAdapter) connect(ctx context.Context, controlURL string, width, height int, ignoreHTTPSErrors bool) error {
	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return model.NewError(model.ErrLaunchFailed, "driver.connect", "failed to connect to browser", err)
	}

	a.mu.Lock()
	a.browser = browser
	a.launched = true
	a.mu.Unlock()

	go a.superviseExit(browser)

	return nil
}

// superviseExit watches for the browser process disappearing unexpectedly
// and converts it into a DriverLifecycle error delivered to OnExit
// (spec.md §9 "Subprocess orchestration").
func (a *RodAdapter) superviseExit(browser *rod.Browser) {
	<-browser.Context().Done()
	a.mu.Lock()
	cb := a.onExit
	a.mu.Unlock()
	if cb != nil {
		cb(model.NewError(model.ErrDriverLifecycle, "driver.supervise", "browser process exited unexpectedly", browser.Context().Err()))
	}
}

func (a *RodAdapter) OnExit(fn func(error)) {
	a.mu.Lock()
	a.onExit = fn
	a.mu.Unlock()
}

func (a *RodAdapter) OpenPage(ctx context.Context, startingURL string) error {
	a.mu.Lock()
	browser := a.browser
	a.mu.Unlock()
	if browser == nil {
		return model.NewError(model.ErrContextClosed, "driver.OpenPage", "browser not launched", nil)
	}
	page, err := browser.Context(ctx).Page(proto.TargetCreateTarget{URL: startingURL})
	if err != nil {
		return model.NewError(model.ErrNavigationFailed, "driver.OpenPage", "failed to open page", err)
	}
	a.mu.Lock()
	a.page = page
	a.mu.Unlock()
	return nil
}

func (a *RodAdapter) page_() (*rod.Page, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.page == nil {
		return nil, model.NewError(model.ErrContextClosed, "driver", "no open page", nil)
	}
	return a.page, nil
}

func (a *RodAdapter) Navigate(ctx context.Context, url string, wait WaitCondition, timeout time.Duration) error {
	page, err := a.page_()
	if err != nil {
		return err
	}
	p := page.Context(ctx).Timeout(timeout)
	if err := p.Navigate(url); err != nil {
		return model.NewError(model.ErrNavigationFailed, "driver.Navigate", "navigation failed", err)
	}
	switch wait {
	case WaitNetworkIdle:
		err = p.WaitIdle(2 * time.Second)
	default:
		err = p.WaitLoad()
	}
	if err != nil {
		return model.NewError(model.ErrTimeout, "driver.Navigate", "wait condition not satisfied", err)
	}
	return nil
}

// element resolves a compiled locator string to a rod element. The Step
// Executor's locator compiler (internal/step/locator.go) prefixes the
// string to select the resolution strategy: "xpath=" for XPath locators,
// "text=" for text-matcher locators, and plain CSS otherwise (selector,
// id, class and role locators all compile to CSS).
func (a *RodAdapter) element(ctx context.Context, selector string, nth int, timeout time.Duration) (*rod.Element, error) {
	page, err := a.page_()
	if err != nil {
		return nil, err
	}
	p := page.Context(ctx)
	if timeout > 0 {
		p = p.Timeout(timeout)
	}

	if xp, ok := strings.CutPrefix(selector, "xpath="); ok {
		el, err := p.ElementX(xp)
		if err != nil {
			return nil, model.NewError(model.ErrElementNotFound, "driver.element", fmt.Sprintf("xpath %q not found", xp), err)
		}
		return el, nil
	}
	if txt, ok := strings.CutPrefix(selector, "text="); ok {
		el, err := p.ElementR("*", regexp.QuoteMeta(txt))
		if err != nil {
			return nil, model.NewError(model.ErrElementNotFound, "driver.element", fmt.Sprintf("text %q not found", txt), err)
		}
		return el, nil
	}

	if nth > 0 {
		els, err := p.Elements(selector)
		if err != nil || nth >= len(els) {
			return nil, model.NewError(model.ErrElementNotFound, "driver.element", fmt.Sprintf("selector %q index %d not found", selector, nth), err)
		}
		return els[nth], nil
	}
	el, err := p.Element(selector)
	if err != nil {
		return nil, model.NewError(model.ErrElementNotFound, "driver.element", fmt.Sprintf("selector %q not found", selector), err)
	}
	return el, nil
}

func (a *RodAdapter) Click(ctx context.Context, selector string, nth int) error {
	el, err := a.element(ctx, selector, nth, 5*time.Second)
	if err != nil {
		return err
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return model.NewError(model.ErrElementNotFound, "driver.Click", "click failed", err)
	}
	return nil
}

func (a *RodAdapter) Fill(ctx context.Context, selector, value string, nth int) error {
	el, err := a.element(ctx, selector, nth, 5*time.Second)
	if err != nil {
		return err
	}
	if err := el.SelectAllText(); err != nil {
		return model.NewError(model.ErrEvaluationFailed, "driver.Fill", "select existing text failed", err)
	}
	if err := el.Input(value); err != nil {
		return model.NewError(model.ErrEvaluationFailed, "driver.Fill", "input failed", err)
	}
	return nil
}

func (a *RodAdapter) Type(ctx context.Context, text string) error {
	page, err := a.page_()
	if err != nil {
		return err
	}
	if err := page.Context(ctx).InsertText(text); err != nil {
		return model.NewError(model.ErrEvaluationFailed, "driver.Type", "insert text failed", err)
	}
	return nil
}

func (a *RodAdapter) Press(ctx context.Context, key string) error {
	page, err := a.page_()
	if err != nil {
		return err
	}
	k, ok := keyByName[key]
	if !ok {
		return model.NewError(model.ErrEvaluationFailed, "driver.Press", "unknown key name: "+key, nil)
	}
	if err := page.Context(ctx).Keyboard.Press(k); err != nil {
		return model.NewError(model.ErrEvaluationFailed, "driver.Press", "press failed", err)
	}
	return nil
}

func (a *RodAdapter) Hover(ctx context.Context, selector string, nth int) error {
	el, err := a.element(ctx, selector, nth, 5*time.Second)
	if err != nil {
		return err
	}
	if err := el.Hover(); err != nil {
		return model.NewError(model.ErrElementNotFound, "driver.Hover", "hover failed", err)
	}
	return nil
}

func (a *RodAdapter) SelectOption(ctx context.Context, selector, value string, nth int) error {
	el, err := a.element(ctx, selector, nth, 5*time.Second)
	if err != nil {
		return err
	}
	if _, err := el.Select([]string{value}, true, rod.SelectorTypeText); err != nil {
		return model.NewError(model.ErrEvaluationFailed, "driver.SelectOption", "select failed", err)
	}
	return nil
}

func (a *RodAdapter) Scroll(ctx context.Context, dx, dy int) error {
	page, err := a.page_()
	if err != nil {
		return err
	}
	if err := page.Context(ctx).Mouse.Scroll(float64(dx), float64(dy), 1); err != nil {
		return model.NewError(model.ErrEvaluationFailed, "driver.Scroll", "scroll failed", err)
	}
	return nil
}

func (a *RodAdapter) Screenshot(ctx context.Context, selector string) ([]byte, error) {
	page, err := a.page_()
	if err != nil {
		return nil, err
	}
	if selector != "" {
		el, err := a.element(ctx, selector, 0, 5*time.Second)
		if err != nil {
			return nil, err
		}
		data, err := el.Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
		if err != nil {
			return nil, model.NewError(model.ErrEvaluationFailed, "driver.Screenshot", "element screenshot failed", err)
		}
		return data, nil
	}
	data, err := page.Context(ctx).Screenshot(true, nil)
	if err != nil {
		return nil, model.NewError(model.ErrEvaluationFailed, "driver.Screenshot", "page screenshot failed", err)
	}
	return data, nil
}

func (a *RodAdapter) Evaluate(ctx context.Context, script string) (interface{}, error) {
	page, err := a.page_()
	if err != nil {
		return nil, err
	}
	res, err := page.Context(ctx).Evaluate(&rod.EvalOptions{JS: script})
	if err != nil {
		return nil, model.NewError(model.ErrEvaluationFailed, "driver.Evaluate", "evaluate failed", err)
	}
	return res.Value.Val(), nil
}

func (a *RodAdapter) Cookies(ctx context.Context, domains []string) ([]Cookie, error) {
	page, err := a.page_()
	if err != nil {
		return nil, err
	}
	res, err := proto.NetworkGetCookies{}.Call(page.Context(ctx))
	if err != nil {
		return nil, model.NewError(model.ErrEvaluationFailed, "driver.Cookies", "get cookies failed", err)
	}
	var out []Cookie
	for _, c := range res.Cookies {
		if len(domains) == 0 || containsSuffixMatch(domains, c.Domain) {
			out = append(out, Cookie{Name: c.Name, Domain: c.Domain, Value: c.Value})
		}
	}
	return out, nil
}

func containsSuffixMatch(domains []string, domain string) bool {
	for _, d := range domains {
		if d == domain || (len(domain) >= len(d) && domain[len(domain)-len(d):] == d) {
			return true
		}
	}
	return false
}

func (a *RodAdapter) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	_, err := a.element(ctx, selector, 0, timeout)
	return err
}

func (a *RodAdapter) ElementCount(ctx context.Context, selector string) (int, error) {
	page, err := a.page_()
	if err != nil {
		return 0, err
	}
	if txt, ok := strings.CutPrefix(selector, "text="); ok {
		el, err := page.Context(ctx).ElementR("*", regexp.QuoteMeta(txt))
		if err != nil || el == nil {
			return 0, nil
		}
		return 1, nil
	}
	if xp, ok := strings.CutPrefix(selector, "xpath="); ok {
		el, err := page.Context(ctx).ElementX(xp)
		if err != nil || el == nil {
			return 0, nil
		}
		return 1, nil
	}
	els, err := page.Context(ctx).Elements(selector)
	if err != nil {
		return 0, nil // absence is not an adapter error; callers treat 0 as "not found"
	}
	return len(els), nil
}

func (a *RodAdapter) CurrentURL() string {
	page, err := a.page_()
	if err != nil {
		return ""
	}
	info, err := page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

func (a *RodAdapter) Title() string {
	page, err := a.page_()
	if err != nil {
		return ""
	}
	info, err := page.Info()
	if err != nil {
		return ""
	}
	return info.Title
}

func (a *RodAdapter) Close(ctx context.Context) error {
	a.mu.Lock()
	browser := a.browser
	l := a.launcher
	a.mu.Unlock()

	if browser != nil {
		if err := browser.Close(); err != nil {
			a.log.Warn().Err(err).Msg("error closing browser")
		}
	}
	if l != nil {
		l.Cleanup()
	}
	return nil
}
