// Package tabwatch observes a Chrome instance over CDP and normalizes its
// tab and window signals for the reporting engine.
//
// Four host-level signals funnel into the engine: target navigation and
// activation become tab updates, target destruction becomes tab removal,
// and a focus poll over the visible page becomes focus-change events.
// tabwatch observes, it does not interpret — gating, dedup and delivery
// belong to the engine.
package tabwatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/tabpulse/extract"
	"github.com/hazyhaar/tabpulse/pulse"
)

// Events is the engine-facing signal surface. Implemented by pulse.Engine.
type Events interface {
	ProcessTabUpdate(tab pulse.TabState)
	ProcessFocusChange(focused bool)
	ProcessTabRemoved(tabID string)
}

// Config configures the watcher.
type Config struct {
	// RemoteURL is the DevTools URL of a running Chrome instance.
	// Empty = launch a local Chrome via launcher.
	RemoteURL string

	// Headless applies when launching locally.
	Headless bool

	// StartURL is opened in a stealth page after a local launch, so the
	// watcher always has a tab to track. Empty = no initial page.
	StartURL string

	// PollInterval is the focus/visibility polling frequency. Default: 1s.
	PollInterval time.Duration

	// MaxContentChars caps captured page text. Default: extract.DefaultMaxChars.
	MaxContentChars int

	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Watcher attaches to a browser and feeds normalized signals to the engine.
type Watcher struct {
	cfg       Config
	events    Events
	extractor *extract.Extractor
	logger    *slog.Logger

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	cancel  context.CancelFunc
	focus   focusTracker
}

// New creates a Watcher delivering signals to events.
func New(cfg Config, events Events) *Watcher {
	cfg.applyDefaults()
	return &Watcher{
		cfg:       cfg,
		events:    events,
		extractor: extract.New(cfg.MaxContentChars),
		logger:    cfg.Logger,
	}
}

// Start connects to (or launches) Chrome, enables target discovery and runs
// the event and focus loops until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	ctx, w.cancel = context.WithCancel(ctx)

	b, err := w.connect(ctx)
	if err != nil {
		return err
	}
	w.browser = b

	if err := (proto.TargetSetDiscoverTargets{Discover: true}).Call(b); err != nil {
		return fmt.Errorf("tabwatch: enable target discovery: %w", err)
	}

	go w.eventLoop(ctx)
	go w.focusLoop(ctx)

	w.logger.Info("tabwatch: watching browser", "remote", w.cfg.RemoteURL != "")
	return nil
}

// Stop disconnects from the browser and, when it was launched locally,
// shuts it down.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	if w.browser != nil {
		if err := w.browser.Close(); err != nil {
			w.logger.Warn("tabwatch: close browser", "error", err)
		}
		w.browser = nil
	}
	if w.lnch != nil {
		w.lnch.Cleanup()
		w.lnch = nil
	}
}

func (w *Watcher) connect(ctx context.Context) (*rod.Browser, error) {
	wsURL := w.cfg.RemoteURL
	if wsURL == "" {
		l := launcher.New().Headless(w.cfg.Headless)
		l = l.Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("tabwatch: launch chrome: %w", err)
		}
		wsURL = u
		w.lnch = l
		w.logger.Info("tabwatch: launched local chrome", "headless", w.cfg.Headless)
	}

	b := rod.New().Context(ctx).ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("tabwatch: connect: %w", err)
	}

	// A locally launched browser has no page yet; open a stealth one so
	// there is something to observe.
	if w.cfg.RemoteURL == "" && w.cfg.StartURL != "" {
		page, err := stealth.Page(b)
		if err != nil {
			w.logger.Warn("tabwatch: open initial page", "error", err)
		} else if err := page.Navigate(w.cfg.StartURL); err != nil {
			w.logger.Warn("tabwatch: navigate initial page", "url", w.cfg.StartURL, "error", err)
		}
	}

	return b, nil
}

// eventLoop translates raw CDP target events into engine signals. Both
// activation and navigation surface as TargetInfoChanged; the engine's
// dedup cache sorts out which ones matter.
func (w *Watcher) eventLoop(ctx context.Context) {
	w.browser.Context(ctx).EachEvent(
		func(e *proto.TargetTargetInfoChanged) {
			info := e.TargetInfo
			if info.Type != "page" || info.URL == "" {
				return
			}
			w.events.ProcessTabUpdate(pulse.TabState{
				ID:    string(info.TargetID),
				URL:   info.URL,
				Title: info.Title,
			})
		},
		func(e *proto.TargetTargetDestroyed) {
			w.events.ProcessTabRemoved(string(e.TargetID))
		},
	)()
}

// focusLoop polls the visible page's focus state and reports flips. No
// visible page at all counts as focus lost (focus moved to no window).
func (w *Watcher) focusLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			focused := w.probeFocus(ctx)
			if changed, now := w.focus.observe(focused); changed {
				w.events.ProcessFocusChange(now)
			}
		}
	}
}

func (w *Watcher) probeFocus(ctx context.Context) bool {
	page, ok := w.activePage(ctx)
	if !ok {
		return false
	}
	res, err := page.Context(ctx).Eval(`() => document.hasFocus()`)
	if err != nil {
		w.logger.Debug("tabwatch: focus probe", "error", err)
		return false
	}
	return res.Value.Bool()
}

// ActiveTab resolves the currently visible tab, if any.
func (w *Watcher) ActiveTab(ctx context.Context) (pulse.TabState, bool) {
	page, ok := w.activePage(ctx)
	if !ok {
		return pulse.TabState{}, false
	}
	info, err := page.Context(ctx).Info()
	if err != nil {
		w.logger.Debug("tabwatch: active tab info", "error", err)
		return pulse.TabState{}, false
	}
	return pulse.TabState{
		ID:    string(info.TargetID),
		URL:   info.URL,
		Title: info.Title,
	}, true
}

// CaptureContent reads the rendered document of a tab: title, URL and the
// extracted visible text, capped.
func (w *Watcher) CaptureContent(ctx context.Context, tabID string) (pulse.Capture, error) {
	b := w.currentBrowser()
	if b == nil {
		return pulse.Capture{}, fmt.Errorf("tabwatch: no active browser")
	}

	page, err := b.PageFromTarget(proto.TargetTargetID(tabID))
	if err != nil {
		return pulse.Capture{}, fmt.Errorf("tabwatch: attach tab %s: %w", tabID, err)
	}

	info, err := page.Context(ctx).Info()
	if err != nil {
		return pulse.Capture{}, fmt.Errorf("tabwatch: tab info %s: %w", tabID, err)
	}

	html, err := page.Context(ctx).HTML()
	if err != nil {
		return pulse.Capture{}, fmt.Errorf("tabwatch: read document %s: %w", tabID, err)
	}

	capture := pulse.Capture{
		Title:   info.Title,
		URL:     info.URL,
		Content: w.extractor.Text(html),
	}
	if capture.Title == "" {
		capture.Title = extract.Title(html)
	}
	return capture, nil
}

// activePage returns the first visible page.
func (w *Watcher) activePage(ctx context.Context) (*rod.Page, bool) {
	b := w.currentBrowser()
	if b == nil {
		return nil, false
	}

	pages, err := b.Pages()
	if err != nil {
		w.logger.Debug("tabwatch: list pages", "error", err)
		return nil, false
	}
	if len(pages) == 0 {
		return nil, false
	}

	for _, p := range pages {
		res, err := p.Context(ctx).Eval(`() => document.visibilityState`)
		if err != nil {
			continue
		}
		if res.Value.Str() == "visible" {
			return p, true
		}
	}
	// Nothing claims visibility (all minimised): fall back to the first
	// page so periodic heartbeats still carry a URL.
	return pages[0], true
}

func (w *Watcher) currentBrowser() *rod.Browser {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.browser
}

// focusTracker debounces focus flips: only a change is reported.
type focusTracker struct {
	mu      sync.Mutex
	primed  bool
	focused bool
}

// observe records a sample and reports whether it differs from the last
// one. The very first sample is reported only when focus is absent, so a
// freshly started agent does not fire a spurious "gained focus" event.
func (f *focusTracker) observe(focused bool) (changed bool, now bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.primed {
		f.primed = true
		f.focused = focused
		return !focused, focused
	}
	if focused == f.focused {
		return false, focused
	}
	f.focused = focused
	return true, focused
}
