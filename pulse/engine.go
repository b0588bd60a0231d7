// Package pulse is the device presence and activity-reporting engine.
//
// One Engine instance owns the authenticated flag, the dedup cache and the
// heartbeat scheduler, with an explicit Init/Shutdown lifecycle. Signals —
// login, logout, server change, tab events, focus flips, timer ticks — all
// funnel into its methods, which gate on authentication, deduplicate, and
// hand delivery to the Reporter. Every delivery failure is logged and
// swallowed; the next trigger is the retry.
package pulse

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/tabpulse/dedup"
	"github.com/hazyhaar/tabpulse/identity"
	"github.com/hazyhaar/tabpulse/kvstore"
	"github.com/hazyhaar/tabpulse/notify"
)

// notifyTitle heads server-driven notifications.
const notifyTitle = "tabpulse"

// Config assembles an Engine.
type Config struct {
	KV       *kvstore.Store
	Identity *identity.Store
	Device   DeviceInfo
	// Server is the default endpoint; a durable selection in the kvstore
	// takes precedence at Init.
	Server ServerConfig
	// CoarsePeriod / FinePeriod tune the scheduler. Defaults: 1m / 1s.
	CoarsePeriod time.Duration
	FinePeriod   time.Duration
	Client       *http.Client
	Notifier     notify.Notifier
	Logger       *slog.Logger
}

// Engine is the activity-reporting engine. Create with New, then Init.
type Engine struct {
	kv       *kvstore.Store
	cache    *dedup.Cache
	sched    *Scheduler
	rep      *Reporter
	notifier notify.Notifier
	logger   *slog.Logger

	mu      sync.Mutex
	authed  bool
	focused bool
	tabs    TabSource
	ctx     context.Context
	cancel  context.CancelFunc
}

// New creates an Engine. Call Init before delivering signals.
func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.NewLog(cfg.Logger)
	}

	e := &Engine{
		kv:       cfg.KV,
		cache:    dedup.New(),
		notifier: cfg.Notifier,
		logger:   cfg.Logger,
		focused:  true,
	}
	e.rep = NewReporter(cfg.KV, cfg.Identity, cfg.Device, cfg.Server.URL, cfg.Client, cfg.Logger)
	e.sched = NewScheduler(cfg.KV, cfg.CoarsePeriod, cfg.FinePeriod, e.Tick, cfg.Logger)
	return e
}

// SetTabs wires the browser observer. Optional; without it heartbeats carry
// no current-page fields and tab updates carry no captured content.
func (e *Engine) SetTabs(t TabSource) {
	e.mu.Lock()
	e.tabs = t
	e.mu.Unlock()
}

// Reporter exposes the delivery layer (for the control API's status view).
func (e *Engine) Reporter() *Reporter { return e.rep }

// Init resynchronizes the in-memory authenticated flag with the durable
// token, applies any persisted server selection, and starts scheduling when
// already logged in. The flag is only a cache of the token's presence; this
// is where the two are reconciled after every process (re)start.
func (e *Engine) Init(ctx context.Context) error {
	e.mu.Lock()
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.mu.Unlock()

	if url, ok, err := e.kv.Get(ctx, KeyServerURL); err != nil {
		e.logger.Warn("engine: read server selection", "error", err)
	} else if ok && url != "" {
		e.rep.SetBaseURL(url)
	}

	tok, ok, err := e.kv.Get(ctx, KeyToken)
	if err != nil {
		e.logger.Warn("engine: read token", "error", err)
	}

	e.mu.Lock()
	e.authed = ok && tok != ""
	authed := e.authed
	e.mu.Unlock()

	if authed {
		e.sched.Start(e.ctx)
	}
	e.logger.Info("engine: initialised", "authenticated", authed, "server", e.rep.BaseURL())
	return nil
}

// Shutdown stops scheduling and cancels pending follow-up tasks.
func (e *Engine) Shutdown() {
	e.sched.Stop()
	e.mu.Lock()
	if e.cancel != nil {
		e.cancel()
	}
	e.mu.Unlock()
}

// Authenticated reports the gate state.
func (e *Engine) Authenticated() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.authed
}

// Login flips the gate on, persists the token, fires an immediate heartbeat
// and starts the scheduler. A failed durable write is logged; the session
// proceeds on the in-memory state.
func (e *Engine) Login(token string) {
	ctx := e.runCtx()

	if err := e.kv.Set(ctx, KeyToken, token); err != nil {
		e.logger.Error("engine: persist token", "error", err)
	}

	e.mu.Lock()
	e.authed = true
	e.mu.Unlock()

	e.logger.Info("engine: logged in")
	go e.Tick(ctx)
	e.sched.Start(ctx)
}

// Logout notifies the server best-effort, flips the gate off, clears the
// dedup cache and stops the scheduler. The server notice never blocks the
// local transition, and an in-flight heartbeat is left to finish on its own.
func (e *Engine) Logout() {
	ctx := e.runCtx()

	// Capture the token before tearing it down: the notice goroutine must
	// not race the delete below for the stored value.
	tok, ok, err := e.kv.Get(ctx, KeyToken)
	if err != nil {
		e.logger.Warn("engine: read token for logout notice", "error", err)
	}
	if ok && tok != "" {
		go e.rep.SendLogout(ctx, tok)
	}

	if err := e.kv.Delete(ctx, KeyToken); err != nil {
		e.logger.Warn("engine: clear token", "error", err)
	}

	e.mu.Lock()
	e.authed = false
	e.mu.Unlock()

	e.cache.Clear()
	e.sched.Stop()
	e.logger.Info("engine: logged out")
}

// SetServer redirects reporting to a new endpoint, persists the selection,
// and restarts the scheduler when authenticated so future ticks target the
// new server without a stale in-flight assumption.
func (e *Engine) SetServer(sc ServerConfig) {
	ctx := e.runCtx()

	if err := e.kv.Set(ctx, KeyServerName, sc.Name); err != nil {
		e.logger.Warn("engine: persist server name", "error", err)
	}
	if err := e.kv.Set(ctx, KeyServerURL, sc.URL); err != nil {
		e.logger.Warn("engine: persist server url", "error", err)
	}

	e.rep.SetBaseURL(sc.URL)
	e.logger.Info("engine: server changed", "name", sc.Name, "url", sc.URL)

	if e.Authenticated() {
		e.sched.Stop()
		e.sched.Start(e.runCtx())
	}
}

// Tick composes and sends one heartbeat. Both scheduler ticks and discrete
// events (login) land here. Failures are logged, never stopping future
// ticks.
func (e *Engine) Tick(ctx context.Context) {
	if !e.Authenticated() {
		return
	}

	focused := e.Focused()
	d := HeartbeatDetails{Focused: &focused}

	if tabs := e.tabSource(); tabs != nil {
		if ts, ok := tabs.ActiveTab(ctx); ok {
			d.CurrentApp = "browser"
			d.CurrentPage = ts.Title
			d.CurrentURL = ts.URL
		}
	}

	if err := e.rep.SendHeartbeat(ctx, d); err != nil {
		e.logger.Warn("engine: heartbeat failed", "error", err)
	}
}

// ProcessTabUpdate evaluates a normalized tab event. Unauthenticated: no-op.
// A URL the dedup cache has already seen for that tab: no-op. Otherwise the
// pair is recorded first (the cache write precedes both sends), a heartbeat
// with the new URL goes out, and the content-capture → activity-report chain
// runs as its own task. Capture or delivery failure skips only that one
// activity report — a future navigation re-triggers the whole sequence.
func (e *Engine) ProcessTabUpdate(tab TabState) {
	if !e.Authenticated() {
		return
	}
	if !e.cache.ShouldReport(tab.ID, tab.URL) {
		return
	}
	e.cache.Record(tab.ID, tab.URL)

	ctx := e.runCtx()
	focused := e.Focused()

	go func() {
		err := e.rep.SendHeartbeat(ctx, HeartbeatDetails{
			CurrentApp:  "browser",
			CurrentPage: tab.Title,
			CurrentURL:  tab.URL,
			Focused:     &focused,
		})
		if err != nil {
			e.logger.Warn("engine: tab heartbeat failed", "url", tab.URL, "error", err)
		}
	}()

	go e.reportActivity(ctx, tab, focused)
}

// ProcessFocusChange records the new focus state and immediately reports it,
// bypassing the dedup cache — focus flips are not URL changes and must reach
// the server promptly so it can suppress follow-on automated actions.
func (e *Engine) ProcessFocusChange(focused bool) {
	e.mu.Lock()
	e.focused = focused
	authed := e.authed
	e.mu.Unlock()

	if !authed {
		return
	}

	ctx := e.runCtx()
	f := focused

	go func() {
		if err := e.rep.SendHeartbeat(ctx, HeartbeatDetails{Focused: &f}); err != nil {
			e.logger.Warn("engine: focus heartbeat failed", "error", err)
		}
	}()

	go func() {
		resp, err := e.rep.SendActivity(ctx, Activity{Focused: f})
		if err != nil {
			e.logger.Warn("engine: focus activity failed", "error", err)
			return
		}
		e.maybeNotify(ctx, resp)
	}()
}

// ProcessTabRemoved purges the closed tab from the dedup cache.
func (e *Engine) ProcessTabRemoved(tabID string) {
	e.cache.Remove(tabID)
}

// Focused returns the last observed window focus state.
func (e *Engine) Focused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.focused
}

func (e *Engine) reportActivity(ctx context.Context, tab TabState, focused bool) {
	a := Activity{Title: tab.Title, URL: tab.URL, Focused: focused}

	if tabs := e.tabSource(); tabs != nil {
		snap, err := tabs.CaptureContent(ctx, tab.ID)
		if err != nil {
			// Extraction failure skips this report; the heartbeat path
			// already ran and the tab stays recorded.
			e.logger.Warn("engine: content capture failed", "tab", tab.ID, "error", err)
			return
		}
		if snap.Title != "" {
			a.Title = snap.Title
		}
		if snap.URL != "" {
			a.URL = snap.URL
		}
		a.Content = snap.Content
	}

	resp, err := e.rep.SendActivity(ctx, a)
	if err != nil {
		e.logger.Warn("engine: activity report failed", "url", a.URL, "error", err)
		return
	}
	e.maybeNotify(ctx, resp)
}

// maybeNotify renders a local notification when the server asked for one
// with actual text. Rendering failures are logged only.
func (e *Engine) maybeNotify(ctx context.Context, resp *ActivityResponse) {
	if resp == nil || !resp.ShowNotification {
		return
	}
	msg := strings.TrimSpace(resp.Response)
	if msg == "" {
		return
	}
	if err := e.notifier.Show(ctx, notifyTitle, msg); err != nil {
		e.logger.Warn("engine: show notification", "error", err)
	}
}

func (e *Engine) tabSource() TabSource {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tabs
}

// runCtx returns the engine's lifecycle context so follow-up tasks outlive
// the triggering call but die at Shutdown.
func (e *Engine) runCtx() context.Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctx != nil {
		return e.ctx
	}
	return context.Background()
}
