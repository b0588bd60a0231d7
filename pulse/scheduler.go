package pulse

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/hazyhaar/tabpulse/kvstore"
)

// Scheduler drives the heartbeat cadence with two cooperating timers.
//
// The coarse tick persists a last-fire watermark in the kvstore; when the
// process comes back after a suspension (or a restart) with the watermark
// overdue, it fires immediately. That is what guarantees recovery — the
// in-memory fine tick does not survive the process.
//
// The fine tick runs at roughly one-second granularity while the process is
// resident. The two ticks are independent triggers of the same
// compose-and-send operation, not a primary/fallback pair: if both fire
// close together, two heartbeats go out, and that is fine — heartbeats are
// idempotent state snapshots, not counted events.
type Scheduler struct {
	kv           *kvstore.Store
	coarsePeriod time.Duration
	finePeriod   time.Duration
	tick         func(ctx context.Context)
	logger       *slog.Logger

	mu           sync.Mutex
	cancelCoarse context.CancelFunc
	cancelFine   context.CancelFunc
}

// NewScheduler creates a stopped Scheduler. tick is invoked from both timer
// loops; it must tolerate concurrent calls.
func NewScheduler(kv *kvstore.Store, coarse, fine time.Duration, tick func(ctx context.Context), logger *slog.Logger) *Scheduler {
	if coarse <= 0 {
		coarse = time.Minute
	}
	if fine <= 0 {
		fine = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		kv:           kv,
		coarsePeriod: coarse,
		finePeriod:   fine,
		tick:         tick,
		logger:       logger,
	}
}

// Start arms both ticks. Idempotent: a tick already running keeps its single
// handle, so starting twice never doubles the cadence.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelCoarse == nil {
		cctx, cancel := context.WithCancel(ctx)
		s.cancelCoarse = cancel
		go s.coarseLoop(cctx)
	}
	if s.cancelFine == nil {
		fctx, cancel := context.WithCancel(ctx)
		s.cancelFine = cancel
		go s.fineLoop(fctx)
	}
}

// Stop disarms both ticks. In-flight sends from earlier ticks are not
// cancelled; they complete or fail on their own. Stopping when not started
// is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelCoarse != nil {
		s.cancelCoarse()
		s.cancelCoarse = nil
	}
	if s.cancelFine != nil {
		s.cancelFine()
		s.cancelFine = nil
	}
}

// Running reports whether the fine tick is armed.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelFine != nil
}

func (s *Scheduler) coarseLoop(ctx context.Context) {
	// Catch up first: if the watermark says a coarse period elapsed while
	// the process was away, fire now.
	if s.overdue(ctx) {
		s.fireCoarse(ctx)
	}

	ticker := time.NewTicker(s.coarsePeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fireCoarse(ctx)
		}
	}
}

func (s *Scheduler) fineLoop(ctx context.Context) {
	ticker := time.NewTicker(s.finePeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Each fire is its own task: a hung send stalls only itself,
			// never the following ticks.
			go s.tick(ctx)
		}
	}
}

func (s *Scheduler) overdue(ctx context.Context) bool {
	v, ok, err := s.kv.Get(ctx, KeyCoarseTick)
	if err != nil {
		s.logger.Warn("scheduler: read watermark", "error", err)
		return true
	}
	if !ok {
		return true
	}
	last, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return true
	}
	return time.Since(time.Unix(last, 0)) >= s.coarsePeriod
}

func (s *Scheduler) fireCoarse(ctx context.Context) {
	// Watermark durability is best-effort; a failed write only means an
	// extra catch-up heartbeat after the next restart.
	if err := s.kv.Set(ctx, KeyCoarseTick, strconv.FormatInt(time.Now().Unix(), 10)); err != nil {
		s.logger.Warn("scheduler: persist watermark", "error", err)
	}
	go s.tick(ctx)
}
