package kvstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// WatchOptions tunes the polling loop.
type WatchOptions struct {
	// Interval is the polling frequency. Default: 1s.
	Interval time.Duration
	// Debounce is the quiet period after a change is detected before the
	// callback fires. More changes during the window reset the timer.
	// 0 fires immediately.
	Debounce time.Duration
	// Logger overrides slog.Default().
	Logger *slog.Logger
}

func (o *WatchOptions) applyDefaults() {
	if o.Interval <= 0 {
		o.Interval = time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Watch polls PRAGMA data_version and invokes fn after every committed change
// from another connection, debounced. It blocks until ctx is cancelled.
// Callback errors are logged, never fatal; the loop keeps polling.
//
// data_version is per-connection: it only moves when some other connection
// commits. The poll therefore runs on a dedicated connection that never
// writes, so commits through the shared pool always count as "other" and a
// change can never be masked by which pooled connection answered.
func (s *Store) Watch(ctx context.Context, opts WatchOptions, fn func(ctx context.Context) error) {
	opts.applyDefaults()
	log := opts.Logger

	conn, err := s.db.Conn(ctx)
	if err != nil {
		log.Error("kvstore: watch acquire connection", "error", err)
		return
	}
	defer conn.Close()

	version := func() (int64, error) {
		var v int64
		if err := conn.QueryRowContext(ctx, `PRAGMA data_version`).Scan(&v); err != nil {
			return 0, fmt.Errorf("kvstore: data_version: %w", err)
		}
		return v, nil
	}

	last, err := version()
	if err != nil {
		log.Error("kvstore: watch initial data_version", "error", err)
	}

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	var debounce *time.Timer
	var debounceC <-chan time.Time

	fire := func() {
		if err := fn(ctx); err != nil {
			log.Error("kvstore: watch callback", "error", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return

		case <-ticker.C:
			v, err := version()
			if err != nil {
				log.Warn("kvstore: watch data_version", "error", err)
				continue
			}
			if v == last {
				continue
			}
			last = v

			if opts.Debounce <= 0 {
				fire()
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(opts.Debounce)
				debounceC = debounce.C
			} else {
				if !debounce.Stop() {
					select {
					case <-debounce.C:
					default:
					}
				}
				debounce.Reset(opts.Debounce)
			}

		case <-debounceC:
			fire()
		}
	}
}
