package kvstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func openFileStore(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func watchInto(t *testing.T, ctx context.Context, s *Store) chan struct{} {
	t.Helper()
	fired := make(chan struct{}, 1)
	go s.Watch(ctx, WatchOptions{Interval: 10 * time.Millisecond}, func(context.Context) error {
		select {
		case fired <- struct{}{}:
		default:
		}
		return nil
	})
	// Let the watcher pin its connection and take the baseline.
	time.Sleep(50 * time.Millisecond)
	return fired
}

func TestWatch_SeesWritesThroughSharedPool(t *testing.T) {
	s := openFileStore(t, filepath.Join(t.TempDir(), "kv.db"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The poll runs on its own pinned connection, so a write through the
	// store's pool must always register, regardless of which pooled
	// connection carried it.
	fired := watchInto(t, ctx, s)

	if err := s.Set(ctx, "server_url", "https://b.example"); err != nil {
		t.Fatal(err)
	}

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("pooled write never surfaced to the watcher")
	}
}

func TestWatch_SeesExternalEdits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.db")
	s := openFileStore(t, path)
	other := openFileStore(t, path)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fired := watchInto(t, ctx, s)

	if err := other.Set(ctx, "server_url", "https://c.example"); err != nil {
		t.Fatal(err)
	}

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("external edit never surfaced to the watcher")
	}
}

func TestWatch_StopsOnCancel(t *testing.T) {
	s := openFileStore(t, filepath.Join(t.TempDir(), "kv.db"))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		s.Watch(ctx, WatchOptions{Interval: 10 * time.Millisecond}, func(context.Context) error {
			return nil
		})
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not return after cancel")
	}
}
