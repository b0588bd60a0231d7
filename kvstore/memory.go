package kvstore

import "testing"

// OpenMemory opens an in-memory store for tests. MaxOpenConns is pinned to 1
// because each connection to ":memory:" would otherwise get its own database.
func OpenMemory(t testing.TB) *Store {
	t.Helper()
	s, err := Open(":memory:", WithoutPing())
	if err != nil {
		t.Fatalf("kvstore: open memory: %v", err)
	}
	s.db.SetMaxOpenConns(1)
	t.Cleanup(func() { s.Close() })
	return s
}
