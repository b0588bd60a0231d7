// Package identity resolves the agent's durable device identifier.
//
// The identifier is a UUID (v7, the ecosystem convention) persisted in the
// kvstore. It is created lazily on first need and survives restarts; only a
// store reset (reinstall-equivalent) discards it.
package identity

import (
	"context"
	"log/slog"
	"regexp"
	"sync"

	"github.com/google/uuid"

	"github.com/hazyhaar/tabpulse/kvstore"
)

// Key is the kvstore key holding the device identifier.
const Key = "device_id"

// canonical 8-4-4-4-12 hexadecimal form, case-insensitive. uuid.Parse alone
// is too permissive (accepts braces, urn: prefixes, dashless input).
var canonical = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// Valid reports whether s is a canonically formatted UUID.
func Valid(s string) bool {
	if !canonical.MatchString(s) {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

// Store resolves, creates and validates the device identifier.
type Store struct {
	kv     *kvstore.Store
	logger *slog.Logger

	mu     sync.Mutex
	cached string
}

// New creates an identity Store on top of kv.
func New(kv *kvstore.Store, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{kv: kv, logger: logger}
}

// GetOrCreate returns the device identifier, generating and persisting a new
// one when the store holds nothing valid. Concurrent callers converge on a
// single durable value through the store's write-if-absent. When the durable
// write fails the fresh value is still returned and kept for the session.
func (s *Store) GetOrCreate(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != "" {
		return s.cached, nil
	}

	stored, ok, err := s.kv.Get(ctx, Key)
	if err != nil {
		s.logger.Warn("identity: read device id", "error", err)
	}
	if ok && Valid(stored) {
		s.cached = stored
		return stored, nil
	}
	if ok {
		// Invalid stored value is treated as absent and replaced.
		s.logger.Warn("identity: discarding malformed device id", "value", stored)
		if err := s.kv.Delete(ctx, Key); err != nil {
			s.logger.Warn("identity: delete malformed device id", "error", err)
		}
	}

	fresh := uuid.Must(uuid.NewV7()).String()
	winner, err := s.kv.SetIfAbsent(ctx, Key, fresh)
	if err != nil {
		// Best-effort durability: the id works for this session regardless.
		s.logger.Error("identity: persist device id", "error", err)
		s.cached = fresh
		return fresh, nil
	}
	if !Valid(winner) {
		// Another writer slipped in garbage. Ours is known-good.
		winner = fresh
	}
	s.cached = winner
	return winner, nil
}
