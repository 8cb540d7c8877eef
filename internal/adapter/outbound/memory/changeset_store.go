// Package memory provides in-memory adapters for the hook engine's store
// ports: a development/testing default, and a first-class reusable fixture
// for the reference HTTP driver's push-evaluation endpoint.
package memory

import (
	"context"
	"sync"

	"github.com/scmhooks/hookengine/internal/domain/hook"
)

// ChangesetStore implements hook.ChangesetStore with an in-memory map.
// Thread-safe for concurrent access: a fixed population seeded up front,
// read many times concurrently during evaluation.
type ChangesetStore struct {
	mu         sync.RWMutex
	changesets map[hook.ChangesetID]hook.Changeset
}

// NewChangesetStore creates an empty in-memory changeset store.
func NewChangesetStore() *ChangesetStore {
	return &ChangesetStore{changesets: make(map[hook.ChangesetID]hook.Changeset)}
}

// Add seeds or replaces the snapshot for one changeset id.
func (s *ChangesetStore) Add(cs hook.Changeset) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.changesets[cs.ID] = cs
}

// GetChangeset implements hook.ChangesetStore.
func (s *ChangesetStore) GetChangeset(ctx context.Context, id hook.ChangesetID) (hook.Changeset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cs, ok := s.changesets[id]
	if !ok {
		return hook.Changeset{}, &hook.NoSuchChangesetError{ID: id}
	}
	return cs, nil
}

// Compile-time interface verification.
var _ hook.ChangesetStore = (*ChangesetStore)(nil)
