package memory

import (
	"context"
	"sync"

	"github.com/scmhooks/hookengine/internal/domain/hook"
)

// contentKey identifies one file's bytes at one changeset.
type contentKey struct {
	csID hook.ChangesetID
	path string
}

// FileContentStore implements hook.FileContentStore with an in-memory map,
// a reusable fixture for tests and the reference HTTP driver's seed routes.
type FileContentStore struct {
	mu      sync.RWMutex
	content map[contentKey][]byte
}

// NewFileContentStore creates an empty in-memory content store.
func NewFileContentStore() *FileContentStore {
	return &FileContentStore{content: make(map[contentKey][]byte)}
}

// Add seeds the bytes for one file at one changeset.
func (s *FileContentStore) Add(csID hook.ChangesetID, path string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.content[contentKey{csID, path}] = data
}

// GetFileContent implements hook.FileContentStore.
func (s *FileContentStore) GetFileContent(ctx context.Context, handle hook.ContentHandle) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.content[contentKey{handle.ChangesetID, handle.Path}]
	if !ok {
		return nil, &hook.NoFileContentError{Path: handle.Path, ChangesetID: handle.ChangesetID}
	}
	// Return a copy: callers must never be able to mutate the store's bytes.
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Compile-time interface verification.
var _ hook.FileContentStore = (*FileContentStore)(nil)
