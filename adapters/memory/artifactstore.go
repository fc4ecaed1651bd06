package memory

import (
	"context"
	"sync"

	"github.com/fngate/fngate/ports"
)

// ArtifactStore is an in-memory implementation of ports.ArtifactStore.
// Refs map directly to stored byte blobs; no integrity verification is
// performed.
type ArtifactStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewArtifactStore creates an empty in-memory artifact store.
func NewArtifactStore() *ArtifactStore {
	return &ArtifactStore{blobs: map[string][]byte{}}
}

// Put stores code bytes under a ref.
func (s *ArtifactStore) Put(ref string, code []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[ref] = append([]byte{}, code...)
}

// Fetch returns the code bytes for a ref, or ErrNotFound.
func (s *ArtifactStore) Fetch(ctx context.Context, ref string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	code, ok := s.blobs[ref]
	if !ok {
		return nil, ports.ErrNotFound
	}
	return append([]byte{}, code...), nil
}

// Ensure interface compliance.
var _ ports.ArtifactStore = (*ArtifactStore)(nil)
