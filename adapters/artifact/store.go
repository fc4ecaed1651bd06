// Package artifact provides a content-addressed filesystem store for
// tenant code. Refs have the form "sha256:<hex>"; Fetch verifies the
// stored bytes still match the digest in the ref, so corrupted or
// tampered artifacts never reach the sandbox.
package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fngate/fngate/ports"
)

const refPrefix = "sha256:"

// ErrIntegrity is returned when stored bytes do not match the ref digest.
var ErrIntegrity = errors.New("artifact integrity check failed")

// Store is a filesystem implementation of ports.ArtifactStore.
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Ref computes the content-addressed reference for code bytes.
// This is a PURE function.
func Ref(code []byte) string {
	sum := sha256.Sum256(code)
	return refPrefix + hex.EncodeToString(sum[:])
}

// Put stores code bytes and returns their ref. Storing the same bytes
// twice is a no-op returning the same ref.
func (s *Store) Put(ctx context.Context, code []byte) (string, error) {
	ref := Ref(code)
	path, err := s.path(ref)
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(path); err == nil {
		return ref, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create artifact shard: %w", err)
	}

	// Write through a temp file so readers never see partial content.
	tmp, err := os.CreateTemp(filepath.Dir(path), ".artifact-*")
	if err != nil {
		return "", fmt.Errorf("create temp artifact: %w", err)
	}
	if _, err := tmp.Write(code); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("commit artifact: %w", err)
	}
	return ref, nil
}

// Fetch returns the code bytes for a ref, verifying integrity against the
// digest carried in the ref.
func (s *Store) Fetch(ctx context.Context, ref string) ([]byte, error) {
	path, err := s.path(ref)
	if err != nil {
		return nil, err
	}

	code, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ports.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", ref, err)
	}

	if Ref(code) != ref {
		return nil, fmt.Errorf("%w: %s", ErrIntegrity, ref)
	}
	return code, nil
}

// path maps a ref to its on-disk location, sharded by digest prefix.
func (s *Store) path(ref string) (string, error) {
	digest, ok := strings.CutPrefix(ref, refPrefix)
	if !ok || len(digest) != sha256.Size*2 {
		return "", fmt.Errorf("malformed artifact ref: %q", ref)
	}
	if _, err := hex.DecodeString(digest); err != nil {
		return "", fmt.Errorf("malformed artifact ref: %q", ref)
	}
	return filepath.Join(s.dir, digest[:2], digest), nil
}

// Ensure interface compliance.
var _ ports.ArtifactStore = (*Store)(nil)
