package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/iantaiahn/topicscraper/internal/jobs"
)

// BlobStore keeps report artifacts in memory and returns memory:// URIs.
type BlobStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewBlobStore creates a new in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{data: make(map[string][]byte)}
}

// PutObject persists the content and returns a URI.
func (s *BlobStore) PutObject(_ context.Context, path string, _ string, data io.Reader) (string, error) {
	byteData, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("read blob data: %w", err)
	}
	s.mu.Lock()
	s.data[path] = byteData
	s.mu.Unlock()
	return "memory://" + path, nil
}

// Object returns a copy of a stored blob.
func (s *BlobStore) Object(path string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.data[path]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), b...), true
}

// GetObject opens a stored blob.
func (s *BlobStore) GetObject(_ context.Context, path string) (io.ReadCloser, error) {
	b, ok := s.Object(path)
	if !ok {
		return nil, fmt.Errorf("%w: %s", jobs.ErrObjectNotFound, path)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}
