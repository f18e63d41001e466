// Package memory keeps captured documents and job records in process memory
// for development and tests.
package memory

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// BlobStore holds document bytes keyed by object path and hands back
// memory:// URIs so the rest of the pipeline treats it like a real bucket.
type BlobStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewBlobStore creates an empty in-memory document store.
func NewBlobStore() *BlobStore {
	return &BlobStore{
		data: make(map[string][]byte),
	}
}

// PutObject copies the document bytes and returns the memory:// URI. The
// copy keeps later writes to the source buffer from mutating stored content.
func (s *BlobStore) PutObject(_ context.Context, path string, _ string, r io.Reader) (string, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read document content: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[path] = append([]byte(nil), content...)
	return fmt.Sprintf("memory://%s", path), nil
}
