package memory

import (
	"context"
	"fmt"
	"io"
	"slices"
	"sync"
)

type blob struct {
	contentType string
	body        []byte
}

// BlobStore keeps snapshot archives in process and hands out memory:// URIs.
type BlobStore struct {
	mu    sync.RWMutex
	blobs map[string]blob
}

// NewBlobStore returns an empty BlobStore.
func NewBlobStore() *BlobStore {
	return &BlobStore{blobs: make(map[string]blob)}
}

// PutObject reads data fully and stores it under path, replacing any
// previous object.
func (s *BlobStore) PutObject(_ context.Context, path string, contentType string, data io.Reader) (string, error) {
	if path == "" {
		return "", fmt.Errorf("memory blob store: path is required")
	}
	body, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("memory blob store: read %s: %w", path, err)
	}
	s.mu.Lock()
	s.blobs[path] = blob{contentType: contentType, body: body}
	s.mu.Unlock()
	return "memory://" + path, nil
}

// Object returns a copy of the body stored at path.
func (s *BlobStore) Object(path string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[path]
	return slices.Clone(b.body), ok
}

// ContentType reports the media type path was stored with.
func (s *BlobStore) ContentType(path string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.blobs[path].contentType
}

// Paths lists stored object paths in lexical order, which for archive paths
// groups them by source and day.
func (s *BlobStore) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.blobs))
	for p := range s.blobs {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}
