// Package memory is a process-local blob store for tests and throwaway
// sessions.
package memory

import (
	"context"
	"sync"

	"skarbnik/internal/storage"
)

var _ storage.BlobStore = (*Store)(nil)

type Store struct {
	mu    sync.Mutex
	blobs map[string][]byte
	saves int
}

func New() *Store {
	return &Store{blobs: make(map[string][]byte)}
}

// NewWithBlob returns a store pre-seeded with one blob.
func NewWithBlob(key string, blob []byte) *Store {
	s := New()
	s.blobs[key] = append([]byte(nil), blob...)
	return s
}

// Load returns a copy of the stored blob.
func (s *Store) Load(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blobs[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), b...), nil
}

// Save replaces the blob under key.
func (s *Store) Save(_ context.Context, key string, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[key] = append([]byte(nil), blob...)
	s.saves++
	return nil
}

// Saves counts successful writes.
func (s *Store) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}
