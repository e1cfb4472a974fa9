package backend

import (
	"context"

	"skarbnik/internal/storage"
)

// Backend is the blob store the ledger is persisted through
type Backend interface {
	storage.BlobStore
}

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult contains the backend instance and optional cleanup function
type BackendResult struct {
	Backend Backend
	Cleanup CleanupFunc
	// Location describes where the ledger lives, for display.
	Location string
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}
