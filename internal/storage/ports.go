// Package storage persists the ledger as one opaque blob per key.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Load when nothing was saved under the key yet.
var ErrNotFound = errors.New("blob not found")

// Ports for outbound adapters.
type (
	BlobLoader interface {
		Load(ctx context.Context, key string) ([]byte, error)
	}

	// BlobSaver replaces the whole blob stored under key.
	BlobSaver interface {
		Save(ctx context.Context, key string, blob []byte) error
	}

	BlobStore interface {
		BlobLoader
		BlobSaver
	}
)
