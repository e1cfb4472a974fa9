package backend

import (
	"context"
	"fmt"

	"skarbnik/internal/log"
	"skarbnik/internal/storage"
	"skarbnik/internal/storage/file"
	"skarbnik/internal/storage/memory"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.Discard()
	}
	return &DefaultFactory{
		logger: logger.WithComponent(log.ComponentBackend),
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case FileBackend:
		return f.createFileBackend(ctx, config)
	case SQLiteBackend:
		return f.createSQLiteBackend(ctx, config)
	case MemoryBackend:
		return f.createMemoryBackend(ctx)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *DefaultFactory) createFileBackend(ctx context.Context, config Config) (*BackendResult, error) {
	dir := config.DataDirectory
	if dir == "" {
		dir = file.DefaultDir()
	}

	store, err := file.New(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize file store: %w", err)
	}

	f.logger.DebugContext(ctx, "Initialized file backend", log.FieldPath, dir)

	return &BackendResult{
		Backend:  store,
		Location: dir,
	}, nil
}

func (f *DefaultFactory) createSQLiteBackend(ctx context.Context, config Config) (*BackendResult, error) {
	store, err := storage.NewSQLiteStore(config.SQLiteDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite store: %w", err)
	}

	f.logger.DebugContext(ctx, "Initialized SQLite backend", log.FieldPath, config.SQLiteDBPath)

	return &BackendResult{
		Backend:  store,
		Cleanup:  store.Close,
		Location: config.SQLiteDBPath,
	}, nil
}

func (f *DefaultFactory) createMemoryBackend(ctx context.Context) (*BackendResult, error) {
	f.logger.WarnContext(ctx, "Using memory backend, changes are lost on exit")

	return &BackendResult{
		Backend:  memory.New(),
		Location: "memory",
	}, nil
}
