// Package filesystem provides a snapshot backend on the local filesystem.
package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/prn-tf/premium-keys/internal/storage"
)

// Config holds filesystem backend settings.
type Config struct {
	// Path is the snapshot file, e.g. ./data/premium_keys.json.
	Path string

	// FileMode is the permission of the snapshot file.
	FileMode fs.FileMode
}

// Backend writes the snapshot to a single file using write-to-temp then rename.
type Backend struct {
	path   string
	mode   fs.FileMode
	logger zerolog.Logger
}

// NewBackend creates a filesystem backend, creating the parent directory if needed.
func NewBackend(cfg Config, logger zerolog.Logger) (*Backend, error) {
	if cfg.Path == "" {
		return nil, errors.New("filesystem backend: path is required")
	}
	if cfg.FileMode == 0 {
		cfg.FileMode = 0o600
	}

	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	return &Backend{
		path:   cfg.Path,
		mode:   cfg.FileMode,
		logger: logger.With().Str("backend", "filesystem").Str("path", cfg.Path).Logger(),
	}, nil
}

// Read implements storage.Backend.
func (b *Backend) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(b.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, storage.ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return data, nil
}

// Write implements storage.Backend.
func (b *Backend) Write(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(b.path), ".snapshot-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	cleanup := func() {
		_ = os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, b.mode); err != nil {
		cleanup()
		return fmt.Errorf("failed to set snapshot permissions: %w", err)
	}
	if err := os.Rename(tmpName, b.path); err != nil {
		cleanup()
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}

	b.logger.Debug().Int("bytes", len(data)).Msg("snapshot written")
	return nil
}

// Name implements storage.Backend.
func (b *Backend) Name() string {
	return "filesystem"
}

// Path returns the snapshot file path.
func (b *Backend) Path() string {
	return b.path
}

var _ storage.Backend = (*Backend)(nil)
