package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dvloznov/networth-sync/internal/logger"
)

// FileStore keeps the session as a JSON document on local disk.
type FileStore struct {
	path string
}

// NewFileStore creates a store backed by the file at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Location returns the file path.
func (f *FileStore) Location() string { return f.path }

// Load reads the session file. Any failure yields an empty session.
func (f *FileStore) Load(ctx context.Context) Session {
	log := logger.FromContext(ctx)

	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Info().Str("session_file", f.path).Msg("No saved session, starting fresh")
		} else {
			log.Warn().Err(&IOError{Op: "read", Location: f.path, Err: err}).Msg("Unreadable session file, starting fresh")
		}
		return Session{}
	}

	s, err := decode(data)
	if err != nil {
		log.Warn().Err(&IOError{Op: "decode", Location: f.path, Err: err}).Msg("Malformed session file, starting fresh")
		return Session{}
	}

	log.Debug().Str("session_file", f.path).Int("tokens", len(s)).Msg("Loaded session")
	return s
}

// Save writes the session atomically with owner-only permissions.
func (f *FileStore) Save(ctx context.Context, s Session) error {
	data, err := encode(s)
	if err != nil {
		return &IOError{Op: "encode", Location: f.path, Err: err}
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return &IOError{Op: "write", Location: f.path, Err: fmt.Errorf("creating dir: %w", err)}
	}

	tmp, err := os.CreateTemp(dir, ".session-*.json")
	if err != nil {
		return &IOError{Op: "write", Location: f.path, Err: err}
	}
	tmpName := tmp.Name()
	defer func() {
		// no-op once the rename succeeded
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return &IOError{Op: "write", Location: f.path, Err: err}
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return &IOError{Op: "write", Location: f.path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &IOError{Op: "write", Location: f.path, Err: err}
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return &IOError{Op: "write", Location: f.path, Err: err}
	}

	log := logger.FromContext(ctx)
	log.Debug().Str("session_file", f.path).Int("tokens", len(s)).Msg("Saved session")
	return nil
}

// Clear removes the session file. A missing file is not an error.
func (f *FileStore) Clear(ctx context.Context) error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &IOError{Op: "clear", Location: f.path, Err: err}
	}
	return nil
}

// Close is a no-op for file stores.
func (f *FileStore) Close() error { return nil }
