package registry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// FileStore keeps the registry as a JSON document on disk. Writes go through
// a temp file and rename; Update serializes invocations with an advisory lock
// on a sibling ".lock" file.
type FileStore struct {
	path     string
	lockPath string
}

// NewFileStore returns a store for the document at path, creating its
// directory if needed.
func NewFileStore(path string) (*FileStore, error) {
	clean := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(clean), 0o750); err != nil {
		return nil, fmt.Errorf("create registry dir: %w", err)
	}
	return &FileStore{path: clean, lockPath: clean + ".lock"}, nil
}

// Path returns the document path.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Load(_ context.Context) (Registry, error) {
	return s.load(), nil
}

func (s *FileStore) load() Registry {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("Failed to read registry, using empty registry", "path", s.path, "error", err)
		}
		return Registry{}
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return Registry{}
	}
	reg, err := Decode(b)
	if err != nil {
		slog.Warn("Corrupt registry document, using empty registry", "path", s.path, "error", err)
		// keep the unreadable bytes around for inspection before the next save replaces them
		_ = os.WriteFile(s.path+".corrupt", b, 0o600)
		return Registry{}
	}
	return reg
}

func (s *FileStore) Save(_ context.Context, reg Registry) error {
	b, err := Encode(reg)
	if err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}
	return writeFileAtomic(s.path, b, 0o600)
}

func (s *FileStore) Update(ctx context.Context, fn func(Registry) error) error {
	unlock, err := lockFile(ctx, s.lockPath)
	if err != nil {
		return fmt.Errorf("lock registry: %w", err)
	}
	defer unlock()

	reg := s.load()
	if err := fn(reg); err != nil {
		return err
	}
	return s.Save(ctx, reg)
}

func (s *FileStore) Close() error { return nil }

// writeFileAtomic writes data to a temp file in the same directory, syncs it
// and renames it over path.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmp := f.Name()
	cleanup := func() { _ = os.Remove(tmp) }
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmp, perm); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		cleanup()
		return fmt.Errorf("replace registry: %w", err)
	}
	return nil
}
