package store

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// FileStore keeps one file per key in a directory. Writes go to a
// temporary file that is renamed over the target, so readers never see a
// partially written value.
type FileStore struct {
	dir string
	mu  sync.Mutex // serializes writers of the same directory
}

// NewFile creates a FileStore rooted at dir, creating it if needed.
func NewFile(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the root directory.
func (f *FileStore) Dir() string {
	return f.dir
}

// path maps a key to a file name. Keys are hex-encoded so any byte string
// is a valid key and no key can escape the directory.
func (f *FileStore) path(key string) string {
	return filepath.Join(f.dir, hex.EncodeToString([]byte(key))+".kv")
}

// Get implements Store.
func (f *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: read %q: %w", key, err)
	}
	return data, nil
}

// Put implements Store.
func (f *FileStore) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	tmp, err := os.CreateTemp(f.dir, ".put-*")
	if err != nil {
		return fmt.Errorf("store: write %q: %w", key, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(value); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("store: write %q: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("store: write %q: %w", key, err)
	}
	if err := os.Rename(tmpName, f.path(key)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("store: write %q: %w", key, err)
	}
	return nil
}

// Delete implements Store.
func (f *FileStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	err := os.Remove(f.path(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("store: delete %q: %w", key, err)
	}
	return nil
}
