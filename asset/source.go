package asset

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/gogpu/ggstream"
)

// Source resolves a resource reference to its bytes.
type Source interface {
	Load(ctx context.Context, ref string) ([]byte, error)
}

// Watcher is implemented by sources that can report changed references.
type Watcher interface {
	// Watch calls changed with the reference of every resource that was
	// modified or removed until ctx is done.
	Watch(ctx context.Context, changed func(ref string)) error
}

// DirSource loads resources from files under a root directory.
// References are slash-separated paths relative to the root.
type DirSource struct {
	root string
}

// NewDirSource returns a source reading files under root.
func NewDirSource(root string) *DirSource {
	return &DirSource{root: filepath.Clean(root)}
}

// Root returns the directory resources are read from.
func (d *DirSource) Root() string { return d.root }

func (d *DirSource) path(ref string) (string, error) {
	rel := filepath.FromSlash(strings.TrimPrefix(ref, "/"))
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%w: %q escapes the asset root", ErrNotFound, ref)
	}
	return filepath.Join(d.root, rel), nil
}

// Load implements Source.
func (d *DirSource) Load(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := d.path(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return data, err
}

// Watch implements Watcher using fsnotify on the root and every
// directory below it. Directories created later are added as they
// appear.
func (d *DirSource) Watch(ctx context.Context, changed func(ref string)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("asset: watch %s: %w", d.root, err)
	}
	defer w.Close()

	err = filepath.WalkDir(d.root, func(p string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if e.IsDir() {
			return w.Add(p)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("asset: watch %s: %w", d.root, err)
	}

	const relevant = fsnotify.Write | fsnotify.Create | fsnotify.Remove | fsnotify.Rename
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&relevant == 0 {
				continue
			}
			if ev.Op.Has(fsnotify.Create) {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
					_ = w.Add(ev.Name)
					continue
				}
			}
			rel, err := filepath.Rel(d.root, ev.Name)
			if err != nil {
				continue
			}
			changed(filepath.ToSlash(rel))
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			ggstream.Logger().Warn("asset: watcher error", "root", d.root, "err", err)
		}
	}
}

// MemorySource serves resources from memory. It is safe for concurrent
// use and counts loads, which makes it useful for tests and demos.
type MemorySource struct {
	mu    sync.RWMutex
	data  map[string][]byte
	hook  func(ctx context.Context, ref string) error
	loads atomic.Uint64
}

// NewMemorySource returns an empty in-memory source.
func NewMemorySource() *MemorySource {
	return &MemorySource{data: make(map[string][]byte)}
}

// Put stores data under ref.
func (m *MemorySource) Put(ref string, data []byte) {
	m.mu.Lock()
	m.data[ref] = slices.Clone(data)
	m.mu.Unlock()
}

// Remove deletes ref.
func (m *MemorySource) Remove(ref string) {
	m.mu.Lock()
	delete(m.data, ref)
	m.mu.Unlock()
}

// SetHook installs a function called at the start of every Load. A
// non-nil error from the hook fails the load; the hook may also block.
func (m *MemorySource) SetHook(hook func(ctx context.Context, ref string) error) {
	m.mu.Lock()
	m.hook = hook
	m.mu.Unlock()
}

// Loads returns how many times Load was called.
func (m *MemorySource) Loads() uint64 { return m.loads.Load() }

// Load implements Source.
func (m *MemorySource) Load(ctx context.Context, ref string) ([]byte, error) {
	m.loads.Add(1)
	m.mu.RLock()
	hook := m.hook
	m.mu.RUnlock()
	if hook != nil {
		if err := hook(ctx, ref); err != nil {
			return nil, err
		}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.data[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return slices.Clone(data), nil
}
