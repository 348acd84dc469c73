// Package asset loads image resources for the content renderers.
//
// A Loader resolves references through a Source, decodes the bytes and
// keeps the result in a TTL cache. Concurrent requests for the same
// reference share one load. Renderers call Lookup, which never blocks:
// while a resource is loading it reports StateLoading and the load
// continues in the background.
package asset

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/gogpu/ggstream"
	"github.com/gogpu/ggstream/cache"
)

// Errors returned by the loader, wrapped in a *LoadError.
var (
	// ErrNotFound is returned when the source has no resource for a reference.
	ErrNotFound = errors.New("asset: not found")

	// ErrUnsupported is returned for payloads that are not a supported image.
	ErrUnsupported = errors.New("asset: unsupported format")

	// ErrCorrupt is returned when an image fails to decode.
	ErrCorrupt = errors.New("asset: corrupt image")

	// ErrTimeout is returned when waiting for an in-flight load exceeds the
	// loader's wait bound.
	ErrTimeout = errors.New("asset: load wait timed out")
)

// LoadError records the reference whose load failed.
type LoadError struct {
	Ref string
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("asset %q: %v", e.Ref, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// State is the availability of a resource reported by Lookup.
type State uint8

// Resource states.
const (
	StateLoading State = iota
	StateReady
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Defaults.
const (
	DefaultTTL      = cache.DefaultTTL
	DefaultErrorTTL = 30 * time.Second
	DefaultWait     = 5 * time.Second
	DefaultTimeout  = 30 * time.Second
)

// result is a cached load outcome. Failures are cached too, for a
// shorter time, so a broken reference is not reloaded every frame.
type result struct {
	res *Resource
	err error
}

// Loader loads and caches resources. It is safe for concurrent use.
type Loader struct {
	src     Source
	cache   *cache.ShardedCache[string, result]
	group   singleflight.Group
	errTTL  time.Duration
	wait    time.Duration
	timeout time.Duration

	ctx    context.Context // parent of background loads
	cancel context.CancelFunc

	mu      sync.Mutex
	pending map[string]struct{} // refs with a background load started by Lookup
	gens    map[string]uint64   // times each ref was invalidated

	loads    atomic.Uint64
	failures atomic.Uint64
}

// Option configures a Loader.
type Option func(*config)

type config struct {
	ttl      time.Duration
	errTTL   time.Duration
	wait     time.Duration
	timeout  time.Duration
	capacity int
	now      func() time.Time
}

// WithTTL sets how long decoded resources stay cached.
func WithTTL(d time.Duration) Option {
	return func(c *config) { c.ttl = d }
}

// WithErrorTTL sets how long a failed load is remembered.
func WithErrorTTL(d time.Duration) Option {
	return func(c *config) { c.errTTL = d }
}

// WithWait bounds how long Load waits for an in-flight load of the same
// reference.
func WithWait(d time.Duration) Option {
	return func(c *config) { c.wait = d }
}

// WithTimeout bounds a single source load.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithCapacity sets the per-shard entry capacity of the cache.
func WithCapacity(n int) Option {
	return func(c *config) { c.capacity = n }
}

// WithClock sets the time source used for cache expiry.
func WithClock(now func() time.Time) Option {
	return func(c *config) { c.now = now }
}

// NewLoader returns a loader reading from src.
func NewLoader(src Source, opts ...Option) *Loader {
	c := config{
		ttl:     DefaultTTL,
		errTTL:  DefaultErrorTTL,
		wait:    DefaultWait,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(&c)
	}
	if c.errTTL <= 0 {
		c.errTTL = DefaultErrorTTL
	}
	if c.wait <= 0 {
		c.wait = DefaultWait
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Loader{
		src:     src,
		cache:   cache.NewSharded[string, result](c.capacity, cache.StringHasher, cache.WithTTL(c.ttl), cache.WithClock(c.now)),
		errTTL:  c.errTTL,
		wait:    c.wait,
		timeout: c.timeout,
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[string]struct{}),
		gens:    make(map[string]uint64),
	}
}

// Load returns the resource for ref, loading it if needed. If another
// caller is already loading ref, Load waits for that load for at most the
// loader's wait bound instead of starting a second one. Errors are
// *LoadError values.
func (l *Loader) Load(ctx context.Context, ref string) (*Resource, error) {
	if r, ok := l.cache.Get(ref); ok {
		return r.res, r.err
	}
	ch := l.group.DoChan(ref, func() (any, error) {
		return l.load(ref), nil
	})
	timer := time.NewTimer(l.wait)
	defer timer.Stop()
	select {
	case out := <-ch:
		r := out.Val.(result)
		return r.res, r.err
	case <-timer.C:
		return nil, &LoadError{Ref: ref, Err: ErrTimeout}
	case <-ctx.Done():
		return nil, &LoadError{Ref: ref, Err: ctx.Err()}
	}
}

// Lookup returns the cached state of ref without blocking. When ref is
// not cached, a background load is started and StateLoading is returned.
func (l *Loader) Lookup(ref string) (*Resource, State, error) {
	if r, ok := l.cache.Get(ref); ok {
		if r.err != nil {
			return nil, StateFailed, r.err
		}
		return r.res, StateReady, nil
	}
	l.mu.Lock()
	if _, busy := l.pending[ref]; !busy && l.ctx.Err() == nil {
		l.pending[ref] = struct{}{}
		go func() {
			_, _, _ = l.group.Do(ref, func() (any, error) {
				return l.load(ref), nil
			})
			l.mu.Lock()
			delete(l.pending, ref)
			l.mu.Unlock()
		}()
	}
	l.mu.Unlock()
	return nil, StateLoading, nil
}

// load reads and decodes ref and caches the outcome.
func (l *Loader) load(ref string) result {
	l.loads.Add(1)
	ctx, cancel := context.WithTimeout(l.ctx, l.timeout)
	defer cancel()

	start := time.Now()
	var r result
	data, err := l.src.Load(ctx, ref)
	if err == nil {
		r.res, err = Decode(ref, data)
	}
	if err != nil {
		r.err = &LoadError{Ref: ref, Err: err}
		l.failures.Add(1)
		if l.ctx.Err() == nil {
			l.cache.SetTTL(ref, r, l.errTTL)
		}
		ggstream.Logger().Warn("asset: load failed", "ref", ref, "err", err)
		return r
	}
	l.cache.Set(ref, r)
	ggstream.Logger().Debug("asset: loaded", "ref", ref, "mime", r.res.MIME,
		"size", fmt.Sprintf("%dx%d", r.res.Width(), r.res.Height()), "took", time.Since(start))
	return r
}

// Invalidate drops the cached result for ref so the next access reloads
// it, and bumps the generation of ref.
func (l *Loader) Invalidate(ref string) {
	// Drop first: a tick that sees the new generation must not find
	// the old resource.
	l.cache.Delete(ref)
	l.mu.Lock()
	l.gens[ref]++
	l.mu.Unlock()
}

// Generation returns how many times ref was invalidated. Renders cached
// under an older generation show stale content.
func (l *Loader) Generation(ref string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.gens[ref]
}

// Watch invalidates resources reported as changed by the source until ctx
// is done. It returns nil immediately when the source cannot watch.
func (l *Loader) Watch(ctx context.Context) error {
	w, ok := l.src.(Watcher)
	if !ok {
		return nil
	}
	return w.Watch(ctx, func(ref string) {
		ggstream.Logger().Debug("asset: changed", "ref", ref)
		l.Invalidate(ref)
	})
}

// Sweep removes expired entries. It implements cache.Sweeper.
func (l *Loader) Sweep(now time.Time) int {
	return l.cache.Sweep(now)
}

// Stats returns cache statistics.
func (l *Loader) Stats() cache.Stats {
	return l.cache.Stats()
}

// Loads returns the number of source loads performed and how many failed.
func (l *Loader) Loads() (total, failed uint64) {
	return l.loads.Load(), l.failures.Load()
}

// Close cancels background loads. Cached resources stay readable.
func (l *Loader) Close() {
	l.cancel()
}
