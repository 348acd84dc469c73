// Package loop composes the layers of a scene into video frames at a
// fixed rate.
//
// A Loop ticks at the target frame interval. Every tick it takes a
// snapshot of the layer registry, obtains a rendered sub-surface per
// drawable layer (from the render cache, a worker, or the renderer
// inline), composites the sub-surfaces in ascending z-order with each
// layer's opacity and transform, and hands the frame to a sink.
//
// The loop is the only writer of the frame surface. Renderer and worker
// failures are absorbed per layer: the loop records the error in its
// health snapshot and keeps ticking.
//
// Lifecycle:
//
//	Stopped --Start--> Running --Pause--> Paused --Resume--> Running
//	Running/Paused --Stop--> Stopped
package loop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/gg"

	"github.com/gogpu/ggstream"
	"github.com/gogpu/ggstream/cache"
	"github.com/gogpu/ggstream/internal/parallel"
	"github.com/gogpu/ggstream/layer"
	"github.com/gogpu/ggstream/metrics"
	"github.com/gogpu/ggstream/render"
	"github.com/gogpu/ggstream/sink"
)

// Loop defaults.
const (
	DefaultFPS    = 30.0
	DefaultWidth  = 1280
	DefaultHeight = 720

	// DefaultWindow is the number of render-time samples averaged in
	// the health snapshot.
	DefaultWindow = 60
)

// Backpressure tuning. A tick is slow when composing it took longer than
// SlowFactor frame intervals. After BackpressureThreshold consecutive
// slow ticks, a tick arriving more than LateFactor intervals after the
// previous one is dropped.
const (
	SlowFactor            = 1.5
	LateFactor            = 2
	BackpressureThreshold = 5
)

// Errors returned by state transitions and construction.
var (
	ErrRunning    = errors.New("loop: already running")
	ErrNotRunning = errors.New("loop: not running")
	ErrNotPaused  = errors.New("loop: not paused")
	ErrConfig     = errors.New("loop: invalid configuration")
)

// State is the lifecycle state of a Loop.
type State uint8

// States.
const (
	Stopped State = iota
	Running
	Paused
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Running:
		return "running"
	case Paused:
		return "paused"
	default:
		return "unknown"
	}
}

// Layers provides the per-tick layer snapshot. GetAll must return copies
// sorted by ascending z-index with ties in insertion order.
type Layers interface {
	GetAll() []*layer.Layer
}

// AssetVersions reports how often an asset reference has changed since
// it was first loaded. *asset.Loader implements it.
type AssetVersions interface {
	Generation(ref string) uint64
}

// loadingDrawer is implemented by renderers that can draw the loading
// placeholder shown while a worker renders a layer for the first time.
type loadingDrawer interface {
	DrawLoading(dc *gg.Context, w, h int, label string)
}

// Option configures a Loop.
type Option func(*Loop)

// WithSize sets the frame size in pixels.
func WithSize(width, height int) Option {
	return func(l *Loop) {
		l.width, l.height = width, height
	}
}

// WithTargetFPS sets the target frame rate.
func WithTargetFPS(fps float64) Option {
	return func(l *Loop) {
		l.fps = fps
	}
}

// WithBackground sets the color frames are cleared to before
// compositing and when the loop stops.
func WithBackground(c gg.RGBA) Option {
	return func(l *Loop) {
		l.background = c
	}
}

// WithPool offloads layer rendering to a worker pool. The loop drains the
// pool's results; the caller keeps ownership and closes the pool.
func WithPool(p *parallel.Pool) Option {
	return func(l *Loop) {
		l.pool = p
	}
}

// WithCache sets the render cache. By default the loop creates a
// LayerCache with cache.DefaultMaxSizeMB.
func WithCache(c *cache.LayerCache) Option {
	return func(l *Loop) {
		if c != nil {
			l.cache = c
		}
	}
}

// WithSink sets where finished frames are written.
func WithSink(s sink.Sink) Option {
	return func(l *Loop) {
		if s != nil {
			l.sink = s
		}
	}
}

// WithGauges publishes health and per-layer render times to g.
func WithGauges(g *metrics.Gauges) Option {
	return func(l *Loop) {
		l.gauges = g
	}
}

// WithAssets makes cached layer renders depend on the generation of the
// assets they draw, so a reloaded image replaces the old render on the
// next tick.
func WithAssets(v AssetVersions) Option {
	return func(l *Loop) {
		l.assets = v
	}
}

// WithClock sets the time source used for tick timing and render
// durations.
func WithClock(now func() time.Time) Option {
	return func(l *Loop) {
		if now != nil {
			l.now = now
		}
	}
}

// WithWindow sets the number of render-time samples kept for health.
func WithWindow(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.windowSize = n
		}
	}
}

// Loop is the composition and render loop.
type Loop struct {
	layers     Layers
	renderer   render.Renderer
	pool       *parallel.Pool
	cache      *cache.LayerCache
	sink       sink.Sink
	gauges     *metrics.Gauges
	assets     AssetVersions
	now        func() time.Time
	width      int
	height     int
	fps        float64
	interval   time.Duration
	background gg.RGBA
	windowSize int
	ticker     func(d time.Duration) (<-chan time.Time, func())

	// mu guards the lifecycle state and the ticker goroutine.
	mu    sync.Mutex
	state State
	stop  chan struct{}
	done  chan struct{}

	// tickMu guards everything a tick touches: the frame surface and
	// per-layer bookkeeping.
	tickMu       sync.Mutex
	frame        *gg.Pixmap
	dc           *gg.Context
	lastTick     time.Time
	slowStreak   int
	seq          uint64
	slots        map[string]*slot
	placeholders map[[2]int]*cache.Surface

	mon   *monitor
	stats counters
}

// slot is the per-layer state kept across ticks.
type slot struct {
	kind    layer.Kind
	key     uint64
	last    *cache.Surface
	lastErr string

	pending      uint64
	pendingKey   uint64
	pendingSince time.Time
}

type counters struct {
	ticks        atomic.Uint64
	skipped      atomic.Uint64
	dropped      atomic.Uint64
	hits         atomic.Uint64
	misses       atomic.Uint64
	offloaded    atomic.Uint64
	fallbacks    atomic.Uint64
	renderErrors atomic.Uint64
	workerErrors atomic.Uint64
	sinkErrors   atomic.Uint64
	frames       atomic.Uint64
}

// New creates a stopped loop composing layers with renderer.
func New(layers Layers, renderer render.Renderer, opts ...Option) (*Loop, error) {
	l := &Loop{
		layers:       layers,
		renderer:     renderer,
		sink:         sink.Discard{},
		now:          time.Now,
		width:        DefaultWidth,
		height:       DefaultHeight,
		fps:          DefaultFPS,
		background:   gg.RGBA{A: 1},
		windowSize:   DefaultWindow,
		ticker:       newTicker,
		slots:        make(map[string]*slot),
		placeholders: make(map[[2]int]*cache.Surface),
	}
	for _, opt := range opts {
		opt(l)
	}
	if layers == nil || renderer == nil {
		return nil, fmt.Errorf("%w: layers and renderer are required", ErrConfig)
	}
	if l.width <= 0 || l.height <= 0 {
		return nil, fmt.Errorf("%w: frame size %dx%d", ErrConfig, l.width, l.height)
	}
	if l.fps <= 0 {
		return nil, fmt.Errorf("%w: target fps %v", ErrConfig, l.fps)
	}
	if l.cache == nil {
		l.cache = cache.NewLayerCache(cache.DefaultMaxSizeMB)
	}
	l.interval = time.Duration(float64(time.Second) / l.fps)
	l.frame = gg.NewPixmap(l.width, l.height)
	l.dc = gg.NewContext(l.width, l.height, gg.WithPixmap(l.frame))
	l.frame.Clear(l.background)
	l.mon = newMonitor(l.windowSize)
	return l, nil
}

// Interval returns the target frame interval.
func (l *Loop) Interval() time.Duration {
	return l.interval
}

// Size returns the frame size.
func (l *Loop) Size() (width, height int) {
	return l.width, l.height
}

// Cache returns the render cache.
func (l *Loop) Cache() *cache.LayerCache {
	return l.cache
}

// State returns the lifecycle state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Start begins ticking. Starting from Stopped resets the frame counter;
// the frame surface keeps its content until the first tick composes a
// new frame. Starting from Paused resumes.
func (l *Loop) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.state {
	case Running:
		return ErrRunning
	case Stopped:
		l.tickMu.Lock()
		l.seq = 0
		l.lastTick = time.Time{}
		l.slowStreak = 0
		l.tickMu.Unlock()
		l.mon.reset()
	case Paused:
		l.resetTiming()
	}
	l.state = Running
	l.mon.setPaused(false)
	l.startTicker()
	ggstream.Logger().Info("loop: started",
		"fps", l.fps, "width", l.width, "height", l.height, "workers", l.pool != nil)
	return nil
}

// Pause halts ticking. The last frame stays on the surface.
func (l *Loop) Pause() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != Running {
		return ErrNotRunning
	}
	l.stopTicker()
	l.state = Paused
	l.mon.setPaused(true)
	l.publish()
	ggstream.Logger().Info("loop: paused")
	return nil
}

// Resume continues ticking after Pause.
func (l *Loop) Resume() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != Paused {
		return ErrNotPaused
	}
	l.resetTiming()
	l.state = Running
	l.mon.setPaused(false)
	l.startTicker()
	ggstream.Logger().Info("loop: resumed")
	return nil
}

// Stop halts ticking, clears the frame surface to the background, writes
// the cleared frame to the sink and resets the FPS counter. Results of
// worker tasks still in flight are discarded. Stop on a stopped loop is
// a no-op.
func (l *Loop) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == Stopped {
		return nil
	}
	if l.state == Running {
		l.stopTicker()
	}
	l.state = Stopped

	l.tickMu.Lock()
	for _, s := range l.slots {
		s.pending = 0
	}
	l.discardResults()
	l.lastTick = time.Time{}
	l.slowStreak = 0
	l.frame.Clear(l.background)
	err := l.emit(l.now())
	l.tickMu.Unlock()

	l.mon.stop()
	l.publish()
	ggstream.Logger().Info("loop: stopped", "frames", l.stats.frames.Load())
	return err
}

// Run starts the loop and stops it when ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	if err := l.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	return l.Stop()
}

// Frame returns a copy of the current frame surface.
func (l *Loop) Frame() *gg.Pixmap {
	l.tickMu.Lock()
	defer l.tickMu.Unlock()
	pm := gg.NewPixmap(l.width, l.height)
	copy(pm.Data(), l.frame.Data())
	return pm
}

func (l *Loop) resetTiming() {
	l.tickMu.Lock()
	l.lastTick = time.Time{}
	l.slowStreak = 0
	l.tickMu.Unlock()
	l.mon.restartFPS()
}

// startTicker launches the ticker goroutine. l.mu must be held.
func (l *Loop) startTicker() {
	l.stop = make(chan struct{})
	l.done = make(chan struct{})
	go l.run(l.stop, l.done)
}

// stopTicker stops the ticker goroutine and waits for an in-progress
// tick to finish. l.mu must be held.
func (l *Loop) stopTicker() {
	close(l.stop)
	<-l.done
}

func (l *Loop) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	c, release := l.ticker(l.interval)
	defer release()
	for {
		select {
		case <-stop:
			return
		case <-c:
			l.tick(l.now())
		}
	}
}

func newTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}
