package loop

import (
	"sync"
	"time"

	"github.com/gogpu/ggstream/metrics"
)

// degradedHold is how long ticks must succeed before an unhealthy loop
// reports healthy again.
const degradedHold = time.Second

// Status is the coarse health of the loop.
type Status string

// Statuses.
const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusStopped   Status = "stopped"
)

// Health is a point-in-time view of the loop.
type Health struct {
	Status        Status
	State         State
	FPS           float64
	TargetFPS     float64
	AvgRenderTime time.Duration
	LastError     string
	LastErrorAt   time.Time
	Paused        bool
	LayerCount    int
}

// Stats are cumulative loop counters.
type Stats struct {
	Ticks        uint64 // ticks that composed a frame
	Skipped      uint64 // ticks that arrived early
	Dropped      uint64 // ticks dropped for backpressure
	Frames       uint64 // frames accepted by the sink
	CacheHits    uint64
	CacheMisses  uint64
	Offloaded    uint64 // layer renders submitted to workers
	Fallbacks    uint64 // layers drawn from a stale surface or placeholder
	RenderErrors uint64
	WorkerErrors uint64
	SinkErrors   uint64
}

// Health returns the current health snapshot.
func (l *Loop) Health() Health {
	h := l.mon.snapshot()
	h.TargetFPS = l.fps
	return h
}

// Stats returns cumulative counters.
func (l *Loop) Stats() Stats {
	return Stats{
		Ticks:        l.stats.ticks.Load(),
		Skipped:      l.stats.skipped.Load(),
		Dropped:      l.stats.dropped.Load(),
		Frames:       l.stats.frames.Load(),
		CacheHits:    l.stats.hits.Load(),
		CacheMisses:  l.stats.misses.Load(),
		Offloaded:    l.stats.offloaded.Load(),
		Fallbacks:    l.stats.fallbacks.Load(),
		RenderErrors: l.stats.renderErrors.Load(),
		WorkerErrors: l.stats.workerErrors.Load(),
		SinkErrors:   l.stats.sinkErrors.Load(),
	}
}

// publish copies health, counters and cache statistics to the gauges.
func (l *Loop) publish() {
	g := l.gauges
	if g == nil {
		return
	}
	h := l.Health()
	g.Set(metrics.FPS, h.FPS)
	g.Set(metrics.TargetFPS, h.TargetFPS)
	g.Set(metrics.RenderSeconds, h.AvgRenderTime.Seconds())
	g.Set(metrics.Healthy, boolGauge(h.Status == StatusHealthy))
	g.Set(metrics.Paused, boolGauge(h.Paused))

	s := l.Stats()
	g.Set(metrics.TicksRendered, float64(s.Ticks))
	g.Set(metrics.TicksDropped, float64(s.Dropped))

	cs := l.cache.Stats()
	metrics.PublishCache(g, "render", cs.Stats)
	g.Set(metrics.CacheBytes, float64(cs.Size), metrics.L(metrics.LabelCache, "render"))

	if l.pool != nil {
		ps := l.pool.Stats()
		g.Set(metrics.WorkersLive, float64(ps.Workers))
		g.Set(metrics.WorkerTimeouts, float64(ps.Timeouts))
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// window is a fixed-size ring of render durations.
type window struct {
	samples []time.Duration
	next    int
	n       int
	sum     time.Duration
}

func newWindow(size int) window {
	return window{samples: make([]time.Duration, size)}
}

func (w *window) add(d time.Duration) {
	if w.n == len(w.samples) {
		w.sum -= w.samples[w.next]
	} else {
		w.n++
	}
	w.samples[w.next] = d
	w.sum += d
	w.next = (w.next + 1) % len(w.samples)
}

func (w *window) avg() time.Duration {
	if w.n == 0 {
		return 0
	}
	return w.sum / time.Duration(w.n)
}

// monitor tracks health. It has its own lock so Health never waits for
// a tick or a state transition.
type monitor struct {
	mu     sync.Mutex
	state  State
	window window

	fps      float64
	frames   int
	fpsSince time.Time

	degraded   bool
	cleanSince time.Time
	lastErr    string
	lastErrAt  time.Time
	layerCount int
}

func newMonitor(size int) *monitor {
	return &monitor{window: newWindow(size)}
}

// reset prepares a fresh run.
func (m *monitor) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = Running
	m.fps = 0
	m.frames = 0
	m.fpsSince = time.Time{}
	m.degraded = false
	m.cleanSince = time.Time{}
	m.lastErr = ""
	m.lastErrAt = time.Time{}
}

// restartFPS starts a new FPS measurement after a pause.
func (m *monitor) restartFPS() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = 0
	m.fpsSince = time.Time{}
}

func (m *monitor) setPaused(paused bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if paused {
		m.state = Paused
		m.fps = 0
		return
	}
	m.state = Running
}

func (m *monitor) stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = Stopped
	m.fps = 0
	m.frames = 0
	m.fpsSince = time.Time{}
}

// record accounts for one composed tick. It reports whether the FPS
// value was refreshed.
func (m *monitor) record(now time.Time, took time.Duration, layers int, err error) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.window.add(took)
	m.layerCount = layers
	m.failLocked(now, err)

	if m.fpsSince.IsZero() {
		m.fpsSince = now
		return false
	}
	m.frames++
	elapsed := now.Sub(m.fpsSince)
	if elapsed < time.Second {
		return false
	}
	m.fps = float64(m.frames) / elapsed.Seconds()
	m.frames = 0
	m.fpsSince = now
	return true
}

// fail records an error that did not come from a tick, such as a worker
// failure.
func (m *monitor) fail(now time.Time, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failLocked(now, err)
}

func (m *monitor) failLocked(now time.Time, err error) {
	if err != nil {
		m.degraded = true
		m.cleanSince = time.Time{}
		m.lastErr = err.Error()
		m.lastErrAt = now
		return
	}
	if !m.degraded {
		return
	}
	if m.cleanSince.IsZero() {
		m.cleanSince = now
	} else if now.Sub(m.cleanSince) >= degradedHold {
		m.degraded = false
	}
}

func (m *monitor) snapshot() Health {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := Health{
		State:         m.state,
		FPS:           m.fps,
		AvgRenderTime: m.window.avg(),
		LastError:     m.lastErr,
		LastErrorAt:   m.lastErrAt,
		Paused:        m.state == Paused,
		LayerCount:    m.layerCount,
	}
	switch {
	case m.state == Stopped:
		h.Status = StatusStopped
		h.FPS = 0
	case m.degraded:
		h.Status = StatusUnhealthy
	default:
		h.Status = StatusHealthy
	}
	return h
}
