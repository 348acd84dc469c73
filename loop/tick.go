package loop

import (
	"fmt"
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

// tick composes and emits one frame at now, unless the tick arrives
// early or is dropped for backpressure.
func (l *Loop) tick(now time.Time) {
	l.tickMu.Lock()
	defer l.tickMu.Unlock()

	l.collect()

	if !l.lastTick.IsZero() {
		elapsed := now.Sub(l.lastTick)
		if elapsed < l.interval-l.interval/4 {
			l.stats.skipped.Add(1)
			return
		}
		if l.slowStreak >= BackpressureThreshold && elapsed > LateFactor*l.interval {
			l.lastTick = now
			l.stats.dropped.Add(1)
			ggstream.Logger().Debug("loop: tick dropped",
				"late", elapsed-l.interval, "slowStreak", l.slowStreak)
			return
		}
	}
	l.lastTick = now

	start := l.now()
	count, err := l.compose(now)
	took := l.now().Sub(start)
	if float64(took) > SlowFactor*float64(l.interval) {
		l.slowStreak++
	} else {
		l.slowStreak = 0
	}

	if serr := l.emit(now); serr != nil && err == nil {
		err = serr
	}
	l.stats.ticks.Add(1)
	if l.mon.record(now, took, count, err) {
		l.publish()
	}
}

// compose draws every drawable layer of the current snapshot onto the
// frame in snapshot order. It returns the snapshot size and the first
// layer error.
func (l *Loop) compose(now time.Time) (int, error) {
	layers := l.layers.GetAll()
	seen := make(map[string]struct{}, len(layers))
	var first error

	l.dc.ClearWithColor(l.background)
	for _, ly := range layers {
		seen[ly.ID] = struct{}{}
		if !ly.IsDrawable() {
			continue
		}
		s := l.slot(ly)
		surf, err := l.surface(s, ly, now)
		if err != nil {
			l.fail(s, ly.ID, err)
			if first == nil {
				first = fmt.Errorf("layer %s: %w", ly.ID, err)
			}
		} else {
			s.lastErr = ""
		}
		if surf == nil {
			continue
		}
		if err := composite(l.dc, surf, ly); err != nil && first == nil {
			first = fmt.Errorf("layer %s: composite: %w", ly.ID, err)
		}
	}
	l.forget(seen)
	return len(layers), first
}

func (l *Loop) slot(ly *layer.Layer) *slot {
	s, ok := l.slots[ly.ID]
	if !ok {
		s = &slot{kind: ly.Kind}
		l.slots[ly.ID] = s
	}
	return s
}

// surface returns the sub-surface to composite for ly this tick.
func (l *Loop) surface(s *slot, ly *layer.Layer, now time.Time) (*cache.Surface, error) {
	key := l.cacheKey(ly)
	if s.key != key {
		// Content or transform changed: the previous render of this
		// layer can never be hit again.
		if s.key != 0 {
			l.cache.Invalidate(s.key)
		}
		s.key = key
	}
	if surf, ok := l.cache.Get(key); ok {
		l.stats.hits.Add(1)
		s.last = surf
		return surf, nil
	}
	l.stats.misses.Add(1)

	w, h := l.layerSize(ly)
	task := parallel.Task{
		LayerID:   ly.ID,
		Kind:      ly.Kind,
		Content:   ly.Content,
		Transform: ly.Transform,
		Width:     w,
		Height:    h,
		Key:       key,
	}
	if l.pool != nil {
		if s.pending != 0 && s.pendingKey == key && now.Sub(s.pendingSince) < l.pendingTTL() {
			return l.fallback(s, ly, w, h), nil
		}
		id, err := l.pool.Submit(task)
		if err == nil {
			s.pending, s.pendingKey, s.pendingSince = id, key, now
			l.stats.offloaded.Add(1)
			return l.fallback(s, ly, w, h), nil
		}
		ggstream.Logger().Debug("loop: rendering inline", "layer", ly.ID, "err", err)
	}
	return l.renderInline(s, ly, task)
}

// cacheKey is the layer's cache key mixed with the generation of every
// asset it draws.
func (l *Loop) cacheKey(ly *layer.Layer) uint64 {
	key := ly.CacheKey()
	if l.assets == nil {
		return key
	}
	for _, ref := range ly.AssetRefs() {
		if g := l.assets.Generation(ref); g != 0 {
			key = (key ^ g) * fnvPrime
		}
	}
	return key
}

const fnvPrime = 1099511628211

// pendingTTL bounds how long a layer waits for a worker result before
// its task is submitted again.
func (l *Loop) pendingTTL() time.Duration {
	return l.pool.Timeout() * time.Duration(l.pool.MaxAttempts()+1)
}

// fallback returns what to draw for a layer whose worker task is in
// flight: its last surface, or a loading placeholder.
func (l *Loop) fallback(s *slot, ly *layer.Layer, w, h int) *cache.Surface {
	l.stats.fallbacks.Add(1)
	if s.last != nil {
		return s.last
	}
	ld, ok := l.renderer.(loadingDrawer)
	if !ok {
		return nil
	}
	k := [2]int{w, h}
	if p, ok := l.placeholders[k]; ok {
		return p
	}
	pm := gg.NewPixmap(w, h)
	ld.DrawLoading(gg.NewContext(w, h, gg.WithPixmap(pm)), w, h, ly.Kind.String())
	p := cache.NewSurface(pm)
	l.placeholders[k] = p
	return p
}

// renderInline renders a layer on the loop goroutine.
func (l *Loop) renderInline(s *slot, ly *layer.Layer, t parallel.Task) (surf *cache.Surface, err error) {
	start := l.now()
	defer func() {
		if v := recover(); v != nil {
			surf, err = s.last, fmt.Errorf("%w: %v", parallel.ErrPanic, v)
		}
		l.layerTime(ly.ID, ly.Kind, l.now().Sub(start))
	}()
	surf, status, err := parallel.RenderTask(l.renderer, t)
	l.accept(s, t.Key, surf, status, err)
	return surf, err
}

// accept stores a finished render. Only complete renders are cached;
// placeholders are drawn but rendered again next tick.
func (l *Loop) accept(s *slot, key uint64, surf *cache.Surface, status render.Status, err error) {
	if surf == nil {
		return
	}
	if status == render.Complete && err == nil {
		l.cache.Put(key, surf)
	}
	s.last = surf
}

// collect applies worker results that arrived since the last tick.
func (l *Loop) collect() {
	if l.pool == nil {
		return
	}
	for {
		select {
		case m, ok := <-l.pool.Results():
			if !ok {
				return
			}
			l.handle(m)
		default:
			return
		}
	}
}

func (l *Loop) handle(m parallel.Message) {
	switch m := m.(type) {
	case parallel.Complete:
		s := l.owner(m.Task)
		if s == nil {
			return
		}
		l.layerTime(m.Task.LayerID, m.Task.Kind, m.Elapsed)
		l.accept(s, m.Task.Key, m.Surface, m.Status, m.Err)
		if m.Err != nil {
			l.fail(s, m.Task.LayerID, m.Err)
			l.mon.fail(l.now(), fmt.Errorf("layer %s: %w", m.Task.LayerID, m.Err))
		}
	case parallel.Error:
		l.stats.workerErrors.Add(1)
		s := l.owner(m.Task)
		if s == nil {
			return
		}
		l.fail(s, m.Task.LayerID, m.Err)
		l.mon.fail(l.now(), fmt.Errorf("layer %s: %w", m.Task.LayerID, m.Err))
	case parallel.Ready:
		if m.Generation > 1 {
			ggstream.Logger().Debug("loop: worker respawned", "worker", m.Worker, "generation", m.Generation)
		}
	}
}

// owner returns the slot still waiting for t, clearing its pending task.
// Results for removed layers, superseded tasks and stopped runs return nil.
func (l *Loop) owner(t parallel.Task) *slot {
	s, ok := l.slots[t.LayerID]
	if !ok || s.pending != t.ID {
		return nil
	}
	s.pending = 0
	return s
}

// discardResults drops every queued worker result.
func (l *Loop) discardResults() {
	if l.pool == nil {
		return
	}
	for {
		select {
		case _, ok := <-l.pool.Results():
			if !ok {
				return
			}
		default:
			return
		}
	}
}

// fail counts a layer error and logs it when it differs from the
// layer's previous error.
func (l *Loop) fail(s *slot, id string, err error) {
	l.stats.renderErrors.Add(1)
	msg := err.Error()
	if msg == s.lastErr {
		return
	}
	s.lastErr = msg
	ggstream.Logger().Warn("loop: layer render failed", "layer", id, "kind", s.kind, "err", err)
}

// forget drops bookkeeping for layers that left the registry.
func (l *Loop) forget(seen map[string]struct{}) {
	for id, s := range l.slots {
		if _, ok := seen[id]; ok {
			continue
		}
		if s.key != 0 {
			l.cache.Invalidate(s.key)
		}
		delete(l.slots, id)
		if l.gauges != nil {
			l.gauges.Delete(metrics.LayerRenderSecs, metrics.L(metrics.LabelLayer, id), metrics.L(metrics.LabelVariant, s.kind.String()))
		}
	}
}

func (l *Loop) layerSize(ly *layer.Layer) (int, int) {
	if ly.Size.IsZero() {
		return l.width, l.height
	}
	return ly.Size.Width, ly.Size.Height
}

func (l *Loop) layerTime(id string, kind layer.Kind, d time.Duration) {
	if l.gauges == nil {
		return
	}
	l.gauges.Set(metrics.LayerRenderSecs, d.Seconds(), metrics.L(metrics.LabelLayer, id), metrics.L(metrics.LabelVariant, kind.String()))
}

// emit writes the current frame to the sink. tickMu must be held.
func (l *Loop) emit(now time.Time) error {
	l.seq++
	f := sink.Frame{
		Pix:    l.frame.Data(),
		Width:  l.width,
		Height: l.height,
		Seq:    l.seq,
		Time:   now,
	}
	if err := l.sink.WriteFrame(&f); err != nil {
		l.stats.sinkErrors.Add(1)
		return fmt.Errorf("sink: %w", err)
	}
	l.stats.frames.Add(1)
	return nil
}
