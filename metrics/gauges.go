// Package metrics keeps the compositor's gauges in a Prometheus registry.
//
// Every gauge is declared up front with its label names, such as the
// layer id and variant of per-layer values. Set, Get and Delete address a
// single series by name and labels; Handler serves the whole registry.
package metrics

import (
	"net/http"
	"slices"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gogpu/ggstream"
	"github.com/gogpu/ggstream/cache"
)

// Gauge names published by the compositor.
const (
	FPS             = "ggstream_fps"
	TargetFPS       = "ggstream_target_fps"
	RenderSeconds   = "ggstream_render_seconds_avg"
	Healthy         = "ggstream_healthy"
	Paused          = "ggstream_paused"
	Layers          = "ggstream_layers"
	TicksRendered   = "ggstream_ticks_rendered"
	TicksDropped    = "ggstream_ticks_dropped"
	LayerVisible    = "ggstream_layer_visible"
	LayerOpacity    = "ggstream_layer_opacity"
	LayerRenderSecs = "ggstream_layer_render_seconds"
	CacheHits       = "ggstream_cache_hits"
	CacheMisses     = "ggstream_cache_misses"
	CacheEvictions  = "ggstream_cache_evictions"
	CacheEntries    = "ggstream_cache_entries"
	CacheBytes      = "ggstream_cache_bytes"
	WorkersLive     = "ggstream_workers"
	WorkerTimeouts  = "ggstream_worker_timeouts"
)

// Label keys.
const (
	LabelLayer   = "layer"
	LabelVariant = "variant"
	LabelCache   = "cache"
)

var (
	layerLabels = []string{LabelLayer, LabelVariant}
	cacheLabels = []string{LabelCache}
)

var gaugeSpecs = []struct {
	name   string
	help   string
	labels []string
}{
	{FPS, "Measured output frames per second.", nil},
	{TargetFPS, "Configured frames per second.", nil},
	{RenderSeconds, "Average frame composition time.", nil},
	{Healthy, "1 when the render loop is healthy.", nil},
	{Paused, "1 when the render loop is paused.", nil},
	{Layers, "Layers in the registry.", nil},
	{TicksRendered, "Ticks that composed a frame.", nil},
	{TicksDropped, "Ticks dropped under backpressure.", nil},
	{WorkersLive, "Live render workers.", nil},
	{WorkerTimeouts, "Render tasks that timed out on a worker.", nil},
	{LayerVisible, "1 when the layer is visible.", layerLabels},
	{LayerOpacity, "Layer opacity.", layerLabels},
	{LayerRenderSecs, "Last render time of the layer.", layerLabels},
	{CacheHits, "Cache hits.", cacheLabels},
	{CacheMisses, "Cache misses.", cacheLabels},
	{CacheEvictions, "Cache evictions.", cacheLabels},
	{CacheEntries, "Entries held by the cache.", cacheLabels},
	{CacheBytes, "Bytes held by the cache.", cacheLabels},
}

// Label is a name/value pair attached to a gauge.
type Label struct {
	Name  string
	Value string
}

// L is shorthand for a Label.
func L(name, value string) Label {
	return Label{Name: name, Value: value}
}

// Gauges is the set of compositor gauges. The zero value is not usable;
// use New.
type Gauges struct {
	reg    *prometheus.Registry
	vecs   map[string]*prometheus.GaugeVec
	labels map[string][]string
}

// New creates a registry holding every compositor gauge plus the Go
// runtime and process collectors.
func New() *Gauges {
	g := &Gauges{
		reg:    prometheus.NewRegistry(),
		vecs:   make(map[string]*prometheus.GaugeVec, len(gaugeSpecs)),
		labels: make(map[string][]string, len(gaugeSpecs)),
	}
	for _, s := range gaugeSpecs {
		v := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: s.name, Help: s.help}, s.labels)
		g.reg.MustRegister(v)
		g.vecs[s.name] = v
		g.labels[s.name] = s.labels
	}
	g.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return g
}

// Registry returns the underlying Prometheus registry.
func (g *Gauges) Registry() *prometheus.Registry {
	return g.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (g *Gauges) Handler() http.Handler {
	return promhttp.HandlerFor(g.reg, promhttp.HandlerOpts{})
}

func asLabels(labels []Label) prometheus.Labels {
	out := make(prometheus.Labels, len(labels))
	for _, l := range labels {
		out[l.Name] = l.Value
	}
	return out
}

// Set stores v for the gauge identified by name and labels. Unknown
// names and label sets that do not match the gauge are ignored.
func (g *Gauges) Set(name string, v float64, labels ...Label) {
	vec, ok := g.vecs[name]
	if !ok {
		ggstream.Logger().Debug("metrics: unknown gauge", "name", name)
		return
	}
	m, err := vec.GetMetricWith(asLabels(labels))
	if err != nil {
		ggstream.Logger().Debug("metrics: bad labels", "name", name, "err", err)
		return
	}
	m.Set(v)
}

// Get returns the value of a gauge series, reporting false when the
// series has not been set.
func (g *Gauges) Get(name string, labels ...Label) (float64, bool) {
	if _, ok := g.vecs[name]; !ok {
		return 0, false
	}
	want := asLabels(labels)
	mfs, err := g.reg.Gather()
	if err != nil {
		return 0, false
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			pairs := m.GetLabel()
			if len(pairs) != len(want) {
				continue
			}
			match := true
			for _, p := range pairs {
				if v, ok := want[p.GetName()]; !ok || v != p.GetValue() {
					match = false
					break
				}
			}
			if match {
				return m.GetGauge().GetValue(), true
			}
		}
	}
	return 0, false
}

// Delete removes a gauge series.
func (g *Gauges) Delete(name string, labels ...Label) {
	if vec, ok := g.vecs[name]; ok {
		vec.Delete(asLabels(labels))
	}
}

// DeleteMatching removes every series carrying the label and returns how
// many were removed.
func (g *Gauges) DeleteMatching(l Label) int {
	n := 0
	for name, vec := range g.vecs {
		if slices.Contains(g.labels[name], l.Name) {
			n += vec.DeletePartialMatch(prometheus.Labels{l.Name: l.Value})
		}
	}
	return n
}

// DeleteLabeled removes every series of gauges that have a label with
// the given name and returns how many were removed.
func (g *Gauges) DeleteLabeled(name string) int {
	counts := g.counts()
	n := 0
	for gauge, vec := range g.vecs {
		if slices.Contains(g.labels[gauge], name) {
			n += counts[gauge]
			vec.Reset()
		}
	}
	return n
}

// Len returns the number of compositor gauge series.
func (g *Gauges) Len() int {
	n := 0
	for _, c := range g.counts() {
		n += c
	}
	return n
}

// counts returns the number of series per compositor gauge.
func (g *Gauges) counts() map[string]int {
	out := make(map[string]int, len(g.vecs))
	mfs, err := g.reg.Gather()
	if err != nil {
		return out
	}
	for _, mf := range mfs {
		if _, ok := g.vecs[mf.GetName()]; ok {
			out[mf.GetName()] = len(mf.GetMetric())
		}
	}
	return out
}

// PublishCache sets the hit, miss, eviction and entry gauges of a cache
// labeled with its name.
func PublishCache(g *Gauges, name string, s cache.Stats) {
	l := L(LabelCache, name)
	g.Set(CacheHits, float64(s.Hits), l)
	g.Set(CacheMisses, float64(s.Misses), l)
	g.Set(CacheEvictions, float64(s.Evictions), l)
	g.Set(CacheEntries, float64(s.Len), l)
}
