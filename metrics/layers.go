package metrics

import (
	"context"

	"github.com/gogpu/ggstream/layer"
	"github.com/gogpu/ggstream/scene"
)

// LayerSource is the read side of the layer registry.
type LayerSource interface {
	Get(id string) (*layer.Layer, bool)
	GetAll() []*layer.Layer
}

// LayerLabels returns the labels identifying a layer's gauges.
func LayerLabels(l *layer.Layer) []Label {
	return []Label{L(LabelLayer, l.ID), L(LabelVariant, l.Kind.String())}
}

// WatchLayers keeps the per-layer visibility and opacity gauges and the
// layer count in sync with registry events. It seeds the gauges from the
// current layers and runs until ctx is done or sub is closed.
func WatchLayers(ctx context.Context, src LayerSource, sub *scene.Subscription, g *Gauges) {
	g.seed(src)
	dropped := sub.Dropped()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			// Missed events leave gauges stale; rebuild them instead.
			if d := sub.Dropped(); d != dropped {
				dropped = d
				g.seed(src)
				continue
			}
			g.apply(src, ev)
		}
	}
}

func (g *Gauges) apply(src LayerSource, ev scene.Event) {
	switch ev.Kind {
	case scene.ChangeDeleted:
		g.DeleteMatching(L(LabelLayer, ev.LayerID))
		g.Set(Layers, float64(len(src.GetAll())))
	case scene.ChangeCleared, scene.ChangeRestored:
		g.seed(src)
	case scene.ChangeActive:
	default:
		if l, ok := src.Get(ev.LayerID); ok {
			g.setLayer(l)
		}
		if ev.Kind == scene.ChangeCreated {
			g.Set(Layers, float64(len(src.GetAll())))
		}
	}
}

func (g *Gauges) seed(src LayerSource) {
	g.DeleteLabeled(LabelLayer)
	all := src.GetAll()
	for _, l := range all {
		g.setLayer(l)
	}
	g.Set(Layers, float64(len(all)))
}

func (g *Gauges) setLayer(l *layer.Layer) {
	labels := LayerLabels(l)
	visible := 0.0
	if l.Visible {
		visible = 1
	}
	g.Set(LayerVisible, visible, labels...)
	g.Set(LayerOpacity, l.Opacity, labels...)
}
