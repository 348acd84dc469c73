package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gogpu/ggstream"
	"github.com/gogpu/ggstream/loop"
	"github.com/gogpu/ggstream/metrics"
)

type healthView struct {
	Status          string     `json:"status"`
	State           string     `json:"state"`
	FPS             float64    `json:"fps"`
	TargetFPS       float64    `json:"targetFps"`
	AvgRenderTimeMs float64    `json:"avgRenderTimeMs"`
	LastError       string     `json:"lastError,omitempty"`
	LastErrorAt     time.Time  `json:"lastErrorAt,omitzero"`
	Paused          bool       `json:"paused"`
	LayerCount      int        `json:"layerCount"`
	Stats           loop.Stats `json:"stats"`
}

type healthSource interface {
	Health() loop.Health
	Stats() loop.Stats
}

func newMux(l healthSource, g *metrics.Gauges) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", g.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		h := l.Health()
		v := healthView{
			Status:          string(h.Status),
			State:           h.State.String(),
			FPS:             h.FPS,
			TargetFPS:       h.TargetFPS,
			AvgRenderTimeMs: float64(h.AvgRenderTime) / float64(time.Millisecond),
			LastError:       h.LastError,
			LastErrorAt:     h.LastErrorAt,
			Paused:          h.Paused,
			LayerCount:      h.LayerCount,
			Stats:           l.Stats(),
		}
		w.Header().Set("Content-Type", "application/json")
		if h.Status != loop.StatusHealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(v); err != nil {
			ggstream.Logger().Debug("ggstreamd: writing health", "err", err)
		}
	})
	return mux
}
