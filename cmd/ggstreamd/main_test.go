package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/ggstream/asset"
	"github.com/gogpu/ggstream/config"
	"github.com/gogpu/ggstream/layer"
	"github.com/gogpu/ggstream/loop"
	"github.com/gogpu/ggstream/metrics"
	"github.com/gogpu/ggstream/scene"
	"github.com/gogpu/ggstream/sink"
)

func TestDemoAssetsDecode(t *testing.T) {
	src, err := demoAssets()
	require.NoError(t, err)
	for _, ref := range []string{demoFeed, demoHost} {
		data, err := src.Load(context.Background(), ref)
		require.NoError(t, err)
		res, err := asset.Decode(ref, data)
		require.NoError(t, err)
		assert.Equal(t, "image/png", res.MIME)
	}
}

func TestSeedDemo(t *testing.T) {
	reg, err := scene.New(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })

	require.NoError(t, seedDemo(reg, 1280, 720))
	all := reg.GetAll()
	require.Len(t, all, 5)
	kinds := make([]layer.Kind, len(all))
	for i, l := range all {
		kinds[i] = l.Kind
		require.NoError(t, l.Validate())
	}
	assert.Equal(t, []layer.Kind{
		layer.KindVisualFeed, layer.KindOverlay, layer.KindOverlay, layer.KindHost, layer.KindChat,
	}, kinds)
}

func TestOpenSink(t *testing.T) {
	s, err := openSink(config.Output{Mode: config.OutputDiscard})
	require.NoError(t, err)
	assert.IsType(t, sink.Discard{}, s)

	s, err = openSink(config.Output{Mode: config.OutputPNG, Path: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &sink.PNG{}, s)
	require.NoError(t, s.Close())
}

type fakeHealth struct{ h loop.Health }

func (f fakeHealth) Health() loop.Health { return f.h }
func (f fakeHealth) Stats() loop.Stats   { return loop.Stats{Frames: 7} }

func TestHealthz(t *testing.T) {
	tests := []struct {
		status loop.Status
		code   int
	}{
		{loop.StatusHealthy, http.StatusOK},
		{loop.StatusUnhealthy, http.StatusServiceUnavailable},
		{loop.StatusStopped, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			mux := newMux(fakeHealth{loop.Health{Status: tt.status, FPS: 29.5, LayerCount: 2}}, metrics.New())
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

			assert.Equal(t, tt.code, rec.Code)
			var got map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			assert.Equal(t, string(tt.status), got["status"])
			assert.Equal(t, 2.0, got["layerCount"])
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	g := metrics.New()
	g.Set(metrics.FPS, 30)
	mux := newMux(fakeHealth{}, g)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), metrics.FPS+" 30")
}
