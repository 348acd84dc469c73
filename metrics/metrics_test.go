package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/ggstream/cache"
	"github.com/gogpu/ggstream/layer"
	"github.com/gogpu/ggstream/scene"
)

func TestGaugesSetGet(t *testing.T) {
	g := New()
	g.Set(FPS, 29.5)
	g.Set(LayerVisible, 1, L(LabelLayer, "a"), L(LabelVariant, "chat"))
	// Label order does not identify a different series.
	g.Set(LayerVisible, 0, L(LabelVariant, "chat"), L(LabelLayer, "a"))

	v, ok := g.Get(FPS)
	assert.True(t, ok)
	assert.Equal(t, 29.5, v)

	v, ok = g.Get(LayerVisible, L(LabelLayer, "a"), L(LabelVariant, "chat"))
	assert.True(t, ok)
	assert.Zero(t, v)
	assert.Equal(t, 2, g.Len())

	_, ok = g.Get(LayerVisible, L(LabelLayer, "b"))
	assert.False(t, ok)

	g.Delete(FPS)
	_, ok = g.Get(FPS)
	assert.False(t, ok)
}

func TestGaugesDeleteMatching(t *testing.T) {
	g := New()
	for _, id := range []string{"a", "b"} {
		g.Set(LayerVisible, 1, L(LabelLayer, id), L(LabelVariant, "chat"))
		g.Set(LayerOpacity, 1, L(LabelLayer, id), L(LabelVariant, "chat"))
	}
	g.Set(FPS, 30)

	assert.Equal(t, 2, g.DeleteMatching(L(LabelLayer, "a")))
	assert.Equal(t, 3, g.Len())
	assert.Equal(t, 2, g.DeleteLabeled(LabelLayer))
	assert.Equal(t, 1, g.Len())
}

func TestGaugesIgnoreMismatchedLabels(t *testing.T) {
	g := New()
	g.Set("ggstream_unknown", 1)
	g.Set(LayerVisible, 1, L(LabelLayer, "a"))
	g.Set(FPS, 1, L(LabelLayer, "a"))
	assert.Zero(t, g.Len())
}

func TestHandler(t *testing.T) {
	g := New()
	g.Set(FPS, 30)
	g.Set(LayerVisible, 1, L(LabelLayer, "b"), L(LabelVariant, "overlay"))
	g.Set(LayerVisible, 0, L(LabelLayer, "a"), L(LabelVariant, "chat"))
	PublishCache(g, "asset", cache.Stats{Hits: 4, Misses: 1, Len: 2})

	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	for _, want := range []string{
		"# TYPE ggstream_fps gauge",
		"ggstream_fps 30",
		`ggstream_layer_visible{layer="a",variant="chat"} 0`,
		`ggstream_layer_visible{layer="b",variant="overlay"} 1`,
		`ggstream_cache_hits{cache="asset"} 4`,
		"go_goroutines",
	} {
		assert.Contains(t, body, want)
	}
	assert.NotContains(t, body, "ggstream_layer_opacity{", "unset series are not exposed")
}

func TestWatchLayers(t *testing.T) {
	reg, err := scene.New(context.Background())
	require.NoError(t, err)
	defer reg.Close()

	host, _, err := reg.Create(layer.KindHost, &layer.Character{ModelRef: "host.png"})
	require.NoError(t, err)

	g := New()
	sub := reg.Subscribe(0)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		WatchLayers(ctx, reg, sub, g)
	}()

	gauge := func(name, id, variant string) func() bool {
		return func() bool {
			_, ok := g.Get(name, L(LabelLayer, id), L(LabelVariant, variant))
			return ok
		}
	}
	value := func(name, id, variant string) float64 {
		v, _ := g.Get(name, L(LabelLayer, id), L(LabelVariant, variant))
		return v
	}

	require.Eventually(t, gauge(LayerVisible, host.ID, "host"), time.Second, time.Millisecond)

	chat, _, err := reg.Create(layer.KindChat, layer.NewChat(10, layer.Style{}))
	require.NoError(t, err)
	require.NoError(t, reg.SetVisibility(chat.ID, false))
	require.NoError(t, reg.SetOpacity(chat.ID, 0.25))
	require.Eventually(t, func() bool {
		return value(LayerOpacity, chat.ID, "chat") == 0.25
	}, time.Second, time.Millisecond)
	assert.Zero(t, value(LayerVisible, chat.ID, "chat"))
	n, _ := g.Get(Layers)
	assert.Equal(t, 2.0, n)

	reg.Delete(host.ID)
	require.Eventually(t, func() bool { return !gauge(LayerVisible, host.ID, "host")() }, time.Second, time.Millisecond)

	reg.Clear()
	require.Eventually(t, func() bool { return !gauge(LayerVisible, chat.ID, "chat")() }, time.Second, time.Millisecond)

	cancel()
	<-done
	sub.Close()
}
