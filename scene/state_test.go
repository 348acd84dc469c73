package scene

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/ggstream/layer"
)

func TestStateRoundTrip(t *testing.T) {
	feed := layer.New("feed", layer.KindVisualFeed, &layer.VisualFeed{
		ImageRef: "nft/42.png",
		Metadata: map[string]string{"title": "Punk #42", "subtitle": "0.5 ETH"},
	})
	feed.ZIndex = 2
	chat := layer.New("chat", layer.KindChat, layer.NewChat(3, layer.Style{FontSize: 16}))
	chat.Content.(*layer.Chat).Append(layer.Message{Author: "a", Text: "one"})

	in := &LayerState{Layers: []*layer.Layer{feed, chat}, ActiveLayerID: "feed"}
	data, err := EncodeState(in)
	require.NoError(t, err)
	out, err := DecodeState(data)
	require.NoError(t, err)

	assert.Equal(t, "feed", out.ActiveLayerID)
	require.Len(t, out.Layers, 2)
	assert.Equal(t, "feed", out.Layers[0].ID, "layer order is preserved")
	assert.Equal(t, feed.CacheKey(), out.Layers[0].CacheKey())
	assert.Equal(t, chat.CacheKey(), out.Layers[1].CacheKey())
}

func TestEncodeEmptyState(t *testing.T) {
	data, err := EncodeState(&LayerState{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":1,"layers":[]}`, string(data))
}

func TestDecodeStateErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"garbage", `{`},
		{"version", `{"version":9,"layers":[]}`},
		{"null layer", `{"version":1,"layers":[null]}`},
		{"duplicate id", `{"version":1,"layers":[
			{"id":"a","kind":"overlay","visible":true,"opacity":1,"content":{"kind":"text","content":"x","style":{}}},
			{"id":"a","kind":"overlay","visible":true,"opacity":1,"content":{"kind":"text","content":"y","style":{}}}]}`},
		{"dangling active", `{"version":1,"layers":[],"activeLayerId":"ghost"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeState([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}
