package scene

import (
	"encoding/json"
	"fmt"

	"github.com/gogpu/ggstream/layer"
)

// DefaultStateKey is the store key used for the persisted LayerState.
const DefaultStateKey = "ggstream/layer-state"

// LayerState is the persisted aggregate of the registry: layers in
// insertion order plus the active layer id.
type LayerState struct {
	Layers        []*layer.Layer `json:"layers"`
	ActiveLayerID string         `json:"activeLayerId,omitempty"`
}

// stateVersion is written alongside the state so future layouts can be
// migrated on restore.
const stateVersion = 1

type stateJSON struct {
	Version int `json:"version"`
	LayerState
}

// EncodeState serializes a LayerState.
func EncodeState(s *LayerState) ([]byte, error) {
	if s.Layers == nil {
		s = &LayerState{Layers: []*layer.Layer{}, ActiveLayerID: s.ActiveLayerID}
	}
	return json.Marshal(stateJSON{Version: stateVersion, LayerState: *s})
}

// DecodeState parses a LayerState produced by EncodeState.
func DecodeState(data []byte) (*LayerState, error) {
	var w stateJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("scene: decode state: %w", err)
	}
	if w.Version != stateVersion {
		return nil, fmt.Errorf("scene: decode state: unsupported version %d", w.Version)
	}
	seen := make(map[string]struct{}, len(w.Layers))
	for i, l := range w.Layers {
		if l == nil {
			return nil, fmt.Errorf("scene: decode state: layer %d is null", i)
		}
		if l.ID == "" {
			return nil, fmt.Errorf("scene: decode state: layer %d has no id", i)
		}
		if _, dup := seen[l.ID]; dup {
			return nil, fmt.Errorf("scene: decode state: duplicate layer id %q", l.ID)
		}
		seen[l.ID] = struct{}{}
	}
	if w.ActiveLayerID != "" {
		if _, ok := seen[w.ActiveLayerID]; !ok {
			return nil, fmt.Errorf("scene: decode state: active layer %q not in state", w.ActiveLayerID)
		}
	}
	return &w.LayerState, nil
}
