package layer

import (
	"encoding/json"
	"fmt"
)

// layerJSON is the wire form of a Layer. The content payload is decoded
// according to Kind.
type layerJSON struct {
	ID        string          `json:"id"`
	Name      string          `json:"name,omitempty"`
	Kind      string          `json:"kind"`
	ZIndex    int             `json:"zIndex"`
	Visible   bool            `json:"visible"`
	Opacity   float64         `json:"opacity"`
	Transform Transform       `json:"transform"`
	Size      Size            `json:"size"`
	Content   json.RawMessage `json:"content"`
}

// MarshalJSON implements json.Marshaler.
func (l *Layer) MarshalJSON() ([]byte, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	content, err := json.Marshal(l.Content)
	if err != nil {
		return nil, fmt.Errorf("layer %s: encode content: %w", l.ID, err)
	}
	return json.Marshal(layerJSON{
		ID:        l.ID,
		Name:      l.Name,
		Kind:      l.Kind.String(),
		ZIndex:    l.ZIndex,
		Visible:   l.Visible,
		Opacity:   l.Opacity,
		Transform: l.Transform,
		Size:      l.Size,
		Content:   content,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (l *Layer) UnmarshalJSON(data []byte) error {
	var w layerJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	kind, err := ParseKind(w.Kind)
	if err != nil {
		return err
	}
	content := newContent(kind)
	if len(w.Content) == 0 || string(w.Content) == "null" {
		return fmt.Errorf("layer %s: %w", w.ID, ErrNoContent)
	}
	if err := json.Unmarshal(w.Content, content); err != nil {
		return fmt.Errorf("layer %s: decode %s content: %w", w.ID, kind, err)
	}
	*l = Layer{
		ID:        w.ID,
		Name:      w.Name,
		Kind:      kind,
		ZIndex:    w.ZIndex,
		Visible:   w.Visible,
		Opacity:   ClampOpacity(w.Opacity),
		Transform: w.Transform,
		Size:      w.Size,
		Content:   content,
	}
	return nil
}

// newContent returns an empty content value for the kind.
func newContent(kind Kind) Content {
	switch kind {
	case KindHost, KindAssistant:
		return &Character{}
	case KindVisualFeed:
		return &VisualFeed{}
	case KindOverlay:
		return &Overlay{}
	case KindChat:
		return &Chat{}
	default:
		return nil
	}
}
