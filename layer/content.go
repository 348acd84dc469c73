package layer

import (
	"maps"

	"github.com/jinzhu/copier"
)

// Content is the variant payload of a layer.
// The set of implementations is closed: *Character, *VisualFeed, *Overlay
// and *Chat.
type Content interface {
	// Accept calls the visitor method matching the concrete variant.
	Accept(v Visitor) error

	// Clone returns a deep copy of the content.
	Clone() Content

	// contentMarker seals the interface.
	contentMarker()
}

// Visitor dispatches on the content variant. Every consumer that needs to
// distinguish variants (renderer selection, cache keys, duplicate
// detection, encoding) implements Visitor, so a new variant cannot be
// added without updating all of them.
type Visitor interface {
	VisitCharacter(c *Character) error
	VisitVisualFeed(f *VisualFeed) error
	VisitOverlay(o *Overlay) error
	VisitChat(c *Chat) error
}

// Rect is an integer source rectangle inside an image.
type Rect struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Empty reports whether the rectangle has no area.
func (r Rect) Empty() bool {
	return r.W <= 0 || r.H <= 0
}

// Animation selects a frame of a character sprite sheet.
type Animation struct {
	Frame Rect `json:"frame"`
}

// Character is an avatar drawn from a model image (a portrait or sprite
// sheet) with an optional texture image drawn over it. It is used by both
// the host and the assistant roles.
type Character struct {
	ModelRef   string               `json:"modelRef"`
	TextureRef string               `json:"textureRef,omitempty"`
	Animations map[string]Animation `json:"animations,omitempty"`
	Current    string               `json:"current,omitempty"`
}

// CurrentFrame returns the source rectangle of the current animation,
// or false when the whole model image should be drawn.
func (c *Character) CurrentFrame() (Rect, bool) {
	if c.Current == "" {
		return Rect{}, false
	}
	a, ok := c.Animations[c.Current]
	if !ok || a.Frame.Empty() {
		return Rect{}, false
	}
	return a.Frame, true
}

func (c *Character) Accept(v Visitor) error { return v.VisitCharacter(c) }
func (c *Character) Clone() Content         { return deepCopy(c) }
func (*Character) contentMarker()           {}

// VisualFeed is an image panel with free-form metadata. The "title" and
// "subtitle" metadata keys are drawn as a caption.
type VisualFeed struct {
	ImageRef string            `json:"imageRef"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (f *VisualFeed) Accept(v Visitor) error { return v.VisitVisualFeed(f) }
func (*VisualFeed) contentMarker()           {}

// Clone returns a deep copy of the feed.
func (f *VisualFeed) Clone() Content {
	return &VisualFeed{ImageRef: f.ImageRef, Metadata: cloneMetadata(f.Metadata)}
}

// OverlayKind selects what an overlay draws.
type OverlayKind string

// Overlay kinds.
const (
	OverlayText  OverlayKind = "text"
	OverlayImage OverlayKind = "image"
	OverlayShape OverlayKind = "shape"
)

// Overlay is a text, image or shape element.
// Content holds the text for text overlays and the image reference for
// image overlays; Shape is used by shape overlays.
type Overlay struct {
	Kind    OverlayKind `json:"kind"`
	Content string      `json:"content,omitempty"`
	Shape   *Shape      `json:"shape,omitempty"`
	Style   Style       `json:"style"`
}

func (o *Overlay) Accept(v Visitor) error { return v.VisitOverlay(o) }
func (o *Overlay) Clone() Content         { return deepCopy(o) }
func (*Overlay) contentMarker()           {}

// Chat is a bounded, ordered feed of messages. Only the most recent
// MaxMessages entries are retained.
type Chat struct {
	Messages    []Message `json:"messages"`
	MaxMessages int       `json:"maxMessages"`
	Style       Style     `json:"style"`
}

func (c *Chat) Accept(v Visitor) error { return v.VisitChat(c) }
func (*Chat) contentMarker()           {}

// Clone returns a deep copy of the chat. Messages are copied by value.
func (c *Chat) Clone() Content {
	out := *c
	out.Messages = append([]Message(nil), c.Messages...)
	out.Style = c.Style.clone()
	return &out
}

// deepCopy copies plain data variants field by field, following pointers,
// slices and maps.
func deepCopy[T any](src *T) *T {
	dst := new(T)
	if err := copier.CopyWithOption(dst, src, copier.Option{DeepCopy: true}); err != nil {
		// Variants copied here contain only strings, numbers, maps, slices
		// and pointers to such structs.
		panic("layer: deep copy: " + err.Error())
	}
	return dst
}

// cloneMetadata returns a copy of a metadata map, preserving nil.
func cloneMetadata(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	return maps.Clone(m)
}
