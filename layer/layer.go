// Package layer defines the layer data model of a composited scene.
//
// A Layer is one visual element of the scene. Every layer shares a common
// base (id, z-index, visibility, opacity, transform, size) and carries a
// Content value that is one of a closed set of variants: *Character,
// *VisualFeed, *Overlay or *Chat. Consumers dispatch on the variant with a
// Visitor, so adding a variant without updating every consumer fails to
// compile.
package layer

import (
	"errors"
	"fmt"
	"math"
)

// Errors returned by layer validation.
var (
	// ErrNoContent is returned when a layer has no content.
	ErrNoContent = errors.New("layer: missing content")

	// ErrKindMismatch is returned when the content variant does not match the layer kind.
	ErrKindMismatch = errors.New("layer: content does not match kind")

	// ErrUnknownKind is returned for kinds outside the closed set.
	ErrUnknownKind = errors.New("layer: unknown kind")
)

// Kind identifies the role of a layer in the scene.
type Kind uint8

// Kind constants.
const (
	// KindHost is the main character avatar.
	KindHost Kind = iota

	// KindAssistant is the secondary character avatar.
	KindAssistant

	// KindVisualFeed is the visual feed (NFT) panel.
	KindVisualFeed

	// KindOverlay is a text, image or shape overlay.
	KindOverlay

	// KindChat is the scrolling chat feed.
	KindChat
)

const unknownStr = "unknown"

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindHost:
		return "host"
	case KindAssistant:
		return "assistant"
	case KindVisualFeed:
		return "visual-feed"
	case KindOverlay:
		return "overlay"
	case KindChat:
		return "chat"
	default:
		return unknownStr
	}
}

// ParseKind converts a wire name back to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "host":
		return KindHost, nil
	case "assistant":
		return KindAssistant, nil
	case "visual-feed":
		return KindVisualFeed, nil
	case "overlay":
		return KindOverlay, nil
	case "chat":
		return KindChat, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// IsCharacter reports whether layers of this kind carry *Character content.
func (k Kind) IsCharacter() bool {
	return k == KindHost || k == KindAssistant
}

// Vec is a 2D vector.
type Vec struct {
	X, Y float64
}

// Transform positions a layer's rendered surface on the frame.
//
// The composite matrix is built as translate(Position) * rotate(Rotation) *
// scale(Scale) * translate(-Anchor*size). Anchor is normalized to the layer
// size: (0,0) is the top-left corner, (0.5,0.5) the center.
type Transform struct {
	Position Vec     `json:"position"`
	Scale    Vec     `json:"scale"`
	Rotation float64 `json:"rotation"`
	Anchor   Vec     `json:"anchor"`
}

// IdentityTransform returns a transform that draws the layer at the origin
// at its native size.
func IdentityTransform() Transform {
	return Transform{Scale: Vec{X: 1, Y: 1}}
}

// IsAxisAligned reports whether the transform has no rotation and no flip.
func (t Transform) IsAxisAligned() bool {
	return t.Rotation == 0 && t.Scale.X > 0 && t.Scale.Y > 0
}

// Size is the target surface size of a layer in pixels.
// A zero size means the full frame.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// IsZero reports whether the size is unset.
func (s Size) IsZero() bool {
	return s.Width <= 0 || s.Height <= 0
}

// Layer is one visual element of the scene.
type Layer struct {
	ID        string
	Name      string
	Kind      Kind
	ZIndex    int
	Visible   bool
	Opacity   float64
	Transform Transform
	Size      Size
	Content   Content
}

// New creates a visible, fully opaque layer with an identity transform.
func New(id string, kind Kind, content Content) *Layer {
	return &Layer{
		ID:        id,
		Kind:      kind,
		Visible:   true,
		Opacity:   1,
		Transform: IdentityTransform(),
		Content:   content,
	}
}

// SetOpacity stores opacity clamped to [0, 1]. NaN is stored as 0.
func (l *Layer) SetOpacity(v float64) {
	l.Opacity = ClampOpacity(v)
}

// Normalize clamps opacity and applies the content's retention limits.
// Layers entering a registry are normalized first.
func (l *Layer) Normalize() {
	l.SetOpacity(l.Opacity)
	if c, ok := l.Content.(*Chat); ok {
		c.Normalize()
	}
}

// IsDrawable reports whether the layer contributes pixels to a frame.
// Hidden layers and layers with zero opacity are skipped entirely.
func (l *Layer) IsDrawable() bool {
	return l.Visible && l.Opacity > 0
}

// Validate checks that the content variant matches the kind.
func (l *Layer) Validate() error {
	if l.Content == nil {
		return ErrNoContent
	}
	var ok bool
	switch l.Kind {
	case KindHost, KindAssistant:
		_, ok = l.Content.(*Character)
	case KindVisualFeed:
		_, ok = l.Content.(*VisualFeed)
	case KindOverlay:
		_, ok = l.Content.(*Overlay)
	case KindChat:
		_, ok = l.Content.(*Chat)
	default:
		return fmt.Errorf("%w: %d", ErrUnknownKind, l.Kind)
	}
	if !ok {
		return fmt.Errorf("%w: %s with %T", ErrKindMismatch, l.Kind, l.Content)
	}
	return nil
}

// Clone returns a deep copy of the layer.
func (l *Layer) Clone() *Layer {
	c := *l
	if l.Content != nil {
		c.Content = l.Content.Clone()
	}
	return &c
}

// ClampOpacity clamps v to [0, 1].
func ClampOpacity(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
