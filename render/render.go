// Package render draws layer content onto gg drawing surfaces.
//
// There is one renderer per content variant. Renderers never fail a
// frame because of a missing resource: while a resource is loading they
// draw a loading placeholder, and when it cannot be loaded they draw an
// error placeholder and return the error for logging. The Status result
// tells the caller whether the output is final and may be cached.
package render

import (
	"errors"
	"fmt"

	"github.com/gogpu/gg"

	"github.com/gogpu/ggstream/asset"
	"github.com/gogpu/ggstream/layer"
)

// Status describes what a renderer drew.
type Status uint8

const (
	// Complete means the content was drawn in full.
	Complete Status = iota
	// Placeholder means a loading or error placeholder was drawn, in whole
	// or in part. The output must not be cached.
	Placeholder
)

// String returns the status name.
func (s Status) String() string {
	if s == Complete {
		return "complete"
	}
	return "placeholder"
}

// ErrInvalidSize is returned for non-positive surface sizes.
var ErrInvalidSize = errors.New("render: invalid surface size")

// UnsupportedError is returned for content the renderers cannot draw:
// an overlay, shape or gradient kind outside the known set, or content
// handed to a renderer of another variant.
type UnsupportedError struct {
	Variant string
	Kind    string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("render: unsupported %s kind %q", e.Variant, e.Kind)
}

// Renderer draws content into a w x h surface.
type Renderer interface {
	Render(dc *gg.Context, content layer.Content, w, h int) (Status, error)
}

// Set dispatches content to the renderer of its variant.
// It is safe for concurrent use when each call has its own context.
type Set struct {
	Character  *CharacterRenderer
	VisualFeed *VisualFeedRenderer
	Overlay    *OverlayRenderer
	Chat       *ChatRenderer
}

// NewSet creates renderers for every variant sharing one asset loader
// and font set.
func NewSet(assets *asset.Loader, fonts *Fonts) *Set {
	return &Set{
		Character:  &CharacterRenderer{Assets: assets, Fonts: fonts},
		VisualFeed: &VisualFeedRenderer{Assets: assets, Fonts: fonts},
		Overlay:    &OverlayRenderer{Assets: assets, Fonts: fonts},
		Chat:       &ChatRenderer{Fonts: fonts},
	}
}

// Render implements Renderer.
func (s *Set) Render(dc *gg.Context, content layer.Content, w, h int) (Status, error) {
	if w <= 0 || h <= 0 {
		return Placeholder, fmt.Errorf("%w: %dx%d", ErrInvalidSize, w, h)
	}
	if content == nil {
		return Placeholder, layer.ErrNoContent
	}
	d := dispatch{set: s, dc: dc, w: w, h: h}
	err := content.Accept(&d)
	return d.status, err
}

// dispatch selects the renderer through the content visitor, so a new
// variant cannot be added without a renderer.
type dispatch struct {
	set    *Set
	dc     *gg.Context
	w, h   int
	status Status
}

func (d *dispatch) VisitCharacter(c *layer.Character) (err error) {
	d.status, err = d.set.Character.draw(d.dc, c, d.w, d.h)
	return err
}

func (d *dispatch) VisitVisualFeed(f *layer.VisualFeed) (err error) {
	d.status, err = d.set.VisualFeed.draw(d.dc, f, d.w, d.h)
	return err
}

func (d *dispatch) VisitOverlay(o *layer.Overlay) (err error) {
	d.status, err = d.set.Overlay.draw(d.dc, o, d.w, d.h)
	return err
}

func (d *dispatch) VisitChat(c *layer.Chat) (err error) {
	d.status, err = d.set.Chat.draw(d.dc, c, d.w, d.h)
	return err
}

// mismatch is returned when a variant renderer receives other content.
func mismatch(want string, content layer.Content) error {
	return &UnsupportedError{Variant: want, Kind: fmt.Sprintf("%T", content)}
}

// resource looks ref up without blocking and draws the matching
// placeholder when it is not ready. It returns nil with Placeholder
// status in that case.
func resource(dc *gg.Context, fonts *Fonts, assets *asset.Loader, ref string, w, h int) (*asset.Resource, Status, error) {
	if ref == "" {
		err := &asset.LoadError{Ref: ref, Err: asset.ErrNotFound}
		drawError(dc, fonts, w, h, err)
		return nil, Placeholder, err
	}
	res, state, err := assets.Lookup(ref)
	switch state {
	case asset.StateReady:
		return res, Complete, nil
	case asset.StateLoading:
		drawLoading(dc, fonts, w, h, ref)
		return nil, Placeholder, nil
	default:
		drawError(dc, fonts, w, h, err)
		return nil, Placeholder, err
	}
}
