package render

import (
	"image"

	"github.com/gogpu/gg"

	"github.com/gogpu/ggstream/asset"
	"github.com/gogpu/ggstream/layer"
)

// CharacterRenderer draws avatars: the current animation frame of the
// model image, with the texture image drawn over it using the same frame.
type CharacterRenderer struct {
	Assets *asset.Loader
	Fonts  *Fonts
}

// Render implements Renderer.
func (r *CharacterRenderer) Render(dc *gg.Context, content layer.Content, w, h int) (Status, error) {
	c, ok := content.(*layer.Character)
	if !ok {
		return Placeholder, mismatch("character", content)
	}
	return r.draw(dc, c, w, h)
}

func (r *CharacterRenderer) draw(dc *gg.Context, c *layer.Character, w, h int) (Status, error) {
	model, status, err := resource(dc, r.Fonts, r.Assets, c.ModelRef, w, h)
	if model == nil {
		return status, err
	}

	var src image.Rectangle
	if f, ok := c.CurrentFrame(); ok {
		src = image.Rect(f.X, f.Y, f.X+f.W, f.Y+f.H)
	}
	box := image.Rect(0, 0, w, h)
	drawFitted(dc, model, src, box)

	if c.TextureRef == "" {
		return Complete, nil
	}
	tex, state, err := r.Assets.Lookup(c.TextureRef)
	switch state {
	case asset.StateReady:
		drawFitted(dc, tex, src, box)
		return Complete, nil
	case asset.StateLoading:
		return Placeholder, nil
	default:
		// The model stays visible; the frame is not cached so the texture
		// is retried once its failure expires.
		return Placeholder, err
	}
}
