package render

import (
	"image"

	"github.com/gogpu/gg"

	"github.com/gogpu/ggstream/asset"
	"github.com/gogpu/ggstream/layer"
)

// Metadata keys drawn as the caption of a visual feed.
const (
	MetaTitle    = "title"
	MetaSubtitle = "subtitle"
)

// VisualFeedRenderer draws the feed image fitted into the surface with
// an optional caption band built from its metadata.
type VisualFeedRenderer struct {
	Assets *asset.Loader
	Fonts  *Fonts
}

// Render implements Renderer.
func (r *VisualFeedRenderer) Render(dc *gg.Context, content layer.Content, w, h int) (Status, error) {
	f, ok := content.(*layer.VisualFeed)
	if !ok {
		return Placeholder, mismatch("visual-feed", content)
	}
	return r.draw(dc, f, w, h)
}

func (r *VisualFeedRenderer) draw(dc *gg.Context, f *layer.VisualFeed, w, h int) (Status, error) {
	title, subtitle := f.Metadata[MetaTitle], f.Metadata[MetaSubtitle]
	fw, fh := float64(w), float64(h)

	titleSize := max(10, min(32, fh/12))
	titleFace := r.Fonts.Face(titleSize, true)
	subFace := r.Fonts.Face(titleSize*0.7, false)
	band := 0.0
	if title != "" {
		band += titleFace.Metrics().LineHeight()
	}
	if subtitle != "" {
		band += subFace.Metrics().LineHeight()
	}
	if band > 0 {
		band += titleSize * 0.6
	}
	imgBox := image.Rect(0, 0, w, max(1, h-int(band)))

	img, status, err := resource(dc, r.Fonts, r.Assets, f.ImageRef, w, imgBox.Dy())
	if img != nil {
		drawFitted(dc, img, image.Rectangle{}, imgBox)
	}
	if band == 0 {
		return status, err
	}

	top := fh - band
	dc.SetRGBA(0, 0, 0, 0.55)
	dc.DrawRectangle(0, top, fw, band)
	_ = dc.Fill()

	pad := titleSize * 0.3
	y := top + pad
	st := textStyle{face: titleFace, fill: white, align: layer.AlignCenter}
	if title != "" {
		y += titleFace.Metrics().Ascent
		drawLine(dc, truncate(titleFace, title, fw-2*pad), pad, fw-pad, y, st)
		y += titleFace.Metrics().Descent + titleFace.Metrics().LineGap
	}
	if subtitle != "" {
		st.face = subFace
		st.fill = withAlpha(white, 0.8)
		y += subFace.Metrics().Ascent
		drawLine(dc, truncate(subFace, subtitle, fw-2*pad), pad, fw-pad, y, st)
	}
	return status, err
}
