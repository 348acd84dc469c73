package render

import (
	"image"
	"math"
	"strings"

	"github.com/anthonynsimon/bild/blur"
	"github.com/gogpu/gg"
	"github.com/gogpu/gg/text"
	"github.com/rivo/uniseg"

	"github.com/gogpu/ggstream/layer"
)

// textStyle is a resolved layer.Style for a single line of text.
type textStyle struct {
	face        text.Face
	fill        gg.RGBA
	stroke      gg.RGBA
	strokeWidth float64
	shadow      *shadowStyle
	align       layer.Align
}

type shadowStyle struct {
	color  gg.RGBA
	dx, dy float64
	blur   float64
}

// strokeSteps is the number of offset copies used to outline text.
const strokeSteps = 12

func resolveShadow(s *layer.Shadow) (*shadowStyle, error) {
	if s == nil {
		return nil, nil
	}
	c, err := colorOr(s.Color, gg.RGBA{A: 0.6})
	if err != nil {
		return nil, err
	}
	return &shadowStyle{color: c, dx: s.Offset.X, dy: s.Offset.Y, blur: math.Max(0, s.Blur)}, nil
}

// alignX returns the left edge of a line of width tw in [left, right].
func alignX(a layer.Align, left, right, tw float64) float64 {
	switch a {
	case layer.AlignLeft:
		return left
	case layer.AlignRight:
		return right - tw
	default:
		return left + (right-left-tw)/2
	}
}

// drawLine draws s with its baseline at y, aligned within [left, right],
// applying shadow, stroke and fill in that order.
func drawLine(dc *gg.Context, s string, left, right, y float64, st textStyle) {
	if s == "" {
		return
	}
	dc.SetFont(st.face)
	tw, _ := dc.MeasureString(s)
	x := alignX(st.align, left, right, tw)

	if st.shadow != nil {
		drawShadow(dc, s, x, y, st)
	}
	if st.strokeWidth > 0 && st.stroke.A > 0 {
		dc.SetRGBA(st.stroke.R, st.stroke.G, st.stroke.B, st.stroke.A)
		for i := range strokeSteps {
			a := 2 * math.Pi * float64(i) / strokeSteps
			dc.DrawString(s, x+st.strokeWidth*math.Cos(a), y+st.strokeWidth*math.Sin(a))
		}
	}
	dc.SetRGBA(st.fill.R, st.fill.G, st.fill.B, st.fill.A)
	dc.DrawString(s, x, y)
}

// drawShadow renders the text into a scratch image, blurs it and draws
// it under the text.
func drawShadow(dc *gg.Context, s string, x, y float64, st textStyle) {
	w, h := dc.Width(), dc.Height()
	scratch := image.NewRGBA(image.Rect(0, 0, w, h))
	c := st.shadow.color
	text.Draw(scratch, s, st.face, x+st.shadow.dx, y+st.shadow.dy, c.Color())
	var img image.Image = scratch
	if st.shadow.blur > 0 {
		img = blur.Gaussian(scratch, st.shadow.blur)
	}
	dc.DrawImage(gg.ImageBufFromImage(img), 0, 0)
}

const ellipsis = "…"

// truncate shortens s to fit maxWidth when drawn with face, cutting at
// grapheme cluster boundaries and appending an ellipsis.
func truncate(face text.Face, s string, maxWidth float64) string {
	if maxWidth <= 0 {
		return ""
	}
	if face.Advance(s) <= maxWidth {
		return s
	}
	limit := maxWidth - face.Advance(ellipsis)
	var b strings.Builder
	g := uniseg.NewGraphemes(s)
	for g.Next() {
		cluster := g.Str()
		if face.Advance(b.String()+cluster) > limit {
			break
		}
		b.WriteString(cluster)
	}
	if b.Len() == 0 {
		return ""
	}
	return strings.TrimRight(b.String(), " ") + ellipsis
}
