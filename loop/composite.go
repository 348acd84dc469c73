package loop

import (
	"math"

	"github.com/gogpu/gg"

	"github.com/gogpu/ggstream/cache"
	"github.com/gogpu/ggstream/layer"
)

// layerMatrix maps sub-surface coordinates to frame coordinates:
// translate(position) * rotate(rotation) * scale(scale) * translate(-anchor*size).
func layerMatrix(t layer.Transform, w, h float64) gg.Matrix {
	return gg.Translate(t.Position.X, t.Position.Y).
		Multiply(gg.Rotate(t.Rotation)).
		Multiply(gg.Scale(t.Scale.X, t.Scale.Y)).
		Multiply(gg.Translate(-t.Anchor.X*w, -t.Anchor.Y*h))
}

// composite draws a layer's sub-surface onto the frame with the layer's
// transform and opacity.
//
// Axis-aligned layers go through DrawImageEx. Rotated or flipped layers
// fill the transformed quad with a brush that samples the sub-surface
// through the inverse transform.
func composite(dc *gg.Context, s *cache.Surface, ly *layer.Layer) error {
	t := ly.Transform
	if t.Scale.X == 0 || t.Scale.Y == 0 {
		return nil
	}
	w, h := float64(s.Width()), float64(s.Height())

	if t.IsAxisAligned() {
		dc.DrawImageEx(s.ImageBuf(), gg.DrawImageOptions{
			X:         t.Position.X - t.Anchor.X*w*t.Scale.X,
			Y:         t.Position.Y - t.Anchor.Y*h*t.Scale.Y,
			DstWidth:  w * t.Scale.X,
			DstHeight: h * t.Scale.Y,
			Opacity:   ly.Opacity,
			BlendMode: gg.BlendNormal,
		})
		return nil
	}

	m := layerMatrix(t, w, h)
	inv := m.Invert()
	buf := s.ImageBuf()
	iw, ih := s.Width(), s.Height()
	opacity := ly.Opacity
	brush := gg.NewCustomBrush(func(x, y float64) gg.RGBA {
		p := inv.TransformPoint(gg.Pt(x, y))
		sx, sy := int(math.Floor(p.X)), int(math.Floor(p.Y))
		if sx < 0 || sy < 0 || sx >= iw || sy >= ih {
			return gg.Transparent
		}
		r, g, b, a := buf.GetRGBA(sx, sy)
		return gg.RGBA{
			R: float64(r) / 255,
			G: float64(g) / 255,
			B: float64(b) / 255,
			A: float64(a) / 255 * opacity,
		}
	})

	corners := [4]gg.Point{
		m.TransformPoint(gg.Pt(0, 0)),
		m.TransformPoint(gg.Pt(w, 0)),
		m.TransformPoint(gg.Pt(w, h)),
		m.TransformPoint(gg.Pt(0, h)),
	}
	dc.MoveTo(corners[0].X, corners[0].Y)
	for _, c := range corners[1:] {
		dc.LineTo(c.X, c.Y)
	}
	dc.ClosePath()
	dc.SetFillBrush(brush)
	return dc.Fill()
}
