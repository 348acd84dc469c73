package render

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/gogpu/gg"

	"github.com/gogpu/ggstream/asset"
	"github.com/gogpu/ggstream/layer"
)

// Default overlay text attributes.
const (
	DefaultFontSize = 32.0
)

// ErrInvalidShape is returned for shape overlays with missing or
// degenerate geometry.
var ErrInvalidShape = errors.New("render: invalid shape")

// OverlayRenderer draws text, image and shape overlays.
type OverlayRenderer struct {
	Assets *asset.Loader
	Fonts  *Fonts
}

// Render implements Renderer.
func (r *OverlayRenderer) Render(dc *gg.Context, content layer.Content, w, h int) (Status, error) {
	o, ok := content.(*layer.Overlay)
	if !ok {
		return Placeholder, mismatch("overlay", content)
	}
	return r.draw(dc, o, w, h)
}

func (r *OverlayRenderer) draw(dc *gg.Context, o *layer.Overlay, w, h int) (Status, error) {
	var err error
	switch o.Kind {
	case layer.OverlayText:
		err = r.drawText(dc, o, w, h)
	case layer.OverlayImage:
		img, status, lerr := resource(dc, r.Fonts, r.Assets, o.Content, w, h)
		if img == nil {
			return status, lerr
		}
		drawFitted(dc, img, image.Rectangle{}, image.Rect(0, 0, w, h))
		return Complete, nil
	case layer.OverlayShape:
		err = drawShape(dc, o.Shape, &o.Style, float64(w), float64(h))
	default:
		err = &UnsupportedError{Variant: "overlay", Kind: string(o.Kind)}
	}
	if err != nil {
		dc.ClearWithColor(gg.Transparent)
		drawError(dc, r.Fonts, w, h, err)
		return Placeholder, err
	}
	return Complete, nil
}

func (r *OverlayRenderer) drawText(dc *gg.Context, o *layer.Overlay, w, h int) error {
	s := &o.Style
	fill, err := colorOr(s.Fill, white)
	if err != nil {
		return err
	}
	stroke, err := colorOr(s.TextStroke, black)
	if err != nil {
		return err
	}
	shadow, err := resolveShadow(s.Shadow)
	if err != nil {
		return err
	}
	size := s.FontSize
	if size <= 0 {
		size = DefaultFontSize
	}
	fw, fh := float64(w), float64(h)

	if s.Background != "" {
		bg, err := ParseColor(s.Background)
		if err != nil {
			return err
		}
		dc.SetRGBA(bg.R, bg.G, bg.B, bg.A)
		dc.DrawRoundedRectangle(0, 0, fw, fh, s.CornerRadius)
		if err := dc.Fill(); err != nil {
			return err
		}
	}

	face := r.Fonts.Face(size, s.Bold)
	m := face.Metrics()
	st := textStyle{
		face:        face,
		fill:        fill,
		stroke:      stroke,
		strokeWidth: s.TextStrokeWidth,
		shadow:      shadow,
		align:       s.Align,
	}
	pad := s.Padding
	y := (fh-m.LineHeight())/2 + m.Ascent
	drawLine(dc, o.Content, pad, fw-pad, y, st)
	return nil
}

// drawShape fills and strokes a primitive. Geometry is normalized to the
// surface size.
func drawShape(dc *gg.Context, sh *layer.Shape, s *layer.Style, w, h float64) error {
	if sh == nil {
		return fmt.Errorf("%w: missing geometry", ErrInvalidShape)
	}
	// Inset by half the stroke so the outline stays inside the surface.
	inset := 0.0
	if s.Stroke != "" && s.StrokeWidth > 0 {
		inset = s.StrokeWidth / 2
	}
	path := func() error {
		switch sh.Kind {
		case layer.ShapeRect:
			if s.CornerRadius > 0 {
				dc.DrawRoundedRectangle(inset, inset, w-2*inset, h-2*inset, s.CornerRadius)
			} else {
				dc.DrawRectangle(inset, inset, w-2*inset, h-2*inset)
			}
		case layer.ShapeCircle:
			dc.DrawCircle(w/2, h/2, math.Min(w, h)/2-inset)
		case layer.ShapePolygon:
			if len(sh.Points) < 3 {
				return fmt.Errorf("%w: polygon needs 3 points, got %d", ErrInvalidShape, len(sh.Points))
			}
			for i, p := range sh.Points {
				x, y := p.X*w, p.Y*h
				if i == 0 {
					dc.MoveTo(x, y)
				} else {
					dc.LineTo(x, y)
				}
			}
			dc.ClosePath()
		default:
			return &UnsupportedError{Variant: "shape", Kind: string(sh.Kind)}
		}
		return nil
	}

	fill, err := fillBrush(s, w, h)
	if err != nil {
		return err
	}
	if fill != nil {
		if err := path(); err != nil {
			return err
		}
		dc.SetFillBrush(fill)
		if err := dc.Fill(); err != nil {
			return err
		}
	}
	if s.Stroke != "" && s.StrokeWidth > 0 {
		c, err := ParseColor(s.Stroke)
		if err != nil {
			return err
		}
		if err := path(); err != nil {
			return err
		}
		dc.SetRGBA(c.R, c.G, c.B, c.A)
		dc.SetLineWidth(s.StrokeWidth)
		if err := dc.Stroke(); err != nil {
			return err
		}
	}
	if fill == nil && (s.Stroke == "" || s.StrokeWidth <= 0) {
		return fmt.Errorf("%w: no fill or stroke", ErrInvalidShape)
	}
	return nil
}

// fillBrush returns the gradient or solid fill of s, or nil when the
// style has neither.
func fillBrush(s *layer.Style, w, h float64) (gg.Brush, error) {
	if g := s.Gradient; g != nil {
		if len(g.Stops) == 0 {
			return nil, fmt.Errorf("%w: gradient without stops", ErrInvalidShape)
		}
		switch g.Kind {
		case layer.GradientLinear:
			b := gg.NewLinearGradientBrush(g.From.X*w, g.From.Y*h, g.To.X*w, g.To.Y*h)
			for _, st := range g.Stops {
				c, err := ParseColor(st.Color)
				if err != nil {
					return nil, err
				}
				b.AddColorStop(st.Offset, c)
			}
			return b, nil
		case layer.GradientRadial:
			radius := g.Radius
			if radius <= 0 {
				radius = 0.5
			}
			b := gg.NewRadialGradientBrush(g.From.X*w, g.From.Y*h, 0, radius*math.Min(w, h))
			for _, st := range g.Stops {
				c, err := ParseColor(st.Color)
				if err != nil {
					return nil, err
				}
				b.AddColorStop(st.Offset, c)
			}
			return b, nil
		default:
			return nil, &UnsupportedError{Variant: "gradient", Kind: string(g.Kind)}
		}
	}
	if s.Fill == "" {
		return nil, nil
	}
	c, err := ParseColor(s.Fill)
	if err != nil {
		return nil, err
	}
	return gg.Solid(c), nil
}
