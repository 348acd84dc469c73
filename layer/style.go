package layer

import "slices"

// Align is the horizontal alignment of text.
type Align string

// Alignments.
const (
	AlignLeft   Align = "left"
	AlignCenter Align = "center"
	AlignRight  Align = "right"
)

// ShapeKind identifies a primitive shape.
type ShapeKind string

// Shape kinds.
const (
	ShapeRect    ShapeKind = "rect"
	ShapeCircle  ShapeKind = "circle"
	ShapePolygon ShapeKind = "polygon"
)

// Shape describes a primitive drawn by a shape overlay. Geometry is
// normalized to the layer size: a rect fills the surface, a circle is
// inscribed in it, and polygon points are in [0,1] x [0,1].
type Shape struct {
	Kind   ShapeKind `json:"kind"`
	Points []Vec     `json:"points,omitempty"`
}

// GradientKind selects a gradient geometry.
type GradientKind string

// Gradient kinds.
const (
	GradientLinear GradientKind = "linear"
	GradientRadial GradientKind = "radial"
)

// ColorStop is a gradient stop. Color uses the same syntax as Style colors.
type ColorStop struct {
	Offset float64 `json:"offset"`
	Color  string  `json:"color"`
}

// Gradient is a fill gradient. From and To are normalized to the layer
// size; for radial gradients From is the center and Radius is normalized
// to the smaller layer dimension.
type Gradient struct {
	Kind   GradientKind `json:"kind"`
	Stops  []ColorStop  `json:"stops"`
	From   Vec          `json:"from"`
	To     Vec          `json:"to"`
	Radius float64      `json:"radius,omitempty"`
}

// Shadow is a blurred drop shadow behind text.
type Shadow struct {
	Color  string  `json:"color"`
	Offset Vec     `json:"offset"`
	Blur   float64 `json:"blur"`
}

// Style holds the drawing attributes of overlay and chat content.
// Colors are "#rgb", "#rrggbb", "#rrggbbaa" or "transparent".
type Style struct {
	Fill         string    `json:"fill,omitempty"`
	Gradient     *Gradient `json:"gradient,omitempty"`
	Stroke       string    `json:"stroke,omitempty"`
	StrokeWidth  float64   `json:"strokeWidth,omitempty"`
	CornerRadius float64   `json:"cornerRadius,omitempty"`

	FontSize        float64 `json:"fontSize,omitempty"`
	Bold            bool    `json:"bold,omitempty"`
	Align           Align   `json:"align,omitempty"`
	TextStroke      string  `json:"textStroke,omitempty"`
	TextStrokeWidth float64 `json:"textStrokeWidth,omitempty"`
	Shadow          *Shadow `json:"shadow,omitempty"`

	Background  string  `json:"background,omitempty"`
	AuthorColor string  `json:"authorColor,omitempty"`
	Padding     float64 `json:"padding,omitempty"`
}

// clone returns a deep copy of the style.
func (s Style) clone() Style {
	out := s
	if s.Gradient != nil {
		g := *s.Gradient
		g.Stops = slices.Clone(s.Gradient.Stops)
		out.Gradient = &g
	}
	if s.Shadow != nil {
		sh := *s.Shadow
		out.Shadow = &sh
	}
	return out
}
