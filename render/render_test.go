package render

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/gogpu/gg"

	"github.com/gogpu/ggstream/asset"
	"github.com/gogpu/ggstream/layer"
)

var (
	red  = color.NRGBA{R: 255, A: 255}
	blue = color.NRGBA{B: 255, A: 255}
)

// sheetPNG encodes a w x h image whose left half is left and right half is right.
func sheetPNG(t *testing.T, w, h int, left, right color.Color) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			c := left
			if x >= w/2 {
				c = right
			}
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

type fixture struct {
	src    *asset.MemorySource
	assets *asset.Loader
	fonts  *Fonts
	set    *Set
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fonts, err := NewFonts()
	if err != nil {
		t.Fatal(err)
	}
	src := asset.NewMemorySource()
	assets := asset.NewLoader(src)
	t.Cleanup(assets.Close)
	return &fixture{src: src, assets: assets, fonts: fonts, set: NewSet(assets, fonts)}
}

// put stores data under ref and loads it so Lookup reports it ready.
func (f *fixture) put(t *testing.T, ref string, data []byte) {
	t.Helper()
	f.src.Put(ref, data)
	if _, err := f.assets.Load(context.Background(), ref); err != nil {
		t.Fatal(err)
	}
}

func surface(w, h int) (*gg.Context, *gg.Pixmap) {
	pm := gg.NewPixmap(w, h)
	return gg.NewContext(w, h, gg.WithPixmap(pm)), pm
}

func isColor(c gg.RGBA, r, g, b float64) bool {
	const tol = 0.1
	near := func(a, b float64) bool { return a > b-tol && a < b+tol }
	return c.A > 0.9 && near(c.R, r) && near(c.G, g) && near(c.B, b)
}

func painted(pm *gg.Pixmap) int {
	n := 0
	for y := range pm.Height() {
		for x := range pm.Width() {
			if pm.GetPixel(x, y).A > 0 {
				n++
			}
		}
	}
	return n
}

func TestParseColor(t *testing.T) {
	tests := []struct {
		in      string
		want    gg.RGBA
		wantErr bool
	}{
		{"#ff0000", gg.RGBA{R: 1, A: 1}, false},
		{"#0F0", gg.RGBA{G: 1, A: 1}, false},
		{"#0000ff80", gg.RGBA{B: 1, A: 128.0 / 255}, false},
		{" transparent ", gg.Transparent, false},
		{"red", gg.RGBA{}, true},
		{"#12345", gg.RGBA{}, true},
		{"#gg0000", gg.RGBA{}, true},
		{"#ff0000zz", gg.RGBA{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseColor(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrBadColor) {
					t.Fatalf("ParseColor(%q) error = %v, want ErrBadColor", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("ParseColor(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestAuthorColorStable(t *testing.T) {
	if AuthorColor("ann") != AuthorColor("ann") {
		t.Error("author color not deterministic")
	}
	if AuthorColor("ann") == AuthorColor("bob") {
		t.Error("different authors share a color")
	}
}

func TestFitRect(t *testing.T) {
	box := image.Rect(0, 0, 200, 100)
	tests := []struct {
		name       string
		srcW, srcH int
		want       image.Rectangle
	}{
		{"wide fills width", 400, 100, image.Rect(0, 25, 200, 75)},
		{"tall fills height", 50, 100, image.Rect(75, 0, 125, 100)},
		{"small is scaled up", 20, 10, image.Rect(0, 0, 200, 100)},
		{"empty", 0, 10, image.Rectangle{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FitRect(tt.srcW, tt.srcH, box); got != tt.want {
				t.Errorf("FitRect = %v, want %v", got, tt.want)
			}
		})
	}
	if got := FitRect(10, 10, image.Rect(100, 50, 140, 70)); got != image.Rect(110, 50, 130, 70) {
		t.Errorf("offset box: %v", got)
	}
}

func TestTruncate(t *testing.T) {
	f := newFixture(t)
	face := f.fonts.Face(16, false)
	s := "the quick brown fox jumps over the lazy dog"
	if got := truncate(face, s, 1e6); got != s {
		t.Errorf("fitting text changed: %q", got)
	}
	short := truncate(face, s, 80)
	if face.Advance(short) > 80 {
		t.Errorf("%q is %.1f wide, limit 80", short, face.Advance(short))
	}
	if !strings.HasSuffix(short, ellipsis) {
		t.Errorf("missing ellipsis: %q", short)
	}
	// Combining marks stay attached to their base.
	accented := strings.Repeat("e\u0301", 8)
	two := "e\u0301e\u0301"
	if got := truncate(face, accented, face.Advance(two)+face.Advance(ellipsis)); got != two+ellipsis {
		t.Errorf("grapheme truncation = %q", got)
	}
	if truncate(face, s, 0) != "" {
		t.Error("zero width should yield empty string")
	}
}

func TestSetRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	dc, _ := surface(10, 10)
	if _, err := f.set.Render(dc, &layer.Overlay{Kind: layer.OverlayText}, 0, 10); !errors.Is(err, ErrInvalidSize) {
		t.Errorf("zero width: %v", err)
	}
	if _, err := f.set.Render(dc, nil, 10, 10); !errors.Is(err, layer.ErrNoContent) {
		t.Errorf("nil content: %v", err)
	}
	var ue *UnsupportedError
	if _, err := f.set.Character.Render(dc, &layer.Chat{}, 10, 10); !errors.As(err, &ue) {
		t.Errorf("variant mismatch: %v", err)
	}
}

func TestOverlayText(t *testing.T) {
	f := newFixture(t)
	dc, pm := surface(200, 60)
	o := &layer.Overlay{Kind: layer.OverlayText, Content: "Hello", Style: layer.Style{
		FontSize:        28,
		Fill:            "#ffffff",
		TextStroke:      "#000000",
		TextStrokeWidth: 2,
		Shadow:          &layer.Shadow{Color: "#00000099", Offset: layer.Vec{X: 2, Y: 2}, Blur: 2},
	}}
	st, err := f.set.Render(dc, o, 200, 60)
	if err != nil || st != Complete {
		t.Fatalf("Render = %s, %v", st, err)
	}
	if painted(pm) == 0 {
		t.Error("no text pixels drawn")
	}
}

func TestOverlayShapes(t *testing.T) {
	tests := []struct {
		name   string
		shape  *layer.Shape
		style  layer.Style
		inside image.Point
		want   [3]float64
		empty  *image.Point // a pixel expected to stay transparent
	}{
		{
			name:   "rect",
			shape:  &layer.Shape{Kind: layer.ShapeRect},
			style:  layer.Style{Fill: "#ff0000"},
			inside: image.Pt(50, 50),
			want:   [3]float64{1, 0, 0},
		},
		{
			name:   "rounded rect",
			shape:  &layer.Shape{Kind: layer.ShapeRect},
			style:  layer.Style{Fill: "#00ff00", CornerRadius: 30},
			inside: image.Pt(50, 50),
			want:   [3]float64{0, 1, 0},
			empty:  &image.Point{X: 1, Y: 1},
		},
		{
			name:   "circle",
			shape:  &layer.Shape{Kind: layer.ShapeCircle},
			style:  layer.Style{Fill: "#0000ff"},
			inside: image.Pt(50, 50),
			want:   [3]float64{0, 0, 1},
			empty:  &image.Point{X: 2, Y: 2},
		},
		{
			name: "polygon",
			shape: &layer.Shape{Kind: layer.ShapePolygon, Points: []layer.Vec{
				{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 0, Y: 1},
			}},
			style:  layer.Style{Fill: "#ffffff"},
			inside: image.Pt(20, 20),
			want:   [3]float64{1, 1, 1},
			empty:  &image.Point{X: 90, Y: 90},
		},
		{
			name:  "stroke only",
			shape: &layer.Shape{Kind: layer.ShapeRect},
			style: layer.Style{Stroke: "#ff0000", StrokeWidth: 8},
			// The stroke is inset so it stays fully inside the surface.
			inside: image.Pt(4, 50),
			want:   [3]float64{1, 0, 0},
			empty:  &image.Point{X: 50, Y: 50},
		},
	}
	f := newFixture(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dc, pm := surface(100, 100)
			o := &layer.Overlay{Kind: layer.OverlayShape, Shape: tt.shape, Style: tt.style}
			st, err := f.set.Render(dc, o, 100, 100)
			if err != nil || st != Complete {
				t.Fatalf("Render = %s, %v", st, err)
			}
			if got := pm.GetPixel(tt.inside.X, tt.inside.Y); !isColor(got, tt.want[0], tt.want[1], tt.want[2]) {
				t.Errorf("pixel %v = %+v, want %v", tt.inside, got, tt.want)
			}
			if tt.empty != nil {
				if got := pm.GetPixel(tt.empty.X, tt.empty.Y); got.A > 0.05 {
					t.Errorf("pixel %v = %+v, want transparent", *tt.empty, got)
				}
			}
		})
	}
}

func TestOverlayGradient(t *testing.T) {
	f := newFixture(t)
	dc, pm := surface(100, 20)
	o := &layer.Overlay{Kind: layer.OverlayShape, Shape: &layer.Shape{Kind: layer.ShapeRect}, Style: layer.Style{
		Gradient: &layer.Gradient{
			Kind:  layer.GradientLinear,
			From:  layer.Vec{X: 0, Y: 0.5},
			To:    layer.Vec{X: 1, Y: 0.5},
			Stops: []layer.ColorStop{{Offset: 0, Color: "#ff0000"}, {Offset: 1, Color: "#0000ff"}},
		},
	}}
	if st, err := f.set.Render(dc, o, 100, 20); err != nil || st != Complete {
		t.Fatalf("Render = %s, %v", st, err)
	}
	left, right := pm.GetPixel(2, 10), pm.GetPixel(97, 10)
	if left.R <= left.B || right.B <= right.R {
		t.Errorf("gradient not left red to right blue: left %+v right %+v", left, right)
	}

	dc, pm = surface(100, 100)
	o.Style.Gradient = &layer.Gradient{
		Kind:  layer.GradientRadial,
		From:  layer.Vec{X: 0.5, Y: 0.5},
		Stops: []layer.ColorStop{{Offset: 0, Color: "#ffffff"}, {Offset: 1, Color: "#000000"}},
	}
	if _, err := f.set.Render(dc, o, 100, 100); err != nil {
		t.Fatal(err)
	}
	if c, e := pm.GetPixel(50, 50), pm.GetPixel(50, 95); c.R <= e.R {
		t.Errorf("radial center %+v not lighter than edge %+v", c, e)
	}
}

func TestOverlayErrors(t *testing.T) {
	tests := []struct {
		name    string
		overlay *layer.Overlay
		check   func(error) bool
	}{
		{"unknown overlay kind", &layer.Overlay{Kind: "video"}, isUnsupported("overlay")},
		{"unknown shape kind", &layer.Overlay{Kind: layer.OverlayShape, Shape: &layer.Shape{Kind: "star"}, Style: layer.Style{Fill: "#fff"}}, isUnsupported("shape")},
		{"unknown gradient kind", &layer.Overlay{Kind: layer.OverlayShape, Shape: &layer.Shape{Kind: layer.ShapeRect}, Style: layer.Style{
			Gradient: &layer.Gradient{Kind: "conic", Stops: []layer.ColorStop{{Color: "#fff"}}},
		}}, isUnsupported("gradient")},
		{"missing shape", &layer.Overlay{Kind: layer.OverlayShape}, is(ErrInvalidShape)},
		{"degenerate polygon", &layer.Overlay{Kind: layer.OverlayShape, Shape: &layer.Shape{Kind: layer.ShapePolygon, Points: []layer.Vec{{}, {X: 1}}}, Style: layer.Style{Fill: "#fff"}}, is(ErrInvalidShape)},
		{"no paint", &layer.Overlay{Kind: layer.OverlayShape, Shape: &layer.Shape{Kind: layer.ShapeCircle}}, is(ErrInvalidShape)},
		{"bad text color", &layer.Overlay{Kind: layer.OverlayText, Content: "x", Style: layer.Style{Fill: "nope"}}, is(ErrBadColor)},
	}
	f := newFixture(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dc, pm := surface(60, 60)
			st, err := f.set.Render(dc, tt.overlay, 60, 60)
			if !tt.check(err) {
				t.Fatalf("unexpected error %v", err)
			}
			if st != Placeholder {
				t.Errorf("status = %s, want placeholder", st)
			}
			if painted(pm) == 0 {
				t.Error("error placeholder not drawn")
			}
		})
	}
}

func is(target error) func(error) bool {
	return func(err error) bool { return errors.Is(err, target) }
}

func isUnsupported(variant string) func(error) bool {
	return func(err error) bool {
		var ue *UnsupportedError
		return errors.As(err, &ue) && ue.Variant == variant
	}
}

func TestOverlayImage(t *testing.T) {
	f := newFixture(t)
	f.put(t, "logo.png", sheetPNG(t, 10, 10, red, red))
	dc, pm := surface(40, 20)
	o := &layer.Overlay{Kind: layer.OverlayImage, Content: "logo.png"}
	if st, err := f.set.Render(dc, o, 40, 20); err != nil || st != Complete {
		t.Fatalf("Render = %s, %v", st, err)
	}
	if !isColor(pm.GetPixel(20, 10), 1, 0, 0) {
		t.Errorf("center = %+v", pm.GetPixel(20, 10))
	}
	if pm.GetPixel(2, 10).A > 0 {
		t.Error("letterbox area painted")
	}
}

func TestCharacterLoadingThenReady(t *testing.T) {
	f := newFixture(t)
	f.src.Put("host.png", sheetPNG(t, 8, 8, red, red))
	ch := &layer.Character{ModelRef: "host.png"}

	dc, pm := surface(32, 32)
	st, err := f.set.Render(dc, ch, 32, 32)
	if err != nil || st != Placeholder {
		t.Fatalf("first render = %s, %v; want placeholder", st, err)
	}
	if painted(pm) == 0 {
		t.Error("loading placeholder not drawn")
	}

	if _, err := f.assets.Load(context.Background(), "host.png"); err != nil {
		t.Fatal(err)
	}
	dc, pm = surface(32, 32)
	if st, err := f.set.Render(dc, ch, 32, 32); err != nil || st != Complete {
		t.Fatalf("second render = %s, %v", st, err)
	}
	if !isColor(pm.GetPixel(16, 16), 1, 0, 0) {
		t.Errorf("center = %+v", pm.GetPixel(16, 16))
	}
}

func TestCharacterAnimationFrame(t *testing.T) {
	f := newFixture(t)
	f.put(t, "sheet.png", sheetPNG(t, 16, 8, red, blue))
	ch := &layer.Character{
		ModelRef: "sheet.png",
		Animations: map[string]layer.Animation{
			"idle": {Frame: layer.Rect{X: 0, Y: 0, W: 8, H: 8}},
			"talk": {Frame: layer.Rect{X: 8, Y: 0, W: 8, H: 8}},
		},
	}
	for anim, want := range map[string][3]float64{"idle": {1, 0, 0}, "talk": {0, 0, 1}} {
		ch.Current = anim
		dc, pm := surface(32, 32)
		if _, err := f.set.Render(dc, ch, 32, 32); err != nil {
			t.Fatal(err)
		}
		if got := pm.GetPixel(16, 16); !isColor(got, want[0], want[1], want[2]) {
			t.Errorf("%s: center = %+v", anim, got)
		}
	}
}

func TestCharacterMissingModel(t *testing.T) {
	f := newFixture(t)
	if _, err := f.assets.Load(context.Background(), "ghost.png"); err == nil {
		t.Fatal("expected load failure")
	}
	dc, pm := surface(32, 32)
	st, err := f.set.Render(dc, &layer.Character{ModelRef: "ghost.png"}, 32, 32)
	if st != Placeholder || !errors.Is(err, asset.ErrNotFound) {
		t.Fatalf("Render = %s, %v", st, err)
	}
	if painted(pm) == 0 {
		t.Error("error placeholder not drawn")
	}
}

func TestCharacterTextureLoading(t *testing.T) {
	f := newFixture(t)
	f.put(t, "body.png", sheetPNG(t, 8, 8, red, red))
	f.src.Put("skin.png", sheetPNG(t, 8, 8, blue, blue))
	dc, _ := surface(16, 16)
	st, err := f.set.Render(dc, &layer.Character{ModelRef: "body.png", TextureRef: "skin.png"}, 16, 16)
	if err != nil || st != Placeholder {
		t.Errorf("texture pending: %s, %v; want placeholder", st, err)
	}
}

func TestVisualFeed(t *testing.T) {
	f := newFixture(t)
	f.put(t, "nft.png", sheetPNG(t, 10, 10, red, red))
	dc, pm := surface(120, 160)
	feed := &layer.VisualFeed{ImageRef: "nft.png", Metadata: map[string]string{
		MetaTitle:    "Punk #42",
		MetaSubtitle: "Current bid 1.5 ETH",
	}}
	if st, err := f.set.Render(dc, feed, 120, 160); err != nil || st != Complete {
		t.Fatalf("Render = %s, %v", st, err)
	}
	if !isColor(pm.GetPixel(60, 40), 1, 0, 0) {
		t.Errorf("image area = %+v", pm.GetPixel(60, 40))
	}
	if band := pm.GetPixel(1, 158); band.A < 0.3 || band.R > 0.2 {
		t.Errorf("caption band = %+v", band)
	}

	dc, _ = surface(50, 50)
	if st, err := f.set.Render(dc, &layer.VisualFeed{}, 50, 50); st != Placeholder || !errors.Is(err, asset.ErrNotFound) {
		t.Errorf("empty ref: %s, %v", st, err)
	}
}

func TestChat(t *testing.T) {
	f := newFixture(t)
	c := layer.NewChat(10, layer.Style{FontSize: 14, Background: "#10101080"})
	c.Append(
		layer.Message{Author: "ann", Text: "gm"},
		layer.Message{Author: "bob", Text: "this message is far too long to fit on one line of a narrow chat panel", Color: "#ff8800"},
	)
	dc, pm := surface(160, 120)
	if st, err := f.set.Render(dc, c, 160, 120); err != nil || st != Complete {
		t.Fatalf("Render = %s, %v", st, err)
	}
	if painted(pm) == 0 {
		t.Error("nothing drawn")
	}

	c.Style.Background = "#zz"
	dc, _ = surface(160, 120)
	if st, err := f.set.Render(dc, c, 160, 120); st != Placeholder || !errors.Is(err, ErrBadColor) {
		t.Errorf("bad style: %s, %v", st, err)
	}
}
