package main

import (
	"bytes"
	"fmt"
	"image/png"
	"time"

	"github.com/gogpu/gg"

	"github.com/gogpu/ggstream/asset"
	"github.com/gogpu/ggstream/layer"
	"github.com/gogpu/ggstream/scene"
)

const (
	demoFeed = "demo/feed.png"
	demoHost = "demo/host.png"

	// Each frame of the host sprite sheet is demoFrame pixels square.
	demoFrame = 128
)

// demoAssets draws the images used by the demo scene.
func demoAssets() (*asset.MemorySource, error) {
	src := asset.NewMemorySource()

	feed := gg.NewContext(640, 360)
	bg := gg.NewLinearGradientBrush(0, 0, 640, 360).
		AddColorStop(0, gg.RGBA{R: 0.08, G: 0.12, B: 0.30, A: 1}).
		AddColorStop(1, gg.RGBA{R: 0.35, G: 0.10, B: 0.40, A: 1})
	feed.DrawRectangle(0, 0, 640, 360)
	feed.SetFillBrush(bg)
	if err := feed.Fill(); err != nil {
		return nil, err
	}
	for i := range 6 {
		feed.SetRGBA(1, 1, 1, 0.08)
		feed.DrawCircle(80+float64(i)*100, 180, 40+float64(i%3)*15)
		if err := feed.Fill(); err != nil {
			return nil, err
		}
	}

	// Two frames side by side: idle with a closed mouth, talk with an open one.
	host := gg.NewContext(2*demoFrame, demoFrame)
	for i := range 2 {
		x := float64(i * demoFrame)
		host.SetRGB(0.95, 0.80, 0.65)
		host.DrawCircle(x+demoFrame/2, demoFrame/2, demoFrame*0.42)
		if err := host.Fill(); err != nil {
			return nil, err
		}
		host.SetRGB(0.1, 0.1, 0.1)
		host.DrawCircle(x+demoFrame*0.36, demoFrame*0.42, 6)
		host.DrawCircle(x+demoFrame*0.64, demoFrame*0.42, 6)
		if err := host.Fill(); err != nil {
			return nil, err
		}
		mouth := 3.0
		if i == 1 {
			mouth = 14
		}
		host.SetRGB(0.6, 0.1, 0.15)
		host.DrawRoundedRectangle(x+demoFrame*0.38, demoFrame*0.66, demoFrame*0.24, mouth, 3)
		if err := host.Fill(); err != nil {
			return nil, err
		}
	}

	for ref, dc := range map[string]*gg.Context{demoFeed: feed, demoHost: host} {
		var buf bytes.Buffer
		if err := png.Encode(&buf, dc.Image()); err != nil {
			return nil, fmt.Errorf("demo asset %s: %w", ref, err)
		}
		src.Put(ref, buf.Bytes())
	}
	return src, nil
}

// seedDemo fills the registry with a feed backdrop, a lower third, a
// talking host and a chat panel.
func seedDemo(reg *scene.Registry, w, h int) error {
	fw, fh := float64(w), float64(h)
	identity := layer.IdentityTransform()
	at := func(x, y float64) layer.Transform {
		t := identity
		t.Position = layer.Vec{X: x, Y: y}
		return t
	}

	feed := &layer.VisualFeed{
		ImageRef: demoFeed,
		Metadata: map[string]string{"title": "ggstream", "subtitle": "live compositor demo"},
	}
	banner := &layer.Overlay{
		Kind:  layer.OverlayShape,
		Shape: &layer.Shape{Kind: layer.ShapeRect},
		Style: layer.Style{
			CornerRadius: 12,
			Gradient: &layer.Gradient{
				Kind: layer.GradientLinear,
				From: layer.Vec{X: 0, Y: 0},
				To:   layer.Vec{X: 1, Y: 0},
				Stops: []layer.ColorStop{
					{Offset: 0, Color: "#1e3a8acc"},
					{Offset: 1, Color: "#7c3aed99"},
				},
			},
		},
	}
	title := &layer.Overlay{
		Kind:    layer.OverlayText,
		Content: "Hello",
		Style: layer.Style{
			Fill:            "#ffffff",
			FontSize:        36,
			Bold:            true,
			Align:           layer.AlignLeft,
			TextStroke:      "#000000",
			TextStrokeWidth: 2,
			Shadow:          &layer.Shadow{Color: "#00000099", Offset: layer.Vec{X: 2, Y: 2}, Blur: 3},
		},
	}
	host := &layer.Character{
		ModelRef: demoHost,
		Animations: map[string]layer.Animation{
			"idle": {Frame: layer.Rect{W: demoFrame, H: demoFrame}},
			"talk": {Frame: layer.Rect{X: demoFrame, W: demoFrame, H: demoFrame}},
		},
		Current: "idle",
	}
	chat := layer.NewChat(8, layer.Style{FontSize: 16, Fill: "#ffffff", Background: "#00000080", Padding: 8})
	now := time.Now()
	chat.Append(
		layer.Message{Author: "ada", Text: "first!", At: now},
		layer.Message{Author: "grace", Text: "the compositor is live", At: now},
	)

	type entry struct {
		kind    layer.Kind
		content layer.Content
		opts    []scene.CreateOption
	}
	bannerW, bannerH := fw*0.5, fh*0.12
	hostSize := int(fh * 0.3)
	for _, s := range []entry{
		{layer.KindVisualFeed, feed, []scene.CreateOption{scene.WithName("backdrop")}},
		{layer.KindOverlay, banner, []scene.CreateOption{
			scene.WithName("lower-third"),
			scene.WithSize(int(bannerW), int(bannerH)),
			scene.WithTransform(at(fw*0.05, fh*0.80)),
		}},
		{layer.KindOverlay, title, []scene.CreateOption{
			scene.WithName("title"),
			scene.WithSize(int(bannerW), int(bannerH)),
			scene.WithTransform(at(fw*0.07, fh*0.80)),
		}},
		{layer.KindHost, host, []scene.CreateOption{
			scene.WithName("host"),
			scene.WithSize(hostSize, hostSize),
			scene.WithTransform(at(fw*0.95-float64(hostSize), fh*0.62)),
		}},
		{layer.KindChat, chat, []scene.CreateOption{
			scene.WithName("chat"),
			scene.WithSize(int(fw*0.28), int(fh*0.5)),
			scene.WithTransform(at(fw*0.70, fh*0.05)),
			scene.WithOpacity(0.9),
		}},
	} {
		if _, _, err := reg.Create(s.kind, s.content, s.opts...); err != nil {
			return fmt.Errorf("demo scene: %w", err)
		}
	}
	return nil
}
