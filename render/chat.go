package render

import (
	"github.com/gogpu/gg"

	"github.com/gogpu/ggstream/layer"
)

// Default chat attributes.
const (
	DefaultChatFontSize = 20.0
	DefaultChatPadding  = 12.0
)

var defaultChatBackground = gg.RGBA{A: 0.5}

// ChatRenderer draws the most recent chat messages bottom-up, one line
// per message, newest at the bottom. Lines that do not fit the width are
// truncated; messages that do not fit the height are not drawn.
type ChatRenderer struct {
	Fonts *Fonts
}

// Render implements Renderer.
func (r *ChatRenderer) Render(dc *gg.Context, content layer.Content, w, h int) (Status, error) {
	c, ok := content.(*layer.Chat)
	if !ok {
		return Placeholder, mismatch("chat", content)
	}
	return r.draw(dc, c, w, h)
}

func (r *ChatRenderer) draw(dc *gg.Context, c *layer.Chat, w, h int) (Status, error) {
	if err := r.drawMessages(dc, c, w, h); err != nil {
		dc.ClearWithColor(gg.Transparent)
		drawError(dc, r.Fonts, w, h, err)
		return Placeholder, err
	}
	return Complete, nil
}

func (r *ChatRenderer) drawMessages(dc *gg.Context, c *layer.Chat, w, h int) error {
	s := &c.Style
	bg, err := colorOr(s.Background, defaultChatBackground)
	if err != nil {
		return err
	}
	fill, err := colorOr(s.Fill, white)
	if err != nil {
		return err
	}
	var author *gg.RGBA
	if s.AuthorColor != "" {
		a, err := ParseColor(s.AuthorColor)
		if err != nil {
			return err
		}
		author = &a
	}
	size := s.FontSize
	if size <= 0 {
		size = DefaultChatFontSize
	}
	pad := s.Padding
	if pad <= 0 {
		pad = DefaultChatPadding
	}
	fw, fh := float64(w), float64(h)

	dc.SetRGBA(bg.R, bg.G, bg.B, bg.A)
	dc.DrawRoundedRectangle(0, 0, fw, fh, s.CornerRadius)
	if err := dc.Fill(); err != nil {
		return err
	}

	nameFace := r.Fonts.Face(size, true)
	bodyFace := r.Fonts.Face(size, s.Bold)
	m := bodyFace.Metrics()
	step := m.LineHeight() * 1.15
	right := fw - pad

	baseline := fh - pad - m.Descent
	for i := len(c.Messages) - 1; i >= 0 && baseline-m.Ascent >= pad; i-- {
		msg := c.Messages[i]
		ac := AuthorColor(msg.Author)
		switch {
		case msg.Color != "":
			if mc, err := ParseColor(msg.Color); err == nil {
				ac = mc
			}
		case author != nil:
			ac = *author
		}

		x := pad
		if msg.Author != "" {
			name := truncate(nameFace, msg.Author+":", right-x)
			drawLine(dc, name, x, right, baseline, textStyle{face: nameFace, fill: ac, align: layer.AlignLeft})
			x += nameFace.Advance(name) + size*0.3
		}
		body := truncate(bodyFace, msg.Text, right-x)
		drawLine(dc, body, x, right, baseline, textStyle{face: bodyFace, fill: fill, align: layer.AlignLeft})
		baseline -= step
	}
	return nil
}
