package render

import (
	"path"

	"github.com/gogpu/gg"

	"github.com/gogpu/ggstream/layer"
)

var (
	loadingFill = gg.RGBA{R: 0.1, G: 0.1, B: 0.12, A: 0.45}
	errorFill   = gg.RGBA{R: 0.55, G: 0.05, B: 0.05, A: 0.55}
)

// drawLoading fills the surface with a translucent panel labeled with
// the reference being loaded.
func drawLoading(dc *gg.Context, fonts *Fonts, w, h int, ref string) {
	drawPanel(dc, fonts, w, h, loadingFill, "Loading…", path.Base(ref))
}

// drawError fills the surface with a red panel and the error text.
func drawError(dc *gg.Context, fonts *Fonts, w, h int, err error) {
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	drawPanel(dc, fonts, w, h, errorFill, "Error", detail)
}

func drawPanel(dc *gg.Context, fonts *Fonts, w, h int, fill gg.RGBA, title, detail string) {
	fw, fh := float64(w), float64(h)
	dc.SetRGBA(fill.R, fill.G, fill.B, fill.A)
	dc.DrawRoundedRectangle(0, 0, fw, fh, min(fw, fh)*0.05)
	_ = dc.Fill()

	size := max(8, min(28, fh/6))
	face := fonts.Face(size, true)
	lh := face.Metrics().LineHeight()
	st := textStyle{face: face, fill: white, align: layer.AlignCenter}
	y := fh/2 - lh*0.1
	drawLine(dc, title, 0, fw, y, st)

	if detail == "" {
		return
	}
	small := fonts.Face(size*0.6, false)
	st.face = small
	st.fill = withAlpha(white, 0.8)
	drawLine(dc, truncate(small, detail, fw*0.9), 0, fw, y+lh, st)
}

// DrawLoading draws the loading placeholder used while content is not
// available yet, labeled with label.
func (s *Set) DrawLoading(dc *gg.Context, w, h int, label string) {
	drawLoading(dc, s.Chat.Fonts, w, h, label)
}
