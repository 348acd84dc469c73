package render

import (
	"image"
	"math"

	"github.com/gogpu/gg"

	"github.com/gogpu/ggstream/asset"
)

// FitRect returns the largest rectangle with the aspect ratio of a
// srcW x srcH image that fits in box, centered in it. It returns an empty
// rectangle when either size is empty.
func FitRect(srcW, srcH int, box image.Rectangle) image.Rectangle {
	bw, bh := box.Dx(), box.Dy()
	if srcW <= 0 || srcH <= 0 || bw <= 0 || bh <= 0 {
		return image.Rectangle{}
	}
	scale := math.Min(float64(bw)/float64(srcW), float64(bh)/float64(srcH))
	w := max(1, int(math.Round(float64(srcW)*scale)))
	h := max(1, int(math.Round(float64(srcH)*scale)))
	x := box.Min.X + (bw-w)/2
	y := box.Min.Y + (bh-h)/2
	return image.Rect(x, y, x+w, y+h)
}

// drawFitted draws the src region of res fitted into box. An empty src
// selects the whole image.
func drawFitted(dc *gg.Context, res *asset.Resource, src image.Rectangle, box image.Rectangle) {
	if src.Empty() {
		src = image.Rect(0, 0, res.Width(), res.Height())
	}
	dst := FitRect(src.Dx(), src.Dy(), box)
	if dst.Empty() {
		return
	}
	buf := res.Scaled(src, dst.Dx(), dst.Dy())
	if buf == nil {
		return
	}
	dc.DrawImage(buf, float64(dst.Min.X), float64(dst.Min.Y))
}
