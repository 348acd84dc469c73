package cache

import (
	"sync"

	"github.com/gogpu/gg"
)

// Surface is a rendered layer: the pixmap a renderer drew into, plus the
// image buffer form used to composite it, converted on first use.
// A Surface is immutable once stored in a cache.
type Surface struct {
	pixmap *gg.Pixmap

	once sync.Once
	buf  *gg.ImageBuf
}

// NewSurface wraps pm. The caller must not draw into pm afterwards.
func NewSurface(pm *gg.Pixmap) *Surface {
	return &Surface{pixmap: pm}
}

// Pixmap returns the rendered pixels.
func (s *Surface) Pixmap() *gg.Pixmap { return s.pixmap }

// Width returns the surface width in pixels.
func (s *Surface) Width() int { return s.pixmap.Width() }

// Height returns the surface height in pixels.
func (s *Surface) Height() int { return s.pixmap.Height() }

// ImageBuf returns the surface as an image buffer for DrawImageEx.
// It is safe for concurrent use.
func (s *Surface) ImageBuf() *gg.ImageBuf {
	s.once.Do(func() {
		s.buf = gg.ImageBufFromImage(s.pixmap.ToImage())
	})
	return s.buf
}

// Bytes returns the memory held by the surface pixels.
func (s *Surface) Bytes() int64 {
	return int64(len(s.pixmap.Data()))
}
