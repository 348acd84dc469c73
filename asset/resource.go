package asset

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"sync"

	"github.com/anthonynsimon/bild/transform"
	"github.com/h2non/filetype"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/gogpu/gg"
)

// maxScaled bounds the number of scaled variants kept per resource.
const maxScaled = 8

// Resource is a decoded image resource.
type Resource struct {
	Ref  string
	MIME string

	img *image.RGBA
	buf *gg.ImageBuf

	mu     sync.Mutex
	scaled map[scaleKey]*gg.ImageBuf
}

type scaleKey struct {
	src  image.Rectangle
	w, h int
}

// Decode sniffs data, rejects anything that is not an image and decodes
// it. PNG, JPEG, GIF, BMP and WebP are supported.
func Decode(ref string, data []byte) (*Resource, error) {
	kind, err := filetype.Match(data)
	if err != nil || kind == filetype.Unknown || !filetype.IsImage(data) {
		return nil, fmt.Errorf("%w: %s is not an image", ErrUnsupported, ref)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %s (%s): %v", ErrCorrupt, ref, kind.MIME.Value, err)
	}
	return NewResource(ref, kind.MIME.Value, img), nil
}

// NewResource wraps an already decoded image.
func NewResource(ref, mime string, img image.Image) *Resource {
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Rect.Min != (image.Point{}) {
		b := img.Bounds()
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Rect, img, b.Min, draw.Src)
	}
	return &Resource{
		Ref:  ref,
		MIME: mime,
		img:  rgba,
		buf:  gg.ImageBufFromImage(rgba),
	}
}

// Width returns the image width.
func (r *Resource) Width() int { return r.img.Rect.Dx() }

// Height returns the image height.
func (r *Resource) Height() int { return r.img.Rect.Dy() }

// Image returns the decoded pixels.
func (r *Resource) Image() *image.RGBA { return r.img }

// Buf returns the image as a gg image buffer.
func (r *Resource) Buf() *gg.ImageBuf { return r.buf }

// Scaled returns the src region of the image resized to w x h. An empty
// src selects the whole image; src is clipped to the image bounds.
// Results are cached on the resource.
func (r *Resource) Scaled(src image.Rectangle, w, h int) *gg.ImageBuf {
	if src.Empty() {
		src = r.img.Rect
	}
	src = src.Intersect(r.img.Rect)
	if w <= 0 || h <= 0 || src.Empty() {
		return nil
	}
	if src == r.img.Rect && w == r.Width() && h == r.Height() {
		return r.buf
	}

	key := scaleKey{src: src, w: w, h: h}
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.scaled[key]; ok {
		return b
	}
	resized := transform.Resize(r.img.SubImage(src), w, h, transform.Linear)
	b := gg.ImageBufFromImage(resized)
	if r.scaled == nil || len(r.scaled) >= maxScaled {
		r.scaled = make(map[scaleKey]*gg.ImageBuf)
	}
	r.scaled[key] = b
	return b
}
