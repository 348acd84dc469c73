package render

import (
	"fmt"
	"math"
	"sync"

	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/gogpu/gg/text"
)

// Fonts provides text faces for the renderers. Faces are created once
// per size and weight and shared; they are safe for concurrent use.
type Fonts struct {
	regular *text.FontSource
	bold    *text.FontSource

	mu    sync.Mutex
	faces map[faceKey]text.Face
}

type faceKey struct {
	size float64
	bold bool
}

// NewFonts loads the built-in Go fonts.
func NewFonts() (*Fonts, error) {
	regular, err := text.NewFontSource(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("render: load regular font: %w", err)
	}
	bold, err := text.NewFontSource(gobold.TTF)
	if err != nil {
		return nil, fmt.Errorf("render: load bold font: %w", err)
	}
	return &Fonts{regular: regular, bold: bold, faces: make(map[faceKey]text.Face)}, nil
}

// Face returns a face of the given size in points, rounded to a quarter
// point so near-identical sizes share a face.
func (f *Fonts) Face(size float64, bold bool) text.Face {
	size = math.Max(1, math.Round(size*4)/4)
	k := faceKey{size: size, bold: bold}
	f.mu.Lock()
	defer f.mu.Unlock()
	if face, ok := f.faces[k]; ok {
		return face
	}
	src := f.regular
	if bold {
		src = f.bold
	}
	face := src.Face(size)
	f.faces[k] = face
	return face
}
