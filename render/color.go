package render

import (
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/gogpu/gg"
)

// ErrBadColor is returned for style colors that cannot be parsed.
var ErrBadColor = errors.New("render: invalid color")

// ParseColor parses "#rgb", "#rrggbb", "#rrggbbaa" or "transparent".
func ParseColor(s string) (gg.RGBA, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "transparent" {
		return gg.Transparent, nil
	}
	alpha := 1.0
	if len(s) == 9 && s[0] == '#' {
		a, err := strconv.ParseUint(s[7:], 16, 8)
		if err != nil {
			return gg.RGBA{}, fmt.Errorf("%w %q: alpha: %v", ErrBadColor, s, err)
		}
		alpha = float64(a) / 255
		s = s[:7]
	}
	c, err := colorful.Hex(s)
	if err != nil {
		return gg.RGBA{}, fmt.Errorf("%w %q: %v", ErrBadColor, s, err)
	}
	return gg.RGBA{R: c.R, G: c.G, B: c.B, A: alpha}, nil
}

// colorOr parses s, or returns def when s is empty.
func colorOr(s string, def gg.RGBA) (gg.RGBA, error) {
	if s == "" {
		return def, nil
	}
	return ParseColor(s)
}

// AuthorColor derives a stable, readable color from a chat author name.
func AuthorColor(name string) gg.RGBA {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	hue := float64(h.Sum32()%360) + 0.5
	c := colorful.Hcl(hue, 0.55, 0.75).Clamped()
	return gg.RGBA{R: c.R, G: c.G, B: c.B, A: 1}
}

// withAlpha scales the alpha of c by a.
func withAlpha(c gg.RGBA, a float64) gg.RGBA {
	c.A *= a
	return c
}

var (
	white = gg.RGBA{R: 1, G: 1, B: 1, A: 1}
	black = gg.RGBA{A: 1}
)
