package layer

import (
	"encoding/binary"
	"hash"
	"hash/fnv"
	"math"
	"slices"
	"strconv"
	"strings"
)

// IdentityKey returns the duplicate-detection key of the layer: the kind
// plus the variant's identity fields. Two layers with the same identity
// key are considered the same scene element.
//
//   - Character: model and texture reference
//   - VisualFeed: image reference
//   - Overlay: overlay kind and content (shape geometry for shapes)
//   - Chat: retention policy (MaxMessages)
func (l *Layer) IdentityKey() string {
	if l.Content == nil {
		return l.Kind.String()
	}
	v := identityVisitor{}
	v.b.WriteString(l.Kind.String())
	_ = l.Content.Accept(&v)
	return v.b.String()
}

type identityVisitor struct {
	b strings.Builder
}

func (v *identityVisitor) field(s string) {
	v.b.WriteByte('|')
	v.b.WriteString(strconv.Quote(s))
}

func (v *identityVisitor) VisitCharacter(c *Character) error {
	v.field(c.ModelRef)
	v.field(c.TextureRef)
	return nil
}

func (v *identityVisitor) VisitVisualFeed(f *VisualFeed) error {
	v.field(f.ImageRef)
	return nil
}

func (v *identityVisitor) VisitOverlay(o *Overlay) error {
	v.field(string(o.Kind))
	v.field(o.Content)
	if o.Shape != nil {
		v.field(string(o.Shape.Kind))
		for _, p := range o.Shape.Points {
			v.field(strconv.FormatFloat(p.X, 'g', -1, 64) + "," + strconv.FormatFloat(p.Y, 'g', -1, 64))
		}
	}
	return nil
}

func (v *identityVisitor) VisitChat(c *Chat) error {
	v.field(strconv.Itoa(c.limit()))
	return nil
}

// CacheKey returns a 64-bit FNV-1a hash of everything that affects the
// rendered output of the layer: id, kind, size, full content,
// visibility, opacity and transform. Z-index is excluded; it only affects
// composite order.
func (l *Layer) CacheKey() uint64 {
	h := keyHasher{h: fnv.New64a()}
	h.str(l.ID)
	h.u64(uint64(l.Kind))
	h.u64(uint64(l.Size.Width))
	h.u64(uint64(l.Size.Height))
	h.flag(l.Visible)
	h.f64(l.Opacity)
	h.f64(l.Transform.Position.X)
	h.f64(l.Transform.Position.Y)
	h.f64(l.Transform.Scale.X)
	h.f64(l.Transform.Scale.Y)
	h.f64(l.Transform.Rotation)
	h.f64(l.Transform.Anchor.X)
	h.f64(l.Transform.Anchor.Y)
	if l.Content != nil {
		_ = l.Content.Accept(&h)
	}
	return h.h.Sum64()
}

type keyHasher struct {
	h   hash.Hash64
	buf [8]byte
}

func (k *keyHasher) u64(v uint64) {
	binary.LittleEndian.PutUint64(k.buf[:], v)
	_, _ = k.h.Write(k.buf[:]) // hash.Hash.Write never returns an error
}

func (k *keyHasher) f64(v float64) { k.u64(math.Float64bits(v)) }

func (k *keyHasher) flag(v bool) {
	if v {
		k.u64(1)
	} else {
		k.u64(0)
	}
}

// str writes a length-prefixed string so adjacent fields cannot collide.
func (k *keyHasher) str(s string) {
	k.u64(uint64(len(s)))
	_, _ = k.h.Write([]byte(s))
}

func (k *keyHasher) vec(v Vec) {
	k.f64(v.X)
	k.f64(v.Y)
}

func (k *keyHasher) style(s *Style) {
	k.str(s.Fill)
	k.str(s.Stroke)
	k.f64(s.StrokeWidth)
	k.f64(s.CornerRadius)
	k.f64(s.FontSize)
	k.flag(s.Bold)
	k.str(string(s.Align))
	k.str(s.TextStroke)
	k.f64(s.TextStrokeWidth)
	k.str(s.Background)
	k.str(s.AuthorColor)
	k.f64(s.Padding)
	if g := s.Gradient; g != nil {
		k.str(string(g.Kind))
		k.vec(g.From)
		k.vec(g.To)
		k.f64(g.Radius)
		for _, st := range g.Stops {
			k.f64(st.Offset)
			k.str(st.Color)
		}
	}
	if sh := s.Shadow; sh != nil {
		k.str(sh.Color)
		k.vec(sh.Offset)
		k.f64(sh.Blur)
	}
}

func (k *keyHasher) VisitCharacter(c *Character) error {
	k.str(c.ModelRef)
	k.str(c.TextureRef)
	if frame, ok := c.CurrentFrame(); ok {
		k.u64(uint64(frame.X))
		k.u64(uint64(frame.Y))
		k.u64(uint64(frame.W))
		k.u64(uint64(frame.H))
	}
	return nil
}

func (k *keyHasher) VisitVisualFeed(f *VisualFeed) error {
	k.str(f.ImageRef)
	keys := make([]string, 0, len(f.Metadata))
	for key := range f.Metadata {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	for _, key := range keys {
		k.str(key)
		k.str(f.Metadata[key])
	}
	return nil
}

func (k *keyHasher) VisitOverlay(o *Overlay) error {
	k.str(string(o.Kind))
	k.str(o.Content)
	if o.Shape != nil {
		k.str(string(o.Shape.Kind))
		for _, p := range o.Shape.Points {
			k.vec(p)
		}
	}
	k.style(&o.Style)
	return nil
}

func (k *keyHasher) VisitChat(c *Chat) error {
	k.u64(uint64(c.limit()))
	for i := range c.Messages {
		m := &c.Messages[i]
		k.str(m.ID)
		k.str(m.Author)
		k.str(m.Text)
		k.str(m.Color)
	}
	k.style(&c.Style)
	return nil
}

// AssetRefs returns the asset references the layer's content is drawn
// from: model and texture for characters, the image for feeds.
func (l *Layer) AssetRefs() []string {
	var refs []string
	switch c := l.Content.(type) {
	case *Character:
		refs = append(refs, c.ModelRef)
		if c.TextureRef != "" {
			refs = append(refs, c.TextureRef)
		}
	case *VisualFeed:
		refs = append(refs, c.ImageRef)
	}
	return refs
}
