package sink

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync"
)

// DefaultPNGPattern names the files written by a PNG sink.
const DefaultPNGPattern = "frame-%06d.png"

// PNG writes every frame to its own PNG file in a directory. It is meant
// for debugging and for test fixtures, not for sustained frame rates.
type PNG struct {
	dir     string
	pattern string
	every   uint64
	enc     png.Encoder

	mu     sync.Mutex
	closed bool
	count  uint64
}

// PNGOption configures a PNG sink.
type PNGOption func(*PNG)

// WithPattern sets the fmt pattern of file names; it receives the frame
// sequence number.
func WithPattern(pattern string) PNGOption {
	return func(p *PNG) {
		if pattern != "" {
			p.pattern = pattern
		}
	}
}

// WithEvery writes only frames whose sequence number is a multiple of n.
func WithEvery(n uint64) PNGOption {
	return func(p *PNG) {
		if n > 0 {
			p.every = n
		}
	}
}

// NewPNG creates dir if needed and returns a sink writing into it.
func NewPNG(dir string, opts ...PNGOption) (*PNG, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("sink: %w", err)
	}
	p := &PNG{
		dir:     dir,
		pattern: DefaultPNGPattern,
		every:   1,
		enc:     png.Encoder{CompressionLevel: png.BestSpeed},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// WriteFrame implements Sink.
func (p *PNG) WriteFrame(f *Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if f.Seq%p.every != 0 {
		return nil
	}
	img := &image.NRGBA{Pix: f.Pix, Stride: 4 * f.Width, Rect: image.Rect(0, 0, f.Width, f.Height)}
	path := filepath.Join(p.dir, fmt.Sprintf(p.pattern, f.Seq))
	tmp := path + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("sink: %w", err)
	}
	if err := p.enc.Encode(out, img); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("sink: encode frame %d: %w", f.Seq, err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("sink: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("sink: %w", err)
	}
	p.count++
	return nil
}

// Written returns the number of files written.
func (p *PNG) Written() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

// Close implements Sink.
func (p *PNG) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}
