package sink

import (
	"bytes"
	"errors"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func frame(w, h int, seq uint64, fill byte) *Frame {
	pix := make([]byte, w*h*4)
	for i := range pix {
		pix[i] = fill
	}
	return &Frame{Pix: pix, Width: w, Height: h, Seq: seq}
}

type closeBuffer struct {
	bytes.Buffer
	closed bool
}

func (b *closeBuffer) Close() error {
	b.closed = true
	return nil
}

func TestFrameValidate(t *testing.T) {
	tests := []struct {
		name string
		f    *Frame
		ok   bool
	}{
		{"valid", frame(2, 3, 0, 0), true},
		{"short", &Frame{Pix: make([]byte, 5), Width: 2, Height: 1}, false},
		{"zero size", &Frame{Width: 0, Height: 4}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.f.Validate()
			if (err == nil) != tt.ok {
				t.Errorf("Validate() = %v", err)
			}
		})
	}
}

func TestRaw(t *testing.T) {
	var out closeBuffer
	r := NewRaw(&out)
	for seq := range uint64(3) {
		if err := r.WriteFrame(frame(2, 2, seq, byte(seq+1))); err != nil {
			t.Fatal(err)
		}
	}
	if r.Frames() != 3 || r.Bytes() != 48 {
		t.Errorf("frames=%d bytes=%d", r.Frames(), r.Bytes())
	}
	if out.Len() != 48 || out.Bytes()[16] != 2 || out.Bytes()[47] != 3 {
		t.Errorf("unexpected stream %v", out.Bytes())
	}

	if err := r.WriteFrame(frame(3, 2, 4, 0)); !errors.Is(err, ErrFrameSize) {
		t.Errorf("size change: %v", err)
	}
	if err := r.Close(); err != nil || !out.closed {
		t.Errorf("Close = %v, closed=%v", err, out.closed)
	}
	if err := r.WriteFrame(frame(2, 2, 5, 0)); !errors.Is(err, ErrClosed) {
		t.Errorf("after close: %v", err)
	}
}

func TestPNG(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "frames")
	p, err := NewPNG(dir, WithEvery(2))
	if err != nil {
		t.Fatal(err)
	}
	for seq := range uint64(5) {
		if err := p.WriteFrame(frame(4, 3, seq, 200)); err != nil {
			t.Fatal(err)
		}
	}
	if p.Written() != 3 {
		t.Errorf("Written() = %d, want 3", p.Written())
	}
	data, err := os.ReadFile(filepath.Join(dir, "frame-000004.png"))
	if err != nil {
		t.Fatal(err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 4 || b.Dy() != 3 {
		t.Errorf("bounds = %v", b)
	}
	if _, err := os.Stat(filepath.Join(dir, "frame-000001.png")); !os.IsNotExist(err) {
		t.Errorf("odd frame written: %v", err)
	}
	_ = p.Close()
	if err := p.WriteFrame(frame(4, 3, 6, 0)); !errors.Is(err, ErrClosed) {
		t.Errorf("after close: %v", err)
	}
}

func TestFuncAndDiscard(t *testing.T) {
	var got uint64
	var s Sink = Func(func(f *Frame) error {
		got = f.Seq
		return nil
	})
	_ = s.WriteFrame(frame(1, 1, 7, 0))
	if got != 7 {
		t.Errorf("got seq %d", got)
	}
	s = Discard{}
	if err := s.WriteFrame(nil); err != nil {
		t.Error(err)
	}
}
