package sink

import (
	"bufio"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

// Raw writes frames back to back as raw RGBA to an io.Writer, the input
// format of an external encoder reading rawvideo with pix_fmt rgba.
// All frames of a stream must have the same size.
type Raw struct {
	mu     sync.Mutex
	w      *bufio.Writer
	closer io.Closer
	width  int
	height int
	closed bool

	frames atomic.Uint64
	bytes  atomic.Uint64
}

// NewRaw creates a raw sink writing to w. If w is an io.Closer it is
// closed by Close.
func NewRaw(w io.Writer) *Raw {
	r := &Raw{w: bufio.NewWriterSize(w, 1<<20)}
	if c, ok := w.(io.Closer); ok {
		r.closer = c
	}
	return r
}

// WriteFrame implements Sink.
func (r *Raw) WriteFrame(f *Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if r.width == 0 {
		r.width, r.height = f.Width, f.Height
	} else if f.Width != r.width || f.Height != r.height {
		return fmt.Errorf("%w: stream is %dx%d, frame is %dx%d", ErrFrameSize, r.width, r.height, f.Width, f.Height)
	}
	if _, err := r.w.Write(f.Pix); err != nil {
		return fmt.Errorf("sink: write frame %d: %w", f.Seq, err)
	}
	if err := r.w.Flush(); err != nil {
		return fmt.Errorf("sink: flush frame %d: %w", f.Seq, err)
	}
	r.frames.Add(1)
	r.bytes.Add(uint64(len(f.Pix)))
	return nil
}

// Frames returns the number of frames written.
func (r *Raw) Frames() uint64 { return r.frames.Load() }

// Bytes returns the number of pixel bytes written.
func (r *Raw) Bytes() uint64 { return r.bytes.Load() }

// Close flushes buffered output and closes the underlying writer.
func (r *Raw) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	err := r.w.Flush()
	if r.closer != nil {
		if cerr := r.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
