// Package sink hands composed frames to an external encoder or muxer.
//
// The compositor does not encode video. A Sink receives each finished
// frame as raw 8-bit RGBA pixels plus its size and sequence number.
package sink

import (
	"errors"
	"time"
)

// ErrClosed is returned by WriteFrame after Close.
var ErrClosed = errors.New("sink: closed")

// ErrFrameSize is returned for frames whose pixel buffer does not match
// their size.
var ErrFrameSize = errors.New("sink: pixel buffer does not match frame size")

// Frame is one composed video frame.
//
// Pix holds Width*Height pixels in RGBA order with non-premultiplied
// alpha and a stride of 4*Width. Pix is owned by the compositor and is
// only valid for the duration of WriteFrame; sinks that keep it must
// copy it.
type Frame struct {
	Pix    []byte
	Width  int
	Height int

	// Seq increases by one for every emitted frame of a loop run.
	Seq uint64

	// Time is when the frame was composed.
	Time time.Time
}

// Validate checks that the pixel buffer matches the frame size.
func (f *Frame) Validate() error {
	if f.Width <= 0 || f.Height <= 0 || len(f.Pix) != f.Width*f.Height*4 {
		return ErrFrameSize
	}
	return nil
}

// Sink consumes frames. WriteFrame is called from a single goroutine.
type Sink interface {
	WriteFrame(f *Frame) error
	Close() error
}

// Func adapts a function to a Sink with a no-op Close.
type Func func(f *Frame) error

// WriteFrame implements Sink.
func (fn Func) WriteFrame(f *Frame) error { return fn(f) }

// Close implements Sink.
func (Func) Close() error { return nil }

// Discard drops every frame.
type Discard struct{}

func (Discard) WriteFrame(*Frame) error { return nil }
func (Discard) Close() error            { return nil }
