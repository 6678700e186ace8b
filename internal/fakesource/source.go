// Package fakesource provides a synthetic frame decoder for tests and
// for running the pipeline without a real video stack.
package fakesource

import (
	"context"
	"encoding/binary"
	"errors"

	"github.com/warpcomdev/dashcam2/internal/reader"
)

// Source emits a fixed number of deterministic synthetic frames
type Source struct {
	frames int
	width  int
	height int
	fps    float64
	next   int
	closed bool
}

// Options for a synthetic source
type Options struct {
	Frames int
	Width  int // 0 means 64
	Height int // 0 means 48
	FPS    float64
}

// New synthetic source
func New(opts Options) *Source {
	if opts.Width <= 0 {
		opts.Width = 64
	}
	if opts.Height <= 0 {
		opts.Height = 48
	}
	if opts.FPS <= 0 {
		opts.FPS = 30
	}
	return &Source{
		frames: opts.Frames,
		width:  opts.Width,
		height: opts.Height,
		fps:    opts.FPS,
	}
}

// Open is a reader.OpenFunc that ignores the file contents and
// produces a short synthetic clip for any path.
func Open(opts Options) reader.OpenFunc {
	return func(path string) (reader.Decoder, error) {
		return New(opts), nil
	}
}

// Next implements reader.Decoder. Frames carry their index in the
// first bytes so tests can tell them apart, with a rolling gradient
// filling the rest.
func (s *Source) Next(ctx context.Context) (reader.Frame, bool, error) {
	if s.closed {
		return reader.Frame{}, false, errors.New("source is closed")
	}
	if err := ctx.Err(); err != nil {
		return reader.Frame{}, false, err
	}
	if s.next >= s.frames {
		return reader.Frame{}, false, nil
	}
	idx := s.next
	s.next++

	data := make([]byte, s.width*s.height)
	binary.BigEndian.PutUint32(data, uint32(idx))
	for i := 4; i < len(data); i++ {
		data[i] = byte((i + idx) % 251)
	}
	return reader.Frame{
		Data: data,
		TSMs: float64(idx) * 1000.0 / s.fps,
	}, true, nil
}

// FPS implements reader.Decoder
func (s *Source) FPS() float64 { return s.fps }

// Close implements reader.Decoder
func (s *Source) Close() error {
	s.closed = true
	return nil
}
