// Package media decodes clips into frames and runs the ffmpeg command line
// tools used for probing, cutting and concatenating clips.
package media

import (
	"context"
	"image"
	"io"

	"github.com/ysmr3104/atomcam-meteor-detector/internal/logger"
)

// GetLogger returns the media module logger
func GetLogger() logger.Logger {
	return logger.Global().Module("media")
}

// Source yields decoded frames in presentation order.
type Source interface {
	// FrameRate returns frames per second, or 0 when unknown.
	FrameRate() float64
	// Next returns the next frame or io.EOF after the last one. The returned
	// image is owned by the caller.
	Next() (*image.RGBA, error)
	Close() error
}

// Opener opens a clip file as a frame source.
type Opener interface {
	Open(ctx context.Context, path string) (Source, error)
}

// MemorySource serves frames from memory.
type MemorySource struct {
	FPS    float64
	Frames []*image.RGBA
	pos    int
	closed bool
}

// NewMemorySource creates a source over frames
func NewMemorySource(fps float64, frames []*image.RGBA) *MemorySource {
	return &MemorySource{FPS: fps, Frames: frames}
}

// FrameRate implements Source
func (m *MemorySource) FrameRate() float64 { return m.FPS }

// Next implements Source
func (m *MemorySource) Next() (*image.RGBA, error) {
	if m.closed || m.pos >= len(m.Frames) {
		return nil, io.EOF
	}
	f := m.Frames[m.pos]
	m.pos++
	return f, nil
}

// Close implements Source
func (m *MemorySource) Close() error {
	m.closed = true
	return nil
}

// Closed reports whether Close was called
func (m *MemorySource) Closed() bool { return m.closed }

// OpenerFunc adapts a function to Opener
type OpenerFunc func(ctx context.Context, path string) (Source, error)

// Open implements Opener
func (f OpenerFunc) Open(ctx context.Context, path string) (Source, error) { return f(ctx, path) }
