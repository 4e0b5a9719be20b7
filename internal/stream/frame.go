// Package stream acquires frames from an external video source and keeps the
// most recent one available to readers.
package stream

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrAlreadyStarted is returned by Start while a previous run is still alive.
	ErrAlreadyStarted = errors.New("stream already started")

	// ErrShortRead means the source ended partway through a frame.
	ErrShortRead = errors.New("short read from stream source")

	// ErrUnsupportedSource is returned for descriptors no source can open.
	ErrUnsupportedSource = errors.New("unsupported stream source")
)

// Frame is one decoded frame, JPEG-encoded. Frames are immutable after
// publication.
type Frame struct {
	Data       []byte    // JPEG bytes
	Width      int       // pixels
	Height     int       // pixels
	Seq        uint64    // assigned by the pipeline, starts at 1
	CapturedAt time.Time // when the frame was read
}

// FrameReader yields frames until the source ends. ReadFrame returns io.EOF
// or ErrShortRead at end of stream.
type FrameReader interface {
	ReadFrame() (Frame, error)
	Close() error
}

// FrameSource opens a reader for a stream descriptor (file path, RTSP URL,
// HTTP URL or camera device).
type FrameSource interface {
	Open(ctx context.Context, descriptor string) (FrameReader, error)
}

// SourceFunc adapts a function to FrameSource.
type SourceFunc func(ctx context.Context, descriptor string) (FrameReader, error)

func (f SourceFunc) Open(ctx context.Context, descriptor string) (FrameReader, error) {
	return f(ctx, descriptor)
}

// Router picks the camera source for /dev/video* descriptors and the
// ffmpeg source for everything else.
type Router struct {
	FFmpeg FrameSource
	Camera FrameSource
}

func (r Router) Open(ctx context.Context, descriptor string) (FrameReader, error) {
	if IsCameraDevice(descriptor) && r.Camera != nil {
		return r.Camera.Open(ctx, descriptor)
	}
	if r.FFmpeg == nil {
		return nil, ErrUnsupportedSource
	}
	return r.FFmpeg.Open(ctx, descriptor)
}

// IsCameraDevice reports whether descriptor names a V4L2 device node.
func IsCameraDevice(descriptor string) bool {
	return strings.HasPrefix(descriptor, "/dev/video")
}
