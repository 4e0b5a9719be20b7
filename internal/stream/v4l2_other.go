//go:build !(linux && (amd64 || arm64))

package stream

import (
	"context"
	"fmt"

	"github.com/cyclopcam/logs"
)

// CameraSource is only available on 64-bit Linux.
type CameraSource struct{}

func NewCameraSource(width, height int, log logs.Log) *CameraSource {
	return &CameraSource{}
}

func (s *CameraSource) Open(ctx context.Context, device string) (FrameReader, error) {
	return nil, fmt.Errorf("%w: V4L2 capture requires 64-bit linux (%s)", ErrUnsupportedSource, device)
}
