package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/cyclopcam/logs"

	"github.com/kozaktomas/facewatch/internal/config"
	"github.com/kozaktomas/facewatch/internal/imageutil"
)

// maxStderrBytes bounds the captured ffmpeg stderr.
const maxStderrBytes = 16 * 1024

// FFmpegSource decodes any input ffmpeg understands into raw BGR24 frames
// and re-encodes each frame as JPEG.
type FFmpegSource struct {
	cfg config.StreamConfig
	log logs.Log
}

// NewFFmpegSource creates a source using the given stream settings.
func NewFFmpegSource(cfg config.StreamConfig, log logs.Log) *FFmpegSource {
	return &FFmpegSource{cfg: cfg, log: log}
}

// Args returns the ffmpeg arguments used for descriptor.
func (s *FFmpegSource) Args(descriptor string) []string {
	args := make([]string, 0, len(s.cfg.InputArgs)+len(s.cfg.OutputArgs)+10)
	args = append(args, s.cfg.InputArgs...)
	args = append(args, "-i", descriptor)
	args = append(args, s.cfg.OutputArgs...)
	args = append(args,
		"-f", "rawvideo",
		"-s", strconv.Itoa(s.cfg.Width)+"x"+strconv.Itoa(s.cfg.Height),
		"-pix_fmt", "bgr24",
		"-",
	)
	return args
}

// Open starts ffmpeg. Cancelling ctx kills the process.
func (s *FFmpegSource) Open(ctx context.Context, descriptor string) (FrameReader, error) {
	if s.cfg.Width <= 0 || s.cfg.Height <= 0 {
		return nil, fmt.Errorf("invalid stream size %dx%d", s.cfg.Width, s.cfg.Height)
	}

	cmd := exec.CommandContext(ctx, s.cfg.FFmpegPath, s.Args(descriptor)...) //nolint:gosec // ffmpeg path is from trusted config
	stderr := &boundedBuffer{limit: maxStderrBytes}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting ffmpeg: %w", err)
	}
	s.log.Infof("ffmpeg started (pid %d) for %s", cmd.Process.Pid, descriptor)

	return &rawReader{
		r:       stdout,
		width:   s.cfg.Width,
		height:  s.cfg.Height,
		quality: s.cfg.JPEGQuality,
		buf:     make([]byte, s.cfg.FrameBytes()),
		cmd:     cmd,
		stderr:  stderr,
		log:     s.log,
	}, nil
}

// rawReader reads fixed-size BGR24 frames from r.
type rawReader struct {
	r       io.Reader
	width   int
	height  int
	quality int
	buf     []byte

	cmd    *exec.Cmd
	stderr *boundedBuffer
	log    logs.Log
	once   sync.Once
}

// ReadFrame reads exactly one frame. A partial frame is ErrShortRead; no
// bytes at all is io.EOF.
func (r *rawReader) ReadFrame() (Frame, error) {
	n, err := io.ReadFull(r.r, r.buf)
	switch {
	case errors.Is(err, io.ErrUnexpectedEOF):
		return Frame{}, fmt.Errorf("%w: got %d of %d bytes", ErrShortRead, n, len(r.buf))
	case err != nil:
		return Frame{}, err
	}

	jpg, err := imageutil.BGR24ToJPEG(r.buf, r.width, r.height, r.quality)
	if err != nil {
		return Frame{}, fmt.Errorf("encoding frame: %w", err)
	}
	return Frame{Data: jpg, Width: r.width, Height: r.height, CapturedAt: time.Now()}, nil
}

// Close kills ffmpeg if still running and reaps it.
func (r *rawReader) Close() error {
	var err error
	r.once.Do(func() {
		if r.cmd == nil {
			return
		}
		if r.cmd.Process != nil {
			_ = r.cmd.Process.Kill()
		}
		waitErr := r.cmd.Wait()
		if out := r.stderr.String(); out != "" {
			r.log.Debugf("ffmpeg stderr:\n%s", out)
		}
		var exitErr *exec.ExitError
		if waitErr != nil && !errors.As(waitErr, &exitErr) {
			err = waitErr
		}
	})
	return err
}

// boundedBuffer keeps the last limit bytes written to it.
type boundedBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(p)
	if len(p) >= b.limit {
		b.buf.Reset()
		b.buf.Write(p[len(p)-b.limit:])
		return n, nil
	}
	if over := b.buf.Len() + len(p) - b.limit; over > 0 {
		b.buf.Next(over)
	}
	b.buf.Write(p)
	return n, nil
}

func (b *boundedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
