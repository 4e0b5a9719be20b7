//go:build linux && (amd64 || arm64)

package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"unsafe"

	"github.com/cyclopcam/logs"
	"golang.org/x/sys/unix"

	"github.com/kozaktomas/facewatch/internal/imageutil"
)

// ioctl numbers for 64-bit kernels (struct v4l2_format is 208 bytes,
// struct v4l2_buffer is 88 bytes).
const (
	v4l2BufTypeVideoCapture = 1
	v4l2PixFmtMJPEG         = 0x47504a4d // 'MJPG'
	v4l2FieldNone           = 1
	v4l2MemoryMmap          = 1

	vidiocSFmt      = 0xc0d05605
	vidiocReqbufs   = 0xc0145608
	vidiocQuerybuf  = 0xc0585609
	vidiocQbuf      = 0xc058560f
	vidiocDqbuf     = 0xc0585611
	vidiocStreamon  = 0x40045612
	vidiocStreamoff = 0x40045613

	cameraBuffers     = 4
	cameraReadTimeout = 5 * time.Second
)

type v4l2PixFormat struct {
	width        uint32
	height       uint32
	pixelformat  uint32
	field        uint32
	bytesperline uint32
	sizeimage    uint32
	colorspace   uint32
	priv         uint32
	flags        uint32
	ycbcrEnc     uint32
	quantization uint32
	xferFunc     uint32
}

type v4l2Format struct {
	typ uint32
	_   uint32 // union is 8-byte aligned
	pix v4l2PixFormat
	_   [200 - 48]byte
}

type v4l2RequestBuffers struct {
	count        uint32
	typ          uint32
	memory       uint32
	capabilities uint32
	flags        uint8
	_            [3]uint8
}

type v4l2Timecode struct {
	typ      uint32
	flags    uint32
	frames   uint8
	seconds  uint8
	minutes  uint8
	hours    uint8
	userbits [4]uint8
}

type v4l2Buffer struct {
	index     uint32
	typ       uint32
	bytesused uint32
	flags     uint32
	field     uint32
	_         uint32
	timestamp unix.Timeval
	timecode  v4l2Timecode
	sequence  uint32
	memory    uint32
	offset    uint64 // union m; offset for MMAP buffers
	length    uint32
	reserved2 uint32
	requestFD uint32
	_         uint32
}

func ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

// CameraSource reads MJPEG frames from a V4L2 device using mmap buffers.
type CameraSource struct {
	width  int
	height int
	log    logs.Log
}

// NewCameraSource creates a V4L2 source capturing at width x height.
func NewCameraSource(width, height int, log logs.Log) *CameraSource {
	return &CameraSource{width: width, height: height, log: log}
}

func (s *CameraSource) Open(ctx context.Context, device string) (FrameReader, error) {
	fd, err := unix.Open(device, unix.O_RDWR|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", device, err)
	}

	c := &camera{fd: fd, device: device, log: s.log, ctx: ctx}
	if err := c.start(uint32(s.width), uint32(s.height)); err != nil {
		c.Close() //nolint:errcheck
		return nil, err
	}
	s.log.Infof("camera %s streaming %dx%d MJPEG", device, c.width, c.height)
	return c, nil
}

type camera struct {
	ctx    context.Context
	fd     int
	device string
	log    logs.Log

	width   int
	height  int
	buffers [][]byte
	once    sync.Once
	started bool
}

func (c *camera) start(width, height uint32) error {
	format := v4l2Format{
		typ: v4l2BufTypeVideoCapture,
		pix: v4l2PixFormat{
			width:       width,
			height:      height,
			pixelformat: v4l2PixFmtMJPEG,
			field:       v4l2FieldNone,
		},
	}
	if err := ioctl(c.fd, vidiocSFmt, unsafe.Pointer(&format)); err != nil {
		return fmt.Errorf("set format: %w", err)
	}
	// the driver may adjust the size
	c.width, c.height = int(format.pix.width), int(format.pix.height)

	req := v4l2RequestBuffers{
		count:  cameraBuffers,
		typ:    v4l2BufTypeVideoCapture,
		memory: v4l2MemoryMmap,
	}
	if err := ioctl(c.fd, vidiocReqbufs, unsafe.Pointer(&req)); err != nil {
		return fmt.Errorf("request buffers: %w", err)
	}
	if req.count == 0 {
		return errors.New("request buffers: driver returned no buffers")
	}

	for i := uint32(0); i < req.count; i++ {
		buf := v4l2Buffer{typ: v4l2BufTypeVideoCapture, memory: v4l2MemoryMmap, index: i}
		if err := ioctl(c.fd, vidiocQuerybuf, unsafe.Pointer(&buf)); err != nil {
			return fmt.Errorf("query buffer %d: %w", i, err)
		}
		data, err := unix.Mmap(c.fd, int64(buf.offset), int(buf.length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			return fmt.Errorf("mmap buffer %d: %w", i, err)
		}
		c.buffers = append(c.buffers, data)

		if err := ioctl(c.fd, vidiocQbuf, unsafe.Pointer(&buf)); err != nil {
			return fmt.Errorf("queue buffer %d: %w", i, err)
		}
	}

	typ := uint32(v4l2BufTypeVideoCapture)
	if err := ioctl(c.fd, vidiocStreamon, unsafe.Pointer(&typ)); err != nil {
		return fmt.Errorf("stream on: %w", err)
	}
	c.started = true
	return nil
}

// ReadFrame waits for the next filled buffer, copies it out and requeues it.
func (c *camera) ReadFrame() (Frame, error) {
	for {
		if err := c.ctx.Err(); err != nil {
			return Frame{}, err
		}

		fds := unix.FdSet{}
		fds.Set(c.fd)
		tv := unix.NsecToTimeval(cameraReadTimeout.Nanoseconds())
		n, err := unix.Select(c.fd+1, &fds, nil, nil, &tv)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return Frame{}, fmt.Errorf("select on %s: %w", c.device, err)
		}
		if n == 0 {
			return Frame{}, fmt.Errorf("camera %s: no frame within %s", c.device, cameraReadTimeout)
		}

		buf := v4l2Buffer{typ: v4l2BufTypeVideoCapture, memory: v4l2MemoryMmap}
		if err := ioctl(c.fd, vidiocDqbuf, unsafe.Pointer(&buf)); err != nil {
			if errors.Is(err, unix.EAGAIN) {
				continue
			}
			return Frame{}, fmt.Errorf("dequeue buffer: %w", err)
		}

		data := make([]byte, buf.bytesused)
		copy(data, c.buffers[buf.index][:buf.bytesused])

		if err := ioctl(c.fd, vidiocQbuf, unsafe.Pointer(&buf)); err != nil {
			return Frame{}, fmt.Errorf("requeue buffer: %w", err)
		}

		if imageutil.DetectMIMEType(data) != "image/jpeg" {
			c.log.Debugf("camera %s: dropping non-JPEG buffer (%d bytes)", c.device, len(data))
			continue
		}
		return Frame{Data: data, Width: c.width, Height: c.height, CapturedAt: time.Now()}, nil
	}
}

func (c *camera) Close() error {
	var err error
	c.once.Do(func() {
		if c.started {
			typ := uint32(v4l2BufTypeVideoCapture)
			if e := ioctl(c.fd, vidiocStreamoff, unsafe.Pointer(&typ)); e != nil {
				c.log.Warnf("camera %s: stream off: %v", c.device, e)
			}
		}
		for _, b := range c.buffers {
			unix.Munmap(b) //nolint:errcheck
		}
		c.buffers = nil
		err = unix.Close(c.fd)
	})
	return err
}
