//go:build linux

package device

import (
	"errors"
	"fmt"
	"time"
	"unsafe"

	"github.com/usedbytes/picamera/pkg/ioctl"
	"golang.org/x/sys/unix"
)

// ErrPoll returned when device is not streaming or has no queued buffers yet.
var ErrPoll = errors.New("v4l2: poll error")

type Device struct {
	fd   int
	bufs [][]byte
}

// Open device in non blocking mode, so DQBUF never hangs on stream off.
func Open(path string) (*Device, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}
	return &Device{fd: fd}, nil
}

type Capability struct {
	Driver  string `json:"driver"`
	Card    string `json:"card"`
	BusInfo string `json:"bus_info"`
	Version string `json:"version"`
}

func (d *Device) Capability() (*Capability, error) {
	c := v4l2_capability{}
	if err := ioctl.Ioctl(d.fd, VIDIOC_QUERYCAP, unsafe.Pointer(&c)); err != nil {
		return nil, err
	}
	return &Capability{
		Driver:  ioctl.Str(c.driver[:]),
		Card:    ioctl.Str(c.card[:]),
		BusInfo: ioctl.Str(c.bus_info[:]),
		Version: fmt.Sprintf("%d.%d.%d", byte(c.version>>16), byte(c.version>>8), byte(c.version)),
	}, nil
}

func (d *Device) ListFormats() ([]uint32, error) {
	var items []uint32

	for i := uint32(0); ; i++ {
		fd := v4l2_fmtdesc{
			index: i,
			typ:   V4L2_BUF_TYPE_VIDEO_CAPTURE,
		}
		if err := ioctl.Ioctl(d.fd, VIDIOC_ENUM_FMT, unsafe.Pointer(&fd)); err != nil {
			if !errors.Is(err, unix.EINVAL) {
				return nil, err
			}
			break
		}

		items = append(items, fd.pixelformat)
	}

	return items, nil
}

func (d *Device) ListSizes(pixFmt uint32) ([][2]uint32, error) {
	var items [][2]uint32

	for i := uint32(0); ; i++ {
		fs := v4l2_frmsizeenum{
			index:        i,
			pixel_format: pixFmt,
		}
		if err := ioctl.Ioctl(d.fd, VIDIOC_ENUM_FRAMESIZES, unsafe.Pointer(&fs)); err != nil {
			if !errors.Is(err, unix.EINVAL) {
				return nil, err
			}
			break
		}

		if fs.typ != V4L2_FRMSIZE_TYPE_DISCRETE {
			continue
		}

		items = append(items, [2]uint32{fs.discrete.width, fs.discrete.height})
	}

	return items, nil
}

func (d *Device) ListFrameRates(pixFmt, width, height uint32) ([]uint32, error) {
	var items []uint32

	for i := uint32(0); ; i++ {
		fi := v4l2_frmivalenum{
			index:        i,
			pixel_format: pixFmt,
			width:        width,
			height:       height,
		}
		if err := ioctl.Ioctl(d.fd, VIDIOC_ENUM_FRAMEINTERVALS, unsafe.Pointer(&fi)); err != nil {
			if !errors.Is(err, unix.EINVAL) {
				return nil, err
			}
			break
		}

		if fi.typ != V4L2_FRMIVAL_TYPE_DISCRETE || fi.discrete.numerator != 1 {
			continue
		}

		items = append(items, fi.discrete.denominator)
	}

	return items, nil
}

// PixFormat is format accepted by driver, it may differ from requested.
type PixFormat struct {
	Width        uint32
	Height       uint32
	PixelFormat  uint32
	BytesPerLine uint32
	SizeImage    uint32
}

func (d *Device) SetFormat(width, height, pixFmt uint32) (*PixFormat, error) {
	f := v4l2_format{
		typ: V4L2_BUF_TYPE_VIDEO_CAPTURE,
		pix: v4l2_pix_format{
			width:       width,
			height:      height,
			pixelformat: pixFmt,
			field:       V4L2_FIELD_NONE,
			colorspace:  V4L2_COLORSPACE_DEFAULT,
		},
	}
	if err := ioctl.Ioctl(d.fd, VIDIOC_S_FMT, unsafe.Pointer(&f)); err != nil {
		return nil, err
	}
	return &PixFormat{
		Width:        f.pix.width,
		Height:       f.pix.height,
		PixelFormat:  f.pix.pixelformat,
		BytesPerLine: f.pix.bytesperline,
		SizeImage:    f.pix.sizeimage,
	}, nil
}

func (d *Device) SetParam(fps uint32) error {
	p := v4l2_streamparm{
		typ: V4L2_BUF_TYPE_VIDEO_CAPTURE,
		capture: v4l2_captureparm{
			timeperframe: v4l2_fract{numerator: 1, denominator: fps},
		},
	}
	return ioctl.Ioctl(d.fd, VIDIOC_S_PARM, unsafe.Pointer(&p))
}

func (d *Device) SetControl(id uint32, value int32) error {
	c := v4l2_control{id: id, value: value}
	return ioctl.Ioctl(d.fd, VIDIOC_S_CTRL, unsafe.Pointer(&c))
}

type Rect struct {
	Left, Top     int32
	Width, Height uint32
}

// CropBounds return full sensor area in pixels.
func (d *Device) CropBounds() (*Rect, error) {
	s := v4l2_selection{
		typ:    V4L2_BUF_TYPE_VIDEO_CAPTURE,
		target: V4L2_SEL_TGT_CROP_BOUNDS,
	}
	if err := ioctl.Ioctl(d.fd, VIDIOC_G_SELECTION, unsafe.Pointer(&s)); err != nil {
		return nil, err
	}
	return &Rect{Left: s.r.left, Top: s.r.top, Width: s.r.width, Height: s.r.height}, nil
}

func (d *Device) SetCrop(r Rect) error {
	s := v4l2_selection{
		typ:    V4L2_BUF_TYPE_VIDEO_CAPTURE,
		target: V4L2_SEL_TGT_CROP,
		r:      v4l2_rect{left: r.Left, top: r.Top, width: r.Width, height: r.Height},
	}
	return ioctl.Ioctl(d.fd, VIDIOC_S_SELECTION, unsafe.Pointer(&s))
}

// Request allocates and maps count buffers. Driver may give less.
func (d *Device) Request(count int) ([][]byte, error) {
	rb := v4l2_requestbuffers{
		count:  uint32(count),
		typ:    V4L2_BUF_TYPE_VIDEO_CAPTURE,
		memory: V4L2_MEMORY_MMAP,
	}
	if err := ioctl.Ioctl(d.fd, VIDIOC_REQBUFS, unsafe.Pointer(&rb)); err != nil {
		return nil, err
	}
	if rb.count == 0 {
		return nil, errors.New("v4l2: no buffers")
	}

	d.bufs = make([][]byte, 0, rb.count)
	for i := uint32(0); i < rb.count; i++ {
		qb := v4l2_buffer{
			index:  i,
			typ:    V4L2_BUF_TYPE_VIDEO_CAPTURE,
			memory: V4L2_MEMORY_MMAP,
		}
		if err := ioctl.Ioctl(d.fd, VIDIOC_QUERYBUF, unsafe.Pointer(&qb)); err != nil {
			return nil, err
		}

		buf, err := unix.Mmap(d.fd, qb.offset(), int(qb.length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			return nil, err
		}

		d.bufs = append(d.bufs, buf)
	}

	return d.bufs, nil
}

// Queue gives buffer to driver for filling.
func (d *Device) Queue(index int) error {
	qb := v4l2_buffer{
		index:  uint32(index),
		typ:    V4L2_BUF_TYPE_VIDEO_CAPTURE,
		memory: V4L2_MEMORY_MMAP,
	}
	return ioctl.Ioctl(d.fd, VIDIOC_QBUF, unsafe.Pointer(&qb))
}

// Dequeue takes filled buffer from driver. Returns EAGAIN when nothing ready.
func (d *Device) Dequeue() (index int, size int, flags uint32, err error) {
	dq := v4l2_buffer{
		typ:    V4L2_BUF_TYPE_VIDEO_CAPTURE,
		memory: V4L2_MEMORY_MMAP,
	}
	if err = ioctl.Ioctl(d.fd, VIDIOC_DQBUF, unsafe.Pointer(&dq)); err != nil {
		return -1, 0, 0, err
	}
	return int(dq.index), int(dq.bytesused), dq.flags, nil
}

// Wait for readable device up to timeout.
func (d *Device) Wait(timeout time.Duration) (bool, error) {
	fds := []unix.PollFd{{Fd: int32(d.fd), Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(fds, int(timeout/time.Millisecond))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return false, err
		}
		if n > 0 && fds[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
			return false, ErrPoll
		}
		return n > 0, nil
	}
}

func (d *Device) StreamOn() error {
	typ := uint32(V4L2_BUF_TYPE_VIDEO_CAPTURE)
	return ioctl.Ioctl(d.fd, VIDIOC_STREAMON, unsafe.Pointer(&typ))
}

// StreamOff also returns all queued buffers from driver.
func (d *Device) StreamOff() error {
	typ := uint32(V4L2_BUF_TYPE_VIDEO_CAPTURE)
	return ioctl.Ioctl(d.fd, VIDIOC_STREAMOFF, unsafe.Pointer(&typ))
}

// Release unmaps and frees all buffers. Safe to call without Request.
func (d *Device) Release() error {
	if d.bufs == nil {
		return nil
	}

	for i := range d.bufs {
		_ = unix.Munmap(d.bufs[i])
	}
	d.bufs = nil

	rb := v4l2_requestbuffers{
		count:  0,
		typ:    V4L2_BUF_TYPE_VIDEO_CAPTURE,
		memory: V4L2_MEMORY_MMAP,
	}
	return ioctl.Ioctl(d.fd, VIDIOC_REQBUFS, unsafe.Pointer(&rb))
}

func (d *Device) Close() error {
	return unix.Close(d.fd)
}
