package picamera

import (
	"image"
	"sync/atomic"

	"github.com/usedbytes/picamera/pkg/frameq"
)

// Frame is image backed by hardware buffer memory. Pixels are valid only
// until Release, after that the buffer is refilled by the camera.
type Frame interface {
	image.Image
	Handle() frameq.Handle
	Release() error
}

type buffer struct {
	handle   frameq.Handle
	release  func(h frameq.Handle) error
	released atomic.Bool
}

func (b *buffer) Handle() frameq.Handle {
	return b.handle
}

// Release gives buffer back to camera. Second call returns ErrNotHeld.
func (b *buffer) Release() error {
	if b.released.Swap(true) {
		return frameq.ErrNotHeld
	}
	if b.release == nil {
		return nil
	}
	return b.release(b.handle)
}

type GrayFrame struct {
	image.Gray
	buffer
}

type RGBFrame struct {
	image.NRGBA
	buffer
}

type YCbCrFrame struct {
	image.YCbCr
	buffer
}

func newFrame(format Format, buf *Buffer, h frameq.Handle, release func(h frameq.Handle) error) (Frame, error) {
	if len(buf.Planes) < format.NumPlanes() {
		return nil, ErrFormat
	}

	rect := image.Rect(0, 0, buf.Width, buf.Height)

	switch format {
	case FormatI420:
		y, yStride := buf.Plane(0)
		cb, cStride := buf.Plane(1)
		cr, _ := buf.Plane(2)
		return &YCbCrFrame{
			YCbCr: image.YCbCr{
				Y: y, Cb: cb, Cr: cr,
				YStride:        yStride,
				CStride:        cStride,
				SubsampleRatio: image.YCbCrSubsampleRatio420,
				Rect:           rect,
			},
			buffer: buffer{handle: h, release: release},
		}, nil
	case FormatGray:
		pix, stride := buf.Plane(0)
		return &GrayFrame{
			Gray:   image.Gray{Pix: pix, Stride: stride, Rect: rect},
			buffer: buffer{handle: h, release: release},
		}, nil
	case FormatRGBA:
		pix, stride := buf.Plane(0)
		return &RGBFrame{
			NRGBA:  image.NRGBA{Pix: pix, Stride: stride, Rect: rect},
			buffer: buffer{handle: h, release: release},
		}, nil
	}

	return nil, ErrFormat
}
