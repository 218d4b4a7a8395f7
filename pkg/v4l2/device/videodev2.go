//go:build linux

package device

import (
	"unsafe"

	"github.com/usedbytes/picamera/pkg/ioctl"
	"golang.org/x/sys/unix"
)

// https://github.com/torvalds/linux/blob/master/include/uapi/linux/videodev2.h

var (
	VIDIOC_QUERYCAP = ioctl.IOR('V', 0, unsafe.Sizeof(v4l2_capability{}))
	VIDIOC_ENUM_FMT = ioctl.IORW('V', 2, unsafe.Sizeof(v4l2_fmtdesc{}))
	VIDIOC_G_FMT    = ioctl.IORW('V', 4, unsafe.Sizeof(v4l2_format{}))
	VIDIOC_S_FMT    = ioctl.IORW('V', 5, unsafe.Sizeof(v4l2_format{}))
	VIDIOC_REQBUFS  = ioctl.IORW('V', 8, unsafe.Sizeof(v4l2_requestbuffers{}))
	VIDIOC_QUERYBUF = ioctl.IORW('V', 9, unsafe.Sizeof(v4l2_buffer{}))

	VIDIOC_QBUF      = ioctl.IORW('V', 15, unsafe.Sizeof(v4l2_buffer{}))
	VIDIOC_DQBUF     = ioctl.IORW('V', 17, unsafe.Sizeof(v4l2_buffer{}))
	VIDIOC_STREAMON  = ioctl.IOW('V', 18, 4)
	VIDIOC_STREAMOFF = ioctl.IOW('V', 19, 4)
	VIDIOC_G_PARM    = ioctl.IORW('V', 21, unsafe.Sizeof(v4l2_streamparm{}))
	VIDIOC_S_PARM    = ioctl.IORW('V', 22, unsafe.Sizeof(v4l2_streamparm{}))
	VIDIOC_S_CTRL    = ioctl.IORW('V', 28, unsafe.Sizeof(v4l2_control{}))

	VIDIOC_ENUM_FRAMESIZES     = ioctl.IORW('V', 74, unsafe.Sizeof(v4l2_frmsizeenum{}))
	VIDIOC_ENUM_FRAMEINTERVALS = ioctl.IORW('V', 75, unsafe.Sizeof(v4l2_frmivalenum{}))
	VIDIOC_G_SELECTION         = ioctl.IORW('V', 94, unsafe.Sizeof(v4l2_selection{}))
	VIDIOC_S_SELECTION         = ioctl.IORW('V', 95, unsafe.Sizeof(v4l2_selection{}))
)

const (
	V4L2_BUF_TYPE_VIDEO_CAPTURE = 1
	V4L2_COLORSPACE_DEFAULT     = 0
	V4L2_FIELD_NONE             = 1
	V4L2_FRMIVAL_TYPE_DISCRETE  = 1
	V4L2_FRMSIZE_TYPE_DISCRETE  = 1
	V4L2_MEMORY_MMAP            = 1

	V4L2_BUF_FLAG_ERROR = 0x40

	V4L2_SEL_TGT_CROP        = 0
	V4L2_SEL_TGT_CROP_BOUNDS = 2

	V4L2_CID_HFLIP  = 0x00980914
	V4L2_CID_VFLIP  = 0x00980915
	V4L2_CID_ROTATE = 0x00980922
)

type v4l2_capability struct { // size 104
	driver       [16]byte
	card         [32]byte
	bus_info     [32]byte
	version      uint32
	capabilities uint32
	device_caps  uint32
	reserved     [3]uint32
}

type v4l2_format struct { // size 208 on 64-bit, 204 on 32-bit
	typ uint32
	_   [0]uintptr // union has pointer alignment
	pix v4l2_pix_format
	_   [152]byte
}

type v4l2_pix_format struct { // size 48
	width        uint32
	height       uint32
	pixelformat  uint32
	field        uint32
	bytesperline uint32
	sizeimage    uint32
	colorspace   uint32
	priv         uint32
	flags        uint32
	ycbcr_enc    uint32
	quantization uint32
	xfer_func    uint32
}

type v4l2_streamparm struct { // size 204
	typ     uint32
	capture v4l2_captureparm
}

type v4l2_captureparm struct { // size 200
	capability   uint32
	capturemode  uint32
	timeperframe v4l2_fract
	extendedmode uint32
	readbuffers  uint32
	_            [176]byte
}

type v4l2_fract struct {
	numerator   uint32
	denominator uint32
}

type v4l2_requestbuffers struct { // size 20
	count        uint32
	typ          uint32
	memory       uint32
	capabilities uint32
	flags        uint8
	reserved     [3]uint8
}

type v4l2_buffer struct { // size 88 on 64-bit, 68 on 32-bit
	index     uint32
	typ       uint32
	bytesused uint32
	flags     uint32
	field     uint32
	timestamp unix.Timeval
	timecode  v4l2_timecode
	sequence  uint32
	memory    uint32
	m         uintptr // union: offset, userptr, planes, fd
	length    uint32
	reserved2 uint32
	request   uint32
}

// offset is the low 32 bits of the union on little endian
func (b *v4l2_buffer) offset() int64 {
	return int64(uint32(b.m))
}

type v4l2_timecode struct { // size 16
	typ      uint32
	flags    uint32
	frames   uint8
	seconds  uint8
	minutes  uint8
	hours    uint8
	userbits [4]uint8
}

type v4l2_fmtdesc struct { // size 64
	index       uint32
	typ         uint32
	flags       uint32
	description [32]byte
	pixelformat uint32
	mbus_code   uint32
	reserved    [3]uint32
}

type v4l2_frmsizeenum struct { // size 44
	index        uint32
	pixel_format uint32
	typ          uint32
	discrete     v4l2_frmsize_discrete
	_            [24]byte
}

type v4l2_frmsize_discrete struct {
	width  uint32
	height uint32
}

type v4l2_frmivalenum struct { // size 52
	index        uint32
	pixel_format uint32
	width        uint32
	height       uint32
	typ          uint32
	discrete     v4l2_fract
	_            [24]byte
}

type v4l2_control struct { // size 8
	id    uint32
	value int32
}

type v4l2_rect struct {
	left   int32
	top    int32
	width  uint32
	height uint32
}

type v4l2_selection struct { // size 64
	typ      uint32
	target   uint32
	flags    uint32
	r        v4l2_rect
	reserved [9]uint32
}
