package picamera

import (
	"errors"
	"image"
	"math"
	"strings"
)

// Format is V4L2 style FourCC of pixel format.
type Format uint32

const (
	FormatI420 Format = 'Y' | 'U'<<8 | '1'<<16 | '2'<<24 // planar YUV 4:2:0
	FormatGray Format = 'G' | 'R'<<8 | 'E'<<16 | 'Y'<<24 // 8-bit luma
	FormatRGBA Format = 'A' | 'B'<<8 | '2'<<16 | '4'<<24 // RGBA 8:8:8:8
)

var formatNames = map[string]Format{
	"i420": FormatI420,
	"yu12": FormatI420,
	"gray": FormatGray,
	"grey": FormatGray,
	"rgba": FormatRGBA,
}

func ParseFormat(s string) (Format, error) {
	if f, ok := formatNames[strings.ToLower(s)]; ok {
		return f, nil
	}
	return 0, errors.New("picamera: unsupported format: " + s)
}

func (f Format) String() string {
	b := []byte{byte(f), byte(f >> 8), byte(f >> 16), byte(f >> 24)}
	return string(b)
}

func (f Format) BytesPerPixel() int {
	if f == FormatRGBA {
		return 4
	}
	return 1
}

func (f Format) NumPlanes() int {
	switch f {
	case FormatI420:
		return 3
	case FormatGray, FormatRGBA:
		return 1
	}
	return 0
}

type Point struct {
	X, Y float64
}

// Rectangle in normalised coordinates, (0,0)-(1,1) is the full frame.
type Rectangle struct {
	Min, Max Point
}

func Rect(x1, y1, x2, y2 float64) Rectangle {
	return Rectangle{
		Min: Point{X: math.Min(x1, x2), Y: math.Min(y1, y2)},
		Max: Point{X: math.Max(x1, x2), Y: math.Max(y1, y2)},
	}
}

var FullFrame = Rect(0, 0, 1, 1)

func (r Rectangle) Dx() float64 {
	return r.Max.X - r.Min.X
}

func (r Rectangle) Dy() float64 {
	return r.Max.Y - r.Min.Y
}

func (r Rectangle) In(s Rectangle) bool {
	return r.Min.X >= s.Min.X && r.Max.X <= s.Max.X &&
		r.Min.Y >= s.Min.Y && r.Max.Y <= s.Max.Y
}

func (r Rectangle) Empty() bool {
	return r.Dx() <= 0 || r.Dy() <= 0
}

// Scale converts normalised rectangle to pixels inside bounds.
func (r Rectangle) Scale(bounds image.Rectangle) image.Rectangle {
	w, h := float64(bounds.Dx()), float64(bounds.Dy())
	return image.Rect(
		bounds.Min.X+int(math.Round(r.Min.X*w)),
		bounds.Min.Y+int(math.Round(r.Min.Y*h)),
		bounds.Min.X+int(math.Round(r.Max.X*w)),
		bounds.Min.Y+int(math.Round(r.Max.Y*h)),
	)
}

// Config is forwarded to the pipeline as is.
type Config struct {
	// sensor mode
	FrameWidth, FrameHeight uint
	// output image
	Width, Height uint
	FPS           uint
	Format        Format

	Crop     Rectangle
	Rotation int
	HFlip    bool
	VFlip    bool

	Buffers int
}

const DefaultBuffers = 5

// sensor modes, smallest first
var frameSizes = []image.Point{
	{X: 640, Y: 480},
	{X: 1296, Y: 972},
	{X: 2592, Y: 1944},
}

// FrameSize return smallest sensor mode that covers output size.
func FrameSize(width, height uint) (uint, uint) {
	var size image.Point
	for _, size = range frameSizes {
		if width <= uint(size.X) && height <= uint(size.Y) {
			break
		}
	}
	return uint(size.X), uint(size.Y)
}

func validRotation(rot int) bool {
	switch rot {
	case 0, 90, 180, 270:
		return true
	}
	return false
}
