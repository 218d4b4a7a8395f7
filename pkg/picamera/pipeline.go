package picamera

import (
	"errors"

	"github.com/usedbytes/picamera/pkg/frameq"
)

// Pipeline is the hardware side of a camera session.
//
// Enable negotiates formats and allocates buffers, Start registers the sink
// for completed frames and starts streaming. Submit gives a free buffer back
// to hardware. Disable must be safe after partial Enable and on repeat calls.
type Pipeline interface {
	frameq.Producer

	Enable(cfg *Config) ([]*Buffer, error)
	Start(sink frameq.Sink) error
	Apply(cfg *Config) error
	Disable() error
}

// Plane is a region of buffer memory with one image plane.
type Plane struct {
	Offset int `json:"offset"`
	Stride int `json:"stride"`
	Length int `json:"length"`
}

// Buffer is one hardware owned frame memory with its layout.
type Buffer struct {
	Data   []byte
	Planes []Plane
	Width  int
	Height int
}

// Plane return pixel data and row stride for plane i.
func (b *Buffer) Plane(i int) ([]byte, int) {
	if i < 0 || i >= len(b.Planes) {
		return nil, 0
	}
	p := b.Planes[i]
	end := p.Offset + p.Length
	if end > len(b.Data) {
		end = len(b.Data)
	}
	return b.Data[p.Offset:end:end], p.Stride
}

// Layout calculates planes for format with stride of the first plane.
// Zero stride means tightly packed rows.
func Layout(format Format, width, height, stride int) []Plane {
	if stride == 0 {
		stride = width * format.BytesPerPixel()
	}

	switch format {
	case FormatI420:
		cStride := stride / 2
		cHeight := (height + 1) / 2
		y := Plane{Stride: stride, Length: stride * height}
		cb := Plane{Offset: y.Length, Stride: cStride, Length: cStride * cHeight}
		cr := Plane{Offset: cb.Offset + cb.Length, Stride: cStride, Length: cStride * cHeight}
		return []Plane{y, cb, cr}
	case FormatGray, FormatRGBA:
		return []Plane{{Stride: stride, Length: stride * height}}
	}

	return nil
}

// Size return total bytes for planes.
func Size(planes []Plane) (n int) {
	for _, p := range planes {
		if end := p.Offset + p.Length; end > n {
			n = end
		}
	}
	return
}

// StepError reports pipeline configuration step that failed.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return "picamera: " + e.Step + ": " + e.Err.Error()
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Step wraps err with step name, nil stays nil.
func Step(step string, err error) error {
	if err == nil {
		return nil
	}
	return &StepError{Step: step, Err: err}
}

// FailedStep return step name from error chain or empty string.
func FailedStep(err error) string {
	var se *StepError
	if errors.As(err, &se) {
		return se.Step
	}
	return ""
}

const (
	StepOpen       = "open device"
	StepCapability = "query capability"
	StepFormat     = "set format"
	StepFrameRate  = "set frame rate"
	StepCrop       = "set crop"
	StepTransform  = "set transform"
	StepBuffers    = "request buffers"
	StepStreamOn   = "stream on"
	StepStart      = "start"
)
