//go:build !linux

package v4l2

import (
	"errors"

	"github.com/rs/zerolog"
	"github.com/usedbytes/picamera/pkg/frameq"
	"github.com/usedbytes/picamera/pkg/picamera"
)

var ErrUnsupported = errors.New("v4l2: supported only on linux")

type Pipeline struct {
	Path string
	Log  zerolog.Logger
}

func NewPipeline(path string) *Pipeline {
	return &Pipeline{Path: path}
}

func (p *Pipeline) Enable(*picamera.Config) ([]*picamera.Buffer, error) {
	return nil, picamera.Step(picamera.StepOpen, ErrUnsupported)
}

func (p *Pipeline) Start(frameq.Sink) error { return ErrUnsupported }
func (p *Pipeline) Submit(frameq.Handle) error { return ErrUnsupported }
func (p *Pipeline) Apply(*picamera.Config) error { return ErrUnsupported }
func (p *Pipeline) Disable() error { return nil }
func Probe(string) (*Info, error) { return nil, ErrUnsupported }
