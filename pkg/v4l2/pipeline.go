//go:build linux

package v4l2

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/usedbytes/picamera/pkg/frameq"
	"github.com/usedbytes/picamera/pkg/picamera"
	"github.com/usedbytes/picamera/pkg/v4l2/device"
	"golang.org/x/sys/unix"
)

const pollTimeout = 100 * time.Millisecond

// Pipeline captures frames from V4L2 device with mmap buffers.
// Submit is QBUF, completed DQBUF goes to sink.
type Pipeline struct {
	Path string
	Log  zerolog.Logger

	mu     sync.RWMutex
	dev    *device.Device
	bounds *device.Rect
	done   chan struct{}
	wg     sync.WaitGroup
}

func NewPipeline(path string) *Pipeline {
	return &Pipeline{Path: path, Log: log.Logger}
}

func (p *Pipeline) Enable(cfg *picamera.Config) ([]*picamera.Buffer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.dev != nil {
		return nil, errors.New("v4l2: already enabled")
	}

	dev, err := device.Open(p.Path)
	if err != nil {
		return nil, picamera.Step(picamera.StepOpen, err)
	}
	p.dev = dev

	c, err := dev.Capability()
	if err != nil {
		return nil, picamera.Step(picamera.StepCapability, err)
	}

	p.Log.Debug().Str("driver", c.Driver).Str("card", c.Card).Msg("[v4l2] open " + p.Path)

	pix, err := dev.SetFormat(uint32(cfg.Width), uint32(cfg.Height), uint32(cfg.Format))
	if err != nil {
		return nil, picamera.Step(picamera.StepFormat, err)
	}
	if pix.PixelFormat != uint32(cfg.Format) {
		err = fmt.Errorf("driver changed format to %s", device.FormatName(pix.PixelFormat))
		return nil, picamera.Step(picamera.StepFormat, err)
	}
	if pix.Width != uint32(cfg.Width) || pix.Height != uint32(cfg.Height) {
		p.Log.Warn().Msgf("[v4l2] driver changed size to %dx%d", pix.Width, pix.Height)
	}

	if cfg.FPS > 0 {
		if err = dev.SetParam(uint32(cfg.FPS)); err != nil {
			return nil, picamera.Step(picamera.StepFrameRate, err)
		}
	}

	// not all drivers support selection API
	if p.bounds, err = dev.CropBounds(); err != nil {
		p.Log.Trace().Err(err).Msg("[v4l2] crop bounds")
	}

	if err = p.apply(cfg); err != nil {
		return nil, err
	}

	mem, err := dev.Request(cfg.Buffers)
	if err != nil {
		return nil, picamera.Step(picamera.StepBuffers, err)
	}

	planes := picamera.Layout(cfg.Format, int(pix.Width), int(pix.Height), int(pix.BytesPerLine))

	bufs := make([]*picamera.Buffer, len(mem))
	for i, data := range mem {
		if picamera.Size(planes) > len(data) {
			err = fmt.Errorf("buffer %d too small: %d", i, len(data))
			return nil, picamera.Step(picamera.StepBuffers, err)
		}
		bufs[i] = &picamera.Buffer{
			Data:   data,
			Planes: planes,
			Width:  int(pix.Width),
			Height: int(pix.Height),
		}
	}

	return bufs, nil
}

func (p *Pipeline) Start(sink frameq.Sink) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.dev == nil {
		return errors.New("v4l2: not enabled")
	}
	if p.done != nil {
		return errors.New("v4l2: already started")
	}

	if err := p.dev.StreamOn(); err != nil {
		return picamera.Step(picamera.StepStreamOn, err)
	}

	p.done = make(chan struct{})
	p.wg.Add(1)
	go p.capture(p.dev, sink, p.done)

	return nil
}

func (p *Pipeline) Submit(h frameq.Handle) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.dev == nil {
		return errors.New("v4l2: not enabled")
	}
	return p.dev.Queue(int(h))
}

func (p *Pipeline) Apply(cfg *picamera.Config) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.dev == nil {
		return errors.New("v4l2: not enabled")
	}
	return p.apply(cfg)
}

// Disable can be called after failed Enable and many times.
func (p *Pipeline) Disable() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.dev == nil {
		return nil
	}

	var errs []error

	if p.done != nil {
		close(p.done)
		p.wg.Wait()
		p.done = nil
		errs = append(errs, p.dev.StreamOff())
	}

	errs = append(errs, p.dev.Release(), p.dev.Close())

	p.dev = nil
	p.bounds = nil

	return errors.Join(errs...)
}

func (p *Pipeline) apply(cfg *picamera.Config) error {
	if p.bounds != nil {
		b := image.Rect(0, 0, int(p.bounds.Width), int(p.bounds.Height)).Add(
			image.Pt(int(p.bounds.Left), int(p.bounds.Top)),
		)
		r := cfg.Crop.Scale(b)
		crop := device.Rect{
			Left: int32(r.Min.X), Top: int32(r.Min.Y),
			Width: uint32(r.Dx()), Height: uint32(r.Dy()),
		}
		if err := p.dev.SetCrop(crop); err != nil {
			return picamera.Step(picamera.StepCrop, err)
		}
	} else if cfg.Crop != picamera.FullFrame {
		return picamera.Step(picamera.StepCrop, errors.New("not supported by driver"))
	}

	ctrls := [][2]int32{
		{device.V4L2_CID_ROTATE, int32(cfg.Rotation)},
		{device.V4L2_CID_HFLIP, btoi(cfg.HFlip)},
		{device.V4L2_CID_VFLIP, btoi(cfg.VFlip)},
	}
	for _, ctrl := range ctrls {
		if err := p.dev.SetControl(uint32(ctrl[0]), ctrl[1]); err != nil {
			// driver without control is fine for default value
			if ctrl[1] == 0 && errors.Is(err, unix.EINVAL) {
				continue
			}
			return picamera.Step(picamera.StepTransform, err)
		}
	}

	return nil
}

func (p *Pipeline) capture(dev *device.Device, sink frameq.Sink, done chan struct{}) {
	defer p.wg.Done()

	for {
		select {
		case <-done:
			return
		default:
		}

		ok, err := dev.Wait(pollTimeout)
		if err != nil {
			if errors.Is(err, device.ErrPoll) {
				// nothing queued yet or all buffers held by consumer
				time.Sleep(10 * time.Millisecond)
				continue
			}
			p.Log.Error().Err(err).Msg("[v4l2] poll")
			return
		}
		if !ok {
			continue
		}

		i, size, flags, err := dev.Dequeue()
		if err != nil {
			if errors.Is(err, unix.EAGAIN) {
				continue
			}
			p.Log.Error().Err(err).Msg("[v4l2] dequeue")
			return
		}

		h := frameq.Handle(i)

		if flags&device.V4L2_BUF_FLAG_ERROR != 0 || size == 0 {
			p.Log.Trace().Int("buffer", i).Msg("[v4l2] corrupted frame")
			err = sink.Recycle(h)
		} else {
			err = sink.Enqueue(h)
		}

		if err != nil {
			if errors.Is(err, frameq.ErrClosed) {
				return
			}
			p.Log.Warn().Err(err).Int("buffer", i).Msg("[v4l2] sink")
		}
	}
}

func btoi(b bool) int32 {
	if b {
		return 1
	}
	return 0
}
