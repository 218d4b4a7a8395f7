// Package fake is in-memory camera pipeline for tests and for running
// without camera hardware.
package fake

import (
	"errors"
	"sync"
	"time"

	"github.com/usedbytes/picamera/pkg/frameq"
	"github.com/usedbytes/picamera/pkg/picamera"
)

var ErrStep = errors.New("fake: step failed")

// Pipeline fills buffers with test pattern. With Manual set frames are
// completed only by Complete and Drop calls.
type Pipeline struct {
	// FailStep makes Enable, Start or Apply fail at this step
	FailStep string
	// SubmitErr is called before each Submit, non nil error rejects buffer
	SubmitErr func(h frameq.Handle) error
	Manual    bool
	// Mmap allocates buffers outside Go heap and unmaps them on Disable,
	// like a V4L2 device does
	Mmap bool

	Enables  int
	Disables int

	mu       sync.Mutex
	cfg      picamera.Config
	bufs     []*picamera.Buffer
	inflight []frameq.Handle
	sink     frameq.Sink
	sequence int
	enabled  bool
	done     chan struct{}
	wg       sync.WaitGroup
}

func (p *Pipeline) Enable(cfg *picamera.Config) ([]*picamera.Buffer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Enables++

	if p.enabled {
		return nil, errors.New("fake: already enabled")
	}
	if p.FailStep == picamera.StepOpen {
		return nil, picamera.Step(picamera.StepOpen, ErrStep)
	}
	if cfg.Format.NumPlanes() == 0 || p.FailStep == picamera.StepFormat {
		return nil, picamera.Step(picamera.StepFormat, ErrStep)
	}
	if p.FailStep == picamera.StepFrameRate {
		return nil, picamera.Step(picamera.StepFrameRate, ErrStep)
	}

	p.enabled = true
	p.cfg = *cfg

	if err := p.apply(cfg); err != nil {
		return nil, err
	}

	if cfg.Buffers < 1 || p.FailStep == picamera.StepBuffers {
		return nil, picamera.Step(picamera.StepBuffers, ErrStep)
	}

	w, h := int(cfg.Width), int(cfg.Height)
	planes := picamera.Layout(cfg.Format, w, h, 0)
	size := picamera.Size(planes)

	p.bufs = make([]*picamera.Buffer, cfg.Buffers)
	for i := range p.bufs {
		data, err := p.alloc(size)
		if err != nil {
			// Disable unmaps what was allocated
			return nil, picamera.Step(picamera.StepBuffers, err)
		}
		p.bufs[i] = &picamera.Buffer{
			Data:   data,
			Planes: planes,
			Width:  w,
			Height: h,
		}
	}

	return p.bufs, nil
}

func (p *Pipeline) Start(sink frameq.Sink) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.enabled {
		return errors.New("fake: not enabled")
	}
	if p.FailStep == picamera.StepStart {
		return ErrStep
	}

	p.sink = sink

	if !p.Manual {
		p.done = make(chan struct{})
		p.wg.Add(1)
		go p.run(p.done, p.interval())
	}

	return nil
}

func (p *Pipeline) Submit(h frameq.Handle) error {
	if p.SubmitErr != nil {
		if err := p.SubmitErr(h); err != nil {
			return err
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.enabled {
		return errors.New("fake: not enabled")
	}
	if h < 0 || int(h) >= len(p.bufs) {
		return frameq.ErrBadHandle
	}

	p.inflight = append(p.inflight, h)
	return nil
}

func (p *Pipeline) Apply(cfg *picamera.Config) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.enabled {
		return errors.New("fake: not enabled")
	}
	if err := p.apply(cfg); err != nil {
		return err
	}

	p.cfg = *cfg
	return nil
}

func (p *Pipeline) Disable() error {
	p.mu.Lock()
	done := p.done
	p.done = nil
	p.mu.Unlock()

	// generator takes the lock, so wait outside
	if done != nil {
		close(done)
		p.wg.Wait()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.enabled {
		return nil
	}

	p.Disables++
	p.enabled = false
	p.free()
	p.inflight = nil
	p.sink = nil

	return nil
}

func (p *Pipeline) alloc(size int) ([]byte, error) {
	if p.Mmap {
		return mmap(size)
	}
	return make([]byte, size), nil
}

func (p *Pipeline) free() {
	if p.Mmap {
		for _, buf := range p.bufs {
			if buf != nil {
				_ = munmap(buf.Data)
			}
		}
	}
	p.bufs = nil
}

// Complete fills oldest submitted buffer and gives it to sink.
func (p *Pipeline) Complete() (frameq.Handle, error) {
	h, sink, err := p.next(true)
	if err != nil {
		return -1, err
	}
	return h, sink.Enqueue(h)
}

// Drop returns oldest submitted buffer to sink without data.
func (p *Pipeline) Drop() (frameq.Handle, error) {
	h, sink, err := p.next(false)
	if err != nil {
		return -1, err
	}
	return h, sink.Recycle(h)
}

func (p *Pipeline) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inflight)
}

func (p *Pipeline) Config() picamera.Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

// sink is called outside lock, it can call Submit back
func (p *Pipeline) next(fill bool) (frameq.Handle, frameq.Sink, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sink == nil {
		return -1, nil, errors.New("fake: not started")
	}
	if len(p.inflight) == 0 {
		return -1, nil, errors.New("fake: no buffers")
	}

	h := p.inflight[0]
	p.inflight = p.inflight[1:]

	if fill {
		p.sequence++
		Pattern(p.bufs[h], p.sequence)
	}

	return h, p.sink, nil
}

func (p *Pipeline) run(done chan struct{}, interval time.Duration) {
	defer p.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			// no free buffers is normal when consumer holds them all
			_, _ = p.Complete()
		}
	}
}

func (p *Pipeline) interval() time.Duration {
	if p.cfg.FPS == 0 {
		return time.Second / 30
	}
	return time.Second / time.Duration(p.cfg.FPS)
}

func (p *Pipeline) apply(cfg *picamera.Config) error {
	if p.FailStep == picamera.StepCrop {
		return picamera.Step(picamera.StepCrop, ErrStep)
	}
	if p.FailStep == picamera.StepTransform {
		return picamera.Step(picamera.StepTransform, ErrStep)
	}
	return nil
}

// Pattern draws moving diagonal gradient, first byte of each plane is
// frame sequence number.
func Pattern(buf *picamera.Buffer, seq int) {
	for i := range buf.Planes {
		pix, stride := buf.Plane(i)
		if stride == 0 || len(pix) == 0 {
			continue
		}
		for y := 0; y*stride < len(pix); y++ {
			row := pix[y*stride:]
			if len(row) > stride {
				row = row[:stride]
			}
			for x := range row {
				row[x] = byte(x + y + seq)
			}
		}
		pix[0] = byte(seq)
	}
}
