package picamera

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/usedbytes/picamera/pkg/frameq"
)

var (
	ErrEnabled    = errors.New("picamera: can't change configuration when enabled")
	ErrNotEnabled = errors.New("picamera: camera not enabled")
	ErrCrop       = errors.New("picamera: crop rectangle must be inside (0,0)-(1,1)")
	ErrEmptyCrop  = errors.New("picamera: empty crop rectangle")
	ErrRotation   = errors.New("picamera: rotation must be 0, 90, 180 or 270")
	ErrFormat     = errors.New("picamera: unknown format")

	ErrTimeout = frameq.ErrTimeout
	ErrClosed  = frameq.ErrClosed
)

// Camera is one capture session over a pipeline. Configuration is kept
// while disabled and forwarded to the pipeline on Enable.
type Camera struct {
	Log zerolog.Logger

	// ReleaseTimeout limits how long Disable waits for frames held by
	// the application. Zero or negative waits until all are released.
	ReleaseTimeout time.Duration

	pipe Pipeline

	// life serializes Enable and Disable, mu guards state
	life    sync.Mutex
	mu      sync.Mutex
	cfg     Config
	session *session
	last    *frameq.Queue
}

// session lives from Enable to Disable
type session struct {
	bufs  []*Buffer
	queue *frameq.Queue
	// frames handed to the application and GetFrame calls in progress
	held sync.WaitGroup
}

const DefaultReleaseTimeout = 2 * time.Second
func NewCamera(pipe Pipeline, width, height, fps uint) *Camera {
	c := &Camera{
		Log:            log.Logger,
		ReleaseTimeout: DefaultReleaseTimeout,
		pipe:           pipe,
		cfg: Config{
			Width:   width,
			Height:  height,
			FPS:     fps,
			Format:  FormatI420,
			Crop:    FullFrame,
			Buffers: DefaultBuffers,
		},
	}
	c.cfg.FrameWidth, c.cfg.FrameHeight = FrameSize(width, height)
	return c
}

func (c *Camera) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

func (c *Camera) SetFrameSize(width, height uint) error {
	return c.setIdle(func(cfg *Config) {
		cfg.FrameWidth, cfg.FrameHeight = width, height
	})
}

func (c *Camera) GetFrameSize() (uint, uint) {
	cfg := c.Config()
	return cfg.FrameWidth, cfg.FrameHeight
}

func (c *Camera) SetOutSize(width, height uint) error {
	return c.setIdle(func(cfg *Config) {
		cfg.Width, cfg.Height = width, height
	})
}

func (c *Camera) GetOutSize() (uint, uint) {
	cfg := c.Config()
	return cfg.Width, cfg.Height
}

func (c *Camera) SetFPS(fps uint) error {
	return c.setIdle(func(cfg *Config) {
		cfg.FPS = fps
	})
}

func (c *Camera) GetFPS() uint {
	return c.Config().FPS
}

func (c *Camera) SetFormat(format Format) error {
	if format.NumPlanes() == 0 {
		return ErrFormat
	}
	return c.setIdle(func(cfg *Config) {
		cfg.Format = format
	})
}

func (c *Camera) GetFormat() Format {
	return c.Config().Format
}

// SetBuffers change buffer count for next Enable.
func (c *Camera) SetBuffers(n int) error {
	if n < 1 {
		return errors.New("picamera: wrong buffers count")
	}
	return c.setIdle(func(cfg *Config) {
		cfg.Buffers = n
	})
}

// SetCrop works also when camera enabled.
func (c *Camera) SetCrop(crop Rectangle) error {
	if !crop.In(FullFrame) {
		return ErrCrop
	}
	if crop.Empty() {
		return ErrEmptyCrop
	}
	return c.setLive(func(cfg *Config) {
		cfg.Crop = crop
	})
}

func (c *Camera) GetCrop() Rectangle {
	return c.Config().Crop
}

// SetTransform works also when camera enabled.
func (c *Camera) SetTransform(rot int, hflip, vflip bool) error {
	if !validRotation(rot) {
		return ErrRotation
	}
	return c.setLive(func(cfg *Config) {
		cfg.Rotation, cfg.HFlip, cfg.VFlip = rot, hflip, vflip
	})
}

func (c *Camera) GetTransform() (int, bool, bool) {
	cfg := c.Config()
	return cfg.Rotation, cfg.HFlip, cfg.VFlip
}

func (c *Camera) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session != nil
}

// Enable configure pipeline, build frame queue and submit all buffers.
// On any pipeline error nothing stays allocated.
func (c *Camera) Enable() error {
	c.life.Lock()
	defer c.life.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		return nil
	}

	cfg := c.cfg

	bufs, err := c.pipe.Enable(&cfg)
	if err != nil {
		_ = c.pipe.Disable()
		return err
	}

	for _, buf := range bufs {
		if len(buf.Planes) < cfg.Format.NumPlanes() {
			_ = c.pipe.Disable()
			return Step(StepFormat, ErrFormat)
		}
	}

	queue := frameq.New(len(bufs), c.pipe)
	queue.Log = c.Log

	if err = c.pipe.Start(queue); err != nil {
		queue.Close()
		_ = c.pipe.Disable()
		return Step(StepStart, err)
	}

	if n := queue.Resubmit(); n != len(bufs) {
		c.Log.Warn().Msgf("[picamera] queued an unexpected number of buffers: %d of %d", n, len(bufs))
	}

	c.session = &session{bufs: bufs, queue: queue}

	c.Log.Debug().Int("buffers", len(bufs)).Uint("width", cfg.Width).Uint("height", cfg.Height).
		Stringer("format", cfg.Format).Msg("[picamera] enabled")

	return nil
}

// Disable stops pipeline and wakes blocked GetFrame. Buffer memory is
// released only after held frames are released or ReleaseTimeout passes.
// Safe to call many times, but not from a goroutine that holds a frame.
func (c *Camera) Disable() error {
	c.life.Lock()
	defer c.life.Unlock()

	c.mu.Lock()
	s := c.session
	if s != nil {
		c.session = nil
		c.last = s.queue
	}
	c.mu.Unlock()

	if s == nil {
		return nil
	}

	s.queue.Close()

	if !c.waitHeld(s) {
		c.Log.Error().Int("held", s.queue.Stats().Held).Msg("[picamera] frames not released before disable")
	}

	err := c.pipe.Disable()

	c.Log.Debug().Err(err).Msg("[picamera] disabled")

	return err
}

func (c *Camera) waitHeld(s *session) bool {
	done := make(chan struct{})
	go func() {
		s.held.Wait()
		close(done)
	}()

	if c.ReleaseTimeout <= 0 {
		<-done
		return true
	}

	timer := time.NewTimer(c.ReleaseTimeout)
	defer timer.Stop()

	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

// GetFrame wait up to timeout for next frame. Every returned frame must be
// released, otherwise the camera stalls after all buffers are held.
func (c *Camera) GetFrame(timeout time.Duration) (Frame, error) {
	c.mu.Lock()
	s := c.session
	if s == nil {
		c.mu.Unlock()
		return nil, ErrNotEnabled
	}
	// Add under mu, so Disable never waits on a session before this call
	s.held.Add(1)
	format := c.cfg.Format
	c.mu.Unlock()

	h, err := s.queue.Dequeue(timeout)
	if err != nil {
		s.held.Done()
		return nil, err
	}

	frame, err := newFrame(format, s.bufs[h], h, s.release)
	if err != nil {
		_ = s.queue.Release(h)
		s.held.Done()
		return nil, err
	}

	return frame, nil
}

func (s *session) release(h frameq.Handle) error {
	defer s.held.Done()
	return s.queue.Release(h)
}

// Pixels return plane 0 data and stride of buffer.
func (c *Camera) Pixels(h frameq.Handle) ([]byte, int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return nil, 0, ErrNotEnabled
	}
	if h < 0 || int(h) >= len(c.session.bufs) {
		return nil, 0, frameq.ErrBadHandle
	}

	pix, stride := c.session.bufs[h].Plane(0)
	return pix, stride, nil
}

func (c *Camera) Stats() frameq.Stats {
	c.mu.Lock()
	s, last := c.session, c.last
	c.mu.Unlock()

	if s != nil {
		return s.queue.Stats()
	}
	if last != nil {
		return last.Stats()
	}
	return frameq.Stats{}
}

func (c *Camera) Close() error {
	return c.Disable()
}

func (c *Camera) setIdle(f func(cfg *Config)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		return ErrEnabled
	}

	f(&c.cfg)
	return nil
}

func (c *Camera) setLive(f func(cfg *Config)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cfg := c.cfg
	f(&cfg)

	if c.session != nil {
		if err := c.pipe.Apply(&cfg); err != nil {
			return err
		}
	}

	c.cfg = cfg
	return nil
}
