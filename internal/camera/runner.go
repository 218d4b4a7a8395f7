package camera

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/usedbytes/picamera/pkg/core"
	"github.com/usedbytes/picamera/pkg/frameq"
	"github.com/usedbytes/picamera/pkg/mjpeg"
	"github.com/usedbytes/picamera/pkg/picamera"
)

// Runner owns camera lifecycle: enable, capture loop, restart on stalls.
// Frames are encoded to JPEG only when somebody waits for them.
type Runner struct {
	cam *picamera.Camera
	log zerolog.Logger

	timeout time.Duration
	stalls  int
	quality int
	stats   time.Duration
	backoff time.Duration

	// life serializes Enable/Disable between loop and reconfiguration
	life sync.Mutex

	mu        sync.Mutex
	consumers map[*Consumer]struct{}
	session   string
	started   time.Time
	frames    uint64
	timeouts  uint64
	restarts  uint64
	lastErr   string

	done chan struct{}
}

// NewRunner makes camera Disable wait for the frame in work, the capture
// loop always releases it.
func NewRunner(cam *picamera.Camera, cfg Config, logger zerolog.Logger) *Runner {
	cam.ReleaseTimeout = 0

	r := &Runner{
		cam:       cam,
		log:       logger,
		timeout:   cfg.Timeout,
		stalls:    cfg.Stalls,
		quality:   cfg.Quality,
		stats:     cfg.Stats,
		backoff:   time.Second,
		consumers: map[*Consumer]struct{}{},
		done:      make(chan struct{}),
	}
	if r.timeout <= 0 {
		r.timeout = time.Second
	}
	if r.stalls <= 0 {
		r.stalls = 5
	}
	return r
}

func (r *Runner) Camera() *picamera.Camera {
	return r.cam
}

// Run blocks until ctx is done.
func (r *Runner) Run(ctx context.Context) {
	defer close(r.done)

	var worker *core.Worker
	if r.stats > 0 {
		worker = core.NewWorker(r.stats, func() time.Duration {
			s := r.Stats()
			r.log.Info().Str("session", s.Session).Uint64("frames", s.Frames).
				Uint64("timeouts", s.Timeouts).Uint64("dropped", s.Queue.Dropped).
				Uint64("failed", s.Queue.Failed).Int("held", s.Queue.Held).Msg("[camera] stats")
			return r.stats
		})
	}
	defer worker.Stop()

	// wake GetFrame on cancel
	go func() {
		<-ctx.Done()
		r.life.Lock()
		_ = r.cam.Disable()
		r.life.Unlock()
	}()

	for ctx.Err() == nil {
		r.life.Lock()
		err := r.enable()
		r.life.Unlock()

		if err != nil {
			r.log.Error().Err(err).Str("step", picamera.FailedStep(err)).Msg("[camera] enable")
			select {
			case <-ctx.Done():
			case <-time.After(r.backoff):
			}
			continue
		}

		if r.loop(ctx) {
			r.log.Warn().Int("timeouts", r.stalls).Msg("[camera] stalled, restart")

			r.life.Lock()
			_ = r.cam.Disable()
			r.life.Unlock()

			r.mu.Lock()
			r.restarts++
			r.mu.Unlock()
		}
	}

	r.life.Lock()
	err := r.cam.Disable()
	r.life.Unlock()

	r.log.Debug().Err(err).Msg("[camera] stopped")
}

// Wait for Run exit.
func (r *Runner) Wait() {
	<-r.done
}

// loop returns true when camera stalled and should be restarted
func (r *Runner) loop(ctx context.Context) bool {
	var stalls int

	for ctx.Err() == nil {
		frame, err := r.cam.GetFrame(r.timeout)
		if err != nil {
			if errors.Is(err, picamera.ErrTimeout) {
				r.mu.Lock()
				r.timeouts++
				r.mu.Unlock()

				if stalls++; stalls >= r.stalls {
					return true
				}
				r.log.Debug().Int("stalls", stalls).Msg("[camera] no frame")
				continue
			}

			// closed or disabled by reconfiguration
			r.log.Trace().Err(err).Msg("[camera] get frame")
			return false
		}

		stalls = 0
		r.handle(frame)

		// closed when reconfiguration disabled camera during encode
		if err = frame.Release(); err != nil && !errors.Is(err, picamera.ErrClosed) {
			r.log.Warn().Err(err).Int("buffer", int(frame.Handle())).Msg("[camera] release")
		}
	}

	return false
}

func (r *Runner) handle(frame picamera.Frame) {
	r.mu.Lock()
	r.frames++
	n := len(r.consumers)
	r.mu.Unlock()

	if n == 0 {
		return
	}

	// encode before release, frame memory goes back to camera
	b, err := mjpeg.Encode(frame, r.quality)
	if err != nil {
		r.log.Warn().Err(err).Msg("[camera] encode")
		return
	}

	r.mu.Lock()
	for c := range r.consumers {
		c.send(b)
	}
	r.mu.Unlock()
}

// Reconfigure disables camera, calls f and enables camera back
// if it was enabled before.
func (r *Runner) Reconfigure(f func(cam *picamera.Camera) error) error {
	r.life.Lock()
	defer r.life.Unlock()

	enabled := r.cam.Enabled()
	if err := r.cam.Disable(); err != nil {
		r.log.Warn().Err(err).Msg("[camera] disable")
	}

	err := f(r.cam)

	if enabled {
		err = errors.Join(err, r.enable())
	}

	return err
}

// enable must be called under life lock
func (r *Runner) enable() error {
	if r.cam.Enabled() {
		return nil
	}

	if err := r.cam.Enable(); err != nil {
		r.mu.Lock()
		r.lastErr = err.Error()
		r.mu.Unlock()
		return err
	}

	r.mu.Lock()
	r.session = uuid.NewString()
	r.started = time.Now()
	r.lastErr = ""
	r.mu.Unlock()

	r.log.Info().Str("session", r.session).Msg("[camera] enabled")

	return nil
}

// Consumer receives only the last encoded frame, older are dropped.
type Consumer struct {
	ch chan []byte
}

func (c *Consumer) C() <-chan []byte {
	return c.ch
}

func (c *Consumer) send(b []byte) {
	select {
	case c.ch <- b:
		return
	default:
	}

	// drop old frame for slow consumer
	select {
	case <-c.ch:
	default:
	}

	select {
	case c.ch <- b:
	default:
	}
}

func (r *Runner) Subscribe() *Consumer {
	c := &Consumer{ch: make(chan []byte, 1)}
	r.mu.Lock()
	r.consumers[c] = struct{}{}
	r.mu.Unlock()
	return c
}

func (r *Runner) Unsubscribe(c *Consumer) {
	r.mu.Lock()
	delete(r.consumers, c)
	r.mu.Unlock()
}

// Snapshot waits next JPEG frame.
func (r *Runner) Snapshot(ctx context.Context) ([]byte, error) {
	c := r.Subscribe()
	defer r.Unsubscribe(c)

	select {
	case b := <-c.C():
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type Stats struct {
	Session   string       `json:"session,omitempty"`
	Started   *time.Time   `json:"started,omitempty"`
	Enabled   bool         `json:"enabled"`
	Frames    uint64       `json:"frames"`
	Timeouts  uint64       `json:"timeouts"`
	Restarts  uint64       `json:"restarts"`
	Consumers int          `json:"consumers"`
	Error     string       `json:"error,omitempty"`
	Queue     frameq.Stats `json:"queue"`
}

func (r *Runner) Stats() Stats {
	s := Stats{
		Enabled: r.cam.Enabled(),
		Queue:   r.cam.Stats(),
	}

	r.mu.Lock()
	s.Session = r.session
	if !r.started.IsZero() {
		started := r.started
		s.Started = &started
	}
	s.Frames = r.frames
	s.Timeouts = r.timeouts
	s.Restarts = r.restarts
	s.Consumers = len(r.consumers)
	s.Error = r.lastErr
	r.mu.Unlock()

	return s
}
