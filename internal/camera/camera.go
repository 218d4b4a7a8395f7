package camera

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/usedbytes/picamera/internal/api"
	"github.com/usedbytes/picamera/internal/api/ws"
	"github.com/usedbytes/picamera/internal/app"
	"github.com/usedbytes/picamera/pkg/core"
	"github.com/usedbytes/picamera/pkg/fake"
	"github.com/usedbytes/picamera/pkg/picamera"
	"github.com/usedbytes/picamera/pkg/v4l2"
)

type Config struct {
	Device    string        `yaml:"device"`
	Width     uint          `yaml:"width"`
	Height    uint          `yaml:"height"`
	FrameSize string        `yaml:"frame_size"`
	FPS       uint          `yaml:"fps"`
	Format    string        `yaml:"format"`
	Buffers   int           `yaml:"buffers"`
	Crop      []float64     `yaml:"crop"`
	Rotation  int           `yaml:"rotation"`
	HFlip     bool          `yaml:"hflip"`
	VFlip     bool          `yaml:"vflip"`
	Timeout   time.Duration `yaml:"timeout"`
	Stalls    int           `yaml:"stalls"`
	Quality   int           `yaml:"quality"`
	Stats     time.Duration `yaml:"stats"`
}

func DefaultConfig() Config {
	return Config{
		Device:  "/dev/video0",
		Width:   640,
		Height:  480,
		FPS:     30,
		Format:  "i420",
		Buffers: picamera.DefaultBuffers,
		Timeout: time.Second,
		Stalls:  5,
		Quality: 75,
		Stats:   time.Minute,
	}
}

func Init() {
	var cfg struct {
		Mod Config `yaml:"camera"`
	}

	cfg.Mod = DefaultConfig()

	app.LoadConfig(&cfg)

	log = app.GetLogger("camera")

	if cfg.Mod.Device == "" {
		log.Info().Msg("[camera] disabled")
		return
	}

	cam, err := NewCamera(cfg.Mod, log)
	if err != nil {
		log.Error().Err(err).Msg("[camera] config")
		return
	}

	runner = NewRunner(cam, cfg.Mod, log)

	ctx, cancel := context.WithCancel(context.Background())
	stop = cancel

	go runner.Run(ctx)

	api.HandleFunc("api/camera", apiCamera)
	api.HandleFunc("api/camera/devices", apiDevices)
	api.HandleFunc("api/frame.jpeg", apiFrame)
	api.HandleFunc("api/stream.mjpeg", apiStream)

	ws.HandleFunc("camera", wsCamera)
	ws.HandleFunc("frames", wsFrames)
}

// Stop disables camera and waits for capture loop.
func Stop() {
	if runner == nil {
		return
	}
	stop()
	runner.Wait()
}

var log zerolog.Logger
var runner *Runner
var stop context.CancelFunc

// NewCamera creates camera session from config, "test" device is software pipeline.
func NewCamera(cfg Config, logger zerolog.Logger) (*picamera.Camera, error) {
	var pipe picamera.Pipeline

	if cfg.Device == "test" {
		pipe = &fake.Pipeline{Mmap: true}
	} else {
		p := v4l2.NewPipeline(cfg.Device)
		p.Log = app.GetLogger("v4l2").With().Str("device", cfg.Device).Logger()
		pipe = p
	}

	cam := picamera.NewCamera(pipe, cfg.Width, cfg.Height, cfg.FPS)
	cam.Log = logger

	if err := configure(cam, cfg); err != nil {
		return nil, err
	}

	return cam, nil
}

// configure applies settings that can be changed only when camera disabled
func configure(cam *picamera.Camera, cfg Config) error {
	var errs []error

	if cfg.FrameSize != "" {
		w, h, err := core.ParseSize(cfg.FrameSize)
		if err == nil {
			err = cam.SetFrameSize(w, h)
		}
		errs = append(errs, err)
	}

	if cfg.Format != "" {
		format, err := picamera.ParseFormat(cfg.Format)
		if err == nil {
			err = cam.SetFormat(format)
		}
		errs = append(errs, err)
	}

	if cfg.Buffers > 0 {
		errs = append(errs, cam.SetBuffers(cfg.Buffers))
	}

	if cfg.Crop != nil {
		crop, err := parseCrop(cfg.Crop)
		if err == nil {
			err = cam.SetCrop(crop)
		}
		errs = append(errs, err)
	}

	errs = append(errs, cam.SetTransform(cfg.Rotation, cfg.HFlip, cfg.VFlip))

	return errors.Join(errs...)
}

func parseCrop(v []float64) (picamera.Rectangle, error) {
	if len(v) != 4 {
		return picamera.Rectangle{}, errors.New("camera: crop must be [x1, y1, x2, y2]")
	}
	return picamera.Rect(v[0], v[1], v[2], v[3]), nil
}

func cropSlice(r picamera.Rectangle) []float64 {
	return []float64{r.Min.X, r.Min.Y, r.Max.X, r.Max.Y}
}

func formatName(f picamera.Format) string {
	switch f {
	case picamera.FormatI420:
		return "i420"
	case picamera.FormatGray:
		return "gray"
	case picamera.FormatRGBA:
		return "rgba"
	}
	return strings.ToLower(f.String())
}
