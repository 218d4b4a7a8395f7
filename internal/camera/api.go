package camera

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/usedbytes/picamera/internal/api"
	"github.com/usedbytes/picamera/internal/api/ws"
	"github.com/usedbytes/picamera/internal/app"
	"github.com/usedbytes/picamera/pkg/mjpeg"
	"github.com/usedbytes/picamera/pkg/picamera"
	"github.com/usedbytes/picamera/pkg/v4l2"
)

// Settings is JSON view of camera configuration for API.
type Settings struct {
	FrameWidth  uint      `json:"frame_width,omitempty"`
	FrameHeight uint      `json:"frame_height,omitempty"`
	Width       uint      `json:"width,omitempty"`
	Height      uint      `json:"height,omitempty"`
	FPS         uint      `json:"fps,omitempty"`
	Format      string    `json:"format,omitempty"`
	Buffers     int       `json:"buffers,omitempty"`
	Crop        []float64 `json:"crop,omitempty"`
	Rotation    *int      `json:"rotation,omitempty"`
	HFlip       *bool     `json:"hflip,omitempty"`
	VFlip       *bool     `json:"vflip,omitempty"`
}

func settings(cfg picamera.Config) Settings {
	return Settings{
		FrameWidth:  cfg.FrameWidth,
		FrameHeight: cfg.FrameHeight,
		Width:       cfg.Width,
		Height:      cfg.Height,
		FPS:         cfg.FPS,
		Format:      formatName(cfg.Format),
		Buffers:     cfg.Buffers,
		Crop:        cropSlice(cfg.Crop),
		Rotation:    &cfg.Rotation,
		HFlip:       &cfg.HFlip,
		VFlip:       &cfg.VFlip,
	}
}

// needRestart - settings that can't be changed on running camera
func (s *Settings) needRestart() bool {
	return s.FrameWidth != 0 || s.FrameHeight != 0 || s.Width != 0 || s.Height != 0 ||
		s.FPS != 0 || s.Format != "" || s.Buffers != 0
}

func apiCamera(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "GET":
	case "POST":
		var s Settings
		if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		if err := apply(runner, &s); err != nil {
			api.Error(w, err, http.StatusBadRequest)
			return
		}

		if r.URL.Query().Has("save") {
			if err := save(&s); err != nil {
				api.Error(w, err, http.StatusInternalServerError)
				return
			}
		}
	default:
		http.Error(w, "", http.StatusMethodNotAllowed)
		return
	}

	api.ResponsePrettyJSON(w, map[string]any{
		"config": settings(runner.Camera().Config()),
		"stats":  runner.Stats(),
	})
}

func apply(runner *Runner, s *Settings) error {
	cam := runner.Camera()

	if s.needRestart() {
		err := runner.Reconfigure(func(cam *picamera.Camera) error {
			return applyIdle(cam, s)
		})
		if err != nil {
			return err
		}
	}

	if s.Crop != nil {
		crop, err := parseCrop(s.Crop)
		if err != nil {
			return err
		}
		if err = cam.SetCrop(crop); err != nil {
			return err
		}
	}

	if s.Rotation != nil || s.HFlip != nil || s.VFlip != nil {
		rot, hflip, vflip := cam.GetTransform()
		if s.Rotation != nil {
			rot = *s.Rotation
		}
		if s.HFlip != nil {
			hflip = *s.HFlip
		}
		if s.VFlip != nil {
			vflip = *s.VFlip
		}
		if err := cam.SetTransform(rot, hflip, vflip); err != nil {
			return err
		}
	}

	return nil
}

func applyIdle(cam *picamera.Camera, s *Settings) error {
	if s.Width != 0 || s.Height != 0 {
		w, h := cam.GetOutSize()
		if s.Width != 0 {
			w = s.Width
		}
		if s.Height != 0 {
			h = s.Height
		}
		if err := cam.SetOutSize(w, h); err != nil {
			return err
		}
		// new output size may need bigger sensor mode
		if s.FrameWidth == 0 {
			if err := cam.SetFrameSize(picamera.FrameSize(w, h)); err != nil {
				return err
			}
		}
	}

	if s.FrameWidth != 0 && s.FrameHeight != 0 {
		if err := cam.SetFrameSize(s.FrameWidth, s.FrameHeight); err != nil {
			return err
		}
	}

	if s.FPS != 0 {
		if err := cam.SetFPS(s.FPS); err != nil {
			return err
		}
	}

	if s.Format != "" {
		format, err := picamera.ParseFormat(s.Format)
		if err != nil {
			return err
		}
		if err = cam.SetFormat(format); err != nil {
			return err
		}
	}

	if s.Buffers != 0 {
		return cam.SetBuffers(s.Buffers)
	}

	return nil
}

// save writes changed settings to config file
func save(s *Settings) error {
	var errs []error

	patch := func(key string, value any) {
		errs = append(errs, app.PatchConfig([]string{"camera", key}, value))
	}

	if s.Width != 0 {
		patch("width", s.Width)
	}
	if s.Height != 0 {
		patch("height", s.Height)
	}
	if s.FrameWidth != 0 && s.FrameHeight != 0 {
		patch("frame_size", strconv.Itoa(int(s.FrameWidth))+"x"+strconv.Itoa(int(s.FrameHeight)))
	}
	if s.FPS != 0 {
		patch("fps", s.FPS)
	}
	if s.Format != "" {
		patch("format", strings.ToLower(s.Format))
	}
	if s.Buffers != 0 {
		patch("buffers", s.Buffers)
	}
	if s.Crop != nil {
		patch("crop", s.Crop)
	}
	if s.Rotation != nil {
		patch("rotation", *s.Rotation)
	}
	if s.HFlip != nil {
		patch("hflip", *s.HFlip)
	}
	if s.VFlip != nil {
		patch("vflip", *s.VFlip)
	}

	return errors.Join(errs...)
}

func apiFrame(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	b, err := runner.Snapshot(ctx)
	if err != nil {
		api.Error(w, err, http.StatusServiceUnavailable)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "image/jpeg")
	h.Set("Content-Length", strconv.Itoa(len(b)))
	h.Set("Cache-Control", "no-cache")

	_, _ = w.Write(b)
}

func apiStream(w http.ResponseWriter, r *http.Request) {
	c := runner.Subscribe()
	defer runner.Unsubscribe(c)

	log.Trace().Str("remote", r.RemoteAddr).Msg("[camera] mjpeg start")

	wr := mjpeg.NewWriter(w)

	for {
		select {
		case b := <-c.C():
			if _, err := wr.Write(b); err != nil {
				log.Trace().Err(err).Int("frames", wr.Frames()).Msg("[camera] mjpeg stop")
				return
			}
		case <-r.Context().Done():
			log.Trace().Int("frames", wr.Frames()).Msg("[camera] mjpeg stop")
			return
		}
	}
}

func apiDevices(w http.ResponseWriter, r *http.Request) {
	files, err := os.ReadDir("/dev")
	if err != nil {
		api.Error(w, err, http.StatusInternalServerError)
		return
	}

	var infos []*v4l2.Info

	for _, file := range files {
		if !strings.HasPrefix(file.Name(), "video") {
			continue
		}

		info, err := v4l2.Probe("/dev/" + file.Name())
		if err != nil {
			log.Trace().Err(err).Str("device", file.Name()).Msg("[camera] probe")
			continue
		}

		infos = append(infos, info)
	}

	api.ResponseJSON(w, infos)
}

// wsCamera sends stats every second until client disconnect,
// value may change interval, e.g. "500ms"
func wsCamera(tr *ws.Transport, msg *ws.Message) error {
	interval := time.Second
	if s := msg.String(); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		if d >= 100*time.Millisecond {
			interval = d
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		tr.Write(&ws.Message{Type: "camera", Value: runner.Stats()})

		select {
		case <-ticker.C:
		case <-tr.Context().Done():
			return nil
		}
	}
}

// wsFrames sends JPEG frames as binary messages, slow client skips frames
func wsFrames(tr *ws.Transport, msg *ws.Message) error {
	c := runner.Subscribe()
	defer runner.Unsubscribe(c)

	for {
		select {
		case b := <-c.C():
			tr.Write(b)
		case <-tr.Context().Done():
			return nil
		}
	}
}
