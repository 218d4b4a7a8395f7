package camera

import (
	"bytes"
	"context"
	"encoding/json"
	"image/jpeg"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/usedbytes/picamera/internal/app"
	"github.com/usedbytes/picamera/pkg/picamera"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Device = "test"
	cfg.Width = 64
	cfg.Height = 48
	cfg.FPS = 100
	cfg.Stats = 0
	return cfg
}

func startRunner(t *testing.T, cfg Config) *Runner {
	cam, err := NewCamera(cfg, zerolog.Nop())
	require.Nil(t, err)

	r := NewRunner(cam, cfg, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx)

	t.Cleanup(func() {
		cancel()
		r.Wait()
		require.False(t, cam.Enabled())
	})

	require.Eventually(t, func() bool { return r.Stats().Frames > 0 }, 2*time.Second, 5*time.Millisecond)

	return r
}

func TestNewCamera(t *testing.T) {
	cfg := testConfig()
	cfg.FrameSize = "1296x972"
	cfg.Format = "gray"
	cfg.Crop = []float64{0, 0, 0.5, 0.5}
	cfg.Rotation = 180

	cam, err := NewCamera(cfg, zerolog.Nop())
	require.Nil(t, err)

	c := cam.Config()
	require.Equal(t, uint(1296), c.FrameWidth)
	require.Equal(t, picamera.FormatGray, c.Format)
	require.Equal(t, picamera.Rect(0, 0, 0.5, 0.5), c.Crop)
	require.Equal(t, 180, c.Rotation)

	cfg.Crop = []float64{0, 0, 2, 2}
	cfg.Format = "h264"
	_, err = NewCamera(cfg, zerolog.Nop())
	require.ErrorIs(t, err, picamera.ErrCrop)
}

func TestRunner(t *testing.T) {
	r := startRunner(t, testConfig())

	s := r.Stats()
	require.True(t, s.Enabled)
	require.NotEmpty(t, s.Session)
	require.Equal(t, 0, s.Consumers)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	b, err := r.Snapshot(ctx)
	require.Nil(t, err)

	img, err := jpeg.Decode(bytes.NewReader(b))
	require.Nil(t, err)
	require.Equal(t, 64, img.Bounds().Dx())

	require.Equal(t, 0, r.Stats().Consumers)
}

func TestReconfigure(t *testing.T) {
	r := startRunner(t, testConfig())
	session := r.Stats().Session

	err := r.Reconfigure(func(cam *picamera.Camera) error {
		return cam.SetOutSize(32, 24)
	})
	require.Nil(t, err)

	s := r.Stats()
	require.True(t, s.Enabled)
	require.NotEqual(t, session, s.Session)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	b, err := r.Snapshot(ctx)
	require.Nil(t, err)

	img, err := jpeg.Decode(bytes.NewReader(b))
	require.Nil(t, err)
	require.Equal(t, 32, img.Bounds().Dx())
}

func TestReconfigureWhileEncoding(t *testing.T) {
	r := startRunner(t, testConfig())

	c := r.Subscribe()
	defer r.Unsubscribe(c)

	// test device buffers are unmapped on disable
	fps := []uint{200, 100}
	deadline := time.Now().Add(300 * time.Millisecond)
	for i := 0; time.Now().Before(deadline); i++ {
		err := r.Reconfigure(func(cam *picamera.Camera) error {
			return cam.SetFPS(fps[i%2])
		})
		require.Nil(t, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := r.Snapshot(ctx)
	require.Nil(t, err)
	require.Zero(t, r.Stats().Restarts)
}

func TestConsumerDropsOld(t *testing.T) {
	c := &Consumer{ch: make(chan []byte, 1)}
	c.send([]byte("1"))
	c.send([]byte("2"))
	require.Equal(t, []byte("2"), <-c.C())
}

func TestApiCamera(t *testing.T) {
	runner = startRunner(t, testConfig())
	t.Cleanup(func() { runner = nil })

	app.ConfigPath = filepath.Join(t.TempDir(), "picamera.yaml")
	t.Cleanup(func() { app.ConfigPath = "" })
	require.Nil(t, os.WriteFile(app.ConfigPath, []byte("camera:\n  device: test\n"), 0644))

	body := `{"crop": [0.25, 0.25, 0.75, 0.75], "rotation": 90, "hflip": true}`
	w := httptest.NewRecorder()
	apiCamera(w, httptest.NewRequest("POST", "/api/camera?save", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Config Settings `json:"config"`
		Stats  Stats    `json:"stats"`
	}
	require.Nil(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, []float64{0.25, 0.25, 0.75, 0.75}, resp.Config.Crop)
	require.Equal(t, 90, *resp.Config.Rotation)
	require.True(t, *resp.Config.HFlip)
	require.False(t, *resp.Config.VFlip)
	require.True(t, resp.Stats.Enabled)

	b, err := os.ReadFile(app.ConfigPath)
	require.Nil(t, err)
	require.Contains(t, string(b), "rotation: 90")
	require.Contains(t, string(b), "hflip: true")

	w = httptest.NewRecorder()
	apiCamera(w, httptest.NewRequest("POST", "/api/camera", strings.NewReader(`{"rotation": 45}`)))
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	apiCamera(w, httptest.NewRequest("POST", "/api/camera", strings.NewReader(`{"width": 32, "format": "gray"}`)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Nil(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, uint(32), resp.Config.Width)
	require.Equal(t, "gray", resp.Config.Format)
	require.True(t, resp.Stats.Enabled)
}

func TestApiFrame(t *testing.T) {
	runner = startRunner(t, testConfig())
	t.Cleanup(func() { runner = nil })

	w := httptest.NewRecorder()
	apiFrame(w, httptest.NewRequest("GET", "/api/frame.jpeg", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))

	_, err := jpeg.Decode(w.Body)
	require.Nil(t, err)
}

func TestApiStream(t *testing.T) {
	runner = startRunner(t, testConfig())
	t.Cleanup(func() { runner = nil })

	server := httptest.NewServer(http.HandlerFunc(apiStream))
	defer server.Close()

	res, err := http.Get(server.URL)
	require.Nil(t, err)
	defer res.Body.Close()

	require.Equal(t, "multipart/x-mixed-replace; boundary=frame", res.Header.Get("Content-Type"))

	buf := make([]byte, 9)
	_, err = io.ReadFull(res.Body, buf)
	require.Nil(t, err)
	require.Equal(t, "--frame\r\n", string(buf))
}
