package api

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/usedbytes/picamera/internal/app"
)

func TestMiddlewareAuth(t *testing.T) {
	handler := middlewareAuth("admin", "secret", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	r := httptest.NewRequest("GET", "/api", nil)
	r.RemoteAddr = "192.168.1.10:5000"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	r.SetBasicAuth("admin", "secret")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	require.Equal(t, http.StatusNoContent, w.Code)

	// localhost without auth
	r = httptest.NewRequest("GET", "/api", nil)
	r.RemoteAddr = "127.0.0.1:5000"
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	require.Equal(t, http.StatusNoContent, w.Code)
}

func TestExitHandlerValidation(t *testing.T) {
	w := httptest.NewRecorder()
	exitHandler(w, httptest.NewRequest("GET", "/api/exit", nil))
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	exitHandler(w, httptest.NewRequest("POST", "/api/exit?code=200", nil))
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExitHandler(t *testing.T) {
	var calls []string
	OnExit = func(code int) { calls = append(calls, "stop") }
	exit = func(code int) { calls = append(calls, "exit "+strconv.Itoa(code)) }
	defer func() {
		OnExit = nil
		exit = os.Exit
	}()

	w := httptest.NewRecorder()
	exitHandler(w, httptest.NewRequest("POST", "/api/exit?code=3", nil))
	require.Equal(t, []string{"stop", "exit 3"}, calls)
}

func TestMerge(t *testing.T) {
	dst := map[string]any{
		"api":    map[string]any{"listen": ":8554"},
		"camera": map[string]any{"device": "/dev/video0", "fps": 30},
	}
	src := map[string]any{
		"camera": map[string]any{"fps": 15, "crop": []any{0, 0, 1, 1}},
		"mdns":   map[string]any{"name": "garden"},
	}

	dst = merge(dst, src)
	require.Equal(t, map[string]any{
		"api":    map[string]any{"listen": ":8554"},
		"camera": map[string]any{"device": "/dev/video0", "fps": 15, "crop": []any{0, 0, 1, 1}},
		"mdns":   map[string]any{"name": "garden"},
	}, dst)
}

func TestConfigHandler(t *testing.T) {
	app.ConfigPath = filepath.Join(t.TempDir(), "picamera.yaml")
	t.Cleanup(func() { app.ConfigPath = "" })

	require.Nil(t, os.WriteFile(app.ConfigPath, []byte("camera:\n  fps: 30\n"), 0644))

	w := httptest.NewRecorder()
	configHandler(w, httptest.NewRequest("GET", "/api/config", nil))
	require.Equal(t, "camera:\n  fps: 30\n", w.Body.String())
	require.Equal(t, "application/yaml", w.Header().Get("Content-Type"))

	w = httptest.NewRecorder()
	configHandler(w, httptest.NewRequest("PATCH", "/api/config", strings.NewReader("camera:\n  width: 320\n")))
	require.Equal(t, http.StatusOK, w.Code)

	b, err := os.ReadFile(app.ConfigPath)
	require.Nil(t, err)
	require.Contains(t, string(b), "fps: 30")
	require.Contains(t, string(b), "width: 320")

	w = httptest.NewRecorder()
	configHandler(w, httptest.NewRequest("POST", "/api/config", strings.NewReader("camera: [")))
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLogHandler(t *testing.T) {
	app.MemoryLog.Reset()
	_, _ = app.MemoryLog.Write([]byte(`{"level":"info","message":"[camera] enabled"}` + "\n"))

	w := httptest.NewRecorder()
	logHandler(w, httptest.NewRequest("GET", "/api/log", nil))
	require.Equal(t, "application/jsonlines", w.Header().Get("Content-Type"))
	require.Contains(t, w.Body.String(), "[camera] enabled")

	w = httptest.NewRecorder()
	logHandler(w, httptest.NewRequest("DELETE", "/api/log", nil))
	require.Equal(t, "OK", w.Body.String())
}
