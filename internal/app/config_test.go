package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func resetConfig(t *testing.T) {
	t.Cleanup(func() {
		sources = nil
		ConfigPath = ""
	})
}

func TestParseOverride(t *testing.T) {
	b, err := parseOverride("camera.fps=15")
	require.Nil(t, err)
	require.Equal(t, "camera:\n  fps: 15\n", string(b))

	b, err = parseOverride("camera.crop=[0, 0, 0.5, 0.5]")
	require.Nil(t, err)
	require.Equal(t, "camera:\n  crop:\n    - 0\n    - 0\n    - 0.5\n    - 0.5\n", string(b))

	b, err = parseOverride("log.camera=trace")
	require.Nil(t, err)
	require.Equal(t, "log:\n  camera: trace\n", string(b))

	// not an override
	b, err = parseOverride("fps=15")
	require.Nil(t, err)
	require.Nil(t, b)
	b, err = parseOverride("picamera.yaml")
	require.Nil(t, err)
	require.Nil(t, b)

	_, err = parseOverride("camera..fps=15")
	require.NotNil(t, err)
	_, err = parseOverride("camera.crop=[0, 0")
	require.NotNil(t, err)
}

func TestInitConfig(t *testing.T) {
	resetConfig(t)

	t.Setenv("PICAMERA_TEST_FPS", "25")

	path := filepath.Join(t.TempDir(), "picamera.yaml")
	err := os.WriteFile(path, []byte("camera:\n  device: test\n  fps: ${PICAMERA_TEST_FPS}\n  width: 64\n"), 0644)
	require.Nil(t, err)

	// override before file still wins
	require.Nil(t, initConfig([]string{"camera.width=320", path, "camera.height=240"}))
	require.Equal(t, path, ConfigPath)
	require.Len(t, sources, 3)

	var cfg struct {
		Mod struct {
			Device string `yaml:"device"`
			FPS    int    `yaml:"fps"`
			Width  int    `yaml:"width"`
			Height int    `yaml:"height"`
		} `yaml:"camera"`
	}
	LoadConfig(&cfg)

	require.Equal(t, "test", cfg.Mod.Device)
	require.Equal(t, 25, cfg.Mod.FPS)
	require.Equal(t, 320, cfg.Mod.Width)
	require.Equal(t, 240, cfg.Mod.Height)

	require.Nil(t, PatchConfig([]string{"camera", "fps"}, 10))

	b, err := os.ReadFile(path)
	require.Nil(t, err)
	require.Equal(t, "camera:\n  device: test\n  fps: 10\n  width: 64\n", string(b))
}

func TestInitConfigDefaults(t *testing.T) {
	resetConfig(t)

	dir := t.TempDir()
	missing := filepath.Join(dir, "missing.yaml")
	found := filepath.Join(dir, "etc", "picamera.yaml")
	require.Nil(t, os.MkdirAll(filepath.Dir(found), 0755))
	require.Nil(t, os.WriteFile(found, []byte("camera:\n  device: test\n"), 0644))

	saved := DefaultConfigs
	DefaultConfigs = []string{missing, found}
	defer func() { DefaultConfigs = saved }()

	require.Nil(t, initConfig(nil))
	require.Equal(t, found, ConfigPath)
	require.Len(t, sources, 1)
}

func TestPatchConfigCreates(t *testing.T) {
	resetConfig(t)

	ConfigPath = filepath.Join(t.TempDir(), "etc", "picamera.yaml")
	require.Nil(t, PatchConfig([]string{"camera", "rotation"}, 180))

	b, err := os.ReadFile(ConfigPath)
	require.Nil(t, err)
	require.Equal(t, "camera:\n  rotation: 180\n", string(b))
}

func TestPatchConfigDisabled(t *testing.T) {
	resetConfig(t)
	require.NotNil(t, PatchConfig([]string{"camera", "fps"}, 10))
}
