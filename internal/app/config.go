package app

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/usedbytes/picamera/pkg/shell"
	"github.com/usedbytes/picamera/pkg/yaml"
)

// DefaultConfigs are searched in order when no file is given with -config.
// The first one is created on save when none exists.
var DefaultConfigs = []string{"picamera.yaml", "/etc/picamera/picamera.yaml"}

// source is config file or one "camera.fps=15" override from command line
type source struct {
	name string
	data []byte
}

var sources []source

// LoadConfig fills v from every source, later sources win.
func LoadConfig(v any) {
	for _, src := range sources {
		if err := yaml.Unmarshal(src.data, v); err != nil {
			Logger.Warn().Err(err).Str("source", src.name).Msg("[app] read config")
		}
	}
}

var patchMu sync.Mutex

// PatchConfig change value by path of keys in config file, nil removes key.
func PatchConfig(path []string, value any) error {
	if ConfigPath == "" {
		return errors.New("app: config file disabled")
	}

	patchMu.Lock()
	defer patchMu.Unlock()

	// missing file is OK
	b, _ := os.ReadFile(ConfigPath)

	b, err := yaml.Patch(b, path, value)
	if err != nil {
		return err
	}

	if err = os.MkdirAll(filepath.Dir(ConfigPath), 0755); err != nil {
		return err
	}

	return os.WriteFile(ConfigPath, b, 0644)
}

type configFlag []string

func (c *configFlag) String() string {
	return strings.Join(*c, " ")
}

func (c *configFlag) Set(value string) error {
	*c = append(*c, value)
	return nil
}

func initConfig(args []string) error {
	var files []string

	for _, arg := range args {
		if override, err := parseOverride(arg); err != nil {
			return err
		} else if override != nil {
			sources = append(sources, source{name: arg, data: override})
		} else {
			files = append(files, arg)
		}
	}

	if files == nil {
		files = []string{findConfig(DefaultConfigs)}
	}

	// overrides go after files
	overrides := sources
	sources = nil

	for _, file := range files {
		if ConfigPath == "" {
			ConfigPath = file
		}

		data, err := os.ReadFile(file)
		if err != nil {
			if !os.IsNotExist(err) {
				return err
			}
			continue
		}

		data = []byte(shell.ReplaceEnvVars(string(data)))
		sources = append(sources, source{name: file, data: data})
	}

	sources = append(sources, overrides...)

	if ConfigPath != "" {
		if path, err := filepath.Abs(ConfigPath); err == nil {
			ConfigPath = path
		}
		Info["config_path"] = ConfigPath
	}

	return nil
}

func findConfig(paths []string) string {
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return paths[0]
}

// parseOverride converts `camera.crop=[0, 0, 0.5, 0.5]` to YAML document,
// nil means arg is not an override
func parseOverride(arg string) ([]byte, error) {
	i := strings.IndexByte(arg, '=')
	if i < 0 {
		return nil, nil
	}

	keys := strings.Split(arg[:i], ".")
	if len(keys) < 2 {
		return nil, nil
	}

	var value any
	if err := yaml.Unmarshal([]byte(arg[i+1:]), &value); err != nil {
		return nil, errors.New("app: wrong value in " + arg)
	}

	for j := len(keys) - 1; j >= 0; j-- {
		if keys[j] == "" {
			return nil, errors.New("app: empty key in " + arg)
		}
		value = map[string]any{keys[j]: value}
	}

	return yaml.Encode(value, 2)
}
