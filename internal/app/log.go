package app

import (
	"io"
	"os"
	"sync"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// Logger is the root logger, modules take theirs with GetLogger.
var Logger zerolog.Logger

// MemoryLog keeps last JSON log lines for /api/log.
var MemoryLog = newLineRing(1000)

type logConfig struct {
	// trace, debug, info, warn, error or disabled
	Level string `yaml:"level"`
	// color, text, json; empty autodetects terminal
	Format string `yaml:"format"`
	// stderr, stdout; empty logs only to memory
	Output string `yaml:"output"`
	// UNIXMS, UNIXMICRO, UNIXNANO or Go layout; empty disables timestamp
	Time string `yaml:"time"`
	// lines kept in memory
	Lines int `yaml:"lines"`
	// per module level: api, ws, camera, v4l2, mdns
	Modules map[string]string `yaml:"modules"`
}

var logCfg = logConfig{
	Level:  "info",
	Output: "stderr",
	Time:   zerolog.TimeFormatUnixMs,
	Lines:  1000,
}

func GetLogger(module string) zerolog.Logger {
	s, ok := logCfg.Modules[module]
	if !ok {
		return Logger
	}

	lvl, err := zerolog.ParseLevel(s)
	if err != nil {
		Logger.Warn().Err(err).Str("module", module).Msg("[app] log level")
		return Logger
	}

	return Logger.Level(lvl)
}

func initLogger() {
	var cfg struct {
		Mod *logConfig `yaml:"log"`
	}

	cfg.Mod = &logCfg

	LoadConfig(&cfg)

	if logCfg.Lines > 0 {
		MemoryLog = newLineRing(logCfg.Lines)
	}

	Logger = newLogger(logCfg)
}

func newLogger(cfg logConfig) zerolog.Logger {
	var out *os.File

	switch cfg.Output {
	case "stderr":
		out = os.Stderr
	case "stdout":
		out = os.Stdout
	}

	var writer io.Writer = MemoryLog

	if out != nil {
		var console io.Writer = out

		if cfg.Format != "json" {
			cw := zerolog.ConsoleWriter{Out: out, NoColor: cfg.Format == "text"}
			if cfg.Format == "" {
				cw.NoColor = !isatty.IsTerminal(out.Fd())
			}
			if cfg.Time != "" {
				cw.TimeFormat = "15:04:05.000"
			} else {
				cw.PartsOrder = []string{zerolog.LevelFieldName, zerolog.MessageFieldName}
			}
			console = cw
		}

		writer = zerolog.MultiLevelWriter(console, MemoryLog)
	}

	lvl, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		lvl = zerolog.InfoLevel
	}

	ctx := zerolog.New(writer).Level(lvl).With()
	if cfg.Time != "" {
		zerolog.TimeFieldFormat = cfg.Time
		ctx = ctx.Timestamp()
	}

	return ctx.Logger()
}

// lineRing keeps last size lines, zerolog writes one event per Write
type lineRing struct {
	mu    sync.Mutex
	lines [][]byte
	next  int
	full  bool
}

func newLineRing(size int) *lineRing {
	return &lineRing{lines: make([][]byte, size)}
}

func (r *lineRing) Write(p []byte) (int, error) {
	r.mu.Lock()
	// writer reuses p after return
	r.lines[r.next] = append(r.lines[r.next][:0], p...)
	if r.next++; r.next == len(r.lines) {
		r.next = 0
		r.full = true
	}
	r.mu.Unlock()
	return len(p), nil
}

// WriteTo writes lines from oldest to newest.
func (r *lineRing) WriteTo(w io.Writer) (n int64, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := 0
	if r.full {
		i = r.next
	}

	for k := 0; k < r.len(); k++ {
		var nn int
		nn, err = w.Write(r.lines[i])
		n += int64(nn)
		if err != nil {
			return
		}
		if i++; i == len(r.lines) {
			i = 0
		}
	}
	return
}

func (r *lineRing) len() int {
	if r.full {
		return len(r.lines)
	}
	return r.next
}

func (r *lineRing) Reset() {
	r.mu.Lock()
	r.next = 0
	r.full = false
	r.mu.Unlock()
}
