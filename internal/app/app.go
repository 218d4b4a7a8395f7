package app

import (
	"flag"
	"fmt"
	"os"
	"runtime"
	"runtime/debug"

	"github.com/rs/zerolog/log"
)

var Version = "0.3.0"

var (
	ConfigPath string
	// Daemon, PidFile and LogFile are used by main for background mode
	Daemon  bool
	PidFile string
	LogFile string
)

var Info = map[string]any{
	"version": Version,
}

func Init() {
	var confs configFlag
	var version bool

	flag.Var(&confs, "config", "config file or override like camera.fps=15, support multiple")
	if runtime.GOOS != "windows" {
		flag.BoolVar(&Daemon, "daemon", false, "Run program in background")
		flag.StringVar(&PidFile, "pidfile", "", "PID file for daemon mode")
		flag.StringVar(&LogFile, "logfile", "", "Log file for daemon mode")
	}
	flag.BoolVar(&version, "version", false, "Print the version of the application and exit")
	flag.Parse()

	revision, vcsTime := readRevision()

	if version {
		fmt.Printf("picamera version %s (%s) %s/%s\n", Version, revision, runtime.GOOS, runtime.GOARCH)
		os.Exit(0)
	}

	if err := initConfig(confs); err != nil {
		fmt.Fprintln(os.Stderr, "picamera:", err)
		os.Exit(1)
	}
	initLogger()

	log.Logger = Logger

	platform := fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH)
	Logger.Info().Str("version", Version).Str("platform", platform).Str("revision", revision).Msg("picamera")
	Logger.Debug().Str("version", runtime.Version()).Str("vcs.time", vcsTime).Msg("build")

	if ConfigPath != "" {
		Logger.Info().Str("path", ConfigPath).Msg("config")
	}

	Info["revision"] = revision
}

func readRevision() (revision, vcsTime string) {
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				if len(setting.Value) > 7 {
					revision = setting.Value[:7]
				} else {
					revision = setting.Value
				}
			case "vcs.time":
				vcsTime = setting.Value
			case "vcs.modified":
				if setting.Value == "true" {
					revision += ".dirty"
				}
			}
		}
	}
	if revision == "" {
		revision = "dev"
	}
	return
}
