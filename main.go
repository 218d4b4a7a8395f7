package main

import (
	"github.com/rs/zerolog/log"
	daemon "github.com/sevlyar/go-daemon"
	"github.com/usedbytes/picamera/internal/api"
	"github.com/usedbytes/picamera/internal/api/ws"
	"github.com/usedbytes/picamera/internal/app"
	"github.com/usedbytes/picamera/internal/camera"
	"github.com/usedbytes/picamera/internal/mdns"
	"github.com/usedbytes/picamera/pkg/shell"
)

var cntxt *daemon.Context

func main() {
	app.Init() // init config and logs

	if app.Daemon {
		cntxt = &daemon.Context{
			PidFileName: app.PidFile,
			PidFilePerm: 0644,
			LogFileName: app.LogFile,
			LogFilePerm: 0640,
		}

		d, err := cntxt.Reborn()
		if err != nil {
			log.Fatal().Err(err).Msg("[main] daemon")
		}
		if d != nil {
			log.Info().Msgf("[main] daemon started with pid %d", d.Pid)
			return
		}
	}

	api.Init() // init HTTP API server
	ws.Init()  // init WebSocket API (depends on HTTP API)

	camera.Init() // start capture session (depends on API)
	mdns.Init()   // advertise API port on local network

	api.OnExit = func(int) { stop() }

	sig := shell.RunUntilSignal()
	log.Info().Str("signal", sig.String()).Msg("[main] terminating")

	stop()
}

// stop is also called from API exit, before os.Exit skips deferred calls
func stop() {
	mdns.Stop()
	camera.Stop()

	if cntxt != nil {
		if err := cntxt.Release(); err != nil {
			log.Warn().Err(err).Msg("[main] release pidfile")
		}
		cntxt = nil
	}
}
