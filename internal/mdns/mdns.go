package mdns

import (
	"net/http"
	"time"

	hmdns "github.com/hashicorp/mdns"
	"github.com/rs/zerolog"
	"github.com/usedbytes/picamera/internal/api"
	"github.com/usedbytes/picamera/internal/app"
	"github.com/usedbytes/picamera/pkg/mdns"
)

func Init() {
	var cfg struct {
		Mod struct {
			Name     string `yaml:"name"`
			Disabled bool   `yaml:"disabled"`
		} `yaml:"mdns"`
	}

	app.LoadConfig(&cfg)

	log = app.GetLogger("mdns")

	api.HandleFunc("api/mdns", apiMDNS)

	if cfg.Mod.Disabled || api.Port == 0 {
		return
	}

	service, err := mdns.NewService(cfg.Mod.Name, api.Port, nil, txt())
	if err != nil {
		log.Error().Err(err).Caller().Send()
		return
	}

	if server, err = mdns.NewServer(service); err != nil {
		log.Error().Err(err).Caller().Send()
		return
	}

	log.Info().Str("name", service.Instance).Int("port", api.Port).Msg("[mdns] advertise")
}

// Stop withdraws the service announcement.
func Stop() {
	if server != nil {
		_ = server.Shutdown()
		server = nil
	}
}

var log zerolog.Logger
var server *hmdns.Server

func txt() []string {
	info := []string{"version=" + app.Version}
	if s, ok := app.Info["revision"].(string); ok {
		info = append(info, "revision="+s)
	}
	return info
}

func apiMDNS(w http.ResponseWriter, r *http.Request) {
	timeout := time.Second
	if s := r.URL.Query().Get("timeout"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 || d > 10*time.Second {
			http.Error(w, "wrong timeout", http.StatusBadRequest)
			return
		}
		timeout = d
	}

	entries, err := mdns.Browse(timeout)
	if err != nil {
		api.Error(w, err, http.StatusInternalServerError)
		return
	}

	if entries == nil {
		entries = []*mdns.Entry{}
	}
	api.ResponseJSON(w, entries)
}
