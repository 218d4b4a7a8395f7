package api

import (
	"io"
	"net/http"
	"os"

	"github.com/usedbytes/picamera/internal/app"
	"gopkg.in/yaml.v3"
)

func configHandler(w http.ResponseWriter, r *http.Request) {
	if app.ConfigPath == "" {
		http.Error(w, "", http.StatusGone)
		return
	}

	switch r.Method {
	case "GET":
		data, err := os.ReadFile(app.ConfigPath)
		if err != nil {
			http.Error(w, "", http.StatusNotFound)
			return
		}
		// https://www.ietf.org/archive/id/draft-ietf-httpapi-yaml-mediatypes-00.html
		Response(w, data, "application/yaml")

	case "POST", "PATCH":
		data, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		if r.Method == "PATCH" {
			// no need to validate after merge
			data, err = mergeYAML(app.ConfigPath, data)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
		} else {
			// validate config
			var tmp map[string]any
			if err = yaml.Unmarshal(data, &tmp); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
		}

		if err = os.WriteFile(app.ConfigPath, data, 0644); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

	default:
		http.Error(w, "Method not allowed", http.StatusBadRequest)
	}
}

func mergeYAML(file1 string, yaml2 []byte) ([]byte, error) {
	// empty or missing config is OK
	data1, _ := os.ReadFile(file1)

	var config1 map[string]any
	if err := yaml.Unmarshal(data1, &config1); err != nil {
		return nil, err
	}

	var config2 map[string]any
	if err := yaml.Unmarshal(yaml2, &config2); err != nil {
		return nil, err
	}

	if config1 == nil {
		config1 = map[string]any{}
	}

	config1 = merge(config1, config2)

	return yaml.Marshal(&config1)
}

func merge(dst, src map[string]any) map[string]any {
	for k, v := range src {
		if vv, ok := dst[k]; ok {
			switch vv := vv.(type) {
			case map[string]any:
				if v, ok := v.(map[string]any); ok {
					dst[k] = merge(vv, v)
					continue
				}
			}
		}
		dst[k] = v
	}
	return dst
}
