package mdns

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/usedbytes/picamera/internal/app"
)

func TestTxt(t *testing.T) {
	app.Info["revision"] = "abc1234"
	defer delete(app.Info, "revision")

	require.Equal(t, []string{"version=" + app.Version, "revision=abc1234"}, txt())
}

func TestApiMDNSTimeout(t *testing.T) {
	for _, s := range []string{"abc", "-1s", "1m"} {
		r := httptest.NewRequest("GET", "/api/mdns?timeout="+s, nil)
		w := httptest.NewRecorder()
		apiMDNS(w, r)
		require.Equal(t, http.StatusBadRequest, w.Code, s)
	}
}
