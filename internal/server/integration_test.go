//go:build integration

// Integration test against a running server: platmap --config layers.yaml
//
// Run: go test -tags=integration ./internal/server/
package server_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseURL() string {
	if u := os.Getenv("PLATMAP_BASE_URL"); u != "" {
		return u
	}
	return "http://localhost:8086"
}

func getJSON(t *testing.T, path string, v any) {
	t.Helper()
	resp, err := http.Get(baseURL() + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestHealth(t *testing.T) {
	var body struct{ Status string }
	getJSON(t, "/health", &body)
	assert.Equal(t, "ok", body.Status)
}

func TestGetInfo(t *testing.T) {
	var body struct{ Name string }
	getJSON(t, "/api/v1/info", &body)
	assert.Equal(t, "plat-map", body.Name)
}

func TestViewportThenClick(t *testing.T) {
	var info struct {
		Map struct {
			StartingLatLng [2]float64 `json:"startingLatLng"`
		} `json:"map"`
	}
	getJSON(t, "/api/v1/info", &info)
	lat, lng := info.Map.StartingLatLng[0], info.Map.StartingLatLng[1]

	post := func(path string, body any) *http.Response {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		resp, err := http.Post(baseURL()+path, "application/json", bytes.NewReader(data))
		require.NoError(t, err)
		return resp
	}

	resp := post("/api/v1/map/viewport", map[string]any{
		"zoom":   17,
		"center": map[string]any{"lat": lat, "lng": lng},
	})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = post("/api/v1/map/click", map[string]any{"lat": lat, "lng": lng})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var click struct{ Opened bool }
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&click))
	t.Logf("popup opened: %v", click.Opened)
}
