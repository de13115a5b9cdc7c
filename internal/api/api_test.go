package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-map/internal/click"
	"github.com/joeblew999/plat-map/internal/layers"
	"github.com/joeblew999/plat-map/internal/mapview"
	"github.com/joeblew999/plat-map/internal/service"
	"github.com/joeblew999/plat-map/internal/source"
	"github.com/joeblew999/plat-map/internal/surface"
	"github.com/joeblew999/plat-map/internal/templates"
)

const testConfig = `
map:
  startingLatLng: [53.41, -2.085]
  startingZoom: 14
  minZoom: 10
dynamic:
  - key: gullies
    url: https://example.org/wfs?bbox={0}
    maxZoom: 16
    popup: popup-gully
    visibleByDefault: true
    displayOverlay: true
  - key: os1250_line
    url: https://example.org/geoserver/wms?
    minZoom: 19
    maxZoom: 20
    visibleByDefault: true
    wms:
      layers: base_maps:os1250_line
      transparent: true
static:
  - key: boundary
    url: https://example.org/boundary.geojson
    maxZoom: 9
    interactive: false
`

var gully = orb.Point{-2.085, 53.41}

func square(c orb.Point, d float64) orb.Polygon {
	return orb.Polygon{{
		{c.Lon() - d, c.Lat() - d},
		{c.Lon() + d, c.Lat() - d},
		{c.Lon() + d, c.Lat() + d},
		{c.Lon() - d, c.Lat() + d},
		{c.Lon() - d, c.Lat() - d},
	}}
}

func newTestAPI(t *testing.T) (humatest.TestAPI, *Services) {
	t.Helper()

	renderer := templates.Default()
	layerSvc := service.NewLayerService(renderer)
	require.NoError(t, layerSvc.Load([]byte(testConfig)))

	src := source.SourceFunc(func(ctx context.Context, rawURL string) (*geojson.FeatureCollection, error) {
		fc := geojson.NewFeatureCollection()
		if strings.Contains(rawURL, "boundary") {
			fc.Append(geojson.NewFeature(square(gully, 1)))
			return fc, nil
		}
		f := geojson.NewFeature(square(gully, 0.001))
		f.Properties["asset_id"] = "G-1042"
		fc.Append(f)
		return fc, nil
	})

	mem := surface.NewMemoryFromConfig(layerSvc.Map())
	registry := layers.NewRegistry()
	svc := &Services{
		Layers:     layerSvc,
		Surface:    mem,
		Sync:       layers.NewSynchronizer(zerolog.Nop(), registry, src, mem),
		Aggregator: click.New(zerolog.Nop(), mem, registry),
		Renderer:   renderer,
	}

	view, err := mapview.Start(context.Background(), mapview.Deps{
		Logger:     zerolog.Nop(),
		Layers:     svc.Layers,
		Surface:    svc.Surface,
		Sync:       svc.Sync,
		Aggregator: svc.Aggregator,
	})
	require.NoError(t, err)
	t.Cleanup(view.Close)

	config := huma.DefaultConfig("plat-map test", Version)
	config.CreateHooks = []func(huma.Config) huma.Config{}
	config.Transformers = append(config.Transformers, LinkTransformer())
	api := humatest.Wrap(t, humago.New(http.NewServeMux(), config))
	require.NoError(t, RegisterRoutes(api, svc))
	return api, svc
}

func decode[T any](t *testing.T, body []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(body, &v))
	return v
}

func TestHealthAndInfo(t *testing.T) {
	api, _ := newTestAPI(t)

	resp := api.Get("/health")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "ok", decode[HealthBody](t, resp.Body.Bytes()).Status)
	assert.Contains(t, resp.Header().Values("Link"), `</api/v1/info>; rel="info"`)

	resp = api.Get("/api/v1/info")
	require.Equal(t, http.StatusOK, resp.Code)
	info := decode[InfoBody](t, resp.Body.Bytes())
	assert.Equal(t, "plat-map", info.Name)
	assert.Equal(t, []string{"gullies", "os1250_line"}, info.Dynamic)
	assert.Equal(t, []string{"boundary"}, info.Static)
	assert.EqualValues(t, 16, info.Map.MapClickMinZoom)
}

func TestLayers(t *testing.T) {
	api, _ := newTestAPI(t)

	resp := api.Get("/api/v1/layers")
	require.Equal(t, http.StatusOK, resp.Code)
	list := decode[[]service.LayerConfig](t, resp.Body.Bytes())
	require.Len(t, list, 3)
	assert.Equal(t, "gullies", list[0].Key)

	resp = api.Get("/api/v1/layers/nope")
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = api.Get("/api/v1/layers/boundary/features")
	require.Equal(t, http.StatusOK, resp.Code)
	fc, err := geojson.UnmarshalFeatureCollection(resp.Body.Bytes())
	require.NoError(t, err)
	assert.Len(t, fc.Features, 1)
	assert.Contains(t, resp.Header().Values("Link"), `</api/v1/layers/boundary/features>; rel="self"`)
}

func TestViewportSynchronizesDynamicLayers(t *testing.T) {
	api, svc := newTestAPI(t)

	resp := api.Get("/api/v1/layers/gullies/features")
	require.Equal(t, http.StatusOK, resp.Code)
	fc, err := geojson.UnmarshalFeatureCollection(resp.Body.Bytes())
	require.NoError(t, err)
	assert.Empty(t, fc.Features, "zoom 14 is below the layer's zoom gate")

	before := svc.Sync.Generation()
	resp = api.Post("/api/v1/map/viewport", map[string]any{
		"zoom":   17,
		"center": map[string]any{"lat": 53.41, "lng": -2.085},
	})
	require.Equal(t, http.StatusOK, resp.Code)
	state := decode[MapState](t, resp.Body.Bytes())
	assert.Equal(t, 17.0, state.Zoom)
	assert.Equal(t, before+1, state.Generation)

	resp = api.Get("/api/v1/layers/gullies/features")
	fc, err = geojson.UnmarshalFeatureCollection(resp.Body.Bytes())
	require.NoError(t, err)
	assert.Len(t, fc.Features, 1)
}

func TestClick(t *testing.T) {
	api, _ := newTestAPI(t)

	resp := api.Post("/api/v1/map/click", map[string]any{"lat": 53.41, "lng": -2.085})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.False(t, decode[ClickBody](t, resp.Body.Bytes()).Opened, "clicks at zoom 14 are ignored")

	api.Post("/api/v1/map/viewport", map[string]any{
		"zoom":   17,
		"center": map[string]any{"lat": 53.41, "lng": -2.085},
	})
	resp = api.Post("/api/v1/map/click", map[string]any{"lat": 53.41, "lng": -2.085})
	require.Equal(t, http.StatusOK, resp.Code)
	body := decode[ClickBody](t, resp.Body.Bytes())
	require.True(t, body.Opened)
	assert.Contains(t, body.Popup.Content, "G-1042")

	resp = api.Get("/api/v1/map")
	state := decode[MapState](t, resp.Body.Bytes())
	require.NotNil(t, state.Popup)
	assert.Equal(t, body.Popup.Content, state.Popup.Content)
}

func TestVisibility(t *testing.T) {
	api, _ := newTestAPI(t)

	resp := api.Put("/api/v1/map/layers/gullies/visibility", map[string]any{"visible": false})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, []string{"boundary"}, decode[MapState](t, resp.Body.Bytes()).Groups)

	resp = api.Put("/api/v1/map/layers/gullies/visibility", map[string]any{"visible": true})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, []string{"boundary", "gullies"}, decode[MapState](t, resp.Body.Bytes()).Groups)

	resp = api.Put("/api/v1/map/layers/boundary/visibility", map[string]any{"visible": false})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)

	resp = api.Put("/api/v1/map/layers/nope/visibility", map[string]any{"visible": false})
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestWMSTileRedirect(t *testing.T) {
	api, _ := newTestAPI(t)

	resp := api.Get("/api/v1/wms/os1250_line/19/258000/171000")
	require.Equal(t, http.StatusFound, resp.Code)
	loc, err := url.Parse(resp.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "example.org", loc.Host)
	assert.Equal(t, "base_maps:os1250_line", loc.Query().Get("LAYERS"))

	resp = api.Get("/api/v1/wms/os1250_line/12/0/0")
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = api.Get("/api/v1/wms/gullies/19/0/0")
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = api.Get("/api/v1/wms/os1250_line/1/5/0")
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestClickAction(t *testing.T) {
	api, _ := newTestAPI(t)

	resp := api.Post("/api/v1/map/actions/viewport", map[string]any{"zoom": 17, "lat": 53.41, "lng": -2.085})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "datastar-patch-signals")

	resp = api.Post("/api/v1/map/actions/click", map[string]any{"lat": 53.41, "lng": -2.085})
	require.Equal(t, http.StatusOK, resp.Code)
	body := resp.Body.String()
	assert.Contains(t, body, "datastar-patch-elements")
	assert.Contains(t, body, `id="map-popup"`)
	assert.Contains(t, body, "G-1042")

	resp = api.Post("/api/v1/map/actions/click", map[string]any{"lat": 53.41})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestEventSignals(t *testing.T) {
	_, svc := newTestAPI(t)
	h := NewEventHandler(svc)

	moved := h.signals(service.Event{
		Kind:   service.EventMoveEnd,
		LatLng: gully,
		Zoom:   17,
		Bounds: orb.Bound{Min: orb.Point{-2.2, 53.3}, Max: orb.Point{-2.0, 53.5}},
	})
	assert.Equal(t, 17.0, moved["zoom"])
	assert.Equal(t, []float64{-2.2, 53.3, -2.0, 53.5}, moved["bounds"])

	changed := h.signals(service.Event{Kind: service.EventLayersChanged, Generation: 7})
	assert.EqualValues(t, 7, changed["generation"])
	assert.Equal(t, []string{"boundary", "gullies"}, changed["groups"])

	assert.Equal(t, map[string]any{"popupOpen": false}, h.signals(service.Event{Kind: service.EventPopupClose}))
	assert.Nil(t, h.signals(service.Event{Kind: service.EventClick}))

	assert.Contains(t, h.popupHTML(gully, "A <hr/> C"), `data-lat="53.41" data-lng="-2.085">A <hr/> C</div>`)
}

func TestRegisterRoutes_missingServices(t *testing.T) {
	_, api := humatest.New(t)
	assert.Error(t, RegisterRoutes(api, &Services{}))
}
