package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"

	"github.com/joeblew999/plat-map/internal/service"
	"github.com/joeblew999/plat-map/internal/surface"
)

type LatLng struct {
	Lat float64 `json:"lat" minimum:"-90" maximum:"90" doc:"Latitude" example:"53.3915"`
	Lng float64 `json:"lng" minimum:"-180" maximum:"180" doc:"Longitude" example:"-2.125143"`
}

func (p LatLng) point() orb.Point {
	return orb.Point{p.Lng, p.Lat}
}

func fromPoint(p orb.Point) LatLng {
	return LatLng{Lat: p.Lat(), Lng: p.Lon()}
}

type Bounds struct {
	MinLng float64 `json:"minLng"`
	MinLat float64 `json:"minLat"`
	MaxLng float64 `json:"maxLng"`
	MaxLat float64 `json:"maxLat"`
}

type PopupBody struct {
	Anchor  LatLng `json:"anchor" doc:"Popup anchor"`
	Content string `json:"content" doc:"Merged popup HTML"`
}

type MapState struct {
	Zoom       float64    `json:"zoom" doc:"Current zoom"`
	Center     LatLng     `json:"center" doc:"Current center"`
	Bounds     Bounds     `json:"bounds" doc:"Current viewport bounds"`
	Generation uint64     `json:"generation" doc:"Latest dispatched dynamic sync generation"`
	Groups     []string   `json:"groups" doc:"Attached layer groups in attach order"`
	Tiles      []string   `json:"tiles" doc:"Attached raster layers"`
	Popup      *PopupBody `json:"popup,omitempty" doc:"Open popup"`
}

type MapStateOutput struct {
	Body MapState
}

type ViewportInput struct {
	Body struct {
		Zoom   float64 `json:"zoom" minimum:"0" maximum:"22" doc:"Zoom level" example:"17"`
		Center LatLng  `json:"center" doc:"New map center"`
		Width  int     `json:"width,omitempty" minimum:"0" doc:"Viewport width in pixels"`
		Height int     `json:"height,omitempty" minimum:"0" doc:"Viewport height in pixels"`
	}
}

type ClickInput struct {
	Body LatLng
}

type ClickBody struct {
	Opened bool       `json:"opened" doc:"Whether a popup was opened"`
	Popup  *PopupBody `json:"popup,omitempty" doc:"The opened popup"`
}

type VisibilityInput struct {
	KeyInput
	Body struct {
		Visible bool `json:"visible" doc:"Whether the layer is shown"`
	}
}

type TileInput struct {
	KeyInput
	Z int `path:"z" minimum:"0" maximum:"22"`
	X int `path:"x" minimum:"0"`
	Y int `path:"y" minimum:"0"`
}

type TileRedirectOutput struct {
	Status   int
	Location string `header:"Location"`
}

// RegisterMap registers the map surface routes.
func (h *APIHandler) RegisterMap(api huma.API) {
	huma.Get(api, "/api/v1/map", h.GetMap, huma.OperationTags("map"))
	huma.Post(api, "/api/v1/map/viewport", h.PostViewport, huma.OperationTags("map"))
	huma.Post(api, "/api/v1/map/click", h.PostClick, huma.OperationTags("map"))
	huma.Put(api, "/api/v1/map/layers/{key}/visibility", h.PutVisibility, huma.OperationTags("map"))
}

// RegisterWMS registers the raster tile routes.
func (h *APIHandler) RegisterWMS(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "get-wms-tile",
		Method:        http.MethodGet,
		Path:          "/api/v1/wms/{key}/{z}/{x}/{y}",
		Summary:       "Redirect to a WMS tile",
		Tags:          []string{"wms"},
		DefaultStatus: http.StatusFound,
	}, h.GetTile)
}

func (h *APIHandler) state() MapState {
	s := h.svc.Surface
	b := s.Bounds()
	st := MapState{
		Zoom:       s.Zoom(),
		Center:     fromPoint(s.Center()),
		Bounds:     Bounds{MinLng: b.Min.Lon(), MinLat: b.Min.Lat(), MaxLng: b.Max.Lon(), MaxLat: b.Max.Lat()},
		Generation: h.svc.Sync.Generation(),
		Groups:     s.LayerGroups(),
	}
	for _, t := range s.TileLayers() {
		st.Tiles = append(st.Tiles, t.Key)
	}
	if p, ok := s.Popup(); ok {
		st.Popup = popupBody(p)
	}
	return st
}

func popupBody(p surface.Popup) *PopupBody {
	return &PopupBody{Anchor: fromPoint(p.Anchor), Content: p.Content}
}

func (h *APIHandler) GetMap(ctx context.Context, input *struct{}) (*MapStateOutput, error) {
	return &MapStateOutput{Body: h.state()}, nil
}

// PostViewport moves the map. The resulting moveend synchronizes the dynamic
// layers before the response is written.
func (h *APIHandler) PostViewport(ctx context.Context, input *ViewportInput) (*MapStateOutput, error) {
	h.svc.Surface.Resize(input.Body.Width, input.Body.Height)
	h.svc.Surface.SetView(input.Body.Center.point(), input.Body.Zoom)
	return &MapStateOutput{Body: h.state()}, nil
}

func (h *APIHandler) PostClick(ctx context.Context, input *ClickInput) (*struct{ Body ClickBody }, error) {
	p, ok := h.svc.Aggregator.Click(input.Body.point())
	out := &struct{ Body ClickBody }{Body: ClickBody{Opened: ok}}
	if ok {
		out.Body.Popup = popupBody(p)
	}
	return out, nil
}

// PutVisibility toggles an overlay layer from the layer control.
func (h *APIHandler) PutVisibility(ctx context.Context, input *VisibilityInput) (*MapStateOutput, error) {
	cfg, ok := h.svc.Layers.Get(input.Key)
	if !ok {
		return nil, huma.Error404NotFound("layer not found")
	}
	if !cfg.DisplayOverlay {
		return nil, huma.Error422UnprocessableEntity("layer is not shown in the layer control")
	}

	s := h.svc.Surface
	switch {
	case cfg.IsRaster():
		ep, ok := h.svc.Sync.Raster(cfg.Key)
		if !ok {
			return nil, huma.Error404NotFound("raster layer not registered")
		}
		if input.Body.Visible {
			s.AddTileLayer(ep)
		} else {
			s.RemoveTileLayer(cfg.Key)
		}
	case input.Body.Visible:
		s.AddLayerGroup(cfg.Key)
	default:
		s.RemoveLayerGroup(cfg.Key)
	}

	s.Events().Publish(service.Event{
		Kind:       service.EventLayersChanged,
		Zoom:       s.Zoom(),
		Bounds:     s.Bounds(),
		Generation: h.svc.Sync.Generation(),
	})
	return &MapStateOutput{Body: h.state()}, nil
}

func (h *APIHandler) GetTile(ctx context.Context, input *TileInput) (*TileRedirectOutput, error) {
	ep, ok := h.svc.Sync.Raster(input.Key)
	if !ok {
		return nil, huma.Error404NotFound("raster layer not found")
	}
	n := 1 << input.Z
	if input.X >= n || input.Y >= n {
		return nil, huma.Error404NotFound("tile out of range")
	}
	u, ok := ep.TileURL(maptile.New(uint32(input.X), uint32(input.Y), maptile.Zoom(input.Z)))
	if !ok {
		return nil, huma.Error404NotFound("layer does not draw at this zoom")
	}
	return &TileRedirectOutput{Status: http.StatusFound, Location: u}, nil
}
