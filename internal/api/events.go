package api

import (
	"context"
	"html/template"

	"github.com/danielgtaylor/huma/v2"
	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-map/internal/humastar"
	"github.com/joeblew999/plat-map/internal/service"
	"github.com/joeblew999/plat-map/internal/templates"
)

// EventHandler streams map surface events to the Datastar UI via SSE and
// accepts Datastar actions.
type EventHandler struct {
	humastar.Handler
	svc *Services
}

// NewEventHandler creates a new event handler.
func NewEventHandler(svc *Services) *EventHandler {
	r := svc.Renderer
	if r == nil {
		r = templates.Default()
	}
	return &EventHandler{
		Handler: humastar.Handler{Renderer: r},
		svc:     svc,
	}
}

func (h *EventHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/map/events", h.Events, huma.OperationTags("map"))
	huma.Post(api, "/api/v1/map/actions/click", h.ClickAction, huma.OperationTags("map"))
	huma.Post(api, "/api/v1/map/actions/viewport", h.ViewportAction, huma.OperationTags("map"))
}

// Events streams popup and layer changes until the client goes away.
func (h *EventHandler) Events(ctx context.Context, input *humastar.EmptyInput) (*huma.StreamResponse, error) {
	return &huma.StreamResponse{
		Body: func(humaCtx huma.Context) {
			sse := humastar.NewSSE(humaCtx)
			bus := h.svc.Surface.Events()
			ch := bus.Subscribe()
			defer bus.Unsubscribe(ch)

			done := humaCtx.Context().Done()
			for {
				select {
				case <-done:
					return
				case ev := <-ch:
					h.send(sse, ev)
				}
			}
		},
	}, nil
}

func (h *EventHandler) send(sse humastar.SSE, ev service.Event) {
	if ev.Kind == service.EventPopupOpen {
		sse.Replace(h.popupHTML(ev.LatLng, ev.Content), "#map-popup")
	}
	if signals := h.signals(ev); signals != nil {
		sse.Signals(signals)
	}
	sse.DispatchCustomEvent("map-"+string(ev.Kind), map[string]any{
		"zoom":       ev.Zoom,
		"generation": ev.Generation,
	})
}

func (h *EventHandler) popupHTML(anchor orb.Point, content string) string {
	return h.RenderFragment("map-popup", templates.MapPopup{
		Lat:     anchor.Lat(),
		Lng:     anchor.Lon(),
		Content: template.HTML(content),
	})
}

// signals maps an event to the Datastar signals it changes.
func (h *EventHandler) signals(ev service.Event) map[string]any {
	switch ev.Kind {
	case service.EventMoveEnd:
		return map[string]any{
			"zoom":   ev.Zoom,
			"lat":    ev.LatLng.Lat(),
			"lng":    ev.LatLng.Lon(),
			"bounds": []float64{ev.Bounds.Min.Lon(), ev.Bounds.Min.Lat(), ev.Bounds.Max.Lon(), ev.Bounds.Max.Lat()},
		}
	case service.EventPopupOpen:
		return map[string]any{"popupOpen": true, "popupLat": ev.LatLng.Lat(), "popupLng": ev.LatLng.Lon()}
	case service.EventPopupClose:
		return map[string]any{"popupOpen": false}
	case service.EventLayersChanged:
		return map[string]any{
			"generation": ev.Generation,
			"groups":     h.svc.Surface.LayerGroups(),
		}
	}
	return nil
}

// ClickAction handles a Datastar click action carrying lat/lng signals.
func (h *EventHandler) ClickAction(ctx context.Context, input *humastar.SignalsInput) (*huma.StreamResponse, error) {
	signals, err := input.MustParse()
	if err != nil {
		return nil, err
	}
	if !signals.Has("lat") || !signals.Has("lng") {
		return nil, huma.Error400BadRequest("lat and lng signals are required")
	}
	latlng := orb.Point{signals.Float("lng"), signals.Float("lat")}

	p, ok := h.svc.Aggregator.Click(latlng)
	return h.Stream(func(sse humastar.SSE) {
		if !ok {
			sse.Signals(map[string]any{"clickOpened": false})
			return
		}
		sse.Replace(h.popupHTML(p.Anchor, p.Content), "#map-popup")
		sse.Signals(map[string]any{"clickOpened": true, "popupOpen": true})
	}), nil
}

// ViewportAction handles a Datastar moveend action carrying zoom/lat/lng
// signals.
func (h *EventHandler) ViewportAction(ctx context.Context, input *humastar.SignalsInput) (*huma.StreamResponse, error) {
	signals, err := input.MustParse()
	if err != nil {
		return nil, err
	}
	if !signals.Has("zoom") {
		return nil, huma.Error400BadRequest("zoom signal is required")
	}

	s := h.svc.Surface
	s.Resize(signals.Int("width"), signals.Int("height"))
	center := s.Center()
	if signals.Has("lat") && signals.Has("lng") {
		center = orb.Point{signals.Float("lng"), signals.Float("lat")}
	}
	s.SetView(center, signals.Float("zoom"))

	return h.Stream(func(sse humastar.SSE) {
		sse.Signals(map[string]any{
			"zoom":       s.Zoom(),
			"generation": h.svc.Sync.Generation(),
			"groups":     s.LayerGroups(),
		})
	}), nil
}
