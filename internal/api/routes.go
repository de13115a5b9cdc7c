// Package api defines the Huma API routes and handlers.
package api

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-map/internal/click"
	"github.com/joeblew999/plat-map/internal/layers"
	"github.com/joeblew999/plat-map/internal/service"
	"github.com/joeblew999/plat-map/internal/surface"
	"github.com/joeblew999/plat-map/internal/templates"
)

// Version is reported by the health and info endpoints.
const Version = "0.1.0"

// Services holds the service dependencies for API handlers.
type Services struct {
	Layers     *service.LayerService
	Surface    *surface.Memory
	Sync       *layers.Synchronizer
	Aggregator *click.Aggregator
	Renderer   *templates.Renderer
}

func (s *Services) validate() error {
	if s == nil || s.Layers == nil || s.Surface == nil || s.Sync == nil || s.Aggregator == nil {
		return errors.New("api: missing service")
	}
	return nil
}

// RegisterRoutes registers every API handler on api.
func RegisterRoutes(api huma.API, svc *Services) error {
	if err := svc.validate(); err != nil {
		return err
	}
	huma.AutoRegister(api, NewAPIHandler(svc))
	huma.AutoRegister(api, NewInfoHandler(svc.Layers))
	huma.AutoRegister(api, NewEventHandler(svc))
	return nil
}

// Types

type KeyInput struct {
	Key string `path:"key" doc:"Layer key" example:"Gullies Layer"`
}

type LayerOutput struct {
	Body service.LayerConfig
}

type LayersOutput struct {
	Body []service.LayerConfig
}

type FeaturesOutput struct {
	Body *geojson.FeatureCollection
}

type HealthBody struct {
	Status  string `json:"status" doc:"Health status" example:"ok"`
	Version string `json:"version" doc:"API version" example:"0.1.0"`
}

// APIHandler holds the REST API handlers. Methods named Register* are
// auto-discovered by huma.AutoRegister.
type APIHandler struct {
	svc *Services
}

func NewAPIHandler(svc *Services) *APIHandler {
	return &APIHandler{svc: svc}
}

// RegisterHealth registers health check routes.
func (h *APIHandler) RegisterHealth(api huma.API) {
	huma.Get(api, "/health", h.GetHealth, huma.OperationTags("health"))
}

// RegisterLayers registers read-only layer routes.
func (h *APIHandler) RegisterLayers(api huma.API) {
	huma.Get(api, "/api/v1/layers", h.GetLayers, huma.OperationTags("layers"))
	huma.Get(api, "/api/v1/layers/{key}", h.GetLayer, huma.OperationTags("layers"))
	huma.Get(api, "/api/v1/layers/{key}/features", h.GetLayerFeatures, huma.OperationTags("layers"))
}

// Handlers

func (h *APIHandler) GetHealth(ctx context.Context, input *struct{}) (*struct{ Body HealthBody }, error) {
	return &struct{ Body HealthBody }{Body: HealthBody{Status: "ok", Version: Version}}, nil
}

func (h *APIHandler) GetLayers(ctx context.Context, input *struct{}) (*LayersOutput, error) {
	return &LayersOutput{Body: h.svc.Layers.List()}, nil
}

func (h *APIHandler) GetLayer(ctx context.Context, input *KeyInput) (*LayerOutput, error) {
	layer, ok := h.svc.Layers.Get(input.Key)
	if !ok {
		return nil, huma.Error404NotFound("layer not found")
	}
	return &LayerOutput{Body: layer}, nil
}

// GetLayerFeatures returns what a layer group currently renders. Raster
// layers and groups never loaded have no features.
func (h *APIHandler) GetLayerFeatures(ctx context.Context, input *KeyInput) (*FeaturesOutput, error) {
	if _, ok := h.svc.Layers.Get(input.Key); !ok {
		return nil, huma.Error404NotFound("layer not found")
	}
	fc, ok := h.svc.Sync.Registry().Collection(input.Key)
	if !ok {
		fc = geojson.NewFeatureCollection()
	}
	return &FeaturesOutput{Body: fc}, nil
}
