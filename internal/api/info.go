package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-map/internal/service"
)

type InfoHandler struct {
	layers *service.LayerService
}

func NewInfoHandler(layers *service.LayerService) *InfoHandler {
	return &InfoHandler{layers: layers}
}

func (h *InfoHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/info", h.GetInfo, huma.OperationTags("health"))
}

type InfoBody struct {
	Name     string            `json:"name" doc:"Service name"`
	Version  string            `json:"version" doc:"Service version"`
	Map      service.MapConfig `json:"map" doc:"Map settings and UI toggles"`
	Dynamic  []string          `json:"dynamic" doc:"Dynamic layer keys"`
	Static   []string          `json:"static" doc:"Static layer keys"`
	Features []string          `json:"features" doc:"Available features"`
}

func (h *InfoHandler) GetInfo(ctx context.Context, input *struct{}) (*struct{ Body InfoBody }, error) {
	return &struct{ Body InfoBody }{Body: InfoBody{
		Name:     "plat-map",
		Version:  Version,
		Map:      h.layers.Map(),
		Dynamic:  keys(h.layers.Dynamic()),
		Static:   keys(h.layers.Static()),
		Features: []string{"geojson", "wms", "duckdb", "datastar"},
	}}, nil
}

func keys(configs []service.LayerConfig) []string {
	out := make([]string, len(configs))
	for i, c := range configs {
		out[i] = c.Key
	}
	return out
}
