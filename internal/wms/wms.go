// Package wms builds GetMap tile requests for raster layers.
package wms

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/project"

	"github.com/joeblew999/plat-map/internal/service"
)

// TileSize is the pixel size of a requested tile.
const TileSize = 256

// maxZoom is used when a raster layer sets no upper zoom.
const maxZoom = 22

// Endpoint is a registered WMS raster layer.
type Endpoint struct {
	Key         string
	BaseURL     string
	Layers      string
	Format      string
	Transparent bool
	MinZoom     float64
	MaxZoom     float64
}

// FromConfig builds an endpoint from a raster layer config.
func FromConfig(cfg service.LayerConfig) *Endpoint {
	ep := &Endpoint{
		Key:         cfg.Key,
		BaseURL:     cfg.URL,
		Layers:      cfg.WMS.Layers,
		Format:      cfg.WMS.Format,
		Transparent: cfg.WMS.Transparent,
		MinZoom:     cfg.MinZoom,
		MaxZoom:     cfg.MaxZoom,
	}
	if ep.Format == "" {
		ep.Format = "image/png"
	}
	if ep.MaxZoom == 0 {
		ep.MaxZoom = maxZoom
	}
	return ep
}

// Covers reports whether the layer draws at zoom z.
func (e *Endpoint) Covers(z float64) bool {
	return z >= e.MinZoom && z <= e.MaxZoom
}

// TileURL returns the GetMap URL for tile t, or false when the tile's zoom
// is outside the layer's range.
func (e *Endpoint) TileURL(t maptile.Tile) (string, bool) {
	if !e.Covers(float64(t.Z)) {
		return "", false
	}

	b := project.Bound(t.Bound(), project.WGS84.ToMercator)

	params := url.Values{}
	params.Set("SERVICE", "WMS")
	params.Set("VERSION", "1.1.1")
	params.Set("REQUEST", "GetMap")
	params.Set("LAYERS", e.Layers)
	params.Set("STYLES", "")
	params.Set("FORMAT", e.Format)
	params.Set("TRANSPARENT", strconv.FormatBool(e.Transparent))
	params.Set("SRS", "EPSG:3857")
	params.Set("WIDTH", strconv.Itoa(TileSize))
	params.Set("HEIGHT", strconv.Itoa(TileSize))
	params.Set("BBOX", formatBBox(b))

	base := strings.TrimRight(e.BaseURL, "?&")
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + params.Encode(), true
}

func formatBBox(b orb.Bound) string {
	parts := []float64{b.Min.X(), b.Min.Y(), b.Max.X(), b.Max.Y()}
	out := make([]string, len(parts))
	for i, v := range parts {
		out[i] = strconv.FormatFloat(v, 'f', 6, 64)
	}
	return strings.Join(out, ",")
}
