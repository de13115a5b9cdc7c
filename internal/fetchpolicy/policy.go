// Package fetchpolicy decides whether a layer is fetched for a viewport and
// builds the request URL. It performs no I/O.
package fetchpolicy

import (
	"strconv"
	"strings"

	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-map/internal/service"
)

// Placeholder is the token in a layer URL template replaced by the bounds.
const Placeholder = "{0}"

// Skip reasons.
const (
	ReasonRaster = "raster"
	ReasonZoom   = "zoom"
)

// Plan is the outcome of Decide.
type Plan struct {
	Skip   bool
	URL    string
	Reason string // why the layer was skipped
}

// Decide returns the fetch plan for a layer at the given zoom and bounds.
// Raster layers are never fetched here. Vector layers are fetched only when
// zoom is strictly above the layer's MaxZoom.
func Decide(cfg service.LayerConfig, zoom float64, bounds orb.Bound) Plan {
	if cfg.IsRaster() {
		return Plan{Skip: true, Reason: ReasonRaster}
	}
	if zoom <= cfg.MaxZoom {
		return Plan{Skip: true, Reason: ReasonZoom}
	}
	return Plan{URL: Substitute(cfg.URL, bounds)}
}

// Substitute replaces the first placeholder in template with the bounds.
func Substitute(template string, bounds orb.Bound) string {
	return strings.Replace(template, Placeholder, FormatBounds(bounds), 1)
}

// FormatBounds serializes bounds as "minLon,minLat,maxLon,maxLat".
func FormatBounds(b orb.Bound) string {
	return strings.Join([]string{
		formatCoord(b.Min.Lon()),
		formatCoord(b.Min.Lat()),
		formatCoord(b.Max.Lon()),
		formatCoord(b.Max.Lat()),
	}, ",")
}

// formatCoord prints the shortest round-trip form, always with a decimal
// point so whole degrees read as "-2.0".
func formatCoord(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
