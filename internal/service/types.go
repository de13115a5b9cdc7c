// Package service contains the layer configuration model and the map event bus.
package service

import (
	"strings"
	"time"

	"github.com/paulmach/orb/geojson"
)

// ContentFunc renders the popup HTML bound to a feature. An empty result
// means the feature has no popup.
type ContentFunc func(f *geojson.Feature) string

// StyleFunc maps a feature to its visual style.
type StyleFunc func(f *geojson.Feature) Style

// LayerConfig describes one map layer. Loaded once from the YAML config and
// never mutated afterwards.
//
// MaxZoom is the vector zoom gate: features are only requested once the map
// is zoomed in beyond it. MinZoom/MaxZoom bound the zoom range in which a
// raster layer draws tiles.
type LayerConfig struct {
	Key            string       `yaml:"key" json:"key" required:"true" minLength:"1" doc:"Unique layer key" example:"Gullies Layer"`
	URL            string       `yaml:"url" json:"url" required:"true" doc:"URL template, {0} is replaced by the viewport bounds" example:"https://example.org/wfs?bbox={0},EPSG:4326"`
	Raster         bool         `yaml:"raster,omitempty" json:"raster" doc:"Whether the layer is a WMS raster layer"`
	MinZoom        float64      `yaml:"minZoom,omitempty" json:"minZoom,omitempty" doc:"Lowest zoom a raster layer draws at"`
	MaxZoom        float64      `yaml:"maxZoom" json:"maxZoom" doc:"Vector layers are fetched only above this zoom" example:"16"`
	Interactive    *bool        `yaml:"interactive,omitempty" json:"interactive,omitempty" doc:"Whether features take part in click hit-testing (default true)"`
	Popup          string       `yaml:"popup,omitempty" json:"popup,omitempty" doc:"Popup content template name" example:"popup-properties"`
	Style          Style        `yaml:"style,omitempty" json:"style,omitempty" doc:"Base style"`
	RenderRules    []RenderRule `yaml:"renderRules,omitempty" json:"renderRules,omitempty" doc:"Conditional styling rules"`
	DefaultVisible bool         `yaml:"visibleByDefault" json:"defaultVisible" doc:"Whether the layer is shown at startup"`
	DisplayOverlay bool         `yaml:"displayOverlay" json:"displayOverlay" doc:"Whether the layer appears in the layer control"`
	WMS            WMSOptions   `yaml:"wms,omitempty" json:"wms,omitempty" doc:"GetMap parameters for raster layers"`

	ContentFn ContentFunc `yaml:"-" json:"-"`
	StyleFn   StyleFunc   `yaml:"-" json:"-"`
}

// IsRaster reports whether the layer is served as WMS tiles rather than
// fetched as GeoJSON.
func (l LayerConfig) IsRaster() bool {
	return l.Raster || strings.HasSuffix(l.URL, "wms?")
}

// IsInteractive reports whether the layer's features are hit-tested on click.
func (l LayerConfig) IsInteractive() bool {
	return l.Interactive == nil || *l.Interactive
}

// WMSOptions holds GetMap parameters for a raster layer.
type WMSOptions struct {
	Layers      string `yaml:"layers" json:"layers,omitempty" doc:"Comma separated WMS layer names" example:"base_maps:os1250_line"`
	Format      string `yaml:"format,omitempty" json:"format,omitempty" default:"image/png" doc:"Image format"`
	Transparent bool   `yaml:"transparent,omitempty" json:"transparent,omitempty" doc:"Request transparent tiles"`
}

// Style is the visual style of a rendered feature.
type Style struct {
	Color       string  `yaml:"color,omitempty" json:"color,omitempty" doc:"Stroke color (CSS)"`
	Weight      float64 `yaml:"weight,omitempty" json:"weight,omitempty" doc:"Stroke width"`
	Opacity     float64 `yaml:"opacity,omitempty" json:"opacity,omitempty" minimum:"0" maximum:"1" doc:"Stroke opacity (0-1)"`
	FillColor   string  `yaml:"fillColor,omitempty" json:"fillColor,omitempty" doc:"Fill color (CSS)"`
	FillOpacity float64 `yaml:"fillOpacity,omitempty" json:"fillOpacity,omitempty" minimum:"0" maximum:"1" doc:"Fill opacity (0-1)"`
	Radius      float64 `yaml:"radius,omitempty" json:"radius,omitempty" doc:"Circle marker radius in pixels"`
}

// RenderRule overrides the base style for features whose FilterProp equals
// FilterValue. Zero-valued fields keep the base value.
type RenderRule struct {
	FilterProp  string  `yaml:"filterProp,omitempty" json:"filterProp,omitempty" doc:"Property name to filter on"`
	FilterValue string  `yaml:"filterValue,omitempty" json:"filterValue,omitempty" doc:"Value to match"`
	Color       string  `yaml:"color,omitempty" json:"color,omitempty" doc:"Stroke color (CSS)"`
	FillColor   string  `yaml:"fillColor,omitempty" json:"fillColor,omitempty" doc:"Fill color (CSS)"`
	Opacity     float64 `yaml:"opacity,omitempty" json:"opacity,omitempty" doc:"Opacity (0-1)"`
	Weight      float64 `yaml:"weight,omitempty" json:"weight,omitempty" doc:"Line width"`
	Radius      float64 `yaml:"radius,omitempty" json:"radius,omitempty" doc:"Point radius"`
}

// MapConfig holds map-wide settings.
type MapConfig struct {
	StartingLatLng       [2]float64    `yaml:"startingLatLng" json:"startingLatLng" doc:"Initial map center as [lat, lng]"`
	StartingZoom         float64       `yaml:"startingZoom" json:"startingZoom" doc:"Initial zoom"`
	MinZoom              float64       `yaml:"minZoom" json:"minZoom" doc:"Lowest zoom the map allows"`
	MapClickMinZoom      float64       `yaml:"mapClickMinZoom" json:"mapClickMinZoom" doc:"Clicks are ignored at or below this zoom"`
	DeepLinkZoom         float64       `yaml:"deepLinkZoom" json:"deepLinkZoom" doc:"Zoom used when opening a deep-linked location"`
	FetchTimeout         time.Duration `yaml:"fetchTimeout" json:"fetchTimeout" doc:"Timeout for a single layer request"`
	Width                int           `yaml:"width" json:"width" doc:"Viewport width in pixels"`
	Height               int           `yaml:"height" json:"height" doc:"Viewport height in pixels"`
	DisplayLayerControls bool          `yaml:"displayLayerControls" json:"displayLayerControls"`
	EnableAddressSearch  bool          `yaml:"enableAddressSearch" json:"enableAddressSearch"`
	EnableLocateControl  bool          `yaml:"enableLocateControl" json:"enableLocateControl"`
	FullscreenControl    bool          `yaml:"fullscreenControl" json:"fullscreenControl"`
	Attribution          string        `yaml:"attribution,omitempty" json:"attribution,omitempty"`
}

// Config is the whole map configuration file.
type Config struct {
	Map     MapConfig     `yaml:"map"`
	Dynamic []LayerConfig `yaml:"dynamic"`
	Static  []LayerConfig `yaml:"static"`
}
