// Package surface models the map surface the engine drives: viewport, layer
// groups, tile layers, popup and event notifications.
package surface

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"

	"github.com/joeblew999/plat-map/internal/service"
	"github.com/joeblew999/plat-map/internal/wms"
)

// Popup is the single popup open on the map.
type Popup struct {
	Anchor  orb.Point `json:"anchor"` // [lng, lat]
	Content string    `json:"content"`
}

// Surface is the map surface API consumed by the synchronizer and the click
// aggregator. Points are geographic [lng, lat]; pixels are [x, y] in the
// global pixel space of the current zoom.
type Surface interface {
	Zoom() float64
	Center() orb.Point
	Bounds() orb.Bound
	SetView(center orb.Point, zoom float64)
	PanTo(center orb.Point, animate bool)
	Project(p orb.Point) orb.Point
	Unproject(px orb.Point) orb.Point

	AddLayerGroup(key string)
	RemoveLayerGroup(key string)
	LayerGroups() []string

	AddTileLayer(ep *wms.Endpoint)
	RemoveTileLayer(key string)
	TileLayers() []*wms.Endpoint

	OpenPopup(anchor orb.Point, content string)
	ClosePopup()
	Popup() (Popup, bool)
	PopupHeight() float64

	Events() *service.EventBus
}

// Web Mercator pixel projection, 256px tiles.
const tileSize = 256

func scale(zoom float64) float64 {
	return tileSize * math.Pow(2, zoom)
}

// ProjectAt converts a geographic point to global pixel coordinates at zoom.
func ProjectAt(p orb.Point, zoom float64) orb.Point {
	m := project.Point(p, project.WGS84.ToMercator)
	s := scale(zoom)
	return orb.Point{
		s * (0.5/math.Pi*m.X()/orb.EarthRadius + 0.5),
		s * (-0.5/math.Pi*m.Y()/orb.EarthRadius + 0.5),
	}
}

// UnprojectAt converts global pixel coordinates at zoom back to a geographic
// point.
func UnprojectAt(px orb.Point, zoom float64) orb.Point {
	s := scale(zoom)
	m := orb.Point{
		(px.X()/s - 0.5) / (0.5 / math.Pi) * orb.EarthRadius,
		(px.Y()/s - 0.5) / (-0.5 / math.Pi) * orb.EarthRadius,
	}
	return project.Point(m, project.Mercator.ToWGS84)
}
