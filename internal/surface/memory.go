package surface

import (
	"math"
	"slices"
	"strings"
	"sync"

	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-map/internal/service"
	"github.com/joeblew999/plat-map/internal/wms"
)

const maxZoom = 22

// MeasureFunc estimates the on-screen height of popup content in pixels.
type MeasureFunc func(content string) float64

// EstimateHeight is the default MeasureFunc: a fixed chrome plus one line per
// line break, divider or table row.
func EstimateHeight(content string) float64 {
	if content == "" {
		return 0
	}
	lines := 1
	for _, tok := range []string{"<br", "<hr", "</tr>", "</p>", "\n"} {
		lines += strings.Count(strings.ToLower(content), tok)
	}
	return 40 + 18*float64(lines)
}

// Memory is a headless, concurrency-safe Surface. Mutations publish events
// after the surface lock is released.
type Memory struct {
	mu      sync.RWMutex
	center  orb.Point
	zoom    float64
	minZoom float64
	width   float64
	height  float64
	groups  []string
	tiles   []*wms.Endpoint
	popup   *Popup
	measure MeasureFunc
	bus     *service.EventBus
}

// MemoryOption configures a Memory surface.
type MemoryOption func(*Memory)

// WithMeasure replaces the popup height estimate.
func WithMeasure(fn MeasureFunc) MemoryOption {
	return func(m *Memory) { m.measure = fn }
}

// WithMinZoom sets the lowest zoom SetView accepts.
func WithMinZoom(z float64) MemoryOption {
	return func(m *Memory) { m.minZoom = z }
}

// NewMemory creates a surface of width x height pixels centered on center.
func NewMemory(center orb.Point, zoom float64, width, height int, opts ...MemoryOption) *Memory {
	m := &Memory{
		center:  center,
		zoom:    zoom,
		width:   float64(width),
		height:  float64(height),
		measure: EstimateHeight,
		bus:     service.NewEventBus(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.zoom = m.clampZoom(zoom)
	return m
}

// NewMemoryFromConfig creates a surface at the configured starting view.
func NewMemoryFromConfig(cfg service.MapConfig, opts ...MemoryOption) *Memory {
	center := orb.Point{cfg.StartingLatLng[1], cfg.StartingLatLng[0]}
	opts = append([]MemoryOption{WithMinZoom(cfg.MinZoom)}, opts...)
	return NewMemory(center, cfg.StartingZoom, cfg.Width, cfg.Height, opts...)
}

func (m *Memory) clampZoom(z float64) float64 {
	return math.Max(m.minZoom, math.Min(maxZoom, z))
}

// Events implements Surface.
func (m *Memory) Events() *service.EventBus {
	return m.bus
}

// Zoom implements Surface.
func (m *Memory) Zoom() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.zoom
}

// Center implements Surface.
func (m *Memory) Center() orb.Point {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.center
}

// Bounds implements Surface.
func (m *Memory) Bounds() orb.Bound {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.boundsLocked()
}

func (m *Memory) boundsLocked() orb.Bound {
	c := ProjectAt(m.center, m.zoom)
	nw := UnprojectAt(orb.Point{c.X() - m.width/2, c.Y() - m.height/2}, m.zoom)
	se := UnprojectAt(orb.Point{c.X() + m.width/2, c.Y() + m.height/2}, m.zoom)
	return orb.Bound{
		Min: orb.Point{nw.Lon(), se.Lat()},
		Max: orb.Point{se.Lon(), nw.Lat()},
	}
}

// Resize changes the viewport pixel size without publishing an event.
func (m *Memory) Resize(width, height int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if width > 0 {
		m.width = float64(width)
	}
	if height > 0 {
		m.height = float64(height)
	}
}

// SetView recentres and zooms the map, then publishes moveend.
func (m *Memory) SetView(center orb.Point, zoom float64) {
	m.mu.Lock()
	m.center = center
	m.zoom = m.clampZoom(zoom)
	ev := m.moveEndLocked()
	m.mu.Unlock()

	m.bus.Publish(ev)
}

// PanTo recentres the map at the current zoom, then publishes moveend.
func (m *Memory) PanTo(center orb.Point, animate bool) {
	m.SetView(center, m.Zoom())
}

func (m *Memory) moveEndLocked() service.Event {
	return service.Event{
		Kind:   service.EventMoveEnd,
		LatLng: m.center,
		Zoom:   m.zoom,
		Bounds: m.boundsLocked(),
	}
}

// Project implements Surface.
func (m *Memory) Project(p orb.Point) orb.Point {
	return ProjectAt(p, m.Zoom())
}

// Unproject implements Surface.
func (m *Memory) Unproject(px orb.Point) orb.Point {
	return UnprojectAt(px, m.Zoom())
}

// AddLayerGroup attaches a group. Attaching twice is a no-op.
func (m *Memory) AddLayerGroup(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !slices.Contains(m.groups, key) {
		m.groups = append(m.groups, key)
	}
}

// RemoveLayerGroup detaches a group.
func (m *Memory) RemoveLayerGroup(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups = slices.DeleteFunc(m.groups, func(k string) bool { return k == key })
}

// LayerGroups returns attached group keys in attach order.
func (m *Memory) LayerGroups() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.groups)
}

// AddTileLayer attaches a raster layer. Attaching twice is a no-op.
func (m *Memory) AddTileLayer(ep *wms.Endpoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tiles {
		if t.Key == ep.Key {
			return
		}
	}
	m.tiles = append(m.tiles, ep)
}

// RemoveTileLayer detaches a raster layer.
func (m *Memory) RemoveTileLayer(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tiles = slices.DeleteFunc(m.tiles, func(t *wms.Endpoint) bool { return t.Key == key })
}

// TileLayers returns attached raster layers.
func (m *Memory) TileLayers() []*wms.Endpoint {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.tiles)
}

// OpenPopup replaces any open popup, then publishes popupclose (when one was
// open) and popupopen.
func (m *Memory) OpenPopup(anchor orb.Point, content string) {
	m.mu.Lock()
	prev := m.popup
	m.popup = &Popup{Anchor: anchor, Content: content}
	m.mu.Unlock()

	if prev != nil {
		m.bus.Publish(service.Event{Kind: service.EventPopupClose, LatLng: prev.Anchor, Content: prev.Content})
	}
	m.bus.Publish(service.Event{Kind: service.EventPopupOpen, LatLng: anchor, Content: content})
}

// ClosePopup closes the open popup, if any.
func (m *Memory) ClosePopup() {
	m.mu.Lock()
	prev := m.popup
	m.popup = nil
	m.mu.Unlock()

	if prev != nil {
		m.bus.Publish(service.Event{Kind: service.EventPopupClose, LatLng: prev.Anchor, Content: prev.Content})
	}
}

// Popup returns the open popup.
func (m *Memory) Popup() (Popup, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.popup == nil {
		return Popup{}, false
	}
	return *m.popup, true
}

// PopupHeight returns the open popup's height in pixels, or 0 when closed.
func (m *Memory) PopupHeight() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.popup == nil {
		return 0
	}
	return m.measure(m.popup.Content)
}

// Click publishes a click at p.
func (m *Memory) Click(p orb.Point) {
	m.bus.Publish(service.Event{Kind: service.EventClick, LatLng: p, Zoom: m.Zoom()})
}
