// Package click resolves a map click into one merged popup.
package click

import (
	"math"
	"strings"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/rs/zerolog"

	"github.com/joeblew999/plat-map/internal/layers"
	"github.com/joeblew999/plat-map/internal/metrics"
	"github.com/joeblew999/plat-map/internal/service"
	"github.com/joeblew999/plat-map/internal/surface"
)

// Divider separates merged popup entries.
const Divider = " <hr/> "

// Aggregator hit-tests clicks against the rendered interactive layers, opens
// one popup with the merged content and pans it into view once it is open.
type Aggregator struct {
	logger   zerolog.Logger
	surface  surface.Surface
	registry *layers.Registry
	metrics  *metrics.Metrics

	minZoom      float64
	deepLinkZoom float64
	fallback     func() string

	mu      sync.Mutex
	last    string
	pending *surface.Popup
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithMinZoom sets the zoom at or below which live clicks are ignored.
func WithMinZoom(z float64) Option {
	return func(a *Aggregator) { a.minZoom = z }
}

// WithDeepLinkZoom sets the zoom a deep link recentres the map at.
func WithDeepLinkZoom(z float64) Option {
	return func(a *Aggregator) { a.deepLinkZoom = z }
}

// WithFallback supplies the popup content used when no hit carries content.
// By default the last content this aggregator opened is reused.
func WithFallback(fn func() string) Option {
	return func(a *Aggregator) { a.fallback = fn }
}

// WithMetrics records click outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Aggregator) { a.metrics = m }
}

// New creates an aggregator reading rendered features from registry.
func New(logger zerolog.Logger, s surface.Surface, registry *layers.Registry, opts ...Option) *Aggregator {
	a := &Aggregator{
		logger:       logger.With().Str("component", "click").Logger(),
		surface:      s,
		registry:     registry,
		minZoom:      service.DefaultMapClickMinZoom,
		deepLinkZoom: service.DefaultDeepLinkZoom,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Click handles a live click at latlng. Clicks at or below the minimum zoom
// are ignored.
func (a *Aggregator) Click(latlng orb.Point) (surface.Popup, bool) {
	if z := a.surface.Zoom(); z <= a.minZoom {
		a.metrics.IncClick(metrics.ClickSuppressed)
		a.logger.Debug().Float64("zoom", z).Msg("click below interactive zoom ignored")
		return surface.Popup{}, false
	}
	return a.open(latlng)
}

// DeepLink recentres the map on latlng at the deep-link zoom, then opens the
// popup for that point regardless of the click zoom gate. Recentring
// publishes moveend, so subscribed layer syncs settle before the hit-test.
func (a *Aggregator) DeepLink(latlng orb.Point) (surface.Popup, bool) {
	a.surface.SetView(latlng, a.deepLinkZoom)
	return a.open(latlng)
}

func (a *Aggregator) open(latlng orb.Point) (surface.Popup, bool) {
	hits := a.HitTest(latlng)
	content := Merge(hits, a.fallbackContent())
	if content == "" {
		a.metrics.IncClick(metrics.ClickEmpty)
		return surface.Popup{}, false
	}

	p := surface.Popup{Anchor: latlng, Content: content}
	a.mu.Lock()
	a.last = content
	a.pending = &p
	a.mu.Unlock()

	a.surface.OpenPopup(latlng, content)
	a.metrics.IncClick(metrics.ClickOpened)
	a.logger.Debug().Int("hits", len(hits)).Float64("lat", latlng.Lat()).Float64("lng", latlng.Lon()).Msg("popup opened")
	return p, true
}

func (a *Aggregator) fallbackContent() string {
	if a.fallback != nil {
		return a.fallback()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

// Reposition handles popupopen: when the opened popup is the one the last
// click produced, the view is panned up by half the popup's height so the
// whole popup is visible. It pans at most once per opened popup.
func (a *Aggregator) Reposition(e service.Event) {
	a.mu.Lock()
	p := a.pending
	if p == nil || p.Anchor != e.LatLng || p.Content != e.Content {
		a.mu.Unlock()
		return
	}
	a.pending = nil
	a.mu.Unlock()

	h := a.surface.PopupHeight()
	px := a.surface.Project(p.Anchor)
	target := a.surface.Unproject(orb.Point{px.X(), px.Y() - h/2})
	a.surface.PanTo(target, true)
}

// HitTest returns the rendered interactive features under latlng, ordered by
// group registration order, then feature order within the group. Only groups
// attached to the surface take part.
func (a *Aggregator) HitTest(latlng orb.Point) []layers.Feature {
	attached := make(map[string]bool)
	for _, key := range a.surface.LayerGroups() {
		attached[key] = true
	}
	var keys []string
	for _, key := range a.registry.Keys() {
		if attached[key] {
			keys = append(keys, key)
		}
	}

	click := a.surface.Project(latlng)
	var hits []layers.Feature
	a.registry.View(keys, func(key string, interactive bool, features []layers.Feature) {
		if !interactive {
			return
		}
		for _, f := range features {
			if a.contains(f.Feature.Geometry, latlng, click, f.Style.Radius) {
				hits = append(hits, f)
			}
		}
	})
	return hits
}

// contains reports whether g is under the click. Areas contain the point
// geographically; markers are hit within radius pixels of the click.
func (a *Aggregator) contains(g orb.Geometry, latlng, click orb.Point, radius float64) bool {
	switch g := g.(type) {
	case orb.Point:
		return a.nearMarker(g, click, radius)
	case orb.MultiPoint:
		for _, p := range g {
			if a.nearMarker(p, click, radius) {
				return true
			}
		}
	case orb.Polygon:
		return g.Bound().Contains(latlng) && planar.PolygonContains(g, latlng)
	case orb.MultiPolygon:
		return g.Bound().Contains(latlng) && planar.MultiPolygonContains(g, latlng)
	case orb.Collection:
		for _, c := range g {
			if a.contains(c, latlng, click, radius) {
				return true
			}
		}
	}
	return false
}

func (a *Aggregator) nearMarker(p, click orb.Point, radius float64) bool {
	if radius <= 0 {
		radius = service.DefaultMarkerRadius
	}
	px := a.surface.Project(p)
	return math.Hypot(px.X()-click.X(), px.Y()-click.Y()) <= radius
}

// Merge joins the non-empty contents of hits with Divider. When no hit has
// content, fallback is returned.
func Merge(hits []layers.Feature, fallback string) string {
	parts := make([]string, 0, len(hits))
	for _, h := range hits {
		if h.Content != "" {
			parts = append(parts, h.Content)
		}
	}
	if len(parts) == 0 {
		return fallback
	}
	return strings.Join(parts, Divider)
}
