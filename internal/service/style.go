package service

import (
	"fmt"

	"github.com/paulmach/orb/geojson"
)

// DefaultMarkerRadius is the circle marker radius used when a layer's style
// does not set one.
const DefaultMarkerRadius float64 = 8

// ResolveStyle returns the layer's base style with the first matching render
// rule applied on top.
func (l LayerConfig) ResolveStyle(f *geojson.Feature) Style {
	style := l.Style
	if f != nil {
		for _, rule := range l.RenderRules {
			if !rule.matches(f.Properties) {
				continue
			}
			style = rule.apply(style)
			break
		}
	}
	if style.Radius == 0 {
		style.Radius = DefaultMarkerRadius
	}
	return style
}

func (r RenderRule) matches(props geojson.Properties) bool {
	if r.FilterProp == "" {
		return true
	}
	v, ok := props[r.FilterProp]
	if !ok || v == nil {
		return false
	}
	return fmt.Sprint(v) == r.FilterValue
}

func (r RenderRule) apply(s Style) Style {
	if r.Color != "" {
		s.Color = r.Color
	}
	if r.FillColor != "" {
		s.FillColor = r.FillColor
	}
	if r.Opacity != 0 {
		s.Opacity = r.Opacity
		s.FillOpacity = r.Opacity
	}
	if r.Weight != 0 {
		s.Weight = r.Weight
	}
	if r.Radius != 0 {
		s.Radius = r.Radius
	}
	return s
}
