package mapview

import (
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/tidwall/gjson"
)

// ParseDeepLink reads the initial click location from page state JSON. Both a
// top-level {"lat":..,"lng":..} object and one nested under "deepLink" or
// "location" are accepted; "lon" is accepted for "lng". Coordinates may be
// numbers or numeric strings. Missing, partial or out-of-range input yields
// no deep link.
func ParseDeepLink(raw string) (orb.Point, bool) {
	if raw == "" || !gjson.Valid(raw) {
		return orb.Point{}, false
	}
	doc := gjson.Parse(raw)
	for _, path := range []string{"deepLink", "location", "@this"} {
		obj := doc.Get(path)
		if !obj.IsObject() {
			continue
		}
		lat := obj.Get("lat")
		lng := obj.Get("lng")
		if !lng.Exists() {
			lng = obj.Get("lon")
		}
		y, ok := coord(lat)
		if !ok {
			continue
		}
		x, ok := coord(lng)
		if !ok {
			continue
		}
		p := orb.Point{x, y}
		if p.Lat() < -90 || p.Lat() > 90 || p.Lon() < -180 || p.Lon() > 180 {
			return orb.Point{}, false
		}
		return p, true
	}
	return orb.Point{}, false
}

func coord(r gjson.Result) (float64, bool) {
	switch r.Type {
	case gjson.Number:
		return r.Float(), true
	case gjson.String:
		f, err := strconv.ParseFloat(strings.TrimSpace(r.Str), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}
