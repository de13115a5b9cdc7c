// Package layers keeps map layer groups in step with the viewport.
package layers

import (
	"sync"

	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-map/internal/service"
)

// Feature is a rendered feature with its bound popup content and style.
type Feature struct {
	Layer   string
	Feature *geojson.Feature
	Content string
	Style   service.Style
}

// Group is a named container of rendered features.
type Group struct {
	Key         string
	Interactive bool

	features   []Feature
	generation uint64 // last applied dynamic sync generation
}

// Registry owns every layer group, keyed by layer key and kept in
// registration order. One lock guards all group contents so a sync batch is
// applied to every group at once.
type Registry struct {
	mu     sync.RWMutex
	order  []string
	groups map[string]*Group
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{groups: make(map[string]*Group)}
}

// Ensure creates an empty group for key if none exists.
func (r *Registry) Ensure(key string, interactive bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensureLocked(key, interactive)
}

func (r *Registry) ensureLocked(key string, interactive bool) *Group {
	g, ok := r.groups[key]
	if !ok {
		g = &Group{Key: key, Interactive: interactive}
		r.groups[key] = g
		r.order = append(r.order, key)
	}
	return g
}

// Has reports whether a group exists for key.
func (r *Registry) Has(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.groups[key]
	return ok
}

// Keys returns group keys in registration order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Features returns a copy of a group's features.
func (r *Registry) Features(key string) ([]Feature, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.groups[key]
	if !ok {
		return nil, false
	}
	return append([]Feature(nil), g.features...), true
}

// Generation returns the last dynamic generation applied to a group.
func (r *Registry) Generation(key string) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if g, ok := r.groups[key]; ok {
		return g.generation
	}
	return 0
}

// Collection returns a group's features as a GeoJSON feature collection.
func (r *Registry) Collection(key string) (*geojson.FeatureCollection, bool) {
	features, ok := r.Features(key)
	if !ok {
		return nil, false
	}
	fc := geojson.NewFeatureCollection()
	for _, f := range features {
		fc.Append(f.Feature)
	}
	return fc, true
}

// View calls fn for each listed group that exists, in the order given,
// while holding the read lock. fn must not retain features.
func (r *Registry) View(keys []string, fn func(key string, interactive bool, features []Feature)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, key := range keys {
		if g, ok := r.groups[key]; ok {
			fn(g.Key, g.Interactive, g.features)
		}
	}
}

// Replace swaps a group's contents unconditionally, creating the group if
// needed.
func (r *Registry) Replace(key string, interactive bool, features []Feature) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g := r.ensureLocked(key, interactive)
	g.features = features
}

type batchEntry struct {
	key         string
	interactive bool
	features    []Feature
}

// apply swaps every entry's group contents for generation gen. Groups that
// already hold a newer generation are left untouched and reported as stale.
func (r *Registry) apply(gen uint64, entries []batchEntry) (applied, stale []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range entries {
		g := r.ensureLocked(e.key, e.interactive)
		if gen < g.generation {
			stale = append(stale, e.key)
			continue
		}
		g.features = e.features
		g.generation = gen
		applied = append(applied, e.key)
	}
	return applied, stale
}
