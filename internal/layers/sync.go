package layers

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/joeblew999/plat-map/internal/fetchpolicy"
	"github.com/joeblew999/plat-map/internal/metrics"
	"github.com/joeblew999/plat-map/internal/service"
	"github.com/joeblew999/plat-map/internal/source"
	"github.com/joeblew999/plat-map/internal/wms"
)

// Attacher is the part of the map surface the synchronizer drives.
type Attacher interface {
	AddLayerGroup(key string)
	AddTileLayer(ep *wms.Endpoint)
	Events() *service.EventBus
}

// Synchronizer fetches layer features and swaps them into the registry.
type Synchronizer struct {
	logger   zerolog.Logger
	registry *Registry
	source   source.Source
	surface  Attacher
	metrics  *metrics.Metrics

	generation atomic.Uint64

	mu      sync.RWMutex
	rasters map[string]*wms.Endpoint
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithMetrics records fetch and batch metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Synchronizer) { s.metrics = m }
}

// NewSynchronizer creates a synchronizer over registry, fetching from src and
// attaching groups to surface.
func NewSynchronizer(logger zerolog.Logger, registry *Registry, src source.Source, surface Attacher, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		logger:   logger.With().Str("component", "layers").Logger(),
		registry: registry,
		source:   src,
		surface:  surface,
		rasters:  make(map[string]*wms.Endpoint),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry returns the registry the synchronizer writes to.
func (s *Synchronizer) Registry() *Registry {
	return s.registry
}

// RegisterRasters registers raster layers once as WMS tile endpoints.
// Default-visible ones are attached to the surface.
func (s *Synchronizer) RegisterRasters(configs []service.LayerConfig) {
	for _, cfg := range configs {
		if !cfg.IsRaster() {
			continue
		}
		s.mu.Lock()
		_, exists := s.rasters[cfg.Key]
		ep := wms.FromConfig(cfg)
		if !exists {
			s.rasters[cfg.Key] = ep
		}
		s.mu.Unlock()
		if exists {
			continue
		}
		if cfg.DefaultVisible {
			s.surface.AddTileLayer(ep)
		}
		s.logger.Debug().Str("layer", cfg.Key).Msg("raster layer registered")
	}
}

// Raster returns a registered raster endpoint.
func (s *Synchronizer) Raster(key string) (*wms.Endpoint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ep, ok := s.rasters[key]
	return ep, ok
}

// SyncStatic fetches static layers and attaches those that returned features.
// Layers that were skipped or came back empty get no group.
func (s *Synchronizer) SyncStatic(ctx context.Context, configs []service.LayerConfig, zoom float64, bounds orb.Bound) {
	results := s.fetchBatch(ctx, configs, zoom, bounds)
	for i, cfg := range configs {
		features := bind(cfg, results[i].Collection)
		if features == nil {
			continue
		}
		s.registry.Replace(cfg.Key, cfg.IsInteractive(), features)
		s.surface.AddLayerGroup(cfg.Key)
		s.logger.Info().Str("layer", cfg.Key).Int("features", len(features)).Msg("static layer loaded")
	}
}

// PrepareDynamic creates the groups for every vector dynamic layer and
// attaches the default-visible ones.
func (s *Synchronizer) PrepareDynamic(configs []service.LayerConfig) {
	for _, cfg := range configs {
		if cfg.IsRaster() {
			continue
		}
		s.registry.Ensure(cfg.Key, cfg.IsInteractive())
		if cfg.DefaultVisible {
			s.surface.AddLayerGroup(cfg.Key)
		}
	}
}

// SyncDynamic fetches every vector dynamic layer for the viewport and, once
// the whole batch has settled, swaps all groups at once. A batch older than a
// group's last applied generation is discarded for that group. It returns the
// batch generation.
func (s *Synchronizer) SyncDynamic(ctx context.Context, configs []service.LayerConfig, zoom float64, bounds orb.Bound) uint64 {
	gen := s.generation.Add(1)
	start := time.Now()

	vector := make([]service.LayerConfig, 0, len(configs))
	for _, cfg := range configs {
		if !cfg.IsRaster() {
			vector = append(vector, cfg)
		}
	}

	results := s.fetchBatch(ctx, vector, zoom, bounds)

	entries := make([]batchEntry, len(vector))
	for i, cfg := range vector {
		entries[i] = batchEntry{key: cfg.Key, interactive: cfg.IsInteractive(), features: bind(cfg, results[i].Collection)}
	}
	applied, stale := s.registry.apply(gen, entries)

	for _, key := range stale {
		s.metrics.IncStaleDiscard(key)
		s.logger.Debug().Str("layer", key).Uint64("generation", gen).Msg("stale layer result discarded")
	}
	s.metrics.ObserveBatch(time.Since(start))

	if len(applied) > 0 {
		s.surface.Events().Publish(service.Event{
			Kind:       service.EventLayersChanged,
			Zoom:       zoom,
			Bounds:     bounds,
			Generation: gen,
		})
	}
	return gen
}

// Generation returns the most recently dispatched dynamic generation.
func (s *Synchronizer) Generation() uint64 {
	return s.generation.Load()
}

// Result is the outcome of one layer fetch. A nil Collection means the fetch
// was skipped, came back empty or failed.
type Result struct {
	Key        string
	Collection *geojson.FeatureCollection
}

// fetchBatch runs every non-skipped fetch concurrently and waits for all of
// them. results[i] belongs to configs[i].
func (s *Synchronizer) fetchBatch(ctx context.Context, configs []service.LayerConfig, zoom float64, bounds orb.Bound) []Result {
	results := make([]Result, len(configs))

	var g errgroup.Group
	for i, cfg := range configs {
		results[i].Key = cfg.Key
		plan := fetchpolicy.Decide(cfg, zoom, bounds)
		if plan.Skip {
			if plan.Reason == fetchpolicy.ReasonZoom {
				s.metrics.ObserveFetch(cfg.Key, metrics.OutcomeSkipped, 0)
			}
			continue
		}
		g.Go(func() error {
			results[i].Collection = s.fetch(ctx, cfg.Key, plan.URL)
			return nil
		})
	}
	g.Wait()
	return results
}

// fetch never fails: every error collapses to a nil result.
func (s *Synchronizer) fetch(ctx context.Context, key, url string) *geojson.FeatureCollection {
	start := time.Now()
	fc, err := s.source.Fetch(ctx, url)
	elapsed := time.Since(start)

	if err != nil {
		outcome := outcomeOf(err)
		s.metrics.ObserveFetch(key, outcome, elapsed)
		s.logger.Warn().Err(err).Str("layer", key).Str("url", url).Str("outcome", outcome).Msg("layer fetch failed")
		return nil
	}
	if fc == nil || len(fc.Features) == 0 {
		s.metrics.ObserveFetch(key, metrics.OutcomeEmpty, elapsed)
		return nil
	}
	s.metrics.ObserveFetch(key, metrics.OutcomeOK, elapsed)
	return fc
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, source.ErrFetchTimeout), errors.Is(err, context.DeadlineExceeded):
		return metrics.OutcomeTimeout
	case errors.Is(err, source.ErrFetchHTTP):
		return metrics.OutcomeHTTP
	case errors.Is(err, source.ErrFetchParse):
		return metrics.OutcomeParse
	}
	return metrics.OutcomeError
}

// bind renders a collection into features with popup content and style.
// A nil or empty collection yields nil.
func bind(cfg service.LayerConfig, fc *geojson.FeatureCollection) []Feature {
	if fc == nil || len(fc.Features) == 0 {
		return nil
	}
	features := make([]Feature, 0, len(fc.Features))
	for _, f := range fc.Features {
		if f == nil || f.Geometry == nil {
			continue
		}
		rf := Feature{Layer: cfg.Key, Feature: f}
		if cfg.ContentFn != nil {
			rf.Content = cfg.ContentFn(f)
		}
		if cfg.StyleFn != nil {
			rf.Style = cfg.StyleFn(f)
		} else {
			rf.Style = cfg.ResolveStyle(f)
		}
		features = append(features, rf)
	}
	if len(features) == 0 {
		return nil
	}
	return features
}
