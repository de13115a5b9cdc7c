// Package mapview wires the layer synchronizer and the click aggregator to a
// map surface and owns their event subscriptions.
package mapview

import (
	"context"
	"errors"
	"sync"

	"github.com/paulmach/orb"
	"github.com/rs/zerolog"

	"github.com/joeblew999/plat-map/internal/click"
	"github.com/joeblew999/plat-map/internal/layers"
	"github.com/joeblew999/plat-map/internal/service"
	"github.com/joeblew999/plat-map/internal/surface"
)

// Deps are the collaborators a View is started with.
type Deps struct {
	Logger     zerolog.Logger
	Layers     *service.LayerService
	Surface    surface.Surface
	Sync       *layers.Synchronizer
	Aggregator *click.Aggregator

	// DeepLink, when set, is opened once after the initial sync.
	DeepLink *orb.Point
}

// View is a running map. Close releases every subscription it made.
type View struct {
	logger  zerolog.Logger
	deps    Deps
	ctx     context.Context
	cancel  context.CancelFunc
	subs    []*service.Subscription
	closeMu sync.Once
}

// Start loads static and raster layers, attaches the default-visible dynamic
// groups, runs the first dynamic sync, subscribes the moveend, click and
// popupopen handlers and consumes the deep link.
func Start(ctx context.Context, deps Deps) (*View, error) {
	if deps.Layers == nil || deps.Surface == nil || deps.Sync == nil || deps.Aggregator == nil {
		return nil, errors.New("mapview: missing dependency")
	}

	v := &View{
		logger: deps.Logger.With().Str("component", "mapview").Logger(),
		deps:   deps,
	}
	v.ctx, v.cancel = context.WithCancel(context.WithoutCancel(ctx))

	s := deps.Surface
	dynamic := deps.Layers.Dynamic()

	deps.Sync.RegisterRasters(dynamic)
	deps.Sync.RegisterRasters(deps.Layers.Static())
	deps.Sync.SyncStatic(ctx, deps.Layers.Static(), s.Zoom(), s.Bounds())
	deps.Sync.PrepareDynamic(dynamic)
	gen := deps.Sync.SyncDynamic(ctx, dynamic, s.Zoom(), s.Bounds())

	bus := s.Events()
	v.subs = append(v.subs,
		bus.On(service.EventMoveEnd, v.onMoveEnd),
		bus.On(service.EventClick, v.onClick),
		bus.On(service.EventPopupOpen, deps.Aggregator.Reposition),
	)

	v.logger.Info().
		Int("dynamic", len(dynamic)).
		Int("static", len(deps.Layers.Static())).
		Uint64("generation", gen).
		Msg("map view started")

	if deps.DeepLink != nil {
		if _, ok := deps.Aggregator.DeepLink(*deps.DeepLink); !ok {
			v.logger.Debug().Msg("deep link opened no popup")
		}
	}
	return v, nil
}

func (v *View) onMoveEnd(e service.Event) {
	v.deps.Sync.SyncDynamic(v.ctx, v.deps.Layers.Dynamic(), e.Zoom, e.Bounds)
}

func (v *View) onClick(e service.Event) {
	v.deps.Aggregator.Click(e.LatLng)
}

// Subscriptions returns the live subscription handles.
func (v *View) Subscriptions() []*service.Subscription {
	return append([]*service.Subscription(nil), v.subs...)
}

// Close unsubscribes every handler and cancels in-flight syncs started by
// them. It is safe to call more than once.
func (v *View) Close() {
	v.closeMu.Do(func() {
		for _, sub := range v.subs {
			sub.Unsubscribe()
		}
		v.cancel()
		v.logger.Info().Msg("map view closed")
	})
}
