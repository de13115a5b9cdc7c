package service

import (
	"slices"
	"sync"

	"github.com/paulmach/orb"
)

// EventKind names a map surface notification.
type EventKind string

const (
	EventMoveEnd       EventKind = "moveend"
	EventClick         EventKind = "click"
	EventPopupOpen     EventKind = "popupopen"
	EventPopupClose    EventKind = "popupclose"
	EventLayersChanged EventKind = "layerschanged"
)

// Event is a map surface notification.
type Event struct {
	Kind       EventKind
	LatLng     orb.Point // click point or popup anchor, [lng, lat]
	Zoom       float64
	Bounds     orb.Bound
	Content    string // popup content
	Generation uint64 // layerschanged only
}

// Handler receives events synchronously on the publisher's goroutine.
type Handler func(Event)

type subscriber struct {
	kind EventKind // empty matches every kind
	fn   Handler
}

// EventBus fans map events out to handlers and channels.
type EventBus struct {
	mu       sync.RWMutex
	next     uint64
	handlers map[uint64]subscriber
	subs     map[chan Event]struct{}
}

// NewEventBus creates a new event bus.
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[uint64]subscriber),
		subs:     make(map[chan Event]struct{}),
	}
}

// Subscription is the handle returned by On. Unsubscribe is idempotent.
type Subscription struct {
	Kind EventKind
	bus  *EventBus
	id   uint64
	once sync.Once
}

// Unsubscribe detaches the handler.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.handlers, s.id)
		s.bus.mu.Unlock()
	})
}

// On registers fn for events of the given kind. An empty kind receives all
// events.
func (b *EventBus) On(kind EventKind, fn Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	b.handlers[b.next] = subscriber{kind: kind, fn: fn}
	return &Subscription{Kind: kind, bus: b, id: b.next}
}

// Publish offers e to channel subscribers without blocking, then calls every
// matching handler in subscription order outside the lock.
func (b *EventBus) Publish(e Event) {
	b.mu.RLock()
	ids := make([]uint64, 0, len(b.handlers))
	for id, s := range b.handlers {
		if s.kind == "" || s.kind == e.Kind {
			ids = append(ids, id)
		}
	}
	fns := make([]Handler, 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		fns = append(fns, b.handlers[id].fn)
	}
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// subscriber too slow, skip
		}
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(e)
	}
}

// Subscribe returns a buffered channel that receives every event.
func (b *EventBus) Subscribe() chan Event {
	ch := make(chan Event, 16)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a channel subscriber and closes its channel.
func (b *EventBus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	delete(b.subs, ch)
	b.mu.Unlock()
	close(ch)
}
