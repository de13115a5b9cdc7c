package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBus_handlersInOrder(t *testing.T) {
	bus := NewEventBus()
	var got []string
	bus.On(EventMoveEnd, func(Event) { got = append(got, "first") })
	bus.On("", func(e Event) { got = append(got, "all:"+string(e.Kind)) })
	bus.On(EventMoveEnd, func(Event) { got = append(got, "third") })

	bus.Publish(Event{Kind: EventMoveEnd})
	bus.Publish(Event{Kind: EventClick})
	assert.Equal(t, []string{"first", "all:moveend", "third", "all:click"}, got)
}

func TestEventBus_unsubscribe(t *testing.T) {
	bus := NewEventBus()
	calls := 0
	sub := bus.On(EventClick, func(Event) { calls++ })

	bus.Publish(Event{Kind: EventClick})
	sub.Unsubscribe()
	sub.Unsubscribe()
	bus.Publish(Event{Kind: EventClick})
	assert.Equal(t, 1, calls)

	var nilSub *Subscription
	assert.NotPanics(t, nilSub.Unsubscribe)
}

func TestEventBus_handlerMayPublish(t *testing.T) {
	bus := NewEventBus()
	var kinds []EventKind
	bus.On(EventPopupOpen, func(Event) { bus.Publish(Event{Kind: EventMoveEnd}) })
	bus.On("", func(e Event) { kinds = append(kinds, e.Kind) })

	bus.Publish(Event{Kind: EventPopupOpen})
	assert.Equal(t, []EventKind{EventMoveEnd, EventPopupOpen}, kinds)
}

func TestEventBus_channels(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe()

	for range 20 {
		bus.Publish(Event{Kind: EventLayersChanged})
	}
	assert.Len(t, ch, cap(ch), "slow subscribers drop events instead of blocking")

	bus.Unsubscribe(ch)
	for range ch {
	}
	_, open := <-ch
	require.False(t, open)
	assert.NotPanics(t, func() { bus.Publish(Event{Kind: EventClick}) })
}
