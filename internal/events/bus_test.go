package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_SubscribeAndPublish(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe(QuoteUpdated)

	bus.Publish(Event{Type: QuoteUpdated, Module: "marketdata", Data: &QuoteUpdatedData{Symbol: "AAPL", Mid: "100.00"}})

	select {
	case ev := <-ch:
		require.Equal(t, QuoteUpdated, ev.Type)
		data, ok := ev.Data.(*QuoteUpdatedData)
		require.True(t, ok)
		assert.Equal(t, "AAPL", data.Symbol)
	case <-time.After(time.Second):
		t.Fatal("expected event was not delivered")
	}
}

func TestBus_SubscribeFiltersByType(t *testing.T) {
	bus := NewBus()
	quoteCh := bus.Subscribe(QuoteUpdated)
	bus.Publish(Event{Type: StreamConnected, Data: &StreamConnectedData{}})

	select {
	case <-quoteCh:
		t.Fatal("should not have received an event of a different type")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_SubscribeAllReceivesEveryType(t *testing.T) {
	bus := NewBus()
	all := bus.SubscribeAll()

	bus.Publish(Event{Type: QuoteUpdated, Data: &QuoteUpdatedData{}})
	bus.Publish(Event{Type: StreamConnected, Data: &StreamConnectedData{}})

	received := make(map[EventType]bool)
	for i := 0; i < 2; i++ {
		select {
		case ev := <-all:
			received[ev.Type] = true
		case <-time.After(time.Second):
			t.Fatal("expected two events")
		}
	}
	assert.True(t, received[QuoteUpdated])
	assert.True(t, received[StreamConnected])
}

func TestBus_FullSubscriberDoesNotBlockPublish(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe(QuoteUpdated)

	for i := 0; i < subscriberBuffer+10; i++ {
		bus.Publish(Event{Type: QuoteUpdated, Data: &QuoteUpdatedData{}})
	}

	assert.Len(t, ch, subscriberBuffer)
}
