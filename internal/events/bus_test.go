package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(EventRiskBlocked, 1)

	bus.Publish(EventRiskBlocked, "drawdown")
	bus.Publish(EventRiskBlocked, "dropped")

	select {
	case msg := <-ch:
		assert.Equal(t, "drawdown", msg)
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
	assert.EqualValues(t, 1, bus.Dropped())

	unsub()
	unsub()
	_, ok := <-ch
	assert.False(t, ok)
}

func TestSubscribeAllTagsTopic(t *testing.T) {
	bus := NewBus()
	out, stop := bus.SubscribeAll([]Event{EventCandle, EventOrderFilled}, 4)
	defer stop()

	bus.Publish(EventOrderFilled, 42)

	select {
	case env := <-out:
		require.Equal(t, EventOrderFilled, env.Topic)
		assert.Equal(t, 42, env.Payload)
	case <-time.After(time.Second):
		t.Fatal("no envelope received")
	}
}

func TestSubscribeAllKeepsPublishOrder(t *testing.T) {
	bus := NewBus()
	out, stop := bus.SubscribeAll([]Event{EventRiskBlocked, EventRiskCleared}, 64)

	for i := 0; i < 20; i++ {
		bus.Publish(EventRiskBlocked, i)
		bus.Publish(EventRiskCleared, i)
	}
	for i := 0; i < 20; i++ {
		blocked, cleared := <-out, <-out
		require.Equal(t, EventRiskBlocked, blocked.Topic)
		require.Equal(t, EventRiskCleared, cleared.Topic)
		assert.Equal(t, i, blocked.Payload)
		assert.Equal(t, i, cleared.Payload)
	}

	stop()
	stop()
	_, ok := <-out
	assert.False(t, ok)
	bus.Publish(EventRiskBlocked, "after stop")
	assert.Zero(t, bus.Dropped())
}
