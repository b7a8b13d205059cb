package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func receive(t *testing.T, ch <-chan Event) (Event, bool) {
	t.Helper()
	select {
	case e := <-ch:
		return e, true
	case <-time.After(50 * time.Millisecond):
		return Event{}, false
	}
}

func TestBus_PublishAndFilter(t *testing.T) {
	bus := NewBus()

	deletions, unsubscribe := bus.Subscribe(TypeUserDeleted)
	defer unsubscribe()

	bus.Publish(Event{Type: TypeProjectDeleted})
	bus.Publish(Event{Type: TypeUserDeleted, ActorID: "admin"})

	e, ok := receive(t, deletions)
	assert.True(t, ok)
	assert.Equal(t, TypeUserDeleted, e.Type)

	_, ok = receive(t, deletions)
	assert.False(t, ok, "filtered type must not be delivered")
}

func TestBus_MuteSuppressesDeliveryUntilUnmute(t *testing.T) {
	bus := NewBus()

	ch, unsubscribe := bus.Subscribe(TypeUserDeleted)
	defer unsubscribe()

	unmute := bus.Mute(TypeUserDeleted)
	bus.Publish(Event{Type: TypeUserDeleted})

	_, ok := receive(t, ch)
	assert.False(t, ok, "muted type must not be delivered")

	unmute()
	bus.Publish(Event{Type: TypeUserDeleted})

	_, ok = receive(t, ch)
	assert.True(t, ok)
}

func TestBus_MuteIsScopedPerType(t *testing.T) {
	bus := NewBus()

	ch, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	unmute := bus.Mute(TypeUserDeleted)
	defer unmute()

	bus.Publish(Event{Type: TypeProjectDeleted})

	e, ok := receive(t, ch)
	assert.True(t, ok)
	assert.Equal(t, TypeProjectDeleted, e.Type)
}

func TestBus_UnmuteIsIdempotent(t *testing.T) {
	bus := NewBus()

	unmute := bus.Mute(TypeUserDeleted)
	unmute()
	unmute() // second call must not unbalance another mute

	other := bus.Mute(TypeUserDeleted)
	defer other()

	ch, unsubscribe := bus.Subscribe(TypeUserDeleted)
	defer unsubscribe()

	bus.Publish(Event{Type: TypeUserDeleted})
	_, ok := receive(t, ch)
	assert.False(t, ok)
}
