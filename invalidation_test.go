package cardlink

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInvalidationBus(t *testing.T) {
	t.Run("fan-out calls every callback once", func(t *testing.T) {
		bus := NewInvalidationBus(nil)
		var a, b int
		bus.Register(KeyRooms, func() { a++ })
		bus.Register(KeyRooms, func() { b++ })

		bus.Invalidate(KeyRooms)

		assert.Equal(t, 1, a)
		assert.Equal(t, 1, b)
	})

	t.Run("keys are independent", func(t *testing.T) {
		bus := NewInvalidationBus(nil)
		var rooms, alarms int
		bus.Register(KeyRooms, func() { rooms++ })
		bus.Register(KeyAlarms, func() { alarms++ })

		bus.Invalidate(KeyRooms)

		assert.Equal(t, 1, rooms)
		assert.Equal(t, 0, alarms)
	})

	t.Run("unregister removes only that callback", func(t *testing.T) {
		bus := NewInvalidationBus(nil)
		var a, b int
		unregA := bus.Register(KeyContacts, func() { a++ })
		bus.Register(KeyContacts, func() { b++ })

		unregA()
		bus.Invalidate(KeyContacts)

		assert.Equal(t, 0, a)
		assert.Equal(t, 1, b)
	})

	t.Run("identical callback registered twice fires once", func(t *testing.T) {
		bus := NewInvalidationBus(nil)
		var n int
		fn := func() { n++ }
		unreg1 := bus.Register(KeyRooms, fn)
		unreg2 := bus.Register(KeyRooms, fn)

		bus.Invalidate(KeyRooms)
		assert.Equal(t, 1, n, "double registration must not double-fire")

		// One unregister keeps it alive, the second removes it.
		unreg1()
		bus.Invalidate(KeyRooms)
		assert.Equal(t, 2, n)

		unreg2()
		bus.Invalidate(KeyRooms)
		assert.Equal(t, 2, n)
	})

	t.Run("unregister is idempotent", func(t *testing.T) {
		bus := NewInvalidationBus(nil)
		var n int
		fn := func() { n++ }
		unreg1 := bus.Register(KeyAlarmsUnread, fn)
		unreg2 := bus.Register(KeyAlarmsUnread, fn)

		unreg1()
		unreg1() // repeated call must not consume the second registration
		bus.Invalidate(KeyAlarmsUnread)
		assert.Equal(t, 1, n)

		unreg2()
		assert.Equal(t, 0, bus.callbackCount(KeyAlarmsUnread))
	})

	t.Run("last removal drops the key entry", func(t *testing.T) {
		bus := NewInvalidationBus(nil)
		key := MessagesKey("r1")
		unreg := bus.Register(key, func() {})

		assert.Equal(t, 1, bus.callbackCount(key))
		unreg()
		assert.Equal(t, 0, bus.callbackCount(key))
	})

	t.Run("invalidate with no callbacks is a no-op", func(t *testing.T) {
		bus := NewInvalidationBus(nil)
		assert.NotPanics(t, func() { bus.Invalidate("nothing-registered") })
	})
}

func TestMessagesKey(t *testing.T) {
	assert.Equal(t, "messages-r1", MessagesKey("r1"))
	assert.NotEqual(t, MessagesKey("r1"), MessagesKey("r2"))
}
