package cardlink

import (
	"reflect"
	"sync"

	"go.uber.org/zap"
)

// ============================================================================
// Invalidation Bus
// ============================================================================

// Well-known invalidation keys. Per-room message keys come from MessagesKey.
const (
	KeyRooms        = "rooms"
	KeyContacts     = "contacts"
	KeyAlarms       = "alarms"
	KeyAlarmsUnread = "alarms-unread"
)

// MessagesKey returns the invalidation key for one room's message list.
func MessagesKey(roomID string) string {
	return "messages-" + roomID
}

// InvalidationBus maps a logical cache key to the callbacks that must
// re-fetch when that key's underlying data changes. Several independent
// consumers (room list, alarm badge, contact list) depend on overlapping
// server-side resources mutated from unrelated actions; the bus keeps the
// mutation sites from having to know every consumer.
//
// Registration is reference-counted per (key, callback identity): the
// identical callback registered twice under one key fires once per
// Invalidate and stays registered until the matching number of unregister
// calls. Removing the last callback for a key removes the key entry.
type InvalidationBus struct {
	log *zap.Logger

	mu   sync.Mutex
	keys map[string]map[uintptr]*busEntry
}

type busEntry struct {
	fn   func()
	refs int
}

// NewInvalidationBus creates an empty bus.
func NewInvalidationBus(log *zap.Logger) *InvalidationBus {
	if log == nil {
		log = zap.NewNop()
	}
	return &InvalidationBus{
		log:  log,
		keys: make(map[string]map[uintptr]*busEntry),
	}
}

// Register adds fn to the callback set for key and returns its unregister
// func. The returned func is idempotent.
func (b *InvalidationBus) Register(key string, fn func()) (unregister func()) {
	// Func values are not comparable in Go; the code pointer stands in for
	// the source's callback reference identity.
	ptr := reflect.ValueOf(fn).Pointer()

	b.mu.Lock()
	entries, ok := b.keys[key]
	if !ok {
		entries = make(map[uintptr]*busEntry)
		b.keys[key] = entries
	}
	if e, ok := entries[ptr]; ok {
		e.refs++
	} else {
		entries[ptr] = &busEntry{fn: fn, refs: 1}
	}
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.release(key, ptr) })
	}
}

// Invalidate synchronously calls every callback registered for key, each
// identity exactly once. No ordering guarantee between callbacks.
func (b *InvalidationBus) Invalidate(key string) {
	b.mu.Lock()
	entries := b.keys[key]
	fns := make([]func(), 0, len(entries))
	for _, e := range entries {
		fns = append(fns, e.fn)
	}
	b.mu.Unlock()

	if len(fns) > 0 {
		b.log.Debug("invalidate", zap.String("key", key), zap.Int("callbacks", len(fns)))
	}
	for _, fn := range fns {
		fn()
	}
}

func (b *InvalidationBus) release(key string, ptr uintptr) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entries, ok := b.keys[key]
	if !ok {
		return
	}
	e, ok := entries[ptr]
	if !ok {
		return
	}
	e.refs--
	if e.refs <= 0 {
		delete(entries, ptr)
	}
	if len(entries) == 0 {
		delete(b.keys, key)
	}
}

// callbackCount reports the number of distinct callbacks under key.
func (b *InvalidationBus) callbackCount(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.keys[key])
}
