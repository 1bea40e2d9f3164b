package cardlink

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// ============================================================================
// Subscription Registry
// ============================================================================

// Subscription is a live handle on one push-channel topic. A topic has at
// most one Subscription at any time; Subscribe returns the existing handle
// for an already-subscribed topic.
type Subscription struct {
	topic string
	room  string // owning room id, empty for the per-user queue
	reg   *SubscriptionRegistry
	// guarded by reg.mu
	closed bool
}

// Topic returns the subscribed topic.
func (s *Subscription) Topic() string { return s.topic }

// Room returns the owning room id, or "" for the user queue.
func (s *Subscription) Room() string { return s.room }

// Unsubscribe releases the handle and, when the channel is up, issues the
// remote unsubscribe. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	r := s.reg
	r.mu.Lock()
	if s.closed {
		r.mu.Unlock()
		return
	}
	s.closed = true
	delete(r.entries, s.topic)
	r.mu.Unlock()

	r.sendControl(frameUnsubscribe, s.topic)
}

// SubscriptionRegistry tracks the active topic subscriptions layered on a
// Conn. It never owns the connection's lifetime: subscribe requests made
// while the channel is down (or in error) stay queued in the registry and
// are replayed on the next connected transition, so reconnection is
// transparent to holders of Subscription handles.
type SubscriptionRegistry struct {
	conn *Conn
	log  *zap.Logger

	mu      sync.Mutex
	entries map[string]*Subscription
}

// NewSubscriptionRegistry creates the registry and wires it to the channel's
// status observable for replay-on-reconnect.
func NewSubscriptionRegistry(conn *Conn, log *zap.Logger) *SubscriptionRegistry {
	if log == nil {
		log = zap.NewNop()
	}
	r := &SubscriptionRegistry{
		conn:    conn,
		log:     log,
		entries: make(map[string]*Subscription),
	}
	conn.OnStatus(func(s Status) {
		if s == StatusConnected {
			r.replay()
		}
	})
	return r
}

// Subscribe registers interest in a topic and returns its handle. Calling it
// again for a live topic returns the same handle; no duplicate remote
// subscription is created. roomID names the owning room ("" for the user
// queue) and drives SwitchRoom teardown.
func (r *SubscriptionRegistry) Subscribe(topic, roomID string) *Subscription {
	r.mu.Lock()
	if sub, ok := r.entries[topic]; ok {
		r.mu.Unlock()
		return sub
	}
	sub := &Subscription{topic: topic, room: roomID, reg: r}
	r.entries[topic] = sub
	r.mu.Unlock()

	r.sendControl(frameSubscribe, topic)
	return sub
}

// SwitchRoom atomically drops every topic owned by any other room and
// subscribes the new room's topic. User-queue subscriptions are untouched.
func (r *SubscriptionRegistry) SwitchRoom(newRoomID string) *Subscription {
	topic := RoomTopic(newRoomID)

	r.mu.Lock()
	var dropped []string
	for _, sub := range r.entries {
		if sub.room != "" && sub.room != newRoomID {
			sub.closed = true
			dropped = append(dropped, sub.topic)
		}
	}
	for _, t := range dropped {
		delete(r.entries, t)
	}
	sub, existed := r.entries[topic]
	if !existed {
		sub = &Subscription{topic: topic, room: newRoomID, reg: r}
		r.entries[topic] = sub
	}
	r.mu.Unlock()

	for _, t := range dropped {
		r.sendControl(frameUnsubscribe, t)
	}
	if !existed {
		r.sendControl(frameSubscribe, topic)
	}
	return sub
}

// Topics returns the registered topics, sorted.
func (r *SubscriptionRegistry) Topics() []string {
	r.mu.Lock()
	topics := make([]string, 0, len(r.entries))
	for t := range r.entries {
		topics = append(topics, t)
	}
	r.mu.Unlock()
	sort.Strings(topics)
	return topics
}

// Close drops every subscription, issuing remote unsubscribes where the
// channel is still up.
func (r *SubscriptionRegistry) Close() {
	r.mu.Lock()
	var topics []string
	for t, sub := range r.entries {
		sub.closed = true
		topics = append(topics, t)
	}
	r.entries = make(map[string]*Subscription)
	r.mu.Unlock()

	for _, t := range topics {
		r.sendControl(frameUnsubscribe, t)
	}
}

// sendControl writes a subscribe/unsubscribe frame when the channel is up.
// Failures are tolerated: a queued subscribe replays on the next connect,
// and the server drops all topics of a dead connection anyway.
func (r *SubscriptionRegistry) sendControl(frameType, topic string) {
	if r.conn.Status() != StatusConnected {
		return
	}
	if err := r.conn.send(context.Background(), subscribeFrame{Type: frameType, Topic: topic}); err != nil {
		r.log.Debug("control frame deferred",
			zap.String("type", frameType),
			zap.String("topic", topic),
			zap.Error(err))
	}
}

// replay re-subscribes every registered topic after a (re)connect.
func (r *SubscriptionRegistry) replay() {
	topics := r.Topics()
	for _, t := range topics {
		if err := r.conn.send(context.Background(), subscribeFrame{Type: frameSubscribe, Topic: t}); err != nil {
			r.log.Debug("replay deferred", zap.String("topic", t), zap.Error(err))
			return
		}
	}
	if len(topics) > 0 {
		r.log.Info("replayed subscriptions", zap.Int("count", len(topics)))
	}
}
