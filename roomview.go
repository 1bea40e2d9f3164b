package cardlink

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ============================================================================
// Messenger
// ============================================================================

// MessengerConfig configures the real-time core.
type MessengerConfig struct {
	// Token is the bearer credential from the auth collaborator.
	Token string
	// UserID is the current-user identity. Left empty, it is derived from
	// the token's subject claim.
	UserID string
	// PageSize bounds room history fetches (0 = backend default).
	PageSize int
	// FetchTimeout bounds each background history fetch.
	FetchTimeout time.Duration
	Conn         ConnConfig
	Logger       *zap.Logger
}

// Messenger is the process-level wiring of the real-time core: it owns the
// push channel, the singleton subscription registry and invalidation bus,
// and the send coordinator. Room views are opened off it as RoomSessions.
type Messenger struct {
	api      *Client
	conn     *Conn
	registry *SubscriptionRegistry
	bus      *InvalidationBus
	coord    *SendCoordinator
	log      *zap.Logger

	userID       string
	pageSize     int
	fetchTimeout time.Duration
}

// NewMessenger wires the core around an authenticated REST client.
func NewMessenger(api *Client, cfg MessengerConfig) (*Messenger, error) {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	userID := cfg.UserID
	if userID == "" {
		id, err := TokenIdentity(cfg.Token)
		if err != nil {
			return nil, err
		}
		userID = id
	}
	if cfg.FetchTimeout == 0 {
		cfg.FetchTimeout = 15 * time.Second
	}

	connCfg := cfg.Conn
	connCfg.Token = cfg.Token
	if connCfg.Logger == nil {
		connCfg.Logger = log
	}
	conn := NewConn(api.BaseURL(), connCfg)

	m := &Messenger{
		api:          api,
		conn:         conn,
		registry:     NewSubscriptionRegistry(conn, log),
		bus:          NewInvalidationBus(log),
		coord:        NewSendCoordinator(conn, api, log),
		log:          log,
		userID:       userID,
		pageSize:     cfg.PageSize,
		fetchTimeout: cfg.FetchTimeout,
	}
	conn.OnFrame(m.handleUserQueueFrame)
	return m, nil
}

// Start subscribes the per-user queue and brings the push channel up. The
// channel connects asynchronously; observe Conn().Status for progress.
func (m *Messenger) Start(ctx context.Context) {
	m.registry.Subscribe(UserTopic(m.userID), "")
	m.conn.Connect(ctx)
}

// Stop tears the core down: every subscription is released and the channel
// closed. Open RoomSessions should be closed first.
func (m *Messenger) Stop() {
	m.registry.Close()
	m.conn.Disconnect()
}

// Conn exposes the connection manager, e.g. for connectivity indicators.
func (m *Messenger) Conn() *Conn { return m.conn }

// Bus exposes the process-wide invalidation bus.
func (m *Messenger) Bus() *InvalidationBus { return m.bus }

// Registry exposes the process-wide subscription registry.
func (m *Messenger) Registry() *SubscriptionRegistry { return m.registry }

// UserID returns the current-user identity the core runs as.
func (m *Messenger) UserID() string { return m.userID }

// Send delivers a message to a room via the coordinator and fans the room
// list invalidation out on success.
func (m *Messenger) Send(ctx context.Context, roomID, content string) (Message, error) {
	msg, err := m.coord.Send(ctx, roomID, content)
	if err == nil {
		m.bus.Invalidate(KeyRooms)
	}
	return msg, err
}

// handleUserQueueFrame turns cross-room user-queue events into bus
// invalidations so consumers like the room list and alarm badge re-fetch.
func (m *Messenger) handleUserQueueFrame(f Frame) {
	switch f.Type {
	case frameRoomCreated:
		m.log.Debug("room created", zap.String("roomId", f.RoomID))
		m.bus.Invalidate(KeyRooms)
	case frameAlarm:
		m.bus.Invalidate(KeyAlarms)
		m.bus.Invalidate(KeyAlarmsUnread)
	}
}

// ============================================================================
// Room Session
// ============================================================================

// RoomSession is the explicit per-room-view state machine: it owns the
// room's REST message list, the push-delivered buffer, the room topic
// subscription, its poller, and a fetch generation counter that keeps a
// stale fetch from a previous room out of the current view. Close tears all
// of it down synchronously; nothing it owns outlives it.
type RoomSession struct {
	m   *Messenger
	log *zap.Logger

	poller        *AdaptivePoller
	removeFrame   func()
	unregisterBus func()

	mu       sync.Mutex
	roomID   string
	sub      *Subscription
	rest     []Message
	pushed   []Message
	gen      int
	closed   bool
	onChange func()
}

// OpenRoom starts a session on a room: subscribes its topic, kicks off the
// initial history fetch, and starts the adaptive poller that keeps the REST
// side fresh while push is absent or degraded.
func (m *Messenger) OpenRoom(roomID string) *RoomSession {
	s := &RoomSession{
		m:      m,
		log:    m.log,
		roomID: roomID,
	}
	s.poller = NewAdaptivePoller(s.Refresh, m.log)
	s.sub = m.registry.Subscribe(RoomTopic(roomID), roomID)
	s.removeFrame = m.conn.OnFrame(s.handleFrame)
	s.unregisterBus = m.bus.Register(MessagesKey(roomID), s.Refresh)
	s.poller.Start()

	go s.fetch(s.currentGen())
	return s
}

// RoomID returns the room currently in view.
func (s *RoomSession) RoomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

// Poller exposes the session's poller so the owner can feed it visibility,
// activity, and focus signals.
func (s *RoomSession) Poller() *AdaptivePoller { return s.poller }

// OnChange sets the observer invoked whenever the merged view may have
// changed.
func (s *RoomSession) OnChange(fn func()) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Messages returns the reconciled view: REST history and push buffer merged
// into one deduplicated, time-ordered sequence.
func (s *RoomSession) Messages() []Message {
	s.mu.Lock()
	rest, pushed := s.rest, s.pushed
	s.mu.Unlock()
	return ReconcileMessages(rest, pushed)
}

// Send delivers a message to the viewed room and feeds the outcome straight
// into the merged view: the authoritative copy on success (whichever transport
// carried it), the pending local copy on failure. The reconciler absorbs any
// later echo of the same message, so buffering here never duplicates.
func (s *RoomSession) Send(ctx context.Context, content string) (Message, error) {
	msg, err := s.m.Send(ctx, s.RoomID(), content)
	s.bufferSent(msg)
	return msg, err
}

// bufferSent appends a send outcome to the push buffer if the session still
// shows its room.
func (s *RoomSession) bufferSent(m Message) {
	if m.ResolvedID() == "" {
		return
	}
	s.mu.Lock()
	if s.closed || m.RoomID != s.roomID {
		s.mu.Unlock()
		return
	}
	s.pushed = append(s.pushed, m)
	s.mu.Unlock()
	s.notifyChange()
}

// Refresh re-fetches the room's history out of band (poller tick, focus, or
// bus invalidation).
func (s *RoomSession) Refresh() {
	s.mu.Lock()
	gen := s.gen
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	s.fetch(gen)
}

// SwitchRoom atomically moves the view to another room: the old room's
// topic is unsubscribed and the new one subscribed in one registry
// operation, both buffers reset, and the generation bumped so any fetch
// still in flight for the old room is ignored when it lands.
func (s *RoomSession) SwitchRoom(newRoomID string) {
	s.mu.Lock()
	if s.closed || s.roomID == newRoomID {
		s.mu.Unlock()
		return
	}
	oldKey := MessagesKey(s.roomID)
	s.roomID = newRoomID
	s.rest = nil
	s.pushed = nil
	s.gen++
	gen := s.gen
	unregister := s.unregisterBus
	s.mu.Unlock()

	sub := s.m.registry.SwitchRoom(newRoomID)
	unregister()
	unregisterNew := s.m.bus.Register(MessagesKey(newRoomID), s.Refresh)
	s.mu.Lock()
	s.sub = sub
	s.unregisterBus = unregisterNew
	s.mu.Unlock()
	s.log.Debug("room switched", zap.String("from", oldKey), zap.String("to", newRoomID))

	s.notifyChange()
	go s.fetch(gen)
}

// Close tears the session down synchronously: poller stopped, topic
// unsubscribed, frame and bus observers removed. In-flight fetches are
// ignored when they land.
func (s *RoomSession) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.gen++
	sub := s.sub
	unregister := s.unregisterBus
	s.mu.Unlock()

	s.poller.Stop()
	if sub != nil {
		sub.Unsubscribe()
	}
	s.removeFrame()
	unregister()
}

func (s *RoomSession) currentGen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// fetch pulls the room history and applies it only if the session still
// shows the same room (generation check).
func (s *RoomSession) fetch(gen int) {
	s.mu.Lock()
	roomID := s.roomID
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.m.fetchTimeout)
	defer cancel()
	msgs, err := s.m.api.Rooms().Messages(ctx, roomID, s.m.pageSize, "")
	if err != nil {
		s.log.Warn("history fetch failed", zap.String("roomId", roomID), zap.Error(err))
		return
	}

	s.mu.Lock()
	if s.gen != gen || s.closed {
		s.mu.Unlock()
		return
	}
	s.rest = msgs
	s.mu.Unlock()
	s.notifyChange()
}

// handleFrame buffers push-delivered messages for the room in view.
func (s *RoomSession) handleFrame(f Frame) {
	if f.Type != frameMessage {
		return
	}
	s.mu.Lock()
	if s.closed || f.RoomID != s.roomID {
		s.mu.Unlock()
		return
	}
	s.pushed = append(s.pushed, f.message())
	s.mu.Unlock()
	s.notifyChange()
}

func (s *RoomSession) notifyChange() {
	s.mu.Lock()
	fn := s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}
