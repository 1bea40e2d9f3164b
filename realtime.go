package cardlink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// ============================================================================
// Status
// ============================================================================

// Status is the push-channel connection state.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	// StatusError is entered on any transport failure. It is transient: a
	// single backoff retry is scheduled, moving back into StatusConnecting.
	StatusError Status = "error"
)

// ErrNotConnected is returned by frame writes while the channel is down.
var ErrNotConnected = errors.New("push channel not connected")

// ============================================================================
// Configuration
// ============================================================================

// ConnConfig configures the push channel.
type ConnConfig struct {
	Token                string
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	MaxReconnectAttempts int // 0 = retry forever
	HandshakeTimeout     time.Duration
	HTTPClient           *http.Client
	Logger               *zap.Logger
}

func (c *ConnConfig) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// ============================================================================
// Backoff
// ============================================================================

type backoff struct {
	base        time.Duration
	max         time.Duration
	maxAttempts int
	attempt     int
	stableSince time.Time
}

func (b *backoff) more() bool {
	return b.maxAttempts == 0 || b.attempt < b.maxAttempts
}

func (b *backoff) markStable() {
	b.stableSince = time.Now()
}

func (b *backoff) next() time.Duration {
	if !b.stableSince.IsZero() && time.Since(b.stableSince) > 60*time.Second {
		b.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(b.base) * 0.5)
	delay := time.Duration(math.Min(
		float64(b.base)*math.Pow(2, float64(b.attempt))+float64(jitter),
		float64(b.max),
	))
	b.attempt++
	return delay
}

func (b *backoff) reset() {
	b.attempt = 0
	b.stableSince = time.Time{}
}

// ============================================================================
// Conn
// ============================================================================

// Conn owns the push-channel handle and its lifecycle: connect, handshake
// authentication, reconnect with backoff, teardown. No other component
// touches the underlying WebSocket; subscriptions and sends go through the
// SubscriptionRegistry and SendCoordinator, which in turn use Conn's frame
// writer.
//
// Connect never reports transport errors to its caller: establishment is
// asynchronous and retryable, so failures surface only through the status
// observable.
type Conn struct {
	baseURL string
	cfg     ConnConfig
	log     *zap.Logger

	mu         sync.Mutex
	ws         *websocket.Conn
	status     Status
	connecting bool
	// epoch tags every connection attempt. Disconnect bumps it, which
	// invalidates in-flight attempts and pending retries so none of them
	// can transition into connected afterwards.
	epoch      int
	ctx        context.Context
	retryTimer *time.Timer
	bo         backoff

	handlersMu     sync.Mutex
	nextHandlerID  int
	statusHandlers map[int]func(Status)
	frameHandlers  map[int]func(Frame)
}

// NewConn creates a push-channel manager for the backend at baseURL. The
// channel starts disconnected; call Connect to bring it up.
func NewConn(baseURL string, cfg ConnConfig) *Conn {
	cfg.defaults()
	return &Conn{
		baseURL:        strings.TrimRight(baseURL, "/"),
		cfg:            cfg,
		log:            cfg.Logger,
		status:         StatusDisconnected,
		ctx:            context.Background(),
		bo:             backoff{base: cfg.ReconnectBaseDelay, max: cfg.ReconnectMaxDelay, maxAttempts: cfg.MaxReconnectAttempts},
		statusHandlers: make(map[int]func(Status)),
		frameHandlers:  make(map[int]func(Frame)),
	}
}

// Status returns the current connection state.
func (c *Conn) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// OnStatus registers a status observer and returns its removal func. The
// observer is invoked synchronously on every transition.
func (c *Conn) OnStatus(fn func(Status)) (remove func()) {
	c.handlersMu.Lock()
	id := c.nextHandlerID
	c.nextHandlerID++
	c.statusHandlers[id] = fn
	c.handlersMu.Unlock()
	return func() {
		c.handlersMu.Lock()
		delete(c.statusHandlers, id)
		c.handlersMu.Unlock()
	}
}

// OnFrame registers an inbound-frame observer and returns its removal func.
// Frames are delivered synchronously in arrival order.
func (c *Conn) OnFrame(fn func(Frame)) (remove func()) {
	c.handlersMu.Lock()
	id := c.nextHandlerID
	c.nextHandlerID++
	c.frameHandlers[id] = fn
	c.handlersMu.Unlock()
	return func() {
		c.handlersMu.Lock()
		delete(c.frameHandlers, id)
		c.handlersMu.Unlock()
	}
}

// Connect initiates channel establishment and returns immediately. Progress
// and failures are observable via Status/OnStatus; a connect already in
// flight is not duplicated.
func (c *Conn) Connect(ctx context.Context) {
	c.mu.Lock()
	if c.connecting || c.status == StatusConnected {
		c.mu.Unlock()
		return
	}
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	c.epoch++
	e := c.epoch
	c.ctx = ctx
	c.connecting = true
	c.status = StatusConnecting
	c.mu.Unlock()

	c.notifyStatus(StatusConnecting)
	go c.attempt(ctx, e)
}

// Disconnect tears the channel down and cancels any pending retry or
// in-flight connection attempt.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	c.epoch++
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	ws := c.ws
	c.ws = nil
	c.connecting = false
	changed := c.status != StatusDisconnected
	c.status = StatusDisconnected
	c.bo.reset()
	c.mu.Unlock()

	if ws != nil {
		_ = ws.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	if changed {
		c.log.Info("push channel disconnected")
		c.notifyStatus(StatusDisconnected)
	}
}

// wsURL derives the WebSocket endpoint from the REST base URL.
func (c *Conn) wsURL() string {
	url := strings.Replace(c.baseURL, "https://", "wss://", 1)
	url = strings.Replace(url, "http://", "ws://", 1)
	return url + "/ws"
}

func (c *Conn) attempt(ctx context.Context, e int) {
	header := http.Header{}
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	ws, _, err := websocket.Dial(ctx, c.wsURL(), &websocket.DialOptions{
		HTTPHeader: header,
		HTTPClient: c.cfg.HTTPClient,
	})
	if err != nil {
		c.fail(e, fmt.Errorf("dial: %w", err))
		return
	}

	// The server authenticates during the handshake and must answer with a
	// connected frame before anything else.
	hctx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	_, data, err := ws.Read(hctx)
	cancel()
	if err != nil {
		_ = ws.Close(websocket.StatusNormalClosure, "")
		c.fail(e, fmt.Errorf("handshake read: %w", err))
		return
	}
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil || f.Type != frameConnected {
		_ = ws.Close(websocket.StatusNormalClosure, "")
		c.fail(e, fmt.Errorf("unexpected handshake frame %q", f.Type))
		return
	}

	c.mu.Lock()
	if c.epoch != e {
		// Disconnect won while we were dialing; no late transition.
		c.mu.Unlock()
		_ = ws.Close(websocket.StatusNormalClosure, "superseded")
		return
	}
	c.ws = ws
	c.status = StatusConnected
	c.connecting = false
	c.bo.markStable()
	c.mu.Unlock()

	c.log.Info("push channel connected", zap.String("userId", f.UserID))
	// Observers include the SubscriptionRegistry, which replays every
	// registered topic here so reconnection is transparent to subscribers.
	c.notifyStatus(StatusConnected)

	go c.readLoop(ctx, ws, e)
}

// fail records a transport failure and schedules exactly one retry. A
// cancelled connect context is terminal: retrying against it can only fail
// again, so the channel goes down instead of looping.
func (c *Conn) fail(e int, err error) {
	c.mu.Lock()
	if c.epoch != e {
		c.mu.Unlock()
		return
	}
	c.ws = nil
	c.connecting = false
	if c.ctx.Err() != nil || !c.bo.more() {
		c.status = StatusDisconnected
		c.mu.Unlock()
		c.log.Warn("push channel gave up", zap.Error(err))
		c.notifyStatus(StatusDisconnected)
		return
	}
	delay := c.bo.next()
	c.status = StatusError
	c.retryTimer = time.AfterFunc(delay, func() { c.retry(e) })
	c.mu.Unlock()

	c.log.Warn("push channel error", zap.Error(err), zap.Duration("retryIn", delay))
	c.notifyStatus(StatusError)
}

func (c *Conn) retry(e int) {
	c.mu.Lock()
	if c.epoch != e || c.connecting || c.status == StatusConnected {
		c.mu.Unlock()
		return
	}
	c.connecting = true
	c.status = StatusConnecting
	ctx := c.ctx
	c.mu.Unlock()

	c.notifyStatus(StatusConnecting)
	go c.attempt(ctx, e)
}

func (c *Conn) readLoop(ctx context.Context, ws *websocket.Conn, e int) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			c.mu.Lock()
			stale := c.epoch != e
			c.mu.Unlock()
			if stale {
				return
			}
			c.fail(e, fmt.Errorf("read: %w", err))
			return
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			// Protocol error: drop the frame, keep the connection.
			c.log.Warn("dropping malformed frame", zap.Error(err))
			continue
		}
		if f.Type == "" {
			c.log.Warn("dropping frame without type")
			continue
		}
		if f.Type == frameError {
			c.log.Warn("server error frame", zap.String("message", f.Error))
			continue
		}
		c.notifyFrame(f)
	}
}

// send writes one frame to the channel. Returns ErrNotConnected while the
// channel is down.
func (c *Conn) send(ctx context.Context, v any) error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return ErrNotConnected
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}

func (c *Conn) notifyStatus(s Status) {
	c.handlersMu.Lock()
	handlers := make([]func(Status), 0, len(c.statusHandlers))
	for _, h := range c.statusHandlers {
		handlers = append(handlers, h)
	}
	c.handlersMu.Unlock()
	for _, h := range handlers {
		h(s)
	}
}

func (c *Conn) notifyFrame(f Frame) {
	c.handlersMu.Lock()
	handlers := make([]func(Frame), 0, len(c.frameHandlers))
	for _, h := range c.frameHandlers {
		handlers = append(handlers, h)
	}
	c.handlersMu.Unlock()
	for _, h := range handlers {
		h(f)
	}
}
