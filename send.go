package cardlink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ============================================================================
// Send Coordinator
// ============================================================================

// ErrSendFailed reports that a logical send could not be delivered on either
// transport. The coordinator does not retry; that is a caller decision.
var ErrSendFailed = errors.New("send failed")

// errAckTimeout: the push frame was written but no acknowledgment arrived in
// time. No REST fallback happens in that case — the frame may still be in
// flight and a second transport could deliver the message twice.
var errAckTimeout = errors.New("push acknowledgment timed out")

// SendCoordinator picks the transport for each outgoing message: the push
// channel when it is connected (with a bounded wait for the acknowledgment),
// the REST endpoint otherwise. Exactly one transport is used per logical
// send. Whichever path runs, the returned Message carries the authoritative
// server id and feeds the reconciler identically.
type SendCoordinator struct {
	conn *Conn
	api  *Client
	log  *zap.Logger

	// AckWait bounds the wait for the push acknowledgment; GraceWait bounds
	// how long a send issued mid-connecting waits for the channel.
	AckWait   time.Duration
	GraceWait time.Duration

	mu      sync.Mutex
	pending map[string]chan Message // client message id -> ack
}

// NewSendCoordinator wires a coordinator to the channel's inbound frames so
// message echoes resolve pending acknowledgments.
func NewSendCoordinator(conn *Conn, api *Client, log *zap.Logger) *SendCoordinator {
	if log == nil {
		log = zap.NewNop()
	}
	s := &SendCoordinator{
		conn:      conn,
		api:       api,
		log:       log,
		AckWait:   5 * time.Second,
		GraceWait: 2 * time.Second,
		pending:   make(map[string]chan Message),
	}
	conn.OnFrame(s.handleFrame)
	return s
}

// Send delivers one message to a room. On success the returned Message has
// the server id. On failure of both transports the optimistic local copy is
// returned (client id only, renders as pending) together with an error
// wrapping ErrSendFailed; the failure is reported once and not retried here.
func (s *SendCoordinator) Send(ctx context.Context, roomID, content string) (Message, error) {
	clientID := uuid.NewString()
	local := Message{
		ClientID: clientID,
		RoomID:   roomID,
		Content:  content,
		SentAt:   time.Now().UTC(),
	}

	st := s.conn.Status()
	if st == StatusConnecting && s.waitConnected(ctx, s.GraceWait) {
		st = StatusConnected
	}
	if st == StatusConnected {
		msg, wrote, err := s.sendPush(ctx, roomID, content, clientID)
		if err == nil {
			return msg, nil
		}
		if wrote {
			// The frame hit the wire; a REST retry could deliver twice.
			s.log.Warn("push send unresolved",
				zap.String("roomId", roomID),
				zap.String("clientMessageId", clientID),
				zap.Error(err))
			return local, fmt.Errorf("%w: %v", ErrSendFailed, err)
		}
		s.log.Info("push send failed, falling back to REST", zap.Error(err))
	}

	msg, err := s.api.Rooms().Send(ctx, roomID, content, clientID)
	if err != nil {
		return local, fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	return *msg, nil
}

// sendPush writes the frame and waits for the matching acknowledgment. wrote
// reports whether the frame reached the wire: once it has, the caller must
// not retry over another transport, whatever the error (ack timeout or a
// context cancelled mid-wait).
func (s *SendCoordinator) sendPush(ctx context.Context, roomID, content, clientID string) (msg Message, wrote bool, err error) {
	ackCh := make(chan Message, 1)
	s.mu.Lock()
	s.pending[clientID] = ackCh
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, clientID)
		s.mu.Unlock()
	}()

	frame := messageFrame{
		Type:            frameMessage,
		RoomID:          roomID,
		Content:         content,
		ClientMessageID: clientID,
	}
	if err := s.conn.send(ctx, frame); err != nil {
		return Message{}, false, err
	}

	timer := time.NewTimer(s.AckWait)
	defer timer.Stop()
	select {
	case msg := <-ackCh:
		return msg, true, nil
	case <-timer.C:
		return Message{}, true, errAckTimeout
	case <-ctx.Done():
		return Message{}, true, ctx.Err()
	}
}

func (s *SendCoordinator) handleFrame(f Frame) {
	if f.Type != frameMessage || f.ClientMessageID == "" {
		return
	}
	s.mu.Lock()
	ackCh, ok := s.pending[f.ClientMessageID]
	if ok {
		delete(s.pending, f.ClientMessageID)
	}
	s.mu.Unlock()
	if ok {
		ackCh <- f.message()
	}
}

// waitConnected blocks up to d for the channel to reach connected.
func (s *SendCoordinator) waitConnected(ctx context.Context, d time.Duration) bool {
	connected := make(chan struct{}, 1)
	remove := s.conn.OnStatus(func(st Status) {
		if st == StatusConnected {
			signal(connected)
		}
	})
	defer remove()

	if s.conn.Status() == StatusConnected {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-connected:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}
