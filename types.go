package cardlink

import "time"

// ============================================================================
// Shared Types
// ============================================================================

// APIError represents an application-level error returned by the REST backend.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

// RoomKind distinguishes one-to-one conversations from group rooms.
type RoomKind string

const (
	RoomDirect RoomKind = "direct"
	RoomGroup  RoomKind = "group"
)

// Room identifies a conversation. Rooms are created and mutated by the
// backend; the client only reads them (plus a cached last-message summary).
type Room struct {
	ID           string   `json:"roomId"`
	Kind         RoomKind `json:"kind"`
	Name         string   `json:"roomName,omitempty"`
	Participants []string `json:"participants"`
	LastMessage  *Message `json:"lastMessage,omitempty"`
}

// Message is a single chat message. ID is the server-assigned id and stays
// empty until the backend has acknowledged the message; ClientID is the
// client-generated idempotency id and is always set for messages originating
// from this client.
type Message struct {
	ID       string    `json:"messageId,omitempty"`
	ClientID string    `json:"clientMessageId,omitempty"`
	RoomID   string    `json:"roomId"`
	Sender   string    `json:"sender"`
	Content  string    `json:"content"`
	SentAt   time.Time `json:"sentAt"`
}

// ResolvedID returns the canonical identity used for deduplication: the
// server id when present, the client idempotency id otherwise.
func (m Message) ResolvedID() string {
	if m.ID != "" {
		return m.ID
	}
	return m.ClientID
}

// Pending reports whether the message has not yet been acknowledged by the
// backend. Pending messages render with their client id; they are surfaced,
// not retried.
func (m Message) Pending() bool {
	return m.ID == ""
}

// Alarm is a cross-room notification delivered by the REST backend only.
type Alarm struct {
	ID        string    `json:"alarmId"`
	Content   string    `json:"content"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

// ============================================================================
// Push-channel wire format
// ============================================================================

const (
	frameConnected   = "connected"
	frameMessage     = "message"
	frameSubscribe   = "subscribe"
	frameUnsubscribe = "unsubscribe"
	frameRoomCreated = "room.created"
	frameAlarm       = "alarm"
	frameError       = "error"
)

// Frame is the inbound wire format for all push-channel events.
type Frame struct {
	Type            string    `json:"type"`
	Topic           string    `json:"topic,omitempty"`
	RoomID          string    `json:"roomId,omitempty"`
	MessageID       string    `json:"messageId,omitempty"`
	ClientMessageID string    `json:"clientMessageId,omitempty"`
	Content         string    `json:"content,omitempty"`
	Sender          string    `json:"sender,omitempty"`
	SentAt          time.Time `json:"sentAt,omitempty"`
	UserID          string    `json:"userId,omitempty"`
	Error           string    `json:"message,omitempty"`
}

// message converts an inbound message frame into a Message.
func (f Frame) message() Message {
	return Message{
		ID:       f.MessageID,
		ClientID: f.ClientMessageID,
		RoomID:   f.RoomID,
		Sender:   f.Sender,
		Content:  f.Content,
		SentAt:   f.SentAt,
	}
}

// subscribeFrame is the client-to-server topic control frame.
type subscribeFrame struct {
	Type  string `json:"type"`
	Topic string `json:"topic"`
}

// messageFrame is the client-to-server send frame.
type messageFrame struct {
	Type            string `json:"type"`
	RoomID          string `json:"roomId"`
	Content         string `json:"content"`
	ClientMessageID string `json:"clientMessageId"`
}

// RoomTopic returns the push-channel topic carrying a room's messages.
func RoomTopic(roomID string) string {
	return "room-" + roomID
}

// UserTopic returns the per-user queue topic used for cross-room
// notifications such as new-room alerts.
func UserTopic(userID string) string {
	return "user-" + userID
}
