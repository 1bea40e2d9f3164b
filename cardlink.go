// Package cardlink provides the Go client SDK for the CardLink messaging
// backend.
//
// The package covers the chat REST API (rooms, messages, alarms) and the
// real-time delivery core: push-channel lifecycle, topic subscriptions,
// adaptive REST polling, message reconciliation across the two delivery
// paths, and cache invalidation fan-out.
//
// Example:
//
//	api := cardlink.NewClient(token, cardlink.WithBaseURL("https://cardlink.example"))
//
//	// REST API
//	rooms, _ := api.Rooms().List(ctx)
//	count, _ := api.Alarms().UnreadCount(ctx)
//
//	// Real-time core
//	msgr, _ := cardlink.NewMessenger(api, cardlink.MessengerConfig{Token: token})
//	msgr.Start(ctx)
//	session := msgr.OpenRoom(rooms[0].ID)
//	defer session.Close()
package cardlink

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const (
	DefaultBaseURL = "https://api.cardlink.io"
	DefaultTimeout = 30 * time.Second
)

// ============================================================================
// Client
// ============================================================================

// Client is the REST API client. It is safe for concurrent use.
type Client struct {
	baseURL string
	http    *resty.Client
	log     *zap.Logger
	rooms   *RoomsClient
	alarms  *AlarmsClient
}

type ClientOption func(*Client)

func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.http.SetTimeout(timeout) }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.http = resty.NewWithClient(client) }
}

func WithLogger(log *zap.Logger) ClientOption {
	return func(c *Client) { c.log = log }
}

// NewClient creates a new CardLink REST client authenticated with the given
// bearer token.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		http:    resty.New().SetTimeout(DefaultTimeout),
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.http.SetBaseURL(c.baseURL)
	if token != "" {
		c.http.SetAuthToken(token)
	}
	c.rooms = &RoomsClient{c: c}
	c.alarms = &AlarmsClient{c: c}
	return c
}

// SetToken replaces the bearer token, e.g. after the auth collaborator
// refreshed the credential.
func (c *Client) SetToken(token string) {
	c.http.SetAuthToken(token)
}

// BaseURL returns the configured REST base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Rooms returns the chat-room API sub-client.
func (c *Client) Rooms() *RoomsClient {
	return c.rooms
}

// Alarms returns the alarm API sub-client.
func (c *Client) Alarms() *AlarmsClient {
	return c.alarms
}

// do executes a request and decodes the response into out. Application
// errors (4xx/5xx with a JSON body) come back as *APIError.
func (c *Client) do(ctx context.Context, method, path string, body any, query map[string]string, out any) error {
	req := c.http.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	if len(query) > 0 {
		req.SetQueryParams(query)
	}
	if out != nil {
		req.SetResult(out)
	}
	apiErr := &APIError{}
	req.SetError(apiErr)

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() {
		apiErr.Status = resp.StatusCode()
		if apiErr.Code == "" {
			apiErr.Code = "HTTP_" + strconv.Itoa(resp.StatusCode())
		}
		if apiErr.Message == "" {
			apiErr.Message = resp.Status()
		}
		c.log.Debug("api error",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", apiErr.Status),
			zap.String("code", apiErr.Code))
		return apiErr
	}
	return nil
}

// ============================================================================
// Rooms API
// ============================================================================

// RoomsClient covers the chat-room REST surface.
type RoomsClient struct{ c *Client }

// List returns the caller's rooms with their last-message summaries.
func (r *RoomsClient) List(ctx context.Context) ([]Room, error) {
	var rooms []Room
	if err := r.c.do(ctx, http.MethodGet, "/chat/rooms", nil, nil, &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

// Messages returns a page of messages for a room, newest-bounded. Pass
// lastMessageID to page backwards from a known message; size <= 0 uses the
// backend default.
func (r *RoomsClient) Messages(ctx context.Context, roomID string, size int, lastMessageID string) ([]Message, error) {
	query := map[string]string{}
	if size > 0 {
		query["size"] = strconv.Itoa(size)
	}
	if lastMessageID != "" {
		query["lastMessageId"] = lastMessageID
	}
	var msgs []Message
	if err := r.c.do(ctx, http.MethodGet, "/chat/rooms/"+roomID+"/messages", nil, query, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

type sendMessageRequest struct {
	Content         string `json:"content"`
	ClientMessageID string `json:"clientMessageId,omitempty"`
}

// Send posts a message over REST. The response carries the authoritative
// server id. clientMessageID is forwarded so the push echo of this message
// can be matched against the local copy.
func (r *RoomsClient) Send(ctx context.Context, roomID, content, clientMessageID string) (*Message, error) {
	var msg Message
	body := sendMessageRequest{Content: content, ClientMessageID: clientMessageID}
	if err := r.c.do(ctx, http.MethodPost, "/chat/rooms/"+roomID+"/messages", body, nil, &msg); err != nil {
		return nil, err
	}
	if msg.ClientID == "" {
		msg.ClientID = clientMessageID
	}
	return &msg, nil
}

// CreateDirect creates (or returns) the one-to-one room with a participant.
func (r *RoomsClient) CreateDirect(ctx context.Context, participantID string) (*Room, error) {
	var room Room
	query := map[string]string{"participantId": participantID}
	if err := r.c.do(ctx, http.MethodPost, "/chat/rooms", nil, query, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

// CreateGroup creates a named group room.
func (r *RoomsClient) CreateGroup(ctx context.Context, roomName string) (*Room, error) {
	var room Room
	query := map[string]string{"roomName": roomName}
	if err := r.c.do(ctx, http.MethodPost, "/chat/rooms/group", nil, query, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

// CreateFromBusinessCard creates a room with the owner of a business card.
func (r *RoomsClient) CreateFromBusinessCard(ctx context.Context, businessCardID string) (*Room, error) {
	var room Room
	query := map[string]string{"businessCardId": businessCardID}
	if err := r.c.do(ctx, http.MethodPost, "/chat/rooms/business-card", nil, query, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

// ============================================================================
// Alarms API
// ============================================================================

// AlarmsClient covers the alarm REST surface. Alarms are REST-only; their
// refresh cadence comes from an AdaptivePoller.
type AlarmsClient struct{ c *Client }

// List returns a page of alarms.
func (a *AlarmsClient) List(ctx context.Context, page, size int) ([]Alarm, error) {
	query := map[string]string{}
	if page > 0 {
		query["page"] = strconv.Itoa(page)
	}
	if size > 0 {
		query["size"] = strconv.Itoa(size)
	}
	var alarms []Alarm
	if err := a.c.do(ctx, http.MethodGet, "/alarms", nil, query, &alarms); err != nil {
		return nil, err
	}
	return alarms, nil
}

// MarkRead marks a single alarm as read.
func (a *AlarmsClient) MarkRead(ctx context.Context, id string) error {
	return a.c.do(ctx, http.MethodPut, "/alarms/"+id+"/read", nil, nil, nil)
}

// MarkAllRead marks every alarm as read.
func (a *AlarmsClient) MarkAllRead(ctx context.Context) error {
	return a.c.do(ctx, http.MethodPut, "/alarms/read-all", nil, nil, nil)
}

// Delete removes an alarm.
func (a *AlarmsClient) Delete(ctx context.Context, id string) error {
	return a.c.do(ctx, http.MethodDelete, "/alarms/"+id, nil, nil, nil)
}

// UnreadCount returns the number of unread alarms.
func (a *AlarmsClient) UnreadCount(ctx context.Context) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	if err := a.c.do(ctx, http.MethodGet, "/alarms/unread/count", nil, nil, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}
