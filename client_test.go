package cardlink

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomsClient(t *testing.T) {
	sentAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("list", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodGet, r.Method)
			require.Equal(t, "/chat/rooms", r.URL.Path)
			require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode([]Room{
				{ID: "r1", Kind: RoomDirect, Participants: []string{"u1", "u2"}},
				{ID: "r2", Kind: RoomGroup, Name: "team", Participants: []string{"u1", "u2", "u3"}},
			})
		}))
		defer srv.Close()

		api := NewClient("tok", WithBaseURL(srv.URL))
		rooms, err := api.Rooms().List(context.Background())
		require.NoError(t, err)
		require.Len(t, rooms, 2)
		assert.Equal(t, RoomGroup, rooms[1].Kind)
		assert.Equal(t, "team", rooms[1].Name)
	})

	t.Run("messages with paging params", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/chat/rooms/r1/messages", r.URL.Path)
			assert.Equal(t, "25", r.URL.Query().Get("size"))
			assert.Equal(t, "m9", r.URL.Query().Get("lastMessageId"))
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode([]Message{
				{ID: "m1", RoomID: "r1", Sender: "u2", Content: "hi", SentAt: sentAt},
			})
		}))
		defer srv.Close()

		api := NewClient("tok", WithBaseURL(srv.URL))
		msgs, err := api.Rooms().Messages(context.Background(), "r1", 25, "m9")
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, "m1", msgs[0].ID)
		assert.True(t, msgs[0].SentAt.Equal(sentAt))
	})

	t.Run("send forwards the idempotency id", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPost, r.Method)
			require.Equal(t, "/chat/rooms/r1/messages", r.URL.Path)
			var body sendMessageRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "hello", body.Content)
			assert.Equal(t, "c1", body.ClientMessageID)
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(Message{ID: "m7", RoomID: "r1", Content: body.Content, SentAt: sentAt})
		}))
		defer srv.Close()

		api := NewClient("tok", WithBaseURL(srv.URL))
		msg, err := api.Rooms().Send(context.Background(), "r1", "hello", "c1")
		require.NoError(t, err)
		assert.Equal(t, "m7", msg.ID)
		// Backend omitted the echo; the client id is restored locally so the
		// reconciler can still match the optimistic copy.
		assert.Equal(t, "c1", msg.ClientID)
	})

	t.Run("create variants", func(t *testing.T) {
		var gotPath, gotQuery string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotQuery = r.URL.RawQuery
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(Room{ID: "r9"})
		}))
		defer srv.Close()
		api := NewClient("tok", WithBaseURL(srv.URL))

		_, err := api.Rooms().CreateDirect(context.Background(), "u2")
		require.NoError(t, err)
		assert.Equal(t, "/chat/rooms", gotPath)
		assert.Equal(t, "participantId=u2", gotQuery)

		_, err = api.Rooms().CreateGroup(context.Background(), "team")
		require.NoError(t, err)
		assert.Equal(t, "/chat/rooms/group", gotPath)
		assert.Equal(t, "roomName=team", gotQuery)

		_, err = api.Rooms().CreateFromBusinessCard(context.Background(), "bc1")
		require.NoError(t, err)
		assert.Equal(t, "/chat/rooms/business-card", gotPath)
		assert.Equal(t, "businessCardId=bc1", gotQuery)
	})

	t.Run("application error surfaces as APIError", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			json.NewEncoder(w).Encode(map[string]string{
				"code":    "NOT_A_PARTICIPANT",
				"message": "you are not in this room",
			})
		}))
		defer srv.Close()

		api := NewClient("tok", WithBaseURL(srv.URL))
		_, err := api.Rooms().Messages(context.Background(), "r1", 0, "")
		require.Error(t, err)

		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusForbidden, apiErr.Status)
		assert.Equal(t, "NOT_A_PARTICIPANT", apiErr.Code)
	})

	t.Run("bodyless error gets a synthetic code", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		api := NewClient("tok", WithBaseURL(srv.URL))
		_, err := api.Rooms().List(context.Background())

		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, "HTTP_502", apiErr.Code)
	})
}

func TestAlarmsClient(t *testing.T) {
	t.Run("list and unread count", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/alarms":
				assert.Equal(t, "2", r.URL.Query().Get("page"))
				assert.Equal(t, "10", r.URL.Query().Get("size"))
				w.Header().Set("Content-Type", "application/json")
				json.NewEncoder(w).Encode([]Alarm{{ID: "a1", Content: "new message", Read: false}})
			case "/alarms/unread/count":
				w.Header().Set("Content-Type", "application/json")
				json.NewEncoder(w).Encode(map[string]int{"count": 3})
			default:
				http.NotFound(w, r)
			}
		}))
		defer srv.Close()

		api := NewClient("tok", WithBaseURL(srv.URL))
		alarms, err := api.Alarms().List(context.Background(), 2, 10)
		require.NoError(t, err)
		require.Len(t, alarms, 1)
		assert.False(t, alarms[0].Read)

		count, err := api.Alarms().UnreadCount(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 3, count)
	})

	t.Run("mutations hit the right endpoints", func(t *testing.T) {
		type call struct{ method, path string }
		var calls []call
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls = append(calls, call{r.Method, r.URL.Path})
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		api := NewClient("tok", WithBaseURL(srv.URL))
		require.NoError(t, api.Alarms().MarkRead(context.Background(), "a1"))
		require.NoError(t, api.Alarms().MarkAllRead(context.Background()))
		require.NoError(t, api.Alarms().Delete(context.Background(), "a1"))

		assert.Equal(t, []call{
			{http.MethodPut, "/alarms/a1/read"},
			{http.MethodPut, "/alarms/read-all"},
			{http.MethodDelete, "/alarms/a1"},
		}, calls)
	})
}
