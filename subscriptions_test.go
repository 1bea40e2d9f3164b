package cardlink

import (
	"context"
	"reflect"
	"testing"
	"time"
)

// controlFrames filters the recorded client frames down to topic control
// frames, as "type topic" strings.
func controlFrames(ps *pushServer) []string {
	var out []string
	for _, f := range ps.clientFrames() {
		if f.Type == frameSubscribe || f.Type == frameUnsubscribe {
			out = append(out, f.Type+" "+f.Topic)
		}
	}
	return out
}

func waitControlCount(t *testing.T, ps *pushServer, want int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		got := controlFrames(ps)
		if len(got) >= want {
			return got
		}
		if time.Now().After(deadline) {
			t.Fatalf("control frames = %v, want %d of them", got, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSubscriptionRegistry(t *testing.T) {
	t.Run("subscribe is idempotent per topic", func(t *testing.T) {
		ps := newPushServer(t)
		c := NewConn(ps.srv.URL, testConnConfig())
		r := NewSubscriptionRegistry(c, nil)

		c.Connect(context.Background())
		waitStatus(t, c, StatusConnected, 2*time.Second)
		defer c.Disconnect()

		s1 := r.Subscribe(RoomTopic("r1"), "r1")
		s2 := r.Subscribe(RoomTopic("r1"), "r1")
		if s1 != s2 {
			t.Fatal("second Subscribe returned a different handle")
		}

		got := waitControlCount(t, ps, 1)
		want := []string{"subscribe room-r1"}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("control frames = %v, want %v", got, want)
		}
	})

	t.Run("subscribe while disconnected queues until connect", func(t *testing.T) {
		ps := newPushServer(t)
		c := NewConn(ps.srv.URL, testConnConfig())
		r := NewSubscriptionRegistry(c, nil)

		// Channel is down; the registry keeps the intent.
		r.Subscribe(RoomTopic("r1"), "r1")
		r.Subscribe(UserTopic("u1"), "")
		if len(controlFrames(ps)) != 0 {
			t.Fatal("control frames sent while disconnected")
		}

		c.Connect(context.Background())
		waitStatus(t, c, StatusConnected, 2*time.Second)
		defer c.Disconnect()

		got := waitControlCount(t, ps, 2)
		want := []string{"subscribe room-r1", "subscribe user-u1"} // replay is sorted
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("control frames = %v, want %v", got, want)
		}
	})

	t.Run("replays topics on reconnect", func(t *testing.T) {
		ps := newPushServer(t)
		c := NewConn(ps.srv.URL, testConnConfig())
		r := NewSubscriptionRegistry(c, nil)

		c.Connect(context.Background())
		waitStatus(t, c, StatusConnected, 2*time.Second)
		defer c.Disconnect()

		r.Subscribe(RoomTopic("r1"), "r1")
		waitControlCount(t, ps, 1)

		ps.dropClients()
		waitStatus(t, c, StatusConnected, 5*time.Second)

		got := waitControlCount(t, ps, 2)
		if got[len(got)-1] != "subscribe room-r1" {
			t.Fatalf("control frames = %v, want a replayed subscribe last", got)
		}
	})

	t.Run("switch room drops the old topic and keeps the user queue", func(t *testing.T) {
		ps := newPushServer(t)
		c := NewConn(ps.srv.URL, testConnConfig())
		r := NewSubscriptionRegistry(c, nil)

		c.Connect(context.Background())
		waitStatus(t, c, StatusConnected, 2*time.Second)
		defer c.Disconnect()

		r.Subscribe(UserTopic("u1"), "")
		r.Subscribe(RoomTopic("r1"), "r1")
		waitControlCount(t, ps, 2)

		sub := r.SwitchRoom("r2")
		if sub.Topic() != RoomTopic("r2") {
			t.Fatalf("switched topic = %q", sub.Topic())
		}

		got := waitControlCount(t, ps, 4)
		want := []string{
			"subscribe user-u1",
			"subscribe room-r1",
			"unsubscribe room-r1",
			"subscribe room-r2",
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("control frames = %v, want %v", got, want)
		}
		topics := r.Topics()
		if !reflect.DeepEqual(topics, []string{"room-r2", "user-u1"}) {
			t.Fatalf("topics = %v", topics)
		}
	})

	t.Run("switch to the current room is a no-op", func(t *testing.T) {
		ps := newPushServer(t)
		c := NewConn(ps.srv.URL, testConnConfig())
		r := NewSubscriptionRegistry(c, nil)

		c.Connect(context.Background())
		waitStatus(t, c, StatusConnected, 2*time.Second)
		defer c.Disconnect()

		first := r.Subscribe(RoomTopic("r1"), "r1")
		waitControlCount(t, ps, 1)

		again := r.SwitchRoom("r1")
		if again != first {
			t.Fatal("SwitchRoom to the same room returned a new handle")
		}
		time.Sleep(50 * time.Millisecond)
		if got := controlFrames(ps); len(got) != 1 {
			t.Fatalf("control frames = %v, want just the original subscribe", got)
		}
	})

	t.Run("unsubscribe is idempotent", func(t *testing.T) {
		ps := newPushServer(t)
		c := NewConn(ps.srv.URL, testConnConfig())
		r := NewSubscriptionRegistry(c, nil)

		c.Connect(context.Background())
		waitStatus(t, c, StatusConnected, 2*time.Second)
		defer c.Disconnect()

		sub := r.Subscribe(RoomTopic("r1"), "r1")
		waitControlCount(t, ps, 1)

		sub.Unsubscribe()
		sub.Unsubscribe()

		got := waitControlCount(t, ps, 2)
		if n := len(got); n != 2 {
			t.Fatalf("control frames = %v, want exactly 2", got)
		}
		if len(r.Topics()) != 0 {
			t.Fatalf("topics = %v, want none", r.Topics())
		}
	})

	t.Run("close drops everything", func(t *testing.T) {
		ps := newPushServer(t)
		c := NewConn(ps.srv.URL, testConnConfig())
		r := NewSubscriptionRegistry(c, nil)

		c.Connect(context.Background())
		waitStatus(t, c, StatusConnected, 2*time.Second)
		defer c.Disconnect()

		r.Subscribe(UserTopic("u1"), "")
		r.Subscribe(RoomTopic("r1"), "r1")
		waitControlCount(t, ps, 2)

		r.Close()
		if len(r.Topics()) != 0 {
			t.Fatalf("topics after Close = %v", r.Topics())
		}
	})
}
