package websocket

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	ws "github.com/coder/websocket"
)

func testHub() *Hub {
	return NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// mockClient creates a Client with a send channel but no real connection.
func mockClient(hub *Hub) *Client {
	return &Client{
		hub:  hub,
		send: make(chan []byte, sendBufferSize),
	}
}

func receive(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case data := <-c.send:
		var got Message
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return got
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for message")
	}
	return Message{}
}

func TestRegisterUnregister(t *testing.T) {
	hub := testHub()

	c1 := mockClient(hub)
	c2 := mockClient(hub)
	hub.Register(c1)
	hub.Register(c2)

	if got := hub.ClientCount(); got != 2 {
		t.Fatalf("expected 2 clients, got %d", got)
	}

	hub.Unregister(c1)
	if got := hub.ClientCount(); got != 1 {
		t.Fatalf("expected 1 client after unregister, got %d", got)
	}

	hub.Unregister(c2)
	// second unregister is a no-op
	hub.Unregister(c2)
	if got := hub.ClientCount(); got != 0 {
		t.Fatalf("expected 0 clients, got %d", got)
	}
}

func TestNotify(t *testing.T) {
	hub := testHub()
	c1 := mockClient(hub)
	c2 := mockClient(hub)
	hub.Register(c1)
	hub.Register(c2)
	defer hub.Unregister(c1)
	defer hub.Unregister(c2)

	hub.Notify("event", "created", "local_abc")

	for _, c := range []*Client{c1, c2} {
		got := receive(t, c)
		if got.Type != "event_created" {
			t.Errorf("expected type event_created, got %s", got.Type)
		}
		if got.Entity != "event" || got.Action != "created" {
			t.Errorf("unexpected entity/action %s/%s", got.Entity, got.Action)
		}
		if got.ID != "local_abc" {
			t.Errorf("expected id local_abc, got %s", got.ID)
		}
	}
}

func TestProgress(t *testing.T) {
	hub := testHub()
	c := mockClient(hub)
	hub.Register(c)
	defer hub.Unregister(c)

	hub.Progress("local_fam")("tags", 3, 6)

	got := receive(t, c)
	if got.Type != "migration_progress" {
		t.Fatalf("expected migration_progress, got %s", got.Type)
	}
	if got.ID != "local_fam" {
		t.Errorf("expected id local_fam, got %s", got.ID)
	}
	if got.Extra["step"] != "tags" || got.Extra["current"] != float64(3) || got.Extra["total"] != float64(6) {
		t.Errorf("unexpected extra %v", got.Extra)
	}
}

func TestBroadcastEmptyHub(t *testing.T) {
	hub := testHub()
	hub.Broadcast(NewMessage("tag", "deleted", "t1", nil))
}

func TestBroadcastFullBuffer(t *testing.T) {
	hub := testHub()
	c := mockClient(hub)
	hub.Register(c)
	defer hub.Unregister(c)

	for i := 0; i < sendBufferSize; i++ {
		hub.Notify("event", "updated", "e1")
	}
	// dropped, must not block
	hub.Notify("event", "updated", "overflow")

	count := 0
	for len(c.send) > 0 {
		<-c.send
		count++
	}
	if count != sendBufferSize {
		t.Errorf("expected %d messages, got %d", sendBufferSize, count)
	}
}

func TestConcurrentAccess(t *testing.T) {
	hub := testHub()
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := mockClient(hub)
			hub.Register(c)
			hub.Notify("event", "concurrent", "")
			hub.Unregister(c)
		}()
	}
	wg.Wait()

	if got := hub.ClientCount(); got != 0 {
		t.Errorf("expected 0 clients after concurrent test, got %d", got)
	}
}

func TestHandleWebSocket(t *testing.T) {
	hub := testHub()
	srv := httptest.NewServer(HandleWebSocket(hub))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := ws.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(ws.StatusNormalClosure, "")

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	hub.Notify("tag", "created", "t1")

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got Message
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Type != "tag_created" || got.ID != "t1" {
		t.Errorf("unexpected message %+v", got)
	}
}
