package courier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"nhooyr.io/websocket"
)

// wsTestServer runs handler for each websocket connection to /ws.
func wsTestServer(t *testing.T, handler func(ctx context.Context, c *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws" {
			http.NotFound(w, r)
			return
		}
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close(websocket.StatusNormalClosure, "")
		handler(r.Context(), c, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSocketConnectSendsTokenAndResume(t *testing.T) {
	params := make(chan map[string]string, 1)
	srv := wsTestServer(t, func(ctx context.Context, c *websocket.Conn, r *http.Request) {
		q := r.URL.Query()
		params <- map[string]string{"token": q.Get("token"), "since": q.Get("since")}
		// Hold the connection open until the client goes away.
		c.Read(ctx)
	})

	s := NewSocket(SocketConfig{
		BaseURL: srv.URL,
		Token:   func() string { return "tok-123" },
		Resume:  func() int64 { return 456 },
	})
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer s.Disconnect()

	select {
	case q := <-params:
		if q["token"] != "tok-123" || q["since"] != "456" {
			t.Fatalf("query = %v", q)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw the connection")
	}
	if s.State() != StateConnected {
		t.Fatalf("state = %v, want connected", s.State())
	}
}

func TestSocketDispatchAndPong(t *testing.T) {
	pong := make(chan string, 1)
	srv := wsTestServer(t, func(ctx context.Context, c *websocket.Conn, r *http.Request) {
		frame := `{"type":"message","id":1,"chat_id":"chat-1","sender":"bob","text":"hi","created_at":1}`
		if err := c.Write(ctx, websocket.MessageText, []byte(frame)); err != nil {
			return
		}
		if err := c.Write(ctx, websocket.MessageText, []byte(`{"type":"ping"}`)); err != nil {
			return
		}
		_, data, err := c.Read(ctx)
		if err != nil {
			return
		}
		var head struct {
			Type string `json:"type"`
		}
		json.Unmarshal(data, &head)
		pong <- head.Type
		c.Read(ctx)
	})

	s := NewSocket(SocketConfig{BaseURL: srv.URL})
	got := make(chan Message, 1)
	s.OnMessage(func(m Message) { got <- m })

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer s.Disconnect()

	select {
	case m := <-got:
		if m.ID != 1 || m.Sender != "bob" {
			t.Fatalf("message = %+v", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message never dispatched")
	}

	select {
	case typ := <-pong:
		if typ != "pong" {
			t.Fatalf("reply to ping = %q, want pong", typ)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no pong reply")
	}
}

func TestSocketSendWhileDisconnectedIsNoop(t *testing.T) {
	s := NewSocket(SocketConfig{BaseURL: "http://127.0.0.1:1"})

	// Must not panic or block.
	s.SendTyping(context.Background(), "chat-1", true)
	s.SendDelivered(context.Background(), "chat-1", 5)
	s.SendCallFrame(context.Background(), "call_end", CallEvent{ChatID: "chat-1", CallID: "c"})

	if s.State() != StateDisconnected {
		t.Fatalf("state = %v, want disconnected", s.State())
	}
}

func TestSocketReconnectReplacesConnection(t *testing.T) {
	sinces := make(chan string, 2)
	srv := wsTestServer(t, func(ctx context.Context, c *websocket.Conn, r *http.Request) {
		sinces <- r.URL.Query().Get("since")
		c.Read(ctx)
	})

	cursor := int64(10)
	s := NewSocket(SocketConfig{
		BaseURL: srv.URL,
		Resume:  func() int64 { return cursor },
	})

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("first connect: %v", err)
	}
	<-sinces

	// The cursor advanced while connected; the next dial resumes higher.
	cursor = 42
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("second connect: %v", err)
	}
	defer s.Disconnect()

	select {
	case since := <-sinces:
		if since != "42" {
			t.Fatalf("second since = %q, want 42", since)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second connection never arrived")
	}
}

func TestSocketDisconnectNotifiesOnLoss(t *testing.T) {
	srv := wsTestServer(t, func(ctx context.Context, c *websocket.Conn, r *http.Request) {
		// Drop the connection immediately.
	})

	s := NewSocket(SocketConfig{BaseURL: srv.URL})
	lost := make(chan string, 1)
	s.OnDisconnected(func(reason string) { lost <- reason })

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	select {
	case <-lost:
	case <-time.After(2 * time.Second):
		t.Fatal("loss never reported")
	}
	if s.State() != StateDisconnected {
		t.Fatalf("state = %v, want disconnected", s.State())
	}
}

func TestReconnectorBackoff(t *testing.T) {
	r := NewReconnector()

	var prev time.Duration
	for i := 0; i < 5; i++ {
		d := r.NextDelay()
		if d > r.MaxDelay+r.BaseDelay {
			t.Fatalf("delay %v exceeds cap", d)
		}
		if i > 0 && d < prev/4 {
			t.Fatalf("delay should roughly grow: %v after %v", d, prev)
		}
		prev = d
	}

	r.Reset()
	if r.Attempt() != 0 {
		t.Fatalf("attempt after reset = %d", r.Attempt())
	}
	if !r.ShouldRetry() {
		t.Fatal("unlimited reconnector must always retry")
	}
}
