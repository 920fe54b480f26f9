package hub_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lumoslab/lumos/backend/internal/hub"
)

// pair upgrades one websocket connection, registers the server side under id,
// and returns the client side for reading.
func pair(t *testing.T, h *hub.Hub, id string) *websocket.Conn {
	t.Helper()

	upgrader := websocket.Upgrader{}
	registered := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade err: %v", err)
			return
		}
		h.Register(id, conn)
		close(registered)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial err: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	<-registered
	client.SetReadDeadline(time.Now().Add(5 * time.Second))
	return client
}

func TestSend(t *testing.T) {
	h := hub.New()
	client := pair(t, h, "c1")

	if err := h.Send("c1", "log", map[string]string{"k": "v"}); err != nil {
		t.Fatalf("Send err: %v", err)
	}

	var env hub.Envelope
	if err := client.ReadJSON(&env); err != nil {
		t.Fatalf("read err: %v", err)
	}
	if env.Event != "log" {
		t.Fatalf("expected log event, got %s", env.Event)
	}
}

func TestSendUnknownConnection(t *testing.T) {
	h := hub.New()
	if err := h.Send("ghost", "log", nil); !errors.Is(err, hub.ErrUnknownConnection) {
		t.Fatalf("expected ErrUnknownConnection, got %v", err)
	}
}

func TestBroadcastReachesAllClients(t *testing.T) {
	h := hub.New()
	first := pair(t, h, "c1")
	second := pair(t, h, "c2")

	h.Broadcast("question", map[string]string{"id": "q1"})

	for _, client := range []*websocket.Conn{first, second} {
		var env hub.Envelope
		if err := client.ReadJSON(&env); err != nil {
			t.Fatalf("read err: %v", err)
		}
		if env.Event != "question" {
			t.Fatalf("expected question event, got %s", env.Event)
		}
	}
}

func TestUnregister(t *testing.T) {
	h := hub.New()
	pair(t, h, "c1")

	if h.Len() != 1 {
		t.Fatalf("expected one client, got %d", h.Len())
	}
	h.Unregister("c1")
	if h.Len() != 0 {
		t.Fatalf("expected empty hub, got %d", h.Len())
	}
	if err := h.Send("c1", "log", nil); !errors.Is(err, hub.ErrUnknownConnection) {
		t.Fatalf("expected ErrUnknownConnection after unregister, got %v", err)
	}
}

func TestSendFailureDropsClient(t *testing.T) {
	h := hub.New()
	client := pair(t, h, "c1")
	client.Close()

	// The closed connection eventually fails the write and is dropped.
	deadline := time.Now().Add(2 * time.Second)
	for h.Len() > 0 {
		h.Send("c1", "log", nil)
		if time.Now().After(deadline) {
			t.Fatalf("failed write did not drop the client")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestPingUnknownConnection(t *testing.T) {
	h := hub.New()
	if err := h.Ping("ghost"); !errors.Is(err, hub.ErrUnknownConnection) {
		t.Fatalf("expected ErrUnknownConnection, got %v", err)
	}
}
