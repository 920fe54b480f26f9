package ws_test

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lumoslab/lumos/backend/internal/bias"
	"github.com/lumoslab/lumos/backend/internal/dataset"
	"github.com/lumoslab/lumos/backend/internal/export"
	"github.com/lumoslab/lumos/backend/internal/handler"
	wshandler "github.com/lumoslab/lumos/backend/internal/handler/ws"
	"github.com/lumoslab/lumos/backend/internal/hub"
	"github.com/lumoslab/lumos/backend/internal/registry"
	studyservice "github.com/lumoslab/lumos/backend/internal/service/study"
	"github.com/lumoslab/lumos/backend/internal/storage"
)

type envelope struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
}

func newTestServer(t *testing.T) (*httptest.Server, *registry.Registry) {
	t.Helper()

	catalog := dataset.New(dataset.Dataset{
		ID:           "cars.csv",
		Attributes:   []string{"type"},
		Rows:         4,
		Distribution: dataset.Distribution{"type": {"suv": 2, "sedan": 2}},
	})

	store, err := storage.OpenSQLite(filepath.Join(t.TempDir(), "study.db"))
	if err != nil {
		t.Fatalf("OpenSQLite err: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	writer := storage.NewWriter(store, 16)
	t.Cleanup(writer.Close)

	reg := registry.New()
	clients := hub.New()
	svc := studyservice.New(reg, bias.NewClassifier(nil), bias.NewEngine(catalog), clients, store, writer, "lumos")
	wsH := wshandler.New(svc, reg, clients, catalog, export.New(t.TempDir()))

	srv := httptest.NewServer(handler.NewRouter(wsH, catalog, t.TempDir()))
	t.Cleanup(srv.Close)
	return srv, reg
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial err: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	var env envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read envelope: %v", err)
	}
	return env
}

func TestConnectSendsAttributeDistribution(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dial(t, srv)

	env := readEnvelope(t, conn)
	if env.Event != "attribute_distribution" {
		t.Fatalf("expected attribute_distribution first, got %s", env.Event)
	}
	if _, ok := env.Data["cars.csv"]; !ok {
		t.Fatalf("expected cars.csv distribution, got %v", env.Data)
	}
}

func TestInteractionRoundTrip(t *testing.T) {
	srv, reg := newTestServer(t)
	conn := dial(t, srv)
	readEnvelope(t, conn) // attribute_distribution

	payload := map[string]any{
		"event": "interaction",
		"data": map[string]any{
			"participantId":   "p1",
			"appMode":         "cars.csv",
			"appType":         "CONTROL",
			"appLevel":        "practice",
			"interactionType": "click_group",
			"data":            map[string]any{"type": "suv"},
		},
	}
	if err := conn.WriteJSON(payload); err != nil {
		t.Fatalf("write err: %v", err)
	}

	// The broadcast copy arrives first, then the unicast response.
	first := readEnvelope(t, conn)
	second := readEnvelope(t, conn)
	if first.Event != "log" || second.Event != "interaction_response" {
		t.Fatalf("unexpected events: %s, %s", first.Event, second.Event)
	}
	if second.Data["output_data"] == nil {
		t.Fatalf("bias-relevant interaction must carry output_data: %v", second.Data)
	}
	if second.Data["participant_id"] != "p1" {
		t.Fatalf("unexpected response: %v", second.Data)
	}

	if _, ok := reg.Snapshot("p1"); !ok {
		t.Fatalf("interaction must create the session")
	}
}

func TestMalformedInteractionEmitsNothing(t *testing.T) {
	srv, reg := newTestServer(t)
	conn := dial(t, srv)
	readEnvelope(t, conn)

	payload := map[string]any{
		"event": "interaction",
		"data": map[string]any{
			"appMode":         "cars.csv",
			"appType":         "CONTROL",
			"appLevel":        "practice",
			"interactionType": "click_group",
			"data":            map[string]any{},
		},
	}
	if err := conn.WriteJSON(payload); err != nil {
		t.Fatalf("write err: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	var env envelope
	if err := conn.ReadJSON(&env); err == nil {
		t.Fatalf("expected no response to a malformed event, got %v", env)
	}

	if _, ok := reg.Snapshot(""); ok {
		t.Fatalf("malformed event must not create a session")
	}
}

func TestDisconnectRecorded(t *testing.T) {
	srv, reg := newTestServer(t)
	conn := dial(t, srv)
	readEnvelope(t, conn)

	payload := map[string]any{
		"event": "interaction",
		"data": map[string]any{
			"participantId":   "p1",
			"appMode":         "cars.csv",
			"appType":         "CONTROL",
			"appLevel":        "practice",
			"interactionType": "scroll",
			"data":            map[string]any{},
		},
	}
	if err := conn.WriteJSON(payload); err != nil {
		t.Fatalf("write err: %v", err)
	}
	readEnvelope(t, conn) // log
	readEnvelope(t, conn) // interaction_response

	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for {
		session, ok := reg.Snapshot("p1")
		if ok && session.DisconnectedAt != nil {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("disconnect was not recorded")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestUnsupportedEvent(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dial(t, srv)
	readEnvelope(t, conn)

	if err := conn.WriteJSON(map[string]any{"event": "telemetry"}); err != nil {
		t.Fatalf("write err: %v", err)
	}

	env := readEnvelope(t, conn)
	if env.Event != "error" {
		t.Fatalf("expected error envelope, got %s", env.Event)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/health")
	if err != nil {
		t.Fatalf("health request err: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
