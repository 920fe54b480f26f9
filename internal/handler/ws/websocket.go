// Package ws is the websocket endpoint: one connection per study client,
// JSON envelopes in both directions.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lumoslab/lumos/backend/internal/dataset"
	"github.com/lumoslab/lumos/backend/internal/export"
	"github.com/lumoslab/lumos/backend/internal/hub"
	"github.com/lumoslab/lumos/backend/internal/model/study"
	"github.com/lumoslab/lumos/backend/internal/registry"
	studyservice "github.com/lumoslab/lumos/backend/internal/service/study"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
)

// Handler upgrades connections and dispatches inbound envelopes.
type Handler struct {
	svc      *studyservice.Service
	registry *registry.Registry
	hub      *hub.Hub
	catalog  *dataset.Catalog
	exporter *export.Exporter
	upgrader websocket.Upgrader
}

// New builds the websocket handler.
func New(svc *studyservice.Service, reg *registry.Registry, h *hub.Hub, catalog *dataset.Catalog, exporter *export.Exporter) *Handler {
	return &Handler{
		svc:      svc,
		registry: reg,
		hub:      h,
		catalog:  catalog,
		exporter: exporter,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes mounts the endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleSocket)
}

type inboundEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (h *Handler) handleSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[websocket] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	connectionID := uuid.NewString()
	h.hub.Register(connectionID, conn)
	defer func() {
		h.hub.Unregister(connectionID)
		h.registry.RecordDisconnect(connectionID, time.Now())
		log.Printf("[websocket] disconnected: %s", connectionID)
	}()

	log.Printf("[websocket] connected: %s", connectionID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	go h.pingLoop(ctx, connectionID)

	// Every client gets the precomputed value distributions up front; the
	// frontend needs them before the first interaction renders.
	if err := h.hub.Send(connectionID, "attribute_distribution", h.catalog.Distributions()); err != nil {
		return
	}

	for {
		var env inboundEnvelope
		if err := conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[websocket] read error: %v", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		h.dispatch(ctx, connectionID, env)
	}
}

func (h *Handler) dispatch(ctx context.Context, connectionID string, env inboundEnvelope) {
	switch env.Event {
	case "interaction", "recieve_interaction": // second spelling kept for the frontend that still emits it
		h.handleInteraction(ctx, connectionID, env.Data)
	case "insight":
		h.handleInsight(ctx, connectionID, env.Data)
	case "question_response":
		h.handleQuestionResponse(ctx, connectionID, env.Data)
	case "receive_external_question":
		h.handleExternalQuestion(ctx, connectionID, env.Data)
	case "save_logs":
		h.handleSaveLogs(connectionID)
	case "session_end_page_level_logs":
		h.handlePageLogs(connectionID, env.Data)
	default:
		h.sendError(connectionID, "unsupported event: "+env.Event)
	}
}

func (h *Handler) handleInteraction(ctx context.Context, connectionID string, raw json.RawMessage) {
	var ev study.InteractionEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		h.sendError(connectionID, "invalid interaction payload")
		return
	}

	if _, err := h.svc.HandleInteraction(ctx, connectionID, ev); err != nil {
		var malformed *study.MalformedEventError
		if errors.As(err, &malformed) {
			// Dropped by design: no session mutation, no response.
			log.Printf("[websocket] dropped malformed interaction connection=%s: %v", connectionID, err)
			return
		}
		log.Printf("[websocket] interaction handling failed connection=%s: %v", connectionID, err)
		h.sendError(connectionID, "interaction handling failed")
	}
}

func (h *Handler) handleInsight(ctx context.Context, connectionID string, raw json.RawMessage) {
	var ev study.InsightEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		h.sendError(connectionID, "invalid insight payload")
		return
	}
	if err := h.svc.HandleInsight(ctx, connectionID, ev); err != nil {
		log.Printf("[websocket] insight handling failed connection=%s: %v", connectionID, err)
	}
}

func (h *Handler) handleQuestionResponse(ctx context.Context, connectionID string, raw json.RawMessage) {
	var ev study.QuestionResponse
	if err := json.Unmarshal(raw, &ev); err != nil {
		h.sendError(connectionID, "invalid question_response payload")
		return
	}
	if err := h.svc.HandleQuestionResponse(ctx, ev); err != nil {
		log.Printf("[websocket] question response dropped connection=%s: %v", connectionID, err)
	}
}

func (h *Handler) handleExternalQuestion(ctx context.Context, connectionID string, raw json.RawMessage) {
	var q study.ExternalQuestion
	if err := json.Unmarshal(raw, &q); err != nil {
		h.sendError(connectionID, "invalid question payload")
		return
	}
	h.svc.HandleExternalQuestion(ctx, q)
}

func (h *Handler) handleSaveLogs(connectionID string) {
	participantID, ok := h.registry.ParticipantByConnection(connectionID)
	if !ok {
		return
	}
	session, ok := h.registry.Snapshot(participantID)
	if !ok {
		return
	}

	path, err := h.exporter.ResponseLog(session, time.Now())
	if err != nil {
		log.Printf("[websocket] save_logs failed participant=%s: %v", participantID, err)
		return
	}
	log.Printf("[websocket] saved logs to %s", path)
}

func (h *Handler) handlePageLogs(connectionID string, raw json.RawMessage) {
	var dump study.PageLogDump
	if err := json.Unmarshal(raw, &dump); err != nil {
		h.sendError(connectionID, "invalid page log payload")
		return
	}
	if dump.ParticipantID == "" || len(dump.Data) == 0 {
		return
	}
	session, ok := h.registry.Snapshot(dump.ParticipantID)
	if !ok {
		return
	}

	path, err := h.exporter.PageLogs(session.Condition, dump.ParticipantID, dump.Data, time.Now())
	if err != nil {
		log.Printf("[websocket] page log export failed participant=%s: %v", dump.ParticipantID, err)
		return
	}
	log.Printf("[websocket] saved session end page logs to %s", path)
}

func (h *Handler) sendError(connectionID, message string) {
	if err := h.hub.Send(connectionID, "error", map[string]string{"message": message}); err != nil {
		log.Printf("[websocket] write error failed: %v", err)
	}
}

func (h *Handler) pingLoop(ctx context.Context, connectionID string) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.hub.Ping(connectionID); err != nil {
				return
			}
		}
	}
}
