// Package study orchestrates the event pipeline: registry bookkeeping, bias
// classification, metric computation, response composition, delivery, and
// forwarding to storage.
package study

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/lumoslab/lumos/backend/internal/bias"
	"github.com/lumoslab/lumos/backend/internal/model/study"
	"github.com/lumoslab/lumos/backend/internal/registry"
	"github.com/lumoslab/lumos/backend/internal/storage"
)

// Outbound event names.
const (
	EventLog                 = "log"
	EventInteractionResponse = "interaction_response"
	EventInsightSaved        = "insight_saved"
	EventQuestion            = "question"
)

// Emitter delivers outbound events. Both deliveries are best-effort; the
// service never retries or blocks on them.
type Emitter interface {
	Send(connectionID, event string, data any) error
	Broadcast(event string, data any)
}

// Service is the event router / response composer.
type Service struct {
	registry   *registry.Registry
	classifier *bias.Classifier
	engine     *bias.Engine
	emitter    Emitter
	store      storage.Store
	writer     *storage.Writer
	group      string
	now        func() time.Time
}

// New wires the router to its collaborators. group tags every persisted
// interaction record with the study deployment it came from.
func New(reg *registry.Registry, classifier *bias.Classifier, engine *bias.Engine, emitter Emitter, store storage.Store, writer *storage.Writer, group string) *Service {
	return &Service{
		registry:   reg,
		classifier: classifier,
		engine:     engine,
		emitter:    emitter,
		store:      store,
		writer:     writer,
		group:      group,
		now:        time.Now,
	}
}

// HandleInteraction runs the full pipeline for one inbound interaction.
// Malformed events are dropped before any session mutation; the returned
// error then is a *study.MalformedEventError. A metrics failure does not drop
// the event: the response goes out with Error set instead of output data, so
// the operator can see the fault in the live record.
func (s *Service) HandleInteraction(ctx context.Context, connectionID string, ev study.InteractionEvent) (study.Response, error) {
	if err := ev.Validate(); err != nil {
		return study.Response{}, err
	}

	var (
		resp     study.Response
		innerErr error
	)
	s.registry.Do(ev.ParticipantID, func() {
		s.registry.GetOrCreate(registry.GetOrCreateParams{
			ParticipantID: ev.ParticipantID,
			ConnectionID:  connectionID,
			Dataset:       ev.Dataset,
			Condition:     ev.Condition,
			Phase:         ev.Phase,
			Now:           s.now(),
		})

		resp = study.Response{
			ConnectionID:  connectionID,
			ParticipantID: ev.ParticipantID,
			Dataset:       ev.Dataset,
			Condition:     ev.Condition,
			Phase:         ev.Phase,
			ProcessedAt:   s.now(),
			Kind:          ev.Kind,
			InputData:     ev,
		}

		if s.classifier.Relevant(ev.Kind) {
			if innerErr = s.registry.AppendBiasEvent(ev.ParticipantID, ev); innerErr != nil {
				return
			}
			var biasLog []study.InteractionEvent
			if biasLog, innerErr = s.registry.BiasLog(ev.ParticipantID); innerErr != nil {
				return
			}
			metrics, err := s.engine.Compute(ev.Dataset, biasLog)
			if err != nil {
				log.Printf("[study] metrics computation failed participant=%s dataset=%s: %v", ev.ParticipantID, ev.Dataset, err)
				resp.Error = err.Error()
			} else {
				resp.OutputData = metrics
			}
		}

		innerErr = s.registry.AppendResponse(ev.ParticipantID, resp)
	})
	if innerErr != nil {
		return study.Response{}, fmt.Errorf("registry update for %s: %w", ev.ParticipantID, innerErr)
	}

	s.emitter.Broadcast(EventLog, resp)
	if err := s.emitter.Send(connectionID, EventInteractionResponse, resp); err != nil {
		log.Printf("[study] unicast response failed connection=%s: %v", connectionID, err)
	}

	s.writer.Enqueue(storage.CollectionInteractions, storage.Record{
		"participant_id":   ev.ParticipantID,
		"interaction_type": ev.Kind,
		"interacted_value": ev.Data,
		"group":            s.group,
		"timestamp":        s.now().UTC().Format(time.RFC3339),
	})

	return resp, nil
}

// HandleInsight records an insight operation and acks the sender. Edits and
// deletes land in insight_operations as fresh records; nothing is mutated in
// place, so the audit history stays complete. The store write happens before
// the ack so the reported status is real.
func (s *Service) HandleInsight(ctx context.Context, connectionID string, ev study.InsightEvent) error {
	if err := ev.Validate(); err != nil {
		s.ackInsight(connectionID, "error", err.Error(), nil)
		return err
	}

	timestamp := ev.Timestamp
	if timestamp == "" {
		timestamp = s.now().UTC().Format(time.RFC3339)
	}
	index := -1
	if ev.Index != nil {
		index = *ev.Index
	}

	var (
		collection string
		record     storage.Record
	)
	switch ev.Operation() {
	case study.InsightCreate:
		group := ev.Group
		if group == "" {
			group = "interaction_trace"
		}
		collection = storage.CollectionInsights
		record = storage.Record{
			"text":           ev.Text,
			"timestamp":      timestamp,
			"group":          group,
			"participant_id": ev.ParticipantID,
			"operation":      "create",
		}
	case study.InsightEdit:
		collection = storage.CollectionInsightOperations
		record = storage.Record{
			"participant_id": ev.ParticipantID,
			"index":          index,
			"old_text":       ev.OldText,
			"new_text":       ev.NewText,
			"timestamp":      timestamp,
			"operation":      "edit",
		}
	case study.InsightDelete:
		collection = storage.CollectionInsightOperations
		record = storage.Record{
			"participant_id": ev.ParticipantID,
			"index":          index,
			"timestamp":      timestamp,
			"operation":      "delete",
		}
	default:
		err := fmt.Errorf("unknown insight operation %q", ev.Operation())
		s.ackInsight(connectionID, "error", err.Error(), nil)
		return err
	}

	if err := s.store.Add(ctx, collection, record); err != nil {
		log.Printf("[study] insight write failed participant=%s: %v", ev.ParticipantID, err)
		s.ackInsight(connectionID, "error", err.Error(), nil)
		return err
	}

	s.ackInsight(connectionID, "success", "", record)
	return nil
}

func (s *Service) ackInsight(connectionID, status, message string, record storage.Record) {
	payload := map[string]any{"status": status}
	if message != "" {
		payload["message"] = message
	}
	if record != nil {
		payload["insight"] = record
	}
	if err := s.emitter.Send(connectionID, EventInsightSaved, payload); err != nil {
		log.Printf("[study] insight ack failed connection=%s: %v", connectionID, err)
	}
}

// HandleQuestionResponse persists a participant's answer to a study question.
func (s *Service) HandleQuestionResponse(ctx context.Context, ev study.QuestionResponse) error {
	if err := ev.Validate(); err != nil {
		return err
	}

	s.writer.Enqueue(storage.CollectionResponses, storage.Record{
		"question_id":    ev.QuestionID,
		"question":       ev.Question,
		"response":       ev.Response,
		"participant_id": ev.ParticipantID,
		"timestamp":      s.now().UTC().Format(time.RFC3339),
	})
	return nil
}

// HandleExternalQuestion records a question injected by experimenter tooling
// and relays it to every connected client.
func (s *Service) HandleExternalQuestion(ctx context.Context, q study.ExternalQuestion) {
	s.writer.Enqueue(storage.CollectionQuestions, storage.Record{
		"question_id": q.ID,
		"question":    q.Text,
		"timestamp":   s.now().UTC().Format(time.RFC3339),
	})
	s.emitter.Broadcast(EventQuestion, q)
}

// WithClock overrides the service clock. Test hook.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}
