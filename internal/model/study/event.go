package study

import "time"

// Phase values mirror the study protocol stages sent by the frontend.
const (
	PhasePractice = "practice"
	PhaseLive     = "live"
)

// MalformedEventError reports an inbound event missing a required field.
// Such events are dropped before any session state is touched.
type MalformedEventError struct {
	Field string
}

func (e *MalformedEventError) Error() string {
	return "malformed event: missing field " + e.Field
}

// InteractionEvent is a single user interaction reported by the frontend.
type InteractionEvent struct {
	ParticipantID string         `json:"participantId"`
	Dataset       string         `json:"appMode"`
	Condition     string         `json:"appType"`
	Phase         string         `json:"appLevel"`
	Kind          string         `json:"interactionType"`
	Data          map[string]any `json:"data"`
	InteractedAt  string         `json:"interactionAt,omitempty"`
}

// Validate checks the fields the router requires before touching the registry.
func (e InteractionEvent) Validate() error {
	switch {
	case e.ParticipantID == "":
		return &MalformedEventError{Field: "participantId"}
	case e.Dataset == "":
		return &MalformedEventError{Field: "appMode"}
	case e.Condition == "":
		return &MalformedEventError{Field: "appType"}
	case e.Phase == "":
		return &MalformedEventError{Field: "appLevel"}
	case e.Kind == "":
		return &MalformedEventError{Field: "interactionType"}
	case e.Data == nil:
		return &MalformedEventError{Field: "data"}
	}
	return nil
}

// Insight operation tags. An absent type means a plain create.
const (
	InsightCreate = "create"
	InsightEdit   = "edit_insight"
	InsightDelete = "delete_insight"
)

// InsightEvent carries a free-text insight or an edit/delete operation on a
// previously submitted one. Operations are recorded as new log entries, never
// as in-place mutation, so the full audit history survives.
type InsightEvent struct {
	Type          string `json:"type,omitempty"`
	ParticipantID string `json:"participantId"`
	Text          string `json:"text,omitempty"`
	Group         string `json:"group,omitempty"`
	Index         *int   `json:"index,omitempty"`
	OldText       string `json:"oldText,omitempty"`
	NewText       string `json:"newText,omitempty"`
	Timestamp     string `json:"timestamp,omitempty"`
}

// Operation resolves the operation tag, defaulting to create.
func (e InsightEvent) Operation() string {
	if e.Type == "" {
		return InsightCreate
	}
	return e.Type
}

// Validate requires a participant for every operation and text for creates.
func (e InsightEvent) Validate() error {
	if e.ParticipantID == "" {
		return &MalformedEventError{Field: "participantId"}
	}
	if e.Operation() == InsightCreate && e.Text == "" {
		return &MalformedEventError{Field: "text"}
	}
	return nil
}

// QuestionResponse is a participant's answer to a study question.
type QuestionResponse struct {
	QuestionID    string `json:"question_id"`
	Question      string `json:"question"`
	Response      string `json:"response"`
	ParticipantID string `json:"participant_id"`
}

// Validate checks the persisted-record requirements.
func (q QuestionResponse) Validate() error {
	switch {
	case q.ParticipantID == "":
		return &MalformedEventError{Field: "participant_id"}
	case q.QuestionID == "":
		return &MalformedEventError{Field: "question_id"}
	}
	return nil
}

// ExternalQuestion is a question injected by the experimenter tooling and
// relayed to every connected client.
type ExternalQuestion struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// PageLogDump is the session_end_page_level_logs payload: free-form page
// level rows collected by the frontend, dumped to TSV on session end.
type PageLogDump struct {
	ParticipantID string           `json:"participantId"`
	Data          []map[string]any `json:"data"`
}

// Response is the record composed for every processed interaction. It is
// unicast back to the sender, broadcast to all clients on the log channel,
// and retained in the session's response log.
type Response struct {
	ConnectionID  string           `json:"connection_id"`
	ParticipantID string           `json:"participant_id"`
	Dataset       string           `json:"app_mode"`
	Condition     string           `json:"app_type"`
	Phase         string           `json:"app_level"`
	ProcessedAt   time.Time        `json:"processed_at"`
	Kind          string           `json:"interaction_type"`
	InputData     InteractionEvent `json:"input_data"`
	OutputData    any              `json:"output_data"`
	Error         string           `json:"error,omitempty"`
}
