package study

import "time"

// Session is the per-participant state kept for the lifetime of the process.
// A session survives reconnects: the participant id is the stable key and
// only the connection handle is replaced. Both logs are append-only within a
// (dataset, phase) epoch and are cleared together when the epoch changes.
type Session struct {
	ParticipantID  string             `json:"participant_id"`
	ConnectionID   string             `json:"connection_id"`
	Dataset        string             `json:"app_mode"`
	Condition      string             `json:"app_type"`
	Phase          string             `json:"app_level"`
	ConnectedAt    time.Time          `json:"connected_at"`
	DisconnectedAt *time.Time         `json:"disconnected_at,omitempty"`
	BiasLog        []InteractionEvent `json:"bias_log"`
	ResponseLog    []Response         `json:"response_log"`
}

// Clone returns a deep copy safe to hand outside the registry.
func (s *Session) Clone() Session {
	out := *s
	if s.DisconnectedAt != nil {
		t := *s.DisconnectedAt
		out.DisconnectedAt = &t
	}
	out.BiasLog = append([]InteractionEvent(nil), s.BiasLog...)
	out.ResponseLog = append([]Response(nil), s.ResponseLog...)
	return out
}
