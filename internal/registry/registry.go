// Package registry owns all participant session state. No other component
// mutates sessions directly; accessors hand out copies.
package registry

import (
	"errors"
	"sync"
	"time"

	"github.com/lumoslab/lumos/backend/internal/model/study"
)

// ErrUnknownParticipant is returned when an append targets a participant the
// registry has never seen. The router always calls GetOrCreate first, so
// hitting this indicates an internal fault rather than bad client input.
var ErrUnknownParticipant = errors.New("unknown participant")

// GetOrCreateParams carries the identifying fields of an inbound interaction.
// Callers validate them before reaching the registry; the registry itself
// never fails.
type GetOrCreateParams struct {
	ParticipantID string
	ConnectionID  string
	Dataset       string
	Condition     string
	Phase         string
	Now           time.Time
}

// Registry maps participant ids to sessions. The outer mutex only guards map
// shape; per-participant work is serialized through Do so that unrelated
// participants never contend on one global lock.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*study.Session
	conns    map[string]string // connection id -> participant id
	locks    map[string]*sync.Mutex
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		sessions: make(map[string]*study.Session),
		conns:    make(map[string]string),
		locks:    make(map[string]*sync.Mutex),
	}
}

// Do runs fn while holding the participant's lock. The router wraps the whole
// getOrCreate/append/compute/respond sequence in it so two events from the
// same participant (duplicate tabs) cannot interleave their updates.
func (r *Registry) Do(participantID string, fn func()) {
	r.mu.Lock()
	lock, ok := r.locks[participantID]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[participantID] = lock
	}
	r.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()
	fn()
}

// GetOrCreate returns a copy of the participant's session, creating it on
// first sight. The connection id is updated unconditionally, which covers
// reconnects that never announced the old connection going away. A change of
// dataset or phase starts a new epoch: both logs are cleared before the
// stored fields are overwritten.
func (r *Registry) GetOrCreate(p GetOrCreateParams) study.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[p.ParticipantID]
	if !ok {
		s = &study.Session{
			ParticipantID: p.ParticipantID,
			ConnectionID:  p.ConnectionID,
			Dataset:       p.Dataset,
			Condition:     p.Condition,
			Phase:         p.Phase,
			ConnectedAt:   p.Now,
			BiasLog:       []study.InteractionEvent{},
			ResponseLog:   []study.Response{},
		}
		r.sessions[p.ParticipantID] = s
	}

	if s.ConnectionID != p.ConnectionID {
		delete(r.conns, s.ConnectionID)
		s.ConnectionID = p.ConnectionID
		s.DisconnectedAt = nil
	}
	r.conns[p.ConnectionID] = p.ParticipantID

	if s.Dataset != p.Dataset || s.Phase != p.Phase {
		s.Dataset = p.Dataset
		s.Phase = p.Phase
		s.BiasLog = []study.InteractionEvent{}
		s.ResponseLog = []study.Response{}
	}

	return s.Clone()
}

// RecordDisconnect stamps the session owning the connection. Unknown
// connection ids are a no-op: the client may disconnect before ever sending
// an interaction.
func (r *Registry) RecordDisconnect(connectionID string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pid, ok := r.conns[connectionID]
	if !ok {
		return
	}
	s, ok := r.sessions[pid]
	if !ok || s.ConnectionID != connectionID {
		return
	}
	t := now
	s.DisconnectedAt = &t
}

// AppendBiasEvent appends an allow-listed interaction to the bias log.
func (r *Registry) AppendBiasEvent(participantID string, event study.InteractionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[participantID]
	if !ok {
		return ErrUnknownParticipant
	}
	s.BiasLog = append(s.BiasLog, event)
	return nil
}

// AppendResponse appends a composed response to the session's response log.
func (r *Registry) AppendResponse(participantID string, response study.Response) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[participantID]
	if !ok {
		return ErrUnknownParticipant
	}
	s.ResponseLog = append(s.ResponseLog, response)
	return nil
}

// BiasLog returns a copy of the participant's accumulated bias log. The
// metrics engine always receives the full log, never a suffix.
func (r *Registry) BiasLog(participantID string) ([]study.InteractionEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[participantID]
	if !ok {
		return nil, ErrUnknownParticipant
	}
	return append([]study.InteractionEvent(nil), s.BiasLog...), nil
}

// Snapshot returns a deep copy of the participant's session.
func (r *Registry) Snapshot(participantID string) (study.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[participantID]
	if !ok {
		return study.Session{}, false
	}
	return s.Clone(), true
}

// ParticipantByConnection resolves the participant currently owning a
// connection handle.
func (r *Registry) ParticipantByConnection(connectionID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pid, ok := r.conns[connectionID]
	return pid, ok
}
