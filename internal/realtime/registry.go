package realtime

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/proctorly/examlive-backend/internal/model"
)

// Registry maps authenticated identities to their live session endpoint and
// named delivery groups. State is in-memory and process-local: a restart
// loses memberships, not attempt data, and clients rebuild it on reconnect.
//
// The registry is constructed once at startup and injected; it is not a
// package-level singleton, so tests can run independent instances.
type Registry struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
	groups   map[string]map[uuid.UUID]struct{}
	log      zerolog.Logger
}

// NewRegistry creates an empty session registry.
func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		sessions: make(map[uuid.UUID]*Session),
		groups:   make(map[string]map[uuid.UUID]struct{}),
		log:      log.With().Str("component", "session_registry").Logger(),
	}
}

// Admit registers a new session for the identity, replacing and closing any
// prior endpoint for the same user: one active session per user.
func (r *Registry) Admit(userID uuid.UUID, role model.Role) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.sessions[userID]; ok {
		prev.close()
		r.log.Debug().Str("user_id", userID.String()).Msg("Replaced existing session")
	}

	s := newSession(userID, role)
	r.sessions[userID] = s
	return s
}

// Dismiss removes the identity's session and every group membership.
// Idempotent; dismissing an unknown user is a no-op. The session passed by
// the caller is only closed if it is still the registered one, so a
// stale disconnect never tears down a replacement session.
func (r *Registry) Dismiss(userID uuid.UUID, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.sessions[userID]
	if !ok || (s != nil && current != s) {
		return
	}

	delete(r.sessions, userID)
	for name, members := range r.groups {
		delete(members, userID)
		if len(members) == 0 {
			delete(r.groups, name)
		}
	}
	current.close()
}

// JoinGroup adds the user to a named group. Unknown users are ignored.
func (r *Registry) JoinGroup(group string, userID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[userID]; !ok {
		return
	}
	members, ok := r.groups[group]
	if !ok {
		members = make(map[uuid.UUID]struct{})
		r.groups[group] = members
	}
	members[userID] = struct{}{}
}

// LeaveGroup removes the user from a named group. Idempotent.
func (r *Registry) LeaveGroup(group string, userID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.groups[group]
	if !ok {
		return
	}
	delete(members, userID)
	if len(members) == 0 {
		delete(r.groups, group)
	}
}

// SendTo delivers an event to the identity's current endpoint, best effort.
// Offline identities miss the event; there is no queuing.
func (r *Registry) SendTo(userID uuid.UUID, ev Envelope) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[userID]
	if !ok {
		return false
	}
	return s.send(ev)
}

// Broadcast delivers an event to every member of a group, best effort.
func (r *Registry) Broadcast(group string, ev Envelope) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for userID := range r.groups[group] {
		if s, ok := r.sessions[userID]; ok {
			s.send(ev)
		}
	}
}

// GroupSize returns the current member count of a group.
func (r *Registry) GroupSize(group string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.groups[group])
}

// Connected reports whether the identity has a live endpoint.
func (r *Registry) Connected(userID uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[userID]
	return ok
}
