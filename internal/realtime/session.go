package realtime

import (
	"sync"

	"github.com/google/uuid"

	"github.com/proctorly/examlive-backend/internal/model"
)

// outboxSize bounds the per-session send buffer. Delivery is best effort:
// a full buffer drops the event rather than blocking the sender.
const outboxSize = 64

// Session is one live transport endpoint for an authenticated identity.
// The transport layer drains Outbox with a single writer goroutine, which
// preserves FIFO ordering per connection.
type Session struct {
	UserID uuid.UUID
	Role   model.Role

	outbox    chan Envelope
	closeOnce sync.Once
}

func newSession(userID uuid.UUID, role model.Role) *Session {
	return &Session{
		UserID: userID,
		Role:   role,
		outbox: make(chan Envelope, outboxSize),
	}
}

// Outbox returns the channel the transport writer drains. It is closed when
// the session is dismissed or replaced.
func (s *Session) Outbox() <-chan Envelope {
	return s.outbox
}

// send enqueues an event, dropping it if the buffer is full. Called only
// while the registry holds its lock, which excludes close.
func (s *Session) send(ev Envelope) bool {
	select {
	case s.outbox <- ev:
		return true
	default:
		return false
	}
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.outbox)
	})
}
