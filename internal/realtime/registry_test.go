package realtime

import (
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proctorly/examlive-backend/internal/model"
)

func drain(s *Session) []Envelope {
	var out []Envelope
	for {
		select {
		case ev, ok := <-s.Outbox():
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestAdmitReplacesExistingSession(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	userID := uuid.New()

	first := r.Admit(userID, model.RoleStudent)
	second := r.Admit(userID, model.RoleStudent)

	// The first outbox is closed so its writer goroutine exits.
	_, open := <-first.Outbox()
	assert.False(t, open)

	// Delivery goes to the replacement only.
	require.True(t, r.SendTo(userID, Envelope{Event: EventHeartbeatAck}))
	events := drain(second)
	require.Len(t, events, 1)
	assert.Equal(t, EventHeartbeatAck, events[0].Event)
}

func TestDismissIgnoresStaleSession(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	userID := uuid.New()

	stale := r.Admit(userID, model.RoleStudent)
	replacement := r.Admit(userID, model.RoleStudent)

	// The stale connection's teardown races the replacement's admit. It
	// must not tear down the new session.
	r.Dismiss(userID, stale)

	assert.True(t, r.Connected(userID))
	assert.True(t, r.SendTo(userID, Envelope{Event: EventHeartbeatAck}))

	r.Dismiss(userID, replacement)
	assert.False(t, r.Connected(userID))
	assert.False(t, r.SendTo(userID, Envelope{Event: EventHeartbeatAck}))
}

func TestDismissRemovesGroupMemberships(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	userID := uuid.New()

	s := r.Admit(userID, model.RoleStudent)
	r.JoinGroup("exam:a", userID)
	r.JoinGroup("exam:b", userID)
	require.Equal(t, 1, r.GroupSize("exam:a"))

	r.Dismiss(userID, s)

	assert.Zero(t, r.GroupSize("exam:a"))
	assert.Zero(t, r.GroupSize("exam:b"))
}

func TestBroadcastReachesGroupMembersOnly(t *testing.T) {
	r := NewRegistry(zerolog.Nop())

	member := r.Admit(uuid.New(), model.RoleStudent)
	outsider := r.Admit(uuid.New(), model.RoleStudent)
	r.JoinGroup("exam:a", member.UserID)

	r.Broadcast("exam:a", Envelope{Event: EventCountdownUpdate})

	assert.Len(t, drain(member), 1)
	assert.Empty(t, drain(outsider))
}

func TestJoinGroupRequiresSession(t *testing.T) {
	r := NewRegistry(zerolog.Nop())

	r.JoinGroup("exam:a", uuid.New())
	assert.Zero(t, r.GroupSize("exam:a"))
}

func TestSendToOfflineUser(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	assert.False(t, r.SendTo(uuid.New(), Envelope{Event: EventHeartbeatAck}))
}

func TestSendDropsWhenOutboxFull(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	userID := uuid.New()
	s := r.Admit(userID, model.RoleStudent)

	for i := 0; i < outboxSize; i++ {
		require.True(t, r.SendTo(userID, Envelope{Event: EventCountdownUpdate}))
	}
	// Buffer full: the event is dropped, the sender never blocks.
	assert.False(t, r.SendTo(userID, Envelope{Event: EventCountdownUpdate}))
	assert.Len(t, drain(s), outboxSize)
}
