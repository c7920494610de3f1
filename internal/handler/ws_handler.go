package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/proctorly/examlive-backend/internal/middleware"
	"github.com/proctorly/examlive-backend/internal/model"
	"github.com/proctorly/examlive-backend/internal/realtime"
	"github.com/proctorly/examlive-backend/internal/service"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allow-list permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler handles the live exam WebSocket streams, for students and for
// monitoring admins. One connection per user; a new connection replaces the
// previous one.
type WSHandler struct {
	registry *realtime.Registry
	rooms    *realtime.RoomManager
	relay    *service.RelayService
	proctor  *service.ProctorService
	scoring  *service.ScoringService
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(
	registry *realtime.Registry,
	rooms *realtime.RoomManager,
	relay *service.RelayService,
	proctor *service.ProctorService,
	scoring *service.ScoringService,
	log zerolog.Logger,
	allowedOrigins []string,
) *WSHandler {
	return &WSHandler{
		registry: registry,
		rooms:    rooms,
		relay:    relay,
		proctor:  proctor,
		scoring:  scoring,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// ExamStream godoc
// WS /ws/v1/exams/stream?token=...
// Upgrades to WebSocket for the student exam session: room join, answer
// relay, proctoring telemetry, and submission.
func (h *WSHandler) ExamStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if claims.Role.IsAdmin() {
		c.JSON(http.StatusForbidden, gin.H{"error": "student stream"})
		return
	}
	h.serve(c, claims, h.dispatchStudent)
}

// AdminStream godoc
// WS /ws/v1/admin/exams/stream?token=...
// Upgrades to WebSocket for live exam monitoring.
func (h *WSHandler) AdminStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if !claims.Role.IsAdmin() {
		c.JSON(http.StatusForbidden, gin.H{"error": "admin stream"})
		return
	}
	h.serve(c, claims, h.dispatchAdmin)
}

// connState is the per-connection exam context, set by a successful join.
type connState struct {
	claims    *service.Claims
	examID    uuid.UUID
	attemptID uuid.UUID
	joined    bool
}

func (h *WSHandler) serve(c *gin.Context, claims *service.Claims, dispatch func(*gin.Context, *connState, *realtime.ClientMessage)) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	session := h.registry.Admit(claims.UserID, claims.Role)

	wsLog := h.log.With().
		Str("user_id", claims.UserID.String()).
		Str("role", string(claims.Role)).
		Logger()
	wsLog.Info().Msg("Client connected")

	// Single writer goroutine per connection preserves event ordering.
	// It exits when the session is closed by a dismissal or replacement.
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		for ev := range session.Outbox() {
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}()

	state := &connState{claims: claims}

	for {
		var msg realtime.ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			break
		}
		dispatch(c, state, &msg)
	}

	// Room membership is connection-scoped; the attempt itself survives a
	// disconnect untouched.
	h.rooms.DisconnectCleanup(claims.UserID)
	h.registry.Dismiss(claims.UserID, session)
	<-writeDone
	wsLog.Info().Msg("Client disconnected")
}

func (h *WSHandler) dispatchStudent(c *gin.Context, state *connState, msg *realtime.ClientMessage) {
	switch msg.Action {
	case realtime.ActionJoinExam:
		h.handleJoinExam(c, state, msg)
	case realtime.ActionSubmitAnswer:
		h.handleSubmitAnswer(c, state, msg)
	case realtime.ActionMarkReview:
		h.handleMarkReview(c, state, msg)
	case realtime.ActionProctoring:
		h.handleProctoring(c, state, msg)
	case realtime.ActionSubmitExam:
		h.handleSubmitExam(c, state)
	case realtime.ActionHeartbeat:
		h.registry.SendTo(state.claims.UserID, realtime.Envelope{Event: realtime.EventHeartbeatAck})
	default:
		h.sendError(state.claims.UserID, "unknown action: "+string(msg.Action))
	}
}

func (h *WSHandler) dispatchAdmin(c *gin.Context, state *connState, msg *realtime.ClientMessage) {
	switch msg.Action {
	case realtime.ActionAdminJoinExam:
		h.handleAdminJoinExam(c, state, msg)
	case realtime.ActionHeartbeat:
		h.registry.SendTo(state.claims.UserID, realtime.Envelope{Event: realtime.EventHeartbeatAck})
	default:
		h.sendError(state.claims.UserID, "unknown action: "+string(msg.Action))
	}
}

func (h *WSHandler) handleJoinExam(c *gin.Context, state *connState, msg *realtime.ClientMessage) {
	examID, err := uuid.Parse(msg.ExamID)
	if err != nil {
		h.sendError(state.claims.UserID, "invalid exam_id")
		return
	}
	attemptID, err := uuid.Parse(msg.AttemptID)
	if err != nil {
		h.sendError(state.claims.UserID, "invalid attempt_id")
		return
	}

	result, err := h.rooms.Join(c.Request.Context(), state.claims.UserID, examID, attemptID)
	if err != nil {
		h.sendError(state.claims.UserID, joinErrorMessage(err))
		return
	}

	state.examID = examID
	state.attemptID = attemptID
	state.joined = true

	h.registry.SendTo(state.claims.UserID, realtime.Envelope{
		Event: realtime.EventExamJoined,
		Data: realtime.ExamJoinedData{
			ExamID:         examID,
			AttemptID:      attemptID,
			TimeRemaining:  int(result.TimeRemaining.Seconds()),
			TotalQuestions: result.Exam.QuestionCount,
		},
	})
}

func (h *WSHandler) handleSubmitAnswer(c *gin.Context, state *connState, msg *realtime.ClientMessage) {
	if !state.joined {
		h.sendError(state.claims.UserID, "join an exam first")
		return
	}
	questionID, err := uuid.Parse(msg.QuestionID)
	if err != nil {
		h.sendError(state.claims.UserID, "invalid question_id")
		return
	}

	err = h.relay.SubmitAnswer(c.Request.Context(), state.attemptID, questionID, msg.Answer, msg.TimeSpent)
	if err != nil {
		h.sendError(state.claims.UserID, relayErrorMessage(err))
		return
	}

	h.registry.SendTo(state.claims.UserID, realtime.Envelope{
		Event: realtime.EventAnswerSubmitted,
		Data:  realtime.AnswerSubmittedData{QuestionID: questionID, Success: true},
	})
}

func (h *WSHandler) handleMarkReview(c *gin.Context, state *connState, msg *realtime.ClientMessage) {
	if !state.joined {
		h.sendError(state.claims.UserID, "join an exam first")
		return
	}
	questionID, err := uuid.Parse(msg.QuestionID)
	if err != nil {
		h.sendError(state.claims.UserID, "invalid question_id")
		return
	}

	err = h.relay.MarkForReview(c.Request.Context(), state.attemptID, questionID, msg.IsMarked)
	if err != nil {
		h.sendError(state.claims.UserID, relayErrorMessage(err))
		return
	}

	h.registry.SendTo(state.claims.UserID, realtime.Envelope{
		Event: realtime.EventReviewMarked,
		Data:  realtime.ReviewMarkedData{QuestionID: questionID, IsMarked: msg.IsMarked, Success: true},
	})
}

func (h *WSHandler) handleProctoring(c *gin.Context, state *connState, msg *realtime.ClientMessage) {
	if !state.joined {
		// Telemetry outside an exam context is dropped, not errored.
		return
	}
	h.proctor.Record(
		c.Request.Context(),
		state.claims.UserID,
		state.examID,
		state.attemptID,
		model.ProctoringEventType(msg.EventType),
		msg.Details,
	)
}

func (h *WSHandler) handleSubmitExam(c *gin.Context, state *connState) {
	if !state.joined {
		h.sendError(state.claims.UserID, "join an exam first")
		return
	}

	// The scoring engine emits exam-submitted with the result and detaches
	// the student from the room.
	if _, err := h.scoring.Submit(c.Request.Context(), state.attemptID, service.FinalizeManual); err != nil {
		h.sendError(state.claims.UserID, "submission failed")
		return
	}
	state.joined = false
}

func (h *WSHandler) handleAdminJoinExam(c *gin.Context, state *connState, msg *realtime.ClientMessage) {
	examID, err := uuid.Parse(msg.ExamID)
	if err != nil {
		h.sendError(state.claims.UserID, "invalid exam_id")
		return
	}

	snapshot, err := h.rooms.AdminJoin(c.Request.Context(), state.claims.UserID, state.claims.Role, examID)
	if err != nil {
		h.sendError(state.claims.UserID, joinErrorMessage(err))
		return
	}

	h.registry.SendTo(state.claims.UserID, realtime.Envelope{
		Event: realtime.EventAdminExamJoined,
		Data:  snapshot,
	})
}

// sendError surfaces a per-event error without closing the connection.
func (h *WSHandler) sendError(userID uuid.UUID, message string) {
	h.registry.SendTo(userID, realtime.Envelope{
		Event: realtime.EventError,
		Data:  realtime.ErrorData{Message: message},
	})
}

func joinErrorMessage(err error) string {
	switch {
	case errors.Is(err, realtime.ErrExamNotFound):
		return "exam not found"
	case errors.Is(err, realtime.ErrAttemptNotFound):
		return "attempt not found"
	case errors.Is(err, realtime.ErrNotYourAttempt):
		return "attempt belongs to another user"
	case errors.Is(err, realtime.ErrAttemptFinished):
		return "attempt is already finalized"
	case errors.Is(err, realtime.ErrAdminOnly):
		return "admin role required"
	default:
		return "join failed"
	}
}

func relayErrorMessage(err error) string {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return "attempt not found"
	case errors.Is(err, service.ErrNoActiveAttempt):
		return "attempt is already finalized"
	default:
		return "save failed"
	}
}
