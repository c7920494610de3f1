package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/proctorly/examlive-backend/internal/config"
	"github.com/proctorly/examlive-backend/internal/middleware"
	"github.com/proctorly/examlive-backend/internal/model"
	"github.com/proctorly/examlive-backend/internal/response"
	"github.com/proctorly/examlive-backend/internal/service"
)

const (
	refreshInterval   = 15 * time.Second
	keepAliveInterval = 30 * time.Second
	refreshTimeout    = 5 * time.Second // prevent slow queries from blocking the SSE loop
)

// MonitorHandler streams live exam state to admins over SSE. Escalated
// proctoring events arrive through the exam's Redis Pub/Sub channel; attempt
// progress is polled on a ticker.
type MonitorHandler struct {
	rdb            *redis.Client
	catalogService *service.CatalogService
	attempts       service.AttemptStore
	log            zerolog.Logger
}

func NewMonitorHandler(rdb *redis.Client, catalogService *service.CatalogService, attempts service.AttemptStore, log zerolog.Logger) *MonitorHandler {
	return &MonitorHandler{
		rdb:            rdb,
		catalogService: catalogService,
		attempts:       attempts,
		log:            log.With().Str("component", "monitor_handler").Logger(),
	}
}

// MonitorExamSSE godoc
// GET /api/v1/admin/exams/:exam_id/monitor
func (h *MonitorHandler) MonitorExamSSE(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	if !claims.Role.IsAdmin() {
		response.Fail(c, http.StatusForbidden, response.ErrAdminAccessOnly)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	exam, err := h.catalogService.GetExam(c.Request.Context(), examID)
	if err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}

	reqCtx := c.Request.Context()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	h.sendSnapshot(c, reqCtx, exam)

	channelName := config.CacheKey.ExamMonitorChannel(examID.String())
	pubsub := h.rdb.Subscribe(reqCtx, channelName)
	defer pubsub.Close()

	ch := pubsub.Channel()

	keepAliveTicker := time.NewTicker(keepAliveInterval)
	defer keepAliveTicker.Stop()

	refreshTicker := time.NewTicker(refreshInterval)
	defer refreshTicker.Stop()

	h.log.Info().Str("exam_id", examID.String()).Msg("Admin attached to live monitor SSE")

	pingPayload, _ := json.Marshal(map[string]string{"type": "ping"})

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Str("exam_id", examID.String()).Msg("Admin detached from live monitor SSE")
			return

		case msg := <-ch:
			// Escalations are published as ready-to-send JSON; forward the
			// raw payload without deserializing.
			c.Writer.Write([]byte("data: "))
			c.Writer.Write([]byte(msg.Payload))
			c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()

		case <-refreshTicker.C:
			h.sendSnapshot(c, reqCtx, exam)

		case <-keepAliveTicker.C:
			c.Writer.Write([]byte("data: "))
			c.Writer.Write(pingPayload)
			c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()
		}
	}
}

// sendSnapshot queries current attempt progress and writes one SSE event.
// Used both for the initial state and for periodic refreshes.
func (h *MonitorHandler) sendSnapshot(c *gin.Context, parentCtx context.Context, exam *model.Exam) {
	ctx, cancel := context.WithTimeout(parentCtx, refreshTimeout)
	defer cancel()

	active, err := h.attempts.ListActiveByExam(ctx, exam.ID)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to list active attempts for snapshot")
		return
	}
	finished, err := h.attempts.ListTerminalByExam(ctx, exam.ID)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to list finished attempts for snapshot")
		return
	}

	now := time.Now()
	students := make([]map[string]interface{}, 0, len(active))
	for i := range active {
		a := &active[i]
		students = append(students, map[string]interface{}{
			"user_id":             a.UserID,
			"attempt_id":          a.ID,
			"status":              a.Status,
			"started_at":          a.StartedAt,
			"answered_count":      a.AnsweredCount(),
			"tab_switches":        a.TabSwitches,
			"copy_paste_attempts": a.CopyPasteAttempts,
			"time_remaining":      int(a.TimeRemaining(exam, now).Seconds()),
		})
	}

	c.SSEvent("message", map[string]interface{}{
		"type": "snapshot",
		"data": map[string]interface{}{
			"exam": map[string]interface{}{
				"id":              exam.ID,
				"title":           exam.Title,
				"duration":        exam.DurationSeconds,
				"total_questions": exam.QuestionCount,
			},
			"stats": map[string]interface{}{
				"total_in_progress": len(active),
				"total_completed":   len(finished),
			},
			"students": students,
		},
	})
	c.Writer.Flush()
}
