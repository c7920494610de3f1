package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/proctorly/examlive-backend/internal/middleware"
	"github.com/proctorly/examlive-backend/internal/response"
	"github.com/proctorly/examlive-backend/internal/service"
)

// AttemptHandler handles the attempt lifecycle REST endpoints.
type AttemptHandler struct {
	attemptService *service.AttemptService
	catalogService *service.CatalogService
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(attemptService *service.AttemptService, catalogService *service.CatalogService) *AttemptHandler {
	return &AttemptHandler{
		attemptService: attemptService,
		catalogService: catalogService,
	}
}

// StartAttempt godoc
// POST /api/v1/student/exams/:exam_id/attempts
// Returns the student's active attempt for the exam, creating one if needed.
func (h *AttemptHandler) StartAttempt(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	attempt, err := h.attemptService.Start(c.Request.Context(), claims.UserID, examID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotFound):
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		case errors.Is(err, service.ErrExamNotAvailable):
			response.Fail(c, http.StatusConflict, response.ErrExamNotAvailable)
		default:
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	response.Success(c, http.StatusCreated, gin.H{
		"attempt": gin.H{
			"id":         attempt.ID,
			"exam_id":    attempt.ExamID,
			"status":     attempt.Status,
			"started_at": attempt.StartedAt,
		},
	})
}

// GetResult godoc
// GET /api/v1/student/attempts/:attempt_id/result
// Returns the finalized result of the caller's own attempt.
func (h *AttemptHandler) GetResult(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	result, err := h.attemptService.GetResult(c.Request.Context(), claims.UserID, attemptID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotFound):
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		case errors.Is(err, service.ErrForbidden):
			response.Fail(c, http.StatusForbidden, response.ErrForbidden)
		case errors.Is(err, service.ErrResultNotReady):
			response.Fail(c, http.StatusConflict, response.ErrResultNotReady)
		default:
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	response.Success(c, http.StatusOK, gin.H{"result": result})
}

// ListExams godoc
// GET /api/v1/student/exams
// Lists exams currently open for joining.
func (h *AttemptHandler) ListExams(c *gin.Context) {
	exams, err := h.catalogService.ListActive(c.Request.Context())
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	now := time.Now()
	out := make([]gin.H, 0, len(exams))
	for i := range exams {
		e := &exams[i]
		out = append(out, gin.H{
			"id":               e.ID,
			"title":            e.Title,
			"duration_seconds": e.DurationSeconds,
			"scheduled_start":  e.ScheduledStart,
			"scheduled_end":    e.ScheduledEnd,
			"question_count":   e.QuestionCount,
			"joinable":         e.InActiveWindow(now),
		})
	}

	response.Success(c, http.StatusOK, gin.H{"exams": out})
}

// Leaderboard godoc
// GET /api/v1/admin/exams/:exam_id/results
// Lists finalized attempts ranked by score, ties broken by earlier submission.
func (h *AttemptHandler) Leaderboard(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	ranked, err := h.attemptService.Leaderboard(c.Request.Context(), examID)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	out := make([]gin.H, 0, len(ranked))
	for i := range ranked {
		a := &ranked[i]
		out = append(out, gin.H{
			"attempt_id":   a.ID,
			"user_id":      a.UserID,
			"status":       a.Status,
			"total_score":  a.TotalScore,
			"max_score":    a.MaxScore,
			"percentage":   a.Percentage,
			"rank":         a.Rank,
			"percentile":   a.Percentile,
			"submitted_at": a.SubmittedAt,
		})
	}

	response.Success(c, http.StatusOK, gin.H{"results": out})
}
