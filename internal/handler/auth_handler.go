package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/proctorly/examlive-backend/internal/middleware"
	"github.com/proctorly/examlive-backend/internal/model"
	"github.com/proctorly/examlive-backend/internal/response"
	"github.com/proctorly/examlive-backend/internal/service"
	"github.com/proctorly/examlive-backend/internal/validator"
)

// AuthHandler handles authentication endpoints.
type AuthHandler struct {
	authService *service.AuthService
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(authService *service.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

// StudentLogin godoc
// POST /api/v1/auth/student/login
// Validates email + password, checks for existing session (rejects if active), returns JWT.
func (h *AuthHandler) StudentLogin(c *gin.Context) {
	h.login(c, false)
}

// AdminLogin godoc
// POST /api/v1/auth/admin/login
// Validates email + password, returns JWT. Admins are not single-session bound.
func (h *AuthHandler) AdminLogin(c *gin.Context) {
	h.login(c, true)
}

func (h *AuthHandler) login(c *gin.Context, wantAdmin bool) {
	var req model.LoginRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	token, user, err := h.authService.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrSessionActive):
			response.Fail(c, http.StatusConflict, response.ErrSessionActive)
		case errors.Is(err, service.ErrAccountInactive):
			response.Fail(c, http.StatusUnauthorized, response.ErrAccountInactive)
		case errors.Is(err, service.ErrInvalidCredentials):
			response.Fail(c, http.StatusUnauthorized, response.ErrInvalidCredentials)
		default:
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	if user.Role.IsAdmin() != wantAdmin {
		code := response.ErrAdminAccessOnly
		if !wantAdmin {
			code = response.ErrStudentAccessOnly
		}
		// A student probing the admin endpoint must not be left with a
		// claimed session slot.
		if !user.Role.IsAdmin() {
			_ = h.authService.ResetSession(c.Request.Context(), user.ID)
		}
		response.Fail(c, http.StatusForbidden, code)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"token": token,
		"user": gin.H{
			"id":    user.ID,
			"name":  user.Name,
			"email": user.Email,
			"role":  user.Role,
		},
	})
}

// Logout godoc
// POST /api/v1/auth/logout
// Releases the caller's active session so a new login succeeds.
func (h *AuthHandler) Logout(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	if err := h.authService.ResetSession(c.Request.Context(), claims.UserID); err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{})
}

// Me godoc
// GET /api/v1/auth/me
// Returns the profile of the currently authenticated user.
func (h *AuthHandler) Me(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	profile, err := h.authService.GetPublicProfile(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"user": profile,
		"role": claims.Role,
	})
}
