package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/heyavanindra/FrenCircle-sub001/internal/transport/http/middleware"
	"github.com/heyavanindra/FrenCircle-sub001/internal/usecase"
)

// SessionHandler exposes the caller's own sessions.
type SessionHandler struct {
	auth AuthAPI
}

// NewSessionHandler constructs a session handler.
func NewSessionHandler(auth AuthAPI) *SessionHandler {
	return &SessionHandler{auth: auth}
}

// RegisterRoutes binds session routes. The group must already require authentication.
func (h *SessionHandler) RegisterRoutes(r *gin.RouterGroup) {
	if r == nil {
		return
	}

	r.GET("", h.ListSessions)
	r.DELETE("/:session_id", h.RevokeSession)
}

// ListSessions returns the caller's active sessions, flagging the one bound to the request.
func (h *SessionHandler) ListSessions(c *gin.Context) {
	userID, ok := middleware.GetAuthenticatedUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, middleware.InvalidTokenMessage))
		return
	}

	sessions, err := h.auth.ListSessions(c.Request.Context(), userID)
	if err != nil {
		RespondWithMappedError(c, err, nil, http.StatusInternalServerError, "failed to list sessions")
		return
	}

	current := middleware.GetSessionID(c)
	payload := make([]SessionPayload, 0, len(sessions))
	for _, session := range sessions {
		payload = append(payload, newSessionPayload(session, current))
	}

	c.JSON(http.StatusOK, SessionListResponse{Sessions: payload, Total: len(payload)})
}

// RevokeSession ends one of the caller's sessions. Sessions owned by someone else are
// reported as missing.
func (h *SessionHandler) RevokeSession(c *gin.Context) {
	userID, ok := middleware.GetAuthenticatedUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, middleware.InvalidTokenMessage))
		return
	}

	sessionID := strings.TrimSpace(c.Param("session_id"))
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "session_id is required"))
		return
	}

	err := h.auth.RevokeSession(c.Request.Context(), userID, sessionID, middleware.DeviceFromContext(c))
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrSessionForbidden, Status: http.StatusNotFound, Message: "session not found"},
			{Err: usecase.ErrSessionNotFound, Status: http.StatusNotFound, Message: "session not found"},
			{Err: usecase.ErrSessionAlreadyRevoked, Status: http.StatusNotFound, Message: "session not found"},
			{Err: usecase.ErrValidation, Status: http.StatusBadRequest, Message: "invalid session id"},
		}, http.StatusInternalServerError, "failed to revoke session")
		return
	}

	c.Status(http.StatusNoContent)
}
