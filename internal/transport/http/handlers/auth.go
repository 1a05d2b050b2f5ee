package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/heyavanindra/FrenCircle-sub001/internal/core/domain"
	"github.com/heyavanindra/FrenCircle-sub001/internal/transport/http/middleware"
	"github.com/heyavanindra/FrenCircle-sub001/internal/usecase"
)

// AuthAPI is the slice of the auth service the HTTP layer calls.
type AuthAPI interface {
	Login(ctx context.Context, input usecase.LoginInput) (*usecase.LoginResult, error)
	Refresh(ctx context.Context, secret string, device usecase.DeviceInfo) (*usecase.RefreshResult, error)
	Logout(ctx context.Context, sessionID string, device usecase.DeviceInfo) error
	LogoutWithRefreshToken(ctx context.Context, secret string, device usecase.DeviceInfo) error
	LogoutAllOtherSessions(ctx context.Context, userID, exceptSessionID string, device usecase.DeviceInfo) (int, error)
	ListSessions(ctx context.Context, userID string) ([]domain.Session, error)
	RevokeSession(ctx context.Context, userID, sessionID string, device usecase.DeviceInfo) error
	RequestOtp(ctx context.Context, email string, purpose domain.CodePurpose, device usecase.DeviceInfo) (*usecase.IssuedCode, error)
	VerifyOtp(ctx context.Context, email string, purpose domain.CodePurpose, code string, device usecase.DeviceInfo) (usecase.VerifyOutcome, error)
	CompletePasswordReset(ctx context.Context, email, code, newPassword string, device usecase.DeviceInfo) error
}

var _ AuthAPI = (*usecase.AuthService)(nil)

// AuthHandler exposes authentication endpoints.
type AuthHandler struct {
	auth   AuthAPI
	cookie RefreshCookie
	now    func() time.Time
}

// NewAuthHandler constructs AuthHandler.
func NewAuthHandler(auth AuthAPI) *AuthHandler {
	return &AuthHandler{
		auth: auth,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// WithRefreshCookie makes login and refresh set the refresh secret as an HTTP-only cookie,
// and lets refresh and logout read it when the body carries no token.
func (h *AuthHandler) WithRefreshCookie(cookie RefreshCookie) *AuthHandler {
	h.cookie = cookie
	return h
}

// RegisterRoutes binds the public auth routes. publicMiddlewares run ahead of the
// unauthenticated handlers; requireAuth guards the rest.
func (h *AuthHandler) RegisterRoutes(r *gin.RouterGroup, requireAuth gin.HandlerFunc, publicMiddlewares ...gin.HandlerFunc) {
	public := r.Group("")
	public.Use(publicMiddlewares...)
	public.POST("/login", h.login)
	public.POST("/refresh", h.refresh)
	public.POST("/otp/request", h.requestOtp)
	public.POST("/otp/verify", h.verifyOtp)
	public.POST("/password/reset", h.resetPassword)

	r.POST("/logout", requireAuth, h.logout)
	r.POST("/logout-others", requireAuth, h.logoutOthers)
}

func (h *AuthHandler) login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "identifier and password are required"))
		return
	}

	result, err := h.auth.Login(c.Request.Context(), usecase.LoginInput{
		Identifier:        strings.TrimSpace(req.Identifier),
		Password:          req.Password,
		RememberMe:        req.RememberMe,
		TwoFactorCode:     strings.TrimSpace(req.TwoFactorCode),
		TwoFactorMethodID: strings.TrimSpace(req.TwoFactorMethodID),
		Device:            middleware.DeviceFromContext(c),
	})
	if err != nil {
		var challenge *usecase.TwoFactorRequiredError
		if errors.As(err, &challenge) {
			c.JSON(http.StatusUnauthorized, TwoFactorChallengeResponse{
				Error:      "two-factor code required",
				MethodID:   challenge.MethodID,
				MethodType: string(challenge.MethodType),
				CodeSent:   challenge.CodeSent,
				TraceID:    middleware.GetTraceID(c),
			})
			return
		}

		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrInvalidCredentials, Status: http.StatusUnauthorized, Message: "invalid credentials"},
			{Err: usecase.ErrTwoFactorInvalid, Status: http.StatusUnauthorized, Message: "invalid two-factor code"},
			{Err: usecase.ErrAccountInactive, Status: http.StatusForbidden, Message: "account inactive"},
			{Err: usecase.ErrValidation, Status: http.StatusBadRequest, Message: "invalid login payload"},
		}, http.StatusInternalServerError, "authentication failed")
		return
	}

	now := h.now()
	h.cookie.set(c, result.RefreshToken, result.RefreshTokenExpiresAt, now)
	resp := newTokenResponse(result.TokenPair, now)
	summary := newUserSummary(result.User)
	resp.User = &summary
	c.JSON(http.StatusOK, resp)
}

func (h *AuthHandler) refresh(c *gin.Context) {
	var req RefreshRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid refresh payload"))
			return
		}
	}

	secret := strings.TrimSpace(req.RefreshToken)
	if secret == "" {
		secret = h.cookie.read(c)
	}
	if secret == "" {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "refresh_token is required"))
		return
	}

	result, err := h.auth.Refresh(c.Request.Context(), secret, middleware.DeviceFromContext(c))
	if err != nil {
		if isInvalidToken(err) {
			h.cookie.clear(c)
		}
		RespondWithMappedError(c, err, invalidTokenCases, http.StatusInternalServerError, "failed to refresh token")
		return
	}

	now := h.now()
	h.cookie.set(c, result.RefreshToken, result.RefreshTokenExpiresAt, now)
	c.JSON(http.StatusOK, newTokenResponse(result.TokenPair, now))
}

func (h *AuthHandler) logout(c *gin.Context) {
	var req LogoutRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid logout payload"))
			return
		}
	}

	device := middleware.DeviceFromContext(c)
	var err error
	secret := strings.TrimSpace(req.RefreshToken)
	if secret == "" {
		secret = h.cookie.read(c)
	}
	switch sessionID := middleware.GetSessionID(c); {
	case sessionID != "":
		err = h.auth.Logout(c.Request.Context(), sessionID, device)
	case secret != "":
		err = h.auth.LogoutWithRefreshToken(c.Request.Context(), secret, device)
	default:
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "no session to log out"))
		return
	}

	if err != nil && !errors.Is(err, usecase.ErrSessionNotFound) {
		RespondWithMappedError(c, err, invalidTokenCases, http.StatusInternalServerError, "failed to log out")
		return
	}
	h.cookie.clear(c)
	c.Status(http.StatusNoContent)
}

func (h *AuthHandler) logoutOthers(c *gin.Context) {
	userID, ok := middleware.GetAuthenticatedUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, middleware.InvalidTokenMessage))
		return
	}
	sessionID := middleware.GetSessionID(c)
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "current session unknown"))
		return
	}

	count, err := h.auth.LogoutAllOtherSessions(c.Request.Context(), userID, sessionID, middleware.DeviceFromContext(c))
	if err != nil {
		RespondWithMappedError(c, err, nil, http.StatusInternalServerError, "failed to revoke sessions")
		return
	}
	c.JSON(http.StatusOK, LogoutOthersResponse{RevokedCount: count})
}

func (h *AuthHandler) requestOtp(c *gin.Context) {
	var req OtpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "email and purpose are required"))
		return
	}

	issued, err := h.auth.RequestOtp(c.Request.Context(), req.Email, domain.CodePurpose(req.Purpose), middleware.DeviceFromContext(c))
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrValidation, Status: http.StatusBadRequest, Message: "invalid email or purpose"},
		}, http.StatusInternalServerError, "failed to issue code")
		return
	}

	c.JSON(http.StatusAccepted, OtpRequestResponse{
		Message:   "code sent",
		ExpiresAt: issued.ExpiresAt,
	})
}

func (h *AuthHandler) verifyOtp(c *gin.Context) {
	var req OtpVerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "email, purpose and code are required"))
		return
	}

	outcome, err := h.auth.VerifyOtp(c.Request.Context(), req.Email, domain.CodePurpose(req.Purpose), strings.TrimSpace(req.Code), middleware.DeviceFromContext(c))
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrValidation, Status: http.StatusBadRequest, Message: "invalid email or purpose"},
		}, http.StatusInternalServerError, "failed to verify code")
		return
	}
	if outcome != usecase.VerifyConsumed {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid or expired code"))
		return
	}

	c.JSON(http.StatusOK, OtpVerifyResponse{Verified: true, Purpose: req.Purpose})
}

func (h *AuthHandler) resetPassword(c *gin.Context) {
	var req PasswordResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "email, code and new_password are required"))
		return
	}

	err := h.auth.CompletePasswordReset(c.Request.Context(), req.Email, strings.TrimSpace(req.Code), req.NewPassword, middleware.DeviceFromContext(c))
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrWeakPassword, Status: http.StatusBadRequest, Message: "password does not meet requirements"},
			{Err: usecase.ErrInvalidCode, Status: http.StatusBadRequest, Message: "invalid or expired code"},
			{Err: usecase.ErrValidation, Status: http.StatusBadRequest, Message: "invalid reset payload"},
		}, http.StatusInternalServerError, "failed to reset password")
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "password updated"})
}
