package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/heyavanindra/FrenCircle-sub001/internal/core/domain"
	"github.com/heyavanindra/FrenCircle-sub001/internal/transport/http/middleware"
	"github.com/heyavanindra/FrenCircle-sub001/internal/usecase"
)

// ErrorResponse represents a generic error payload with trace ID for debugging.
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// NewErrorResponse creates an error response with trace ID from context
func NewErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	return ErrorResponse{
		Error:   errorMsg,
		TraceID: middleware.GetTraceID(c),
	}
}

// MessageResponse represents a simple message payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// HealthResponse describes the liveness payload.
type HealthResponse struct {
	Status    string            `json:"status"`
	StartedAt time.Time         `json:"started_at"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// UserSummary describes a minimal view of a user returned by the API.
type UserSummary struct {
	ID            string   `json:"id"`
	Username      string   `json:"username"`
	Email         string   `json:"email"`
	EmailVerified bool     `json:"email_verified"`
	Roles         []string `json:"roles,omitempty"`
}

func newUserSummary(user domain.User) UserSummary {
	return UserSummary{
		ID:            user.ID,
		Username:      user.Username,
		Email:         user.Email,
		EmailVerified: user.EmailVerified,
		Roles:         user.Roles,
	}
}

// LoginRequest defines the payload for the login endpoint.
type LoginRequest struct {
	Identifier        string `json:"identifier" binding:"required"`
	Password          string `json:"password" binding:"required"`
	RememberMe        bool   `json:"remember_me"`
	TwoFactorCode     string `json:"two_factor_code"`
	TwoFactorMethodID string `json:"two_factor_method_id"`
}

// TokenResponse carries a freshly issued credential pair.
type TokenResponse struct {
	AccessToken           string       `json:"access_token"`
	AccessTokenExpiresAt  time.Time    `json:"access_token_expires_at"`
	RefreshToken          string       `json:"refresh_token"`
	RefreshTokenExpiresAt time.Time    `json:"refresh_token_expires_at"`
	TokenType             string       `json:"token_type"`
	ExpiresIn             int          `json:"expires_in"`
	SessionID             string       `json:"session_id"`
	User                  *UserSummary `json:"user,omitempty"`
}

func newTokenResponse(pair usecase.TokenPair, issuedAt time.Time) TokenResponse {
	expiresIn := int(pair.AccessTokenExpiresAt.Sub(issuedAt).Seconds())
	if expiresIn < 0 {
		expiresIn = 0
	}
	return TokenResponse{
		AccessToken:           pair.AccessToken,
		AccessTokenExpiresAt:  pair.AccessTokenExpiresAt,
		RefreshToken:          pair.RefreshToken,
		RefreshTokenExpiresAt: pair.RefreshTokenExpiresAt,
		TokenType:             "Bearer",
		ExpiresIn:             expiresIn,
		SessionID:             pair.SessionID,
	}
}

// TwoFactorChallengeResponse asks the client to resubmit the login with a second factor.
type TwoFactorChallengeResponse struct {
	Error      string `json:"error"`
	MethodID   string `json:"two_factor_method_id"`
	MethodType string `json:"two_factor_method_type"`
	CodeSent   bool   `json:"code_sent"`
	TraceID    string `json:"trace_id,omitempty"`
}

// RefreshRequest carries the refresh secret to rotate. Browser clients may send it in the
// refresh cookie instead.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// LogoutRequest optionally names the refresh token whose session should end. Without it the
// session bound to the access token is used.
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// LogoutOthersResponse reports how many sessions were revoked.
type LogoutOthersResponse struct {
	RevokedCount int `json:"revoked_count"`
}

// OtpRequest asks for an email code.
type OtpRequest struct {
	Email   string `json:"email" binding:"required"`
	Purpose string `json:"purpose" binding:"required"`
}

// OtpRequestResponse never contains the code itself.
type OtpRequestResponse struct {
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expires_at"`
}

// OtpVerifyRequest submits an email code.
type OtpVerifyRequest struct {
	Email   string `json:"email" binding:"required"`
	Purpose string `json:"purpose" binding:"required"`
	Code    string `json:"code" binding:"required"`
}

// OtpVerifyResponse reports a successful verification.
type OtpVerifyResponse struct {
	Verified bool   `json:"verified"`
	Purpose  string `json:"purpose"`
}

// PasswordResetRequest completes a password reset with an emailed code.
type PasswordResetRequest struct {
	Email       string `json:"email" binding:"required"`
	Code        string `json:"code" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

// SessionPayload is the API view of a session.
type SessionPayload struct {
	ID         string    `json:"id"`
	AuthMethod string    `json:"auth_method"`
	IP         *string   `json:"ip,omitempty"`
	UserAgent  *string   `json:"user_agent,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
	IsCurrent  bool      `json:"is_current"`
}

func newSessionPayload(session domain.Session, currentSessionID string) SessionPayload {
	return SessionPayload{
		ID:         session.ID,
		AuthMethod: string(session.AuthMethod),
		IP:         session.IP,
		UserAgent:  session.UserAgent,
		CreatedAt:  session.CreatedAt,
		LastSeenAt: session.LastSeenAt,
		IsCurrent:  currentSessionID != "" && session.ID == currentSessionID,
	}
}

// SessionListResponse lists the caller's live sessions.
type SessionListResponse struct {
	Sessions []SessionPayload `json:"sessions"`
	Total    int              `json:"total"`
}
