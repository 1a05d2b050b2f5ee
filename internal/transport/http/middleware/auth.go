package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/heyavanindra/FrenCircle-sub001/internal/infra/security"
	"github.com/heyavanindra/FrenCircle-sub001/internal/usecase"
)

// ErrorResponse matches the handlers.ErrorResponse structure
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

func newErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	return ErrorResponse{
		Error:   errorMsg,
		TraceID: GetTraceID(c),
	}
}

// TokenValidator checks bearer access tokens.
type TokenValidator interface {
	ValidateAccessToken(ctx context.Context, token string) (*security.AccessTokenClaims, error)
}

// InvalidTokenMessage is the single message returned for every rejected credential, so callers
// cannot tell an expired token from a forged one.
const InvalidTokenMessage = "invalid or expired token"

// RequireAuth validates the bearer token and stores its claims on the context.
func RequireAuth(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, newErrorResponse(c, InvalidTokenMessage))
			return
		}

		claims, err := validator.ValidateAccessToken(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, usecase.ErrValidation) || errors.Is(err, usecase.ErrExpired) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, newErrorResponse(c, InvalidTokenMessage))
				return
			}
			_ = c.Error(err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, newErrorResponse(c, "authentication failed"))
			return
		}

		c.Set(UserIDKey, claims.UserID)
		c.Set(SessionIDKey, claims.SessionID)
		c.Set(ClaimsKey, claims)

		if reqCtx := GetRequestContext(c); reqCtx != nil {
			reqCtx.UserID = claims.UserID
		}

		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// GetAuthenticatedUserID retrieves the user ID from context (helper for handlers)
func GetAuthenticatedUserID(c *gin.Context) (string, bool) {
	userID, exists := c.Get(UserIDKey)
	if !exists {
		return "", false
	}

	if id, ok := userID.(string); ok && id != "" {
		return id, true
	}

	return "", false
}

// GetSessionID returns the session bound to the authenticated access token.
func GetSessionID(c *gin.Context) string {
	return c.GetString(SessionIDKey)
}

// GetClaims returns the validated access token claims.
func GetClaims(c *gin.Context) *security.AccessTokenClaims {
	raw, exists := c.Get(ClaimsKey)
	if !exists {
		return nil
	}
	claims, _ := raw.(*security.AccessTokenClaims)
	return claims
}
