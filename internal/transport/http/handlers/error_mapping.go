package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/heyavanindra/FrenCircle-sub001/internal/transport/http/middleware"
	"github.com/heyavanindra/FrenCircle-sub001/internal/usecase"
)

// ErrorCase maps a sentinel error to an HTTP status code and response message.
type ErrorCase struct {
	Err     error
	Status  int
	Message string
}

// invalidTokenCases collapse every refresh failure into one indistinguishable 401.
var invalidTokenCases = []ErrorCase{
	{Err: usecase.ErrAccountInactive, Status: http.StatusForbidden, Message: "account inactive"},
	{Err: usecase.ErrReuseDetected, Status: http.StatusUnauthorized, Message: middleware.InvalidTokenMessage},
	{Err: usecase.ErrExpired, Status: http.StatusUnauthorized, Message: middleware.InvalidTokenMessage},
	{Err: usecase.ErrAlreadyRevoked, Status: http.StatusUnauthorized, Message: middleware.InvalidTokenMessage},
	{Err: usecase.ErrNotFound, Status: http.StatusUnauthorized, Message: middleware.InvalidTokenMessage},
}

func isInvalidToken(err error) bool {
	for _, tc := range invalidTokenCases {
		if errors.Is(err, tc.Err) {
			return true
		}
	}
	return false
}

// RespondWithMappedError writes the response for err. Throttling and store outages are handled
// the same way for every endpoint; cases are tried in order after that.
func RespondWithMappedError(c *gin.Context, err error, cases []ErrorCase, fallbackStatus int, fallbackMessage string) {
	if err == nil {
		c.Status(http.StatusOK)
		return
	}

	var limited *usecase.RateLimitedError
	switch {
	case errors.As(err, &limited):
		middleware.RespondTooManyAttempts(c, limited.RetryAfter)
		return
	case errors.Is(err, usecase.ErrRateLimited):
		middleware.RespondTooManyAttempts(c, 0)
		return
	case errors.Is(err, usecase.ErrStoreUnavailable):
		_ = c.Error(err)
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "service temporarily unavailable"))
		return
	}

	for _, cs := range cases {
		if cs.Err == nil {
			continue
		}
		if errors.Is(err, cs.Err) {
			c.JSON(cs.Status, NewErrorResponse(c, cs.Message))
			return
		}
	}

	if fallbackStatus >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(fallbackStatus, NewErrorResponse(c, fallbackMessage))
}
