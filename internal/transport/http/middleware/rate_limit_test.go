package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"

	"github.com/heyavanindra/FrenCircle-sub001/internal/core/domain"
)

type fakeCounter struct {
	decisions map[string]domain.RateLimitDecision
	err       error
	keys      []string
}

func (f *fakeCounter) CheckAndIncrement(_ context.Context, key string, limit int, _ time.Duration) (domain.RateLimitDecision, error) {
	f.keys = append(f.keys, key)
	if f.err != nil {
		return domain.RateLimitDecision{}, f.err
	}
	if decision, ok := f.decisions[key]; ok {
		return decision, nil
	}
	return domain.RateLimitDecision{Allowed: true, Key: key, Count: 1, Limit: limit}, nil
}

func staticIdentifier(value string) IdentifierFunc {
	return func(*gin.Context) (string, bool) { return value, true }
}

func newRateLimitedRouter(t *testing.T, counter Counter, rules ...RateLimitRule) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	limiter := NewRateLimiter(counter, nil, zaptest.NewLogger(t))
	router := gin.New()
	router.Use(limiter.RateLimit(rules...))
	router.POST("/login", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return router
}

func TestRateLimiterAllowsWhenBelowLimit(t *testing.T) {
	reset := time.Date(2025, 3, 1, 12, 1, 0, 0, time.UTC)
	counter := &fakeCounter{decisions: map[string]domain.RateLimitDecision{
		"edge_ip:192.0.2.1": {Allowed: true, Count: 2, Limit: 5, ResetAt: reset},
	}}
	router := newRateLimitedRouter(t, counter, RateLimitRule{
		Name: "edge_ip", Limit: 5, Window: time.Minute, Identifier: staticIdentifier("192.0.2.1"),
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/login", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if got := rr.Header().Get("X-RateLimit-Remaining"); got != "3" {
		t.Fatalf("expected remaining 3, got %q", got)
	}
	if got := rr.Header().Get("X-RateLimit-Reset"); got != "1740830460" {
		t.Fatalf("unexpected reset header %q", got)
	}
	if len(counter.keys) != 1 || counter.keys[0] != "edge_ip:192.0.2.1" {
		t.Fatalf("unexpected counter keys: %v", counter.keys)
	}
}

func TestRateLimiterRejectsWithRetryAfter(t *testing.T) {
	counter := &fakeCounter{decisions: map[string]domain.RateLimitDecision{
		"edge_ip:192.0.2.1": {Allowed: false, Count: 6, Limit: 5, RetryAfter: 1500 * time.Millisecond},
	}}
	router := newRateLimitedRouter(t, counter, RateLimitRule{
		Name: "edge_ip", Limit: 5, Window: time.Minute, Identifier: staticIdentifier("192.0.2.1"),
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/login", nil))

	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", rr.Code)
	}
	if got := rr.Header().Get("Retry-After"); got != "2" {
		t.Fatalf("expected Retry-After 2, got %q", got)
	}

	var problem ProblemDetails
	if err := json.Unmarshal(rr.Body.Bytes(), &problem); err != nil {
		t.Fatalf("decode problem: %v", err)
	}
	if problem.Detail != TooManyAttemptsMessage || problem.RetryAfter != 2 || problem.Instance != "/login" {
		t.Fatalf("unexpected problem document: %+v", problem)
	}
}

func TestRateLimiterFailsClosedOnCounterError(t *testing.T) {
	counter := &fakeCounter{err: errors.New("store down")}
	router := newRateLimitedRouter(t, counter, RateLimitRule{
		Name: "edge_ip", Limit: 5, Window: time.Minute, Identifier: staticIdentifier("192.0.2.1"),
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/login", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}

func TestRateLimiterSkipsDisabledRulesAndMissingIdentifiers(t *testing.T) {
	counter := &fakeCounter{}
	router := newRateLimitedRouter(t, counter,
		RateLimitRule{Name: "disabled", Limit: 0, Window: time.Minute, Identifier: staticIdentifier("x")},
		RateLimitRule{Name: "anonymous", Limit: 5, Window: time.Minute, Identifier: func(*gin.Context) (string, bool) { return "", false }},
	)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/login", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if len(counter.keys) != 0 {
		t.Fatalf("expected no counter calls, got %v", counter.keys)
	}
}

func TestRetryAfterSecondsRoundsUp(t *testing.T) {
	cases := map[time.Duration]int{
		0:                       0,
		-time.Second:            0,
		time.Second:             1,
		1001 * time.Millisecond: 2,
		time.Minute:             60,
	}
	for input, want := range cases {
		if got := RetryAfterSeconds(input); got != want {
			t.Fatalf("RetryAfterSeconds(%s) = %d, want %d", input, got, want)
		}
	}
}
