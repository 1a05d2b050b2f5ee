package routes_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap/zaptest"

	"github.com/heyavanindra/FrenCircle-sub001/internal/core/domain"
	"github.com/heyavanindra/FrenCircle-sub001/internal/infra/config"
	"github.com/heyavanindra/FrenCircle-sub001/internal/infra/security"
	"github.com/heyavanindra/FrenCircle-sub001/internal/transport/http/middleware"
	httproutes "github.com/heyavanindra/FrenCircle-sub001/internal/transport/http/routes"
	"github.com/heyavanindra/FrenCircle-sub001/internal/usecase"
)

type stubAuth struct{}

func (stubAuth) Login(context.Context, usecase.LoginInput) (*usecase.LoginResult, error) {
	return nil, usecase.ErrInvalidCredentials
}

func (stubAuth) Refresh(context.Context, string, usecase.DeviceInfo) (*usecase.RefreshResult, error) {
	return nil, usecase.ErrInvalidRefreshToken
}

func (stubAuth) Logout(context.Context, string, usecase.DeviceInfo) error { return nil }

func (stubAuth) LogoutWithRefreshToken(context.Context, string, usecase.DeviceInfo) error {
	return nil
}

func (stubAuth) LogoutAllOtherSessions(context.Context, string, string, usecase.DeviceInfo) (int, error) {
	return 0, nil
}

func (stubAuth) ListSessions(context.Context, string) ([]domain.Session, error) {
	return nil, nil
}

func (stubAuth) RevokeSession(context.Context, string, string, usecase.DeviceInfo) error {
	return nil
}

func (stubAuth) RequestOtp(context.Context, string, domain.CodePurpose, usecase.DeviceInfo) (*usecase.IssuedCode, error) {
	return nil, errors.New("unexpected call: RequestOtp")
}

func (stubAuth) VerifyOtp(context.Context, string, domain.CodePurpose, string, usecase.DeviceInfo) (usecase.VerifyOutcome, error) {
	return usecase.VerifyNotFound, nil
}

func (stubAuth) CompletePasswordReset(context.Context, string, string, string, usecase.DeviceInfo) error {
	return nil
}

func (stubAuth) ValidateAccessToken(_ context.Context, token string) (*security.AccessTokenClaims, error) {
	if token != "good" {
		return nil, usecase.ErrAccessTokenBadSignature
	}
	return &security.AccessTokenClaims{UserID: "user-1", SessionID: "sess-1"}, nil
}

type edgeCounter struct {
	calls int64
}

func (c *edgeCounter) CheckAndIncrement(_ context.Context, key string, limit int, window time.Duration) (domain.RateLimitDecision, error) {
	c.calls++
	now := time.Now()
	return domain.RateLimitDecision{
		Allowed:    c.calls <= int64(limit),
		Key:        key,
		Count:      c.calls,
		Limit:      limit,
		ResetAt:    now.Add(window),
		RetryAfter: window,
	}, nil
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("down") }

func newTestConfig() *config.AppConfig {
	return &config.AppConfig{
		App: config.AppSettings{Env: "test"},
		RateLimit: config.RateLimitSettings{
			EdgeIP: config.RateLimitRule{Limit: 1, Window: time.Minute},
		},
	}
}

func serve(r http.Handler, method, path, body, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := httproutes.Register(httproutes.Dependencies{
		Config: newTestConfig(),
		Logger: zaptest.NewLogger(t),
	})

	if w := serve(r, http.MethodGet, "/healthz", "", ""); w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
}

func TestReadinessReportsFailingDependency(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := httproutes.Register(httproutes.Dependencies{
		Config:   newTestConfig(),
		Logger:   zaptest.NewLogger(t),
		Database: failingPinger{},
	})

	w := serve(r, http.MethodGet, "/readyz", "", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"database":"unavailable"`) {
		t.Fatalf("expected database check in body, got %s", w.Body.String())
	}
}

func TestMetricsEndpointUsesRegistry(t *testing.T) {
	gin.SetMode(gin.TestMode)
	registry := prometheus.NewRegistry()
	httpMetrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{Registerer: registry})
	if err != nil {
		t.Fatalf("NewHTTPMetrics returned error: %v", err)
	}

	r := httproutes.Register(httproutes.Dependencies{
		Config:         newTestConfig(),
		Logger:         zaptest.NewLogger(t),
		HTTPMetrics:    httpMetrics,
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	})

	serve(r, http.MethodGet, "/healthz", "", "")
	w := serve(r, http.MethodGet, "/metrics", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "auth_http_requests_total") {
		t.Fatalf("expected request counter in exposition, got %s", w.Body.String())
	}
}

func TestSessionsRequireBearerToken(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := httproutes.Register(httproutes.Dependencies{
		Config: newTestConfig(),
		Logger: zaptest.NewLogger(t),
		Auth:   stubAuth{},
	})

	if w := serve(r, http.MethodGet, "/api/v1/sessions", "", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}
	if w := serve(r, http.MethodGet, "/api/v1/sessions", "", "forged"); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with forged token, got %d", w.Code)
	}
	if w := serve(r, http.MethodGet, "/api/v1/sessions", "", "good"); w.Code != http.StatusOK {
		t.Fatalf("expected 200 with valid token, got %d", w.Code)
	}
}

func TestEdgeRateLimitGuardsPublicAuthRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	counter := &edgeCounter{}

	r := httproutes.Register(httproutes.Dependencies{
		Config:      newTestConfig(),
		Logger:      zaptest.NewLogger(t),
		Auth:        stubAuth{},
		RateLimiter: middleware.NewRateLimiter(counter, nil, zaptest.NewLogger(t)),
	})

	body := `{"identifier":"alice","password":"pw"}`
	if w := serve(r, http.MethodPost, "/api/v1/auth/login", body, ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected first login to reach the handler, got %d", w.Code)
	}
	w := serve(r, http.MethodPost, "/api/v1/auth/login", body, "")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second login to be throttled, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") != "60" {
		t.Fatalf("expected Retry-After 60, got %q", w.Header().Get("Retry-After"))
	}

	if w := serve(r, http.MethodPost, "/api/v1/auth/logout", "", "good"); w.Code != http.StatusNoContent {
		t.Fatalf("expected logout to bypass the edge limiter, got %d", w.Code)
	}
}

func TestRefreshCookieFollowsConfig(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := newTestConfig()
	cfg.Cookie = config.CookieSettings{Name: "refresh_token", Path: "/api/v1/auth", Secure: true, SameSite: "lax"}

	r := httproutes.Register(httproutes.Dependencies{
		Config: cfg,
		Logger: zaptest.NewLogger(t),
		Auth:   stubAuth{},
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: "refresh_token", Value: "stale"})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected cookie secret to reach the handler and fail, got %d", w.Code)
	}
	cookies := w.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("expected one cleared cookie, got %v", w.Header().Values("Set-Cookie"))
	}
	cookie := cookies[0]
	if cookie.Name != "refresh_token" || cookie.SameSite != http.SameSiteLaxMode || cookie.Path != "/api/v1/auth" || !cookie.HttpOnly {
		t.Fatalf("unexpected cookie %+v", cookie)
	}
}
