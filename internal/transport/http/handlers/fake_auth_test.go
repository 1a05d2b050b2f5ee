package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/heyavanindra/FrenCircle-sub001/internal/core/domain"
	"github.com/heyavanindra/FrenCircle-sub001/internal/transport/http/middleware"
	"github.com/heyavanindra/FrenCircle-sub001/internal/usecase"
)

type fakeAuth struct {
	login                 func(usecase.LoginInput) (*usecase.LoginResult, error)
	refresh               func(string) (*usecase.RefreshResult, error)
	logout                func(string) error
	logoutWithRefresh     func(string) error
	logoutOthers          func(userID, except string) (int, error)
	listSessions          func(userID string) ([]domain.Session, error)
	revokeSession         func(userID, sessionID string) error
	requestOtp            func(email string, purpose domain.CodePurpose) (*usecase.IssuedCode, error)
	verifyOtp             func(email string, purpose domain.CodePurpose, code string) (usecase.VerifyOutcome, error)
	completePasswordReset func(email, code, password string) error

	lastDevice usecase.DeviceInfo
}

func (f *fakeAuth) Login(_ context.Context, input usecase.LoginInput) (*usecase.LoginResult, error) {
	f.lastDevice = input.Device
	if f.login == nil {
		return nil, errors.New("unexpected call: Login")
	}
	return f.login(input)
}

func (f *fakeAuth) Refresh(_ context.Context, secret string, device usecase.DeviceInfo) (*usecase.RefreshResult, error) {
	f.lastDevice = device
	if f.refresh == nil {
		return nil, errors.New("unexpected call: Refresh")
	}
	return f.refresh(secret)
}

func (f *fakeAuth) Logout(_ context.Context, sessionID string, _ usecase.DeviceInfo) error {
	if f.logout == nil {
		return errors.New("unexpected call: Logout")
	}
	return f.logout(sessionID)
}

func (f *fakeAuth) LogoutWithRefreshToken(_ context.Context, secret string, _ usecase.DeviceInfo) error {
	if f.logoutWithRefresh == nil {
		return errors.New("unexpected call: LogoutWithRefreshToken")
	}
	return f.logoutWithRefresh(secret)
}

func (f *fakeAuth) LogoutAllOtherSessions(_ context.Context, userID, except string, _ usecase.DeviceInfo) (int, error) {
	if f.logoutOthers == nil {
		return 0, errors.New("unexpected call: LogoutAllOtherSessions")
	}
	return f.logoutOthers(userID, except)
}

func (f *fakeAuth) ListSessions(_ context.Context, userID string) ([]domain.Session, error) {
	if f.listSessions == nil {
		return nil, errors.New("unexpected call: ListSessions")
	}
	return f.listSessions(userID)
}

func (f *fakeAuth) RevokeSession(_ context.Context, userID, sessionID string, _ usecase.DeviceInfo) error {
	if f.revokeSession == nil {
		return errors.New("unexpected call: RevokeSession")
	}
	return f.revokeSession(userID, sessionID)
}

func (f *fakeAuth) RequestOtp(_ context.Context, email string, purpose domain.CodePurpose, _ usecase.DeviceInfo) (*usecase.IssuedCode, error) {
	if f.requestOtp == nil {
		return nil, errors.New("unexpected call: RequestOtp")
	}
	return f.requestOtp(email, purpose)
}

func (f *fakeAuth) VerifyOtp(_ context.Context, email string, purpose domain.CodePurpose, code string, _ usecase.DeviceInfo) (usecase.VerifyOutcome, error) {
	if f.verifyOtp == nil {
		return usecase.VerifyNotFound, errors.New("unexpected call: VerifyOtp")
	}
	return f.verifyOtp(email, purpose, code)
}

func (f *fakeAuth) CompletePasswordReset(_ context.Context, email, code, password string, _ usecase.DeviceInfo) error {
	if f.completePasswordReset == nil {
		return errors.New("unexpected call: CompletePasswordReset")
	}
	return f.completePasswordReset(email, code, password)
}

// fakeAuthenticated stands in for RequireAuth by binding a fixed user and session.
func fakeAuthenticated(userID, sessionID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.UserIDKey, userID)
		c.Set(middleware.SessionIDKey, sessionID)
		c.Next()
	}
}

func newTestRouter(t *testing.T, auth *fakeAuth, userID, sessionID string) *gin.Engine {
	t.Helper()
	return newCookieRouter(t, auth, userID, sessionID, RefreshCookie{})
}

func newCookieRouter(t *testing.T, auth *fakeAuth, userID, sessionID string, cookie RefreshCookie) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(middleware.EnrichContext())

	handler := NewAuthHandler(auth).WithRefreshCookie(cookie)
	handler.now = func() time.Time { return testNow }
	handler.RegisterRoutes(r.Group("/auth"), fakeAuthenticated(userID, sessionID))

	sessions := r.Group("/sessions")
	sessions.Use(fakeAuthenticated(userID, sessionID))
	NewSessionHandler(auth).RegisterRoutes(sessions)
	return r
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", "handler-test")
	req.RemoteAddr = "203.0.113.9:4321"

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}
