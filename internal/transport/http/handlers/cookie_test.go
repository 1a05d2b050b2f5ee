package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/heyavanindra/FrenCircle-sub001/internal/usecase"
)

var testCookie = RefreshCookie{
	Name:     "refresh_token",
	Path:     "/api/v1/auth",
	Secure:   true,
	SameSite: http.SameSiteStrictMode,
}

func doWithCookie(t *testing.T, r http.Handler, method, path, body string, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	req.RemoteAddr = "203.0.113.9:4321"

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func responseCookie(t *testing.T, w *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, cookie := range w.Result().Cookies() {
		if cookie.Name == name {
			return cookie
		}
	}
	t.Fatalf("expected %s cookie in response, got headers %v", name, w.Header().Values("Set-Cookie"))
	return nil
}

func TestLoginSetsRefreshCookie(t *testing.T) {
	auth := &fakeAuth{login: func(usecase.LoginInput) (*usecase.LoginResult, error) {
		return &usecase.LoginResult{TokenPair: testPair()}, nil
	}}
	r := newCookieRouter(t, auth, "", "", testCookie)

	w := doWithCookie(t, r, http.MethodPost, "/auth/login", `{"identifier":"alice","password":"pw"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	cookie := responseCookie(t, w, "refresh_token")
	if cookie.Value != "refresh" || !cookie.HttpOnly || !cookie.Secure {
		t.Fatalf("unexpected cookie %+v", cookie)
	}
	if cookie.SameSite != http.SameSiteStrictMode || cookie.Path != "/api/v1/auth" {
		t.Fatalf("unexpected cookie scope %+v", cookie)
	}
	if cookie.MaxAge != 7*24*3600 {
		t.Fatalf("expected cookie to live as long as the refresh token, got %d", cookie.MaxAge)
	}
}

func TestRefreshFallsBackToCookie(t *testing.T) {
	auth := &fakeAuth{refresh: func(secret string) (*usecase.RefreshResult, error) {
		if secret != "from-cookie" {
			t.Fatalf("expected cookie secret, got %q", secret)
		}
		return &usecase.RefreshResult{TokenPair: testPair()}, nil
	}}
	r := newCookieRouter(t, auth, "", "", testCookie)

	w := doWithCookie(t, r, http.MethodPost, "/auth/refresh", "", &http.Cookie{Name: "refresh_token", Value: "from-cookie"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if cookie := responseCookie(t, w, "refresh_token"); cookie.Value != "refresh" {
		t.Fatalf("expected rotated secret in cookie, got %q", cookie.Value)
	}
}

func TestRefreshBodyTakesPrecedenceOverCookie(t *testing.T) {
	var got string
	auth := &fakeAuth{refresh: func(secret string) (*usecase.RefreshResult, error) {
		got = secret
		return &usecase.RefreshResult{TokenPair: testPair()}, nil
	}}
	r := newCookieRouter(t, auth, "", "", testCookie)

	w := doWithCookie(t, r, http.MethodPost, "/auth/refresh", `{"refresh_token":"from-body"}`, &http.Cookie{Name: "refresh_token", Value: "from-cookie"})
	if w.Code != http.StatusOK || got != "from-body" {
		t.Fatalf("expected body secret to win, got %d %q", w.Code, got)
	}
}

func TestRefreshInvalidCookieIsCleared(t *testing.T) {
	auth := &fakeAuth{refresh: func(string) (*usecase.RefreshResult, error) {
		return nil, usecase.ErrRefreshReuseDetected
	}}
	r := newCookieRouter(t, auth, "", "", testCookie)

	w := doWithCookie(t, r, http.MethodPost, "/auth/refresh", "", &http.Cookie{Name: "refresh_token", Value: "stale"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if cookie := responseCookie(t, w, "refresh_token"); cookie.MaxAge >= 0 || cookie.Value != "" {
		t.Fatalf("expected cookie to be cleared, got %+v", cookie)
	}
}

func TestRefreshStoreOutageKeepsCookie(t *testing.T) {
	auth := &fakeAuth{refresh: func(string) (*usecase.RefreshResult, error) {
		return nil, usecase.ErrStoreUnavailable
	}}
	r := newCookieRouter(t, auth, "", "", testCookie)

	w := doWithCookie(t, r, http.MethodPost, "/auth/refresh", "", &http.Cookie{Name: "refresh_token", Value: "good"})
	if w.Code == http.StatusOK || w.Code == http.StatusUnauthorized {
		t.Fatalf("expected an outage status, got %d", w.Code)
	}
	if len(w.Result().Cookies()) != 0 {
		t.Fatalf("expected cookie untouched, got %v", w.Header().Values("Set-Cookie"))
	}
}

func TestRefreshWithoutTokenOrCookie(t *testing.T) {
	r := newCookieRouter(t, &fakeAuth{}, "", "", testCookie)

	if w := doWithCookie(t, r, http.MethodPost, "/auth/refresh", "", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestLogoutFallsBackToCookie(t *testing.T) {
	var secret string
	auth := &fakeAuth{logoutWithRefresh: func(s string) error { secret = s; return nil }}
	r := newCookieRouter(t, auth, "user-1", "", testCookie)

	w := doWithCookie(t, r, http.MethodPost, "/auth/logout", "", &http.Cookie{Name: "refresh_token", Value: "from-cookie"})
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", w.Code, w.Body.String())
	}
	if secret != "from-cookie" {
		t.Fatalf("expected cookie secret, got %q", secret)
	}
	if cookie := responseCookie(t, w, "refresh_token"); cookie.MaxAge >= 0 {
		t.Fatalf("expected cookie to be cleared on logout, got %+v", cookie)
	}
}

func TestRefreshCookieDisabled(t *testing.T) {
	auth := &fakeAuth{login: func(usecase.LoginInput) (*usecase.LoginResult, error) {
		return &usecase.LoginResult{TokenPair: testPair()}, nil
	}}
	r := newTestRouter(t, auth, "", "")

	w := doWithCookie(t, r, http.MethodPost, "/auth/login", `{"identifier":"alice","password":"pw"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(w.Result().Cookies()) != 0 {
		t.Fatalf("expected no cookies, got %v", w.Header().Values("Set-Cookie"))
	}

	w = doWithCookie(t, r, http.MethodPost, "/auth/refresh", "", &http.Cookie{Name: "refresh_token", Value: "ignored"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected cookie to be ignored when disabled, got %d", w.Code)
	}
}

func TestParseSameSite(t *testing.T) {
	cases := map[string]http.SameSite{
		"lax":    http.SameSiteLaxMode,
		" None ": http.SameSiteNoneMode,
		"strict": http.SameSiteStrictMode,
		"":       http.SameSiteStrictMode,
	}
	for value, want := range cases {
		if got := ParseSameSite(value); got != want {
			t.Fatalf("ParseSameSite(%q) = %v, want %v", value, got, want)
		}
	}
}
