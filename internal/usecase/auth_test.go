package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/heyavanindra/FrenCircle-sub001/internal/core/domain"
	"github.com/heyavanindra/FrenCircle-sub001/internal/infra/security"
)

// rfc6238Secret is the base32 form of the RFC 6238 SHA1 test key "12345678901234567890".
const rfc6238Secret = "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ"

func TestLoginIssuesSessionAndTokens(t *testing.T) {
	env := newTestEnv(t)
	result := env.login(t)

	if result.SessionID == "" || result.RefreshToken == "" || result.AccessToken == "" {
		t.Fatalf("expected populated login result, got %+v", result)
	}
	if result.User.PasswordHash != "" {
		t.Fatalf("expected sanitized user in result")
	}
	if want := env.clock.Now().Add(15 * time.Minute); !result.AccessTokenExpiresAt.Equal(want) {
		t.Fatalf("expected access expiry %v, got %v", want, result.AccessTokenExpiresAt)
	}
	if want := env.clock.Now().Add(14 * 24 * time.Hour); !result.RefreshTokenExpiresAt.Equal(want) {
		t.Fatalf("expected refresh expiry %v, got %v", want, result.RefreshTokenExpiresAt)
	}

	claims, err := env.issuer.Validate(result.AccessToken, StrictValidation)
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if claims.UserID != env.user.ID || claims.SessionID != result.SessionID || claims.Username != "alice" {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	session := env.store.session(result.SessionID)
	if session.AuthMethod != domain.AuthMethodPassword || session.IP == nil || *session.IP != testDevice.IP {
		t.Fatalf("unexpected session: %+v", session)
	}

	env.audit.Close()
	if !env.writer.has(domain.AuditLoginSuccess) {
		t.Fatalf("expected LoginSuccess audit entry, got %v", env.writer.actions())
	}
}

func TestLoginByUsername(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.service.Login(context.Background(), LoginInput{Identifier: "alice", Password: testPassword})
	if err != nil {
		t.Fatalf("Login returned error: %v", err)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	env := newTestEnv(t)

	cases := []LoginInput{
		{Identifier: env.user.Email, Password: "wrong-password"},
		{Identifier: "nobody@example.com", Password: testPassword},
	}
	for _, input := range cases {
		_, err := env.service.Login(context.Background(), input)
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("identifier %q: expected ErrInvalidCredentials, got %v", input.Identifier, err)
		}
	}

	if _, err := env.service.Login(context.Background(), LoginInput{Identifier: " "}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for blank input, got %v", err)
	}

	env.audit.Close()
	if !env.writer.has(domain.AuditLoginFailed) {
		t.Fatalf("expected LoginFailed audit entry")
	}
}

func TestLoginInactiveAccount(t *testing.T) {
	env := newTestEnv(t)
	user := env.users.get(env.user.ID)
	user.IsActive = false
	env.users.users[user.ID] = user

	_, err := env.service.Login(context.Background(), LoginInput{Identifier: env.user.Email, Password: testPassword})
	if !errors.Is(err, ErrAccountInactive) {
		t.Fatalf("expected ErrAccountInactive, got %v", err)
	}
}

func TestLoginTokenInsertFailureLeavesNoSession(t *testing.T) {
	env := newTestEnv(t)
	env.store.failTokenCreate = errors.New("insert failed")

	_, err := env.service.Login(context.Background(), LoginInput{
		Identifier: env.user.Email,
		Password:   testPassword,
		Device:     testDevice,
	})
	if err == nil {
		t.Fatalf("expected login to fail")
	}

	sessions, err := env.sessions.ListActive(context.Background(), env.user.ID)
	if err != nil {
		t.Fatalf("ListActive returned error: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("expected no session after failed login, got %d", len(sessions))
	}

	result := env.login(t)
	if tokenBySecret(t, env, result.RefreshToken).SessionID != result.SessionID {
		t.Fatalf("expected the next login to bind its token to its session")
	}
}

func TestLoginFederatedOpensSession(t *testing.T) {
	env := newTestEnv(t)
	result, err := env.service.LoginFederated(context.Background(), env.user.ID, testDevice)
	if err != nil {
		t.Fatalf("LoginFederated returned error: %v", err)
	}

	session := env.store.session(result.SessionID)
	if session.AuthMethod != domain.AuthMethodFederated {
		t.Fatalf("expected federated session, got %s", session.AuthMethod)
	}
	if want := env.clock.Now().Add(14 * 24 * time.Hour); !result.RefreshTokenExpiresAt.Equal(want) {
		t.Fatalf("expected refresh expiry %v, got %v", want, result.RefreshTokenExpiresAt)
	}
	if _, err := env.rotator.Rotate(context.Background(), result.RefreshToken, testDevice); err != nil {
		t.Fatalf("expected federated refresh token to rotate, got %v", err)
	}

	env.audit.Close()
	if !env.writer.has(domain.AuditLoginSuccess) {
		t.Fatalf("expected LoginSuccess audit entry, got %v", env.writer.actions())
	}
}

func TestLoginFederatedRejects(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.service.LoginFederated(context.Background(), " ", testDevice); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if _, err := env.service.LoginFederated(context.Background(), "missing", testDevice); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	user := env.users.get(env.user.ID)
	user.IsActive = false
	env.users.users[user.ID] = user
	if _, err := env.service.LoginFederated(context.Background(), user.ID, testDevice); !errors.Is(err, ErrAccountInactive) {
		t.Fatalf("expected ErrAccountInactive, got %v", err)
	}
}

func TestLoginThrottledByIP(t *testing.T) {
	env := newTestEnv(t)
	input := LoginInput{Identifier: env.user.Email, Password: "wrong-password", Device: testDevice}

	for i := 0; i < 5; i++ {
		if _, err := env.service.Login(context.Background(), input); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i+1, err)
		}
	}

	input.Password = testPassword
	_, err := env.service.Login(context.Background(), input)
	var limited *RateLimitedError
	if !errors.As(err, &limited) {
		t.Fatalf("expected *RateLimitedError on sixth attempt, got %v", err)
	}
	if limited.Key != "login:"+testDevice.IP || limited.RetryAfter != time.Minute {
		t.Fatalf("unexpected limit: %+v", limited)
	}

	env.clock.Advance(61 * time.Second)
	if _, err := env.service.Login(context.Background(), input); err != nil {
		t.Fatalf("expected login in the next window to succeed, got %v", err)
	}

	env.audit.Close()
	if !env.writer.has(domain.AuditLoginThrottled) {
		t.Fatalf("expected LoginThrottled audit entry")
	}
}

func TestLoginThrottledByEmailAcrossIPs(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 5; i++ {
		device := DeviceInfo{IP: fmt.Sprintf("198.51.100.%d", i+1)}
		_, _ = env.service.Login(context.Background(), LoginInput{Identifier: "ALICE@example.com", Password: "nope", Device: device})
	}

	_, err := env.service.Login(context.Background(), LoginInput{
		Identifier: env.user.Email,
		Password:   testPassword,
		Device:     DeviceInfo{IP: "192.0.2.200"},
	})
	var limited *RateLimitedError
	if !errors.As(err, &limited) || limited.Key != "login:alice@example.com" {
		t.Fatalf("expected email bucket to throttle, got %v", err)
	}
}

func TestLoginWithTOTP(t *testing.T) {
	env := newTestEnv(t)
	secret := rfc6238Secret
	env.methods.methods = []domain.TwoFactorMethod{{
		ID: "totp-1", UserID: env.user.ID, Type: domain.TwoFactorTOTP, Secret: &secret, IsActive: true,
	}}

	_, err := env.service.Login(context.Background(), LoginInput{Identifier: env.user.Email, Password: testPassword})
	var required *TwoFactorRequiredError
	if !errors.As(err, &required) || !errors.Is(err, ErrTwoFactorRequired) {
		t.Fatalf("expected TwoFactorRequiredError, got %v", err)
	}
	if required.MethodID != "totp-1" || required.CodeSent {
		t.Fatalf("unexpected challenge: %+v", required)
	}

	if _, err := env.service.Login(context.Background(), LoginInput{
		Identifier: env.user.Email, Password: testPassword, TwoFactorCode: "000000",
	}); !errors.Is(err, ErrTwoFactorInvalid) {
		t.Fatalf("expected ErrTwoFactorInvalid, got %v", err)
	}

	code, err := security.GenerateTOTP(secret, env.clock.Now(), 30*time.Second)
	if err != nil {
		t.Fatalf("GenerateTOTP returned error: %v", err)
	}
	if _, err := env.service.Login(context.Background(), LoginInput{
		Identifier: env.user.Email, Password: testPassword, TwoFactorCode: code,
	}); err != nil {
		t.Fatalf("expected TOTP login to succeed, got %v", err)
	}
}

func TestLoginWithEmailSecondFactor(t *testing.T) {
	env := newTestEnv(t)
	env.methods.methods = []domain.TwoFactorMethod{{
		ID: "email-1", UserID: env.user.ID, Type: domain.TwoFactorEmail, IsActive: true,
	}}

	_, err := env.service.Login(context.Background(), LoginInput{Identifier: env.user.Email, Password: testPassword})
	var required *TwoFactorRequiredError
	if !errors.As(err, &required) || !required.CodeSent {
		t.Fatalf("expected a dispatched challenge, got %v", err)
	}
	delivery, ok := env.notifier.last()
	if !ok || delivery.Destination != env.user.Email || delivery.Purpose != domain.PurposeTwoFactorLogin {
		t.Fatalf("unexpected delivery: %+v", delivery)
	}

	result, err := env.service.Login(context.Background(), LoginInput{
		Identifier:        env.user.Email,
		Password:          testPassword,
		TwoFactorCode:     delivery.Code,
		TwoFactorMethodID: "email-1",
	})
	if err != nil {
		t.Fatalf("expected code login to succeed, got %v", err)
	}
	if result.SessionID == "" {
		t.Fatalf("expected a session")
	}

	if _, err := env.service.Login(context.Background(), LoginInput{
		Identifier: env.user.Email, Password: testPassword, TwoFactorCode: delivery.Code,
	}); !errors.Is(err, ErrTwoFactorInvalid) {
		t.Fatalf("expected consumed code to be rejected, got %v", err)
	}

	env.audit.Close()
	if !env.writer.has(domain.AuditTwoFactorRequired) || !env.writer.has(domain.AuditTwoFactorFailed) {
		t.Fatalf("expected two-factor audit entries, got %v", env.writer.actions())
	}
}

func TestRefreshRotatesAndIssuesAccessToken(t *testing.T) {
	env := newTestEnv(t)
	login := env.login(t)

	env.clock.Advance(10 * time.Minute)
	result, err := env.service.Refresh(context.Background(), login.RefreshToken, testDevice)
	if err != nil {
		t.Fatalf("Refresh returned error: %v", err)
	}
	if result.RefreshToken == login.RefreshToken || result.SessionID != login.SessionID {
		t.Fatalf("expected a new secret on the same session, got %+v", result)
	}
	if _, err := env.issuer.Validate(result.AccessToken, StrictValidation); err != nil {
		t.Fatalf("expected fresh access token to validate, got %v", err)
	}

	if _, err := env.service.Refresh(context.Background(), login.RefreshToken, testDevice); !errors.Is(err, ErrRefreshReuseDetected) {
		t.Fatalf("expected reuse detection, got %v", err)
	}

	env.audit.Close()
	if !env.writer.has(domain.AuditTokenRefreshed) || !env.writer.has(domain.AuditRefreshReuseDetected) {
		t.Fatalf("expected refresh audit entries, got %v", env.writer.actions())
	}
}

func TestRefreshRejectsInactiveUser(t *testing.T) {
	env := newTestEnv(t)
	login := env.login(t)

	user := env.users.get(env.user.ID)
	now := env.clock.Now()
	user.DeletedAt = &now
	env.users.users[user.ID] = user

	if _, err := env.service.Refresh(context.Background(), login.RefreshToken, testDevice); !errors.Is(err, ErrAccountInactive) {
		t.Fatalf("expected ErrAccountInactive, got %v", err)
	}
}

func TestLogoutRevokesSessionAndTokens(t *testing.T) {
	env := newTestEnv(t)
	login := env.login(t)

	if err := env.service.LogoutWithRefreshToken(context.Background(), login.RefreshToken, testDevice); err != nil {
		t.Fatalf("LogoutWithRefreshToken returned error: %v", err)
	}
	if err := env.service.Logout(context.Background(), login.SessionID, testDevice); err != nil {
		t.Fatalf("repeated Logout should succeed, got %v", err)
	}
	if _, err := env.service.Refresh(context.Background(), login.RefreshToken, testDevice); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected logged out token to be invalid, got %v", err)
	}
	if err := env.service.Logout(context.Background(), "missing", testDevice); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestLogoutAllOtherSessions(t *testing.T) {
	env := newTestEnv(t)
	current := env.login(t)
	other := env.login(t)

	count, err := env.service.LogoutAllOtherSessions(context.Background(), env.user.ID, current.SessionID, testDevice)
	if err != nil {
		t.Fatalf("LogoutAllOtherSessions returned error: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one session revoked, got %d", count)
	}
	if _, err := env.service.Refresh(context.Background(), current.RefreshToken, testDevice); err != nil {
		t.Fatalf("expected current session to keep working, got %v", err)
	}
	if _, err := env.service.Refresh(context.Background(), other.RefreshToken, testDevice); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected other session token to be dead, got %v", err)
	}
}

func TestRevokeSessionChecksOwnership(t *testing.T) {
	env := newTestEnv(t)
	login := env.login(t)

	if err := env.service.RevokeSession(context.Background(), "someone-else", login.SessionID, testDevice); !errors.Is(err, ErrSessionForbidden) {
		t.Fatalf("expected ErrSessionForbidden, got %v", err)
	}
	if err := env.service.RevokeSession(context.Background(), env.user.ID, login.SessionID, testDevice); err != nil {
		t.Fatalf("RevokeSession returned error: %v", err)
	}
	sessions, err := env.service.ListSessions(context.Background(), env.user.ID)
	if err != nil {
		t.Fatalf("ListSessions returned error: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("expected no live sessions, got %d", len(sessions))
	}
}

func TestSignupOtpMarksEmailVerified(t *testing.T) {
	env := newTestEnv(t)

	issued, err := env.service.RequestOtp(context.Background(), " Alice@Example.com ", domain.PurposeSignup, testDevice)
	if err != nil {
		t.Fatalf("RequestOtp returned error: %v", err)
	}
	delivery, ok := env.notifier.last()
	if !ok || delivery.Code != issued.Code || delivery.Destination != env.user.Email {
		t.Fatalf("expected code delivered to the normalized email, got %+v", delivery)
	}

	outcome, err := env.service.VerifyOtp(context.Background(), env.user.Email, domain.PurposeSignup, wrongCode(issued.Code), testDevice)
	if err != nil || outcome != VerifyMismatch {
		t.Fatalf("expected mismatch, got %s, %v", outcome, err)
	}
	outcome, err = env.service.VerifyOtp(context.Background(), env.user.Email, domain.PurposeSignup, issued.Code, testDevice)
	if err != nil || outcome != VerifyConsumed {
		t.Fatalf("expected consumed, got %s, %v", outcome, err)
	}
	if !env.users.get(env.user.ID).EmailVerified {
		t.Fatalf("expected email to be marked verified")
	}

	env.audit.Close()
	for _, action := range []domain.AuditAction{domain.AuditOtpRequested, domain.AuditOtpVerificationFailed, domain.AuditOtpVerified, domain.AuditEmailVerified} {
		if !env.writer.has(action) {
			t.Fatalf("expected %s audit entry, got %v", action, env.writer.actions())
		}
	}
}

func TestRequestOtpValidation(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.service.RequestOtp(context.Background(), "not-an-email", domain.PurposeSignup, testDevice); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for bad email, got %v", err)
	}
	if _, err := env.service.RequestOtp(context.Background(), env.user.Email, domain.PurposeTwoFactorLogin, testDevice); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for 2FA purpose on the email flow, got %v", err)
	}
}

func TestRequestOtpThrottled(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 3; i++ {
		if _, err := env.service.RequestOtp(context.Background(), env.user.Email, domain.PurposePasswordReset, testDevice); err != nil {
			t.Fatalf("RequestOtp %d returned error: %v", i+1, err)
		}
	}
	if _, err := env.service.RequestOtp(context.Background(), env.user.Email, domain.PurposePasswordReset, testDevice); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	env.audit.Close()
	if !env.writer.has(domain.AuditOtpThrottled) {
		t.Fatalf("expected OtpThrottled audit entry")
	}
}

func TestCompletePasswordReset(t *testing.T) {
	env := newTestEnv(t)
	login := env.login(t)

	issued, err := env.service.RequestOtp(context.Background(), env.user.Email, domain.PurposePasswordReset, testDevice)
	if err != nil {
		t.Fatalf("RequestOtp returned error: %v", err)
	}

	err = env.service.CompletePasswordReset(context.Background(), env.user.Email, issued.Code, "short", testDevice)
	if !errors.Is(err, ErrWeakPassword) || !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}

	const newPassword = "Tangerine-Falcon-42-orbit"
	if err := env.service.CompletePasswordReset(context.Background(), env.user.Email, issued.Code, newPassword, testDevice); err != nil {
		t.Fatalf("CompletePasswordReset returned error: %v", err)
	}

	ok, err := env.hasher.Verify(newPassword, env.users.get(env.user.ID).PasswordHash)
	if err != nil || !ok {
		t.Fatalf("expected stored hash to match the new password, got %v, %v", ok, err)
	}

	session := env.store.session(login.SessionID)
	if !session.IsRevoked() || *session.RevokeReason != domain.RevokeReasonPasswordReset {
		t.Fatalf("expected sessions revoked by the reset, got %+v", session)
	}
	if _, err := env.service.Refresh(context.Background(), login.RefreshToken, testDevice); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected old refresh token to be dead, got %v", err)
	}

	env.events.mu.Lock()
	changed := len(env.events.passwordChanged)
	env.events.mu.Unlock()
	if changed != 1 {
		t.Fatalf("expected one password changed event, got %d", changed)
	}

	if err := env.service.CompletePasswordReset(context.Background(), env.user.Email, issued.Code, newPassword+"!", testDevice); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected reused code to be rejected, got %v", err)
	}
}

func TestCompletePasswordResetUnknownEmail(t *testing.T) {
	env := newTestEnv(t)
	err := env.service.CompletePasswordReset(context.Background(), "ghost@example.com", "123456", "Tangerine-Falcon-42-orbit", testDevice)
	if !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode, got %v", err)
	}
}

func TestValidateAccessTokenLeeway(t *testing.T) {
	env := newTestEnv(t)
	login := env.login(t)

	env.clock.Advance(17 * time.Minute)
	if _, err := env.service.ValidateAccessToken(context.Background(), login.AccessToken); err != nil {
		t.Fatalf("expected general leeway to accept a slightly expired token, got %v", err)
	}
	_, err := env.issuer.Validate(login.AccessToken, StrictValidation)
	if !errors.Is(err, ErrAccessTokenExpired) || ValidationFailureReason(err) != "expired" {
		t.Fatalf("expected strict validation to reject, got %v", err)
	}

	env.clock.Advance(10 * time.Minute)
	if _, err := env.service.ValidateAccessToken(context.Background(), login.AccessToken); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected token past leeway to be expired, got %v", err)
	}
}
