package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/heyavanindra/FrenCircle-sub001/internal/core/domain"
	"github.com/heyavanindra/FrenCircle-sub001/internal/core/port"
	"github.com/heyavanindra/FrenCircle-sub001/internal/infra/logger"
	"github.com/heyavanindra/FrenCircle-sub001/internal/infra/security"
	"github.com/heyavanindra/FrenCircle-sub001/internal/infra/telemetry"
	"github.com/heyavanindra/FrenCircle-sub001/internal/repository"
)

const tracerName = "github.com/heyavanindra/FrenCircle-sub001/internal/usecase"

// DeviceInfo carries the client attributes recorded on sessions and audit entries.
type DeviceInfo struct {
	IP        string
	UserAgent string
}

// LoginInput is the credential submission for Login.
type LoginInput struct {
	Identifier        string
	Password          string
	RememberMe        bool
	TwoFactorCode     string
	TwoFactorMethodID string
	Device            DeviceInfo
}

// TokenPair is the credential bundle handed to a client.
type TokenPair struct {
	AccessToken           string
	AccessTokenExpiresAt  time.Time
	RefreshToken          string
	RefreshTokenExpiresAt time.Time
	SessionID             string
}

// LoginResult is returned by a successful Login.
type LoginResult struct {
	TokenPair
	User domain.User
}

// RefreshResult is returned by a successful Refresh.
type RefreshResult struct {
	TokenPair
	UserID string
}

// TwoFactorRequiredError asks the client to repeat the login with a code for MethodID.
type TwoFactorRequiredError struct {
	MethodID   string
	MethodType domain.TwoFactorType
	CodeSent   bool
}

func (e *TwoFactorRequiredError) Error() string {
	return fmt.Sprintf("two-factor code required for %s method", e.MethodType)
}

// Unwrap lets errors.Is(err, ErrTwoFactorRequired) match.
func (e *TwoFactorRequiredError) Unwrap() error { return ErrTwoFactorRequired }

// AuthSettings holds the knobs AuthService reads per call.
type AuthSettings struct {
	LoginIP       RateLimitRule
	LoginEmail    RateLimitRule
	RefreshIP     RateLimitRule
	TwoFactor     RateLimitRule
	RefreshTTL    time.Duration
	RememberMeTTL time.Duration
	TOTPPeriod    time.Duration
	TOTPSkew      int
}

// AuthDependencies groups the collaborators of AuthService.
type AuthDependencies struct {
	Users          port.UserStore
	TwoFactor      port.TwoFactorMethodRepository
	Sessions       *SessionManager
	Rotator        *RefreshRotator
	Issuer         *AccessTokenIssuer
	Limiter        *RateLimiter
	Otp            *OneTimeCodeEngine[domain.EmailSubject]
	TwoFactorCodes *OneTimeCodeEngine[domain.TwoFactorSubject]
	Passwords      port.PasswordHasher
	PasswordPolicy port.PasswordPolicyValidator
	Notifier       port.Notifier
	Events         port.EventPublisher
	Audit          *AuditRecorder
	Metrics        *telemetry.Metrics
	Tracer         trace.Tracer
	Retry          repository.RetryPolicy
}

// AuthService coordinates login, refresh, logout and the one-time-code flows.
type AuthService struct {
	deps     AuthDependencies
	settings AuthSettings
	tracer   trace.Tracer
	logger   *zap.Logger
	now      func() time.Time
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(deps AuthDependencies, settings AuthSettings, logger *zap.Logger) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	if settings.RememberMeTTL <= 0 {
		settings.RememberMeTTL = settings.RefreshTTL
	}

	service := &AuthService{
		deps:     deps,
		settings: settings,
		tracer:   tracer,
		logger:   logger,
	}
	service.now = func() time.Time { return time.Now().UTC() }
	return service
}

// WithClock overrides the service clock for deterministic tests.
func (s *AuthService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

func (s *AuthService) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "AuthService."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (s *AuthService) record(ctx context.Context, entry domain.AuditLog) {
	s.deps.Audit.Record(ctx, entry)
}

// Login verifies credentials (and a second factor when enrolled), opens a session and issues
// the first refresh token of a new family together with an access token.
func (s *AuthService) Login(ctx context.Context, input LoginInput) (result *LoginResult, err error) {
	ctx, span := s.startSpan(ctx, "Login")
	defer func() { endSpan(span, err) }()

	identifier := strings.TrimSpace(input.Identifier)
	if identifier == "" || input.Password == "" {
		return nil, fmt.Errorf("%w: identifier and password are required", ErrValidation)
	}
	device := input.Device

	if ip := strings.TrimSpace(device.IP); ip != "" {
		if err := s.throttle(ctx, loginIPKey(ip), "login_ip", s.settings.LoginIP, domain.AuditLoginThrottled, device); err != nil {
			s.deps.Metrics.LoginResult("throttled")
			return nil, err
		}
	}
	if err := s.throttle(ctx, loginEmailKey(identifier), "login_email", s.settings.LoginEmail, domain.AuditLoginThrottled, device); err != nil {
		s.deps.Metrics.LoginResult("throttled")
		return nil, err
	}

	user, err := s.authenticate(ctx, identifier, input.Password, device)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("user.id", user.ID))

	if err := s.verifySecondFactor(ctx, *user, input); err != nil {
		return nil, err
	}

	ttl := s.settings.RefreshTTL
	if input.RememberMe {
		ttl = s.settings.RememberMeTTL
	}
	return s.openSession(ctx, *user, device, domain.AuthMethodPassword, ttl, input.RememberMe)
}

// LoginFederated opens a session for a user whose identity an external provider has already
// verified. No password or second factor is checked here.
func (s *AuthService) LoginFederated(ctx context.Context, userID string, device DeviceInfo) (result *LoginResult, err error) {
	ctx, span := s.startSpan(ctx, "LoginFederated")
	defer func() { endSpan(span, err) }()

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	span.SetAttributes(attribute.String("user.id", userID))

	user, err := repository.Call(ctx, s.deps.Retry, func(ctx context.Context) (*domain.User, error) {
		return s.deps.Users.FindByID(ctx, userID)
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, storeFailure("find user", err)
	}
	if !user.CanAuthenticate() {
		s.deps.Metrics.LoginResult("failed")
		s.record(ctx, auditEntry(domain.AuditLoginFailed, user.ID, device, map[string]any{"reason": "inactive"}))
		return nil, ErrAccountInactive
	}

	return s.openSession(ctx, *user, device, domain.AuthMethodFederated, s.settings.RefreshTTL, false)
}

// openSession stores the session with the first token of its family and signs the access token.
func (s *AuthService) openSession(ctx context.Context, user domain.User, device DeviceInfo, method domain.AuthMethod, ttl time.Duration, rememberMe bool) (*LoginResult, error) {
	session, err := s.deps.Sessions.Build(user.ID, device.IP, device.UserAgent, method)
	if err != nil {
		return nil, err
	}

	refresh, err := s.deps.Rotator.OpenSession(ctx, session, ttl)
	if err != nil {
		return nil, err
	}

	access, err := s.deps.Issuer.Issue(user, session.ID)
	if err != nil {
		return nil, err
	}

	entry := auditEntry(domain.AuditLoginSuccess, user.ID, device, map[string]any{
		"session_id":  session.ID,
		"remember_me": rememberMe,
	})
	methodName := string(method)
	entry.AuthMethod = &methodName
	s.record(ctx, entry)
	s.deps.Metrics.LoginResult("success")

	logger.Enrich(ctx, s.logger).Info("user logged in",
		zap.String("user_id", user.ID),
		zap.String("session_id", session.ID),
		zap.String("auth_method", methodName),
		zap.String("ip", logger.MaskIP(device.IP)),
	)

	return &LoginResult{
		TokenPair: TokenPair{
			AccessToken:           access.Token,
			AccessTokenExpiresAt:  access.ExpiresAt,
			RefreshToken:          refresh.Secret,
			RefreshTokenExpiresAt: refresh.Token.ExpiresAt,
			SessionID:             session.ID,
		},
		User: user.Sanitized(),
	}, nil
}

// throttle applies rule to key, auditing and counting a rejection.
func (s *AuthService) throttle(ctx context.Context, key, ruleName string, rule RateLimitRule, action domain.AuditAction, device DeviceInfo) error {
	if s.deps.Limiter == nil {
		return nil
	}
	_, err := s.deps.Limiter.Enforce(ctx, key, rule)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrRateLimited) {
		s.deps.Metrics.Throttled(ruleName)
		s.record(ctx, auditEntry(action, "", device, map[string]any{"rule": ruleName}))
	}
	return err
}

func (s *AuthService) authenticate(ctx context.Context, identifier, password string, device DeviceInfo) (*domain.User, error) {
	fail := func(userID, reason string) {
		s.deps.Metrics.LoginResult("failed")
		s.record(ctx, auditEntry(domain.AuditLoginFailed, userID, device, map[string]any{"reason": reason}))
	}

	user, err := repository.Call(ctx, s.deps.Retry, func(ctx context.Context) (*domain.User, error) {
		return s.deps.Users.FindByEmailOrUsername(ctx, identifier)
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			fail("", "unknown_identifier")
			return nil, ErrInvalidCredentials
		}
		return nil, storeFailure("find user", err)
	}

	ok, err := s.deps.Passwords.Verify(password, user.PasswordHash)
	if err != nil {
		logger.Enrich(ctx, s.logger).Warn("password hash verification failed",
			zap.String("user_id", user.ID),
			zap.Error(err),
		)
		ok = false
	}
	if !ok {
		fail(user.ID, "bad_password")
		return nil, ErrInvalidCredentials
	}

	if !user.CanAuthenticate() {
		fail(user.ID, "inactive")
		return nil, ErrAccountInactive
	}

	return user, nil
}

func (s *AuthService) verifySecondFactor(ctx context.Context, user domain.User, input LoginInput) error {
	if s.deps.TwoFactor == nil {
		return nil
	}

	methods, err := repository.Call(ctx, s.deps.Retry, func(ctx context.Context) ([]domain.TwoFactorMethod, error) {
		return s.deps.TwoFactor.ListActiveByUser(ctx, user.ID)
	})
	if err != nil {
		return storeFailure("list two-factor methods", err)
	}
	if len(methods) == 0 {
		return nil
	}

	method := methods[0]
	if id := strings.TrimSpace(input.TwoFactorMethodID); id != "" {
		found := false
		for _, candidate := range methods {
			if candidate.ID == id {
				method, found = candidate, true
				break
			}
		}
		if !found {
			return ErrTwoFactorInvalid
		}
	}

	subject := domain.TwoFactorSubject{UserID: user.ID, MethodID: method.ID}
	code := strings.TrimSpace(input.TwoFactorCode)
	if code == "" {
		return s.challenge(ctx, user, method, subject, input.Device)
	}

	var verified bool
	switch method.Type {
	case domain.TwoFactorTOTP:
		verified, err = s.verifyTOTP(ctx, method, subject, code, input.Device)
	case domain.TwoFactorBackupCodes:
		verified, err = s.verifyIssuedCode(ctx, subject, domain.PurposeTwoFactorRecovery, code)
	default:
		verified, err = s.verifyIssuedCode(ctx, subject, domain.PurposeTwoFactorLogin, code)
	}
	if err != nil {
		return err
	}
	if !verified {
		s.deps.Metrics.LoginResult("two_factor_failed")
		s.record(ctx, auditEntry(domain.AuditTwoFactorFailed, user.ID, input.Device, map[string]any{
			"method_id":   method.ID,
			"method_type": string(method.Type),
		}))
		return ErrTwoFactorInvalid
	}
	return nil
}

func (s *AuthService) challenge(ctx context.Context, user domain.User, method domain.TwoFactorMethod, subject domain.TwoFactorSubject, device DeviceInfo) error {
	required := &TwoFactorRequiredError{MethodID: method.ID, MethodType: method.Type}

	// backup codes are handed out at enrollment, nothing is sent at login
	if method.UsesIssuedCodes() && method.Type != domain.TwoFactorBackupCodes && s.deps.TwoFactorCodes != nil {
		issued, err := s.deps.TwoFactorCodes.Issue(ctx, subject, domain.PurposeTwoFactorLogin)
		if err != nil {
			if errors.Is(err, ErrRateLimited) {
				s.deps.Metrics.Throttled("two_factor")
			}
			return err
		}

		delivery := port.CodeDelivery{
			Channel:     string(method.Type),
			Destination: user.Email,
			Purpose:     domain.PurposeTwoFactorLogin,
			Code:        issued.Code,
			ExpiresAt:   issued.ExpiresAt,
		}
		if method.Type == domain.TwoFactorSMS && method.PhoneNumber != nil {
			delivery.Destination = *method.PhoneNumber
		}
		required.CodeSent = s.dispatch(ctx, delivery)
	}

	s.deps.Metrics.LoginResult("two_factor_required")
	s.record(ctx, auditEntry(domain.AuditTwoFactorRequired, user.ID, device, map[string]any{
		"method_id":   method.ID,
		"method_type": string(method.Type),
		"code_sent":   required.CodeSent,
	}))
	return required
}

func (s *AuthService) verifyTOTP(ctx context.Context, method domain.TwoFactorMethod, subject domain.TwoFactorSubject, code string, device DeviceInfo) (bool, error) {
	if method.Secret == nil {
		return false, nil
	}
	if err := s.throttle(ctx, codeKey(domain.PurposeTwoFactorLogin, subject.Key()), "two_factor", s.settings.TwoFactor, domain.AuditLoginThrottled, device); err != nil {
		return false, err
	}

	ok, err := security.VerifyTOTP(*method.Secret, code, s.now(), s.settings.TOTPPeriod, s.settings.TOTPSkew)
	if err != nil {
		logger.Enrich(ctx, s.logger).Warn("totp verification failed",
			zap.String("method_id", method.ID),
			zap.Error(err),
		)
		return false, nil
	}
	return ok, nil
}

func (s *AuthService) verifyIssuedCode(ctx context.Context, subject domain.TwoFactorSubject, purpose domain.CodePurpose, code string) (bool, error) {
	if s.deps.TwoFactorCodes == nil {
		return false, nil
	}
	outcome, err := s.deps.TwoFactorCodes.Verify(ctx, subject, purpose, code)
	if err != nil {
		return false, err
	}
	s.deps.Metrics.CodeVerified(string(purpose), outcome.String())
	return outcome == VerifyConsumed, nil
}

// dispatch hands a code to the notifier and reports whether it was accepted.
func (s *AuthService) dispatch(ctx context.Context, delivery port.CodeDelivery) bool {
	if s.deps.Notifier == nil {
		return false
	}
	if err := s.deps.Notifier.SendCode(ctx, delivery); err != nil {
		logger.Enrich(ctx, s.logger).Error("code delivery failed",
			zap.String("channel", delivery.Channel),
			zap.String("purpose", string(delivery.Purpose)),
			zap.Error(err),
		)
		return false
	}
	return true
}

// Refresh rotates the presented refresh token and issues a new access token.
func (s *AuthService) Refresh(ctx context.Context, secret string, device DeviceInfo) (result *RefreshResult, err error) {
	ctx, span := s.startSpan(ctx, "Refresh")
	defer func() { endSpan(span, err) }()

	if ip := strings.TrimSpace(device.IP); ip != "" {
		if err := s.throttle(ctx, refreshIPKey(ip), "refresh_ip", s.settings.RefreshIP, domain.AuditRefreshRejected, device); err != nil {
			s.deps.Metrics.RefreshResult("throttled")
			return nil, err
		}
	}

	rotation, err := s.deps.Rotator.Rotate(ctx, secret, device)
	if err != nil {
		reason := refreshFailureReason(err)
		s.deps.Metrics.RefreshResult(reason)
		if !errors.Is(err, ErrRefreshReuseDetected) && !errors.Is(err, ErrStoreUnavailable) {
			s.record(ctx, auditEntry(domain.AuditRefreshRejected, "", device, map[string]any{"reason": reason}))
		}
		return nil, err
	}
	span.SetAttributes(
		attribute.String("user.id", rotation.Token.UserID),
		attribute.String("session.id", rotation.Session.ID),
	)

	user, err := repository.Call(ctx, s.deps.Retry, func(ctx context.Context) (*domain.User, error) {
		return s.deps.Users.FindByID(ctx, rotation.Token.UserID)
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, storeFailure("find user", err)
	}
	if !user.CanAuthenticate() {
		s.deps.Metrics.RefreshResult("inactive")
		return nil, ErrAccountInactive
	}

	access, err := s.deps.Issuer.Issue(*user, rotation.Session.ID)
	if err != nil {
		return nil, err
	}

	s.record(ctx, auditEntry(domain.AuditTokenRefreshed, user.ID, device, map[string]any{
		"session_id": rotation.Session.ID,
		"family_id":  rotation.Token.FamilyID,
	}))
	s.deps.Metrics.RefreshResult("success")

	return &RefreshResult{
		TokenPair: TokenPair{
			AccessToken:           access.Token,
			AccessTokenExpiresAt:  access.ExpiresAt,
			RefreshToken:          rotation.Secret,
			RefreshTokenExpiresAt: rotation.Token.ExpiresAt,
			SessionID:             rotation.Session.ID,
		},
		UserID: user.ID,
	}, nil
}

func refreshFailureReason(err error) string {
	switch {
	case errors.Is(err, ErrRefreshReuseDetected):
		return "reuse_detected"
	case errors.Is(err, ErrExpiredRefreshToken):
		return "expired"
	case errors.Is(err, ErrSessionIdleExpired), errors.Is(err, ErrSessionAbsoluteExpired):
		return "session_expired"
	case errors.Is(err, ErrSessionAlreadyRevoked):
		return "session_revoked"
	case errors.Is(err, ErrStoreUnavailable):
		return "unavailable"
	default:
		return "invalid"
	}
}

// Logout revokes one session together with its refresh tokens.
func (s *AuthService) Logout(ctx context.Context, sessionID string, device DeviceInfo) (err error) {
	ctx, span := s.startSpan(ctx, "Logout", attribute.String("session.id", sessionID))
	defer func() { endSpan(span, err) }()

	session, err := s.deps.Sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := s.deps.Sessions.Revoke(ctx, session.ID, domain.RevokeReasonLogout); err != nil {
		return err
	}

	s.record(ctx, auditEntry(domain.AuditLogout, session.UserID, device, map[string]any{
		"session_id": session.ID,
	}))
	return nil
}

// LogoutWithRefreshToken resolves the session owning secret and logs it out.
func (s *AuthService) LogoutWithRefreshToken(ctx context.Context, secret string, device DeviceInfo) error {
	token, err := s.deps.Rotator.Lookup(ctx, secret)
	if err != nil {
		return err
	}
	return s.Logout(ctx, token.SessionID, device)
}

// LogoutAllOtherSessions revokes every session of userID except exceptSessionID.
func (s *AuthService) LogoutAllOtherSessions(ctx context.Context, userID, exceptSessionID string, device DeviceInfo) (count int, err error) {
	ctx, span := s.startSpan(ctx, "LogoutAllOtherSessions", attribute.String("user.id", userID))
	defer func() { endSpan(span, err) }()

	sessions, tokens, err := s.deps.Sessions.RevokeAllForUser(ctx, userID, exceptSessionID, domain.RevokeReasonLogoutOthers)
	if err != nil {
		return 0, err
	}

	s.record(ctx, auditEntry(domain.AuditLogoutOtherSessions, userID, device, map[string]any{
		"kept_session_id":  exceptSessionID,
		"sessions_revoked": sessions,
		"tokens_revoked":   tokens,
	}))
	return sessions, nil
}

// ListSessions returns the live sessions of userID.
func (s *AuthService) ListSessions(ctx context.Context, userID string) ([]domain.Session, error) {
	return s.deps.Sessions.ListActive(ctx, userID)
}

// RevokeSession revokes a session owned by userID.
func (s *AuthService) RevokeSession(ctx context.Context, userID, sessionID string, device DeviceInfo) error {
	session, err := s.deps.Sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.UserID != userID {
		return ErrSessionForbidden
	}
	return s.Logout(ctx, session.ID, device)
}

func parseOtpRequest(email string, purpose domain.CodePurpose) (domain.EmailSubject, domain.CodePurpose, error) {
	normalized := domain.NormalizeEmail(email)
	if normalized == "" || !strings.Contains(normalized, "@") {
		return "", "", fmt.Errorf("%w: a valid email is required", ErrValidation)
	}
	parsed, ok := domain.ParseCodePurpose(string(purpose), domain.OtpPurposes)
	if !ok {
		return "", "", fmt.Errorf("%w: unsupported purpose %q", ErrValidation, purpose)
	}
	return domain.EmailSubject(normalized), parsed, nil
}

// RequestOtp issues an email code for purpose and hands it to the notifier.
// The returned code is for delivery only and must never reach the HTTP response.
func (s *AuthService) RequestOtp(ctx context.Context, email string, purpose domain.CodePurpose, device DeviceInfo) (issued *IssuedCode, err error) {
	ctx, span := s.startSpan(ctx, "RequestOtp", attribute.String("otp.purpose", string(purpose)))
	defer func() { endSpan(span, err) }()

	subject, purpose, err := parseOtpRequest(email, purpose)
	if err != nil {
		return nil, err
	}

	issued, err = s.deps.Otp.Issue(ctx, subject, purpose)
	if err != nil {
		if errors.Is(err, ErrRateLimited) {
			s.deps.Metrics.Throttled("otp_request")
			s.record(ctx, auditEntry(domain.AuditOtpThrottled, "", device, map[string]any{
				"purpose": string(purpose),
				"email":   logger.MaskEmail(string(subject)),
			}))
		}
		return nil, err
	}

	sent := s.dispatch(ctx, port.CodeDelivery{
		Channel:     "email",
		Destination: string(subject),
		Purpose:     purpose,
		Code:        issued.Code,
		ExpiresAt:   issued.ExpiresAt,
	})

	s.record(ctx, auditEntry(domain.AuditOtpRequested, "", device, map[string]any{
		"purpose":   string(purpose),
		"email":     logger.MaskEmail(string(subject)),
		"code_id":   issued.ID,
		"delivered": sent,
	}))
	return issued, nil
}

// VerifyOtp checks an email code. A consumed signup code marks the account's email as verified.
func (s *AuthService) VerifyOtp(ctx context.Context, email string, purpose domain.CodePurpose, code string, device DeviceInfo) (outcome VerifyOutcome, err error) {
	ctx, span := s.startSpan(ctx, "VerifyOtp", attribute.String("otp.purpose", string(purpose)))
	defer func() {
		span.SetAttributes(attribute.String("otp.outcome", outcome.String()))
		endSpan(span, err)
	}()

	subject, purpose, err := parseOtpRequest(email, purpose)
	if err != nil {
		return VerifyNotFound, err
	}

	outcome, err = s.deps.Otp.Verify(ctx, subject, purpose, code)
	if err != nil {
		return outcome, err
	}
	s.deps.Metrics.CodeVerified(string(purpose), outcome.String())

	metadata := map[string]any{
		"purpose": string(purpose),
		"email":   logger.MaskEmail(string(subject)),
		"outcome": outcome.String(),
	}
	if outcome != VerifyConsumed {
		s.record(ctx, auditEntry(domain.AuditOtpVerificationFailed, "", device, metadata))
		return outcome, nil
	}
	s.record(ctx, auditEntry(domain.AuditOtpVerified, "", device, metadata))

	if purpose == domain.PurposeSignup {
		if err := s.markEmailVerified(ctx, subject, device); err != nil {
			return outcome, err
		}
	}
	return outcome, nil
}

func (s *AuthService) markEmailVerified(ctx context.Context, subject domain.EmailSubject, device DeviceInfo) error {
	user, err := repository.Call(ctx, s.deps.Retry, func(ctx context.Context) (*domain.User, error) {
		return s.deps.Users.FindByEmailOrUsername(ctx, string(subject))
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			logger.Enrich(ctx, s.logger).Info("signup code verified before account exists",
				zap.String("email", logger.MaskEmail(string(subject))),
			)
			return nil
		}
		return storeFailure("find user", err)
	}
	if user.EmailVerified {
		return nil
	}

	if err := s.deps.Retry.Do(ctx, func(ctx context.Context) error {
		return s.deps.Users.UpdateEmailVerified(ctx, user.ID, true)
	}); err != nil {
		return storeFailure("mark email verified", err)
	}

	s.record(ctx, auditEntry(domain.AuditEmailVerified, user.ID, device, nil))
	return nil
}

// CompletePasswordReset verifies a password_reset code, stores the new password and
// terminates every session of the user.
func (s *AuthService) CompletePasswordReset(ctx context.Context, email, code, newPassword string, device DeviceInfo) (err error) {
	ctx, span := s.startSpan(ctx, "CompletePasswordReset")
	defer func() { endSpan(span, err) }()

	subject, purpose, err := parseOtpRequest(email, domain.PurposePasswordReset)
	if err != nil {
		return err
	}

	user, err := repository.Call(ctx, s.deps.Retry, func(ctx context.Context) (*domain.User, error) {
		return s.deps.Users.FindByEmailOrUsername(ctx, string(subject))
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInvalidCode
		}
		return storeFailure("find user", err)
	}

	// the policy runs before the code is spent so a rejected password does not burn it
	if s.deps.PasswordPolicy != nil {
		if err := s.deps.PasswordPolicy.Validate(newPassword, user.Email, user.Username); err != nil {
			return fmt.Errorf("%w: %w", ErrWeakPassword, err)
		}
	}

	outcome, err := s.deps.Otp.Verify(ctx, subject, purpose, code)
	if err != nil {
		return err
	}
	s.deps.Metrics.CodeVerified(string(purpose), outcome.String())
	if outcome != VerifyConsumed {
		s.record(ctx, auditEntry(domain.AuditOtpVerificationFailed, user.ID, device, map[string]any{
			"purpose": string(purpose),
			"outcome": outcome.String(),
		}))
		return ErrInvalidCode
	}

	hash, err := s.deps.Passwords.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	changedAt := s.now()
	if err := s.deps.Retry.Do(ctx, func(ctx context.Context) error {
		return s.deps.Users.UpdatePasswordHash(ctx, user.ID, hash, changedAt)
	}); err != nil {
		return storeFailure("update password", err)
	}

	sessions, tokens, err := s.deps.Sessions.RevokeAllForUser(ctx, user.ID, "", domain.RevokeReasonPasswordReset)
	if err != nil {
		return err
	}

	if s.deps.Events != nil {
		event := domain.PasswordChangedEvent{
			EventID:         uuid.NewString(),
			UserID:          user.ID,
			ChangedAt:       changedAt,
			ChangedBy:       "password_reset",
			SessionsRevoked: sessions,
		}
		if err := s.deps.Events.PublishPasswordChanged(ctx, event); err != nil {
			logger.Enrich(ctx, s.logger).Warn("publish password changed event failed",
				zap.String("user_id", user.ID),
				zap.Error(err),
			)
		}
	}

	s.record(ctx, auditEntry(domain.AuditPasswordReset, user.ID, device, map[string]any{
		"sessions_revoked": sessions,
		"tokens_revoked":   tokens,
	}))
	return nil
}

// ValidateAccessToken checks a bearer token with the general clock-skew tolerance.
func (s *AuthService) ValidateAccessToken(ctx context.Context, token string) (*security.AccessTokenClaims, error) {
	_, span := s.startSpan(ctx, "ValidateAccessToken")
	claims, err := s.deps.Issuer.Validate(token, s.deps.Issuer.GeneralValidation())
	if err != nil {
		span.SetAttributes(attribute.String("token.failure", ValidationFailureReason(err)))
	}
	endSpan(span, err)
	return claims, err
}
