package usecase

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/heyavanindra/FrenCircle-sub001/internal/core/domain"
	"github.com/heyavanindra/FrenCircle-sub001/internal/core/port"
	"github.com/heyavanindra/FrenCircle-sub001/internal/infra/security"
	"github.com/heyavanindra/FrenCircle-sub001/internal/repository"
)

var baseTime = time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: baseTime}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// memStore keeps sessions and refresh tokens in memory. Transactions hold the store lock
// for their whole duration, which gives the row-lock semantics of SELECT ... FOR UPDATE.
type memStore struct {
	mu       sync.Mutex
	sessions map[string]domain.Session
	tokens   map[string]domain.RefreshToken

	// failTokenCreate makes the next refresh token insert fail.
	failTokenCreate error
}

func newMemStore() *memStore {
	return &memStore{
		sessions: make(map[string]domain.Session),
		tokens:   make(map[string]domain.RefreshToken),
	}
}

func (s *memStore) Sessions() port.SessionRepository           { return memSessions{store: s} }
func (s *memStore) RefreshTokens() port.RefreshTokenRepository { return memTokens{store: s} }

func (s *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context, repos port.TxRepositories) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	sessions := make(map[string]domain.Session, len(s.sessions))
	for k, v := range s.sessions {
		sessions[k] = v
	}
	tokens := make(map[string]domain.RefreshToken, len(s.tokens))
	for k, v := range s.tokens {
		tokens[k] = v
	}

	if err := fn(ctx, memTxRepos{store: s}); err != nil {
		s.sessions = sessions
		s.tokens = tokens
		return err
	}
	return nil
}

func (s *memStore) lock(inTx bool) func() {
	if inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *memStore) token(id string) domain.RefreshToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens[id]
}

func (s *memStore) session(id string) domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[id]
}

func (s *memStore) familyTokens(familyID string) []domain.RefreshToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.RefreshToken
	for _, token := range s.tokens {
		if token.FamilyID == familyID {
			out = append(out, token)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.Before(out[j].IssuedAt) })
	return out
}

type memTxRepos struct {
	store *memStore
}

func (r memTxRepos) Sessions() port.SessionRepository { return memSessions{store: r.store, inTx: true} }
func (r memTxRepos) RefreshTokens() port.RefreshTokenRepository {
	return memTokens{store: r.store, inTx: true}
}

type memSessions struct {
	store *memStore
	inTx  bool
}

func (r memSessions) Create(_ context.Context, session domain.Session) error {
	defer r.store.lock(r.inTx)()
	if _, ok := r.store.sessions[session.ID]; ok {
		return repository.ErrConflict
	}
	r.store.sessions[session.ID] = session
	return nil
}

func (r memSessions) GetByID(_ context.Context, sessionID string) (*domain.Session, error) {
	defer r.store.lock(r.inTx)()
	session, ok := r.store.sessions[sessionID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &session, nil
}

func (r memSessions) Touch(_ context.Context, sessionID string, at time.Time) error {
	defer r.store.lock(r.inTx)()
	session, ok := r.store.sessions[sessionID]
	if !ok {
		return repository.ErrNotFound
	}
	if session.IsRevoked() {
		return repository.ErrConflict
	}
	session.Touch(at)
	r.store.sessions[sessionID] = session
	return nil
}

func (r memSessions) Revoke(_ context.Context, sessionID, reason string, at time.Time) (bool, error) {
	defer r.store.lock(r.inTx)()
	session, ok := r.store.sessions[sessionID]
	if !ok {
		return false, repository.ErrNotFound
	}
	changed := session.Revoke(at, reason)
	r.store.sessions[sessionID] = session
	return changed, nil
}

func (r memSessions) RevokeAllForUser(_ context.Context, userID, exceptSessionID, reason string, at time.Time) ([]string, error) {
	defer r.store.lock(r.inTx)()
	var ids []string
	for id, session := range r.store.sessions {
		if session.UserID != userID || id == exceptSessionID {
			continue
		}
		if session.Revoke(at, reason) {
			r.store.sessions[id] = session
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r memSessions) ListActiveByUser(_ context.Context, userID string) ([]domain.Session, error) {
	defer r.store.lock(r.inTx)()
	var out []domain.Session
	for _, session := range r.store.sessions {
		if session.UserID == userID && !session.IsRevoked() {
			out = append(out, session)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r memSessions) ListStale(_ context.Context, idleBefore, createdBefore time.Time, limit int) ([]domain.Session, error) {
	defer r.store.lock(r.inTx)()
	var out []domain.Session
	for _, session := range r.store.sessions {
		if session.IsRevoked() {
			continue
		}
		idle := !idleBefore.IsZero() && session.LastSeenAt.Before(idleBefore)
		old := !createdBefore.IsZero() && session.CreatedAt.Before(createdBefore)
		if idle || old {
			out = append(out, session)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memTokens struct {
	store *memStore
	inTx  bool
}

func (r memTokens) Create(_ context.Context, token domain.RefreshToken) error {
	defer r.store.lock(r.inTx)()
	if err := r.store.failTokenCreate; err != nil {
		r.store.failTokenCreate = nil
		return err
	}
	for _, existing := range r.store.tokens {
		if existing.TokenHash == token.TokenHash {
			return repository.ErrConflict
		}
	}
	r.store.tokens[token.ID] = token
	return nil
}

func (r memTokens) GetByHashForUpdate(_ context.Context, hash string) (*domain.RefreshToken, error) {
	defer r.store.lock(r.inTx)()
	for _, token := range r.store.tokens {
		if token.TokenHash == hash {
			found := token
			return &found, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r memTokens) MarkReplaced(_ context.Context, tokenID, successorID string, at time.Time) error {
	defer r.store.lock(r.inTx)()
	token, ok := r.store.tokens[tokenID]
	if !ok {
		return repository.ErrNotFound
	}
	if !token.ReplaceWith(successorID, at) {
		return repository.ErrConflict
	}
	r.store.tokens[tokenID] = token
	return nil
}

func (r memTokens) revokeWhere(match func(domain.RefreshToken) bool, reason string, at time.Time, limit int) int {
	ids := make([]string, 0)
	for id, token := range r.store.tokens {
		if !token.IsRevoked() && match(token) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	for _, id := range ids {
		token := r.store.tokens[id]
		token.Revoke(at, reason)
		r.store.tokens[id] = token
	}
	return len(ids)
}

func (r memTokens) Revoke(_ context.Context, tokenID, reason string, at time.Time) (bool, error) {
	defer r.store.lock(r.inTx)()
	count := r.revokeWhere(func(t domain.RefreshToken) bool { return t.ID == tokenID }, reason, at, 0)
	return count == 1, nil
}

func (r memTokens) RevokeFamily(_ context.Context, familyID, reason string, at time.Time) (int, error) {
	defer r.store.lock(r.inTx)()
	return r.revokeWhere(func(t domain.RefreshToken) bool { return t.FamilyID == familyID }, reason, at, 0), nil
}

func (r memTokens) RevokeBySession(_ context.Context, sessionID, reason string, at time.Time) (int, error) {
	defer r.store.lock(r.inTx)()
	return r.revokeWhere(func(t domain.RefreshToken) bool { return t.SessionID == sessionID }, reason, at, 0), nil
}

func (r memTokens) RevokeAllForUser(_ context.Context, userID, exceptSessionID, reason string, at time.Time) (int, error) {
	defer r.store.lock(r.inTx)()
	return r.revokeWhere(func(t domain.RefreshToken) bool {
		return t.UserID == userID && t.SessionID != exceptSessionID
	}, reason, at, 0), nil
}

func (r memTokens) SweepExpired(_ context.Context, now time.Time, limit int) (int, error) {
	defer r.store.lock(r.inTx)()
	return r.revokeWhere(func(t domain.RefreshToken) bool { return t.IsExpired(now) }, domain.RevokeReasonExpired, now, limit), nil
}

// memRateLimits is a fixed-window counter map.
type memRateLimits struct {
	mu      sync.Mutex
	buckets map[string]domain.RateLimitBucket
}

func newMemRateLimits() *memRateLimits {
	return &memRateLimits{buckets: make(map[string]domain.RateLimitBucket)}
}

func (m *memRateLimits) Increment(_ context.Context, key string, windowStart time.Time, _ time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket := m.buckets[key]
	if !bucket.WindowStart.Equal(windowStart) {
		bucket = domain.RateLimitBucket{Key: key, WindowStart: windowStart}
	}
	bucket.Count++
	m.buckets[key] = bucket
	return bucket.Count, nil
}

// memCodes stores one-time codes for any subject type.
type memCodes[S domain.CodeSubject] struct {
	mu    sync.Mutex
	codes []domain.OneTimeCode[S]
}

func (m *memCodes[S]) Create(_ context.Context, code domain.OneTimeCode[S]) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes = append(m.codes, code)
	return nil
}

func (m *memCodes[S]) LatestUnconsumed(_ context.Context, subject S, purpose domain.CodePurpose) (*domain.OneTimeCode[S], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.codes) - 1; i >= 0; i-- {
		code := m.codes[i]
		if code.Subject == subject && code.Purpose == purpose && code.ConsumedAt == nil {
			return &code, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memCodes[S]) find(id string) int {
	for i := range m.codes {
		if m.codes[i].ID == id {
			return i
		}
	}
	return -1
}

func (m *memCodes[S]) IncrementAttempts(_ context.Context, codeID string, maxAttempts int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.find(codeID)
	if i < 0 {
		return 0, repository.ErrNotFound
	}
	if m.codes[i].Attempts >= maxAttempts {
		return m.codes[i].Attempts, repository.ErrConflict
	}
	m.codes[i].Attempts++
	return m.codes[i].Attempts, nil
}

func (m *memCodes[S]) Consume(_ context.Context, codeID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.find(codeID)
	if i < 0 {
		return repository.ErrNotFound
	}
	if !m.codes[i].Consume(at) {
		return repository.ErrConflict
	}
	return nil
}

func (m *memCodes[S]) PurgeExpired(_ context.Context, before time.Time, limit int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.codes[:0]
	purged := 0
	for _, code := range m.codes {
		if code.ExpiresAt.Before(before) && (limit <= 0 || purged < limit) {
			purged++
			continue
		}
		kept = append(kept, code)
	}
	m.codes = kept
	return purged, nil
}

func (m *memCodes[S]) snapshot() []domain.OneTimeCode[S] {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.OneTimeCode[S], len(m.codes))
	copy(out, m.codes)
	return out
}

type memUsers struct {
	mu    sync.Mutex
	users map[string]domain.User
}

func newMemUsers(users ...domain.User) *memUsers {
	m := &memUsers{users: make(map[string]domain.User)}
	for _, user := range users {
		m.users[user.ID] = user
	}
	return m
}

func (m *memUsers) FindByID(_ context.Context, id string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &user, nil
}

func (m *memUsers) FindByEmailOrUsername(_ context.Context, identifier string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if user.Email == domain.NormalizeEmail(identifier) || user.Username == identifier {
			found := user
			return &found, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memUsers) UpdateEmailVerified(_ context.Context, id string, verified bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	user.EmailVerified = verified
	m.users[id] = user
	return nil
}

func (m *memUsers) UpdatePasswordHash(_ context.Context, id, passwordHash string, changedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	user.PasswordHash = passwordHash
	user.UpdatedAt = changedAt
	m.users[id] = user
	return nil
}

func (m *memUsers) get(id string) domain.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[id]
}

type stubTwoFactorMethods struct {
	methods []domain.TwoFactorMethod
}

func (s stubTwoFactorMethods) ListActiveByUser(_ context.Context, userID string) ([]domain.TwoFactorMethod, error) {
	var out []domain.TwoFactorMethod
	for _, method := range s.methods {
		if method.UserID == userID && method.IsActive {
			out = append(out, method)
		}
	}
	return out, nil
}

type recordingPublisher struct {
	mu              sync.Mutex
	sessionRevoked  []domain.SessionRevokedEvent
	reuseDetected   []domain.RefreshReuseDetectedEvent
	passwordChanged []domain.PasswordChangedEvent
}

func (p *recordingPublisher) PublishSessionRevoked(_ context.Context, event domain.SessionRevokedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessionRevoked = append(p.sessionRevoked, event)
	return nil
}

func (p *recordingPublisher) PublishRefreshReuseDetected(_ context.Context, event domain.RefreshReuseDetectedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reuseDetected = append(p.reuseDetected, event)
	return nil
}

func (p *recordingPublisher) PublishPasswordChanged(_ context.Context, event domain.PasswordChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.passwordChanged = append(p.passwordChanged, event)
	return nil
}

func (p *recordingPublisher) reuseEvents() []domain.RefreshReuseDetectedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.RefreshReuseDetectedEvent(nil), p.reuseDetected...)
}

type recordingAuditWriter struct {
	mu      sync.Mutex
	entries []domain.AuditLog
	err     error
}

func (w *recordingAuditWriter) WriteAudit(_ context.Context, entry domain.AuditLog) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.entries = append(w.entries, entry)
	return nil
}

func (w *recordingAuditWriter) actions() []domain.AuditAction {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]domain.AuditAction, 0, len(w.entries))
	for _, entry := range w.entries {
		out = append(out, entry.Action)
	}
	return out
}

func (w *recordingAuditWriter) has(action domain.AuditAction) bool {
	for _, candidate := range w.actions() {
		if candidate == action {
			return true
		}
	}
	return false
}

type recordingNotifier struct {
	mu         sync.Mutex
	deliveries []port.CodeDelivery
}

func (n *recordingNotifier) SendCode(_ context.Context, delivery port.CodeDelivery) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deliveries = append(n.deliveries, delivery)
	return nil
}

func (n *recordingNotifier) last() (port.CodeDelivery, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.deliveries) == 0 {
		return port.CodeDelivery{}, false
	}
	return n.deliveries[len(n.deliveries)-1], true
}

// unavailableTokens fails every call with a transient-looking error.
type unavailableTokens struct {
	port.RefreshTokenRepository
	calls int
}

func (u *unavailableTokens) Create(context.Context, domain.RefreshToken) error {
	u.calls++
	return context.DeadlineExceeded
}

const (
	testPassword   = "correct-Horse-9-battery"
	testSigningKey = "0123456789abcdef0123456789abcdef"
)

type testEnv struct {
	clock       *testClock
	store       *memStore
	limits      *memRateLimits
	otpCodes    *memCodes[domain.EmailSubject]
	tfaCodes    *memCodes[domain.TwoFactorSubject]
	users       *memUsers
	methods     *stubTwoFactorMethods
	events      *recordingPublisher
	writer      *recordingAuditWriter
	notifier    *recordingNotifier
	audit       *AuditRecorder
	sessions    *SessionManager
	rotator     *RefreshRotator
	issuer      *AccessTokenIssuer
	limiter     *RateLimiter
	otp         *OneTimeCodeEngine[domain.EmailSubject]
	tfa         *OneTimeCodeEngine[domain.TwoFactorSubject]
	service     *AuthService
	user        domain.User
	hasher      *security.Argon2Hasher
	reusePolicy domain.ReusePolicy
}

func testArgon2Hasher(t *testing.T) *security.Argon2Hasher {
	t.Helper()
	hasher, err := security.NewArgon2Hasher(port.Argon2Params{
		Memory:      8 * 1024,
		Iterations:  1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	})
	if err != nil {
		t.Fatalf("NewArgon2Hasher returned error: %v", err)
	}
	return hasher
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWithPolicy(t, domain.NewReusePolicy(domain.ReusePolicyRevokeSession))
}

func newTestEnvWithPolicy(t *testing.T, reusePolicy domain.ReusePolicy) *testEnv {
	t.Helper()
	logger := zaptest.NewLogger(t)

	env := &testEnv{
		clock:       newTestClock(),
		store:       newMemStore(),
		limits:      newMemRateLimits(),
		otpCodes:    &memCodes[domain.EmailSubject]{},
		tfaCodes:    &memCodes[domain.TwoFactorSubject]{},
		methods:     &stubTwoFactorMethods{},
		events:      &recordingPublisher{},
		writer:      &recordingAuditWriter{},
		notifier:    &recordingNotifier{},
		hasher:      testArgon2Hasher(t),
		reusePolicy: reusePolicy,
	}

	hash, err := env.hasher.Hash(testPassword)
	if err != nil {
		t.Fatalf("Hash returned error: %v", err)
	}
	env.user = domain.User{
		ID:           "user-1",
		Email:        "alice@example.com",
		Username:     "alice",
		PasswordHash: hash,
		IsActive:     true,
		Roles:        []string{"user"},
		CreatedAt:    baseTime.Add(-24 * time.Hour),
	}
	env.users = newMemUsers(env.user)

	env.audit = NewAuditRecorder(AuditSettings{BufferSize: 256, Workers: 1}, logger, nil, env.writer)
	t.Cleanup(env.audit.Close)

	env.sessions = NewSessionManager(env.store.Sessions(), env.store, SessionPolicy{
		IdleTimeout:      14 * 24 * time.Hour,
		AbsoluteLifetime: 60 * 24 * time.Hour,
	}, logger).WithEvents(env.events).WithAudit(env.audit)
	env.sessions.WithClock(env.clock.Now)

	env.rotator = NewRefreshRotator(env.store, env.store.RefreshTokens(), env.sessions, RotatorSettings{
		RefreshTTL:  14 * 24 * time.Hour,
		ReusePolicy: reusePolicy,
	}, logger).WithEvents(env.events).WithAudit(env.audit)
	env.rotator.WithClock(env.clock.Now)

	provider, err := security.NewStaticKeyProvider("primary", testSigningKey)
	if err != nil {
		t.Fatalf("NewStaticKeyProvider returned error: %v", err)
	}
	env.issuer = NewAccessTokenIssuer(security.NewJWTManager(provider, "auth-service", "auth-clients"), 15*time.Minute, 5*time.Minute)
	env.issuer.WithClock(env.clock.Now)

	env.limiter = NewRateLimiter(env.limits, repository.RetryPolicy{}, logger)
	env.limiter.WithClock(env.clock.Now)

	codeHasher := security.NewCodeHasher("pepper")
	env.otp = NewOneTimeCodeEngine[domain.EmailSubject](env.otpCodes, codeHasher, env.limiter,
		RateLimitRule{Limit: 3, Window: time.Hour}, CodeSettings{TTL: 10 * time.Minute, MaxAttempts: 5, Length: 6}, logger)
	env.otp.WithClock(env.clock.Now)
	env.tfa = NewOneTimeCodeEngine[domain.TwoFactorSubject](env.tfaCodes, codeHasher, env.limiter,
		RateLimitRule{Limit: 5, Window: 5 * time.Minute}, CodeSettings{TTL: 5 * time.Minute, MaxAttempts: 5, Length: 6}, logger)
	env.tfa.WithClock(env.clock.Now)

	env.service = NewAuthService(AuthDependencies{
		Users:          env.users,
		TwoFactor:      env.methods,
		Sessions:       env.sessions,
		Rotator:        env.rotator,
		Issuer:         env.issuer,
		Limiter:        env.limiter,
		Otp:            env.otp,
		TwoFactorCodes: env.tfa,
		Passwords:      env.hasher,
		PasswordPolicy: security.DefaultPasswordPolicy(2),
		Notifier:       env.notifier,
		Events:         env.events,
		Audit:          env.audit,
	}, AuthSettings{
		LoginIP:       RateLimitRule{Limit: 5, Window: time.Minute},
		LoginEmail:    RateLimitRule{Limit: 5, Window: time.Minute},
		RefreshIP:     RateLimitRule{Limit: 100, Window: time.Minute},
		TwoFactor:     RateLimitRule{Limit: 5, Window: 5 * time.Minute},
		RefreshTTL:    14 * 24 * time.Hour,
		RememberMeTTL: 60 * 24 * time.Hour,
		TOTPPeriod:    30 * time.Second,
		TOTPSkew:      1,
	}, logger)
	env.service.WithClock(env.clock.Now)

	return env
}

// login opens a session for the test user and returns its first refresh secret.
func (e *testEnv) login(t *testing.T) *LoginResult {
	t.Helper()
	result, err := e.service.Login(context.Background(), LoginInput{
		Identifier: e.user.Email,
		Password:   testPassword,
		Device:     DeviceInfo{IP: "203.0.113.7", UserAgent: "test-agent"},
	})
	if err != nil {
		t.Fatalf("Login returned error: %v", err)
	}
	return result
}
