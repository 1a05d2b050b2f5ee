package telemetry

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "auth"

// Metrics groups the auth-flow collectors. A nil *Metrics is a valid no-op recorder.
type Metrics struct {
	Logins        *prometheus.CounterVec
	Refreshes     *prometheus.CounterVec
	ReuseDetected prometheus.Counter
	RateLimited   *prometheus.CounterVec
	OtpOutcomes   *prometheus.CounterVec
	AuditFailures prometheus.Counter
	AuditDropped  prometheus.Counter
	PublishErrors *prometheus.CounterVec
	SweptTokens   prometheus.Counter
	SweptSessions prometheus.Counter
}

// NewMetrics registers the auth collectors with reg, reusing collectors that are already registered.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{}
	var err error

	if m.Logins, err = registerCounterVec(reg, prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "login_attempts_total",
		Help:      "Login attempts partitioned by result.",
	}, "result"); err != nil {
		return nil, err
	}

	if m.Refreshes, err = registerCounterVec(reg, prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "refresh_rotations_total",
		Help:      "Refresh token rotations partitioned by result.",
	}, "result"); err != nil {
		return nil, err
	}

	if m.ReuseDetected, err = registerCounter(reg, prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "refresh_reuse_detected_total",
		Help:      "Replayed refresh tokens that triggered a family revocation.",
	}); err != nil {
		return nil, err
	}

	if m.RateLimited, err = registerCounterVec(reg, prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the fixed-window limiter partitioned by rule.",
	}, "rule"); err != nil {
		return nil, err
	}

	if m.OtpOutcomes, err = registerCounterVec(reg, prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "code_verifications_total",
		Help:      "One-time code verifications partitioned by purpose and outcome.",
	}, "purpose", "outcome"); err != nil {
		return nil, err
	}

	if m.AuditFailures, err = registerCounter(reg, prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audit_failures_total",
		Help:      "Audit entries a writer failed to persist.",
	}); err != nil {
		return nil, err
	}

	if m.AuditDropped, err = registerCounter(reg, prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audit_dropped_total",
		Help:      "Audit entries dropped because the queue was full.",
	}); err != nil {
		return nil, err
	}

	if m.PublishErrors, err = registerCounterVec(reg, prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "event_publish_errors_total",
		Help:      "Kafka delivery failures partitioned by topic.",
	}, "topic"); err != nil {
		return nil, err
	}

	if m.SweptTokens, err = registerCounter(reg, prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "swept_refresh_tokens_total",
		Help:      "Expired refresh tokens revoked by the sweeper.",
	}); err != nil {
		return nil, err
	}

	if m.SweptSessions, err = registerCounter(reg, prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "swept_sessions_total",
		Help:      "Timed-out sessions revoked by the sweeper.",
	}); err != nil {
		return nil, err
	}

	return m, nil
}

func registerCounter(reg prometheus.Registerer, opts prometheus.CounterOpts) (prometheus.Counter, error) {
	counter := prometheus.NewCounter(opts)
	if err := reg.Register(counter); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("existing %s collector has unexpected type %T", opts.Name, already.ExistingCollector)
		}
		return nil, fmt.Errorf("register %s collector: %w", opts.Name, err)
	}
	return counter, nil
}

func registerCounterVec(reg prometheus.Registerer, opts prometheus.CounterOpts, labels ...string) (*prometheus.CounterVec, error) {
	vec := prometheus.NewCounterVec(opts, labels)
	if err := reg.Register(vec); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("existing %s collector has unexpected type %T", opts.Name, already.ExistingCollector)
		}
		return nil, fmt.Errorf("register %s collector: %w", opts.Name, err)
	}
	return vec, nil
}

// LoginResult counts a finished login attempt.
func (m *Metrics) LoginResult(result string) {
	if m == nil {
		return
	}
	m.Logins.WithLabelValues(result).Inc()
}

// RefreshResult counts a finished rotation attempt.
func (m *Metrics) RefreshResult(result string) {
	if m == nil {
		return
	}
	m.Refreshes.WithLabelValues(result).Inc()
}

// RefreshReuse counts a detected replay.
func (m *Metrics) RefreshReuse() {
	if m == nil {
		return
	}
	m.ReuseDetected.Inc()
}

// Throttled counts a request rejected by rule.
func (m *Metrics) Throttled(rule string) {
	if m == nil {
		return
	}
	m.RateLimited.WithLabelValues(rule).Inc()
}

// CodeVerified counts a code verification outcome.
func (m *Metrics) CodeVerified(purpose, outcome string) {
	if m == nil {
		return
	}
	m.OtpOutcomes.WithLabelValues(purpose, outcome).Inc()
}

// AuditFailed counts an audit write failure.
func (m *Metrics) AuditFailed() {
	if m == nil {
		return
	}
	m.AuditFailures.Inc()
}

// AuditDrop counts an audit entry lost to a full queue.
func (m *Metrics) AuditDrop() {
	if m == nil {
		return
	}
	m.AuditDropped.Inc()
}

// PublishFailed counts a failed kafka delivery.
func (m *Metrics) PublishFailed(topic string) {
	if m == nil {
		return
	}
	m.PublishErrors.WithLabelValues(topic).Inc()
}

// Swept records the outcome of one sweeper pass.
func (m *Metrics) Swept(tokens, sessions int) {
	if m == nil {
		return
	}
	m.SweptTokens.Add(float64(tokens))
	m.SweptSessions.Add(float64(sessions))
}
