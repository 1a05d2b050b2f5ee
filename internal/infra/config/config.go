package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	App       AppSettings       `mapstructure:"app"`
	Postgres  PostgresSettings  `mapstructure:"postgres"`
	Redis     RedisSettings     `mapstructure:"redis"`
	Kafka     KafkaSettings     `mapstructure:"kafka"`
	JWT       JWTSettings       `mapstructure:"jwt"`
	Session   SessionSettings   `mapstructure:"session"`
	OTP       CodeSettings      `mapstructure:"otp"`
	TwoFactor TwoFactorSettings `mapstructure:"two_factor"`
	RateLimit RateLimitSettings `mapstructure:"rate_limit"`
	Audit     AuditSettings     `mapstructure:"audit"`
	Store     StoreSettings     `mapstructure:"store"`
	Security  SecuritySettings  `mapstructure:"security"`
	Cookie    CookieSettings    `mapstructure:"cookie"`
	Sweeper   SweeperSettings   `mapstructure:"sweeper"`
	Telemetry TelemetrySettings `mapstructure:"telemetry"`
	Argon2    Argon2Settings    `mapstructure:"argon2"`
}

type AppSettings struct {
	Name            string        `mapstructure:"name"`
	Env             string        `mapstructure:"env"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type PostgresSettings struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	AutoMigrate       bool          `mapstructure:"auto_migrate"`
}

// RedisSettings configures Redis connection and TLS
type RedisSettings struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	DB              int    `mapstructure:"db"`
	Password        string `mapstructure:"password"`
	TLSEnabled      bool   `mapstructure:"tls_enabled"`
	RateLimitPrefix string `mapstructure:"rate_limit_prefix"`
}

// KafkaSettings configures the Kafka producer. An empty broker list selects the logging stub.
type KafkaSettings struct {
	Brokers     []string `mapstructure:"brokers"`
	TopicPrefix string   `mapstructure:"topic_prefix"`
	AuditTopic  string   `mapstructure:"audit_topic"`
}

// JWTSettings configures access token signing and the refresh token lifetimes.
type JWTSettings struct {
	SigningKey           string        `mapstructure:"signing_key"`
	KeyID                string        `mapstructure:"key_id"`
	PreviousKeys         []string      `mapstructure:"previous_keys"`
	Issuer               string        `mapstructure:"issuer"`
	Audience             string        `mapstructure:"audience"`
	AccessTokenTTL       time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL      time.Duration `mapstructure:"refresh_token_ttl"`
	RememberMeRefreshTTL time.Duration `mapstructure:"remember_me_refresh_ttl"`
	GeneralLeeway        time.Duration `mapstructure:"general_leeway"`
}

type SessionSettings struct {
	IdleTimeout      time.Duration `mapstructure:"idle_timeout"`
	AbsoluteLifetime time.Duration `mapstructure:"absolute_lifetime"`
}

// CodeSettings configures a one-time code family.
type CodeSettings struct {
	TTL         time.Duration `mapstructure:"ttl"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	Length      int           `mapstructure:"length"`
	Pepper      string        `mapstructure:"pepper"`
}

type TwoFactorSettings struct {
	TTL         time.Duration `mapstructure:"ttl"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	Length      int           `mapstructure:"length"`
	TOTPPeriod  time.Duration `mapstructure:"totp_period"`
	TOTPSkew    int           `mapstructure:"totp_skew"`
}

// RateLimitRule is one fixed-window rule.
type RateLimitRule struct {
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
}

// RateLimitSettings configures the throttling backend and per-class rules. EdgeIP caps the
// unauthenticated auth endpoints per client IP before any service work.
type RateLimitSettings struct {
	Backend    string        `mapstructure:"backend"`
	LoginIP    RateLimitRule `mapstructure:"login_ip"`
	LoginEmail RateLimitRule `mapstructure:"login_email"`
	OTPRequest RateLimitRule `mapstructure:"otp_request"`
	RefreshIP  RateLimitRule `mapstructure:"refresh_ip"`
	TwoFactor  RateLimitRule `mapstructure:"two_factor"`
	EdgeIP     RateLimitRule `mapstructure:"edge_ip"`
}

type AuditSettings struct {
	BufferSize   int           `mapstructure:"buffer_size"`
	Workers      int           `mapstructure:"workers"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// StoreSettings bounds retries of store calls.
type StoreSettings struct {
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	Backoff     time.Duration `mapstructure:"backoff"`
}

type SecuritySettings struct {
	ReuseRevokesSession bool `mapstructure:"reuse_revokes_session"`
	PasswordMinScore    int  `mapstructure:"password_min_score"`
}

// CookieSettings controls the HTTP-only refresh token cookie. An empty name disables it.
type CookieSettings struct {
	Name     string `mapstructure:"name"`
	Path     string `mapstructure:"path"`
	Domain   string `mapstructure:"domain"`
	Secure   bool   `mapstructure:"secure"`
	SameSite string `mapstructure:"same_site"`
}

type SweeperSettings struct {
	Interval  time.Duration `mapstructure:"interval"`
	BatchSize int           `mapstructure:"batch_size"`
}

type TelemetrySettings struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
}

// Argon2Settings configures Argon2id password hashing parameters
type Argon2Settings struct {
	Memory      uint32 `mapstructure:"memory"`
	Iterations  uint32 `mapstructure:"iterations"`
	Parallelism uint8  `mapstructure:"parallelism"`
	SaltLength  uint32 `mapstructure:"salt_length"`
	KeyLength   uint32 `mapstructure:"key_length"`
}

var configKeys = []string{
	"app.name",
	"app.env",
	"app.host",
	"app.port",
	"app.cors_origins",
	"app.shutdown_timeout",
	"postgres.host",
	"postgres.port",
	"postgres.user",
	"postgres.password",
	"postgres.database",
	"postgres.ssl_mode",
	"postgres.max_conns",
	"postgres.min_conns",
	"postgres.max_conn_lifetime",
	"postgres.max_conn_idle_time",
	"postgres.health_check_period",
	"postgres.auto_migrate",
	"redis.host",
	"redis.port",
	"redis.db",
	"redis.password",
	"redis.tls_enabled",
	"redis.rate_limit_prefix",
	"kafka.brokers",
	"kafka.topic_prefix",
	"kafka.audit_topic",
	"jwt.signing_key",
	"jwt.key_id",
	"jwt.previous_keys",
	"jwt.issuer",
	"jwt.audience",
	"jwt.access_token_ttl",
	"jwt.refresh_token_ttl",
	"jwt.remember_me_refresh_ttl",
	"jwt.general_leeway",
	"session.idle_timeout",
	"session.absolute_lifetime",
	"otp.ttl",
	"otp.max_attempts",
	"otp.length",
	"otp.pepper",
	"two_factor.ttl",
	"two_factor.max_attempts",
	"two_factor.length",
	"two_factor.totp_period",
	"two_factor.totp_skew",
	"rate_limit.backend",
	"rate_limit.login_ip.limit",
	"rate_limit.login_ip.window",
	"rate_limit.login_email.limit",
	"rate_limit.login_email.window",
	"rate_limit.otp_request.limit",
	"rate_limit.otp_request.window",
	"rate_limit.refresh_ip.limit",
	"rate_limit.refresh_ip.window",
	"rate_limit.two_factor.limit",
	"rate_limit.two_factor.window",
	"rate_limit.edge_ip.limit",
	"rate_limit.edge_ip.window",
	"audit.buffer_size",
	"audit.workers",
	"audit.write_timeout",
	"store.timeout",
	"store.max_attempts",
	"store.backoff",
	"security.reuse_revokes_session",
	"security.password_min_score",
	"cookie.name",
	"cookie.path",
	"cookie.domain",
	"cookie.secure",
	"cookie.same_site",
	"sweeper.interval",
	"sweeper.batch_size",
	"telemetry.otlp_endpoint",
	"telemetry.service_name",
	"telemetry.sampling_rate",
	"argon2.memory",
	"argon2.iterations",
	"argon2.parallelism",
	"argon2.salt_length",
	"argon2.key_length",
}

func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("IAM")

	setDefaults(v)

	if err := bindEnvs(v, configKeys); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects settings the auth flows cannot run with.
func (c *AppConfig) Validate() error {
	var problems []string

	if strings.TrimSpace(c.JWT.SigningKey) == "" {
		problems = append(problems, "jwt.signing_key is required")
	} else if len(c.JWT.SigningKey) < 32 && IsProduction(c.App.Env) {
		problems = append(problems, "jwt.signing_key must be at least 32 bytes in production")
	}
	if c.JWT.AccessTokenTTL <= 0 {
		problems = append(problems, "jwt.access_token_ttl must be positive")
	}
	if c.JWT.RefreshTokenTTL <= 0 {
		problems = append(problems, "jwt.refresh_token_ttl must be positive")
	}
	if c.OTP.Length < 4 || c.OTP.Length > 10 {
		problems = append(problems, "otp.length must be between 4 and 10")
	}
	if c.TwoFactor.Length < 4 || c.TwoFactor.Length > 10 {
		problems = append(problems, "two_factor.length must be between 4 and 10")
	}
	if c.OTP.MaxAttempts <= 0 || c.TwoFactor.MaxAttempts <= 0 {
		problems = append(problems, "max_attempts must be positive")
	}
	if IsProduction(c.App.Env) && strings.TrimSpace(c.OTP.Pepper) == "" {
		problems = append(problems, "otp.pepper is required in production")
	}
	switch strings.ToLower(strings.TrimSpace(c.Cookie.SameSite)) {
	case "", "strict", "lax", "none":
	default:
		problems = append(problems, fmt.Sprintf("cookie.same_site %q is not supported", c.Cookie.SameSite))
	}
	if strings.EqualFold(strings.TrimSpace(c.Cookie.SameSite), "none") && !c.Cookie.Secure {
		problems = append(problems, "cookie.same_site none requires cookie.secure")
	}
	switch strings.ToLower(c.RateLimit.Backend) {
	case "postgres", "redis":
	default:
		problems = append(problems, fmt.Sprintf("rate_limit.backend %q is not supported", c.RateLimit.Backend))
	}

	if len(problems) > 0 {
		return errors.New("invalid config: " + strings.Join(problems, "; "))
	}
	return nil
}

// IsProduction reports whether env names a production deployment.
func IsProduction(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "prod", "production":
		return true
	default:
		return false
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "auth-service")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.cors_origins", []string{})
	v.SetDefault("app.shutdown_timeout", "15s")

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "auth")
	v.SetDefault("postgres.password", "auth_password")
	v.SetDefault("postgres.database", "auth")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", "60m")
	v.SetDefault("postgres.max_conn_idle_time", "15m")
	v.SetDefault("postgres.health_check_period", "30s")
	v.SetDefault("postgres.auto_migrate", false)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.tls_enabled", false)
	v.SetDefault("redis.rate_limit_prefix", "auth:rl")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic_prefix", "auth")
	v.SetDefault("kafka.audit_topic", "audit.recorded")

	v.SetDefault("jwt.signing_key", "")
	v.SetDefault("jwt.key_id", "primary")
	v.SetDefault("jwt.previous_keys", []string{})
	v.SetDefault("jwt.issuer", "auth-service")
	v.SetDefault("jwt.audience", "auth-clients")
	v.SetDefault("jwt.access_token_ttl", "15m")
	v.SetDefault("jwt.refresh_token_ttl", "336h")
	v.SetDefault("jwt.remember_me_refresh_ttl", "1440h")
	v.SetDefault("jwt.general_leeway", "5m")

	// 14 days idle, 60 days absolute
	v.SetDefault("session.idle_timeout", "336h")
	v.SetDefault("session.absolute_lifetime", "1440h")

	v.SetDefault("otp.ttl", "10m")
	v.SetDefault("otp.max_attempts", 5)
	v.SetDefault("otp.length", 6)
	v.SetDefault("otp.pepper", "")

	v.SetDefault("two_factor.ttl", "5m")
	v.SetDefault("two_factor.max_attempts", 5)
	v.SetDefault("two_factor.length", 6)
	v.SetDefault("two_factor.totp_period", "30s")
	v.SetDefault("two_factor.totp_skew", 1)

	v.SetDefault("rate_limit.backend", "postgres")
	v.SetDefault("rate_limit.login_ip.limit", 20)
	v.SetDefault("rate_limit.login_ip.window", "1m")
	v.SetDefault("rate_limit.login_email.limit", 5)
	v.SetDefault("rate_limit.login_email.window", "1m")
	v.SetDefault("rate_limit.otp_request.limit", 5)
	v.SetDefault("rate_limit.otp_request.window", "1h")
	v.SetDefault("rate_limit.refresh_ip.limit", 60)
	v.SetDefault("rate_limit.refresh_ip.window", "1m")
	v.SetDefault("rate_limit.two_factor.limit", 5)
	v.SetDefault("rate_limit.two_factor.window", "15m")
	v.SetDefault("rate_limit.edge_ip.limit", 120)
	v.SetDefault("rate_limit.edge_ip.window", "1m")

	v.SetDefault("audit.buffer_size", 1024)
	v.SetDefault("audit.workers", 2)
	v.SetDefault("audit.write_timeout", "2s")

	v.SetDefault("store.timeout", "2s")
	v.SetDefault("store.max_attempts", 3)
	v.SetDefault("store.backoff", "50ms")

	v.SetDefault("security.reuse_revokes_session", true)
	v.SetDefault("security.password_min_score", 3)

	v.SetDefault("cookie.name", "refresh_token")
	v.SetDefault("cookie.path", "/api/v1/auth")
	v.SetDefault("cookie.domain", "")
	v.SetDefault("cookie.secure", true)
	v.SetDefault("cookie.same_site", "strict")

	v.SetDefault("sweeper.interval", "5m")
	v.SetDefault("sweeper.batch_size", 500)

	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.service_name", "auth-service")
	v.SetDefault("telemetry.sampling_rate", 1.0)

	v.SetDefault("argon2.memory", 65536) // 64 MB
	v.SetDefault("argon2.iterations", 3)
	v.SetDefault("argon2.parallelism", 4)
	v.SetDefault("argon2.salt_length", 16)
	v.SetDefault("argon2.key_length", 32)
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, "IAM_"+envKey, envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}
