package config

import (
	"fmt"
	"time"

	pkgconfig "github.com/mugisham37/authcore/pkg/config"
)

// Config holds all configuration for the auth core.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort int `env:"AUTH_HTTP_PORT" envDefault:"8010"`

	// PostgreSQL
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"authcore"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"authcore_secret"`
	PostgresDB   string `env:"AUTH_DB_NAME" envDefault:"auth_db"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	// Redis (sessions and MFA challenges)
	RedisHost     string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Kafka
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	KafkaEnabled bool     `env:"KAFKA_ENABLED" envDefault:"false"`

	// JWT
	JWTSecret        string        `env:"JWT_SECRET" envDefault:"change-this-to-a-secure-secret"`
	JWTIssuer        string        `env:"JWT_ISSUER" envDefault:"authcore"`
	JWTAudience      string        `env:"JWT_AUDIENCE" envDefault:"authcore-api"`
	JWTAccessExpiry  time.Duration `env:"JWT_ACCESS_TOKEN_EXPIRY" envDefault:"15m"`
	JWTRefreshExpiry time.Duration `env:"JWT_REFRESH_TOKEN_EXPIRY" envDefault:"168h"`

	// Password hashing
	BcryptCost int `env:"BCRYPT_COST" envDefault:"12"`

	// Lockout
	MaxFailedAttempts int           `env:"LOCKOUT_MAX_FAILED_ATTEMPTS" envDefault:"5"`
	LockoutBase       time.Duration `env:"LOCKOUT_BASE_DURATION" envDefault:"15m"`
	LockoutMax        time.Duration `env:"LOCKOUT_MAX_DURATION" envDefault:"24h"`
	CaptchaThreshold  int           `env:"LOCKOUT_CAPTCHA_THRESHOLD" envDefault:"3"`

	// Sessions
	SessionTimeout        time.Duration `env:"SESSION_TIMEOUT" envDefault:"24h"`
	SessionIdleTimeout    time.Duration `env:"SESSION_IDLE_TIMEOUT" envDefault:"2h"`
	MaxConcurrentSessions int           `env:"SESSION_MAX_CONCURRENT" envDefault:"5"`

	// MFA delivery
	SMTPHost     string `env:"SMTP_HOST" envDefault:""`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUsername string `env:"SMTP_USERNAME" envDefault:""`
	SMTPPassword string `env:"SMTP_PASSWORD" envDefault:""`
	SMTPFrom     string `env:"SMTP_FROM" envDefault:"no-reply@authcore.local"`

	SMSGatewayURL    string `env:"SMS_GATEWAY_URL" envDefault:""`
	SMSGatewayAPIKey string `env:"SMS_GATEWAY_API_KEY" envDefault:""`
	SMSGatewayFrom   string `env:"SMS_GATEWAY_FROM" envDefault:"authcore"`

	// Audit
	AuditRetention time.Duration `env:"AUDIT_RETENTION" envDefault:"2160h"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	// OpenTelemetry tracing
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`

	// Profiling. The pprof listener binds a separate port and only answers
	// requests from the allowed CIDRs.
	PprofEnabled      bool     `env:"PPROF_ENABLED" envDefault:"false"`
	PprofPort         int      `env:"PPROF_PORT" envDefault:"6060"`
	PprofAllowedCIDRs []string `env:"PPROF_ALLOWED_CIDRS" envDefault:"127.0.0.1/32,::1/128" envSeparator:","`
}

// Load reads configuration from environment variables and validates it.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load auth config: %w", err)
	}
	if cfg.HTTPPort < 1 || cfg.HTTPPort > 65535 {
		return nil, fmt.Errorf("invalid HTTP port: %d", cfg.HTTPPort)
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, fmt.Errorf("BCRYPT_COST must be between 4 and 31, got %d", cfg.BcryptCost)
	}

	// In non-development environments, require an explicitly set, strong JWT secret.
	if cfg.Environment != "development" {
		if cfg.JWTSecret == "change-this-to-a-secure-secret" {
			return nil, fmt.Errorf("JWT_SECRET must be explicitly set via environment variable in %q mode", cfg.Environment)
		}
		if len(cfg.JWTSecret) < 32 {
			return nil, fmt.Errorf("JWT_SECRET must be at least 32 characters long, got %d", len(cfg.JWTSecret))
		}
	}

	return cfg, nil
}

// PostgresDSN returns the PostgreSQL connection string.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.PostgresUser, c.PostgresPass, c.PostgresHost, c.PostgresPort, c.PostgresDB, c.PostgresSSL,
	)
}
