package config

import (
	"fmt"
	"time"
)

// Config represents the application configuration
type Config struct {
	Environment string           `yaml:"environment" env:"ENVIRONMENT"` // local, test, dev, prod
	NodeID      int64            `yaml:"node_id"`                       // snowflake node, unique per instance
	HTTP        HTTPConfig       `yaml:"http"`
	Database    DatabaseConfig   `yaml:"database"`
	Ephemeral   EphemeralConfig  `yaml:"ephemeral"`
	Auth        AuthConfig       `yaml:"auth"`
	Email       EmailConfig      `yaml:"email"`
	RateLimits  RateLimitsConfig `yaml:"rate_limits"`
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// PublicBaseURL is where the web application lives; emailed links and
	// OAuth redirect URIs are built from it.
	PublicBaseURL string `yaml:"public_base_url"`
	// TrustForwardedFor makes the client IP come from X-Forwarded-For.
	// Enable only behind a proxy that sets it.
	TrustForwardedFor bool          `yaml:"trust_forwarded_for"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// Address returns host:port for the listener
func (h HTTPConfig) Address() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver   string         `yaml:"driver"` // "postgres" or "memory" (development only)
	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig holds PostgreSQL-specific configuration
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password" env:"POSTGRES_PASSWORD"`
	SSLMode  string `yaml:"sslmode"` // disable, require, verify-ca, verify-full
}

// ConnectionString returns the PostgreSQL connection string
func (p *PostgresConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode)
}

// EphemeralConfig selects the store for PKCE state and rate-limit counters
type EphemeralConfig struct {
	Driver string      `yaml:"driver"` // "redis" or "memory" (single instance only)
	Redis  RedisConfig `yaml:"redis"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	URL            string        `yaml:"url" env:"REDIS_URL"` // redis://:password@localhost:6379/0
	RetryAttempts  int           `yaml:"retry_attempts"`
	RetryInterval  time.Duration `yaml:"retry_interval"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	KeyPrefix      string        `yaml:"key_prefix"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWT              JWTConfig           `yaml:"jwt"`
	RefreshTokenTTL  time.Duration       `yaml:"refresh_token_ttl"`
	VerificationTTL  time.Duration       `yaml:"verification_ttl"`
	PasswordResetTTL time.Duration       `yaml:"password_reset_ttl"`
	UnsubscribeTTL   time.Duration       `yaml:"unsubscribe_ttl"`
	PKCEStateTTL     time.Duration       `yaml:"pkce_state_ttl"`
	BcryptCost       int                 `yaml:"bcrypt_cost"`
	RefreshCookie    RefreshCookieConfig `yaml:"refresh_cookie"`
	Providers        []ProviderConfig    `yaml:"providers"`
}

// JWTConfig holds access token configuration
type JWTConfig struct {
	SigningKey string        `yaml:"signing_key" env:"JWT_SIGNING_KEY"` // HMAC secret for signing access tokens
	Lifetime   time.Duration `yaml:"lifetime"`
	Issuer     string        `yaml:"issuer"`
}

// RefreshCookieConfig controls delivery of the refresh token in a cookie
type RefreshCookieConfig struct {
	Enabled bool   `yaml:"enabled"`
	Secret  string `yaml:"secret" env:"REFRESH_COOKIE_SECRET"` // 32+ bytes, authenticates and encrypts the cookie
	Secure  bool   `yaml:"secure"`
}

// ProviderConfig holds external identity provider configuration
type ProviderConfig struct {
	Name         string   `yaml:"name"`                    // "google", "github", ...
	ClientID     string   `yaml:"client_id"`               // OAuth client ID (required)
	ClientSecret string   `yaml:"client_secret,omitempty"` // OAuth client secret
	Issuer       string   `yaml:"issuer,omitempty"`        // OIDC issuer URL (for discovery)
	AuthURL      string   `yaml:"auth_url,omitempty"`      // explicit endpoints when there is no discovery
	TokenURL     string   `yaml:"token_url,omitempty"`
	UserinfoURL  string   `yaml:"userinfo_url,omitempty"`
	Scopes       []string `yaml:"scopes,omitempty"`       // e.g. ["openid", "email", "profile"]
	RedirectURL  string   `yaml:"redirect_url,omitempty"` // defaults to {public_base_url}/api/auth/oauth/{name}/callback
}

// EmailConfig holds outbound email configuration
type EmailConfig struct {
	Driver               string `yaml:"driver"` // "postmark" or "log"
	SenderEmail          string `yaml:"sender_email"`
	SupportEmail         string `yaml:"support_email"`
	PostmarkServerToken  string `yaml:"postmark_server_token" env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `yaml:"postmark_account_token" env:"POSTMARK_ACCOUNT_TOKEN"`
}

// RateLimitsConfig holds one limit per endpoint class
type RateLimitsConfig struct {
	Register      RateLimitConfig `yaml:"register"`
	Login         RateLimitConfig `yaml:"login"`
	Refresh       RateLimitConfig `yaml:"refresh"`
	PasswordReset RateLimitConfig `yaml:"password_reset"`
	EmailToken    RateLimitConfig `yaml:"email_token"`
	OAuth         RateLimitConfig `yaml:"oauth"`
	API           RateLimitConfig `yaml:"api"`
	Admin         RateLimitConfig `yaml:"admin"`
}

// RateLimitConfig is the ceiling pair of one endpoint class
type RateLimitConfig struct {
	HourlyLimit int           `yaml:"hourly_limit"`
	BurstLimit  int           `yaml:"burst_limit"`
	BurstWindow time.Duration `yaml:"burst_window"`
}
