package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v2"
)

// expandEnvVars expands environment variables in the format ${VAR} or $VAR
func expandEnvVars(data []byte) []byte {
	return []byte(os.ExpandEnv(string(data)))
}

// EnvPrefix prefixes the environment variables that override secrets,
// e.g. GATEHOUSE_JWT_SIGNING_KEY
const EnvPrefix = "GATEHOUSE_"

// DefaultConfigPaths defines the default locations to search for configuration files
var DefaultConfigPaths = []string{
	"./config.yaml",
	"./config.yml",
	"./configs/config.yaml",
	"./configs/config.yml",
	"./configs/development.yaml",
	"/etc/gatehouse/config.yaml",
	"/etc/gatehouse/config.yml",
}

// Default returns the configuration used before any file is applied
func Default() *Config {
	return &Config{
		Environment: "local",
		NodeID:      1,
		HTTP: HTTPConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			PublicBaseURL:   "http://localhost:8080",
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: "postgres",
			Postgres: PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				Database: "gatehouse",
				User:     "postgres",
				SSLMode:  "disable",
			},
		},
		Ephemeral: EphemeralConfig{
			Driver: "redis",
			Redis: RedisConfig{
				URL:            "redis://localhost:6379/0",
				RetryAttempts:  3,
				RetryInterval:  5 * time.Second,
				ConnectTimeout: 30 * time.Second,
				KeyPrefix:      "gatehouse:",
			},
		},
		Auth: AuthConfig{
			JWT: JWTConfig{
				Lifetime: time.Hour,
				Issuer:   "gatehouse",
			},
			RefreshTokenTTL:  30 * 24 * time.Hour,
			VerificationTTL:  24 * time.Hour,
			PasswordResetTTL: time.Hour,
			UnsubscribeTTL:   365 * 24 * time.Hour,
			PKCEStateTTL:     10 * time.Minute,
			BcryptCost:       bcrypt.DefaultCost,
		},
		Email: EmailConfig{
			Driver:       "log",
			SenderEmail:  "no-reply@localhost",
			SupportEmail: "support@localhost",
		},
		RateLimits: DefaultRateLimits(),
	}
}

// DefaultRateLimits returns the per-endpoint-class ceilings. Registration is
// looser because a bot challenge sits in front of it; login allows retries
// but not brute force.
func DefaultRateLimits() RateLimitsConfig {
	return RateLimitsConfig{
		Register:      RateLimitConfig{HourlyLimit: 20, BurstLimit: 10, BurstWindow: 10 * time.Minute},
		Login:         RateLimitConfig{HourlyLimit: 30, BurstLimit: 10, BurstWindow: 5 * time.Minute},
		Refresh:       RateLimitConfig{HourlyLimit: 240, BurstLimit: 30, BurstWindow: 5 * time.Minute},
		PasswordReset: RateLimitConfig{HourlyLimit: 5, BurstLimit: 3, BurstWindow: 10 * time.Minute},
		EmailToken:    RateLimitConfig{HourlyLimit: 30, BurstLimit: 10, BurstWindow: 5 * time.Minute},
		OAuth:         RateLimitConfig{HourlyLimit: 60, BurstLimit: 20, BurstWindow: 5 * time.Minute},
		API:           RateLimitConfig{HourlyLimit: 1000, BurstLimit: 100, BurstWindow: 5 * time.Minute},
		Admin:         RateLimitConfig{HourlyLimit: 100, BurstLimit: 20, BurstWindow: 5 * time.Minute},
	}
}

var dotEnvOnce sync.Once

// Load loads the configuration from the specified file or default locations.
// A .env file in the working directory, when present, is loaded into the
// process environment first; variables already set win.
func Load(configPath string) (*Config, error) {
	dotEnvOnce.Do(func() {
		_ = godotenv.Load()
	})
	config := Default()

	// If no config path is provided, search in default locations
	if configPath == "" {
		configPath = findConfigFile()
	}

	if configPath != "" && fileExists(configPath) {
		fmt.Printf("[CONFIG] Loading config from: %s\n", configPath)
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := Parse(config, data); err != nil {
			return nil, err
		}
	} else if configPath != "" {
		return nil, fmt.Errorf("config file not found: %s", configPath)
	} else {
		fmt.Printf("[CONFIG] No config file found, using defaults\n")
	}

	if err := applyEnvOverrides(config); err != nil {
		return nil, err
	}

	applyEnvironmentDefaults(config)

	if err := validate(config); err != nil {
		return nil, err
	}

	return config, nil
}

// Parse applies YAML data on top of config, expanding environment variables first
func Parse(config *Config, data []byte) error {
	data = expandEnvVars(data)
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// IsTest returns true when running under the test environment
func (c *Config) IsTest() bool {
	return c.Environment == "test"
}

// applyEnvOverrides lets deployments keep secrets out of the config file
func applyEnvOverrides(config *Config) error {
	if err := env.ParseWithOptions(config, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("failed to apply environment overrides: %w", err)
	}
	return nil
}

// applyEnvironmentDefaults lowers the password hashing cost for tests
// unless a cost was set explicitly
func applyEnvironmentDefaults(config *Config) {
	if config.IsTest() && config.Auth.BcryptCost == bcrypt.DefaultCost {
		config.Auth.BcryptCost = bcrypt.MinCost
	}
}

// findConfigFile searches for a configuration file in default locations
func findConfigFile() string {
	for _, path := range DefaultConfigPaths {
		if fileExists(path) {
			return path
		}
	}
	return ""
}

// fileExists checks if a file exists and is not a directory
func fileExists(filename string) bool {
	info, err := os.Stat(filename)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}

// validate performs basic validation on the configuration
func validate(config *Config) error {
	switch config.Database.Driver {
	case "postgres":
		if config.Database.Postgres.Host == "" {
			return fmt.Errorf("postgres host is required")
		}
		if config.Database.Postgres.Database == "" {
			return fmt.Errorf("postgres database name is required")
		}
		if config.Database.Postgres.User == "" {
			return fmt.Errorf("postgres user is required")
		}
	case "memory":
	default:
		return fmt.Errorf("database.driver must be 'postgres' or 'memory', got %q", config.Database.Driver)
	}

	if config.HTTP.Port < 1 || config.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535")
	}
	if config.HTTP.PublicBaseURL == "" {
		return fmt.Errorf("http.public_base_url is required")
	}

	switch config.Ephemeral.Driver {
	case "redis":
		if config.Ephemeral.Redis.URL == "" {
			return fmt.Errorf("ephemeral.redis.url is required for the redis driver")
		}
	case "memory":
	default:
		return fmt.Errorf("ephemeral.driver must be 'redis' or 'memory', got %q", config.Ephemeral.Driver)
	}

	if config.Auth.JWT.SigningKey == "" {
		return fmt.Errorf("auth.jwt.signing_key is required")
	}
	if len(config.Auth.JWT.SigningKey) < 32 {
		return fmt.Errorf("auth.jwt.signing_key must be at least 32 bytes")
	}
	if config.Auth.JWT.Lifetime <= 0 {
		return fmt.Errorf("auth.jwt.lifetime must be positive")
	}
	if config.Auth.BcryptCost < bcrypt.MinCost || config.Auth.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("auth.bcrypt_cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	for name, ttl := range map[string]time.Duration{
		"refresh_token_ttl":  config.Auth.RefreshTokenTTL,
		"verification_ttl":   config.Auth.VerificationTTL,
		"password_reset_ttl": config.Auth.PasswordResetTTL,
		"unsubscribe_ttl":    config.Auth.UnsubscribeTTL,
		"pkce_state_ttl":     config.Auth.PKCEStateTTL,
	} {
		if ttl <= 0 {
			return fmt.Errorf("auth.%s must be positive", name)
		}
	}
	if config.Auth.RefreshCookie.Enabled && len(config.Auth.RefreshCookie.Secret) < 32 {
		return fmt.Errorf("auth.refresh_cookie.secret must be at least 32 bytes when the cookie is enabled")
	}
	for _, p := range config.Auth.Providers {
		if p.Name == "" || p.ClientID == "" {
			return fmt.Errorf("auth.providers: name and client_id are required")
		}
		if p.Issuer == "" && (p.AuthURL == "" || p.TokenURL == "" || p.UserinfoURL == "") {
			return fmt.Errorf("provider %s: issuer or auth_url, token_url and userinfo_url are required", p.Name)
		}
	}

	switch config.Email.Driver {
	case "postmark":
		if config.Email.PostmarkServerToken == "" {
			return fmt.Errorf("email.postmark_server_token is required for the postmark driver")
		}
	case "log":
	default:
		return fmt.Errorf("email.driver must be 'postmark' or 'log', got %q", config.Email.Driver)
	}

	for name, rl := range config.RateLimits.classes() {
		if rl.HourlyLimit <= 0 || rl.BurstLimit <= 0 || rl.BurstWindow <= 0 {
			return fmt.Errorf("rate_limits.%s: limits and burst_window must be positive", name)
		}
	}

	return nil
}

func (r RateLimitsConfig) classes() map[string]RateLimitConfig {
	return map[string]RateLimitConfig{
		"register":       r.Register,
		"login":          r.Login,
		"refresh":        r.Refresh,
		"password_reset": r.PasswordReset,
		"email_token":    r.EmailToken,
		"oauth":          r.OAuth,
		"api":            r.API,
		"admin":          r.Admin,
	}
}
