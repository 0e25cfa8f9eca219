package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Token         TokenConfig
	UpstreamOIDC  UpstreamOIDCConfig
	OIDCServer    OIDCServerConfig
	Observability ObservabilityConfig
	RateLimit     RateLimitConfig
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds the key-value store configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// TokenConfig holds token issuance configuration.
type TokenConfig struct {
	// Lifetime is the nominal lifetime of session tokens. Child tokens
	// inherit it, capped by their parent's expiration.
	Lifetime time.Duration

	// DefaultScopes are granted to every new session token.
	DefaultScopes []string
}

// UpstreamOIDCConfig describes the external identity provider that
// authenticates users before a session token is minted.
type UpstreamOIDCConfig struct {
	Issuer        string
	Audience      string
	ClientID      string
	ClientSecret  string
	LoginURL      string
	TokenURL      string
	RedirectURL   string
	Scopes        []string
	LoginParams   map[string]string
	UsernameClaim string
	UIDClaim      string
	GroupsClaim   string
	HTTPTimeout   time.Duration
}

// OIDCServerConfig describes the OpenID Connect provider surface this
// service exposes to downstream relying parties.
type OIDCServerConfig struct {
	Issuer          string
	Audience        string
	UsernameClaim   string
	UIDClaim        string
	KeyID           string
	KeyFile         string
	SessionSecret   string
	CodeLifetime    time.Duration
	IDTokenLifetime time.Duration
	// Clients is CLIENT_ID=SECRET pairs, comma separated.
	Clients map[string]string
}

// ObservabilityConfig holds logging and tracing configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string
	OTELEnabled    bool
	ServiceName    string
	ServiceVersion string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnv("SERVER_PORT", "8080"),
			ReadTimeout:  parseDuration("SERVER_READ_TIMEOUT", "15s"),
			WriteTimeout: parseDuration("SERVER_WRITE_TIMEOUT", "15s"),
			IdleTimeout:  parseDuration("SERVER_IDLE_TIMEOUT", "60s"),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "gatewarden"),
			Password:        getEnv("DB_PASSWORD", ""),
			Database:        getEnv("DB_NAME", "gatewarden"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    parseInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    parseInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: parseDuration("DB_CONN_MAX_LIFETIME", "5m"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       parseInt("REDIS_DB", 0),
		},
		Token: TokenConfig{
			Lifetime:      parseDuration("TOKEN_LIFETIME", "720h"),
			DefaultScopes: parseList("TOKEN_DEFAULT_SCOPES", "user:token"),
		},
		UpstreamOIDC: UpstreamOIDCConfig{
			Issuer:        getEnv("UPSTREAM_OIDC_ISSUER", ""),
			Audience:      getEnv("UPSTREAM_OIDC_AUDIENCE", ""),
			ClientID:      getEnv("UPSTREAM_OIDC_CLIENT_ID", ""),
			ClientSecret:  getEnv("UPSTREAM_OIDC_CLIENT_SECRET", ""),
			LoginURL:      getEnv("UPSTREAM_OIDC_LOGIN_URL", ""),
			TokenURL:      getEnv("UPSTREAM_OIDC_TOKEN_URL", ""),
			RedirectURL:   getEnv("UPSTREAM_OIDC_REDIRECT_URL", ""),
			Scopes:        parseList("UPSTREAM_OIDC_SCOPES", "openid"),
			LoginParams:   parseMap("UPSTREAM_OIDC_LOGIN_PARAMS"),
			UsernameClaim: getEnv("UPSTREAM_OIDC_USERNAME_CLAIM", "sub"),
			UIDClaim:      getEnv("UPSTREAM_OIDC_UID_CLAIM", "uid_number"),
			GroupsClaim:   getEnv("UPSTREAM_OIDC_GROUPS_CLAIM", "isMemberOf"),
			HTTPTimeout:   parseDuration("UPSTREAM_OIDC_HTTP_TIMEOUT", "10s"),
		},
		OIDCServer: OIDCServerConfig{
			Issuer:          getEnv("OIDC_SERVER_ISSUER", ""),
			Audience:        getEnv("OIDC_SERVER_AUDIENCE", ""),
			UsernameClaim:   getEnv("OIDC_SERVER_USERNAME_CLAIM", "preferred_username"),
			UIDClaim:        getEnv("OIDC_SERVER_UID_CLAIM", "uid_number"),
			KeyID:           getEnv("OIDC_SERVER_KEY_ID", ""),
			KeyFile:         getEnv("OIDC_SERVER_KEY_FILE", ""),
			SessionSecret:   getEnv("OIDC_SERVER_SESSION_SECRET", ""),
			CodeLifetime:    parseDuration("OIDC_SERVER_CODE_LIFETIME", "1m"),
			IDTokenLifetime: parseDuration("OIDC_SERVER_ID_TOKEN_LIFETIME", "1h"),
			Clients:         parseMap("OIDC_SERVER_CLIENTS"),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			OTELEnabled:    parseBool("OTEL_ENABLED", false),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "gatewarden"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "0.1.0"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: float64(parseInt("RATELIMIT_RPS", 10)),
			Burst:             parseInt("RATELIMIT_BURST", 20),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if c.UpstreamOIDC.Issuer == "" {
		return fmt.Errorf("UPSTREAM_OIDC_ISSUER is required")
	}
	if c.UpstreamOIDC.ClientID == "" {
		return fmt.Errorf("UPSTREAM_OIDC_CLIENT_ID is required")
	}
	if c.OIDCServer.SessionSecret == "" {
		return fmt.Errorf("OIDC_SERVER_SESSION_SECRET is required")
	}
	// response_type is fixed by the authorization flow and cannot be
	// overridden through extra login parameters.
	if _, ok := c.UpstreamOIDC.LoginParams["response_type"]; ok {
		return fmt.Errorf("UPSTREAM_OIDC_LOGIN_PARAMS must not set response_type")
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func parseBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func parseDuration(key string, defaultValue string) time.Duration {
	value := getEnv(key, defaultValue)
	d, err := time.ParseDuration(value)
	if err != nil {
		// Fallback to default
		d, _ = time.ParseDuration(defaultValue)
	}
	return d
}

// parseList parses a comma-separated environment variable.
func parseList(key, defaultValue string) []string {
	value := getEnv(key, defaultValue)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseMap parses comma-separated key=value pairs.
func parseMap(key string) map[string]string {
	value := os.Getenv(key)
	if value == "" {
		return map[string]string{}
	}
	out := make(map[string]string)
	for _, pair := range strings.Split(value, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || k == "" {
			continue
		}
		out[k] = v
	}
	return out
}
