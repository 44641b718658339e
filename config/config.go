package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aiclub/website-backend/services/auth"
	"github.com/aiclub/website-backend/services/token"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const minSecretLength = 32

// Storage backends
const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
	BackendRedis    = "redis"
)

// Config represents the complete application configuration
type Config struct {
	Environment   string `env:"ENVIRONMENT" envDefault:"development"`
	Server        ServerConfig
	Database      DatabaseConfig
	Storage       StorageConfig
	Auth          AuthConfig
	CORS          CORSConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `env:"SERVER_HOST" envDefault:"0.0.0.0"`
	Port            int           `env:"SERVER_PORT" envDefault:"8080"`
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	TLS             TLSConfig
}

// TLSConfig holds certificate paths for serving HTTPS directly
type TLSConfig struct {
	Enabled  bool   `env:"TLS_ENABLED" envDefault:"false"`
	CertFile string `env:"TLS_CERT_FILE" envDefault:"certs/cert.pem"`
	KeyFile  string `env:"TLS_KEY_FILE" envDefault:"certs/key.pem"`
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string        `env:"DATABASE_URL"`
	Host             string        `env:"DB_HOST" envDefault:"localhost"`
	Port             int           `env:"DB_PORT" envDefault:"5432"`
	User             string        `env:"DB_USER" envDefault:"dev"`
	Password         string        `env:"DB_PASSWORD"`
	Database         string        `env:"DB_NAME" envDefault:"aiclub"`
	SSLMode          string        `env:"DB_SSLMODE" envDefault:"disable"`
	Driver           string        `env:"DB_DRIVER" envDefault:"postgres"`
	MaxOpenConns     int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns     int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime  time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"5m"`
	AutoMigrate      bool          `env:"DB_AUTO_MIGRATE" envDefault:"true"`
}

// StorageConfig selects where users, sessions and codes live
type StorageConfig struct {
	Backend   string `env:"STORAGE_BACKEND" envDefault:"postgres"`
	CodeStore string `env:"CODE_STORE"` // empty follows Backend
	RedisURL  string `env:"REDIS_URL"`
}

// AuthConfig holds token signing, lifetimes and cookie settings
type AuthConfig struct {
	SecretKey          string        `env:"JWT_SECRET_KEY"`
	Algorithm          string        `env:"JWT_ALGORITHM" envDefault:"HS256"`
	Issuer             string        `env:"JWT_ISSUER"`
	AccessTokenMinutes int           `env:"ACCESS_TOKEN_EXPIRE_MINUTES" envDefault:"30"`
	RefreshTokenDays   int           `env:"REFRESH_TOKEN_EXPIRE_DAYS" envDefault:"7"`
	CodeTTL            time.Duration `env:"VERIFICATION_CODE_TTL" envDefault:"3m"`
	CleanupInterval    time.Duration `env:"CODE_CLEANUP_INTERVAL" envDefault:"10m"`
	CookiePath         string        `env:"COOKIE_PATH" envDefault:"/"`
	CookieSecure       *bool         `env:"COOKIE_SECURE"`
}

// CORSConfig holds allowed browser origins. Credentials are always allowed.
type CORSConfig struct {
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:5173"`
}

// ObservabilityConfig holds logging and tracing configuration
type ObservabilityConfig struct {
	LogLevel          string  `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat         string  `env:"LOG_FORMAT" envDefault:"json"` // json or console
	TracingEnabled    bool    `env:"TRACING_ENABLED" envDefault:"false"`
	TracingEndpoint   string  `env:"TRACING_ENDPOINT"`
	TracingSampleRate float64 `env:"TRACING_SAMPLE_RATE" envDefault:"1"`
	ServiceName       string  `env:"SERVICE_NAME" envDefault:"aiclub-website-backend"`
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	// Load .env file if it exists (backend/.env when run from project root, .env when run from backend/)
	_ = godotenv.Load("backend/.env")
	_ = godotenv.Load(".env")

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	// PORT is what most platforms inject
	if value := os.Getenv("PORT"); value != "" {
		p, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT %q: %w", value, err)
		}
		cfg.Server.Port = p
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendPostgres, BackendMemory:
	default:
		return fmt.Errorf("unsupported storage backend %q", c.Storage.Backend)
	}

	if c.Storage.Backend == BackendPostgres {
		// Database validation (DATABASE_URL or DB_* vars)
		if c.Database.ConnectionString == "" && c.Database.Host == "" {
			return fmt.Errorf("database configuration required: set DATABASE_URL or DB_HOST")
		}
		if c.Database.ConnectionString == "" {
			if c.Database.User == "" {
				return fmt.Errorf("database user is required")
			}
			if c.Database.Database == "" {
				return fmt.Errorf("database name is required")
			}
		}
		switch c.Database.Driver {
		case "", "postgres", "pgx":
		default:
			return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
		}
	}

	switch c.Storage.CodeStore {
	case "", BackendPostgres, BackendMemory:
		if c.Storage.CodeStore != "" && c.Storage.CodeStore != c.Storage.Backend {
			return fmt.Errorf("code store %q requires storage backend %q", c.Storage.CodeStore, c.Storage.CodeStore)
		}
	case BackendRedis:
		if c.Storage.RedisURL == "" {
			return fmt.Errorf("redis URL is required when CODE_STORE=redis")
		}
	default:
		return fmt.Errorf("unsupported code store %q", c.Storage.CodeStore)
	}

	// Token signing
	if c.Auth.SecretKey == "" {
		return fmt.Errorf("JWT secret key is required")
	}
	if !c.IsDevelopment() && len(c.Auth.SecretKey) < minSecretLength {
		return fmt.Errorf("JWT secret key must be at least %d bytes outside development", minSecretLength)
	}
	switch c.Auth.Algorithm {
	case "HS256", "HS384", "HS512":
	default:
		return fmt.Errorf("unsupported JWT algorithm %q", c.Auth.Algorithm)
	}
	if c.Auth.AccessTokenMinutes <= 0 {
		return fmt.Errorf("access token lifetime must be positive")
	}
	if c.Auth.RefreshTokenDays <= 0 {
		return fmt.Errorf("refresh token lifetime must be positive")
	}
	if c.Auth.CodeTTL <= 0 {
		return fmt.Errorf("verification code TTL must be positive")
	}

	// Observability validation
	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// CookieSecure reports whether auth cookies carry the Secure attribute.
// An explicit COOKIE_SECURE wins; otherwise only plain-HTTP development
// leaves it off.
func (c *Config) CookieSecure() bool {
	if c.Auth.CookieSecure != nil {
		return *c.Auth.CookieSecure
	}
	return c.Server.TLS.Enabled || !c.IsDevelopment()
}

// CodeStoreBackend returns the effective code store backend
func (c *Config) CodeStoreBackend() string {
	if c.Storage.CodeStore == "" {
		return c.Storage.Backend
	}
	return c.Storage.CodeStore
}

// AuthSettings builds the token issuer and orchestrator configuration
func (c *Config) AuthSettings() (token.Config, auth.Config) {
	accessTTL := time.Duration(c.Auth.AccessTokenMinutes) * time.Minute
	tc := token.Config{
		Secret:    []byte(c.Auth.SecretKey),
		Algorithm: c.Auth.Algorithm,
		AccessTTL: accessTTL,
		Issuer:    c.Auth.Issuer,
	}
	ac := auth.Config{
		AccessTTL:    accessTTL,
		SessionTTL:   time.Duration(c.Auth.RefreshTokenDays) * 24 * time.Hour,
		CodeTTL:      c.Auth.CodeTTL,
		CookiePath:   c.Auth.CookiePath,
		CookieSecure: c.CookieSecure(),
	}
	return tc, ac
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
