package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Store drivers.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverSQLite   = "sqlite"
)

// Object storage drivers.
const (
	StorageDriverLocal = "local"
	StorageDriverS3    = "s3"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App      AppConfig
	Store    StoreConfig
	Postgres PostgresConfig
	SQLite   SQLiteConfig
	Redis    RedisConfig
	Logger   LoggerConfig
	Auth     AuthConfig
	Storage  StorageConfig
	Tracing  TracingConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string   `env:"APP_NAME" envDefault:"interview-prep-service"`
	Env                   string   `env:"APP_ENV" envDefault:"development"`
	Host                  string   `env:"APP_HOST" envDefault:"0.0.0.0"`
	Port                  string   `env:"PORT" envDefault:"8000"`
	Version               string   `env:"APP_VERSION" envDefault:"dev"`
	RequestTimeoutSeconds int      `env:"HTTP_REQUEST_TIMEOUT_SECONDS" envDefault:"30"`
	AllowedOrigins        []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"https://ai-interview-prep-mauve.vercel.app,http://localhost:3000"`
}

// StoreConfig selects the credential store backend.
type StoreConfig struct {
	Driver string `env:"STORE_DRIVER" envDefault:"postgres"`
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string `env:"POSTGRES_DSN"`
	MaxConns       int32  `env:"POSTGRES_MAX_CONNS" envDefault:"10"`
	MinConns       int32  `env:"POSTGRES_MIN_CONNS" envDefault:"2"`
	RunMigrations  bool   `env:"POSTGRES_RUN_MIGRATIONS" envDefault:"true"`
	ConnMaxIdleSec int32  `env:"POSTGRES_CONN_MAX_IDLE_SECONDS" envDefault:"30"`
	ConnMaxLifeSec int32  `env:"POSTGRES_CONN_MAX_LIFE_SECONDS" envDefault:"300"`

	// ConnectAttempts bounds startup retries while the database comes up.
	ConnectAttempts int `env:"POSTGRES_CONNECT_ATTEMPTS" envDefault:"5"`
}

// SQLiteConfig holds the embedded store location.
type SQLiteConfig struct {
	Path string `env:"SQLITE_PATH" envDefault:"data/interview-prep.db"`
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Enabled  bool   `env:"REDIS_ENABLED" envDefault:"true"`
	Addr     string `env:"REDIS_ADDR" envDefault:"127.0.0.1:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string `env:"LOG_LEVEL" envDefault:"info"`
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	JWTSecret          string        `env:"JWT_SECRET"`
	TokenTTL           time.Duration `env:"AUTH_TOKEN_TTL" envDefault:"168h"`
	BcryptCost         int           `env:"AUTH_BCRYPT_COST" envDefault:"10"`
	LoginMaxAttempts   int           `env:"AUTH_LOGIN_MAX_ATTEMPTS" envDefault:"5"`
	LoginAttemptWindow time.Duration `env:"AUTH_LOGIN_ATTEMPT_WINDOW" envDefault:"15m"`
}

// StorageConfig configures where uploaded profile images live.
type StorageConfig struct {
	Driver            string   `env:"STORAGE_DRIVER" envDefault:"local"`
	LocalDir          string   `env:"STORAGE_LOCAL_DIR" envDefault:"uploads"`
	PublicBaseURL     string   `env:"STORAGE_PUBLIC_BASE_URL" envDefault:"http://localhost:8000/uploads"`
	MaxUploadBytes    int64    `env:"STORAGE_MAX_UPLOAD_BYTES" envDefault:"5242880"`
	AllowedMimeTypes  []string `env:"STORAGE_ALLOWED_MIME_TYPES" envSeparator:"," envDefault:"image/jpeg,image/jpg,image/png"`
	S3Bucket          string   `env:"S3_BUCKET"`
	S3Region          string   `env:"S3_REGION" envDefault:"us-east-1"`
	S3BaseEndpoint    string   `env:"S3_BASE_ENDPOINT"`
	S3AccessKeyID     string   `env:"S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string   `env:"S3_SECRET_ACCESS_KEY"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled  bool   `env:"OTEL_ENABLED" envDefault:"true"`
	Endpoint string `env:"OTEL_EXPORTER_ENDPOINT"`
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects combinations the service cannot start with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case StoreDriverPostgres:
		if c.Postgres.DSN == "" {
			return errors.New("POSTGRES_DSN is required for the postgres store")
		}
	case StoreDriverSQLite:
		if strings.TrimSpace(c.SQLite.Path) == "" {
			return errors.New("SQLITE_PATH is required for the sqlite store")
		}
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", c.Store.Driver)
	}

	switch c.Storage.Driver {
	case StorageDriverLocal:
	case StorageDriverS3:
		if c.Storage.S3Bucket == "" {
			return errors.New("S3_BUCKET is required for the s3 storage driver")
		}
	default:
		return fmt.Errorf("unsupported STORAGE_DRIVER %q", c.Storage.Driver)
	}

	if c.Auth.JWTSecret == "" {
		if c.App.IsProduction() {
			return errors.New("JWT_SECRET is required in production")
		}
		c.Auth.JWTSecret = "dev-secret"
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New("AUTH_TOKEN_TTL must be positive")
	}
	return nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// IsProduction reports whether diagnostics must be withheld from responses.
func (a AppConfig) IsProduction() bool {
	return strings.EqualFold(a.Env, "production")
}
