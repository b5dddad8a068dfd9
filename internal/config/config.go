package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrMissingRequired is wrapped by Load when a required value is absent.
var ErrMissingRequired = errors.New("required configuration missing")

type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Database       DatabaseConfig       `yaml:"database"`
	Redis          RedisConfig          `yaml:"redis"`
	Auth           AuthConfig           `yaml:"auth"`
	OAuth          OAuthConfig          `yaml:"oauth"`
	AdminBootstrap AdminBootstrapConfig `yaml:"admin_bootstrap"`
	Email          EmailConfig          `yaml:"email"`
	AI             AIConfig             `yaml:"ai"`
	Embeddings     EmbeddingsConfig     `yaml:"embeddings"`
	VectorStore    VectorStoreConfig    `yaml:"vector_store"`
	KMS            KMSConfig            `yaml:"kms"`
	Jobs           JobsConfig           `yaml:"jobs"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	CORS           CORSConfig           `yaml:"cors"`
	Logging        LoggingConfig        `yaml:"logging"`
	Tracing        TracingConfig        `yaml:"tracing"`
	Agents         []AgentConfig        `yaml:"agents" validate:"unique=Name,dive"`
	Environment    string               `yaml:"environment" env:"ENVIRONMENT" validate:"oneof=development test staging production"`
}

type ServerConfig struct {
	Host    string `yaml:"host" env:"SERVER_HOST" validate:"required"`
	Port    int    `yaml:"port" env:"SERVER_PORT" validate:"gte=0,lte=65535"`
	BaseURL string `yaml:"base_url" env:"SERVER_BASE_URL" validate:"required,url"`
}

type DatabaseConfig struct {
	URL            string `yaml:"url" env:"DATABASE_URL" validate:"required"`
	MaxConnections int    `yaml:"max_connections" env:"DATABASE_MAX_CONNECTIONS" validate:"gte=1"`
	MigrateOnStart bool   `yaml:"migrate_on_start" env:"DATABASE_MIGRATE_ON_START"`
}

type RedisConfig struct {
	URL string `yaml:"url" env:"REDIS_URL"`
}

type AuthConfig struct {
	JWTSecret         string        `yaml:"jwt_secret" env:"JWT_SECRET" validate:"required,min=32"`
	JWTExpiry         time.Duration `yaml:"jwt_expiry" env:"JWT_EXPIRY_HOURS" validate:"gt=0"`
	SessionCookieName string        `yaml:"session_cookie_name" env:"SESSION_COOKIE_NAME" validate:"required"`
	PKCECookieName    string        `yaml:"pkce_cookie_name" env:"PKCE_COOKIE_NAME" validate:"required"`
	CookieDomain      string        `yaml:"cookie_domain" env:"COOKIE_DOMAIN"`
	CookieSecure      bool          `yaml:"cookie_secure" env:"COOKIE_SECURE"`
}

type OAuthConfig struct {
	ClientID     string   `yaml:"client_id" env:"OAUTH_CLIENT_ID"`
	ClientSecret string   `yaml:"client_secret" env:"OAUTH_CLIENT_SECRET"`
	AuthorizeURL string   `yaml:"authorize_url" env:"OAUTH_AUTHORIZE_URL" validate:"omitempty,url"`
	TokenURL     string   `yaml:"token_url" env:"OAUTH_TOKEN_URL" validate:"omitempty,url"`
	UserInfoURL  string   `yaml:"userinfo_url" env:"OAUTH_USERINFO_URL" validate:"omitempty,url"`
	Scopes       []string `yaml:"scopes" env:"OAUTH_SCOPES"`
}

// Enabled reports whether an OAuth provider has been configured.
func (c OAuthConfig) Enabled() bool { return c.ClientID != "" }

type AdminBootstrapConfig struct {
	Username string `yaml:"username" env:"ADMIN_USERNAME"`
	Password string `yaml:"password" env:"ADMIN_PASSWORD"`
	Email    string `yaml:"email" env:"ADMIN_EMAIL" validate:"omitempty,email"`
}

type EmailConfig struct {
	Enabled       bool    `yaml:"enabled" env:"EMAIL_ENABLED"`
	Provider      string  `yaml:"provider" env:"EMAIL_PROVIDER" validate:"oneof=resend smtp log"`
	From          string  `yaml:"from" env:"EMAIL_FROM" validate:"required"`
	ResendAPIKey  string  `yaml:"resend_api_key" env:"RESEND_API_KEY"`
	SMTPHost      string  `yaml:"smtp_host" env:"SMTP_HOST"`
	SMTPPort      int     `yaml:"smtp_port" env:"SMTP_PORT"`
	SMTPUser      string  `yaml:"smtp_user" env:"SMTP_USER"`
	SMTPPassword  string  `yaml:"smtp_password" env:"SMTP_PASSWORD"`
	RatePerSecond float64 `yaml:"rate_per_second" env:"EMAIL_RATE_PER_SECOND" validate:"gt=0"`
}

// AIConfig carries the pass-through settings for the AI client. Backoff values
// are milliseconds to match the upstream client option names.
type AIConfig struct {
	APIKey         string `yaml:"api_key" env:"ANTHROPIC_API_KEY"`
	BaseURL        string `yaml:"base_url" env:"AI_BASE_URL" validate:"required,url"`
	Model          string `yaml:"model" env:"AI_MODEL" validate:"required"`
	MaxTokens      int64  `yaml:"max_tokens" env:"AI_MAX_TOKENS" validate:"gt=0"`
	Retries        int    `yaml:"retries" env:"AI_RETRIES" validate:"gte=0,lte=10"`
	BackoffMs      int    `yaml:"backoff_ms" env:"AI_BACKOFF_MS" validate:"gte=0"`
	MaxBackoffMs   int    `yaml:"max_backoff_ms" env:"AI_MAX_BACKOFF_MS" validate:"gtefield=BackoffMs"`
	TimeoutSeconds int    `yaml:"timeout_seconds" env:"AI_TIMEOUT_SECONDS" validate:"gt=0"`
}

// Enabled reports whether an AI API key has been configured.
func (c AIConfig) Enabled() bool { return c.APIKey != "" }

type EmbeddingsConfig struct {
	GeminiAPIKey string `yaml:"gemini_api_key" env:"GEMINI_API_KEY"`
	Model        string `yaml:"model" env:"EMBEDDING_MODEL" validate:"required"`
}

type VectorStoreConfig struct {
	Path       string `yaml:"path" env:"VECTOR_STORE_PATH"`
	Collection string `yaml:"collection" env:"VECTOR_COLLECTION" validate:"required"`
}

type KMSConfig struct {
	URL            string `yaml:"url" env:"KMS_URL" validate:"omitempty,url"`
	AccessToken    string `yaml:"access_token" env:"KMS_ACCESS_TOKEN"`
	KeyID          string `yaml:"key_id" env:"KMS_KEY_ID" validate:"required"`
	Retries        int    `yaml:"retries" env:"KMS_RETRIES" validate:"gte=0,lte=10"`
	BackoffMs      int    `yaml:"backoff_ms" env:"KMS_BACKOFF_MS" validate:"gte=0"`
	MaxBackoffMs   int    `yaml:"max_backoff_ms" env:"KMS_MAX_BACKOFF_MS" validate:"gtefield=BackoffMs"`
	TimeoutSeconds int    `yaml:"timeout_seconds" env:"KMS_TIMEOUT_SECONDS" validate:"gt=0"`
}

// Enabled reports whether a KMS endpoint has been configured.
func (c KMSConfig) Enabled() bool { return c.URL != "" }

type JobsConfig struct {
	Enabled    bool `yaml:"enabled" env:"JOBS_ENABLED"`
	MaxWorkers int  `yaml:"max_workers" env:"JOBS_MAX_WORKERS" validate:"gte=1"`
}

type RateLimitConfig struct {
	PublicPerMinute int `yaml:"public_per_minute" env:"RATE_LIMIT_PUBLIC" validate:"gte=0"`
}

// CORSConfig lists browser origins allowed to call /api/. An empty list
// allows every origin outside production and none in production.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" env:"CORS_ALLOWED_ORIGINS" validate:"dive,url"`
}

// CORSAllowAll reports whether any origin may call the API.
func (c Config) CORSAllowAll() bool {
	return len(c.CORS.AllowedOrigins) == 0 && !c.IsProduction()
}

type LoggingConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" validate:"oneof=trace debug info warn error"`
	Format string `yaml:"format" env:"LOG_FORMAT" validate:"oneof=json console"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" env:"TRACING_ENABLED"`
	Exporter     string  `yaml:"exporter" env:"TRACING_EXPORTER" validate:"oneof=stdout otlp none"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	SampleRate   float64 `yaml:"sample_rate" env:"TRACING_SAMPLE_RATE" validate:"gte=0,lte=1"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME" validate:"required"`
}

// AgentConfig declares one AI agent. Agents come from the config file.
type AgentConfig struct {
	Name         string `yaml:"name" validate:"required"`
	Model        string `yaml:"model"`
	Instructions string `yaml:"instructions" validate:"required"`
	MaxTokens    int64  `yaml:"max_tokens" validate:"gte=0"`
}

// IsProduction reports whether the deployment environment is production.
func (c Config) IsProduction() bool { return c.Environment == "production" }

// Load reads configuration from the environment only.
func Load() (Config, error) {
	return LoadFile("")
}

// LoadFile reads configuration with precedence env > file > defaults.
// An empty path skips the file.
func LoadFile(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		if err := mergeFile(&cfg, path); err != nil {
			return Config{}, fmt.Errorf("load config file: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Defaults returns the configuration used when neither file nor env set a value.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8080,
			BaseURL: "http://localhost:8080",
		},
		Database: DatabaseConfig{
			MaxConnections: 25,
			MigrateOnStart: true,
		},
		Auth: AuthConfig{
			JWTExpiry:         24 * time.Hour,
			SessionCookieName: "appkit_session",
			PKCECookieName:    "appkit_pkce",
		},
		Email: EmailConfig{
			Provider:      "log",
			From:          "noreply@localhost",
			SMTPPort:      587,
			RatePerSecond: 2,
		},
		AI: AIConfig{
			BaseURL:        "https://api.anthropic.com",
			Model:          "claude-sonnet-4-5",
			MaxTokens:      1024,
			Retries:        3,
			BackoffMs:      500,
			MaxBackoffMs:   8000,
			TimeoutSeconds: 60,
		},
		Embeddings: EmbeddingsConfig{
			Model: "gemini-embedding-001",
		},
		VectorStore: VectorStoreConfig{
			Collection: "documents",
		},
		KMS: KMSConfig{
			KeyID:          "default",
			Retries:        2,
			BackoffMs:      200,
			MaxBackoffMs:   2000,
			TimeoutSeconds: 10,
		},
		Jobs: JobsConfig{
			Enabled:    true,
			MaxWorkers: 10,
		},
		RateLimit: RateLimitConfig{
			PublicPerMinute: 120,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Exporter:     "stdout",
			OTLPEndpoint: "localhost:4317",
			SampleRate:   1.0,
			ServiceName:  "appkit",
		},
		Environment: "development",
	}
}

func applyEnv(cfg *Config) {
	cfg.Environment = getEnv("ENVIRONMENT", cfg.Environment)

	cfg.Server.Host = getEnv("SERVER_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvInt("SERVER_PORT", cfg.Server.Port)
	cfg.Server.BaseURL = getEnv("SERVER_BASE_URL", cfg.Server.BaseURL)

	cfg.Database.URL = getEnv("DATABASE_URL", cfg.Database.URL)
	cfg.Database.MaxConnections = getEnvInt("DATABASE_MAX_CONNECTIONS", cfg.Database.MaxConnections)
	cfg.Database.MigrateOnStart = getEnvBool("DATABASE_MIGRATE_ON_START", cfg.Database.MigrateOnStart)

	cfg.Redis.URL = getEnv("REDIS_URL", cfg.Redis.URL)

	cfg.Auth.JWTSecret = getEnv("JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Auth.JWTExpiry = time.Duration(getEnvInt("JWT_EXPIRY_HOURS", int(cfg.Auth.JWTExpiry/time.Hour))) * time.Hour
	cfg.Auth.SessionCookieName = getEnv("SESSION_COOKIE_NAME", cfg.Auth.SessionCookieName)
	cfg.Auth.PKCECookieName = getEnv("PKCE_COOKIE_NAME", cfg.Auth.PKCECookieName)
	cfg.Auth.CookieDomain = getEnv("COOKIE_DOMAIN", cfg.Auth.CookieDomain)
	// Secure cookies default on in production unless explicitly disabled.
	cfg.Auth.CookieSecure = getEnvBool("COOKIE_SECURE", cfg.Auth.CookieSecure || cfg.IsProduction())

	cfg.OAuth.ClientID = getEnv("OAUTH_CLIENT_ID", cfg.OAuth.ClientID)
	cfg.OAuth.ClientSecret = getEnv("OAUTH_CLIENT_SECRET", cfg.OAuth.ClientSecret)
	cfg.OAuth.AuthorizeURL = getEnv("OAUTH_AUTHORIZE_URL", cfg.OAuth.AuthorizeURL)
	cfg.OAuth.TokenURL = getEnv("OAUTH_TOKEN_URL", cfg.OAuth.TokenURL)
	cfg.OAuth.UserInfoURL = getEnv("OAUTH_USERINFO_URL", cfg.OAuth.UserInfoURL)
	cfg.OAuth.Scopes = getEnvList("OAUTH_SCOPES", cfg.OAuth.Scopes)

	cfg.AdminBootstrap.Username = getEnv("ADMIN_USERNAME", cfg.AdminBootstrap.Username)
	cfg.AdminBootstrap.Password = getEnv("ADMIN_PASSWORD", cfg.AdminBootstrap.Password)
	cfg.AdminBootstrap.Email = getEnv("ADMIN_EMAIL", cfg.AdminBootstrap.Email)

	cfg.Email.Enabled = getEnvBool("EMAIL_ENABLED", cfg.Email.Enabled)
	cfg.Email.Provider = getEnv("EMAIL_PROVIDER", cfg.Email.Provider)
	cfg.Email.From = getEnv("EMAIL_FROM", cfg.Email.From)
	cfg.Email.ResendAPIKey = getEnv("RESEND_API_KEY", cfg.Email.ResendAPIKey)
	cfg.Email.SMTPHost = getEnv("SMTP_HOST", cfg.Email.SMTPHost)
	cfg.Email.SMTPPort = getEnvInt("SMTP_PORT", cfg.Email.SMTPPort)
	cfg.Email.SMTPUser = getEnv("SMTP_USER", cfg.Email.SMTPUser)
	cfg.Email.SMTPPassword = getEnv("SMTP_PASSWORD", cfg.Email.SMTPPassword)
	cfg.Email.RatePerSecond = getEnvFloat("EMAIL_RATE_PER_SECOND", cfg.Email.RatePerSecond)

	cfg.AI.APIKey = getEnv("ANTHROPIC_API_KEY", cfg.AI.APIKey)
	cfg.AI.BaseURL = getEnv("AI_BASE_URL", cfg.AI.BaseURL)
	cfg.AI.Model = getEnv("AI_MODEL", cfg.AI.Model)
	cfg.AI.MaxTokens = int64(getEnvInt("AI_MAX_TOKENS", int(cfg.AI.MaxTokens)))
	cfg.AI.Retries = getEnvInt("AI_RETRIES", cfg.AI.Retries)
	cfg.AI.BackoffMs = getEnvInt("AI_BACKOFF_MS", cfg.AI.BackoffMs)
	cfg.AI.MaxBackoffMs = getEnvInt("AI_MAX_BACKOFF_MS", cfg.AI.MaxBackoffMs)
	cfg.AI.TimeoutSeconds = getEnvInt("AI_TIMEOUT_SECONDS", cfg.AI.TimeoutSeconds)

	cfg.Embeddings.GeminiAPIKey = getEnv("GEMINI_API_KEY", cfg.Embeddings.GeminiAPIKey)
	cfg.Embeddings.Model = getEnv("EMBEDDING_MODEL", cfg.Embeddings.Model)

	cfg.VectorStore.Path = getEnv("VECTOR_STORE_PATH", cfg.VectorStore.Path)
	cfg.VectorStore.Collection = getEnv("VECTOR_COLLECTION", cfg.VectorStore.Collection)

	cfg.KMS.URL = getEnv("KMS_URL", cfg.KMS.URL)
	cfg.KMS.AccessToken = getEnv("KMS_ACCESS_TOKEN", cfg.KMS.AccessToken)
	cfg.KMS.KeyID = getEnv("KMS_KEY_ID", cfg.KMS.KeyID)
	cfg.KMS.Retries = getEnvInt("KMS_RETRIES", cfg.KMS.Retries)
	cfg.KMS.BackoffMs = getEnvInt("KMS_BACKOFF_MS", cfg.KMS.BackoffMs)
	cfg.KMS.MaxBackoffMs = getEnvInt("KMS_MAX_BACKOFF_MS", cfg.KMS.MaxBackoffMs)
	cfg.KMS.TimeoutSeconds = getEnvInt("KMS_TIMEOUT_SECONDS", cfg.KMS.TimeoutSeconds)

	cfg.Jobs.Enabled = getEnvBool("JOBS_ENABLED", cfg.Jobs.Enabled)
	cfg.Jobs.MaxWorkers = getEnvInt("JOBS_MAX_WORKERS", cfg.Jobs.MaxWorkers)

	cfg.RateLimit.PublicPerMinute = getEnvInt("RATE_LIMIT_PUBLIC", cfg.RateLimit.PublicPerMinute)
	cfg.CORS.AllowedOrigins = getEnvList("CORS_ALLOWED_ORIGINS", cfg.CORS.AllowedOrigins)

	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("LOG_FORMAT", cfg.Logging.Format)

	cfg.Tracing.Enabled = getEnvBool("TRACING_ENABLED", cfg.Tracing.Enabled)
	cfg.Tracing.Exporter = getEnv("TRACING_EXPORTER", cfg.Tracing.Exporter)
	cfg.Tracing.OTLPEndpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Tracing.OTLPEndpoint)
	cfg.Tracing.SampleRate = getEnvFloat("TRACING_SAMPLE_RATE", cfg.Tracing.SampleRate)
	cfg.Tracing.ServiceName = getEnv("SERVICE_NAME", cfg.Tracing.ServiceName)
}

// mergeFile decodes a YAML file over cfg. Unknown keys are rejected.
func mergeFile(cfg *Config, path string) error {
	path = filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- config path is supplied by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.FieldsFunc(value, func(r rune) bool { return r == ',' || r == ' ' }) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
