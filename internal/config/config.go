// Package config provides application configuration management with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (RAGLINE_* prefix, plus DATABASE_URL and OPENAI_API_KEY)
//  2. .env file in the working directory (loaded via godotenv, never overrides real env)
//  3. Config file (config.yaml in the working directory or ~/.ragline/)
//  4. Default values (sensible defaults for quick start)
//
// Main configuration categories:
//   - Server: bind address, CORS origins, rate limiting (see api package)
//   - Provider: OpenAI-compatible chat/embedding endpoint (see llm package)
//   - Storage: PostgreSQL + pgvector connection (see storage.go)
//   - Retrieval: vector dimension, top-K, chunking, history budget
//   - Telemetry: OTLP trace export (see observability package)
//
// Security: sensitive data (passwords, API keys) is never logged; MarshalJSON masks it.
// Validation: range checks in validation.go with sentinel errors for errors.Is().
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidEnv indicates the environment name is not recognized.
	ErrInvalidEnv = errors.New("invalid environment")

	// ErrInvalidPort indicates the HTTP port is out of range.
	ErrInvalidPort = errors.New("invalid port")

	// ErrInvalidRateLimit indicates the rate limit settings are out of range.
	ErrInvalidRateLimit = errors.New("invalid rate limit")

	// ErrInvalidProviderModel indicates a provider model name is missing.
	ErrInvalidProviderModel = errors.New("invalid provider model")

	// ErrInvalidProviderBaseURL indicates the provider base URL is missing or malformed.
	ErrInvalidProviderBaseURL = errors.New("invalid provider base URL")

	// ErrInvalidProviderTimeout indicates the provider timeout is out of range.
	ErrInvalidProviderTimeout = errors.New("invalid provider timeout")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresPassword indicates the PostgreSQL password is invalid.
	ErrInvalidPostgresPassword = errors.New("invalid PostgreSQL password")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidVectorDim indicates the vector dimension does not match the schema.
	ErrInvalidVectorDim = errors.New("invalid vector dimension")

	// ErrInvalidTopK indicates the retrieval top-K is out of range.
	ErrInvalidTopK = errors.New("invalid top-k")

	// ErrInvalidChunking indicates the chunk size or overlap is out of range.
	ErrInvalidChunking = errors.New("invalid chunking")

	// ErrInvalidHistoryTokens indicates the history token budget is out of range.
	ErrInvalidHistoryTokens = errors.New("invalid history token budget")

	// ErrInvalidWorkers indicates the worker count is out of range.
	ErrInvalidWorkers = errors.New("invalid worker count")
)

// Environment identifiers used in Config.Env.
const (
	EnvDev  = "dev"
	EnvProd = "prod"
)

// SchemaVectorDim is the embedding dimension fixed by the documents table schema.
// Changing it requires a new migration; see db/migrations.
const SchemaVectorDim = 768

// ProviderConfig holds the OpenAI-compatible model provider settings.
//
// An empty APIKey selects the deterministic simulator instead of a live
// provider, which keeps `ragline serve` usable without credentials.
type ProviderConfig struct {
	// BaseURL is the provider endpoint (default: https://api.openai.com/v1)
	BaseURL string `mapstructure:"base_url" json:"base_url"`
	// APIKey authorizes requests; empty means simulation mode
	APIKey string `mapstructure:"api_key" json:"api_key" sensitive:"true"`
	// Model is the chat completion model identifier
	Model string `mapstructure:"model" json:"model"`
	// EmbedModel is the embedding model identifier
	EmbedModel string `mapstructure:"embed_model" json:"embed_model"`
	// TimeoutSeconds bounds a single provider request
	TimeoutSeconds int `mapstructure:"timeout_seconds" json:"timeout_seconds"`
	// RequestsPerSecond throttles outbound provider calls (0 = unlimited)
	RequestsPerSecond float64 `mapstructure:"requests_per_second" json:"requests_per_second"`
}

// MarshalJSON implements json.Marshaler with sensitive field masking.
func (p ProviderConfig) MarshalJSON() ([]byte, error) {
	type alias ProviderConfig
	a := alias(p)
	a.APIKey = maskSecret(a.APIKey)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal provider config: %w", err)
	}
	return data, nil
}

// TelemetryConfig holds OTLP trace export settings.
// An empty Endpoint disables export entirely.
type TelemetryConfig struct {
	// Endpoint is the OTLP/HTTP collector address (e.g. localhost:4318)
	Endpoint string `mapstructure:"endpoint" json:"endpoint"`
	// ServiceName tags exported spans (default: ragline)
	ServiceName string `mapstructure:"service_name" json:"service_name"`
	// Environment is the deployment environment tag
	Environment string `mapstructure:"environment" json:"environment"`
}

// Config stores application configuration.
// SECURITY: Sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields (passwords, API keys, tokens), update MarshalJSON.
type Config struct {
	// Deployment environment: "dev" (permissive CORS) or "prod"
	Env string `mapstructure:"env" json:"env"`

	// HTTP server bind address
	Host string `mapstructure:"host" json:"host"`
	Port int    `mapstructure:"port" json:"port"`

	// Directories exposed under /api/files/ when they exist on disk
	DataDir       string `mapstructure:"data_dir" json:"data_dir"`
	ToolOutputDir string `mapstructure:"tool_output_dir" json:"tool_output_dir"`

	// Security configuration (serve mode only)
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
	TrustProxy  bool     `mapstructure:"trust_proxy" json:"trust_proxy"` // Trust X-Real-IP/X-Forwarded-For (set true behind reverse proxy)

	// Per-client rate limiting for /api/ routes
	RatePerSecond float64 `mapstructure:"rate_per_second" json:"rate_per_second"`
	RateBurst     int     `mapstructure:"rate_burst" json:"rate_burst"`

	// Model provider configuration (see llm package)
	Provider ProviderConfig `mapstructure:"provider" json:"provider"`

	// Storage configuration (see storage.go for documentation)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Retrieval configuration
	VectorDim     int `mapstructure:"vector_dim" json:"vector_dim"`
	TopK          int `mapstructure:"top_k" json:"top_k"`
	ChunkSize     int `mapstructure:"chunk_size" json:"chunk_size"`
	ChunkOverlap  int `mapstructure:"chunk_overlap" json:"chunk_overlap"`
	Workers       int `mapstructure:"workers" json:"workers"`
	EmbedBatch    int `mapstructure:"embed_batch" json:"embed_batch"`
	HistoryTokens int `mapstructure:"history_tokens" json:"history_tokens"`

	// Telemetry configuration (see observability package)
	Telemetry TelemetryConfig `mapstructure:"telemetry" json:"telemetry"`
}

// Load loads configuration.
// Priority: Environment variables > .env file > configuration file > default values.
func Load() (*Config, error) {
	// .env is optional; real environment variables always win because
	// godotenv.Load never overwrites existing keys.
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".ragline"))
	}

	setDefaults(v)
	bindEnvVariables(v)

	// Read configuration file (if exists)
	if err := v.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"config_name", "config.yaml")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// Parse DATABASE_URL if set (highest priority for PostgreSQL config)
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("env", EnvDev)
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8000)
	v.SetDefault("data_dir", "data")
	v.SetDefault("tool_output_dir", "tool-output")

	// CORS defaults apply in prod only; dev allows any origin
	v.SetDefault("cors_origins", []string{"http://localhost:3000"})
	v.SetDefault("trust_proxy", false)

	// Rate limit defaults: 1 req/s sustained with a generous burst
	v.SetDefault("rate_per_second", 1.0)
	v.SetDefault("rate_burst", 60)

	// Provider defaults (OpenAI-compatible endpoint)
	v.SetDefault("provider.base_url", "https://api.openai.com/v1")
	v.SetDefault("provider.model", "gpt-4o-mini")
	v.SetDefault("provider.embed_model", "text-embedding-3-small")
	v.SetDefault("provider.timeout_seconds", 45)
	v.SetDefault("provider.requests_per_second", 0.0)

	// PostgreSQL defaults (matching docker-compose.yml)
	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "ragline")
	v.SetDefault("postgres_password", "ragline_dev_password")
	v.SetDefault("postgres_db_name", "ragline")
	v.SetDefault("postgres_ssl_mode", "disable")

	// Retrieval defaults
	v.SetDefault("vector_dim", SchemaVectorDim)
	v.SetDefault("top_k", 5)
	v.SetDefault("chunk_size", 1000)
	v.SetDefault("chunk_overlap", 200)
	v.SetDefault("workers", 4)
	v.SetDefault("embed_batch", 64)
	v.SetDefault("history_tokens", 8000)

	// Telemetry defaults (empty endpoint = disabled)
	v.SetDefault("telemetry.endpoint", "")
	v.SetDefault("telemetry.service_name", "ragline")
	v.SetDefault("telemetry.environment", EnvDev)
}

// bindEnvVariables wires environment variables into viper.
//
// Every key is reachable as RAGLINE_<KEY> with dots replaced by underscores
// (e.g. RAGLINE_PROVIDER_MODEL). Two extra bindings cover conventional names:
// OPENAI_API_KEY for the provider key and DATABASE_URL (parsed separately).
func bindEnvVariables(v *viper.Viper) {
	// Helper to panic on unexpected bind errors (hardcoded strings can't fail)
	// If this panics, it's a BUG in our code, not a runtime error
	mustBind := func(key string, envVars ...string) {
		args := append([]string{key}, envVars...)
		if err := v.BindEnv(args...); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q: %v", key, err))
		}
	}

	v.SetEnvPrefix("RAGLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Provider API key: RAGLINE_PROVIDER_API_KEY wins, OPENAI_API_KEY is the
	// conventional fallback most deployments already export.
	mustBind("provider.api_key", "RAGLINE_PROVIDER_API_KEY", "OPENAI_API_KEY")

	// Original deployment names kept for compatibility with existing setups
	mustBind("host", "RAGLINE_HOST", "APP_HOST")
	mustBind("port", "RAGLINE_PORT", "APP_PORT")
}

// Addr returns the HTTP listen address in host:port form.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Dev reports whether the service runs in the development environment.
func (c *Config) Dev() bool {
	return c.Env == EnvDev
}

// Simulated reports whether the model provider is simulated.
// Without an API key the service falls back to deterministic local
// completions and embeddings so it stays usable end to end.
func (c *Config) Simulated() bool {
	return c.Provider.APIKey == ""
}

// maskedValue is the placeholder for masked sensitive data.
// Using ████████ (full-width blocks U+2588) to avoid substring matching
// Previous attempts:
// - "****" failed: passwords with "*" leaked
// - "[REDACTED]" failed: passwords with "A", "D", "E", etc. leaked
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging.
// Shows first 2 and last 2 characters, masks the rest.
// SECURITY: For secrets <=8 chars, fully masks to prevent substring attacks.
// For longer secrets, shows partial chars with unique separator.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	// Fully mask short secrets to prevent substring matching attacks
	// Example attack: input "00***" → output "00******" contains "00***"
	if len(s) <= 8 {
		return maskedValue
	}
	// For longer secrets, show first/last 2 chars for debug utility
	// Example: "my_long_secret_key_123" → "my<████████>23"
	prefix := make([]byte, 2)
	suffix := make([]byte, 2)
	copy(prefix, s[:2])
	copy(suffix, s[len(s)-2:])
	return string(prefix) + "<" + maskedValue + ">" + string(suffix)
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
//
// Sensitive fields masked:
//   - PostgresPassword
//   - Provider.APIKey (via ProviderConfig.MarshalJSON)
//
// When adding new sensitive fields, update this method or the nested struct's MarshalJSON.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	// Note: Provider.APIKey is handled by its own MarshalJSON
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
