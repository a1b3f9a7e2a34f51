package config

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
)

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	// 0. Nil receiver
	if c == nil {
		return ErrConfigNil
	}

	// 1. Environment validation
	if c.Env != EnvDev && c.Env != EnvProd {
		return fmt.Errorf("%w: must be %q or %q, got %q", ErrInvalidEnv, EnvDev, EnvProd, c.Env)
	}

	// 2. Server validation
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPort, c.Port)
	}

	if c.RatePerSecond <= 0 {
		return fmt.Errorf("%w: rate_per_second must be positive, got %g", ErrInvalidRateLimit, c.RatePerSecond)
	}
	if c.RateBurst < 1 {
		return fmt.Errorf("%w: rate_burst must be at least 1, got %d", ErrInvalidRateLimit, c.RateBurst)
	}

	// 3. Provider validation
	// Simulation mode (empty API key) still needs model names for logging
	// and a timeout for the simulated path, so these are always required.
	if c.Provider.Model == "" {
		return fmt.Errorf("%w: provider.model cannot be empty", ErrInvalidProviderModel)
	}
	if c.Provider.EmbedModel == "" {
		return fmt.Errorf("%w: provider.embed_model cannot be empty", ErrInvalidProviderModel)
	}
	if !c.Simulated() {
		if c.Provider.BaseURL == "" {
			return fmt.Errorf("%w: provider.base_url cannot be empty", ErrInvalidProviderBaseURL)
		}
		if !strings.HasPrefix(c.Provider.BaseURL, "http://") && !strings.HasPrefix(c.Provider.BaseURL, "https://") {
			return fmt.Errorf("%w: must start with http:// or https://, got %q",
				ErrInvalidProviderBaseURL, c.Provider.BaseURL)
		}
	}
	if c.Provider.TimeoutSeconds < 1 || c.Provider.TimeoutSeconds > 600 {
		return fmt.Errorf("%w: must be between 1 and 600 seconds, got %d",
			ErrInvalidProviderTimeout, c.Provider.TimeoutSeconds)
	}
	if c.Provider.RequestsPerSecond < 0 {
		return fmt.Errorf("%w: provider.requests_per_second cannot be negative, got %g",
			ErrInvalidRateLimit, c.Provider.RequestsPerSecond)
	}

	// 4. PostgreSQL configuration validation
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}

	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}

	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}

	if c.PostgresPassword == "" {
		return fmt.Errorf("%w: postgres_password must be set", ErrInvalidPostgresPassword)
	}

	// Warn if using default dev password (but don't block - user might be in dev)
	if c.PostgresPassword == "ragline_dev_password" {
		slog.Warn("Using default development password for PostgreSQL",
			"warning", "Change postgres_password for production deployments")
	}

	// Validate password strength (minimum 8 characters)
	if len(c.PostgresPassword) < 8 {
		return fmt.Errorf("%w: postgres_password must be at least 8 characters (got %d)",
			ErrInvalidPostgresPassword, len(c.PostgresPassword))
	}

	// 5. PostgreSQL SSL mode validation
	// Modern SSL modes only - exclude deprecated allow/prefer (MITM vulnerable)
	// Reference: https://www.postgresql.org/docs/current/libpq-ssl.html
	validSSLModes := []string{"disable", "require", "verify-ca", "verify-full"}
	if c.PostgresSSLMode == "" {
		return fmt.Errorf("%w: postgres_ssl_mode is empty (should have default from setDefaults)",
			ErrInvalidPostgresSSLMode)
	}

	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: %q is not valid, must be one of: %v\n"+
			"Note: 'allow' and 'prefer' modes are deprecated (vulnerable to MITM attacks)",
			ErrInvalidPostgresSSLMode, c.PostgresSSLMode, validSSLModes)
	}

	// 6. Retrieval configuration validation
	// The documents table declares vector(768); a mismatched dimension would
	// fail on the first INSERT, so reject it up front.
	if c.VectorDim != SchemaVectorDim {
		return fmt.Errorf("%w: schema requires %d, got %d", ErrInvalidVectorDim, SchemaVectorDim, c.VectorDim)
	}

	if c.TopK < 1 || c.TopK > 50 {
		return fmt.Errorf("%w: must be between 1 and 50, got %d", ErrInvalidTopK, c.TopK)
	}

	if c.ChunkSize < 1 {
		return fmt.Errorf("%w: chunk_size must be positive, got %d", ErrInvalidChunking, c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap must be in [0, chunk_size), got %d with chunk_size %d",
			ErrInvalidChunking, c.ChunkOverlap, c.ChunkSize)
	}

	if c.Workers < 1 || c.Workers > 128 {
		return fmt.Errorf("%w: must be between 1 and 128, got %d", ErrInvalidWorkers, c.Workers)
	}
	if c.EmbedBatch < 1 {
		return fmt.Errorf("%w: embed_batch must be at least 1, got %d", ErrInvalidWorkers, c.EmbedBatch)
	}

	if c.HistoryTokens < 1 {
		return fmt.Errorf("%w: must be positive, got %d", ErrInvalidHistoryTokens, c.HistoryTokens)
	}

	return nil
}
