package api

import (
	"context"
	"errors"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ragline/ragline/internal/engine"
	"github.com/ragline/ragline/internal/llm"
	"github.com/ragline/ragline/internal/log"
)

// ChatEngine produces a grounded reply for a conversation.
// *engine.Engine implements it; tests substitute stubs.
type ChatEngine interface {
	Chat(ctx context.Context, messages []llm.Message) (*engine.Reply, error)
}

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger        log.Logger
	Engine        ChatEngine    // Required
	Pool          *pgxpool.Pool // Optional: nil disables the database check in /ready
	CORSOrigins   []string      // Allowed origins for CORS (ignored in dev mode)
	Dev           bool          // Dev mode: any origin allowed, no HSTS
	TrustProxy    bool          // Trust X-Real-IP/X-Forwarded-For headers (behind reverse proxy)
	RatePerSecond float64       // Rate limiter refill per IP (0 = default 1/s)
	RateBurst     int           // Rate limiter burst size per IP (0 = default 60)
	DataDir       string        // Served under /api/files/data/ when the directory exists
	ToolOutputDir string        // Served under /api/files/tool-output/ when the directory exists
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates a new API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Engine == nil {
		return nil, errors.New("chat engine is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	ch := &chatHandler{engine: cfg.Engine, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", ch.send)

	// File mounts appear only when their directory exists, so a fresh
	// checkout without data/ never registers the routes.
	mountStatic(mux, logger, "/api/files/data/", cfg.DataDir)
	mountStatic(mux, logger, "/api/files/tool-output/", cfg.ToolOutputDir)

	rps := cfg.RatePerSecond
	if rps <= 0 {
		rps = 1.0
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(rps, burst)

	// Build middleware stack (outermost first):
	//   Recovery → RequestID → Logging → CORS → RateLimit → Routes
	// RequestID must be before Logging so request_id is available in log attributes.
	// CORS must be before RateLimit so preflight OPTIONS gets proper CORS headers.
	var handler http.Handler = mux
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins, cfg.Dev)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	dev := cfg.Dev
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w, dev)
		handler.ServeHTTP(w, r)
	})

	// Use a top-level mux to separate health probes from the middleware stack
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health)
	topMux.Handle("GET /ready", readiness(cfg.Pool))
	topMux.Handle("/", final)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// mountStatic serves dir under prefix when the directory exists on disk.
func mountStatic(mux *http.ServeMux, logger log.Logger, prefix, dir string) {
	if dir == "" {
		return
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		logger.Debug("static mount skipped, directory missing", "prefix", prefix, "dir", dir)
		return
	}
	mux.Handle("GET "+prefix, http.StripPrefix(prefix, http.FileServer(http.Dir(dir))))
	logger.Info("serving static files", "prefix", prefix, "dir", dir)
}
