// Package api provides the JSON HTTP API for the retrieval chat service.
//
// # Architecture
//
// The server uses Go 1.22+ routing with a layered middleware stack:
//
//	Recovery → RequestID → Logging → CORS → RateLimit → Routes
//
// Health probes (/health, /ready) bypass the middleware stack via a
// top-level mux, ensuring they remain fast and unauthenticated.
//
// # Endpoints
//
// Health probes (no middleware):
//   - GET /health: liveness, returns {"status":"ok"}
//   - GET /ready: readiness, pings the database and reports pool stats
//
// Chat:
//   - POST /api/chat: answer the newest user message in a conversation
//
// Static files (registered only when the directory exists on disk):
//   - GET /api/files/data/... serves indexed source documents
//   - GET /api/files/tool-output/... serves generated artifacts
//
// # Error Handling
//
// Errors use a flat envelope: {"error": "<code>", "message": "<detail>"}.
// Machine-readable codes stay stable; messages are for humans.
//
// # Security
//
// The middleware stack enforces:
//   - Per-IP rate limiting (token bucket, 60 req burst by default)
//   - CORS with an explicit origin allowlist (any origin in dev mode)
//   - Security headers (CSP, HSTS, X-Frame-Options, etc.)
package api
