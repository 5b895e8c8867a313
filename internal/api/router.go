// Package api provides the HTTP surface of tributaryd: pipeline CRUD,
// manual triggers, latest results, live log streaming over SSE, and health
// probes.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/tributary-data/tributary/internal/logbus"
	"github.com/tributary-data/tributary/internal/service"
)

// maxJSONBodySize caps JSON request bodies. File sources embed their upload
// content, so this is deliberately roomier than a typical CRUD API (10MB).
const maxJSONBodySize = 10 << 20

// Structured error type codes for machine-readable error categorization.
const (
	ErrorTypeValidation  = "VALIDATION"
	ErrorTypeNotFound    = "NOT_FOUND"
	ErrorTypeConflict    = "CONFLICT"
	ErrorTypeRateLimit   = "RATE_LIMIT"
	ErrorTypeInternal    = "INTERNAL"
	ErrorTypeUnavailable = "UNAVAILABLE"
)

// APIError is the JSON error envelope returned by all error responses.
// Format: {"error": {"code": "ERROR_CODE", "type": "ERROR_TYPE", "message": "..."}}
type APIError struct {
	Error APIErrorDetail `json:"error"`
}

// APIErrorDetail holds the code, type, and message inside the error envelope.
type APIErrorDetail struct {
	Code    string `json:"code"`
	Type    string `json:"type,omitempty"`
	Message string `json:"message"`
}

func errorTypeFromStatus(status int) string {
	switch {
	case status == http.StatusBadRequest:
		return ErrorTypeValidation
	case status == http.StatusNotFound:
		return ErrorTypeNotFound
	case status == http.StatusConflict:
		return ErrorTypeConflict
	case status == http.StatusTooManyRequests:
		return ErrorTypeRateLimit
	case status == http.StatusServiceUnavailable:
		return ErrorTypeUnavailable
	case status >= 500:
		return ErrorTypeInternal
	default:
		return ""
	}
}

// errorJSON writes a structured JSON error response. All API errors use this
// format so clients only handle one shape.
func errorJSON(w http.ResponseWriter, message, code string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(APIError{
		Error: APIErrorDetail{Code: code, Type: errorTypeFromStatus(status), Message: message},
	}); err != nil {
		slog.Error("failed to encode JSON error response", "error", err)
	}
}

// internalError logs the full error server-side and returns a generic JSON
// error to clients.
func internalError(w http.ResponseWriter, msg string, err error) {
	slog.Error(msg, "error", err)
	errorJSON(w, msg, "INTERNAL", http.StatusInternalServerError)
}

// writeJSON encodes v as JSON and writes it to w with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

// limitJSONBody caps request body size.
func limitJSONBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
		}
		next.ServeHTTP(w, r)
	})
}

// securityHeaders adds standard HTTP security headers to every response.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// Server holds dependencies for all API handlers.
type Server struct {
	Service     *service.Service
	Bus         *logbus.Bus // nil disables log streaming (503 on the endpoint)
	SSELimiter  *SSELimiter // nil = default limiter
	CORSOrigins []string    // defaults to ["http://localhost:3000"]

	DBHealth HealthChecker // Postgres health check (pool.Ping). Nil = skip.
	S3Health HealthChecker // S3/MinIO health check (BucketExists). Nil = skip.
}

// NewRouter creates a configured chi router with all routes mounted.
func NewRouter(srv *Server) chi.Router {
	if srv.SSELimiter == nil {
		srv.SSELimiter = NewSSELimiter()
	}

	corsOrigins := srv.CORSOrigins
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"http://localhost:3000"}
	}

	corsOpts := cors.Options{
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}
	// "Allow-Origin: *" cannot be combined with credentials; reflect the
	// request origin instead when a wildcard is configured.
	if hasWildcard(corsOrigins) {
		slog.Warn("CORS: wildcard origin '*' with AllowCredentials — using dynamic origin reflection")
		corsOpts.AllowOriginFunc = func(_ *http.Request, _ string) bool { return true }
	} else {
		corsOpts.AllowedOrigins = corsOrigins
	}

	r := chi.NewRouter()
	r.Use(cors.Handler(corsOpts))
	r.Use(securityHeaders)
	r.Use(RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", srv.HandleHealth)
	r.Get("/health/live", srv.HandleHealthLive)
	r.Get("/health/ready", srv.HandleHealthReady)

	r.Group(func(r chi.Router) {
		r.Use(limitJSONBody)

		r.Route("/pipelines", func(r chi.Router) {
			r.Post("/", srv.HandleCreatePipeline)
			r.Get("/", srv.HandleListPipelines)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", srv.HandleGetPipeline)
				r.Put("/", srv.HandleUpdatePipeline)
				r.Delete("/", srv.HandleDeletePipeline)
				r.Post("/run", srv.HandleRunPipeline)
				r.Get("/results", srv.HandleGetResults)
			})
		})

		r.Get("/logs/stream/{id}", srv.HandleStreamLogs)
	})

	return r
}

func hasWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}
