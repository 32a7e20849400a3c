// Package httpapi exposes the auth engine over HTTP. All bodies are JSON;
// errors come back as {"error": "..."} with a status derived from the engine
// sentinel, so transport code never invents its own security verdicts.
package httpapi

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/tradegate/authcore"
	"github.com/tradegate/authcore/metrics/export/prometheus"
	"github.com/tradegate/authcore/middleware"
)

// AdminRole is the role required by the administrative endpoints.
const AdminRole = "admin"

type Server struct {
	engine *authcore.Engine
	logger zerolog.Logger
	mux    *http.ServeMux
}

func NewServer(engine *authcore.Engine, logger zerolog.Logger) *Server {
	s := &Server{
		engine: engine,
		logger: logger,
		mux:    http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /auth/login", s.handleLogin)
	s.mux.HandleFunc("POST /auth/refresh", s.handleRefresh)
	s.mux.HandleFunc("POST /auth/logout", s.handleLogout)
	s.mux.HandleFunc("GET /auth/validate", s.handleValidate)
	s.mux.HandleFunc("GET /auth/profile", s.handleProfile)
	s.mux.HandleFunc("POST /auth/change-password", s.handleChangePassword)

	admin := middleware.RequireRoles(s.engine, AdminRole)
	s.mux.Handle("GET /auth/sessions", admin(http.HandlerFunc(s.handleSessions)))
	s.mux.Handle("DELETE /auth/sessions/{id}", admin(http.HandlerFunc(s.handleRevokeSession)))
	s.mux.Handle("POST /auth/users/{id}/logout-all", admin(http.HandlerFunc(s.handleLogoutAll)))
	s.mux.Handle("GET /auth/stats", admin(http.HandlerFunc(s.handleStats)))

	s.mux.HandleFunc("GET /auth/health", s.handleHealth)
	s.mux.HandleFunc("GET /auth/ready", s.handleReady)
	s.mux.Handle("GET /metrics", prometheus.NewExporter(s.engine).Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := authcore.WithClientIP(r.Context(), clientIP(r))
	if device := r.Header.Get("User-Agent"); device != "" {
		ctx = authcore.WithDeviceLabel(ctx, device)
	}

	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.mux.ServeHTTP(rec, r.WithContext(ctx))

	s.logger.Info().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", rec.status).
		Dur("duration", time.Since(start)).
		Msg("request")
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error().Err(err).Msg("encoding response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		s.logger.Error().Err(err).Msg("internal error")
		// Internal detail stays out of the response body.
		s.writeJSON(w, status, map[string]string{"error": "internal error"})
		return
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, authcore.ErrInvalidCredentials),
		errors.Is(err, authcore.ErrUnauthorized),
		errors.Is(err, authcore.ErrTokenInvalid),
		errors.Is(err, authcore.ErrTokenExpired),
		errors.Is(err, authcore.ErrRefreshInvalid),
		errors.Is(err, authcore.ErrRefreshReuse),
		errors.Is(err, authcore.ErrSessionRevoked),
		errors.Is(err, authcore.ErrSessionExpired),
		errors.Is(err, authcore.ErrSessionNotFound):
		return http.StatusUnauthorized
	case errors.Is(err, authcore.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, authcore.ErrPasswordReuse):
		return http.StatusBadRequest
	case errors.Is(err, authcore.ErrLoginRateLimited),
		errors.Is(err, authcore.ErrRefreshRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, authcore.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(r *http.Request, into interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(into)
}
