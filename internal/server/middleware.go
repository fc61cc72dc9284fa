package server

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/menta2k/audioshelf/pkg/errors"
)

// logRequests logs one line per request. Health checks are logged at debug.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		kv := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"took", time.Since(start).Round(time.Microsecond),
			"request_id", middleware.GetReqID(r.Context()),
		}
		switch {
		case r.URL.Path == "/api/health":
			s.logger.Debug("request", kv...)
		case status >= 500:
			s.logger.Error("request", kv...)
		default:
			s.logger.Info("request", kv...)
		}
	})
}

// requireAdmin checks HTTP Basic credentials against the configured admin.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	wantUser := []byte(s.config.Auth.Username)
	wantPass := []byte(s.config.Auth.Password)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		userOK := subtle.ConstantTimeCompare([]byte(user), wantUser) == 1
		passOK := subtle.ConstantTimeCompare([]byte(pass), wantPass) == 1
		if !ok || !userOK || !passOK {
			w.Header().Set("WWW-Authenticate", `Basic realm="audioshelf"`)
			writeError(w, r, s.logger, errors.New(errors.ErrCodeUnauthorized, "admin credentials required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
