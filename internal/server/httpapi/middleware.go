package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/taskhive/taskhive/internal/common"
	"github.com/taskhive/taskhive/internal/server/auth"
)

type contextKey string

const claimsContextKey contextKey = "accessClaims"

func claimsFromContext(ctx context.Context) (*auth.AccessClaims, bool) {
	claims, ok := ctx.Value(claimsContextKey).(*auth.AccessClaims)
	return claims, ok
}

// withAuth verifies the Bearer access token and stores its claims in the
// request context. Expired and invalid tokens produce distinct codes so the
// client can tell routine renewal from a broken session.
func (s *Server) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get(common.AuthHeaderName)
		if !strings.HasPrefix(header, common.BearerPrefix) {
			writeError(w, http.StatusUnauthorized, codeInvalidToken, "missing bearer token")
			return
		}

		claims, err := s.auth.VerifyAccess(strings.TrimPrefix(header, common.BearerPrefix))
		if err != nil {
			code := codeInvalidToken
			if errors.Is(err, common.ErrTokenExpired) {
				code = codeExpiredToken
			}
			writeError(w, http.StatusUnauthorized, code, "unauthorized")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsContextKey, claims)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// withRequestLog logs each request with method, path, status and duration.
// The status poll runs every couple of seconds per client, so it is logged
// at debug level only.
func (s *Server) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		args := []any{"method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start)}
		if r.URL.Path == "/api/auth/status" {
			s.logger.Debug(r.Context(), "request", args...)
			return
		}
		s.logger.Info(r.Context(), "request", args...)
	})
}
