// Package httpapi exposes the session subsystem over HTTP. The refresh
// token travels exclusively in an HttpOnly cookie; JSON bodies carry only
// the access token and non-sensitive profile data.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/taskhive/taskhive/internal/logging"
	"github.com/taskhive/taskhive/internal/server/services"
)

// Server is the HTTP front of the auth service.
type Server struct {
	addr   string
	logger logging.Logger
	auth   *services.AuthService
	srv    *http.Server
}

// NewServer builds the server and its routes.
func NewServer(addr string, logger logging.Logger, auth *services.AuthService) *Server {
	s := &Server{addr: addr, logger: logger, auth: auth}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/register", s.handleRegister)
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("POST /api/auth/refresh", s.handleRefresh)
	mux.HandleFunc("GET /api/auth/status", s.handleStatus)
	mux.HandleFunc("POST /api/auth/logout", s.handleLogout)
	mux.Handle("POST /api/auth/logout-all", s.withAuth(http.HandlerFunc(s.handleLogoutAll)))
	mux.Handle("GET /api/me", s.withAuth(http.HandlerFunc(s.handleMe)))

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.withRequestLog(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the root handler, used directly by httptest in tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	s.logger.Info(ctx, "http server listening", "addr", s.addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}
