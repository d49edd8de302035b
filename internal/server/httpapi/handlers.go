package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/taskhive/taskhive/internal/common"
	"github.com/taskhive/taskhive/internal/server/models"
	"github.com/taskhive/taskhive/internal/server/services"
)

// Machine-readable error codes returned alongside HTTP statuses. The client
// maps them back to its own error taxonomy.
const (
	codeInvalidCredentials = "invalid_credentials"
	codeInvalidToken       = "invalid_token"
	codeExpiredToken       = "expired_token"
	codeAlreadyExists      = "already_exists"
	codeValidation         = "validation_error"
	codeInternal           = "internal_error"
)

type registerRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	ExtendSession bool `json:"extendSession"`
}

type userDTO struct {
	PublicID  string `json:"publicId"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Role      string `json:"role"`
}

type authResponse struct {
	AccessToken string  `json:"accessToken"`
	User        userDTO `json:"user"`
}

type refreshResponse struct {
	AccessToken string `json:"accessToken"`
}

type statusResponse struct {
	IsValid         bool `json:"isValid"`
	TimeRemaining   int  `json:"timeRemaining"`
	IsAboutToExpire bool `json:"isAboutToExpire"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func toUserDTO(u *models.User) userDTO {
	return userDTO{
		PublicID:  u.PublicID,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Email:     u.Email,
		Role:      u.Role,
	}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, "invalid request body")
		return
	}

	sess, err := s.auth.Register(r.Context(), services.RegisterInput{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Password:  req.Password,
	})
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}

	setRefreshCookie(w, sess.RefreshToken, sess.RefreshExpiresAt)
	writeJSON(w, http.StatusCreated, authResponse{AccessToken: sess.AccessToken, User: toUserDTO(sess.User)})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, "invalid request body")
		return
	}

	sess, err := s.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}

	setRefreshCookie(w, sess.RefreshToken, sess.RefreshExpiresAt)
	writeJSON(w, http.StatusOK, authResponse{AccessToken: sess.AccessToken, User: toUserDTO(sess.User)})
}

// handleRefresh runs the rotation protocol. The rotated refresh token, if
// any, goes back through the cookie; the JSON body carries only the access
// token.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	raw := refreshCookie(r)
	if raw == "" {
		writeError(w, http.StatusUnauthorized, codeInvalidToken, "no refresh token")
		return
	}

	var req refreshRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, codeValidation, "invalid request body")
			return
		}
	}

	res, err := s.auth.Refresh(r.Context(), raw, req.ExtendSession)
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}

	if res.Rotated {
		setRefreshCookie(w, res.RefreshToken, res.RefreshExpiresAt)
	}
	writeJSON(w, http.StatusOK, refreshResponse{AccessToken: res.AccessToken})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.auth.RefreshStatus(r.Context(), refreshCookie(r))
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		IsValid:         st.IsValid,
		TimeRemaining:   st.TimeRemaining,
		IsAboutToExpire: st.IsAboutToExpire,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if raw := refreshCookie(r); raw != "" {
		if err := s.auth.Logout(r.Context(), raw); err != nil {
			s.logger.Error(r.Context(), "logout revocation failed", "error", err)
		}
	}
	clearRefreshCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// handleLogoutAll revokes every session the authenticated user holds. It
// needs a valid access token rather than the refresh cookie, so a stolen
// cookie alone cannot nuke the victim's other devices.
func (s *Server) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, codeInvalidToken, "no token claims")
		return
	}
	if err := s.auth.LogoutAll(r.Context(), claims.UserID); err != nil {
		s.writeAuthError(w, r, err)
		return
	}
	clearRefreshCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// handleMe is a minimal access-token-protected endpoint. The CRUD surface of
// the application sits behind the same middleware.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, codeInvalidToken, "no token claims")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"userId": claims.UserID,
		"email":  claims.Email,
	})
}

func (s *Server) writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, common.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, codeInvalidCredentials, "invalid email or password")
	case errors.Is(err, common.ErrTokenExpired):
		writeError(w, http.StatusUnauthorized, codeExpiredToken, "token expired")
	case errors.Is(err, common.ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, codeInvalidToken, "invalid token")
	case errors.Is(err, common.ErrorAlreadyExists):
		writeError(w, http.StatusConflict, codeAlreadyExists, "email already registered")
	case errors.Is(err, common.ErrorValidation):
		writeError(w, http.StatusBadRequest, codeValidation, err.Error())
	default:
		s.logger.Error(r.Context(), "internal error", "error", err)
		writeError(w, http.StatusInternalServerError, codeInternal, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}
