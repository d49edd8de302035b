// Package session owns the client-side authentication state: the in-memory
// access token, the persisted non-sensitive profile, and the watchdog that
// tracks remaining session lifetime. There is exactly one Manager per app,
// constructed at startup and injected into consumers; no ambient globals.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/taskhive/taskhive/internal/client/api"
	"github.com/taskhive/taskhive/internal/common"
	"github.com/taskhive/taskhive/internal/logging"
)

const profileFileName = "profile.json"

// State is the session lifecycle state.
type State int

const (
	// StateAnonymous: no trusted session.
	StateAnonymous State = iota
	// StateAuthenticated: a live access token is held in memory.
	StateAuthenticated
	// StatePendingExpiry: authenticated, with the expiration dialog open.
	StatePendingExpiry
)

func (s State) String() string {
	switch s {
	case StateAuthenticated:
		return "authenticated"
	case StatePendingExpiry:
		return "pending-expiry"
	default:
		return "anonymous"
	}
}

// API is the server surface the Manager needs. *api.Client satisfies it.
type API interface {
	Refresh(ctx context.Context, extend bool) (string, error)
	Logout(ctx context.Context) error
}

// Manager is the client session state machine.
//
// Invariants:
//   - the access token lives in memory only, exposed through AccessToken()
//     so consumers always read the current value;
//   - only the non-sensitive profile is persisted, as a single JSON file;
//   - at most one refresh call is in flight at a time.
type Manager struct {
	mu          sync.Mutex
	api         API
	logger      logging.Logger
	state       State
	profile     *api.UserProfile
	accessToken string
	accessExp   time.Time
	refreshing  bool
	profilePath string
}

// NewManager constructs a Manager and loads any persisted profile. The
// caller must follow up with Resume to decide whether the stored session is
// still alive; the access token itself is never persisted, so a restart
// always begins with a refresh attempt.
func NewManager(a API, stateDir string, logger logging.Logger) *Manager {
	m := &Manager{
		api:         a,
		logger:      logger,
		state:       StateAnonymous,
		profilePath: filepath.Join(stateDir, profileFileName),
	}
	m.loadProfile()
	return m
}

// HasStoredProfile reports whether a profile survived from a previous run.
func (m *Manager) HasStoredProfile() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.profile != nil
}

// Resume attempts exactly one refresh for a stored profile and discards the
// session when it fails. Returns true when the session is live afterwards.
func (m *Manager) Resume(ctx context.Context) bool {
	if !m.HasStoredProfile() {
		return false
	}
	if ok, _ := m.Refresh(ctx); ok {
		m.mu.Lock()
		m.state = StateAuthenticated
		m.mu.Unlock()
		return true
	}
	m.Logout()
	return false
}

// Login installs a fresh session from a successful login/register response
// and persists the profile. Any pending-expiry condition is cleared.
func (m *Manager) Login(profile api.UserProfile, accessToken string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.profile = &profile
	m.setAccessTokenLocked(accessToken)
	m.state = StateAuthenticated
	m.saveProfileLocked()
}

// Logout clears all in-memory and persisted session data. Idempotent.
// Server-side revocation is the transport's job (the logout endpoint);
// this machine only owns local state.
func (m *Manager) Logout() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.profile = nil
	m.accessToken = ""
	m.accessExp = time.Time{}
	m.state = StateAnonymous
	_ = os.Remove(m.profilePath)
}

// Refresh invokes the rotation protocol without forcing extension. On
// success the in-memory access token is replaced and (true, nil) is
// returned. Failures come back as a false result, never a panic; the error
// lets the caller tell a transient outage from a dead session. A concurrent
// call while one is in flight is suppressed and reports (false, nil): no
// rotation happened on its behalf, but nothing failed either.
func (m *Manager) Refresh(ctx context.Context) (bool, error) {
	return m.refresh(ctx, false)
}

// Extend invokes the rotation protocol with forced rotation, pushing the
// refresh-token expiry a full window into the future.
func (m *Manager) Extend(ctx context.Context) (bool, error) {
	return m.refresh(ctx, true)
}

func (m *Manager) refresh(ctx context.Context, extend bool) (bool, error) {
	m.mu.Lock()
	if m.refreshing {
		m.mu.Unlock()
		return false, nil
	}
	m.refreshing = true
	m.mu.Unlock()

	token, err := m.api.Refresh(ctx, extend)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshing = false

	if err != nil {
		m.logger.Warn(ctx, "refresh failed", "error", err)
		return false, err
	}

	m.setAccessTokenLocked(token)
	if m.state == StateAnonymous {
		m.state = StateAuthenticated
	}
	return true, nil
}

// revokeRemote asks the server to revoke the refresh token and clear the
// cookie. Best effort: the caller has already decided the session is over
// locally, so a failure here only means the server record outlives it.
func (m *Manager) revokeRemote(ctx context.Context) {
	if err := m.api.Logout(ctx); err != nil {
		m.logger.Warn(ctx, "remote revocation failed", "error", err)
	}
}

// AccessToken returns the current access token. Consumers must call this
// per request instead of caching the value.
func (m *Manager) AccessToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accessToken
}

// AccessTokenRemaining reports how long the current access token stays
// valid. Zero when anonymous or already expired.
func (m *Manager) AccessTokenRemaining() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.accessToken == "" || m.accessExp.IsZero() {
		return 0
	}
	remaining := time.Until(m.accessExp)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Profile returns the stored profile, or nil when anonymous.
func (m *Manager) Profile() *api.UserProfile {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.profile
}

// setPendingExpiry flips between Authenticated and PendingExpiry; the
// watchdog drives it when the dialog opens and closes. A logout in between
// wins: the transition is ignored when anonymous.
func (m *Manager) setPendingExpiry(pending bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateAnonymous {
		return
	}
	if pending {
		m.state = StatePendingExpiry
	} else {
		m.state = StateAuthenticated
	}
}

// setAccessTokenLocked stores the token and derives its expiry from the
// unverified exp claim. The client holds no signing secret; it only needs
// the timestamp, and the server re-verifies every request anyway.
func (m *Manager) setAccessTokenLocked(token string) {
	m.accessToken = token
	m.accessExp = time.Time{}

	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err == nil && claims.ExpiresAt != nil {
		m.accessExp = claims.ExpiresAt.Time
	}
}

func (m *Manager) loadProfile() {
	data, err := os.ReadFile(m.profilePath)
	if err != nil {
		return
	}
	profile := &api.UserProfile{}
	if err := json.Unmarshal(data, profile); err != nil {
		_ = os.Remove(m.profilePath)
		return
	}
	m.profile = profile
}

func (m *Manager) saveProfileLocked() {
	payload, err := json.Marshal(m.profile)
	if err != nil {
		return
	}
	if err := os.WriteFile(m.profilePath, payload, 0o600); err != nil {
		m.logger.Warn(context.Background(), "profile save failed", "error", err)
	}
}

// IsFatalSessionError reports whether a refresh failure means the session
// is unrecoverable (as opposed to a transient outage worth retrying on the
// next tick).
func IsFatalSessionError(err error) bool {
	return errors.Is(err, common.ErrInvalidToken) || errors.Is(err, common.ErrTokenExpired)
}
