package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskhive/taskhive/internal/client/api"
	"github.com/taskhive/taskhive/internal/common"
	"github.com/taskhive/taskhive/internal/logging"
)

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func signedToken(t *testing.T, ttl time.Duration) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(ttl).Unix(),
	})
	s, err := tok.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

type fakeAPI struct {
	mu           sync.Mutex
	refreshCalls int
	extendCalls  int
	logoutCalls  int
	refreshErr   error
	tokenTTL     time.Duration
	release      chan struct{} // when non-nil, Refresh blocks until closed
	t            *testing.T
}

func (f *fakeAPI) Refresh(_ context.Context, extend bool) (string, error) {
	f.mu.Lock()
	f.refreshCalls++
	if extend {
		f.extendCalls++
	}
	release := f.release
	err := f.refreshErr
	ttl := f.tokenTTL
	f.mu.Unlock()

	if release != nil {
		<-release
	}
	if err != nil {
		return "", err
	}
	return signedToken(f.t, ttl), nil
}

func (f *fakeAPI) Logout(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logoutCalls++
	return nil
}

func (f *fakeAPI) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshCalls
}

func (f *fakeAPI) logouts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logoutCalls
}

func newTestManager(t *testing.T, f *fakeAPI) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	return NewManager(f, dir, testLogger()), dir
}

func TestLoginPersistsProfileOnly(t *testing.T) {
	f := &fakeAPI{t: t, tokenTTL: time.Hour}
	m, dir := newTestManager(t, f)

	token := signedToken(t, 15*time.Minute)
	m.Login(api.UserProfile{Email: "ann@example.com", FirstName: "Ann"}, token)

	assert.Equal(t, StateAuthenticated, m.State())
	assert.Equal(t, token, m.AccessToken())

	data, err := os.ReadFile(filepath.Join(dir, profileFileName))
	require.NoError(t, err)
	assert.Contains(t, string(data), "ann@example.com")
	assert.NotContains(t, string(data), token)
}

func TestLogoutIsIdempotent(t *testing.T) {
	f := &fakeAPI{t: t, tokenTTL: time.Hour}
	m, dir := newTestManager(t, f)

	m.Login(api.UserProfile{Email: "ann@example.com"}, signedToken(t, time.Minute))
	m.Logout()
	m.Logout()

	assert.Equal(t, StateAnonymous, m.State())
	assert.Empty(t, m.AccessToken())
	assert.Nil(t, m.Profile())

	_, err := os.Stat(filepath.Join(dir, profileFileName))
	assert.True(t, os.IsNotExist(err))
}

func TestRefreshReplacesAccessToken(t *testing.T) {
	f := &fakeAPI{t: t, tokenTTL: time.Hour}
	m, _ := newTestManager(t, f)

	old := signedToken(t, time.Second)
	m.Login(api.UserProfile{Email: "ann@example.com"}, old)

	ok, err := m.Refresh(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotEqual(t, old, m.AccessToken())
}

func TestRefreshSingleFlight(t *testing.T) {
	release := make(chan struct{})
	f := &fakeAPI{t: t, tokenTTL: time.Hour, release: release}
	m, _ := newTestManager(t, f)
	m.Login(api.UserProfile{Email: "ann@example.com"}, signedToken(t, time.Minute))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = m.Refresh(context.Background())
	}()

	// wait until the first call is inside the API
	require.Eventually(t, func() bool { return f.calls() == 1 }, time.Second, time.Millisecond)

	// a concurrent call is suppressed: no error, but no rotation either
	ok, err := m.Refresh(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, f.calls())

	close(release)
	<-done
}

func TestResumeDiscardsDeadSession(t *testing.T) {
	f := &fakeAPI{t: t, refreshErr: common.ErrTokenExpired}
	dir := t.TempDir()

	first := NewManager(f, dir, testLogger())
	first.Login(api.UserProfile{Email: "ann@example.com"}, signedToken(t, time.Minute))

	// new process: profile on disk, no access token
	m := NewManager(f, dir, testLogger())
	require.True(t, m.HasStoredProfile())

	assert.False(t, m.Resume(context.Background()))
	assert.Equal(t, StateAnonymous, m.State())
	assert.False(t, m.HasStoredProfile())
}

func TestResumeRestoresSession(t *testing.T) {
	f := &fakeAPI{t: t, tokenTTL: time.Hour}
	dir := t.TempDir()

	first := NewManager(f, dir, testLogger())
	first.Login(api.UserProfile{Email: "ann@example.com"}, signedToken(t, time.Minute))

	m := NewManager(f, dir, testLogger())
	require.True(t, m.Resume(context.Background()))
	assert.Equal(t, StateAuthenticated, m.State())
	assert.NotEmpty(t, m.AccessToken())
	require.NotNil(t, m.Profile())
	assert.Equal(t, "ann@example.com", m.Profile().Email)
}

func TestAccessTokenRemaining(t *testing.T) {
	f := &fakeAPI{t: t}
	m, _ := newTestManager(t, f)

	assert.Zero(t, m.AccessTokenRemaining())

	m.Login(api.UserProfile{Email: "ann@example.com"}, signedToken(t, time.Hour))
	remaining := m.AccessTokenRemaining()
	assert.Greater(t, remaining, 59*time.Minute)
	assert.LessOrEqual(t, remaining, time.Hour)
}

func TestIsFatalSessionError(t *testing.T) {
	assert.True(t, IsFatalSessionError(common.ErrTokenExpired))
	assert.True(t, IsFatalSessionError(common.ErrInvalidToken))
	assert.False(t, IsFatalSessionError(common.ErrUnavailable))
	assert.False(t, IsFatalSessionError(errors.New("boom")))
	assert.False(t, IsFatalSessionError(nil))
}
