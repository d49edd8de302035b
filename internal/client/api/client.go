// Package api is the HTTP client for the TaskHive auth server. It owns the
// cookie side-channel for the refresh token and attaches the access token
// from a live getter, so consumers never hold a stale copy.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/taskhive/taskhive/internal/common"
)

const cookieFileName = "cookie.json"

// UserProfile is the non-sensitive profile object. It is the only session
// data the client is allowed to persist outside the cookie file.
type UserProfile struct {
	PublicID  string `json:"publicId"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Role      string `json:"role"`
}

// AuthResult is the JSON result of login/register. The refresh token is
// absent: it arrives through the cookie jar.
type AuthResult struct {
	AccessToken string      `json:"accessToken"`
	User        UserProfile `json:"user"`
}

// Status mirrors the server's authoritative session status.
type Status struct {
	IsValid         bool `json:"isValid"`
	TimeRemaining   int  `json:"timeRemaining"`
	IsAboutToExpire bool `json:"isAboutToExpire"`
}

// RegisterRequest carries registration fields.
type RegisterRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

type refreshRequest struct {
	ExtendSession bool `json:"extendSession"`
}

type refreshResponse struct {
	AccessToken string `json:"accessToken"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Client talks to the auth server over HTTP.
type Client struct {
	baseURL     string
	http        *http.Client
	jar         *persistentJar
	accessToken func() string
}

// NewClient constructs a Client. stateDir hosts the persisted refresh
// cookie file.
func NewClient(baseURL, stateDir string) (*Client, error) {
	jar, err := newPersistentJar(baseURL, filepath.Join(stateDir, cookieFileName))
	if err != nil {
		return nil, err
	}
	return &Client{
		baseURL: baseURL,
		http: &http.Client{
			Jar:     jar,
			Timeout: 10 * time.Second,
		},
		jar:         jar,
		accessToken: func() string { return "" },
	}, nil
}

// SetAccessTokenSource installs the live access-token getter. It must be a
// closure over the session's current token, not a captured value, because
// rotation changes the token without the transport being rebuilt.
func (c *Client) SetAccessTokenSource(fn func() string) {
	c.accessToken = fn
}

// HasPersistedRefreshCookie reports whether a refresh cookie survived from
// an earlier run, i.e. whether a silent resume is worth attempting.
func (c *Client) HasPersistedRefreshCookie() bool {
	u := *c.jar.authURL
	for _, cookie := range c.jar.Cookies(&u) {
		if cookie.Name == common.RefreshTokenCookieName && cookie.Value != "" {
			return true
		}
	}
	return false
}

// Register creates an account and opens a session.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*AuthResult, error) {
	out := &AuthResult{}
	if err := c.doJSON(ctx, http.MethodPost, "/api/auth/register", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Login authenticates and opens a session.
func (c *Client) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	body := map[string]string{"email": email, "password": password}
	out := &AuthResult{}
	if err := c.doJSON(ctx, http.MethodPost, "/api/auth/login", body, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Refresh exchanges the refresh cookie for a new access token, optionally
// forcing rotation. A rotated refresh token lands in the jar as a side
// effect of the cookie round-trip.
func (c *Client) Refresh(ctx context.Context, extend bool) (string, error) {
	out := &refreshResponse{}
	if err := c.doJSON(ctx, http.MethodPost, "/api/auth/refresh", refreshRequest{ExtendSession: extend}, out); err != nil {
		return "", err
	}
	return out.AccessToken, nil
}

// Status asks the server for the authoritative remaining session lifetime.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	out := &Status{}
	if err := c.doJSON(ctx, http.MethodGet, "/api/auth/status", nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Logout revokes the session server-side and clears the local cookie state
// regardless of the outcome.
func (c *Client) Logout(ctx context.Context) error {
	err := c.doJSON(ctx, http.MethodPost, "/api/auth/logout", struct{}{}, nil)
	c.jar.clear()
	return err
}

// Me fetches the caller's identity through the access-token-protected API.
func (c *Client) Me(ctx context.Context) (map[string]any, error) {
	out := map[string]any{}
	if err := c.doJSON(ctx, http.MethodGet, "/api/me", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token := c.accessToken(); token != "" {
		req.Header.Set(common.AuthHeaderName, common.BearerPrefix+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return mapAPIError(resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func mapAPIError(resp *http.Response) error {
	var e errorResponse
	_ = json.NewDecoder(resp.Body).Decode(&e)

	switch e.Code {
	case "invalid_credentials":
		return common.ErrInvalidCredentials
	case "expired_token":
		return common.ErrTokenExpired
	case "invalid_token":
		return common.ErrInvalidToken
	case "already_exists":
		return common.ErrorAlreadyExists
	case "validation_error":
		return fmt.Errorf("%w: %s", common.ErrorValidation, e.Message)
	default:
		return fmt.Errorf("%w: http %d", common.ErrorInternal, resp.StatusCode)
	}
}
