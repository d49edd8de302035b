package api

import (
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/taskhive/taskhive/internal/common"
)

// persistedCookie is the on-disk shape of the refresh cookie. The file plays
// the role of the browser's cookie store: it survives restarts so the app
// can attempt a silent session resume, and it is the only place any token
// touches disk.
type persistedCookie struct {
	Value   string    `json:"value"`
	Expires time.Time `json:"expires"`
}

// persistentJar wraps a standard cookie jar and mirrors the refresh cookie
// to a 0600 file. All other cookies stay in memory only.
type persistentJar struct {
	mu      sync.Mutex
	inner   http.CookieJar
	path    string
	authURL *url.URL
}

func newPersistentJar(baseURL, path string) (*persistentJar, error) {
	inner, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	authURL, err := url.Parse(baseURL + "/api/auth/")
	if err != nil {
		return nil, err
	}

	j := &persistentJar{inner: inner, path: path, authURL: authURL}
	j.restore()
	return j, nil
}

func (j *persistentJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.inner.SetCookies(u, cookies)

	j.mu.Lock()
	defer j.mu.Unlock()
	for _, c := range cookies {
		if c.Name != common.RefreshTokenCookieName {
			continue
		}
		if c.Value == "" || c.MaxAge < 0 {
			_ = os.Remove(j.path)
			continue
		}
		payload, err := json.Marshal(persistedCookie{Value: c.Value, Expires: c.Expires})
		if err != nil {
			continue
		}
		_ = os.WriteFile(j.path, payload, 0o600)
	}
}

func (j *persistentJar) Cookies(u *url.URL) []*http.Cookie {
	return j.inner.Cookies(u)
}

// restore loads the persisted refresh cookie back into the jar, dropping it
// when already expired.
func (j *persistentJar) restore() {
	data, err := os.ReadFile(j.path)
	if err != nil {
		return
	}
	var c persistedCookie
	if err := json.Unmarshal(data, &c); err != nil {
		_ = os.Remove(j.path)
		return
	}
	if !c.Expires.IsZero() && time.Now().After(c.Expires) {
		_ = os.Remove(j.path)
		return
	}
	j.inner.SetCookies(j.authURL, []*http.Cookie{{
		Name:    common.RefreshTokenCookieName,
		Value:   c.Value,
		Path:    "/api/auth",
		Expires: c.Expires,
	}})
}

// clear wipes both the in-memory cookie and the on-disk copy.
func (j *persistentJar) clear() {
	j.mu.Lock()
	defer j.mu.Unlock()
	inner, err := cookiejar.New(nil)
	if err == nil {
		j.inner = inner
	}
	_ = os.Remove(j.path)
}
