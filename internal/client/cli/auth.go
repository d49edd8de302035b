package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/taskhive/taskhive/internal/client/api"
	"github.com/taskhive/taskhive/internal/common"
)

// getSimpleText and getPassword are indirections used to facilitate testing.
// They point to interactive input helpers and can be swapped in tests.
var getSimpleText = GetSimpleText
var getPassword = GetPassword

// Register prompts for profile fields and a password and creates a new
// account. A successful registration signs the user in immediately: the
// server responds the same way as login, with an access token in the body
// and the refresh token in the cookie jar.
//
// The password byte slice is wiped before returning.
func (a *App) Register(ctx context.Context) error {
	email, err := getSimpleText(a.reader, "Enter email", os.Stdout)
	if err != nil {
		return err
	}
	firstName, err := getSimpleText(a.reader, "Enter first name", os.Stdout)
	if err != nil {
		return err
	}
	lastName, err := getSimpleText(a.reader, "Enter last name", os.Stdout)
	if err != nil {
		return err
	}

	password, err := getPassword(os.Stdout)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	res, err := a.api.Register(ctx, api.RegisterRequest{
		FirstName: firstName,
		LastName:  lastName,
		Email:     email,
		Password:  string(password),
	})
	if err != nil {
		printlnFn(fmt.Sprintf("Registration failed: %s", err.Error()))
		return err
	}

	a.session.Login(res.User, res.AccessToken)
	a.stopWatchdog()
	a.startWatchdog(ctx)
	printlnFn("Success!")
	return nil
}

// Login prompts for credentials and authenticates. On success the session
// machine holds the access token, the refresh token sits in the cookie jar,
// and the expiration watchdog starts.
//
// The password is wiped before returning.
func (a *App) Login(ctx context.Context) error {
	email, err := getSimpleText(a.reader, "Enter email", os.Stdout)
	if err != nil {
		return err
	}

	password, err := getPassword(os.Stdout)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	res, err := a.api.Login(ctx, email, string(password))
	if err != nil {
		printlnFn(fmt.Sprintf("Login failed: %s", err.Error()))
		return err
	}

	a.session.Login(res.User, res.AccessToken)
	// a previous session's watchdog would keep its dialog latch; each
	// login gets a fresh one
	a.stopWatchdog()
	a.startWatchdog(ctx)
	printlnFn(fmt.Sprintf("Logged in as %s", res.User.Email))
	return nil
}

// Logout revokes the refresh token on the server, clears the cookie jar and
// the local session, and winds the watchdog down. While the watchdog runs
// the request goes through its event loop, so revocation and local teardown
// happen on the same guarded terminal path the countdown uses. Local state
// is cleared even when the server call fails.
func (a *App) Logout(ctx context.Context) error {
	if !a.isLoggedIn() {
		printlnFn("Not logged in.")
		return nil
	}

	a.mu.Lock()
	wd := a.watchdog
	a.mu.Unlock()

	if wd != nil {
		wd.RequestLogout()
		select {
		case <-wd.Done():
		case <-time.After(2 * time.Second):
		}
		a.clearWatchdog()
	}

	// idempotent: a no-op when the watchdog's terminal path already revoked,
	// and the only revocation when no watchdog was running
	err := a.api.Logout(ctx)
	a.session.Logout()

	if err != nil {
		printlnFn(fmt.Sprintf("Server logout failed: %s (local session cleared)", err.Error()))
		return err
	}
	printlnFn("Logged out.")
	return nil
}
