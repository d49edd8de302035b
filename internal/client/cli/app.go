package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/taskhive/taskhive/internal/client/api"
	"github.com/taskhive/taskhive/internal/client/config"
	"github.com/taskhive/taskhive/internal/client/session"
	"github.com/taskhive/taskhive/internal/logging"
)

// App wires the HTTP API client, the session state machine, and the
// expiration watchdog behind the REPL commands.
type App struct {
	config  *config.Config
	logger  logging.Logger
	api     *api.Client
	session *session.Manager
	reader  *bufio.Reader

	mu       sync.Mutex
	watchdog *session.Watchdog
	wdCancel context.CancelFunc
}

func NewApp(cfg *config.Config, logger logging.Logger) (*App, error) {
	stateDir, err := resolveStateDir(cfg.StateDir)
	if err != nil {
		return nil, err
	}

	apiClient, err := api.NewClient(cfg.ServerBaseURL, stateDir)
	if err != nil {
		return nil, err
	}

	mgr := session.NewManager(apiClient, stateDir, logger)
	// requests always carry the freshest token, including ones installed
	// by a background refresh
	apiClient.SetAccessTokenSource(mgr.AccessToken)

	return &App{
		config:  cfg,
		logger:  logger,
		api:     apiClient,
		session: mgr,
		reader:  bufio.NewReader(os.Stdin),
	}, nil
}

func resolveStateDir(dir string) (string, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, ".taskhive")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

// Run tries to resume a persisted session, then blocks in the REPL until
// the user exits.
func (a *App) Run(ctx context.Context) {
	printlnFn("Welcome to TaskHive CLI (type 'help' for commands)")

	if a.session.HasStoredProfile() && a.api.HasPersistedRefreshCookie() {
		if a.session.Resume(ctx) {
			printlnFn(fmt.Sprintf("Welcome back, %s!", a.session.Profile().Email))
			a.startWatchdog(ctx)
		} else {
			printlnFn("Stored session has expired, please log in again.")
		}
	}

	runREPL(ctx, a, a.status, bufio.NewScanner(os.Stdin))
	a.stopWatchdog()
}

func (a *App) isLoggedIn() bool {
	return a.session.State() != session.StateAnonymous
}

func (a *App) status() string {
	p := a.session.Profile()
	if p == nil {
		return ""
	}
	s := p.Email
	if a.session.State() == session.StatePendingExpiry {
		s += " expiring!"
	}
	return fmt.Sprintf("(%s) ", s)
}

// startWatchdog launches a fresh watchdog for the current session. The per
// login instance is what resets the one-dialog-per-session latch.
func (a *App) startWatchdog(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.watchdog != nil {
		return
	}

	wdCtx, cancel := context.WithCancel(ctx)
	wd := session.NewWatchdog(a.session, a.api.Status, &terminalDialog{}, a.logger, session.Options{
		CountdownSeconds: a.config.DialogCountdownSeconds,
		PollInterval:     a.config.StatusPollInterval,
		RenewMargin:      a.config.AccessRenewMargin,
		OnTerminated: func() {
			printlnFn("Your session has ended. Please log in again.")
			a.clearWatchdog()
		},
	})

	a.watchdog = wd
	a.wdCancel = cancel
	go wd.Run(wdCtx)
}

func (a *App) stopWatchdog() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.watchdog == nil {
		return
	}
	a.watchdog.Stop()
	a.wdCancel()
	a.watchdog = nil
	a.wdCancel = nil
}

// clearWatchdog drops the reference after the watchdog terminated itself.
func (a *App) clearWatchdog() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.watchdog = nil
	if a.wdCancel != nil {
		a.wdCancel()
		a.wdCancel = nil
	}
}

// Whoami prints the current user and the authoritative session status.
func (a *App) Whoami(ctx context.Context) error {
	p := a.session.Profile()
	if p == nil {
		printlnFn("Not logged in.")
		return nil
	}

	printlnFn(fmt.Sprintf("%s %s <%s> role=%s", p.FirstName, p.LastName, p.Email, p.Role))
	printlnFn(fmt.Sprintf("State: %s", a.session.State()))

	st, err := a.api.Status(ctx)
	if err != nil {
		printlnFn(fmt.Sprintf("Status check failed: %s", err.Error()))
		return err
	}
	if !st.IsValid {
		printlnFn("Session is no longer valid on the server.")
		return nil
	}
	printlnFn(fmt.Sprintf("Session expires in %s", (time.Duration(st.TimeRemaining) * time.Second).String()))
	return nil
}

// Extend pushes the session expiry a full refresh window into the future.
// While the watchdog runs, the request goes through its event loop so the
// expiration dialog closes and the countdown resyncs.
func (a *App) Extend(ctx context.Context) error {
	if !a.isLoggedIn() {
		printlnFn("Not logged in.")
		return nil
	}

	a.mu.Lock()
	wd := a.watchdog
	a.mu.Unlock()

	if wd != nil {
		wd.Extend()
		printlnFn("Extension requested.")
		return nil
	}

	ok, err := a.session.Extend(ctx)
	if !ok {
		printlnFn("Extension failed.")
		return err
	}
	printlnFn("Session extended.")
	return nil
}
