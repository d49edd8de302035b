package session

import (
	"context"
	"time"

	"github.com/taskhive/taskhive/internal/client/api"
	"github.com/taskhive/taskhive/internal/logging"
)

// Presenter is the UI surface for the expiration dialog. The watchdog calls
// it from its event loop; user actions come back in through Extend and
// RequestLogout.
type Presenter interface {
	// Open shows the dialog with the remaining seconds.
	Open(remainingSeconds int)
	// Tick updates the live countdown while the dialog is open.
	Tick(remainingSeconds int)
	// Close dismisses the dialog.
	Close()
}

// StatusFunc polls the server for the authoritative session status.
type StatusFunc func(ctx context.Context) (*api.Status, error)

// Options configures a Watchdog.
type Options struct {
	// CountdownSeconds is how many seconds before refresh-token expiry the
	// dialog opens.
	CountdownSeconds int
	// PollInterval is the cadence of the authoritative status poll.
	PollInterval time.Duration
	// RenewMargin is how close to access-token expiry a silent refresh runs.
	RenewMargin time.Duration
	// OnTerminated fires exactly once after a timeout/forced logout, so the
	// app can navigate away and notify the user.
	OnTerminated func()
}

type eventKind int

const (
	evTick eventKind = iota
	evPoll
	evExtend
	evLogoutRequest
	evRefreshDone
	evExtendDone
)

// event is the single funnel for everything that can move the watchdog:
// local ticks, poll results, user actions, and async call completions.
// Serializing them through one loop turns the "already fired" flags into
// plain guards on state transitions.
type event struct {
	kind   eventKind
	status *api.Status
	err    error
	ok     bool
}

// Watchdog tracks the remaining refresh-token lifetime with two clocks: a
// local 1-second countdown that never starves, and a periodic authoritative
// poll that overwrites the local value when they disagree by more than a
// second. It opens the expiration dialog at most once per
// approach-to-expiry and guarantees a single terminal transition.
//
// A Watchdog is single-use: it is started after login and stopped at
// logout. A fresh login gets a fresh Watchdog, which is what resets the
// dialog latch.
type Watchdog struct {
	mgr       *Manager
	status    StatusFunc
	presenter Presenter
	logger    logging.Logger
	opts      Options

	events chan event
	stop   chan struct{}
	done   chan struct{}

	// Event-loop state. Touched only from Run's goroutine.
	remaining       int
	known           bool
	dialogShown     bool // latch: at most one dialog per approach-to-expiry
	dialogOpen      bool
	timeoutFired    bool // latch: at most one terminal transition
	userRequested   bool // terminal transition was an explicit user logout
	extendInFlight  bool
	extendPending   bool // extend collided with a refresh, retry when it lands
	refreshInFlight bool
}

// NewWatchdog constructs a Watchdog. It does nothing until Run is called.
func NewWatchdog(mgr *Manager, status StatusFunc, presenter Presenter, logger logging.Logger, opts Options) *Watchdog {
	return &Watchdog{
		mgr:       mgr,
		status:    status,
		presenter: presenter,
		logger:    logger,
		opts:      opts,
		events:    make(chan event, 16),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Extend posts a user-initiated extension request.
func (w *Watchdog) Extend() {
	w.post(event{kind: evExtend})
}

// RequestLogout posts an explicit user logout. It takes the same guarded
// terminal path as a timeout, including server-side revocation, but skips
// the OnTerminated notification: the user asked for this. Callers wait on
// Done to know the loop has wound down.
func (w *Watchdog) RequestLogout() {
	w.post(event{kind: evLogoutRequest})
}

// Done is closed when Run returns.
func (w *Watchdog) Done() <-chan struct{} {
	return w.done
}

// Stop tears the watchdog down without a terminal transition (app exit,
// explicit REPL logout). Safe to call more than once.
func (w *Watchdog) Stop() {
	select {
	case <-w.stop:
	default:
		close(w.stop)
	}
}

func (w *Watchdog) post(e event) {
	select {
	case w.events <- e:
	case <-w.stop:
	}
}

// Run drives the event loop until a terminal transition, Stop, or ctx
// cancellation. It blocks; callers run it in a goroutine.
func (w *Watchdog) Run(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	poller := time.NewTicker(w.opts.PollInterval)
	defer poller.Stop()

	// Prime the countdown so the first dialog decision does not wait a full
	// poll interval.
	go w.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			w.handle(ctx, event{kind: evTick})
		case <-poller.C:
			go w.poll(ctx)
		case e := <-w.events:
			w.handle(ctx, e)
		}

		if w.timeoutFired {
			return
		}
	}
}

func (w *Watchdog) poll(ctx context.Context) {
	pollCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	st, err := w.status(pollCtx)
	w.post(event{kind: evPoll, status: st, err: err})
}

// handle applies one event. It is the only place state changes, so the
// latches below are race-free by construction.
func (w *Watchdog) handle(ctx context.Context, e event) {
	if w.timeoutFired {
		return
	}

	switch e.kind {
	case evTick:
		if w.known && w.remaining > 0 {
			w.remaining--
		}
		w.maybeSilentRefresh(ctx)
		w.evaluate()

	case evPoll:
		if e.err != nil {
			// transient: keep the local countdown, retry on the next tick
			w.logger.Debug(ctx, "status poll failed", "error", e.err)
			return
		}
		if !e.status.IsValid {
			w.timeout(ctx)
			return
		}
		if !w.known || abs(e.status.TimeRemaining-w.remaining) > 1 {
			w.remaining = e.status.TimeRemaining
			w.known = true
		}
		w.evaluate()

	case evExtend:
		if w.extendInFlight {
			return
		}
		w.extendInFlight = true
		go func() {
			extendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			ok, err := w.mgr.Extend(extendCtx)
			w.post(event{kind: evExtendDone, ok: ok, err: err})
		}()

	case evExtendDone:
		w.extendInFlight = false
		if !e.ok {
			if e.err == nil {
				// lost the single-flight race against a silent refresh, so
				// no rotation ran; retry once that refresh completes
				w.extendPending = true
				return
			}
			// a failed extension leaves nothing to trust
			w.timeout(ctx)
			return
		}
		// resync with the server before trusting any countdown again; the
		// rotated token's fresh window arrives with the next poll
		w.known = false
		w.dialogShown = false
		w.closeDialog()
		go w.poll(ctx)

	case evLogoutRequest:
		w.userRequested = true
		w.timeout(ctx)

	case evRefreshDone:
		w.refreshInFlight = false
		if !e.ok && IsFatalSessionError(e.err) {
			w.timeout(ctx)
			return
		}
		if w.extendPending {
			w.extendPending = false
			w.post(event{kind: evExtend})
		}
	}
}

// evaluate inspects the countdown and drives the dialog.
func (w *Watchdog) evaluate() {
	if w.timeoutFired || !w.known {
		return
	}

	if w.remaining <= 0 {
		w.timeout(context.Background())
		return
	}

	if w.remaining <= w.opts.CountdownSeconds && !w.dialogShown {
		w.dialogShown = true
		w.dialogOpen = true
		w.mgr.setPendingExpiry(true)
		w.presenter.Open(w.remaining)
		return
	}

	if w.dialogOpen {
		w.presenter.Tick(w.remaining)
	}
}

// maybeSilentRefresh renews the access token in the background when its own
// short TTL nears, independent of the refresh-token countdown. It stays
// quiet while the dialog is open to avoid racing an in-flight extend.
func (w *Watchdog) maybeSilentRefresh(ctx context.Context) {
	if w.dialogOpen || w.refreshInFlight {
		return
	}
	if w.mgr.State() == StateAnonymous || w.mgr.AccessToken() == "" {
		return
	}
	if w.mgr.AccessTokenRemaining() >= w.opts.RenewMargin {
		return
	}

	w.refreshInFlight = true
	go func() {
		refreshCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		ok, err := w.mgr.Refresh(refreshCtx)
		w.post(event{kind: evRefreshDone, ok: ok, err: err})
	}()
}

// timeout executes the terminal transition: close dialog, revoke the server
// record, log out locally, notify. The latch makes the 1-second timer, the
// poll path, and an explicit user logout collapse into exactly one
// execution.
func (w *Watchdog) timeout(ctx context.Context) {
	if w.timeoutFired {
		return
	}
	w.timeoutFired = true

	w.closeDialog()

	// best effort, detached from ctx: the loop is about to exit and may
	// take its context with it
	go func() {
		revokeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		w.mgr.revokeRemote(revokeCtx)
	}()

	w.mgr.Logout()
	w.logger.Info(ctx, "session ended")

	if w.opts.OnTerminated != nil && !w.userRequested {
		w.opts.OnTerminated()
	}
}

func (w *Watchdog) closeDialog() {
	if !w.dialogOpen {
		return
	}
	w.dialogOpen = false
	w.mgr.setPendingExpiry(false)
	w.presenter.Close()
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
