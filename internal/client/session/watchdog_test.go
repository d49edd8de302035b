package session

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskhive/taskhive/internal/client/api"
	"github.com/taskhive/taskhive/internal/common"
)

type recordingPresenter struct {
	opens  []int
	ticks  []int
	closes int
}

func (p *recordingPresenter) Open(remaining int) { p.opens = append(p.opens, remaining) }
func (p *recordingPresenter) Tick(remaining int) { p.ticks = append(p.ticks, remaining) }
func (p *recordingPresenter) Close()             { p.closes++ }

func staticStatus(remaining int) StatusFunc {
	return func(context.Context) (*api.Status, error) {
		return &api.Status{IsValid: true, TimeRemaining: remaining}, nil
	}
}

type watchdogFixture struct {
	wd         *Watchdog
	mgr        *Manager
	api        *fakeAPI
	presenter  *recordingPresenter
	terminated *atomic.Int32
}

func newWatchdogFixture(t *testing.T, f *fakeAPI, status StatusFunc) *watchdogFixture {
	t.Helper()

	mgr, _ := newTestManager(t, f)
	presenter := &recordingPresenter{}
	terminated := &atomic.Int32{}

	wd := NewWatchdog(mgr, status, presenter, testLogger(), Options{
		CountdownSeconds: 600,
		PollInterval:     2 * time.Second,
		RenewMargin:      time.Minute,
		OnTerminated:     func() { terminated.Add(1) },
	})
	return &watchdogFixture{wd: wd, mgr: mgr, api: f, presenter: presenter, terminated: terminated}
}

// nextEvent receives the event an async watchdog action posted.
func nextEvent(t *testing.T, w *Watchdog) event {
	t.Helper()
	select {
	case e := <-w.events:
		return e
	case <-time.After(time.Second):
		t.Fatal("no event arrived")
		return event{}
	}
}

func pollResult(remaining int) event {
	return event{kind: evPoll, status: &api.Status{IsValid: true, TimeRemaining: remaining}}
}

func TestWatchdogDialogOpensOnce(t *testing.T) {
	f := &fakeAPI{t: t, tokenTTL: time.Hour}
	fx := newWatchdogFixture(t, f, staticStatus(300))
	fx.mgr.Login(api.UserProfile{Email: "ann@example.com"}, signedToken(t, time.Hour))
	ctx := context.Background()

	fx.wd.handle(ctx, pollResult(300))
	assert.Equal(t, []int{300}, fx.presenter.opens)
	assert.Equal(t, StatePendingExpiry, fx.mgr.State())

	fx.wd.handle(ctx, event{kind: evTick})
	fx.wd.handle(ctx, event{kind: evTick})
	assert.Equal(t, []int{299, 298}, fx.presenter.ticks)

	// a fresh authoritative value updates the countdown but never reopens
	fx.wd.handle(ctx, pollResult(310))
	assert.Len(t, fx.presenter.opens, 1)
	assert.Equal(t, 310, fx.wd.remaining)
}

func TestWatchdogNoDialogFarFromExpiry(t *testing.T) {
	f := &fakeAPI{t: t, tokenTTL: time.Hour}
	fx := newWatchdogFixture(t, f, staticStatus(5000))
	fx.mgr.Login(api.UserProfile{Email: "ann@example.com"}, signedToken(t, time.Hour))
	ctx := context.Background()

	fx.wd.handle(ctx, pollResult(5000))
	fx.wd.handle(ctx, event{kind: evTick})

	assert.Empty(t, fx.presenter.opens)
	assert.Equal(t, StateAuthenticated, fx.mgr.State())
}

func TestWatchdogTimeoutFiresOnce(t *testing.T) {
	f := &fakeAPI{t: t, tokenTTL: time.Hour}
	fx := newWatchdogFixture(t, f, staticStatus(1))
	fx.mgr.Login(api.UserProfile{Email: "ann@example.com"}, signedToken(t, time.Hour))
	ctx := context.Background()

	fx.wd.handle(ctx, pollResult(1))
	require.Len(t, fx.presenter.opens, 1)

	// the local tick and a poll reporting the session dead land in the
	// same window; the latch collapses them into one logout
	fx.wd.handle(ctx, event{kind: evTick})
	fx.wd.handle(ctx, event{kind: evPoll, status: &api.Status{IsValid: false}})
	fx.wd.handle(ctx, event{kind: evTick})

	assert.Equal(t, int32(1), fx.terminated.Load())
	assert.Equal(t, 1, fx.presenter.closes)
	assert.Equal(t, StateAnonymous, fx.mgr.State())

	// server-side record is revoked exactly once, in the background
	require.Eventually(t, func() bool { return f.logouts() == 1 }, time.Second, time.Millisecond)
}

func TestWatchdogPollInvalidForcesLogout(t *testing.T) {
	f := &fakeAPI{t: t, tokenTTL: time.Hour}
	fx := newWatchdogFixture(t, f, staticStatus(0))
	fx.mgr.Login(api.UserProfile{Email: "ann@example.com"}, signedToken(t, time.Hour))
	ctx := context.Background()

	fx.wd.handle(ctx, event{kind: evPoll, status: &api.Status{IsValid: false}})

	assert.Equal(t, int32(1), fx.terminated.Load())
	assert.Equal(t, StateAnonymous, fx.mgr.State())
}

func TestWatchdogPollErrorKeepsLocalCountdown(t *testing.T) {
	f := &fakeAPI{t: t, tokenTTL: time.Hour}
	fx := newWatchdogFixture(t, f, staticStatus(100))
	fx.mgr.Login(api.UserProfile{Email: "ann@example.com"}, signedToken(t, time.Hour))
	ctx := context.Background()

	fx.wd.handle(ctx, pollResult(100))
	fx.wd.handle(ctx, event{kind: evPoll, err: errors.New("connection refused")})
	fx.wd.handle(ctx, event{kind: evTick})

	assert.Equal(t, 99, fx.wd.remaining)
	assert.Equal(t, int32(0), fx.terminated.Load())
}

func TestWatchdogReconciliationTolerance(t *testing.T) {
	f := &fakeAPI{t: t, tokenTTL: time.Hour}
	fx := newWatchdogFixture(t, f, staticStatus(5000))
	fx.mgr.Login(api.UserProfile{Email: "ann@example.com"}, signedToken(t, time.Hour))
	ctx := context.Background()

	fx.wd.handle(ctx, pollResult(5000))
	assert.Equal(t, 5000, fx.wd.remaining)

	// within a second of drift the local clock wins
	fx.wd.handle(ctx, pollResult(5001))
	assert.Equal(t, 5000, fx.wd.remaining)

	// beyond it the server is authoritative
	fx.wd.handle(ctx, pollResult(5003))
	assert.Equal(t, 5003, fx.wd.remaining)
}

func TestWatchdogExtendClosesDialog(t *testing.T) {
	f := &fakeAPI{t: t, tokenTTL: time.Hour}
	fx := newWatchdogFixture(t, f, staticStatus(604800))
	fx.mgr.Login(api.UserProfile{Email: "ann@example.com"}, signedToken(t, time.Hour))
	ctx := context.Background()

	fx.wd.handle(ctx, pollResult(120))
	require.Len(t, fx.presenter.opens, 1)

	fx.wd.handle(ctx, event{kind: evExtend})
	done := nextEvent(t, fx.wd)
	require.Equal(t, evExtendDone, done.kind)
	require.True(t, done.ok)
	fx.wd.handle(ctx, done)

	assert.Equal(t, 1, fx.presenter.closes)
	assert.Equal(t, StateAuthenticated, fx.mgr.State())
	assert.Equal(t, 1, f.extendCalls)

	// the follow-up poll restores the countdown with the new window and
	// the dialog may open again on the next approach
	resync := nextEvent(t, fx.wd)
	require.Equal(t, evPoll, resync.kind)
	fx.wd.handle(ctx, resync)
	assert.Equal(t, 604800, fx.wd.remaining)
	assert.Len(t, fx.presenter.opens, 1)
	assert.False(t, fx.wd.dialogShown)
}

func TestWatchdogExtendFailureForcesLogout(t *testing.T) {
	f := &fakeAPI{t: t, refreshErr: common.ErrTokenExpired}
	fx := newWatchdogFixture(t, f, staticStatus(120))
	fx.mgr.Login(api.UserProfile{Email: "ann@example.com"}, signedToken(t, time.Hour))
	ctx := context.Background()

	fx.wd.handle(ctx, pollResult(120))
	fx.wd.handle(ctx, event{kind: evExtend})

	done := nextEvent(t, fx.wd)
	require.Equal(t, evExtendDone, done.kind)
	require.False(t, done.ok)
	fx.wd.handle(ctx, done)

	assert.Equal(t, int32(1), fx.terminated.Load())
	assert.Equal(t, 1, fx.presenter.closes)
	assert.Equal(t, StateAnonymous, fx.mgr.State())
}

func TestWatchdogSilentRefresh(t *testing.T) {
	f := &fakeAPI{t: t, tokenTTL: time.Hour}
	fx := newWatchdogFixture(t, f, staticStatus(5000))
	// access token about to lapse, well inside the renew margin
	fx.mgr.Login(api.UserProfile{Email: "ann@example.com"}, signedToken(t, 10*time.Second))
	ctx := context.Background()

	fx.wd.handle(ctx, pollResult(5000))
	fx.wd.handle(ctx, event{kind: evTick})

	done := nextEvent(t, fx.wd)
	require.Equal(t, evRefreshDone, done.kind)
	require.True(t, done.ok)
	fx.wd.handle(ctx, done)

	assert.Equal(t, 1, f.calls())
	assert.Greater(t, fx.mgr.AccessTokenRemaining(), time.Minute)

	// renewed token is outside the margin now, no second refresh
	fx.wd.handle(ctx, event{kind: evTick})
	assert.Equal(t, 1, f.calls())
	assert.Empty(t, fx.presenter.opens)
}

func TestWatchdogSilentRefreshFatalError(t *testing.T) {
	f := &fakeAPI{t: t, refreshErr: common.ErrInvalidToken}
	fx := newWatchdogFixture(t, f, staticStatus(5000))
	fx.mgr.Login(api.UserProfile{Email: "ann@example.com"}, signedToken(t, 10*time.Second))
	ctx := context.Background()

	fx.wd.handle(ctx, pollResult(5000))
	fx.wd.handle(ctx, event{kind: evTick})

	done := nextEvent(t, fx.wd)
	require.Equal(t, evRefreshDone, done.kind)
	fx.wd.handle(ctx, done)

	assert.Equal(t, int32(1), fx.terminated.Load())
	assert.Equal(t, StateAnonymous, fx.mgr.State())
}

func TestWatchdogUserLogoutRequest(t *testing.T) {
	f := &fakeAPI{t: t, tokenTTL: time.Hour}
	fx := newWatchdogFixture(t, f, staticStatus(120))
	fx.mgr.Login(api.UserProfile{Email: "ann@example.com"}, signedToken(t, time.Hour))
	ctx := context.Background()

	fx.wd.handle(ctx, pollResult(120))
	fx.wd.handle(ctx, event{kind: evLogoutRequest})
	fx.wd.handle(ctx, event{kind: evLogoutRequest})

	// the user asked for this: teardown and revocation run, but no
	// session-ended notification
	assert.Equal(t, int32(0), fx.terminated.Load())
	assert.Equal(t, 1, fx.presenter.closes)
	assert.Equal(t, StateAnonymous, fx.mgr.State())
	require.Eventually(t, func() bool { return f.logouts() == 1 }, time.Second, time.Millisecond)
}

func TestWatchdogExtendDuringSilentRefresh(t *testing.T) {
	release := make(chan struct{})
	f := &fakeAPI{t: t, tokenTTL: time.Hour, release: release}
	fx := newWatchdogFixture(t, f, staticStatus(5000))
	fx.mgr.Login(api.UserProfile{Email: "ann@example.com"}, signedToken(t, 10*time.Second))
	ctx := context.Background()

	// a silent refresh starts and parks inside the API call
	fx.wd.handle(ctx, pollResult(5000))
	fx.wd.handle(ctx, event{kind: evTick})
	require.Eventually(t, func() bool { return f.calls() == 1 }, time.Second, time.Millisecond)

	// the countdown collapses and the user clicks extend while the refresh
	// is still in flight
	fx.wd.handle(ctx, pollResult(120))
	require.Len(t, fx.presenter.opens, 1)
	fx.wd.handle(ctx, event{kind: evExtend})

	suppressed := nextEvent(t, fx.wd)
	require.Equal(t, evExtendDone, suppressed.kind)
	require.False(t, suppressed.ok)
	require.NoError(t, suppressed.err)
	fx.wd.handle(ctx, suppressed)

	// no rotation ran on the user's behalf yet: the dialog must stay open
	assert.Equal(t, 0, fx.presenter.closes)
	assert.Equal(t, int32(0), fx.terminated.Load())

	// once the refresh lands, the extension is replayed and succeeds
	close(release)
	refreshed := nextEvent(t, fx.wd)
	require.Equal(t, evRefreshDone, refreshed.kind)
	fx.wd.handle(ctx, refreshed)

	replay := nextEvent(t, fx.wd)
	require.Equal(t, evExtend, replay.kind)
	fx.wd.handle(ctx, replay)

	done := nextEvent(t, fx.wd)
	require.Equal(t, evExtendDone, done.kind)
	require.True(t, done.ok)
	fx.wd.handle(ctx, done)

	assert.Equal(t, 1, fx.presenter.closes)
	assert.Equal(t, 1, f.extendCalls)
	assert.Equal(t, int32(0), fx.terminated.Load())
}

func TestWatchdogRequestLogoutEndsRun(t *testing.T) {
	f := &fakeAPI{t: t, tokenTTL: time.Hour}
	fx := newWatchdogFixture(t, f, staticStatus(5000))
	fx.mgr.Login(api.UserProfile{Email: "ann@example.com"}, signedToken(t, time.Hour))

	go fx.wd.Run(context.Background())
	fx.wd.RequestLogout()

	select {
	case <-fx.wd.Done():
	case <-time.After(time.Second):
		t.Fatal("watchdog did not wind down")
	}
	assert.Equal(t, StateAnonymous, fx.mgr.State())
	assert.Equal(t, int32(0), fx.terminated.Load())
}

func TestWatchdogRunStops(t *testing.T) {
	f := &fakeAPI{t: t, tokenTTL: time.Hour}
	fx := newWatchdogFixture(t, f, staticStatus(5000))
	fx.mgr.Login(api.UserProfile{Email: "ann@example.com"}, signedToken(t, time.Hour))

	done := make(chan struct{})
	go func() {
		defer close(done)
		fx.wd.Run(context.Background())
	}()

	fx.wd.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watchdog did not stop")
	}
}
