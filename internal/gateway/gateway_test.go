package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giok57/lazoooSplash/internal/clock"
	"github.com/giok57/lazoooSplash/internal/firewall"
	"github.com/giok57/lazoooSplash/internal/network"
	"github.com/giok57/lazoooSplash/internal/session"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeNotifier struct {
	mu     sync.Mutex
	tokens []string
	err    error
}

func (f *fakeNotifier) UserInactive(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, token)
	return f.err
}

func (f *fakeNotifier) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.tokens...)
}

type fakeRecorder struct {
	mu      sync.Mutex
	reasons []string
}

func (f *fakeRecorder) RecordSessionEnd(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reasons = append(f.reasons, reason)
}

type harness struct {
	gw       *Gateway
	backend  *firewall.MockBackend
	clock    *clock.MockClock
	notifier *fakeNotifier
	recorder *fakeRecorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithBackend(t, firewall.NewMockBackend().Permissive())
}

func newHarnessWithBackend(t *testing.T, backend *firewall.MockBackend) *harness {
	t.Helper()
	clk := clock.NewMockClock(epoch)
	reg := session.NewRegistry(session.WithClock(clk))
	h := &harness{
		backend:  backend,
		clock:    clk,
		notifier: &fakeNotifier{},
		recorder: &fakeRecorder{},
	}
	n := 0
	h.gw = New(reg, firewall.NewSynchronizer(backend), Timeouts{
		Idle:           10 * time.Minute,
		DefaultSession: 24 * time.Hour,
		ReapAfter:      5 * time.Minute,
	},
		WithClock(clk),
		WithNotifier(h.notifier),
		WithRecorder(h.recorder),
		WithTokenGenerator(func() string {
			n++
			return "local-" + string(rune('a'+n-1))
		}),
	)
	return h
}

func (h *harness) seed(t *testing.T, mac, ip, token string) {
	t.Helper()
	require.NoError(t, h.gw.Registry().Insert(session.Session{MAC: mac, IP: ip, Token: token}))
}

func TestConnect_AuthenticatesAndGrantsOnce(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "aa:bb:cc:00:00:01", "10.0.0.5", "tok1")

	require.NoError(t, h.gw.Connect("tok1", 3600, 1000))

	s, ok := h.gw.Registry().FindByToken("tok1")
	require.True(t, ok)
	assert.Equal(t, session.Authenticated, s.State)
	assert.Equal(t, session.Quota{Seconds: 3600, BandwidthKbps: 1000}, s.Quota)
	h.backend.AssertNumberOfCalls(t, "Allow", 1)
	assert.Equal(t, []string{"10.0.0.5"}, h.backend.Authorized())

	// Re-delivery is idempotent.
	require.NoError(t, h.gw.Connect("tok1", 3600, 1000))
	h.backend.AssertNumberOfCalls(t, "Allow", 1)
}

func TestConnect_UnknownTokenIsNoop(t *testing.T) {
	h := newHarness(t)

	err := h.gw.Connect("nope", 60, 0)
	assert.ErrorIs(t, err, ErrUnknownToken)
	assert.Empty(t, h.gw.Registry().Snapshot())
	h.backend.AssertNotCalled(t, "Allow", "10.0.0.5")
	h.backend.AssertNumberOfCalls(t, "Allow", 0)
}

func TestDisconnectThenConnect_LastWriteWins(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "aa:bb:cc:00:00:01", "10.0.0.5", "x")
	require.NoError(t, h.gw.Connect("x", 60, 0))

	require.NoError(t, h.gw.Disconnect("x"))
	s, _ := h.gw.Registry().FindByToken("x")
	assert.Equal(t, session.Deauthenticated, s.State)
	assert.Empty(t, h.backend.Authorized())

	require.NoError(t, h.gw.Connect("x", 120, 0))
	s, _ = h.gw.Registry().FindByToken("x")
	assert.Equal(t, session.Authenticated, s.State)
	assert.Equal(t, int64(120), s.Quota.Seconds)
	assert.Equal(t, []string{"10.0.0.5"}, h.backend.Authorized())
}

func TestDisconnect(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "aa:bb:cc:00:00:01", "10.0.0.5", "tok")

	assert.ErrorIs(t, h.gw.Disconnect("other"), ErrUnknownToken)

	// An unauthenticated session ends without touching the filter.
	require.NoError(t, h.gw.Disconnect("tok"))
	h.backend.AssertNumberOfCalls(t, "Disallow", 0)

	// Disconnecting twice is a no-op.
	require.NoError(t, h.gw.Disconnect("tok"))
	assert.Equal(t, []string{ReasonRemote}, h.recorder.reasons)
}

// login runs the local splash flow for mac.
func (h *harness) login(t *testing.T, mac, ip string) session.Session {
	t.Helper()
	s, err := h.gw.OnClientSeen(mac, ip)
	require.NoError(t, err)
	require.NoError(t, h.gw.OnClientAuthenticated(s.MAC, ip, s.Token, session.Quota{}))
	s, _ = h.gw.Registry().Find(s.MAC)
	return s
}

func TestOnClientSeen(t *testing.T) {
	h := newHarness(t)

	s, err := h.gw.OnClientSeen("AA:BB:CC:00:00:01", "10.0.0.5")
	require.NoError(t, err)
	assert.Equal(t, "aa:bb:cc:00:00:01", s.MAC)
	assert.Equal(t, session.Unauthenticated, s.State)
	assert.Equal(t, "local-a", s.Token)

	// Seeing the client again keeps its token.
	again, err := h.gw.OnClientSeen("aa:bb:cc:00:00:01", "10.0.0.5")
	require.NoError(t, err)
	assert.Equal(t, s.Token, again.Token)
}

func TestOnClientSeen_MovesRuleWithAddress(t *testing.T) {
	h := newHarness(t)
	h.login(t, "aa:bb:cc:00:00:01", "10.0.0.5")
	assert.Equal(t, []string{"10.0.0.5"}, h.backend.Authorized())

	s, err := h.gw.OnClientSeen("aa:bb:cc:00:00:01", "10.0.0.9")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.9", s.IP)
	assert.Equal(t, []string{"10.0.0.9"}, h.backend.Authorized())
}

func TestOnClientAuthenticated(t *testing.T) {
	h := newHarness(t)
	s, err := h.gw.OnClientSeen("aa:bb:cc:00:00:01", "10.0.0.5")
	require.NoError(t, err)

	err = h.gw.OnClientAuthenticated(s.MAC, s.IP, "forged", session.Quota{})
	assert.ErrorIs(t, err, ErrTokenMismatch)
	assert.Empty(t, h.backend.Authorized())

	err = h.gw.OnClientAuthenticated(s.MAC, s.IP, "", session.Quota{})
	assert.ErrorIs(t, err, ErrTokenMismatch)

	require.NoError(t, h.gw.OnClientAuthenticated(s.MAC, s.IP, s.Token, session.Quota{Seconds: 600}))
	got, _ := h.gw.Registry().Find(s.MAC)
	assert.Equal(t, session.Authenticated, got.State)
	assert.Equal(t, []string{"10.0.0.5"}, h.backend.Authorized())
}

func TestOnClientAuthenticated_RequiresIssuedSession(t *testing.T) {
	h := newHarness(t)

	// Never seen by the portal.
	err := h.gw.OnClientAuthenticated("aa:bb:cc:00:00:09", "10.0.0.9", "made-up", session.Quota{})
	assert.ErrorIs(t, err, ErrUnknownToken)
	_, ok := h.gw.Registry().Find("aa:bb:cc:00:00:09")
	assert.False(t, ok, "no session is created")

	// Denied: the old token no longer opens the gate.
	s, err := h.gw.OnClientSeen("aa:bb:cc:00:00:01", "10.0.0.5")
	require.NoError(t, err)
	require.NoError(t, h.gw.OnClientDenied(s.MAC))
	err = h.gw.OnClientAuthenticated(s.MAC, s.IP, s.Token, session.Quota{})
	assert.ErrorIs(t, err, ErrUnknownToken)

	got, _ := h.gw.Registry().Find(s.MAC)
	assert.Equal(t, session.Deauthenticated, got.State)
	assert.Empty(t, h.backend.Authorized())
}

func TestOnClientDenied(t *testing.T) {
	h := newHarness(t)
	h.login(t, "aa:bb:cc:00:00:01", "10.0.0.5")

	require.NoError(t, h.gw.OnClientDenied("aa:bb:cc:00:00:01"))
	got, _ := h.gw.Registry().Find("aa:bb:cc:00:00:01")
	assert.Equal(t, session.Deauthenticated, got.State)
	assert.Empty(t, h.backend.Authorized())

	assert.ErrorIs(t, h.gw.OnClientDenied("aa:bb:cc:00:00:02"), session.ErrNotFound)
}

func TestConnect_GrantFailureKeepsStateForReconcile(t *testing.T) {
	backend := firewall.NewMockBackend()
	backend.On("Allow", "10.0.0.5").Return(errors.New("netlink busy")).Once()
	backend.Permissive()
	h := newHarnessWithBackend(t, backend)
	h.seed(t, "aa:bb:cc:00:00:01", "10.0.0.5", "tok")

	err := h.gw.Connect("tok", 60, 0)
	assert.ErrorContains(t, err, "netlink busy")
	s, _ := h.gw.Registry().FindByToken("tok")
	assert.Equal(t, session.Authenticated, s.State)
	assert.Empty(t, backend.Authorized())

	require.NoError(t, h.gw.Reconcile(context.Background()))
	assert.Equal(t, []string{"10.0.0.5"}, backend.Authorized())
}

func TestExpireIdle_RevokesExactlyOnce(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "aa:bb:cc:00:00:01", "10.0.0.5", "tok1")
	require.NoError(t, h.gw.Connect("tok1", 60, 0))

	h.clock.Advance(2 * time.Minute)
	ctx := context.Background()
	assert.Equal(t, 1, h.gw.ExpireIdle(ctx, h.clock.Now()))
	assert.Equal(t, 0, h.gw.ExpireIdle(ctx, h.clock.Now()))
	require.NoError(t, h.gw.Sweep(ctx))

	s, _ := h.gw.Registry().FindByToken("tok1")
	assert.Equal(t, session.Deauthenticated, s.State)
	h.backend.AssertNumberOfCalls(t, "Disallow", 1)
	assert.Equal(t, []string{"tok1"}, h.notifier.calls())
	assert.Equal(t, []string{ReasonSessionCap}, h.recorder.reasons)
}

func TestExpireIdle_IdleAndActive(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "aa:bb:cc:00:00:01", "10.0.0.5", "busy")
	h.seed(t, "aa:bb:cc:00:00:02", "10.0.0.6", "quiet")
	h.seed(t, "aa:bb:cc:00:00:03", "10.0.0.7", "")
	require.NoError(t, h.gw.Connect("busy", 0, 0))
	require.NoError(t, h.gw.Connect("quiet", 0, 0))

	h.clock.Advance(8 * time.Minute)
	h.gw.ObserveActivity("10.0.0.5", h.clock.Now())
	h.clock.Advance(5 * time.Minute)

	assert.Equal(t, 2, h.gw.ExpireIdle(context.Background(), h.clock.Now()))

	busy, _ := h.gw.Registry().FindByToken("busy")
	quiet, _ := h.gw.Registry().FindByToken("quiet")
	unauth, _ := h.gw.Registry().Find("aa:bb:cc:00:00:03")
	assert.Equal(t, session.Authenticated, busy.State)
	assert.Equal(t, session.Deauthenticated, quiet.State)
	assert.Equal(t, session.Deauthenticated, unauth.State)
	assert.Equal(t, []string{"10.0.0.5"}, h.backend.Authorized())
	assert.Equal(t, []string{"quiet"}, h.notifier.calls(), "unauthenticated clients are not reported")
}

func TestExpireIdle_NotifierErrorIsNotFatal(t *testing.T) {
	h := newHarness(t)
	h.notifier.err = errors.New("authority down")
	h.seed(t, "aa:bb:cc:00:00:01", "10.0.0.5", "tok")
	require.NoError(t, h.gw.Connect("tok", 0, 0))

	h.clock.Advance(11 * time.Minute)
	assert.Equal(t, 1, h.gw.ExpireIdle(context.Background(), h.clock.Now()))
}

func TestReap(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "aa:bb:cc:00:00:01", "10.0.0.5", "tok")
	require.NoError(t, h.gw.Disconnect("tok"))

	require.NoError(t, h.gw.Reap(context.Background()))
	assert.Len(t, h.gw.Registry().Snapshot(), 1)

	h.clock.Advance(6 * time.Minute)
	require.NoError(t, h.gw.Reap(context.Background()))
	assert.Empty(t, h.gw.Registry().Snapshot())
}

func TestRestore(t *testing.T) {
	h := newHarness(t)
	persisted := []session.Session{
		{MAC: "aa:bb:cc:00:00:01", IP: "10.0.0.5", Token: "a", State: session.Authenticated, AuthenticatedAt: epoch},
		{MAC: "aa:bb:cc:00:00:02", IP: "10.0.0.6", Token: "b", State: session.Unauthenticated},
		{MAC: "aa:bb:cc:00:00:03", IP: "10.0.0.7", Token: "c", State: session.Deauthenticated, DeauthenticatedAt: epoch},
		{MAC: "aa:bb:cc:00:00:01", IP: "10.0.0.8", Token: "d", State: session.Unauthenticated},
	}

	n, err := h.gw.Restore(context.Background(), persisted)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"10.0.0.5"}, h.backend.Authorized())
	assert.Equal(t, map[string]int{"unauthenticated": 1, "authenticated": 1, "deauthenticated": 1}, h.gw.CountByState())
}

func TestReconcile_RevokesStale(t *testing.T) {
	h := newHarness(t)
	h.login(t, "aa:bb:cc:00:00:01", "10.0.0.5")
	h.gw.Registry().Remove("aa:bb:cc:00:00:01")

	require.NoError(t, h.gw.Reconcile(context.Background()))
	assert.Empty(t, h.backend.Authorized())
}

type staticNeighbors []network.Neighbor

func (s staticNeighbors) List() ([]network.Neighbor, error) { return s, nil }

func TestActivityTracker(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "aa:bb:cc:00:00:01", "10.0.0.5", "a")
	h.seed(t, "aa:bb:cc:00:00:02", "10.0.0.6", "b")

	h.clock.Advance(time.Minute)
	tracker := NewActivityTracker(h.gw, staticNeighbors{
		{IP: "10.0.0.5", MAC: "aa:bb:cc:00:00:01", Active: true},
		{IP: "10.0.0.6", MAC: "aa:bb:cc:00:00:02", Active: false},
	})
	require.NoError(t, tracker.Collect(context.Background()))

	a, _ := h.gw.Registry().Find("aa:bb:cc:00:00:01")
	b, _ := h.gw.Registry().Find("aa:bb:cc:00:00:02")
	assert.Equal(t, h.clock.Now(), a.LastActivity)
	assert.Equal(t, epoch, b.LastActivity)
}

func TestConcurrentConnectDisconnect(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "aa:bb:cc:00:00:01", "10.0.0.5", "tok")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = h.gw.Connect("tok", 60, 0)
		}()
		go func() {
			defer wg.Done()
			_ = h.gw.Disconnect("tok")
		}()
	}
	wg.Wait()

	s, ok := h.gw.Registry().FindByToken("tok")
	require.True(t, ok)
	granted := len(h.backend.Authorized()) == 1
	assert.Equal(t, s.State == session.Authenticated, granted,
		"filter must agree with registry state")
}
