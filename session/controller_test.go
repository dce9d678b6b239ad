package session_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-session/clock"
	"github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/session"
	"github.com/jrsteele09/go-auth-session/storage"
	"github.com/jrsteele09/go-auth-session/storage/memory"
	"github.com/jrsteele09/go-auth-session/token"
	"github.com/jrsteele09/go-auth-session/token/tokentest"
	"github.com/stretchr/testify/require"
)

type statusErr int

func (e statusErr) Error() string   { return fmt.Sprintf("status %d", int(e)) }
func (e statusErr) StatusCode() int { return int(e) }
func (e statusErr) Transient() bool { return int(e) >= 500 }

type fakeAPI struct {
	mu            sync.Mutex
	loginGrant    token.Grant
	loginErr      error
	loginPassword string
	refresh       func(ctx context.Context, call int) (token.Grant, error)
	refreshCalls  int
	refreshTokens []string
	logouts       []string
}

func (a *fakeAPI) Login(_ context.Context, _ string, encryptedPassword string) (token.Grant, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.loginPassword = encryptedPassword
	return a.loginGrant, a.loginErr
}

func (a *fakeAPI) Refresh(ctx context.Context, refreshToken string) (token.Grant, error) {
	a.mu.Lock()
	a.refreshCalls++
	call := a.refreshCalls
	a.refreshTokens = append(a.refreshTokens, refreshToken)
	fn := a.refresh
	a.mu.Unlock()
	if fn == nil {
		return token.Grant{}, statusErr(500)
	}
	return fn(ctx, call)
}

func (a *fakeAPI) Logout(_ context.Context, refreshToken string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logouts = append(a.logouts, refreshToken)
	return nil
}

func (a *fakeAPI) calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.refreshCalls
}

func (a *fakeAPI) loggedOut() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.logouts...)
}

type fakeEncryptor struct {
	err error
}

func (e fakeEncryptor) Encrypt(_ context.Context, plaintext string) (string, error) {
	if e.err != nil {
		return "", e.err
	}
	return "enc:" + plaintext, nil
}

type fakeCookies struct {
	mu     sync.Mutex
	tokens []string
}

func (c *fakeCookies) Push(_ context.Context, accessToken string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens = append(c.tokens, accessToken)
	return nil
}

func (c *fakeCookies) pushed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.tokens...)
}

type manualTicker struct {
	ch      chan time.Time
	mu      sync.Mutex
	stopped bool
}

func (t *manualTicker) C() <-chan time.Time { return t.ch }

func (t *manualTicker) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

type manualTickers struct {
	mu      sync.Mutex
	tickers []*manualTicker
}

func (m *manualTickers) New(time.Duration) clock.Ticker {
	m.mu.Lock()
	defer m.mu.Unlock()
	tk := &manualTicker{ch: make(chan time.Time, 1)}
	m.tickers = append(m.tickers, tk)
	return tk
}

func (m *manualTickers) fire(t *testing.T) {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tk := range m.tickers {
		tk.mu.Lock()
		stopped := tk.stopped
		tk.mu.Unlock()
		if !stopped {
			tk.ch <- time.Now()
			return
		}
	}
	t.Fatal("no active ticker")
}

type fakeNow struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeNow) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeNow) Set(now time.Time) {
	f.mu.Lock()
	f.now = now
	f.mu.Unlock()
}

type harness struct {
	storage    storage.Storage
	store      *session.Store
	clock      *clock.Clock
	tickers    *manualTickers
	now        *fakeNow
	api        *fakeAPI
	cookies    *fakeCookies
	controller *session.Controller

	mu        sync.Mutex
	redirects int
	states    []session.State
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	storage   storage.Storage
	encryptor session.Encryptor
	opts      []session.ControllerOption
}

func withStorage(s storage.Storage) harnessOption {
	return func(c *harnessConfig) { c.storage = s }
}

func withEncryptor(e session.Encryptor) harnessOption {
	return func(c *harnessConfig) { c.encryptor = e }
}

func withControllerOptions(opts ...session.ControllerOption) harnessOption {
	return func(c *harnessConfig) { c.opts = append(c.opts, opts...) }
}

func newHarness(t *testing.T, options ...harnessOption) *harness {
	t.Helper()
	cfg := harnessConfig{storage: memory.New(), encryptor: fakeEncryptor{}}
	for _, o := range options {
		o(&cfg)
	}

	h := &harness{
		storage: cfg.storage,
		tickers: &manualTickers{},
		now:     &fakeNow{now: t0},
		api:     &fakeAPI{},
		cookies: &fakeCookies{},
	}
	h.store = session.NewStore(h.storage, session.WithStoreNowFunc(h.now.Now))
	h.clock = clock.New(clock.WithNowFunc(h.now.Now), clock.WithTickerFactory(h.tickers.New))

	opts := append([]session.ControllerOption{
		session.WithNowFunc(h.now.Now),
		session.WithHooks(session.Hooks{
			OnStateChange: func(s session.State) {
				h.mu.Lock()
				h.states = append(h.states, s)
				h.mu.Unlock()
			},
			OnRedirectToLogin: func() {
				h.mu.Lock()
				h.redirects++
				h.mu.Unlock()
			},
		}),
	}, cfg.opts...)

	c, err := session.NewController(session.Dependencies{
		Store:     h.store,
		Clock:     h.clock,
		API:       h.api,
		Encryptor: cfg.encryptor,
		Cookies:   h.cookies,
	}, opts...)
	require.NoError(t, err)
	h.controller = c

	t.Cleanup(func() {
		h.controller.Close()
		h.clock.Close()
	})
	return h
}

func (h *harness) start(t *testing.T) session.Status {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return h.controller.Start(ctx)
}

func (h *harness) redirectCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.redirects
}

func grantFor(t *testing.T, accessExp time.Time, refreshToken, refreshIn string) token.Grant {
	return token.Grant{
		AccessToken:      tokentest.AccessToken(t, accessExp, nil),
		AccessExpiresIn:  "10m",
		RefreshToken:     refreshToken,
		RefreshExpiresIn: refreshIn,
	}
}

func (h *harness) login(t *testing.T) token.Grant {
	t.Helper()
	grant := grantFor(t, t0.Add(10*time.Minute), "r1", "7d")
	h.api.loginGrant = grant
	require.NoError(t, h.controller.Login(context.Background(), "jane@example.com", "secret"))
	return grant
}

func (h *harness) persisted(t *testing.T) (map[string]any, bool) {
	t.Helper()
	raw, err := h.storage.Get(session.DefaultStorageKey)
	if errors.Is(err, errors.ErrNotFound) {
		return nil, false
	}
	require.NoError(t, err)
	var v map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &v))
	return v, true
}

func TestNewControllerRequiresDependencies(t *testing.T) {
	_, err := session.NewController(session.Dependencies{})
	require.Error(t, err)
}

func TestLogin(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, session.StatusEmpty, h.start(t))
	require.Equal(t, session.StateUnauthenticated, h.controller.State())

	grant := h.login(t)

	require.Equal(t, session.StateAuthenticated, h.controller.State())
	require.Equal(t, uint64(1), h.controller.Epoch())
	require.Equal(t, "enc:secret", h.api.loginPassword)

	user, ok := h.controller.User()
	require.True(t, ok)
	require.Equal(t, "Jane Doe", user.DisplayName)

	stored, ok := h.persisted(t)
	require.True(t, ok)
	require.Equal(t, grant.AccessToken, stored["token"])
	require.Equal(t, "r1", stored["refreshToken"])
	require.EqualValues(t, t0.Add(10*time.Minute).UnixMilli(), stored["accessTokenExpiresAt"])
	require.EqualValues(t, t0.Add(7*24*time.Hour).UnixMilli(), stored["refreshTokenExpiresAt"])

	require.Equal(t, []string{grant.AccessToken}, h.cookies.pushed())
	require.Len(t, h.tickers.tickers, 1)
}

func TestLoginErrors(t *testing.T) {
	t.Run("rejected credentials", func(t *testing.T) {
		h := newHarness(t)
		h.start(t)
		h.api.loginErr = statusErr(401)

		err := h.controller.Login(context.Background(), "jane@example.com", "wrong")
		require.True(t, errors.Is(err, errors.ErrInvalidCredentials))
		require.Equal(t, session.StateUnauthenticated, h.controller.State())
	})

	t.Run("backend unreachable", func(t *testing.T) {
		h := newHarness(t)
		h.start(t)
		h.api.loginErr = fmt.Errorf("dial tcp: connection refused")

		err := h.controller.Login(context.Background(), "jane@example.com", "secret")
		require.True(t, errors.Is(err, errors.ErrLoginUnavailable))
	})

	t.Run("encryption unavailable", func(t *testing.T) {
		h := newHarness(t, withEncryptor(fakeEncryptor{err: fmt.Errorf("no key")}))
		h.start(t)

		err := h.controller.Login(context.Background(), "jane@example.com", "secret")
		require.True(t, errors.Is(err, errors.ErrEncryptionUnavailable))
		require.Empty(t, h.api.loginPassword)
	})

	t.Run("malformed token", func(t *testing.T) {
		h := newHarness(t)
		h.start(t)
		h.api.loginGrant = token.Grant{AccessToken: "garbage", RefreshToken: "r1", RefreshExpiresIn: "7d"}

		err := h.controller.Login(context.Background(), "jane@example.com", "secret")
		require.True(t, errors.Is(err, errors.ErrInvalidCredentials))
		require.True(t, errors.Is(err, errors.ErrMalformedToken))
		_, stored := h.persisted(t)
		require.False(t, stored)
	})
}

func TestStorageFailureDoesNotBlockLogin(t *testing.T) {
	h := newHarness(t, withStorage(failingStorage{}))
	h.start(t)

	h.login(t)

	require.Equal(t, session.StateAuthenticated, h.controller.State())
	require.True(t, h.controller.Session().Authenticated())
}

func TestAtMostOneRefreshInFlight(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.login(t)

	release := make(chan struct{})
	h.api.refresh = func(ctx context.Context, _ int) (token.Grant, error) {
		<-release
		return grantFor(t, t0.Add(20*time.Minute), "r2", "7d"), nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.controller.HandleNeedsRefresh(context.Background())
	}()
	require.Eventually(t, func() bool { return h.api.calls() == 1 }, time.Second, 5*time.Millisecond)
	require.True(t, h.controller.Refreshing())
	require.Equal(t, session.StateAuthenticated, h.controller.State())

	for i := 0; i < 5; i++ {
		h.controller.HandleNeedsRefresh(context.Background())
	}
	close(release)
	<-done

	require.Equal(t, 1, h.api.calls())
	require.False(t, h.controller.Refreshing())
	require.Equal(t, "r2", h.controller.Session().Pair.RefreshToken)
}

func TestLogoutDiscardsLateRefresh(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.login(t)

	release := make(chan struct{})
	h.api.refresh = func(ctx context.Context, _ int) (token.Grant, error) {
		<-release
		return grantFor(t, t0.Add(20*time.Minute), "r2", "7d"), nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.controller.HandleNeedsRefresh(context.Background())
	}()
	require.Eventually(t, func() bool { return h.api.calls() == 1 }, time.Second, 5*time.Millisecond)

	h.controller.Logout(context.Background())
	require.Equal(t, session.StateUnauthenticated, h.controller.State())
	require.Equal(t, []string{"r1"}, h.api.loggedOut())

	close(release)
	<-done

	require.Equal(t, session.StateUnauthenticated, h.controller.State())
	require.False(t, h.controller.Session().Authenticated())
	_, stored := h.persisted(t)
	require.False(t, stored)
	require.Equal(t, 1, h.redirectCount())
}

func TestClockDrivenRefresh(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.login(t)

	next := grantFor(t, t0.Add(20*time.Minute), "r2", "7d")
	h.api.refresh = func(context.Context, int) (token.Grant, error) { return next, nil }

	h.now.Set(t0.Add(10*time.Minute - 29*time.Second))
	h.tickers.fire(t)

	require.Eventually(t, func() bool {
		return h.controller.Session().Pair.AccessToken == next.AccessToken
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, 1, h.api.calls())
	require.Equal(t, []string{"r1"}, h.api.refreshTokens)
	require.Equal(t, session.StateAuthenticated, h.controller.State())
	require.True(t, h.controller.Session().Pair.AccessTokenExpiresAt.Equal(t0.Add(20*time.Minute)))

	stored, ok := h.persisted(t)
	require.True(t, ok)
	require.Equal(t, next.AccessToken, stored["token"])
	require.Eventually(t, func() bool { return len(h.cookies.pushed()) == 2 }, time.Second, 5*time.Millisecond)

	// the new expiry is armed and far from the threshold
	h.tickers.fire(t)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, h.api.calls())
}

func TestRefreshServerErrorLogsOut(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.login(t)
	h.api.refresh = func(context.Context, int) (token.Grant, error) { return token.Grant{}, statusErr(500) }

	h.controller.HandleNeedsRefresh(context.Background())

	require.Equal(t, session.StateUnauthenticated, h.controller.State())
	_, stored := h.persisted(t)
	require.False(t, stored)
	require.Equal(t, 1, h.redirectCount())
	require.Eventually(t, func() bool { return len(h.api.loggedOut()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestTransientRefreshFailureIsRetried(t *testing.T) {
	h := newHarness(t, withControllerOptions(session.WithRefreshRetry(2, time.Millisecond)))
	h.start(t)
	h.login(t)

	next := grantFor(t, t0.Add(20*time.Minute), "r2", "7d")
	h.api.refresh = func(_ context.Context, call int) (token.Grant, error) {
		if call == 1 {
			return token.Grant{}, fmt.Errorf("connection reset by peer")
		}
		return next, nil
	}

	h.controller.HandleNeedsRefresh(context.Background())

	require.Equal(t, 2, h.api.calls())
	require.Equal(t, session.StateAuthenticated, h.controller.State())
	require.Equal(t, next.AccessToken, h.controller.Session().Pair.AccessToken)
}

func TestRejectedRefreshIsNotRetried(t *testing.T) {
	h := newHarness(t, withControllerOptions(session.WithRefreshRetry(3, time.Millisecond)))
	h.start(t)
	h.login(t)
	h.api.refresh = func(context.Context, int) (token.Grant, error) { return token.Grant{}, statusErr(401) }

	h.controller.HandleNeedsRefresh(context.Background())

	require.Equal(t, 1, h.api.calls())
	require.Equal(t, session.StateUnauthenticated, h.controller.State())
}

func TestRefreshWithoutNewRefreshTokenKeepsOld(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.login(t)

	access := tokentest.AccessToken(t, t0.Add(20*time.Minute), nil)
	h.api.refresh = func(context.Context, int) (token.Grant, error) {
		return token.Grant{AccessToken: access}, nil
	}

	h.controller.HandleNeedsRefresh(context.Background())

	pair := h.controller.Session().Pair
	require.Equal(t, access, pair.AccessToken)
	require.Equal(t, "r1", pair.RefreshToken)
	require.True(t, pair.RefreshTokenExpiresAt.Equal(t0.Add(7*24*time.Hour)))
}

func TestRefreshWithExpiryButNoRefreshTokenKeepsOld(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.login(t)

	access := tokentest.AccessToken(t, t0.Add(20*time.Minute), nil)
	h.api.refresh = func(context.Context, int) (token.Grant, error) {
		return token.Grant{AccessToken: access, RefreshExpiresIn: "30d"}, nil
	}

	h.controller.HandleNeedsRefresh(context.Background())

	pair := h.controller.Session().Pair
	require.Equal(t, access, pair.AccessToken)
	require.Equal(t, "r1", pair.RefreshToken)
	require.True(t, pair.RefreshTokenExpiresAt.Equal(t0.Add(7*24*time.Hour)))

	h.controller.HandleNeedsRefresh(context.Background())
	require.Equal(t, []string{"r1", "r1"}, h.api.refreshTokens)
}

func TestRefreshAbandonedOnShutdownKeepsSession(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.login(t)
	h.api.refresh = func(ctx context.Context, _ int) (token.Grant, error) {
		<-ctx.Done()
		return token.Grant{}, ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.controller.HandleNeedsRefresh(ctx)
	}()
	require.Eventually(t, func() bool { return h.api.calls() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	require.Equal(t, session.StateAuthenticated, h.controller.State())
	require.Equal(t, 0, h.redirectCount())
}

func TestCloseDuringRefreshBackoffKeepsSession(t *testing.T) {
	h := newHarness(t, withControllerOptions(session.WithRefreshRetry(3, time.Hour)))
	h.start(t)
	h.login(t)
	h.api.refresh = func(context.Context, int) (token.Grant, error) {
		return token.Grant{}, fmt.Errorf("connection refused")
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.controller.HandleNeedsRefresh(context.Background())
	}()
	require.Eventually(t, func() bool { return h.api.calls() == 1 }, time.Second, 5*time.Millisecond)

	h.controller.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("refresh still waiting after Close")
	}

	require.Equal(t, 1, h.api.calls())
	require.Equal(t, session.StateAuthenticated, h.controller.State())
	require.Equal(t, 0, h.redirectCount())
	require.Empty(t, h.api.loggedOut())
	stored, ok := h.persisted(t)
	require.True(t, ok)
	require.Equal(t, "r1", stored["refreshToken"])
}

func TestSessionExpiredSignalLogsOut(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.api.loginGrant = grantFor(t, t0.Add(10*time.Minute), "r1", "30s")
	require.NoError(t, h.controller.Login(context.Background(), "jane@example.com", "secret"))

	h.now.Set(t0.Add(31 * time.Second))
	h.tickers.fire(t)

	require.Eventually(t, func() bool {
		return h.controller.State() == session.StateUnauthenticated
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, 0, h.api.calls())
	require.Equal(t, 1, h.redirectCount())
}

func TestHandleUnauthorizedIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.login(t)

	h.controller.HandleUnauthorized()
	h.controller.HandleUnauthorized()

	require.Equal(t, session.StateUnauthenticated, h.controller.State())
	require.Equal(t, 1, h.redirectCount())
	require.Equal(t, uint64(2), h.controller.Epoch())

	h.mu.Lock()
	defer h.mu.Unlock()
	require.Equal(t, []session.State{
		session.StateUnauthenticated,
		session.StateAuthenticated,
		session.StateUnauthenticated,
	}, h.states)
}

func TestStartRestoresPersistedSession(t *testing.T) {
	st := memory.New()
	access := tokentest.AccessToken(t, t0.Add(10*time.Minute), nil)
	persist(t, st, map[string]any{
		"token":                 access,
		"refreshToken":          "r1",
		"accessTokenExpiresAt":  t0.Add(10 * time.Minute).UnixMilli(),
		"refreshTokenExpiresAt": t0.Add(time.Hour).UnixMilli(),
	})

	h := newHarness(t, withStorage(st))
	require.Equal(t, session.StatusAuthenticated, h.start(t))
	require.Equal(t, session.StateAuthenticated, h.controller.State())
	require.Len(t, h.tickers.tickers, 1)

	tok, err := h.controller.TokenSource().Token()
	require.NoError(t, err)
	require.Equal(t, access, tok.AccessToken)
}

func TestStartDropsSessionWithLapsedRefreshToken(t *testing.T) {
	st := memory.New()
	persist(t, st, map[string]any{
		"token":                 tokentest.AccessToken(t, t0.Add(10*time.Minute), nil),
		"refreshToken":          "r1",
		"accessTokenExpiresAt":  t0.Add(10 * time.Minute).UnixMilli(),
		"refreshTokenExpiresAt": t0.Add(-time.Millisecond).UnixMilli(),
	})

	h := newHarness(t, withStorage(st))
	require.Equal(t, session.StatusEmpty, h.start(t))
	require.Equal(t, session.StateUnauthenticated, h.controller.State())
	_, stored := h.persisted(t)
	require.False(t, stored)
	require.Empty(t, h.tickers.tickers)
}

func TestStartRefreshesRestoredSessionWithLapsedAccessToken(t *testing.T) {
	st := memory.New()
	persist(t, st, map[string]any{
		"token":                 tokentest.AccessToken(t, t0.Add(-5*time.Minute), nil),
		"refreshToken":          "r1",
		"accessTokenExpiresAt":  t0.Add(-5 * time.Minute).UnixMilli(),
		"refreshTokenExpiresAt": t0.Add(time.Hour).UnixMilli(),
	})

	h := newHarness(t, withStorage(st))
	next := grantFor(t, t0.Add(10*time.Minute), "r2", "7d")
	h.api.refresh = func(context.Context, int) (token.Grant, error) { return next, nil }

	require.Equal(t, session.StatusAuthenticated, h.start(t))

	require.Eventually(t, func() bool {
		return h.controller.Session().Pair.AccessToken == next.AccessToken
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"r1"}, h.api.refreshTokens)
	require.Equal(t, session.StateAuthenticated, h.controller.State())
	require.Equal(t, 0, h.redirectCount())
}
