package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-auth-session/clock"
	"github.com/jrsteele09/go-auth-session/internal/config"
	"github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/metrics"
	"github.com/jrsteele09/go-auth-session/token"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// State of the session as seen by the rest of the application.
type State int

const (
	StateIdle State = iota
	StateUnauthenticated
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "idle"
	}
}

// TokenClock is the background expiry monitor. *clock.Clock implements it.
type TokenClock interface {
	SetExpiration(accessAt, refreshAt time.Time)
	Stop()
	Start()
	Clear()
	Signals() <-chan clock.Signal
}

// API is the backend the controller authenticates against.
type API interface {
	Login(ctx context.Context, email, encryptedPassword string) (token.Grant, error)
	Refresh(ctx context.Context, refreshToken string) (token.Grant, error)
	Logout(ctx context.Context, refreshToken string) error
}

type Encryptor interface {
	Encrypt(ctx context.Context, plaintext string) (string, error)
}

// CookiePusher mirrors the access token into the server-side cookie.
type CookiePusher interface {
	Push(ctx context.Context, accessToken string) error
}

type Dependencies struct {
	Store     *Store
	Clock     TokenClock
	API       API
	Encryptor Encryptor
	Cookies   CookiePusher     // optional
	Metrics   *metrics.Metrics // optional
}

// Hooks are called outside the controller lock.
type Hooks struct {
	OnStateChange     func(State)
	OnRedirectToLogin func()
}

// Controller owns the session state machine. It is the only writer of the
// session store and the only caller of the token clock commands.
type Controller struct {
	store     *Store
	clock     TokenClock
	api       API
	encryptor Encryptor
	cookies   CookiePusher
	metrics   *metrics.Metrics
	hooks     Hooks

	now            func() time.Time
	requestTimeout time.Duration
	maxRetries     int
	retryBackoff   time.Duration

	sessionID string
	log       zerolog.Logger

	mu      sync.Mutex
	state   State
	epoch   uint64
	started bool

	refreshing atomic.Bool

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

type ControllerOption func(*Controller)

func WithHooks(h Hooks) ControllerOption {
	return func(c *Controller) {
		c.hooks = h
	}
}

func WithNowFunc(now func() time.Time) ControllerOption {
	return func(c *Controller) {
		c.now = now
	}
}

// WithRequestTimeout bounds each login, refresh and logout call.
func WithRequestTimeout(d time.Duration) ControllerOption {
	return func(c *Controller) {
		c.requestTimeout = d
	}
}

// WithRefreshRetry retries transient refresh failures up to maxRetries
// times, doubling the wait from backoff each time. Zero disables retries.
func WithRefreshRetry(maxRetries int, backoff time.Duration) ControllerOption {
	return func(c *Controller) {
		if maxRetries < 0 {
			maxRetries = 0
		}
		c.maxRetries = maxRetries
		c.retryBackoff = backoff
	}
}

// OptionsFromConfig maps the session settings onto controller options.
func OptionsFromConfig(cfg config.SessionConfig) []ControllerOption {
	return []ControllerOption{
		WithRequestTimeout(cfg.GetRequestTimeout()),
		WithRefreshRetry(cfg.GetRefreshMaxRetries(), cfg.GetRefreshRetryBackoff()),
	}
}

func NewController(deps Dependencies, opts ...ControllerOption) (*Controller, error) {
	if deps.Store == nil || deps.Clock == nil || deps.API == nil || deps.Encryptor == nil {
		return nil, fmt.Errorf("[Controller New] store, clock, api and encryptor are required")
	}

	c := &Controller{
		store:          deps.Store,
		clock:          deps.Clock,
		api:            deps.API,
		encryptor:      deps.Encryptor,
		cookies:        deps.Cookies,
		metrics:        deps.Metrics,
		now:            time.Now,
		requestTimeout: 30 * time.Second,
		retryBackoff:   500 * time.Millisecond,
		sessionID:      uuid.NewString(),
		state:          StateIdle,
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = log.With().Str("session_id", c.sessionID).Logger()
	return c, nil
}

// Start hydrates the store, arms the clock for a restored session and runs
// the signal dispatcher until ctx is done or Close is called.
func (c *Controller) Start(ctx context.Context) Status {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return c.store.Status()
	}
	c.started = true

	status := c.store.Hydrate()
	if status == StatusAuthenticated {
		snap := c.store.Current()
		c.state = StateAuthenticated
		c.clock.SetExpiration(snap.Pair.AccessTokenExpiresAt, snap.Pair.RefreshTokenExpiresAt)
	} else {
		c.state = StateUnauthenticated
	}
	state := c.state
	c.mu.Unlock()

	c.log.Info().Str("status", status.String()).Msg("session hydrated")
	c.metrics.SetAuthenticated(state == StateAuthenticated)
	c.stateChanged(state)

	c.wg.Add(1)
	go c.dispatch(ctx)
	return status
}

func (c *Controller) dispatch(ctx context.Context) {
	defer c.wg.Done()
	signals := c.clock.Signals()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case sig, ok := <-signals:
			if !ok {
				return
			}
			c.metrics.ClockSignal(sig.String())
			switch sig {
			case clock.NeedsRefresh:
				c.HandleNeedsRefresh(ctx)
			case clock.SessionExpired:
				c.HandleSessionExpired()
			}
		}
	}
}

// Login exchanges credentials for a session. Only ErrInvalidCredentials,
// ErrEncryptionUnavailable and ErrLoginUnavailable are meant for the user.
func (c *Controller) Login(ctx context.Context, email, password string) error {
	c.mu.Lock()
	epoch := c.epoch
	c.mu.Unlock()

	encrypted, err := c.encryptor.Encrypt(ctx, password)
	if err != nil {
		c.metrics.Login("encryption_unavailable")
		c.log.Error().Err(err).Msg("encrypting credentials")
		if errors.Is(err, errors.ErrEncryptionUnavailable) {
			return err
		}
		return fmt.Errorf("[Controller Login] %w: %v", errors.ErrEncryptionUnavailable, err)
	}

	reqCtx, cancel := c.requestContext(ctx)
	grant, err := c.api.Login(reqCtx, email, encrypted)
	cancel()
	if err != nil {
		var status interface{ StatusCode() int }
		if errors.Is(err, errors.ErrMalformedToken) {
			c.metrics.Login("malformed")
			c.log.Error().Err(err).Msg("login response unusable")
			return fmt.Errorf("[Controller Login] %w: %w", errors.ErrInvalidCredentials, err)
		}
		if errors.As(err, &status) {
			c.metrics.Login("rejected")
			c.log.Info().Int("status", status.StatusCode()).Msg("login rejected")
			return fmt.Errorf("[Controller Login] %w", errors.ErrInvalidCredentials)
		}
		c.metrics.Login("unavailable")
		c.log.Error().Err(err).Msg("login request failed")
		return fmt.Errorf("[Controller Login] %w: %v", errors.ErrLoginUnavailable, err)
	}

	user, pair, err := c.resolveGrant(grant, token.Pair{})
	if err != nil {
		c.metrics.Login("malformed")
		c.log.Error().Err(err).Msg("login response unusable")
		return fmt.Errorf("[Controller Login] %w: %w", errors.ErrInvalidCredentials, err)
	}

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		c.metrics.Login("superseded")
		c.log.Debug().Uint64("epoch", epoch).Msg("login result dropped")
		return fmt.Errorf("[Controller Login] %w", errors.ErrLoginSuperseded)
	}
	c.epoch++
	c.state = StateAuthenticated
	c.store.Commit(user, pair)
	c.clock.SetExpiration(pair.AccessTokenExpiresAt, pair.RefreshTokenExpiresAt)
	epoch = c.epoch
	c.mu.Unlock()

	c.metrics.Login("success")
	c.metrics.SetAuthenticated(true)
	c.log.Info().Str("user_id", user.ID).Uint64("epoch", epoch).Time("access_expires_at", pair.AccessTokenExpiresAt).Msg("logged in")
	c.stateChanged(StateAuthenticated)

	c.pushCookie(ctx, pair.AccessToken)
	return nil
}

// HandleNeedsRefresh renews the access token. Only one refresh runs at a
// time; a signal arriving while one is in flight is ignored. The clock is
// stopped for the duration of the call.
func (c *Controller) HandleNeedsRefresh(ctx context.Context) {
	if !c.refreshing.CompareAndSwap(false, true) {
		c.metrics.Refresh("skipped")
		return
	}
	defer c.refreshing.Store(false)

	c.mu.Lock()
	snap := c.store.Current()
	if c.state != StateAuthenticated || snap.Pair.RefreshToken == "" {
		c.mu.Unlock()
		c.metrics.Refresh("skipped")
		return
	}
	epoch := c.epoch
	c.clock.Stop()
	c.mu.Unlock()

	grant, err := c.refreshGrant(ctx, snap.Pair.RefreshToken)
	if err != nil && (ctx.Err() != nil || c.closed()) {
		// shutting down: keep the session for the next run
		c.mu.Lock()
		if c.epoch == epoch && !c.closed() {
			c.clock.Start()
		}
		c.mu.Unlock()
		c.metrics.Refresh("abandoned")
		c.log.Debug().Err(err).Msg("refresh abandoned")
		return
	}

	var user token.User
	var pair token.Pair
	if err == nil {
		user, pair, err = c.resolveGrant(grant, snap.Pair)
	}
	if err != nil {
		c.metrics.Refresh("failure")
		c.log.Warn().Err(err).Uint64("epoch", epoch).Msg("refresh failed")
		c.expire("refresh_failed", &epoch)
		return
	}

	c.mu.Lock()
	if c.epoch != epoch || c.state != StateAuthenticated {
		c.mu.Unlock()
		c.metrics.Refresh("dropped")
		c.log.Debug().Uint64("epoch", epoch).Msg("refresh result dropped")
		return
	}
	c.store.Commit(user, pair)
	c.clock.SetExpiration(pair.AccessTokenExpiresAt, pair.RefreshTokenExpiresAt)
	c.mu.Unlock()

	c.metrics.Refresh("success")
	c.log.Debug().Uint64("epoch", epoch).Time("access_expires_at", pair.AccessTokenExpiresAt).Msg("access token refreshed")

	c.pushCookie(ctx, pair.AccessToken)
}

func (c *Controller) refreshGrant(ctx context.Context, refreshToken string) (token.Grant, error) {
	backoff := c.retryBackoff
	for attempt := 0; ; attempt++ {
		reqCtx, cancel := c.requestContext(ctx)
		grant, err := c.api.Refresh(reqCtx, refreshToken)
		cancel()
		if err == nil || attempt >= c.maxRetries || !isTransient(err) {
			return grant, err
		}

		c.log.Debug().Err(err).Int("attempt", attempt+1).Dur("backoff", backoff).Msg("retrying refresh")
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return token.Grant{}, ctx.Err()
		case <-c.done:
			timer.Stop()
			return token.Grant{}, context.Canceled
		case <-timer.C:
		}
		backoff *= 2
	}
}

// isTransient treats transport failures and errors that say so as worth
// retrying. Anything carrying a status is definitive unless it reports
// itself transient.
func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var t interface{ Transient() bool }
	if errors.As(err, &t) {
		return t.Transient()
	}
	var status interface{ StatusCode() int }
	return !errors.As(err, &status)
}

// resolveGrant turns a grant into the user and pair to commit. A refresh
// response without a refresh token keeps the previous one and its expiry,
// even if it names a refresh expiry.
func (c *Controller) resolveGrant(grant token.Grant, prev token.Pair) (token.User, token.Pair, error) {
	user, err := token.DecodeUser(grant.AccessToken)
	if err != nil {
		return token.User{}, token.Pair{}, err
	}

	if grant.RefreshToken == "" && prev.RefreshToken != "" {
		accessAt := user.ExpiresAt
		if accessAt.IsZero() {
			if accessAt, err = token.ParseExpiresIn(grant.AccessExpiresIn, c.now()); err != nil {
				return token.User{}, token.Pair{}, err
			}
		}
		return user, token.Pair{
			AccessToken:           grant.AccessToken,
			AccessTokenExpiresAt:  accessAt,
			RefreshToken:          prev.RefreshToken,
			RefreshTokenExpiresAt: prev.RefreshTokenExpiresAt,
		}, nil
	}

	pair, err := grant.ToPair(c.now())
	if err != nil {
		return token.User{}, token.Pair{}, err
	}
	return user, pair, nil
}

// HandleSessionExpired ends the session without asking the backend to
// refresh.
func (c *Controller) HandleSessionExpired() {
	c.expire("session_expired", nil)
}

// HandleUnauthorized ends the session after the backend rejected the
// current access token.
func (c *Controller) HandleUnauthorized() {
	c.expire("unauthorized", nil)
}

// expire is the forced logout path. It is a no-op unless the session is
// authenticated and, when epoch is set, still the same session.
func (c *Controller) expire(reason string, epoch *uint64) {
	c.mu.Lock()
	if c.state != StateAuthenticated || (epoch != nil && *epoch != c.epoch) {
		c.mu.Unlock()
		return
	}
	refreshToken := c.clearLocked()
	current := c.epoch
	c.mu.Unlock()

	c.metrics.Logout(reason)
	c.metrics.SetAuthenticated(false)
	c.log.Warn().Str("reason", reason).Uint64("epoch", current).Msg("session ended")
	c.stateChanged(StateUnauthenticated)
	c.redirect()

	if refreshToken == "" {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := c.requestContext(context.Background())
		defer cancel()
		c.invalidate(ctx, refreshToken)
	}()
}

// Logout ends the session locally before telling the backend, so a refresh
// response arriving afterwards is discarded.
func (c *Controller) Logout(ctx context.Context) {
	c.mu.Lock()
	wasAuthenticated := c.state == StateAuthenticated
	refreshToken := c.clearLocked()
	epoch := c.epoch
	c.mu.Unlock()

	c.metrics.Logout("user")
	c.metrics.SetAuthenticated(false)
	c.log.Info().Uint64("epoch", epoch).Msg("logged out")
	if wasAuthenticated {
		c.stateChanged(StateUnauthenticated)
	}

	if refreshToken != "" {
		reqCtx, cancel := c.requestContext(ctx)
		c.invalidate(reqCtx, refreshToken)
		cancel()
	}
	c.redirect()
}

func (c *Controller) clearLocked() string {
	refreshToken := c.store.Current().Pair.RefreshToken
	c.epoch++
	c.clock.Clear()
	c.store.Clear()
	c.state = StateUnauthenticated
	return refreshToken
}

func (c *Controller) invalidate(ctx context.Context, refreshToken string) {
	if err := c.api.Logout(ctx, refreshToken); err != nil {
		c.log.Warn().Err(err).Msg("server logout failed")
		return
	}
	c.log.Debug().Msg("server session invalidated")
}

func (c *Controller) pushCookie(ctx context.Context, accessToken string) {
	if c.cookies == nil {
		return
	}
	reqCtx, cancel := c.requestContext(ctx)
	defer cancel()
	if err := c.cookies.Push(reqCtx, accessToken); err != nil {
		c.metrics.CookieSync("failure")
		c.log.Warn().Err(err).Msg("cookie sync failed")
		return
	}
	c.metrics.CookieSync("success")
}

func (c *Controller) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.requestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.requestTimeout)
}

func (c *Controller) stateChanged(s State) {
	if c.hooks.OnStateChange != nil {
		c.hooks.OnStateChange(s)
	}
}

func (c *Controller) redirect() {
	if c.hooks.OnRedirectToLogin != nil {
		c.hooks.OnRedirectToLogin()
	}
}

// State reports Authenticated while a refresh is in flight; see Refreshing.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Refreshing() bool {
	return c.refreshing.Load()
}

// User returns the current user and whether there is one.
func (c *Controller) User() (token.User, bool) {
	snap := c.store.Current()
	return snap.User, snap.Authenticated()
}

func (c *Controller) Session() Snapshot {
	return c.store.Current()
}

func (c *Controller) Epoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

func (c *Controller) SessionID() string {
	return c.sessionID
}

func (c *Controller) TokenSource() oauth2.TokenSource {
	return c.store.TokenSource()
}

// Close stops the dispatcher and waits for background server logouts. The
// clock is left to its owner.
func (c *Controller) Close() {
	c.closeOnce.Do(func() { close(c.done) })
	c.wg.Wait()
}

func (c *Controller) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
