package session

import (
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/storage"
	"github.com/jrsteele09/go-auth-session/token"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

const (
	DefaultStorageKey          = "mv-auth"
	DefaultRefreshExpiryOnLoad = 7 * 24 * time.Hour
)

// Status is the outcome of hydration.
type Status int

const (
	StatusUnhydrated Status = iota
	StatusEmpty
	StatusAuthenticated
)

func (s Status) String() string {
	switch s {
	case StatusEmpty:
		return "empty"
	case StatusAuthenticated:
		return "authenticated"
	default:
		return "unhydrated"
	}
}

// Snapshot is a copy of the session tuple. The user and the pair always
// come from the same access token.
type Snapshot struct {
	User token.User
	Pair token.Pair
}

func (s Snapshot) Authenticated() bool {
	return !s.Pair.IsZero()
}

// persisted is the durable layout. Instants are epoch milliseconds.
type persisted struct {
	User                  token.User `json:"user"`
	Token                 string     `json:"token"`
	RefreshToken          string     `json:"refreshToken"`
	AccessTokenExpiresAt  int64      `json:"accessTokenExpiresAt"`
	RefreshTokenExpiresAt int64      `json:"refreshTokenExpiresAt"`
}

// Store holds the in-memory session and mirrors it to durable storage. Only
// the Controller calls Commit and Clear. The in-memory copy is authoritative:
// a failed durable write is logged and never rolled back.
type Store struct {
	storage              storage.Storage
	key                  string
	defaultRefreshExpiry time.Duration
	now                  func() time.Time

	// writeMu orders durable writes; mu guards only the in-memory tuple so
	// Current never waits on I/O.
	writeMu sync.Mutex
	mu      sync.RWMutex
	current Snapshot
	status  Status
}

type StoreOption func(*Store)

func WithStorageKey(key string) StoreOption {
	return func(s *Store) {
		if key != "" {
			s.key = key
		}
	}
}

// WithDefaultRefreshExpiry applies to persisted sessions that carry no
// refresh expiry.
func WithDefaultRefreshExpiry(d time.Duration) StoreOption {
	return func(s *Store) {
		if d > 0 {
			s.defaultRefreshExpiry = d
		}
	}
}

func WithStoreNowFunc(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

func NewStore(st storage.Storage, opts ...StoreOption) *Store {
	s := &Store{
		storage:              st,
		key:                  DefaultStorageKey,
		defaultRefreshExpiry: DefaultRefreshExpiryOnLoad,
		now:                  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Hydrate loads the persisted session. A session whose refresh token has
// already lapsed is deleted rather than restored, whatever the state of its
// access token.
func (s *Store) Hydrate() Status {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	snap, ok := s.load()

	s.mu.Lock()
	defer s.mu.Unlock()
	if ok {
		s.current = snap
		s.status = StatusAuthenticated
	} else {
		s.current = Snapshot{}
		s.status = StatusEmpty
	}
	return s.status
}

func (s *Store) load() (Snapshot, bool) {
	raw, err := s.storage.Get(s.key)
	if errors.Is(err, errors.ErrNotFound) {
		return Snapshot{}, false
	}
	if err != nil {
		log.Error().Err(err).Str("key", s.key).Msg("reading persisted session")
		return Snapshot{}, false
	}

	var p persisted
	if err := json.Unmarshal([]byte(raw), &p); err != nil || p.Token == "" {
		log.Warn().Err(err).Msg("persisted session unreadable, clearing")
		s.remove()
		return Snapshot{}, false
	}

	now := s.now()
	accessAt := token.FromUnixMilli(p.AccessTokenExpiresAt)
	if accessAt.IsZero() {
		accessAt = token.ExpirationOf(p.Token)
	}
	refreshAt := token.FromUnixMilli(p.RefreshTokenExpiresAt)
	if refreshAt.IsZero() {
		refreshAt = now.Add(s.defaultRefreshExpiry)
	}

	if !refreshAt.After(now) {
		log.Warn().Time("refresh_expires_at", refreshAt).Msg("stored refresh token expired, clearing session")
		s.remove()
		return Snapshot{}, false
	}

	user, err := token.DecodeUser(p.Token)
	if err != nil {
		user = p.User
	}

	return Snapshot{
		User: user,
		Pair: token.Pair{
			AccessToken:           p.Token,
			AccessTokenExpiresAt:  accessAt,
			RefreshToken:          p.RefreshToken,
			RefreshTokenExpiresAt: refreshAt,
		},
	}, true
}

// Commit replaces the session and writes it through to storage.
func (s *Store) Commit(user token.User, pair token.Pair) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	s.current = Snapshot{User: cloneUser(user), Pair: pair}
	s.status = StatusAuthenticated
	s.mu.Unlock()

	b, err := json.Marshal(persisted{
		User:                  user,
		Token:                 pair.AccessToken,
		RefreshToken:          pair.RefreshToken,
		AccessTokenExpiresAt:  token.UnixMilli(pair.AccessTokenExpiresAt),
		RefreshTokenExpiresAt: token.UnixMilli(pair.RefreshTokenExpiresAt),
	})
	if err != nil {
		log.Error().Err(err).Msg("encoding session")
		return
	}
	if err := s.storage.Set(s.key, string(b)); err != nil {
		log.Error().Err(err).Str("key", s.key).Msg("persisting session, continuing in memory")
	}
}

// Clear empties the session and deletes the durable copy.
func (s *Store) Clear() {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	s.current = Snapshot{}
	s.status = StatusEmpty
	s.mu.Unlock()

	s.remove()
}

func (s *Store) remove() {
	if err := s.storage.Remove(s.key); err != nil {
		log.Error().Err(err).Str("key", s.key).Msg("removing persisted session")
	}
}

// Current returns a copy of the in-memory session without touching storage.
func (s *Store) Current() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{User: cloneUser(s.current.User), Pair: s.current.Pair}
}

func (s *Store) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// TokenSource exposes the current access token to oauth2 aware clients.
func (s *Store) TokenSource() oauth2.TokenSource {
	return storeTokenSource{s}
}

type storeTokenSource struct {
	store *Store
}

func (ts storeTokenSource) Token() (*oauth2.Token, error) {
	snap := ts.store.Current()
	if !snap.Authenticated() {
		return nil, errors.ErrNotAuthenticated
	}
	return &oauth2.Token{
		AccessToken: snap.Pair.AccessToken,
		TokenType:   "Bearer",
		Expiry:      snap.Pair.AccessTokenExpiresAt,
	}, nil
}

func cloneUser(u token.User) token.User {
	u.Permissions = slices.Clone(u.Permissions)
	return u
}
