package session_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/session"
	"github.com/jrsteele09/go-auth-session/storage/memory"
	"github.com/jrsteele09/go-auth-session/token"
	"github.com/jrsteele09/go-auth-session/token/tokentest"
	"github.com/stretchr/testify/require"
)

var t0 = time.Unix(1_700_000_000, 0)

func persist(t *testing.T, st *memory.Store, v map[string]any) {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, st.Set(session.DefaultStorageKey, string(b)))
}

func TestHydrateEmpty(t *testing.T) {
	s := session.NewStore(memory.New())
	require.Equal(t, session.StatusUnhydrated, s.Status())

	require.Equal(t, session.StatusEmpty, s.Hydrate())
	require.False(t, s.Current().Authenticated())
}

func TestHydrateRestoresSession(t *testing.T) {
	st := memory.New()
	access := tokentest.AccessToken(t, t0.Add(10*time.Minute), nil)
	persist(t, st, map[string]any{
		"token":                 access,
		"refreshToken":          "r1",
		"accessTokenExpiresAt":  t0.Add(10 * time.Minute).UnixMilli(),
		"refreshTokenExpiresAt": t0.Add(time.Hour).UnixMilli(),
	})

	s := session.NewStore(st, session.WithStoreNowFunc(func() time.Time { return t0 }))
	require.Equal(t, session.StatusAuthenticated, s.Hydrate())

	snap := s.Current()
	require.Equal(t, "42", snap.User.ID)
	require.Equal(t, "jane@example.com", snap.User.Email)
	require.Equal(t, "r1", snap.Pair.RefreshToken)
	require.True(t, snap.Pair.RefreshTokenExpiresAt.Equal(t0.Add(time.Hour)))
}

func TestHydrateDropsLapsedRefreshToken(t *testing.T) {
	st := memory.New()
	persist(t, st, map[string]any{
		"token":                 tokentest.AccessToken(t, t0.Add(time.Hour), nil),
		"refreshToken":          "r1",
		"accessTokenExpiresAt":  t0.Add(time.Hour).UnixMilli(),
		"refreshTokenExpiresAt": t0.UnixMilli(),
	})

	s := session.NewStore(st, session.WithStoreNowFunc(func() time.Time { return t0 }))
	require.Equal(t, session.StatusEmpty, s.Hydrate())

	_, err := st.Get(session.DefaultStorageKey)
	require.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestHydrateFillsMissingExpiries(t *testing.T) {
	st := memory.New()
	persist(t, st, map[string]any{
		"token":        tokentest.AccessToken(t, t0.Add(5*time.Minute), nil),
		"refreshToken": "r1",
	})

	s := session.NewStore(st,
		session.WithStoreNowFunc(func() time.Time { return t0 }),
		session.WithDefaultRefreshExpiry(48*time.Hour),
	)
	require.Equal(t, session.StatusAuthenticated, s.Hydrate())

	pair := s.Current().Pair
	require.True(t, pair.AccessTokenExpiresAt.Equal(t0.Add(5*time.Minute)))
	require.True(t, pair.RefreshTokenExpiresAt.Equal(t0.Add(48*time.Hour)))
}

func TestHydrateRemovesCorruptSession(t *testing.T) {
	st := memory.New()
	require.NoError(t, st.Set("custom", "{not json"))

	s := session.NewStore(st, session.WithStorageKey("custom"))
	require.Equal(t, session.StatusEmpty, s.Hydrate())

	_, err := st.Get("custom")
	require.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestCommitWritesThroughAndClearRemoves(t *testing.T) {
	st := memory.New()
	s := session.NewStore(st)

	access := tokentest.AccessToken(t, t0.Add(time.Minute), nil)
	user, err := token.DecodeUser(access)
	require.NoError(t, err)
	pair := token.Pair{
		AccessToken:           access,
		AccessTokenExpiresAt:  t0.Add(time.Minute),
		RefreshToken:          "r1",
		RefreshTokenExpiresAt: t0.Add(time.Hour),
	}
	s.Commit(user, pair)

	raw, err := st.Get(session.DefaultStorageKey)
	require.NoError(t, err)
	var stored map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &stored))
	require.Equal(t, access, stored["token"])
	require.Equal(t, "r1", stored["refreshToken"])
	require.EqualValues(t, t0.Add(time.Hour).UnixMilli(), stored["refreshTokenExpiresAt"])

	s.Clear()
	s.Clear()
	require.False(t, s.Current().Authenticated())
	_, err = st.Get(session.DefaultStorageKey)
	require.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestCurrentReturnsCopy(t *testing.T) {
	s := session.NewStore(memory.New())
	s.Commit(token.User{ID: "1", Permissions: []string{"a"}}, token.Pair{AccessToken: "x"})

	snap := s.Current()
	snap.User.Permissions[0] = "changed"

	require.Equal(t, []string{"a"}, s.Current().User.Permissions)
}

type failingStorage struct{}

func (failingStorage) Get(string) (string, error) { return "", errors.ErrInternal }
func (failingStorage) Set(string, string) error   { return errors.ErrInternal }
func (failingStorage) Remove(string) error        { return errors.ErrInternal }

func TestStorageFailuresKeepMemory(t *testing.T) {
	s := session.NewStore(failingStorage{})
	require.Equal(t, session.StatusEmpty, s.Hydrate())

	s.Commit(token.User{ID: "1"}, token.Pair{AccessToken: "a", RefreshToken: "r"})
	require.True(t, s.Current().Authenticated())

	s.Clear()
	require.False(t, s.Current().Authenticated())
}

func TestTokenSource(t *testing.T) {
	s := session.NewStore(memory.New())

	_, err := s.TokenSource().Token()
	require.True(t, errors.Is(err, errors.ErrNotAuthenticated))

	s.Commit(token.User{}, token.Pair{AccessToken: "abc", AccessTokenExpiresAt: t0})
	tok, err := s.TokenSource().Token()
	require.NoError(t, err)
	require.Equal(t, "abc", tok.AccessToken)
	require.Equal(t, "Bearer", tok.Type())
	require.True(t, tok.Expiry.Equal(t0))
}
