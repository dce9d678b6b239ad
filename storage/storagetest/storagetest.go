// Package storagetest holds the behaviour every storage backend must share.
package storagetest

import (
	"testing"

	"github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/storage"
	"github.com/stretchr/testify/require"
)

// Run exercises s against the storage contract. s must start empty.
func Run(t *testing.T, s storage.Storage) {
	t.Helper()

	t.Run("missing key", func(t *testing.T) {
		_, err := s.Get("missing")
		require.Error(t, err)
		require.True(t, errors.Is(err, errors.ErrNotFound))
	})

	t.Run("set then get", func(t *testing.T) {
		require.NoError(t, s.Set("mv-auth", `{"token":"a"}`))
		v, err := s.Get("mv-auth")
		require.NoError(t, err)
		require.Equal(t, `{"token":"a"}`, v)
	})

	t.Run("overwrite", func(t *testing.T) {
		require.NoError(t, s.Set("mv-auth", "first"))
		require.NoError(t, s.Set("mv-auth", "second"))
		v, err := s.Get("mv-auth")
		require.NoError(t, err)
		require.Equal(t, "second", v)
	})

	t.Run("keys are independent", func(t *testing.T) {
		require.NoError(t, s.Set("a", "1"))
		require.NoError(t, s.Set("a/b", "2"))
		v, err := s.Get("a")
		require.NoError(t, err)
		require.Equal(t, "1", v)
	})

	t.Run("remove", func(t *testing.T) {
		require.NoError(t, s.Set("gone", "x"))
		require.NoError(t, s.Remove("gone"))
		_, err := s.Get("gone")
		require.True(t, errors.Is(err, errors.ErrNotFound))
	})

	t.Run("remove missing is not an error", func(t *testing.T) {
		require.NoError(t, s.Remove("never-set"))
	})
}
