// Package sealed encrypts values at rest on top of any storage backend.
package sealed

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/jrsteele09/go-auth-session/internal/errors"
	"golang.org/x/crypto/chacha20poly1305"
)

// Backend is the storage being sealed.
type Backend interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Remove(key string) error
}

// Store seals values with XChaCha20-Poly1305. The key name is bound as
// additional data, so a value copied under another key fails to open.
type Store struct {
	inner Backend
	aead  cipher.AEAD
}

func New(inner Backend, key []byte) (*Store, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("sealed store key: %w", err)
	}
	return &Store{inner: inner, aead: aead}, nil
}

func (s *Store) Get(key string) (string, error) {
	raw, err := s.inner.Get(key)
	if err != nil {
		return "", err
	}

	b, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return "", fmt.Errorf("sealed store decode: %w", err)
	}
	ns := s.aead.NonceSize()
	if len(b) < ns {
		return "", errors.Wrapf(errors.ErrInternal, "sealed value too short")
	}

	plain, err := s.aead.Open(nil, b[:ns], b[ns:], []byte(key))
	if err != nil {
		return "", fmt.Errorf("sealed store open: %w", err)
	}
	return string(plain), nil
}

func (s *Store) Set(key, value string) error {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(value)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("sealed store nonce: %w", err)
	}
	sealed := s.aead.Seal(nonce, nonce, []byte(value), []byte(key))
	return s.inner.Set(key, base64.StdEncoding.EncodeToString(sealed))
}

func (s *Store) Remove(key string) error {
	return s.inner.Remove(key)
}

// Close closes the sealed backend when it holds resources.
func (s *Store) Close() error {
	if c, ok := s.inner.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
