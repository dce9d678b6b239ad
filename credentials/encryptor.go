// Package credentials encrypts the login password with the backend's RSA
// public key before it leaves the process.
package credentials

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// KeyFetcher returns the backend's public key. *apiclient.Client implements it.
type KeyFetcher interface {
	FetchPublicKey(ctx context.Context) (string, error)
}

// Encryptor caches the public key for the life of the process. Concurrent
// first callers share one fetch; a failed fetch is never cached.
type Encryptor struct {
	fetcher KeyFetcher
	group   singleflight.Group

	mu  sync.RWMutex
	key *rsa.PublicKey
}

func New(fetcher KeyFetcher) *Encryptor {
	return &Encryptor{fetcher: fetcher}
}

// Encrypt returns base64 RSA PKCS#1 v1.5 ciphertext of plaintext. Every
// failure wraps errors.ErrEncryptionUnavailable.
func (e *Encryptor) Encrypt(ctx context.Context, plaintext string) (string, error) {
	key, err := e.publicKey(ctx)
	if err != nil {
		return "", fmt.Errorf("[Encryptor Encrypt] %w: %v", errors.ErrEncryptionUnavailable, err)
	}

	ciphertext, err := rsa.EncryptPKCS1v15(rand.Reader, key, []byte(plaintext))
	if err != nil {
		return "", fmt.Errorf("[Encryptor Encrypt] %w: %v", errors.ErrEncryptionUnavailable, err)
	}
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Reset drops the cached key so the next Encrypt fetches it again.
func (e *Encryptor) Reset() {
	e.mu.Lock()
	e.key = nil
	e.mu.Unlock()
}

func (e *Encryptor) cached() *rsa.PublicKey {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.key
}

func (e *Encryptor) publicKey(ctx context.Context) (*rsa.PublicKey, error) {
	if key := e.cached(); key != nil {
		return key, nil
	}

	v, err, shared := e.group.Do("public-key", func() (any, error) {
		if key := e.cached(); key != nil {
			return key, nil
		}

		raw, err := e.fetcher.FetchPublicKey(ctx)
		if err != nil {
			return nil, err
		}
		key, err := ParsePublicKey(raw)
		if err != nil {
			return nil, err
		}

		e.mu.Lock()
		e.key = key
		e.mu.Unlock()
		log.Debug().Int("bits", key.N.BitLen()).Msg("public key cached")
		return key, nil
	})
	if err != nil {
		log.Warn().Err(err).Bool("shared", shared).Msg("fetching public key")
		return nil, err
	}
	return v.(*rsa.PublicKey), nil
}
