package token

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// RevocationList remembers access tokens that were logged out before they
// expired.
type RevocationList interface {
	Revoke(key string, exp time.Time)
	IsRevoked(key string) bool
	Cleanup()
}

// RevocationKey identifies rawToken by its jti claim, or by a hash of the
// whole token when it has none.
func RevocationKey(rawToken string) string {
	if claims, err := parseClaims(rawToken); err == nil {
		if jti := claimString(claims, "jti"); jti != "" {
			return "jti:" + jti
		}
	}
	sum := sha256.Sum256([]byte(rawToken))
	return "sha256:" + hex.EncodeToString(sum[:])
}

// MemoryRevocationList drops entries once the token would have expired
// anyway.
type MemoryRevocationList struct {
	revoked map[string]time.Time
	mu      sync.RWMutex
	now     func() time.Time
}

// NewMemoryRevocationList measures expiry against now, or time.Now when nil.
func NewMemoryRevocationList(now func() time.Time) *MemoryRevocationList {
	if now == nil {
		now = time.Now
	}
	return &MemoryRevocationList{
		revoked: make(map[string]time.Time),
		now:     now,
	}
}

func (l *MemoryRevocationList) Revoke(key string, exp time.Time) {
	l.Cleanup()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.revoked[key] = exp
}

func (l *MemoryRevocationList) IsRevoked(key string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	exp, exists := l.revoked[key]
	return exists && l.now().Before(exp)
}

func (l *MemoryRevocationList) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for key, exp := range l.revoked {
		if !now.Before(exp) {
			delete(l.revoked, key)
		}
	}
}
