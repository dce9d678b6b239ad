package config

import "time"

type SessionConfig interface {
	GetStorageKey() string
	GetDefaultRefreshExpiry() time.Duration
	GetRefreshMaxRetries() int
	GetRefreshRetryBackoff() time.Duration
	GetRequestTimeout() time.Duration
}

type Session struct{}

var _ SessionConfig = Session{}

func (Session) GetStorageKey() string {
	return GetEnv("SESSION_STORAGE_KEY", "mv-auth")
}

// GetDefaultRefreshExpiry applies to persisted sessions written without a
// refresh expiry
func (Session) GetDefaultRefreshExpiry() time.Duration {
	return getDuration("SESSION_DEFAULT_REFRESH_EXPIRY", 7*24*time.Hour)
}

// GetRefreshMaxRetries is the number of extra attempts made on a transient
// refresh failure. Zero means any failure ends the session.
func (Session) GetRefreshMaxRetries() int {
	n := getInt("SESSION_REFRESH_MAX_RETRIES", 0)
	if n < 0 {
		return 0
	}
	return n
}

func (Session) GetRefreshRetryBackoff() time.Duration {
	return getDuration("SESSION_REFRESH_RETRY_BACKOFF", 500*time.Millisecond)
}

func (Session) GetRequestTimeout() time.Duration {
	return getDuration("SESSION_REQUEST_TIMEOUT", 30*time.Second)
}
