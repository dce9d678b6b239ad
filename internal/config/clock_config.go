package config

import "time"

type ClockConfig interface {
	GetPollInterval() time.Duration
	GetRefreshThreshold() time.Duration
	GetStaleGrace() time.Duration
}

type Clock struct{}

var _ ClockConfig = Clock{}

// GetPollInterval is how often the token clock re-evaluates expiry
func (Clock) GetPollInterval() time.Duration {
	return getDuration("CLOCK_POLL_INTERVAL", 5*time.Second)
}

// GetRefreshThreshold is how long before access expiry a refresh is requested
func (Clock) GetRefreshThreshold() time.Duration {
	return getDuration("CLOCK_REFRESH_THRESHOLD", 30*time.Second)
}

// GetStaleGrace is how long past access expiry a refresh is still attempted.
// Zero means for as long as the refresh token lives.
func (Clock) GetStaleGrace() time.Duration {
	return getDuration("CLOCK_STALE_GRACE", 0)
}
