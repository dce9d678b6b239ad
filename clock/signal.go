package clock

import "time"

// Signal is emitted by the clock towards the session controller.
type Signal int

const (
	None Signal = iota
	// NeedsRefresh asks the controller to renew the access token.
	NeedsRefresh
	// SessionExpired reports that the session can no longer be renewed: the
	// refresh token has lapsed, or the access token is past the stale grace.
	SessionExpired
)

func (s Signal) String() string {
	switch s {
	case NeedsRefresh:
		return "NEEDS_REFRESH"
	case SessionExpired:
		return "SESSION_EXPIRED"
	default:
		return "NONE"
	}
}

// Evaluate decides what, if anything, the clock should emit at now.
//
// An access token within threshold of expiry, or already expired while the
// refresh token lives, needs a refresh. With a non-zero grace an access token
// expired for longer than grace is no longer refreshable and ends the
// session. A lapsed refresh token always wins.
func Evaluate(now, accessAt, refreshAt time.Time, threshold, grace time.Duration) Signal {
	if refreshAt.Sub(now) <= 0 {
		return SessionExpired
	}
	if accessAt.IsZero() {
		return None
	}

	accessRemaining := accessAt.Sub(now)
	if accessRemaining > threshold {
		return None
	}
	if grace > 0 && accessRemaining <= -grace {
		return SessionExpired
	}
	return NeedsRefresh
}
