package token

import (
	"time"
)

// Pair is an access token and refresh token issued together, with the
// absolute instants at which each stops being accepted. RefreshTokenExpiresAt
// is expected to be after AccessTokenExpiresAt but this is not enforced.
type Pair struct {
	AccessToken           string
	AccessTokenExpiresAt  time.Time
	RefreshToken          string
	RefreshTokenExpiresAt time.Time
}

// IsZero reports whether the pair carries no access token
func (p Pair) IsZero() bool {
	return p.AccessToken == ""
}

// Grant is a login or refresh response normalised at the API boundary.
// Durations are still in their wire form ("1h", "30m", "45").
type Grant struct {
	AccessToken      string
	AccessExpiresIn  string
	RefreshToken     string
	RefreshExpiresIn string
}

// ToPair resolves a grant into absolute expiry times. The access expiry comes
// from the token's exp claim when present and from AccessExpiresIn otherwise.
func (g Grant) ToPair(issuedAt time.Time) (Pair, error) {
	accessAt := ExpirationOf(g.AccessToken)
	if accessAt.IsZero() {
		var err error
		if accessAt, err = ParseExpiresIn(g.AccessExpiresIn, issuedAt); err != nil {
			return Pair{}, err
		}
	}

	refreshAt, err := ParseExpiresIn(g.RefreshExpiresIn, issuedAt)
	if err != nil {
		return Pair{}, err
	}

	return Pair{
		AccessToken:           g.AccessToken,
		AccessTokenExpiresAt:  accessAt,
		RefreshToken:          g.RefreshToken,
		RefreshTokenExpiresAt: refreshAt,
	}, nil
}

// UnixMilli converts t to epoch milliseconds, with the zero time as 0
func UnixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// FromUnixMilli is the inverse of UnixMilli
func FromUnixMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
