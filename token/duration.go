package token

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/jrsteele09/go-auth-session/internal/errors"
)

var durationUnits = map[byte]time.Duration{
	's': time.Second,
	'm': time.Minute,
	'h': time.Hour,
	'd': 24 * time.Hour,
}

// ParseExpiresIn resolves a "<integer><unit>" duration string relative to
// from. Units are s, m, h and d (any case). A string with no recognised unit
// is a whole number of seconds.
func ParseExpiresIn(expiresIn string, from time.Time) (time.Time, error) {
	d, err := ParseDuration(expiresIn)
	if err != nil {
		return time.Time{}, err
	}
	return from.Add(d), nil
}

// ParseDuration converts a "<integer><unit>" duration string.
func ParseDuration(expiresIn string) (time.Duration, error) {
	s := strings.TrimSpace(expiresIn)
	if s == "" {
		return 0, errors.Wrapf(errors.ErrInvalidDuration, "empty")
	}

	unit, ok := durationUnits[lower(s[len(s)-1])]
	number := s
	if ok {
		number = s[:len(s)-1]
	} else {
		unit = time.Second
	}

	n, err := strconv.ParseInt(number, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(errors.ErrInvalidDuration, "%q", expiresIn)
	}
	if limit := math.MaxInt64 / int64(unit); n > limit || n < -limit {
		return 0, errors.Wrapf(errors.ErrInvalidDuration, "%q out of range", expiresIn)
	}
	return time.Duration(n) * unit, nil
}

func lower(b byte) byte {
	if b >= 'A' && b <= 'Z' {
		return b + ('a' - 'A')
	}
	return b
}
