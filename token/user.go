package token

import (
	"fmt"
	"slices"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/internal/utils"
)

// User is the read-only projection of the identity claims carried by an
// access token. It is always replaced together with the token it came from.
type User struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"name"`
	Role        string    `json:"role"`
	Permissions []string  `json:"permissions"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// HasPermission reports whether the user was granted permission p
func (u User) HasPermission(p string) bool {
	return slices.Contains(u.Permissions, p)
}

// DecodeUser extracts the user from an access token without verifying its
// signature. The backend is the only party that validates tokens; the client
// only needs to read them.
func DecodeUser(rawToken string) (User, error) {
	claims, err := parseClaims(rawToken)
	if err != nil {
		return User{}, err
	}

	user := User{
		ID:          claimString(claims, "Id"),
		Email:       claimString(claims, "username"),
		DisplayName: claimString(claims, "fullName"),
		Role:        claimString(claims, "role"),
		Permissions: permissionSet(claims["permissions"]),
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		user.ExpiresAt = exp.Time
	}
	return user, nil
}

// ExpirationOf returns the exp claim of rawToken, or the zero time when the
// token cannot be read or has no exp.
func ExpirationOf(rawToken string) time.Time {
	claims, err := parseClaims(rawToken)
	if err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

func parseClaims(rawToken string) (jwtlib.MapClaims, error) {
	if strings.TrimSpace(rawToken) == "" {
		return nil, errors.Wrapf(errors.ErrMalformedToken, "empty token")
	}

	parsed, _, err := jwtlib.NewParser().ParseUnverified(rawToken, jwtlib.MapClaims{})
	if err != nil {
		return nil, errors.Wrapf(errors.ErrMalformedToken, "%v", err)
	}

	claims, ok := parsed.Claims.(jwtlib.MapClaims)
	if !ok {
		return nil, errors.Wrapf(errors.ErrMalformedToken, "error extracting claims")
	}
	return claims, nil
}

func claimString(claims jwtlib.MapClaims, name string) string {
	switch v := claims[name].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		// numeric ids are common for Id
		return fmt.Sprintf("%.0f", v)
	default:
		return fmt.Sprint(v)
	}
}

func permissionSet(raw any) []string {
	switch v := raw.(type) {
	case []any:
		return utils.ToStringSet(v)
	case string:
		return utils.ToStringSet(strings.Fields(strings.ReplaceAll(v, ",", " ")))
	}
	return []string{}
}
