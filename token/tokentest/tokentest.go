// Package tokentest builds signed access tokens for tests.
package tokentest

import (
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var testSecret = []byte("tokentest-secret")

// AccessToken returns an HS256 token carrying the claims the backend issues,
// expiring at exp. Extra claims override the defaults.
func AccessToken(t testing.TB, exp time.Time, extra map[string]any) string {
	t.Helper()

	claims := jwtlib.MapClaims{
		"Id":          "42",
		"username":    "jane@example.com",
		"fullName":    "Jane Doe",
		"role":        "ADMIN",
		"permissions": []string{"organizations.read", "organizations.write"},
		"jti":         uuid.NewString(),
	}
	if !exp.IsZero() {
		claims["exp"] = exp.Unix()
	}
	for k, v := range extra {
		if v == nil {
			delete(claims, k)
			continue
		}
		claims[k] = v
	}

	signed, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign access token: %v", err)
	}
	return signed
}
