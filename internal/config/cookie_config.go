package config

import "time"

type CookieConfig interface {
	GetCookieName() string
	GetCookieMaxAge() time.Duration
	GetSecureCookies() bool
	GetLoginPath() string
	GetProtectedPrefixes() []string
	GetPublicPaths() []string
	GetJWKSURL() string
}

type Cookie struct{}

var _ CookieConfig = Cookie{}

func (Cookie) GetCookieName() string {
	return GetEnv("COOKIE_NAME", "mv_token")
}

func (Cookie) GetCookieMaxAge() time.Duration {
	return 24 * time.Hour
}

// GetSecureCookies defaults to true everywhere except DEV
func (Cookie) GetSecureCookies() bool {
	return getBool("COOKIE_SECURE", EnvVars{}.GetEnv() != "DEV")
}

func (Cookie) GetLoginPath() string {
	return GetEnv("LOGIN_PATH", "/login")
}

func (Cookie) GetProtectedPrefixes() []string {
	return getList("PROTECTED_PREFIXES", []string{"/dashboard", "/users", "/organizations"})
}

func (Cookie) GetPublicPaths() []string {
	return getList("PUBLIC_PATHS", []string{"/login", "/"})
}

// GetJWKSURL enables signature checking of the session cookie when set
func (Cookie) GetJWKSURL() string {
	return GetEnv("JWKS_URL", "")
}
