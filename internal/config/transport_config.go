package config

type TransportConfig interface {
	GetPublicEndpoints() []string
	GetLoginEndpoint() string
	GetRefreshEndpoint() string
	GetPublicKeyEndpoint() string
	GetLogoutURL() string
	GetSetCookieURL() string
}

type Transport struct{}

var _ TransportConfig = Transport{}

// GetPublicEndpoints lists path fragments that never carry a bearer token
func (Transport) GetPublicEndpoints() []string {
	return getList("PUBLIC_ENDPOINTS", []string{"/auth/login", "/security/public-key", "/dashboard/public-info"})
}

func (Transport) GetLoginEndpoint() string {
	return GetEnv("LOGIN_ENDPOINT", "/managers-users/auth/login")
}

func (Transport) GetRefreshEndpoint() string {
	return GetEnv("REFRESH_ENDPOINT", "/managers-users/auth/refresh-token")
}

func (Transport) GetPublicKeyEndpoint() string {
	return GetEnv("PUBLIC_KEY_ENDPOINT", "/security/public-key")
}

func (Transport) GetLogoutURL() string {
	return GetEnv("LOGOUT_URL", EnvVars{}.GetGuardBaseURL()+"/api/auth/logout")
}

func (Transport) GetSetCookieURL() string {
	return GetEnv("SET_COOKIE_URL", EnvVars{}.GetGuardBaseURL()+"/set-cookie")
}
