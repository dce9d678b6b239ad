package config

// Config is the complete configuration surface consumed by the session
// manager, the guard server and the agent.
type Config interface {
	EnvConfig
	ClockConfig
	SessionConfig
	CookieConfig
	StorageConfig
	TransportConfig
	AgentConfig
}

type EnvConfig interface {
	GetAppName() string
	GetEnv() string
	GetPort() string
	GetLogLevel() string
	GetAPIBaseURL() string
	GetGuardBaseURL() string
	GetUpstreamURL() string
}

type mainConfig struct {
	EnvVars
	Clock
	Session
	Cookie
	Storage
	Transport
	Agent
}

func New() Config {
	return mainConfig{}
}

// IsDev reports whether the environment is the development one.
func IsDev(c EnvConfig) bool {
	return c.GetEnv() == "DEV"
}
