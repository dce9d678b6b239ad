package config

// AgentConfig holds the settings of the headless keep-alive agent.
type AgentConfig interface {
	GetLoginEmail() string
	GetLoginPassword() string
	GetMetricsAddr() string
}

type Agent struct{}

var _ AgentConfig = Agent{}

func (Agent) GetLoginEmail() string {
	return GetEnv("AGENT_EMAIL", "")
}

// GetLoginPassword is only read when no persisted session can be restored
func (Agent) GetLoginPassword() string {
	return GetEnv("AGENT_PASSWORD", "")
}

// GetMetricsAddr enables a Prometheus endpoint on the agent when set
func (Agent) GetMetricsAddr() string {
	return GetEnv("METRICS_ADDR", "")
}
