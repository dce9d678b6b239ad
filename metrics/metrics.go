// Package metrics exposes Prometheus collectors for the session lifecycle.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "session"

type Metrics struct {
	logins        *prometheus.CounterVec
	refreshes     *prometheus.CounterVec
	forcedLogouts *prometheus.CounterVec
	clockSignals  *prometheus.CounterVec
	cookieSyncs   *prometheus.CounterVec
	guardChecks   *prometheus.CounterVec
	authenticated prometheus.Gauge
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Login attempts by result.",
		}, []string{"result"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refreshes_total",
			Help:      "Access token refreshes by result.",
		}, []string{"result"}),
		forcedLogouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logouts_total",
			Help:      "Sessions ended, by reason.",
		}, []string{"reason"}),
		clockSignals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_clock_signals_total",
			Help:      "Signals emitted by the token clock.",
		}, []string{"signal"}),
		cookieSyncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cookie_syncs_total",
			Help:      "Server cookie updates by result.",
		}, []string{"result"}),
		guardChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guard_checks_total",
			Help:      "Protected route checks by decision.",
		}, []string{"decision"}),
		authenticated: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "authenticated",
			Help:      "1 while a session is authenticated.",
		}),
	}

	for _, c := range []prometheus.Collector{m.logins, m.refreshes, m.forcedLogouts, m.clockSignals, m.cookieSyncs, m.guardChecks, m.authenticated} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) Login(result string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(result).Inc()
}

func (m *Metrics) Refresh(result string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(result).Inc()
}

func (m *Metrics) Logout(reason string) {
	if m == nil {
		return
	}
	m.forcedLogouts.WithLabelValues(reason).Inc()
}

func (m *Metrics) ClockSignal(signal string) {
	if m == nil {
		return
	}
	m.clockSignals.WithLabelValues(signal).Inc()
}

func (m *Metrics) CookieSync(result string) {
	if m == nil {
		return
	}
	m.cookieSyncs.WithLabelValues(result).Inc()
}

func (m *Metrics) GuardCheck(decision string) {
	if m == nil {
		return
	}
	m.guardChecks.WithLabelValues(decision).Inc()
}

func (m *Metrics) SetAuthenticated(authenticated bool) {
	if m == nil {
		return
	}
	if authenticated {
		m.authenticated.Set(1)
		return
	}
	m.authenticated.Set(0)
}
