// Package server is the guard server: it owns the session cookie and keeps
// protected pages behind it.
package server

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-chi/chi/v5"
	"github.com/jrsteele09/go-auth-session/internal/config"
	"github.com/jrsteele09/go-auth-session/metrics"
	"github.com/jrsteele09/go-auth-session/token"
	"github.com/rs/zerolog/log"
)

type Server struct {
	env    string
	router chi.Router
	routes []string
	config config.Config

	keySet   oidc.KeySet
	revoked  token.RevocationList
	app      http.Handler
	metrics  *metrics.Metrics
	exporter http.Handler
	now      func() time.Time
}

type Option func(*Server)

// WithKeySet verifies cookie tokens against keys instead of the configured
// JWKS URL.
func WithKeySet(keys oidc.KeySet) Option {
	return func(s *Server) {
		s.keySet = keys
	}
}

// WithApp serves h behind the guard in place of the upstream proxy.
func WithApp(h http.Handler) Option {
	return func(s *Server) {
		s.app = h
	}
}

// WithMetrics records guard decisions on m and exposes exporter on /metrics.
func WithMetrics(m *metrics.Metrics, exporter http.Handler) Option {
	return func(s *Server) {
		s.metrics = m
		s.exporter = exporter
	}
}

// WithRevocationList shares logged-out tokens between guard instances.
func WithRevocationList(l token.RevocationList) Option {
	return func(s *Server) {
		s.revoked = l
	}
}

func WithNowFunc(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

func New(cfg config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		env:    cfg.GetEnv(),
		router: chi.NewRouter(),
		config: cfg,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.revoked == nil {
		s.revoked = token.NewMemoryRevocationList(s.now)
	}

	if s.keySet == nil && cfg.GetJWKSURL() != "" {
		s.keySet = oidc.NewRemoteKeySet(context.Background(), cfg.GetJWKSURL())
	}

	if s.app == nil {
		app, err := appHandler(cfg.GetUpstreamURL())
		if err != nil {
			return nil, fmt.Errorf("[Server New] %w", err)
		}
		s.app = app
	}

	s.initRoutes()
	s.logRoutes()
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) RegisterRoute(method, pattern string, handler http.Handler) {
	s.routes = append(s.routes, method+" "+pattern)
	s.router.Method(method, pattern, handler)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return
	}
	for _, route := range s.routes {
		var method, path string
		fmt.Sscanf(route, "%s %s", &method, &path)
		logRoute(method, path)
	}
}

func logRoute(method, path string) {
	log.Debug().Msgf("[%s %-7s%s] %s", methodColour(method), method, reset, path)
}

// appHandler proxies to upstream, or answers with the session's user when
// no upstream is configured.
func appHandler(upstream string) (http.Handler, error) {
	if upstream == "" {
		return http.HandlerFunc(sessionInfoHandler), nil
	}
	u, err := url.Parse(upstream)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream url %q: %w", upstream, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid upstream url %q", upstream)
	}
	return httputil.NewSingleHostReverseProxy(u), nil
}

func sessionInfoHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "path": r.URL.Path})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"authenticated": true, "path": r.URL.Path, "user": user})
}
