// Package transport attaches the session's bearer token to outgoing calls
// and reports rejected tokens back to the session controller.
package transport

import (
	"net/http"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// loginPath marks the one call whose 401 means bad credentials rather than a
// rejected session.
const loginPath = "auth/login"

const maxRemembered = 64

var DefaultPublicEndpoints = []string{"/auth/login", "/security/public-key", "/dashboard/public-info"}

// UnauthorizedHandler is told when the backend rejects the session.
// *session.Controller implements it.
type UnauthorizedHandler interface {
	HandleUnauthorized()
}

// Authenticator is an http.RoundTripper.
type Authenticator struct {
	base    http.RoundTripper
	source  oauth2.TokenSource
	handler UnauthorizedHandler
	public  []string

	mu       sync.Mutex
	reported map[string]struct{}
}

type Option func(*Authenticator)

func WithBase(rt http.RoundTripper) Option {
	return func(a *Authenticator) {
		a.base = rt
	}
}

// WithPublicEndpoints replaces the path fragments that are sent without a
// bearer token.
func WithPublicEndpoints(paths []string) Option {
	return func(a *Authenticator) {
		a.public = paths
	}
}

// New reads the token from source on every request. handler may be set
// later with SetHandler, since the controller usually needs this transport
// to be built first.
func New(source oauth2.TokenSource, handler UnauthorizedHandler, opts ...Option) *Authenticator {
	a := &Authenticator{
		base:     http.DefaultTransport,
		source:   source,
		handler:  handler,
		public:   DefaultPublicEndpoints,
		reported: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Authenticator) SetHandler(h UnauthorizedHandler) {
	a.mu.Lock()
	a.handler = h
	a.mu.Unlock()
}

// Client wraps the authenticator in an *http.Client.
func (a *Authenticator) Client() *http.Client {
	return &http.Client{Transport: a}
}

func (a *Authenticator) RoundTrip(req *http.Request) (*http.Response, error) {
	var sent string
	if !a.isPublic(req.URL.Path) && a.source != nil {
		if tok, err := a.source.Token(); err == nil && tok.AccessToken != "" {
			req = req.Clone(req.Context())
			tok.SetAuthHeader(req)
			sent = tok.AccessToken
		}
	}

	resp, err := a.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized && !strings.Contains(req.URL.Path, loginPath) {
		a.unauthorized(req, sent)
	}
	return resp, nil
}

func (a *Authenticator) isPublic(path string) bool {
	for _, p := range a.public {
		if p != "" && strings.Contains(path, p) {
			return true
		}
	}
	return false
}

// unauthorized reports each rejected token once, however many in-flight
// calls carried it.
func (a *Authenticator) unauthorized(req *http.Request, accessToken string) {
	a.mu.Lock()
	if _, seen := a.reported[accessToken]; seen {
		a.mu.Unlock()
		return
	}
	if len(a.reported) >= maxRemembered {
		clear(a.reported)
	}
	a.reported[accessToken] = struct{}{}
	handler := a.handler
	a.mu.Unlock()

	log.Warn().Str("method", req.Method).Str("path", req.URL.Path).Msg("backend rejected session")
	if handler != nil {
		handler.HandleUnauthorized()
	}
}
