// Package apiclient calls the authentication backend: public key, login,
// refresh and logout.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/jrsteele09/go-auth-session/internal/config"
	"github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/token"
)

const maxBodyBytes = 1 << 20

// StatusError is a non-2xx answer from the backend.
type StatusError struct {
	Status  int
	Code    string
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend returned %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("backend returned %d", e.Status)
}

func (e *StatusError) StatusCode() int {
	return e.Status
}

// Transient reports whether retrying the same request may succeed.
func (e *StatusError) Transient() bool {
	return e.Status >= http.StatusInternalServerError || e.Status == http.StatusTooManyRequests
}

// IsTransient is true for transport failures and retryable statuses.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Transient()
	}
	return !errors.Is(err, context.Canceled)
}

type Endpoints struct {
	PublicKey string
	Login     string
	Refresh   string
	// Logout may be absolute; it usually points at the guard server.
	Logout string
}

func DefaultEndpoints() Endpoints {
	return Endpoints{
		PublicKey: "/security/public-key",
		Login:     "/managers-users/auth/login",
		Refresh:   "/managers-users/auth/refresh-token",
		Logout:    "/api/auth/logout",
	}
}

func EndpointsFromConfig(cfg config.TransportConfig) Endpoints {
	return Endpoints{
		PublicKey: cfg.GetPublicKeyEndpoint(),
		Login:     cfg.GetLoginEndpoint(),
		Refresh:   cfg.GetRefreshEndpoint(),
		Logout:    cfg.GetLogoutURL(),
	}
}

type Client struct {
	http      *http.Client
	baseURL   string
	endpoints Endpoints
}

type Option func(*Client)

func WithEndpoints(e Endpoints) Option {
	return func(c *Client) {
		c.endpoints = e
	}
}

// New uses httpClient for every call. Its transport is expected to be the
// bearer-attaching round tripper.
func New(httpClient *http.Client, baseURL string, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := &Client{
		http:      httpClient,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		endpoints: DefaultEndpoints(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// envelope is the backend's response shape: status fields flattened next to
// the payload. Both spellings of the expiry fields are accepted.
type envelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`

	PublicKey string `json:"publicKey"`

	AccessToken           string `json:"accessToken"`
	AccessTokenExpiresIn  string `json:"accessTokenExpiresIn"`
	AccessExpiresIn       string `json:"accessExpiresIn"`
	RefreshToken          string `json:"refreshToken"`
	RefreshTokenExpiresIn string `json:"refreshTokenExpiresIn"`
	RefreshExpiresIn      string `json:"refreshExpiresIn"`
}

func (e envelope) grant() token.Grant {
	return token.Grant{
		AccessToken:      e.AccessToken,
		AccessExpiresIn:  firstNonEmpty(e.AccessTokenExpiresIn, e.AccessExpiresIn),
		RefreshToken:     e.RefreshToken,
		RefreshExpiresIn: firstNonEmpty(e.RefreshTokenExpiresIn, e.RefreshExpiresIn),
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func (c *Client) FetchPublicKey(ctx context.Context) (string, error) {
	env, err := c.do(ctx, http.MethodGet, c.endpoints.PublicKey, nil)
	if err != nil {
		return "", errors.Wrapf(err, "[Client FetchPublicKey]")
	}
	if env.PublicKey == "" {
		return "", fmt.Errorf("[Client FetchPublicKey] response carries no publicKey")
	}
	return env.PublicKey, nil
}

// Login sends the already encrypted password.
func (c *Client) Login(ctx context.Context, email, encryptedPassword string) (token.Grant, error) {
	body := map[string]string{"email": email, "password": encryptedPassword}
	env, err := c.do(ctx, http.MethodPost, c.endpoints.Login, body)
	if err != nil {
		return token.Grant{}, errors.Wrapf(err, "[Client Login]")
	}
	if env.AccessToken == "" {
		return token.Grant{}, errors.Wrapf(errors.ErrMalformedToken, "[Client Login] no accessToken in response")
	}
	return env.grant(), nil
}

func (c *Client) Refresh(ctx context.Context, refreshToken string) (token.Grant, error) {
	body := map[string]string{"refreshToken": refreshToken}
	env, err := c.do(ctx, http.MethodPost, c.endpoints.Refresh, body)
	if err != nil {
		return token.Grant{}, errors.Wrapf(err, "[Client Refresh]")
	}
	if env.AccessToken == "" {
		return token.Grant{}, errors.Wrapf(errors.ErrRefreshRejected, "[Client Refresh] no accessToken in response")
	}
	return env.grant(), nil
}

// Logout asks the server to drop its side of the session.
func (c *Client) Logout(ctx context.Context, refreshToken string) error {
	var body any
	if refreshToken != "" {
		body = map[string]string{"refreshToken": refreshToken}
	}
	if _, err := c.do(ctx, http.MethodPost, c.endpoints.Logout, body); err != nil {
		return errors.Wrapf(err, "[Client Logout]")
	}
	return nil
}

func (c *Client) url(endpoint string) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	return c.baseURL + endpoint
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any) (envelope, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return envelope{}, err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(endpoint), reader)
	if err != nil {
		return envelope{}, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return envelope{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return envelope{}, err
	}

	var env envelope
	if len(bytes.TrimSpace(raw)) > 0 {
		if jerr := json.Unmarshal(raw, &env); jerr != nil && resp.StatusCode < 300 {
			return envelope{}, fmt.Errorf("decoding response: %w", jerr)
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return envelope{}, &StatusError{Status: resp.StatusCode, Code: env.Code, Message: env.Message}
	}
	return env, nil
}
