package server

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/jrsteele09/go-auth-session/token"
	"github.com/rs/zerolog/log"
)

type contextKey string

const ContextKeyUser contextKey = "session_user"

// UserFromContext returns the user RequireSession admitted.
func UserFromContext(ctx context.Context) (token.User, bool) {
	user, ok := ctx.Value(ContextKeyUser).(token.User)
	return user, ok
}

// RequireSession redirects requests for protected paths to the login page
// unless they carry the session cookie. With a key set configured the
// cookie's token must also be validly signed and unexpired.
func (s *Server) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.isProtected(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		cookie, err := r.Cookie(s.config.GetCookieName())
		if err != nil || cookie.Value == "" {
			s.metrics.GuardCheck("no_cookie")
			s.redirectToLogin(w, r)
			return
		}

		if s.revoked.IsRevoked(token.RevocationKey(cookie.Value)) {
			s.metrics.GuardCheck("revoked")
			s.redirectToLogin(w, r)
			return
		}

		user, err := s.verify(r.Context(), cookie.Value)
		if err != nil {
			s.metrics.GuardCheck("invalid")
			log.Info().Err(err).Str("path", r.URL.Path).Msg("session cookie rejected")
			s.redirectToLogin(w, r)
			return
		}

		s.metrics.GuardCheck("allow")
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ContextKeyUser, user)))
	})
}

func (s *Server) isProtected(path string) bool {
	if slices.Contains(s.config.GetPublicPaths(), path) {
		return false
	}
	for _, prefix := range s.config.GetProtectedPrefixes() {
		if path == prefix || strings.HasPrefix(path, strings.TrimSuffix(prefix, "/")+"/") {
			return true
		}
	}
	return false
}

func (s *Server) verify(ctx context.Context, raw string) (token.User, error) {
	if s.keySet != nil {
		if _, err := s.keySet.VerifySignature(ctx, raw); err != nil {
			return token.User{}, fmt.Errorf("signature: %w", err)
		}
	}

	user, err := token.DecodeUser(raw)
	if err != nil {
		return token.User{}, err
	}
	if s.keySet != nil && !user.ExpiresAt.IsZero() && !user.ExpiresAt.After(s.now()) {
		return token.User{}, fmt.Errorf("token expired at %s", user.ExpiresAt)
	}
	return user, nil
}

func (s *Server) redirectToLogin(w http.ResponseWriter, r *http.Request) {
	target := s.config.GetLoginPath() + "?next=" + url.QueryEscape(r.URL.RequestURI())
	http.Redirect(w, r, target, http.StatusSeeOther)
}
