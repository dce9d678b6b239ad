package server

import (
	"encoding/json"
	"net/http"

	"github.com/jrsteele09/go-auth-session/token"
	"github.com/rs/zerolog/log"
)

const maxCookieBody = 64 << 10

type setCookieRequest struct {
	Token string `json:"token"`
}

// SetCookieHandler stores the posted access token in the session cookie.
func (s *Server) SetCookieHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req setCookieRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCookieBody)).Decode(&req); err != nil {
			log.Error().Err(err).Msg("cookie error")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Invalid request"})
			return
		}
		if req.Token == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Missing token"})
			return
		}

		http.SetCookie(w, s.sessionCookie(req.Token, int(s.config.GetCookieMaxAge().Seconds())))
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

// LogoutHandler expires the session cookie and refuses its token from then
// on, in case a copy of the cookie is replayed. The body, if any, is ignored.
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cookie, err := r.Cookie(s.config.GetCookieName()); err == nil && cookie.Value != "" {
			exp := token.ExpirationOf(cookie.Value)
			if exp.IsZero() {
				exp = s.now().Add(s.config.GetCookieMaxAge())
			}
			s.revoked.Revoke(token.RevocationKey(cookie.Value), exp)
		}
		http.SetCookie(w, s.sessionCookie("", -1))
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

func (s *Server) sessionCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     s.config.GetCookieName(),
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.config.GetSecureCookies(),
		SameSite: http.SameSiteStrictMode,
		MaxAge:   maxAge,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("writing response")
	}
}
