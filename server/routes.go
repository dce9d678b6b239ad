package server

import "net/http"

const (
	RouteSetCookie = "/set-cookie"
	RouteLogout    = "/api/auth/logout"
	RouteHealth    = "/health"
	RouteMetrics   = "/metrics"
)

func (s *Server) initRoutes() {
	s.router.Use(s.RecoverMiddleware, s.LoggingMiddleware, s.FrameSecurityMiddleware)

	s.RegisterRoute(http.MethodPost, RouteSetCookie, s.SetCookieHandler())
	s.RegisterRoute(http.MethodPost, RouteLogout, s.LogoutHandler())
	s.RegisterRoute(http.MethodGet, RouteHealth, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}))
	if s.exporter != nil {
		s.RegisterRoute(http.MethodGet, RouteMetrics, s.exporter)
	}

	// everything else belongs to the application, behind the session check
	s.routes = append(s.routes, "* /*")
	s.router.With(s.RequireSession).Handle("/*", s.app)
}
