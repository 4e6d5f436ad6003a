package core

import (
	"time"

	"github.com/go-chi/chi/v5"
)

// defaultRedactedHeaders are masked in request logs.
var defaultRedactedHeaders = []string{
	"Authorization",
	"Cookie",
	"X-CSRF-Token",
}

// MountRoutes registers the middleware chain, /health and the /v1 group.
//
// Middleware order:
//  1. Recoverer        - outermost, catches every panic
//  2. ContextTimeout   - bounds Hub calls made on behalf of the request
//  3. RequestID        - correlation id, also forwarded to the Hub
//  4. SecurityHeaders
//  5. RequestLogger
func (s *Server) MountRoutes() {
	s.router.Use(s.Recoverer)
	s.router.Use(ContextTimeoutMiddleware(s.requestTimeout()))
	s.router.Use(RequestIDMiddleware)
	s.router.Use(SecurityHeadersMiddleware)
	s.router.Use(RequestLogger(s.Logger, defaultRedactedHeaders))

	s.router.Get("/health", s.HandleHealth)
	s.router.Route("/v1", func(r chi.Router) {
		for _, registrar := range s.V1RouteRegistrars {
			registrar(r)
		}
	})
}

// requestTimeout leaves the Hub client room for one full timeout plus the
// session login that may precede it.
func (s *Server) requestTimeout() time.Duration {
	if s.Config != nil && s.Config.Hub.Timeout > 0 {
		return 2*s.Config.Hub.Timeout + 5*time.Second
	}
	return defaultRequestTimeout
}

const defaultRequestTimeout = 60 * time.Second
