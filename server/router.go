package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes constructs the HTTP router with the authorization and redirect endpoints.
func (a *App) Routes() http.Handler {
	cfg := a.Config()
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(a.Logger))
	r.Use(RecoveryMiddleware(a.Logger))
	if !cfg.Server.DevMode {
		r.Use(SecurityHeadersMiddleware(cfg.Server.TLS.HSTSMaxAge))
	}

	r.Get("/.well-known/openid-configuration", a.handleDiscovery)
	r.Get("/.well-known/jwks.json", a.handleJWKS)
	r.Get("/jwks.json", a.handleJWKS)

	r.Get("/authorize", a.handleAuthorize)
	r.Post("/redirect/resolve", a.handleResolve)

	return r
}
