package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"

	"redirectd/redirect"
)

// snapshot is the reloadable part of the application. It is replaced as a
// whole and never mutated once published.
type snapshot struct {
	config   Config
	resolver *redirect.Resolver
	clients  *ClientRegistry
}

// App bundles runtime dependencies for the HTTP service.
type App struct {
	Logger *slog.Logger
	JWKS   *JWKSManager
	Codes  *CodeIssuer

	issuer string
	state  atomic.Pointer[snapshot]
}

// NewApp wires together the application state from configuration.
func NewApp(ctx context.Context, cfg Config, logger *slog.Logger) (*App, error) {
	snap, err := buildSnapshot(cfg)
	if err != nil {
		return nil, err
	}

	jwks, err := NewJWKSManager(cfg.Server.SecretsPath, cfg.Server.KeyRotation, logger)
	if err != nil {
		return nil, fmt.Errorf("init jwks: %w", err)
	}

	issuer := strings.TrimSuffix(cfg.Server.PublicURL, "/")
	app := &App{
		Logger: logger,
		JWKS:   jwks,
		Codes:  NewCodeIssuer(issuer, cfg.Server.CodeTTL, jwks),
		issuer: issuer,
	}
	app.state.Store(snap)

	logger.InfoContext(ctx, "redirect policy loaded",
		"clients", snap.clients.Len(),
		"grant_types", snap.resolver.RedirectGrantTypes(),
		"match_subdomains", snap.resolver.MatchSubdomains(),
		"match_ports", snap.resolver.MatchPorts())
	return app, nil
}

func buildSnapshot(cfg Config) (*snapshot, error) {
	clients, err := NewClientRegistry(cfg.OAuth2Clients)
	if err != nil {
		return nil, err
	}
	return &snapshot{
		config:   cfg,
		resolver: redirect.New(cfg.Redirect.Options()...),
		clients:  clients,
	}, nil
}

// Reload swaps in the clients and redirect policy from cfg. Requests already
// in flight finish against the previous snapshot. Listener, key and issuer
// settings are only read at startup.
func (a *App) Reload(cfg Config) error {
	snap, err := buildSnapshot(cfg)
	if err != nil {
		return err
	}
	prev := a.state.Swap(snap)
	if prev != nil && prev.config.Server.PublicURL != cfg.Server.PublicURL {
		a.Logger.Warn("server.public_url change requires restart", "current", a.issuer)
	}
	a.Logger.Info("configuration reloaded",
		"clients", snap.clients.Len(),
		"match_subdomains", snap.resolver.MatchSubdomains(),
		"match_ports", snap.resolver.MatchPorts())
	return nil
}

// Config returns the configuration currently in effect.
func (a *App) Config() Config {
	return a.state.Load().config
}

// ResolveRedirect resolves requested for clientID against the current snapshot.
func (a *App) ResolveRedirect(clientID, requested string) (string, error) {
	snap := a.state.Load()
	client, ok := snap.clients.Get(clientID)
	if !ok {
		return "", ErrInvalidClient
	}
	return snap.resolver.Resolve(requested, client)
}

func (a *App) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, BuildDiscoveryDocument(a.issuer, a.state.Load().resolver))
}

func (a *App) handleJWKS(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.JWKS.PublicJWKS())
}

func (a *App) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "invalid form")
		return
	}

	snap := a.state.Load()
	clientID := r.Form.Get("client_id")
	requested := r.Form.Get("redirect_uri")
	state := r.Form.Get("state")

	client, ok := snap.clients.Get(clientID)
	if !ok {
		a.Logger.Warn("authorize unknown client", "client_id", clientID)
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "unknown client_id")
		return
	}

	resolved, err := snap.resolver.Resolve(requested, client)
	if err != nil {
		a.Logger.Warn("authorize redirect rejected",
			"client_id", clientID,
			"redirect_uri", requested,
			"error", err)
		writeOAuthError(w, http.StatusBadRequest, redirect.ErrorCode(err), err.Error())
		return
	}

	// The redirect URI is trusted from here on, so later errors go back to
	// the client instead of being shown to the user.
	target, _, _ := strings.Cut(resolved, "#")

	switch responseType := r.Form.Get("response_type"); {
	case responseType != "code":
		redirectError(w, target, state, "unsupported_response_type", "only response_type=code is supported")
		return
	case !client.HasGrantType("authorization_code"):
		redirectError(w, target, state, "unauthorized_client", "client is not allowed to use the authorization code grant")
		return
	}

	code, err := a.Codes.Issue(client.ClientID, target, r.Form.Get("scope"), r.Form.Get("nonce"))
	if err != nil {
		a.Logger.Error("authorize issue code", "client_id", clientID, "error", err)
		redirectError(w, target, state, "server_error", "failed to issue code")
		return
	}

	params := url.Values{"code": {code}}
	if state != "" {
		params.Set("state", state)
	}
	a.Logger.Debug("authorize redirect", "client_id", clientID, "redirect_uri", target)
	w.Header().Set("Location", appendParams(target, params))
	w.WriteHeader(http.StatusFound)
}

type resolveResponse struct {
	ClientID    string `json:"client_id"`
	RedirectURI string `json:"redirect_uri"`
}

// handleResolve lets an authenticated client check a redirect URI without
// starting an authorization flow.
func (a *App) handleResolve(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "invalid form")
		return
	}

	clientID, secret, err := clientCredentials(r)
	if err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	snap := a.state.Load()
	client, err := snap.clients.Authenticate(clientID, secret)
	if err != nil {
		a.Logger.Warn("resolve client authentication failed", "client_id", clientID)
		w.Header().Set("WWW-Authenticate", `Basic realm="redirectd"`)
		writeOAuthError(w, http.StatusUnauthorized, "invalid_client", "client authentication failed")
		return
	}

	requested := r.PostForm.Get("redirect_uri")
	resolved, err := snap.resolver.Resolve(requested, client)
	if err != nil {
		a.Logger.Info("resolve rejected", "client_id", clientID, "redirect_uri", requested, "error", err)
		writeOAuthError(w, http.StatusBadRequest, redirect.ErrorCode(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resolveResponse{ClientID: client.ClientID, RedirectURI: resolved})
}

// clientCredentials reads client_secret_basic or client_secret_post credentials.
func clientCredentials(r *http.Request) (string, string, error) {
	if user, pass, ok := r.BasicAuth(); ok {
		id, err := url.QueryUnescape(user)
		if err != nil {
			return "", "", errors.New("malformed basic credentials")
		}
		secret, err := url.QueryUnescape(pass)
		if err != nil {
			return "", "", errors.New("malformed basic credentials")
		}
		if r.PostForm.Get("client_id") != "" && r.PostForm.Get("client_id") != id {
			return "", "", errors.New("client_id mismatch")
		}
		return id, secret, nil
	}
	id := r.PostForm.Get("client_id")
	if id == "" {
		return "", "", errors.New("client_id required")
	}
	return id, r.PostForm.Get("client_secret"), nil
}

type oauthErrorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeOAuthError(w http.ResponseWriter, status int, code, desc string) {
	writeJSON(w, status, oauthErrorBody{Error: code, ErrorDescription: desc})
}

// redirectError sends an error to a redirect URI that has already been
// resolved for the client.
func redirectError(w http.ResponseWriter, target, state, code, desc string) {
	params := url.Values{"error": {code}}
	if desc != "" {
		params.Set("error_description", desc)
	}
	if state != "" {
		params.Set("state", state)
	}
	w.Header().Set("Location", appendParams(target, params))
	w.WriteHeader(http.StatusFound)
}
