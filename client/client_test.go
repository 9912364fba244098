package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"redirectd/server"
)

func startServer(t *testing.T) *httptest.Server {
	t.Helper()
	var handler http.Handler
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	cfg := server.DefaultConfig()
	cfg.Server.PublicURL = srv.URL
	cfg.Server.SecretsPath = ""
	cfg.OAuth2Clients = []server.ClientConfig{
		{
			ClientID:     "webapp",
			ClientSecret: "s3cret",
			GrantTypes:   []string{"authorization_code"},
			RedirectURIs: []string{"http://127.0.0.1:3000/callback"},
		},
		{
			ClientID:     "native",
			GrantTypes:   []string{"authorization_code"},
			RedirectURIs: []string{"com.example.app:/oauth", "com.example.app:/other"},
		},
	}
	app, err := server.NewApp(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	handler = app.Routes()
	return srv
}

func newTestClient(t *testing.T, srv *httptest.Server, cfg Config) *Client {
	t.Helper()
	cfg.Issuer = srv.URL
	cfg.HTTPClient = srv.Client()
	c, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestAuthorizationRoundTrip(t *testing.T) {
	srv := startServer(t)
	c := newTestClient(t, srv, Config{
		ClientID:     "webapp",
		ClientSecret: "s3cret",
		RedirectURL:  "http://127.0.0.1:3000/callback",
	})

	authURL := c.AuthCodeURL("state-1")
	noFollow := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := noFollow.Get(authURL)
	if err != nil {
		t.Fatalf("authorize request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("expected 302, got %d", resp.StatusCode)
	}

	loc, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		t.Fatalf("parse location: %v", err)
	}
	callback := httptest.NewRequest(http.MethodGet, loc.String(), nil)
	claims, err := c.HandleCallback(callback, "state-1")
	if err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	if claims.ClientID != "webapp" || claims.RedirectURI != "http://127.0.0.1:3000/callback" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if len(claims.Scopes) != 1 || claims.Scopes[0] != "openid" {
		t.Fatalf("unexpected scopes %v", claims.Scopes)
	}

	if _, err := c.HandleCallback(callback, "other-state"); err == nil {
		t.Fatalf("state mismatch should fail")
	}
}

func TestVerifyCodeRequiresSameRedirect(t *testing.T) {
	srv := startServer(t)
	issuing := newTestClient(t, srv, Config{
		ClientID:    "native",
		RedirectURL: "com.example.app:/other",
	})
	verifying := newTestClient(t, srv, Config{
		ClientID:    "native",
		RedirectURL: "com.example.app:/oauth",
	})

	noFollow := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := noFollow.Get(issuing.AuthCodeURL("s"))
	if err != nil {
		t.Fatalf("authorize request: %v", err)
	}
	resp.Body.Close()
	loc, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		t.Fatalf("parse location: %v", err)
	}
	code := loc.Query().Get("code")

	if _, err := issuing.VerifyCode(context.Background(), code); err != nil {
		t.Fatalf("code should verify for its own redirect: %v", err)
	}
	if _, err := verifying.VerifyCode(context.Background(), code); err == nil {
		t.Fatalf("code bound to another redirect_uri should fail")
	}
}

func TestResolveRedirect(t *testing.T) {
	srv := startServer(t)
	confidential := newTestClient(t, srv, Config{ClientID: "webapp", ClientSecret: "s3cret"})
	public := newTestClient(t, srv, Config{ClientID: "native"})

	got, err := confidential.ResolveRedirect(context.Background(), "")
	if err != nil {
		t.Fatalf("default redirect: %v", err)
	}
	if got != "http://127.0.0.1:3000/callback" {
		t.Fatalf("unexpected default redirect %q", got)
	}

	got, err = public.ResolveRedirect(context.Background(), "com.example.app:/oauth?x=1#f")
	if err != nil {
		t.Fatalf("public resolve: %v", err)
	}
	if got != "com.example.app:/oauth?x=1" {
		t.Fatalf("unexpected redirect %q", got)
	}

	_, err = public.ResolveRedirect(context.Background(), "")
	var resolveErr *ResolveError
	if !errors.As(err, &resolveErr) || resolveErr.Code != "invalid_grant" {
		t.Fatalf("ambiguous default should be invalid_grant, got %v", err)
	}

	_, err = confidential.ResolveRedirect(context.Background(), "http://127.0.0.1:3000/callback/../admin")
	if !errors.As(err, &resolveErr) || resolveErr.Status != http.StatusBadRequest {
		t.Fatalf("traversal should be rejected, got %v", err)
	}

	wrongSecret := newTestClient(t, srv, Config{ClientID: "webapp", ClientSecret: "nope"})
	_, err = wrongSecret.ResolveRedirect(context.Background(), "")
	if !errors.As(err, &resolveErr) || resolveErr.Code != "invalid_client" {
		t.Fatalf("wrong secret should be invalid_client, got %v", err)
	}
}

func TestMaxCacheDuration(t *testing.T) {
	if got := maxCacheDuration("public, max-age=60", 0); got.Seconds() != 60 {
		t.Fatalf("unexpected duration %s", got)
	}
	if got := maxCacheDuration("no-cache", 0); got.Minutes() != 5 {
		t.Fatalf("unexpected fallback %s", got)
	}
}
