// Package client is a relying-party helper for redirectd. It discovers the
// server, builds authorization URLs, checks redirect URIs ahead of time and
// validates the authorization codes delivered to the callback.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// Config describes a registered client.
type Config struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	CacheTTL     time.Duration
	HTTPClient   *http.Client
}

// Client talks to a redirectd instance on behalf of one registered client.
type Client struct {
	cfg        Config
	httpClient *http.Client
	provider   *oidc.Provider
	oauth2     oauth2.Config
	resolveURL string
	validator  *Validator
}

// ResolveError is returned when the server rejects a redirect URI.
type ResolveError struct {
	Status      int
	Code        string
	Description string
}

func (e *ResolveError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("redirect rejected: %s", e.Code)
	}
	return fmt.Sprintf("redirect rejected: %s: %s", e.Code, e.Description)
}

type providerMetadata struct {
	JWKSURL    string `json:"jwks_uri"`
	ResolveURL string `json:"redirect_resolution_endpoint"`
}

// New performs discovery against cfg.Issuer.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Issuer == "" || cfg.ClientID == "" {
		return nil, errors.New("issuer and client id are required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, httpClient), cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("discover provider: %w", err)
	}
	var meta providerMetadata
	if err := provider.Claims(&meta); err != nil {
		return nil, fmt.Errorf("decode provider metadata: %w", err)
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID}
	}

	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		provider:   provider,
		oauth2: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       scopes,
		},
		resolveURL: meta.ResolveURL,
		validator: NewValidator(ValidatorConfig{
			Issuer:     cfg.Issuer,
			JWKSURL:    meta.JWKSURL,
			ClientID:   cfg.ClientID,
			CacheTTL:   cfg.CacheTTL,
			HTTPClient: httpClient,
		}),
	}, nil
}

// AuthCodeURL returns the URL that starts an authorization request.
func (c *Client) AuthCodeURL(state string, opts ...oauth2.AuthCodeOption) string {
	return c.oauth2.AuthCodeURL(state, opts...)
}

// ResolveRedirect asks the server which redirect URI it would use for
// redirectURI. An empty redirectURI asks for the default registration.
func (c *Client) ResolveRedirect(ctx context.Context, redirectURI string) (string, error) {
	if c.resolveURL == "" {
		return "", errors.New("provider does not advertise a redirect resolution endpoint")
	}

	form := url.Values{}
	if redirectURI != "" {
		form.Set("redirect_uri", redirectURI)
	}
	if c.cfg.ClientSecret == "" {
		form.Set("client_id", c.cfg.ClientID)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.resolveURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if c.cfg.ClientSecret != "" {
		req.SetBasicAuth(url.QueryEscape(c.cfg.ClientID), url.QueryEscape(c.cfg.ClientSecret))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body struct {
			Error            string `json:"error"`
			ErrorDescription string `json:"error_description"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return "", &ResolveError{Status: resp.StatusCode, Code: body.Error, Description: body.ErrorDescription}
	}

	var body struct {
		RedirectURI string `json:"redirect_uri"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode resolve response: %w", err)
	}
	return body.RedirectURI, nil
}

// VerifyCode validates a code received on the callback. The code must have
// been issued for the configured redirect URL.
func (c *Client) VerifyCode(ctx context.Context, code string) (*CodeClaims, error) {
	return c.validator.Validate(ctx, code, c.cfg.RedirectURL)
}

// HandleCallback validates the code and state on a callback request.
func (c *Client) HandleCallback(r *http.Request, expectedState string) (*CodeClaims, error) {
	q := r.URL.Query()
	if errCode := q.Get("error"); errCode != "" {
		return nil, fmt.Errorf("authorization failed: %s: %s", errCode, q.Get("error_description"))
	}
	if expectedState != "" && q.Get("state") != expectedState {
		return nil, errors.New("state mismatch")
	}
	return c.VerifyCode(r.Context(), q.Get("code"))
}
