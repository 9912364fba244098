package server

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidClient is returned for unknown clients and bad credentials.
var ErrInvalidClient = errors.New("invalid_client")

// Client records OAuth client metadata.
type Client struct {
	ClientID     string
	ClientSecret string
	GrantTypes   []string
	RedirectURIs []string
	Public       bool
}

// AuthorizedGrantTypes implements redirect.Client.
func (c *Client) AuthorizedGrantTypes() []string { return c.GrantTypes }

// RegisteredRedirectURIs implements redirect.Client.
func (c *Client) RegisteredRedirectURIs() []string { return c.RedirectURIs }

// HasGrantType reports whether the client may use grantType.
func (c *Client) HasGrantType(grantType string) bool {
	return slices.Contains(c.GrantTypes, grantType)
}

// ClientRegistry holds registered OAuth clients. It is built once per
// configuration load and never mutated afterwards.
type ClientRegistry struct {
	clients map[string]*Client
}

// NewClientRegistry builds the registry from configuration.
func NewClientRegistry(cfgs []ClientConfig) (*ClientRegistry, error) {
	clients := make(map[string]*Client, len(cfgs))
	for _, cfg := range cfgs {
		if cfg.ClientID == "" {
			return nil, errors.New("client_id required")
		}
		if _, dup := clients[cfg.ClientID]; dup {
			return nil, fmt.Errorf("duplicate client_id %s", cfg.ClientID)
		}
		clients[cfg.ClientID] = &Client{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			GrantTypes:   slices.Clone(cfg.GrantTypes),
			RedirectURIs: slices.Clone(cfg.RedirectURIs),
			Public:       cfg.ClientSecret == "",
		}
	}
	return &ClientRegistry{clients: clients}, nil
}

// Get retrieves a client definition.
func (cr *ClientRegistry) Get(id string) (*Client, bool) {
	client, ok := cr.clients[id]
	return client, ok
}

// Len reports the number of registered clients.
func (cr *ClientRegistry) Len() int { return len(cr.clients) }

// Authenticate validates client credentials. Public clients authenticate by
// id alone; confidential clients must present their secret.
func (cr *ClientRegistry) Authenticate(id, secret string) (*Client, error) {
	client, ok := cr.clients[id]
	if !ok {
		return nil, ErrInvalidClient
	}
	if client.Public {
		return client, nil
	}
	if secret == "" || !secretMatches(client.ClientSecret, secret) {
		return nil, ErrInvalidClient
	}
	return client, nil
}

// secretMatches accepts bcrypt hashes ($2a$, $2b$, $2y$) or plaintext secrets.
func secretMatches(stored, presented string) bool {
	if isBcryptHash(stored) {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(presented)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) == 1
}

func isBcryptHash(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}

// HashSecret returns a bcrypt hash suitable for client_secret in config.
func HashSecret(secret string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash secret: %w", err)
	}
	return string(h), nil
}
