// Package redirect decides where an authorization response may be sent.
//
// A Resolver compares a requested redirect URI against the URIs registered
// for a client. Comparison is structural and literal: paths are never
// cleaned or decoded, so traversal sequences simply fail to match.
package redirect

import (
	"fmt"
	"slices"
)

// DefaultRedirectGrantTypes are the grant types that use a redirect URI.
var DefaultRedirectGrantTypes = []string{"authorization_code", "implicit"}

// Client is the read-only view of a registered client the resolver needs.
type Client interface {
	AuthorizedGrantTypes() []string
	RegisteredRedirectURIs() []string
}

// Resolver validates redirect URIs. It is immutable after New and safe for
// concurrent use.
type Resolver struct {
	grantTypes      map[string]struct{}
	matchSubdomains bool
	matchPorts      bool
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithRedirectGrantTypes replaces the set of grant types eligible for
// redirect validation.
func WithRedirectGrantTypes(grantTypes ...string) Option {
	return func(r *Resolver) {
		r.grantTypes = make(map[string]struct{}, len(grantTypes))
		for _, gt := range grantTypes {
			r.grantTypes[gt] = struct{}{}
		}
	}
}

// WithMatchSubdomains accepts dot-delimited subdomains of a registered host.
func WithMatchSubdomains(enabled bool) Option {
	return func(r *Resolver) { r.matchSubdomains = enabled }
}

// WithMatchPorts controls whether ports, including their absence, must be
// equal. Enabled by default.
func WithMatchPorts(enabled bool) Option {
	return func(r *Resolver) { r.matchPorts = enabled }
}

// New builds a Resolver. Without options it accepts authorization_code and
// implicit clients, requires exact hosts and requires equal ports.
func New(opts ...Option) *Resolver {
	r := &Resolver{matchPorts: true}
	WithRedirectGrantTypes(DefaultRedirectGrantTypes...)(r)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RedirectGrantTypes returns the eligible grant types in sorted order.
func (r *Resolver) RedirectGrantTypes() []string {
	out := make([]string, 0, len(r.grantTypes))
	for gt := range r.grantTypes {
		out = append(out, gt)
	}
	slices.Sort(out)
	return out
}

// MatchSubdomains reports whether subdomain matching is enabled.
func (r *Resolver) MatchSubdomains() bool { return r.matchSubdomains }

// MatchPorts reports whether port matching is enabled.
func (r *Resolver) MatchPorts() bool { return r.matchPorts }

// Resolve returns the URI an authorization response may be redirected to.
// An empty requested value means no redirect_uri was supplied.
//
// On success the result is either the client's single registered URI,
// unchanged, or requested with its fragment removed.
func (r *Resolver) Resolve(requested string, client Client) (string, error) {
	if err := r.checkGrantTypes(client.AuthorizedGrantTypes()); err != nil {
		return "", err
	}

	registered := client.RegisteredRedirectURIs()
	if requested == "" {
		if len(registered) != 1 {
			return "", fmt.Errorf("%w: redirect_uri required when %d are registered", ErrMismatch, len(registered))
		}
		return registered[0], nil
	}
	if len(registered) == 0 {
		return "", fmt.Errorf("%w: at least one redirect_uri must be registered with the client", ErrNoRegistration)
	}

	req, err := Parse(requested)
	if err != nil {
		return "", fmt.Errorf("%w: invalid redirect_uri: %v", ErrMismatch, err)
	}
	// Registered URIs are tried in registration order. Any match yields the
	// same result since the value returned is derived from requested.
	for _, candidate := range registered {
		reg, err := Parse(candidate)
		if err != nil {
			continue
		}
		if r.matches(req, reg) {
			return stripFragment(requested), nil
		}
	}
	return "", fmt.Errorf("%w: %s does not match one of the registered values", ErrMismatch, stripFragment(requested))
}

func (r *Resolver) checkGrantTypes(authorized []string) error {
	if len(authorized) == 0 {
		return fmt.Errorf("%w: client has no authorized grant types", ErrGrantType)
	}
	for _, gt := range authorized {
		if _, ok := r.grantTypes[gt]; ok {
			return nil
		}
	}
	return fmt.Errorf("%w: redirect_uri can only be used by %v", ErrGrantType, r.RedirectGrantTypes())
}
