package server

import "redirectd/redirect"

// DiscoveryDocument is a simple alias for discovery metadata.
type DiscoveryDocument map[string]any

// BuildDiscoveryDocument constructs the OIDC discovery document.
func BuildDiscoveryDocument(issuer string, resolver *redirect.Resolver) DiscoveryDocument {
	return DiscoveryDocument{
		"issuer":                                issuer,
		"authorization_endpoint":                issuer + "/authorize",
		"jwks_uri":                              issuer + "/.well-known/jwks.json",
		"redirect_resolution_endpoint":          issuer + "/redirect/resolve",
		"response_types_supported":              []string{"code"},
		"grant_types_supported":                 resolver.RedirectGrantTypes(),
		"subject_types_supported":               []string{"public"},
		"id_token_signing_alg_values_supported": []string{"RS256"},
		"token_endpoint_auth_methods_supported": []string{"client_secret_basic", "client_secret_post", "none"},
	}
}
