package server

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CodeClaims are carried by an authorization code. The code binds the
// resolved redirect URI so a later exchange can require the same value.
type CodeClaims struct {
	RedirectURI string `json:"redirect_uri"`
	Scope       string `json:"scope,omitempty"`
	Nonce       string `json:"nonce,omitempty"`
	jwt.RegisteredClaims
}

// CodeIssuer signs short-lived authorization codes.
type CodeIssuer struct {
	issuer string
	ttl    time.Duration
	keys   *JWKSManager
	now    func() time.Time
}

// NewCodeIssuer returns an issuer signing with keys.
func NewCodeIssuer(issuer string, ttl time.Duration, keys *JWKSManager) *CodeIssuer {
	return &CodeIssuer{issuer: issuer, ttl: ttl, keys: keys, now: time.Now}
}

// Issue creates a code for clientID bound to redirectURI.
func (ci *CodeIssuer) Issue(clientID, redirectURI, scope, nonce string) (string, error) {
	now := ci.now()
	claims := CodeClaims{
		RedirectURI: redirectURI,
		Scope:       scope,
		Nonce:       nonce,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ci.issuer,
			Subject:   clientID,
			Audience:  jwt.ClaimStrings{clientID},
			ID:        randomID(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ci.ttl)),
		},
	}
	code, err := ci.keys.Sign(claims)
	if err != nil {
		return "", fmt.Errorf("sign code: %w", err)
	}
	return code, nil
}

// Verify parses a code issued to clientID and returns its claims.
func (ci *CodeIssuer) Verify(raw, clientID string) (*CodeClaims, error) {
	if raw == "" {
		return nil, errors.New("code required")
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(ci.issuer),
		jwt.WithAudience(clientID),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(ci.now),
	)
	claims := &CodeClaims{}
	if _, err := parser.ParseWithClaims(raw, claims, ci.keys.Keyfunc); err != nil {
		return nil, fmt.Errorf("verify code: %w", err)
	}
	return claims, nil
}

// appendParams adds params to target without re-encoding target itself.
func appendParams(target string, params url.Values) string {
	encoded := params.Encode()
	if encoded == "" {
		return target
	}
	sep := "?"
	if strings.Contains(target, "?") {
		sep = "&"
		if strings.HasSuffix(target, "?") || strings.HasSuffix(target, "&") {
			sep = ""
		}
	}
	return target + sep + encoded
}
