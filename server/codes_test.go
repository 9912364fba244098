package server

import (
	"io"
	"log/slog"
	"net/url"
	"testing"
	"time"
)

func newTestIssuer(t *testing.T) *CodeIssuer {
	t.Helper()
	keys, err := NewJWKSManager("", 0, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewJWKSManager: %v", err)
	}
	return NewCodeIssuer("https://auth.example.com", time.Minute, keys)
}

func TestCodeIssueAndVerify(t *testing.T) {
	ci := newTestIssuer(t)

	code, err := ci.Issue("webapp", "https://app.example.com/cb?x=1", "openid", "n-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	claims, err := ci.Verify(code, "webapp")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.RedirectURI != "https://app.example.com/cb?x=1" {
		t.Fatalf("redirect uri mismatch: %q", claims.RedirectURI)
	}
	if claims.Subject != "webapp" || claims.Scope != "openid" || claims.Nonce != "n-1" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if claims.ID == "" {
		t.Fatalf("code should carry a jti")
	}
}

func TestCodeVerifyRejects(t *testing.T) {
	ci := newTestIssuer(t)
	code, err := ci.Issue("webapp", "https://app.example.com/cb", "", "")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := ci.Verify("", "webapp"); err == nil {
		t.Fatalf("empty code should fail")
	}
	if _, err := ci.Verify(code, "other"); err == nil {
		t.Fatalf("code must not verify for another client")
	}
	if _, err := ci.Verify(code+"x", "webapp"); err == nil {
		t.Fatalf("tampered code should fail")
	}

	other := newTestIssuer(t)
	if _, err := other.Verify(code, "webapp"); err == nil {
		t.Fatalf("code signed by another key set should fail")
	}

	ci.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, err := ci.Verify(code, "webapp"); err == nil {
		t.Fatalf("expired code should fail")
	}
}

func TestAppendParams(t *testing.T) {
	params := url.Values{"code": {"abc"}}
	tests := []struct {
		target string
		want   string
	}{
		{"https://app.example.com/cb", "https://app.example.com/cb?code=abc"},
		{"https://app.example.com/cb?x=1", "https://app.example.com/cb?x=1&code=abc"},
		{"https://app.example.com/cb?", "https://app.example.com/cb?code=abc"},
		{"https://app.example.com/cb?x=1&", "https://app.example.com/cb?x=1&code=abc"},
		{"https://app.example.com/a%2Fb?q=%20", "https://app.example.com/a%2Fb?q=%20&code=abc"},
		{"com.example.app:/oauth", "com.example.app:/oauth?code=abc"},
	}
	for _, tt := range tests {
		if got := appendParams(tt.target, params); got != tt.want {
			t.Errorf("appendParams(%q) = %q, want %q", tt.target, got, tt.want)
		}
	}
	if got := appendParams("https://app.example.com/cb", url.Values{}); got != "https://app.example.com/cb" {
		t.Errorf("empty params should leave target untouched, got %q", got)
	}
}
