package server

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"redirectd/redirect"
)

// Hardcoded authorization code defaults
const (
	DefaultCodeTTL        = 2 * time.Minute
	DefaultRotateInterval = 24 * time.Hour
)

// Config captures the full application configuration loaded from YAML and environment variables.
type Config struct {
	Server        ServerConfig   `yaml:"server"`
	Redirect      RedirectConfig `yaml:"redirect"`
	OAuth2Clients []ClientConfig `yaml:"oauth2_clients"`
}

// ServerConfig controls listener, TLS, and HTTP concerns.
type ServerConfig struct {
	PublicURL       string        `yaml:"public_url"`
	DevListenAddr   string        `yaml:"dev_listen_addr"`
	HTTPListenAddr  string        `yaml:"http_listen_addr"`
	HTTPSListenAddr string        `yaml:"https_listen_addr"`
	DevMode         bool          `yaml:"dev_mode"`
	SecretsPath     string        `yaml:"secrets_path"`
	ServerID        string        `yaml:"server_id"`
	CodeTTL         time.Duration `yaml:"code_ttl"`
	KeyRotation     time.Duration `yaml:"key_rotation"`
	TLS             TLSConfig     `yaml:"tls"`
}

// TLSConfig defines autocert behaviour and TLS constraints.
type TLSConfig struct {
	Domains    []string `yaml:"domains"`
	Email      string   `yaml:"email"`
	MinVersion string   `yaml:"min_version"`
	HSTSMaxAge int      `yaml:"hsts_max_age"`
}

// RedirectConfig is the redirect URI matching policy shared by all clients.
type RedirectConfig struct {
	GrantTypes      []string `yaml:"grant_types"`
	MatchSubdomains bool     `yaml:"match_subdomains"`
	MatchPorts      bool     `yaml:"match_ports"`
}

// ClientConfig describes an OAuth client.
type ClientConfig struct {
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	GrantTypes   []string `yaml:"grant_types"`
	RedirectURIs []string `yaml:"redirect_uris"`
}

// Options converts the policy into resolver options.
func (rc RedirectConfig) Options() []redirect.Option {
	return []redirect.Option{
		redirect.WithRedirectGrantTypes(rc.GrantTypes...),
		redirect.WithMatchSubdomains(rc.MatchSubdomains),
		redirect.WithMatchPorts(rc.MatchPorts),
	}
}

// LoadConfig reads the YAML config file and merges environment overrides.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		sanitized := stripYAMLComments(b)

		// Use strict unmarshaling to detect unknown fields
		decoder := yaml.NewDecoder(bytes.NewReader(sanitized))
		decoder.KnownFields(true)

		if err := decoder.Decode(&cfg); err != nil {
			if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
				slog.Error("Configuration contains unknown keys", "error", err, "file", path)
				return Config{}, fmt.Errorf("invalid config: %w (check for typos or deprecated fields)", err)
			}
			slog.Error("Failed to parse configuration", "error", err, "file", path)
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		slog.Error("Configuration validation failed", "error", err)
		return Config{}, err
	}

	return cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			PublicURL:       "http://127.0.0.1:8080",
			DevListenAddr:   "127.0.0.1:8080",
			HTTPListenAddr:  ":80",
			HTTPSListenAddr: ":443",
			DevMode:         true,
			SecretsPath:     ".secrets",
			ServerID:        "redirectd",
			CodeTTL:         DefaultCodeTTL,
			KeyRotation:     DefaultRotateInterval,
			TLS: TLSConfig{
				Domains:    []string{"localhost"},
				MinVersion: "1.2",
				HSTSMaxAge: 31536000,
			},
		},
		Redirect: RedirectConfig{
			GrantTypes:      append([]string(nil), redirect.DefaultRedirectGrantTypes...),
			MatchSubdomains: false,
			MatchPorts:      true,
		},
	}
}

// DefaultConfig returns the default configuration template.
func DefaultConfig() Config {
	return defaultConfig()
}

func stripYAMLComments(in []byte) []byte {
	lines := bytes.Split(in, []byte("\n"))
	out := make([][]byte, 0, len(lines))
	for _, line := range lines {
		trim := bytes.TrimLeft(line, " \t")
		if len(trim) > 0 && trim[0] == '#' {
			continue
		}
		out = append(out, line)
	}
	return bytes.Join(out, []byte("\n"))
}

func applyEnvOverrides(cfg *Config) {
	overrides := map[string]func(string){
		"REDIRECTD_SERVER_PUBLIC_URL":        func(v string) { cfg.Server.PublicURL = v },
		"REDIRECTD_SERVER_DEV_LISTEN_ADDR":   func(v string) { cfg.Server.DevListenAddr = v },
		"REDIRECTD_SERVER_HTTP_LISTEN_ADDR":  func(v string) { cfg.Server.HTTPListenAddr = v },
		"REDIRECTD_SERVER_HTTPS_LISTEN_ADDR": func(v string) { cfg.Server.HTTPSListenAddr = v },
		"REDIRECTD_SERVER_DEV_MODE":          func(v string) { cfg.Server.DevMode = parseBool(v, cfg.Server.DevMode) },
		"REDIRECTD_SERVER_TLS_DOMAINS":       func(v string) { cfg.Server.TLS.Domains = splitAndTrim(v) },
		"REDIRECTD_SERVER_TLS_EMAIL":         func(v string) { cfg.Server.TLS.Email = v },
		"REDIRECTD_SERVER_SECRETS_PATH":      func(v string) { cfg.Server.SecretsPath = v },
		"REDIRECTD_SERVER_ID":                func(v string) { cfg.Server.ServerID = v },
		"REDIRECTD_SERVER_CODE_TTL":          func(v string) { cfg.Server.CodeTTL = parseDuration(v, cfg.Server.CodeTTL) },
		"REDIRECTD_REDIRECT_GRANT_TYPES":     func(v string) { cfg.Redirect.GrantTypes = splitAndTrim(v) },
		"REDIRECTD_REDIRECT_MATCH_SUBDOMAINS": func(v string) {
			cfg.Redirect.MatchSubdomains = parseBool(v, cfg.Redirect.MatchSubdomains)
		},
		"REDIRECTD_REDIRECT_MATCH_PORTS": func(v string) { cfg.Redirect.MatchPorts = parseBool(v, cfg.Redirect.MatchPorts) },
	}

	for key, fn := range overrides {
		if val, ok := os.LookupEnv(key); ok {
			fn(val)
		}
	}
}

func parseDuration(val string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return d
}

func parseBool(val string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate performs sanity checks on the config.
func (c Config) Validate() error {
	if c.Server.PublicURL == "" {
		slog.Error("Missing required configuration", "field", "server.public_url")
		return errors.New("server.public_url is required")
	}

	if !strings.HasPrefix(c.Server.PublicURL, "http://") && !strings.HasPrefix(c.Server.PublicURL, "https://") {
		slog.Error("Invalid configuration value", "field", "server.public_url", "value", c.Server.PublicURL, "reason", "must start with http:// or https://")
		return fmt.Errorf("server.public_url must start with http:// or https://, got: %s", c.Server.PublicURL)
	}

	if !c.Server.DevMode && len(c.Server.TLS.Domains) == 0 {
		slog.Error("Missing required configuration for production mode", "field", "server.tls.domains")
		return errors.New("server.tls.domains must be provided in production")
	}

	if c.Server.TLS.MinVersion != "" {
		validVersions := map[string]bool{"1.2": true, "1.3": true}
		if !validVersions[c.Server.TLS.MinVersion] {
			slog.Error("Invalid TLS minimum version", "field", "server.tls.min_version", "value", c.Server.TLS.MinVersion, "valid_values", []string{"1.2", "1.3"})
			return fmt.Errorf("server.tls.min_version must be '1.2' or '1.3', got: %s", c.Server.TLS.MinVersion)
		}
	}

	if c.Server.CodeTTL <= 0 {
		slog.Error("Invalid authorization code lifetime", "field", "server.code_ttl", "value", c.Server.CodeTTL)
		return fmt.Errorf("server.code_ttl must be positive, got: %s", c.Server.CodeTTL)
	}

	if len(c.Redirect.GrantTypes) == 0 {
		slog.Error("Missing required configuration", "field", "redirect.grant_types")
		return errors.New("redirect.grant_types must list at least one grant type")
	}

	if len(c.OAuth2Clients) == 0 {
		slog.Error("No OAuth2 clients configured")
		return errors.New("at least one OAuth2 client must be configured")
	}

	seen := make(map[string]bool, len(c.OAuth2Clients))
	for i, client := range c.OAuth2Clients {
		if client.ClientID == "" {
			slog.Error("OAuth2 client missing client_id", "index", i)
			return fmt.Errorf("oauth2_clients[%d]: client_id is required", i)
		}
		if seen[client.ClientID] {
			slog.Error("Duplicate OAuth2 client", "client_id", client.ClientID, "index", i)
			return fmt.Errorf("oauth2_clients[%d]: duplicate client_id %s", i, client.ClientID)
		}
		seen[client.ClientID] = true

		if len(client.GrantTypes) == 0 {
			slog.Error("OAuth2 client missing grant types", "client_id", client.ClientID, "index", i)
			return fmt.Errorf("oauth2_clients[%d] (%s): at least one grant_type is required", i, client.ClientID)
		}
		for j, uri := range client.RedirectURIs {
			if _, err := redirect.Parse(uri); err != nil {
				slog.Error("Invalid redirect URI", "client_id", client.ClientID, "redirect_uri", uri, "index", j, "error", err)
				return fmt.Errorf("oauth2_clients[%d] (%s): redirect_uris[%d] %q: %w", i, client.ClientID, j, uri, err)
			}
			if strings.Contains(uri, "#") {
				slog.Warn("Redirect URI contains a fragment that will be ignored", "client_id", client.ClientID, "redirect_uri", uri)
			}
		}
	}

	return nil
}
