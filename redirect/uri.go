package redirect

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// URI is a redirect URI split into the components the matcher compares.
// Nothing is decoded or normalized: every field holds the literal text of the
// original string. The fragment is dropped during parsing.
type URI struct {
	Scheme      string
	UserInfo    string
	HasUserInfo bool
	Host        string
	HasHost     bool
	Port        int
	HasPort     bool
	Path        string
	Query       Query
}

// Parse decomposes raw into a URI without percent-decoding or removing dot
// segments. A URI without an authority (scheme:/path) parses with no host,
// port or user-info.
func Parse(raw string) (*URI, error) {
	raw = stripFragment(raw)

	scheme, rest, err := splitScheme(raw)
	if err != nil {
		return nil, err
	}
	u := &URI{Scheme: scheme}

	if strings.HasPrefix(rest, "//") {
		rest = rest[2:]
		end := strings.IndexAny(rest, "/?")
		if end == -1 {
			end = len(rest)
		}
		if err := u.parseAuthority(rest[:end]); err != nil {
			return nil, err
		}
		rest = rest[end:]
	}

	path, rawQuery, hasQuery := strings.Cut(rest, "?")
	u.Path = path
	if hasQuery {
		u.Query = ParseQuery(rawQuery)
	}
	return u, nil
}

// stripFragment removes everything from the first '#'. No other component
// may contain an unescaped '#', so this is the fragment delimiter.
func stripFragment(raw string) string {
	if i := strings.IndexByte(raw, '#'); i >= 0 {
		return raw[:i]
	}
	return raw
}

func splitScheme(raw string) (string, string, error) {
	i := strings.IndexByte(raw, ':')
	if i <= 0 {
		return "", "", errors.New("missing scheme")
	}
	scheme := raw[:i]
	for j := 0; j < len(scheme); j++ {
		c := scheme[j]
		switch {
		case isAlpha(c):
		case j > 0 && (isDigit(c) || c == '+' || c == '-' || c == '.'):
		default:
			return "", "", fmt.Errorf("invalid scheme %q", scheme)
		}
	}
	return scheme, raw[i+1:], nil
}

func (u *URI) parseAuthority(authority string) error {
	if strings.Count(authority, "@") > 1 {
		return errors.New("authority contains more than one '@'")
	}
	if userInfo, hostPort, ok := strings.Cut(authority, "@"); ok {
		u.UserInfo = userInfo
		u.HasUserInfo = true
		authority = hostPort
	}

	host, port, err := splitHostPort(authority)
	if err != nil {
		return err
	}
	u.Host = host
	u.HasHost = true
	if port != "" {
		n, err := strconv.Atoi(port)
		if err != nil || n < 0 || n > 65535 {
			return fmt.Errorf("invalid port %q", port)
		}
		u.Port = n
		u.HasPort = true
	}
	return nil
}

// splitHostPort separates host and port, keeping IPv6 literals bracketed.
// An empty port after ':' is rejected so that "host:" never equals "host".
func splitHostPort(hostPort string) (string, string, error) {
	if strings.HasPrefix(hostPort, "[") {
		end := strings.IndexByte(hostPort, ']')
		if end == -1 {
			return "", "", errors.New("unterminated IPv6 literal")
		}
		host, tail := hostPort[:end+1], hostPort[end+1:]
		if !validIPLiteral(host[1 : len(host)-1]) {
			return "", "", fmt.Errorf("invalid host %q", host)
		}
		if tail == "" {
			return host, "", nil
		}
		if tail[0] != ':' || len(tail) == 1 {
			return "", "", fmt.Errorf("invalid port in %q", hostPort)
		}
		p, err := checkDigits(tail[1:])
		return host, p, err
	}

	host, port, ok := strings.Cut(hostPort, ":")
	if !validRegName(host) {
		return "", "", fmt.Errorf("invalid host %q", host)
	}
	if !ok {
		return host, "", nil
	}
	if port == "" {
		return "", "", fmt.Errorf("empty port in %q", hostPort)
	}
	p, err := checkDigits(port)
	return host, p, err
}

// validRegName accepts unreserved and sub-delim characters only, so a
// backslash, '%', whitespace or control character never reaches the
// subdomain suffix comparison.
func validRegName(host string) bool {
	for i := 0; i < len(host); i++ {
		if !isUnreserved(host[i]) && !isSubDelim(host[i]) {
			return false
		}
	}
	return true
}

// validIPLiteral checks the text between '[' and ']'.
func validIPLiteral(lit string) bool {
	if lit == "" {
		return false
	}
	for i := 0; i < len(lit); i++ {
		c := lit[i]
		if c != ':' && !isUnreserved(c) && !isSubDelim(c) {
			return false
		}
	}
	return true
}

func checkDigits(port string) (string, error) {
	for i := 0; i < len(port); i++ {
		if !isDigit(port[i]) {
			return "", fmt.Errorf("invalid port %q", port)
		}
	}
	return port, nil
}

func isAlpha(c byte) bool { return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') }

func isDigit(c byte) bool { return '0' <= c && c <= '9' }

func isUnreserved(c byte) bool {
	return isAlpha(c) || isDigit(c) || c == '-' || c == '.' || c == '_' || c == '~'
}

func isSubDelim(c byte) bool {
	return strings.IndexByte("!$&'()*+,;=", c) >= 0
}

// Query is the multi-valued, order-preserving view of a query string.
// Keys and values are kept exactly as written.
type Query struct {
	keys   []string
	values map[string][]string
}

// ParseQuery splits a raw query on '&' and '='. A parameter written without
// '=' is present with an empty value. Empty pairs are skipped.
func ParseQuery(raw string) Query {
	q := Query{values: make(map[string][]string)}
	for _, pair := range strings.Split(raw, "&") {
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		if _, seen := q.values[key]; !seen {
			q.keys = append(q.keys, key)
		}
		q.values[key] = append(q.values[key], value)
	}
	return q
}

// Keys returns parameter names in order of first appearance.
func (q Query) Keys() []string {
	return append([]string(nil), q.keys...)
}

// Get returns every value recorded for key and whether the key was present.
func (q Query) Get(key string) ([]string, bool) {
	v, ok := q.values[key]
	return append([]string(nil), v...), ok
}

// Len reports the number of distinct parameter names.
func (q Query) Len() int { return len(q.keys) }
