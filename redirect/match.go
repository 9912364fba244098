package redirect

import (
	"slices"
	"strings"
)

// matches reports whether requested satisfies every rule against registered.
func (r *Resolver) matches(requested, registered *URI) bool {
	return requested.Scheme == registered.Scheme &&
		userInfoMatches(requested, registered) &&
		r.hostMatches(requested, registered) &&
		r.portMatches(requested, registered) &&
		requested.Path == registered.Path &&
		queryMatches(requested.Query, registered.Query)
}

func userInfoMatches(requested, registered *URI) bool {
	if requested.HasUserInfo != registered.HasUserInfo {
		return false
	}
	return requested.UserInfo == registered.UserInfo
}

func (r *Resolver) hostMatches(requested, registered *URI) bool {
	if requested.HasHost != registered.HasHost {
		return false
	}
	if strings.EqualFold(requested.Host, registered.Host) {
		return true
	}
	if !r.matchSubdomains || registered.Host == "" {
		return false
	}
	return strings.HasSuffix(strings.ToLower(requested.Host), "."+strings.ToLower(registered.Host))
}

func (r *Resolver) portMatches(requested, registered *URI) bool {
	if !r.matchPorts {
		return true
	}
	return requested.HasPort == registered.HasPort && requested.Port == registered.Port
}

// queryMatches requires every registered parameter to appear in requested
// with the same multiset of values. Extra requested parameters are allowed.
func queryMatches(requested, registered Query) bool {
	for _, key := range registered.keys {
		want := registered.values[key]
		got, ok := requested.values[key]
		if !ok || len(got) != len(want) {
			return false
		}
		if !sameValues(got, want) {
			return false
		}
	}
	return true
}

func sameValues(a, b []string) bool {
	x := slices.Clone(a)
	y := slices.Clone(b)
	slices.Sort(x)
	slices.Sort(y)
	return slices.Equal(x, y)
}
