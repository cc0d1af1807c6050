// Package httpurl implements a canonical http/https URL model: parsing,
// relative resolution, percent-encoding, and IDN host canonicalization, per
// RFC 3986 with the leniency spec.md §4.A calls for.
package httpurl

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"golang.org/x/net/idna"
)

// InvalidURLError is returned by Parse (and panicked by MustParse) when a
// string cannot be interpreted as an absolute http/https URL.
type InvalidURLError struct {
	Input  string
	Reason string
}

func (e *InvalidURLError) Error() string {
	return fmt.Sprintf("invalid url %q: %s", e.Input, e.Reason)
}

// URL is an immutable, canonical http/https URL.
//
// Path is stored as an ordered sequence of decoded segments; the invariant
// len(Path) >= 1 always holds, and the last segment is empty if and only if
// the URL's path ends in "/". Query is an alternating [name0, value0?,
// name1, value1?, ...] list where a nil entry marks an absent value (a bare
// "name" with no "="); QueryPresent distinguishes a URL with no "?" at all
// from one with an empty query string.
type URL struct {
	scheme         string
	username       string
	password       string
	host           string // canonical: lowercase, IDNA ToASCII, or bracketed IPv6
	port            int
	pathSegments   []string // decoded
	queryPresent   bool
	queryNames     []string
	queryValues    []*string // nil = no "=" present
	fragment       *string
	canonical      string
	canonicalValid bool
}

var idnaProfile = idna.New(
	idna.MapForLookup(),
	idna.Transitional(false),
	idna.VerifyDNSLength(false),
)

// DefaultPort returns the scheme's default port, or -1 for unknown schemes.
func DefaultPort(scheme string) int {
	switch scheme {
	case "http":
		return 80
	case "https":
		return 443
	}
	return -1
}

// Parse parses an absolute http/https URL, returning InvalidURLError on any
// malformed input.
func Parse(input string) (*URL, error) {
	p := &parser{input: input}
	return p.parseAbsolute()
}

// ParseOrNil is Parse's non-throwing entry point: it returns nil instead of
// an error.
func ParseOrNil(input string) *URL {
	u, err := Parse(input)
	if err != nil {
		return nil
	}
	return u
}

// MustParse parses input and panics on error. Intended for literals.
func MustParse(input string) *URL {
	u, err := Parse(input)
	if err != nil {
		panic(err)
	}
	return u
}

// Scheme returns "http" or "https".
func (u *URL) Scheme() string { return u.scheme }

// IsHTTPS reports whether the scheme is https.
func (u *URL) IsHTTPS() bool { return u.scheme == "https" }

// Username returns the decoded username, or "" if absent.
func (u *URL) Username() string { return u.username }

// Password returns the decoded password, or "" if absent.
func (u *URL) Password() string { return u.password }

// Host returns the canonical host: lowercase, Punycode-encoded for IDN,
// dotted-decimal for IPv4, bracket-free zero-compressed for IPv6.
func (u *URL) Host() string { return u.host }

// Port returns the effective port: the scheme default if none was
// specified, so this is never -1 for a successfully constructed URL.
func (u *URL) Port() int { return u.port }

// PathSegments returns the decoded path segments. Never empty; the final
// element is "" iff the URL's path ends in "/".
func (u *URL) PathSegments() []string {
	out := make([]string, len(u.pathSegments))
	copy(out, u.pathSegments)
	return out
}

// Path renders the encoded path, e.g. "/a/b/".
func (u *URL) Path() string {
	var sb strings.Builder
	for _, seg := range u.pathSegments {
		sb.WriteByte('/')
		sb.WriteString(encode(seg, encodeSetPathSegment))
	}
	return sb.String()
}

// QueryPresent reports whether the URL has a "?", even with an empty query
// string — a null query is distinct from an empty one.
func (u *URL) QueryPresent() bool { return u.queryPresent }

// QueryPairCount returns the number of (name, value?) pairs.
func (u *URL) QueryPairCount() int { return len(u.queryNames) }

// QueryPairName and QueryPairValue expose the i-th query pair. A nil value
// pointer means the pair had no "=".
func (u *URL) QueryPairName(i int) string   { return u.queryNames[i] }
func (u *URL) QueryPairValue(i int) *string { return u.queryValues[i] }

// QueryParameterValues returns the decoded values associated with name, in
// order, or nil if name never appears.
func (u *URL) QueryParameterValues(name string) []string {
	var out []string
	for i, n := range u.queryNames {
		if n == name && u.queryValues[i] != nil {
			out = append(out, *u.queryValues[i])
		}
	}
	return out
}

// Query renders the raw query string (without "?"), or "" if QueryPresent
// is false.
func (u *URL) Query() string {
	if !u.queryPresent {
		return ""
	}
	var sb strings.Builder
	for i, name := range u.queryNames {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(encode(name, encodeSetQueryComponent))
		if v := u.queryValues[i]; v != nil {
			sb.WriteByte('=')
			sb.WriteString(encode(*v, encodeSetQueryComponent))
		}
	}
	return sb.String()
}

// Fragment returns the decoded fragment and whether one is present.
func (u *URL) Fragment() (string, bool) {
	if u.fragment == nil {
		return "", false
	}
	return *u.fragment, true
}

// String renders the canonical form: equal URLs render identically, and
// re-parsing the rendering yields a structurally equal URL.
func (u *URL) String() string {
	if u.canonicalValid {
		return u.canonical
	}
	return u.render()
}

func (u *URL) render() string {
	var sb strings.Builder
	sb.WriteString(u.scheme)
	sb.WriteString("://")
	if u.username != "" || u.password != "" {
		sb.WriteString(encode(u.username, encodeSetUsername))
		if u.password != "" {
			sb.WriteByte(':')
			sb.WriteString(encode(u.password, encodeSetPassword))
		}
		sb.WriteByte('@')
	}
	sb.WriteString(hostHeader(u.host))
	if u.port != DefaultPort(u.scheme) {
		sb.WriteByte(':')
		sb.WriteString(strconv.Itoa(u.port))
	}
	sb.WriteString(u.Path())
	if u.queryPresent {
		sb.WriteByte('?')
		sb.WriteString(u.Query())
	}
	if u.fragment != nil {
		sb.WriteByte('#')
		sb.WriteString(encode(*u.fragment, encodeSetFragment))
	}
	return sb.String()
}

// hostHeader renders host with IPv6 brackets restored for use in the
// authority component (Host() itself is stored bracket-free).
func hostHeader(host string) string {
	if strings.Contains(host, ":") {
		return "[" + host + "]"
	}
	return host
}

// Authority renders "host[:port]" suitable for a Host header, with IPv6
// brackets restored and the scheme's default port omitted.
func (u *URL) Authority() string {
	if u.port != DefaultPort(u.scheme) {
		return hostHeader(u.host) + ":" + strconv.Itoa(u.port)
	}
	return hostHeader(u.host)
}

// Redact returns "scheme://host:port/..." without user info, path, query,
// or fragment content.
func (u *URL) Redact() string {
	port := ""
	if u.port != DefaultPort(u.scheme) {
		port = ":" + strconv.Itoa(u.port)
	}
	return u.scheme + "://" + hostHeader(u.host) + port + "/..."
}

// Equal reports structural equality over scheme, credentials, host, port,
// path, query, and fragment.
func (u *URL) Equal(o *URL) bool {
	if o == nil {
		return false
	}
	return u.String() == o.String()
}

// Resolve resolves link against u per RFC 3986 §5, with "\" treated as "/"
// and out-of-range characters percent-encoded rather than rejected. Returns
// nil if link is not a valid http/https reference relative to u.
func (u *URL) Resolve(link string) *URL {
	link = strings.ReplaceAll(link, "\\", "/")
	if ru, err := Parse(link); err == nil {
		return ru
	}
	// A link that carries its own scheme but failed Parse is not a valid
	// http/https reference.
	if i := strings.IndexAny(link, ":/?#"); i > 0 && link[i] == ':' {
		return nil
	}
	p := &parser{input: link}
	return p.resolveRelative(u)
}

// canonicalizeHost lowercases, applies IDNA ToASCII for non-ASCII/IDN
// hostnames, and normalizes IPv4/IPv6 literals.
func canonicalizeHost(host string) (string, error) {
	if host == "" {
		return "", fmt.Errorf("empty host")
	}
	if strings.HasPrefix(host, "[") {
		if !strings.HasSuffix(host, "]") {
			return "", fmt.Errorf("unterminated IPv6 literal")
		}
		inner := host[1 : len(host)-1]
		addr, err := netip.ParseAddr(inner)
		if err != nil || !addr.Is6() {
			return "", fmt.Errorf("invalid IPv6 host %q", inner)
		}
		return addr.String(), nil
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		if addr.Is4() {
			return addr.String(), nil
		}
		// Bare (bracket-less) IPv6 literals are not a valid authority host.
		return "", fmt.Errorf("IPv6 host %q requires brackets", host)
	}
	lower := strings.ToLower(host)
	ascii, err := idnaProfile.ToASCII(lower)
	if err != nil {
		return "", fmt.Errorf("invalid IDN host %q: %w", host, err)
	}
	return ascii, nil
}
