// Package cookiejar defines the CookieJar collaborator consulted by the
// bridge interceptor, plus a default in-memory implementation, grounded on
// net/http.CookieJar's SaveFromResponse/LoadForRequest contract.
package cookiejar

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-httpcore/httpcore/pkg/headers"
	"github.com/go-httpcore/httpcore/pkg/httpurl"
)

// CookieJar is the storage collaborator for cookies set by responses and
// sent back with matching requests. Implementations own eviction and
// persistence; spec.md leaves storage format out of scope, only the
// contract is specified.
type CookieJar interface {
	// SaveFromResponse records any Set-Cookie headers on headers as
	// scoped to target.
	SaveFromResponse(target *httpurl.URL, respHeaders headers.Headers)
	// LoadForRequest returns the Cookie header value (possibly empty) to
	// send with a request to target.
	LoadForRequest(target *httpurl.URL) string
}

// None is a CookieJar that never stores anything.
var None CookieJar = noneJar{}

type noneJar struct{}

func (noneJar) SaveFromResponse(*httpurl.URL, headers.Headers) {}
func (noneJar) LoadForRequest(*httpurl.URL) string             { return "" }

type storedCookie struct {
	name, value    string
	domain         string
	path           string
	expires        time.Time
	hasExpires     bool
	secure         bool
	hostOnly       bool
	creationOrder  int64
}

// MemoryCookieJar is a process-lifetime CookieJar with no persistence,
// matching net/http/cookiejar's in-memory default when constructed without
// a PublicSuffixList.
type MemoryCookieJar struct {
	mu      sync.Mutex
	byDomain map[string][]*storedCookie
	seq     int64
}

// NewMemoryCookieJar constructs an empty jar.
func NewMemoryCookieJar() *MemoryCookieJar {
	return &MemoryCookieJar{byDomain: make(map[string][]*storedCookie)}
}

// SaveFromResponse parses every Set-Cookie header present and stores or
// deletes matching entries, scoped per RFC 6265 §5.3 domain/path rules.
func (j *MemoryCookieJar) SaveFromResponse(target *httpurl.URL, respHeaders headers.Headers) {
	values := respHeaders.Values("Set-Cookie")
	if len(values) == 0 {
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	host := strings.ToLower(target.Host())
	for _, raw := range values {
		parsed, err := parseSetCookie(raw)
		if err != nil {
			continue
		}

		domain, hostOnly := resolveDomain(parsed, host)
		if domain == "" {
			continue
		}

		path := parsed.Path
		if path == "" {
			path = defaultPath(target.Path())
		}

		sc := &storedCookie{
			name:     parsed.Name,
			value:    parsed.Value,
			domain:   domain,
			path:     path,
			secure:   parsed.Secure,
			hostOnly: hostOnly,
		}
		if !parsed.Expires.IsZero() {
			sc.hasExpires = true
			sc.expires = parsed.Expires
		} else if parsed.MaxAge != 0 {
			sc.hasExpires = true
			if parsed.MaxAge < 0 {
				sc.expires = time.Unix(0, 0)
			} else {
				sc.expires = time.Now().Add(time.Duration(parsed.MaxAge) * time.Second)
			}
		}

		j.storeLocked(sc)
	}
}

func (j *MemoryCookieJar) storeLocked(sc *storedCookie) {
	list := j.byDomain[sc.domain]

	// Remove any existing cookie with the same name/domain/path, then
	// re-insert unless this Set-Cookie is an immediate expiry (deletion).
	filtered := list[:0]
	for _, c := range list {
		if c.name == sc.name && c.path == sc.path {
			continue
		}
		filtered = append(filtered, c)
	}

	expired := sc.hasExpires && !sc.expires.After(time.Now())
	if !expired {
		j.seq++
		sc.creationOrder = j.seq
		filtered = append(filtered, sc)
	}
	j.byDomain[sc.domain] = filtered
}

// LoadForRequest renders the cookies applicable to target as a single
// "name=value; name2=value2" Cookie header value, longest-path-first per
// RFC 6265 §5.4, skipping expired and (for non-TLS targets) Secure
// cookies.
func (j *MemoryCookieJar) LoadForRequest(target *httpurl.URL) string {
	j.mu.Lock()
	defer j.mu.Unlock()

	host := strings.ToLower(target.Host())
	reqPath := target.Path()
	now := time.Now()

	var matches []*storedCookie
	for domain, list := range j.byDomain {
		if !domainMatches(domain, host) {
			continue
		}
		for _, c := range list {
			if c.hostOnly && domain != host {
				continue
			}
			if c.hasExpires && !c.expires.After(now) {
				continue
			}
			if c.secure && !target.IsHTTPS() {
				continue
			}
			if !pathMatches(c.path, reqPath) {
				continue
			}
			matches = append(matches, c)
		}
	}

	sortCookies(matches)

	var b strings.Builder
	for i, c := range matches {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(c.name)
		b.WriteByte('=')
		b.WriteString(c.value)
	}
	return b.String()
}

// sortCookies orders by path length descending, then by creation order
// ascending, per RFC 6265 §5.4.
func sortCookies(cookies []*storedCookie) {
	for i := 1; i < len(cookies); i++ {
		for k := i; k > 0; k-- {
			a, b := cookies[k-1], cookies[k]
			if len(a.path) < len(b.path) || (len(a.path) == len(b.path) && a.creationOrder > b.creationOrder) {
				cookies[k-1], cookies[k] = cookies[k], cookies[k-1]
				continue
			}
			break
		}
	}
}

func defaultPath(reqPath string) string {
	i := strings.LastIndexByte(reqPath, '/')
	if i <= 0 {
		return "/"
	}
	return reqPath[:i]
}

func pathMatches(cookiePath, reqPath string) bool {
	if reqPath == "" {
		reqPath = "/"
	}
	if cookiePath == reqPath {
		return true
	}
	if strings.HasPrefix(reqPath, cookiePath) {
		if strings.HasSuffix(cookiePath, "/") {
			return true
		}
		return len(reqPath) > len(cookiePath) && reqPath[len(cookiePath)] == '/'
	}
	return false
}

func domainMatches(cookieDomain, host string) bool {
	if cookieDomain == host {
		return true
	}
	return strings.HasSuffix(host, "."+cookieDomain)
}

// resolveDomain implements RFC 6265 §5.3 steps 6-7: an explicit Domain
// attribute is accepted only if host is within it (host-only otherwise),
// and a leading dot is stripped.
func resolveDomain(c *http.Cookie, host string) (domain string, hostOnly bool) {
	if c.Domain == "" {
		return host, true
	}
	d := strings.ToLower(strings.TrimPrefix(c.Domain, "."))
	if d != host && !strings.HasSuffix(host, "."+d) {
		return host, true
	}
	return d, false
}

// parseSetCookie delegates the RFC 6265 attribute grammar to
// net/http.Cookie, whose parser SetCookie (via http.Response.Cookies)
// already implements it; no pack repo carries cookie-parsing code to
// ground on instead.
func parseSetCookie(raw string) (*http.Cookie, error) {
	header := http.Header{"Set-Cookie": []string{raw}}
	resp := http.Response{Header: header}
	cookies := resp.Cookies()
	if len(cookies) == 0 {
		return nil, errNoCookie
	}
	return cookies[0], nil
}

var errNoCookie = &cookieParseError{"no cookie in Set-Cookie header"}

type cookieParseError struct{ msg string }

func (e *cookieParseError) Error() string { return e.msg }
