package httpurl

import (
	"fmt"
	"strconv"
	"strings"
)

type parser struct {
	input string
}

func (p *parser) fail(reason string) error {
	return &InvalidURLError{Input: p.input, Reason: reason}
}

// parseAbsolute implements the absolute-URL entry point: scheme required,
// authority required, path/query/fragment optional.
func (p *parser) parseAbsolute() (*URL, error) {
	rest := p.input
	schemeEnd := strings.Index(rest, "://")
	if schemeEnd < 0 {
		// Also accept a bare "scheme:" with no "//" as malformed (http/https
		// always carry an authority).
		return nil, p.fail("missing scheme")
	}
	scheme := strings.ToLower(rest[:schemeEnd])
	if scheme != "http" && scheme != "https" {
		return nil, p.fail("scheme must be http or https")
	}
	rest = rest[schemeEnd+3:]

	authorityEnd := len(rest)
	for i, c := range rest {
		if c == '/' || c == '?' || c == '#' {
			authorityEnd = i
			break
		}
	}
	authority := rest[:authorityEnd]
	rest = rest[authorityEnd:]
	if authority == "" {
		return nil, p.fail("missing host")
	}

	username, password, hostport := splitAuthority(authority)
	host, port, err := splitHostPort(hostport, scheme)
	if err != nil {
		return nil, p.fail(err.Error())
	}
	canonicalHost, err := canonicalizeHost(host)
	if err != nil {
		return nil, p.fail(err.Error())
	}

	pathStr := rest
	var queryStr string
	queryPresent := false
	var fragmentStr *string

	if idx := strings.IndexByte(pathStr, '#'); idx >= 0 {
		f := pathStr[idx+1:]
		fragmentStr = &f
		pathStr = pathStr[:idx]
	}
	if idx := strings.IndexByte(pathStr, '?'); idx >= 0 {
		queryPresent = true
		queryStr = pathStr[idx+1:]
		pathStr = pathStr[:idx]
	}

	segments := parsePathSegments(pathStr)
	names, values := parseQuery(queryStr, queryPresent)

	var fragDecoded *string
	if fragmentStr != nil {
		d := decode(*fragmentStr)
		fragDecoded = &d
	}

	u := &URL{
		scheme:       scheme,
		username:     decode(username),
		password:     decode(password),
		host:         canonicalHost,
		port:         port,
		pathSegments: segments,
		queryPresent: queryPresent,
		queryNames:   names,
		queryValues:  values,
		fragment:     fragDecoded,
	}
	u.canonical = u.render()
	u.canonicalValid = true
	return u, nil
}

// resolveRelative implements RFC 3986 §5.3 reference resolution for a
// relative reference against base.
func (p *parser) resolveRelative(base *URL) *URL {
	rest := p.input

	var fragment *string
	if idx := strings.IndexByte(rest, '#'); idx >= 0 {
		f := decode(rest[idx+1:])
		fragment = &f
		rest = rest[:idx]
	}

	var queryPresent bool
	var queryStr string
	if idx := strings.IndexByte(rest, '?'); idx >= 0 {
		queryPresent = true
		queryStr = rest[idx+1:]
		rest = rest[:idx]
	}

	var segments []string
	if rest == "" {
		segments = append([]string(nil), base.pathSegments...)
		if !queryPresent {
			queryPresent = base.queryPresent
			queryStr = base.Query()
		}
	} else if strings.HasPrefix(rest, "/") {
		segments = parsePathSegments(rest)
	} else {
		baseDir := append([]string(nil), base.pathSegments...)
		if len(baseDir) > 0 {
			baseDir = baseDir[:len(baseDir)-1]
		}
		rawSegs := strings.Split(rest, "/")
		segments = buildSegmentStack(baseDir, rawSegs)
	}

	names, values := parseQuery(queryStr, queryPresent)

	u := &URL{
		scheme:       base.scheme,
		username:     base.username,
		password:     base.password,
		host:         base.host,
		port:         base.port,
		pathSegments: segments,
		queryPresent: queryPresent,
		queryNames:   names,
		queryValues:  values,
		fragment:     fragment,
	}
	u.canonical = u.render()
	u.canonicalValid = true
	return u
}

// buildSegmentStack resolves raw (percent-encoded, "/"-split) segments
// against an initial decoded-segment stack, handling "." and ".." per RFC
// 3986 §5.2.4 and never popping past the root.
func buildSegmentStack(initial []string, rawSegs []string) []string {
	stack := append([]string(nil), initial...)
	for i, raw := range rawSegs {
		last := i == len(rawSegs)-1
		seg := decode(raw)
		switch seg {
		case ".":
			if last {
				stack = append(stack, "")
			}
		case "..":
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			if last {
				stack = append(stack, "")
			}
		default:
			stack = append(stack, seg)
		}
	}
	if len(stack) == 0 {
		stack = []string{""}
	}
	return stack
}

func parsePathSegments(pathStr string) []string {
	if pathStr == "" || pathStr == "/" {
		return []string{""}
	}
	trimmed := strings.TrimPrefix(pathStr, "/")
	rawSegs := strings.Split(trimmed, "/")
	return buildSegmentStack(nil, rawSegs)
}

func parseQuery(raw string, present bool) ([]string, []*string) {
	if !present || raw == "" {
		if present {
			return nil, nil
		}
		return nil, nil
	}
	parts := strings.Split(raw, "&")
	names := make([]string, 0, len(parts))
	values := make([]*string, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		if idx := strings.IndexByte(part, '='); idx >= 0 {
			name := decode(part[:idx])
			value := decode(part[idx+1:])
			names = append(names, name)
			values = append(values, &value)
		} else {
			names = append(names, decode(part))
			values = append(values, nil)
		}
	}
	return names, values
}

// splitAuthority splits "user:pass@host:port" into its parts; user/pass
// are returned still percent-encoded (decoded by the caller).
func splitAuthority(authority string) (username, password, hostport string) {
	if idx := strings.LastIndexByte(authority, '@'); idx >= 0 {
		userinfo := authority[:idx]
		hostport = authority[idx+1:]
		if cidx := strings.IndexByte(userinfo, ':'); cidx >= 0 {
			username = userinfo[:cidx]
			password = userinfo[cidx+1:]
		} else {
			username = userinfo
		}
		return
	}
	hostport = authority
	return
}

func splitHostPort(hostport, scheme string) (host string, port int, err error) {
	if strings.HasPrefix(hostport, "[") {
		end := strings.IndexByte(hostport, ']')
		if end < 0 {
			return "", 0, fmt.Errorf("unterminated IPv6 literal in %q", hostport)
		}
		host = hostport[:end+1]
		rest := hostport[end+1:]
		if rest == "" {
			return host, DefaultPort(scheme), nil
		}
		if !strings.HasPrefix(rest, ":") {
			return "", 0, fmt.Errorf("unexpected character after IPv6 literal")
		}
		port, err = parsePort(rest[1:])
		return host, port, err
	}
	if idx := strings.LastIndexByte(hostport, ':'); idx >= 0 {
		host = hostport[:idx]
		port, err = parsePort(hostport[idx+1:])
		if err != nil {
			return "", 0, err
		}
		return host, port, nil
	}
	return hostport, DefaultPort(scheme), nil
}

func parsePort(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	if n < 1 || n > 65535 {
		return 0, fmt.Errorf("port %d out of range [1,65535]", n)
	}
	return n, nil
}
