// Package auth parses RFC 7235 WWW-Authenticate/Proxy-Authenticate challenge
// lists and carries the authenticator contract invoked on 401/407.
package auth

import "strings"

// Challenge is one authentication scheme offered by a WWW-Authenticate or
// Proxy-Authenticate header, per spec.md §4.O. AuthParams keys are
// lowercased; Token68 is set instead of AuthParams for the single
// unnamed-parameter form (e.g. "Bearer <token68>").
type Challenge struct {
	Scheme     string
	AuthParams map[string]string
	Token68    string
}

// Param looks up name case-insensitively.
func (c Challenge) Param(name string) string {
	if c.AuthParams == nil {
		return ""
	}
	return c.AuthParams[strings.ToLower(name)]
}

// ParseChallenges parses a WWW-Authenticate or Proxy-Authenticate header
// value into zero or more Challenges. A challenge is recognized as
// "scheme [token68 | name=value (, name=value)*]"; malformed segments are
// skipped rather than failing the whole header, per spec.md §4.O.
func ParseChallenges(header string) []Challenge {
	var out []Challenge
	currentIdx := -1

	for _, raw := range splitTopLevelCommas(header) {
		tok := strings.TrimSpace(raw)
		if tok == "" {
			continue
		}

		left, right, hasSpace := cutSpace(tok)

		if !hasSpace {
			// A bare token: either a continuation "name=value" for the
			// current challenge, or a new challenge with no params.
			if name, value, ok := splitParam(left); ok && currentIdx >= 0 {
				out[currentIdx].AuthParams[strings.ToLower(name)] = value
				continue
			}
			out = append(out, Challenge{Scheme: left, AuthParams: map[string]string{}})
			currentIdx = len(out) - 1
			continue
		}

		// "scheme rest": rest is either a token68 value or the first
		// name=value pair of a new challenge. A token68 only ever carries
		// "=" as trailing base64 padding, so a bare "=" anywhere before
		// the trailing run means this is an auth-param instead.
		c := Challenge{Scheme: left, AuthParams: map[string]string{}}
		if looksLikeToken68(right) {
			c.Token68 = right
			c.AuthParams = nil
		} else if name, value, ok := splitParam(right); ok {
			c.AuthParams[strings.ToLower(name)] = value
		} else {
			continue // malformed, skip
		}
		out = append(out, c)
		currentIdx = len(out) - 1
	}
	return out
}

// cutSpace splits tok on its first run of whitespace.
func cutSpace(tok string) (left, right string, hasSpace bool) {
	idx := strings.IndexAny(tok, " \t")
	if idx < 0 {
		return tok, "", false
	}
	return tok[:idx], strings.TrimSpace(tok[idx+1:]), true
}

// splitParam recognizes "name=value" or "name=\"quoted value\"".
func splitParam(s string) (name, value string, ok bool) {
	idx := strings.IndexByte(s, '=')
	if idx < 0 {
		return "", "", false
	}
	name = strings.TrimSpace(s[:idx])
	if name == "" || !isToken(name) {
		return "", "", false
	}
	value = strings.TrimSpace(s[idx+1:])
	value = strings.Trim(value, `"`)
	return name, value, true
}

// looksLikeToken68 reports whether s is a token68 value rather than a
// "name=value" auth-param: "=" may appear only as a trailing padding run.
func looksLikeToken68(s string) bool {
	if !isToken68(s) {
		return false
	}
	core := strings.TrimRight(s, "=")
	return !strings.Contains(core, "=") && core != ""
}

func isToken68(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '.', c == '_', c == '~', c == '+', c == '/', c == '=':
		default:
			return false
		}
	}
	return true
}

func isToken(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c <= 0x20 || c == '"' || c == ',' || c == '=' {
			return false
		}
	}
	return true
}

// splitTopLevelCommas splits on commas outside double-quoted spans.
func splitTopLevelCommas(s string) []string {
	var out []string
	inQuotes := false
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			inQuotes = !inQuotes
		case ',':
			if !inQuotes {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	out = append(out, s[start:])
	return out
}
