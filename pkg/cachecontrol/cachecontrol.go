// Package cachecontrol parses and renders the Cache-Control and Pragma
// request/response header fields per RFC 9111 §5.2 and the legacy Pragma
// compatibility clause in RFC 7234 §5.4.
package cachecontrol

import (
	"math"
	"strconv"
	"strings"
)

// MaxAgeUnset marks a duration-valued directive as absent. Directives with
// no numeric value at all (e.g. a bare "max-stale") use MaxStaleNoValue
// instead, which spec.md pins to math.MaxInt32 so it sorts above any
// concrete value.
const MaxAgeUnset = -1

// MaxStaleNoValue is the effective max-stale ceiling for a bare "max-stale"
// directive carrying no seconds value: "accept a response of any staleness".
const MaxStaleNoValue = math.MaxInt32

// Directives is the parsed, immutable form of a Cache-Control header (plus
// the legacy Pragma: no-cache compatibility bit). Parse("", "") yields the
// permissive "no restrictions" directive set; the zero Directives value
// differs from it by reporting max-age, s-maxage and min-fresh as 0 rather
// than MaxAgeUnset.
type Directives struct {
	noCache        bool
	noCacheFields  []string
	noStore        bool
	maxAgeSeconds  int
	sMaxAgeSeconds int
	isPrivate      bool
	privateFields  []string
	isPublic       bool
	mustRevalidate bool
	maxStaleSet    bool
	maxStaleSecs   int
	minFreshSecs   int
	onlyIfCached   bool
	noTransform    bool
	immutable      bool
	raw            string
}

// NoCache reports whether the response must be revalidated before reuse,
// including when only a Pragma: no-cache was present with no Cache-Control
// at all.
func (d Directives) NoCache() bool { return d.noCache }

// NoCacheFields lists the field names named by "no-cache=\"f1, f2\"", or nil
// for an unqualified no-cache (or none at all).
func (d Directives) NoCacheFields() []string { return d.noCacheFields }

func (d Directives) NoStore() bool        { return d.noStore }
func (d Directives) IsPrivate() bool      { return d.isPrivate }
func (d Directives) PrivateFields() []string { return d.privateFields }
func (d Directives) IsPublic() bool       { return d.isPublic }
func (d Directives) MustRevalidate() bool { return d.mustRevalidate }
func (d Directives) OnlyIfCached() bool   { return d.onlyIfCached }
func (d Directives) NoTransform() bool    { return d.noTransform }
func (d Directives) Immutable() bool      { return d.immutable }

// MaxAgeSeconds returns the max-age value, or MaxAgeUnset if absent.
func (d Directives) MaxAgeSeconds() int { return d.maxAgeSeconds }

// SMaxAgeSeconds returns the s-maxage value, or MaxAgeUnset if absent.
func (d Directives) SMaxAgeSeconds() int { return d.sMaxAgeSeconds }

// MaxStaleSeconds reports whether max-stale was present and its ceiling:
// MaxStaleNoValue for a bare "max-stale".
func (d Directives) MaxStaleSeconds() (int, bool) { return d.maxStaleSecs, d.maxStaleSet }

// MinFreshSeconds returns the min-fresh value, or MaxAgeUnset if absent.
func (d Directives) MinFreshSeconds() int { return d.minFreshSecs }

// Raw returns the original, unparsed Cache-Control header value, or "" if
// none was supplied (even if Pragma alone set NoCache).
func (d Directives) Raw() string { return d.raw }

// Parse parses a Cache-Control header value together with the Pragma header
// value from the same message. Either may be "" if the header was absent.
// An unqualified "Pragma: no-cache" (matched case-insensitively against its
// first directive, per RFC 7234 §5.4) sets NoCache even when Cache-Control
// itself never mentions no-cache.
func Parse(cacheControl, pragma string) Directives {
	d := Directives{
		maxAgeSeconds:  MaxAgeUnset,
		sMaxAgeSeconds: MaxAgeUnset,
		minFreshSecs:   MaxAgeUnset,
		raw:            cacheControl,
	}
	for _, tok := range splitDirectives(cacheControl) {
		name, value, hasValue := splitToken(tok)
		name = strings.ToLower(name)
		switch name {
		case "no-cache":
			d.noCache = true
			if hasValue {
				d.noCacheFields = splitQuotedList(value)
			}
		case "no-store":
			d.noStore = true
		case "max-age":
			if n, ok := parseSeconds(value); ok {
				d.maxAgeSeconds = n
			}
		case "s-maxage":
			if n, ok := parseSeconds(value); ok {
				d.sMaxAgeSeconds = n
			}
		case "private":
			d.isPrivate = true
			if hasValue {
				d.privateFields = splitQuotedList(value)
			}
		case "public":
			d.isPublic = true
		case "must-revalidate":
			d.mustRevalidate = true
		case "max-stale":
			d.maxStaleSet = true
			if hasValue {
				if n, ok := parseSeconds(value); ok {
					d.maxStaleSecs = n
				} else {
					d.maxStaleSecs = MaxStaleNoValue
				}
			} else {
				d.maxStaleSecs = MaxStaleNoValue
			}
		case "min-fresh":
			if n, ok := parseSeconds(value); ok {
				d.minFreshSecs = n
			}
		case "only-if-cached":
			d.onlyIfCached = true
		case "no-transform":
			d.noTransform = true
		case "immutable":
			d.immutable = true
		}
	}
	if !d.noCache && isLegacyPragmaNoCache(pragma) {
		d.noCache = true
	}
	return d
}

// isLegacyPragmaNoCache reports whether pragma's first directive is
// "no-cache", ignoring case and surrounding whitespace, per RFC 7234 §5.4's
// instruction to treat a bare Pragma: no-cache as equivalent to
// Cache-Control: no-cache on requests without their own Cache-Control.
func isLegacyPragmaNoCache(pragma string) bool {
	if pragma == "" {
		return false
	}
	first := pragma
	if idx := strings.IndexByte(first, ','); idx >= 0 {
		first = first[:idx]
	}
	name, _, _ := splitToken(strings.TrimSpace(first))
	return strings.EqualFold(name, "no-cache")
}

func splitDirectives(header string) []string {
	if header == "" {
		return nil
	}
	var out []string
	depth := 0
	start := 0
	for i := 0; i < len(header); i++ {
		switch header[i] {
		case '"':
			depth ^= 1
		case ',':
			if depth == 0 {
				out = append(out, strings.TrimSpace(header[start:i]))
				start = i + 1
			}
		}
	}
	out = append(out, strings.TrimSpace(header[start:]))
	return out
}

func splitToken(tok string) (name, value string, hasValue bool) {
	idx := strings.IndexByte(tok, '=')
	if idx < 0 {
		return tok, "", false
	}
	name = strings.TrimSpace(tok[:idx])
	value = strings.TrimSpace(tok[idx+1:])
	value = strings.Trim(value, `"`)
	return name, value, true
}

func splitQuotedList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseSeconds parses a directive's delta-seconds value, clamping values
// above math.MaxInt32 to MaxStaleNoValue per RFC 9111 §1.2.2 rather than
// rejecting the whole header. Empty, non-numeric and negative values report
// ok=false, so the directive is ignored.
func parseSeconds(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	if n < 0 {
		return 0, false
	}
	if n > MaxStaleNoValue {
		return MaxStaleNoValue, true
	}
	return int(n), true
}

// Builder constructs a Cache-Control header value for outgoing requests and
// responses.
type Builder struct {
	d Directives
}

func NewBuilder() *Builder {
	return &Builder{d: Directives{maxAgeSeconds: MaxAgeUnset, sMaxAgeSeconds: MaxAgeUnset, minFreshSecs: MaxAgeUnset}}
}

func (b *Builder) NoCache() *Builder        { b.d.noCache = true; return b }
func (b *Builder) NoStore() *Builder        { b.d.noStore = true; return b }
func (b *Builder) Public() *Builder         { b.d.isPublic = true; return b }
func (b *Builder) Private() *Builder        { b.d.isPrivate = true; return b }
func (b *Builder) MustRevalidate() *Builder { b.d.mustRevalidate = true; return b }
func (b *Builder) OnlyIfCached() *Builder   { b.d.onlyIfCached = true; return b }
func (b *Builder) NoTransform() *Builder    { b.d.noTransform = true; return b }
func (b *Builder) Immutable() *Builder      { b.d.immutable = true; return b }

func (b *Builder) MaxAge(seconds int) *Builder  { b.d.maxAgeSeconds = seconds; return b }
func (b *Builder) SMaxAge(seconds int) *Builder { b.d.sMaxAgeSeconds = seconds; return b }
func (b *Builder) MinFresh(seconds int) *Builder {
	b.d.minFreshSecs = seconds
	return b
}

// MaxStale sets an unbounded max-stale (no seconds value).
func (b *Builder) MaxStale() *Builder {
	b.d.maxStaleSet = true
	b.d.maxStaleSecs = MaxStaleNoValue
	return b
}

// MaxStaleSeconds sets a bounded max-stale.
func (b *Builder) MaxStaleSeconds(seconds int) *Builder {
	b.d.maxStaleSet = true
	b.d.maxStaleSecs = seconds
	return b
}

// Build renders the accumulated directives into a Cache-Control header
// value, in a fixed, spec-stable order.
func (b *Builder) Build() string {
	var parts []string
	if b.d.noCache {
		parts = append(parts, "no-cache")
	}
	if b.d.noStore {
		parts = append(parts, "no-store")
	}
	if b.d.maxAgeSeconds != MaxAgeUnset {
		parts = append(parts, "max-age="+strconv.Itoa(b.d.maxAgeSeconds))
	}
	if b.d.sMaxAgeSeconds != MaxAgeUnset {
		parts = append(parts, "s-maxage="+strconv.Itoa(b.d.sMaxAgeSeconds))
	}
	if b.d.isPrivate {
		parts = append(parts, "private")
	}
	if b.d.isPublic {
		parts = append(parts, "public")
	}
	if b.d.mustRevalidate {
		parts = append(parts, "must-revalidate")
	}
	if b.d.maxStaleSet {
		if b.d.maxStaleSecs == MaxStaleNoValue {
			parts = append(parts, "max-stale")
		} else {
			parts = append(parts, "max-stale="+strconv.Itoa(b.d.maxStaleSecs))
		}
	}
	if b.d.minFreshSecs != MaxAgeUnset {
		parts = append(parts, "min-fresh="+strconv.Itoa(b.d.minFreshSecs))
	}
	if b.d.onlyIfCached {
		parts = append(parts, "only-if-cached")
	}
	if b.d.noTransform {
		parts = append(parts, "no-transform")
	}
	if b.d.immutable {
		parts = append(parts, "immutable")
	}
	return strings.Join(parts, ", ")
}
