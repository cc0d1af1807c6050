// Package headers implements an ordered, case-insensitive HTTP header
// multimap, per RFC 7230 §3.2.
package headers

import (
	"strings"

	"github.com/go-httpcore/httpcore/pkg/errors"
)

// pair is one (name, value) entry, stored in insertion order.
type pair struct {
	name  string // as supplied, case preserved for rendering
	value string
}

// Headers is an immutable, ordered, case-insensitive multimap of header
// name/value pairs. The zero value is an empty Headers.
//
// Equality is multiset-by-name, order-sensitive per name: two Headers are
// Equal if, for every name, the ordered list of values matches.
type Headers struct {
	pairs []pair
}

// Builder accumulates header pairs before freezing them into a Headers.
type Builder struct {
	pairs []pair
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// FromHeaders returns a Builder pre-populated with h's pairs, leaving h
// unmodified.
func FromHeaders(h Headers) *Builder {
	b := &Builder{pairs: make([]pair, len(h.pairs))}
	copy(b.pairs, h.pairs)
	return b
}

// Add appends a strictly validated (name, value) pair.
func (b *Builder) Add(name, value string) *Builder {
	checkName(name)
	checkValue(name, value)
	b.pairs = append(b.pairs, pair{name: name, value: value})
	return b
}

// AddLenient appends a header line received from the wire, including
// pseudo-headers (":method", ":path", ...) used during HTTP/2
// normalization. Control characters are stripped rather than rejected.
func (b *Builder) AddLenient(name, value string) *Builder {
	name = strings.TrimSpace(name)
	value = sanitizeLenient(value)
	b.pairs = append(b.pairs, pair{name: name, value: value})
	return b
}

// Set removes all existing values for name and adds the single given value.
func (b *Builder) Set(name, value string) *Builder {
	checkName(name)
	checkValue(name, value)
	b.removeAll(name)
	b.pairs = append(b.pairs, pair{name: name, value: value})
	return b
}

// RemoveAll removes every pair whose name matches, case-insensitively.
func (b *Builder) RemoveAll(name string) *Builder {
	b.removeAll(name)
	return b
}

func (b *Builder) removeAll(name string) {
	out := b.pairs[:0]
	for _, p := range b.pairs {
		if !strings.EqualFold(p.name, name) {
			out = append(out, p)
		}
	}
	b.pairs = out
}

// Get returns the last value associated with name, matching wire-format
// convention (the most recently set value wins), or "" if absent.
func (b *Builder) Get(name string) string {
	last := ""
	found := false
	for _, p := range b.pairs {
		if strings.EqualFold(p.name, name) {
			last = p.value
			found = true
		}
	}
	if !found {
		return ""
	}
	return last
}

// Build freezes the builder into an immutable Headers value. The builder
// remains usable afterward; its future mutations do not affect the
// returned value.
func (b *Builder) Build() Headers {
	pairs := make([]pair, len(b.pairs))
	copy(pairs, b.pairs)
	return Headers{pairs: pairs}
}

// Get returns the last value for name, or "" if absent.
func (h Headers) Get(name string) string {
	last := ""
	for _, p := range h.pairs {
		if strings.EqualFold(p.name, name) {
			last = p.value
		}
	}
	return last
}

// Values returns all values for name in insertion order. Returns nil if
// absent.
func (h Headers) Values(name string) []string {
	var out []string
	for _, p := range h.pairs {
		if strings.EqualFold(p.name, name) {
			out = append(out, p.value)
		}
	}
	return out
}

// Has reports whether any value is present for name.
func (h Headers) Has(name string) bool {
	for _, p := range h.pairs {
		if strings.EqualFold(p.name, name) {
			return true
		}
	}
	return false
}

// Size returns the number of (name, value) pairs.
func (h Headers) Size() int {
	return len(h.pairs)
}

// NameAt and ValueAt expose the i-th pair for iteration in insertion order.
func (h Headers) NameAt(i int) string  { return h.pairs[i].name }
func (h Headers) ValueAt(i int) string { return h.pairs[i].value }

// Names returns the set of distinct header names, case as first seen.
func (h Headers) Names() []string {
	seen := map[string]bool{}
	var out []string
	for _, p := range h.pairs {
		key := strings.ToLower(p.name)
		if !seen[key] {
			seen[key] = true
			out = append(out, p.name)
		}
	}
	return out
}

// Equal reports multiset-by-name, order-sensitive-per-name equality.
func (h Headers) Equal(other Headers) bool {
	if len(h.pairs) != len(other.pairs) {
		return false
	}
	for _, name := range h.Names() {
		if !equalSlices(h.Values(name), other.Values(name)) {
			return false
		}
	}
	return true
}

func equalSlices(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// String renders the headers as CRLF-terminated "Name: value" lines, per
// RFC 7230 §3.2. No blank line is appended after the last header.
func (h Headers) String() string {
	var sb strings.Builder
	for _, p := range h.pairs {
		sb.WriteString(p.name)
		sb.WriteString(": ")
		sb.WriteString(p.value)
		sb.WriteString("\r\n")
	}
	return sb.String()
}

// isTokenChar reports whether r is a valid RFC 7230 "tchar".
func isTokenChar(r byte) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	}
	switch r {
	case '!', '#', '$', '%', '&', '\'', '*', '+', '-', '.', '^', '_', '`', '|', '~':
		return true
	}
	return false
}

func checkName(name string) {
	if name == "" {
		panic(errors.NewValidationError("header name must not be empty"))
	}
	for i := 0; i < len(name); i++ {
		if !isTokenChar(name[i]) {
			panic(errors.NewValidationError("unexpected char " + string(name[i]) + " in header name: " + name))
		}
	}
}

func checkValue(name, value string) {
	for i := 0; i < len(value); i++ {
		c := value[i]
		if (c < 0x20 || c == 0x7f) && c != '\t' {
			panic(errors.NewValidationError("unexpected char in " + name + " value: " + value))
		}
		if c > 0x7e {
			panic(errors.NewValidationError("non-ASCII char in " + name + " value: " + value))
		}
	}
}

// sanitizeLenient strips control characters (but not UTF-8) from a
// wire-received header value, accepting what strict validation rejects.
func sanitizeLenient(value string) string {
	var sb strings.Builder
	for i := 0; i < len(value); i++ {
		c := value[i]
		if (c < 0x20 && c != '\t') || c == 0x7f {
			continue
		}
		sb.WriteByte(c)
	}
	return sb.String()
}
