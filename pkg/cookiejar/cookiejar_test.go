package cookiejar

import (
	"testing"

	"github.com/go-httpcore/httpcore/pkg/headers"
	"github.com/go-httpcore/httpcore/pkg/httpurl"
)

func mustParse(t *testing.T, raw string) *httpurl.URL {
	t.Helper()
	u, err := httpurl.Parse(raw)
	if err != nil {
		t.Fatalf("Parse(%q): %v", raw, err)
	}
	return u
}

func setCookieHeaders(values ...string) headers.Headers {
	b := headers.NewBuilder()
	for _, v := range values {
		b.Add("Set-Cookie", v)
	}
	return b.Build()
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	j := NewMemoryCookieJar()
	target := mustParse(t, "https://example.com/a/b")

	j.SaveFromResponse(target, setCookieHeaders("session=abc123; Path=/"))

	got := j.LoadForRequest(target)
	if got != "session=abc123" {
		t.Fatalf("LoadForRequest = %q, want %q", got, "session=abc123")
	}
}

func TestCookieNotSentToOtherHost(t *testing.T) {
	j := NewMemoryCookieJar()
	j.SaveFromResponse(mustParse(t, "https://a.example.com/"), setCookieHeaders("x=1"))

	if got := j.LoadForRequest(mustParse(t, "https://b.example.com/")); got != "" {
		t.Fatalf("LoadForRequest for unrelated host = %q, want empty", got)
	}
}

func TestDomainCookieMatchesSubdomain(t *testing.T) {
	j := NewMemoryCookieJar()
	j.SaveFromResponse(mustParse(t, "https://www.example.com/"), setCookieHeaders("x=1; Domain=example.com"))

	got := j.LoadForRequest(mustParse(t, "https://other.example.com/"))
	if got != "x=1" {
		t.Fatalf("LoadForRequest for sibling subdomain = %q, want %q", got, "x=1")
	}
}

func TestSecureCookieWithheldFromPlainRequest(t *testing.T) {
	j := NewMemoryCookieJar()
	j.SaveFromResponse(mustParse(t, "https://example.com/"), setCookieHeaders("x=1; Secure"))

	if got := j.LoadForRequest(mustParse(t, "http://example.com/")); got != "" {
		t.Fatalf("Secure cookie sent over plain HTTP: %q", got)
	}
	if got := j.LoadForRequest(mustParse(t, "https://example.com/")); got != "x=1" {
		t.Fatalf("Secure cookie withheld from HTTPS request: %q", got)
	}
}

func TestMaxAgeNegativeDeletesCookie(t *testing.T) {
	j := NewMemoryCookieJar()
	target := mustParse(t, "https://example.com/")
	j.SaveFromResponse(target, setCookieHeaders("x=1"))
	if got := j.LoadForRequest(target); got != "x=1" {
		t.Fatalf("expected initial cookie, got %q", got)
	}

	j.SaveFromResponse(target, setCookieHeaders("x=1; Max-Age=-1"))
	if got := j.LoadForRequest(target); got != "" {
		t.Fatalf("cookie should be deleted after Max-Age=-1, got %q", got)
	}
}

func TestPathScopingRestrictsCookie(t *testing.T) {
	j := NewMemoryCookieJar()
	j.SaveFromResponse(mustParse(t, "https://example.com/admin/login"), setCookieHeaders("x=1; Path=/admin"))

	if got := j.LoadForRequest(mustParse(t, "https://example.com/public")); got != "" {
		t.Fatalf("cookie leaked outside its Path scope: %q", got)
	}
	if got := j.LoadForRequest(mustParse(t, "https://example.com/admin/dashboard")); got != "x=1" {
		t.Fatalf("cookie not sent within its Path scope: %q", got)
	}
}

func TestMultipleCookiesOrderedLongestPathFirst(t *testing.T) {
	j := NewMemoryCookieJar()
	j.SaveFromResponse(mustParse(t, "https://example.com/"), setCookieHeaders("a=1; Path=/"))
	j.SaveFromResponse(mustParse(t, "https://example.com/"), setCookieHeaders("b=2; Path=/deep"))

	got := j.LoadForRequest(mustParse(t, "https://example.com/deep/page"))
	if got != "b=2; a=1" {
		t.Fatalf("LoadForRequest = %q, want %q", got, "b=2; a=1")
	}
}

func TestNoneJarIsNoOp(t *testing.T) {
	target := mustParse(t, "https://example.com/")
	None.SaveFromResponse(target, setCookieHeaders("x=1"))
	if got := None.LoadForRequest(target); got != "" {
		t.Fatalf("None jar returned %q, want empty", got)
	}
}
