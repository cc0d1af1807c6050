package message

import (
	"testing"

	"github.com/go-httpcore/httpcore/pkg/httpurl"
)

func mustRecover(t *testing.T, want string) {
	t.Helper()
	if r := recover(); r == nil {
		t.Fatalf("expected panic: %s", want)
	}
}

func TestGetHeadRejectBody(t *testing.T) {
	defer mustRecover(t, "GET must not carry a body")
	NewRequestBuilder().URL(httpurl.MustParse("https://example.com/")).Get()
	NewRequestBuilder().URL(httpurl.MustParse("https://example.com/")).Method("GET", NewStringBody("x", "text/plain"))
}

func TestPostRequiresBody(t *testing.T) {
	defer mustRecover(t, "POST requires a request body")
	NewRequestBuilder().URL(httpurl.MustParse("https://example.com/")).Post(nil)
}

func TestDeleteAllowsNilBody(t *testing.T) {
	req := NewRequestBuilder().URL(httpurl.MustParse("https://example.com/")).Delete(nil).Build()
	if req.Method() != "DELETE" {
		t.Fatalf("Method() = %q, want DELETE", req.Method())
	}
	if req.Body() != nil {
		t.Fatalf("expected nil body")
	}
}

func TestBuilderFromCopiesIndependently(t *testing.T) {
	orig := NewRequestBuilder().
		URL(httpurl.MustParse("https://example.com/a")).
		AddHeader("X-Foo", "1").
		Get().
		Build()

	clone := From(orig).AddHeader("X-Foo", "2").Build()

	if got := orig.Headers().Values("X-Foo"); len(got) != 1 || got[0] != "1" {
		t.Fatalf("original mutated: %v", got)
	}
	if got := clone.Headers().Values("X-Foo"); len(got) != 2 {
		t.Fatalf("clone missing appended header: %v", got)
	}
}

type requestID string

func TestTagRoundTrip(t *testing.T) {
	b := NewRequestBuilder().URL(httpurl.MustParse("https://example.com/"))
	SetTag(b, requestID("abc-123"))
	req := b.Get().Build()

	got, ok := Tag[requestID](req)
	if !ok || got != "abc-123" {
		t.Fatalf("Tag[requestID]() = (%q, %v), want (abc-123, true)", got, ok)
	}

	if _, ok := Tag[int](req); ok {
		t.Fatalf("expected no int tag present")
	}
}

func TestCacheControlLazyParse(t *testing.T) {
	req := NewRequestBuilder().
		URL(httpurl.MustParse("https://example.com/")).
		Header("Cache-Control", "no-cache, max-age=60, public").
		Get().
		Build()

	cc := req.CacheControl()
	if !cc.NoCache() || cc.MaxAgeSeconds() != 60 || !cc.IsPublic() {
		t.Fatalf("CacheControl() = %+v", cc)
	}
}

func TestResponseDerivedProperties(t *testing.T) {
	req := NewRequestBuilder().URL(httpurl.MustParse("https://example.com/")).Get().Build()

	resp := NewResponseBuilder().
		Request(req).
		Protocol("HTTP/1.1").
		Code(302).
		Message("Found").
		Build()

	if resp.IsSuccessful() {
		t.Fatalf("302 must not be successful")
	}
	if !resp.IsRedirect() {
		t.Fatalf("302 must be a redirect")
	}

	ok := NewResponseBuilder().Request(req).Code(200).Build()
	if !ok.IsSuccessful() || ok.IsRedirect() {
		t.Fatalf("200 must be successful and not a redirect")
	}
}

func TestResponseBodyCloseIsIdempotent(t *testing.T) {
	body := EmptyResponseBody("text/plain")
	if err := body.Close(); err != nil {
		t.Fatalf("first Close() error = %v", err)
	}
	if err := body.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
}

func TestResponseChainFields(t *testing.T) {
	req := NewRequestBuilder().URL(httpurl.MustParse("https://example.com/")).Get().Build()
	network := NewResponseBuilder().Request(req).Code(200).Build()
	cached := NewResponseBuilder().Request(req).Code(200).NetworkResponse(network).Build()

	if cached.NetworkResponse() != network {
		t.Fatalf("NetworkResponse() did not round-trip")
	}
}
