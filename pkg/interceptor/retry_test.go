package interceptor

import (
	"context"
	"testing"

	"github.com/go-httpcore/httpcore/pkg/httpurl"
	"github.com/go-httpcore/httpcore/pkg/message"
	"github.com/go-httpcore/httpcore/pkg/timeout"
)

func mustURL(t *testing.T, raw string) *httpurl.URL {
	t.Helper()
	u, err := httpurl.Parse(raw)
	if err != nil {
		t.Fatalf("httpurl.Parse(%q): %v", raw, err)
	}
	return u
}

func getRequest(t *testing.T, raw string) *message.Request {
	t.Helper()
	return message.NewRequestBuilder().URL(mustURL(t, raw)).Get().Build()
}

// scriptedTerminal replays a fixed sequence of responses, one per call to
// Intercept, recording every request it was handed.
type scriptedTerminal struct {
	responses []*message.Response
	requests  []*message.Request
	n         int
}

func (s *scriptedTerminal) Intercept(chain Chain) (*message.Response, error) {
	s.requests = append(s.requests, chain.Request())
	resp := s.responses[s.n]
	if s.n < len(s.responses)-1 {
		s.n++
	}
	return message.FromResponse(resp).Request(chain.Request()).Build(), nil
}

func runRetry(t *testing.T, rl *RetryLayer, req *message.Request, term *scriptedTerminal) (*message.Response, error) {
	t.Helper()
	return Execute([]Interceptor{rl, term}, req, context.Background(), timeout.Deadlines{})
}

func resp(code int, headerPairs ...string) *message.Response {
	b := message.NewResponseBuilder().Protocol("HTTP/1.1").Code(code).Message("status")
	for i := 0; i+1 < len(headerPairs); i += 2 {
		b = b.Header(headerPairs[i], headerPairs[i+1])
	}
	return b.Build()
}

func TestRetryLayerPassesThroughSuccessUnchanged(t *testing.T) {
	rl := &RetryLayer{FollowRedirects: true}
	term := &scriptedTerminal{responses: []*message.Response{resp(200)}}
	got, err := runRetry(t, rl, getRequest(t, "http://example.com/a"), term)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Code() != 200 {
		t.Fatalf("code = %d, want 200", got.Code())
	}
	if len(term.requests) != 1 {
		t.Fatalf("expected exactly one attempt, got %d", len(term.requests))
	}
}

func TestRetryLayerFollows302WithGetRewrite(t *testing.T) {
	rl := &RetryLayer{FollowRedirects: true}
	term := &scriptedTerminal{responses: []*message.Response{
		resp(302, "Location", "/b"),
		resp(200),
	}}
	req := message.NewRequestBuilder().URL(mustURL(t, "http://example.com/a")).
		Post(message.NewBytesBody([]byte("payload"), "text/plain")).Build()

	got, err := runRetry(t, rl, req, term)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Code() != 200 {
		t.Fatalf("code = %d, want 200", got.Code())
	}
	if len(term.requests) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(term.requests))
	}
	second := term.requests[1]
	if second.Method() != "GET" {
		t.Fatalf("302 follow-up method = %s, want GET", second.Method())
	}
	if second.Body() != nil {
		t.Fatal("302 follow-up must drop the body")
	}
	if second.URL().Path() != "/b" {
		t.Fatalf("follow-up path = %s, want /b", second.URL().Path())
	}
}

func TestRetryLayerPreservesMethodAndBodyOn307(t *testing.T) {
	rl := &RetryLayer{FollowRedirects: true}
	term := &scriptedTerminal{responses: []*message.Response{
		resp(307, "Location", "/b"),
		resp(200),
	}}
	req := message.NewRequestBuilder().URL(mustURL(t, "http://example.com/a")).
		Post(message.NewBytesBody([]byte("payload"), "text/plain")).Build()

	_, err := runRetry(t, rl, req, term)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second := term.requests[1]
	if second.Method() != "POST" {
		t.Fatalf("307 follow-up method = %s, want POST", second.Method())
	}
	if second.Body() == nil {
		t.Fatal("307 follow-up must preserve the body")
	}
}

func TestRetryLayerDoesNotFollowRedirectsWhenDisabled(t *testing.T) {
	rl := &RetryLayer{FollowRedirects: false}
	term := &scriptedTerminal{responses: []*message.Response{resp(302, "Location", "/b")}}
	got, err := runRetry(t, rl, getRequest(t, "http://example.com/a"), term)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Code() != 302 {
		t.Fatalf("code = %d, want 302", got.Code())
	}
	if len(term.requests) != 1 {
		t.Fatalf("expected 1 attempt, got %d", len(term.requests))
	}
}

func TestRetryLayerDoesNotDowngradeHTTPSToHTTPByDefault(t *testing.T) {
	rl := &RetryLayer{FollowRedirects: true, FollowSSLRedirects: false}
	term := &scriptedTerminal{responses: []*message.Response{
		resp(302, "Location", "http://example.com/b"),
	}}
	got, err := runRetry(t, rl, getRequest(t, "https://example.com/a"), term)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Code() != 302 {
		t.Fatalf("expected redirect not followed, got final code %d", got.Code())
	}
	if len(term.requests) != 1 {
		t.Fatalf("expected 1 attempt, got %d", len(term.requests))
	}
}

func TestRetryLayerRetries408OnceWithoutBody(t *testing.T) {
	rl := &RetryLayer{}
	term := &scriptedTerminal{responses: []*message.Response{
		resp(408), resp(408), resp(200),
	}}
	got, err := runRetry(t, rl, getRequest(t, "http://example.com/a"), term)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Code() != 408 {
		t.Fatalf("code = %d, want 408 (retried once, still failing)", got.Code())
	}
	if len(term.requests) != 2 {
		t.Fatalf("expected exactly 2 attempts (one retry), got %d", len(term.requests))
	}
}

func TestRetryLayerRetries503WithRetryAfterZero(t *testing.T) {
	rl := &RetryLayer{}
	term := &scriptedTerminal{responses: []*message.Response{
		resp(503, "Retry-After", "0"),
		resp(200),
	}}
	got, err := runRetry(t, rl, getRequest(t, "http://example.com/a"), term)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Code() != 200 {
		t.Fatalf("code = %d, want 200 after 503 retry", got.Code())
	}
	if len(term.requests) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(term.requests))
	}
}

func TestRetryLayerDoesNotRetry503WithoutRetryAfterZero(t *testing.T) {
	rl := &RetryLayer{}
	term := &scriptedTerminal{responses: []*message.Response{
		resp(503),
	}}
	got, err := runRetry(t, rl, getRequest(t, "http://example.com/a"), term)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Code() != 503 {
		t.Fatalf("code = %d, want 503", got.Code())
	}
	if len(term.requests) != 1 {
		t.Fatalf("expected 1 attempt, got %d", len(term.requests))
	}
}

func TestIsSafeToRetryIdempotentMethodsAlwaysSafe(t *testing.T) {
	for _, m := range []string{"GET", "HEAD", "PUT", "DELETE", "OPTIONS", "TRACE"} {
		req := message.NewRequestBuilder().URL(mustURL(t, "http://example.com/")).Method(m, nil).Build()
		if !isSafeToRetry(req, &realChain{state: &attemptState{}}) {
			t.Fatalf("method %s should always be safe to retry", m)
		}
	}
}

func TestIsSafeToRetryPostUnsafeWithNoExchangeDefaultsSafe(t *testing.T) {
	req := message.NewRequestBuilder().URL(mustURL(t, "http://example.com/")).
		Post(message.NewBytesBody([]byte("x"), "text/plain")).Build()
	if !isSafeToRetry(req, &realChain{state: &attemptState{}}) {
		t.Fatal("with no exchange opened yet, a pure dial failure should always be safe to retry")
	}
}
