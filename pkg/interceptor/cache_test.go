package interceptor

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/go-httpcore/httpcore/pkg/cache"
	"github.com/go-httpcore/httpcore/pkg/message"
	"github.com/go-httpcore/httpcore/pkg/timeout"
)

func cacheableGetRequest(t *testing.T, raw string) *message.Request {
	t.Helper()
	return message.NewRequestBuilder().URL(mustURL(t, raw)).Get().Build()
}

// dateHeader formats per net/http.TimeFormat, the only layout
// responseAge/freshnessLifetime's http.ParseTime reliably accepts.
func dateHeader(d time.Duration) string {
	return time.Now().Add(d).UTC().Format(http.TimeFormat)
}

func TestFreshnessLifetimeMaxAgeWins(t *testing.T) {
	r := message.NewResponseBuilder().Protocol("HTTP/1.1").Code(200).Message("OK").
		Header("Cache-Control", "max-age=60").
		Header("Expires", dateHeader(10*time.Hour)).
		Header("Date", dateHeader(0)).
		Build()
	got := freshnessLifetime(r)
	if got != 60*time.Second {
		t.Fatalf("freshnessLifetime = %v, want 60s", got)
	}
}

func TestFreshnessLifetimeFallsBackToExpiresMinusDate(t *testing.T) {
	now := time.Now().UTC()
	r := message.NewResponseBuilder().Protocol("HTTP/1.1").Code(200).Message("OK").
		Header("Date", now.Format(http.TimeFormat)).
		Header("Expires", now.Add(30*time.Second).Format(http.TimeFormat)).
		Build()
	got := freshnessLifetime(r)
	if got < 29*time.Second || got > 31*time.Second {
		t.Fatalf("freshnessLifetime = %v, want ~30s", got)
	}
}

func TestIsFreshRejectsNoCacheResponse(t *testing.T) {
	r := message.NewResponseBuilder().Protocol("HTTP/1.1").Code(200).Message("OK").
		Header("Cache-Control", "no-cache, max-age=600").
		Header("Date", dateHeader(0)).
		Build()
	req := cacheableGetRequest(t, "http://example.com/a")
	if isFresh(r, req.CacheControl()) {
		t.Fatal("no-cache response must never be considered fresh")
	}
}

func TestIsFreshWithinMaxAge(t *testing.T) {
	r := message.NewResponseBuilder().Protocol("HTTP/1.1").Code(200).Message("OK").
		Header("Cache-Control", "max-age=600").
		Header("Date", dateHeader(0)).
		Build()
	req := cacheableGetRequest(t, "http://example.com/a")
	if !isFresh(r, req.CacheControl()) {
		t.Fatal("expected response within max-age to be fresh")
	}
}

func TestIsFreshMaxStaleExtendsPastExpiry(t *testing.T) {
	r := message.NewResponseBuilder().Protocol("HTTP/1.1").Code(200).Message("OK").
		Header("Cache-Control", "max-age=10").
		Header("Date", dateHeader(-20*time.Second)).
		Build()
	noMaxStale := cacheableGetRequest(t, "http://example.com/a")
	if isFresh(r, noMaxStale.CacheControl()) {
		t.Fatal("expired response without max-stale must be stale")
	}

	withMaxStale := message.NewRequestBuilder().URL(mustURL(t, "http://example.com/a")).
		Header("Cache-Control", "max-stale=60").Get().Build()
	if !isFresh(r, withMaxStale.CacheControl()) {
		t.Fatal("expired response within max-stale window should be accepted")
	}
}

func TestIsFreshMinFreshRejectsNearExpiry(t *testing.T) {
	r := message.NewResponseBuilder().Protocol("HTTP/1.1").Code(200).Message("OK").
		Header("Cache-Control", "max-age=10").
		Header("Date", dateHeader(0)).
		Build()
	req := message.NewRequestBuilder().URL(mustURL(t, "http://example.com/a")).
		Header("Cache-Control", "min-fresh=30").Get().Build()
	if isFresh(r, req.CacheControl()) {
		t.Fatal("a response only 10s fresh must fail a min-fresh=30 requirement")
	}
}

func TestIsCacheableRejectsNonGET(t *testing.T) {
	req := message.NewRequestBuilder().URL(mustURL(t, "http://example.com/a")).
		Post(message.NewBytesBody([]byte("x"), "text/plain")).Build()
	resp := message.NewResponseBuilder().Protocol("HTTP/1.1").Code(200).Message("OK").Build()
	if isCacheable(req, resp) {
		t.Fatal("POST response must never be cacheable")
	}
}

func TestIsCacheableRejectsNoStore(t *testing.T) {
	req := cacheableGetRequest(t, "http://example.com/a")
	resp := message.NewResponseBuilder().Protocol("HTTP/1.1").Code(200).Message("OK").
		Header("Cache-Control", "no-store").Build()
	if isCacheable(req, resp) {
		t.Fatal("no-store response must never be cacheable")
	}
}

func TestIsCacheableRejectsAuthorizedRequestUnlessPublic(t *testing.T) {
	req := message.NewRequestBuilder().URL(mustURL(t, "http://example.com/a")).
		Header("Authorization", "Bearer xyz").Get().Build()
	priv := message.NewResponseBuilder().Protocol("HTTP/1.1").Code(200).Message("OK").Build()
	if isCacheable(req, priv) {
		t.Fatal("response to an authenticated request must not be cacheable unless public")
	}
	pub := message.NewResponseBuilder().Protocol("HTTP/1.1").Code(200).Message("OK").
		Header("Cache-Control", "public").Build()
	if !isCacheable(req, pub) {
		t.Fatal("public response to an authenticated request should be cacheable")
	}
}

// bypassTerminal always forwards to the network, recording request count.
type bypassTerminal struct {
	calls int
	resp  *message.Response
}

func (b *bypassTerminal) Intercept(chain Chain) (*message.Response, error) {
	b.calls++
	return message.FromResponse(b.resp).Request(chain.Request()).Build(), nil
}

func TestCacheLayerStoresAndServesFreshGET(t *testing.T) {
	store := cache.NewMemoryCache(1<<20, 1<<20)
	cl := &CacheLayer{Store: store}

	networkResp := message.NewResponseBuilder().Protocol("HTTP/1.1").Code(200).Message("OK").
		Header("Cache-Control", "max-age=600").
		Header("Date", dateHeader(0)).
		Body(message.EmptyResponseBody("text/plain")).
		Build()
	term := &bypassTerminal{resp: networkResp}

	req := cacheableGetRequest(t, "http://example.com/a")
	resp1, err := Execute([]Interceptor{cl, term}, req, context.Background(), timeout.Deadlines{})
	if err != nil {
		t.Fatalf("first request: %v", err)
	}
	if _, err := resp1.Body().Bytes(); err != nil {
		t.Fatalf("draining first response body: %v", err)
	}
	if term.calls != 1 {
		t.Fatalf("expected the first request to hit the network, calls=%d", term.calls)
	}

	resp2, err := Execute([]Interceptor{cl, term}, cacheableGetRequest(t, "http://example.com/a"), context.Background(), timeout.Deadlines{})
	if err != nil {
		t.Fatalf("second request: %v", err)
	}
	if term.calls != 1 {
		t.Fatalf("expected the second request to be served from cache, calls=%d", term.calls)
	}
	if resp2.CacheResponse() == nil {
		t.Fatal("expected CacheResponse to be set on a cache hit")
	}
}

func TestCacheLayerOnlyIfCachedSynthesizes504OnMiss(t *testing.T) {
	store := cache.NewMemoryCache(1<<20, 1<<20)
	cl := &CacheLayer{Store: store}
	term := &bypassTerminal{resp: message.NewResponseBuilder().Protocol("HTTP/1.1").Code(200).Message("OK").Build()}

	req := message.NewRequestBuilder().URL(mustURL(t, "http://example.com/a")).
		Header("Cache-Control", "only-if-cached").Get().Build()
	resp, err := Execute([]Interceptor{cl, term}, req, context.Background(), timeout.Deadlines{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Code() != 504 {
		t.Fatalf("code = %d, want 504", resp.Code())
	}
	if term.calls != 0 {
		t.Fatal("only-if-cached must never touch the network on a miss")
	}
}
