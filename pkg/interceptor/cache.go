package interceptor

import (
	"io"
	"net/http"
	"time"

	"github.com/go-httpcore/httpcore/pkg/cache"
	"github.com/go-httpcore/httpcore/pkg/errors"
	"github.com/go-httpcore/httpcore/pkg/message"
)

// CacheLayer serves GET/HEAD requests from Store when a stored response is
// still fresh per RFC 9111 §4.2's age/freshness-lifetime arithmetic, and
// stores cacheable network responses as they stream past, per spec.md
// §4.K and the cache-control fields parsed by pkg/cachecontrol. Without a
// conditional-GET revalidation path (no ETag/If-None-Match wiring is named
// anywhere in spec.md's Cache-Control module), a stale entry is simply
// treated as a miss and replaced by the fresh network response — see
// DESIGN.md's open-question decision for this simplification.
type CacheLayer struct {
	Store cache.Cache
}

func (cl *CacheLayer) Intercept(chain Chain) (*message.Response, error) {
	req := chain.Request()
	store := cl.Store

	if store == nil || (req.Method() != "GET" && req.Method() != "HEAD") {
		return chain.Proceed(req)
	}

	reqCC := req.CacheControl()
	var cached *message.Response
	if !reqCC.NoCache() && !reqCC.NoStore() {
		cached = store.Get(req)
	}

	if cached != nil && isFresh(cached, reqCC) {
		return message.FromResponse(cached).Request(req).CacheResponse(cached).Build(), nil
	}
	if cached != nil {
		cached.Close()
	}

	if reqCC.OnlyIfCached() {
		return message.NewResponseBuilder().
			Request(req).
			Protocol("HTTP/1.1").
			Code(504).
			Message("Gateway Timeout").
			Build(), nil
	}

	networkResp, err := chain.Proceed(req)
	if err != nil {
		return nil, err
	}

	if !isCacheable(req, networkResp) {
		store.Remove(req)
		return networkResp, nil
	}

	editor := store.Put(networkResp)
	body := networkResp.Body()
	tee := &teeBody{source: body, editor: editor}
	cachedBody := message.NewResponseBody(tee, body.ContentType(), body.ContentLength())
	return message.FromResponse(networkResp).Body(cachedBody).Build(), nil
}

// isCacheable applies the storability subset of RFC 9111 §3 this client
// needs: only 200 responses to GET without no-store, and never a
// response to a request that itself carried Authorization (§3.5).
func isCacheable(req *message.Request, resp *message.Response) bool {
	if req.Method() != "GET" {
		return false
	}
	if resp.Code() != 200 {
		return false
	}
	if resp.CacheControl().NoStore() || req.CacheControl().NoStore() {
		return false
	}
	if req.Header("Authorization") != "" && !resp.CacheControl().IsPublic() {
		return false
	}
	return true
}

// isFresh computes whether cached is still servable without revalidation,
// honoring the request's min-fresh/max-stale overrides per RFC 9111
// §5.2.1.
func isFresh(cached *message.Response, reqCC interface{ MaxStaleSeconds() (int, bool); MinFreshSeconds() int }) bool {
	respCC := cached.CacheControl()
	if respCC.NoCache() || respCC.MustRevalidate() {
		return false
	}

	age := responseAge(cached)
	lifetime := freshnessLifetime(cached)

	minFresh := time.Duration(reqCC.MinFreshSeconds()) * time.Second
	remaining := lifetime - age
	if remaining > minFresh {
		return true
	}
	if maxStale, ok := reqCC.MaxStaleSeconds(); ok {
		return remaining+time.Duration(maxStale)*time.Second > minFresh
	}
	return false
}

func responseAge(resp *message.Response) time.Duration {
	dateHeader := resp.Header("Date")
	if dateHeader == "" {
		return 0
	}
	date, err := http.ParseTime(dateHeader)
	if err != nil {
		return 0
	}
	apparentAge := time.Since(date)
	if apparentAge < 0 {
		apparentAge = 0
	}
	return apparentAge
}

func freshnessLifetime(resp *message.Response) time.Duration {
	cc := resp.CacheControl()
	if cc.MaxAgeSeconds() > 0 {
		return time.Duration(cc.MaxAgeSeconds()) * time.Second
	}
	expiresHeader := resp.Header("Expires")
	dateHeader := resp.Header("Date")
	if expiresHeader == "" || dateHeader == "" {
		return 0
	}
	expires, err1 := http.ParseTime(expiresHeader)
	date, err2 := http.ParseTime(dateHeader)
	if err1 != nil || err2 != nil {
		return 0
	}
	lifetime := expires.Sub(date)
	if lifetime < 0 {
		return 0
	}
	return lifetime
}

// teeBody copies bytes through to editor as the caller reads the response
// body, committing the cache entry on a clean EOF and aborting it on any
// read error or early close, per spec.md §4.K's cache layer contract.
type teeBody struct {
	source *message.ResponseBody
	editor cache.BodyEditor
	done   bool
}

func (t *teeBody) Read(p []byte) (int, error) {
	n, err := t.source.Read(p)
	if n > 0 {
		if _, werr := t.editor.Write(p[:n]); werr != nil && !t.done {
			t.done = true
			t.editor.Abort()
		}
	}
	if err == io.EOF && !t.done {
		t.done = true
		if cerr := t.editor.Commit(); cerr != nil {
			return n, errors.NewIOError("committing cache entry", cerr)
		}
	} else if err != nil && err != io.EOF && !t.done {
		t.done = true
		t.editor.Abort()
	}
	return n, err
}

func (t *teeBody) Close() error {
	if !t.done {
		t.done = true
		t.editor.Abort()
	}
	return t.source.Close()
}
