// Package message implements the immutable Request/Response value types and
// their mutable Builders, per spec.md §3 and §4.D.
package message

import (
	"strings"
	"sync"

	"github.com/go-httpcore/httpcore/pkg/cachecontrol"
	"github.com/go-httpcore/httpcore/pkg/errors"
	"github.com/go-httpcore/httpcore/pkg/headers"
	"github.com/go-httpcore/httpcore/pkg/httpurl"
)

// Request is an immutable outgoing HTTP request. Construct one via
// NewRequestBuilder, or From(existing) to copy one for
// modification.
type Request struct {
	url     *httpurl.URL
	method  string
	headers headers.Headers
	body    RequestBody
	tags    tagMap

	ccOnce sync.Once
	cc     cachecontrol.Directives
}

func (r *Request) URL() *httpurl.URL       { return r.url }
func (r *Request) Method() string          { return r.method }
func (r *Request) Headers() headers.Headers { return r.headers }
func (r *Request) Body() RequestBody       { return r.body }
func (r *Request) Header(name string) string { return r.headers.Get(name) }

// IsHTTPS reports whether the target URL's scheme is https.
func (r *Request) IsHTTPS() bool { return r.url.IsHTTPS() }

// CacheControl lazily parses the Cache-Control/Pragma headers on first use
// and caches the result for the life of the (immutable) Request.
func (r *Request) CacheControl() cachecontrol.Directives {
	r.ccOnce.Do(func() {
		r.cc = cachecontrol.Parse(r.headers.Get("Cache-Control"), r.headers.Get("Pragma"))
	})
	return r.cc
}

// RequestBuilder mutably accumulates Request fields; Build freezes them into
// an immutable Request.
type RequestBuilder struct {
	url     *httpurl.URL
	method  string
	headers *headers.Builder
	body    RequestBody
	tags    tagMap
}

// NewRequestBuilder starts a Builder with method GET and no URL set; URL
// must be supplied before Build.
func NewRequestBuilder() *RequestBuilder {
	return &RequestBuilder{
		method:  "GET",
		headers: headers.NewBuilder(),
	}
}

// From starts a Builder copying every field of an existing Request, so the
// original is unaffected by subsequent mutation.
func From(r *Request) *RequestBuilder {
	return &RequestBuilder{
		url:     r.url,
		method:  r.method,
		headers: headers.FromHeaders(r.headers),
		body:    r.body,
		tags:    r.tags.clone(),
	}
}

func (b *RequestBuilder) URL(u *httpurl.URL) *RequestBuilder {
	b.url = u
	return b
}

func (b *RequestBuilder) Header(name, value string) *RequestBuilder {
	b.headers.Set(name, value)
	return b
}

func (b *RequestBuilder) AddHeader(name, value string) *RequestBuilder {
	b.headers.Add(name, value)
	return b
}

func (b *RequestBuilder) RemoveHeader(name string) *RequestBuilder {
	b.headers.RemoveAll(name)
	return b
}

func (b *RequestBuilder) Headers(h headers.Headers) *RequestBuilder {
	b.headers = headers.FromHeaders(h)
	return b
}

// Method sets an arbitrary method and body, validating RFC 7231 body
// presence rules: GET/HEAD must carry no body, and a body's absence is
// otherwise unconstrained for custom methods.
func (b *RequestBuilder) Method(method string, body RequestBody) *RequestBuilder {
	method = strings.ToUpper(method)
	if body != nil && (method == "GET" || method == "HEAD") {
		panic(errors.NewValidationError(method + " must not carry a request body"))
	}
	b.method = method
	b.body = body
	return b
}

func (b *RequestBuilder) Get() *RequestBuilder  { return b.Method("GET", nil) }
func (b *RequestBuilder) Head() *RequestBuilder { return b.Method("HEAD", nil) }

func (b *RequestBuilder) Post(body RequestBody) *RequestBuilder {
	if body == nil {
		panic(errors.NewValidationError("POST requires a request body"))
	}
	return b.Method("POST", body)
}

func (b *RequestBuilder) Put(body RequestBody) *RequestBuilder {
	if body == nil {
		panic(errors.NewValidationError("PUT requires a request body"))
	}
	return b.Method("PUT", body)
}

func (b *RequestBuilder) Patch(body RequestBody) *RequestBuilder {
	if body == nil {
		panic(errors.NewValidationError("PATCH requires a request body"))
	}
	return b.Method("PATCH", body)
}

// Delete accepts an optional body (body may be nil).
func (b *RequestBuilder) Delete(body RequestBody) *RequestBuilder {
	return b.Method("DELETE", body)
}

// Build freezes the Builder into an immutable Request. Panics if no URL
// was set.
func (b *RequestBuilder) Build() *Request {
	if b.url == nil {
		panic(errors.NewValidationError("request requires a URL"))
	}
	return &Request{
		url:     b.url,
		method:  b.method,
		headers: b.headers.Build(),
		body:    b.body,
		tags:    b.tags.clone(),
	}
}
