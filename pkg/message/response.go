package message

import (
	"crypto/tls"
	"crypto/x509"
	"sync"
	"time"

	"github.com/go-httpcore/httpcore/pkg/cachecontrol"
	"github.com/go-httpcore/httpcore/pkg/headers"
	"github.com/go-httpcore/httpcore/pkg/tlsconfig"
)

// Handshake describes the TLS session negotiated for a Response, per
// spec.md §3's "optional handshake descriptor".
type Handshake struct {
	TLSVersion      uint16
	CipherSuite     uint16
	PeerCertificates []*x509.Certificate
	LocalCertificates []*x509.Certificate
}

// HandshakeFromConnState converts a crypto/tls.ConnectionState into a
// Handshake descriptor.
func HandshakeFromConnState(cs tls.ConnectionState) *Handshake {
	return &Handshake{
		TLSVersion:       cs.Version,
		CipherSuite:      cs.CipherSuite,
		PeerCertificates: cs.PeerCertificates,
	}
}

// String renders the negotiated version and cipher suite by name, for
// log lines (e.g. the call package's SLogger.Debug calls).
func (h *Handshake) String() string {
	if h == nil {
		return "no TLS handshake"
	}
	return tlsconfig.GetVersionName(h.TLSVersion) + " " + tlsconfig.GetCipherSuiteName(h.CipherSuite)
}

// TrailersFunc is fetched after the Response body has been fully consumed;
// calling it before that point returns an error.
type TrailersFunc func() (headers.Headers, error)

// Response is an immutable HTTP response, possibly synthesized (cached,
// redirected-from, or retried-from) rather than a direct network result.
type Response struct {
	request     *Request
	protocol    string // "HTTP/1.1", "h2"
	code        int
	message     string
	headers     headers.Headers
	body        *ResponseBody
	handshake   *Handshake
	networkResp *Response
	cacheResp   *Response
	priorResp   *Response

	sentRequestAt     time.Time
	receivedResponseAt time.Time

	trailersFn TrailersFunc

	ccOnce sync.Once
	cc     cachecontrol.Directives
}

func (r *Response) Request() *Request          { return r.request }
func (r *Response) Protocol() string           { return r.protocol }
func (r *Response) Code() int                  { return r.code }
func (r *Response) Message() string            { return r.message }
func (r *Response) Headers() headers.Headers   { return r.headers }
func (r *Response) Header(name string) string  { return r.headers.Get(name) }
func (r *Response) Body() *ResponseBody        { return r.body }
func (r *Response) Handshake() *Handshake      { return r.handshake }
func (r *Response) NetworkResponse() *Response { return r.networkResp }
func (r *Response) CacheResponse() *Response   { return r.cacheResp }
func (r *Response) PriorResponse() *Response   { return r.priorResp }
func (r *Response) SentRequestAt() time.Time     { return r.sentRequestAt }
func (r *Response) ReceivedResponseAt() time.Time { return r.receivedResponseAt }

// IsSuccessful reports whether the status code is in [200, 300).
func (r *Response) IsSuccessful() bool { return r.code >= 200 && r.code < 300 }

// IsRedirect reports whether the status code is one of the redirect codes
// spec.md §3 names: 300, 301, 302, 303, 307, 308.
func (r *Response) IsRedirect() bool {
	switch r.code {
	case 300, 301, 302, 303, 307, 308:
		return true
	}
	return false
}

// CacheControl lazily parses the response's Cache-Control/Pragma headers.
func (r *Response) CacheControl() cachecontrol.Directives {
	r.ccOnce.Do(func() {
		r.cc = cachecontrol.Parse(r.headers.Get("Cache-Control"), r.headers.Get("Pragma"))
	})
	return r.cc
}

// Trailers returns the trailer headers, only valid once the body has been
// fully consumed. With no trailers source attached it returns empty
// headers and a nil error; otherwise it returns what that source reports.
func (r *Response) Trailers() (headers.Headers, error) {
	if r.trailersFn == nil {
		return headers.Headers{}, nil
	}
	return r.trailersFn()
}

// Close closes the response body. Idempotent: a Response with no body is a
// no-op.
func (r *Response) Close() error {
	if r.body == nil {
		return nil
	}
	return r.body.Close()
}

// ResponseBuilder mutably accumulates Response fields.
type ResponseBuilder struct {
	request     *Request
	protocol    string
	code        int
	message     string
	headers     *headers.Builder
	body        *ResponseBody
	handshake   *Handshake
	networkResp *Response
	cacheResp   *Response
	priorResp   *Response

	sentRequestAt      time.Time
	receivedResponseAt time.Time
	trailersFn         TrailersFunc
}

func NewResponseBuilder() *ResponseBuilder {
	return &ResponseBuilder{headers: headers.NewBuilder()}
}

// FromResponse starts a Builder copying every field of an existing
// Response.
func FromResponse(r *Response) *ResponseBuilder {
	return &ResponseBuilder{
		request:            r.request,
		protocol:           r.protocol,
		code:               r.code,
		message:            r.message,
		headers:            headers.FromHeaders(r.headers),
		body:               r.body,
		handshake:          r.handshake,
		networkResp:        r.networkResp,
		cacheResp:          r.cacheResp,
		priorResp:          r.priorResp,
		sentRequestAt:      r.sentRequestAt,
		receivedResponseAt: r.receivedResponseAt,
		trailersFn:         r.trailersFn,
	}
}

func (b *ResponseBuilder) Request(r *Request) *ResponseBuilder    { b.request = r; return b }
func (b *ResponseBuilder) Protocol(p string) *ResponseBuilder     { b.protocol = p; return b }
func (b *ResponseBuilder) Code(code int) *ResponseBuilder         { b.code = code; return b }
func (b *ResponseBuilder) Message(msg string) *ResponseBuilder    { b.message = msg; return b }
func (b *ResponseBuilder) Body(body *ResponseBody) *ResponseBuilder { b.body = body; return b }
func (b *ResponseBuilder) HandshakeDescriptor(h *Handshake) *ResponseBuilder {
	b.handshake = h
	return b
}
func (b *ResponseBuilder) NetworkResponse(r *Response) *ResponseBuilder { b.networkResp = r; return b }
func (b *ResponseBuilder) CacheResponse(r *Response) *ResponseBuilder   { b.cacheResp = r; return b }
func (b *ResponseBuilder) PriorResponse(r *Response) *ResponseBuilder   { b.priorResp = r; return b }
func (b *ResponseBuilder) SentRequestAt(t time.Time) *ResponseBuilder      { b.sentRequestAt = t; return b }
func (b *ResponseBuilder) ReceivedResponseAt(t time.Time) *ResponseBuilder { b.receivedResponseAt = t; return b }
func (b *ResponseBuilder) Trailers(fn TrailersFunc) *ResponseBuilder       { b.trailersFn = fn; return b }

func (b *ResponseBuilder) Header(name, value string) *ResponseBuilder {
	b.headers.Set(name, value)
	return b
}

func (b *ResponseBuilder) AddHeader(name, value string) *ResponseBuilder {
	b.headers.Add(name, value)
	return b
}

func (b *ResponseBuilder) RemoveHeader(name string) *ResponseBuilder {
	b.headers.RemoveAll(name)
	return b
}

func (b *ResponseBuilder) Headers(h headers.Headers) *ResponseBuilder {
	b.headers = headers.FromHeaders(h)
	return b
}

// Build freezes the Builder into an immutable Response.
func (b *ResponseBuilder) Build() *Response {
	return &Response{
		request:            b.request,
		protocol:           b.protocol,
		code:               b.code,
		message:            b.message,
		headers:            b.headers.Build(),
		body:               b.body,
		handshake:          b.handshake,
		networkResp:        b.networkResp,
		cacheResp:          b.cacheResp,
		priorResp:          b.priorResp,
		sentRequestAt:      b.sentRequestAt,
		receivedResponseAt: b.receivedResponseAt,
		trailersFn:         b.trailersFn,
	}
}
