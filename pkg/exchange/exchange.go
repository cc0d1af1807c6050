// Package exchange implements spec.md §4.J: one request/response pass
// bound to a Connection and a wire codec (HTTP/1.1 or HTTP/2), presenting
// the same writeRequestHeaders/createRequestBody/finishRequest/
// readResponseHeaders/openResponseBodySource/trailers/cancel contract
// regardless of which protocol the Connection negotiated. Grounded on the
// teacher's per-request codec dispatch inside client.Client.Do and
// http2.Client.DoWithOptions (pkg/client/client.go, pkg/http2/client.go),
// generalized from a single hard-coded codec choice into a thin interface
// selected by Connection.Protocol.
package exchange

import (
	"bufio"
	"io"
	"net"

	"github.com/go-httpcore/httpcore/pkg/conn"
	"github.com/go-httpcore/httpcore/pkg/errors"
	"github.com/go-httpcore/httpcore/pkg/headers"
	"github.com/go-httpcore/httpcore/pkg/http1"
	"github.com/go-httpcore/httpcore/pkg/http2"
	"github.com/go-httpcore/httpcore/pkg/message"
)

// codec is the shape a wire codec must present for Exchange to drive it
// uniformly. pkg/http1.Codec and pkg/http2.Stream both satisfy it, the
// latter via small signature-matching wrapper methods in this package.
type codec interface {
	WriteRequestHeaders(req *message.Request) error
	CreateRequestBody(req *message.Request, duplex bool) (io.WriteCloser, error)
	FinishRequest() error
	ReadResponseHeaders(expectContinue bool) (*message.ResponseBuilder, error)
	OpenResponseBodySource(method string, code int, h headers.Headers) (io.ReadCloser, int64, error)
	Trailers() headers.Headers
	Cancel()
}

// Exchange binds one request/response pass to a Connection, dispatching to
// an HTTP/1.1 or HTTP/2 codec depending on Connection.Protocol. It holds
// request-sent and response-received flags per spec.md §4.J and releases
// its Connection allocation slot exactly once, on Close.
type Exchange struct {
	connection *conn.Connection
	codec      codec

	requestSent     bool
	responseStarted bool
	released        bool
}

// Open allocates one exchange slot on c (spec.md §4.H's allocation rule)
// and wraps c in the codec matching its negotiated protocol. The caller
// must release the slot by calling Close once the exchange (including its
// response body) has been fully consumed or abandoned.
func Open(c *conn.Connection) (*Exchange, error) {
	if !c.AcquireExchange() {
		return nil, errors.NewConnectionError(c.Route.Address.String(), c.Route.Port,
			nil)
	}

	var cd codec
	switch c.Protocol {
	case "h2":
		sess, err := c.H2Session()
		if err != nil {
			c.ReleaseExchange()
			c.MarkNoNewExchanges()
			return nil, err
		}
		cd = &h2Codec{stream: sess.OpenStream()}
	default:
		cd = &h1Codec{Codec: http1.NewCodec(c.Raw)}
	}

	return &Exchange{connection: c, codec: cd}, nil
}

// WriteRequestHeaders writes req's request line/pseudo-headers and header
// block to the wire.
func (e *Exchange) WriteRequestHeaders(req *message.Request) error {
	if err := e.codec.WriteRequestHeaders(req); err != nil {
		e.connection.MarkNoNewExchanges()
		return errors.NewIOError("writing request headers", err)
	}
	e.requestSent = true
	return nil
}

// CreateRequestBody returns a writable stream for req's body. duplex
// requests concurrent request/response streaming where the codec supports
// it (always true for HTTP/2; HTTP/1.1 still writes the body to
// completion before reading the response).
func (e *Exchange) CreateRequestBody(req *message.Request, duplex bool) (io.WriteCloser, error) {
	w, err := e.codec.CreateRequestBody(req, duplex)
	if err != nil {
		e.connection.MarkNoNewExchanges()
		return nil, errors.NewIOError("opening request body", err)
	}
	return &requestBodyWriter{e: e, w: w}, nil
}

type requestBodyWriter struct {
	e *Exchange
	w io.WriteCloser
}

func (w *requestBodyWriter) Write(p []byte) (int, error) {
	n, err := w.w.Write(p)
	if err != nil {
		w.e.connection.MarkNoNewExchanges()
		return n, errors.NewIOError("writing request body", err)
	}
	return n, nil
}

func (w *requestBodyWriter) Close() error {
	if err := w.w.Close(); err != nil {
		w.e.connection.MarkNoNewExchanges()
		return errors.NewIOError("closing request body", err)
	}
	return nil
}

// FinishRequest flushes any remaining request framing and prepares the
// codec for response reading.
func (e *Exchange) FinishRequest() error {
	if err := e.codec.FinishRequest(); err != nil {
		e.connection.MarkNoNewExchanges()
		return errors.NewIOError("finishing request", err)
	}
	return nil
}

// ReadResponseHeaders reads one status line/header block. When
// expectContinue is true and the codec is HTTP/1.1, a 100-Continue
// response is consumed internally and nil, nil is returned to signal the
// caller to proceed with writing the request body before calling this
// again with expectContinue=false. HTTP/2 codecs never return nil: see
// pkg/http2.Stream.ReadResponseHeaders's doc comment.
func (e *Exchange) ReadResponseHeaders(expectContinue bool) (*message.ResponseBuilder, error) {
	for {
		rb, err := e.codec.ReadResponseHeaders(expectContinue)
		if err != nil {
			e.connection.MarkNoNewExchanges()
			return nil, errors.NewIOError("reading response headers", err)
		}
		if rb == nil {
			return nil, nil
		}
		resp := rb.Build()
		if expectContinue && resp.Code() >= 100 && resp.Code() < 200 {
			if resp.Code() == 100 {
				return nil, nil
			}
			continue
		}
		e.responseStarted = true
		return rb, nil
	}
}

// OpenResponseBodySource returns the response body reader framed per the
// codec's wire rules, and the known content length (-1 if unknown).
func (e *Exchange) OpenResponseBodySource(method string, response *message.Response) (io.ReadCloser, int64, error) {
	body, n, err := e.codec.OpenResponseBodySource(method, response.Code(), response.Headers())
	if err != nil {
		e.connection.MarkNoNewExchanges()
		return nil, 0, errors.NewIOError("opening response body", err)
	}
	return &responseBodyReader{e: e, r: body}, n, nil
}

type responseBodyReader struct {
	e *Exchange
	r io.ReadCloser
}

func (r *responseBodyReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if err != nil && err != io.EOF {
		r.e.connection.MarkNoNewExchanges()
		return n, errors.NewIOError("reading response body", err)
	}
	return n, err
}

func (r *responseBodyReader) Close() error {
	return r.r.Close()
}

// Trailers returns the response's trailing headers, if any; must only be
// called after the body has been fully read.
func (e *Exchange) Trailers() headers.Headers {
	return e.codec.Trailers()
}

// Cancel forcefully closes the underlying stream (the HTTP/1.1 connection,
// or just this HTTP/2 stream) and marks it unusable. Idempotent.
func (e *Exchange) Cancel() {
	e.codec.Cancel()
	e.connection.MarkNoNewExchanges()
}

// Close releases this Exchange's allocation slot on its Connection. For
// HTTP/1.1, reuse eligibility (IsReusable/ReleaseForReuse) must be decided
// by the caller before Close, since only the caller knows whether the
// response body was fully drained.
func (e *Exchange) Close() {
	if e.released {
		return
	}
	e.released = true
	e.connection.ReleaseExchange()
}

// Hijack detaches the underlying HTTP/1.1 connection for a 101 Switching
// Protocols upgrade (WebSocket), returning the raw socket and any bytes
// already buffered past the response headers. Only valid for an HTTP/1.1
// Exchange; spec.md's WebSocket module does not define an HTTP/2 upgrade
// path (RFC 8441 Extended CONNECT is out of scope).
func (e *Exchange) Hijack() (net.Conn, *bufio.Reader, error) {
	h1, ok := e.codec.(*h1Codec)
	if !ok {
		return nil, nil, errors.NewValidationError("cannot hijack a non-HTTP/1.1 exchange for WebSocket upgrade")
	}
	raw, r := h1.Codec.Hijack()
	return raw, r, nil
}

// Connection returns the Connection this Exchange is bound to, for
// interceptors that need to report connection-listener events or decide
// HTTP/1.1 reuse.
func (e *Exchange) Connection() *conn.Connection {
	return e.connection
}

// RequestSent reports whether WriteRequestHeaders has completed
// successfully, per spec.md §4.J's request-sent flag. The retry-and-
// follow-up interceptor uses this to decide whether a connect-time
// failure is safe to retry on a fresh route (a request that was never
// sent has no risk of double-execution on the origin server).
func (e *Exchange) RequestSent() bool { return e.requestSent }

// ResponseStarted reports whether a final (non-1xx) response has begun
// arriving, per spec.md §4.J's response-received flag.
func (e *Exchange) ResponseStarted() bool { return e.responseStarted }

// IsReusable reports whether the underlying wire connection may serve
// another Exchange once this one's body has been fully drained. HTTP/2
// streams never block reuse of their shared Connection, so this only ever
// returns false for an HTTP/1.1 Exchange mid-response or on a
// Connection: close exchange.
func (e *Exchange) IsReusable() bool {
	h1, ok := e.codec.(*h1Codec)
	if !ok {
		return true
	}
	return h1.Codec.IsReusable()
}

// ReleaseForReuse returns the underlying HTTP/1.1 connection to IDLE so
// the pool may hand it to another Exchange; a no-op for HTTP/2, whose
// Connection stays usable for other streams regardless of this one's
// outcome.
func (e *Exchange) ReleaseForReuse() error {
	h1, ok := e.codec.(*h1Codec)
	if !ok {
		return nil
	}
	if err := h1.Codec.ReleaseForReuse(); err != nil {
		return errors.NewIOError("releasing HTTP/1.1 connection for reuse", err)
	}
	return nil
}

// h1Codec adapts pkg/http1.Codec's slightly different method names
// (RequestBodyWriter, ReadResponseHeaders taking no args, no-arg Trailers
// routed through http1.BodyTrailers) onto the codec interface.
type h1Codec struct {
	*http1.Codec
	lastBody io.ReadCloser
}

func (c *h1Codec) CreateRequestBody(req *message.Request, duplex bool) (io.WriteCloser, error) {
	return c.RequestBodyWriter(req)
}

func (c *h1Codec) ReadResponseHeaders(expectContinue bool) (*message.ResponseBuilder, error) {
	return c.Codec.ReadResponseHeaders()
}

func (c *h1Codec) OpenResponseBodySource(method string, code int, h headers.Headers) (io.ReadCloser, int64, error) {
	body, n, err := c.Codec.OpenResponseBodySource(method, code, h)
	if err != nil {
		return nil, 0, err
	}
	c.lastBody = body
	return body, n, nil
}

func (c *h1Codec) Trailers() headers.Headers {
	if c.lastBody == nil {
		return headers.Headers{}
	}
	return http1.BodyTrailers(c.lastBody)
}

func (c *h1Codec) Cancel() {
	c.Close()
}

// h2Codec adapts pkg/http2.Stream's OpenResponseBodySource signature
// (which takes the already-built *message.Response, not its loose parts)
// onto the codec interface.
type h2Codec struct {
	stream *http2.Stream
}

func (c *h2Codec) WriteRequestHeaders(req *message.Request) error {
	return c.stream.WriteRequestHeaders(req)
}

func (c *h2Codec) CreateRequestBody(req *message.Request, duplex bool) (io.WriteCloser, error) {
	return c.stream.CreateRequestBody(req, duplex)
}

func (c *h2Codec) FinishRequest() error {
	return c.stream.FinishRequest()
}

func (c *h2Codec) ReadResponseHeaders(expectContinue bool) (*message.ResponseBuilder, error) {
	return c.stream.ReadResponseHeaders(expectContinue)
}

func (c *h2Codec) OpenResponseBodySource(method string, code int, h headers.Headers) (io.ReadCloser, int64, error) {
	rb := message.NewResponseBuilder().Protocol("h2").Code(code).Headers(h)
	resp := rb.Build()
	r, err := c.stream.OpenResponseBodySource(resp)
	if err != nil {
		return nil, 0, err
	}
	return r, -1, nil
}

func (c *h2Codec) Trailers() headers.Headers {
	return c.stream.Trailers()
}

func (c *h2Codec) Cancel() {
	c.stream.Cancel()
}
