package http1

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/go-httpcore/httpcore/pkg/constants"
	"github.com/go-httpcore/httpcore/pkg/errors"
	"github.com/go-httpcore/httpcore/pkg/headers"
	"github.com/go-httpcore/httpcore/pkg/message"
)

// hostHeaderValue renders the Host header value for u: "host[:port]", with
// the scheme's default port omitted.
func hostHeaderValue(u interface{ Authority() string }) string {
	return u.Authority()
}

// Codec drives one HTTP/1.1 connection's request/response framing. It is
// not safe for concurrent use: HTTP/1.1 connections are allocated at most
// one Exchange at a time (spec.md §4.H).
type Codec struct {
	conn  net.Conn
	r     *bufio.Reader
	w     *bufio.Writer
	state State

	requestClose  bool // client sent "Connection: close"
	responseClose bool // server sent "Connection: close"
	http10        bool // peer responded HTTP/1.0
}

// NewCodec wraps conn with buffered framing.
func NewCodec(conn net.Conn) *Codec {
	return &Codec{
		conn:  conn,
		r:     bufio.NewReader(conn),
		w:     bufio.NewWriter(conn),
		state: StateIdle,
	}
}

func (c *Codec) transition(next State) error {
	if !c.state.canTransitionTo(next) {
		return errors.NewProtocolError(fmt.Sprintf("http1: illegal transition %s -> %s", c.state, next), nil)
	}
	c.state = next
	return nil
}

// State returns the codec's current phase.
func (c *Codec) State() State { return c.state }

// WriteRequestHeaders writes the request line and headers, adding Host and
// a Content-Length or Transfer-Encoding framing header as required. It does
// not flush; call FinishRequest (after writing any body) to flush and
// prepare for response reading.
func (c *Codec) WriteRequestHeaders(req *message.Request) error {
	if err := c.transition(StateWritingRequestHeaders); err != nil {
		return err
	}

	u := req.URL()
	target := u.Path()
	if u.QueryPresent() {
		target += "?" + u.Query()
	}
	requestLine := fmt.Sprintf("%s %s HTTP/1.1\r\n", req.Method(), target)
	if _, err := c.w.WriteString(requestLine); err != nil {
		return errors.NewIOError("writing request line", err)
	}

	b := headers.FromHeaders(req.Headers())
	if b.Get("Host") == "" {
		b.Set("Host", hostHeaderValue(u))
	}
	if body := req.Body(); body != nil {
		if cl := body.ContentLength(); cl >= 0 {
			b.Set("Content-Length", strconv.FormatInt(cl, 10))
		} else {
			b.Set("Transfer-Encoding", "chunked")
		}
		if ct := body.ContentType(); ct != "" && b.Get("Content-Type") == "" {
			b.Set("Content-Type", ct)
		}
	} else if req.Method() != "GET" && req.Method() != "HEAD" {
		b.Set("Content-Length", "0")
	}
	h := b.Build()

	for i := 0; i < h.Size(); i++ {
		if _, err := fmt.Fprintf(c.w, "%s: %s\r\n", h.NameAt(i), h.ValueAt(i)); err != nil {
			return errors.NewIOError("writing request headers", err)
		}
	}
	if _, err := c.w.WriteString("\r\n"); err != nil {
		return errors.NewIOError("writing request headers", err)
	}

	c.requestClose = strings.EqualFold(h.Get("Connection"), "close")
	return nil
}

// RequestBodyWriter returns a writer framing req's body (chunked if its
// ContentLength is unknown, fixed-length otherwise). The caller must call
// Close on the returned writer before FinishRequest.
func (c *Codec) RequestBodyWriter(req *message.Request) (io.WriteCloser, error) {
	if err := c.transition(StateWritingRequestBody); err != nil {
		return nil, err
	}
	body := req.Body()
	if body.ContentLength() < 0 {
		return newChunkedWriter(c.w), nil
	}
	return nopWriteCloser{c.w}, nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// FinishRequest flushes any buffered request bytes and transitions to
// response reading.
func (c *Codec) FinishRequest() error {
	if c.state == StateWritingRequestHeaders || c.state == StateWritingRequestBody {
		if err := c.transition(StateReadingResponseHeaders); err != nil {
			return err
		}
	}
	if err := c.w.Flush(); err != nil {
		return errors.NewIOError("flushing request", err)
	}
	return nil
}

// ReadResponseHeaders reads one status line plus header block. A 1xx
// informational response (other than the caller's expected 100-Continue
// handling, which callers loop on themselves) is returned as-is; callers
// that pass expectContinue=true and see code 100 should call this again
// to read the real response.
func (c *Codec) ReadResponseHeaders() (*message.ResponseBuilder, error) {
	// FinishRequest already moved the codec here; a second call after a
	// 1xx response also finds it here.
	if c.state != StateReadingResponseHeaders {
		if err := c.transition(StateReadingResponseHeaders); err != nil {
			return nil, err
		}
	}

	line, err := c.readLine()
	if err != nil {
		return nil, errors.NewProtocolError("reading status line", err)
	}
	// Tolerate a single leading blank line from a keep-alive straggler.
	if line == "" {
		line, err = c.readLine()
		if err != nil {
			return nil, errors.NewProtocolError("reading status line", err)
		}
	}

	protocol, code, reason, err := parseStatusLine(line)
	if err != nil {
		return nil, err
	}
	c.http10 = protocol == "HTTP/1.0"

	h, err := c.readHeaderBlock()
	if err != nil {
		return nil, err
	}

	c.responseClose = strings.EqualFold(h.Get("Connection"), "close") || c.http10

	rb := message.NewResponseBuilder().
		Protocol(protocol).
		Code(code).
		Message(reason).
		Headers(h)
	return rb, nil
}

func (c *Codec) readLine() (string, error) {
	line, err := c.r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func parseStatusLine(line string) (protocol string, code int, reason string, err error) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return "", 0, "", errors.NewProtocolError("malformed status line: "+line, nil)
	}
	code, convErr := strconv.Atoi(parts[1])
	if convErr != nil {
		return "", 0, "", errors.NewProtocolError("malformed status code: "+parts[1], convErr)
	}
	if len(parts) == 3 {
		reason = parts[2]
	}
	return parts[0], code, reason, nil
}

func (c *Codec) readHeaderBlock() (headers.Headers, error) {
	b := headers.NewBuilder()
	total := 0
	for {
		line, err := c.r.ReadString('\n')
		if err != nil {
			return headers.Headers{}, errors.NewProtocolError("reading response headers", err)
		}
		total += len(line)
		if total > constants.MaxHeaderListBytes {
			return headers.Headers{}, errors.NewProtocolError("response headers exceed 256KiB", nil)
		}
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "" {
			break
		}
		idx := strings.IndexByte(trimmed, ':')
		if idx < 0 {
			continue
		}
		name := strings.TrimSpace(trimmed[:idx])
		value := strings.TrimSpace(trimmed[idx+1:])
		b.AddLenient(name, value)
	}
	return b.Build(), nil
}

// OpenResponseBodySource returns the body reader framed per
// Transfer-Encoding/Content-Length/implicit-close, honoring RFC 9110
// §6.4.1's bodyless-response set (1xx, 204, 304, and any response to HEAD).
func (c *Codec) OpenResponseBodySource(method string, code int, h headers.Headers) (io.ReadCloser, int64, error) {
	if err := c.transition(StateReadingResponseBody); err != nil {
		return nil, 0, err
	}

	if method == "HEAD" || (code >= 100 && code < 200) || code == 204 || code == 304 {
		return io.NopCloser(strings.NewReader("")), 0, nil
	}

	te := h.Get("Transfer-Encoding")
	cl := h.Get("Content-Length")

	switch {
	case strings.Contains(strings.ToLower(te), "chunked"):
		return newChunkedReader(c.r, c), -1, nil
	case cl != "":
		n, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 64)
		if err != nil || n < 0 {
			return nil, 0, errors.NewProtocolError("invalid Content-Length: "+cl, nil)
		}
		return &fixedLengthReader{r: c.r, remaining: n, codec: c}, n, nil
	default:
		return &closeDelimitedReader{r: c.r, codec: c}, -1, nil
	}
}

// IsReusable reports whether the underlying connection may serve another
// request: the response was fully consumed, neither side sent
// "Connection: close", and the body was framed (not implicit-close).
func (c *Codec) IsReusable() bool {
	return c.state == StateIdle && !c.requestClose && !c.responseClose
}

// ReleaseForReuse transitions a fully-drained codec back to IDLE.
func (c *Codec) ReleaseForReuse() error {
	if c.requestClose || c.responseClose {
		return c.transition(StateClosed)
	}
	return c.transition(StateIdle)
}

// Hijack returns the raw connection and buffered reader for a 101 Switching
// Protocols upgrade; the codec becomes unusable afterward (spec.md §4.E:
// "the connection thereafter is opaque to HTTP parsing").
func (c *Codec) Hijack() (net.Conn, *bufio.Reader) {
	c.state = StateClosed
	return c.conn, c.r
}

func (c *Codec) Close() error {
	c.state = StateClosed
	return c.conn.Close()
}

// trailerSource is implemented by body readers that may carry trailers
// (only chunkedReader, per RFC 7230 §4.1.2).
type trailerSource interface {
	Trailers() headers.Headers
}

// BodyTrailers extracts trailers from a body source returned by
// OpenResponseBodySource, if that source carries any. Must only be called
// after the body has been fully read.
func BodyTrailers(body io.ReadCloser) headers.Headers {
	if ts, ok := body.(trailerSource); ok {
		return ts.Trailers()
	}
	return headers.Headers{}
}
