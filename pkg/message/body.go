package message

import (
	"bytes"
	"io"
	"sync"
)

// RequestBody is a lazy or sized outgoing byte stream per spec.md §3's
// Request data model. ContentLength returns -1 when the length is not
// known ahead of time, forcing chunked framing on HTTP/1.1.
type RequestBody interface {
	ContentType() string
	ContentLength() int64
	WriteTo(w io.Writer) error
}

type bytesBody struct {
	data        []byte
	contentType string
}

// NewBytesBody wraps an in-memory byte slice as a RequestBody with a known
// length.
func NewBytesBody(data []byte, contentType string) RequestBody {
	return &bytesBody{data: data, contentType: contentType}
}

func (b *bytesBody) ContentType() string   { return b.contentType }
func (b *bytesBody) ContentLength() int64  { return int64(len(b.data)) }
func (b *bytesBody) WriteTo(w io.Writer) error {
	_, err := w.Write(b.data)
	return err
}

// NewStringBody wraps s as a RequestBody.
func NewStringBody(s, contentType string) RequestBody {
	return NewBytesBody([]byte(s), contentType)
}

type streamBody struct {
	open          func() (io.Reader, error)
	contentType   string
	contentLength int64
}

// NewStreamBody wraps a reader factory as a RequestBody. contentLength may
// be -1 if unknown, in which case the HTTP/1.1 codec frames the body with
// Transfer-Encoding: chunked. open is invoked once per WriteTo call so the
// body may be replayed across a retry.
func NewStreamBody(open func() (io.Reader, error), contentType string, contentLength int64) RequestBody {
	return &streamBody{open: open, contentType: contentType, contentLength: contentLength}
}

func (b *streamBody) ContentType() string  { return b.contentType }
func (b *streamBody) ContentLength() int64 { return b.contentLength }

func (b *streamBody) WriteTo(w io.Writer) error {
	r, err := b.open()
	if err != nil {
		return err
	}
	if rc, ok := r.(io.Closer); ok {
		defer rc.Close()
	}
	_, err = io.Copy(w, r)
	return err
}

// ResponseBody is the streaming, exactly-once-closable body of a Response.
// Close is idempotent: closing twice is a no-op, matching spec.md §3's
// "Body closure is idempotent" invariant.
type ResponseBody struct {
	contentType   string
	contentLength int64
	source        io.ReadCloser

	mu     sync.Mutex
	closed bool
}

// NewResponseBody wraps source, an exchange's response body source, with
// its declared Content-Type and Content-Length (-1 if unknown).
func NewResponseBody(source io.ReadCloser, contentType string, contentLength int64) *ResponseBody {
	return &ResponseBody{source: source, contentType: contentType, contentLength: contentLength}
}

func (b *ResponseBody) ContentType() string  { return b.contentType }
func (b *ResponseBody) ContentLength() int64 { return b.contentLength }

// Read implements io.Reader over the underlying source.
func (b *ResponseBody) Read(p []byte) (int, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return 0, io.ErrClosedPipe
	}
	return b.source.Read(p)
}

// Close releases the underlying source at most once.
func (b *ResponseBody) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.source.Close()
}

// Bytes fully reads and closes the body, returning its contents.
func (b *ResponseBody) Bytes() ([]byte, error) {
	defer b.Close()
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, b); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// String is a convenience wrapper over Bytes.
func (b *ResponseBody) String() (string, error) {
	data, err := b.Bytes()
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// emptyReadCloser backs EmptyResponseBody.
type emptyReadCloser struct{}

func (emptyReadCloser) Read([]byte) (int, error) { return 0, io.EOF }
func (emptyReadCloser) Close() error              { return nil }

// EmptyResponseBody returns a zero-length, already-exhausted body.
func EmptyResponseBody(contentType string) *ResponseBody {
	return NewResponseBody(emptyReadCloser{}, contentType, 0)
}
