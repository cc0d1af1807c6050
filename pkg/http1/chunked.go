package http1

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/go-httpcore/httpcore/pkg/errors"
	"github.com/go-httpcore/httpcore/pkg/headers"
)

// chunkedWriter frames an outgoing request body per RFC 7230 §4.1.
type chunkedWriter struct {
	w *bufio.Writer
}

func newChunkedWriter(w *bufio.Writer) *chunkedWriter {
	return &chunkedWriter{w: w}
}

func (c *chunkedWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if _, err := io.WriteString(c.w, strconv.FormatInt(int64(len(p)), 16)+"\r\n"); err != nil {
		return 0, errors.NewIOError("writing chunk size", err)
	}
	n, err := c.w.Write(p)
	if err != nil {
		return n, errors.NewIOError("writing chunk data", err)
	}
	if _, err := c.w.WriteString("\r\n"); err != nil {
		return n, errors.NewIOError("writing chunk trailer CRLF", err)
	}
	return n, nil
}

func (c *chunkedWriter) Close() error {
	if _, err := c.w.WriteString("0\r\n\r\n"); err != nil {
		return errors.NewIOError("writing chunk terminator", err)
	}
	return nil
}

// chunkedReader decodes an incoming chunked response body per RFC 7230
// §4.1, tolerating lowercase hex size lines and an optional chunk
// extension after ";".
type chunkedReader struct {
	r        *bufio.Reader
	codec    *Codec
	remain   int64
	started  bool
	eof      bool
	trailers headers.Headers
}

func newChunkedReader(r *bufio.Reader, codec *Codec) *chunkedReader {
	return &chunkedReader{r: r, codec: codec}
}

func (c *chunkedReader) Read(p []byte) (int, error) {
	if c.eof {
		return 0, io.EOF
	}
	if c.remain == 0 {
		if err := c.nextChunkHeader(); err != nil {
			return 0, err
		}
		if c.eof {
			return 0, io.EOF
		}
	}
	if int64(len(p)) > c.remain {
		p = p[:c.remain]
	}
	n, err := c.r.Read(p)
	c.remain -= int64(n)
	if err != nil && err != io.EOF {
		return n, errors.NewIOError("reading chunk data", err)
	}
	if c.remain == 0 {
		if _, err := c.r.Discard(2); err != nil { // trailing CRLF
			return n, errors.NewIOError("reading chunk CRLF", err)
		}
	}
	return n, nil
}

func (c *chunkedReader) nextChunkHeader() error {
	line, err := c.r.ReadString('\n')
	if err != nil {
		return errors.NewProtocolError("reading chunk size", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if idx := strings.IndexByte(line, ';'); idx >= 0 {
		line = line[:idx]
	}
	size, err := strconv.ParseInt(strings.TrimSpace(line), 16, 64)
	if err != nil {
		return errors.NewProtocolError("invalid chunk size: "+line, err)
	}
	if size == 0 {
		trailers, err := readTrailers(c.r)
		if err != nil {
			return err
		}
		c.trailers = trailers
		c.eof = true
		return nil
	}
	c.remain = size
	return nil
}

func readTrailers(r *bufio.Reader) (headers.Headers, error) {
	b := headers.NewBuilder()
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return headers.Headers{}, errors.NewProtocolError("reading chunk trailers", err)
		}
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "" {
			break
		}
		idx := strings.IndexByte(trimmed, ':')
		if idx < 0 {
			continue
		}
		b.AddLenient(strings.TrimSpace(trimmed[:idx]), strings.TrimSpace(trimmed[idx+1:]))
	}
	return b.Build(), nil
}

func (c *chunkedReader) Close() error { return nil }

// Trailers returns the trailer headers read after the terminating zero
// chunk. Empty until the body has been fully consumed.
func (c *chunkedReader) Trailers() headers.Headers { return c.trailers }

// fixedLengthReader reads exactly remaining bytes per Content-Length.
type fixedLengthReader struct {
	r         *bufio.Reader
	remaining int64
	codec     *Codec
}

func (f *fixedLengthReader) Read(p []byte) (int, error) {
	if f.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > f.remaining {
		p = p[:f.remaining]
	}
	n, err := f.r.Read(p)
	f.remaining -= int64(n)
	if err == io.EOF && f.remaining > 0 {
		// Server sent fewer bytes than Content-Length promised; treat the
		// short read as end-of-body rather than failing the exchange.
		f.remaining = 0
		return n, io.EOF
	}
	if err != nil && err != io.EOF {
		return n, errors.NewIOError("reading fixed-length body", err)
	}
	return n, err
}

func (f *fixedLengthReader) Close() error { return nil }

// closeDelimitedReader reads until the connection is closed by the peer;
// such a connection can never be reused (spec.md §4.E).
type closeDelimitedReader struct {
	r     *bufio.Reader
	codec *Codec
}

func (c *closeDelimitedReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if err != nil && err != io.EOF {
		return n, errors.NewIOError("reading close-delimited body", err)
	}
	return n, err
}

func (c *closeDelimitedReader) Close() error {
	c.codec.responseClose = true
	return nil
}
