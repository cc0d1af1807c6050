package http1

import (
	"bufio"
	"io"
	"net"
	"testing"
	"time"

	"github.com/go-httpcore/httpcore/pkg/httpurl"
	"github.com/go-httpcore/httpcore/pkg/message"
)

func newChunkedReaderForTest(r io.Reader) *chunkedReader {
	return newChunkedReader(bufio.NewReader(r), nil)
}

func pipe(t *testing.T) (client, server net.Conn) {
	t.Helper()
	client, server = net.Pipe()
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

func TestWriteRequestHeadersAddsHostAndContentLength(t *testing.T) {
	client, server := pipe(t)
	codec := NewCodec(client)

	req := message.NewRequestBuilder().
		URL(httpurl.MustParse("https://example.com/a/b?x=1")).
		Post(message.NewStringBody("hello", "text/plain")).
		Build()

	done := make(chan error, 1)
	go func() {
		if err := codec.WriteRequestHeaders(req); err != nil {
			done <- err
			return
		}
		bw, err := codec.RequestBodyWriter(req)
		if err != nil {
			done <- err
			return
		}
		if err := req.Body().WriteTo(bw); err != nil {
			done <- err
			return
		}
		if err := bw.Close(); err != nil {
			done <- err
			return
		}
		done <- codec.FinishRequest()
	}()

	server.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 4096)
	n, err := io.ReadAtLeast(server, buf, 1)
	if err != nil {
		t.Fatalf("server read: %v", err)
	}
	raw := string(buf[:n])
	if err := <-done; err != nil {
		t.Fatalf("codec error: %v", err)
	}

	wantPrefix := "POST /a/b?x=1 HTTP/1.1\r\n"
	if len(raw) < len(wantPrefix) || raw[:len(wantPrefix)] != wantPrefix {
		t.Fatalf("request line = %q", raw)
	}
	if !contains(raw, "Host: example.com\r\n") {
		t.Fatalf("missing Host header in %q", raw)
	}
	if !contains(raw, "Content-Length: 5\r\n") {
		t.Fatalf("missing Content-Length header in %q", raw)
	}
	if !contains(raw, "\r\n\r\nhello") {
		t.Fatalf("missing body in %q", raw)
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (func() bool {
		for i := 0; i+len(substr) <= len(s); i++ {
			if s[i:i+len(substr)] == substr {
				return true
			}
		}
		return false
	})()
}

func TestReadResponseHeadersAndFixedBody(t *testing.T) {
	client, server := pipe(t)
	codec := NewCodec(client)
	// The request side is already done, as after FinishRequest.
	codec.state = StateReadingResponseHeaders

	go func() {
		server.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello"))
	}()

	rb, err := codec.ReadResponseHeaders()
	if err != nil {
		t.Fatalf("ReadResponseHeaders() error = %v", err)
	}
	resp := rb.Build()
	if resp.Code() != 200 || resp.Message() != "OK" {
		t.Fatalf("status = %d %q", resp.Code(), resp.Message())
	}

	body, length, err := codec.OpenResponseBodySource("GET", resp.Code(), resp.Headers())
	if err != nil {
		t.Fatalf("OpenResponseBodySource() error = %v", err)
	}
	if length != 5 {
		t.Fatalf("length = %d, want 5", length)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("body = %q", data)
	}
}

func TestChunkedRoundTrip(t *testing.T) {
	r, w := io.Pipe()
	br := newChunkedReaderForTest(r)
	go func() {
		io.WriteString(w, "5\r\nhello\r\n0\r\nX-Trailer: done\r\n\r\n")
		w.Close()
	}()
	data, err := io.ReadAll(br)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("data = %q", data)
	}
	if got := br.Trailers().Get("X-Trailer"); got != "done" {
		t.Fatalf("Trailers().Get(X-Trailer) = %q, want done", got)
	}
}
