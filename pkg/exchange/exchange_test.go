package exchange

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/netip"
	"strconv"
	"testing"

	httpconn "github.com/go-httpcore/httpcore/pkg/conn"
	"github.com/go-httpcore/httpcore/pkg/httpurl"
	"github.com/go-httpcore/httpcore/pkg/message"
	"github.com/go-httpcore/httpcore/pkg/route"
)

// startEchoServer answers every request on ln with a fixed 200 response,
// so tests can drive a real Exchange over a real TCP connection without a
// full HTTP server stack.
func startEchoServer(t *testing.T, body string) *net.TCPListener {
	t.Helper()
	ln, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("ListenTCP: %v", err)
	}
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		r := bufio.NewReader(c)
		// Drain the request line and headers.
		for {
			line, err := r.ReadString('\n')
			if err != nil || line == "\r\n" {
				break
			}
		}
		resp := "HTTP/1.1 200 OK\r\nContent-Length: " +
			strconv.Itoa(len(body)) + "\r\nContent-Type: text/plain\r\n\r\n" + body
		io.WriteString(c, resp)
	}()
	return ln
}

func dialLoopback(t *testing.T, ln *net.TCPListener) *httpconn.Connection {
	t.Helper()
	addr := ln.Addr().(*net.TCPAddr)
	r := route.Route{
		Proxy:   route.Direct,
		Address: netip.MustParseAddr("127.0.0.1"),
		Port:    addr.Port,
		TLSMode: route.TLSModeNone,
	}
	c, err := httpconn.Dial(context.Background(), r, "127.0.0.1", addr.Port, httpconn.DialOptions{})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	return c
}

func TestExchangeRoundTripsGetOverHTTP1(t *testing.T) {
	ln := startEchoServer(t, "hello from exchange")
	defer ln.Close()
	c := dialLoopback(t, ln)
	defer c.Close()

	u, err := httpurl.Parse("http://127.0.0.1/widgets")
	if err != nil {
		t.Fatalf("httpurl.Parse: %v", err)
	}
	req := message.NewRequestBuilder().URL(u).Get().Build()

	ex, err := Open(c)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer ex.Close()

	if err := ex.WriteRequestHeaders(req); err != nil {
		t.Fatalf("WriteRequestHeaders: %v", err)
	}
	if err := ex.FinishRequest(); err != nil {
		t.Fatalf("FinishRequest: %v", err)
	}
	rb, err := ex.ReadResponseHeaders(false)
	if err != nil {
		t.Fatalf("ReadResponseHeaders: %v", err)
	}
	if rb == nil {
		t.Fatalf("ReadResponseHeaders returned nil builder")
	}
	resp := rb.Build()
	if resp.Code() != 200 {
		t.Fatalf("code = %d, want 200", resp.Code())
	}

	body, _, err := ex.OpenResponseBodySource(req.Method(), resp)
	if err != nil {
		t.Fatalf("OpenResponseBodySource: %v", err)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	if string(data) != "hello from exchange" {
		t.Fatalf("body = %q", data)
	}
}

func TestExchangeCancelMarksConnectionUnusable(t *testing.T) {
	ln := startEchoServer(t, "unused")
	defer ln.Close()
	c := dialLoopback(t, ln)
	defer c.Close()

	ex, err := Open(c)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ex.Cancel()
	ex.Close()

	if !c.NoNewExchanges() {
		t.Fatalf("expected connection to be marked noNewExchanges after Cancel")
	}
}

func TestOpenFailsWhenConnectionHasNoCapacity(t *testing.T) {
	ln := startEchoServer(t, "unused")
	defer ln.Close()
	c := dialLoopback(t, ln)
	defer c.Close()

	first, err := Open(c)
	if err != nil {
		t.Fatalf("Open (first): %v", err)
	}
	defer first.Close()

	if _, err := Open(c); err == nil {
		t.Fatalf("expected second Open on an HTTP/1.1 connection to fail")
	}
}
