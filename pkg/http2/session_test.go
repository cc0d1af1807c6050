package http2

import (
	"io"
	"net"
	"testing"
	"time"

	nethttp2 "golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"

	"github.com/go-httpcore/httpcore/pkg/httpurl"
	"github.com/go-httpcore/httpcore/pkg/message"
)

// fakeServer plays the server side of one HTTP/2 connection directly
// against golang.org/x/net/http2's Framer, without a full Session, so
// these tests exercise Session/Stream as a client implementation.
type fakeServer struct {
	conn   net.Conn
	framer *nethttp2.Framer
	enc    *hpack.Encoder
	buf    *bytesBuf
}

type bytesBuf struct{ b []byte }

func (b *bytesBuf) Write(p []byte) (int, error) { b.b = append(b.b, p...); return len(p), nil }
func (b *bytesBuf) Bytes() []byte               { return b.b }
func (b *bytesBuf) Reset()                      { b.b = b.b[:0] }

func newFakeServer(t *testing.T, conn net.Conn) *fakeServer {
	t.Helper()
	preface := make([]byte, len(clientPreface))
	if _, err := io.ReadFull(conn, preface); err != nil {
		t.Fatalf("reading client preface: %v", err)
	}
	if string(preface) != clientPreface {
		t.Fatalf("unexpected preface: %q", preface)
	}
	framer := nethttp2.NewFramer(conn, conn)
	buf := &bytesBuf{}
	return &fakeServer{conn: conn, framer: framer, enc: hpack.NewEncoder(buf), buf: buf}
}

func (f *fakeServer) expectSettingsThenAck(t *testing.T) {
	t.Helper()
	frame, err := f.framer.ReadFrame()
	if err != nil {
		t.Fatalf("reading client SETTINGS: %v", err)
	}
	if _, ok := frame.(*nethttp2.SettingsFrame); !ok {
		t.Fatalf("expected SETTINGS frame, got %T", frame)
	}
	if err := f.framer.WriteSettings(); err != nil {
		t.Fatalf("writing server SETTINGS: %v", err)
	}
	if err := f.framer.WriteSettingsAck(); err != nil {
		t.Fatalf("writing SETTINGS ack: %v", err)
	}
	// Client's readLoop acks our SETTINGS frame; drain it.
	ackFrame, err := f.framer.ReadFrame()
	if err != nil {
		t.Fatalf("reading client SETTINGS ack: %v", err)
	}
	sf, ok := ackFrame.(*nethttp2.SettingsFrame)
	if !ok || !sf.IsAck() {
		t.Fatalf("expected SETTINGS ack, got %T", ackFrame)
	}
}

func (f *fakeServer) readRequestHeaders(t *testing.T) (uint32, map[string]string) {
	t.Helper()
	frame, err := f.framer.ReadFrame()
	if err != nil {
		t.Fatalf("reading HEADERS: %v", err)
	}
	hf, ok := frame.(*nethttp2.HeadersFrame)
	if !ok {
		t.Fatalf("expected HEADERS frame, got %T", frame)
	}
	fields := map[string]string{}
	dec := hpack.NewDecoder(4096, func(hf hpack.HeaderField) { fields[hf.Name] = hf.Value })
	if _, err := dec.Write(hf.HeaderBlockFragment()); err != nil {
		t.Fatalf("decoding request headers: %v", err)
	}
	return hf.StreamID, fields
}

func (f *fakeServer) writeResponse(t *testing.T, streamID uint32, status string, body []byte) {
	t.Helper()
	f.buf.Reset()
	f.enc.WriteField(hpack.HeaderField{Name: ":status", Value: status})
	f.enc.WriteField(hpack.HeaderField{Name: "content-type", Value: "text/plain"})
	if err := f.framer.WriteHeaders(nethttp2.HeadersFrameParam{
		StreamID:      streamID,
		BlockFragment: f.buf.Bytes(),
		EndHeaders:    true,
		EndStream:     len(body) == 0,
	}); err != nil {
		t.Fatalf("writing response HEADERS: %v", err)
	}
	if len(body) > 0 {
		if err := f.framer.WriteData(streamID, true, body); err != nil {
			t.Fatalf("writing response DATA: %v", err)
		}
	}
}

func newGetRequest(t *testing.T, rawURL string) *message.Request {
	t.Helper()
	u, err := httpurl.Parse(rawURL)
	if err != nil {
		t.Fatalf("httpurl.Parse: %v", err)
	}
	return message.NewRequestBuilder().URL(u).Get().Build()
}

// tcpPair returns both ends of a loopback TCP connection. Unlike net.Pipe
// its writes are buffered by the kernel, so the Session's reader goroutine
// can send SETTINGS acks and WINDOW_UPDATE frames while the fake server is
// itself writing or has already returned.
func tcpPair(t *testing.T) (client, server net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	defer ln.Close()
	accepted := make(chan net.Conn, 1)
	go func() {
		c, _ := ln.Accept()
		accepted <- c
	}()
	client, err = net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("net.Dial: %v", err)
	}
	if server = <-accepted; server == nil {
		t.Fatalf("accepting loopback connection failed")
	}
	return client, server
}

func TestSessionRoundTripsGetRequest(t *testing.T) {
	client, server := tcpPair(t)
	defer client.Close()
	defer server.Close()

	serverDone := make(chan struct{})
	settled := make(chan struct{})
	var gotPath string
	go func() {
		defer close(serverDone)
		fs := newFakeServer(t, server)
		fs.expectSettingsThenAck(t)
		close(settled)
		streamID, fields := fs.readRequestHeaders(t)
		gotPath = fields[":path"]
		fs.writeResponse(t, streamID, "200", []byte("hello from http2"))
	}()

	sess, err := NewSession(client, DefaultSettings())
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer sess.Close()

	// Send HEADERS only after the SETTINGS exchange, so the fake server
	// reads the client's SETTINGS ack first.
	select {
	case <-settled:
	case <-time.After(2 * time.Second):
		t.Fatalf("SETTINGS exchange did not complete")
	}

	req := newGetRequest(t, "https://example.com/widgets?id=9")
	st := sess.OpenStream()
	if err := st.WriteRequestHeaders(req); err != nil {
		t.Fatalf("WriteRequestHeaders: %v", err)
	}
	if err := st.FinishRequest(); err != nil {
		t.Fatalf("FinishRequest: %v", err)
	}

	rb, err := st.ReadResponseHeaders(false)
	if err != nil {
		t.Fatalf("ReadResponseHeaders: %v", err)
	}
	resp := rb.Build()
	if resp.Code() != 200 {
		t.Fatalf("code = %d, want 200", resp.Code())
	}

	body, err := st.OpenResponseBodySource(resp)
	if err != nil {
		t.Fatalf("OpenResponseBodySource: %v", err)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	if string(data) != "hello from http2" {
		t.Fatalf("body = %q", data)
	}

	select {
	case <-serverDone:
	case <-time.After(2 * time.Second):
		t.Fatalf("server goroutine did not finish")
	}
	if gotPath != "/widgets?id=9" {
		t.Fatalf(":path = %q, want /widgets?id=9", gotPath)
	}
}

func TestStreamCancelUnblocksReader(t *testing.T) {
	client, server := tcpPair(t)
	defer client.Close()
	defer server.Close()

	settled := make(chan struct{})
	go func() {
		fs := newFakeServer(t, server)
		fs.expectSettingsThenAck(t)
		close(settled)
		// Read the request but never respond; the test cancels instead.
		fs.readRequestHeaders(t)
	}()

	sess, err := NewSession(client, DefaultSettings())
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer sess.Close()

	select {
	case <-settled:
	case <-time.After(2 * time.Second):
		t.Fatalf("SETTINGS exchange did not complete")
	}

	req := newGetRequest(t, "https://example.com/slow")
	st := sess.OpenStream()
	if err := st.WriteRequestHeaders(req); err != nil {
		t.Fatalf("WriteRequestHeaders: %v", err)
	}
	st.FinishRequest()

	done := make(chan error, 1)
	go func() {
		_, err := st.ReadResponseHeaders(false)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	st.Cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("expected an error from ReadResponseHeaders after Cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("ReadResponseHeaders did not unblock after Cancel")
	}
}
