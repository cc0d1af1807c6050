// Package websocket implements the RFC 6455 client of spec.md §4.M: the
// HTTP Upgrade handshake, extension negotiation (permessage-deflate per
// RFC 7692), frame reader/writer, ping scheduler, close handshake, and a
// bounded outgoing queue. No pack repo carries a WebSocket client to
// ground the wire code on; the request/response plumbing driving the
// Upgrade handshake itself reuses pkg/exchange, pkg/conn, pkg/pool and
// pkg/route exactly as pkg/call's ConnectLayer does.
package websocket

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-httpcore/httpcore/pkg/conn"
	"github.com/go-httpcore/httpcore/pkg/constants"
	"github.com/go-httpcore/httpcore/pkg/errors"
	"github.com/go-httpcore/httpcore/pkg/exchange"
	"github.com/go-httpcore/httpcore/pkg/headers"
	"github.com/go-httpcore/httpcore/pkg/message"
	"github.com/go-httpcore/httpcore/pkg/pool"
	"github.com/go-httpcore/httpcore/pkg/route"
	"github.com/go-httpcore/httpcore/pkg/timeout"
)

const magicGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// Listener receives asynchronous events from a Conn's reader goroutine.
type Listener interface {
	OnMessage(opcode Opcode, data []byte)
	OnClose(code int, reason string)
	OnFailure(err error)
}

// Options configures Dial.
type Options struct {
	Pool             *pool.Pool
	Proxies          route.ProxySelector
	Resolver         route.Resolver
	TLSModes         []route.TLSMode
	DialOpts         conn.DialOptions
	PingInterval     time.Duration
	MaxOutgoingQueue int
	CompressionOffer *CompressionOffer
}

// CompressionOffer is the client's permessage-deflate proposal. A nil
// *CompressionOffer in Options disables compression entirely.
type CompressionOffer struct {
	ClientNoContextTakeover bool
	ServerNoContextTakeover bool
}

// Dial performs the RFC 6455 handshake against target and, on success,
// returns a live Conn with its reader/writer goroutines already running.
func Dial(ctx context.Context, target *message.Request, opts Options, listener Listener) (*Conn, error) {
	if opts.Pool == nil {
		return nil, errors.NewValidationError("websocket.Dial requires a non-nil Options.Pool")
	}
	maxQueue := opts.MaxOutgoingQueue
	if maxQueue <= 0 {
		maxQueue = constants.DefaultMaxQueueBytes
	}

	key, err := generateKey()
	if err != nil {
		return nil, err
	}

	hb := headers.FromHeaders(target.Headers())
	hb.Set("Upgrade", "websocket")
	hb.Set("Connection", "Upgrade")
	hb.Set("Sec-WebSocket-Key", key)
	hb.Set("Sec-WebSocket-Version", "13")
	if hb.Get("Sec-WebSocket-Extensions") != "" {
		return nil, errors.NewValidationError("caller must not set Sec-WebSocket-Extensions; only the library-negotiated offer is sent")
	}
	if opts.CompressionOffer != nil {
		hb.Set("Sec-WebSocket-Extensions", buildExtensionOffer(opts.CompressionOffer))
	}
	req := message.From(target).Headers(hb.Build()).Get().Build()

	u := req.URL()
	targetPort := u.Port()
	planner := route.NewPlanner(u, opts.Proxies, opts.Resolver, opts.TLSModes)
	dial := func(ctx context.Context, r route.Route, host string, port int) (*conn.Connection, error) {
		return conn.Dial(ctx, r, host, port, opts.DialOpts)
	}

	var c *conn.Connection
	var lastErr error
	for {
		r, err := planner.Next(ctx)
		if err != nil {
			return nil, err
		}
		if r == nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, errors.NewConnectionError(u.Host(), targetPort, nil)
		}
		cc, dialErr := opts.Pool.Acquire(ctx, *r, u.Host(), targetPort, dial)
		if dialErr != nil {
			lastErr = dialErr
			planner.MarkTried(*r)
			continue
		}
		c = cc
		break
	}

	ex, err := exchange.Open(c)
	if err != nil {
		opts.Pool.Release(c)
		return nil, err
	}

	if err := ex.WriteRequestHeaders(req); err != nil {
		return nil, err
	}
	if err := ex.FinishRequest(); err != nil {
		return nil, err
	}
	rb, err := ex.ReadResponseHeaders(false)
	if err != nil {
		return nil, err
	}
	resp := rb.Request(req).Build()

	if err := validateHandshake(resp, key); err != nil {
		return nil, err
	}

	deflate, err := negotiateExtensions(resp.Header("Sec-WebSocket-Extensions"), opts.CompressionOffer != nil)
	if err != nil {
		// Fail the connection with close code 1010 (0x03F2).
		if raw, _, hErr := ex.Hijack(); hErr == nil {
			writeFrame(raw, true, false, OpClose, []byte{0x03, 0xF2})
			raw.Close()
		}
		return nil, err
	}

	raw, r, err := ex.Hijack()
	if err != nil {
		return nil, err
	}

	wsConn := newConn(raw, r, deflate, listener, maxQueue)
	if opts.PingInterval > 0 {
		wsConn.pingScheduler = timeout.NewPingScheduler(opts.PingInterval,
			func() error { return wsConn.writeControl(OpPing, nil) },
			func(sentCount int) {
				listener.OnFailure(errors.NewTimeoutError("ping", opts.PingInterval))
				wsConn.forceClose()
			})
		wsConn.pingScheduler.Start()
	}

	go wsConn.readerLoop()
	go wsConn.writerLoop()

	return wsConn, nil
}

// validateHandshake applies spec.md §4.M's Upgrade response checks: status
// 101, Upgrade/Connection headers present, and Sec-WebSocket-Accept
// matching base64(sha1(key + magicGUID)).
func validateHandshake(resp *message.Response, key string) error {
	if resp.Code() != 101 {
		return errors.NewProtocolError("WebSocket upgrade expected 101, got "+strconv.Itoa(resp.Code()), nil)
	}
	if !strings.EqualFold(resp.Header("Upgrade"), "websocket") {
		return errors.NewProtocolError("WebSocket upgrade response missing Upgrade: websocket", nil)
	}
	if !strings.EqualFold(resp.Header("Connection"), "Upgrade") {
		return errors.NewProtocolError("WebSocket upgrade response missing Connection: Upgrade", nil)
	}
	want := computeAccept(key)
	if resp.Header("Sec-WebSocket-Accept") != want {
		return errors.NewProtocolError("WebSocket Sec-WebSocket-Accept mismatch", nil)
	}
	return nil
}

func buildExtensionOffer(offer *CompressionOffer) string {
	parts := []string{"permessage-deflate"}
	if offer.ClientNoContextTakeover {
		parts = append(parts, "client_no_context_takeover")
	}
	if offer.ServerNoContextTakeover {
		parts = append(parts, "server_no_context_takeover")
	}
	return strings.Join(parts, "; ")
}

func generateKey() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b[:]), nil
}

func computeAccept(key string) string {
	h := sha1.New()
	h.Write([]byte(key))
	h.Write([]byte(magicGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// negotiateExtensions parses the server's Sec-WebSocket-Extensions
// response header against what was offered, per spec.md §4.M: only
// permessage-deflate is honored, client_max_window_bits must be 15 if
// present, server_max_window_bits must be in [8,15], and any unrecognized
// extension/parameter, duplicate parameter, or out-of-range value fails
// the negotiation (the caller closes with code 1010).
func negotiateExtensions(header string, offered bool) (*permessageDeflate, error) {
	if header == "" {
		return nil, nil
	}
	if !offered {
		return nil, errors.NewProtocolError("server negotiated an extension the client did not offer", nil)
	}

	clientNoCtx, serverNoCtx := false, false
	seen := map[string]bool{}

	for _, ext := range strings.Split(header, ",") {
		params := strings.Split(ext, ";")
		name := strings.TrimSpace(params[0])
		if name != "permessage-deflate" {
			return nil, errors.NewWebSocketCloseReservedError(1010)
		}
		for _, p := range params[1:] {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			pname, value, _ := strings.Cut(p, "=")
			pname = strings.TrimSpace(pname)
			value = strings.Trim(strings.TrimSpace(value), `"`)
			if seen[pname] {
				return nil, errors.NewWebSocketCloseReservedError(1010)
			}
			seen[pname] = true
			switch pname {
			case "client_max_window_bits":
				if value != "" && value != "15" {
					return nil, errors.NewWebSocketCloseReservedError(1010)
				}
			case "server_max_window_bits":
				n, err := strconv.Atoi(value)
				if err != nil || n < 8 || n > 15 {
					return nil, errors.NewWebSocketCloseReservedError(1010)
				}
			case "client_no_context_takeover":
				clientNoCtx = true
			case "server_no_context_takeover":
				serverNoCtx = true
			default:
				return nil, errors.NewWebSocketCloseReservedError(1010)
			}
		}
	}

	return newPermessageDeflate(clientNoCtx, serverNoCtx)
}

// Conn is one live WebSocket connection: a reader goroutine delivering
// events to Listener, and a writer goroutine draining a bounded outgoing
// queue, communicating per spec.md §5's mutex+condition-variable model.
type Conn struct {
	raw      net.Conn
	r        *bufio.Reader
	listener Listener
	deflate  *permessageDeflate

	writeMu sync.Mutex

	queueMu    sync.Mutex
	queueCond  *sync.Cond
	queue      [][]byte
	queueBytes int
	maxQueue   int
	closed     bool
	sentClose  bool

	closeOnce  sync.Once
	closeTimer *time.Timer

	pingScheduler pinger
}

// pinger is the subset of *timeout.PingScheduler a Conn drives; kept as an
// interface so tests can substitute a fake.
type pinger interface {
	Start()
	Stop()
	Pong()
}

func newConn(raw net.Conn, r *bufio.Reader, deflate *permessageDeflate, listener Listener, maxQueue int) *Conn {
	c := &Conn{
		raw:      raw,
		r:        r,
		deflate:  deflate,
		listener: listener,
		maxQueue: maxQueue,
	}
	c.queueCond = sync.NewCond(&c.queueMu)
	return c
}

// Send enqueues a text or binary message for the writer goroutine. It
// returns false once the outgoing queue would overflow maxQueue bytes or
// the socket is already closed, per spec.md §4.M's backpressure rule.
func (c *Conn) Send(opcode Opcode, data []byte) bool {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	if c.closed || c.sentClose {
		return false
	}
	if c.queueBytes+len(data) > c.maxQueue {
		return false
	}
	framed := append([]byte{byte(opcode)}, data...)
	c.queue = append(c.queue, framed)
	c.queueBytes += len(data)
	c.queueCond.Signal()
	return true
}

// Close initiates the close handshake: it sends a CLOSE frame, arms the
// close-timeout and returns. The socket is hard-closed when the peer's
// CLOSE arrives or the timeout fires, per spec.md §4.M.
func (c *Conn) Close(code int, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		err = c.sendClose(code, reason)
		c.queueMu.Lock()
		c.sentClose = true
		c.queueMu.Unlock()
		c.closeTimer = time.AfterFunc(constants.DefaultCloseTimeout, c.forceClose)
	})
	return err
}

func (c *Conn) sendClose(code int, reason string) error {
	payload := make([]byte, 0, 2+len(reason))
	payload = append(payload, byte(code>>8), byte(code))
	payload = append(payload, reason...)
	return c.writeControl(OpClose, payload)
}

func (c *Conn) forceClose() {
	c.queueMu.Lock()
	if c.closed {
		c.queueMu.Unlock()
		return
	}
	c.closed = true
	c.queueCond.Broadcast()
	c.queueMu.Unlock()
	if c.pingScheduler != nil {
		c.pingScheduler.Stop()
	}
	if c.closeTimer != nil {
		c.closeTimer.Stop()
	}
	c.raw.Close()
}

// writerLoop drains the outgoing queue in order. Control frames go
// through writeControl directly from the reader goroutine (pong replies,
// close acks) and bypass this queue entirely, matching spec.md §4.M's
// "control frames take priority over queued data frames" rule.
func (c *Conn) writerLoop() {
	for {
		c.queueMu.Lock()
		for len(c.queue) == 0 && !c.closed {
			c.queueCond.Wait()
		}
		if c.closed {
			c.queueMu.Unlock()
			return
		}
		item := c.queue[0]
		c.queue = c.queue[1:]
		c.queueBytes -= len(item) - 1
		c.queueMu.Unlock()

		opcode := Opcode(item[0])
		payload := item[1:]
		if err := c.writeMessage(opcode, payload); err != nil {
			c.listener.OnFailure(err)
			c.forceClose()
			return
		}
	}
}

func (c *Conn) writeMessage(opcode Opcode, payload []byte) error {
	rsv1 := false
	if c.deflate != nil && !opcode.isControl() {
		compressed, err := c.deflate.deflateMessage(payload)
		if err != nil {
			return err
		}
		payload = compressed
		rsv1 = true
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return writeFrame(c.raw, true, rsv1, opcode, payload)
}

func (c *Conn) writeControl(opcode Opcode, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return writeFrame(c.raw, true, false, opcode, payload)
}

// readerLoop assembles frames into messages and dispatches them to
// Listener, per spec.md §4.M's framing rules.
func (c *Conn) readerLoop() {
	var assembledOpcode Opcode
	var assembledRSV1 bool
	var payload []byte

	for {
		hdr, err := readFrameHeader(c.r, c.deflate != nil)
		if err != nil {
			c.listener.OnFailure(err)
			c.forceClose()
			return
		}

		chunk := make([]byte, hdr.length)
		if _, err := readFull(c.r, chunk); err != nil {
			c.listener.OnFailure(err)
			c.forceClose()
			return
		}

		if hdr.opcode.isControl() {
			if err := c.handleControl(hdr.opcode, chunk); err != nil {
				c.listener.OnFailure(err)
				c.forceClose()
				return
			}
			if hdr.opcode == OpClose {
				return
			}
			continue
		}

		if hdr.opcode != OpContinuation {
			assembledOpcode = hdr.opcode
			assembledRSV1 = hdr.rsv1
			payload = nil
		}
		payload = append(payload, chunk...)

		if hdr.fin {
			final := payload
			if assembledRSV1 && c.deflate != nil {
				inflated, err := c.deflate.inflateMessage(payload)
				if err != nil {
					c.listener.OnFailure(err)
					c.forceClose()
					return
				}
				final = inflated
			}
			c.listener.OnMessage(assembledOpcode, final)
		}
	}
}

func (c *Conn) handleControl(opcode Opcode, payload []byte) error {
	switch opcode {
	case OpPing:
		return c.writeControl(OpPong, payload)
	case OpPong:
		if c.pingScheduler != nil {
			c.pingScheduler.Pong()
		}
		return nil
	case OpClose:
		code, reason, err := parseClosePayload(payload)
		if err != nil {
			return err
		}
		c.queueMu.Lock()
		alreadySent := c.sentClose
		c.queueMu.Unlock()
		if !alreadySent {
			c.sendClose(code, reason)
		}
		c.listener.OnClose(code, reason)
		c.forceClose()
		return nil
	}
	return nil
}

// parseClosePayload validates the optional close code/reason per spec.md
// §4.M: a payload of length 1 is malformed, the code must be in
// [1000,5000) and not one of the reserved local-only codes, and the
// reason (if present) must be valid UTF-8.
func parseClosePayload(payload []byte) (int, string, error) {
	if len(payload) == 0 {
		return 1005, "", nil
	}
	if len(payload) == 1 {
		return 0, "", errors.NewProtocolError("WebSocket close payload must be at least 2 bytes", nil)
	}
	code := int(payload[0])<<8 | int(payload[1])
	reason := string(payload[2:])
	if !utf8.ValidString(reason) {
		return 0, "", errors.NewProtocolError("WebSocket close reason is not valid UTF-8", nil)
	}
	if code < 1000 || code >= 5000 {
		return 0, "", errors.NewWebSocketCloseReservedError(code)
	}
	switch code {
	case 1004, 1005, 1006, 1015:
		return 0, "", errors.NewWebSocketCloseReservedError(code)
	}
	return code, reason, nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
