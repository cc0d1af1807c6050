// Package conn implements the Connection lifecycle of spec.md §4.H: TCP
// dial, optional HTTP CONNECT tunnel or SOCKS tunnel, TLS handshake with
// ALPN, and the allocation/eligibility rules the pool consults before
// reusing a Connection. Grounded on the teacher's
// pkg/transport/transport.go Connect/upgradeTLS/connectViaHTTPProxy.
package conn

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-httpcore/httpcore/pkg/auth"
	"github.com/go-httpcore/httpcore/pkg/constants"
	"github.com/go-httpcore/httpcore/pkg/errors"
	"github.com/go-httpcore/httpcore/pkg/headers"
	"github.com/go-httpcore/httpcore/pkg/http2"
	"github.com/go-httpcore/httpcore/pkg/message"
	"github.com/go-httpcore/httpcore/pkg/route"
	"github.com/go-httpcore/httpcore/pkg/tlsconfig"
)

// DialOptions configures a Dial call.
type DialOptions struct {
	ConnectTimeout time.Duration
	TLSConfig      *tls.Config // base config: custom CA, client certs
	ProxyAuth      auth.Authenticator
}

// Connection is one established transport connection (TCP, or
// TLS-over-TCP), shared by HTTP/1.1 or HTTP/2 exchanges per spec.md §4.H's
// allocation rules.
type Connection struct {
	Route     route.Route
	Raw       net.Conn
	Protocol  string // "HTTP/1.1" or "h2"
	Handshake *message.Handshake

	maxConcurrentStreams int32

	mu             sync.Mutex
	state          State
	activeCount    int
	idleSince      time.Time
	createdAt      time.Time
	noNewExchanges atomic.Bool

	h2Once    sync.Once
	h2Session *http2.Session
	h2Err     error
}

// H2Session lazily opens the HTTP/2 multiplexer for an h2-negotiated
// Connection (client preface + initial SETTINGS), sharing it across every
// Exchange this Connection ever allocates. A GOAWAY marks the Connection
// noNewExchanges (via Session.OnGoAway) so the pool stops handing it out,
// matching spec.md §4.H's sticky-drain rule; a read failure fails the
// session's open streams, and the Exchange that sees that error marks the
// Connection.
func (c *Connection) H2Session() (*http2.Session, error) {
	c.h2Once.Do(func() {
		sess, err := http2.NewSession(c.Raw, http2.DefaultSettings())
		if err != nil {
			c.h2Err = err
			return
		}
		sess.OnSettings = c.SetMaxConcurrentStreams
		sess.OnGoAway = c.MarkNoNewExchanges
		c.h2Session = sess
	})
	return c.h2Session, c.h2Err
}

// Dial establishes a Connection to route r for target host:port, tunneling
// through r.Proxy when set and performing a TLS handshake when r.TLSMode
// is not TLSModeNone.
func Dial(ctx context.Context, r route.Route, targetHost string, targetPort int, opts DialOptions) (*Connection, error) {
	dialer := &net.Dialer{Timeout: opts.ConnectTimeout}
	proxyAddr := net.JoinHostPort(r.Address.String(), strconv.Itoa(r.Port))
	targetAddr := net.JoinHostPort(targetHost, strconv.Itoa(targetPort))

	var raw net.Conn
	var err error

	switch r.Proxy.Type {
	case route.ProxyDirect:
		raw, err = dialer.DialContext(ctx, "tcp", proxyAddr)
		if err != nil {
			return nil, errors.NewConnectionError(targetHost, targetPort, err)
		}
	case route.ProxySOCKS5:
		raw, err = dialSOCKS5(ctx, r.Proxy, proxyAddr, targetAddr, dialer)
		if err != nil {
			return nil, err
		}
	case route.ProxySOCKS4:
		raw, err = dialSOCKS4(ctx, r.Proxy, proxyAddr, targetHost, targetPort, dialer)
		if err != nil {
			return nil, err
		}
	case route.ProxyHTTP, route.ProxyHTTPS:
		raw, err = dialer.DialContext(ctx, "tcp", proxyAddr)
		if err != nil {
			return nil, errors.NewConnectionError(r.Proxy.Host, r.Proxy.Port, err)
		}
		if r.Proxy.Type == route.ProxyHTTPS {
			raw, err = handshakeProxyTLS(raw, r.Proxy)
			if err != nil {
				raw.Close()
				return nil, err
			}
		}
		raw, err = connectTunnel(ctx, raw, r.Proxy, targetHost, targetAddr, opts.ProxyAuth)
		if err != nil {
			return nil, err
		}
	default:
		return nil, errors.NewValidationError("unknown proxy type: " + string(r.Proxy.Type))
	}

	c := &Connection{
		Route:     r,
		Raw:       raw,
		Protocol:  "HTTP/1.1",
		state:     StateConnecting,
		createdAt: time.Now(),
	}

	if r.TLSMode != route.TLSModeNone {
		tlsConn, handshake, negotiated, err := upgradeTLS(ctx, raw, targetHost, r.TLSMode, opts.TLSConfig)
		if err != nil {
			raw.Close()
			return nil, errors.NewTLSError(targetHost, targetPort, err)
		}
		c.Raw = tlsConn
		c.Handshake = handshake
		if negotiated == "h2" {
			c.Protocol = "h2"
			c.maxConcurrentStreams = 100 // provisional, refined by SETTINGS
		}
	}

	c.transitionLocked(StateIdle)
	c.idleSince = time.Now()
	return c, nil
}

// handshakeProxyTLS wraps raw in TLS for an HTTPS (TLS-to-proxy) hop, per
// the teacher's connectViaHTTPProxy HTTPS branch.
func handshakeProxyTLS(raw net.Conn, proxy route.ProxyConfig) (net.Conn, error) {
	cfg := &tls.Config{ServerName: proxy.Host}
	tlsConn := tls.Client(raw, cfg)
	if err := tlsConn.Handshake(); err != nil {
		return nil, errors.NewProxyError("proxy-tls-handshake", proxy.Host, err)
	}
	return tlsConn, nil
}

// connectTunnel issues an HTTP CONNECT through an already-dialed proxy
// connection, retrying with Proxy-Authorization on a 407, sending at most
// constants.MaxProxyAuthAttempts CONNECT requests in all, per spec.md §4.H
// step 2.
func connectTunnel(ctx context.Context, raw net.Conn, proxy route.ProxyConfig, targetHost, targetAddr string, authn auth.Authenticator) (net.Conn, error) {
	var proxyAuthHeader string

	for attempt := 0; attempt < constants.MaxProxyAuthAttempts; attempt++ {
		if err := writeConnectRequest(raw, proxy, targetHost, targetAddr, proxyAuthHeader); err != nil {
			return nil, errors.NewProxyError("connect-write", targetAddr, err)
		}

		reader := bufio.NewReader(raw)
		code, respHeaders, err := readConnectResponse(reader)
		if err != nil {
			return nil, errors.NewProxyError("connect-read", targetAddr, err)
		}

		if code >= 200 && code < 300 {
			return raw, nil
		}

		if code == 407 && authn != nil {
			if authHeader, ok := nextProxyAuth(authn, respHeaders); ok {
				proxyAuthHeader = authHeader
				continue
			}
		}

		return nil, errors.NewProxyError("connect", targetAddr, fmt.Errorf("proxy CONNECT failed with status %d", code))
	}

	return nil, errors.NewProxyError("connect", targetAddr, fmt.Errorf("exceeded %d proxy authentication attempts", constants.MaxProxyAuthAttempts))
}

func nextProxyAuth(authn auth.Authenticator, respHeaders headers.Headers) (string, bool) {
	resp := message.NewResponseBuilder().
		Protocol("HTTP/1.1").
		Code(407).
		Headers(respHeaders).
		Build()
	req, err := authn.Authenticate(resp)
	if err != nil || req == nil {
		return "", false
	}
	value := req.Header("Proxy-Authorization")
	return value, value != ""
}

func writeConnectRequest(w io.Writer, proxy route.ProxyConfig, targetHost, targetAddr, proxyAuthHeader string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "CONNECT %s HTTP/1.1\r\n", targetAddr)
	fmt.Fprintf(&b, "Host: %s\r\n", targetHost)
	b.WriteString("Connection: keep-alive\r\n")
	if proxy.Username != "" && proxyAuthHeader == "" {
		basic := base64.StdEncoding.EncodeToString([]byte(proxy.Username + ":" + proxy.Password))
		fmt.Fprintf(&b, "Proxy-Authorization: Basic %s\r\n", basic)
	}
	if proxyAuthHeader != "" {
		fmt.Fprintf(&b, "Proxy-Authorization: %s\r\n", proxyAuthHeader)
	}
	b.WriteString("\r\n")
	_, err := w.Write([]byte(b.String()))
	return err
}

func readConnectResponse(r *bufio.Reader) (int, headers.Headers, error) {
	statusLine, err := r.ReadString('\n')
	if err != nil {
		return 0, headers.Headers{}, err
	}
	parts := strings.SplitN(strings.TrimSpace(statusLine), " ", 3)
	if len(parts) < 2 {
		return 0, headers.Headers{}, fmt.Errorf("malformed CONNECT status line: %q", statusLine)
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, headers.Headers{}, fmt.Errorf("malformed CONNECT status code: %q", parts[1])
	}

	hb := headers.NewBuilder()
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return 0, headers.Headers{}, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		if i := strings.IndexByte(line, ':'); i > 0 {
			hb.Add(strings.TrimSpace(line[:i]), strings.TrimSpace(line[i+1:]))
		}
	}
	return code, hb.Build(), nil
}

// upgradeTLS negotiates TLS over raw, with mode selecting the cipher-suite
// and ALPN posture, per the teacher's upgradeTLS and spec.md §4.H step 3.
func upgradeTLS(ctx context.Context, raw net.Conn, host string, mode route.TLSMode, base *tls.Config) (net.Conn, *message.Handshake, string, error) {
	var cfg *tls.Config
	if base != nil {
		cfg = base.Clone()
	} else {
		cfg = &tls.Config{}
	}
	if cfg.ServerName == "" {
		cfg.ServerName = host
	}

	switch mode {
	case route.TLSModeModern:
		if cfg.MinVersion == 0 {
			if err := tlsconfig.ApplyVersionProfile(cfg, tlsconfig.ProfileModern); err != nil {
				return nil, nil, "", err
			}
		}
		if len(cfg.CipherSuites) == 0 {
			tlsconfig.ApplyCipherSuites(cfg, cfg.MinVersion)
		}
		if len(cfg.NextProtos) == 0 {
			cfg.NextProtos = []string{"h2", "http/1.1"}
		}
	case route.TLSModeCompatible:
		if cfg.MinVersion == 0 {
			if err := tlsconfig.ApplyVersionProfile(cfg, tlsconfig.ProfileCompatible); err != nil {
				return nil, nil, "", err
			}
		}
		cfg.CipherSuites = tlsconfig.CompatibleCipherSuites
		cfg.NextProtos = []string{"http/1.1"}
	}

	tlsConn := tls.Client(raw, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, nil, "", err
	}

	state := tlsConn.ConnectionState()
	handshake := message.HandshakeFromConnState(state)
	return tlsConn, handshake, state.NegotiatedProtocol, nil
}

func (c *Connection) transitionLocked(next State) {
	if !c.state.canTransitionTo(next) && c.state != next {
		return
	}
	c.state = next
}

// State reports the Connection's current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// MarkNoNewExchanges sets the sticky noNewExchanges flag, per spec.md
// §4.H: set on any I/O error, GOAWAY, pool draining, or REFUSED_STREAM. A
// Connection may still complete in-flight exchanges afterward.
func (c *Connection) MarkNoNewExchanges() {
	c.noNewExchanges.Store(true)
}

func (c *Connection) NoNewExchanges() bool {
	return c.noNewExchanges.Load()
}

// MaxConcurrentStreams returns the HTTP/2 peer's advertised concurrency
// limit, or 1 for an HTTP/1.1 connection.
func (c *Connection) MaxConcurrentStreams() int {
	if c.Protocol != "h2" {
		return 1
	}
	n := atomic.LoadInt32(&c.maxConcurrentStreams)
	if n <= 0 {
		return 1
	}
	return int(n)
}

// SetMaxConcurrentStreams updates the HTTP/2 concurrency limit once a
// SETTINGS frame is acknowledged.
func (c *Connection) SetMaxConcurrentStreams(n int32) {
	atomic.StoreInt32(&c.maxConcurrentStreams, n)
}

// AcquireExchange reserves one allocation slot, returning false if the
// Connection is not eligible (no new exchanges, or at its concurrency
// limit).
func (c *Connection) AcquireExchange() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.noNewExchanges.Load() || c.state == StateDraining || c.state == StateClosed {
		return false
	}
	if c.activeCount >= c.MaxConcurrentStreams() {
		return false
	}
	c.activeCount++
	c.transitionLocked(StateActive)
	return true
}

// ReleaseExchange releases one allocation slot. When the last exchange
// completes the Connection returns to IDLE (unless already draining or
// closed).
func (c *Connection) ReleaseExchange() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.activeCount > 0 {
		c.activeCount--
	}
	if c.activeCount == 0 && c.state == StateActive {
		c.transitionLocked(StateIdle)
		c.idleSince = time.Now()
	}
}

// ActiveExchangeCount reports the number of exchanges currently allocated.
func (c *Connection) ActiveExchangeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeCount
}

// IdleSince reports when the Connection last returned to IDLE with zero
// allocations; the zero time if it currently has allocations.
func (c *Connection) IdleSince() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.activeCount > 0 {
		return time.Time{}
	}
	return c.idleSince
}

// IsEligibleFor reports whether this Connection can serve a new request to
// host over r, per spec.md §4.H's allocation rule: route match, no sticky
// noNewExchanges, and — for HTTP/2 coalescing onto a different host on the
// same route — the negotiated certificate must cover host.
func (c *Connection) IsEligibleFor(r route.Route, host string) bool {
	if c.noNewExchanges.Load() {
		return false
	}
	if c.State() == StateClosed || c.State() == StateDraining {
		return false
	}
	if !c.Route.Equal(r) {
		return false
	}
	c.mu.Lock()
	hasCapacity := c.activeCount < c.MaxConcurrentStreams()
	c.mu.Unlock()
	if !hasCapacity {
		return false
	}
	if c.Protocol != "h2" {
		return true
	}
	return c.certificateCovers(host)
}

func (c *Connection) certificateCovers(host string) bool {
	if c.Handshake == nil || len(c.Handshake.PeerCertificates) == 0 {
		return true
	}
	leaf := c.Handshake.PeerCertificates[0]
	return leaf.VerifyHostname(host) == nil
}

// Drain transitions the Connection to DRAINING: no new exchanges, but
// in-flight ones may complete. Used when the pool decides to evict an
// otherwise-healthy idle connection; a GOAWAY goes through
// MarkNoNewExchanges instead.
func (c *Connection) Drain() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.noNewExchanges.Store(true)
	if c.activeCount == 0 {
		c.transitionLocked(StateClosed)
		c.Raw.Close()
		return
	}
	c.transitionLocked(StateDraining)
}

// Close forcibly closes the underlying connection and marks it CLOSED,
// regardless of in-flight exchanges.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return nil
	}
	c.noNewExchanges.Store(true)
	c.transitionLocked(StateClosed)
	return c.Raw.Close()
}
