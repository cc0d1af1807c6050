package conn

import (
	"context"
	"fmt"
	"io"
	"net"

	netproxy "golang.org/x/net/proxy"

	"github.com/go-httpcore/httpcore/pkg/errors"
	"github.com/go-httpcore/httpcore/pkg/route"
)

// dialSOCKS5 tunnels to targetAddr through a SOCKS5 proxy already reachable
// at proxyAddr, via golang.org/x/net/proxy, per the teacher's
// connectViaSOCKS5Proxy.
func dialSOCKS5(ctx context.Context, proxy route.ProxyConfig, proxyAddr, targetAddr string, forward netproxy.Dialer) (net.Conn, error) {
	var auth *netproxy.Auth
	if proxy.Username != "" {
		auth = &netproxy.Auth{User: proxy.Username, Password: proxy.Password}
	}
	dialer, err := netproxy.SOCKS5("tcp", proxyAddr, auth, forward)
	if err != nil {
		return nil, errors.NewProxyError("socks5-dialer", proxyAddr, err)
	}
	// golang.org/x/net/proxy's SOCKS5 Dialer has no context-aware Dial;
	// honor cancellation by racing the blocking dial against ctx.Done.
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := dialer.Dial("tcp", targetAddr)
		ch <- result{c, err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return nil, errors.NewProxyError("socks5-connect", targetAddr, r.err)
		}
		return r.conn, nil
	}
}

// dialSOCKS4 tunnels to targetAddr through a SOCKS4 proxy, hand-rolled to
// the SOCKS4 request/reply byte layout since golang.org/x/net/proxy has no
// SOCKS4 dialer, grounded on the teacher's connectViaSOCKS4Proxy.
func dialSOCKS4(ctx context.Context, proxy route.ProxyConfig, proxyAddr string, targetHost string, targetPort int, dialer *net.Dialer) (net.Conn, error) {
	ips, err := net.DefaultResolver.LookupIP(ctx, "ip4", targetHost)
	if err != nil || len(ips) == 0 {
		return nil, errors.NewProxyError("socks4-resolve", targetHost, err)
	}
	targetIP := ips[0].To4()
	if targetIP == nil {
		return nil, errors.NewProxyError("socks4-resolve", targetHost, fmt.Errorf("no IPv4 address for %s", targetHost))
	}

	conn, err := dialer.DialContext(ctx, "tcp", proxyAddr)
	if err != nil {
		return nil, errors.NewProxyError("socks4-connect", proxyAddr, err)
	}

	req := []byte{0x04, 0x01, byte(targetPort >> 8), byte(targetPort & 0xFF)}
	req = append(req, targetIP...)
	if proxy.Username != "" {
		req = append(req, []byte(proxy.Username)...)
	}
	req = append(req, 0x00)

	if _, err := conn.Write(req); err != nil {
		conn.Close()
		return nil, errors.NewProxyError("socks4-request", proxyAddr, err)
	}

	resp := make([]byte, 8)
	if _, err := io.ReadFull(conn, resp); err != nil {
		conn.Close()
		return nil, errors.NewProxyError("socks4-response", proxyAddr, err)
	}

	switch status := resp[1]; status {
	case 0x5A:
		return conn, nil
	case 0x5B:
		conn.Close()
		return nil, errors.NewProxyError("socks4-request", proxyAddr, fmt.Errorf("request rejected or failed"))
	case 0x5C:
		conn.Close()
		return nil, errors.NewProxyError("socks4-request", proxyAddr, fmt.Errorf("identd not running on client"))
	case 0x5D:
		conn.Close()
		return nil, errors.NewProxyError("socks4-request", proxyAddr, fmt.Errorf("identd could not confirm user ID"))
	default:
		conn.Close()
		return nil, errors.NewProxyError("socks4-request", proxyAddr, fmt.Errorf("unknown status code 0x%02X", status))
	}
}
