package interceptor

import (
	"context"

	"github.com/go-httpcore/httpcore/pkg/conn"
	"github.com/go-httpcore/httpcore/pkg/errors"
	"github.com/go-httpcore/httpcore/pkg/exchange"
	"github.com/go-httpcore/httpcore/pkg/message"
	"github.com/go-httpcore/httpcore/pkg/pool"
	"github.com/go-httpcore/httpcore/pkg/route"
)

// DebugLogger is the subset of pkg/call.SLogger ConnectLayer needs. Defined
// locally, rather than importing pkg/call, because pkg/call imports this
// package to build its interceptor chain.
type DebugLogger interface {
	Debug(msg string, args ...any)
}

// ConnectLayer finds a route and a Connection for the request's target and
// opens an Exchange on it, per spec.md §4.I/§4.J. It publishes both onto
// the Chain via SetConnection/SetExchange so the call-server layer (and,
// on failure, the retry-and-follow-up layer) can see what was acquired.
type ConnectLayer struct {
	Pool     *pool.Pool
	Proxies  route.ProxySelector
	Resolver route.Resolver
	TLSModes []route.TLSMode
	DialOpts conn.DialOptions
	Logger   DebugLogger
}

func (cl *ConnectLayer) Intercept(chain Chain) (*message.Response, error) {
	req := chain.Request()
	u := req.URL()

	planner := route.NewPlanner(u, cl.Proxies, cl.Resolver, cl.TLSModes)
	targetPort := u.Port()

	dial := func(ctx context.Context, r route.Route, targetHost string, port int) (*conn.Connection, error) {
		return conn.Dial(ctx, r, targetHost, port, cl.DialOpts)
	}

	var lastErr error
	for {
		r, err := planner.Next(chain.Context())
		if err != nil {
			return nil, err
		}
		if r == nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, errors.NewConnectionError(u.Host(), targetPort, nil)
		}

		c, dialErr := cl.Pool.Acquire(chain.Context(), *r, u.Host(), targetPort, dial)
		if dialErr != nil {
			lastErr = dialErr
			planner.MarkTried(*r)
			continue
		}

		ex, openErr := exchange.Open(c)
		if openErr != nil {
			lastErr = openErr
			planner.MarkTried(*r)
			cl.Pool.Release(c)
			continue
		}

		if cl.Logger != nil && c.Handshake != nil {
			cl.Logger.Debug("tls handshake complete", "host", u.Host(), "handshake", c.Handshake.String())
		}

		chain.SetConnection(c)
		chain.SetExchange(ex)
		return chain.Proceed(req)
	}
}
