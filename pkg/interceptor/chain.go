// Package interceptor implements spec.md §4.K's chain-of-responsibility:
// a unary function (Chain) -> Response. A pkg/call.Client runs its
// application interceptors first, then the built-in retry-and-follow-up,
// bridge, cache and connect layers, then its network interceptors, and
// call-server last. No pack repo carries an HTTP interceptor chain, so
// this is built fresh; the plain-struct, small-interface style follows
// the teacher's own package shapes (e.g. pkg/auth.Authenticator).
package interceptor

import (
	"context"

	"github.com/go-httpcore/httpcore/pkg/conn"
	"github.com/go-httpcore/httpcore/pkg/exchange"
	"github.com/go-httpcore/httpcore/pkg/message"
	"github.com/go-httpcore/httpcore/pkg/timeout"
)

// Interceptor is a unary function over a Chain, per spec.md §4.K.
type Interceptor interface {
	Intercept(chain Chain) (*message.Response, error)
}

// InterceptorFunc adapts a plain function to Interceptor.
type InterceptorFunc func(chain Chain) (*message.Response, error)

func (f InterceptorFunc) Intercept(chain Chain) (*message.Response, error) { return f(chain) }

// Chain is passed to each Interceptor. request/proceed/connection/call are
// spec.md §4.K's named accessors; SetConnection and SetExchange are
// internal plumbing the connect layer uses to hand the call-server layer
// the Exchange it opened, without every Interceptor needing to know about
// pkg/exchange.
type Chain interface {
	Request() *message.Request
	Proceed(req *message.Request) (*message.Response, error)
	Connection() *conn.Connection
	Context() context.Context
	Deadlines() timeout.Deadlines

	SetConnection(c *conn.Connection)
	Exchange() *exchange.Exchange
	SetExchange(e *exchange.Exchange)
}

type realChain struct {
	interceptors []Interceptor
	index        int
	request      *message.Request
	ctx          context.Context
	deadlines    timeout.Deadlines
	state        *attemptState
}

// attemptState is shared by every realChain copy produced while
// processing one request attempt, so a layer near the front (connect) can
// publish the Connection/Exchange a layer near the back (call-server)
// needs, and so Chain.Connection() reflects the same attempt's state
// regardless of which interceptor's chain view asks for it.
type attemptState struct {
	connection *conn.Connection
	exchange   *exchange.Exchange
}

// Execute runs req through interceptors starting at index 0 and returns
// the final Response. ctx governs cancellation; deadlines are the
// configured per-call/connect/read/write timeouts (spec.md §4.P).
func Execute(interceptors []Interceptor, req *message.Request, ctx context.Context, deadlines timeout.Deadlines) (*message.Response, error) {
	chain := &realChain{
		interceptors: interceptors,
		index:        0,
		request:      req,
		ctx:          ctx,
		deadlines:    deadlines,
		state:        &attemptState{},
	}
	return chain.Proceed(req)
}

func (c *realChain) Request() *message.Request       { return c.request }
func (c *realChain) Context() context.Context        { return c.ctx }
func (c *realChain) Deadlines() timeout.Deadlines     { return c.deadlines }
func (c *realChain) Connection() *conn.Connection     { return c.state.connection }
func (c *realChain) Exchange() *exchange.Exchange     { return c.state.exchange }
func (c *realChain) SetConnection(conn *conn.Connection) { c.state.connection = conn }
func (c *realChain) SetExchange(e *exchange.Exchange)    { c.state.exchange = e }

// Proceed calls the interceptor at this chain's index, passing it a chain
// advanced to index+1 so that interceptor's own call to Proceed invokes
// the next layer in. The last interceptor (call-server) must not call
// Proceed; it is the terminal layer.
func (c *realChain) Proceed(req *message.Request) (*message.Response, error) {
	if c.index >= len(c.interceptors) {
		return nil, errNoMoreInterceptors
	}
	next := &realChain{
		interceptors: c.interceptors,
		index:        c.index + 1,
		request:      req,
		ctx:          c.ctx,
		deadlines:    c.deadlines,
		state:        c.state,
	}
	return c.interceptors[c.index].Intercept(next)
}

var errNoMoreInterceptors = &chainError{"interceptor chain exhausted without a terminal layer"}

type chainError struct{ msg string }

func (e *chainError) Error() string { return e.msg }
