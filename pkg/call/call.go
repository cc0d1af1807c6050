// Package call implements the Client/Call facade of spec.md §4.L:
// execute (blocking) and enqueue (dispatched to a worker pool) share the
// same internal interceptor-chain path, a Call arms the call-wide and
// per-stage timeouts, and cancellation is cooperative and monotonic.
// Grounded on the teacher's top-level Sender (rawhttp.go) for the
// construction/entry-point shape, and on bassosimone-nop's Config/
// NewConfig defaulting convention (config.go) for Client's Options.
package call

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/go-httpcore/httpcore/pkg/auth"
	"github.com/go-httpcore/httpcore/pkg/cache"
	"github.com/go-httpcore/httpcore/pkg/conn"
	"github.com/go-httpcore/httpcore/pkg/cookiejar"
	"github.com/go-httpcore/httpcore/pkg/errors"
	"github.com/go-httpcore/httpcore/pkg/interceptor"
	"github.com/go-httpcore/httpcore/pkg/message"
	"github.com/go-httpcore/httpcore/pkg/pool"
	"github.com/go-httpcore/httpcore/pkg/route"
	"github.com/go-httpcore/httpcore/pkg/timeout"
)

// Options configures a Client. NewOptions returns the defaults; New fills
// zero-valued fields from them, except the three boolean switches, which
// New takes as given.
type Options struct {
	// Deadlines is the call/connect/read/write/ping timeout hierarchy.
	Deadlines timeout.Deadlines

	FollowRedirects    bool
	FollowSSLRedirects bool
	RetryOnConnFailure bool

	Authenticator      auth.Authenticator
	ProxyAuthenticator auth.Authenticator
	Jar                cookiejar.CookieJar

	Proxies  route.ProxySelector
	Resolver route.Resolver
	TLSModes []route.TLSMode
	DialOpts conn.DialOptions

	Pool *pool.Pool

	// Cache is the optional HTTP cache collaborator; nil disables caching.
	Cache cache.Cache

	// Interceptors are application-level interceptors, run outermost,
	// before the built-in retry-and-follow-up layer. NetworkInterceptors
	// run innermost, just before call-server.
	Interceptors        []interceptor.Interceptor
	NetworkInterceptors []interceptor.Interceptor

	Logger SLogger

	MaxInFlightCalls int
	MaxCallsPerHost  int
}

// NewOptions returns an Options with every field defaulted per spec.md §5
// and §6's configuration table.
func NewOptions() Options {
	return Options{
		FollowRedirects:    true,
		FollowSSLRedirects: false,
		RetryOnConnFailure: true,
		Authenticator:      auth.None,
		ProxyAuthenticator: auth.None,
		Jar:                cookiejar.None,
		Proxies:            route.NoProxy,
		Resolver:           route.SystemResolver{},
		Pool:               pool.New(pool.DefaultOptions()),
		Logger:             DefaultSLogger(),
		MaxInFlightCalls:   MaxInFlightCallsDefault,
		MaxCallsPerHost:    MaxCallsPerHostDefault,
	}
}

// Client builds Calls for Requests, owning the shared dispatcher and
// connection pool a family of Calls run against.
type Client struct {
	opts       Options
	dispatcher *dispatcher
}

// New constructs a Client from opts, filling unset non-boolean fields with
// NewOptions' defaults field-by-field so a caller can override only what
// they need. FollowRedirects, FollowSSLRedirects and RetryOnConnFailure are
// used as given, so a zero Options leaves all three off.
func New(opts Options) *Client {
	def := NewOptions()
	if opts.Authenticator == nil {
		opts.Authenticator = def.Authenticator
	}
	if opts.ProxyAuthenticator == nil {
		opts.ProxyAuthenticator = def.ProxyAuthenticator
	}
	if opts.Jar == nil {
		opts.Jar = def.Jar
	}
	if opts.Proxies == nil {
		opts.Proxies = def.Proxies
	}
	if opts.Resolver == nil {
		opts.Resolver = def.Resolver
	}
	if opts.Pool == nil {
		opts.Pool = def.Pool
	}
	if opts.Logger == nil {
		opts.Logger = def.Logger
	}
	if opts.MaxInFlightCalls <= 0 {
		opts.MaxInFlightCalls = def.MaxInFlightCalls
	}
	if opts.MaxCallsPerHost <= 0 {
		opts.MaxCallsPerHost = def.MaxCallsPerHost
	}
	return &Client{
		opts:       opts,
		dispatcher: newDispatcher(opts.MaxInFlightCalls, opts.MaxCallsPerHost),
	}
}

// NewCall returns a fresh Call for req, ready to Execute or Enqueue.
func (c *Client) NewCall(req *message.Request) *Call {
	return &Call{
		client: c,
		req:    req,
	}
}

// Call is one logical request in flight, spanning every retry and
// follow-up the interceptor chain issues for it. A Call is single-use:
// Execute or Enqueue may be called only once; use Clone for a repeat.
type Call struct {
	client *Client
	req    *message.Request

	executed atomic.Bool
	canceled atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
}

// Execute runs the Call synchronously on the caller's goroutine, per
// spec.md §4.L.
func (call *Call) Execute() (*message.Response, error) {
	if call.executed.Swap(true) {
		return nil, errAlreadyExecuted
	}
	return call.run(context.Background())
}

// Enqueue dispatches the Call to the Client's shared worker pool, bounded
// by maxInFlight/maxPerHost, invoking callback exactly once with the
// result.
func (call *Call) Enqueue(callback func(*message.Response, error)) {
	if call.executed.Swap(true) {
		callback(nil, errAlreadyExecuted)
		return
	}
	call.client.dispatcher.enqueue(call, callback)
}

func (call *Call) run(ctx context.Context) (*message.Response, error) {
	ctx, cancelCall := context.WithCancel(ctx)
	ctx, cancelDeadline := call.client.opts.Deadlines.WithCallDeadline(ctx)
	call.mu.Lock()
	call.cancel = func() {
		cancelDeadline()
		cancelCall()
	}
	call.mu.Unlock()
	defer call.cancel()

	if call.canceled.Load() {
		return nil, errors.NewCanceledError("call")
	}

	chain := call.client.buildChain()
	return interceptor.Execute(chain, call.req, ctx, call.client.opts.Deadlines)
}

// Cancel forcefully closes the active Exchange and fails pending
// scheduling, per spec.md §5's cancellation rule. isCanceled is monotonic
// once set.
func (call *Call) Cancel() {
	if call.canceled.Swap(true) {
		return
	}
	call.mu.Lock()
	cancel := call.cancel
	call.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// IsCanceled reports whether Cancel has been called.
func (call *Call) IsCanceled() bool { return call.canceled.Load() }

// Clone returns a fresh, not-yet-executed Call for the same Request.
func (call *Call) Clone() *Call {
	return call.client.NewCall(call.req)
}

func (c *Client) buildChain() []interceptor.Interceptor {
	chain := make([]interceptor.Interceptor, 0, 5+len(c.opts.Interceptors)+len(c.opts.NetworkInterceptors))
	chain = append(chain, c.opts.Interceptors...)
	chain = append(chain, &interceptor.RetryLayer{
		Authenticator:      c.opts.Authenticator,
		ProxyAuthenticator: c.opts.ProxyAuthenticator,
		FollowRedirects:    c.opts.FollowRedirects,
		FollowSSLRedirects: c.opts.FollowSSLRedirects,
		RetryOnConnFailure: c.opts.RetryOnConnFailure,
	})
	chain = append(chain, &interceptor.Bridge{Jar: c.opts.Jar})
	chain = append(chain, &interceptor.CacheLayer{Store: c.opts.Cache})
	chain = append(chain, &interceptor.ConnectLayer{
		Pool:     c.opts.Pool,
		Proxies:  c.opts.Proxies,
		Resolver: c.opts.Resolver,
		TLSModes: c.opts.TLSModes,
		DialOpts: c.opts.DialOpts,
		Logger:   c.opts.Logger,
	})
	chain = append(chain, c.opts.NetworkInterceptors...)
	chain = append(chain, &interceptor.CallServerLayer{})
	return chain
}

type callError string

func (e callError) Error() string { return string(e) }

const errAlreadyExecuted = callError("a Call may only be executed once; use Clone for a repeat")
