// Package pool implements the shared ConnectionPool of spec.md §4.I:
// bounded by max-idle-connections and keep-alive-duration, reusing
// Connections by route match or HTTP/2 coalescing, with a background LRU
// sweep. Grounded on the teacher's pkg/http2/transport.go Transport, whose
// connections map[string]*Connection plus healthChecker/
// checkConnectionHealth goroutine is generalized here to be
// protocol-agnostic: one pool serves both HTTP/1.1 and HTTP/2 Connections,
// keyed by Route rather than by host:port string alone.
package pool

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/go-httpcore/httpcore/pkg/conn"
	"github.com/go-httpcore/httpcore/pkg/constants"
	"github.com/go-httpcore/httpcore/pkg/route"
)

// Dialer opens a new Connection for a Route, the seam pool.Pool calls into
// on a pool miss. Implemented by pkg/conn.Dial in production, faked in
// tests.
type Dialer func(ctx context.Context, r route.Route, targetHost string, targetPort int) (*conn.Connection, error)

// Options configures a Pool.
type Options struct {
	MaxIdleConnections int
	KeepAlive          time.Duration
}

// DefaultOptions mirrors the teacher's DefaultOptions keep-alive posture.
func DefaultOptions() Options {
	return Options{
		MaxIdleConnections: 5,
		KeepAlive:          constants.DefaultIdleTimeout,
	}
}

type entry struct {
	connection *conn.Connection
	element    *list.Element
}

// Pool is the shared, mutex-protected set of pooled Connections. Connection
// I/O (dial, drain, close) always happens outside the pool's mutex, per
// spec.md §4.I's concurrency note.
type Pool struct {
	opts Options

	mu    sync.Mutex
	byKey map[string][]*entry // route key -> entries, most-recently-used at list front
	lru   *list.List          // global LRU across all idle entries, for the sweep

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New creates a Pool and starts its background sweep goroutine.
func New(opts Options) *Pool {
	if opts.MaxIdleConnections <= 0 {
		opts.MaxIdleConnections = DefaultOptions().MaxIdleConnections
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = DefaultOptions().KeepAlive
	}
	p := &Pool{
		opts:   opts,
		byKey:  make(map[string][]*entry),
		lru:    list.New(),
		stopCh: make(chan struct{}),
	}
	p.wg.Add(1)
	go p.sweepLoop()
	return p
}

// Acquire returns a Connection eligible to serve a request to targetHost
// over r, reusing a pooled one when possible, else dialing fresh via
// dial. Per spec.md §4.I, reuse scans idle connections for a route match
// or HTTP/2 coalescing match before creating a new connection.
func (p *Pool) Acquire(ctx context.Context, r route.Route, targetHost string, targetPort int, dial Dialer) (*conn.Connection, error) {
	if c := p.reuse(r, targetHost); c != nil {
		return c, nil
	}
	c, err := dial(ctx, r, targetHost, targetPort)
	if err != nil {
		return nil, err
	}
	p.track(c)
	return c, nil
}

func (p *Pool) reuse(r route.Route, targetHost string) *conn.Connection {
	p.mu.Lock()
	defer p.mu.Unlock()

	if entries := p.byKey[r.Key()]; entries != nil {
		for _, e := range entries {
			if e.connection.IsEligibleFor(r, targetHost) {
				p.lru.MoveToFront(e.element)
				return e.connection
			}
		}
	}

	for key, entries := range p.byKey {
		if key == r.Key() {
			continue // already scanned above
		}
		for _, e := range entries {
			if e.connection.IsEligibleFor(r, targetHost) {
				p.lru.MoveToFront(e.element)
				return e.connection
			}
		}
	}
	return nil
}

func (p *Pool) track(c *conn.Connection) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := c.Route.Key()
	e := &entry{connection: c}
	e.element = p.lru.PushFront(e)
	p.byKey[key] = append(p.byKey[key], e)
}

// Release returns a Connection to the idle set once its Call has finished
// with it. A Connection already marked noNewExchanges (draining, closed,
// or otherwise ineligible) is evicted instead of retained.
func (p *Pool) Release(c *conn.Connection) {
	if c.NoNewExchanges() || c.State() == conn.StateClosed {
		p.remove(c)
		return
	}
}

// EvictAll drains and closes every pooled Connection, used on Client
// shutdown or a configuration change that invalidates existing routes.
func (p *Pool) EvictAll() {
	p.mu.Lock()
	var toDrain []*conn.Connection
	for key, entries := range p.byKey {
		for _, e := range entries {
			toDrain = append(toDrain, e.connection)
		}
		delete(p.byKey, key)
	}
	p.lru = list.New()
	p.mu.Unlock()

	for _, c := range toDrain {
		c.Drain()
	}
}

// Close stops the background sweep and evicts all pooled connections.
func (p *Pool) Close() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
	p.EvictAll()
}

func (p *Pool) remove(c *conn.Connection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removeLocked(c)
}

func (p *Pool) removeLocked(c *conn.Connection) {
	key := c.Route.Key()
	entries := p.byKey[key]
	for i, e := range entries {
		if e.connection == c {
			p.lru.Remove(e.element)
			p.byKey[key] = append(entries[:i], entries[i+1:]...)
			if len(p.byKey[key]) == 0 {
				delete(p.byKey, key)
			}
			return
		}
	}
}

// sweepLoop periodically evicts idle connections past their keep-alive
// duration or beyond the max-idle-connections budget, per spec.md §4.I,
// grounded on the teacher's healthChecker/checkConnectionHealth loop.
func (p *Pool) sweepLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(constants.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.sweep()
		case <-p.stopCh:
			return
		}
	}
}

func (p *Pool) sweep() {
	now := time.Now()

	p.mu.Lock()
	var toDrain []*conn.Connection

	for key, entries := range p.byKey {
		kept := entries[:0]
		for _, e := range entries {
			c := e.connection
			if c.State() == conn.StateClosed {
				p.lru.Remove(e.element)
				continue
			}
			idleSince := c.IdleSince()
			if !idleSince.IsZero() && now.Sub(idleSince) >= p.opts.KeepAlive {
				p.lru.Remove(e.element)
				toDrain = append(toDrain, c)
				continue
			}
			kept = append(kept, e)
		}
		if len(kept) == 0 {
			delete(p.byKey, key)
		} else {
			p.byKey[key] = kept
		}
	}

	for p.idleCountLocked() > p.opts.MaxIdleConnections {
		back := p.lru.Back()
		if back == nil {
			break
		}
		e := back.Value.(*entry)
		if e.connection.ActiveExchangeCount() > 0 {
			break // LRU tail is active; nothing more to evict
		}
		p.lru.Remove(back)
		p.removeLocked(e.connection)
		toDrain = append(toDrain, e.connection)
	}
	p.mu.Unlock()

	for _, c := range toDrain {
		c.Drain()
	}
}

func (p *Pool) idleCountLocked() int {
	n := 0
	for _, entries := range p.byKey {
		for _, e := range entries {
			if e.connection.ActiveExchangeCount() == 0 {
				n++
			}
		}
	}
	return n
}

// IdleConnectionCount reports the number of currently idle pooled
// connections, for diagnostics and tests.
func (p *Pool) IdleConnectionCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.idleCountLocked()
}
