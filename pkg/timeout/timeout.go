// Package timeout implements the call/connect/read/write/ping deadline
// hierarchy spec.md §4.P names.
package timeout

import (
	"context"
	"net"
	"time"
)

// Deadlines bundles every timeout a Call or WebSocket enforces. Zero means
// "no limit" for each field.
type Deadlines struct {
	Call    time.Duration // spans enqueue to body closure
	Connect time.Duration // per TCP connect attempt
	Read    time.Duration // per socket read, after the first byte arrives
	Write   time.Duration // per socket write
	Ping    time.Duration // WebSocket/HTTP2 keepalive cadence
}

// WithCallDeadline derives a context bound by Call, if set, from parent.
// Returns parent and a no-op cancel if Call is zero.
func (d Deadlines) WithCallDeadline(parent context.Context) (context.Context, context.CancelFunc) {
	if d.Call <= 0 {
		return parent, func() {}
	}
	return context.WithTimeout(parent, d.Call)
}

// ApplyConnect sets conn's combined read/write deadline to Connect from
// now, bounding the setup I/O on an already dialed conn; ClearDeadline
// removes it afterwards.
func ApplyConnect(conn net.Conn, d Deadlines) error {
	if d.Connect <= 0 {
		return nil
	}
	return conn.SetDeadline(time.Now().Add(d.Connect))
}

// ApplyRead arms conn's read deadline for one read operation.
func ApplyRead(conn net.Conn, d Deadlines) error {
	if d.Read <= 0 {
		return conn.SetReadDeadline(time.Time{})
	}
	return conn.SetReadDeadline(time.Now().Add(d.Read))
}

// ApplyWrite arms conn's write deadline for one write operation.
func ApplyWrite(conn net.Conn, d Deadlines) error {
	if d.Write <= 0 {
		return conn.SetWriteDeadline(time.Time{})
	}
	return conn.SetWriteDeadline(time.Now().Add(d.Write))
}

// ClearDeadline removes any deadline set on conn.
func ClearDeadline(conn net.Conn) error {
	return conn.SetDeadline(time.Time{})
}

// PingScheduler arms a recurring PING and fails the caller-supplied
// onTimeout callback if the matching PONG doesn't arrive within one
// interval, per spec.md §4.M's ping-scheduler contract.
type PingScheduler struct {
	interval    time.Duration
	sendPing    func() error
	onTimeout   func(sentCount int)
	stopCh      chan struct{}
	pongCh      chan struct{}
	sentCount   int
}

// NewPingScheduler constructs a scheduler that calls sendPing every
// interval and onTimeout if a pong isn't observed (via Pong) before the
// next interval elapses. interval <= 0 disables the scheduler.
func NewPingScheduler(interval time.Duration, sendPing func() error, onTimeout func(sentCount int)) *PingScheduler {
	return &PingScheduler{
		interval:  interval,
		sendPing:  sendPing,
		onTimeout: onTimeout,
		stopCh:    make(chan struct{}),
		pongCh:    make(chan struct{}, 1),
	}
}

// Start runs the scheduler loop until Stop is called. No-op if interval <= 0.
func (p *PingScheduler) Start() {
	if p.interval <= 0 {
		return
	}
	go p.loop()
}

func (p *PingScheduler) loop() {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	awaitingPong := false

	for {
		select {
		case <-p.stopCh:
			return
		case <-p.pongCh:
			awaitingPong = false
		case <-ticker.C:
			if awaitingPong {
				p.sentCount++
				p.onTimeout(p.sentCount)
				return
			}
			if err := p.sendPing(); err != nil {
				return
			}
			p.sentCount++
			awaitingPong = true
		}
	}
}

// Pong clears the outstanding-ping flag, acknowledging a received PONG.
func (p *PingScheduler) Pong() {
	select {
	case p.pongCh <- struct{}{}:
	default:
	}
}

// Stop terminates the scheduler loop.
func (p *PingScheduler) Stop() {
	close(p.stopCh)
}
