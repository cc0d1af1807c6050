package call

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-httpcore/httpcore/pkg/httpurl"
	"github.com/go-httpcore/httpcore/pkg/message"
)

// gatingListener accepts connections, tracks how many are in flight at
// once (so the test can observe the dispatcher's concurrency ceiling),
// holds each one open briefly, then replies with a minimal valid
// HTTP/1.1 response and closes.
func gatingListener(t *testing.T, hold time.Duration, current, maxObserved *int32) *net.TCPListener {
	t.Helper()
	ln, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("ListenTCP: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				n := atomic.AddInt32(current, 1)
				for {
					cur := atomic.LoadInt32(maxObserved)
					if n <= cur || atomic.CompareAndSwapInt32(maxObserved, cur, n) {
						break
					}
				}
				time.Sleep(hold)
				c.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n"))
				atomic.AddInt32(current, -1)
			}(c)
		}
	}()
	return ln
}

func TestDispatcherGatesMaxInFlightCalls(t *testing.T) {
	var current, maxObserved int32
	ln := gatingListener(t, 50*time.Millisecond, &current, &maxObserved)
	port := ln.Addr().(*net.TCPAddr).Port

	const maxInFlightCap = 2
	client := New(Options{MaxInFlightCalls: maxInFlightCap, MaxCallsPerHost: 10})

	const totalCalls = 6
	var wg sync.WaitGroup
	for i := 0; i < totalCalls; i++ {
		wg.Add(1)
		u, err := httpurl.Parse(fmt.Sprintf("http://127.0.0.1:%d/", port))
		if err != nil {
			t.Fatalf("httpurl.Parse: %v", err)
		}
		req := message.NewRequestBuilder().URL(u).Get().Build()
		client.NewCall(req).Enqueue(func(resp *message.Response, err error) {
			if resp != nil && resp.Body() != nil {
				resp.Body().Close()
			}
			wg.Done()
		})
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("not all enqueued calls completed in time")
	}

	if got := atomic.LoadInt32(&maxObserved); got > maxInFlightCap {
		t.Fatalf("observed %d concurrent in-flight connections, want <= %d", got, maxInFlightCap)
	}
}

func TestDispatcherGatesMaxCallsPerHost(t *testing.T) {
	var current, maxObserved int32
	ln := gatingListener(t, 50*time.Millisecond, &current, &maxObserved)
	port := ln.Addr().(*net.TCPAddr).Port

	const perHostCap = 1
	client := New(Options{MaxInFlightCalls: 10, MaxCallsPerHost: perHostCap})

	const totalCalls = 4
	var wg sync.WaitGroup
	for i := 0; i < totalCalls; i++ {
		wg.Add(1)
		u, err := httpurl.Parse(fmt.Sprintf("http://127.0.0.1:%d/", port))
		if err != nil {
			t.Fatalf("httpurl.Parse: %v", err)
		}
		req := message.NewRequestBuilder().URL(u).Get().Build()
		client.NewCall(req).Enqueue(func(resp *message.Response, err error) {
			if resp != nil && resp.Body() != nil {
				resp.Body().Close()
			}
			wg.Done()
		})
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("not all enqueued calls completed in time")
	}

	if got := atomic.LoadInt32(&maxObserved); got > perHostCap {
		t.Fatalf("observed %d concurrent connections to the same host, want <= %d", got, perHostCap)
	}
}
