package call

import (
	"testing"

	"github.com/go-httpcore/httpcore/pkg/auth"
	"github.com/go-httpcore/httpcore/pkg/cookiejar"
	"github.com/go-httpcore/httpcore/pkg/httpurl"
	"github.com/go-httpcore/httpcore/pkg/message"
	"github.com/go-httpcore/httpcore/pkg/route"
)

func TestNewOptionsDefaults(t *testing.T) {
	o := NewOptions()
	if !o.FollowRedirects {
		t.Error("FollowRedirects should default true")
	}
	if o.FollowSSLRedirects {
		t.Error("FollowSSLRedirects should default false")
	}
	if !o.RetryOnConnFailure {
		t.Error("RetryOnConnFailure should default true")
	}
	if o.Authenticator == nil || o.ProxyAuthenticator == nil {
		t.Error("Authenticator/ProxyAuthenticator should default to auth.None")
	}
	if o.Jar == nil {
		t.Error("Jar should default to cookiejar.None")
	}
	if o.MaxInFlightCalls != MaxInFlightCallsDefault {
		t.Errorf("MaxInFlightCalls = %d, want %d", o.MaxInFlightCalls, MaxInFlightCallsDefault)
	}
	if o.MaxCallsPerHost != MaxCallsPerHostDefault {
		t.Errorf("MaxCallsPerHost = %d, want %d", o.MaxCallsPerHost, MaxCallsPerHostDefault)
	}
}

func TestNewFillsOnlyUnsetFields(t *testing.T) {
	customAuth := auth.AuthenticatorFunc(func(*message.Response) (*message.Request, error) { return nil, nil })
	c := New(Options{
		Authenticator:    customAuth,
		MaxInFlightCalls: 7,
	})
	if c.opts.Authenticator == nil {
		t.Fatal("Authenticator should not be overwritten")
	}
	if c.opts.MaxInFlightCalls != 7 {
		t.Errorf("MaxInFlightCalls = %d, want 7 (caller-specified)", c.opts.MaxInFlightCalls)
	}
	if c.opts.MaxCallsPerHost != MaxCallsPerHostDefault {
		t.Errorf("MaxCallsPerHost = %d, want default %d", c.opts.MaxCallsPerHost, MaxCallsPerHostDefault)
	}
	if c.opts.Jar != cookiejar.None {
		t.Error("Jar should default to cookiejar.None when unset")
	}
	if c.opts.Proxies == nil {
		t.Error("Proxies should default to route.NoProxy when unset")
	}
	if _, ok := c.opts.Resolver.(route.SystemResolver); !ok {
		t.Error("Resolver should default to route.SystemResolver when unset")
	}
	if c.dispatcher == nil {
		t.Fatal("New must construct a dispatcher")
	}
}

func TestCallCannotExecuteTwice(t *testing.T) {
	c := New(Options{})
	u, err := httpurl.Parse("http://127.0.0.1:1/")
	if err != nil {
		t.Fatalf("httpurl.Parse: %v", err)
	}
	req := message.NewRequestBuilder().URL(u).Get().Build()
	call := c.NewCall(req)

	// First Execute will fail to connect (nothing listening), which is
	// fine: we only care that the single-use guard trips on the second call.
	call.Execute()

	_, err = call.Execute()
	if err != errAlreadyExecuted {
		t.Fatalf("second Execute error = %v, want errAlreadyExecuted", err)
	}
}

func TestCallCloneIsFreshAndIndependent(t *testing.T) {
	c := New(Options{})
	u, _ := httpurl.Parse("http://127.0.0.1:1/")
	req := message.NewRequestBuilder().URL(u).Get().Build()
	call := c.NewCall(req)
	call.Execute()

	clone := call.Clone()
	if clone.executed.Load() {
		t.Fatal("a clone must not be marked executed")
	}
	if clone == call {
		t.Fatal("Clone must return a distinct Call")
	}
}

func TestCallCancelIsMonotonic(t *testing.T) {
	c := New(Options{})
	u, _ := httpurl.Parse("http://127.0.0.1:1/")
	req := message.NewRequestBuilder().URL(u).Get().Build()
	call := c.NewCall(req)

	call.Cancel()
	if !call.IsCanceled() {
		t.Fatal("IsCanceled should report true after Cancel")
	}
	call.Cancel() // must not panic on a second call
}
