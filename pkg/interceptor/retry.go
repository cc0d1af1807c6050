package interceptor

import (
	"time"

	"github.com/go-httpcore/httpcore/pkg/auth"
	"github.com/go-httpcore/httpcore/pkg/constants"
	"github.com/go-httpcore/httpcore/pkg/errors"
	"github.com/go-httpcore/httpcore/pkg/message"
)

// RetryLayer is the outermost built-in interceptor and the sole loop point
// in the chain: it decides, after each attempt, among {return, retry the
// same request, issue a follow-up request}, per spec.md §4.N. Every other
// built-in layer calls Chain.Proceed exactly once per attempt; this one
// calls it repeatedly, up to constants.MaxFollowUps times total.
type RetryLayer struct {
	Authenticator      auth.Authenticator
	ProxyAuthenticator auth.Authenticator
	FollowRedirects    bool
	FollowSSLRedirects bool
	RetryOnConnFailure bool
}

func (rl *RetryLayer) Intercept(chain Chain) (*message.Response, error) {
	req := chain.Request()
	attempt := 0
	var priorResp *message.Response
	retried408, retried503 := false, false

	for {
		attempt++
		if attempt > constants.MaxFollowUps {
			return nil, errors.NewTooManyFollowUpsError(constants.MaxFollowUps)
		}

		resp, err := chain.Proceed(req)
		if err != nil {
			if rl.RetryOnConnFailure && isSafeToRetry(req, chain) {
				continue
			}
			return nil, err
		}

		if priorResp != nil {
			resp = message.FromResponse(resp).PriorResponse(priorResp).Build()
		}

		switch resp.Code() {
		case 408:
			if retried408 {
				return resp, nil
			}
		case 503:
			if retried503 {
				return resp, nil
			}
		}

		nextReq, retryNow, followUp := rl.followUp(req, resp)
		if nextReq == nil {
			return resp, nil
		}
		switch resp.Code() {
		case 408:
			retried408 = true
		case 503:
			retried503 = true
		}
		if followUp {
			priorResp = resp
		}
		if retryNow {
			time.Sleep(0) // immediate retry: 503 Retry-After:0 and 408 have no backoff delay modeled
		}
		req = nextReq
	}
}

// isSafeToRetry applies spec.md §4.N's connect-level retry rule: idempotent
// methods are always safe; POST is only safe if the request body was never
// transmitted (the exchange never got past WriteRequestHeaders).
func isSafeToRetry(req *message.Request, chain Chain) bool {
	switch req.Method() {
	case "GET", "HEAD", "PUT", "DELETE", "OPTIONS", "TRACE":
		return true
	}
	ex := chain.Exchange()
	if ex == nil {
		return true
	}
	return !ex.RequestSent()
}

// followUp returns the next Request to send (nil if none), whether it
// should be sent without delay-accounted backoff, and whether this is a
// follow-up (advances priorResponse chaining) as opposed to a bare retry.
func (rl *RetryLayer) followUp(req *message.Request, resp *message.Response) (next *message.Request, retryNow bool, isFollowUp bool) {
	switch resp.Code() {
	case 401, 407:
		authr := rl.Authenticator
		if resp.Code() == 407 {
			authr = rl.ProxyAuthenticator
		}
		if authr == nil {
			return nil, false, false
		}
		newReq, err := authr.Authenticate(resp)
		if err != nil || newReq == nil {
			return nil, false, false
		}
		return newReq, false, true

	case 408:
		if req.Body() != nil {
			return nil, false, false
		}
		return req, true, false

	case 503:
		if resp.Header("Retry-After") == "0" {
			return req, true, false
		}
		return nil, false, false

	case 300, 301, 302, 303, 307, 308:
		if !resp.IsRedirect() || !rl.FollowRedirects {
			return nil, false, false
		}
		return rl.redirect(req, resp), false, true
	}
	return nil, false, false
}

// redirect builds the follow-up Request for a 3xx response, applying
// spec.md §4.N's method-rewrite and same-origin downgrade rules.
func (rl *RetryLayer) redirect(req *message.Request, resp *message.Response) *message.Request {
	location := resp.Header("Location")
	if location == "" {
		return nil
	}
	target := req.URL().Resolve(location)
	if target == nil {
		return nil
	}

	if req.URL().IsHTTPS() && !target.IsHTTPS() && !rl.FollowSSLRedirects {
		return nil
	}

	rb := message.From(req).URL(target)

	switch resp.Code() {
	case 300, 301, 302, 303:
		if req.Method() != "GET" && req.Method() != "HEAD" {
			rb = rb.Method("GET", nil)
		}
	case 307, 308:
		// Method and body are preserved unchanged.
	}

	return rb.Build()
}
