package auth

import "github.com/go-httpcore/httpcore/pkg/message"

// Authenticator responds to a 401 (WWW-Authenticate) or 407
// (Proxy-Authenticate) response by producing a follow-up Request carrying
// credentials, or nil to give up. Implementations read Challenges via
// ParseChallenges(response.Header(...)).
type Authenticator interface {
	Authenticate(response *message.Response) (*message.Request, error)
}

// AuthenticatorFunc adapts a function to the Authenticator interface.
type AuthenticatorFunc func(response *message.Response) (*message.Request, error)

func (f AuthenticatorFunc) Authenticate(response *message.Response) (*message.Request, error) {
	return f(response)
}

// None never supplies credentials; Authenticate always returns (nil, nil).
var None Authenticator = AuthenticatorFunc(func(*message.Response) (*message.Request, error) {
	return nil, nil
})
