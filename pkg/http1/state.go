// Package http1 implements the HTTP/1.1 wire codec: request/status line
// framing, chunked/fixed-length/implicit-close body transfer, and the
// per-connection state machine spec.md §4.E names.
package http1

// State is one phase of a single request/response exchange on an HTTP/1.1
// connection.
type State int

const (
	StateIdle State = iota
	StateWritingRequestHeaders
	StateWritingRequestBody
	StateReadingResponseHeaders
	StateReadingResponseBody
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateWritingRequestHeaders:
		return "WRITING_REQUEST_HEADERS"
	case StateWritingRequestBody:
		return "WRITING_REQUEST_BODY"
	case StateReadingResponseHeaders:
		return "READING_RESPONSE_HEADERS"
	case StateReadingResponseBody:
		return "READING_RESPONSE_BODY"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// allowedNext enumerates the state machine's legal transitions per
// spec.md §4.E's table.
var allowedNext = map[State][]State{
	StateIdle:                   {StateWritingRequestHeaders},
	StateWritingRequestHeaders:  {StateWritingRequestBody, StateReadingResponseHeaders},
	StateWritingRequestBody:     {StateReadingResponseHeaders},
	StateReadingResponseHeaders: {StateReadingResponseBody, StateIdle},
	StateReadingResponseBody:    {StateIdle, StateClosed},
}

func (s State) canTransitionTo(next State) bool {
	for _, n := range allowedNext[s] {
		if n == next {
			return true
		}
	}
	return false
}
