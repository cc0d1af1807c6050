package interceptor

import (
	"github.com/go-httpcore/httpcore/pkg/errors"
	"github.com/go-httpcore/httpcore/pkg/exchange"
	"github.com/go-httpcore/httpcore/pkg/message"
)

// CallServerLayer is the terminal interceptor: it drives the Exchange the
// connect layer opened through one full request/response exchange and
// never calls Chain.Proceed. Grounded on the teacher's request/response
// read/write sequencing in client.Client.Do, generalized to run over the
// codec-agnostic pkg/exchange.Exchange.
type CallServerLayer struct{}

func (cs *CallServerLayer) Intercept(chain Chain) (*message.Response, error) {
	req := chain.Request()
	ex := chain.Exchange()
	if ex == nil {
		return nil, errors.NewValidationError("call-server layer reached with no exchange open")
	}

	expectContinue := req.Header("Expect") == "100-continue"

	if err := ex.WriteRequestHeaders(req); err != nil {
		return nil, err
	}

	var bodySent bool
	if body := req.Body(); body != nil && !expectContinue {
		if err := writeRequestBody(ex, req, body); err != nil {
			return nil, err
		}
		bodySent = true
	}

	if err := ex.FinishRequest(); err != nil {
		return nil, err
	}

	rb, err := ex.ReadResponseHeaders(expectContinue)
	if err != nil {
		return nil, err
	}

	if rb == nil {
		// A 100-Continue was consumed; the body was withheld pending it.
		if body := req.Body(); body != nil && !bodySent {
			if err := writeRequestBody(ex, req, body); err != nil {
				return nil, err
			}
		}
		if err := ex.FinishRequest(); err != nil {
			return nil, err
		}
		rb, err = ex.ReadResponseHeaders(false)
		if err != nil {
			return nil, err
		}
	}

	resp := rb.Request(req).Build()

	bodySource, contentLength, err := ex.OpenResponseBodySource(req.Method(), resp)
	if err != nil {
		return nil, err
	}
	contentType := resp.Header("Content-Type")
	respBody := message.NewResponseBody(bodySource, contentType, contentLength)

	return message.FromResponse(resp).Body(respBody).Build(), nil
}

// writeRequestBody opens req's body stream on ex and copies body through
// it, closing the stream whether or not the copy succeeded.
func writeRequestBody(ex *exchange.Exchange, req *message.Request, body message.RequestBody) error {
	w, err := ex.CreateRequestBody(req, false)
	if err != nil {
		return err
	}
	writeErr := body.WriteTo(w)
	closeErr := w.Close()
	if writeErr != nil {
		return writeErr
	}
	return closeErr
}
