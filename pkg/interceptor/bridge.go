package interceptor

import (
	"compress/gzip"
	"io"
	"strings"

	"github.com/go-httpcore/httpcore/pkg/constants"
	"github.com/go-httpcore/httpcore/pkg/cookiejar"
	"github.com/go-httpcore/httpcore/pkg/errors"
	"github.com/go-httpcore/httpcore/pkg/headers"
	"github.com/go-httpcore/httpcore/pkg/message"
)

// Bridge converts a user-facing Request into a network request (adding
// Host, Accept-Encoding, User-Agent, Cookie) and a network response back
// into a user-facing one (transparently decoding gzip when this layer
// itself requested it), per spec.md §4.K.
type Bridge struct {
	Jar cookiejar.CookieJar
}

func (b *Bridge) Intercept(chain Chain) (*message.Response, error) {
	userReq := chain.Request()
	hb := headers.FromHeaders(userReq.Headers())

	if hb.Get("Host") == "" {
		hb.Set("Host", userReq.URL().Authority())
	}

	transparentGzip := hb.Get("Accept-Encoding") == "" && hb.Get("Range") == ""
	if transparentGzip {
		hb.Set("Accept-Encoding", "gzip")
	}

	if hb.Get("User-Agent") == "" {
		hb.Set("User-Agent", constants.DefaultUserAgent)
	}

	jar := b.Jar
	if jar == nil {
		jar = cookiejar.None
	}
	if cookieHeader := jar.LoadForRequest(userReq.URL()); cookieHeader != "" && hb.Get("Cookie") == "" {
		hb.Set("Cookie", cookieHeader)
	}

	networkReq := message.From(userReq).Headers(hb.Build()).Build()

	networkResp, err := chain.Proceed(networkReq)
	if err != nil {
		return nil, err
	}

	jar.SaveFromResponse(userReq.URL(), networkResp.Headers())

	if transparentGzip && strings.EqualFold(networkResp.Header("Content-Encoding"), "gzip") {
		return decodeGzipResponse(networkResp)
	}
	return networkResp, nil
}

func decodeGzipResponse(resp *message.Response) (*message.Response, error) {
	rh := headers.FromHeaders(resp.Headers())
	rh.RemoveAll("Content-Encoding")
	rh.RemoveAll("Content-Length")

	body := resp.Body()
	gr, err := gzip.NewReader(body)
	if err != nil {
		return nil, errors.NewProtocolError("decoding gzip response body", err)
	}

	decoded := message.NewResponseBody(&gzipBodyCloser{gr: gr, underlying: body}, body.ContentType(), -1)
	return message.FromResponse(resp).Headers(rh.Build()).Body(decoded).Build(), nil
}

// gzipBodyCloser closes both the inflater and the underlying network body
// when the caller closes the decoded body, so the exchange's body source
// (and, transitively, its Connection allocation slot) is always released.
type gzipBodyCloser struct {
	gr         *gzip.Reader
	underlying *message.ResponseBody
}

func (g *gzipBodyCloser) Read(p []byte) (int, error) { return g.gr.Read(p) }

func (g *gzipBodyCloser) Close() error {
	gzErr := g.gr.Close()
	bodyErr := g.underlying.Close()
	if gzErr != nil {
		return gzErr
	}
	return bodyErr
}

var _ io.ReadCloser = (*gzipBodyCloser)(nil)
