package http2

import (
	"io"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"

	"github.com/go-httpcore/httpcore/pkg/errors"
	"github.com/go-httpcore/httpcore/pkg/headers"
	"github.com/go-httpcore/httpcore/pkg/message"
)

// stream holds one HTTP/2 stream's demultiplexed state, written only by
// Session's single reader goroutine and read under mu by the Stream's
// owning Exchange goroutine.
type stream struct {
	id      uint32
	session *Session

	headersCh       chan struct{}
	headersOnce     sync.Once
	headersReceived bool
	pendingFields   []hpack.HeaderField
	fields          []hpack.HeaderField
	trailerFields   []hpack.HeaderField

	dataCh   chan []byte
	dataDone chan struct{}
	doneOnce sync.Once

	mu         sync.Mutex
	err        error
	sendWindow int64
	windowCond *sync.Cond
}

func (s *stream) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	s.headersOnce.Do(func() { close(s.headersCh) })
	s.windowCond.Broadcast()
	s.closeData(err)
}

func (s *stream) failure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *stream) pushData(b []byte) {
	select {
	case s.dataCh <- b:
	case <-s.dataDone:
	}
}

func (s *stream) closeData(err error) {
	s.doneOnce.Do(func() {
		if err != nil {
			s.mu.Lock()
			if s.err == nil {
				s.err = err
			}
			s.mu.Unlock()
		}
		close(s.dataDone)
	})
}

func (s *stream) addSendWindow(n int64) {
	s.mu.Lock()
	s.sendWindow += n
	s.mu.Unlock()
	s.windowCond.Broadcast()
}

// Stream is the pkg/exchange-facing handle for one HTTP/2 stream,
// implementing the writeRequestHeaders/createRequestBody/finishRequest/
// readResponseHeaders/openResponseBodySource/trailers/cancel contract of
// spec.md §4.J. Grounded on the teacher's use of golang.org/x/net/http2's
// Framer and hpack package (pkg/http2/client.go), restructured so each
// Stream is one of many concurrently open on a shared Session rather than
// the sole exchange on its Connection.
type Stream struct {
	s       *stream
	endSent bool
}

// WriteRequestHeaders encodes req's pseudo-headers and headers via HPACK
// and writes a HEADERS frame (split across CONTINUATION frames if the
// encoded block exceeds one frame), per RFC 7540 §8.1.2.
func (st *Stream) WriteRequestHeaders(req *message.Request) error {
	u := req.URL()
	path := u.Path()
	if u.QueryPresent() {
		path += "?" + u.Query()
	}

	sess := st.s.session
	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()

	sess.hpackBuf.Reset()
	writeField := func(name, value string) error {
		return sess.hpackEnc.WriteField(hpack.HeaderField{Name: name, Value: value})
	}
	if err := writeField(":method", req.Method()); err != nil {
		return errors.NewProtocolError("HPACK encode :method", err)
	}
	if err := writeField(":scheme", u.Scheme()); err != nil {
		return errors.NewProtocolError("HPACK encode :scheme", err)
	}
	if err := writeField(":authority", u.Authority()); err != nil {
		return errors.NewProtocolError("HPACK encode :authority", err)
	}
	if err := writeField(":path", path); err != nil {
		return errors.NewProtocolError("HPACK encode :path", err)
	}

	h := req.Headers()
	hasBody := req.Body() != nil
	for i := 0; i < h.Size(); i++ {
		name := h.NameAt(i)
		if isConnectionSpecificHeader(name) {
			continue
		}
		if err := writeField(strings.ToLower(name), h.ValueAt(i)); err != nil {
			return errors.NewProtocolError("HPACK encode header", err)
		}
	}
	if hasBody {
		if cl := req.Body().ContentLength(); cl >= 0 {
			writeField("content-length", strconv.FormatInt(cl, 10))
		}
		if ct := req.Body().ContentType(); ct != "" {
			writeField("content-type", ct)
		}
	}

	endStream := !hasBody
	st.endSent = endStream
	if err := writeHeaderBlock(sess.framer, st.s.id, sess.hpackBuf.Bytes(), endStream); err != nil {
		return errors.NewIOError("writing HEADERS frame", err)
	}
	return nil
}

// writeHeaderBlock splits block across one HEADERS frame plus as many
// CONTINUATION frames as needed, per RFC 7540 §4.3.
func writeHeaderBlock(framer *http2.Framer, streamID uint32, block []byte, endStream bool) error {
	const maxChunk = 16384
	first := block
	rest := []byte(nil)
	if len(first) > maxChunk {
		first, rest = block[:maxChunk], block[maxChunk:]
	}
	if err := framer.WriteHeaders(http2.HeadersFrameParam{
		StreamID:      streamID,
		BlockFragment: first,
		EndHeaders:    len(rest) == 0,
		EndStream:     endStream,
	}); err != nil {
		return err
	}
	for len(rest) > 0 {
		chunk := rest
		if len(chunk) > maxChunk {
			chunk = rest[:maxChunk]
		}
		rest = rest[len(chunk):]
		if err := framer.WriteContinuation(streamID, len(rest) == 0, chunk); err != nil {
			return err
		}
	}
	return nil
}

// CreateRequestBody returns a writer that frames writes as DATA frames,
// blocking on the stream and connection send windows per RFC 7540 §6.9's
// flow control. duplex is accepted for interface symmetry with HTTP/1.1;
// HTTP/2 always supports concurrent request/response streaming.
func (st *Stream) CreateRequestBody(req *message.Request, duplex bool) (io.WriteCloser, error) {
	return &streamBodyWriter{stream: st}, nil
}

type streamBodyWriter struct {
	stream *Stream
}

func (w *streamBodyWriter) Write(p []byte) (int, error) {
	st := w.stream.s
	sess := st.session
	total := 0
	for len(p) > 0 {
		if err := st.failure(); err != nil {
			return total, err
		}
		const maxChunk = 16384
		chunk := p
		if len(chunk) > maxChunk {
			chunk = p[:maxChunk]
		}

		st.mu.Lock()
		for st.sendWindow <= 0 && st.err == nil {
			st.windowCond.Wait()
		}
		if st.err != nil {
			st.mu.Unlock()
			return total, st.err
		}
		if int64(len(chunk)) > st.sendWindow {
			chunk = chunk[:st.sendWindow]
		}
		st.sendWindow -= int64(len(chunk))
		st.mu.Unlock()

		sess.mu.Lock()
		for sess.sendWindow <= 0 {
			sess.windowCond.Wait()
		}
		if int64(len(chunk)) > sess.sendWindow {
			chunk = chunk[:sess.sendWindow]
		}
		sess.sendWindow -= int64(len(chunk))
		sess.mu.Unlock()

		sess.writeMu.Lock()
		err := sess.framer.WriteData(st.id, false, chunk)
		sess.writeMu.Unlock()
		if err != nil {
			return total, errors.NewIOError("writing DATA frame", err)
		}
		total += len(chunk)
		p = p[len(chunk):]
	}
	return total, nil
}

func (w *streamBodyWriter) Close() error {
	sess := w.stream.s.session
	sess.writeMu.Lock()
	err := sess.framer.WriteData(w.stream.s.id, true, nil)
	sess.writeMu.Unlock()
	w.stream.endSent = true
	if err != nil {
		return errors.NewIOError("writing final DATA frame", err)
	}
	return nil
}

// FinishRequest sends the END_STREAM DATA frame for a bodyless request
// whose headers did not already carry it; a no-op otherwise.
func (st *Stream) FinishRequest() error {
	if st.endSent {
		return nil
	}
	sess := st.s.session
	sess.writeMu.Lock()
	err := sess.framer.WriteData(st.s.id, true, nil)
	sess.writeMu.Unlock()
	st.endSent = true
	if err != nil {
		return errors.NewIOError("writing final DATA frame", err)
	}
	return nil
}

// ReadResponseHeaders blocks until the stream's first HEADERS frame group
// is fully assembled. expectContinue is accepted for interface symmetry
// with pkg/http1.Codec; unlike HTTP/1.1's separate 100-Continue status
// line, a server that sends a 103 Early Hints or 100 Continue HEADERS
// frame before the final response is rare enough over HTTP/2 in practice
// that pkg/exchange treats this method's result as the final response and
// does not loop it the way it loops pkg/http1.Codec's.
func (st *Stream) ReadResponseHeaders(expectContinue bool) (*message.ResponseBuilder, error) {
	<-st.s.headersCh
	if err := st.s.failure(); err != nil {
		return nil, err
	}

	st.s.mu.Lock()
	fields := st.s.fields
	st.s.mu.Unlock()

	hb := headers.NewBuilder()
	code := 0
	for _, f := range fields {
		if f.Name == ":status" {
			code, _ = strconv.Atoi(f.Value)
			continue
		}
		if strings.HasPrefix(f.Name, ":") {
			continue
		}
		hb.AddLenient(f.Name, f.Value)
	}

	return message.NewResponseBuilder().
		Protocol("h2").
		Code(code).
		Headers(hb.Build()), nil
}

// OpenResponseBodySource returns a reader draining DATA frames for the
// stream, sending WINDOW_UPDATE frames back to the peer as bytes are
// consumed, per RFC 7540 §6.9.
func (st *Stream) OpenResponseBodySource(response *message.Response) (io.ReadCloser, error) {
	return &streamBodyReader{stream: st}, nil
}

type streamBodyReader struct {
	stream *Stream
	buf    []byte
}

func (r *streamBodyReader) Read(p []byte) (int, error) {
	st := r.stream.s
	for len(r.buf) == 0 {
		select {
		case b, ok := <-st.dataCh:
			if !ok {
				return 0, io.EOF
			}
			r.buf = b
		case <-st.dataDone:
			select {
			case b := <-st.dataCh:
				r.buf = b
			default:
				if err := st.failure(); err != nil {
					return 0, err
				}
				return 0, io.EOF
			}
		}
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	if n > 0 {
		sess := st.session
		sess.writeMu.Lock()
		sess.framer.WriteWindowUpdate(st.id, uint32(n))
		sess.framer.WriteWindowUpdate(0, uint32(n))
		sess.writeMu.Unlock()
	}
	return n, nil
}

func (r *streamBodyReader) Close() error {
	return nil
}

// Trailers returns the trailing HEADERS frame fields, if the response
// carried any; must only be called after the body has been fully read.
func (st *Stream) Trailers() headers.Headers {
	st.s.mu.Lock()
	fields := st.s.trailerFields
	st.s.mu.Unlock()

	hb := headers.NewBuilder()
	for _, f := range fields {
		hb.AddLenient(f.Name, f.Value)
	}
	return hb.Build()
}

// Cancel sends RST_STREAM(CANCEL) and unblocks any in-progress read or
// write on this stream. Idempotent.
func (st *Stream) Cancel() {
	sess := st.s.session
	sess.writeMu.Lock()
	sess.framer.WriteRSTStream(st.s.id, http2.ErrCodeCancel)
	sess.writeMu.Unlock()
	st.s.fail(errors.NewProtocolError("stream cancelled", nil))
	sess.forget(st.s.id)
}

func isConnectionSpecificHeader(name string) bool {
	switch strings.ToLower(name) {
	case "connection", "keep-alive", "proxy-connection", "transfer-encoding", "upgrade", "te", "host":
		return true
	default:
		return false
	}
}
