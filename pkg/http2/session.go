package http2

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"sync"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"

	"github.com/go-httpcore/httpcore/pkg/errors"
)

// clientPreface is RFC 7540 §3.5's connection preface, sent once before the
// first SETTINGS frame.
const clientPreface = "PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n"

const defaultWindowSize = 65535

// Session is one HTTP/2 connection's stream multiplexer: a single reader
// task demultiplexes frames onto per-stream queues while a writer mutex
// serializes outgoing frames across concurrently active streams, per
// spec.md §5. Grounded on the teacher's pkg/http2/client.go, which drives
// the same golang.org/x/net/http2 Framer and hpack.Encoder/Decoder pair but
// only ever runs one exchange per connection at a time; Session generalizes
// that pairing into true multiplexing, replacing the teacher's byte/map
// Request-Response shape with message.Request/message.Response directly.
//
// HPACK state (the dynamic table) is connection-scoped per RFC 7541, so
// Session owns exactly one encoder and one decoder, not one per stream.
type Session struct {
	conn   net.Conn
	framer *http2.Framer

	writeMu  sync.Mutex
	hpackBuf bytes.Buffer
	hpackEnc *hpack.Encoder

	mu            sync.Mutex
	streams       map[uint32]*stream
	nextStreamID  uint32
	sendWindow    int64 // connection-level window we may still send into
	windowCond    *sync.Cond
	closed        bool
	closeErr      error
	goAwayReceived bool
	lastStreamID  uint32

	// OnSettings fires when the peer's SETTINGS_MAX_CONCURRENT_STREAMS
	// changes, so the owning pkg/conn.Connection can update its allocation
	// ceiling. OnGoAway fires once, when a GOAWAY frame arrives.
	OnSettings func(maxConcurrentStreams int32)
	OnGoAway   func()
}

// NewSession writes the client preface and an initial SETTINGS frame over
// conn, then starts the demultiplexing read loop.
func NewSession(conn net.Conn, settings Settings) (*Session, error) {
	if err := ValidateSettings(settings); err != nil {
		return nil, errors.NewValidationError(err.Error())
	}
	s := &Session{
		conn:         conn,
		framer:       http2.NewFramer(conn, conn),
		streams:      make(map[uint32]*stream),
		nextStreamID: 1,
		sendWindow:   defaultWindowSize,
	}
	s.windowCond = sync.NewCond(&s.mu)
	s.hpackEnc = hpack.NewEncoder(&s.hpackBuf)

	if _, err := io.WriteString(conn, clientPreface); err != nil {
		return nil, errors.NewIOError("writing HTTP/2 client preface", err)
	}

	initialWindow := uint32(defaultWindowSize)
	if settings.InitialWindowSize > 0 {
		initialWindow = settings.InitialWindowSize
	}
	outbound := []http2.Setting{
		{ID: http2.SettingInitialWindowSize, Val: initialWindow},
	}
	if settings.DisableServerPush {
		outbound = append(outbound, http2.Setting{ID: http2.SettingEnablePush, Val: 0})
	}
	if settings.MaxConcurrentStreams > 0 {
		outbound = append(outbound, http2.Setting{ID: http2.SettingMaxConcurrentStreams, Val: settings.MaxConcurrentStreams})
	}
	if settings.MaxFrameSize > 0 {
		outbound = append(outbound, http2.Setting{ID: http2.SettingMaxFrameSize, Val: settings.MaxFrameSize})
	}
	if settings.HeaderTableSize > 0 {
		outbound = append(outbound, http2.Setting{ID: http2.SettingHeaderTableSize, Val: settings.HeaderTableSize})
	}
	if err := s.framer.WriteSettings(outbound...); err != nil {
		return nil, errors.NewIOError("writing initial SETTINGS", err)
	}

	go s.readLoop()
	return s, nil
}

func (s *Session) readLoop() {
	dec := hpack.NewDecoder(4096, nil)

	for {
		frame, err := s.framer.ReadFrame()
		if err != nil {
			s.fail(errors.NewProtocolError("HTTP/2 frame read failed", err))
			return
		}

		switch f := frame.(type) {
		case *http2.SettingsFrame:
			s.handleSettings(f)
		case *http2.HeadersFrame:
			s.handleHeaders(dec, f.StreamID, f.HeaderBlockFragment(), f.HeadersEnded(), f.StreamEnded())
		case *http2.ContinuationFrame:
			s.handleHeaders(dec, f.StreamID, f.HeaderBlockFragment(), f.HeadersEnded(), false)
		case *http2.DataFrame:
			s.handleData(f)
		case *http2.RSTStreamFrame:
			s.handleReset(f)
		case *http2.WindowUpdateFrame:
			s.handleWindowUpdate(f)
		case *http2.GoAwayFrame:
			s.handleGoAway(f)
		case *http2.PingFrame:
			s.handlePing(f)
		case *http2.PushPromiseFrame:
			s.writeMu.Lock()
			s.framer.WriteRSTStream(f.PromiseID, http2.ErrCodeRefusedStream)
			s.writeMu.Unlock()
		default:
			// PRIORITY and unknown frame types are not acted upon.
		}
	}
}

func (s *Session) handleSettings(f *http2.SettingsFrame) {
	if f.IsAck() {
		return
	}
	var maxConcurrent int32 = -1
	f.ForeachSetting(func(setting http2.Setting) error {
		if setting.ID == http2.SettingMaxConcurrentStreams {
			maxConcurrent = int32(setting.Val)
		}
		return nil
	})
	s.writeMu.Lock()
	s.framer.WriteSettingsAck()
	s.writeMu.Unlock()
	if maxConcurrent >= 0 && s.OnSettings != nil {
		s.OnSettings(maxConcurrent)
	}
}

func (s *Session) handleHeaders(dec *hpack.Decoder, streamID uint32, fragment []byte, headersEnded, streamEnded bool) {
	st := s.lookup(streamID)
	if st == nil {
		return
	}

	var fields []hpack.HeaderField
	dec.SetEmitFunc(func(f hpack.HeaderField) { fields = append(fields, f) })
	if _, err := dec.Write(fragment); err != nil {
		st.fail(errors.NewProtocolError("HPACK decode failed", err))
		return
	}
	st.pendingFields = append(st.pendingFields, fields...)

	if !headersEnded {
		return
	}

	st.mu.Lock()
	isTrailers := st.headersReceived
	if !isTrailers {
		st.headersReceived = true
		st.fields = st.pendingFields
	} else {
		st.trailerFields = st.pendingFields
	}
	st.pendingFields = nil
	st.mu.Unlock()

	if !isTrailers {
		st.headersOnce.Do(func() { close(st.headersCh) })
	}
	if streamEnded {
		st.closeData(nil)
	}
}

func (s *Session) handleData(f *http2.DataFrame) {
	st := s.lookup(f.StreamID)
	n := len(f.Data())
	if st == nil {
		if n > 0 {
			s.writeMu.Lock()
			s.framer.WriteWindowUpdate(0, uint32(n))
			s.writeMu.Unlock()
		}
		return
	}
	if n > 0 {
		data := append([]byte(nil), f.Data()...)
		st.pushData(data)
	}
	if f.StreamEnded() {
		st.closeData(nil)
	}
}

func (s *Session) handleReset(f *http2.RSTStreamFrame) {
	st := s.lookup(f.StreamID)
	if st == nil {
		return
	}
	st.fail(errors.NewProtocolError(fmt.Sprintf("stream reset by peer, code %v", f.ErrCode), nil))
}

func (s *Session) handleWindowUpdate(f *http2.WindowUpdateFrame) {
	if f.StreamID == 0 {
		s.mu.Lock()
		s.sendWindow += int64(f.Increment)
		s.windowCond.Broadcast()
		s.mu.Unlock()
		return
	}
	if st := s.lookup(f.StreamID); st != nil {
		st.addSendWindow(int64(f.Increment))
	}
}

func (s *Session) handleGoAway(f *http2.GoAwayFrame) {
	s.mu.Lock()
	s.goAwayReceived = true
	s.lastStreamID = f.LastStreamID
	s.mu.Unlock()
	if s.OnGoAway != nil {
		s.OnGoAway()
	}
}

func (s *Session) handlePing(f *http2.PingFrame) {
	if f.IsAck() {
		return
	}
	s.writeMu.Lock()
	s.framer.WritePing(true, f.Data)
	s.writeMu.Unlock()
}

// fail tears down the session: every open stream observes err on its next
// blocking call. The session does not mark the owning Connection; the
// Exchange whose stream call returns err marks it noNewExchanges.
func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.closeErr = err
	streams := make([]*stream, 0, len(s.streams))
	for _, st := range s.streams {
		streams = append(streams, st)
	}
	s.windowCond.Broadcast()
	s.mu.Unlock()

	for _, st := range streams {
		st.fail(err)
	}
}

// Err reports the error that tore the session down, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeErr
}

// GoAwayReceived reports whether the peer has sent GOAWAY with a last
// stream id below streamID, i.e. whether that stream is outside what the
// peer will process. It is false before any GOAWAY and for ids up to the
// last accepted one.
func (s *Session) GoAwayReceived(streamID uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.goAwayReceived && streamID > s.lastStreamID
}

func (s *Session) lookup(id uint32) *stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streams[id]
}

// OpenStream allocates the next client stream ID and registers it; it does
// not write any frames. Concurrency-limit enforcement is pkg/conn's job
// (Connection.AcquireExchange), not Session's, since the pool decides
// allocation before an Exchange ever reaches the wire.
func (s *Session) OpenStream() *Stream {
	s.mu.Lock()
	id := s.nextStreamID
	s.nextStreamID += 2
	st := &stream{
		id:         id,
		session:    s,
		headersCh:  make(chan struct{}),
		dataCh:     make(chan []byte, 16),
		dataDone:   make(chan struct{}),
		sendWindow: defaultWindowSize,
	}
	st.windowCond = sync.NewCond(&st.mu)
	s.streams[id] = st
	s.mu.Unlock()
	return &Stream{s: st}
}

func (s *Session) forget(id uint32) {
	s.mu.Lock()
	delete(s.streams, id)
	s.mu.Unlock()
}

// Close sends GOAWAY and closes the underlying connection.
func (s *Session) Close() error {
	s.writeMu.Lock()
	s.framer.WriteGoAway(0, http2.ErrCodeNo, nil)
	s.writeMu.Unlock()
	return s.conn.Close()
}
