package websocket

import (
	"bytes"
	"compress/flate"
	"io"
)

// deflateTrailer is the fixed bytes RFC 7692 §7.2.1 has the sender strip
// before transmission and the receiver re-append before inflation.
var deflateTrailer = []byte{0x00, 0x00, 0xFF, 0xFF}

// finalEmptyBlock is a BFINAL=1, BTYPE=00 (stored), zero-length DEFLATE
// block. The sync-flush marker alone (deflateTrailer) is a non-final
// stored block, so compress/flate's reader tries to read a further block
// header past it and reports io.ErrUnexpectedEOF once the buffer runs
// out. Appending this final block gives it a clean place to stop.
var finalEmptyBlock = []byte{0x01, 0x00, 0x00, 0xFF, 0xFF}

// maxDeflateWindow is the largest LZ77 back-reference distance DEFLATE
// allows (RFC 1951 §2.2), so a context-takeover decompressor only ever
// needs this many trailing bytes of prior output as its reset dictionary.
const maxDeflateWindow = 32768

// flateReadResetter is the subset of compress/flate's Reader this file
// drives: Read to drain one message, Reset to rebind it to the next
// message's bytes while handing back the dictionary that carries the
// LZ77 window across messages when context takeover is in effect. Every
// value flate.NewReader returns implements this (the stdlib documents
// the returned ReadCloser as also implementing flate.Resetter).
type flateReadResetter interface {
	io.Reader
	flate.Resetter
}

// permessageDeflate holds the negotiated permessage-deflate extension
// parameters and the compressor/decompressor pair, per RFC 7692.
// Grounded on compress/flate's raw DEFLATE stream format, which is
// exactly what RFC 7692 specifies the payload be (no pack repo carries a
// WebSocket compression implementation to extend). The compressor writes
// into a buffer that persists across messages unless *_no_context_takeover
// was negotiated, since compress/flate's Writer.Reset always discards its
// LZ77 window and there is no partial-reset API to keep it while only
// rotating the destination. The decompressor instead carries its window
// forward explicitly as a dictionary passed to Resetter.Reset, the same
// trick gorilla/websocket uses, since a flate.Reader that has already
// seen a final block will not resume past it even if more bytes are
// appended to its source.
type permessageDeflate struct {
	clientNoContextTakeover bool
	serverNoContextTakeover bool

	compressBuf *bytes.Buffer
	compressor  *flate.Writer

	decompressor      flateReadResetter
	decompressHistory []byte
}

func newPermessageDeflate(clientNoContextTakeover, serverNoContextTakeover bool) (*permessageDeflate, error) {
	buf := &bytes.Buffer{}
	// Below level 7 compress/flate emits a stored block for short inputs
	// such as "Hello"; BestCompression emits the fixed-Huffman block
	// f248cdc9c90700 that RFC 7692's example shows.
	w, err := flate.NewWriter(buf, flate.BestCompression)
	if err != nil {
		return nil, err
	}
	return &permessageDeflate{
		clientNoContextTakeover: clientNoContextTakeover,
		serverNoContextTakeover: serverNoContextTakeover,
		compressBuf:             buf,
		compressor:              w,
	}, nil
}

// deflateMessage compresses payload and strips the trailing empty-block
// marker per RFC 7692 §7.2.1, so the wire never carries it.
func (d *permessageDeflate) deflateMessage(payload []byte) ([]byte, error) {
	d.compressBuf.Reset()
	if _, err := d.compressor.Write(payload); err != nil {
		return nil, err
	}
	if err := d.compressor.Flush(); err != nil {
		return nil, err
	}
	out := make([]byte, d.compressBuf.Len())
	copy(out, d.compressBuf.Bytes())
	out = bytes.TrimSuffix(out, deflateTrailer)

	if d.clientNoContextTakeover {
		d.compressor.Reset(d.compressBuf)
	}
	return out, nil
}

// inflateMessage re-appends the trailer RFC 7692 strips, plus a final
// empty block so compress/flate's reader sees a clean end of stream
// rather than io.ErrUnexpectedEOF past the sync flush, and inflates the
// assembled message. Absent server_no_context_takeover, the decompressor
// is rebound to each message via Reset with the prior message's trailing
// bytes as its dictionary, so the LZ77 window carries across messages
// without reusing a Reader that already hit a final block.
func (d *permessageDeflate) inflateMessage(payload []byte) ([]byte, error) {
	src := bytes.NewReader(append(append(append([]byte{}, payload...), deflateTrailer...), finalEmptyBlock...))

	if d.decompressor == nil {
		r := flate.NewReader(src)
		rr, ok := r.(flateReadResetter)
		if !ok {
			return nil, errResetterUnsupported
		}
		d.decompressor = rr
	} else if err := d.decompressor.Reset(src, d.decompressHistory); err != nil {
		return nil, err
	}

	out, err := readInflatedMessage(d.decompressor)
	if err != nil {
		return nil, err
	}

	if d.serverNoContextTakeover {
		d.decompressor = nil
		d.decompressHistory = nil
	} else {
		d.decompressHistory = appendWindow(d.decompressHistory, out)
	}
	return out, nil
}

// appendWindow returns the last maxDeflateWindow bytes of history+next,
// the rolling dictionary a context-takeover decompressor resets with.
func appendWindow(history, next []byte) []byte {
	combined := append(history, next...)
	if len(combined) > maxDeflateWindow {
		combined = combined[len(combined)-maxDeflateWindow:]
	}
	out := make([]byte, len(combined))
	copy(out, combined)
	return out
}

var errResetterUnsupported = &deflateError{"compress/flate reader does not support Reset"}

type deflateError struct{ msg string }

func (e *deflateError) Error() string { return e.msg }

// readInflatedMessage drains exactly one sync-flush-terminated DEFLATE
// block: compress/flate's Reader returns io.EOF once it has consumed the
// finalEmptyBlock appended after the RFC 7692 trailer, which is what
// bounds this read to one message instead of blocking on the open-ended
// stream or reporting io.ErrUnexpectedEOF past a non-final sync flush.
func readInflatedMessage(r io.Reader) ([]byte, error) {
	var out bytes.Buffer
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		out.Write(buf[:n])
		if err == io.EOF {
			return out.Bytes(), nil
		}
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return out.Bytes(), nil
		}
	}
}
