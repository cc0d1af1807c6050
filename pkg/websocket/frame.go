package websocket

import (
	"crypto/rand"
	"encoding/binary"
	"io"

	"github.com/go-httpcore/httpcore/pkg/errors"
)

// Opcode identifies a WebSocket frame's payload interpretation, per RFC
// 6455 §5.2.
type Opcode byte

const (
	OpContinuation Opcode = 0x0
	OpText         Opcode = 0x1
	OpBinary       Opcode = 0x2
	OpClose        Opcode = 0x8
	OpPing         Opcode = 0x9
	OpPong         Opcode = 0xA
)

func (op Opcode) isControl() bool { return op&0x8 != 0 }

// frameHeader is one parsed RFC 6455 §5.2 frame header.
type frameHeader struct {
	fin        bool
	rsv1       bool
	opcode     Opcode
	masked     bool
	length     uint64
	maskingKey [4]byte
}

// readFrameHeader reads and validates one frame header from r, applying
// the RFC 6455 rules this client enforces on a server-to-client frame:
// MASK must be 0, reserved bits RSV2/RSV3 are always rejected, RSV1 is
// only legal on a data opcode's first frame when compression was
// negotiated, opcodes outside the six RFC 6455 names are rejected, and
// control frames must be FIN=1 with payload <=125 bytes.
func readFrameHeader(r io.Reader, compressionNegotiated bool) (frameHeader, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return frameHeader{}, err
	}

	fin := b[0]&0x80 != 0
	rsv1 := b[0]&0x40 != 0
	rsv2 := b[0]&0x20 != 0
	rsv3 := b[0]&0x10 != 0
	opcode := Opcode(b[0] & 0x0F)

	if rsv2 || rsv3 {
		return frameHeader{}, errors.NewProtocolError("reserved bit RSV2/RSV3 set on WebSocket frame", nil)
	}

	switch opcode {
	case OpContinuation, OpText, OpBinary, OpClose, OpPing, OpPong:
	default:
		return frameHeader{}, errors.NewProtocolError("unknown WebSocket opcode", nil)
	}

	if rsv1 && (!compressionNegotiated || opcode.isControl() || opcode == OpContinuation) {
		return frameHeader{}, errors.NewProtocolError("RSV1 set without negotiated compression", nil)
	}

	masked := b[1]&0x80 != 0
	if masked {
		return frameHeader{}, errors.NewProtocolError("server frame must not be masked", nil)
	}

	length := uint64(b[1] & 0x7F)
	switch length {
	case 126:
		var ext [2]byte
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			return frameHeader{}, err
		}
		length = uint64(binary.BigEndian.Uint16(ext[:]))
	case 127:
		var ext [8]byte
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			return frameHeader{}, err
		}
		length = binary.BigEndian.Uint64(ext[:])
	}

	if opcode.isControl() {
		if !fin {
			return frameHeader{}, errors.NewProtocolError("control frame must not be fragmented", nil)
		}
		if length > 125 {
			return frameHeader{}, errors.NewProtocolError("control frame payload exceeds 125 bytes", nil)
		}
	}

	return frameHeader{fin: fin, rsv1: rsv1, opcode: opcode, length: length}, nil
}

// writeFrame writes one client-to-server frame: MASK=1 with a fresh random
// key per frame, per RFC 6455 §5.3.
func writeFrame(w io.Writer, fin, rsv1 bool, opcode Opcode, payload []byte) error {
	var first byte
	if fin {
		first |= 0x80
	}
	if rsv1 {
		first |= 0x40
	}
	first |= byte(opcode)

	var header []byte
	n := len(payload)
	switch {
	case n <= 125:
		header = []byte{first, 0x80 | byte(n)}
	case n <= 0xFFFF:
		header = make([]byte, 4)
		header[0] = first
		header[1] = 0x80 | 126
		binary.BigEndian.PutUint16(header[2:], uint16(n))
	default:
		header = make([]byte, 10)
		header[0] = first
		header[1] = 0x80 | 127
		binary.BigEndian.PutUint64(header[2:], uint64(n))
	}

	var key [4]byte
	if _, err := rand.Read(key[:]); err != nil {
		return err
	}
	header = append(header, key[:]...)

	masked := make([]byte, n)
	for i := range payload {
		masked[i] = payload[i] ^ key[i%4]
	}

	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(masked)
	return err
}
