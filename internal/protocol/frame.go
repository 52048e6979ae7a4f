package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Voice codec identifiers carried in the frame body. The server never
// interprets them; they are authoritative as chosen by the sender.
const (
	CodecPCM  byte = 0x00
	CodecOpus byte = 0x01
)

// MaxFramePayload is the largest accepted value of the 4-byte length prefix.
// A frame announcing more terminates the sending connection.
const MaxFramePayload = 65536

// frameHeaderLen is the size of the length prefix that precedes every voice
// frame on the wire. It is not counted by the prefix itself.
const frameHeaderLen = 4

// ErrFrameTooLarge is returned by ReadFrame when the announced payload
// length exceeds MaxFramePayload.
var ErrFrameTooLarge = errors.New("voice frame exceeds maximum payload length")

// ReadFrame reads one length-prefixed voice frame from r and returns the
// complete framed bytes, length prefix included, ready for verbatim fan-out.
// The maximum accepted payload length is maxPayload (0 means
// MaxFramePayload).
func ReadFrame(r io.Reader, maxPayload uint32) ([]byte, error) {
	if maxPayload == 0 {
		maxPayload = MaxFramePayload
	}

	var hdr [frameHeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > maxPayload {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, n, maxPayload)
	}

	frame := make([]byte, frameHeaderLen+int(n))
	copy(frame, hdr[:])
	if _, err := io.ReadFull(r, frame[frameHeaderLen:]); err != nil {
		return nil, err
	}
	return frame, nil
}

// EncodeFrame builds a complete voice frame (length prefix included) from
// its parts. The inner layout is:
//
//	2 bytes  nickname length (big-endian)
//	N bytes  nickname (UTF-8)
//	1 byte   codec id
//	2 bytes  audio length (big-endian)
//	M bytes  audio payload
func EncodeFrame(nick string, codec byte, audio []byte) ([]byte, error) {
	if len(nick) > 0xFFFF {
		return nil, fmt.Errorf("nickname too long: %d bytes", len(nick))
	}
	if len(audio) > 0xFFFF {
		return nil, fmt.Errorf("audio payload too long: %d bytes", len(audio))
	}

	payload := 2 + len(nick) + 1 + 2 + len(audio)
	frame := make([]byte, frameHeaderLen+payload)
	binary.BigEndian.PutUint32(frame[0:4], uint32(payload))
	binary.BigEndian.PutUint16(frame[4:6], uint16(len(nick)))
	off := 6 + copy(frame[6:], nick)
	frame[off] = codec
	binary.BigEndian.PutUint16(frame[off+1:off+3], uint16(len(audio)))
	copy(frame[off+3:], audio)
	return frame, nil
}

// ParseFrame decodes the inner body of a complete voice frame produced by
// ReadFrame or EncodeFrame. The server's relay path never calls this; it
// exists for tooling and tests.
func ParseFrame(frame []byte) (nick string, codec byte, audio []byte, err error) {
	if len(frame) < frameHeaderLen+2 {
		return "", 0, nil, errors.New("frame too short")
	}
	total := binary.BigEndian.Uint32(frame[0:4])
	body := frame[frameHeaderLen:]
	if uint32(len(body)) != total {
		return "", 0, nil, fmt.Errorf("length prefix %d does not match body length %d", total, len(body))
	}

	nickLen := int(binary.BigEndian.Uint16(body[0:2]))
	if len(body) < 2+nickLen+3 {
		return "", 0, nil, errors.New("frame body truncated")
	}
	nick = string(body[2 : 2+nickLen])
	codec = body[2+nickLen]
	audioLen := int(binary.BigEndian.Uint16(body[2+nickLen+1 : 2+nickLen+3]))
	rest := body[2+nickLen+3:]
	if len(rest) != audioLen {
		return "", 0, nil, fmt.Errorf("audio length %d does not match remaining %d bytes", audioLen, len(rest))
	}
	return nick, codec, rest, nil
}
