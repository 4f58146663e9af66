package protocol

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
)

// Messages travel as null-terminated JSON documents on a raw TCP stream.
// A frame never legitimately contains a NUL byte because the payload is
// UTF-8 JSON.

// MaxFrameSize caps a single inbound frame. Anything larger is a broken or
// hostile peer.
const MaxFrameSize = 64 * 1024

var ErrFrameTooLarge = errors.New("protocol: frame exceeds maximum size")

// ReadFrame reads bytes up to (and discarding) the next NUL terminator.
func ReadFrame(r *bufio.Reader) ([]byte, error) {
	buf := make([]byte, 0, 256)
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b == 0 {
			return buf, nil
		}
		if len(buf) >= MaxFrameSize {
			return nil, ErrFrameTooLarge
		}
		buf = append(buf, b)
	}
}

// AppendFrame marshals v and appends it, NUL-terminated, to dst.
func AppendFrame(dst []byte, v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return dst, fmt.Errorf("protocol: marshal frame: %w", err)
	}
	dst = append(dst, b...)
	return append(dst, 0), nil
}

// DecodeRequest parses a single framed payload.
func DecodeRequest(b []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(b, &req); err != nil {
		return req, fmt.Errorf("protocol: decode request: %w", err)
	}
	return req, nil
}
