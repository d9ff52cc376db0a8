package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
)

// FirstKey is the seed byte of the autokey XOR stream used by every device.
const FirstKey byte = 0xAB

// HeaderSize is the length of the big-endian length prefix on TCP frames.
const HeaderSize = 4

// ErrShortFrame is returned when a TCP frame is too short to carry a header.
var ErrShortFrame = errors.New("protocol: frame shorter than length header")

// Encrypt applies the autokey XOR stream to input. Each output byte becomes
// the key for the next input byte.
func Encrypt(input []byte, firstKey byte) []byte {
	out := make([]byte, len(input))
	key := firstKey
	for i, b := range input {
		out[i] = b ^ key
		key = out[i]
	}
	return out
}

// Decrypt reverses Encrypt. Each consumed input byte becomes the key for the
// next one.
func Decrypt(input []byte, firstKey byte) []byte {
	out := make([]byte, len(input))
	key := firstKey
	for i, b := range input {
		out[i] = b ^ key
		key = b
	}
	return out
}

// EncryptWithHeader encrypts input and prefixes it with its plaintext length
// as a 4-byte big-endian unsigned integer (TCP framing).
func EncryptWithHeader(input []byte, firstKey byte) []byte {
	frame := make([]byte, HeaderSize, HeaderSize+len(input))
	binary.BigEndian.PutUint32(frame, uint32(len(input)))
	return append(frame, Encrypt(input, firstKey)...)
}

// DecryptWithHeader strips the 4-byte length header and decrypts the body.
// The header value is not checked against the body; the TCP socket does that
// while reassembling.
func DecryptWithHeader(input []byte, firstKey byte) ([]byte, error) {
	if len(input) < HeaderSize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrShortFrame, len(input))
	}
	return Decrypt(input[HeaderSize:], firstKey), nil
}

// FrameLength reads the expected body length from the start of buf.
// ok is false until at least HeaderSize bytes are available.
func FrameLength(buf []byte) (length uint32, ok bool) {
	if len(buf) < HeaderSize {
		return 0, false
	}
	return binary.BigEndian.Uint32(buf[:HeaderSize]), true
}

// FrameComplete reports whether buf holds a full frame per its header.
func FrameComplete(buf []byte) bool {
	length, ok := FrameLength(buf)
	if !ok {
		return false
	}
	return uint64(len(buf)-HeaderSize) >= uint64(length)
}

// ParseJSON decodes a decrypted response. An empty response decodes to ""
// rather than failing, since some devices answer set-commands with nothing.
func ParseJSON(text string) (any, error) {
	if text == "" {
		return "", nil
	}
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, fmt.Errorf("protocol: invalid JSON response: %w", err)
	}
	return v, nil
}
