package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestEncryptKnownBytes(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		want  []byte
	}{
		{
			name:  "empty",
			input: []byte{},
			want:  []byte{},
		},
		{
			name:  "single brace",
			input: []byte("{"),
			want:  []byte{0xD0},
		},
		{
			name:  "key chains through output",
			input: []byte("ab"),
			want:  []byte{0xCA, 0xA8},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Encrypt(tt.input, FirstKey)
			if !bytes.Equal(got, tt.want) {
				t.Errorf("Encrypt(%q) = % x, want % x", tt.input, got, tt.want)
			}
		})
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"sysinfo", `{"system":{"get_sysinfo":{}}}`},
		{"unicode alias", `{"system":{"set_dev_alias":{"alias":"Küche 💡"}}}`},
		{"binary-ish", "\x00\xff\xab\x01"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc := Encrypt([]byte(tt.input), FirstKey)
			if len(enc) != len(tt.input) {
				t.Fatalf("len(Encrypt) = %d, want %d", len(enc), len(tt.input))
			}
			dec := Decrypt(enc, FirstKey)
			if string(dec) != tt.input {
				t.Errorf("Decrypt(Encrypt(x)) = %q, want %q", dec, tt.input)
			}
		})
	}
}

func TestEncryptWithHeader(t *testing.T) {
	input := []byte(`{"system":{"get_sysinfo":{}}}`)
	frame := EncryptWithHeader(input, FirstKey)

	if len(frame) != HeaderSize+len(input) {
		t.Fatalf("len(frame) = %d, want %d", len(frame), HeaderSize+len(input))
	}
	if got := binary.BigEndian.Uint32(frame[:HeaderSize]); got != uint32(len(input)) {
		t.Errorf("header = %d, want %d", got, len(input))
	}
	if !bytes.Equal(frame[HeaderSize:], Encrypt(input, FirstKey)) {
		t.Error("frame body does not match Encrypt(input)")
	}

	plain, err := DecryptWithHeader(frame, FirstKey)
	if err != nil {
		t.Fatalf("DecryptWithHeader() error = %v", err)
	}
	if !bytes.Equal(plain, input) {
		t.Errorf("DecryptWithHeader() = %q, want %q", plain, input)
	}
}

func TestEncryptWithHeaderEmpty(t *testing.T) {
	frame := EncryptWithHeader(nil, FirstKey)
	if !bytes.Equal(frame, []byte{0, 0, 0, 0}) {
		t.Errorf("EncryptWithHeader(nil) = % x, want 00 00 00 00", frame)
	}
}

func TestDecryptWithHeaderShort(t *testing.T) {
	for _, n := range []int{0, 1, 3} {
		_, err := DecryptWithHeader(make([]byte, n), FirstKey)
		if !errors.Is(err, ErrShortFrame) {
			t.Errorf("DecryptWithHeader(%d bytes) error = %v, want ErrShortFrame", n, err)
		}
	}
}

func TestFrameComplete(t *testing.T) {
	frame := EncryptWithHeader([]byte("hello"), FirstKey)

	tests := []struct {
		name string
		buf  []byte
		want bool
	}{
		{"no header", frame[:2], false},
		{"header only", frame[:4], false},
		{"partial body", frame[:7], false},
		{"complete", frame, true},
		{"trailing bytes", append(append([]byte{}, frame...), 0x00), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FrameComplete(tt.buf); got != tt.want {
				t.Errorf("FrameComplete() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseJSON(t *testing.T) {
	v, err := ParseJSON("")
	if err != nil {
		t.Fatalf("ParseJSON(\"\") error = %v", err)
	}
	if v != "" {
		t.Errorf("ParseJSON(\"\") = %#v, want \"\"", v)
	}

	v, err = ParseJSON(`{"a":1}`)
	if err != nil {
		t.Fatalf("ParseJSON() error = %v", err)
	}
	m, ok := v.(map[string]any)
	if !ok || m["a"] != float64(1) {
		t.Errorf("ParseJSON() = %#v, want map with a=1", v)
	}

	if _, err := ParseJSON("{not json"); err == nil {
		t.Error("ParseJSON(invalid) expected error")
	}
}
