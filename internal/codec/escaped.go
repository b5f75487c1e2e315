package codec

import (
	"bytes"
	"strings"
)

// Variable-length values are written with 0x00 escaped as 0x00 0xFF and
// terminated by 0x00 0x01. The terminator sorts below every escaped byte, so
// a value sorts before any value it is a proper prefix of.
const (
	escapeByte     = 0x00
	escapedZero    = 0xFF
	terminatorByte = 0x01
)

func appendEscaped(dst, src []byte) []byte {
	for _, b := range src {
		if b == escapeByte {
			dst = append(dst, escapeByte, escapedZero)
			continue
		}
		dst = append(dst, b)
	}
	return append(dst, escapeByte, terminatorByte)
}

func decodeEscaped(typ string, src []byte) ([]byte, []byte, error) {
	var out []byte
	for i := 0; i < len(src); i++ {
		b := src[i]
		if b != escapeByte {
			out = append(out, b)
			continue
		}
		if i+1 >= len(src) {
			return nil, src, corrupt(typ, "truncated escape at offset %d", i)
		}
		switch src[i+1] {
		case escapedZero:
			out = append(out, escapeByte)
			i++
		case terminatorByte:
			if out == nil {
				out = []byte{}
			}
			return out, src[i+2:], nil
		default:
			return nil, src, corrupt(typ, "invalid escape 0x%02x at offset %d", src[i+1], i)
		}
	}
	return nil, src, corrupt(typ, "missing terminator")
}

// String encodes strings with the escaped, terminated layout.
type String struct{}

func (String) Append(dst []byte, v string) []byte { return appendEscaped(dst, []byte(v)) }

func (String) Decode(src []byte) (string, []byte, error) {
	b, rest, err := decodeEscaped("string", src)
	if err != nil {
		return "", rest, err
	}
	return string(b), rest, nil
}

func (String) Compare(a, b string) int { return strings.Compare(a, b) }
func (String) ByteOrdered() bool       { return true }

// Bytes encodes byte slices with the escaped, terminated layout.
type Bytes struct{}

func (Bytes) Append(dst []byte, v []byte) []byte { return appendEscaped(dst, v) }

func (Bytes) Decode(src []byte) ([]byte, []byte, error) {
	return decodeEscaped("bytes", src)
}

func (Bytes) Compare(a, b []byte) int { return bytes.Compare(a, b) }
func (Bytes) ByteOrdered() bool       { return true }
