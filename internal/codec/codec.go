package codec

import (
	"errors"
	"fmt"
)

// Codec encodes, decodes and orders values of type T.
type Codec[T any] interface {
	// Append appends the encoding of v to dst and returns the extended slice.
	Append(dst []byte, v T) []byte

	// Decode reads one value from the front of src and returns the
	// remaining bytes.
	Decode(src []byte) (v T, rest []byte, err error)

	// Compare returns -1, 0 or +1. It must be a total order.
	Compare(a, b T) int
}

// ByteOrdered is implemented by codecs whose encodings are prefix-free and
// sort bytewise exactly as Compare orders the decoded values.
type ByteOrdered interface {
	ByteOrdered() bool
}

// IsByteOrdered reports whether c declares an order-preserving encoding.
func IsByteOrdered(c any) bool {
	bo, ok := c.(ByteOrdered)
	return ok && bo.ByteOrdered()
}

// ErrCorrupt is the sentinel wrapped by every decode failure.
var ErrCorrupt = errors.New("corrupt encoding")

// DecodeError describes a malformed encoding.
type DecodeError struct {
	// Type names the value being decoded.
	Type string

	// Reason is a human-readable description.
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %s", e.Type, e.Reason)
}

// Unwrap returns ErrCorrupt so callers can use errors.Is.
func (e *DecodeError) Unwrap() error { return ErrCorrupt }

func corrupt(typ, format string, args ...any) error {
	return &DecodeError{Type: typ, Reason: fmt.Sprintf(format, args...)}
}

// IsCorrupt reports whether err is (or wraps) a decode failure.
func IsCorrupt(err error) bool {
	return errors.Is(err, ErrCorrupt)
}

// Encode returns the encoding of v in a fresh slice.
func Encode[T any](c Codec[T], v T) []byte {
	return c.Append(nil, v)
}

// DecodeAll decodes exactly one value from src. Trailing bytes are an error.
func DecodeAll[T any](c Codec[T], src []byte) (T, error) {
	v, rest, err := c.Decode(src)
	if err != nil {
		return v, err
	}
	if len(rest) != 0 {
		var zero T
		return zero, corrupt(fmt.Sprintf("%T", zero), "%d trailing bytes", len(rest))
	}
	return v, nil
}
