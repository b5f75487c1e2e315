package codec

import (
	"cmp"
	"encoding/binary"

	"github.com/roach88/tracestore/internal/lattice"
)

const signBit64 = 1 << 63

// Uint64 encodes uint64 as 8 big-endian bytes.
type Uint64 struct{}

func (Uint64) Append(dst []byte, v uint64) []byte { return binary.BigEndian.AppendUint64(dst, v) }

func (Uint64) Decode(src []byte) (uint64, []byte, error) {
	if len(src) < 8 {
		return 0, src, corrupt("uint64", "need 8 bytes, have %d", len(src))
	}
	return binary.BigEndian.Uint64(src), src[8:], nil
}

func (Uint64) Compare(a, b uint64) int { return cmp.Compare(a, b) }
func (Uint64) ByteOrdered() bool       { return true }

// Int64 encodes int64 as 8 big-endian bytes with the sign bit flipped, so
// negative numbers sort before positive ones.
type Int64 struct{}

func (Int64) Append(dst []byte, v int64) []byte {
	return binary.BigEndian.AppendUint64(dst, uint64(v)^signBit64)
}

func (Int64) Decode(src []byte) (int64, []byte, error) {
	if len(src) < 8 {
		return 0, src, corrupt("int64", "need 8 bytes, have %d", len(src))
	}
	return int64(binary.BigEndian.Uint64(src) ^ signBit64), src[8:], nil
}

func (Int64) Compare(a, b int64) int { return cmp.Compare(a, b) }
func (Int64) ByteOrdered() bool      { return true }

// Int encodes int with the Int64 layout.
type Int struct{}

func (Int) Append(dst []byte, v int) []byte { return Int64{}.Append(dst, int64(v)) }

func (Int) Decode(src []byte) (int, []byte, error) {
	v, rest, err := Int64{}.Decode(src)
	return int(v), rest, err
}

func (Int) Compare(a, b int) int { return cmp.Compare(a, b) }
func (Int) ByteOrdered() bool    { return true }

// Int32 encodes int32 as 4 big-endian bytes with the sign bit flipped.
type Int32 struct{}

func (Int32) Append(dst []byte, v int32) []byte {
	return binary.BigEndian.AppendUint32(dst, uint32(v)^(1<<31))
}

func (Int32) Decode(src []byte) (int32, []byte, error) {
	if len(src) < 4 {
		return 0, src, corrupt("int32", "need 4 bytes, have %d", len(src))
	}
	return int32(binary.BigEndian.Uint32(src) ^ (1 << 31)), src[4:], nil
}

func (Int32) Compare(a, b int32) int { return cmp.Compare(a, b) }
func (Int32) ByteOrdered() bool      { return true }

// Epoch encodes lattice.Epoch as 8 big-endian bytes.
type Epoch struct{}

func (Epoch) Append(dst []byte, v lattice.Epoch) []byte {
	return binary.BigEndian.AppendUint64(dst, uint64(v))
}

func (Epoch) Decode(src []byte) (lattice.Epoch, []byte, error) {
	if len(src) < 8 {
		return 0, src, corrupt("epoch", "need 8 bytes, have %d", len(src))
	}
	return lattice.Epoch(binary.BigEndian.Uint64(src)), src[8:], nil
}

func (Epoch) Compare(a, b lattice.Epoch) int { return a.Compare(b) }
func (Epoch) ByteOrdered() bool              { return true }

// Product encodes lattice.Product as epoch then round, 8 big-endian bytes
// each. Byte order matches Product.Compare.
type Product struct{}

func (Product) Append(dst []byte, v lattice.Product) []byte {
	dst = binary.BigEndian.AppendUint64(dst, v.Epoch)
	return binary.BigEndian.AppendUint64(dst, v.Round)
}

func (Product) Decode(src []byte) (lattice.Product, []byte, error) {
	if len(src) < 16 {
		return lattice.Product{}, src, corrupt("product", "need 16 bytes, have %d", len(src))
	}
	return lattice.Product{
		Epoch: binary.BigEndian.Uint64(src),
		Round: binary.BigEndian.Uint64(src[8:]),
	}, src[16:], nil
}

func (Product) Compare(a, b lattice.Product) int { return a.Compare(b) }
func (Product) ByteOrdered() bool                { return true }
