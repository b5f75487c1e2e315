// Package codec provides the binary encodings used for trace keys, values,
// times and weights.
//
// Encodings are fixed-width and big-endian wherever possible so that the
// byte-lexicographic order of an encoding matches the semantic order of the
// value. Variable-length encodings (strings, byte slices) are escaped and
// terminated so they stay prefix-free, which keeps concatenated encodings
// (tuples, record keys) ordered as well.
//
// Byte order is only an optimization. Every Codec also supplies Compare, and
// the store installs a comparator that decodes and uses Compare whenever a
// codec does not report itself as ByteOrdered.
//
// Decode never panics. Malformed input returns a *DecodeError wrapping
// ErrCorrupt; callers that read data they wrote themselves treat that as
// corruption.
package codec
