// Package codec implements the fixed binary layout used inside checkpoint
// records. Values are encoded in the native byte order of the writing host;
// checkpoint files are not portable across architectures.
//
// Each supported value kind has exactly one encode and one decode
// implementation. Aggregates implement [Value] and list their field
// encodings explicitly, in a fixed order that is part of the on-disk format
// contract. Reordering fields is a breaking format change.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrCorrupt indicates that a byte stream could not be decoded: a fixed-width
// scalar was truncated, or a string declared more bytes than remained.
var ErrCorrupt = errors.New("corrupt encoding")

// Value is an aggregate that knows its own field order.
type Value interface {
	EncodeTo(e *Encoder)
	DecodeFrom(d *Decoder)
}

// Encoder appends encoded values to an in-memory buffer.
// The zero value is ready to use.
type Encoder struct {
	buf []byte
}

// Bytes returns the encoded buffer. The slice is valid until the next call
// to an encode method.
func (e *Encoder) Bytes() []byte { return e.buf }

// Len returns the number of bytes produced so far.
func (e *Encoder) Len() int { return len(e.buf) }

// Reset empties the buffer, retaining capacity.
func (e *Encoder) Reset() { e.buf = e.buf[:0] }

// Uint64 appends a fixed-width unsigned integer.
func (e *Encoder) Uint64(v uint64) {
	e.buf = binary.NativeEndian.AppendUint64(e.buf, v)
}

// Int64 appends a fixed-width signed integer.
func (e *Encoder) Int64(v int64) {
	e.Uint64(uint64(v))
}

// Float64 appends an IEEE 754 double.
func (e *Encoder) Float64(v float64) {
	e.Uint64(math.Float64bits(v))
}

// Bool appends a boolean as a single byte, 0 or 1.
func (e *Encoder) Bool(v bool) {
	b := byte(0)
	if v {
		b = 1
	}
	e.buf = append(e.buf, b)
}

// String appends length-prefixed text: a u64 byte count followed by exactly
// that many bytes. Empty text encodes as a zero count with no trailing bytes.
func (e *Encoder) String(v string) {
	e.Uint64(uint64(len(v)))
	e.buf = append(e.buf, v...)
}

// Decoder consumes encoded values from a byte buffer. Errors are sticky:
// after the first failure every subsequent decode is a no-op returning the
// zero value, and Err reports the original failure.
type Decoder struct {
	buf []byte
	off int
	err error
}

// NewDecoder returns a Decoder reading from buf.
func NewDecoder(buf []byte) *Decoder {
	return &Decoder{buf: buf}
}

// Err returns the first decode failure, or nil.
func (d *Decoder) Err() error { return d.err }

// Consumed returns the number of bytes decoded so far.
func (d *Decoder) Consumed() int { return d.off }

// Remaining returns the number of undecoded bytes.
func (d *Decoder) Remaining() int { return len(d.buf) - d.off }

func (d *Decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if len(d.buf)-d.off < n {
		d.err = fmt.Errorf("%w: need %d bytes, have %d", ErrCorrupt, n, len(d.buf)-d.off)
		return nil
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b
}

// Uint64 decodes a fixed-width unsigned integer.
func (d *Decoder) Uint64() uint64 {
	b := d.take(8)
	if b == nil {
		return 0
	}
	return binary.NativeEndian.Uint64(b)
}

// Int64 decodes a fixed-width signed integer.
func (d *Decoder) Int64() int64 {
	return int64(d.Uint64())
}

// Float64 decodes an IEEE 754 double.
func (d *Decoder) Float64() float64 {
	return math.Float64frombits(d.Uint64())
}

// Bool decodes a single-byte boolean.
func (d *Decoder) Bool() bool {
	b := d.take(1)
	if b == nil {
		return false
	}
	return b[0] != 0
}

// String decodes length-prefixed text. A declared length that exceeds the
// remaining bytes is a corruption failure, never an out-of-range read.
func (d *Decoder) String() string {
	n := d.Uint64()
	if d.err != nil {
		return ""
	}
	if uint64(d.Remaining()) < n {
		d.err = fmt.Errorf("%w: string declares %d bytes, have %d", ErrCorrupt, n, d.Remaining())
		return ""
	}
	return string(d.take(int(n)))
}

// Encode returns the encoded bytes of a single aggregate value.
func Encode(v Value) []byte {
	var e Encoder
	v.EncodeTo(&e)
	return e.Bytes()
}

// Decode fills an aggregate value from buf and returns the number of bytes
// consumed. Decoding fails if any field is truncated.
func Decode(buf []byte, v Value) (int, error) {
	d := NewDecoder(buf)
	v.DecodeFrom(d)
	if err := d.Err(); err != nil {
		return d.Consumed(), err
	}
	return d.Consumed(), nil
}
