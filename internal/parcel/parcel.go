// Package parcel implements the binary wire format for transaction payloads.
// A Parcel is an ordered, append-only byte buffer with a read cursor: fields
// are written in descriptor-declared order and must be consumed in exactly
// the same order. Primitives use fixed-width big-endian encoding so any two
// processes agreeing on a descriptor version produce byte-identical output.
package parcel

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"unicode/utf8"
)

// Wire errors.
var (
	// ErrMalformedPayload is returned when the buffer is exhausted early, a
	// length field would read past the end, a presence flag is out of range
	// or an enum value is outside its declared set.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrInvalidEncoding is returned when a string field does not decode as
	// valid UTF-8.
	ErrInvalidEncoding = errors.New("invalid string encoding")

	// ErrSealed is returned when writing to a parcel that has been handed to
	// a reader. A parcel is write-once, then read-once.
	ErrSealed = errors.New("parcel is sealed for reading")
)

// Parcel carries one transaction's arguments or return value.
type Parcel struct {
	buf    []byte
	pos    int
	sealed bool
}

// New creates an empty parcel ready for writing.
func New() *Parcel {
	return &Parcel{}
}

// FromBytes creates a sealed parcel over raw wire bytes, ready for reading.
func FromBytes(b []byte) *Parcel {
	return &Parcel{buf: b, sealed: true}
}

// Bytes returns the encoded buffer.
func (p *Parcel) Bytes() []byte { return p.buf }

// Len returns the total encoded length.
func (p *Parcel) Len() int { return len(p.buf) }

// Remaining returns the number of unread bytes.
func (p *Parcel) Remaining() int { return len(p.buf) - p.pos }

// Seal marks the parcel read-only. The first read seals implicitly; Seal is
// for the writer handing the parcel off before any read happens.
func (p *Parcel) Seal() { p.sealed = true }

func (p *Parcel) append(b ...byte) error {
	if p.sealed {
		return ErrSealed
	}
	p.buf = append(p.buf, b...)
	return nil
}

func (p *Parcel) consume(n int) ([]byte, error) {
	p.sealed = true
	if p.Remaining() < n {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrMalformedPayload, n, p.Remaining())
	}
	b := p.buf[p.pos : p.pos+n]
	p.pos += n
	return b, nil
}

// WriteBool appends a bool as one byte.
func (p *Parcel) WriteBool(v bool) error {
	if v {
		return p.append(1)
	}
	return p.append(0)
}

// ReadBool consumes one byte as a bool. Any value other than 0 or 1 is
// malformed, matching the presence-flag rule.
func (p *Parcel) ReadBool() (bool, error) {
	b, err := p.consume(1)
	if err != nil {
		return false, err
	}
	switch b[0] {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("%w: bool byte 0x%02x", ErrMalformedPayload, b[0])
	}
}

// WriteByte appends a single byte.
func (p *Parcel) WriteByte(v byte) error {
	return p.append(v)
}

// ReadByte consumes a single byte.
func (p *Parcel) ReadByte() (byte, error) {
	b, err := p.consume(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// WriteUint32 appends a big-endian uint32.
func (p *Parcel) WriteUint32(v uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return p.append(b[:]...)
}

// ReadUint32 consumes a big-endian uint32.
func (p *Parcel) ReadUint32() (uint32, error) {
	b, err := p.consume(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// WriteInt32 appends a big-endian int32.
func (p *Parcel) WriteInt32(v int32) error {
	return p.WriteUint32(uint32(v))
}

// ReadInt32 consumes a big-endian int32.
func (p *Parcel) ReadInt32() (int32, error) {
	u, err := p.ReadUint32()
	return int32(u), err
}

// WriteInt64 appends a big-endian int64.
func (p *Parcel) WriteInt64(v int64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	return p.append(b[:]...)
}

// ReadInt64 consumes a big-endian int64.
func (p *Parcel) ReadInt64() (int64, error) {
	b, err := p.consume(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

// WriteFloat32 appends an IEEE-754 float32 in big-endian byte order.
func (p *Parcel) WriteFloat32(v float32) error {
	return p.WriteUint32(math.Float32bits(v))
}

// ReadFloat32 consumes an IEEE-754 float32.
func (p *Parcel) ReadFloat32() (float32, error) {
	u, err := p.ReadUint32()
	return math.Float32frombits(u), err
}

// WriteFloat64 appends an IEEE-754 float64 in big-endian byte order.
func (p *Parcel) WriteFloat64(v float64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], math.Float64bits(v))
	return p.append(b[:]...)
}

// ReadFloat64 consumes an IEEE-754 float64.
func (p *Parcel) ReadFloat64() (float64, error) {
	b, err := p.consume(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
}

// WriteString appends a u32 length prefix followed by UTF-8 bytes.
func (p *Parcel) WriteString(v string) error {
	if !utf8.ValidString(v) {
		return fmt.Errorf("%w: string is not valid UTF-8", ErrInvalidEncoding)
	}
	if err := p.WriteUint32(uint32(len(v))); err != nil {
		return err
	}
	return p.append([]byte(v)...)
}

// ReadString consumes a length-prefixed UTF-8 string.
func (p *Parcel) ReadString() (string, error) {
	n, err := p.ReadUint32()
	if err != nil {
		return "", err
	}
	if int(n) > p.Remaining() {
		return "", fmt.Errorf("%w: string length %d exceeds remaining %d", ErrMalformedPayload, n, p.Remaining())
	}
	b, err := p.consume(int(n))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", fmt.Errorf("%w: string payload is not valid UTF-8", ErrInvalidEncoding)
	}
	return string(b), nil
}
