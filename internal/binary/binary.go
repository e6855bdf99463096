// Package binary provides a growable byte buffer with structured
// little-endian reads and writes, mirroring the KI wire encoding used
// throughout the proxy's framing and handshake messages.
package binary

import (
	"encoding/binary"
	"errors"
	"math"
	"unicode/utf16"
)

// ErrShortRead is returned when a read would consume past the end of the
// buffer's valid contents.
var ErrShortRead = errors.New("binary: short read")

// Buffer is a seekable, growable byte buffer supporting the primitive
// encodings the KI protocol uses: fixed-width little-endian integers,
// IEEE 754 floats, and length-prefixed byte/UTF-16LE strings.
type Buffer struct {
	buf []byte
	pos int
}

// New returns an empty Buffer.
func New() *Buffer {
	return &Buffer{}
}

// NewFromBytes returns a Buffer whose contents are a copy of data, with the
// read/write cursor positioned at the start.
func NewFromBytes(data []byte) *Buffer {
	b := &Buffer{buf: append([]byte(nil), data...)}
	return b
}

// LoadFrame resets the buffer to contain exactly raw, seeking to the start.
func (b *Buffer) LoadFrame(raw []byte) {
	b.pos = 0
	b.buf = append(b.buf[:0], raw...)
}

// Bytes returns the buffer's full contents (ignoring cursor position).
func (b *Buffer) Bytes() []byte {
	return b.buf
}

// Len returns the number of bytes currently stored in the buffer.
func (b *Buffer) Len() int {
	return len(b.buf)
}

// Seek repositions the read/write cursor to an absolute offset.
func (b *Buffer) Seek(pos int) {
	b.pos = pos
}

// Truncate shrinks the buffer to its current cursor position, discarding
// anything written past it.
func (b *Buffer) Truncate() {
	if b.pos < len(b.buf) {
		b.buf = b.buf[:b.pos]
	}
}

// Read returns the next n bytes without copying, advancing the cursor.
func (b *Buffer) Read(n int) ([]byte, error) {
	if n < 0 || b.pos+n > len(b.buf) {
		return nil, ErrShortRead
	}
	out := b.buf[b.pos : b.pos+n]
	b.pos += n
	return out, nil
}

// Write writes data at the cursor, overwriting any bytes already there
// and growing the buffer as needed, and advances the cursor by len(data).
func (b *Buffer) Write(data []byte) int {
	end := b.pos + len(data)
	if end > len(b.buf) {
		grown := make([]byte, end)
		copy(grown, b.buf)
		b.buf = grown
	}
	copy(b.buf[b.pos:end], data)
	b.pos = end
	return len(data)
}

func (b *Buffer) U8() (uint8, error) {
	raw, err := b.Read(1)
	if err != nil {
		return 0, err
	}
	return raw[0], nil
}

func (b *Buffer) WriteU8(v uint8) int {
	return b.Write([]byte{v})
}

func (b *Buffer) I8() (int8, error) {
	v, err := b.U8()
	return int8(v), err
}

func (b *Buffer) WriteI8(v int8) int {
	return b.WriteU8(uint8(v))
}

func (b *Buffer) U16() (uint16, error) {
	raw, err := b.Read(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(raw), nil
}

func (b *Buffer) WriteU16(v uint16) int {
	var raw [2]byte
	binary.LittleEndian.PutUint16(raw[:], v)
	return b.Write(raw[:])
}

func (b *Buffer) I16() (int16, error) {
	v, err := b.U16()
	return int16(v), err
}

func (b *Buffer) WriteI16(v int16) int {
	return b.WriteU16(uint16(v))
}

func (b *Buffer) U32() (uint32, error) {
	raw, err := b.Read(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(raw), nil
}

func (b *Buffer) WriteU32(v uint32) int {
	var raw [4]byte
	binary.LittleEndian.PutUint32(raw[:], v)
	return b.Write(raw[:])
}

func (b *Buffer) I32() (int32, error) {
	v, err := b.U32()
	return int32(v), err
}

func (b *Buffer) WriteI32(v int32) int {
	return b.WriteU32(uint32(v))
}

func (b *Buffer) U64() (uint64, error) {
	raw, err := b.Read(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(raw), nil
}

func (b *Buffer) WriteU64(v uint64) int {
	var raw [8]byte
	binary.LittleEndian.PutUint64(raw[:], v)
	return b.Write(raw[:])
}

func (b *Buffer) F32() (float32, error) {
	v, err := b.U32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

func (b *Buffer) WriteF32(v float32) int {
	return b.WriteU32(math.Float32bits(v))
}

func (b *Buffer) F64() (float64, error) {
	v, err := b.U64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

func (b *Buffer) WriteF64(v float64) int {
	return b.WriteU64(math.Float64bits(v))
}

// String reads a u16-length-prefixed byte string.
func (b *Buffer) String() ([]byte, error) {
	size, err := b.U16()
	if err != nil {
		return nil, err
	}
	return b.Read(int(size))
}

// WriteString writes data as a u16-length-prefixed byte string.
func (b *Buffer) WriteString(data []byte) int {
	n := b.WriteU16(uint16(len(data)))
	return n + b.Write(data)
}

// WStr reads a u16-char-count-prefixed UTF-16LE string.
func (b *Buffer) WStr() (string, error) {
	count, err := b.U16()
	if err != nil {
		return "", err
	}
	raw, err := b.Read(int(count) * 2)
	if err != nil {
		return "", err
	}
	units := make([]uint16, count)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(raw[i*2:])
	}
	return string(utf16.Decode(units)), nil
}

// WriteWStr writes s as a u16-char-count-prefixed UTF-16LE string.
func (b *Buffer) WriteWStr(s string) int {
	units := utf16.Encode([]rune(s))
	n := b.WriteU16(uint16(len(units)))
	raw := make([]byte, len(units)*2)
	for i, u := range units {
		binary.LittleEndian.PutUint16(raw[i*2:], u)
	}
	return n + b.Write(raw)
}
