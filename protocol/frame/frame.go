// Package frame parses and serializes KI's wire framing: a little-endian
// header carrying a magic value, a short-or-large size field, and either
// a control payload (opcode-addressed) or a data payload (service/order
// addressed).
//
// A parsed Frame retains its Original bytes so a listener pipeline that
// leaves it untouched can replay the frame verbatim instead of paying to
// re-serialize it.
package frame

import (
	"errors"
	"fmt"

	"github.com/vbe0201/wizproxy/internal/binary"
)

// Magic is the two-byte little-endian value every frame begins with.
const Magic = 0xF00D

// largeSizeMarker is the short-size sentinel indicating the real size
// follows as a 32-bit field instead.
const largeSizeMarker = 0x8000

// ErrBadMagic indicates a frame's leading bytes were not the KI magic.
var ErrBadMagic = errors.New("frame: bad magic")

// Frame is the parsed representation of a single KI network frame. The
// payload is not interpreted further here; service-specific decoding
// happens downstream once a frame's direction and addressing is known.
type Frame struct {
	// Original holds the raw bytes the frame was parsed from, before any
	// mutation — used to detect whether re-serialization is needed.
	Original []byte

	// Opcode is set (and ServiceID/Order are zero) for control frames.
	Opcode byte
	// IsControl distinguishes a zero-value control opcode from a data
	// frame, since both zero out unused fields identically.
	IsControl bool

	ServiceID byte
	Order     byte

	Payload []byte

	// Dirty marks a frame that has been mutated since Read and must be
	// re-serialized with Write rather than replayed verbatim.
	Dirty bool
}

// Read parses the single frame held in buf, seeking to offset 0 first
// regardless of the cursor; Original is a copy of buf's whole contents.
func Read(buf *binary.Buffer) (*Frame, error) {
	buf.Seek(0)
	original := append([]byte(nil), buf.Bytes()...)

	magic, err := buf.U16()
	if err != nil {
		return nil, err
	}
	if magic != Magic {
		return nil, fmt.Errorf("%w: got %#x", ErrBadMagic, magic)
	}

	size, err := buf.U16()
	if err != nil {
		return nil, err
	}
	sz := uint32(size)
	if size >= largeSizeMarker {
		sz, err = buf.U32()
		if err != nil {
			return nil, err
		}
	}

	isControlByte, err := buf.U8()
	if err != nil {
		return nil, err
	}
	isControl := isControlByte != 0

	opcode, err := buf.U8()
	if err != nil {
		return nil, err
	}
	if _, err := buf.U16(); err != nil { // reserved
		return nil, err
	}

	f := &Frame{Original: original, IsControl: isControl}

	if isControl {
		f.Opcode = opcode
		payload, err := buf.Read(int(sz) - 4)
		if err != nil {
			return nil, err
		}
		f.Payload = payload
		return f, nil
	}

	serviceID, err := buf.U8()
	if err != nil {
		return nil, err
	}
	order, err := buf.U8()
	if err != nil {
		return nil, err
	}
	payloadLen, err := buf.U16()
	if err != nil {
		return nil, err
	}
	payload, err := buf.Read(int(payloadLen) - 4)
	if err != nil {
		return nil, err
	}
	if _, err := buf.U8(); err != nil { // trailing null byte
		return nil, err
	}

	f.ServiceID = serviceID
	f.Order = order
	f.Payload = payload
	return f, nil
}

// Write serializes the frame into buf, returning the number of bytes
// written.
func (f *Frame) Write(buf *binary.Buffer) int {
	buf.Seek(0)

	written := 0
	payloadLen := len(f.Payload)

	size := 4 + payloadLen
	if !f.IsControl {
		size += 5
	}

	written += buf.WriteU16(Magic)
	if size < largeSizeMarker {
		written += buf.WriteU16(uint16(size))
	} else {
		written += buf.WriteU16(largeSizeMarker)
		written += buf.WriteU32(uint32(size))
	}

	isControl := f.IsControl
	written += buf.WriteU8(boolToU8(isControl))
	written += buf.WriteU8(f.Opcode)
	written += buf.WriteU16(0)

	if isControl {
		written += buf.Write(f.Payload)
	} else {
		written += buf.WriteU8(f.ServiceID)
		written += buf.WriteU8(f.Order)
		written += buf.WriteU16(uint16(payloadLen + 4))
		written += buf.Write(f.Payload)
		written += buf.WriteU8(0)
	}

	buf.Truncate()
	return written
}

func boolToU8(b bool) byte {
	if b {
		return 1
	}
	return 0
}
