// Package transport buffers raw TCP bytes into complete KI frames,
// transparently decrypting them once a session's AES-GCM context exists,
// and exposes a per-direction frame stream with the protocol's 120-second
// idle timeout.
//
// TCP gives no message boundaries, so a read can land in the middle of
// a frame's header or body; bytes accumulate in a buffer until the
// declared frame size is fully available before anything is handed to
// the plugin pipeline.
package transport

import (
	"encoding/binary"
	"errors"

	"github.com/vbe0201/wizproxy/crypto/streamcipher"
	"github.com/vbe0201/wizproxy/protocol/frame"
)

// ErrUnsupportedFrame indicates a frame header's magic did not match
// frame.Magic once decrypted.
var ErrUnsupportedFrame = errors.New("transport: received unsupported frame data")

type bufferState int

const (
	stateEmpty bufferState = iota
	stateGotEncryptedFood
	stateGotFood
)

const headerSize = 8 // u16 magic, u16 size, u32 large_size

// PacketBuffer accumulates raw bytes from a TCP connection and splits off
// complete frames, one at a time, decrypting them if an AES-GCM context
// is supplied. It is meant to be reused across many poll calls on the
// same connection.
type PacketBuffer struct {
	buf []byte

	state bufferState
	food  []byte
}

// NewPacketBuffer returns an empty PacketBuffer.
func NewPacketBuffer() *PacketBuffer {
	return &PacketBuffer{}
}

// Feed appends newly-read bytes to the buffer.
func (p *PacketBuffer) Feed(data []byte) {
	p.buf = append(p.buf, data...)
}

func (p *PacketBuffer) splitOff(n int) []byte {
	data := p.buf[:n]
	p.buf = p.buf[n:]
	return data
}

func requiredBytes(aes *streamcipher.Context, nbytes int) int {
	if aes != nil {
		return aes.CalculateDecryptionOverhead(nbytes)
	}
	return nbytes
}

func isPlaintextFrame(raw []byte) bool {
	return raw[0] == 0x0D && raw[1] == 0xF0
}

func isLargeFrame(size uint16) bool {
	return size >= 0x8000
}

func (p *PacketBuffer) pollHeader(aes *streamcipher.Context) error {
	if p.state != stateEmpty {
		return nil
	}

	foodBytes := requiredBytes(aes, headerSize)
	if len(p.buf) < foodBytes {
		return nil
	}

	encrypted := aes != nil && !isPlaintextFrame(p.buf)

	food := p.splitOff(foodBytes)
	if encrypted {
		decrypted, err := aes.Decrypt(food)
		if err != nil {
			return err
		}
		food = decrypted
		p.state = stateGotEncryptedFood
	} else {
		p.state = stateGotFood
	}
	p.food = food
	return nil
}

// PollFrame attempts to extract one complete frame from the buffered
// bytes, decrypting it with aes (which may be nil if no session key has
// been negotiated yet). It returns ready=false if more data must be fed
// in before a full frame is available.
func (p *PacketBuffer) PollFrame(aes *streamcipher.Context) (encrypted bool, raw []byte, ready bool, err error) {
	if err := p.pollHeader(aes); err != nil {
		return false, nil, false, err
	}
	if p.state == stateEmpty {
		return false, nil, false, nil
	}

	magic := binary.LittleEndian.Uint16(p.food[0:2])
	size := binary.LittleEndian.Uint16(p.food[2:4])
	largeSize := binary.LittleEndian.Uint32(p.food[4:8])

	if magic != frame.Magic {
		return false, nil, false, ErrUnsupportedFrame
	}

	var bodySize int
	if isLargeFrame(size) {
		bodySize = int(largeSize)
	} else {
		bodySize = int(size) - 4
	}
	bodySize = requiredBytes(aes, bodySize)

	if len(p.buf) < bodySize {
		return false, nil, false, nil
	}

	body := p.splitOff(bodySize)
	wasEncrypted := p.state == stateGotEncryptedFood
	if wasEncrypted {
		decrypted, derr := aes.Decrypt(body)
		if derr != nil {
			return false, nil, false, derr
		}
		body = decrypted
	}

	food := p.food
	p.state = stateEmpty
	p.food = nil

	return wasEncrypted, append(append([]byte(nil), food...), body...), true, nil
}
