// Package clientsig implements the ClientSig handshake challenge: KI's
// anti-cheat client answers a hash challenge over a scrambled view of its
// own loaded code, so the proxy must be able to reproduce the same
// answer to avoid tipping the server off that something is impersonating
// the genuine client.
//
// The scramble XORs every source byte against the little-endian bytes of
// the challenge key, cycling through them, and inserts a duplicate of the
// previous output byte every step bytes, where step is assembled from
// key bits 3, 5, 7, 14 and 18. When the obfuscate control bit is set,
// the scrambled buffer is further XORed against the little-endian bytes
// of the control mask, again cycling through all four.
package clientsig

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/vbe0201/wizproxy/internal/fnv"
)

// ChallengeID is the SignedMessage challenge-type byte identifying a
// ClientSig challenge.
const ChallengeID = 0xF1

const (
	controlDisable        = 1 << 5
	controlIncludeOffsets = 1 << 9
	controlIncludeModules = 1 << 12
	controlObfuscate      = 1 << 17
)

// ErrTooShort indicates a ClientSig challenge buffer was too small to
// contain the fixed control/spec/key header.
var ErrTooShort = errors.New("clientsig: received too few bytes to perform challenge")

// Data is the parsed ClientSig.dec.bin key material: the offsets table,
// module list, and code blob the challenge hashes regions of.
type Data struct {
	Offsets []byte
	Modules []byte
	Code    []byte
}

// ParseData parses the concatenated u32-length-prefixed offsets/modules/code
// sections of ClientSig.dec.bin.
func ParseData(data []byte) (*Data, error) {
	offsetsLen, err := readU32Prefixed(data, 0)
	if err != nil {
		return nil, err
	}
	modulesStart := 4 + int(offsetsLen)

	modulesLen, err := readU32Prefixed(data, modulesStart)
	if err != nil {
		return nil, err
	}
	codeStart := modulesStart + 4 + int(modulesLen)

	codeLen, err := readU32Prefixed(data, codeStart)
	if err != nil {
		return nil, err
	}

	return &Data{
		Offsets: data[4 : 4+offsetsLen],
		Modules: data[modulesStart+4 : modulesStart+4+int(modulesLen)],
		Code:    data[codeStart+4 : codeStart+4+int(codeLen)],
	}, nil
}

func readU32Prefixed(data []byte, offset int) (uint32, error) {
	if offset+4 > len(data) {
		return 0, fmt.Errorf("clientsig: length prefix out of bounds at offset %d", offset)
	}
	n := binary.LittleEndian.Uint32(data[offset : offset+4])
	if offset+4+int(n) > len(data) {
		return 0, fmt.Errorf("clientsig: section of length %d out of bounds at offset %d", n, offset)
	}
	return n, nil
}

func chunkSize(spec uint32) int { return int((spec&0x3C)>>2) + 1 }
func seed(spec uint32) uint32   { return spec >> 8 }
func rounds(spec uint32) int    { return int((spec&0xC0)>>6) + 1 }

type roundFunc func(acc uint32, b byte) uint32

func processingFunc(spec uint32) roundFunc {
	switch spec & 0b11 {
	case 0:
		return fnv.Round1a
	case 1:
		return fnv.Round
	case 2:
		return jenkinsOneAtATimeRound
	default:
		return pjwHashRound
	}
}

func jenkinsOneAtATimeRound(acc uint32, b byte) uint32 {
	acc += uint32(b)
	acc += acc << 10
	return acc ^ (acc >> 6)
}

func pjwHashRound(acc uint32, b byte) uint32 {
	acc = (acc << 4) + uint32(b)
	high := acc & 0xF0000000
	if high != 0 {
		acc ^= high >> 24
	}
	return acc &^ high
}

// scrambleStep derives the scramble buffer's repeated-byte step interval
// from specific bits of the challenge key.
func scrambleStep(key uint32) int {
	step := (key & (1 << 3)) >> (3 - 0)
	step |= (key & (1 << 5)) >> (5 - 1)
	step |= (key & (1 << 7)) >> (7 - 2)
	step |= (key & (1 << 14)) >> (14 - 3)
	step |= (key & (1 << 18)) >> (18 - 4)
	return int(step)
}

// scrambleBuffer XORs data against the key's bytes cyclically, inserting
// a duplicate of the most recent output byte every step bytes.
func scrambleBuffer(data []byte, key uint32) []byte {
	var keyBytes [4]byte
	binary.LittleEndian.PutUint32(keyBytes[:], key)
	step := scrambleStep(key)

	buf := make([]byte, 0, len(data)+len(data)/4)
	for _, b := range data {
		if step != 0 && len(buf) != 0 && len(buf)%step == 0 {
			buf = append(buf, buf[len(buf)-1])
		}
		buf = append(buf, keyBytes[len(buf)&3]^b)
	}
	return buf
}

func buildSignatureBuffer(d *Data, flags, key uint32) []byte {
	var result []byte
	if flags&controlIncludeOffsets != 0 {
		result = append(result, scrambleBuffer(d.Offsets, key)...)
	}
	if flags&controlIncludeModules != 0 {
		result = append(result, scrambleBuffer(d.Modules, key)...)
	}
	result = append(result, scrambleBuffer(d.Code, key)...)
	return result
}

// Challenge computes the ClientSig answer the genuine client would
// produce for a given challenge buffer (the SignedMessage's ChallengeBuf,
// 12+ bytes of control mask, hash spec, and key).
func Challenge(d *Data, message []byte) (uint32, error) {
	if len(message) < 12 {
		return 0, ErrTooShort
	}

	controlMask := binary.LittleEndian.Uint32(message[0:4])
	spec := binary.LittleEndian.Uint32(message[4:8])
	key := binary.LittleEndian.Uint32(message[8:12])

	if controlMask&controlDisable != 0 {
		return 0, nil
	}

	buf := buildSignatureBuffer(d, controlMask, key)
	bufLen := len(buf)

	if controlMask&controlObfuscate != 0 {
		var controlBytes [4]byte
		binary.LittleEndian.PutUint32(controlBytes[:], controlMask)
		for i := range buf {
			buf[i] ^= controlBytes[i&3]
		}
	}

	result := seed(spec)
	fn := processingFunc(spec)
	size := chunkSize(spec)

	for r := 0; r < rounds(spec); r++ {
		for i := 0; i < size; i++ {
			for b := i; b < bufLen; b += size {
				result = fn(result, buf[b])
			}
		}
	}

	return result, nil
}
