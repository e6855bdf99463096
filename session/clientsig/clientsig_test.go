package clientsig

import (
	"encoding/binary"
	"testing"
)

func buildDataBlob(offsets, modules, code []byte) []byte {
	var buf []byte
	appendSection := func(b []byte) {
		var lenBytes [4]byte
		binary.LittleEndian.PutUint32(lenBytes[:], uint32(len(b)))
		buf = append(buf, lenBytes[:]...)
		buf = append(buf, b...)
	}
	appendSection(offsets)
	appendSection(modules)
	appendSection(code)
	return buf
}

func TestParseData(t *testing.T) {
	blob := buildDataBlob([]byte{1, 2, 3}, []byte{4, 5}, []byte{6, 7, 8, 9})
	d, err := ParseData(blob)
	if err != nil {
		t.Fatal(err)
	}
	if string(d.Offsets) != "\x01\x02\x03" {
		t.Fatalf("offsets mismatch: %v", d.Offsets)
	}
	if string(d.Modules) != "\x04\x05" {
		t.Fatalf("modules mismatch: %v", d.Modules)
	}
	if string(d.Code) != "\x06\x07\x08\x09" {
		t.Fatalf("code mismatch: %v", d.Code)
	}
}

func buildChallengeBuf(controlMask, spec, key uint32) []byte {
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint32(buf[0:4], controlMask)
	binary.LittleEndian.PutUint32(buf[4:8], spec)
	binary.LittleEndian.PutUint32(buf[8:12], key)
	return buf
}

func TestChallengeDisabledReturnsZero(t *testing.T) {
	d := &Data{Code: []byte{1, 2, 3}}
	msg := buildChallengeBuf(controlDisable, 0, 0)
	result, err := Challenge(d, msg)
	if err != nil {
		t.Fatal(err)
	}
	if result != 0 {
		t.Fatalf("expected 0 for disabled challenge, got %d", result)
	}
}

func TestChallengeTooShort(t *testing.T) {
	d := &Data{Code: []byte{1}}
	if _, err := Challenge(d, []byte{1, 2, 3}); err != ErrTooShort {
		t.Fatalf("expected ErrTooShort, got %v", err)
	}
}

func TestChallengeDeterministic(t *testing.T) {
	d := &Data{Code: []byte("wizard101-code-blob-of-reasonable-length")}
	msg := buildChallengeBuf(0, 0x0000_1234, 0xCAFEBABE)

	a, err := Challenge(d, msg)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Challenge(d, msg)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatalf("challenge not deterministic: %d != %d", a, b)
	}
}

func TestScrambleStepBits(t *testing.T) {
	key := uint32(1<<3 | 1<<5 | 1<<7 | 1<<14 | 1<<18)
	if got := scrambleStep(key); got != 0b11111 {
		t.Fatalf("scramble step = %b, want %b", got, 0b11111)
	}
}
