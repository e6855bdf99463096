package handshake

import (
	"bytes"
	"testing"

	wbinary "github.com/vbe0201/wizproxy/internal/binary"
)

func TestSignedMessageRoundTrip(t *testing.T) {
	challenge := []byte{0x01, 0x00, 0x04, 0x00, 0x02, 0xAA, 0xBB, 0xCC}
	m := &SignedMessage{Flags: 1, KeySlot: 2, KeyMask: 3, Challenge: challenge, Echo: 0xDEADBEEF}

	buf := wbinary.New()
	m.Write(buf)

	parsed, err := ReadSignedMessage(wbinary.NewFromBytes(buf.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if parsed.Flags != 1 || parsed.KeySlot != 2 || parsed.KeyMask != 3 || parsed.Echo != 0xDEADBEEF {
		t.Fatalf("field mismatch: %+v", parsed)
	}
	if !bytes.Equal(parsed.Challenge, challenge) {
		t.Fatalf("challenge mismatch")
	}

	offset, length := parsed.HashRegion()
	if offset != 1 || length != 4 {
		t.Fatalf("hash region mismatch: %d %d", offset, length)
	}
	if parsed.ChallengeType() != 2 {
		t.Fatalf("challenge type mismatch: %d", parsed.ChallengeType())
	}
	if !bytes.Equal(parsed.ChallengeBuf(), []byte{0xAA, 0xBB, 0xCC}) {
		t.Fatalf("challenge buf mismatch")
	}
}

func TestEncryptedMessageRoundTrip(t *testing.T) {
	m := &EncryptedMessage{
		Flags:           1,
		KeyHash:         0x11223344,
		ChallengeAnswer: 0x55667788,
		Echo:            0x99AABBCC,
		Timestamp:       0x12345678,
	}
	for i := range m.Key {
		m.Key[i] = byte(i)
	}
	for i := range m.Nonce {
		m.Nonce[i] = byte(0xFF - i)
	}

	buf := wbinary.New()
	n := m.Write(buf)
	if n != Size() {
		t.Fatalf("wrote %d bytes, want %d", n, Size())
	}

	parsed, err := ReadEncryptedMessage(wbinary.NewFromBytes(buf.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if parsed.KeyHash != m.KeyHash || parsed.ChallengeAnswer != m.ChallengeAnswer {
		t.Fatalf("field mismatch: %+v", parsed)
	}
	if parsed.Key != m.Key || parsed.Nonce != m.Nonce {
		t.Fatalf("key/nonce mismatch")
	}
}
