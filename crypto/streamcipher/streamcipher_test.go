package streamcipher

import (
	"bytes"
	"testing"
)

func testKeyNonce() ([blockSize]byte, [blockSize]byte) {
	var key, nonce [blockSize]byte
	for i := range key {
		key[i] = byte(i * 7)
		nonce[i] = byte(i*3 + 1)
	}
	return key, nonce
}

func TestRoundTripSingleChunk(t *testing.T) {
	key, nonce := testKeyNonce()

	enc, err := New(key, nonce, 4096)
	if err != nil {
		t.Fatal(err)
	}
	dec, err := New(key, nonce, 4096)
	if err != nil {
		t.Fatal(err)
	}

	plain := bytes.Repeat([]byte("hello wizard101"), 10)
	wire, err := enc.Encrypt(plain)
	if err != nil {
		t.Fatal(err)
	}
	if len(wire) != len(plain) {
		t.Fatalf("no rotation expected, got overhead: %d vs %d", len(wire), len(plain))
	}

	got, err := dec.Decrypt(wire)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, plain) {
		t.Fatalf("round trip mismatch")
	}
}

func TestRoundTripWithRotation(t *testing.T) {
	key, nonce := testKeyNonce()

	const chunk = 4096
	enc, err := New(key, nonce, chunk)
	if err != nil {
		t.Fatal(err)
	}
	dec, err := New(key, nonce, chunk)
	if err != nil {
		t.Fatal(err)
	}

	plain := make([]byte, 5000)
	wire, err := enc.Encrypt(plain)
	if err != nil {
		t.Fatal(err)
	}
	if len(wire) != len(plain)+rotationOverhead {
		t.Fatalf("expected exactly one rotation: got %d bytes, want %d", len(wire), len(plain)+rotationOverhead)
	}

	got, err := dec.Decrypt(wire)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, plain) {
		t.Fatalf("round trip mismatch across rotation boundary")
	}
}

func TestRoundTripStreamedCalls(t *testing.T) {
	key, nonce := testKeyNonce()

	const chunk = 4096
	enc, err := New(key, nonce, chunk)
	if err != nil {
		t.Fatal(err)
	}
	dec, err := New(key, nonce, chunk)
	if err != nil {
		t.Fatal(err)
	}

	plain := make([]byte, 10000)
	for i := range plain {
		plain[i] = byte(i)
	}

	var wire []byte
	for off := 0; off < len(plain); off += 777 {
		end := off + 777
		if end > len(plain) {
			end = len(plain)
		}
		w, err := enc.Encrypt(plain[off:end])
		if err != nil {
			t.Fatal(err)
		}
		wire = append(wire, w...)
	}

	// Decrypt in 513-byte plaintext steps, handing each call exactly the
	// wire bytes those plaintext bytes occupy (rotation markers included),
	// the way the packet buffer sizes its reads.
	var got []byte
	pos := 0
	for off := 0; off < len(plain); off += 513 {
		n := 513
		if off+n > len(plain) {
			n = len(plain) - off
		}
		end := pos + dec.CalculateDecryptionOverhead(n)
		p, err := dec.Decrypt(wire[pos:end])
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, p...)
		pos = end
	}

	if !bytes.Equal(got, plain) {
		t.Fatalf("streamed round trip mismatch: got %d bytes, want %d", len(got), len(plain))
	}
}

func TestDecryptDetectsTamperedTag(t *testing.T) {
	key, nonce := testKeyNonce()

	const chunk = 64
	enc, err := New(key, nonce, chunk)
	if err != nil {
		t.Fatal(err)
	}
	dec, err := New(key, nonce, chunk)
	if err != nil {
		t.Fatal(err)
	}

	plain := make([]byte, 100)
	wire, err := enc.Encrypt(plain)
	if err != nil {
		t.Fatal(err)
	}

	wire[chunk] ^= 0xFF // corrupt a byte of the inline tag

	if _, err := dec.Decrypt(wire); err != ErrTagMismatch {
		t.Fatalf("expected ErrTagMismatch, got %v", err)
	}
}

func TestOverheadRoundTrip(t *testing.T) {
	key, nonce := testKeyNonce()
	c, err := New(key, nonce, 4096)
	if err != nil {
		t.Fatal(err)
	}

	for n := 0; n <= 9000; n += 137 {
		enc := c.CalculateDecryptionOverhead(n)
		back := c.StripDecryptionOverhead(enc)
		if back != n {
			t.Fatalf("overhead round trip failed for n=%d: calc=%d strip=%d", n, enc, back)
		}
	}
}

func TestClientServerChunkSizes(t *testing.T) {
	key, nonce := testKeyNonce()

	c, err := Client(key, nonce)
	if err != nil {
		t.Fatal(err)
	}
	if c.chunkSize != ClientChunk {
		t.Fatalf("client chunk size = %d, want %d", c.chunkSize, ClientChunk)
	}

	s, err := Server(key, nonce)
	if err != nil {
		t.Fatal(err)
	}
	if s.chunkSize != ServerChunk {
		t.Fatalf("server chunk size = %d, want %d", s.chunkSize, ServerChunk)
	}
}
