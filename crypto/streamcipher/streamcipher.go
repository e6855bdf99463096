// Package streamcipher implements the per-direction AES-GCM streaming
// cipher the KI protocol switches to after a successful handshake:
// ciphertext flows continuously, and every ChunkSize bytes the cipher
// rotates to a fresh random nonce, interleaving an inline authentication
// tag and the new nonce into the wire stream.
//
// crypto/aes and crypto/cipher's CTR mode cover the block cipher and
// keystream, but crypto/cipher's GCM wrapper expects to seal or open one
// complete message, while a chunk here arrives across many Encrypt or
// Decrypt calls and its tag is only due at the chunk boundary. CTR and
// the GHASH accumulator in ghash.go are therefore composed directly here
// instead of going through cipher.NewGCM; every rotation starts a fresh
// keystream and a fresh tag.
package streamcipher

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"encoding/binary"
	"errors"
)

const (
	// ClientChunk is the rotation interval for data the client sends.
	ClientChunk = 0x100 * blockSize
	// ServerChunk is the rotation interval for data the server sends.
	ServerChunk = 0x1000 * blockSize

	// NonceSize is the width of the GCM nonce used on the wire.
	NonceSize = blockSize
	// TagSize is the width of the inline GCM authentication tag.
	TagSize = blockSize

	rotationOverhead = TagSize + NonceSize
)

// ErrTagMismatch indicates the inline GCM authentication tag at a chunk
// rotation boundary did not match the decrypted ciphertext.
var ErrTagMismatch = errors.New("streamcipher: authentication tag mismatch")

// ErrShortRotation indicates fewer than TagSize+NonceSize bytes remained
// for a rotation boundary that the caller claimed to have available.
var ErrShortRotation = errors.New("streamcipher: truncated rotation boundary")

var zeroBlock block

// half holds one direction's (encrypt-only or decrypt-only) running GCM
// state: the block cipher, the CTR keystream, and the GHASH accumulator
// for the chunk currently in progress.
type half struct {
	key    [blockSize]byte
	cipher cipher.Block
	h      block
	j0     block
	stream cipher.Stream
	ghash  *ghashState
}

func newHalf(key [blockSize]byte, nonce [blockSize]byte) (*half, error) {
	blk, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}

	var h block
	blk.Encrypt(h[:], zeroBlock[:])

	j0 := newGHASH(h)
	j0.Update(nonce[:])
	j0Block := j0.Finalize()

	counter := inc32(j0Block)
	stream := cipher.NewCTR(blk, counter[:])

	return &half{
		key:    key,
		cipher: blk,
		h:      h,
		j0:     j0Block,
		stream: stream,
		ghash:  newGHASH(h),
	}, nil
}

func inc32(b block) block {
	out := b
	c := binary.BigEndian.Uint32(out[blockSize-4:])
	c++
	binary.BigEndian.PutUint32(out[blockSize-4:], c)
	return out
}

// process runs the CTR keystream over data and folds the
// resulting ciphertext bytes into the running GHASH. For encryption,
// src is plaintext and the output is ciphertext, absorbed as produced.
// For decryption, src is ciphertext and must be absorbed BEFORE being
// turned into plaintext (the tag authenticates ciphertext, not
// plaintext), so callers pass absorbFirst=true in that case.
func (h *half) process(dst, src []byte, absorbFirst bool) {
	if absorbFirst {
		h.ghash.Update(src)
		h.stream.XORKeyStream(dst, src)
		return
	}
	h.stream.XORKeyStream(dst, src)
	h.ghash.Update(dst)
}

// tag finalizes the GHASH over everything absorbed so far and returns the
// GCM authentication tag for the completed chunk.
func (h *half) tag() block {
	sum := h.ghash.Finalize()
	var encJ0 block
	h.cipher.Encrypt(encJ0[:], h.j0[:])
	xorInto(&sum, &encJ0)
	return sum
}

// Context is the per-direction AES-GCM streaming cipher state: one
// encryptor and one decryptor, each independently tracking progress
// toward the next nonce rotation.
type Context struct {
	chunkSize int

	encKey      [blockSize]byte
	encryptor   *half
	encProgress int

	decKey      [blockSize]byte
	decryptor   *half
	decProgress int
}

// New constructs a Context from the session's negotiated 16-byte key and
// nonce, rotating after every chunkSize bytes in each direction.
func New(key, nonce [blockSize]byte, chunkSize int) (*Context, error) {
	enc, err := newHalf(key, nonce)
	if err != nil {
		return nil, err
	}
	dec, err := newHalf(key, nonce)
	if err != nil {
		return nil, err
	}
	return &Context{
		chunkSize: chunkSize,
		encKey:    key,
		encryptor: enc,
		decKey:    key,
		decryptor: dec,
	}, nil
}

// Client builds a Context using the client-bound chunk size.
func Client(key, nonce [blockSize]byte) (*Context, error) {
	return New(key, nonce, ClientChunk)
}

// Server builds a Context using the server-bound chunk size.
func Server(key, nonce [blockSize]byte) (*Context, error) {
	return New(key, nonce, ServerChunk)
}

// overhead computes how many extra bytes of tag+nonce rotation material
// are interleaved into nbytes worth of ciphertext, given how far into the
// current chunk progress already is. step shifts the rotation interval by
// the rotation overhead itself, which is needed when converting a wire
// byte count back into the plaintext byte count it carries (the rotation
// markers themselves consume wire bytes that don't count toward the next
// chunk's progress).
func (c *Context) overhead(progress, step, nbytes int) int {
	blockLen := c.chunkSize + step
	remainder := c.chunkSize - progress

	overflows := 0
	if remainder <= nbytes {
		overflows = ((nbytes-remainder)/blockLen)+1
	}

	return rotationOverhead * overflows
}

// CalculateEncryptionOverhead returns the wire byte count nbytes of
// plaintext will expand to once encrypted, including any rotation
// markers crossed along the way.
func (c *Context) CalculateEncryptionOverhead(nbytes int) int {
	return nbytes + c.overhead(c.encProgress, 0, nbytes)
}

// CalculateDecryptionOverhead returns how many wire bytes must be
// consumed to decrypt nbytes worth of plaintext, including rotation
// markers.
func (c *Context) CalculateDecryptionOverhead(nbytes int) int {
	return nbytes + c.overhead(c.decProgress, 0, nbytes)
}

// StripDecryptionOverhead is the inverse of CalculateDecryptionOverhead:
// given a wire byte count, it returns the plaintext byte count it
// decrypts to.
func (c *Context) StripDecryptionOverhead(nbytes int) int {
	return nbytes - c.overhead(c.decProgress, rotationOverhead, nbytes)
}

// Encrypt encrypts data under the current chunk, rotating to a fresh
// random nonce (and emitting tag||nonce inline) whenever chunkSize bytes
// complete mid-call.
func (c *Context) Encrypt(data []byte) ([]byte, error) {
	out := make([]byte, 0, c.CalculateEncryptionOverhead(len(data)))

	for len(data) > 0 {
		remaining := c.chunkSize - c.encProgress
		n := remaining
		if n > len(data) {
			n = len(data)
		}

		chunk := make([]byte, n)
		c.encryptor.process(chunk, data[:n], false)
		out = append(out, chunk...)

		c.encProgress = (c.encProgress + n) % c.chunkSize
		data = data[n:]

		if c.encProgress == 0 {
			tag := c.encryptor.tag()
			out = append(out, tag[:]...)

			var nonce [blockSize]byte
			if _, err := rand.Read(nonce[:]); err != nil {
				return nil, err
			}
			out = append(out, nonce[:]...)

			next, err := newHalf(c.encKey, nonce)
			if err != nil {
				return nil, err
			}
			c.encryptor = next
		}
	}

	return out, nil
}

// Decrypt reverses Encrypt: it consumes wire bytes (ciphertext
// interleaved with rotation markers) and returns the plaintext, verifying
// every inline authentication tag it crosses. A tag mismatch is fatal and
// returns ErrTagMismatch.
func (c *Context) Decrypt(data []byte) ([]byte, error) {
	out := make([]byte, 0, c.StripDecryptionOverhead(len(data)))

	for len(data) > 0 {
		remaining := c.chunkSize - c.decProgress
		n := remaining
		if n > len(data) {
			n = len(data)
		}

		plain := make([]byte, n)
		c.decryptor.process(plain, data[:n], true)
		out = append(out, plain...)

		c.decProgress = (c.decProgress + n) % c.chunkSize
		data = data[n:]

		if c.decProgress == 0 {
			if len(data) < rotationOverhead {
				return nil, ErrShortRotation
			}

			wantTag := c.decryptor.tag()
			gotTag := data[:TagSize]
			if subtle.ConstantTimeCompare(wantTag[:], gotTag) != 1 {
				return nil, ErrTagMismatch
			}

			var nonce [blockSize]byte
			copy(nonce[:], data[TagSize:TagSize+NonceSize])
			data = data[rotationOverhead:]

			next, err := newHalf(c.decKey, nonce)
			if err != nil {
				return nil, err
			}
			c.decryptor = next
		}
	}

	return out, nil
}
