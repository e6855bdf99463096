package streamcipher

// ghash implements the GF(2^128) multiplication and incremental
// accumulator GCM uses for its authentication tag (NIST SP 800-38D,
// section 6.3). KI rotates to a fresh nonce every ChunkSize bytes but
// keeps accumulating one tag across the whole chunk, so the accumulator
// needs to absorb ciphertext blocks one at a time and only finalize once
// the chunk boundary is reached. The standard library's crypto/cipher
// GCM implementation buffers a whole message and finalizes in one call,
// so it can't be reused here; this keeps only the block arithmetic it
// would otherwise do internally.

const blockSize = 16

type block = [blockSize]byte

// mul multiplies x by y in GF(2^128) using the reduction polynomial
// x^128 + x^7 + x^2 + x + 1, represented in GCM's bit-reflected form.
func mul(x, y block) block {
	var z, v block
	v = y

	for i := 0; i < 128; i++ {
		if x[i/8]&(0x80>>(uint(i)%8)) != 0 {
			xorInto(&z, &v)
		}

		lsb := v[blockSize-1] & 1
		shiftRight(&v)
		if lsb != 0 {
			v[0] ^= 0xe1
		}
	}

	return z
}

func xorInto(dst *block, src *block) {
	for i := range dst {
		dst[i] ^= src[i]
	}
}

func xorBytes(dst *block, src []byte) {
	for i := 0; i < len(src) && i < blockSize; i++ {
		dst[i] ^= src[i]
	}
}

func shiftRight(v *block) {
	var carry byte
	for i := range v {
		next := v[i] & 1
		v[i] = (v[i] >> 1) | (carry << 7)
		carry = next
	}
}

// ghashState accumulates GHASH over data fed in arbitrary-sized chunks,
// buffering a partial trailing block between calls so callers can stream
// ciphertext through Update without knowing its total length up front.
type ghashState struct {
	h       block
	acc     block
	pending []byte
	total   uint64 // total bytes fed, for the length block at Finalize.
}

func newGHASH(h block) *ghashState {
	return &ghashState{h: h}
}

// Update folds additional data into the running hash.
func (g *ghashState) Update(data []byte) {
	g.total += uint64(len(data))

	if len(g.pending) > 0 {
		need := blockSize - len(g.pending)
		if need > len(data) {
			g.pending = append(g.pending, data...)
			return
		}
		g.pending = append(g.pending, data[:need]...)
		data = data[need:]
		g.absorbBlock(g.pending)
		g.pending = g.pending[:0]
	}

	for len(data) >= blockSize {
		g.absorbBlock(data[:blockSize])
		data = data[blockSize:]
	}

	if len(data) > 0 {
		g.pending = append(g.pending, data...)
	}
}

func (g *ghashState) absorbBlock(b []byte) {
	var blk block
	xorBytes(&blk, b)
	xorInto(&g.acc, &blk)
	g.acc = mul(g.acc, g.h)
}

// Finalize flushes any pending partial block (zero-padded), folds in the
// 64-bit AAD-bitlen (always zero here, no associated data is used) and
// ciphertext-bitlen length block, and returns the resulting GHASH value.
// The caller must still XOR this against E_K(J0) to get the GCM tag.
func (g *ghashState) Finalize() block {
	if len(g.pending) > 0 {
		var blk block
		xorBytes(&blk, g.pending)
		xorInto(&g.acc, &blk)
		g.acc = mul(g.acc, g.h)
		g.pending = g.pending[:0]
	}

	var lenBlock block
	putUint64BE(lenBlock[8:], g.total*8)
	xorInto(&g.acc, &lenBlock)
	g.acc = mul(g.acc, g.h)

	return g.acc
}

func putUint64BE(dst []byte, v uint64) {
	for i := 7; i >= 0; i-- {
		dst[i] = byte(v)
		v >>= 8
	}
}
