package streamcipher

import "testing"

func TestGHASHEmptyIsLengthBlockOnly(t *testing.T) {
	var h block
	g := newGHASH(h)
	sum := g.Finalize()
	var zero block
	if sum != zero {
		t.Fatalf("GHASH with H=0 must be all-zero regardless of input")
	}
}

func TestGHASHStreamingMatchesSingleShot(t *testing.T) {
	h := block{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10}
	data := make([]byte, 200)
	for i := range data {
		data[i] = byte(i * 13)
	}

	whole := newGHASH(h)
	whole.Update(data)
	wantSum := whole.Finalize()

	streamed := newGHASH(h)
	for off := 0; off < len(data); off += 7 {
		end := off + 7
		if end > len(data) {
			end = len(data)
		}
		streamed.Update(data[off:end])
	}
	gotSum := streamed.Finalize()

	if wantSum != gotSum {
		t.Fatalf("streamed GHASH disagrees with single-shot GHASH")
	}
}

func TestMulIdentity(t *testing.T) {
	var one block
	one[0] = 0x80 // bit-reflected representation of the field element 1.

	x := block{0xde, 0xad, 0xbe, 0xef, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	got := mul(x, one)
	if got != x {
		t.Fatalf("mul by identity changed value: %x != %x", got, x)
	}
}
