package gen

import (
	"math/bits"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allPolys = []Poly{PolyCRC32, PolyCRC32C, PolyCRC32K, PolyCRC32K2, PolyCRC32Q}

// refU8 is the one-byte bitwise reference update.
func refU8(p Poly, crc uint32, val byte) uint32 {
	crc ^= uint32(val)
	for i := 0; i < 8; i++ {
		crc = (crc >> 1) ^ (crc&1)*uint32(p)
	}
	return crc
}

func TestReverse32(t *testing.T) {
	assert.Equal(t, uint32(0x04C11DB7), Reverse32(0xEDB88320))
	for _, v := range []uint32{0, 1, 0xDEADBEEF, 0xEDB88320, 0xFFFFFFFF} {
		assert.Equal(t, v, Reverse32(Reverse32(v)))
	}
}

// TestXnModPAgainstReference walks the one-bit recurrence
// r(n+1) = (r(n) >> 1) ^ (r(n) & 1) * P and demands bit-exact agreement
// with the log-time bit-stack implementation for every small n.
func TestXnModPAgainstReference(t *testing.T) {
	for _, p := range allPolys {
		r := uint32(0x80000000) // the polynomial 1, reflected
		for n := uint64(0); n <= 4096; n++ {
			require.Equal(t, r, p.XnModP(n), "poly %08x, n=%d", uint32(p), n)
			r = (r >> 1) ^ (r&1)*uint32(p)
		}
	}
}

func TestXnModPLarge(t *testing.T) {
	// Cross-check larger exponents against the scalar reference: each
	// crcU64 of a zero word multiplies the running x^n by x^64.
	for _, p := range allPolys {
		r := uint32(0x80000000)
		n := uint64(0)
		for i := 0; i < 200; i++ {
			r = p.crcU64(r, 0) // advance 64 bits
			n += 64
			require.Equal(t, r, p.XnModP(n), "poly %08x, n=%d", uint32(p), n)
		}
	}
}

// TestXnDivP multiplies the quotient back up: q*P xor x^n must equal
// x^n mod P, i.e. the remainder, for the Barrett exponents in use.
func TestXnDivP(t *testing.T) {
	for _, p := range allPolys {
		fwd := uint64(1)<<32 | uint64(Reverse32(uint32(p)))
		for _, n := range []uint{32, 63, 64, 95} {
			q := p.XnDivP(n)
			hi, lo := clmul64(q, fwd)
			// Subtract x^n.
			if n < 64 {
				lo ^= uint64(1) << n
			} else {
				hi ^= uint64(1) << (n - 64)
			}
			require.Zero(t, hi, "poly %08x, n=%d", uint32(p), n)
			require.Less(t, lo, uint64(1)<<32, "poly %08x, n=%d: remainder degree", uint32(p), n)
			require.Equal(t, uint64(Reverse32(p.XnModP(uint64(n)))), lo, "poly %08x, n=%d", uint32(p), n)
		}
	}
}

func TestXnDivPSmall(t *testing.T) {
	for _, p := range allPolys {
		for n := uint(0); n < 32; n++ {
			assert.Zero(t, p.XnDivP(n))
		}
	}
}

// barrettU8/U32/U64 mirror the emitted Barrett helpers exactly; the
// generated C must compute the same function as the bitwise reference.
func barrettU8(p Poly, crc uint32, val byte) uint32 {
	mu := bits.Reverse32(uint32(p.XnDivP(63)))
	t := crc ^ uint32(val)
	q := clmul32(t, mu) & 0xff
	u := (clmul32(uint32(q), uint32(p)) << 1) ^ q
	return (t >> 8) ^ uint32(u>>8)
}

func barrettU32(p Poly, crc, val uint32) uint32 {
	mu := bits.Reverse32(uint32(p.XnDivP(63)))
	t := crc ^ val
	q := clmul32(t, mu) & 0xffffffff
	u := (clmul32(uint32(q), uint32(p)) << 1) ^ q
	return uint32(u >> 32)
}

func barrettU64(p Poly, crc uint32, val uint64) uint32 {
	mu := bits.Reverse64(p.XnDivP(95))
	pp := uint64(p)<<1 | 1
	t := uint64(crc) ^ val
	_, q := clmul64(t, mu)
	hi, _ := clmul64(q, pp)
	return uint32(hi)
}

func TestBarrettHelpers(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, p := range allPolys {
		for i := 0; i < 200; i++ {
			crc := rng.Uint32()
			v64 := rng.Uint64()
			assert.Equal(t, refU8(p, crc, byte(v64)), barrettU8(p, crc, byte(v64)), "u8 poly %08x", uint32(p))
			assert.Equal(t, p.crcU32(crc, uint32(v64)), barrettU32(p, crc, uint32(v64)), "u32 poly %08x", uint32(p))
			assert.Equal(t, p.crcU64(crc, v64), barrettU64(p, crc, v64), "u64 poly %08x", uint32(p))
		}
	}
}

// TestKnownVectors pins the bitwise reference to published CRC values.
func TestKnownVectors(t *testing.T) {
	check := func(p Poly, data []byte, want uint32) {
		crc := ^uint32(0)
		for _, c := range data {
			crc = refU8(p, crc, c)
		}
		assert.Equal(t, want, ^crc, "poly %08x", uint32(p))
	}
	check(PolyCRC32, []byte("123456789"), 0xCBF43926)
	check(PolyCRC32C, []byte("123456789"), 0xE3069283)
	check(PolyCRC32, make([]byte, 4096), 0xC71C0011)
}

func TestParsePoly(t *testing.T) {
	tests := []struct {
		in   string
		want Poly
		ok   bool
	}{
		{"crc32", PolyCRC32, true},
		{"CRC32C", PolyCRC32C, true},
		{"crc32k", PolyCRC32K, true},
		{"crc32k2", PolyCRC32K2, true},
		{"crc32q", PolyCRC32Q, true},
		{"04C11DB7", PolyCRC32, true},
		{"0x04C11DB7", PolyCRC32, true},
		{"104C11DB7", PolyCRC32, true},
		{"0x104C11DB7", PolyCRC32, true},
		{"1EDC6F41", PolyCRC32C, true},
		{"204C11DB7", 0, false}, // 9 digits without leading 1
		{"4C11DB7", 0, false},   // 7 digits
		{"04C11DG7", 0, false},  // bad digit
		{"", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePoly(tt.in)
			if !tt.ok {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClmul(t *testing.T) {
	assert.Equal(t, uint64(0), clmul32(0, 0xFFFFFFFF))
	assert.Equal(t, uint64(0xFFFFFFFF), clmul32(1, 0xFFFFFFFF))
	// (x+1)(x+1) = x^2+1 over GF(2)
	assert.Equal(t, uint64(5), clmul32(3, 3))
	hi, lo := clmul64(1<<63, 2)
	assert.Equal(t, uint64(1), hi)
	assert.Equal(t, uint64(0), lo)
}
