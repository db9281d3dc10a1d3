package gen

import (
	"math/bits"

	"github.com/corsix/fast-crc32/gen/sbuf"
)

// bindScalarCRC resolves the crc_u8/crc_u32/crc_u64 spellings for the
// selected (isa, poly) pair. Hardware instructions win when the polynomial
// matches one the CPU implements; an ISA with vector carry-less multiply
// falls back to Barrett reduction helpers; ISA none is table driven.
func (g *Generator) bindScalarCRC() {
	if u8, u32, u64, ok := hwCRCSpellings(g.cfg.ISA, g.cfg.Poly); ok {
		g.hwCRC = true
		g.crcU8Name, g.crcU32Name, g.crcU64Name = u8, u32, u64
		return
	}
	g.crcU8Name, g.crcU32Name, g.crcU64Name = "crc_u8", "crc_u32", "crc_u64"
}

// useCrcU8 returns the crc_u8 spelling, emitting its definition on first use.
func (g *Generator) useCrcU8() string {
	if g.hwCRC {
		g.needHWCRCHeader()
		return g.crcU8Name
	}
	if !g.didCrcU8 {
		g.didCrcU8 = true
		if g.prof.vecBytes == 0 {
			g.reserveTable(1)
			g.helpers.PutStr(tableCrcU8Helper)
		} else {
			g.ensureClmulScalar()
			g.helpers.Putf(barrettCrcU8Helper, g.mu63(), uint32(g.cfg.Poly))
		}
	}
	return g.crcU8Name
}

// useCrcU32 likewise; the table path widens the lookup table to four planes.
func (g *Generator) useCrcU32() string {
	if g.hwCRC {
		g.needHWCRCHeader()
		return g.crcU32Name
	}
	if !g.didCrcU32 {
		g.didCrcU32 = true
		if g.prof.vecBytes == 0 {
			g.reserveTable(4)
			g.helpers.PutStr(tableCrcU32Helper)
		} else {
			g.ensureClmulScalar()
			g.helpers.Putf(barrettCrcU32Helper, g.mu63(), uint32(g.cfg.Poly))
		}
	}
	return g.crcU32Name
}

// useCrcU64 is only meaningful on ISAs with an 8-byte scalar natural width.
func (g *Generator) useCrcU64() string {
	if g.hwCRC {
		g.needHWCRCHeader()
		return g.crcU64Name
	}
	if !g.didCrcU64 {
		g.didCrcU64 = true
		mu95 := bits.Reverse64(g.cfg.Poly.XnDivP(95))
		pp := uint64(g.cfg.Poly)<<1 | 1
		if g.prof.neon {
			g.ensureClmulLoHi()
			g.helpers.Putf(neonBarrettCrcU64Helper, mu95, pp)
		} else {
			g.need("wmmintrin.h")
			if g.prof.ternlog || g.prof.wide {
				g.need("immintrin.h")
			}
			g.needExtract()
			g.helpers.Putf(sseBarrettCrcU64Helper, mu95, pp)
		}
	}
	return g.crcU64Name
}

func (g *Generator) needHWCRCHeader() {
	if g.prof.neon {
		g.need("arm_acle.h")
	} else {
		g.need("nmmintrin.h")
	}
}

// mu63 is x^63 div P reflected into 32 bits, the Barrett constant for the
// 8- and 32-bit helpers.
func (g *Generator) mu63() uint32 {
	return bits.Reverse32(uint32(g.cfg.Poly.XnDivP(63)))
}

// reserveTable fixes the lookup table's position above its consumers on
// first demand and widens it to the requested plane count. The contents are
// rendered at flush time, when the final width is known.
func (g *Generator) reserveTable(planes int) {
	if g.tablePlanes == 0 {
		g.helpers.Defer(g.emitTable)
	}
	if planes > g.tablePlanes {
		g.tablePlanes = planes
	}
}

func (g *Generator) emitTable(b *sbuf.Buffer) {
	poly := g.cfg.Poly
	table := make([][256]uint32, g.tablePlanes)
	for v := 0; v < 256; v++ {
		crc := uint32(v)
		for i := 0; i < 8; i++ {
			crc = (crc >> 1) ^ (crc&1)*uint32(poly)
		}
		table[0][v] = crc
	}
	for k := 1; k < g.tablePlanes; k++ {
		for v := 0; v < 256; v++ {
			t := table[k-1][v]
			table[k][v] = (t >> 8) ^ table[0][t&0xff]
		}
	}
	b.Putf("static const uint32_t g_crc_table[%d][256] = {\n", g.tablePlanes)
	for k := 0; k < g.tablePlanes; k++ {
		b.PutStr("{\n")
		for v := 0; v < 256; v += 8 {
			for i := 0; i < 8; i++ {
				b.Putf("0x%08x", table[k][v+i])
				if v+i != 255 {
					b.PutStr(",")
				}
				if i != 7 {
					b.PutStr(" ")
				}
			}
			b.PutStr("\n")
		}
		if k != g.tablePlanes-1 {
			b.PutStr("},\n")
		} else {
			b.PutStr("}\n")
		}
	}
	b.PutStr("};\n\n")
}

// useCrcShift emits the runtime xnmodp helper and the crc_shift wrapper,
// needed when accumulator merge distances are only known at run time.
func (g *Generator) useCrcShift() string {
	if !g.didCrcShift {
		g.didCrcShift = true
		g.ensureClmulScalar()
		u32 := g.useCrcU32()
		u64 := g.useCrcU64()
		g.helpers.Putf(xnmodpHelper, u32, u64)
		g.helpers.PutStr(crcShiftHelper)
	}
	return "crc_shift"
}

// Scalar helper bodies, flush-left for the indent writer.

const tableCrcU8Helper = `CRC_AINLINE uint32_t crc_u8(uint32_t crc, uint8_t val) {
return (crc >> 8) ^ g_crc_table[0][(crc ^ val) & 0xff];
}

`

const tableCrcU32Helper = `CRC_AINLINE uint32_t crc_u32(uint32_t crc, uint32_t val) {
crc ^= val;
return g_crc_table[3][crc & 0xff] ^ g_crc_table[2][(crc >> 8) & 0xff] ^ g_crc_table[1][(crc >> 16) & 0xff] ^ g_crc_table[0][crc >> 24];
}

`

// Barrett reduction over the reflected field: the quotient estimate is the
// low bits of t times x^63 div P, and the remainder falls out of the high
// bits of quotient times P.
const barrettCrcU8Helper = `CRC_AINLINE uint32_t crc_u8(uint32_t crc, uint8_t val) {
uint32_t t = crc ^ val;
uint64_t q = clmul_scalar(t, 0x%08x) & 0xff;
uint64_t u = (clmul_scalar((uint32_t)q, 0x%08x) << 1) ^ q;
return (t >> 8) ^ (uint32_t)(u >> 8);
}

`

const barrettCrcU32Helper = `CRC_AINLINE uint32_t crc_u32(uint32_t crc, uint32_t val) {
uint32_t t = crc ^ val;
uint64_t q = clmul_scalar(t, 0x%08x) & 0xffffffff;
uint64_t u = (clmul_scalar((uint32_t)q, 0x%08x) << 1) ^ q;
return (uint32_t)(u >> 32);
}

`

const sseBarrettCrcU64Helper = `CRC_AINLINE uint32_t crc_u64(uint32_t crc, uint64_t val) {
__m128i k;
{
static const uint64_t CRC_ALIGN(16) k_[] = {0x%016x, 0x%016x};
k = _mm_load_si128((const __m128i*)k_);
}
__m128i a = _mm_cvtsi64_si128((int64_t)(crc ^ val));
__m128i b = _mm_clmulepi64_si128(a, k, 0);
__m128i c = _mm_clmulepi64_si128(b, k, 16);
return (uint32_t)_mm_extract_epi32(c, 2);
}

`

const neonBarrettCrcU64Helper = `CRC_AINLINE uint32_t crc_u64(uint32_t crc, uint64_t val) {
uint64x2_t k;
{
static const uint64_t CRC_ALIGN(16) k_[] = {0x%016x, 0x%016x};
k = vld1q_u64(k_);
}
uint64x2_t a = vdupq_n_u64(crc ^ val);
uint64x2_t b = clmul_lo(a, k);
uint64x2_t c = clmul_hi(vdupq_n_u64(vgetq_lane_u64(b, 0)), k);
return vgetq_lane_u32(vreinterpretq_u32_u64(c), 2);
}

`

const xnmodpHelper = `static uint32_t xnmodp(uint64_t n) /* x^n mod P, in log(n) time */ {
uint64_t stack = ~(uint64_t)1;
uint32_t acc, low;
for (; n > 191; n = (n >> 1) - 16) {
stack = (stack << 1) + (n & 1);
}
stack = ~stack;
acc = ((uint32_t)0x80000000) >> (n & 31);
for (n >>= 5; n; n--) {
acc = %s(acc, 0);
}
while ((low = stack & 1), stack >>= 1) {
uint64_t y = clmul_scalar(acc, acc);
acc = %s(0, y << low);
}
return acc;
}

`

const crcShiftHelper = `CRC_AINLINE uint64_t crc_shift(uint32_t crc, size_t nbytes) {
return clmul_scalar(crc, xnmodp(nbytes * 8 - 33));
}

`
