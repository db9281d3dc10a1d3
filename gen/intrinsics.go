package gen

import (
	"fmt"

	"github.com/corsix/fast-crc32/gen/sbuf"
)

// need marks an intrinsic header as demanded by an emitted expression.
func (g *Generator) need(h string) {
	g.headers[h] = true
}

// needExtract demands the header carrying _mm_extract/_mm_cvtsi for the
// SSE family. SSE4.2's nmmintrin pulls in smmintrin, so the extra include
// only appears when no hardware CRC intrinsic is in play.
func (g *Generator) needExtract() {
	if g.cfg.ISA == ISASSE && !g.hwCRC {
		g.need("smmintrin.h")
	}
}

// fmtVecLoad returns the unaligned vector load of one accumulator width.
func (g *Generator) fmtVecLoad(ptr string) string {
	p := g.prof
	switch {
	case p.neon:
		return fmt.Sprintf("vld1q_u64((const uint64_t*)%s)", ptr)
	case p.wide:
		return fmt.Sprintf("_mm512_loadu_si512((const void*)%s)", ptr)
	default:
		return fmt.Sprintf("_mm_loadu_si128((const __m128i*)%s)", ptr)
	}
}

// fmtXor3 returns the three-way XOR of vector operands, fused where the ISA
// has a single instruction for it.
func (g *Generator) fmtXor3(a, b, c string) string {
	p := g.prof
	switch {
	case p.neon && p.eor3:
		return fmt.Sprintf("veor3q_u64(%s, %s, %s)", a, b, c)
	case p.neon:
		return fmt.Sprintf("veorq_u64(veorq_u64(%s, %s), %s)", a, b, c)
	case p.wide:
		return fmt.Sprintf("_mm512_ternarylogic_epi64(%s, %s, %s, 0x96)", a, b, c)
	case p.ternlog:
		return fmt.Sprintf("_mm_ternarylogic_epi64(%s, %s, %s, 0x96)", a, b, c)
	default:
		return fmt.Sprintf("_mm_xor_si128(_mm_xor_si128(%s, %s), %s)", a, b, c)
	}
}

// fmtExtractU64 returns lane i of a vector accumulator as a uint64 rvalue.
func (g *Generator) fmtExtractU64(v string, lane int) string {
	if g.prof.neon {
		return fmt.Sprintf("vgetq_lane_u64(%s, %d)", v, lane)
	}
	g.needExtract()
	return fmt.Sprintf("(uint64_t)_mm_extract_epi64(%s, %d)", v, lane)
}

// putFoldConst assigns the fold multiplier pair for an n-byte span to the
// vector variable kvar: lane 0 carries x^(8n+31) mod P, lane 1 x^(8n-33)
// mod P (the -1 absorbing the shift lost to reflected carry-less multiply).
func (g *Generator) putFoldConst(b *sbuf.Buffer, kvar string, nBytes int) {
	lo := g.cfg.Poly.XnModP(uint64(nBytes)*8 + 31)
	hi := g.cfg.Poly.XnModP(uint64(nBytes)*8 - 33)
	p := g.prof
	b.PutStr("{\n")
	b.Putf("static const uint64_t CRC_ALIGN(16) k_[] = {0x%08x, 0x%08x};\n", lo, hi)
	switch {
	case p.neon:
		b.Putf("%s = vld1q_u64(k_);\n", kvar)
	case p.wide:
		b.Putf("%s = _mm512_broadcast_i32x4(_mm_load_si128((const __m128i*)k_));\n", kvar)
	default:
		b.Putf("%s = _mm_load_si128((const __m128i*)k_);\n", kvar)
	}
	b.PutStr("}\n")
}

// ensureClmulLoHi emits the carry-less multiply wrappers for the selected
// ISA, once.
func (g *Generator) ensureClmulLoHi() {
	if g.didClmulLoHi {
		return
	}
	g.didClmulLoHi = true
	p := g.prof
	switch {
	case p.neon:
		g.need("arm_neon.h")
		g.helpers.PutStr(neonClmulHelpers)
		if !p.eor3 {
			g.helpers.PutStr(neonClmulFusedHelpers)
		}
	case p.wide:
		g.need("immintrin.h")
		g.helpers.PutStr(avx512wClmulHelpers)
	default:
		g.need("wmmintrin.h")
		if p.ternlog {
			g.need("immintrin.h")
		}
		g.helpers.PutStr(sseClmulHelpers)
	}
}

// ensureClmulScalar emits the 32x32 scalar carry-less multiply helper, once.
func (g *Generator) ensureClmulScalar() {
	if g.didClmulScalar {
		return
	}
	g.didClmulScalar = true
	if g.prof.neon {
		g.ensureClmulLoHi()
		g.helpers.PutStr(neonClmulScalarHelper)
	} else {
		g.need("wmmintrin.h")
		if g.prof.ternlog || g.prof.wide {
			g.need("immintrin.h")
		}
		g.needExtract()
		g.helpers.PutStr(sseClmulScalarHelper)
	}
}

// Fixed helper bodies. These are flush-left: the indent writer lays them out.

const neonClmulHelpers = `CRC_AINLINE uint64x2_t clmul_lo(uint64x2_t a, uint64x2_t b) {
uint64x2_t r;
__asm__("pmull %0.1q, %1.1d, %2.1d\n" : "=w"(r) : "w"(a), "w"(b));
return r;
}

CRC_AINLINE uint64x2_t clmul_hi(uint64x2_t a, uint64x2_t b) {
uint64x2_t r;
__asm__("pmull2 %0.1q, %1.2d, %2.2d\n" : "=w"(r) : "w"(a), "w"(b));
return r;
}

`

const neonClmulFusedHelpers = `CRC_AINLINE uint64x2_t clmul_lo_e(uint64x2_t a, uint64x2_t b, uint64x2_t c) {
uint64x2_t r;
__asm__("pmull %0.1q, %2.1d, %3.1d\neor %0.16b, %0.16b, %1.16b\n" : "=w"(r), "+w"(c) : "w"(a), "w"(b));
return r;
}

CRC_AINLINE uint64x2_t clmul_hi_e(uint64x2_t a, uint64x2_t b, uint64x2_t c) {
uint64x2_t r;
__asm__("pmull2 %0.1q, %2.2d, %3.2d\neor %0.16b, %0.16b, %1.16b\n" : "=w"(r), "+w"(c) : "w"(a), "w"(b));
return r;
}

`

const neonClmulScalarHelper = `CRC_AINLINE uint64_t clmul_scalar(uint32_t a, uint32_t b) {
return vgetq_lane_u64(clmul_lo(vdupq_n_u64(a), vdupq_n_u64(b)), 0);
}

`

const sseClmulHelpers = `CRC_AINLINE __m128i clmul_lo(__m128i a, __m128i b) {
return _mm_clmulepi64_si128(a, b, 0);
}

CRC_AINLINE __m128i clmul_hi(__m128i a, __m128i b) {
return _mm_clmulepi64_si128(a, b, 17);
}

`

const avx512wClmulHelpers = `CRC_AINLINE __m512i clmul_lo(__m512i a, __m512i b) {
return _mm512_clmulepi64_epi128(a, b, 0);
}

CRC_AINLINE __m512i clmul_hi(__m512i a, __m512i b) {
return _mm512_clmulepi64_epi128(a, b, 17);
}

`

const sseClmulScalarHelper = `CRC_AINLINE uint64_t clmul_scalar(uint32_t a, uint32_t b) {
return (uint64_t)_mm_cvtsi128_si64(_mm_clmulepi64_si128(_mm_cvtsi32_si128(a), _mm_cvtsi32_si128(b), 0));
}

`
