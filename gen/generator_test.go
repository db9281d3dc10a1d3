package gen

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generate(t *testing.T, isa, poly, algo string) string {
	t.Helper()
	i, err := ParseISA(isa)
	require.NoError(t, err)
	p, err := ParsePoly(poly)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, New(Config{ISA: i, Poly: p, Algorithm: algo}).Run(&buf))
	return buf.String()
}

// requireBalanced scans brace nesting; emitted files contain no braces
// inside string or comment text, so a plain scan suffices.
func requireBalanced(t *testing.T, src string) {
	t.Helper()
	depth := 0
	for _, c := range src {
		switch c {
		case '{':
			depth++
		case '}':
			depth--
			require.GreaterOrEqual(t, depth, 0, "unbalanced closing brace")
		}
	}
	require.Zero(t, depth, "unclosed brace")
}

// requireHeadersReferenced checks the output invariant that every intrinsic
// header is referenced by an emitted expression.
func requireHeadersReferenced(t *testing.T, src string) {
	t.Helper()
	refs := map[string][]string{
		"arm_neon.h":  {"vld1q_u64", "veorq_u64", "veor3q_u64", "uint64x2_t"},
		"arm_acle.h":  {"__crc32"},
		"nmmintrin.h": {"_mm_crc32_"},
		"smmintrin.h": {"_mm_extract_"},
		"wmmintrin.h": {"_mm_clmulepi64_si128"},
		"immintrin.h": {"_mm512_", "_mm_ternarylogic_epi64"},
	}
	for h, tokens := range refs {
		if !strings.Contains(src, "#include <"+h+">") {
			continue
		}
		found := false
		for _, tok := range tokens {
			if strings.Contains(src, tok) {
				found = true
				break
			}
		}
		assert.True(t, found, "header %s included but never referenced", h)
	}
}

func requireCommon(t *testing.T, src string) {
	t.Helper()
	requireBalanced(t, src)
	requireHeadersReferenced(t, src)
	assert.True(t, strings.HasPrefix(src, "/* Generated by "), "missing invocation header")
	assert.Contains(t, src, "#include <stddef.h>")
	assert.Contains(t, src, "#include <stdint.h>")
	assert.Contains(t, src, "CRC_EXPORT uint32_t crc32_impl(uint32_t crc0, const char* buf, size_t len) {")
	assert.Contains(t, src, "crc0 = ~crc0;")
	assert.Contains(t, src, "return ~crc0;")
	// Helper definitions appear at most once.
	for _, def := range []string{
		"clmul_lo(", "clmul_hi(", "clmul_scalar(", "xnmodp(", "crc_shift(",
		"crc_u8(", "crc_u32(", "crc_u64(", "g_crc_table[",
	} {
		defs := strings.Count(src, "CRC_AINLINE uint32_t "+def) +
			strings.Count(src, "CRC_AINLINE uint64_t "+def) +
			strings.Count(src, "CRC_AINLINE __m128i "+def) +
			strings.Count(src, "CRC_AINLINE __m512i "+def) +
			strings.Count(src, "CRC_AINLINE uint64x2_t "+def) +
			strings.Count(src, "static uint32_t "+def) +
			strings.Count(src, "static const uint32_t "+def)
		assert.LessOrEqual(t, defs, 1, "%s defined more than once", def)
	}
}

func TestGenerateTableScalar(t *testing.T) {
	src := generate(t, "none", "crc32", "")
	requireCommon(t, src)
	assert.Contains(t, src, "static const uint32_t g_crc_table[4][256]")
	assert.Contains(t, src, "0x77073096") // second entry of the crc32 byte table
	assert.Contains(t, src, "for (; len >= 4; len -= 4, buf += 4) {")
	assert.NotContains(t, src, "mmintrin")
	assert.NotContains(t, src, "arm_neon")
	assert.NotContains(t, src, "clmul")
}

func TestGenerateTableScalarKoopman(t *testing.T) {
	src := generate(t, "none", "crc32k", "s1")
	requireCommon(t, src)
	assert.Contains(t, src, "g_crc_table")
	assert.NotContains(t, src, "_mm_")
}

func TestGenerateSSEHardwareCRC(t *testing.T) {
	src := generate(t, "sse", "crc32c", "v4e")
	requireCommon(t, src)
	assert.Contains(t, src, "#include <nmmintrin.h>")
	assert.Contains(t, src, "#include <wmmintrin.h>")
	assert.Contains(t, src, "_mm_crc32_u8(crc0, *buf++)")
	assert.Contains(t, src, "CRC_AINLINE __m128i clmul_lo(__m128i a, __m128i b) {")
	assert.Contains(t, src, "const char* limit")
	// Pure-vector phase: the incoming crc0 is XORed into x0.
	assert.Contains(t, src, "x0 = _mm_xor_si128(x0, _mm_cvtsi32_si128(crc0));")
	// Hardware CRC: no Barrett helpers, no lookup table.
	assert.NotContains(t, src, "g_crc_table")
	assert.NotContains(t, src, "clmul_scalar")
}

func TestGenerateSSEMixed(t *testing.T) {
	src := generate(t, "sse", "crc32c", "v4s3x3")
	requireCommon(t, src)
	assert.Contains(t, src, "if (len >= 144) {")
	assert.Contains(t, src, "size_t blk = (len - 8) / 136;")
	assert.Contains(t, src, "size_t klen = blk * 24;")
	assert.Contains(t, src, "const char* buf2 = buf + klen * 3;")
	assert.Contains(t, src, "while (len >= 280) {")
	assert.Contains(t, src, "/* First vector chunk. */")
	assert.Contains(t, src, "/* Main loop. */")
	assert.Contains(t, src, "/* Final scalar chunk. */")
	assert.Contains(t, src, "/* Reduce x0 ... x3 to just x0. */")
	assert.Contains(t, src, "crc1 = _mm_crc32_u64(crc1, *(const uint64_t*)(buf + klen));")
	assert.Contains(t, src, "crc2 = _mm_crc32_u64(crc2, *(const uint64_t*)(buf + klen * 2 + 16));")
	// Mixed phase: crc0 stays on scalar chain 0 instead of entering x0.
	assert.Contains(t, src, "crc0 = _mm_crc32_u64(crc0, *(const uint64_t*)(buf));")
	assert.NotContains(t, src, "_mm_cvtsi32_si128(crc0)")
	// Runtime merge distances need the emitted xnmodp.
	assert.Contains(t, src, "static uint32_t xnmodp(uint64_t n)")
	assert.Contains(t, src, "crc_shift(crc0, klen * 2 + blk * 64 + 8)")
	assert.Contains(t, src, "^ vc);")
}

func TestGenerateSSEBarrett(t *testing.T) {
	// crc32 has no hardware instruction on x86: Barrett helpers appear.
	src := generate(t, "sse", "crc32", "v4")
	requireCommon(t, src)
	assert.Contains(t, src, "CRC_AINLINE uint32_t crc_u8(uint32_t crc, uint8_t val) {")
	assert.Contains(t, src, "CRC_AINLINE uint32_t crc_u64(uint32_t crc, uint64_t val) {")
	assert.Contains(t, src, "clmul_scalar")
	assert.Contains(t, src, "#include <smmintrin.h>")
	assert.NotContains(t, src, "_mm_crc32_")
	assert.NotContains(t, src, "g_crc_table")
}

func TestGenerateNeonMultiPhase(t *testing.T) {
	src := generate(t, "neon", "crc32", "v4_v1")
	requireCommon(t, src)
	assert.Contains(t, src, "#include <arm_acle.h>")
	assert.Contains(t, src, "#include <arm_neon.h>")
	assert.Contains(t, src, "__crc32d(crc0, *(const uint64_t*)buf)")
	assert.Contains(t, src, "clmul_lo_e(")
	assert.Contains(t, src, "clmul_hi_e(")
	assert.Contains(t, src, "vcreate_u64(crc0)")
	// Two vector phases, one clmul helper set.
	assert.Equal(t, 1, strings.Count(src, "CRC_AINLINE uint64x2_t clmul_lo(uint64x2_t a, uint64x2_t b) {"))
	assert.Equal(t, 2, strings.Count(src, "/* First vector chunk. */"))
}

func TestGenerateNeonEor3(t *testing.T) {
	src := generate(t, "neon_eor3", "crc32", "v9s3x2e_s3")
	requireCommon(t, src)
	assert.Contains(t, src, "veor3q_u64(")
	assert.NotContains(t, src, "clmul_lo_e")
	assert.Equal(t, 1, strings.Count(src, "CRC_AINLINE uint64x2_t clmul_lo(uint64x2_t a, uint64x2_t b) {"))
	assert.Equal(t, 1, strings.Count(src, "static uint32_t xnmodp(uint64_t n)"))
	assert.Contains(t, src, "/* Reduce x0 ... x8 to just x0. */")
	// Phase 1 is end-pointer terminated: limit = klen - (16 + 8).
	assert.Contains(t, src, "const char* limit = buf + klen - 24;")
}

func TestGenerateAVX512Vpclmulqdq(t *testing.T) {
	src := generate(t, "avx512_vpclmulqdq", "crc32c", "v4s5x3")
	requireCommon(t, src)
	assert.Contains(t, src, "#include <immintrin.h>")
	assert.Contains(t, src, "#include <nmmintrin.h>")
	assert.Contains(t, src, "_mm512_loadu_si512")
	assert.Contains(t, src, "_mm512_clmulepi64_epi128")
	assert.Contains(t, src, "_mm512_ternarylogic_epi64")
	assert.Contains(t, src, "/* Reduce 512 bits to 128 bits. */")
	assert.Contains(t, src, "_mm512_broadcast_i32x4")
	// 4 accumulators x 64 bytes: block 256+120, tail 8.
	assert.Contains(t, src, "size_t blk = (len - 8) / 376;")
}

func TestGenerateAVX512Ternlog(t *testing.T) {
	src := generate(t, "avx512", "crc32c", "v4")
	requireCommon(t, src)
	assert.Contains(t, src, "_mm_ternarylogic_epi64(")
	assert.Contains(t, src, "_mm_loadu_si128")
	assert.NotContains(t, src, "_mm512_")
}

func TestGenerateKernelPhase(t *testing.T) {
	src := generate(t, "sse", "crc32c", "v4s3x3k4096e")
	requireCommon(t, src)
	// 4096 rounds down to 30 blocks of 136 bytes; the tail grows from 8 to
	// 16 to keep the outer block 16-byte aligned: 30*136 + 16 = 4096.
	assert.Contains(t, src, "while (len >= 4096) {")
	assert.Contains(t, src, "const char* buf2 = buf + 2160;") // 3 * 720
	assert.Contains(t, src, "const char* limit = buf + 688;") // 720 - 24 - 8
	assert.Contains(t, src, "len -= 4096;")
	// Fixed distances: merge constants are baked in, no runtime crc_shift.
	assert.NotContains(t, src, "crc_shift")
	assert.NotContains(t, src, "xnmodp")
	assert.Contains(t, src, "clmul_scalar(crc0, 0x")
	// The enlarged tail takes two 8-byte steps.
	assert.Contains(t, src, "*(const uint64_t*)buf2 ^ vc);")
	assert.Contains(t, src, "*(const uint64_t*)(buf2 + 8));")
}

func TestGenerateKernelCounted(t *testing.T) {
	src := generate(t, "sse", "crc32c", "s3k1024")
	requireCommon(t, src)
	assert.Contains(t, src, "size_t kitrs =")
	assert.Contains(t, src, "} while (--kitrs);")
}

func TestGeneratePureScalarUnrolled(t *testing.T) {
	src := generate(t, "neon", "crc32", "s1x4")
	requireCommon(t, src)
	assert.Contains(t, src, "for (; len >= 32; len -= 32) {")
	assert.Contains(t, src, "*(const uint64_t*)(buf + 24)")
}

func TestGenerateEndPtrScalar(t *testing.T) {
	src := generate(t, "sse", "crc32c", "s1e")
	requireCommon(t, src)
	assert.Contains(t, src, "const char* limit = buf + len - 8;")
	assert.Contains(t, src, "while (buf <= limit) {")
	assert.Contains(t, src, "len = (size_t)(limit + 8 - buf);")
}

func TestGenerateIndentation(t *testing.T) {
	src := generate(t, "sse", "crc32c", "v4s3x3")
	for _, line := range strings.Split(src, "\n") {
		trimmed := strings.TrimLeft(line, " ")
		indent := len(line) - len(trimmed)
		assert.Zero(t, indent%2, "odd indent in line %q", line)
	}
	// The main loop sits one level inside the phase block.
	assert.Contains(t, src, "\n    while (len >= 280) {")
}

func TestGenerateDeterministic(t *testing.T) {
	a := generate(t, "neon_eor3", "crc32", "v9s3x2e_s3")
	b := generate(t, "neon_eor3", "crc32", "v9s3x2e_s3")
	assert.Equal(t, a, b)
}

func TestGenerateErrors(t *testing.T) {
	var buf bytes.Buffer
	err := New(Config{ISA: ISANone, Poly: PolyCRC32, Algorithm: "v4"}).Run(&buf)
	assert.Error(t, err)
	err = New(Config{ISA: ISASSE, Poly: PolyCRC32C, Algorithm: "v4s3x3k64"}).Run(&buf)
	assert.Error(t, err, "kernel smaller than block")
}
