package gen

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/corsix/fast-crc32/gen/sbuf"
)

// Loop termination styles. An explicit e term selects end-pointer
// comparison; a kernel phase without e counts iterations down; everything
// else watches len.
const (
	modeLen = iota
	modeEnd
	modeKernel
)

// phaseEmit carries the derived geometry of one phase through emission.
//
// A phase covers blk iterations of block bytes plus a scalar tail. The
// scalar chains sit first in memory (chain j at buf + j*klen), the vector
// region follows at buf2, the tail comes last. Vector accumulators pre-load
// one iteration before the loop, so the inner loop folds blk-1 times while
// the scalar chains take their final iteration between the loop and the
// accumulator reduction.
type phaseEmit struct {
	g *Generator
	p *Phase

	W, sB int // vector / scalar natural widths
	m     int // vector fold rounds per iteration (VecLoad / VecAcc)
	cs    int // scalar bytes per chain per iteration
	block int
	tail  int

	mode   int
	kernel bool
	blk    int // fixed iteration count (kernel only)
	klen   int // fixed chain length (kernel only)
	kb     int // bytes consumed per kernel block (kernel only)

	curK int // fold span currently loaded in the k variable
}

func (g *Generator) planPhase(p *Phase) (*phaseEmit, error) {
	e := &phaseEmit{g: g, p: p, W: g.prof.vecBytes, sB: g.prof.scalarBytes}
	if p.VecAcc > 0 {
		e.m = p.VecLoad / p.VecAcc
	}
	if p.ScalarAcc > 0 {
		e.cs = p.ScalarLoad / p.ScalarAcc * e.sB
	}
	e.block = p.VecLoad*e.W + p.ScalarLoad*e.sB
	if (p.VecAcc > 0 && p.ScalarAcc > 0) || p.ScalarAcc >= 2 {
		e.tail = e.sB
	}
	switch {
	case p.UseEndPtr:
		e.mode = modeEnd
	case p.KernelSize > 0:
		e.mode = modeKernel
	default:
		e.mode = modeLen
	}
	if p.KernelSize > 0 {
		e.kernel = true
		kalign := e.sB
		if p.VecAcc > 0 {
			kalign = e.W
		}
		e.blk = p.KernelSize / kalign * kalign / e.block
		if e.blk < 1 {
			return nil, errors.Errorf("kernel size %d smaller than the %d-byte block", p.KernelSize, e.block)
		}
		e.klen = e.blk * e.cs
		e.kb = e.blk*e.block + e.tail
		if p.VecAcc > 0 {
			if rem := e.kb % e.W; rem != 0 {
				e.tail += e.W - rem
				e.kb += e.W - rem
			}
		}
	}
	return e, nil
}

// emitMain writes the exported crc32_impl: byte alignment, the configured
// phases in order, then natural-width and byte loops over the remainder.
func (g *Generator) emitMain() error {
	b := g.out
	b.PutStr("CRC_EXPORT uint32_t crc32_impl(uint32_t crc0, const char* buf, size_t len) {\n")
	b.PutStr("crc0 = ~crc0;\n")
	b.Putf("for (; len && ((uintptr_t)buf & %d); --len) {\n", g.prof.scalarBytes-1)
	b.Putf("crc0 = %s(crc0, *buf++);\n", g.useCrcU8())
	b.PutStr("}\n")
	for _, p := range g.phases {
		e, err := g.planPhase(p)
		if err != nil {
			return err
		}
		e.emit(b)
	}
	if g.prof.scalarBytes == 8 {
		b.Putf("for (; len >= 8; len -= 8, buf += 8) {\n")
		b.Putf("crc0 = %s(crc0, *(const uint64_t*)buf);\n", g.useCrcU64())
		b.PutStr("}\n")
	} else {
		b.Putf("for (; len >= 4; len -= 4, buf += 4) {\n")
		b.Putf("crc0 = %s(crc0, *(const uint32_t*)buf);\n", g.useCrcU32())
		b.PutStr("}\n")
	}
	b.PutStr("for (; len; --len) {\n")
	b.Putf("crc0 = %s(crc0, *buf++);\n", g.useCrcU8())
	b.PutStr("}\n")
	b.PutStr("return ~crc0;\n")
	b.PutStr("}\n")
	return nil
}

func (e *phaseEmit) emit(b *sbuf.Buffer) {
	switch {
	case e.p.VecAcc > 0:
		e.putVecAlign(b)
		e.emitVector(b)
	case e.p.ScalarAcc >= 2:
		e.emitScalarParallel(b)
	default:
		e.emitScalarSimple(b)
	}
}

// putVecAlign advances buf to the vector width with scalar CRC steps; the
// byte loop at function entry has already established scalar alignment.
func (e *phaseEmit) putVecAlign(b *sbuf.Buffer) {
	u64 := e.g.useCrcU64()
	if e.W == 16 {
		b.PutStr("if (((uintptr_t)buf & 8) && len >= 8) {\n")
		b.Putf("crc0 = %s(crc0, *(const uint64_t*)buf);\n", u64)
		b.PutStr("buf += 8;\n")
		b.PutStr("len -= 8;\n")
		b.PutStr("}\n")
		return
	}
	b.Putf("for (; ((uintptr_t)buf & %d) && len >= 8; len -= 8, buf += 8) {\n", e.W-8)
	b.Putf("crc0 = %s(crc0, *(const uint64_t*)buf);\n", u64)
	b.PutStr("}\n")
}

// scalarPtr is the chain-j load address at byte offset off.
func (e *phaseEmit) scalarPtr(j, off int) string {
	if e.kernel {
		if t := j*e.klen + off; t != 0 {
			return fmt.Sprintf("buf + %d", t)
		}
		return "buf"
	}
	parts := []string{"buf"}
	switch j {
	case 0:
	case 1:
		parts = append(parts, "klen")
	default:
		parts = append(parts, fmt.Sprintf("klen * %d", j))
	}
	if off != 0 {
		parts = append(parts, fmt.Sprintf("%d", off))
	}
	return strings.Join(parts, " + ")
}

// putScalarRound emits one iteration of every scalar chain, load index
// outermost so the chains stay interleaved.
func (e *phaseEmit) putScalarRound(b *sbuf.Buffer) {
	g := e.g
	u64 := g.useCrcU64()
	for off := 0; off < e.cs; off += e.sB {
		for j := 0; j < e.p.ScalarAcc; j++ {
			b.Putf("crc%d = %s(crc%d, *(const uint64_t*)(%s));\n", j, u64, j, e.scalarPtr(j, off))
		}
	}
}

// vecPtr is the vector load address wordIdx vector-widths past base,
// parenthesised for use under a cast.
func (e *phaseEmit) vecPtr(base string, wordIdx int) string {
	if wordIdx == 0 {
		return base
	}
	return fmt.Sprintf("(%s + %d)", base, wordIdx*e.W)
}

// putFMARound folds every accumulator once: low-half multiplies first, then
// high halves, then the three-way XORs, kept in that order through sibling
// buffers. Plain NEON instead pairs two fused multiply-XOR asm helpers.
func (e *phaseEmit) putFMARound(b *sbuf.Buffer, addend func(i int) string) {
	g := e.g
	g.ensureClmulLoHi()
	muls := b.NewChild()
	his := b.NewChild()
	xors := b.NewChild()
	fused := g.prof.neon && !g.prof.eor3
	for i := 0; i < e.p.VecAcc; i++ {
		x, y := fmt.Sprintf("x%d", i), fmt.Sprintf("y%d", i)
		if fused {
			muls.Putf("%s = clmul_lo_e(%s, k, %s);\n", y, x, addend(i))
			xors.Putf("%s = clmul_hi_e(%s, k, %s);\n", x, x, y)
		} else {
			muls.Putf("%s = clmul_lo(%s, k);\n", y, x)
			his.Putf("%s = clmul_hi(%s, k);\n", x, x)
			xors.Putf("%s = %s;\n", x, g.fmtXor3(x, y, addend(i)))
		}
	}
}

// putReduceTree collapses the accumulators to x0 by pairwise spans: odd
// counts merge the first pair first, even counts merge adjacent pairs. The
// multiplier for each merge is the span of the right-hand accumulator.
func (e *phaseEmit) putReduceTree(b *sbuf.Buffer) {
	type accNode struct {
		name string
		span int
	}
	g := e.g
	fused := g.prof.neon && !g.prof.eor3
	merge := func(a *accNode, r accNode) {
		if e.curK != r.span {
			g.putFoldConst(b, "k", r.span)
			e.curK = r.span
		}
		y := "y" + a.name[1:]
		if fused {
			b.Putf("%s = clmul_lo_e(%s, k, %s);\n", y, a.name, r.name)
			b.Putf("%s = clmul_hi_e(%s, k, %s);\n", a.name, a.name, y)
		} else {
			b.Putf("%s = clmul_lo(%s, k), %s = clmul_hi(%s, k);\n", y, a.name, a.name, a.name)
			b.Putf("%s = %s;\n", a.name, g.fmtXor3(a.name, y, r.name))
		}
		a.span += r.span
	}
	accs := make([]accNode, e.p.VecAcc)
	for i := range accs {
		accs[i] = accNode{name: fmt.Sprintf("x%d", i), span: e.W}
	}
	if len(accs) > 1 {
		b.Putf("/* Reduce x0 ... x%d to just x0. */\n", len(accs)-1)
	}
	for len(accs) > 1 {
		if len(accs)%2 == 1 {
			merge(&accs[0], accs[1])
			accs = append(accs[:1], accs[2:]...)
			continue
		}
		next := accs[:0:0]
		for i := 0; i < len(accs); i += 2 {
			merge(&accs[i], accs[i+1])
			next = append(next, accs[i])
		}
		accs = next
	}
}

// put512Reduce folds a 512-bit accumulator to 128 bits: the three leading
// lanes are multiplied down by their distance to the end of the word and
// everything is XORed into the last lane. Returns the 128-bit variable.
func (e *phaseEmit) put512Reduce(b *sbuf.Buffer, src string) string {
	g := e.g
	b.PutStr("/* Reduce 512 bits to 128 bits. */\n")
	b.PutStr("__m512i k2;\n")
	b.PutStr("{\n")
	b.Putf("static const uint64_t CRC_ALIGN(64) k_[] = {0x%08x, 0x%08x, 0x%08x, 0x%08x, 0x%08x, 0x%08x, 0, 0};\n",
		g.cfg.Poly.XnModP(415), g.cfg.Poly.XnModP(351),
		g.cfg.Poly.XnModP(287), g.cfg.Poly.XnModP(223),
		g.cfg.Poly.XnModP(159), g.cfg.Poly.XnModP(95))
	b.PutStr("k2 = _mm512_load_si512((const void*)k_);\n")
	b.PutStr("}\n")
	b.Putf("__m512i w0 = _mm512_clmulepi64_epi128(%s, k2, 0);\n", src)
	b.Putf("__m512i w1 = _mm512_clmulepi64_epi128(%s, k2, 17);\n", src)
	b.Putf("__m128i xr = _mm_ternarylogic_epi64("+
		"_mm_ternarylogic_epi64(_mm512_extracti32x4_epi32(w0, 0), _mm512_extracti32x4_epi32(w0, 1), _mm512_extracti32x4_epi32(w0, 2), 0x96), "+
		"_mm_ternarylogic_epi64(_mm512_extracti32x4_epi32(w1, 0), _mm512_extracti32x4_epi32(w1, 1), _mm512_extracti32x4_epi32(w1, 2), 0x96), "+
		"_mm512_extracti32x4_epi32(%s, 3), 0x96);\n", src)
	return "xr"
}

// fmtFinal128 is the 128->32 fold: two scalar CRC applications over the two
// lanes (hardware when available, Barrett otherwise).
func (e *phaseEmit) fmtFinal128(src string) string {
	g := e.g
	u64 := g.useCrcU64()
	if g.prof.wide {
		g.need("immintrin.h")
		return fmt.Sprintf("%s(%s(0, (uint64_t)_mm_extract_epi64(%s, 0)), (uint64_t)_mm_extract_epi64(%s, 1))", u64, u64, src, src)
	}
	return fmt.Sprintf("%s(%s(0, %s), %s)", u64, u64, g.fmtExtractU64(src, 0), g.fmtExtractU64(src, 1))
}

// xorReduceExpr joins merge terms with the fan-out the ISA's XOR tree wants.
func xorReduceExpr(terms []string, fanout int) string {
	for len(terms) > 1 {
		next := terms[:0:0]
		for i := 0; i < len(terms); i += fanout {
			j := min(i+fanout, len(terms))
			if j-i == 1 {
				next = append(next, terms[i])
			} else {
				next = append(next, "("+strings.Join(terms[i:j], " ^ ")+")")
			}
		}
		terms = next
	}
	return terms[0]
}

func (e *phaseEmit) xorFanout() int {
	if e.g.prof.eor3 || e.g.prof.ternlog {
		return 3
	}
	return 2
}

// putScalarMerge emits the shifted chain products vc0.. and their XOR
// reduction into vc. Chains 0..last cover dist(j) bytes to the end of the
// phase region; kernel phases bake the distances into constants, the rest
// go through crc_shift at run time.
func (e *phaseEmit) putScalarMerge(b *sbuf.Buffer, last int, dist func(j int) (string, int)) {
	g := e.g
	var terms []string
	for j := 0; j <= last; j++ {
		expr, c := dist(j)
		if e.kernel {
			g.ensureClmulScalar()
			b.Putf("uint64_t vc%d = clmul_scalar(crc%d, 0x%08x);\n", j, j, g.cfg.Poly.XnModP(uint64(c)*8-33))
		} else {
			b.Putf("uint64_t vc%d = %s(crc%d, %s);\n", j, g.useCrcShift(), j, expr)
		}
		terms = append(terms, fmt.Sprintf("vc%d", j))
	}
	b.Putf("uint64_t vc = %s;\n", xorReduceExpr(terms, e.xorFanout()))
}

// emitScalarSimple is the single-chain scalar phase: an unrolled run of
// natural-width CRC steps per iteration, no merge.
func (e *phaseEmit) emitScalarSimple(b *sbuf.Buffer) {
	g := e.g
	var loadFn, cast string
	if e.sB == 4 {
		loadFn, cast = g.useCrcU32(), "const uint32_t*"
	} else {
		loadFn, cast = g.useCrcU64(), "const uint64_t*"
	}
	putLoads := func() {
		for l := 0; l < e.p.ScalarLoad; l++ {
			if off := l * e.sB; off != 0 {
				b.Putf("crc0 = %s(crc0, *(%s)(buf + %d));\n", loadFn, cast, off)
			} else {
				b.Putf("crc0 = %s(crc0, *(%s)buf);\n", loadFn, cast)
			}
		}
		b.Putf("buf += %d;\n", e.block)
	}
	switch e.mode {
	case modeLen:
		b.Putf("for (; len >= %d; len -= %d) {\n", e.block, e.block)
		putLoads()
		b.PutStr("}\n")
	case modeEnd:
		if e.kernel {
			b.Putf("while (len >= %d) {\n", e.kb)
			b.Putf("const char* limit = buf + %d;\n", (e.blk-1)*e.block)
			b.PutStr("while (buf <= limit) {\n")
			putLoads()
			b.PutStr("}\n")
			b.Putf("len -= %d;\n", e.kb)
			b.PutStr("}\n")
			return
		}
		b.Putf("if (len >= %d) {\n", e.block)
		b.Putf("const char* limit = buf + len - %d;\n", e.block)
		b.PutStr("while (buf <= limit) {\n")
		putLoads()
		b.PutStr("}\n")
		b.Putf("len = (size_t)(limit + %d - buf);\n", e.block)
		b.PutStr("}\n")
	case modeKernel:
		b.Putf("while (len >= %d) {\n", e.kb)
		b.Putf("size_t kitrs = %d;\n", e.blk)
		b.PutStr("do {\n")
		putLoads()
		b.PutStr("} while (--kitrs);\n")
		b.Putf("len -= %d;\n", e.kb)
		b.PutStr("}\n")
	}
}

// emitScalarParallel is the multi-chain scalar phase: S independent chains
// over klen bytes each, merged through carry-less multiplies, the last chain
// absorbing the tail.
func (e *phaseEmit) emitScalarParallel(b *sbuf.Buffer) {
	g := e.g
	S := e.p.ScalarAcc
	if e.kernel {
		b.Putf("while (len >= %d) {\n", e.kb)
	} else {
		b.Putf("if (len >= %d) {\n", e.block+e.tail)
		b.Putf("size_t blk = (len - %d) / %d;\n", e.tail, e.block)
		b.Putf("size_t klen = blk * %d;\n", e.cs)
	}
	for j := 1; j < S; j++ {
		b.Putf("uint32_t crc%d = 0;\n", j)
	}
	switch e.mode {
	case modeEnd:
		if e.kernel {
			b.Putf("const char* limit = buf + %d;\n", e.klen-e.cs)
		} else {
			b.Putf("const char* limit = buf + klen - %d;\n", e.cs)
		}
		b.PutStr("while (buf <= limit) {\n")
	case modeLen:
		b.Putf("while (len >= %d) {\n", e.block+e.tail)
	case modeKernel:
		b.Putf("size_t kitrs = %d;\n", e.blk)
		b.PutStr("do {\n")
	}
	e.putScalarRound(b)
	b.Putf("buf += %d;\n", e.cs)
	if e.mode == modeLen {
		b.Putf("len -= %d;\n", e.block)
	}
	if e.mode == modeKernel {
		b.PutStr("} while (--kitrs);\n")
	} else {
		b.PutStr("}\n")
	}
	e.putScalarMerge(b, S-2, func(j int) (string, int) {
		c := (S-1-j)*e.klen + e.tail
		if S-1-j == 1 {
			return fmt.Sprintf("klen + %d", e.tail), c
		}
		return fmt.Sprintf("klen * %d + %d", S-1-j, e.tail), c
	})
	u64 := g.useCrcU64()
	lastPtr := "buf + klen"
	if e.kernel {
		lastPtr = fmt.Sprintf("buf + %d", e.klen*(S-1))
	} else if S-1 > 1 {
		lastPtr = fmt.Sprintf("buf + klen * %d", S-1)
	}
	b.Putf("crc0 = %s(crc%d, *(const uint64_t*)(%s) ^ vc);\n", u64, S-1, lastPtr)
	if e.kernel {
		b.Putf("buf += %d;\n", e.klen*(S-1)+e.tail)
		b.Putf("len -= %d;\n", e.kb)
	} else if S-1 > 1 {
		b.Putf("buf += klen * %d + %d;\n", S-1, e.tail)
	} else {
		b.Putf("buf += klen + %d;\n", e.tail)
	}
	if !e.kernel {
		if e.mode == modeLen {
			b.Putf("len -= %d;\n", e.tail)
		} else {
			b.Putf("len -= blk * %d + %d;\n", e.block, e.tail)
		}
	}
	b.PutStr("}\n")
}

// emitVector handles both pure-vector and mixed vector/scalar phases.
func (e *phaseEmit) emitVector(b *sbuf.Buffer) {
	if e.p.ScalarAcc > 0 {
		e.emitMixed(b)
	} else {
		e.emitPureVector(b)
	}
}

// putPreload declares and loads the vector accumulators from base, binds
// the main fold constant, and folds any extra first-iteration loads.
func (e *phaseEmit) putPreload(b *sbuf.Buffer, base string, foldCrc0 bool) {
	g := e.g
	V := e.p.VecAcc
	g.ensureClmulLoHi()
	b.PutStr("/* First vector chunk. */\n")
	for i := 0; i < V; i++ {
		b.Putf("%s x%d = %s, y%d;\n", g.prof.vecType, i, g.fmtVecLoad(e.vecPtr(base, i)), i)
	}
	b.Putf("%s k;\n", g.prof.vecType)
	g.putFoldConst(b, "k", V*e.W)
	e.curK = V * e.W
	if foldCrc0 {
		switch {
		case g.prof.neon:
			b.PutStr("x0 = veorq_u64(x0, vcombine_u64(vcreate_u64(crc0), vcreate_u64(0)));\n")
		case g.prof.wide:
			b.PutStr("x0 = _mm512_xor_si512(x0, _mm512_zextsi128_si512(_mm_cvtsi32_si128(crc0)));\n")
		default:
			b.PutStr("x0 = _mm_xor_si128(x0, _mm_cvtsi32_si128(crc0));\n")
		}
	}
	for r := 1; r < e.m; r++ {
		r := r
		e.putFMARound(b, func(i int) string {
			return g.fmtVecLoad(e.vecPtr(base, r*V+i))
		})
	}
}

// putLoopFMA emits the vector side of one loop iteration.
func (e *phaseEmit) putLoopFMA(b *sbuf.Buffer, base string) {
	g := e.g
	for r := 0; r < e.m; r++ {
		r := r
		e.putFMARound(b, func(i int) string {
			return g.fmtVecLoad(e.vecPtr(base, r*e.p.VecAcc+i))
		})
	}
}

func (e *phaseEmit) emitPureVector(b *sbuf.Buffer) {
	g := e.g
	VLW := e.p.VecLoad * e.W
	if e.kernel {
		b.Putf("while (len >= %d) {\n", e.kb)
	} else {
		b.Putf("if (len >= %d) {\n", VLW)
	}
	if e.mode == modeEnd && !e.kernel {
		b.Putf("const char* limit = buf + len - %d;\n", VLW)
	} else if e.mode == modeEnd && e.blk >= 2 {
		b.Putf("const char* limit = buf + %d;\n", (e.blk-1)*VLW)
	}
	e.putPreload(b, "buf", true)
	b.Putf("buf += %d;\n", VLW)
	if e.mode == modeLen {
		b.Putf("len -= %d;\n", VLW)
	}
	loop := e.blk != 1 || !e.kernel
	if loop {
		b.PutStr("/* Main loop. */\n")
		switch e.mode {
		case modeLen:
			b.Putf("while (len >= %d) {\n", VLW)
		case modeEnd:
			b.PutStr("while (buf <= limit) {\n")
		case modeKernel:
			b.Putf("size_t kitrs = %d;\n", e.blk-1)
			b.PutStr("do {\n")
		}
		e.putLoopFMA(b, "buf")
		b.Putf("buf += %d;\n", VLW)
		if e.mode == modeLen {
			b.Putf("len -= %d;\n", VLW)
		}
		if e.mode == modeKernel {
			b.PutStr("} while (--kitrs);\n")
		} else {
			b.PutStr("}\n")
		}
	}
	e.putReduceTree(b)
	src := "x0"
	if g.prof.wide {
		src = e.put512Reduce(b, src)
	}
	b.Putf("crc0 = %s;\n", e.fmtFinal128(src))
	if e.kernel {
		b.Putf("len -= %d;\n", e.kb)
	} else if e.mode == modeEnd {
		b.Putf("len = (size_t)(limit + %d - buf);\n", VLW)
	}
	b.PutStr("}\n")
}

func (e *phaseEmit) emitMixed(b *sbuf.Buffer) {
	g := e.g
	S := e.p.ScalarAcc
	VLW := e.p.VecLoad * e.W
	if e.kernel {
		b.Putf("while (len >= %d) {\n", e.kb)
		if off := S * e.klen; off != 0 {
			b.Putf("const char* buf2 = buf + %d;\n", off)
		}
	} else {
		b.Putf("if (len >= %d) {\n", e.block+e.tail)
		b.Putf("size_t blk = (len - %d) / %d;\n", e.tail, e.block)
		b.Putf("size_t klen = blk * %d;\n", e.cs)
		if S == 1 {
			b.PutStr("const char* buf2 = buf + klen;\n")
		} else {
			b.Putf("const char* buf2 = buf + klen * %d;\n", S)
		}
	}
	if e.mode == modeEnd {
		if !e.kernel {
			b.Putf("const char* limit = buf + klen - %d;\n", e.cs+e.sB)
		} else if e.blk >= 2 {
			b.Putf("const char* limit = buf + %d;\n", e.klen-e.cs-e.sB)
		}
	}
	for j := 1; j < S; j++ {
		b.Putf("uint32_t crc%d = 0;\n", j)
	}
	e.putPreload(b, "buf2", false)
	b.Putf("buf2 += %d;\n", VLW)
	loop := !e.kernel || e.blk >= 2
	if loop {
		b.PutStr("/* Main loop. */\n")
		switch e.mode {
		case modeLen:
			b.Putf("while (len >= %d) {\n", 2*e.block+e.tail)
		case modeEnd:
			b.PutStr("while (buf <= limit) {\n")
		case modeKernel:
			b.Putf("size_t kitrs = %d;\n", e.blk-1)
			b.PutStr("do {\n")
		}
		e.putLoopFMA(b, "buf2")
		e.putScalarRound(b)
		b.Putf("buf += %d;\n", e.cs)
		b.Putf("buf2 += %d;\n", VLW)
		if e.mode == modeLen {
			b.Putf("len -= %d;\n", e.block)
		}
		if e.mode == modeKernel {
			b.PutStr("} while (--kitrs);\n")
		} else {
			b.PutStr("}\n")
		}
	}
	b.PutStr("/* Final scalar chunk. */\n")
	e.putScalarRound(b)
	e.putReduceTree(b)
	src := "x0"
	if g.prof.wide {
		src = e.put512Reduce(b, src)
	}
	e.putScalarMerge(b, S-1, func(j int) (string, int) {
		c := (S-1-j)*e.klen + e.blk*VLW + e.tail
		vec := fmt.Sprintf("blk * %d + %d", VLW, e.tail)
		switch S - 1 - j {
		case 0:
			return vec, c
		case 1:
			return "klen + " + vec, c
		default:
			return fmt.Sprintf("klen * %d + ", S-1-j) + vec, c
		}
	})
	u64 := g.useCrcU64()
	b.Putf("crc0 = %s;\n", e.fmtFinal128(src))
	b.Putf("crc0 = %s(crc0, *(const uint64_t*)buf2 ^ vc);\n", u64)
	for off := e.sB; off < e.tail; off += e.sB {
		b.Putf("crc0 = %s(crc0, *(const uint64_t*)(buf2 + %d));\n", u64, off)
	}
	b.Putf("buf = buf2 + %d;\n", e.tail)
	switch {
	case e.kernel:
		b.Putf("len -= %d;\n", e.kb)
	case e.mode == modeLen:
		b.Putf("len -= %d;\n", e.block+e.tail)
	default:
		b.Putf("len -= blk * %d + %d;\n", e.block, e.tail)
	}
	b.PutStr("}\n")
}
