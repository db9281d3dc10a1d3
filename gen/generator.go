// Copyright 2026 fast-crc32 Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package gen turns an (isa, polynomial, algorithm) configuration into a
// self-contained C source file exporting
//
//	uint32_t crc32_impl(uint32_t crc, const char* buf, size_t len);
//
// The algorithm string decomposes the input buffer into parallel accumulator
// chains and load widths; the generator synthesises the matching pre-loop,
// fold loop, reduction tree and scalar tail for the selected instruction
// set, computing every carry-less-multiply constant at generation time.
package gen

import (
	"io"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/corsix/fast-crc32/gen/sbuf"
)

// Config selects one generation pass.
type Config struct {
	ISA       ISA
	Poly      Poly
	Algorithm string
	// Invocation is reproduced in the output's header comment. When empty a
	// canonical ./generate command line is synthesised.
	Invocation string
}

// Generator owns the state of a single emission pass: the buffer tree, the
// bound scalar CRC spellings, and the once-flags guarding every helper so
// the output holds at most one copy of each.
type Generator struct {
	cfg    Config
	prof   profile
	phases []*Phase

	root    *sbuf.Buffer
	helpers *sbuf.Buffer
	out     *sbuf.Buffer
	headers map[string]bool

	hwCRC                            bool
	crcU8Name, crcU32Name, crcU64Name string

	didClmulLoHi   bool
	didClmulScalar bool
	didCrcU8       bool
	didCrcU32      bool
	didCrcU64      bool
	didCrcShift    bool
	tablePlanes    int
}

// New returns a generator for one configuration. A generator performs a
// single pass: configure, Run, discard.
func New(cfg Config) *Generator {
	return &Generator{cfg: cfg, prof: cfg.ISA.profile(), headers: map[string]bool{
		"stddef.h": true,
		"stdint.h": true,
	}}
}

// Run validates the configuration, emits the complete C source and flushes
// it to w. Validated input always produces an output; there is no partial
// output on error.
func (g *Generator) Run(w io.Writer) error {
	phases, err := ParseAlgorithm(g.cfg.Algorithm, g.cfg.ISA)
	if err != nil {
		return err
	}
	g.phases = phases
	glog.V(1).Infof("generating isa=%s poly=%08x phases=%d", g.cfg.ISA, uint32(g.cfg.Poly), len(phases))

	g.root = sbuf.New()
	g.root.PutStr("/* Generated by https://github.com/corsix/fast-crc32/ using: */\n")
	g.root.Putf("/* %s */\n", g.invocation())
	g.root.Defer(g.emitIncludes)
	g.root.PutStr("\n")
	g.root.PutStr("#define CRC_AINLINE static __inline __attribute__((always_inline))\n")
	g.root.PutStr("#define CRC_ALIGN(n) __attribute__((aligned(n)))\n")
	g.root.PutStr("#define CRC_EXPORT extern\n")
	g.root.PutStr("\n")
	g.helpers = g.root.NewChild()
	g.out = g.root.NewChild()

	g.bindScalarCRC()
	if err := g.emitMain(); err != nil {
		return err
	}
	if err := g.root.Flush(w); err != nil {
		return errors.Wrap(err, "flushing output")
	}
	return nil
}

func (g *Generator) invocation() string {
	if g.cfg.Invocation != "" {
		return g.cfg.Invocation
	}
	s := "./generate -i " + g.cfg.ISA.String() + " -p " + polyArg(g.cfg.Poly)
	if g.cfg.Algorithm != "" {
		s += " -a " + g.cfg.Algorithm
	}
	return s
}

// polyArg prefers the canonical name when the polynomial has one.
func polyArg(p Poly) string {
	for name, v := range namedPolys {
		if v == p {
			return name
		}
	}
	return sprintfHex(Reverse32(uint32(p)))
}

func sprintfHex(v uint32) string {
	const digits = "0123456789abcdef"
	b := []byte("0x00000000")
	for i := 0; i < 8; i++ {
		b[9-i] = digits[v&0xf]
		v >>= 4
	}
	return string(b)
}

// emitIncludes renders the demanded headers in canonical order; it runs at
// flush time, after the demand set is complete.
func (g *Generator) emitIncludes(b *sbuf.Buffer) {
	for _, h := range includeOrder {
		if g.headers[h] {
			b.Putf("#include <%s>\n", h)
		}
	}
}
