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

package gen

import (
	"fmt"

	"github.com/pkg/errors"
)

// ISA selects the instruction set the generated file targets.
type ISA int

const (
	ISANone ISA = iota // scalar only, table driven
	ISANeon
	ISANeonEor3
	ISASSE // also AVX/AVX2: same intrinsics
	ISAAVX512
	ISAAVX512VPCLMULQDQ
)

var isaNames = map[string]ISA{
	"none":              ISANone,
	"neon":              ISANeon,
	"neon_eor3":         ISANeonEor3,
	"sse":               ISASSE,
	"avx":               ISASSE,
	"avx2":              ISASSE,
	"avx512":            ISAAVX512,
	"avx512_vpclmulqdq": ISAAVX512VPCLMULQDQ,
}

// ParseISA resolves an ISA argument; sse, avx and avx2 alias.
func ParseISA(name string) (ISA, error) {
	isa, ok := isaNames[name]
	if !ok {
		return 0, errors.Errorf("unknown ISA %q", name)
	}
	return isa, nil
}

func (isa ISA) String() string {
	switch isa {
	case ISANone:
		return "none"
	case ISANeon:
		return "neon"
	case ISANeonEor3:
		return "neon_eor3"
	case ISASSE:
		return "sse"
	case ISAAVX512:
		return "avx512"
	case ISAAVX512VPCLMULQDQ:
		return "avx512_vpclmulqdq"
	}
	return fmt.Sprintf("ISA(%d)", int(isa))
}

// profile describes the code-generation surface of one instruction set:
// operand widths, the C vector type, and the spelling of the primitive
// operations the loop synthesiser composes.
type profile struct {
	vecBytes    int    // 0 when the ISA has no usable vector unit
	scalarBytes int    // natural scalar CRC width
	vecType     string // C type of a vector accumulator
	neon        bool   // arm64 family (inline-asm pmull, vld1q loads)
	eor3        bool   // three-way XOR in one instruction
	ternlog     bool   // AVX-512 vpternlogq available
	wide        bool   // 512-bit vectors
}

var profiles = map[ISA]profile{
	ISANone:             {vecBytes: 0, scalarBytes: 4},
	ISANeon:             {vecBytes: 16, scalarBytes: 8, vecType: "uint64x2_t", neon: true},
	ISANeonEor3:         {vecBytes: 16, scalarBytes: 8, vecType: "uint64x2_t", neon: true, eor3: true},
	ISASSE:              {vecBytes: 16, scalarBytes: 8, vecType: "__m128i"},
	ISAAVX512:           {vecBytes: 16, scalarBytes: 8, vecType: "__m128i", ternlog: true},
	ISAAVX512VPCLMULQDQ: {vecBytes: 64, scalarBytes: 8, vecType: "__m512i", ternlog: true, wide: true},
}

func (isa ISA) profile() profile {
	return profiles[isa]
}

// hwCRCSpellings returns the hardware scalar CRC intrinsic names for
// (isa, poly) when the instruction exists for that polynomial: ARMv8 carries
// both the ISO and Castagnoli flavours, x86 only Castagnoli.
func hwCRCSpellings(isa ISA, poly Poly) (u8, u32, u64 string, ok bool) {
	p := isa.profile()
	switch {
	case p.neon && poly == PolyCRC32:
		return "__crc32b", "__crc32w", "__crc32d", true
	case p.neon && poly == PolyCRC32C:
		return "__crc32cb", "__crc32cw", "__crc32cd", true
	case !p.neon && p.vecBytes > 0 && poly == PolyCRC32C:
		return "_mm_crc32_u8", "_mm_crc32_u32", "_mm_crc32_u64", true
	}
	return "", "", "", false
}

// includeOrder fixes the emission order of intrinsic headers; only headers
// actually demanded by an emitted expression appear in the output.
var includeOrder = []string{
	"arm_acle.h",
	"arm_neon.h",
	"nmmintrin.h",
	"smmintrin.h",
	"wmmintrin.h",
	"immintrin.h",
	"stddef.h",
	"stdint.h",
}
