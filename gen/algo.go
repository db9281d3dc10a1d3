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
	"strings"

	"github.com/pkg/errors"
)

// Phase is one inner-loop shape of the emitted crc32_impl. A multi-phase
// algorithm chains them in order: the first phase runs while its block size
// fits, the remainder flows into the next.
//
// Grammar of the algorithm string (whitespace-free):
//
//	algo   := phase ("_" phase)*
//	phase  := term*
//	term   := ("v"|"s") N ("x" M)? | "k" N | "e"
//
// A v term contributes N accumulators (max across terms) and N*M loads per
// iteration; s terms likewise for the scalar side. k fixes the kernel size,
// e selects end-pointer loop termination. k and e may appear anywhere in a
// phase, interleaved with v and s terms.
type Phase struct {
	VecAcc     int // vector accumulator chains
	VecLoad    int // vector loads per iteration, multiple of VecAcc
	ScalarAcc  int // scalar accumulator chains
	ScalarLoad int // scalar loads per iteration, multiple of ScalarAcc
	KernelSize int // nonzero: fixed-trip inner loop over this many bytes
	UseEndPtr  bool
}

// ParseAlgorithm parses an algorithm string into its phase sequence and
// validates it against the selected instruction set. An empty string yields
// the default single phase (one scalar chain, one load).
func ParseAlgorithm(s string, isa ISA) ([]*Phase, error) {
	var phases []*Phase
	for _, part := range strings.Split(s, "_") {
		p, err := parsePhase(part)
		if err != nil {
			return nil, err
		}
		if p.VecLoad == 0 && p.ScalarLoad == 0 {
			p.ScalarAcc, p.ScalarLoad = 1, 1
		}
		if p.VecAcc > 0 && p.VecLoad%p.VecAcc != 0 {
			return nil, errors.Errorf("algorithm %q: vector loads (%d) not a multiple of accumulators (%d)", s, p.VecLoad, p.VecAcc)
		}
		if p.ScalarAcc > 0 && p.ScalarLoad%p.ScalarAcc != 0 {
			return nil, errors.Errorf("algorithm %q: scalar loads (%d) not a multiple of accumulators (%d)", s, p.ScalarLoad, p.ScalarAcc)
		}
		if isa == ISANone {
			if p.VecLoad > 0 || p.VecAcc > 0 {
				return nil, errors.Errorf("algorithm %q: vector chains need an ISA with carry-less multiply", s)
			}
			if p.ScalarAcc > 1 {
				return nil, errors.Errorf("algorithm %q: parallel scalar chains need an ISA with carry-less multiply", s)
			}
		}
		phases = append(phases, p)
	}
	return phases, nil
}

func parsePhase(s string) (*Phase, error) {
	p := &Phase{}
	for i := 0; i < len(s); {
		c := s[i]
		i++
		switch c {
		case 'v', 's':
			n, rest, err := scanNum(s, i, c)
			if err != nil {
				return nil, err
			}
			i = rest
			m := 1
			if i < len(s) && s[i] == 'x' {
				m, rest, err = scanNum(s, i+1, 'x')
				if err != nil {
					return nil, err
				}
				i = rest
			}
			if c == 'v' {
				p.VecAcc = max(p.VecAcc, n)
				p.VecLoad += n * m
			} else {
				p.ScalarAcc = max(p.ScalarAcc, n)
				p.ScalarLoad += n * m
			}
		case 'k':
			n, rest, err := scanNum(s, i, c)
			if err != nil {
				return nil, err
			}
			i = rest
			if i < len(s) && s[i] == 'x' {
				return nil, errors.Errorf("algorithm phase %q: 'x' cannot follow 'k'", s)
			}
			p.KernelSize = n
		case 'e':
			p.UseEndPtr = true
		default:
			return nil, errors.Errorf("algorithm phase %q: unexpected character %q", s, c)
		}
	}
	return p, nil
}

func scanNum(s string, i int, term byte) (n, next int, err error) {
	start := i
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		n = n*10 + int(s[i]-'0')
		i++
	}
	if i == start {
		return 0, 0, errors.Errorf("algorithm phase %q: digits required after %q", s, term)
	}
	return n, i, nil
}
