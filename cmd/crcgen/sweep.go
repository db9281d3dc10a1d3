package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/corsix/fast-crc32/gen"
)

// newSweepCmd builds the sweep subcommand: expand numeric ranges in an
// algorithm pattern (v[2-8]s3x[1-4]) into concrete algorithm strings and
// emit a Makefile with one generator invocation per expansion. Running make
// and benchmarking the shared objects is left to the caller.
func newSweepCmd() *cobra.Command {
	var outDir string
	cmd := &cobra.Command{
		Use:   "sweep PATTERN",
		Short: "Expand algorithm ranges and emit a Makefile driving the generator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(args[0], outDir)
		},
	}
	addConfigFlags(cmd.Flags())
	cmd.Flags().StringVarP(&outDir, "output", "o", ".", "directory to write the Makefile to")
	return cmd
}

func runSweep(pattern, outDir string) error {
	isa, err := gen.ParseISA(isaFlag)
	if err != nil {
		return err
	}
	algos, err := expandRanges(pattern)
	if err != nil {
		return err
	}
	// Validate every expansion up front so make never sees a bad algorithm.
	for _, a := range algos {
		if _, err := gen.ParseAlgorithm(a, isa); err != nil {
			return err
		}
	}
	if _, err := gen.ParsePoly(polyFlag); err != nil {
		return err
	}
	glog.V(1).Infof("sweep %q expands to %d algorithms", pattern, len(algos))

	var b strings.Builder
	b.WriteString("# Generated by crcgen sweep; drives one generator run per algorithm.\n")
	b.WriteString("CC ?= cc\n")
	fmt.Fprintf(&b, "CFLAGS ?= -O2 %s\n", cflagsForISA(isa))
	b.WriteString("CRCGEN ?= crcgen\n\n")
	b.WriteString("all:")
	for _, a := range algos {
		fmt.Fprintf(&b, " crc32_%s.so", a)
	}
	b.WriteString("\n\n")
	for _, a := range algos {
		fmt.Fprintf(&b, "crc32_%s.c:\n", a)
		fmt.Fprintf(&b, "\t$(CRCGEN) -i %s -p %s -a %s -o $@\n", isaFlag, polyFlag, a)
		fmt.Fprintf(&b, "crc32_%s.so: crc32_%s.c\n", a, a)
		b.WriteString("\t$(CC) $(CFLAGS) -shared -fPIC -o $@ $<\n\n")
	}
	b.WriteString("clean:\n\trm -f crc32_*.c crc32_*.so\n")

	path := filepath.Join(outDir, "Makefile")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return err
	}
	fmt.Printf("wrote %s (%d targets)\n", path, len(algos))
	return nil
}

// expandRanges rewrites every [a-b] span in the pattern into one string per
// value, cartesian across spans.
func expandRanges(s string) ([]string, error) {
	open := strings.IndexByte(s, '[')
	if open < 0 {
		if strings.IndexByte(s, ']') >= 0 {
			return nil, errors.Errorf("pattern %q: ] without [", s)
		}
		return []string{s}, nil
	}
	end := strings.IndexByte(s[open:], ']')
	if end < 0 {
		return nil, errors.Errorf("pattern %q: unclosed [", s)
	}
	end += open
	lo, hi, ok := strings.Cut(s[open+1:end], "-")
	if !ok {
		return nil, errors.Errorf("pattern %q: range wants the form [lo-hi]", s)
	}
	a, err1 := strconv.Atoi(lo)
	z, err2 := strconv.Atoi(hi)
	if err1 != nil || err2 != nil || a > z {
		return nil, errors.Errorf("pattern %q: bad range [%s-%s]", s, lo, hi)
	}
	rest, err := expandRanges(s[end+1:])
	if err != nil {
		return nil, err
	}
	var out []string
	for v := a; v <= z; v++ {
		for _, r := range rest {
			out = append(out, s[:open]+strconv.Itoa(v)+r)
		}
	}
	return out, nil
}

func cflagsForISA(isa gen.ISA) string {
	switch isa {
	case gen.ISANeon:
		return "-march=armv8-a+crc+crypto"
	case gen.ISANeonEor3:
		return "-march=armv8.2-a+crc+crypto+sha3"
	case gen.ISASSE:
		return "-msse4.2 -mpclmul"
	case gen.ISAAVX512:
		return "-msse4.2 -mpclmul -mavx512f -mavx512vl"
	case gen.ISAAVX512VPCLMULQDQ:
		return "-mavx512f -mvpclmulqdq"
	}
	return ""
}
