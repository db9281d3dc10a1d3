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

// Command crcgen generates specialising CRC-32 inner loops as C source.
//
// Usage:
//
//	crcgen -i sse -p crc32c -a v4s3x3 -o crc32.c
//
// The ISA selects the intrinsic family, the polynomial may be a canonical
// name or a forward hex literal, and the algorithm string describes the
// accumulator chains and load widths of the emitted loop. Writing to - (the
// default) prints the C source on stdout.
package main

import (
	"bytes"
	goflag "flag"
	"fmt"
	"os"

	"github.com/golang/glog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/corsix/fast-crc32/gen"
)

var (
	isaFlag    string
	polyFlag   string
	algoFlag   string
	outputFlag string
)

// addConfigFlags registers the generation inputs shared by the root command
// and sweep.
func addConfigFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&isaFlag, "isa", "i", "none", "instruction set: none, neon, neon_eor3, sse, avx, avx2, avx512, avx512_vpclmulqdq")
	fs.StringVarP(&polyFlag, "polynomial", "p", "crc32", "polynomial name (crc32, crc32c, crc32k, crc32k2, crc32q) or forward hex literal")
}

func main() {
	root := &cobra.Command{
		Use:           "crcgen",
		Short:         "Generate specialising CRC-32 inner loops as C source",
		Args:          cobra.NoArgs,
		RunE:          runGenerate,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	addConfigFlags(root.Flags())
	root.Flags().StringVarP(&algoFlag, "algorithm", "a", "", "algorithm string, e.g. v4s3x3k4096e_s1")
	root.Flags().StringVarP(&outputFlag, "output", "o", "-", "output file, - for stdout")
	root.AddCommand(newSweepCmd())

	// glog registers -v and friends on the standard flag set.
	root.PersistentFlags().AddGoFlagSet(goflag.CommandLine)
	_ = goflag.CommandLine.Parse(nil)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL error at %v\n", err)
		os.Exit(1)
	}
	glog.Flush()
}

func runGenerate(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(algoFlag)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := gen.New(cfg).Run(&buf); err != nil {
		return err
	}
	if outputFlag == "" || outputFlag == "-" {
		_, err := os.Stdout.Write(buf.Bytes())
		return err
	}
	if err := os.WriteFile(outputFlag, buf.Bytes(), 0o644); err != nil {
		return err
	}
	glog.V(1).Infof("wrote %s (%d bytes)", outputFlag, buf.Len())
	return nil
}

func buildConfig(algo string) (gen.Config, error) {
	isa, err := gen.ParseISA(isaFlag)
	if err != nil {
		return gen.Config{}, err
	}
	poly, err := gen.ParsePoly(polyFlag)
	if err != nil {
		return gen.Config{}, err
	}
	inv := fmt.Sprintf("./generate -i %s -p %s", isaFlag, polyFlag)
	if algo != "" {
		inv += " -a " + algo
	}
	return gen.Config{ISA: isa, Poly: poly, Algorithm: algo, Invocation: inv}, nil
}
