package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandRanges(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"v4s3x3", []string{"v4s3x3"}},
		{"v[2-4]", []string{"v2", "v3", "v4"}},
		{"v[2-3]s[1-2]", []string{"v2s1", "v2s2", "v3s1", "v3s2"}},
		{"v[9-9]e", []string{"v9e"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := expandRanges(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExpandRangesErrors(t *testing.T) {
	for _, in := range []string{"v[2-", "v2]", "v[a-4]", "v[4-2]", "v[24]"} {
		t.Run(in, func(t *testing.T) {
			_, err := expandRanges(in)
			assert.Error(t, err)
		})
	}
}

func TestBuildConfig(t *testing.T) {
	isaFlag, polyFlag = "sse", "crc32c"
	cfg, err := buildConfig("v4s3x3")
	require.NoError(t, err)
	assert.Equal(t, "./generate -i sse -p crc32c -a v4s3x3", cfg.Invocation)

	isaFlag = "riscv"
	_, err = buildConfig("")
	assert.Error(t, err)
}
