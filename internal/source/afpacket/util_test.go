package afpacket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecomputeSize(t *testing.T) {
	tests := []struct {
		name     string
		buffer   int
		snapLen  int
		pageSize int
	}{
		{"default snaplen", 10 * 1024 * 1024, 65535, 4096},
		{"small snaplen", 2 * 1024 * 1024, 1500, 4096},
		{"large pages", 64 * 1024 * 1024, 9000, 65536},
		{"tiny buffer", 1024, 2048, 4096},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, block, n, err := recomputeSize(tt.buffer, tt.snapLen, tt.pageSize)
			require.NoError(t, err)
			assert.Zero(t, frame%16, "frame aligned")
			assert.GreaterOrEqual(t, frame, tt.snapLen)
			assert.Zero(t, block%tt.pageSize, "block is page multiple")
			assert.Zero(t, block%frame, "block is frame multiple")
			assert.GreaterOrEqual(t, n, 1)
		})
	}
}

func TestRecomputeSizeInvalid(t *testing.T) {
	_, _, _, err := recomputeSize(0, 1500, 4096)
	assert.Error(t, err)
	_, _, _, err = recomputeSize(1024, 0, 4096)
	assert.Error(t, err)
	_, _, _, err = recomputeSize(1024, 1500, 1000)
	assert.Error(t, err)
}
