package embed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	nxerrors "github.com/nullvektordom/nexus-cli-sub000/internal/errors"
)

func TestMeanPool_AveragesMaskedPositions(t *testing.T) {
	// Given three tokens where the last is padding
	tensor := Tensor{
		Shape: []int64{1, 3, 2},
		Data:  []float32{1, 2, 3, 4, 100, 100},
	}

	// When pooling
	got, err := meanPool(tensor, []int64{1, 1, 0}, 2)

	// Then only the first two rows contribute
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{2, 3}, got, 1e-6)
}

func TestMeanPool_ZeroMask(t *testing.T) {
	tensor := Tensor{Shape: []int64{1, 2, 3}, Data: []float32{1, 1, 1, 2, 2, 2}}

	got, err := meanPool(tensor, []int64{0, 0}, 3)

	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 0}, got)
}

func TestMeanPool_ShapeErrors(t *testing.T) {
	tests := []struct {
		name   string
		tensor Tensor
		mask   []int64
		dim    int
	}{
		{"rank 2", Tensor{Shape: []int64{2, 2}, Data: make([]float32, 4)}, []int64{1, 1}, 2},
		{"batch 2", Tensor{Shape: []int64{2, 1, 2}, Data: make([]float32, 4)}, []int64{1}, 2},
		{"mask length", Tensor{Shape: []int64{1, 2, 2}, Data: make([]float32, 4)}, []int64{1}, 2},
		{"hidden size", Tensor{Shape: []int64{1, 1, 3}, Data: make([]float32, 3)}, []int64{1}, 2},
		{"data length", Tensor{Shape: []int64{1, 2, 2}, Data: make([]float32, 3)}, []int64{1, 1}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := meanPool(tt.tensor, tt.mask, tt.dim)
			assert.True(t, nxerrors.Is(err, nxerrors.ErrShape), "got %v", err)
		})
	}
}

func TestTruncate_KeepsSeparator(t *testing.T) {
	enc := Encoding{
		IDs:           []int64{101, 1, 2, 3, 4, 102},
		AttentionMask: []int64{1, 1, 1, 1, 1, 1},
		TypeIDs:       []int64{0, 0, 0, 0, 0, 0},
	}

	got := truncate(enc, 4)

	assert.Equal(t, []int64{101, 1, 2, 102}, got.IDs)
	assert.Len(t, got.AttentionMask, 4)
	assert.Len(t, got.TypeIDs, 4)
}

func TestTruncate_ShortInputUnchanged(t *testing.T) {
	enc := Encoding{IDs: []int64{101, 102}, AttentionMask: []int64{1, 1}, TypeIDs: []int64{0, 0}}

	assert.Equal(t, enc, truncate(enc, 512))
}

func TestNormalize(t *testing.T) {
	v := normalize([]float32{3, 4})
	assert.InDeltaSlice(t, []float32{0.6, 0.8}, v, 1e-6)

	zero := normalize([]float32{0, 0})
	assert.Equal(t, []float32{0, 0}, zero)
}
