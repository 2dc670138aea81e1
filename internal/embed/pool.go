package embed

import (
	"context"

	nxerrors "github.com/nullvektordom/nexus-cli-sub000/internal/errors"
)

// Encoding is a tokenized text. All three sequences have the same length.
type Encoding struct {
	IDs           []int64
	AttentionMask []int64
	TypeIDs       []int64
}

// Tokenizer converts text into model inputs, adding special tokens.
type Tokenizer interface {
	Encode(text string) (Encoding, error)
}

// Tensor is a dense float32 tensor in row-major order.
type Tensor struct {
	Shape []int64
	Data  []float32
}

// Model runs one forward pass and returns per-token hidden states.
type Model interface {
	Run(ctx context.Context, in Encoding) (Tensor, error)
	Close() error
}

// meanPool averages the hidden states of a [1, seq, dim] tensor over the
// positions whose attention mask is 1. With no such position the zero
// vector is returned.
func meanPool(t Tensor, mask []int64, dim int) ([]float32, error) {
	if len(t.Shape) != 3 {
		return nil, nxerrors.Newf(nxerrors.ErrCodeShape,
			"expected hidden states of rank 3, got rank %d", len(t.Shape))
	}
	if t.Shape[0] != 1 {
		return nil, nxerrors.Newf(nxerrors.ErrCodeShape,
			"expected batch size 1, got %d", t.Shape[0])
	}

	seq, hidden := int(t.Shape[1]), int(t.Shape[2])
	if seq != len(mask) {
		return nil, nxerrors.Newf(nxerrors.ErrCodeShape,
			"sequence length %d does not match attention mask length %d", seq, len(mask))
	}
	if dim > 0 && hidden != dim {
		return nil, nxerrors.Newf(nxerrors.ErrCodeShape,
			"hidden size %d does not match embedding dimension %d", hidden, dim)
	}
	if len(t.Data) != seq*hidden {
		return nil, nxerrors.Newf(nxerrors.ErrCodeShape,
			"tensor holds %d values, shape needs %d", len(t.Data), seq*hidden)
	}

	sum := make([]float64, hidden)
	count := 0
	for i := 0; i < seq; i++ {
		if mask[i] != 1 {
			continue
		}
		count++
		row := t.Data[i*hidden : (i+1)*hidden]
		for j, v := range row {
			sum[j] += float64(v)
		}
	}

	pooled := make([]float32, hidden)
	if count == 0 {
		return pooled, nil
	}
	for j := range sum {
		pooled[j] = float32(sum[j] / float64(count))
	}
	return pooled, nil
}

// truncate keeps at most max tokens, preserving the final (separator) token.
func truncate(enc Encoding, max int) Encoding {
	n := len(enc.IDs)
	if max <= 1 || n <= max {
		return enc
	}
	cut := func(s []int64) []int64 {
		if len(s) != n {
			return s
		}
		out := make([]int64, 0, max)
		out = append(out, s[:max-1]...)
		return append(out, s[n-1])
	}
	return Encoding{
		IDs:           cut(enc.IDs),
		AttentionMask: cut(enc.AttentionMask),
		TypeIDs:       cut(enc.TypeIDs),
	}
}
