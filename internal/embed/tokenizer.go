package embed

import (
	"fmt"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
)

type hfTokenizer struct {
	tk *tokenizer.Tokenizer
}

// loadHFTokenizer reads a HuggingFace tokenizer.json.
func loadHFTokenizer(path string) (Tokenizer, error) {
	tk, err := pretrained.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}
	return &hfTokenizer{tk: tk}, nil
}

func (t *hfTokenizer) Encode(text string) (Encoding, error) {
	enc, err := t.tk.EncodeSingle(text, true)
	if err != nil {
		return Encoding{}, err
	}
	return Encoding{
		IDs:           toInt64(enc.Ids),
		AttentionMask: toInt64(enc.AttentionMask),
		TypeIDs:       typeIDs(enc.TypeIds, len(enc.Ids)),
	}, nil
}

func toInt64(s []int) []int64 {
	out := make([]int64, len(s))
	for i, v := range s {
		out[i] = int64(v)
	}
	return out
}

// typeIDs returns the segment ids, all zero for a single sequence when the
// tokenizer does not report them.
func typeIDs(s []int, n int) []int64 {
	if len(s) == n {
		return toInt64(s)
	}
	return make([]int64, n)
}
