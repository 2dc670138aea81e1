package embed

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// Input and output names of sentence-transformers ONNX exports.
var (
	onnxInputNames  = []string{"input_ids", "attention_mask", "token_type_ids"}
	onnxOutputNames = []string{"last_hidden_state"}
)

// The ONNX Runtime environment is process-wide.
var (
	ortOnce sync.Once
	ortErr  error
)

func initRuntime(library string) error {
	ortOnce.Do(func() {
		if library != "" {
			ort.SetSharedLibraryPath(library)
		}
		ortErr = ort.InitializeEnvironment()
	})
	return ortErr
}

type onnxModel struct {
	session *ort.DynamicAdvancedSession
}

func loadONNXModel(path string, opts GeneratorOptions) (Model, error) {
	if err := initRuntime(opts.RuntimeLibrary); err != nil {
		return nil, fmt.Errorf("initialize onnxruntime: %w", err)
	}

	so, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("create session options: %w", err)
	}
	defer so.Destroy()

	if err := so.SetIntraOpNumThreads(opts.IntraOpThreads); err != nil {
		return nil, fmt.Errorf("set intra-op threads: %w", err)
	}

	session, err := ort.NewDynamicAdvancedSession(path, onnxInputNames, onnxOutputNames, so)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &onnxModel{session: session}, nil
}

// Run feeds a single sequence as a batch of one.
func (m *onnxModel) Run(ctx context.Context, in Encoding) (Tensor, error) {
	if err := ctx.Err(); err != nil {
		return Tensor{}, err
	}

	shape := ort.NewShape(1, int64(len(in.IDs)))
	var inputs []ort.Value
	defer func() {
		for _, v := range inputs {
			_ = v.Destroy()
		}
	}()
	for _, seq := range [][]int64{in.IDs, in.AttentionMask, in.TypeIDs} {
		t, err := ort.NewTensor(shape, seq)
		if err != nil {
			return Tensor{}, fmt.Errorf("create input tensor: %w", err)
		}
		inputs = append(inputs, t)
	}

	outputs := []ort.Value{nil}
	if err := m.session.Run(inputs, outputs); err != nil {
		return Tensor{}, err
	}
	defer outputs[0].Destroy()

	hidden, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return Tensor{}, fmt.Errorf("unexpected output type %T", outputs[0])
	}

	outShape := hidden.GetShape()
	data := hidden.GetData()
	result := Tensor{
		Shape: make([]int64, len(outShape)),
		Data:  make([]float32, len(data)),
	}
	copy(result.Shape, outShape)
	copy(result.Data, data)
	return result, nil
}

func (m *onnxModel) Close() error {
	return m.session.Destroy()
}
