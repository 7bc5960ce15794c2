package kernels

import (
	"github.com/tessera-ml/tessera/internal/execution"
	"github.com/tessera-ml/tessera/tracing"
)

// DiagPartDescs builds the tensor descriptions for extracting the main
// diagonal of a tensor whose shape is two copies of the same half: the
// input is flattened and read with a stride of n+1, which lands exactly on
// the diagonal elements.
func DiagPartDescs(shape []int64) (input, output TensorDesc, err error) {
	rank := len(shape)
	if rank == 0 || rank%2 != 0 {
		return TensorDesc{}, TensorDesc{}, invalidArgf("diag part requires an even, positive rank, got %d", rank)
	}
	half := rank / 2
	for i := 0; i < half; i++ {
		if shape[i] != shape[i+half] {
			return TensorDesc{}, TensorDesc{}, invalidArgf("dimensions %d and %d do not match: %d vs %d", i, i+half, shape[i], shape[i+half])
		}
	}

	n := int64(1)
	for _, d := range shape[:half] {
		n *= d
	}
	out := uint32(n)

	input = TensorDesc{
		Sizes:   []uint32{1, 1, 1, out},
		Strides: []uint32{0, 0, 0, out + 1},
	}
	output = TensorDesc{
		Sizes:   []uint32{1, 1, 1, out},
		Strides: naturalStrides([]uint32{1, 1, 1, out}),
	}
	return input, output, nil
}

// DiagPart compiles and records diagonal extraction through the engine.
func DiagPart(eng Engine, comp Compiler, tr tracing.Tracer, opName string, shape []int64) (execution.CompletionEvent, error) {
	input, output, err := DiagPartDescs(shape)
	if err != nil {
		return execution.CompletionEvent{}, err
	}

	op, err := comp.CompileIdentity(input, output)
	if err != nil {
		return execution.CompletionEvent{}, err
	}

	return run(eng, tr, "DiagPart", opName, op), nil
}
