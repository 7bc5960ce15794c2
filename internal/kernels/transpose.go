package kernels

import (
	"github.com/tessera-ml/tessera/internal/execution"
	"github.com/tessera-ml/tessera/tracing"
)

// SimpleTranspose is a transpose reduced to its minimal equivalent form.
type SimpleTranspose struct {
	InputShape  []int64
	OutputShape []int64
	Perm        []int
}

// SimplifyTranspose merges all adjacent dimensions that remain adjacent
// after the transpose (increasing runs with a step of 1 in perm), shrinking
// the rank the device operator has to deal with. An identity permutation
// collapses to a single dimension.
func SimplifyTranspose(shape []int64, perm []int) (SimpleTranspose, error) {
	if len(perm) != len(shape) {
		return SimpleTranspose{}, invalidArgf("permutation has %d elements for a rank-%d shape", len(perm), len(shape))
	}
	seen := make([]bool, len(shape))
	for _, p := range perm {
		if p < 0 || p >= len(shape) {
			return SimpleTranspose{}, invalidArgf("permutation index %d out of range for rank %d", p, len(shape))
		}
		if seen[p] {
			return SimpleTranspose{}, invalidArgf("permutation index %d repeated", p)
		}
		seen[p] = true
	}
	if len(shape) == 0 {
		return SimpleTranspose{InputShape: []int64{}, OutputShape: []int64{}, Perm: []int{}}, nil
	}

	simpleSizes := make([]int64, len(shape))
	inputToPerm := make([]int, len(shape))

	inputIndex := perm[0]
	dimSize := shape[inputIndex]
	inputToPerm[inputIndex] = 0

	// Merge increasing runs: a dimension following its predecessor in both
	// the input and the permutation folds into it.
	for i := 1; i < len(perm); i++ {
		prev := perm[i-1]
		index := perm[i]
		inputToPerm[index] = i

		if index == prev+1 {
			dimSize *= shape[index]
			// Marked for removal below.
			simpleSizes[index] = -1
		} else {
			simpleSizes[inputIndex] = dimSize
			dimSize = shape[index]
			inputIndex = index
		}
	}
	simpleSizes[inputIndex] = dimSize

	// Shift surviving input dimensions left and remap the permutation.
	simplePerm := make([]int, len(shape))
	leftShift := 0
	for i := range simpleSizes {
		permIndex := inputToPerm[i]
		if simpleSizes[i] == -1 {
			leftShift++
			simplePerm[permIndex] = -1
		} else {
			newIndex := i - leftShift
			simpleSizes[newIndex] = simpleSizes[i]
			simplePerm[permIndex] = newIndex
		}
	}
	simpleSizes = simpleSizes[:len(simpleSizes)-leftShift]

	// Compact the permutation the same way.
	permShift := 0
	for i := range simplePerm {
		if simplePerm[i] == -1 {
			permShift++
		} else {
			simplePerm[i-permShift] = simplePerm[i]
		}
	}
	simplePerm = simplePerm[:len(simplePerm)-permShift]

	outputShape := make([]int64, len(simplePerm))
	for i, p := range simplePerm {
		outputShape[i] = simpleSizes[p]
	}

	return SimpleTranspose{
		InputShape:  simpleSizes,
		OutputShape: outputShape,
		Perm:        simplePerm,
	}, nil
}

// Transpose compiles and records a permutation of shape through the engine.
// The transpose is expressed as a strided identity: the input is read with
// permuted strides while the output is written contiguously.
func Transpose(eng Engine, comp Compiler, tr tracing.Tracer, opName string, shape []int64, perm []int) (execution.CompletionEvent, error) {
	simple, err := SimplifyTranspose(shape, perm)
	if err != nil {
		return execution.CompletionEvent{}, err
	}

	inputSizes := toUint32(simple.InputShape)
	inputStrides := naturalStrides(inputSizes)

	outputSizes := toUint32(simple.OutputShape)
	permutedStrides := make([]uint32, len(simple.Perm))
	for i, p := range simple.Perm {
		permutedStrides[i] = inputStrides[p]
	}

	op, err := comp.CompileIdentity(
		TensorDesc{Sizes: outputSizes, Strides: permutedStrides},
		TensorDesc{Sizes: outputSizes, Strides: naturalStrides(outputSizes)},
	)
	if err != nil {
		return execution.CompletionEvent{}, err
	}

	return run(eng, tr, "Transpose", opName, op), nil
}

func toUint32(sizes []int64) []uint32 {
	out := make([]uint32, len(sizes))
	for i, s := range sizes {
		out[i] = uint32(s)
	}
	return out
}
