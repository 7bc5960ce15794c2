// Package kernels implements device kernels that record their work through
// the execution engine: transpose (with adjacent-dimension merging) and
// diagonal extraction. Operator compilation is a collaborator concern,
// injected through the Compiler interface.
package kernels

import (
	"fmt"

	"github.com/tessera-ml/tessera/device"
	"github.com/tessera-ml/tessera/internal/execution"
	"github.com/tessera-ml/tessera/tracing"
)

// TensorDesc describes a tensor binding as flattened sizes and element
// strides. A zero stride broadcasts; a stride larger than the size skips
// elements.
type TensorDesc struct {
	Sizes   []uint32
	Strides []uint32
}

// Operator bundles everything the engine needs to run a compiled program.
type Operator struct {
	// Initializer is dispatched once before the first execution. Nil when
	// the compiled form needs no initialization.
	Initializer device.Dispatchable
	Compiled    device.Dispatchable
	Bindings    device.BindingTable
	Heap        device.DescriptorHeap
}

// Compiler turns tensor descriptions into compiled device programs.
type Compiler interface {
	// CompileIdentity compiles an element copy from input to output; the
	// interesting work lives in the strides.
	CompileIdentity(input, output TensorDesc) (*Operator, error)
}

// Engine is the slice of the execution context kernels record through.
type Engine interface {
	InitializeOperator(init device.Dispatchable, bindings device.BindingTable, heap device.DescriptorHeap) execution.CompletionEvent
	ExecuteOperator(op device.Dispatchable, bindings device.BindingTable, heap device.DescriptorHeap) execution.CompletionEvent
}

// naturalStrides returns contiguous row-major strides for sizes.
func naturalStrides(sizes []uint32) []uint32 {
	strides := make([]uint32, len(sizes))
	stride := uint32(1)
	for i := len(sizes) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= sizes[i]
	}
	return strides
}

// run dispatches op through the engine, initializing first when needed, and
// returns the completion event of the execution.
func run(eng Engine, tr tracing.Tracer, opType, opName string, op *Operator) execution.CompletionEvent {
	if tr == nil {
		tr = tracing.Nop()
	}
	tr.KernelComputeBegin(opType, opName)
	defer tr.KernelComputeEnd(opType, opName)

	if op.Initializer != nil {
		eng.InitializeOperator(op.Initializer, op.Bindings, op.Heap)
	}
	return eng.ExecuteOperator(op.Compiled, op.Bindings, op.Heap)
}

func invalidArgf(format string, args ...any) error {
	return fmt.Errorf("invalid argument: "+format, args...)
}
