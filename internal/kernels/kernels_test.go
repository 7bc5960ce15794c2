package kernels

import (
	"reflect"
	"testing"

	"github.com/tessera-ml/tessera/device"
	"github.com/tessera-ml/tessera/internal/execution"
	"github.com/tessera-ml/tessera/tracing"
)

type stubDispatchable struct{}

func (stubDispatchable) BindingProperties() device.BindingProperties {
	return device.BindingProperties{}
}

type stubCompiler struct {
	input  TensorDesc
	output TensorDesc
	op     *Operator
	err    error
}

func (s *stubCompiler) CompileIdentity(input, output TensorDesc) (*Operator, error) {
	s.input, s.output = input, output
	if s.err != nil {
		return nil, s.err
	}
	return s.op, nil
}

type stubEngine struct {
	inits int
	execs int
}

func (e *stubEngine) InitializeOperator(device.Dispatchable, device.BindingTable, device.DescriptorHeap) execution.CompletionEvent {
	e.inits++
	return execution.CompletionEvent{FenceValue: uint64(e.inits + e.execs)}
}

func (e *stubEngine) ExecuteOperator(device.Dispatchable, device.BindingTable, device.DescriptorHeap) execution.CompletionEvent {
	e.execs++
	return execution.CompletionEvent{FenceValue: uint64(e.inits + e.execs)}
}

type recordingTracer struct {
	tracing.Tracer
	begins []string
	ends   []string
}

func (r *recordingTracer) KernelComputeBegin(opType, opName string) {
	r.begins = append(r.begins, opType+"/"+opName)
}

func (r *recordingTracer) KernelComputeEnd(opType, opName string) {
	r.ends = append(r.ends, opType+"/"+opName)
}

func TestNaturalStrides(t *testing.T) {
	got := naturalStrides([]uint32{2, 3, 4})
	want := []uint32{12, 4, 1}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("strides = %v, want %v", got, want)
	}
}

func TestRunInitializesWhenOperatorRequiresIt(t *testing.T) {
	eng := &stubEngine{}
	op := &Operator{Initializer: stubDispatchable{}, Compiled: stubDispatchable{}}

	run(eng, tracing.Nop(), "Transpose", "t0", op)

	if eng.inits != 1 || eng.execs != 1 {
		t.Errorf("engine saw %d inits, %d execs; want 1, 1", eng.inits, eng.execs)
	}
}

func TestRunSkipsMissingInitializer(t *testing.T) {
	eng := &stubEngine{}
	run(eng, tracing.Nop(), "Transpose", "t0", &Operator{Compiled: stubDispatchable{}})

	if eng.inits != 0 || eng.execs != 1 {
		t.Errorf("engine saw %d inits, %d execs; want 0, 1", eng.inits, eng.execs)
	}
}

func TestRunBracketsComputeWithTraceEvents(t *testing.T) {
	tr := &recordingTracer{Tracer: tracing.Nop()}
	run(&stubEngine{}, tr, "DiagPart", "d0", &Operator{Compiled: stubDispatchable{}})

	if !reflect.DeepEqual(tr.begins, []string{"DiagPart/d0"}) {
		t.Errorf("begins = %v", tr.begins)
	}
	if !reflect.DeepEqual(tr.ends, []string{"DiagPart/d0"}) {
		t.Errorf("ends = %v", tr.ends)
	}
}
