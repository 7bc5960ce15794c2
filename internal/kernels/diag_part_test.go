package kernels

import (
	"reflect"
	"testing"

	"github.com/tessera-ml/tessera/tracing"
)

func TestDiagPartDescsSquareMatrix(t *testing.T) {
	input, output, err := DiagPartDescs([]int64{3, 3})
	if err != nil {
		t.Fatal(err)
	}

	// Reading the flattened 3x3 input with stride 4 visits elements
	// 0, 4, 8: exactly the diagonal.
	wantInput := TensorDesc{Sizes: []uint32{1, 1, 1, 3}, Strides: []uint32{0, 0, 0, 4}}
	if !reflect.DeepEqual(input, wantInput) {
		t.Errorf("input = %+v, want %+v", input, wantInput)
	}

	wantOutput := TensorDesc{Sizes: []uint32{1, 1, 1, 3}, Strides: []uint32{3, 3, 3, 1}}
	if !reflect.DeepEqual(output, wantOutput) {
		t.Errorf("output = %+v, want %+v", output, wantOutput)
	}
}

func TestDiagPartDescsHigherRank(t *testing.T) {
	input, _, err := DiagPartDescs([]int64{2, 3, 2, 3})
	if err != nil {
		t.Fatal(err)
	}

	// The diagonal of a [2,3,2,3] tensor has 6 elements at stride 7.
	if input.Sizes[3] != 6 || input.Strides[3] != 7 {
		t.Errorf("input = %+v, want 6 elements at stride 7", input)
	}
}

func TestDiagPartDescsInvalidShapes(t *testing.T) {
	cases := []struct {
		name  string
		shape []int64
	}{
		{name: "rank zero", shape: nil},
		{name: "odd rank", shape: []int64{3}},
		{name: "mismatched halves", shape: []int64{2, 3}},
		{name: "mismatched higher rank", shape: []int64{2, 3, 2, 4}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := DiagPartDescs(tc.shape); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestDiagPartCompilesStridedIdentity(t *testing.T) {
	comp := &stubCompiler{op: &Operator{Compiled: stubDispatchable{}}}
	eng := &stubEngine{}

	if _, err := DiagPart(eng, comp, tracing.Nop(), "d0", []int64{4, 4}); err != nil {
		t.Fatal(err)
	}

	if comp.input.Strides[3] != 5 {
		t.Errorf("input stride = %d, want 5", comp.input.Strides[3])
	}
	if eng.execs != 1 {
		t.Errorf("engine saw %d execs, want 1", eng.execs)
	}
}
