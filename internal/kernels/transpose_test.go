package kernels

import (
	"reflect"
	"testing"

	"github.com/tessera-ml/tessera/tracing"
)

func TestSimplifyTransposeIdentityCollapses(t *testing.T) {
	got, err := SimplifyTranspose([]int64{2, 3, 4}, []int{0, 1, 2})
	if err != nil {
		t.Fatal(err)
	}

	want := SimpleTranspose{InputShape: []int64{24}, OutputShape: []int64{24}, Perm: []int{0}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestSimplifyTransposeMergesAdjacentRuns(t *testing.T) {
	// Dimensions 0 and 1 stay adjacent through the permutation, so they
	// merge into a single dimension of size 6.
	got, err := SimplifyTranspose([]int64{2, 3, 4, 5}, []int{0, 1, 3, 2})
	if err != nil {
		t.Fatal(err)
	}

	want := SimpleTranspose{
		InputShape:  []int64{6, 4, 5},
		OutputShape: []int64{6, 5, 4},
		Perm:        []int{0, 2, 1},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestSimplifyTransposeNothingToMerge(t *testing.T) {
	got, err := SimplifyTranspose([]int64{2, 3}, []int{1, 0})
	if err != nil {
		t.Fatal(err)
	}

	want := SimpleTranspose{InputShape: []int64{2, 3}, OutputShape: []int64{3, 2}, Perm: []int{1, 0}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestSimplifyTransposeEmptyShape(t *testing.T) {
	got, err := SimplifyTranspose(nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.InputShape) != 0 || len(got.OutputShape) != 0 || len(got.Perm) != 0 {
		t.Errorf("empty shape simplified to %+v", got)
	}
}

func TestSimplifyTransposeInvalidPermutations(t *testing.T) {
	cases := []struct {
		name  string
		shape []int64
		perm  []int
	}{
		{name: "length mismatch", shape: []int64{2, 3}, perm: []int{0}},
		{name: "index out of range", shape: []int64{2, 3}, perm: []int{0, 2}},
		{name: "negative index", shape: []int64{2, 3}, perm: []int{0, -1}},
		{name: "duplicate index", shape: []int64{2, 3}, perm: []int{1, 1}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := SimplifyTranspose(tc.shape, tc.perm); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestTransposeCompilesStridedIdentity(t *testing.T) {
	comp := &stubCompiler{op: &Operator{Compiled: stubDispatchable{}}}
	eng := &stubEngine{}

	if _, err := Transpose(eng, comp, tracing.Nop(), "t0", []int64{2, 3, 4, 5}, []int{0, 1, 3, 2}); err != nil {
		t.Fatal(err)
	}

	// The simplified transpose is [6,4,5] with perm [0,2,1]: the input is
	// read through permuted strides while the output is contiguous.
	wantInput := TensorDesc{Sizes: []uint32{6, 5, 4}, Strides: []uint32{20, 1, 5}}
	wantOutput := TensorDesc{Sizes: []uint32{6, 5, 4}, Strides: []uint32{20, 4, 1}}
	if !reflect.DeepEqual(comp.input, wantInput) {
		t.Errorf("input desc = %+v, want %+v", comp.input, wantInput)
	}
	if !reflect.DeepEqual(comp.output, wantOutput) {
		t.Errorf("output desc = %+v, want %+v", comp.output, wantOutput)
	}

	if eng.inits != 0 || eng.execs != 1 {
		t.Errorf("engine saw %d inits, %d execs; want 0, 1", eng.inits, eng.execs)
	}
}

func TestTransposeRejectsBadPermutation(t *testing.T) {
	comp := &stubCompiler{op: &Operator{Compiled: stubDispatchable{}}}
	if _, err := Transpose(&stubEngine{}, comp, tracing.Nop(), "t0", []int64{2, 3}, []int{0, 0}); err == nil {
		t.Error("expected an error")
	}
}
