package execution

import (
	"testing"

	"github.com/tessera-ml/tessera/internal/devicetest"
)

func TestDescriptorPoolPacksRangesIntoOneHeap(t *testing.T) {
	dev := devicetest.New()
	p := newDescriptorPool(dev, 8)

	ev := CompletionEvent{FenceValue: 1}
	a, err := p.alloc(2, ev, false)
	if err != nil {
		t.Fatal(err)
	}
	b, err := p.alloc(3, ev, false)
	if err != nil {
		t.Fatal(err)
	}

	if a.Heap != b.Heap {
		t.Error("ranges within capacity should share one heap")
	}
	if a.Index != 0 || b.Index != 2 {
		t.Errorf("indices = %d, %d; want 0, 2", a.Index, b.Index)
	}

	ranges, heaps, live := p.stats()
	if ranges != 2 || heaps != 1 || live != 1 {
		t.Errorf("stats = %d ranges, %d heaps created, %d live; want 2, 1, 1", ranges, heaps, live)
	}
}

func TestDescriptorPoolSeparatesShaderVisibility(t *testing.T) {
	dev := devicetest.New()
	p := newDescriptorPool(dev, 8)

	ev := CompletionEvent{FenceValue: 1}
	cpu, err := p.alloc(1, ev, false)
	if err != nil {
		t.Fatal(err)
	}
	gpu, err := p.alloc(1, ev, true)
	if err != nil {
		t.Fatal(err)
	}

	if cpu.Heap == gpu.Heap {
		t.Error("shader-visible and staging ranges must not share a heap")
	}
	if cpu.Heap.ShaderVisible() || !gpu.Heap.ShaderVisible() {
		t.Error("heap visibility does not match the requested range")
	}
}

func TestDescriptorPoolGrowsWhenFull(t *testing.T) {
	dev := devicetest.New()
	p := newDescriptorPool(dev, 4)

	ev := CompletionEvent{FenceValue: 1}
	first, err := p.alloc(4, ev, false)
	if err != nil {
		t.Fatal(err)
	}
	second, err := p.alloc(1, ev, false)
	if err != nil {
		t.Fatal(err)
	}

	if first.Heap == second.Heap {
		t.Error("a full heap should not serve further ranges")
	}
	if _, heaps, _ := p.stats(); heaps != 2 {
		t.Errorf("heaps created = %d, want 2", heaps)
	}
}

func TestDescriptorPoolOversizeRange(t *testing.T) {
	dev := devicetest.New()
	p := newDescriptorPool(dev, 4)

	r, err := p.alloc(16, CompletionEvent{FenceValue: 1}, false)
	if err != nil {
		t.Fatal(err)
	}
	if r.Count != 16 || r.Heap.Capacity() < 16 {
		t.Errorf("oversize range got count %d in capacity %d", r.Count, r.Heap.Capacity())
	}
}

func TestDescriptorPoolReclaim(t *testing.T) {
	dev := devicetest.New()
	p := newDescriptorPool(dev, 4)

	done := CompletionEvent{FenceValue: 2}
	if _, err := p.alloc(4, done, false); err != nil {
		t.Fatal(err)
	}

	// Not reached yet: the heap stays full and a new one is created.
	p.reclaim(CompletionEvent{FenceValue: 1})
	if _, err := p.alloc(4, done, false); err != nil {
		t.Fatal(err)
	}
	if _, heaps, _ := p.stats(); heaps != 2 {
		t.Fatalf("heaps created = %d, want 2", heaps)
	}

	// Reached: both heaps recycle and no new heap is needed.
	p.reclaim(CompletionEvent{FenceValue: 2})
	if _, err := p.alloc(4, CompletionEvent{FenceValue: 3}, false); err != nil {
		t.Fatal(err)
	}
	if _, heaps, _ := p.stats(); heaps != 2 {
		t.Errorf("heaps created = %d after reclaim, want 2", heaps)
	}
}
