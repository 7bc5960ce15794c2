package execution

import (
	"testing"
	"time"

	"github.com/tessera-ml/tessera/device"
	"github.com/tessera-ml/tessera/internal/devicetest"
)

func TestAllocatorRingCreatesFixedSlots(t *testing.T) {
	dev := devicetest.New()
	_, err := newCommandAllocatorRing(dev, device.QueueDirect, CompletionEvent{})
	if err != nil {
		t.Fatal(err)
	}

	allocators, _, _, _ := dev.Stats()
	if allocators != allocatorRingSize {
		t.Errorf("allocators created = %d, want %d", allocators, allocatorRingSize)
	}
}

func TestAllocatorRingResetsBeforeReuse(t *testing.T) {
	dev := devicetest.New()
	q := newCommandQueue(dev.Queue())
	ring, err := newCommandAllocatorRing(dev, device.QueueDirect, CompletionEvent{})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := ring.currentAllocator(q); err != nil {
		t.Fatal(err)
	}
	if _, resets, _, _ := dev.Stats(); resets != 1 {
		t.Errorf("allocator resets = %d, want 1", resets)
	}
}

func TestAllocatorRingBlocksUntilSlotDrains(t *testing.T) {
	dev := devicetest.New()
	dev.Queue().SetManualFence(true)
	q := newCommandQueue(dev.Queue())
	ring, err := newCommandAllocatorRing(dev, device.QueueDirect, CompletionEvent{})
	if err != nil {
		t.Fatal(err)
	}

	// Cycle through every slot, tagging each with an unreached event. The
	// ring wraps back to the first slot, which now waits on fence value 1.
	for i := 0; i < allocatorRingSize; i++ {
		if _, err := ring.currentAllocator(q); err != nil {
			t.Fatal(err)
		}
		ring.advance(CompletionEvent{FenceValue: uint64(i + 1)})
	}

	acquired := make(chan struct{})
	go func() {
		defer close(acquired)
		if _, err := ring.currentAllocator(q); err != nil {
			t.Error(err)
		}
	}()

	select {
	case <-acquired:
		t.Fatal("allocator reuse should block while the slot is still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	dev.Queue().SignalTo(1)

	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("allocator reuse did not unblock after the fence advanced")
	}
}
