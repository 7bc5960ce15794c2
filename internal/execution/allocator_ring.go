package execution

import (
	"fmt"

	"github.com/tessera-ml/tessera/device"
)

// allocatorRingSize is the number of command allocators kept in flight.
// Three slots allow one allocator being recorded, one submitted, and one
// still draining on the GPU without ever blocking in the steady state.
const allocatorRingSize = 3

type allocatorSlot struct {
	allocator device.CommandAllocator

	// doneEvent is the completion event after which the allocator's memory
	// is no longer referenced by the GPU and may be reset.
	doneEvent CompletionEvent
}

// commandAllocatorRing is a fixed circular pool of command allocators. It
// advances one slot per command-list open; taking a slot whose tagged event
// has not been reached blocks until the GPU catches up.
type commandAllocatorRing struct {
	slots   [allocatorRingSize]allocatorSlot
	current int
}

func newCommandAllocatorRing(dev device.Device, t device.QueueType, initial CompletionEvent) (*commandAllocatorRing, error) {
	r := &commandAllocatorRing{}
	for i := range r.slots {
		alloc, err := dev.CreateCommandAllocator(t)
		if err != nil {
			return nil, fmt.Errorf("creating command allocator %d: %w", i, err)
		}
		// initial is already reached, so every slot starts reusable.
		r.slots[i] = allocatorSlot{allocator: alloc, doneEvent: initial}
	}
	return r, nil
}

// currentAllocator waits until the current slot is safe to reuse, resets it,
// and returns it ready for recording.
func (r *commandAllocatorRing) currentAllocator(q *commandQueue) (device.CommandAllocator, error) {
	slot := &r.slots[r.current]
	q.WaitForEvent(slot.doneEvent)
	if err := slot.allocator.Reset(); err != nil {
		return nil, fmt.Errorf("resetting command allocator: %w", err)
	}
	return slot.allocator, nil
}

// advance tags the current slot with the event after which it may be reset
// and rotates to the next slot.
func (r *commandAllocatorRing) advance(done CompletionEvent) {
	r.slots[r.current].doneEvent = done
	r.current = (r.current + 1) % allocatorRingSize
}
