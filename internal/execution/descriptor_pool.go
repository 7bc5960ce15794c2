package execution

import (
	"fmt"

	"github.com/tessera-ml/tessera/device"
)

// defaultHeapCapacity is the slot count for pool-created descriptor heaps.
const defaultHeapCapacity = 2048

type pooledHeap struct {
	heap     device.DescriptorHeap
	capacity int
	used     int

	// doneEvent is the latest completion event tagged onto a range from
	// this heap; the heap may only be recycled once it is reached.
	doneEvent CompletionEvent
}

// descriptorPool hands out descriptor ranges for recorded operations. Each
// range is tagged with the completion event of the submission that will
// consume it; heaps are recycled wholesale once their latest event passes.
type descriptorPool struct {
	dev      device.Device
	capacity int
	heaps    []*pooledHeap

	// Statistics
	rangesAllocated uint64
	heapsCreated    uint64
}

func newDescriptorPool(dev device.Device, capacity int) *descriptorPool {
	if capacity <= 0 {
		capacity = defaultHeapCapacity
	}
	return &descriptorPool{dev: dev, capacity: capacity}
}

// alloc returns a range of count slots valid until done has been reached.
func (p *descriptorPool) alloc(count int, done CompletionEvent, shaderVisible bool) (device.DescriptorRange, error) {
	for _, h := range p.heaps {
		if h.heap.ShaderVisible() != shaderVisible {
			continue
		}
		if h.used+count > h.capacity {
			continue
		}
		r := device.DescriptorRange{Heap: h.heap, Index: h.used, Count: count}
		h.used += count
		if done.After(h.doneEvent) {
			h.doneEvent = done
		}
		p.rangesAllocated++
		return r, nil
	}

	capacity := max(p.capacity, count)
	heap, err := p.dev.CreateDescriptorHeap(capacity, shaderVisible)
	if err != nil {
		return device.DescriptorRange{}, fmt.Errorf("creating descriptor heap: %w", err)
	}
	h := &pooledHeap{heap: heap, capacity: capacity, used: count, doneEvent: done}
	p.heaps = append(p.heaps, h)
	p.heapsCreated++
	p.rangesAllocated++
	return device.DescriptorRange{Heap: heap, Index: 0, Count: count}, nil
}

// reclaim resets every heap whose tagged event the GPU has reached, making
// its slots available for new ranges.
func (p *descriptorPool) reclaim(completed CompletionEvent) {
	for _, h := range p.heaps {
		if h.used > 0 && h.doneEvent.ReachedBy(completed.FenceValue) {
			h.used = 0
		}
	}
}

// stats returns counters for tests and diagnostics.
func (p *descriptorPool) stats() (rangesAllocated, heapsCreated uint64, liveHeaps int) {
	return p.rangesAllocated, p.heapsCreated, len(p.heaps)
}
