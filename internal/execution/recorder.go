package execution

import (
	"errors"
	"fmt"

	"github.com/tessera-ml/tessera/device"
	"github.com/tessera-ml/tessera/tracing"
)

// executionCore records operations into the one open command list and owns
// the close/submit/reopen cycle. It is driven exclusively by the context's
// background goroutine and is not safe for concurrent use.
type executionCore struct {
	dev       device.Device
	queue     *commandQueue
	allocator device.Allocator
	tracer    tracing.Tracer

	descriptors *descriptorPool
	allocators  *commandAllocatorRing

	// currentList is never nil except during the close→reopen transition
	// or after an unrecoverable device loss.
	currentList device.CommandList
	cachedLists []device.CommandList
	currentHeap device.DescriptorHeap
	opsRecorded int

	// status short-circuits all recording once set. Cleared by Flush unless
	// it wraps device.ErrDeviceRemoved, which is sticky forever.
	status error
}

func newExecutionCore(dev device.Device, q device.CommandQueue, alloc device.Allocator, tracer tracing.Tracer) (*executionCore, error) {
	queue := newCommandQueue(q)
	ring, err := newCommandAllocatorRing(dev, queue.Type(), queue.GetCurrentCompletionEvent())
	if err != nil {
		return nil, err
	}
	c := &executionCore{
		dev:         dev,
		queue:       queue,
		allocator:   alloc,
		tracer:      tracer,
		descriptors: newDescriptorPool(dev, defaultHeapCapacity),
		allocators:  ring,
	}
	if err := c.openCommandList(); err != nil {
		return nil, err
	}
	return c, nil
}

// CopyBufferRegion records a buffer-to-buffer copy, transitioning source and
// destination into copy states when they are not already there.
func (c *executionCore) CopyBufferRegion(dst device.Resource, dstOffset uint64, dstState device.ResourceState,
	src device.Resource, srcOffset uint64, srcState device.ResourceState, byteCount uint64) CompletionEvent {
	if c.status != nil {
		return c.GetCurrentCompletionEvent()
	}

	c.tracer.CopyBufferRegion()

	barriers := make([]device.Barrier, 0, 3)
	if dstState&device.StateCopyDest == 0 {
		barriers = append(barriers, device.Transition(dst, dstState, device.StateCopyDest))
	}
	if srcState&device.StateCopySource == 0 {
		barriers = append(barriers, device.Transition(src, srcState, device.StateCopySource))
	}
	if len(barriers) > 0 {
		c.currentList.ResourceBarrier(barriers)
	}

	c.currentList.CopyBufferRegion(dst, dstOffset, src, srcOffset, byteCount)

	// Restore the original states, and fence the write: the destination may
	// back memory reused by later operations in the same submission.
	for i := range barriers {
		barriers[i].Before, barriers[i].After = barriers[i].After, barriers[i].Before
	}
	barriers = append(barriers, device.Aliasing())
	c.currentList.ResourceBarrier(barriers)

	c.onCommandRecorded()
	return c.GetCurrentCompletionEvent()
}

// FillBufferWithPattern records a fill of dstSize bytes at dstOffset with
// value replicated into a 16-byte window. Arguments must already satisfy
// ValidateFillArgs.
func (c *executionCore) FillBufferWithPattern(dst device.Resource, dstOffset, dstSize uint64, value []byte) CompletionEvent {
	if c.status != nil {
		return c.GetCurrentCompletionEvent()
	}

	c.tracer.FillBufferWithPattern()

	// Replicate the value across the fixed clear window; an empty value
	// leaves the pattern as zeroes.
	var pattern [16]byte
	if len(value) > 0 {
		for i := range pattern {
			pattern[i] = value[i%len(value)]
		}
	}

	// Both ranges are consumed by the next submission, so tag them with the
	// queue's next completion event. Allocation happens before any command
	// is recorded, keeping the list consistent if the pool is exhausted.
	next := c.queue.GetNextCompletionEvent()
	cpuRange, err := c.descriptors.alloc(1, next, false)
	if err != nil {
		c.status = fmt.Errorf("%w: %v", device.ErrOutOfMemory, err)
		return c.GetCurrentCompletionEvent()
	}
	gpuRange, err := c.descriptors.alloc(1, next, true)
	if err != nil {
		c.status = fmt.Errorf("%w: %v", device.ErrOutOfMemory, err)
		return c.GetCurrentCompletionEvent()
	}

	first := uint32(dstOffset / 4)
	count := uint32(dstSize / 4)
	c.dev.CreateRawBufferView(dst, first, count, cpuRange.Heap, cpuRange.Index)
	c.dev.CreateRawBufferView(dst, first, count, gpuRange.Heap, gpuRange.Index)

	c.setDescriptorHeap(gpuRange.Heap)
	c.currentList.ClearUnorderedAccessView(gpuRange, cpuRange, dst, pattern)
	c.currentList.ResourceBarrier([]device.Barrier{device.UAV(), device.Aliasing()})

	c.onCommandRecorded()
	return c.GetCurrentCompletionEvent()
}

// InitializeOperator records one-time initialization of a compiled operator.
// Completion barriers are recorded only when the initializer declares
// persistent or temporary resource requirements.
func (c *executionCore) InitializeOperator(init device.Dispatchable, bindings device.BindingTable, heap device.DescriptorHeap) CompletionEvent {
	if c.status != nil {
		return c.GetCurrentCompletionEvent()
	}

	c.setDescriptorHeap(heap)
	c.currentList.RecordDispatch(init, bindings)

	props := init.BindingProperties()
	if props.PersistentResourceSize > 0 || props.TemporaryResourceSize > 0 {
		c.currentList.ResourceBarrier([]device.Barrier{device.UAV(), device.Aliasing()})
	}

	c.onCommandRecorded()
	return c.GetCurrentCompletionEvent()
}

// ExecuteOperator records execution of a compiled operator and fences all
// of its outputs.
func (c *executionCore) ExecuteOperator(op device.Dispatchable, bindings device.BindingTable, heap device.DescriptorHeap) CompletionEvent {
	if c.status != nil {
		return c.GetCurrentCompletionEvent()
	}

	c.setDescriptorHeap(heap)
	c.currentList.RecordDispatch(op, bindings)
	c.currentList.ResourceBarrier([]device.Barrier{device.UAV(), device.Aliasing()})

	c.onCommandRecorded()
	return c.GetCurrentCompletionEvent()
}

// ResourceBarrier records the given barriers verbatim.
func (c *executionCore) ResourceBarrier(barriers []device.Barrier) CompletionEvent {
	if c.status != nil {
		return c.GetCurrentCompletionEvent()
	}

	c.currentList.ResourceBarrier(barriers)
	c.onCommandRecorded()
	return c.GetCurrentCompletionEvent()
}

// UavBarrier records an unordered-access barrier over all resources.
func (c *executionCore) UavBarrier() CompletionEvent {
	if c.status != nil {
		return c.GetCurrentCompletionEvent()
	}

	c.currentList.ResourceBarrier([]device.Barrier{device.UAV()})
	c.onCommandRecorded()
	return c.GetCurrentCompletionEvent()
}

// Flush closes and submits the open command list, then reopens a fresh one.
// A flush with nothing recorded is a no-op. A resource-exhaustion failure is
// reported once and cleared; device removal is reported forever.
func (c *executionCore) Flush() (CompletionEvent, error) {
	c.tracer.Flush()

	// A failure can be pending with nothing recorded: a fill that could not
	// allocate descriptors sets status before touching the command list. The
	// status check must come first or that failure would never surface.
	if c.status == nil && c.opsRecorded == 0 {
		// Nothing to flush.
		return c.GetCurrentCompletionEvent(), nil
	}

	c.closeAndExecute()

	if c.status != nil {
		err := c.status
		if !errors.Is(err, device.ErrDeviceRemoved) {
			c.status = nil
		}
		return CompletionEvent{}, err
	}

	return c.GetCurrentCompletionEvent(), nil
}

// GetCurrentCompletionEvent returns the event that covers all recorded work.
// Anything recorded but not yet submitted completes at the next fence value.
func (c *executionCore) GetCurrentCompletionEvent() CompletionEvent {
	event := c.queue.GetCurrentCompletionEvent()
	if c.opsRecorded != 0 {
		event.FenceValue++
	}
	return event
}

// Allocator returns the scoped binding-memory allocator for collaborators.
func (c *executionCore) Allocator() device.Allocator {
	return c.allocator
}

// setDescriptorHeap binds heap unless it is already bound, avoiding
// redundant heap switches inside one command list.
func (c *executionCore) setDescriptorHeap(heap device.DescriptorHeap) {
	if heap != nil && heap != c.currentHeap {
		c.currentHeap = heap
		c.currentList.SetDescriptorHeap(heap)
	}
}

func (c *executionCore) onCommandRecorded() {
	c.opsRecorded++
}

func (c *executionCore) openCommandList() error {
	alloc, err := c.allocators.currentAllocator(c.queue)
	if err != nil {
		return err
	}

	if len(c.cachedLists) == 0 {
		list, err := c.dev.CreateCommandList(c.queue.Type(), alloc)
		if err != nil {
			return fmt.Errorf("creating command list: %w", err)
		}
		c.currentList = list
	} else {
		list := c.cachedLists[0]
		c.cachedLists = c.cachedLists[1:]
		if err := list.Reset(alloc); err != nil {
			return fmt.Errorf("resetting command list: %w", err)
		}
		c.currentList = list
	}

	// The current allocator becomes reusable once the list built from it
	// has drained, which the next submission's fence value marks.
	c.allocators.advance(c.queue.GetNextCompletionEvent())
	return nil
}

func (c *executionCore) closeAndExecute() {
	if c.status != nil {
		return
	}

	if err := c.currentList.Close(); err != nil {
		// Typically wraps device.ErrOutOfMemory; either way the list is
		// abandoned rather than returned to the cache.
		c.status = fmt.Errorf("closing command list: %w", err)
	} else {
		if c.opsRecorded != 0 {
			c.queue.ExecuteCommandLists([]device.CommandList{c.currentList})
		}
		c.cachedLists = append(c.cachedLists, c.currentList)
	}

	c.currentList = nil
	c.opsRecorded = 0

	// The descriptor heap must be rebound the next time the list opens.
	c.currentHeap = nil

	c.descriptors.reclaim(c.queue.CompletedEvent())

	// Check for device loss after every close; it overrides any earlier
	// failure and is never cleared.
	if err := c.dev.RemovedReason(); err != nil {
		c.status = fmt.Errorf("after closing command list: %w", err)
		return
	}

	// Always keep a command list open so the core is ready to record.
	if err := c.openCommandList(); err != nil && c.status == nil {
		c.status = err
	}
}

// ValidateFillArgs checks the fill preconditions: the pattern must fit the
// 16-byte clear window evenly and the destination window must be 4-byte
// aligned. Violations are rejected before any GPU state is touched.
func ValidateFillArgs(dstOffset, dstSize uint64, value []byte) error {
	if len(value) > 16 {
		return fmt.Errorf("fill pattern is %d bytes; must not exceed 16", len(value))
	}
	if len(value) > 0 && 16%len(value) != 0 {
		return fmt.Errorf("fill pattern is %d bytes; must evenly divide 16", len(value))
	}
	if dstOffset%4 != 0 {
		return fmt.Errorf("fill offset %d is not 4-byte aligned", dstOffset)
	}
	if dstSize%4 != 0 {
		return fmt.Errorf("fill size %d is not 4-byte aligned", dstSize)
	}
	return nil
}
