package device

import "errors"

// Errors reported by device implementations. The engine classifies failures
// with errors.Is against these sentinels, so implementations must wrap them.
var (
	// ErrOutOfMemory indicates the device ran out of memory while building
	// or closing a command list. Recoverable: the engine reports it once and
	// continues with a fresh command list.
	ErrOutOfMemory = errors.New("device: out of memory")

	// ErrDeviceRemoved indicates the device was lost (driver crash, TDR,
	// physical removal). Permanent: the engine reports it on every flush.
	ErrDeviceRemoved = errors.New("device: removed")
)

// QueueType identifies the kind of hardware queue a command list targets.
type QueueType int

const (
	QueueDirect QueueType = iota
	QueueCompute
	QueueCopy
)

// Resource is an opaque GPU buffer. Creation and memory management belong to
// the caller; the engine only records commands against it.
type Resource interface {
	// Size returns the resource size in bytes.
	Size() uint64
}

// Allocator provides scoped device memory for operator bindings. It is
// opaque to the engine, which only forwards it to collaborator kernels.
type Allocator interface {
	Alloc(size uint64) (Resource, error)
	Free(r Resource)
}

// DescriptorHeap is a block of GPU binding-table slots. Slot bookkeeping is
// done by the engine's descriptor pool; the heap only knows its shape.
type DescriptorHeap interface {
	Capacity() int
	ShaderVisible() bool
}

// DescriptorRange is a contiguous run of slots inside a heap, allocated per
// recorded operation and recycled once the tagged completion event passes.
type DescriptorRange struct {
	Heap  DescriptorHeap
	Index int
	Count int
}

// BindingProperties describes the resource requirements an operator declares.
type BindingProperties struct {
	PersistentResourceSize uint64
	TemporaryResourceSize  uint64
}

// Dispatchable is a compiled device program (an operator or an operator
// initializer) that a command list can record a dispatch for. Compilation is
// a collaborator concern; the engine only needs the binding properties to
// decide whether completion barriers are required.
type Dispatchable interface {
	BindingProperties() BindingProperties
}

// BindingTable carries the resource bindings for a dispatch. Its contents
// are meaningful only to the device implementation that recorded it.
type BindingTable interface{}

// CommandAllocator is the backing memory for command lists. It must not be
// reset while the GPU may still consume a list built from it; the engine's
// allocator ring enforces that with completion events.
type CommandAllocator interface {
	Reset() error
}

// CommandList records GPU commands and is closed then submitted as a unit.
type CommandList interface {
	// ResourceBarrier records ordering/visibility barriers.
	ResourceBarrier(barriers []Barrier)

	// CopyBufferRegion records a byteCount-byte copy between buffer regions.
	CopyBufferRegion(dst Resource, dstOffset uint64, src Resource, srcOffset, byteCount uint64)

	// ClearUnorderedAccessView records a 16-byte-pattern fill over the
	// 4-byte elements described by the raw buffer views at gpu and cpu.
	ClearUnorderedAccessView(gpu, cpu DescriptorRange, dst Resource, pattern [16]byte)

	// SetDescriptorHeap binds the heap subsequent dispatches read from.
	SetDescriptorHeap(heap DescriptorHeap)

	// RecordDispatch records execution of a compiled device program.
	RecordDispatch(op Dispatchable, bindings BindingTable)

	// Close finishes recording. The list cannot record again until Reset.
	// Returns an error wrapping ErrOutOfMemory if the device cannot
	// finalize the list.
	Close() error

	// Reset reopens a closed list for recording on top of alloc.
	Reset(alloc CommandAllocator) error
}

// CommandQueue submits closed command lists and owns the hardware fence the
// engine's completion events are measured against.
type CommandQueue interface {
	Type() QueueType

	// Submit enqueues the closed lists for execution and signals the fence
	// with signal once the GPU has consumed them.
	Submit(lists []CommandList, signal uint64)

	// CompletedValue returns the fence value the GPU has reached.
	CompletedValue() uint64

	// WaitForFence blocks until CompletedValue() >= value.
	WaitForFence(value uint64)
}

// Device creates the objects the engine owns and recycles.
type Device interface {
	CreateCommandAllocator(t QueueType) (CommandAllocator, error)
	CreateCommandList(t QueueType, alloc CommandAllocator) (CommandList, error)
	CreateDescriptorHeap(capacity int, shaderVisible bool) (DescriptorHeap, error)

	// CreateRawBufferView writes a raw (4-byte element) unordered-access
	// view over buffer into the heap slot at index.
	CreateRawBufferView(buffer Resource, firstElement, numElements uint32, heap DescriptorHeap, index int)

	// RemovedReason reports nil while the device is healthy, or an error
	// wrapping ErrDeviceRemoved once it has been lost.
	RemovedReason() error
}
