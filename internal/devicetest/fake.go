// Package devicetest provides an in-memory device.Device implementation.
// Command lists record commands that are applied to byte-slice buffers at
// submit time, so tests can assert on both submission order and final
// buffer contents. Fence progress, close failures, and device removal are
// all controllable.
package devicetest

import (
	"fmt"
	"sync"

	"github.com/tessera-ml/tessera/device"
)

// Buffer is an in-memory device.Resource.
type Buffer struct {
	mu   sync.Mutex
	data []byte
}

// NewBuffer returns a zeroed buffer of the given size.
func NewBuffer(size int) *Buffer {
	return &Buffer{data: make([]byte, size)}
}

// NewBufferBytes returns a buffer initialized with a copy of data.
func NewBufferBytes(data []byte) *Buffer {
	return &Buffer{data: append([]byte(nil), data...)}
}

func (b *Buffer) Size() uint64 {
	return uint64(len(b.data))
}

// Bytes returns a copy of the buffer contents.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.data...)
}

func (b *Buffer) write(offset uint64, p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	copy(b.data[offset:], p)
}

func (b *Buffer) read(offset, n uint64) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.data[offset:offset+n]...)
}

// Dispatchable is a labeled test operator; the label shows up in the queue
// trace as "dispatch:<name>".
type Dispatchable struct {
	Name  string
	Props device.BindingProperties
}

func (d Dispatchable) BindingProperties() device.BindingProperties { return d.Props }

// MemoryAllocator is a trivial device.Allocator backed by NewBuffer.
type MemoryAllocator struct{}

func (MemoryAllocator) Alloc(size uint64) (device.Resource, error) {
	return NewBuffer(int(size)), nil
}

func (MemoryAllocator) Free(device.Resource) {}

// Device is the fake device. The zero value is not usable; call New.
type Device struct {
	mu    sync.Mutex
	queue *Queue

	removed  error
	closeErr error // consumed by the next CommandList.Close
	heapErr  error // consumed by the next CreateDescriptorHeap

	allocatorsCreated int
	allocatorResets   int
	listsCreated      int
	heapsCreated      int
}

// New returns a fake device with one direct queue whose fence completes
// automatically on submit.
func New() *Device {
	d := &Device{}
	d.queue = newQueue()
	return d
}

// Queue returns the device's only command queue.
func (d *Device) Queue() *Queue {
	return d.queue
}

// SetRemoved marks the device as lost. A nil cause uses ErrDeviceRemoved
// directly; otherwise the cause is attached to it.
func (d *Device) SetRemoved(cause error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cause == nil {
		d.removed = device.ErrDeviceRemoved
		return
	}
	d.removed = fmt.Errorf("%w: %v", device.ErrDeviceRemoved, cause)
}

// FailNextClose makes the next CommandList.Close return err once.
func (d *Device) FailNextClose(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closeErr = err
}

// FailNextHeapCreate makes the next CreateDescriptorHeap return err once.
func (d *Device) FailNextHeapCreate(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.heapErr = err
}

func (d *Device) RemovedReason() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.removed
}

func (d *Device) CreateCommandAllocator(device.QueueType) (device.CommandAllocator, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.allocatorsCreated++
	return &commandAllocator{d: d}, nil
}

func (d *Device) CreateCommandList(_ device.QueueType, _ device.CommandAllocator) (device.CommandList, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listsCreated++
	return &CommandList{d: d}, nil
}

func (d *Device) CreateDescriptorHeap(capacity int, shaderVisible bool) (device.DescriptorHeap, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.heapErr; err != nil {
		d.heapErr = nil
		return nil, err
	}
	d.heapsCreated++
	return &Heap{capacity: capacity, visible: shaderVisible, views: make(map[int]rawView)}, nil
}

func (d *Device) CreateRawBufferView(buffer device.Resource, firstElement, numElements uint32, heap device.DescriptorHeap, index int) {
	h := heap.(*Heap)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.views[index] = rawView{buf: buffer.(*Buffer), first: firstElement, count: numElements}
}

// Stats returns object-creation counters.
func (d *Device) Stats() (allocators, allocatorResets, lists, heaps int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.allocatorsCreated, d.allocatorResets, d.listsCreated, d.heapsCreated
}

type commandAllocator struct {
	d *Device
}

func (a *commandAllocator) Reset() error {
	a.d.mu.Lock()
	defer a.d.mu.Unlock()
	a.d.allocatorResets++
	return nil
}

type rawView struct {
	buf   *Buffer
	first uint32
	count uint32
}

// Heap is a fake descriptor heap holding raw buffer views by slot index.
type Heap struct {
	mu       sync.Mutex
	capacity int
	visible  bool
	views    map[int]rawView
}

func (h *Heap) Capacity() int       { return h.capacity }
func (h *Heap) ShaderVisible() bool { return h.visible }

func (h *Heap) view(index int) (rawView, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	v, ok := h.views[index]
	return v, ok
}

type command struct {
	label string
	apply func()
}

// CommandList records labeled commands; they take effect when the queue
// submits the list.
type CommandList struct {
	d      *Device
	closed bool
	cmds   []command
}

func (l *CommandList) ResourceBarrier(barriers []device.Barrier) {
	l.cmds = append(l.cmds, command{label: fmt.Sprintf("barrier:%d", len(barriers))})
}

func (l *CommandList) CopyBufferRegion(dst device.Resource, dstOffset uint64, src device.Resource, srcOffset, byteCount uint64) {
	d := dst.(*Buffer)
	s := src.(*Buffer)
	l.cmds = append(l.cmds, command{
		label: "copy",
		apply: func() {
			d.write(dstOffset, s.read(srcOffset, byteCount))
		},
	})
}

func (l *CommandList) ClearUnorderedAccessView(gpu, _ device.DescriptorRange, dst device.Resource, pattern [16]byte) {
	heap := gpu.Heap.(*Heap)
	v, ok := heap.view(gpu.Index)
	if !ok {
		panic("devicetest: clear without a raw buffer view")
	}
	buf := dst.(*Buffer)
	l.cmds = append(l.cmds, command{
		label: "clear",
		apply: func() {
			out := make([]byte, v.count*4)
			for i := range out {
				out[i] = pattern[i%len(pattern)]
			}
			buf.write(uint64(v.first)*4, out)
		},
	})
}

func (l *CommandList) SetDescriptorHeap(device.DescriptorHeap) {
	l.cmds = append(l.cmds, command{label: "set_heap"})
}

func (l *CommandList) RecordDispatch(op device.Dispatchable, _ device.BindingTable) {
	label := "dispatch"
	if named, ok := op.(Dispatchable); ok {
		label = "dispatch:" + named.Name
	}
	l.cmds = append(l.cmds, command{label: label})
}

func (l *CommandList) Close() error {
	l.d.mu.Lock()
	err := l.d.closeErr
	l.d.closeErr = nil
	l.d.mu.Unlock()
	if err != nil {
		return err
	}
	l.closed = true
	return nil
}

func (l *CommandList) Reset(device.CommandAllocator) error {
	l.cmds = nil
	l.closed = false
	return nil
}

// Queue is the fake command queue. By default the fence completes as soon
// as work is submitted; SetManualFence defers completion to SignalTo, which
// lets tests hold resources hostage the way a busy GPU would.
type Queue struct {
	mu   sync.Mutex
	cond *sync.Cond

	manual       bool
	completed    uint64
	lastSignaled uint64

	submissions [][]string
	trace       []string
}

func newQueue() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *Queue) Type() device.QueueType { return device.QueueDirect }

func (q *Queue) Submit(lists []device.CommandList, signal uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var labels []string
	for _, list := range lists {
		l := list.(*CommandList)
		if !l.closed {
			panic("devicetest: submitting an open command list")
		}
		for _, cmd := range l.cmds {
			if cmd.apply != nil {
				cmd.apply()
			}
			labels = append(labels, cmd.label)
		}
	}
	q.submissions = append(q.submissions, labels)
	q.trace = append(q.trace, labels...)

	q.lastSignaled = signal
	if !q.manual {
		q.completed = signal
		q.cond.Broadcast()
	}
}

func (q *Queue) CompletedValue() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.completed
}

func (q *Queue) WaitForFence(value uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.completed < value {
		q.cond.Wait()
	}
}

// SetManualFence controls whether Submit auto-completes the fence.
func (q *Queue) SetManualFence(manual bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.manual = manual
}

// SignalTo advances the fence to value, releasing any waiters it covers.
func (q *Queue) SignalTo(value uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if value > q.completed {
		q.completed = value
	}
	q.cond.Broadcast()
}

// Submissions returns a copy of the per-submission command labels.
func (q *Queue) Submissions() [][]string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([][]string, len(q.submissions))
	for i, s := range q.submissions {
		out[i] = append([]string(nil), s...)
	}
	return out
}

// Trace returns a copy of all command labels in submission order.
func (q *Queue) Trace() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.trace...)
}

// SubmissionCount returns how many times work was submitted.
func (q *Queue) SubmissionCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.submissions)
}
