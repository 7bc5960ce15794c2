//go:build windows

// Package wgpu implements the device abstraction on top of WebGPU using
// go-webgpu's zero-CGO bindings.
//
// WebGPU tracks resource hazards itself, so state-transition and aliasing
// barriers record as no-ops, and command allocators are tokens: encoders
// own their backing memory. Fence progress is emulated with a blocking
// staging-buffer readback, which WebGPU guarantees happens after all
// previously submitted work.
package wgpu

import (
	"encoding/binary"
	"fmt"
	"sync"
	"unsafe"

	"github.com/go-webgpu/webgpu/wgpu"
	"github.com/gogpu/gputypes"

	"github.com/tessera-ml/tessera/device"
)

// Buffer is a GPU storage buffer implementing device.Resource.
type Buffer struct {
	buf  *wgpu.Buffer
	size uint64
}

func (b *Buffer) Size() uint64 { return b.size }

// Release frees the underlying GPU buffer.
func (b *Buffer) Release() {
	if b.buf != nil {
		b.buf.Release()
		b.buf = nil
	}
}

// Operator is a compiled compute program: pipeline, bindings, and grid.
type Operator struct {
	Pipeline   *wgpu.ComputePipeline
	BindGroup  *wgpu.BindGroup
	Workgroups [3]uint32
	Props      device.BindingProperties
}

func (o *Operator) BindingProperties() device.BindingProperties { return o.Props }

// Device implements device.Device over a WebGPU adapter.
type Device struct {
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	dev      *wgpu.Device
	wq       *wgpu.Queue
	queue    *Queue

	mu           sync.Mutex
	fillPipeline *wgpu.ComputePipeline

	lastSubmitted uint64
	completed     uint64
	removed       error
}

// New creates a WebGPU-backed device, preferring a high-performance adapter.
func New() (d *Device, err error) {
	// Recover from panic if the wgpu_native library is not found.
	defer func() {
		if r := recover(); r != nil {
			d = nil
			err = fmt.Errorf("wgpu: native library not available: %v", r)
		}
	}()

	instance, instanceErr := wgpu.CreateInstance(nil)
	if instanceErr != nil {
		return nil, fmt.Errorf("wgpu: failed to create instance: %w", instanceErr)
	}
	adapter, adapterErr := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if adapterErr != nil {
		instance.Release()
		return nil, fmt.Errorf("wgpu: failed to request adapter: %w", adapterErr)
	}

	dev, deviceErr := adapter.RequestDevice(nil)
	if deviceErr != nil {
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("wgpu: failed to request device: %w", deviceErr)
	}

	wq := dev.GetQueue()
	if wq == nil {
		dev.Release()
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("wgpu: failed to get queue")
	}

	d = &Device{instance: instance, adapter: adapter, dev: dev, wq: wq}
	d.queue = &Queue{d: d}
	return d, nil
}

// Queue returns the device's submission queue.
func (d *Device) Queue() *Queue { return d.queue }

// Release frees all WebGPU objects. The device must not be used afterwards.
func (d *Device) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.fillPipeline != nil {
		d.fillPipeline.Release()
		d.fillPipeline = nil
	}
	if d.wq != nil {
		d.wq.Release()
		d.wq = nil
	}
	if d.dev != nil {
		d.dev.Release()
		d.dev = nil
	}
	if d.adapter != nil {
		d.adapter.Release()
		d.adapter = nil
	}
	if d.instance != nil {
		d.instance.Release()
		d.instance = nil
	}
}

// CreateBufferResource creates a storage buffer initialized with data.
func (d *Device) CreateBufferResource(data []byte) *Buffer {
	size := uint64(len(data))
	alignedSize := (size + 3) &^ 3 // COPY_BUFFER_ALIGNMENT

	buffer := d.dev.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            wgpu.BufferUsage(gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst),
		Size:             alignedSize,
		MappedAtCreation: wgpu.True,
	})

	mappedPtr := buffer.GetMappedRange(0, alignedSize)
	//nolint:gosec // unsafe.Slice for zero-copy conversion from unsafe.Pointer
	mappedSlice := unsafe.Slice((*byte)(mappedPtr), alignedSize)
	copy(mappedSlice, data)
	buffer.Unmap()

	return &Buffer{buf: buffer, size: alignedSize}
}

// NewBufferResource creates a zeroed storage buffer of the given size.
func (d *Device) NewBufferResource(size uint64) *Buffer {
	alignedSize := (size + 3) &^ 3
	buffer := d.dev.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsage(gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst),
		Size:  alignedSize,
	})
	return &Buffer{buf: buffer, size: alignedSize}
}

// ReadBuffer copies a buffer back to CPU memory through a staging buffer.
func (d *Device) ReadBuffer(b *Buffer) ([]byte, error) {
	staging := d.dev.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
		Size:  b.size,
	})
	defer staging.Release()

	encoder := d.dev.CreateCommandEncoder(nil)
	encoder.CopyBufferToBuffer(b.buf, 0, staging, 0, b.size)
	cmdBuffer := encoder.Finish(nil)
	d.wq.Submit(cmdBuffer)

	if err := staging.MapAsync(d.dev, wgpu.MapModeRead, 0, b.size); err != nil {
		return nil, fmt.Errorf("wgpu: failed to map staging buffer: %w", err)
	}

	mappedPtr := staging.GetMappedRange(0, b.size)
	//nolint:gosec // unsafe.Slice for zero-copy conversion from unsafe.Pointer
	mappedSlice := unsafe.Slice((*byte)(mappedPtr), b.size)
	result := make([]byte, b.size)
	copy(result, mappedSlice)
	staging.Unmap()

	return result, nil
}

func (d *Device) CreateCommandAllocator(device.QueueType) (device.CommandAllocator, error) {
	// Encoders own their backing memory; the allocator is a token so the
	// engine's recycling protocol still has something to rotate.
	return &commandAllocator{}, nil
}

func (d *Device) CreateCommandList(_ device.QueueType, _ device.CommandAllocator) (device.CommandList, error) {
	return &commandList{d: d}, nil
}

func (d *Device) CreateDescriptorHeap(capacity int, shaderVisible bool) (device.DescriptorHeap, error) {
	return &descriptorHeap{capacity: capacity, visible: shaderVisible, views: make(map[int]rawView)}, nil
}

func (d *Device) CreateRawBufferView(buffer device.Resource, firstElement, numElements uint32, heap device.DescriptorHeap, index int) {
	h := heap.(*descriptorHeap)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.views[index] = rawView{buf: buffer.(*Buffer), first: firstElement, count: numElements}
}

func (d *Device) RemovedReason() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.removed
}

func (d *Device) setRemoved(cause error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.removed == nil {
		d.removed = fmt.Errorf("%w: %v", device.ErrDeviceRemoved, cause)
	}
}

// getFillPipeline compiles and caches the pattern-fill compute pipeline.
func (d *Device) getFillPipeline() *wgpu.ComputePipeline {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fillPipeline == nil {
		shader := d.dev.CreateShaderModuleWGSL(fillShader)
		d.fillPipeline = d.dev.CreateComputePipelineSimple(nil, shader, "main")
	}
	return d.fillPipeline
}

// sync performs a full round trip to the GPU. MapAsync blocks until all
// previously submitted work has drained, so afterwards everything ever
// submitted has completed.
func (d *Device) sync() {
	marker := d.dev.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
		Size:  4,
	})
	defer marker.Release()
	staging := d.dev.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
		Size:  4,
	})
	defer staging.Release()

	encoder := d.dev.CreateCommandEncoder(nil)
	encoder.CopyBufferToBuffer(marker, 0, staging, 0, 4)
	cmdBuffer := encoder.Finish(nil)
	d.wq.Submit(cmdBuffer)

	if err := staging.MapAsync(d.dev, wgpu.MapModeRead, 0, 4); err != nil {
		d.setRemoved(err)
		return
	}
	staging.Unmap()

	d.mu.Lock()
	d.completed = d.lastSubmitted
	d.mu.Unlock()
}

type commandAllocator struct{}

func (*commandAllocator) Reset() error { return nil }

type rawView struct {
	buf   *Buffer
	first uint32
	count uint32
}

type descriptorHeap struct {
	mu       sync.Mutex
	capacity int
	visible  bool
	views    map[int]rawView
}

func (h *descriptorHeap) Capacity() int       { return h.capacity }
func (h *descriptorHeap) ShaderVisible() bool { return h.visible }

func (h *descriptorHeap) view(index int) (rawView, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	v, ok := h.views[index]
	return v, ok
}

// commandList records deferred encoder operations; they replay into a fresh
// CommandEncoder at submit time. An operation may return a release func for
// transient objects it created; the queue runs those after submitting.
type commandList struct {
	d      *Device
	closed bool
	ops    []func(enc *wgpu.CommandEncoder) func()
}

func (l *commandList) ResourceBarrier([]device.Barrier) {
	// WebGPU inserts hazard barriers itself.
}

func (l *commandList) CopyBufferRegion(dst device.Resource, dstOffset uint64, src device.Resource, srcOffset, byteCount uint64) {
	d := dst.(*Buffer)
	s := src.(*Buffer)
	l.ops = append(l.ops, func(enc *wgpu.CommandEncoder) func() {
		enc.CopyBufferToBuffer(s.buf, srcOffset, d.buf, dstOffset, byteCount)
		return nil
	})
}

func (l *commandList) ClearUnorderedAccessView(gpu, _ device.DescriptorRange, dst device.Resource, pattern [16]byte) {
	heap := gpu.Heap.(*descriptorHeap)
	v, ok := heap.view(gpu.Index)
	if !ok {
		panic("wgpu: clear without a raw buffer view")
	}
	buf := dst.(*Buffer)
	l.ops = append(l.ops, func(enc *wgpu.CommandEncoder) func() {
		return l.d.encodeFill(enc, buf, v.first, v.count, pattern)
	})
}

func (l *commandList) SetDescriptorHeap(device.DescriptorHeap) {
	// Bindings travel inside each Operator's bind group.
}

func (l *commandList) RecordDispatch(op device.Dispatchable, _ device.BindingTable) {
	compiled, ok := op.(*Operator)
	if !ok {
		panic(fmt.Sprintf("wgpu: cannot dispatch %T", op))
	}
	l.ops = append(l.ops, func(enc *wgpu.CommandEncoder) func() {
		pass := enc.BeginComputePass(nil)
		pass.SetPipeline(compiled.Pipeline)
		pass.SetBindGroup(0, compiled.BindGroup, nil)
		pass.DispatchWorkgroups(compiled.Workgroups[0], compiled.Workgroups[1], compiled.Workgroups[2])
		pass.End()
		return nil
	})
}

func (l *commandList) Close() error {
	l.closed = true
	return nil
}

func (l *commandList) Reset(device.CommandAllocator) error {
	l.ops = nil
	l.closed = false
	return nil
}

// encodeFill dispatches the fill pipeline over count 4-byte elements of dst
// starting at element first. The returned func releases the per-fill uniform
// buffer and bind group; run it after the encoded work has been submitted.
func (d *Device) encodeFill(enc *wgpu.CommandEncoder, dst *Buffer, first, count uint32, pattern [16]byte) func() {
	pipeline := d.getFillPipeline()

	// Params: vec4<u32> pattern + first + count, padded to 32 bytes.
	params := make([]byte, 32)
	copy(params[0:16], pattern[:])
	binary.LittleEndian.PutUint32(params[16:20], first)
	binary.LittleEndian.PutUint32(params[20:24], count)

	paramsBuf := d.dev.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
		Size:             32,
		MappedAtCreation: wgpu.True,
	})
	mappedPtr := paramsBuf.GetMappedRange(0, 32)
	//nolint:gosec // unsafe.Slice for zero-copy conversion from unsafe.Pointer
	mappedSlice := unsafe.Slice((*byte)(mappedPtr), 32)
	copy(mappedSlice, params)
	paramsBuf.Unmap()

	bindGroupLayout := pipeline.GetBindGroupLayout(0)
	bindGroup := d.dev.CreateBindGroupSimple(bindGroupLayout, []wgpu.BindGroupEntry{
		wgpu.BufferBindingEntry(0, dst.buf, 0, dst.size),
		wgpu.BufferBindingEntry(1, paramsBuf, 0, 32),
	})

	pass := enc.BeginComputePass(nil)
	pass.SetPipeline(pipeline)
	pass.SetBindGroup(0, bindGroup, nil)
	workgroups := (count + workgroupSize - 1) / workgroupSize
	pass.DispatchWorkgroups(workgroups, 1, 1)
	pass.End()

	return func() {
		bindGroup.Release()
		paramsBuf.Release()
	}
}

// Queue implements device.CommandQueue over the WebGPU queue.
type Queue struct {
	d *Device
}

func (q *Queue) Type() device.QueueType { return device.QueueDirect }

func (q *Queue) Submit(lists []device.CommandList, signal uint64) {
	var transients []func()
	cmdBuffers := make([]*wgpu.CommandBuffer, 0, len(lists))
	for _, list := range lists {
		l := list.(*commandList)
		encoder := q.d.dev.CreateCommandEncoder(nil)
		for _, op := range l.ops {
			if release := op(encoder); release != nil {
				transients = append(transients, release)
			}
		}
		cmdBuffers = append(cmdBuffers, encoder.Finish(nil))
	}
	q.d.wq.Submit(cmdBuffers...)

	// The submitted command buffers hold their own references; our handles
	// to per-fill objects are no longer needed.
	for _, release := range transients {
		release()
	}

	q.d.mu.Lock()
	q.d.lastSubmitted = signal
	q.d.mu.Unlock()
}

func (q *Queue) CompletedValue() uint64 {
	q.d.mu.Lock()
	defer q.d.mu.Unlock()
	return q.d.completed
}

func (q *Queue) WaitForFence(value uint64) {
	if q.CompletedValue() >= value {
		return
	}
	q.d.sync()
}
