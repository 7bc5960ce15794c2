// Copyright 2025 Tessera ML. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package execution exposes the GPU command-batching execution engine: one
// logical context per queue that serializes work from any number of caller
// goroutines into batched command-list submissions.
//
// Callers enqueue operations (copy, fill, barriers, operator initialize and
// execute) and immediately receive a predicted CompletionEvent; a background
// goroutine drains batches into the device and flushes when a batch grows
// large enough, sits too long, or a flush is explicitly requested.
//
// Example:
//
//	import (
//	    "github.com/tessera-ml/tessera/device/wgpu"
//	    "github.com/tessera-ml/tessera/execution"
//	)
//
//	func main() {
//	    dev, err := wgpu.New()
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    defer dev.Release()
//
//	    ctx, err := execution.New(dev, dev.Queue(), nil, execution.Options{})
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    defer ctx.Close()
//
//	    event := ctx.CopyBufferRegion(dst, 0, device.StateCommon, src, 0, device.StateCommon, 256)
//	    if _, err := ctx.Flush(); err != nil {
//	        log.Fatal(err)
//	    }
//	    _ = event
//	}
package execution

import (
	"time"

	"github.com/tessera-ml/tessera/device"
	internalexec "github.com/tessera-ml/tessera/internal/execution"
	"github.com/tessera-ml/tessera/tracing"
)

// CompletionEvent marks a point in a queue's submitted-work timeline.
type CompletionEvent = internalexec.CompletionEvent

// Options configures a Context.
type Options struct {
	// BatchFlushSize is the pending-operation count that triggers an
	// automatic flush. Zero reads TESSERA_BATCH_FLUSH_SIZE, then defaults.
	BatchFlushSize int

	// BatchFlushTime bounds how long work sits unsubmitted. Zero reads
	// TESSERA_BATCH_FLUSH_TIME (microseconds), then defaults.
	BatchFlushTime time.Duration

	// Tracer receives best-effort engine events. Nil disables tracing.
	Tracer tracing.Tracer
}

// Context is the multi-producer execution front-end. All methods are safe
// for concurrent use and never block on GPU completion.
type Context struct {
	inner *internalexec.Context
}

// New creates an execution context over dev and queue and starts its
// background drain goroutine. alloc provides scoped memory for operator
// bindings; it may be nil when no collaborator kernels need it.
func New(dev device.Device, queue device.CommandQueue, alloc device.Allocator, opts Options) (*Context, error) {
	inner, err := internalexec.New(dev, queue, alloc, internalexec.Options{
		BatchFlushSize: opts.BatchFlushSize,
		BatchFlushTime: opts.BatchFlushTime,
		Tracer:         opts.Tracer,
	})
	if err != nil {
		return nil, err
	}
	return &Context{inner: inner}, nil
}

// CopyBufferRegion enqueues a buffer-region copy and returns its predicted
// completion event.
func (c *Context) CopyBufferRegion(dst device.Resource, dstOffset uint64, dstState device.ResourceState,
	src device.Resource, srcOffset uint64, srcState device.ResourceState, byteCount uint64) CompletionEvent {
	return c.inner.CopyBufferRegion(dst, dstOffset, dstState, src, srcOffset, srcState, byteCount)
}

// FillBufferWithPattern enqueues a pattern fill. The pattern must evenly
// divide 16 bytes and the destination window must be 4-byte aligned.
func (c *Context) FillBufferWithPattern(dst device.Resource, dstOffset, dstSize uint64, value []byte) (CompletionEvent, error) {
	return c.inner.FillBufferWithPattern(dst, dstOffset, dstSize, value)
}

// InitializeOperator enqueues one-time initialization of a compiled operator.
func (c *Context) InitializeOperator(init device.Dispatchable, bindings device.BindingTable, heap device.DescriptorHeap) CompletionEvent {
	return c.inner.InitializeOperator(init, bindings, heap)
}

// ExecuteOperator enqueues execution of a compiled operator.
func (c *Context) ExecuteOperator(op device.Dispatchable, bindings device.BindingTable, heap device.DescriptorHeap) CompletionEvent {
	return c.inner.ExecuteOperator(op, bindings, heap)
}

// ResourceBarrier enqueues the given barriers.
func (c *Context) ResourceBarrier(barriers []device.Barrier) CompletionEvent {
	return c.inner.ResourceBarrier(barriers)
}

// UavBarrier enqueues an unordered-access barrier over all resources.
func (c *Context) UavBarrier() CompletionEvent {
	return c.inner.UavBarrier()
}

// Flush requests submission of pending work and reports the most recent
// submission failure, if any.
func (c *Context) Flush() (CompletionEvent, error) {
	return c.inner.Flush()
}

// GetCurrentCompletionEvent returns the event covering all enqueued work.
func (c *Context) GetCurrentCompletionEvent() CompletionEvent {
	return c.inner.GetCurrentCompletionEvent()
}

// Close signals the background goroutine to exit without waiting for it.
func (c *Context) Close() {
	c.inner.Close()
}
