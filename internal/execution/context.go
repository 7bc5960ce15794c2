package execution

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tessera-ml/tessera/device"
	"github.com/tessera-ml/tessera/tracing"
)

// Options configures a Context. Zero values fall back to the environment
// variables TESSERA_BATCH_FLUSH_SIZE / TESSERA_BATCH_FLUSH_TIME and then to
// built-in defaults.
type Options struct {
	// BatchFlushSize is the number of pending operations that forces a
	// flush without an explicit request.
	BatchFlushSize int

	// BatchFlushTime is how long work may sit unsubmitted before a flush
	// is forced.
	BatchFlushTime time.Duration

	// Tracer receives best-effort engine events. Nil means no tracing.
	Tracer tracing.Tracer
}

type flushFailure struct {
	err error
}

// sharedState is owned jointly by the Context and its background goroutine.
// The goroutine holds its own reference, so it remains valid after the
// Context is closed and dropped.
type sharedState struct {
	mu sync.Mutex

	// Two batches addressed by writeIndex: producers append to the write
	// batch, the background goroutine drains the other. Only the goroutine
	// swaps the index, and only while holding mu.
	batches    [2][]pendingOp
	writeIndex int

	// nextFlushEvent is the completion event the next flush will carry;
	// producers return it as their prediction.
	nextFlushEvent CompletionEvent

	flushRequested bool
	exitRequested  bool

	// wake is signaled (non-blocking, 1-slot) on every enqueue, flush
	// request, and exit.
	wake chan struct{}

	// lastErr holds the most recent recoverable flush failure, consumed by
	// the next Flush call. removedErr is set once and never cleared.
	lastErr    atomic.Pointer[flushFailure]
	removedErr atomic.Pointer[flushFailure]
}

func (s *sharedState) writeBatch() *[]pendingOp {
	return &s.batches[s.writeIndex]
}

func (s *sharedState) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Context is the multi-producer front-end of the execution engine. Any
// number of goroutines may enqueue operations concurrently; each call
// appends to the current write batch under a single mutex and returns a
// predicted completion event without blocking on the GPU.
type Context struct {
	state *sharedState
	core  *executionCore
}

// New creates an execution context over the given device and queue and
// starts its background drain goroutine. alloc provides scoped memory for
// operator bindings and is opaque to the engine.
func New(dev device.Device, queue device.CommandQueue, alloc device.Allocator, opts Options) (*Context, error) {
	tracer := opts.Tracer
	if tracer == nil {
		tracer = tracing.Nop()
	}

	core, err := newExecutionCore(dev, queue, alloc, tracer)
	if err != nil {
		return nil, err
	}

	state := &sharedState{wake: make(chan struct{}, 1)}
	state.nextFlushEvent = core.GetCurrentCompletionEvent().Next()

	flushSize := opts.BatchFlushSize
	if flushSize <= 0 {
		flushSize = batchFlushSizeFromEnv()
	}
	flushTime := opts.BatchFlushTime
	if flushTime <= 0 {
		flushTime = batchFlushTimeFromEnv()
	}

	tracer.ContextCreated()

	go drainLoop(state, core, flushSize, flushTime)

	return &Context{state: state, core: core}, nil
}

// CopyBufferRegion enqueues a buffer-region copy and returns the completion
// event the operation is predicted to be covered by.
func (c *Context) CopyBufferRegion(dst device.Resource, dstOffset uint64, dstState device.ResourceState,
	src device.Resource, srcOffset uint64, srcState device.ResourceState, byteCount uint64) CompletionEvent {
	s := c.state
	s.mu.Lock()
	*s.writeBatch() = append(*s.writeBatch(), copyOp{
		dst:       dst,
		dstOffset: dstOffset,
		dstState:  dstState,
		src:       src,
		srcOffset: srcOffset,
		srcState:  srcState,
		byteCount: byteCount,
	})
	event := s.nextFlushEvent
	s.mu.Unlock()
	s.notify()
	return event
}

// FillBufferWithPattern enqueues a pattern fill. The pattern is copied, so
// the caller may reuse value immediately. Precondition violations are
// rejected here, before anything is enqueued.
func (c *Context) FillBufferWithPattern(dst device.Resource, dstOffset, dstSize uint64, value []byte) (CompletionEvent, error) {
	if err := ValidateFillArgs(dstOffset, dstSize, value); err != nil {
		return CompletionEvent{}, err
	}

	owned := append([]byte(nil), value...)

	s := c.state
	s.mu.Lock()
	*s.writeBatch() = append(*s.writeBatch(), fillOp{dst: dst, dstOffset: dstOffset, dstSize: dstSize, value: owned})
	event := s.nextFlushEvent
	s.mu.Unlock()
	s.notify()
	return event, nil
}

// InitializeOperator enqueues one-time initialization of a compiled operator.
func (c *Context) InitializeOperator(init device.Dispatchable, bindings device.BindingTable, heap device.DescriptorHeap) CompletionEvent {
	s := c.state
	s.mu.Lock()
	*s.writeBatch() = append(*s.writeBatch(), initializeOp{init: init, bindings: bindings, heap: heap})
	event := s.nextFlushEvent
	s.mu.Unlock()
	s.notify()
	return event
}

// ExecuteOperator enqueues execution of a compiled operator.
func (c *Context) ExecuteOperator(op device.Dispatchable, bindings device.BindingTable, heap device.DescriptorHeap) CompletionEvent {
	s := c.state
	s.mu.Lock()
	*s.writeBatch() = append(*s.writeBatch(), executeOp{op: op, bindings: bindings, heap: heap})
	event := s.nextFlushEvent
	s.mu.Unlock()
	s.notify()
	return event
}

// ResourceBarrier enqueues the given barriers. The slice is copied, so the
// caller may reuse it immediately.
func (c *Context) ResourceBarrier(barriers []device.Barrier) CompletionEvent {
	owned := append([]device.Barrier(nil), barriers...)

	s := c.state
	s.mu.Lock()
	*s.writeBatch() = append(*s.writeBatch(), barrierOp{barriers: owned})
	event := s.nextFlushEvent
	s.mu.Unlock()
	s.notify()
	return event
}

// UavBarrier enqueues an unordered-access barrier over all resources.
func (c *Context) UavBarrier() CompletionEvent {
	s := c.state
	s.mu.Lock()
	*s.writeBatch() = append(*s.writeBatch(), uavBarrierOp{})
	event := s.nextFlushEvent
	s.mu.Unlock()
	s.notify()
	return event
}

// Flush requests that the pending batch be submitted and returns the event
// it will carry, or the previous event if nothing is pending. The returned
// error is the most recent submission failure observed by the background
// goroutine: device removal is reported on every call, anything else once.
func (c *Context) Flush() (CompletionEvent, error) {
	s := c.state
	s.mu.Lock()
	event := s.nextFlushEvent
	if len(*s.writeBatch()) == 0 {
		// Nothing to flush; pending work completed at the previous value.
		event.FenceValue--
	}
	s.flushRequested = true
	s.mu.Unlock()
	s.notify()

	if f := s.removedErr.Load(); f != nil {
		return event, f.err
	}
	if f := s.lastErr.Swap(nil); f != nil {
		return event, f.err
	}
	return event, nil
}

// GetCurrentCompletionEvent returns the event covering all enqueued work
// without requesting a flush.
func (c *Context) GetCurrentCompletionEvent() CompletionEvent {
	s := c.state
	s.mu.Lock()
	event := s.nextFlushEvent
	if len(*s.writeBatch()) == 0 {
		event.FenceValue--
	}
	s.mu.Unlock()
	return event
}

// Close asks the background goroutine to exit and returns immediately
// without waiting for it, so teardown never blocks on in-flight GPU work.
// The goroutine keeps its own reference to the shared state and terminates
// at the top of its next iteration.
func (c *Context) Close() {
	s := c.state
	s.mu.Lock()
	s.exitRequested = true
	s.mu.Unlock()
	s.notify()
}

// drainLoop is the background consumer. It swaps the write batch under the
// lock, then records and flushes the drained batch outside it, preserving
// enqueue order. A batch is flushed when explicitly requested, when it
// reaches flushSize operations, or when flushTime has elapsed since the
// previous flush; the three-way policy trades per-submission overhead
// against latency.
func drainLoop(state *sharedState, core *executionCore, flushSize int, flushTime time.Duration) {
	lastFlush := time.Now()

	for {
		state.mu.Lock()
		if state.exitRequested {
			state.mu.Unlock()
			return
		}

		batch := state.writeBatch()
		if len(*batch) == 0 {
			// The only suspension point: wait for an enqueue, an explicit
			// flush, or exit.
			state.mu.Unlock()
			<-state.wake
			continue
		}

		elapsed := time.Since(lastFlush)
		flush := state.flushRequested || len(*batch) >= flushSize || elapsed >= flushTime
		state.flushRequested = false

		var (
			ops     []pendingOp
			drained int
		)
		if flush {
			drained = state.writeIndex
			ops = state.batches[drained]
			state.writeIndex = (state.writeIndex + 1) % 2
			// Producers have been predicting this value; the flush that
			// carries their operations is now committed to it.
			state.nextFlushEvent.FenceValue++
		}
		state.mu.Unlock()

		if !flush {
			// Thresholds unmet: sleep out the remaining time budget, but
			// wake early for new work or an explicit request.
			select {
			case <-state.wake:
			case <-time.After(flushTime - elapsed):
			}
			continue
		}

		for _, op := range ops {
			op.record(core)
		}
		// The drained slot is consumer-owned until the next swap.
		state.batches[drained] = ops[:0]

		if _, err := core.Flush(); err != nil {
			if errors.Is(err, device.ErrDeviceRemoved) {
				state.removedErr.CompareAndSwap(nil, &flushFailure{err: err})
			} else {
				state.lastErr.Store(&flushFailure{err: err})
			}
		}
		lastFlush = time.Now()
	}
}
