package execution

import "github.com/tessera-ml/tessera/device"

// commandQueue wraps a device queue with the fence counter that completion
// events are minted from. It is touched only by the goroutine driving the
// execution core, so it needs no locking.
type commandQueue struct {
	inner device.CommandQueue

	// lastSignaled is the fence value attached to the most recent
	// submission. The GPU reaches it some time after Submit returns.
	lastSignaled uint64
}

func newCommandQueue(q device.CommandQueue) *commandQueue {
	return &commandQueue{inner: q}
}

func (q *commandQueue) Type() device.QueueType {
	return q.inner.Type()
}

// ExecuteCommandLists submits closed lists and signals the next fence value.
// Never blocks the caller.
func (q *commandQueue) ExecuteCommandLists(lists []device.CommandList) {
	q.lastSignaled++
	q.inner.Submit(lists, q.lastSignaled)
}

// GetCurrentCompletionEvent returns the event for the most recent submission.
func (q *commandQueue) GetCurrentCompletionEvent() CompletionEvent {
	return CompletionEvent{FenceValue: q.lastSignaled}
}

// GetNextCompletionEvent returns the event the next submission will carry.
func (q *commandQueue) GetNextCompletionEvent() CompletionEvent {
	return CompletionEvent{FenceValue: q.lastSignaled + 1}
}

// CompletedEvent returns the event the GPU has actually reached.
func (q *commandQueue) CompletedEvent() CompletionEvent {
	return CompletionEvent{FenceValue: q.inner.CompletedValue()}
}

// WaitForEvent blocks until the GPU reaches e.
func (q *commandQueue) WaitForEvent(e CompletionEvent) {
	if !e.ReachedBy(q.inner.CompletedValue()) {
		q.inner.WaitForFence(e.FenceValue)
	}
}
