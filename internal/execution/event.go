package execution

// CompletionEvent identifies a point in the submitted-work timeline of a
// single queue. Values are totally ordered: a larger fence value denotes
// work submitted later. An event is reached once the queue's fence passes
// its value.
type CompletionEvent struct {
	FenceValue uint64
}

// After reports whether e denotes work submitted after other.
func (e CompletionEvent) After(other CompletionEvent) bool {
	return e.FenceValue > other.FenceValue
}

// ReachedBy reports whether the fence value completed covers e.
func (e CompletionEvent) ReachedBy(completed uint64) bool {
	return e.FenceValue <= completed
}

// Next returns the event immediately following e on the same timeline.
func (e CompletionEvent) Next() CompletionEvent {
	return CompletionEvent{FenceValue: e.FenceValue + 1}
}
