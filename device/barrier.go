package device

// ResourceState is a bitmask describing how a resource is currently usable.
type ResourceState uint32

const (
	StateCommon          ResourceState = 0
	StateUnorderedAccess ResourceState = 1 << iota
	StateCopySource
	StateCopyDest
)

// BarrierKind selects the barrier flavor recorded into a command list.
type BarrierKind int

const (
	// BarrierTransition moves a resource between states.
	BarrierTransition BarrierKind = iota
	// BarrierUAV orders unordered-access writes against later reads.
	BarrierUAV
	// BarrierAliasing fences reuse of memory backing multiple resources.
	BarrierAliasing
)

// Barrier is a single synchronization instruction. For BarrierUAV and
// BarrierAliasing a nil Resource means "all resources".
type Barrier struct {
	Kind     BarrierKind
	Resource Resource
	Before   ResourceState
	After    ResourceState
}

// Transition builds a state-transition barrier for r.
func Transition(r Resource, before, after ResourceState) Barrier {
	return Barrier{Kind: BarrierTransition, Resource: r, Before: before, After: after}
}

// UAV builds an unordered-access barrier over all resources.
func UAV() Barrier {
	return Barrier{Kind: BarrierUAV}
}

// Aliasing builds an aliasing barrier over all resources.
func Aliasing() Barrier {
	return Barrier{Kind: BarrierAliasing}
}
