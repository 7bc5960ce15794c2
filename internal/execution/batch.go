package execution

import "github.com/tessera-ml/tessera/device"

// pendingOp is a recorded-but-not-executed operation waiting in a batch.
// Concrete types own copies of any caller-scoped arguments, so a batch can
// be drained long after the enqueueing call has returned.
type pendingOp interface {
	record(c *executionCore)
}

type copyOp struct {
	dst       device.Resource
	dstOffset uint64
	dstState  device.ResourceState
	src       device.Resource
	srcOffset uint64
	srcState  device.ResourceState
	byteCount uint64
}

func (op copyOp) record(c *executionCore) {
	c.CopyBufferRegion(op.dst, op.dstOffset, op.dstState, op.src, op.srcOffset, op.srcState, op.byteCount)
}

type fillOp struct {
	dst       device.Resource
	dstOffset uint64
	dstSize   uint64
	value     []byte // owned copy
}

func (op fillOp) record(c *executionCore) {
	c.FillBufferWithPattern(op.dst, op.dstOffset, op.dstSize, op.value)
}

type initializeOp struct {
	init     device.Dispatchable
	bindings device.BindingTable
	heap     device.DescriptorHeap
}

func (op initializeOp) record(c *executionCore) {
	c.InitializeOperator(op.init, op.bindings, op.heap)
}

type executeOp struct {
	op       device.Dispatchable
	bindings device.BindingTable
	heap     device.DescriptorHeap
}

func (op executeOp) record(c *executionCore) {
	c.ExecuteOperator(op.op, op.bindings, op.heap)
}

type barrierOp struct {
	barriers []device.Barrier // owned copy
}

func (op barrierOp) record(c *executionCore) {
	c.ResourceBarrier(op.barriers)
}

type uavBarrierOp struct{}

func (uavBarrierOp) record(c *executionCore) {
	c.UavBarrier()
}
