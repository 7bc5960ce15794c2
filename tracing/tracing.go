// Package tracing provides the best-effort event sink the execution engine
// reports into. A Tracer is injected at construction so tests can substitute
// a recording double; there is no process-wide singleton.
package tracing

import "github.com/sirupsen/logrus"

// Tracer receives engine lifecycle and per-operation events. Implementations
// must be safe for concurrent use and must never fail: the engine ignores
// anything that happens inside a Tracer.
type Tracer interface {
	ContextCreated()
	CopyBufferRegion()
	FillBufferWithPattern()
	Flush()
	KernelComputeBegin(opType, opName string)
	KernelComputeEnd(opType, opName string)
}

type nopTracer struct{}

func (nopTracer) ContextCreated()                       {}
func (nopTracer) CopyBufferRegion()                     {}
func (nopTracer) FillBufferWithPattern()                {}
func (nopTracer) Flush()                                {}
func (nopTracer) KernelComputeBegin(opType, opName string) {}
func (nopTracer) KernelComputeEnd(opType, opName string)   {}

// Nop returns a Tracer that discards every event.
func Nop() Tracer {
	return nopTracer{}
}

type logTracer struct {
	log logrus.FieldLogger
}

// NewLog returns a Tracer that emits structured debug records through log.
// A nil log falls back to the logrus standard logger.
func NewLog(log logrus.FieldLogger) Tracer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &logTracer{log: log}
}

func (t *logTracer) ContextCreated() {
	t.log.WithField("event", "context_created").Debug("execution context created")
}

func (t *logTracer) CopyBufferRegion() {
	t.log.WithField("event", "copy_buffer_region").Debug("copy recorded")
}

func (t *logTracer) FillBufferWithPattern() {
	t.log.WithField("event", "fill_buffer_with_pattern").Debug("fill recorded")
}

func (t *logTracer) Flush() {
	t.log.WithField("event", "flush").Debug("command list flushed")
}

func (t *logTracer) KernelComputeBegin(opType, opName string) {
	t.log.WithFields(logrus.Fields{
		"event":   "kernel_compute_begin",
		"op_type": opType,
		"op_name": opName,
	}).Debug("kernel compute begin")
}

func (t *logTracer) KernelComputeEnd(opType, opName string) {
	t.log.WithFields(logrus.Fields{
		"event":   "kernel_compute_end",
		"op_type": opType,
		"op_name": opName,
	}).Debug("kernel compute end")
}
