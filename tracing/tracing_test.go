package tracing

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func emitAll(tr Tracer) {
	tr.ContextCreated()
	tr.CopyBufferRegion()
	tr.FillBufferWithPattern()
	tr.Flush()
	tr.KernelComputeBegin("Transpose", "transpose_0")
	tr.KernelComputeEnd("Transpose", "transpose_0")
}

func TestNopTracerDiscardsEverything(t *testing.T) {
	emitAll(Nop())
}

func TestLogTracerEmitsStructuredEvents(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	emitAll(NewLog(logger))

	entries := hook.AllEntries()
	require.Len(t, entries, 6)

	assert.Equal(t, "context_created", entries[0].Data["event"])
	assert.Equal(t, "copy_buffer_region", entries[1].Data["event"])
	assert.Equal(t, "fill_buffer_with_pattern", entries[2].Data["event"])
	assert.Equal(t, "flush", entries[3].Data["event"])

	begin := entries[4]
	assert.Equal(t, "kernel_compute_begin", begin.Data["event"])
	assert.Equal(t, "Transpose", begin.Data["op_type"])
	assert.Equal(t, "transpose_0", begin.Data["op_name"])

	end := entries[5]
	assert.Equal(t, "kernel_compute_end", end.Data["event"])

	for _, e := range entries {
		assert.Equal(t, logrus.DebugLevel, e.Level)
	}
}

func TestLogTracerNilLoggerFallsBack(t *testing.T) {
	// Must not panic; events route to the standard logger.
	emitAll(NewLog(nil))
}
