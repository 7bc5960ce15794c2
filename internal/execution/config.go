package execution

import (
	"os"
	"strconv"
	"time"
)

const (
	// defaultBatchFlushSize is the batch length that triggers a flush
	// without an explicit request.
	defaultBatchFlushSize = 256

	// defaultBatchFlushTime is how long work may sit unsubmitted before a
	// flush is forced.
	defaultBatchFlushTime = 1000 * time.Microsecond

	envBatchFlushSize = "TESSERA_BATCH_FLUSH_SIZE"
	envBatchFlushTime = "TESSERA_BATCH_FLUSH_TIME" // microseconds
)

// batchFlushSizeFromEnv returns the configured size threshold. Unset, zero,
// or malformed values keep the built-in default.
func batchFlushSizeFromEnv() int {
	n, err := strconv.Atoi(os.Getenv(envBatchFlushSize))
	if err == nil && n > 0 {
		return n
	}
	return defaultBatchFlushSize
}

// batchFlushTimeFromEnv returns the configured time threshold. Unset, zero,
// or malformed values keep the built-in default.
func batchFlushTimeFromEnv() time.Duration {
	n, err := strconv.Atoi(os.Getenv(envBatchFlushTime))
	if err == nil && n > 0 {
		return time.Duration(n) * time.Microsecond
	}
	return defaultBatchFlushTime
}
