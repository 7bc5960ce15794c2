// Package execution implements the command-batching execution engine: a
// multi-producer front-end that queues recorded operations, a background
// goroutine that drains them into a single open command list, and the
// completion-event bookkeeping that lets command allocators and descriptor
// ranges be recycled only after the GPU has consumed them.
package execution
