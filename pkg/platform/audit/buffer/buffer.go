// Package buffer holds audit records between flushes.
package buffer

import (
	"sync"

	audit "mutation-audit/pkg/platform/audit"
)

// LogBuffer is an unbounded, thread-safe, append-only queue of audit records
// that is emptied in one step by DrainAll.
//
// There is no capacity bound: if uploads keep failing, re-queued batches
// accumulate here until storage recovers.
type LogBuffer struct {
	mu      sync.Mutex
	records []audit.Record
}

// New creates an empty buffer.
func New() *LogBuffer {
	return &LogBuffer{}
}

// Append adds records to the end of the buffer.
func (b *LogBuffer) Append(records ...audit.Record) {
	if len(records) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.records = append(b.records, records...)
}

// DrainAll returns everything currently buffered and leaves the buffer empty.
// Read and reset happen under one lock, so a record appended concurrently
// lands either in this batch or in the next one, never both and never neither.
func (b *LogBuffer) DrainAll() audit.Batch {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.records) == 0 {
		return audit.Batch{}
	}

	batch := audit.Batch(b.records)
	b.records = nil
	return batch
}

// Len returns the current number of buffered records.
func (b *LogBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}
