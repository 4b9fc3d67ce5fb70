package audit

import (
	"fmt"
	"time"
)

// Record is one captured auditable event. The buffering and flush path never
// inspects Payload; it only has to survive JSON encoding.
type Record struct {
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
}

// NewRecord stamps a payload with the given time in UTC.
func NewRecord(at time.Time, payload map[string]any) Record {
	return Record{Timestamp: at.UTC(), Payload: payload}
}

// Batch is the snapshot of records taken by one drain. The flush that drained
// it owns it until it is persisted or handed back to the buffer.
type Batch []Record

// Len returns the number of records in the batch.
func (b Batch) Len() int { return len(b) }

// IsEmpty reports whether there is anything to persist.
func (b Batch) IsEmpty() bool { return len(b) == 0 }

// UploadError is returned when a batch could not be encoded or written to
// blob storage. The batch is expected to be re-queued by the caller.
type UploadError struct {
	Bucket  string
	Key     string
	Records int
	Err     error
}

func (e *UploadError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("audit upload of %d records to %s failed: %v", e.Records, e.Bucket, e.Err)
	}
	return fmt.Sprintf("audit upload of %d records to %s/%s failed: %v", e.Records, e.Bucket, e.Key, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }
