// Package uploader serializes audit batches and writes them to blob storage.
//
// A batch becomes one object: JSON Lines, optionally gzip-compressed, named
// by flush time and the process identity. Every failure, including a panic
// in the storage adapter, is returned as *audit.UploadError so the flush
// loop can re-queue the batch.
package uploader

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	audit "mutation-audit/pkg/platform/audit"
	"mutation-audit/pkg/platform/audit/metrics"
)

// Storage writes a single object to a bucket.
type Storage interface {
	PutObject(ctx context.Context, bucket, key string, body []byte, contentLength int64) error
}

// Uploader persists batches to Storage.
type Uploader struct {
	storage  Storage
	identity Identity
	compress bool
	now      func() time.Time
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu      sync.Mutex
	lastKey string
	seq     int
}

// Option configures the Uploader.
type Option func(*Uploader)

// WithCompression gzips each batch before upload.
func WithCompression(enabled bool) Option {
	return func(u *Uploader) {
		u.compress = enabled
	}
}

// WithClock overrides the time source used for object names.
func WithClock(now func() time.Time) Option {
	return func(u *Uploader) {
		u.now = now
	}
}

// WithLogger sets a logger for upload diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(u *Uploader) {
		u.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(u *Uploader) {
		u.metrics = m
	}
}

// New creates an Uploader for the given storage and identity.
func New(storage Storage, identity Identity, opts ...Option) *Uploader {
	u := &Uploader{
		storage:  storage,
		identity: identity,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Identity returns the identity used for object names.
func (u *Uploader) Identity() Identity {
	return u.identity
}

// Persist writes batch as one object in bucket. An empty batch is a no-op.
// Any failure is returned as *audit.UploadError.
func (u *Uploader) Persist(ctx context.Context, batch audit.Batch, bucket string) (err error) {
	if batch.IsEmpty() {
		return nil
	}

	key := u.nextKey()
	defer func() {
		if r := recover(); r != nil {
			err = &audit.UploadError{Bucket: bucket, Key: key, Records: batch.Len(), Err: fmt.Errorf("storage panic: %v", r)}
		}
	}()

	body, err := encodeLines(batch)
	if err == nil && u.compress {
		body, err = compress(body)
	}
	if err != nil {
		return &audit.UploadError{Bucket: bucket, Key: key, Records: batch.Len(), Err: err}
	}

	start := time.Now()
	if err := u.storage.PutObject(ctx, bucket, key, body, int64(len(body))); err != nil {
		return &audit.UploadError{Bucket: bucket, Key: key, Records: batch.Len(), Err: err}
	}
	u.metrics.ObserveUpload(time.Since(start), len(body))

	if u.logger != nil {
		u.logger.DebugContext(ctx, "audit batch uploaded",
			"bucket", bucket,
			"key", key,
			"records", batch.Len(),
			"bytes", len(body),
		)
	}
	return nil
}

// nextKey returns the object key for a flush happening now. A second flush
// within the same second gets a numeric suffix instead of overwriting.
func (u *Uploader) nextKey() string {
	ext := ExtJSONLines
	if u.compress {
		ext = ExtGzip
	}
	key := u.identity.ObjectKey(u.now(), ext)

	u.mu.Lock()
	defer u.mu.Unlock()

	if key != u.lastKey {
		u.lastKey = key
		u.seq = 0
		return key
	}
	u.seq++
	return fmt.Sprintf("%s-%d%s", strings.TrimSuffix(key, ext), u.seq, ext)
}
