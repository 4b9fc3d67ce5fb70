// Package scheduler periodically drains the audit buffer and uploads the
// drained batch, putting it back into the buffer when the upload fails.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	audit "mutation-audit/pkg/platform/audit"
	"mutation-audit/pkg/platform/audit/buffer"
	"mutation-audit/pkg/platform/audit/metrics"
	"mutation-audit/pkg/platform/sentinel"
)

// DefaultInterval is the time between two flush ticks.
const DefaultInterval = 10 * time.Second

// Uploader persists one batch to a destination bucket.
type Uploader interface {
	Persist(ctx context.Context, batch audit.Batch, bucket string) error
}

// Ticker delivers flush ticks. The default wraps time.Ticker.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

// TickerFunc builds a Ticker for an interval.
type TickerFunc func(d time.Duration) Ticker

func newTimeTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}

// Status is the scheduler lifecycle position.
type Status int

const (
	StatusIdle Status = iota
	StatusRunning
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusRunning:
		return "running"
	case StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Scheduler runs flush ticks on a fixed interval from a single goroutine.
// Ticks, manual flushes and the shutdown flush all go through RunOnce and
// never overlap.
type Scheduler struct {
	buffer      *buffer.LogBuffer
	uploader    Uploader
	destination string

	interval  time.Duration
	newTicker TickerFunc
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer

	flushMu sync.Mutex

	mu     sync.Mutex
	status Status
	quit   chan struct{}
	done   chan struct{}
}

// Option configures the Scheduler.
type Option func(*Scheduler)

// WithInterval sets the flush interval. Non-positive values keep the default.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithTicker replaces the ticker source, mainly for tests.
func WithTicker(f TickerFunc) Option {
	return func(s *Scheduler) {
		s.newTicker = f
	}
}

// WithLogger sets a logger for flush failures.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

// New creates an idle scheduler that flushes buf to destination.
func New(buf *buffer.LogBuffer, uploader Uploader, destination string, opts ...Option) *Scheduler {
	s := &Scheduler{
		buffer:      buf,
		uploader:    uploader,
		destination: destination,
		interval:    DefaultInterval,
		newTicker:   newTimeTicker,
		logger:      slog.Default(),
		tracer:      otel.Tracer("mutation-audit/scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Interval returns the configured flush interval.
func (s *Scheduler) Interval() time.Duration { return s.interval }

// Status returns the lifecycle position.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Start begins ticking. The first tick fires one full interval after Start.
// A scheduler starts at most once; later calls return sentinel.ErrInvalidState.
// Uploads run with ctx; cancelling it also ends the loop and moves the
// scheduler to StatusStopped.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusIdle {
		return sentinel.ErrInvalidState
	}

	ticker := s.newTicker(s.interval)
	s.quit = make(chan struct{})
	s.done = make(chan struct{})
	s.status = StatusRunning

	go s.loop(ctx, ticker, s.quit, s.done)
	return nil
}

// Stop cancels the ticker and waits for an in-flight tick to finish. No tick
// starts after Stop returns. Calling Stop again is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.status != StatusRunning {
		s.status = StatusStopped
		s.mu.Unlock()
		return
	}
	s.status = StatusStopped
	close(s.quit)
	done := s.done
	s.mu.Unlock()

	<-done
}

func (s *Scheduler) loop(ctx context.Context, ticker Ticker, quit <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer ticker.Stop()

	for {
		select {
		case <-quit:
			return
		case <-ctx.Done():
			s.mu.Lock()
			s.status = StatusStopped
			s.mu.Unlock()
			return
		case <-ticker.C():
			// Stop may have raced the tick; honour it first.
			select {
			case <-quit:
				return
			default:
			}
			_, _ = s.RunOnce(ctx)
		}
	}
}

// RunOnce drains the buffer and uploads the batch. On failure the whole batch
// is appended back to the buffer and the error is returned after logging.
// It returns the number of records persisted.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	batch := s.buffer.DrainAll()
	if batch.IsEmpty() {
		s.metrics.ObserveFlush(metrics.OutcomeEmpty, 0)
		return 0, nil
	}

	ctx, span := s.tracer.Start(ctx, "auditlog.flush",
		trace.WithAttributes(
			attribute.String("audit.destination", s.destination),
			attribute.Int("audit.records", batch.Len()),
		),
	)
	defer span.End()

	if err := s.uploader.Persist(ctx, batch, s.destination); err != nil {
		s.buffer.Append(batch...)
		s.metrics.ObserveFlush(metrics.OutcomeFailure, batch.Len())
		s.metrics.SetBuffered(s.buffer.Len())
		span.RecordError(err)
		span.SetStatus(codes.Error, "upload failed")
		s.logger.WarnContext(ctx, "audit log flush failed, batch re-queued",
			"destination", s.destination,
			"records", batch.Len(),
			"buffered", s.buffer.Len(),
			"error", err,
		)
		return 0, err
	}

	s.metrics.ObserveFlush(metrics.OutcomeSuccess, batch.Len())
	s.metrics.SetBuffered(s.buffer.Len())
	return batch.Len(), nil
}
