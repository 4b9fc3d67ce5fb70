// Package auditlog owns the lifecycle of mutation audit logging: it starts
// the flush scheduler when a destination bucket is configured, accepts
// records from producers while active, and flushes once more on shutdown.
package auditlog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	audit "mutation-audit/pkg/platform/audit"
	"mutation-audit/pkg/platform/audit/buffer"
	"mutation-audit/pkg/platform/audit/metrics"
	"mutation-audit/pkg/platform/audit/scheduler"
	"mutation-audit/pkg/platform/audit/uploader"
	"mutation-audit/pkg/platform/sentinel"
)

// Config is what Start needs. An empty Bucket disables the subsystem.
type Config struct {
	Bucket        string
	FlushInterval time.Duration
	Compress      bool
	AppID         string
	AppVersion    string
	InstanceID    string
}

// Subsystem is the lifecycle controller. It is safe for concurrent use.
type Subsystem struct {
	storage uploader.Storage
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	ticker  scheduler.TickerFunc

	finalFlushTimeout time.Duration

	mu    sync.RWMutex
	state State
}

// Option configures the Subsystem.
type Option func(*Subsystem)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Subsystem) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Subsystem) {
		s.metrics = m
	}
}

// WithClock overrides the time source used for object names.
func WithClock(now func() time.Time) Option {
	return func(s *Subsystem) {
		s.now = now
	}
}

// WithTicker overrides the scheduler's ticker source.
func WithTicker(f scheduler.TickerFunc) Option {
	return func(s *Subsystem) {
		s.ticker = f
	}
}

// WithFinalFlushTimeout bounds the upload Stop performs. Non-positive values
// are ignored.
func WithFinalFlushTimeout(d time.Duration) Option {
	return func(s *Subsystem) {
		if d > 0 {
			s.finalFlushTimeout = d
		}
	}
}

// DefaultFinalFlushTimeout bounds the shutdown upload unless overridden.
const DefaultFinalFlushTimeout = 30 * time.Second

// New creates an inactive subsystem that will write to storage once started.
func New(storage uploader.Storage, opts ...Option) *Subsystem {
	s := &Subsystem{
		storage: storage,
		logger:  slog.Default(),
		now:     time.Now,
		state:   Inactive{},

		finalFlushTimeout: DefaultFinalFlushTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start activates the subsystem if cfg names a bucket and returns the
// resulting state. Without a bucket it stays Inactive; that is not an error.
// Starting an active subsystem returns the current state unchanged.
func (s *Subsystem) Start(ctx context.Context, cfg Config) State {
	s.mu.Lock()
	defer s.mu.Unlock()

	if active, ok := s.state.(*Active); ok {
		return active
	}

	if cfg.Bucket == "" {
		s.logger.InfoContext(ctx, "audit log disabled, no destination bucket configured")
		s.state = Inactive{}
		return s.state
	}

	identity := uploader.ResolveIdentity(cfg.AppID, cfg.AppVersion, cfg.InstanceID)
	up := uploader.New(s.storage, identity,
		uploader.WithCompression(cfg.Compress),
		uploader.WithClock(s.now),
		uploader.WithLogger(s.logger),
		uploader.WithMetrics(s.metrics),
	)

	buf := buffer.New()
	schedOpts := []scheduler.Option{
		scheduler.WithInterval(cfg.FlushInterval),
		scheduler.WithLogger(s.logger),
		scheduler.WithMetrics(s.metrics),
	}
	if s.ticker != nil {
		schedOpts = append(schedOpts, scheduler.WithTicker(s.ticker))
	}
	sched := scheduler.New(buf, up, cfg.Bucket, schedOpts...)

	// Uploads must outlive the caller's context; Stop ends the loop.
	if err := sched.Start(context.WithoutCancel(ctx)); err != nil {
		// A freshly built scheduler is always idle.
		s.logger.ErrorContext(ctx, "audit log scheduler failed to start", "error", err)
		return s.state
	}

	active := &Active{Buffer: buf, Scheduler: sched, Destination: cfg.Bucket, Identity: up.Identity()}
	s.state = active
	s.metrics.SetBuffered(0)

	s.logger.InfoContext(ctx, "audit log started",
		"bucket", cfg.Bucket,
		"flush_interval", sched.Interval().String(),
		"app_id", identity.AppID,
		"app_version", identity.AppVersion,
		"instance_id", identity.InstanceID,
	)
	return active
}

// Stop stops the scheduler, waits for any running tick, and performs one
// final flush. A failed final flush leaves the batch in the discarded buffer
// and is logged. Stopping an inactive subsystem is a no-op.
//
// The state switches to Inactive before any upload starts, so producers are
// only held for the swap and never wait on the final flush. The flush runs
// on a budget of its own: an expired ctx does not cancel it.
func (s *Subsystem) Stop(ctx context.Context) State {
	s.mu.Lock()
	active, ok := s.state.(*Active)
	if !ok {
		state := s.state
		s.mu.Unlock()
		return state
	}
	s.state = Inactive{}
	s.mu.Unlock()

	active.Scheduler.Stop()

	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.finalFlushTimeout)
	defer cancel()

	flushed, err := active.Scheduler.RunOnce(flushCtx)
	if err != nil {
		s.logger.ErrorContext(ctx, "audit log final flush failed, buffered records lost",
			"bucket", active.Destination,
			"records", active.Buffer.Len(),
			"error", err,
		)
	} else {
		s.logger.InfoContext(ctx, "audit log stopped",
			"bucket", active.Destination,
			"flushed", flushed,
		)
	}
	return Inactive{}
}

// State returns the current state.
func (s *Subsystem) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// IsActive reports whether producers should buffer records.
func (s *Subsystem) IsActive() bool {
	_, ok := s.State().(*Active)
	return ok
}

// Append buffers records for the next flush. Producers are expected to check
// IsActive first; records offered while inactive are dropped.
//
// The read lock is held across the append so a record is either in the
// buffer before Stop swaps the state, and therefore in the final flush, or
// dropped. Nothing under this lock does I/O.
func (s *Subsystem) Append(records ...audit.Record) {
	if len(records) == 0 {
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	active, ok := s.state.(*Active)
	if !ok {
		s.metrics.AddDropped(len(records))
		s.logger.Debug("audit records offered while audit log inactive, dropping",
			"records", len(records),
		)
		return
	}

	active.Buffer.Append(records...)
	s.metrics.AddAppended(len(records))
	s.metrics.SetBuffered(active.Buffer.Len())
}

// Flush runs one flush cycle now. It returns sentinel.ErrInvalidState when the
// subsystem is inactive and the upload error, if any, after re-queueing.
func (s *Subsystem) Flush(ctx context.Context) (int, error) {
	active, ok := s.State().(*Active)
	if !ok {
		return 0, sentinel.ErrInvalidState
	}
	return active.Scheduler.RunOnce(ctx)
}

// Buffered returns the number of records waiting for a flush.
func (s *Subsystem) Buffered() int {
	active, ok := s.State().(*Active)
	if !ok {
		return 0
	}
	return active.Buffer.Len()
}

// Identity returns the naming identity of the running uploader, or the zero
// Identity when inactive.
func (s *Subsystem) Identity() uploader.Identity {
	active, ok := s.State().(*Active)
	if !ok {
		return uploader.Identity{}
	}
	return active.Identity
}

// Destination returns the configured bucket, or "" when inactive.
func (s *Subsystem) Destination() string {
	active, ok := s.State().(*Active)
	if !ok {
		return ""
	}
	return active.Destination
}
