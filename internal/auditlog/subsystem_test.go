package auditlog

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	audit "mutation-audit/pkg/platform/audit"
	"mutation-audit/pkg/platform/audit/blobstore/memory"
	"mutation-audit/pkg/platform/audit/metrics"
	"mutation-audit/pkg/platform/audit/scheduler"
	"mutation-audit/pkg/platform/audit/uploader"
	"mutation-audit/pkg/platform/sentinel"
)

type chanTicker struct{ ch chan time.Time }

func (t chanTicker) C() <-chan time.Time { return t.ch }
func (t chanTicker) Stop()               {}

type SubsystemSuite struct {
	suite.Suite
	store   *memory.InMemoryStore
	ticks   chan time.Time
	metrics *metrics.Metrics
	logs    *syncBuffer
	sub     *Subsystem
	cfg     Config
}

func TestSubsystemSuite(t *testing.T) {
	suite.Run(t, new(SubsystemSuite))
}

func (s *SubsystemSuite) SetupTest() {
	s.store = memory.NewInMemoryStore()
	s.ticks = make(chan time.Time)
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.logs = &syncBuffer{}
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.sub = New(s.store,
		WithLogger(slog.New(slog.NewTextHandler(s.logs, &slog.HandlerOptions{Level: slog.LevelDebug}))),
		WithMetrics(s.metrics),
		WithClock(func() time.Time { return now }),
		WithTicker(func(time.Duration) scheduler.Ticker { return chanTicker{ch: s.ticks} }),
	)
	s.cfg = Config{
		Bucket:     "audit-bucket",
		AppID:      "orders",
		AppVersion: "2.0.0",
		InstanceID: "pod-1",
	}
}

func (s *SubsystemSuite) TearDownTest() {
	s.sub.Stop(context.Background())
}

func rec(id string) audit.Record {
	return audit.NewRecord(time.Unix(0, 0), map[string]any{"id": id})
}

func lines(body []byte) []string {
	return strings.Split(string(body), "\n")
}

func (s *SubsystemSuite) TestInactiveWithoutBucket() {
	state := s.sub.Start(context.Background(), Config{})

	s.IsType(Inactive{}, state)
	s.False(s.sub.IsActive())
	s.Contains(s.logs.String(), "audit log disabled")

	s.NotPanics(func() { s.sub.Append(rec("a")) })
	s.Zero(s.sub.Buffered())
	s.Empty(s.sub.Destination())
	s.Equal(1.0, testutil.ToFloat64(s.metrics.RecordsDropped))

	_, err := s.sub.Flush(context.Background())
	s.ErrorIs(err, sentinel.ErrInvalidState)

	s.IsType(Inactive{}, s.sub.Stop(context.Background()))
	s.Zero(s.store.Puts())
}

func (s *SubsystemSuite) TestStartActivates() {
	state := s.sub.Start(context.Background(), s.cfg)

	active, ok := state.(*Active)
	s.Require().True(ok)
	s.Equal("audit-bucket", active.Destination)
	s.Equal(scheduler.StatusRunning, active.Scheduler.Status())
	s.Equal(scheduler.DefaultInterval, active.Scheduler.Interval())
	s.True(s.sub.IsActive())
	s.Equal("audit-bucket", s.sub.Destination())
}

func (s *SubsystemSuite) TestStartTwiceReturnsSameState() {
	first := s.sub.Start(context.Background(), s.cfg)
	second := s.sub.Start(context.Background(), Config{Bucket: "other"})

	s.Same(first, second)
	s.Equal("audit-bucket", s.sub.Destination())
}

func (s *SubsystemSuite) TestCleanShutdownFlush() {
	active := s.sub.Start(context.Background(), s.cfg).(*Active)
	s.sub.Append(rec("a"), rec("b"))
	s.sub.Append(rec("c"))

	state := s.sub.Stop(context.Background())

	s.IsType(Inactive{}, state)
	s.False(s.sub.IsActive())
	s.Equal(1, s.store.Puts())
	objs := s.store.Objects()
	s.Require().Len(objs, 1)
	s.Equal("2024/05/01/orders/2.0.0/pod-1/modifying-requests-12-00-00.jsonl", objs[0].Key)
	s.Len(lines(objs[0].Body), 3)
	s.Zero(active.Buffer.Len())
	s.Equal(scheduler.StatusStopped, active.Scheduler.Status())
}

func (s *SubsystemSuite) TestStopTwiceIsSafe() {
	s.sub.Start(context.Background(), s.cfg)
	s.sub.Append(rec("a"))

	s.sub.Stop(context.Background())
	s.sub.Stop(context.Background())

	s.Equal(1, s.store.Puts())
}

func (s *SubsystemSuite) TestStopWithEmptyBufferDoesNotUpload() {
	s.sub.Start(context.Background(), s.cfg)
	s.sub.Stop(context.Background())
	s.Zero(s.store.Puts())
}

func (s *SubsystemSuite) TestRestartAfterStop() {
	first := s.sub.Start(context.Background(), s.cfg)
	s.sub.Stop(context.Background())

	second := s.sub.Start(context.Background(), s.cfg)

	s.NotSame(first, second)
	s.True(s.sub.IsActive())
}

func (s *SubsystemSuite) TestTickUploadsAndFailureRequeues() {
	s.sub.Start(context.Background(), s.cfg)
	s.store.FailNext(2, errors.New("s3 unavailable"))

	s.sub.Append(rec("a"))
	s.ticks <- time.Now()
	s.sub.Append(rec("b"))
	s.ticks <- time.Now()
	s.ticks <- time.Now()

	s.Eventually(func() bool { return s.store.Puts() == 3 }, time.Second, time.Millisecond)
	s.Eventually(func() bool { return s.sub.Buffered() == 0 }, time.Second, time.Millisecond)

	objs := s.store.Objects()
	s.Require().Len(objs, 1)
	s.ElementsMatch([]string{"a", "b"}, idsIn(objs[0].Body))
	s.Contains(s.logs.String(), "batch re-queued")
}

func (s *SubsystemSuite) TestFlushNow() {
	s.sub.Start(context.Background(), s.cfg)
	s.sub.Append(rec("a"), rec("b"))
	s.Equal(2, s.sub.Buffered())

	n, err := s.sub.Flush(context.Background())

	s.NoError(err)
	s.Equal(2, n)
	s.Zero(s.sub.Buffered())
	s.Equal(2.0, testutil.ToFloat64(s.metrics.RecordsAppended))
}

func (s *SubsystemSuite) TestFinalFlushFailureIsLogged() {
	s.sub.Start(context.Background(), s.cfg)
	s.store.FailNext(-1, errors.New("s3 unavailable"))
	s.sub.Append(rec("a"))

	s.NotPanics(func() { s.sub.Stop(context.Background()) })

	s.False(s.sub.IsActive())
	s.Contains(s.logs.String(), "final flush failed")
}

func (s *SubsystemSuite) TestConcurrentProducersAndStop() {
	s.sub.Start(context.Background(), s.cfg)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				s.sub.Append(rec("x"))
			}
		}()
	}
	wg.Wait()
	s.sub.Stop(context.Background())

	total := 0
	for _, obj := range s.store.Objects() {
		total += len(lines(obj.Body))
	}
	s.Equal(800, total)
}

func (s *SubsystemSuite) TestAppendDoesNotWaitForFinalUpload() {
	store := newBlockingStore()
	sub := New(store,
		WithLogger(slog.New(slog.NewTextHandler(s.logs, nil))),
		WithMetrics(s.metrics),
		WithTicker(func(time.Duration) scheduler.Ticker { return chanTicker{ch: s.ticks} }),
	)
	sub.Start(context.Background(), s.cfg)
	sub.Append(rec("a"))

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		sub.Stop(context.Background())
	}()
	<-store.started

	appended := make(chan struct{})
	go func() {
		defer close(appended)
		sub.Append(rec("b"))
	}()
	s.Eventually(func() bool {
		select {
		case <-appended:
			return true
		default:
			return false
		}
	}, 200*time.Millisecond, time.Millisecond, "Append must not wait on the final upload")
	s.False(sub.IsActive())
	s.Equal(1.0, testutil.ToFloat64(s.metrics.RecordsDropped))

	close(store.release)
	<-stopped
	objs := store.Objects()
	s.Require().Len(objs, 1)
	s.Equal([]string{"a"}, idsIn(objs[0].Body))
}

func (s *SubsystemSuite) TestAppendDoesNotWaitForManualFlush() {
	store := newBlockingStore()
	sub := New(store,
		WithLogger(slog.New(slog.NewTextHandler(s.logs, nil))),
		WithTicker(func(time.Duration) scheduler.Ticker { return chanTicker{ch: s.ticks} }),
	)
	sub.Start(context.Background(), s.cfg)
	sub.Append(rec("a"))

	flushed := make(chan struct{})
	go func() {
		defer close(flushed)
		_, _ = sub.Flush(context.Background())
	}()
	<-store.started

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		sub.Stop(context.Background())
	}()

	appended := make(chan struct{})
	go func() {
		defer close(appended)
		sub.Append(rec("b"))
	}()
	s.Eventually(func() bool {
		select {
		case <-appended:
			return true
		default:
			return false
		}
	}, 200*time.Millisecond, time.Millisecond, "Append must not wait on an in-flight flush")

	close(store.release)
	<-flushed
	<-stopped
	total := 0
	for _, obj := range store.Objects() {
		total += len(idsIn(obj.Body))
	}
	s.GreaterOrEqual(total, 1)
}

func (s *SubsystemSuite) TestStopWithExpiredContextStillFlushes() {
	s.sub.Start(context.Background(), s.cfg)
	s.sub.Append(rec("a"), rec("b"))

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	s.sub.Stop(ctx)

	objs := s.store.Objects()
	s.Require().Len(objs, 1)
	s.ElementsMatch([]string{"a", "b"}, idsIn(objs[0].Body))
	s.NotContains(s.logs.String(), "final flush failed")
}

func (s *SubsystemSuite) TestFinalFlushTimeoutBoundsStop() {
	store := newBlockingStore()
	sub := New(store,
		WithLogger(slog.New(slog.NewTextHandler(s.logs, nil))),
		WithTicker(func(time.Duration) scheduler.Ticker { return chanTicker{ch: s.ticks} }),
		WithFinalFlushTimeout(20*time.Millisecond),
	)
	sub.Start(context.Background(), s.cfg)
	sub.Append(rec("a"))

	sub.Stop(context.Background())

	s.Zero(store.Puts())
	s.Contains(s.logs.String(), "final flush failed")
}

func (s *SubsystemSuite) TestIdentityFollowsState() {
	s.Equal(uploader.Identity{}, s.sub.Identity())

	s.sub.Start(context.Background(), s.cfg)
	s.Equal(uploader.Identity{AppID: "orders", AppVersion: "2.0.0", InstanceID: "pod-1"}, s.sub.Identity())

	s.sub.Stop(context.Background())
	s.Equal(uploader.Identity{}, s.sub.Identity())
}

// blockingStore holds every PutObject until release is closed or ctx ends.
type blockingStore struct {
	*memory.InMemoryStore
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingStore() *blockingStore {
	return &blockingStore{
		InMemoryStore: memory.NewInMemoryStore(),
		started:       make(chan struct{}),
		release:       make(chan struct{}),
	}
}

func (b *blockingStore) PutObject(ctx context.Context, bucket, key string, body []byte, contentLength int64) error {
	b.once.Do(func() { close(b.started) })
	select {
	case <-b.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return b.InMemoryStore.PutObject(ctx, bucket, key, body, contentLength)
}

func idsIn(body []byte) []string {
	var out []string
	for _, line := range lines(body) {
		// {"timestamp":"...","payload":{"id":"a"}}
		i := strings.Index(line, `"id":"`)
		if i < 0 {
			continue
		}
		rest := line[i+len(`"id":"`):]
		out = append(out, rest[:strings.Index(rest, `"`)])
	}
	return out
}

// syncBuffer lets the scheduler goroutine log while the test reads.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
