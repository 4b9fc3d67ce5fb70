package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"mutation-audit/internal/auditlog"
	"mutation-audit/internal/platform/config"
	"mutation-audit/internal/platform/httpserver"
	"mutation-audit/internal/platform/logger"
	httptransport "mutation-audit/internal/transport/http"
	"mutation-audit/pkg/platform/audit/blobstore/memory"
	s3store "mutation-audit/pkg/platform/audit/blobstore/s3"
	"mutation-audit/pkg/platform/audit/metrics"
	"mutation-audit/pkg/platform/audit/uploader"
)

const (
	shutdownTimeout   = 15 * time.Second
	finalFlushTimeout = 30 * time.Second
)

// main wires the audit subsystem in front of the upstream application and
// owns the process lifecycle. The final audit flush runs after the HTTP
// server has drained so in-flight mutations are not lost.
func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "mutation-audit: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	storage, health, err := buildStorage(ctx, cfg)
	if err != nil {
		return err
	}

	auditMetrics := metrics.New(prometheus.DefaultRegisterer)
	sub := auditlog.New(storage,
		auditlog.WithLogger(log),
		auditlog.WithMetrics(auditMetrics),
		auditlog.WithFinalFlushTimeout(finalFlushTimeout),
	)
	sub.Start(ctx, auditlog.Config{
		Bucket:        cfg.AuditLog.Bucket,
		FlushInterval: cfg.AuditLog.FlushInterval,
		Compress:      cfg.AuditLog.Compress,
		AppID:         cfg.AuditLog.AppID,
		AppVersion:    cfg.AuditLog.AppVersion,
		InstanceID:    cfg.AuditLog.InstanceID,
	})

	var app http.Handler
	if cfg.Upstream != nil {
		app = httputil.NewSingleHostReverseProxy(cfg.Upstream)
		log.Info("proxying audited traffic", "upstream", cfg.Upstream.String())
	} else {
		log.Warn("UPSTREAM_URL not set, only operational endpoints are served")
	}

	router := httptransport.NewRouter(httptransport.Deps{
		Logger:        log,
		AuditLog:      sub,
		AdminToken:    cfg.AdminAPIToken,
		Gatherer:      prometheus.DefaultGatherer,
		StorageHealth: health,
		App:           app,
	})
	srv := httpserver.New(cfg.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting mutation-audit gateway", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()

		var shutdownErr error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			shutdownErr = fmt.Errorf("graceful shutdown: %w", err)
		}

		// The final flush gets its own budget; draining may have used up
		// the HTTP shutdown deadline.
		flushCtx, cancelFlush := context.WithTimeout(context.WithoutCancel(gctx), finalFlushTimeout)
		defer cancelFlush()
		sub.Stop(flushCtx)
		return shutdownErr
	})

	return g.Wait()
}

// buildStorage selects the blob store and an optional health probe for it.
// With auditing disabled no S3 client is built.
func buildStorage(ctx context.Context, cfg config.Server) (uploader.Storage, func(context.Context) error, error) {
	if !cfg.AuditLog.Enabled() || cfg.AuditLog.Storage == config.StorageMemory {
		return memory.NewInMemoryStore(), nil, nil
	}

	store, err := s3store.New(ctx, s3store.Config{
		Region:       cfg.S3.Region,
		Endpoint:     cfg.S3.Endpoint,
		UsePathStyle: cfg.S3.UsePathStyle,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("init s3 storage: %w", err)
	}
	health := func(ctx context.Context) error {
		return store.Health(ctx, cfg.AuditLog.Bucket)
	}
	return store, health, nil
}
