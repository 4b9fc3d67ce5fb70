package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Storage backends for audit batches.
const (
	StorageS3     = "s3"
	StorageMemory = "memory"
)

// DefaultFlushInterval applies when AUDIT_LOG_FLUSH_INTERVAL_MS is unset.
const DefaultFlushInterval = 10 * time.Second

// Server captures process level configuration.
type Server struct {
	Addr          string
	LogLevel      string
	AdminAPIToken string

	// Upstream is the audited application requests are proxied to.
	// Nil means no application is mounted.
	Upstream *url.URL

	AuditLog AuditLog
	S3       S3
}

// AuditLog configures buffering and upload. An empty Bucket disables it.
type AuditLog struct {
	Bucket        string
	FlushInterval time.Duration
	Compress      bool
	Storage       string
	AppID         string
	AppVersion    string
	InstanceID    string
}

// Enabled reports whether a destination bucket is configured.
func (a AuditLog) Enabled() bool {
	return a.Bucket != ""
}

// S3 configures the blob storage client.
type S3 struct {
	Region       string
	Endpoint     string
	UsePathStyle bool
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() (Server, error) {
	cfg := Server{
		Addr:          getEnv("AUDIT_GATEWAY_ADDR", ":8080"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		AdminAPIToken: os.Getenv("ADMIN_API_TOKEN"),
		AuditLog: AuditLog{
			Bucket:        strings.TrimSpace(os.Getenv("AUDIT_LOG_BUCKET")),
			FlushInterval: DefaultFlushInterval,
			Storage:       strings.ToLower(getEnv("AUDIT_LOG_STORAGE", StorageS3)),
			AppID:         os.Getenv("APP_ID"),
			AppVersion:    os.Getenv("APP_VERSION"),
			InstanceID:    os.Getenv("INSTANCE_ID"),
		},
		S3: S3{
			Region:   getEnv("AWS_REGION", "us-east-1"),
			Endpoint: os.Getenv("AUDIT_LOG_S3_ENDPOINT"),
		},
	}

	if raw := os.Getenv("AUDIT_LOG_FLUSH_INTERVAL_MS"); raw != "" {
		ms, err := strconv.Atoi(raw)
		if err != nil {
			return Server{}, fmt.Errorf("AUDIT_LOG_FLUSH_INTERVAL_MS: %w", err)
		}
		if ms <= 0 {
			return Server{}, fmt.Errorf("AUDIT_LOG_FLUSH_INTERVAL_MS must be positive, got %d", ms)
		}
		cfg.AuditLog.FlushInterval = time.Duration(ms) * time.Millisecond
	}

	if raw := strings.TrimSpace(os.Getenv("UPSTREAM_URL")); raw != "" {
		u, err := url.Parse(raw)
		if err != nil {
			return Server{}, fmt.Errorf("UPSTREAM_URL: %w", err)
		}
		if u.Scheme == "" || u.Host == "" {
			return Server{}, fmt.Errorf("UPSTREAM_URL must be absolute, got %q", raw)
		}
		cfg.Upstream = u
	}

	var err error
	if cfg.AuditLog.Compress, err = getBool("AUDIT_LOG_COMPRESS"); err != nil {
		return Server{}, err
	}
	if cfg.S3.UsePathStyle, err = getBool("AUDIT_LOG_S3_PATH_STYLE"); err != nil {
		return Server{}, err
	}

	switch cfg.AuditLog.Storage {
	case StorageS3, StorageMemory:
	default:
		return Server{}, fmt.Errorf("AUDIT_LOG_STORAGE must be %q or %q, got %q", StorageS3, StorageMemory, cfg.AuditLog.Storage)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getBool(key string) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}
