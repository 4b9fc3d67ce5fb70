// Package mutation captures successful state-mutating HTTP requests as audit
// records. Credentials and request bodies are never captured.
package mutation

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/mssola/useragent"

	audit "mutation-audit/pkg/platform/audit"
	"mutation-audit/pkg/requestcontext"
)

// Sink receives audit records. The audit log subsystem implements it.
type Sink interface {
	IsActive() bool
	Append(records ...audit.Record)
}

// IsMutating reports whether method changes server state.
func IsMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

// Middleware records POST, PUT, PATCH and DELETE requests that completed with
// a 2xx status. While the sink is inactive requests pass through untouched.
func Middleware(sink Sink, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !IsMutating(r.Method) || !sink.IsActive() {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			if status < 200 || status > 299 {
				return
			}

			record := audit.NewRecord(requestcontext.Now(r.Context()), payload(r, status, time.Since(start)))
			sink.Append(record)

			if logger != nil {
				logger.DebugContext(r.Context(), "mutating request captured for audit",
					"method", r.Method,
					"path", r.URL.Path,
					"status", status,
					"request_id", chimw.GetReqID(r.Context()),
				)
			}
		})
	}
}

func payload(r *http.Request, status int, elapsed time.Duration) map[string]any {
	ctx := r.Context()
	p := map[string]any{
		"method":      r.Method,
		"path":        r.URL.Path,
		"status":      status,
		"duration_ms": elapsed.Milliseconds(),
		"headers":     redactHeaders(r.Header),
	}
	if q := redactQuery(r.URL.Query()); q != "" {
		p["query"] = q
	}
	if rctx := chi.RouteContext(ctx); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			p["route"] = pattern
		}
	}
	if id := chimw.GetReqID(ctx); id != "" {
		p["request_id"] = id
	}
	if userID := requestcontext.UserID(ctx); userID != "" {
		p["user_id"] = userID
	}
	if ip := requestcontext.ClientIP(ctx); ip != "" {
		p["client_ip"] = ip
	}

	raw := requestcontext.UserAgent(ctx)
	if raw == "" {
		raw = r.UserAgent()
	}
	if raw != "" {
		p["user_agent"] = describeUserAgent(raw)
	}
	return p
}

func describeUserAgent(raw string) map[string]any {
	ua := useragent.New(raw)
	browser, version := ua.Browser()
	return map[string]any{
		"raw":             raw,
		"browser":         browser,
		"browser_version": version,
		"os":              ua.OS(),
		"mobile":          ua.Mobile(),
		"bot":             ua.Bot(),
	}
}
