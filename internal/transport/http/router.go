package httptransport

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mutation-audit/pkg/platform/httputil"
	"mutation-audit/pkg/platform/middleware/admin"
	"mutation-audit/pkg/platform/middleware/metadata"
	"mutation-audit/pkg/platform/middleware/mutation"
	"mutation-audit/pkg/platform/middleware/requesttime"
)

// AuditSink is the audit subsystem as seen by the router: producer and admin.
type AuditSink interface {
	AuditLog
	mutation.Sink
}

// Deps are the collaborators the router wires together.
type Deps struct {
	Logger     *slog.Logger
	AuditLog   AuditSink
	AdminToken string
	Gatherer   prometheus.Gatherer
	// StorageHealth is optional; when set /healthz reports its result.
	StorageHealth func(ctx context.Context) error
	// App receives every request not served by the gateway itself.
	// Mutating requests to it are audited.
	App http.Handler
}

// NewRouter wires operational endpoints and mounts the audited application.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)

	r.Get("/healthz", handleHealth(d))
	if d.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	auditHandler := NewAuditHandler(d.AuditLog, d.Logger)
	r.Route("/admin/audit", func(ar chi.Router) {
		ar.Use(admin.RequireAdminToken(d.AdminToken, d.Logger))
		ar.Get("/status", auditHandler.handleStatus)
		ar.Post("/flush", auditHandler.handleFlush)
	})

	app := d.App
	if app == nil {
		app = http.NotFoundHandler()
	}
	r.Group(func(ar chi.Router) {
		ar.Use(mutation.Middleware(d.AuditLog, d.Logger))
		ar.Handle("/*", app)
	})

	return r
}

func handleHealth(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state := "inactive"
		if d.AuditLog.IsActive() {
			state = "active"
		}
		resp := map[string]string{"status": "ok", "audit_log": state}

		if d.StorageHealth != nil && d.AuditLog.IsActive() {
			if err := d.StorageHealth(r.Context()); err != nil {
				d.Logger.WarnContext(r.Context(), "audit storage health check failed", "error", err)
				resp["status"] = "degraded"
				resp["storage"] = "unreachable"
				httputil.WriteJSON(w, http.StatusServiceUnavailable, resp)
				return
			}
			resp["storage"] = "ok"
		}
		httputil.WriteJSON(w, http.StatusOK, resp)
	}
}
