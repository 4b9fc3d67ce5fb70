package httptransport

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"

	audit "mutation-audit/pkg/platform/audit"
	"mutation-audit/pkg/platform/audit/uploader"
	"mutation-audit/pkg/platform/httputil"
	"mutation-audit/pkg/platform/sentinel"
)

// AuditLog is the part of the audit subsystem the admin endpoints need.
type AuditLog interface {
	IsActive() bool
	Buffered() int
	Destination() string
	Identity() uploader.Identity
	Flush(ctx context.Context) (int, error)
}

// AuditHandler serves the audit admin endpoints.
type AuditHandler struct {
	logger   *slog.Logger
	auditLog AuditLog
}

func NewAuditHandler(auditLog AuditLog, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{auditLog: auditLog, logger: logger}
}

type statusResponse struct {
	Active      bool   `json:"active"`
	Buffered    int    `json:"buffered"`
	Destination string `json:"destination,omitempty"`
	AppID       string `json:"app_id,omitempty"`
	AppVersion  string `json:"app_version,omitempty"`
	InstanceID  string `json:"instance_id,omitempty"`
}

type flushResponse struct {
	Flushed int `json:"flushed"`
}

func (h *AuditHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	identity := h.auditLog.Identity()
	httputil.WriteJSON(w, http.StatusOK, statusResponse{
		Active:      h.auditLog.IsActive(),
		Buffered:    h.auditLog.Buffered(),
		Destination: h.auditLog.Destination(),
		AppID:       identity.AppID,
		AppVersion:  identity.AppVersion,
		InstanceID:  identity.InstanceID,
	})
}

func (h *AuditHandler) handleFlush(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := chimw.GetReqID(ctx)

	flushed, err := h.auditLog.Flush(ctx)
	if err != nil {
		var uploadErr *audit.UploadError
		switch {
		case errors.Is(err, sentinel.ErrInvalidState):
			httputil.WriteError(w, http.StatusConflict, "audit_log_inactive", "audit log is not active")
		case errors.As(err, &uploadErr):
			h.logger.WarnContext(ctx, "manual audit flush failed",
				"request_id", requestID,
				"records", uploadErr.Records,
				"error", err,
			)
			httputil.WriteError(w, http.StatusBadGateway, "upload_failed", "batch re-queued, storage write failed")
		default:
			h.logger.ErrorContext(ctx, "manual audit flush failed",
				"request_id", requestID,
				"error", err,
			)
			httputil.WriteError(w, http.StatusInternalServerError, "internal_error", "flush failed")
		}
		return
	}

	h.logger.InfoContext(ctx, "manual audit flush",
		"request_id", requestID,
		"flushed", flushed,
	)
	httputil.WriteJSON(w, http.StatusOK, flushResponse{Flushed: flushed})
}
