package httptransport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/mock/gomock"

	"mutation-audit/internal/transport/http/mocks"
	audit "mutation-audit/pkg/platform/audit"
	"mutation-audit/pkg/platform/audit/uploader"
	"mutation-audit/pkg/platform/sentinel"
	"mutation-audit/pkg/testutil"
)

//go:generate mockgen -source=handlers_audit.go -destination=mocks/audit-mocks.go -package=mocks AuditLog

func newTestHandler(t *testing.T) (*AuditHandler, *mocks.MockAuditLog) {
	ctrl := gomock.NewController(t)
	mockLog := mocks.NewMockAuditLog(ctrl)
	return NewAuditHandler(mockLog, slog.New(slog.NewTextHandler(io.Discard, nil))), mockLog
}

func TestAuditHandler_handleStatus(t *testing.T) {
	h, mockLog := newTestHandler(t)
	mockLog.EXPECT().IsActive().Return(true)
	mockLog.EXPECT().Buffered().Return(7)
	mockLog.EXPECT().Destination().Return("audit-bucket")
	mockLog.EXPECT().Identity().Return(uploader.Identity{AppID: "orders", AppVersion: "2.0.0", InstanceID: "pod-1"})

	rr := testutil.DoRequest(http.HandlerFunc(h.handleStatus), testutil.NewRequest(t, http.MethodGet, "/admin/audit/status", ""))

	testutil.AssertStatus(t, rr, http.StatusOK)
	resp := testutil.UnmarshalResponse[statusResponse](t, rr)
	assert.Equal(t, statusResponse{
		Active:      true,
		Buffered:    7,
		Destination: "audit-bucket",
		AppID:       "orders",
		AppVersion:  "2.0.0",
		InstanceID:  "pod-1",
	}, *resp)
}

func TestAuditHandler_handleFlush(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		h, mockLog := newTestHandler(t)
		mockLog.EXPECT().Flush(gomock.Any()).Return(4, nil)

		rr := testutil.DoRequest(http.HandlerFunc(h.handleFlush), testutil.NewRequest(t, http.MethodPost, "/admin/audit/flush", ""))

		testutil.AssertStatus(t, rr, http.StatusOK)
		assert.Equal(t, 4, testutil.UnmarshalResponse[flushResponse](t, rr).Flushed)
	})

	t.Run("inactive", func(t *testing.T) {
		h, mockLog := newTestHandler(t)
		mockLog.EXPECT().Flush(gomock.Any()).Return(0, sentinel.ErrInvalidState)

		rr := testutil.DoRequest(http.HandlerFunc(h.handleFlush), testutil.NewRequest(t, http.MethodPost, "/admin/audit/flush", ""))

		testutil.AssertStatusAndError(t, rr, http.StatusConflict, "audit_log_inactive")
	})

	t.Run("upload failure", func(t *testing.T) {
		h, mockLog := newTestHandler(t)
		mockLog.EXPECT().Flush(gomock.Any()).Return(0, &audit.UploadError{Bucket: "b", Records: 3, Err: errors.New("timeout")})

		rr := testutil.DoRequest(http.HandlerFunc(h.handleFlush), testutil.NewRequest(t, http.MethodPost, "/admin/audit/flush", ""))

		testutil.AssertStatusAndError(t, rr, http.StatusBadGateway, "upload_failed")
	})

	t.Run("unexpected error", func(t *testing.T) {
		h, mockLog := newTestHandler(t)
		mockLog.EXPECT().Flush(gomock.Any()).Return(0, context.DeadlineExceeded)

		rr := testutil.DoRequest(http.HandlerFunc(h.handleFlush), testutil.NewRequest(t, http.MethodPost, "/admin/audit/flush", ""))

		testutil.AssertStatusAndError(t, rr, http.StatusInternalServerError, "internal_error")
	})
}
