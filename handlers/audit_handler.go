package handlers

import (
	"context"
	"net/http"

	"github.com/aiclub/website-backend/models"
	"github.com/aiclub/website-backend/utils"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// AuditLister reads the audit trail
type AuditLister interface {
	ListRecent(ctx context.Context, limit, offset int) ([]*models.AuditLog, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.AuditLog, error)
}

// AuditLogPage is the response of GET /api/v1/audit/logs
type AuditLogPage struct {
	Logs   []*models.AuditLog `json:"logs"`
	Limit  int                `json:"limit"`
	Offset int                `json:"offset"`
}

// AuditHandler serves /api/v1/audit
type AuditHandler struct {
	lister AuditLister
	logger *zap.Logger
}

// NewAuditHandler creates an AuditHandler
func NewAuditHandler(lister AuditLister, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{lister: lister, logger: logger}
}

// HandleList handles GET /api/v1/audit/logs?limit=&offset=&user_id=
func (h *AuditHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit, err := utils.QueryInt(r, "limit", defaultAuditLimit, maxAuditLimit)
	if err != nil {
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return
	}
	if limit == 0 {
		limit = defaultAuditLimit
	}
	offset, err := utils.QueryInt(r, "offset", 0, 0)
	if err != nil {
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return
	}

	var logs []*models.AuditLog
	if raw := r.URL.Query().Get("user_id"); raw != "" {
		userID, perr := utils.ParseUUID(raw)
		if perr != nil {
			_ = utils.WriteBadRequest(w, perr.Error(), nil)
			return
		}
		logs, err = h.lister.ListByUser(r.Context(), userID, limit, offset)
	} else {
		logs, err = h.lister.ListRecent(r.Context(), limit, offset)
	}
	if err != nil {
		h.logger.Error("failed to list audit logs", zap.Error(err))
		_ = utils.WriteInternalServerError(w, "")
		return
	}
	if logs == nil {
		logs = []*models.AuditLog{}
	}

	_ = utils.WriteOK(w, AuditLogPage{Logs: logs, Limit: limit, Offset: offset})
}
