package audit

import (
	"errors"
	"net/http"

	"github.com/noah-isme/backend-groupbuy/internal/common"
)

// Handler exposes the audit trail to operators.
type Handler struct {
	Store Store
}

// List handles GET /api/v1/group-buys/audit.
func (h Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusNotImplemented, "AUDIT_DISABLED", "audit store not configured", nil)
		return
	}
	page, perPage := common.ParsePagination(r, 50)
	if perPage > 200 {
		perPage = 200
	}
	rows, err := h.Store.ListAuditLogs(r.Context(), perPage, (page-1)*perPage)
	if errors.Is(err, ErrListUnsupported) {
		common.JSONError(w, http.StatusNotImplemented, "AUDIT_DISABLED", "audit trail is only written to logs", nil)
		return
	}
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "AUDIT_QUERY_FAILED", "unable to fetch audit logs", nil)
		return
	}
	if rows == nil {
		rows = []Entry{}
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": rows})
}
