package audit

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nushkakush/experiencetrack-dash-sub003/internal/common"
)

// Handler exposes the audit log to administrators.
type Handler struct {
	Store Store
}

// Register mounts GET /audit-logs on r.
func (h Handler) Register(r chi.Router) {
	r.Get("/audit-logs", h.List)
}

// List returns a page of entries, newest first, optionally filtered by ?cohortId=.
func (h Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "AUDIT_NOT_CONFIGURED", "audit store not configured", nil)
		return
	}
	q := r.URL.Query()
	limit := common.AtoiDefault(q.Get("limit"), 50)
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := max(common.AtoiDefault(q.Get("offset"), 0), 0)

	entries, err := h.Store.List(r.Context(), ListParams{CohortID: q.Get("cohortId"), Limit: limit, Offset: offset})
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "AUDIT_QUERY_FAILED", "unable to fetch audit logs", nil)
		return
	}
	if entries == nil {
		entries = []Entry{}
	}
	common.Data(w, http.StatusOK, entries)
}
