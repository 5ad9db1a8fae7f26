package queue

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/nushkakush/experiencetrack-dash-sub003/internal/common"
)

// AdminHandler exposes DLQ inspection and replay.
type AdminHandler struct {
	DLQ         DLQ
	MaxAttempts int
	Logger      zerolog.Logger
}

// Register mounts the admin routes on r.
func (h *AdminHandler) Register(r chi.Router) {
	r.Get("/queues/{kind}/dlq", h.ListDLQ)
	r.Post("/queues/{kind}/dlq/replay", h.ReplayDLQ)
}

// ListDLQ returns dead-lettered tasks for a kind.
func (h *AdminHandler) ListDLQ(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	limit := common.AtoiDefault(r.URL.Query().Get("limit"), 50)
	entries, err := h.DLQ.List(r.Context(), kind, limit)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	total, err := h.DLQ.Size(r.Context(), kind)
	if err != nil {
		h.Logger.Error().Err(err).Str("kind", kind).Msg("queue: dlq size failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "queue store error", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": entries, "total": total, "kind": kind})
}

type replayRequest struct {
	Count int `json:"count"`
}

// ReplayDLQ re-enqueues the oldest dead-lettered tasks.
func (h *AdminHandler) ReplayDLQ(w http.ResponseWriter, r *http.Request) {
	req := replayRequest{Count: 10}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
			return
		}
	}
	if req.Count <= 0 || req.Count > 500 {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "count must be between 1 and 500", nil)
		return
	}
	kind := chi.URLParam(r, "kind")
	n, err := h.DLQ.Replay(r.Context(), kind, req.Count, h.MaxAttempts)
	if err != nil {
		h.Logger.Error().Err(err).Str("kind", kind).Msg("queue: dlq replay failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "replay failed", map[string]any{"replayed": n})
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"replayed": n, "kind": kind})
}
