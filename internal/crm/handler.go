package crm

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/nushkakush/experiencetrack-dash-sub003/internal/common"
	"github.com/nushkakush/experiencetrack-dash-sub003/internal/queue"
)

// Enqueuer accepts tasks for asynchronous processing.
type Enqueuer interface {
	Enqueue(ctx context.Context, t queue.Task) error
}

// Handler accepts leads and hands them to the sync queue.
type Handler struct {
	Queue       Enqueuer
	MaxAttempts int
	Logger      zerolog.Logger
	Now         func() time.Time
}

type acceptedResponse struct {
	ID        string `json:"id"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// Register mounts the lead intake route on r.
func (h *Handler) Register(r chi.Router) {
	r.Post("/crm/leads", h.SubmitLead)
}

// SubmitLead validates the lead and enqueues it. The CRM round trip never blocks the caller.
func (h *Handler) SubmitLead(w http.ResponseWriter, r *http.Request) {
	var lead Lead
	if err := common.DecodeJSON(r, &lead); err != nil {
		common.WriteError(w, err)
		return
	}
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	lead = lead.Normalize(now())
	if errs := lead.Validate(); len(errs) > 0 {
		common.WriteError(w, common.ValidationFailed("lead is invalid", errs))
		return
	}
	payload, err := encodeLead(lead)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	err = h.Queue.Enqueue(r.Context(), queue.Task{
		Kind:           TaskKind,
		Payload:        payload,
		IdempotencyKey: lead.ID,
		MaxAttempts:    h.MaxAttempts,
	})
	switch {
	case errors.Is(err, queue.ErrDuplicate):
		common.Data(w, http.StatusAccepted, acceptedResponse{ID: lead.ID, Duplicate: true})
	case err != nil:
		h.Logger.Error().Err(err).Str("lead_id", lead.ID).Msg("crm: enqueue failed")
		common.JSONError(w, http.StatusServiceUnavailable, "QUEUE_UNAVAILABLE", "lead could not be queued", nil)
	default:
		common.Data(w, http.StatusAccepted, acceptedResponse{ID: lead.ID})
	}
}
