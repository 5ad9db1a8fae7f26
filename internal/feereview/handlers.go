package feereview

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/nushkakush/experiencetrack-dash-sub003/internal/common"
	"github.com/nushkakush/experiencetrack-dash-sub003/internal/fees"
	"github.com/nushkakush/experiencetrack-dash-sub003/internal/repo"
)

// Handler exposes fee review and fee configuration endpoints.
type Handler struct {
	Service *Service
	Logger  zerolog.Logger
}

// Register mounts the routes on r. Callers apply auth and rate limiting.
func (h *Handler) Register(r chi.Router) {
	r.Post("/fee-reviews", h.ComputeReview)
	r.Post("/scholarships/validate", h.ValidateScholarships)
	r.Route("/cohorts/{cohortID}", func(c chi.Router) {
		c.Get("/fee-review", h.CohortReview)
		c.Post("/fee-review/warm", h.WarmCohort)
		c.Get("/fee-structure", h.GetFeeStructure)
		c.Put("/fee-structure", h.PutFeeStructure)
		c.Get("/scholarships", h.ListScholarships)
		c.Put("/scholarships", h.PutScholarships)
		c.Get("/students/{studentID}/fee-review", h.StudentReview)
		c.Put("/students/{studentID}/fee-override", h.PutStudentOverride)
	})
}

type reviewResponse struct {
	Review fees.Review `json:"review"`
	Error  string      `json:"error,omitempty"`
}

// ComputeReview handles the stateless review request. Computation failures still answer 200
// with the degraded review.
func (h *Handler) ComputeReview(w http.ResponseWriter, r *http.Request) {
	var in fees.Input
	if err := common.DecodeJSON(r, &in); err != nil {
		common.WriteError(w, err)
		return
	}
	in.Plan = fees.ParsePlan(string(in.Plan))
	review, err := h.Service.Compute(r.Context(), in)
	resp := reviewResponse{Review: review}
	if err != nil {
		resp.Error = err.Error()
	}
	common.Data(w, http.StatusOK, resp)
}

// CohortReview answers GET /cohorts/{cohortID}/fee-review.
func (h *Handler) CohortReview(w http.ResponseWriter, r *http.Request) {
	review, err := h.Service.CohortReview(r.Context(), chi.URLParam(r, "cohortID"), reviewQuery(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.Data(w, http.StatusOK, reviewResponse{Review: review})
}

// WarmCohort precomputes the cohort's reviews into the shared cache.
func (h *Handler) WarmCohort(w http.ResponseWriter, r *http.Request) {
	n, err := h.Service.WarmCohort(r.Context(), chi.URLParam(r, "cohortID"), r.URL.Query().Get("cohortStartDate"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.Data(w, http.StatusOK, map[string]int{"cached": n})
}

// StudentReview answers GET /cohorts/{cohortID}/students/{studentID}/fee-review.
func (h *Handler) StudentReview(w http.ResponseWriter, r *http.Request) {
	review, err := h.Service.StudentReview(r.Context(), chi.URLParam(r, "cohortID"), chi.URLParam(r, "studentID"), reviewQuery(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.Data(w, http.StatusOK, reviewResponse{Review: review})
}

// GetFeeStructure returns the stored structure.
func (h *Handler) GetFeeStructure(w http.ResponseWriter, r *http.Request) {
	fs, err := h.Service.GetFeeStructure(r.Context(), chi.URLParam(r, "cohortID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.Data(w, http.StatusOK, fs)
}

type feeStructurePayload struct {
	fees.FeeStructure
	EditMode bool `json:"editMode"`
}

// PutFeeStructure upserts the structure.
func (h *Handler) PutFeeStructure(w http.ResponseWriter, r *http.Request) {
	var payload feeStructurePayload
	if err := common.DecodeJSON(r, &payload); err != nil {
		common.WriteError(w, err)
		return
	}
	saved, err := h.Service.SaveFeeStructure(r.Context(), chi.URLParam(r, "cohortID"), payload.FeeStructure, payload.EditMode)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.Data(w, http.StatusOK, saved)
}

// ListScholarships returns the stored scholarships.
func (h *Handler) ListScholarships(w http.ResponseWriter, r *http.Request) {
	list, err := h.Service.ListScholarships(r.Context(), chi.URLParam(r, "cohortID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.Data(w, http.StatusOK, list)
}

type scholarshipsPayload struct {
	Scholarships []fees.Scholarship `json:"scholarships"`
}

// PutScholarships replaces the stored scholarships.
func (h *Handler) PutScholarships(w http.ResponseWriter, r *http.Request) {
	var payload scholarshipsPayload
	if err := common.DecodeJSON(r, &payload); err != nil {
		common.WriteError(w, err)
		return
	}
	saved, err := h.Service.SaveScholarships(r.Context(), chi.URLParam(r, "cohortID"), payload.Scholarships)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.Data(w, http.StatusOK, saved)
}

type validationResponse struct {
	Valid    bool                  `json:"valid"`
	Errors   fees.ValidationErrors `json:"errors"`
	Messages []string              `json:"messages"`
}

// ValidateScholarships runs the range validator without saving.
func (h *Handler) ValidateScholarships(w http.ResponseWriter, r *http.Request) {
	var payload scholarshipsPayload
	if err := common.DecodeJSON(r, &payload); err != nil {
		common.WriteError(w, err)
		return
	}
	errs := h.Service.ValidateScholarships(payload.Scholarships)
	if errs == nil {
		errs = fees.ValidationErrors{}
	}
	common.Data(w, http.StatusOK, validationResponse{Valid: len(errs) == 0, Errors: errs, Messages: errs.Messages()})
}

type overridePayload struct {
	Structure     fees.FeeStructure `json:"feeStructure"`
	Plan          string            `json:"selectedPlan"`
	ScholarshipID string            `json:"scholarshipId"`
}

// PutStudentOverride upserts a student's override.
func (h *Handler) PutStudentOverride(w http.ResponseWriter, r *http.Request) {
	var payload overridePayload
	if err := common.DecodeJSON(r, &payload); err != nil {
		common.WriteError(w, err)
		return
	}
	saved, err := h.Service.SaveStudentOverride(r.Context(), repo.StudentOverride{
		CohortID:      chi.URLParam(r, "cohortID"),
		StudentID:     chi.URLParam(r, "studentID"),
		Structure:     payload.Structure,
		Plan:          fees.PaymentPlan(payload.Plan),
		ScholarshipID: strings.TrimSpace(payload.ScholarshipID),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.Data(w, http.StatusOK, saved)
}

func reviewQuery(r *http.Request) ReviewQuery {
	q := r.URL.Query()
	return ReviewQuery{
		Plan:            fees.ParsePlan(q.Get("plan")),
		ScholarshipID:   q.Get("scholarshipId"),
		TestScore:       common.FloatDefault(q.Get("testScore"), 0),
		CohortStartDate: q.Get("cohortStartDate"),
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if appErr, ok := common.AsAppError(err); ok && appErr.HTTPStatus < http.StatusInternalServerError {
		common.WriteError(w, err)
		return
	}
	h.Logger.Error().Err(err).Str("path", r.URL.Path).Msg("fee review request failed")
	common.WriteError(w, err)
}
