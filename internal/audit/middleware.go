package audit

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nushkakush/experiencetrack-dash-sub003/internal/obs"
)

// HTTPRecorder records mutating requests after they have been handled. Reads are not audited.
type HTTPRecorder struct {
	Service *Service
	OnError func(error)
}

// Middleware records an entry per write. The cohort and student come from the matched route.
func (r HTTPRecorder) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if r.Service == nil || !r.Service.Enabled || !mutating(req.Method) {
			next.ServeHTTP(w, req)
			return
		}

		rec := obs.NewStatusRecorder(w)
		next.ServeHTTP(rec, req)

		target := Target{}
		if rctx := chi.RouteContext(req.Context()); rctx != nil {
			target.Route = rctx.RoutePattern()
			target.CohortID = rctx.URLParam("cohortID")
			target.ResourceID = rctx.URLParam("studentID")
		}
		var metadata []byte
		if target.ResourceID != "" {
			metadata, _ = json.Marshal(map[string]string{"studentId": target.ResourceID})
		}

		if err := r.Service.Record(req.Context(), ActorFrom(req.Context()), target, req, rec.Status(), metadata); err != nil && r.OnError != nil {
			r.OnError(err)
		}
	})
}

func mutating(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	default:
		return true
	}
}
