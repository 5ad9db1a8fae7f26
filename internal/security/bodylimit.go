package security

import (
	"net/http"

	"github.com/nushkakush/experiencetrack-dash-sub003/internal/common"
)

// BodyLimit caps request payloads. Declared oversize bodies are rejected up front; chunked bodies
// are wrapped so the JSON decoder fails with a 413 once the cap is crossed.
type BodyLimit struct {
	Max int64
}

func (b BodyLimit) Middleware(next http.Handler) http.Handler {
	if b.Max <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > b.Max {
			common.JSONError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request body too large", nil)
			return
		}
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, b.Max)
		}
		next.ServeHTTP(w, r)
	})
}
