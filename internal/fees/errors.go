package fees

import (
	"errors"
	"strings"
)

var (
	// ErrInvalidStructure is returned when the fee structure fails validation.
	ErrInvalidStructure = errors.New("fees: invalid fee structure")
	// ErrPlanNotSelected is returned when no payable plan was chosen.
	ErrPlanNotSelected = errors.New("fees: payment plan not selected")
	// ErrScholarshipNotFound is returned when the requested scholarship id is unknown.
	ErrScholarshipNotFound = errors.New("fees: scholarship not found")
	// ErrInvalidDate is returned when the cohort start or a custom date cannot be parsed.
	ErrInvalidDate = errors.New("fees: invalid date")
)

// ValidationError describes a single field problem. Index is the scholarship position,
// or -1 for fee-structure fields.
type ValidationError struct {
	Index         int    `json:"index"`
	ScholarshipID string `json:"scholarshipId,omitempty"`
	Field         string `json:"field"`
	Message       string `json:"message"`
}

// ValidationErrors is a field-keyed list of validation problems.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	return strings.Join(v.Messages(), "; ")
}

// Messages returns the human-readable messages in order.
func (v ValidationErrors) Messages() []string {
	out := make([]string, 0, len(v))
	for _, e := range v {
		out = append(out, e.Message)
	}
	return out
}

// ByField groups messages by field name.
func (v ValidationErrors) ByField() map[string][]string {
	out := make(map[string][]string, len(v))
	for _, e := range v {
		out[e.Field] = append(out[e.Field], e.Message)
	}
	return out
}
