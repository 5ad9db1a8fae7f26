package crm

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// TaskKind is the queue kind consumed by the CRM sync worker.
const TaskKind = "crm-sync"

// Lead is the flattened applicant record pushed to the CRM.
type Lead struct {
	ID            string            `json:"id" validate:"omitempty,uuid"`
	FirstName     string            `json:"firstName" validate:"required,max=120"`
	LastName      string            `json:"lastName" validate:"omitempty,max=120"`
	Email         string            `json:"email" validate:"required,email"`
	Phone         string            `json:"phone" validate:"omitempty,e164"`
	CohortID      string            `json:"cohortId" validate:"required"`
	Program       string            `json:"program,omitempty"`
	Plan          string            `json:"plan,omitempty" validate:"omitempty,oneof=one_shot sem_wise instalment_wise"`
	ScholarshipID string            `json:"scholarshipId,omitempty"`
	TestScore     *float64          `json:"testScore,omitempty" validate:"omitempty,gte=0,lte=100"`
	TotalPayable  *float64          `json:"totalPayable,omitempty" validate:"omitempty,gte=0"`
	Stage         string            `json:"stage,omitempty"`
	Source        string            `json:"source,omitempty"`
	Fields        map[string]string `json:"fields,omitempty"`
	SubmittedAt   time.Time         `json:"submittedAt"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// FieldError is a single lead validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Normalize trims the record and assigns an id and submission time when absent.
func (l Lead) Normalize(now time.Time) Lead {
	l.FirstName = strings.TrimSpace(l.FirstName)
	l.LastName = strings.TrimSpace(l.LastName)
	l.Email = strings.ToLower(strings.TrimSpace(l.Email))
	l.Phone = strings.TrimSpace(l.Phone)
	l.CohortID = strings.TrimSpace(l.CohortID)
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.SubmittedAt.IsZero() {
		l.SubmittedAt = now.UTC()
	}
	return l
}

// Validate returns one entry per failing field; nil means the lead is acceptable.
func (l Lead) Validate() []FieldError {
	err := validate.Struct(l)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []FieldError{{Field: "lead", Message: err.Error()}}
	}
	out := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, FieldError{Field: jsonName(fe.Field()), Message: fieldMessage(fe)})
	}
	return out
}

func jsonName(field string) string {
	if field == "" {
		return field
	}
	if field == "ID" {
		return "id"
	}
	return strings.ToLower(field[:1]) + field[1:]
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "e164":
		return "must be an E.164 phone number"
	case "uuid":
		return "must be a UUID"
	case "oneof":
		return "must be one of " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	case "max":
		return "is too long"
	default:
		return "is invalid"
	}
}

func encodeLead(l Lead) ([]byte, error) { return json.Marshal(l) }

func decodeLead(raw []byte) (Lead, error) {
	var l Lead
	err := json.Unmarshal(raw, &l)
	return l, err
}
