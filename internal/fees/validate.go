package fees

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	validator "github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Validator returns the shared struct validator with the fee-specific tags registered.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
		_ = v.RegisterValidation("isodate", func(fl validator.FieldLevel) bool {
			_, err := ParseDate(fl.Field().String())
			return err == nil
		})
		validate = v
	})
	return validate
}

// ValidateFeeStructure checks the structure invariants and returns field-keyed problems.
func ValidateFeeStructure(fs FeeStructure) ValidationErrors {
	return structErrors(Validator().Struct(fs), -1, "")
}

// ValidateScholarships checks every tier and reports range overlaps. Each unordered pair
// is tested once and only the first conflict found for a scholarship is reported.
func ValidateScholarships(list []Scholarship) ValidationErrors {
	var out ValidationErrors
	for i, s := range list {
		out = append(out, structErrors(Validator().Struct(s), i, s.ID)...)
		if strings.TrimSpace(s.Name) == "" && !hasField(out, i, "name") {
			out = append(out, ValidationError{Index: i, ScholarshipID: s.ID, Field: "name", Message: fmt.Sprintf("Scholarship %d: name is required", i+1)})
		}
		if s.StartPercent >= s.EndPercent {
			out = append(out, ValidationError{
				Index:         i,
				ScholarshipID: s.ID,
				Field:         "startPercent",
				Message:       fmt.Sprintf("%s: start percentage must be less than end percentage", label(s, i)),
			})
		}
	}
	for i := range list {
		for j := i + 1; j < len(list); j++ {
			if !Overlaps(list[i], list[j]) {
				continue
			}
			a, b := list[i], list[j]
			out = append(out, ValidationError{
				Index:         i,
				ScholarshipID: a.ID,
				Field:         "range",
				Message: fmt.Sprintf("%s (%s%%-%s%%) overlaps with %s (%s%%-%s%%)",
					label(a, i), pct(a.StartPercent), pct(a.EndPercent),
					label(b, j), pct(b.StartPercent), pct(b.EndPercent)),
			})
			break
		}
	}
	return out
}

// Overlaps reports whether two score ranges intersect. Ranges are half-open [start, end),
// so adjacent tiers sharing a boundary do not conflict.
func Overlaps(a, b Scholarship) bool {
	return a.StartPercent < b.EndPercent && b.StartPercent < a.EndPercent
}

// MatchScholarship returns the first tier whose closed range [start, end] contains score, so a
// score on a shared boundary goes to the earlier tier.
func MatchScholarship(list []Scholarship, score float64) (Scholarship, bool) {
	for _, s := range list {
		if score >= s.StartPercent && score <= s.EndPercent {
			return s, true
		}
	}
	return Scholarship{}, false
}

func structErrors(err error, index int, id string) ValidationErrors {
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return ValidationErrors{{Index: index, ScholarshipID: id, Field: "", Message: err.Error()}}
	}
	out := make(ValidationErrors, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		field := fe.Field()
		if field == "" {
			field = fe.StructField()
		}
		msg := fieldMessage(field, fe)
		if index >= 0 {
			msg = fmt.Sprintf("Scholarship %d: %s", index+1, msg)
		}
		out = append(out, ValidationError{Index: index, ScholarshipID: id, Field: field, Message: msg})
	}
	return out
}

func fieldMessage(field string, fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "gte", "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "lte", "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "ltefield":
		return fmt.Sprintf("%s must not exceed %s", field, lowerFirst(fe.Param()))
	case "isodate":
		return fmt.Sprintf("%s must be a date in YYYY-MM-DD format", field)
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

func hasField(errs ValidationErrors, index int, field string) bool {
	for _, e := range errs {
		if e.Index == index && e.Field == field {
			return true
		}
	}
	return false
}

func label(s Scholarship, i int) string {
	if name := strings.TrimSpace(s.Name); name != "" {
		return fmt.Sprintf("%q", name)
	}
	return fmt.Sprintf("Scholarship %d", i+1)
}

func pct(v float64) string {
	return fmt.Sprintf("%g", v)
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
