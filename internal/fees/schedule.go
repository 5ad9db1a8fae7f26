package fees

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the ISO calendar date format used for payment dates.
const DateLayout = "2006-01-02"

// MonthsPerSemester spaces default semester start dates.
const MonthsPerSemester = 6

// OneShotKey identifies the single one-shot payment in custom date maps.
const OneShotKey = "one-shot"

// ParseDate accepts an ISO date or an RFC 3339 timestamp.
func ParseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("%w: empty", ErrInvalidDate)
	}
	if t, err := time.Parse(DateLayout, value); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, value)
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
}

// InstalmentKey builds the stable identifier used to override an instalment's date.
func InstalmentKey(plan PaymentPlan, semester, instalment int) string {
	switch plan {
	case PlanOneShot:
		return OneShotKey
	case PlanSemWise:
		return fmt.Sprintf("semester-%d", semester)
	default:
		return fmt.Sprintf("semester-%d-instalment-%d", semester, instalment)
	}
}

type scheduler struct {
	start  time.Time
	custom map[string]string
}

func newScheduler(cohortStart string, custom map[string]string) (scheduler, error) {
	start, err := ParseDate(cohortStart)
	if err != nil {
		return scheduler{}, fmt.Errorf("cohort start date: %w", err)
	}
	for key, value := range custom {
		if _, err := ParseDate(value); err != nil {
			return scheduler{}, fmt.Errorf("custom date %s: %w", key, err)
		}
	}
	return scheduler{start: start, custom: custom}, nil
}

// dateFor returns the override for key when present, otherwise the default spread:
// semesters begin every six months and instalments are spaced evenly inside a semester.
func (s scheduler) dateFor(key string, semester, instalment, perSemester int) string {
	if value, ok := s.custom[key]; ok {
		t, _ := ParseDate(value)
		return t.Format(DateLayout)
	}
	semStart := s.start.AddDate(0, MonthsPerSemester*(semester-1), 0)
	if instalment <= 1 || perSemester <= 1 {
		return semStart.Format(DateLayout)
	}
	semEnd := s.start.AddDate(0, MonthsPerSemester*semester, 0)
	days := int(semEnd.Sub(semStart).Hours() / 24)
	offset := (instalment - 1) * days / perSemester
	return semStart.AddDate(0, 0, offset).Format(DateLayout)
}
