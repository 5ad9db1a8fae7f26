package fees

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func tier(id, name string, start, end, amount float64) Scholarship {
	return Scholarship{ID: id, Name: name, StartPercent: start, EndPercent: end, AmountPercent: amount}
}

func overlapErrors(errs ValidationErrors) ValidationErrors {
	var out ValidationErrors
	for _, e := range errs {
		if e.Field == "range" {
			out = append(out, e)
		}
	}
	return out
}

func TestValidateScholarshipsDisjointTiers(t *testing.T) {
	list := []Scholarship{tier("a", "Merit", 0, 50, 10), tier("b", "Excellence", 51, 100, 20)}
	require.Empty(t, ValidateScholarships(list))
}

func TestValidateScholarshipsReportsSingleOverlap(t *testing.T) {
	list := []Scholarship{tier("a", "Merit", 0, 50, 10), tier("b", "Excellence", 40, 100, 20)}
	errs := ValidateScholarships(list)
	require.Len(t, errs, 1)
	require.Equal(t, "range", errs[0].Field)
	require.Contains(t, errs[0].Message, `"Merit"`)
	require.Contains(t, errs[0].Message, `"Excellence"`)
	require.Contains(t, errs[0].Message, "40%-100%")
}

func TestValidateScholarshipsAdjacentBoundary(t *testing.T) {
	require.Empty(t, overlapErrors(ValidateScholarships([]Scholarship{tier("a", "Low", 0, 50, 5), tier("b", "High", 50, 100, 10)})))
	require.NotEmpty(t, overlapErrors(ValidateScholarships([]Scholarship{tier("a", "Low", 0, 60, 5), tier("b", "High", 50, 100, 10)})))
}

func TestValidateScholarshipsFirstConflictPerScholarship(t *testing.T) {
	list := []Scholarship{
		tier("a", "Wide", 0, 100, 5),
		tier("b", "Mid", 20, 40, 10),
		tier("c", "Top", 60, 80, 15),
	}
	errs := overlapErrors(ValidateScholarships(list))
	require.Len(t, errs, 1)
	require.Equal(t, 0, errs[0].Index)
	require.Contains(t, errs[0].Message, `"Mid"`)
}

func TestOverlapsIsSymmetric(t *testing.T) {
	pairs := [][2]Scholarship{
		{tier("a", "A", 0, 50, 1), tier("b", "B", 40, 100, 1)},
		{tier("a", "A", 0, 50, 1), tier("b", "B", 50, 100, 1)},
		{tier("a", "A", 10, 20, 1), tier("b", "B", 0, 100, 1)},
		{tier("a", "A", 70, 90, 1), tier("b", "B", 0, 30, 1)},
	}
	for _, p := range pairs {
		require.Equal(t, Overlaps(p[0], p[1]), Overlaps(p[1], p[0]))
	}
}

func TestValidateScholarshipsRecordRules(t *testing.T) {
	errs := ValidateScholarships([]Scholarship{
		{ID: "temp-1", Name: "", StartPercent: 60, EndPercent: 40, AmountPercent: 0},
	})
	fields := errs.ByField()
	require.Contains(t, fields, "name")
	require.Contains(t, fields, "amountPercent")
	require.Contains(t, fields, "startPercent")
	for _, e := range errs {
		require.Equal(t, "temp-1", e.ScholarshipID)
	}
}

func TestValidateScholarshipsEmptyListIsValid(t *testing.T) {
	require.Empty(t, ValidateScholarships(nil))
}

func TestMatchScholarship(t *testing.T) {
	list := []Scholarship{tier("a", "Low", 0, 50, 5), tier("b", "High", 50, 100, 10)}
	s, ok := MatchScholarship(list, 85)
	require.True(t, ok)
	require.Equal(t, "b", s.ID)
	s, ok = MatchScholarship(list, 50)
	require.True(t, ok)
	require.Equal(t, "a", s.ID)
	s, ok = MatchScholarship(list, 100)
	require.True(t, ok)
	require.Equal(t, "b", s.ID)
	_, ok = MatchScholarship([]Scholarship{tier("a", "Mid", 40, 60, 5)}, 70)
	require.False(t, ok)
}

func TestMatchScholarshipIncludesEndOfLowerTier(t *testing.T) {
	list := []Scholarship{tier("a", "Low", 0, 50, 10), tier("b", "High", 51, 100, 20)}
	require.Empty(t, ValidateScholarships(list))

	s, ok := MatchScholarship(list, 50)
	require.True(t, ok)
	require.Equal(t, "a", s.ID)

	_, ok = MatchScholarship(list, 50.5)
	require.False(t, ok)

	s, ok = MatchScholarship(list, 51)
	require.True(t, ok)
	require.Equal(t, "b", s.ID)
}

func TestValidateFeeStructure(t *testing.T) {
	valid := FeeStructure{AdmissionFee: 50000, TotalProgramFee: 500000, NumberOfSemesters: 4, InstalmentsPerSemester: 3}
	require.Empty(t, ValidateFeeStructure(valid))

	invalid := FeeStructure{
		AdmissionFee:           600000,
		TotalProgramFee:        500000,
		NumberOfSemesters:      0,
		InstalmentsPerSemester: 13,
		OneShotDiscountPercent: 120,
		InstalmentWiseDates:    map[string]string{"semester-1-instalment-1": "01/02/2025"},
	}
	fields := ValidateFeeStructure(invalid).ByField()
	require.Contains(t, fields, "admissionFee")
	require.Contains(t, fields, "numberOfSemesters")
	require.Contains(t, fields, "instalmentsPerSemester")
	require.Contains(t, fields, "oneShotDiscountPercent")
	require.Len(t, fields["admissionFee"], 1)
	require.Equal(t, "admissionFee must not exceed totalProgramFee", fields["admissionFee"][0])

	var dateErr bool
	for field := range fields {
		if strings.HasPrefix(field, "instalmentWiseDates") {
			dateErr = true
		}
	}
	require.True(t, dateErr, "expected custom date error, got %v", fields)
}
