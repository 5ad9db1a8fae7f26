package fees

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func scenarioStructure() FeeStructure {
	return FeeStructure{
		CohortID:               "cohort-1",
		AdmissionFee:           50000,
		TotalProgramFee:        500000,
		NumberOfSemesters:      4,
		InstalmentsPerSemester: 3,
	}
}

func scenarioInput(plan PaymentPlan) Input {
	return Input{
		Structure:       scenarioStructure(),
		Plan:            plan,
		CohortStartDate: "2025-01-01",
		ScholarshipID:   NoScholarship,
	}
}

func TestGenerateReviewInstalmentWise(t *testing.T) {
	review, err := GenerateReview(scenarioInput(PlanInstalmentWise))
	require.NoError(t, err)

	require.Equal(t, 42372.88, review.AdmissionFee.BaseAmount)
	require.Equal(t, 7627.12, review.AdmissionFee.GSTAmount)
	require.Equal(t, 50000.0, review.AdmissionFee.TotalPayable)

	require.Len(t, review.Semesters, 4)
	instalments := review.Instalments()
	require.Len(t, instalments, 12)
	var baseSum float64
	for _, inst := range instalments {
		require.InDelta(t, 37500, inst.BaseAmount, 0.01)
		require.InDelta(t, 6750, inst.GSTAmount, 0.01)
		require.Zero(t, inst.ScholarshipAmount)
		require.InDelta(t, 44250, inst.AmountPayable, 0.01)
		baseSum += inst.BaseAmount
	}
	require.InDelta(t, 450000, baseSum, float64(len(instalments))*0.01)
	require.Equal(t, 132750.0, review.Semesters[0].Total)

	require.Equal(t, "semester-1-instalment-1", instalments[0].Key)
	require.Equal(t, "2025-01-01", instalments[0].PaymentDate)
	require.Equal(t, "2025-03-02", instalments[1].PaymentDate)
	require.Equal(t, "2025-05-01", instalments[2].PaymentDate)
	require.Equal(t, "2025-07-01", instalments[3].PaymentDate)

	summary := review.OverallSummary
	require.Equal(t, 500000.0, summary.TotalProgramFee)
	require.Equal(t, 50000.0, summary.AdmissionFee)
	require.InDelta(t, 88627.12, summary.TotalGST, 0.001)
	require.Zero(t, summary.TotalDiscount)
	require.Zero(t, summary.TotalScholarship)
	require.InDelta(t, 581000, summary.TotalAmountPayable, 0.001)
}

func TestGenerateReviewSemWise(t *testing.T) {
	review, err := GenerateReview(scenarioInput(PlanSemWise))
	require.NoError(t, err)
	instalments := review.Instalments()
	require.Len(t, instalments, 4)
	dates := []string{"2025-01-01", "2025-07-01", "2026-01-01", "2026-07-01"}
	for i, inst := range instalments {
		require.Equal(t, 112500.0, inst.BaseAmount)
		require.Equal(t, 20250.0, inst.GSTAmount)
		require.Equal(t, dates[i], inst.PaymentDate)
		require.Equal(t, InstalmentKey(PlanSemWise, i+1, 1), inst.Key)
	}
}

func TestGenerateReviewOneShotDiscount(t *testing.T) {
	in := scenarioInput(PlanOneShot)
	in.Structure.OneShotDiscountPercent = 10
	review, err := GenerateReview(in)
	require.NoError(t, err)

	lines := review.Instalments()
	require.Len(t, lines, 1)
	line := lines[0]
	require.Equal(t, OneShotKey, line.Key)
	require.Equal(t, "2025-01-01", line.PaymentDate)
	gross := line.BaseAmount + line.GSTAmount
	require.InDelta(t, 581000, gross, 0.001)
	require.InDelta(t, 58100, line.DiscountAmount, 0.001)
	require.InDelta(t, gross*0.90, line.AmountPayable, 0.001)
	require.InDelta(t, line.AmountPayable, review.OverallSummary.TotalAmountPayable, 0.001)
	require.InDelta(t, 58100, review.OverallSummary.TotalDiscount, 0.001)
}

func TestGenerateReviewOneShotScholarshipFromTestScore(t *testing.T) {
	in := scenarioInput(PlanOneShot)
	in.ScholarshipID = ""
	in.TestScore = 85
	in.Scholarships = []Scholarship{tier("s-low", "Merit", 50, 80, 10), tier("s-top", "Topper", 80, 100, 20)}

	review, err := GenerateReview(in)
	require.NoError(t, err)
	require.Equal(t, "s-top", review.ScholarshipID)
	line := review.Instalments()[0]
	require.InDelta(t, 100000, line.ScholarshipAmount, 0.001)
	require.InDelta(t, 481000, line.AmountPayable, 0.001)

	in.Structure.OneShotDiscountPercent = 10
	review, err = GenerateReview(in)
	require.NoError(t, err)
	line = review.Instalments()[0]
	require.InDelta(t, 58100, line.DiscountAmount, 0.001)
	require.InDelta(t, 100000, line.ScholarshipAmount, 0.001)
	require.InDelta(t, 422900, line.AmountPayable, 0.001)
}

func TestGenerateReviewOneShotMonotonicInDiscount(t *testing.T) {
	in := scenarioInput(PlanOneShot)
	prev := -1.0
	for _, pct := range []float64{25, 15, 10, 5, 1, 0} {
		in.Structure.OneShotDiscountPercent = pct
		review, err := GenerateReview(in)
		require.NoError(t, err)
		payable := review.Instalments()[0].AmountPayable
		require.Greater(t, payable, prev)
		prev = payable
	}
}

func TestGenerateReviewScholarshipApportionedAcrossInstalments(t *testing.T) {
	in := scenarioInput(PlanInstalmentWise)
	in.Scholarships = []Scholarship{tier("s1", "Merit", 0, 100, 7)}
	in.ScholarshipID = "s1"
	in.Structure.TotalProgramFee = 350000
	in.Structure.AdmissionFee = 0

	review, err := GenerateReview(in)
	require.NoError(t, err)
	var schol, base float64
	for _, inst := range review.Instalments() {
		schol += inst.ScholarshipAmount
		base += inst.BaseAmount
	}
	require.InDelta(t, 24500, schol, 1e-6)
	require.InDelta(t, 350000, base, 1e-6)
	require.InDelta(t, 24500, review.OverallSummary.TotalScholarship, 1e-6)
}

func TestGenerateReviewInstalmentSumWithRemainder(t *testing.T) {
	in := scenarioInput(PlanInstalmentWise)
	in.Structure = FeeStructure{AdmissionFee: 0, TotalProgramFee: 100000, NumberOfSemesters: 1, InstalmentsPerSemester: 3}
	review, err := GenerateReview(in)
	require.NoError(t, err)
	lines := review.Instalments()
	require.Equal(t, 33333.33, lines[0].BaseAmount)
	require.Equal(t, 33333.34, lines[2].BaseAmount)
	var sum float64
	for _, l := range lines {
		sum += l.BaseAmount
	}
	require.InDelta(t, 100000, sum, 1e-6)
}

func TestGenerateReviewCustomDatesTakePrecedence(t *testing.T) {
	in := scenarioInput(PlanInstalmentWise)
	in.Structure.InstalmentWiseDates = map[string]string{"semester-1-instalment-2": "2025-02-15"}
	review, err := GenerateReview(in)
	require.NoError(t, err)
	require.Equal(t, "2025-02-15", review.Instalments()[1].PaymentDate)

	in.CustomDates = map[string]string{"semester-2-instalment-1": "2025-08-10T00:00:00Z"}
	review, err = GenerateReview(in)
	require.NoError(t, err)
	lines := review.Instalments()
	require.Equal(t, "2025-03-02", lines[1].PaymentDate)
	require.Equal(t, "2025-08-10", lines[3].PaymentDate)
}

func TestGenerateReviewErrors(t *testing.T) {
	in := scenarioInput(PlanNotSelected)
	_, err := GenerateReview(in)
	require.ErrorIs(t, err, ErrPlanNotSelected)

	in = scenarioInput(PlanOneShot)
	in.ScholarshipID = "missing"
	_, err = GenerateReview(in)
	require.ErrorIs(t, err, ErrScholarshipNotFound)

	in = scenarioInput(PlanOneShot)
	in.Structure.TotalProgramFee = 0
	_, err = GenerateReview(in)
	require.ErrorIs(t, err, ErrInvalidStructure)

	in = scenarioInput(PlanOneShot)
	in.CohortStartDate = "soon"
	_, err = GenerateReview(in)
	require.ErrorIs(t, err, ErrInvalidDate)

	in = scenarioInput(PlanSemWise)
	in.CustomDates = map[string]string{"semester-1": "not-a-date"}
	_, err = GenerateReview(in)
	require.ErrorIs(t, err, ErrInvalidDate)
}

func TestSafeReviewFallsBack(t *testing.T) {
	in := scenarioInput(PlanSemWise)
	in.CohortStartDate = ""
	review, err := SafeReview(in, zerolog.Nop())
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrInvalidDate))
	require.True(t, review.Degraded)
	require.Empty(t, review.Semesters)
	require.Equal(t, 50000.0, review.AdmissionFee.TotalPayable)
	require.Equal(t, 500000.0, review.OverallSummary.TotalProgramFee)
	require.Equal(t, 500000.0, review.OverallSummary.TotalAmountPayable)

	review, err = SafeReview(scenarioInput(PlanSemWise), zerolog.Nop())
	require.NoError(t, err)
	require.False(t, review.Degraded)
}

func TestParsePlan(t *testing.T) {
	require.Equal(t, PlanOneShot, ParsePlan(" ONE_SHOT "))
	require.Equal(t, PlanInstalmentWise, ParsePlan("instalment_wise"))
	require.Equal(t, PlanNotSelected, ParsePlan("monthly"))
	require.False(t, PlanNotSelected.Payable())
}
