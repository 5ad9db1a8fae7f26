package fees

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// GenerateReview produces the itemised breakdown for the input's plan and scholarship.
//
// The admission fee is GST-inclusive and is split by extraction. The program fee (total
// program fee less admission fee) is GST-exclusive and GST is added on top. Discount and
// scholarship are subtracted in that order from the GST-inclusive amount; the scholarship is
// a percentage of the raw total program fee.
func GenerateReview(in Input) (Review, error) {
	if errs := ValidateFeeStructure(in.Structure); len(errs) > 0 {
		return Review{}, fmt.Errorf("%w: %s", ErrInvalidStructure, errs.Error())
	}
	if !in.Plan.Payable() {
		return Review{}, ErrPlanNotSelected
	}
	scholarship, err := resolveScholarship(in)
	if err != nil {
		return Review{}, err
	}
	sched, err := newScheduler(in.CohortStartDate, in.Dates())
	if err != nil {
		return Review{}, err
	}

	fs := in.Structure
	admission := decimal.NewFromFloat(fs.AdmissionFee)
	admissionBase := admission.Div(gstMultiplier).Round(2)
	admissionGST := admission.Sub(admissionBase)
	totalProgram := decimal.NewFromFloat(fs.TotalProgramFee)
	programBase := totalProgram.Sub(admission)

	scholarshipTotal := decimal.Zero
	if scholarship != nil {
		scholarshipTotal = percentOf(totalProgram, scholarship.AmountPercent)
	}

	review := Review{
		Plan: in.Plan,
		AdmissionFee: AdmissionFee{
			BaseAmount:   admissionBase.InexactFloat64(),
			GSTAmount:    admissionGST.InexactFloat64(),
			TotalPayable: admission.InexactFloat64(),
		},
	}
	if scholarship != nil {
		review.ScholarshipID = scholarship.ID
	}

	var totals lineTotals
	if in.Plan == PlanOneShot {
		base := programBase.Add(admissionBase)
		gst := gstOn(programBase).Add(admissionGST)
		gross := base.Add(gst)
		discount := percentOf(gross, fs.OneShotDiscountPercent)
		payable := clampZero(gross.Sub(discount).Sub(scholarshipTotal))
		line := Instalment{
			Key:               OneShotKey,
			InstalmentNumber:  1,
			PaymentDate:       sched.dateFor(OneShotKey, 1, 1, 1),
			BaseAmount:        base.InexactFloat64(),
			GSTAmount:         gst.InexactFloat64(),
			DiscountAmount:    discount.InexactFloat64(),
			ScholarshipAmount: scholarshipTotal.InexactFloat64(),
			AmountPayable:     payable.InexactFloat64(),
		}
		totals.add(gst, discount, scholarshipTotal, payable)
		review.Semesters = []SemesterBreakdown{{SemesterNumber: 1, Instalments: []Instalment{line}, Total: line.AmountPayable}}
	} else {
		perSemester := fs.InstalmentsPerSemester
		if in.Plan == PlanSemWise {
			perSemester = 1
		}
		count := fs.NumberOfSemesters * perSemester
		bases := splitEvenly(programBase, count)
		scholarships := splitEvenly(scholarshipTotal, count)

		review.Semesters = make([]SemesterBreakdown, 0, fs.NumberOfSemesters)
		idx := 0
		for sem := 1; sem <= fs.NumberOfSemesters; sem++ {
			breakdown := SemesterBreakdown{SemesterNumber: sem, Instalments: make([]Instalment, 0, perSemester)}
			semTotal := decimal.Zero
			for i := 1; i <= perSemester; i++ {
				base := bases[idx]
				schol := scholarships[idx]
				gst := gstOn(base)
				payable := clampZero(base.Add(gst).Sub(schol))
				key := InstalmentKey(in.Plan, sem, i)
				breakdown.Instalments = append(breakdown.Instalments, Instalment{
					Key:               key,
					InstalmentNumber:  i,
					PaymentDate:       sched.dateFor(key, sem, i, perSemester),
					BaseAmount:        base.InexactFloat64(),
					GSTAmount:         gst.InexactFloat64(),
					ScholarshipAmount: schol.InexactFloat64(),
					AmountPayable:     payable.InexactFloat64(),
				})
				totals.add(gst, decimal.Zero, schol, payable)
				semTotal = semTotal.Add(payable)
				idx++
			}
			breakdown.Total = semTotal.InexactFloat64()
			review.Semesters = append(review.Semesters, breakdown)
		}
		totals.gst = totals.gst.Add(admissionGST)
		totals.payable = totals.payable.Add(admission)
	}

	review.OverallSummary = Summary{
		TotalProgramFee:    totalProgram.InexactFloat64(),
		AdmissionFee:       admission.InexactFloat64(),
		TotalGST:           totals.gst.InexactFloat64(),
		TotalDiscount:      totals.discount.InexactFloat64(),
		TotalScholarship:   totals.scholarship.InexactFloat64(),
		TotalAmountPayable: totals.payable.InexactFloat64(),
	}
	return review, nil
}

type lineTotals struct {
	gst, discount, scholarship, payable decimal.Decimal
}

func (t *lineTotals) add(gst, discount, scholarship, payable decimal.Decimal) {
	t.gst = t.gst.Add(gst)
	t.discount = t.discount.Add(discount)
	t.scholarship = t.scholarship.Add(scholarship)
	t.payable = t.payable.Add(payable)
}

func resolveScholarship(in Input) (*Scholarship, error) {
	id := strings.TrimSpace(in.ScholarshipID)
	switch id {
	case NoScholarship:
		return nil, nil
	case "":
		if s, ok := MatchScholarship(in.Scholarships, in.TestScore); ok {
			return &s, nil
		}
		return nil, nil
	}
	for _, s := range in.Scholarships {
		if s.ID == id {
			return &s, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrScholarshipNotFound, id)
}

func clampZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
