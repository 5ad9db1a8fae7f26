package fees

import "strings"

// PaymentPlan selects how the program fee is collected.
type PaymentPlan string

const (
	PlanOneShot        PaymentPlan = "one_shot"
	PlanSemWise        PaymentPlan = "sem_wise"
	PlanInstalmentWise PaymentPlan = "instalment_wise"
	PlanNotSelected    PaymentPlan = "not_selected"
)

// Plans lists the payable plans in display order.
var Plans = []PaymentPlan{PlanOneShot, PlanSemWise, PlanInstalmentWise}

// ParsePlan normalises a plan identifier. Unknown values map to PlanNotSelected.
func ParsePlan(value string) PaymentPlan {
	switch PaymentPlan(strings.ToLower(strings.TrimSpace(value))) {
	case PlanOneShot:
		return PlanOneShot
	case PlanSemWise:
		return PlanSemWise
	case PlanInstalmentWise:
		return PlanInstalmentWise
	default:
		return PlanNotSelected
	}
}

// Payable reports whether the plan produces a schedule.
func (p PaymentPlan) Payable() bool {
	return p == PlanOneShot || p == PlanSemWise || p == PlanInstalmentWise
}

// NoScholarship explicitly opts out of any scholarship, including test-score matching.
const NoScholarship = "no_scholarship"

// TempIDPrefix marks scholarships created in the editor but not yet persisted.
const TempIDPrefix = "temp-"

// FeeStructure is the per-cohort (or per-student override) fee configuration.
// Admission and total program fee are GST-inclusive amounts in rupees.
type FeeStructure struct {
	CohortID               string            `json:"cohortId,omitempty"`
	StudentID              string            `json:"studentId,omitempty"`
	AdmissionFee           float64           `json:"admissionFee" validate:"gte=0,ltefield=TotalProgramFee"`
	TotalProgramFee        float64           `json:"totalProgramFee" validate:"gt=0"`
	NumberOfSemesters      int               `json:"numberOfSemesters" validate:"min=1,max=12"`
	InstalmentsPerSemester int               `json:"instalmentsPerSemester" validate:"min=1,max=12"`
	OneShotDiscountPercent float64           `json:"oneShotDiscountPercent" validate:"gte=0,lte=100"`
	OneShotDates           map[string]string `json:"oneShotDates,omitempty" validate:"omitempty,dive,isodate"`
	SemWiseDates           map[string]string `json:"semWiseDates,omitempty" validate:"omitempty,dive,isodate"`
	InstalmentWiseDates    map[string]string `json:"instalmentWiseDates,omitempty" validate:"omitempty,dive,isodate"`
	SetupComplete          bool              `json:"setupComplete"`
}

// DatesFor returns the caller-overridden dates stored for plan.
func (f FeeStructure) DatesFor(plan PaymentPlan) map[string]string {
	switch plan {
	case PlanOneShot:
		return f.OneShotDates
	case PlanSemWise:
		return f.SemWiseDates
	case PlanInstalmentWise:
		return f.InstalmentWiseDates
	default:
		return nil
	}
}

// WithDates returns a copy of f with the date overrides for plan replaced.
func (f FeeStructure) WithDates(plan PaymentPlan, dates map[string]string) FeeStructure {
	switch plan {
	case PlanOneShot:
		f.OneShotDates = dates
	case PlanSemWise:
		f.SemWiseDates = dates
	case PlanInstalmentWise:
		f.InstalmentWiseDates = dates
	}
	return f
}

// Scholarship is a test-score tier granting a percentage off the program fee.
type Scholarship struct {
	ID            string  `json:"id"`
	CohortID      string  `json:"cohortId,omitempty"`
	Name          string  `json:"name" validate:"required"`
	Description   string  `json:"description,omitempty"`
	StartPercent  float64 `json:"startPercent" validate:"gte=0,lte=100"`
	EndPercent    float64 `json:"endPercent" validate:"gte=0,lte=100"`
	AmountPercent float64 `json:"amountPercent" validate:"gt=0,lte=100"`
}

// IsTemporary reports whether the scholarship has not been persisted yet.
func (s Scholarship) IsTemporary() bool {
	return s.ID == "" || strings.HasPrefix(s.ID, TempIDPrefix)
}

// Input gathers everything needed to produce a review.
type Input struct {
	Structure       FeeStructure      `json:"feeStructure"`
	Scholarships    []Scholarship     `json:"scholarships"`
	Plan            PaymentPlan       `json:"selectedPlan"`
	TestScore       float64           `json:"testScore"`
	CohortStartDate string            `json:"cohortStartDate"`
	ScholarshipID   string            `json:"scholarshipId,omitempty"`
	CustomDates     map[string]string `json:"customDates,omitempty"`
}

// Dates returns the custom dates that apply to the input's plan.
func (in Input) Dates() map[string]string {
	if in.CustomDates != nil {
		return in.CustomDates
	}
	return in.Structure.DatesFor(in.Plan)
}

// Review is the itemised breakdown for one plan and scholarship selection.
type Review struct {
	Plan           PaymentPlan         `json:"plan"`
	ScholarshipID  string              `json:"scholarshipId,omitempty"`
	AdmissionFee   AdmissionFee        `json:"admissionFee"`
	Semesters      []SemesterBreakdown `json:"semesters"`
	OverallSummary Summary             `json:"overallSummary"`
	Degraded       bool                `json:"degraded,omitempty"`
}

// AdmissionFee splits the GST-inclusive admission fee.
type AdmissionFee struct {
	BaseAmount   float64 `json:"baseAmount"`
	GSTAmount    float64 `json:"gstAmount"`
	TotalPayable float64 `json:"totalPayable"`
}

// SemesterBreakdown groups the instalments due within one semester.
type SemesterBreakdown struct {
	SemesterNumber int          `json:"semesterNumber"`
	Instalments    []Instalment `json:"instalments"`
	Total          float64      `json:"total"`
}

// Instalment is one payable line of the schedule.
type Instalment struct {
	Key               string  `json:"key"`
	InstalmentNumber  int     `json:"instalmentNumber"`
	PaymentDate       string  `json:"paymentDate"`
	BaseAmount        float64 `json:"baseAmount"`
	GSTAmount         float64 `json:"gstAmount"`
	DiscountAmount    float64 `json:"discountAmount"`
	ScholarshipAmount float64 `json:"scholarshipAmount"`
	AmountPayable     float64 `json:"amountPayable"`
}

// Summary aggregates the review.
type Summary struct {
	TotalProgramFee    float64 `json:"totalProgramFee"`
	AdmissionFee       float64 `json:"admissionFee"`
	TotalGST           float64 `json:"totalGST"`
	TotalDiscount      float64 `json:"totalDiscount"`
	TotalScholarship   float64 `json:"totalScholarship"`
	TotalAmountPayable float64 `json:"totalAmountPayable"`
}

// Instalments flattens the schedule in payment order.
func (r Review) Instalments() []Instalment {
	var out []Instalment
	for _, sem := range r.Semesters {
		out = append(out, sem.Instalments...)
	}
	return out
}
