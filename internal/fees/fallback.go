package fees

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/nushkakush/experiencetrack-dash-sub003/internal/obs"
)

// FallbackReview is the degraded summary shown when a full review cannot be computed.
// It relies only on the admission fee and the whole program fee.
func FallbackReview(in Input) Review {
	admission := decimal.NewFromFloat(in.Structure.AdmissionFee)
	total := decimal.NewFromFloat(in.Structure.TotalProgramFee)
	admissionBase := decimal.Zero
	if admission.IsPositive() {
		admissionBase = admission.Div(gstMultiplier).Round(2)
	}
	payable := total
	if admission.GreaterThan(total) {
		payable = admission
	}
	return Review{
		Plan:          in.Plan,
		ScholarshipID: in.ScholarshipID,
		AdmissionFee: AdmissionFee{
			BaseAmount:   admissionBase.InexactFloat64(),
			GSTAmount:    admission.Sub(admissionBase).InexactFloat64(),
			TotalPayable: admission.InexactFloat64(),
		},
		Semesters: []SemesterBreakdown{},
		OverallSummary: Summary{
			TotalProgramFee:    total.InexactFloat64(),
			AdmissionFee:       admission.InexactFloat64(),
			TotalAmountPayable: payable.InexactFloat64(),
		},
		Degraded: true,
	}
}

// SafeReview generates a review and never fails: computation errors and panics are logged
// and replaced by FallbackReview. The returned error reports what went wrong.
func SafeReview(in Input, logger zerolog.Logger) (review Review, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("fees: review panicked: %v", r)
			review = FallbackReview(in)
			obs.RecordFeeReview(string(in.Plan), "fallback")
			logger.Warn().Err(err).Str("plan", string(in.Plan)).Msg("fee review fallback")
		}
	}()
	review, err = GenerateReview(in)
	if err != nil {
		logger.Warn().Err(err).Str("plan", string(in.Plan)).Str("scholarship_id", in.ScholarshipID).Msg("fee review fallback")
		obs.RecordFeeReview(string(in.Plan), "fallback")
		return FallbackReview(in), err
	}
	obs.RecordFeeReview(string(in.Plan), "ok")
	return review, nil
}
