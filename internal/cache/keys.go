package cache

import (
	"strconv"
	"strings"
)

const reviewPrefix = "fee-review:"

// KeyCohortReview returns the key of a cohort review for one plan and scholarship selection.
func KeyCohortReview(cohortID, plan, scholarshipID string, testScore float64) string {
	return reviewPrefix + cohortID + ":cohort:" + join(plan, scholarshipID, strconv.FormatFloat(testScore, 'f', -1, 64))
}

// KeyStudentReview returns the key of a review computed from a student override. The score
// picks the tier when no scholarship is named.
func KeyStudentReview(cohortID, studentID, plan, scholarshipID string, testScore float64) string {
	return reviewPrefix + cohortID + ":student:" + join(studentID, plan, scholarshipID, strconv.FormatFloat(testScore, 'f', -1, 64))
}

// CohortPattern matches every review key stored for a cohort.
func CohortPattern(cohortID string) string {
	return reviewPrefix + cohortID + ":*"
}

func join(parts ...string) string {
	for i, p := range parts {
		if strings.TrimSpace(p) == "" {
			parts[i] = "-"
		}
	}
	return strings.Join(parts, ":")
}
