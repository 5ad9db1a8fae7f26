package fees

import (
	"strings"

	"github.com/shopspring/decimal"
)

// GSTRate is the flat goods and services tax applied to tuition.
const GSTRate = 0.18

var (
	gstRate       = decimal.NewFromFloat(GSTRate)
	gstMultiplier = decimal.NewFromFloat(1 + GSTRate)
	hundred       = decimal.NewFromInt(100)
)

// CalculateGST returns the tax owed on a GST-exclusive amount, rounded to paise.
func CalculateGST(baseAmount float64) float64 {
	return gstOn(decimal.NewFromFloat(baseAmount)).InexactFloat64()
}

// ExtractGSTFromTotal returns the tax component embedded in a GST-inclusive amount.
func ExtractGSTFromTotal(totalInclusive float64) float64 {
	return totalInclusive - totalInclusive/(1+GSTRate)
}

// ExtractBaseAmountFromTotal strips GST from a GST-inclusive amount.
func ExtractBaseAmountFromTotal(totalInclusive float64) float64 {
	return totalInclusive / (1 + GSTRate)
}

// FormatCurrency renders amount in rupees using Indian digit grouping, e.g. ₹12,34,567.89.
func FormatCurrency(amount float64) string {
	d := decimal.NewFromFloat(amount).Round(2)
	sign := ""
	if d.IsNegative() {
		sign = "-"
		d = d.Neg()
	}
	fixed := d.StringFixed(2)
	whole, frac, _ := strings.Cut(fixed, ".")
	return sign + "₹" + groupIndian(whole) + "." + frac
}

// groupIndian inserts separators after the last three digits and then every two.
func groupIndian(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	head, tail := digits[:len(digits)-3], digits[len(digits)-3:]
	var parts []string
	for len(head) > 2 {
		parts = append([]string{head[len(head)-2:]}, parts...)
		head = head[:len(head)-2]
	}
	if head != "" {
		parts = append([]string{head}, parts...)
	}
	return strings.Join(parts, ",") + "," + tail
}

func gstOn(base decimal.Decimal) decimal.Decimal {
	return base.Mul(gstRate).Round(2)
}

func percentOf(amount decimal.Decimal, pct float64) decimal.Decimal {
	return amount.Mul(decimal.NewFromFloat(pct)).Div(hundred).Round(2)
}

// splitEvenly divides total into n shares rounded to paise; the final share absorbs the remainder.
func splitEvenly(total decimal.Decimal, n int) []decimal.Decimal {
	if n <= 0 {
		return nil
	}
	share := total.Div(decimal.NewFromInt(int64(n))).Round(2)
	out := make([]decimal.Decimal, n)
	allocated := decimal.Zero
	for i := 0; i < n-1; i++ {
		out[i] = share
		allocated = allocated.Add(share)
	}
	out[n-1] = total.Sub(allocated)
	return out
}
