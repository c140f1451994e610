package model

import (
	"math"
	"math/big"
	"strconv"

	"github.com/shopspring/decimal"
)

// float64 values are dyadic rationals with at most 1074 fractional bits, so
// their decimal expansion ends within 1074 digits.
const exactFloatDigits = 1074

// FormatKWh renders a consumption value as the shortest decimal text that
// parses back to the same float64 (120 -> "120", 0.1 -> "0.1").
// Non-finite values render as "NaN", "+Inf" or "-Inf".
func FormatKWh(kwh float64) string {
	if !isFinite(kwh) {
		return strconv.FormatFloat(kwh, 'g', -1, 64)
	}
	return decimal.NewFromFloat(kwh).String()
}

// ParseKWh is the inverse of FormatKWh.
func ParseKWh(s string) (float64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	return d.InexactFloat64(), nil
}

// RoundBill rounds a bill to 2 decimal places using the exact binary value of
// bill, with exact ties going to the even cent. 2.675 is stored as
// 2.67499999... and so becomes 2.67. Non-finite values are returned unchanged.
func RoundBill(bill float64) float64 {
	if !isFinite(bill) {
		return bill
	}
	exact := decimal.NewFromBigRat(new(big.Rat).SetFloat64(bill), exactFloatDigits)
	return exact.RoundBank(2).InexactFloat64()
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
