package utils

import (
	"math"
	"strconv"
	"strings"
)

// Decimal places and noise threshold used for values leaving the service.
const (
	// PointDecimals is the precision of chart series values.
	PointDecimals = 3
	// DisplayDecimals is the precision of snapshot and total values.
	DisplayDecimals = 2
	// SeriesEpsilon is the magnitude below which a series value is reported as 0.
	SeriesEpsilon = 1e-4
	// DailyEpsilon is the threshold below which a daily energy value is 0.
	DailyEpsilon = 1e-3
)

// Round rounds v half away from zero to the given number of decimals.
func Round(v float64, decimals int) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	p := math.Pow10(decimals)
	r := math.Round(v*p) / p
	if r == 0 {
		return 0 // no negative zero in JSON
	}
	return r
}

// Snap returns 0 when |v| is below epsilon, v otherwise.
func Snap(v, epsilon float64) float64 {
	if math.Abs(v) < epsilon {
		return 0
	}
	return v
}

// RoundPoint applies the series noise threshold then series precision.
func RoundPoint(v float64) float64 {
	return Round(Snap(v, SeriesEpsilon), PointDecimals)
}

// RoundDisplay rounds a snapshot or total value.
func RoundDisplay(v float64) float64 {
	return Round(v, DisplayDecimals)
}

// FormatDecimal renders v without exponent and with sep as decimal separator.
func FormatDecimal(v float64, sep string) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if sep != "." {
		s = strings.Replace(s, ".", sep, 1)
	}
	return s
}
