package utils

import (
	"math"
	"testing"
)

func TestRound(t *testing.T) {
	tests := []struct {
		name     string
		value    float64
		decimals int
		expected float64
	}{
		{"three decimals", 1.23456, 3, 1.235},
		{"two decimals", 1.23456, 2, 1.23},
		{"half away from zero", 2.5, 0, 3},
		{"negative", -1.23456, 2, -1.23},
		{"negative rounds to zero", -0.0001, 2, 0},
		{"NaN", math.NaN(), 2, 0},
		{"Inf", math.Inf(1), 2, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Round(tt.value, tt.decimals)
			if got != tt.expected {
				t.Errorf("Round(%v, %d) = %v, want %v", tt.value, tt.decimals, got, tt.expected)
			}
			if got == 0 && math.Signbit(got) {
				t.Errorf("Round(%v, %d) returned negative zero", tt.value, tt.decimals)
			}
		})
	}
}

func TestSnap(t *testing.T) {
	tests := []struct {
		name     string
		value    float64
		epsilon  float64
		expected float64
	}{
		{"below series epsilon", 0.00005, SeriesEpsilon, 0},
		{"negative below epsilon", -0.00005, SeriesEpsilon, 0},
		{"at epsilon kept", 0.0001, SeriesEpsilon, 0.0001},
		{"below daily epsilon", 0.0009, DailyEpsilon, 0},
		{"large kept", 12.5, SeriesEpsilon, 12.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Snap(tt.value, tt.epsilon); got != tt.expected {
				t.Errorf("Snap(%v, %v) = %v, want %v", tt.value, tt.epsilon, got, tt.expected)
			}
		})
	}
}

func TestRoundPoint(t *testing.T) {
	if got := RoundPoint(0.00005); got != 0 {
		t.Errorf("RoundPoint(0.00005) = %v, want exactly 0", got)
	}
	if got := RoundPoint(1.23456); got != 1.235 {
		t.Errorf("RoundPoint(1.23456) = %v, want 1.235", got)
	}
	if got := RoundDisplay(1.23456); got != 1.23 {
		t.Errorf("RoundDisplay(1.23456) = %v, want 1.23", got)
	}
}

func TestFormatDecimal(t *testing.T) {
	tests := []struct {
		value    float64
		sep      string
		expected string
	}{
		{10.5, ",", "10,5"},
		{0.98, ",", "0,98"},
		{10.5, ".", "10.5"},
		{42, ",", "42"},
		{0.0000001, ".", "0.0000001"},
	}

	for _, tt := range tests {
		if got := FormatDecimal(tt.value, tt.sep); got != tt.expected {
			t.Errorf("FormatDecimal(%v, %q) = %q, want %q", tt.value, tt.sep, got, tt.expected)
		}
	}
}

func BenchmarkRoundPoint(b *testing.B) {
	for i := 0; i < b.N; i++ {
		RoundPoint(float64(i) * 0.001234)
	}
}
