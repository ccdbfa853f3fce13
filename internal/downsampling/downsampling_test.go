package downsampling

import (
	"math"
	"testing"
	"time"

	"github.com/pvmonitor/pvdash/internal/metrics"
)

func makePoints(values []float64) []metrics.Point {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	points := make([]metrics.Point, len(values))
	for i, v := range values {
		at := base.Add(time.Duration(i) * 5 * time.Minute)
		points[i] = metrics.Point{Time: at.Format(time.RFC3339), Value: v, Timestamp: at.UnixMilli()}
	}
	return points
}

func sine(n int) []float64 {
	values := make([]float64, n)
	for i := range values {
		values[i] = math.Sin(float64(i)/float64(n)*math.Pi) * 4
	}
	return values
}

func assertOrdered(t *testing.T, points []metrics.Point) {
	t.Helper()
	for i := 1; i < len(points); i++ {
		if points[i].Timestamp <= points[i-1].Timestamp {
			t.Fatalf("points out of order at %d: %d <= %d", i, points[i].Timestamp, points[i-1].Timestamp)
		}
	}
}

func TestIsValid(t *testing.T) {
	tests := []struct {
		mode  string
		valid bool
	}{
		{"none", true},
		{"auto", true},
		{"lttb", true},
		{"minmax", true},
		{"m4", true},
		{"avg", true},
		{"invalid", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			if got := IsValid(tt.mode); got != tt.valid {
				t.Errorf("IsValid(%q) = %v, want %v", tt.mode, got, tt.valid)
			}
		})
	}
}

func TestApply_NoneAndBelowThreshold(t *testing.T) {
	points := makePoints([]float64{1, 2, 3})

	for _, mode := range []Mode{ModeNone, "", ModeAuto, ModeLTTB} {
		got, err := Apply(points, mode, 100)
		if err != nil {
			t.Fatalf("mode %q: unexpected error: %v", mode, err)
		}
		if len(got) != len(points) {
			t.Errorf("mode %q: expected %d points, got %d", mode, len(points), len(got))
		}
	}
}

func TestApply_UnknownMode(t *testing.T) {
	points := makePoints(sine(50))
	if _, err := Apply(points, "bogus", 20); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestApply_LTTB(t *testing.T) {
	points := makePoints(sine(1000))

	got, err := Apply(points, ModeLTTB, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 100 {
		t.Fatalf("expected 100 points, got %d", len(got))
	}
	if got[0] != points[0] || got[len(got)-1] != points[len(points)-1] {
		t.Error("first and last points must be kept")
	}
	assertOrdered(t, got)
}

func TestApply_MinMaxKeepsPeak(t *testing.T) {
	values := make([]float64, 600)
	for i := range values {
		values[i] = 1
	}
	values[321] = 50
	values[77] = -20
	points := makePoints(values)

	got, err := Apply(points, ModeMinMax, 60)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) > 60 {
		t.Errorf("expected at most 60 points, got %d", len(got))
	}
	assertOrdered(t, got)

	var peak, valley bool
	for _, p := range got {
		peak = peak || p.Value == 50
		valley = valley || p.Value == -20
	}
	if !peak || !valley {
		t.Errorf("extremes lost: peak=%v valley=%v", peak, valley)
	}
}

func TestApply_M4(t *testing.T) {
	points := makePoints(sine(400))

	got, err := Apply(points, ModeM4, 40)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) > 40 {
		t.Errorf("expected at most 40 points, got %d", len(got))
	}
	assertOrdered(t, got)
	if got[0] != points[0] || got[len(got)-1] != points[len(points)-1] {
		t.Error("first and last points must be kept")
	}
}

func TestApply_Average(t *testing.T) {
	values := make([]float64, 100)
	for i := range values {
		values[i] = float64(i % 2)
	}
	points := makePoints(values)

	got, err := Apply(points, ModeAverage, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 10 {
		t.Fatalf("expected 10 points, got %d", len(got))
	}
	for _, p := range got {
		if p.Value != 0.5 {
			t.Errorf("expected bucket mean 0.5, got %v", p.Value)
		}
	}
	assertOrdered(t, got)
}

func TestApply_ThresholdClamp(t *testing.T) {
	points := makePoints(sine(100))

	got, err := Apply(points, ModeLTTB, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != MinThreshold {
		t.Errorf("expected %d points, got %d", MinThreshold, len(got))
	}
}

func TestDetectBestAlgorithm(t *testing.T) {
	if got := detectBestAlgorithm(sine(500)); got != ModeLTTB {
		t.Errorf("smooth series: expected lttb, got %s", got)
	}

	spiky := make([]float64, 500)
	for i := range spiky {
		if i%2 == 0 {
			spiky[i] = 100
		}
	}
	if got := detectBestAlgorithm(spiky); got != ModeMinMax {
		t.Errorf("spiky series: expected minmax, got %s", got)
	}

	if got := detectBestAlgorithm([]float64{1, 2, 3}); got != ModeLTTB {
		t.Errorf("short series: expected lttb, got %s", got)
	}
}

func BenchmarkLTTB(b *testing.B) {
	points := makePoints(sine(8928))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = Apply(points, ModeLTTB, DefaultThreshold)
	}
}
