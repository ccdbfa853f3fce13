// Package downsampling reduces chart series to a target number of points
// while keeping their visual shape.
package downsampling

import (
	"fmt"
	"math"

	"github.com/pvmonitor/pvdash/internal/metrics"
	"github.com/pvmonitor/pvdash/internal/utils"
)

// Mode represents the downsampling mode
type Mode string

const (
	// ModeNone returns the series unchanged
	ModeNone Mode = "none"
	// ModeAuto downsamples only above the threshold and picks the algorithm
	ModeAuto Mode = "auto"
	// ModeLTTB uses Largest-Triangle-Three-Buckets
	ModeLTTB Mode = "lttb"
	// ModeMinMax keeps min and max per bucket (preserves peaks)
	ModeMinMax Mode = "minmax"
	// ModeAverage replaces each bucket by its mean
	ModeAverage Mode = "avg"
	// ModeM4 keeps first, min, max, last per bucket
	ModeM4 Mode = "m4"
)

// DefaultThreshold is the target point count when none is given.
const DefaultThreshold = 500

// MinThreshold is the smallest accepted target.
const MinThreshold = 10

// ValidModes returns all valid downsampling modes
func ValidModes() []Mode {
	return []Mode{ModeNone, ModeAuto, ModeLTTB, ModeMinMax, ModeAverage, ModeM4}
}

// IsValid checks if a mode string is valid
func IsValid(mode string) bool {
	for _, m := range ValidModes() {
		if string(m) == mode {
			return true
		}
	}
	return false
}

// Apply downsamples points to about threshold points. Points are expected in
// time order; the first and last are always kept by the index-selecting modes.
func Apply(points []metrics.Point, mode Mode, threshold int) ([]metrics.Point, error) {
	if mode == "" || mode == ModeNone || len(points) == 0 {
		return points, nil
	}
	if !IsValid(string(mode)) {
		return points, fmt.Errorf("unknown downsampling mode: %s", mode)
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if threshold < MinThreshold {
		threshold = MinThreshold
	}
	if len(points) <= threshold {
		return points, nil
	}

	values := make([]float64, len(points))
	for i, p := range points {
		values[i] = p.Value
	}

	if mode == ModeAuto {
		mode = detectBestAlgorithm(values)
	}

	var indices []int
	switch mode {
	case ModeLTTB:
		indices = lttb(values, threshold)
	case ModeMinMax:
		indices = minmax(values, threshold)
	case ModeM4:
		indices = m4(values, threshold)
	case ModeAverage:
		return average(points, threshold), nil
	}

	out := make([]metrics.Point, len(indices))
	for i, idx := range indices {
		out[i] = points[idx]
	}
	return out, nil
}

// detectBestAlgorithm picks MinMax for spiky series, M4 for moderately
// spiky ones and LTTB for smooth curves such as irradiance.
func detectBestAlgorithm(values []float64) Mode {
	s := spikiness(values)
	switch {
	case s > 0.2:
		return ModeMinMax
	case s > 0.1:
		return ModeM4
	default:
		return ModeLTTB
	}
}

// spikiness is in [0, 1]: the weighted share of outliers (beyond two
// standard deviations) and of steps larger than one standard deviation.
func spikiness(values []float64) float64 {
	n := len(values)
	if n < 10 {
		return 0
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(n)

	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	stdDev := math.Sqrt(variance / float64(n))
	if stdDev == 0 {
		return 0
	}

	outliers, steps := 0, 0
	for i, v := range values {
		if math.Abs(v-mean) > 2*stdDev {
			outliers++
		}
		if i > 0 && math.Abs(v-values[i-1]) > stdDev {
			steps++
		}
	}

	s := (float64(outliers)/float64(n) + 1.5*float64(steps)/float64(n-1)) / 2.5
	return math.Min(s, 1)
}

// lttb returns the indices selected by Largest-Triangle-Three-Buckets.
func lttb(data []float64, threshold int) []int {
	if threshold <= 2 {
		return []int{0, len(data) - 1}
	}

	sampled := make([]int, 0, threshold)
	sampled = append(sampled, 0)

	bucketSize := float64(len(data)-2) / float64(threshold-2)
	a := 0

	for i := 0; i < threshold-2; i++ {
		// average of the next bucket
		nextStart := int(math.Floor(float64(i+1)*bucketSize)) + 1
		nextEnd := int(math.Floor(float64(i+2)*bucketSize)) + 1
		if nextEnd > len(data) {
			nextEnd = len(data)
		}
		var avgX, avgY float64
		for j := nextStart; j < nextEnd; j++ {
			avgX += float64(j)
			avgY += data[j]
		}
		if span := nextEnd - nextStart; span > 0 {
			avgX /= float64(span)
			avgY /= float64(span)
		}

		from := int(math.Floor(float64(i)*bucketSize)) + 1
		to := int(math.Floor(float64(i+1)*bucketSize)) + 1

		ax, ay := float64(a), data[a]
		maxArea := -1.0
		selected := from
		for j := from; j < to; j++ {
			area := math.Abs((ax-avgX)*(data[j]-ay)-(ax-float64(j))*(avgY-ay)) * 0.5
			if area > maxArea {
				maxArea = area
				selected = j
			}
		}

		sampled = append(sampled, selected)
		a = selected
	}

	return append(sampled, len(data)-1)
}

// buckets splits n samples into count contiguous ranges.
func buckets(n, count int) [][2]int {
	if count < 1 {
		count = 1
	}
	size := float64(n) / float64(count)
	out := make([][2]int, 0, count)
	for i := 0; i < count; i++ {
		start := int(float64(i) * size)
		end := int(float64(i+1) * size)
		if end > n {
			end = n
		}
		if start < end {
			out = append(out, [2]int{start, end})
		}
	}
	return out
}

func extremes(data []float64, start, end int) (minIdx, maxIdx int) {
	minIdx, maxIdx = start, start
	for j := start + 1; j < end; j++ {
		if data[j] < data[minIdx] {
			minIdx = j
		}
		if data[j] > data[maxIdx] {
			maxIdx = j
		}
	}
	return minIdx, maxIdx
}

// minmax keeps the min and max of each bucket, in time order.
func minmax(data []float64, threshold int) []int {
	sampled := make([]int, 0, threshold)
	for _, b := range buckets(len(data), threshold/2) {
		lo, hi := extremes(data, b[0], b[1])
		switch {
		case lo == hi:
			sampled = append(sampled, lo)
		case lo < hi:
			sampled = append(sampled, lo, hi)
		default:
			sampled = append(sampled, hi, lo)
		}
	}
	return sampled
}

// m4 keeps first, min, max and last of each bucket, in time order and
// without duplicates.
func m4(data []float64, threshold int) []int {
	sampled := make([]int, 0, threshold)
	for _, b := range buckets(len(data), threshold/4) {
		first, last := b[0], b[1]-1
		lo, hi := extremes(data, b[0], b[1])
		if lo > hi {
			lo, hi = hi, lo
		}
		for _, idx := range []int{first, lo, hi, last} {
			if n := len(sampled); n > 0 && sampled[n-1] >= idx {
				continue
			}
			sampled = append(sampled, idx)
		}
	}
	return sampled
}

// average replaces each bucket by its mean, stamped with the middle point.
func average(points []metrics.Point, threshold int) []metrics.Point {
	out := make([]metrics.Point, 0, threshold)
	for _, b := range buckets(len(points), threshold) {
		var sum float64
		for j := b[0]; j < b[1]; j++ {
			sum += points[j].Value
		}
		mid := points[b[0]+(b[1]-b[0])/2]
		mid.Value = utils.RoundPoint(sum / float64(b[1]-b[0]))
		out = append(out, mid)
	}
	return out
}
