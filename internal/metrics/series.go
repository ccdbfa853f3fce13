package metrics

import (
	"fmt"
	"sort"
	"time"

	"github.com/pvmonitor/pvdash/internal/flux"
	"github.com/pvmonitor/pvdash/internal/tabular"
	"github.com/pvmonitor/pvdash/internal/utils"
)

// Point is one chart sample. Timestamp is epoch milliseconds.
type Point struct {
	Time      string  `json:"time"`
	Value     float64 `json:"value"`
	Timestamp int64   `json:"timestamp"`
}

// Series is the answer for one metric and one plant (or Total).
type Series struct {
	Metric Name    `json:"metric"`
	Plant  string  `json:"plant"`
	Unit   string  `json:"unit"`
	Points []Point `json:"data"`
	// Failed lists the plants whose query failed; a total was computed without them.
	Failed []string `json:"failed,omitempty"`
	// NoSource is set when the metric does not exist for the plant. It is
	// never reported as a series of zeros.
	NoSource bool `json:"noSource,omitempty"`
	// Err is set when no plant could be read.
	Err error `json:"-"`
}

// Absence explains a NoSource series. It is nil for a series that has a source.
func (s Series) Absence() error {
	if !s.NoSource {
		return nil
	}
	return fmt.Errorf("%w: %s at %s", ErrNoSource, s.Metric, s.Plant)
}

// sample is an unrounded, scaled value.
type sample struct {
	at    time.Time
	value float64
}

type samples []sample

// parseSamples reads _time/_value rows. Rows without a valid time or value are
// skipped. Several rows at the same instant (one per matching device) are
// merged with fn: summed for "sum", averaged otherwise.
func parseSamples(text, fn string) (samples, error) {
	res, err := tabular.Parse(text)
	if err != nil {
		return nil, err
	}

	type acc struct {
		sum   float64
		count int
	}
	byTime := make(map[time.Time]*acc)
	for _, row := range res.Rows {
		at, err := time.Parse(time.RFC3339Nano, row.Get(flux.KeyTime))
		if err != nil {
			continue
		}
		v, ok := row.Float(flux.KeyValue)
		if !ok {
			continue
		}
		a, exists := byTime[at]
		if !exists {
			a = &acc{}
			byTime[at] = a
		}
		a.sum += v
		a.count++
	}

	out := make(samples, 0, len(byTime))
	for at, a := range byTime {
		v := a.sum
		if fn != "sum" {
			v = a.sum / float64(a.count)
		}
		out = append(out, sample{at: at, value: v})
	}
	out.sort()
	return out, nil
}

func (s samples) sort() {
	sort.Slice(s, func(i, j int) bool { return s[i].at.Before(s[j].at) })
}

// transform applies the definition's post-processing in order: scale,
// drop negatives, running sum.
func (s samples) transform(def Definition) samples {
	out := make(samples, 0, len(s))
	for _, p := range s {
		v := p.value * def.Scale
		if def.NonNegative && v < 0 {
			continue
		}
		out = append(out, sample{at: p.at, value: v})
	}
	if def.Cumulative {
		values := make([]float64, len(out))
		for i, p := range out {
			values[i] = p.value
		}
		for i, v := range CumulativeSum(values) {
			out[i].value = v
		}
	}
	return out
}

// last returns the latest sample, ok false when s is empty.
func (s samples) last() (sample, bool) {
	if len(s) == 0 {
		return sample{}, false
	}
	return s[len(s)-1], true
}

// points rounds the series for the response, ascending by timestamp.
func (s samples) points() []Point {
	out := make([]Point, len(s))
	for i, p := range s {
		out[i] = Point{
			Time:      p.at.UTC().Format(time.RFC3339),
			Value:     utils.RoundPoint(p.value),
			Timestamp: p.at.UnixMilli(),
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}

// CumulativeSum returns the running sum of values.
func CumulativeSum(values []float64) []float64 {
	out := make([]float64, len(values))
	var running float64
	for i, v := range values {
		running += v
		out[i] = running
	}
	return out
}

// PerformanceRatio is energy (MWh) over the energy the plant capacity (kWp)
// would yield under irradiation (kWh/m²), in percent. It is 0 when the
// expected energy is not positive.
func PerformanceRatio(energyMWh, capacityKWp, irradiation float64) float64 {
	expected := capacityKWp * irradiation
	if expected <= 0 {
		return 0
	}
	return energyMWh * 1000 / expected * 100
}

// derivePR computes the PR series of one plant from its cumulative energy and
// irradiation series. Irradiation is carried forward to energy timestamps.
func derivePR(energy, irradiation samples, capacity float64) samples {
	out := make(samples, 0, len(energy))
	j := 0
	var h float64
	var seen bool
	for _, e := range energy {
		for j < len(irradiation) && !irradiation[j].at.After(e.at) {
			h = irradiation[j].value
			seen = true
			j++
		}
		if !seen || h <= 0 || capacity <= 0 {
			continue
		}
		out = append(out, sample{at: e.at, value: PerformanceRatio(e.value, capacity, h)})
	}
	return out
}
