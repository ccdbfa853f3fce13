package metrics

import (
	"sort"
	"time"
)

// combine merges per-plant series into the total series of def. Every
// timestamp seen in any plant appears once. A plant without a sample at a
// timestamp counts as 0, except for cumulative metrics where its last
// running value is carried forward.
func combine(def Definition, perPlant map[string]samples) samples {
	plants := make([]string, 0, len(perPlant))
	for p := range perPlant {
		plants = append(plants, p)
	}
	sort.Strings(plants)

	instants := make(map[time.Time]struct{})
	for _, p := range plants {
		for _, s := range perPlant[p] {
			instants[s.at] = struct{}{}
		}
	}
	times := make([]time.Time, 0, len(instants))
	for at := range instants {
		times = append(times, at)
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

	cursor := make(map[string]int, len(plants))
	current := make(map[string]float64, len(plants))
	out := make(samples, 0, len(times))
	for _, at := range times {
		values := make(map[string]float64, len(plants))
		for _, p := range plants {
			series := perPlant[p]
			i := cursor[p]
			present := false
			for i < len(series) && !series[i].at.After(at) {
				if series[i].at.Equal(at) {
					present = true
				}
				current[p] = series[i].value
				i++
			}
			cursor[p] = i
			switch {
			case present:
				values[p] = current[p]
			case def.Cumulative:
				values[p] = current[p]
			default:
				values[p] = 0
			}
		}
		out = append(out, sample{at: at, value: combineValues(def, values)})
	}
	return out
}

// combineValues applies def.Combine to the plant values of one instant.
func combineValues(def Definition, values map[string]float64) float64 {
	switch def.Combine {
	case CombineWeighted:
		return WeightedAverage(values)
	case CombineWeightedPositive:
		v, _ := WeightedPositive(values)
		return v
	case CombineSingle:
		var sum float64
		for plant, v := range values {
			if def.Supports(plant) {
				sum += v
			}
		}
		return sum
	default:
		var sum float64
		for _, v := range values {
			sum += v
		}
		return sum
	}
}

// WeightedAverage is the capacity-weighted mean of values normalised by the
// capacity of every plant. Plants missing from values count as 0.
func WeightedAverage(values map[string]float64) float64 {
	total := TotalCapacity()
	if total == 0 {
		return 0
	}
	var sum float64
	for plant, v := range values {
		sum += Capacities[plant] * v
	}
	return sum / total
}

// WeightedPositive is the capacity-weighted mean over the plants with a
// positive value and a known capacity. ok is false when no plant qualifies;
// the value is then 0.
func WeightedPositive(values map[string]float64) (float64, bool) {
	var sum, weight float64
	for plant, v := range values {
		c := Capacities[plant]
		if v <= 0 || c <= 0 {
			continue
		}
		sum += c * v
		weight += c
	}
	if weight == 0 {
		return 0, false
	}
	return sum / weight, true
}
