// Package metrics turns the plant measurements of the PV bucket into chart
// series and dashboard snapshots. The source field, window and unit of every
// metric live in the definitions table below.
package metrics

import (
	"errors"
	"fmt"
	"sort"

	"github.com/pvmonitor/pvdash/internal/flux"
)

// Name identifies a metric.
type Name string

const (
	Power            Name = "power"
	Energy           Name = "energy"
	Irradiance       Name = "irradiance"
	Irradiation      Name = "irradiation"
	Profitability    Name = "profitability"
	ElecAvailability Name = "elecAvailability"
	MechAvailability Name = "mechAvailability"
	PR               Name = "pr"
)

// Total is the pseudo plant asking for the combination of every plant.
const Total = "total"

// Plant names and the tag that carries them.
const (
	PlantLaMaja  = "LAMAJA"
	PlantRetamar = "RETAMAR"
	PlantTag     = "PVO_Plant"
)

var (
	// ErrUnknownMetric is returned for a metric name outside the table.
	ErrUnknownMetric = errors.New("metrics: unknown metric")
	// ErrUnknownPlant is returned for a plant without a nominal capacity.
	ErrUnknownPlant = errors.New("metrics: unknown plant")
	// ErrNoSource marks a metric that has no data source for a plant.
	ErrNoSource = errors.New("metrics: metric has no source for this plant")
)

// Capacities are the nominal plant capacities in kWp. They weight the
// irradiance, availability and PR totals and appear in the PR formula.
var Capacities = map[string]float64{
	PlantLaMaja:  4400,
	PlantRetamar: 3300,
}

// Plants returns the plants with a known capacity, sorted.
func Plants() []string {
	plants := make([]string, 0, len(Capacities))
	for p := range Capacities {
		plants = append(plants, p)
	}
	sort.Strings(plants)
	return plants
}

// TotalCapacity is the sum of every plant capacity.
func TotalCapacity() float64 {
	var sum float64
	for _, c := range Capacities {
		sum += c
	}
	return sum
}

// Combine says how per-plant series make the total series.
type Combine int

const (
	// CombineSum adds the plant values at each timestamp.
	CombineSum Combine = iota
	// CombineWeighted is the capacity-weighted mean over every plant.
	CombineWeighted
	// CombineWeightedPositive is the capacity-weighted mean over the plants
	// reporting a positive value at that timestamp.
	CombineWeightedPositive
	// CombineSingle takes the only plant that has a source.
	CombineSingle
)

// Definition describes how one metric is read for one plant.
type Definition struct {
	Name  Name
	Unit  string
	Field string
	// Match restricts the records beyond plant and field.
	Match  []flux.Predicate
	Window string
	Fn     string
	// Scale multiplies every windowed value (backend unit to display unit).
	Scale float64
	// NonNegative drops windowed values below zero before accumulation.
	NonNegative bool
	Cumulative  bool
	Combine     Combine
	// Plants lists the only plants with a source. Empty means all plants.
	Plants []string
	// Derived metrics are computed from other metrics instead of queried.
	Derived bool
}

var definitions = map[Name]Definition{
	Power: {
		Name: Power, Unit: "MW", Field: "P",
		Match:  []flux.Predicate{{Key: "PVO_id", Values: []string{"66KV", "CONTADOR01"}}},
		Window: "5m", Fn: "mean", Scale: 1.0 / 1000,
		Combine: CombineSum,
	},
	Energy: {
		Name: Energy, Unit: "MWh", Field: "EPV",
		Match:  []flux.Predicate{{Key: "type", Values: []string{"calculado"}}},
		Window: "1h", Fn: "sum", Scale: 1.0 / 1000, Cumulative: true,
		Combine: CombineSum,
	},
	Irradiance: {
		Name: Irradiance, Unit: "W/m²", Field: "RadPOA01",
		Match:  []flux.Predicate{{Key: "PVO_type", Values: []string{"METEO"}}},
		Window: "15m", Fn: "mean", Scale: 1,
		Combine: CombineWeighted,
	},
	Irradiation: {
		Name: Irradiation, Unit: "kWh/m²", Field: "HPOA01",
		Match:  []flux.Predicate{{Key: "type", Values: []string{"calculado"}}},
		Window: "1h", Fn: "sum", Scale: 1.0 / 1000, Cumulative: true,
		Combine: CombineSum,
	},
	Profitability: {
		Name: Profitability, Unit: "MWh", Field: "EPV",
		Match:  []flux.Predicate{{Key: "type", Values: []string{"calculado"}}},
		Window: "1h", Fn: "sum", Scale: 1.0 / 1000, NonNegative: true, Cumulative: true,
		Combine: CombineSum,
	},
	ElecAvailability: {
		Name: ElecAvailability, Unit: "%", Field: "DispoElec",
		Window: "30m", Fn: "mean", Scale: 1,
		Combine: CombineWeightedPositive,
	},
	MechAvailability: {
		Name: MechAvailability, Unit: "%", Field: "DispoMec",
		Window: "30m", Fn: "mean", Scale: 1,
		Combine: CombineSingle,
		Plants:  []string{PlantRetamar},
	},
	PR: {
		Name: PR, Unit: "%", Derived: true,
		Combine: CombineWeightedPositive,
	},
}

// Lookup returns the definition of name.
func Lookup(name string) (Definition, error) {
	def, ok := definitions[Name(name)]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %q", ErrUnknownMetric, name)
	}
	return def, nil
}

// Names returns every metric name, sorted.
func Names() []Name {
	names := make([]Name, 0, len(definitions))
	for n := range definitions {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Supports reports whether the metric has a data source for plant.
func (d Definition) Supports(plant string) bool {
	if len(d.Plants) == 0 {
		return true
	}
	for _, p := range d.Plants {
		if p == plant {
			return true
		}
	}
	return false
}

// ValidPlant reports whether plant is Total or has a capacity.
func ValidPlant(plant string) bool {
	if plant == Total {
		return true
	}
	_, ok := Capacities[plant]
	return ok
}
