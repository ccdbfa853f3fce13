package metrics

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/pvmonitor/pvdash/internal/flux"
	"github.com/pvmonitor/pvdash/internal/utils"
)

// Fallback tags reported with totals that could not be computed from data.
const (
	// FallbackZero marks a weighted total with no positive contributor.
	FallbackZero = "zero"
	// FallbackNoSource marks the mechanical availability total when the only
	// plant that measures it returned nothing. No other plant may stand in.
	FallbackNoSource = "no_source"
)

// PlantAggregate is the latest state of one plant.
type PlantAggregate struct {
	Name             string     `json:"name"`
	PowerMW          float64    `json:"powerMW"`
	EnergyMWh        float64    `json:"energyMWh"`
	Irradiance       float64    `json:"irradiance"`
	Irradiation      float64    `json:"irradiation"`
	ProfitabilityMWh float64    `json:"profitabilityMWh"`
	DispoElec        float64    `json:"dispoElec"`
	DispoMec         *float64   `json:"dispoMec"`
	PR               float64    `json:"pr"`
	Coordinates      [2]float64 `json:"coordinates"`
	Timestamp        string     `json:"timestamp,omitempty"`
}

// SystemTotals combines every plant aggregate.
type SystemTotals struct {
	TotalPower         float64 `json:"totalPower"`
	TotalEnergy        float64 `json:"totalEnergy"`
	TotalIrradiance    float64 `json:"totalIrradiance"`
	TotalIrradiation   float64 `json:"totalIrradiation"`
	TotalProfitability float64 `json:"totalProfitability"`
	ElecAvailability   float64 `json:"elecAvailability"`
	MechAvailability   float64 `json:"mechAvailability"`
	PR                 float64 `json:"pr"`
	// Fallbacks maps a total name to the fallback tag used to produce it.
	Fallbacks map[string]string `json:"fallbacks,omitempty"`
}

// Snapshot is the dashboard overview.
type Snapshot struct {
	Plants []PlantAggregate `json:"plants"`
	Totals SystemTotals     `json:"totals"`
	// Failed lists "metric:plant" reads that failed and were counted as 0.
	Failed []string `json:"failed,omitempty"`
}

// snapshotMetrics are read for every plant; PR is derived from two of them.
var snapshotMetrics = []Name{Power, Energy, Irradiance, Irradiation, Profitability, ElecAvailability, MechAvailability}

// Snapshot reads the latest value of every metric for plants over the last
// hours (0 for the default) and combines them. A failed read counts as 0
// and is listed in Failed.
func (s *Service) Snapshot(ctx context.Context, plants []string, hours int) (Snapshot, error) {
	h, err := s.hours(hours)
	if err != nil {
		return Snapshot{}, err
	}
	if len(plants) == 0 {
		plants = Plants()
	}

	var slots []slot
	for _, p := range plants {
		for _, name := range snapshotMetrics {
			def := definitions[name]
			if def.Supports(p) {
				slots = append(slots, slot{def, p})
			}
		}
	}
	results := s.run(ctx, slots, flux.HoursBack(h))

	latest := make(map[string]map[Name]float64, len(plants))
	stamps := make(map[string]time.Time, len(plants))
	var failed []string
	for _, r := range results {
		if latest[r.plant] == nil {
			latest[r.plant] = make(map[Name]float64)
		}
		if r.err != nil {
			failed = append(failed, string(r.def.Name)+":"+r.plant)
			continue
		}
		last, ok := r.values.last()
		if !ok {
			continue
		}
		latest[r.plant][r.def.Name] = last.value
		if r.def.Name == Power {
			stamps[r.plant] = last.at
		}
	}
	sort.Strings(failed)

	snap := Snapshot{Plants: make([]PlantAggregate, 0, len(plants)), Failed: failed}
	for _, p := range plants {
		snap.Plants = append(snap.Plants, aggregate(p, latest[p], stamps[p]))
	}
	snap.Totals = Totals(snap.Plants)
	for i := range snap.Plants {
		roundAggregate(&snap.Plants[i])
	}
	return snap, nil
}

func aggregate(plant string, v map[Name]float64, at time.Time) PlantAggregate {
	agg := PlantAggregate{
		Name:             plant,
		PowerMW:          v[Power],
		EnergyMWh:        v[Energy],
		Irradiance:       v[Irradiance],
		Irradiation:      v[Irradiation],
		ProfitabilityMWh: v[Profitability],
		DispoElec:        v[ElecAvailability],
		PR:               PerformanceRatio(v[Energy], Capacities[plant], v[Irradiation]),
	}
	if definitions[MechAvailability].Supports(plant) {
		mech := v[MechAvailability]
		agg.DispoMec = &mech
	}
	if !at.IsZero() {
		agg.Timestamp = at.UTC().Format(time.RFC3339)
	}
	return agg
}

// Totals combines plant aggregates: sums for power, energy, irradiation and
// profitability; the capacity-weighted mean for irradiance; the weighted mean
// over positive plants for electrical availability and PR; the measuring
// plant's value for mechanical availability. Results are rounded for display.
func Totals(plants []PlantAggregate) SystemTotals {
	var t SystemTotals
	irradiance := make(map[string]float64, len(plants))
	elec := make(map[string]float64, len(plants))
	pr := make(map[string]float64, len(plants))
	var mech float64
	mechSeen := false

	for _, p := range plants {
		t.TotalPower += p.PowerMW
		t.TotalEnergy += p.EnergyMWh
		t.TotalIrradiation += p.Irradiation
		t.TotalProfitability += p.ProfitabilityMWh
		irradiance[p.Name] = p.Irradiance
		elec[p.Name] = p.DispoElec
		pr[p.Name] = p.PR
		if p.DispoMec != nil && *p.DispoMec > 0 {
			mech += *p.DispoMec
			mechSeen = true
		}
	}
	t.TotalIrradiance = WeightedAverage(irradiance)

	var ok bool
	if t.ElecAvailability, ok = WeightedPositive(elec); !ok {
		t.markFallback(string(ElecAvailability), FallbackZero)
	}
	if t.PR, ok = WeightedPositive(pr); !ok {
		t.markFallback(string(PR), FallbackZero)
	}
	if mechSeen {
		t.MechAvailability = mech
	} else {
		t.markFallback(string(MechAvailability), FallbackNoSource)
	}

	t.TotalPower = utils.RoundDisplay(t.TotalPower)
	t.TotalEnergy = utils.RoundDisplay(t.TotalEnergy)
	t.TotalIrradiance = utils.RoundDisplay(t.TotalIrradiance)
	t.TotalIrradiation = utils.RoundDisplay(t.TotalIrradiation)
	t.TotalProfitability = utils.RoundDisplay(t.TotalProfitability)
	t.ElecAvailability = utils.RoundDisplay(t.ElecAvailability)
	t.MechAvailability = utils.RoundDisplay(t.MechAvailability)
	t.PR = utils.RoundDisplay(t.PR)
	return t
}

func (t *SystemTotals) markFallback(name, tag string) {
	if t.Fallbacks == nil {
		t.Fallbacks = make(map[string]string)
	}
	t.Fallbacks[name] = tag
}

func roundAggregate(a *PlantAggregate) {
	a.PowerMW = utils.RoundDisplay(a.PowerMW)
	a.EnergyMWh = utils.RoundDisplay(a.EnergyMWh)
	a.Irradiance = utils.RoundDisplay(a.Irradiance)
	a.Irradiation = utils.RoundDisplay(a.Irradiation)
	a.ProfitabilityMWh = utils.RoundDisplay(a.ProfitabilityMWh)
	a.DispoElec = utils.RoundDisplay(a.DispoElec)
	a.PR = utils.RoundDisplay(a.PR)
	if a.DispoMec != nil {
		v := utils.RoundDisplay(*a.DispoMec)
		a.DispoMec = &v
	}
}

// MergeStations fills coordinates, and irradiance or availability values the
// plant queries left at 0, from the map station of the same name. Totals are
// recomputed afterwards.
func MergeStations(snap *Snapshot, stations []Station) {
	byName := make(map[string]Station, len(stations))
	for _, st := range stations {
		if st.Data.Plant != "" {
			byName[strings.ToLower(st.Data.Plant)] = st
		}
		byName[strings.ToLower(st.Name)] = st
	}
	for i := range snap.Plants {
		p := &snap.Plants[i]
		st, ok := byName[strings.ToLower(p.Name)]
		if !ok {
			continue
		}
		if st.HasValidCoordinates {
			p.Coordinates = st.Coordinates
		}
		if p.Irradiance == 0 && st.Data.Irrad != nil {
			p.Irradiance = utils.RoundDisplay(*st.Data.Irrad)
		}
		if p.DispoElec == 0 && st.Data.AvEle != nil {
			p.DispoElec = utils.RoundDisplay(*st.Data.AvEle)
		}
		if p.DispoMec != nil && *p.DispoMec == 0 && st.Data.AvMec != nil {
			v := utils.RoundDisplay(*st.Data.AvMec)
			p.DispoMec = &v
		}
	}
	snap.Totals = Totals(snap.Plants)
}
