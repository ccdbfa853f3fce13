package metrics

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/pvmonitor/pvdash/internal/flux"
	"github.com/pvmonitor/pvdash/internal/tabular"
	"github.com/pvmonitor/pvdash/internal/utils"
)

// DailyEnergyField is the computed daily energy, in kWh.
const DailyEnergyField = "DailyEPV"

// DailyPoint is the energy of one day.
type DailyPoint struct {
	Time      string  `json:"time"`
	Value     float64 `json:"value"`
	Timestamp int64   `json:"timestamp"`
	Plant     string  `json:"plant"`
	Field     string  `json:"field"`
}

// ProductionStats summarises the days that produced energy.
type ProductionStats struct {
	Total        float64 `json:"total"`
	Mean         float64 `json:"mean"`
	Max          float64 `json:"max"`
	Min          float64 `json:"min"`
	DaysWithData int     `json:"daysWithData"`
}

// Production is the daily energy of a plant over a period.
type Production struct {
	Plant string          `json:"plant"`
	Start time.Time       `json:"start"`
	End   time.Time       `json:"end"`
	Data  []DailyPoint    `json:"data"`
	Stats ProductionStats `json:"stats"`
}

// MonthBounds returns the first instant of the month of t and the first
// instant of the next month, in loc.
func MonthBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	t = t.In(loc)
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 1, 0)
}

// MonthlyProduction reads the daily energy of plant between start and end.
// Zero start and end select the current month in the plant timezone.
func (s *Service) MonthlyProduction(ctx context.Context, plant string, start, end time.Time) (Production, error) {
	if _, ok := Capacities[plant]; !ok {
		return Production{}, fmt.Errorf("%w: %q", ErrUnknownPlant, plant)
	}
	if start.IsZero() || end.IsZero() {
		start, end = MonthBounds(s.now(), s.location)
	}
	if !end.After(start) {
		return Production{}, fmt.Errorf("%w: end before start", flux.ErrInvalidRange)
	}

	prod := Production{Plant: plant, Start: start, End: end, Data: []DailyPoint{}}
	text, err := s.querier.QueryCSV(ctx, DailyEnergyQuery(s.bucket, plant, start, end))
	if err != nil {
		return prod, fmt.Errorf("monthly production: %w", err)
	}
	res, err := tabular.Parse(text)
	if err != nil {
		return prod, nil
	}
	prod.Data = dailyPoints(res.Rows, plant)
	prod.Stats = productionStats(prod.Data)
	return prod, nil
}

func dailyPoints(rows []tabular.Row, plant string) []DailyPoint {
	byTime := make(map[int64]DailyPoint, len(rows))
	for _, row := range rows {
		at, err := time.Parse(time.RFC3339Nano, row.Get(flux.KeyTime))
		if err != nil {
			continue
		}
		v, _ := row.Float(flux.KeyValue)
		if v < utils.DailyEpsilon {
			v = 0
		}
		byTime[at.UnixMilli()] = DailyPoint{
			Time:      at.UTC().Format(time.RFC3339),
			Value:     utils.Round(v, utils.PointDecimals),
			Timestamp: at.UnixMilli(),
			Plant:     plant,
			Field:     DailyEnergyField,
		}
	}
	points := make([]DailyPoint, 0, len(byTime))
	for _, p := range byTime {
		points = append(points, p)
	}
	sortDaily(points)
	return points
}

func sortDaily(points []DailyPoint) {
	sort.Slice(points, func(i, j int) bool { return points[i].Timestamp < points[j].Timestamp })
}

func productionStats(points []DailyPoint) ProductionStats {
	var st ProductionStats
	st.Min = math.Inf(1)
	for _, p := range points {
		if p.Value <= 0 {
			continue
		}
		st.Total += p.Value
		st.DaysWithData++
		st.Max = math.Max(st.Max, p.Value)
		st.Min = math.Min(st.Min, p.Value)
	}
	if st.DaysWithData == 0 {
		return ProductionStats{}
	}
	st.Mean = st.Total / float64(st.DaysWithData)
	st.Total = utils.Round(st.Total, utils.PointDecimals)
	st.Mean = utils.Round(st.Mean, utils.PointDecimals)
	return st
}
