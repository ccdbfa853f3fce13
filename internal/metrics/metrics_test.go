package metrics

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pvmonitor/pvdash/internal/config"
	"github.com/pvmonitor/pvdash/internal/flux"
	"github.com/pvmonitor/pvdash/internal/logging"
)

var (
	t0 = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	t1 = t0.Add(time.Hour)
	t2 = t1.Add(time.Hour)

	errDown = errors.New("connection refused")
)

// fakeQuerier answers per (plant, field) pair found in the query text.
type fakeQuerier struct {
	mu      sync.Mutex
	queries []string
	data    map[string]string // "PLANT/FIELD" -> csv
	fail    map[string]bool
	other   func(q string) (string, error)
}

func newFake() *fakeQuerier {
	return &fakeQuerier{data: map[string]string{}, fail: map[string]bool{}}
}

func (f *fakeQuerier) QueryCSV(_ context.Context, q string) (string, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()

	for key, csv := range f.data {
		if matches(q, key) {
			return csv, nil
		}
	}
	for key := range f.fail {
		if matches(q, key) {
			return "", errDown
		}
	}
	if f.other != nil {
		return f.other(q)
	}
	return "", nil
}

func (f *fakeQuerier) Buckets(context.Context) ([]string, error) { return []string{"PV"}, nil }

func (f *fakeQuerier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

func matches(q, key string) bool {
	plant, field, _ := strings.Cut(key, "/")
	return strings.Contains(q, fmt.Sprintf(`r["PVO_Plant"] == %q`, plant)) &&
		strings.Contains(q, fmt.Sprintf(`r["_field"] == %q`, field))
}

type tv struct {
	at    time.Time
	value float64
}

func series(points ...tv) string {
	var b strings.Builder
	b.WriteString("#datatype,string,long,dateTime:RFC3339,double\n,result,table,_time,_value\n")
	for _, p := range points {
		fmt.Fprintf(&b, ",,0,%s,%v\n", p.at.Format(time.RFC3339), p.value)
	}
	return b.String()
}

func newTestService(q *fakeQuerier) *Service {
	s := NewService(q,
		config.InfluxConfig{Bucket: "PV", GeoMapBucket: "GeoMap"},
		config.MetricsConfig{Workers: 4, DefaultHours: 24, Timezone: "UTC"},
		logging.NewNop())
	s.now = func() time.Time { return t2.Add(time.Hour) }
	return s
}

func TestSeriesQuery(t *testing.T) {
	def, err := Lookup("power")
	require.NoError(t, err)

	q := SeriesQuery(def, "PV", "LAMAJA", flux.HoursBack(24))
	assert.Equal(t, `from(bucket: "PV")
  |> range(start: -24h, stop: now())
  |> filter(fn: (r) => r["PVO_Plant"] == "LAMAJA")
  |> filter(fn: (r) => r["PVO_id"] == "66KV" or r["PVO_id"] == "CONTADOR01")
  |> filter(fn: (r) => r["_field"] == "P")
  |> aggregateWindow(every: 5m, fn: mean, createEmpty: false)
  |> keep(columns: ["_time", "_value"])`, q)
}

func TestLookup(t *testing.T) {
	_, err := Lookup("voltage")
	assert.ErrorIs(t, err, ErrUnknownMetric)
	assert.Len(t, Names(), 8)
	assert.Equal(t, []string{"LAMAJA", "RETAMAR"}, Plants())
	assert.Equal(t, 7700.0, TotalCapacity())
	assert.False(t, definitions[MechAvailability].Supports("LAMAJA"))
	assert.True(t, definitions[MechAvailability].Supports("RETAMAR"))
}

func TestTransform(t *testing.T) {
	raw := samples{{t0, -500}, {t1, 1000}, {t2, 2000}}

	tests := []struct {
		name     string
		metric   Name
		expected []float64
	}{
		{"power scales only", Power, []float64{-0.5, 1, 2}},
		{"energy accumulates", Energy, []float64{-0.5, 0.5, 2.5}},
		{"profitability drops negatives then accumulates", Profitability, []float64{1, 3}},
		{"irradiance untouched", Irradiance, []float64{-500, 1000, 2000}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := raw.transform(definitions[tt.metric])
			got := make([]float64, len(out))
			for i, s := range out {
				got[i] = s.value
			}
			assert.InDeltaSlice(t, tt.expected, got, 1e-9)
		})
	}
}

func TestParseSamples_MergesDuplicateInstants(t *testing.T) {
	csv := series(tv{t1, 4}, tv{t0, 1}, tv{t0, 3})

	mean, err := parseSamples(csv, "mean")
	require.NoError(t, err)
	require.Len(t, mean, 2)
	assert.Equal(t, t0, mean[0].at)
	assert.Equal(t, 2.0, mean[0].value)

	sum, err := parseSamples(csv, "sum")
	require.NoError(t, err)
	assert.Equal(t, 4.0, sum[0].value)
}

func TestPoints_SnapAndRound(t *testing.T) {
	pts := samples{{t1, 1.23456}, {t0, 0.00005}}.points()
	require.Len(t, pts, 2)
	assert.Equal(t, t0.UnixMilli(), pts[0].Timestamp)
	assert.Equal(t, 0.0, pts[0].Value)
	assert.Equal(t, 1.235, pts[1].Value)
	assert.Equal(t, "2025-06-01T10:00:00Z", pts[0].Time)
}

func TestCumulativeSum(t *testing.T) {
	assert.Equal(t, []float64{1, 3, 6}, CumulativeSum([]float64{1, 2, 3}))
	assert.Empty(t, CumulativeSum(nil))
}

func TestCombine(t *testing.T) {
	t.Run("power sums at matching timestamps", func(t *testing.T) {
		def := definitions[Power]
		out := combine(def, map[string]samples{
			"LAMAJA":  samples{{t0, 1000}}.transform(def),
			"RETAMAR": samples{{t0, 500}}.transform(def),
		})
		require.Len(t, out, 1)
		assert.InDelta(t, 1.5, out[0].value, 1e-9)
	})

	t.Run("irradiance is capacity weighted", func(t *testing.T) {
		out := combine(definitions[Irradiance], map[string]samples{
			"LAMAJA":  {{t0, 800}},
			"RETAMAR": {{t0, 600}},
		})
		require.Len(t, out, 1)
		assert.InDelta(t, (4400*800.0+3300*600.0)/7700, out[0].value, 1e-6)
	})

	t.Run("missing instant counts as zero", func(t *testing.T) {
		out := combine(definitions[Power], map[string]samples{
			"LAMAJA":  {{t0, 1}, {t1, 2}},
			"RETAMAR": {{t1, 3}},
		})
		require.Len(t, out, 2)
		assert.Equal(t, 1.0, out[0].value)
		assert.Equal(t, 5.0, out[1].value)
	})

	t.Run("cumulative carries forward", func(t *testing.T) {
		out := combine(definitions[Energy], map[string]samples{
			"LAMAJA":  {{t0, 1}, {t1, 2}, {t2, 4}},
			"RETAMAR": {{t0, 10}, {t2, 30}},
		})
		require.Len(t, out, 3)
		assert.Equal(t, []float64{11, 12, 34}, []float64{out[0].value, out[1].value, out[2].value})
	})

	t.Run("availability only over positive plants", func(t *testing.T) {
		out := combine(definitions[ElecAvailability], map[string]samples{
			"LAMAJA":  {{t0, 0}, {t1, 0}},
			"RETAMAR": {{t0, 90}},
		})
		require.Len(t, out, 2)
		assert.Equal(t, 90.0, out[0].value)
		assert.Equal(t, 0.0, out[1].value)
	})
}

func TestWeightedPositive(t *testing.T) {
	v, ok := WeightedPositive(map[string]float64{"LAMAJA": 80, "RETAMAR": 90})
	assert.True(t, ok)
	assert.InDelta(t, (4400*80.0+3300*90.0)/7700, v, 1e-9)

	v, ok = WeightedPositive(map[string]float64{"LAMAJA": 0, "RETAMAR": -1})
	assert.False(t, ok)
	assert.Equal(t, 0.0, v)

	v, ok = WeightedPositive(map[string]float64{"UNKNOWN": 50})
	assert.False(t, ok)
	assert.Equal(t, 0.0, v)
}

func TestPerformanceRatio(t *testing.T) {
	assert.InDelta(t, 1.0*1000/(4400*1.0)*100, PerformanceRatio(1, 4400, 1), 1e-9)
	assert.Equal(t, 0.0, PerformanceRatio(1, 4400, 0))
	assert.Equal(t, 0.0, PerformanceRatio(1, 0, 5))
}

func TestDerivePR_CarriesIrradiationForward(t *testing.T) {
	energy := samples{{t0, 1}, {t1, 2}, {t2, 3}}
	irradiation := samples{{t1, 2}}

	out := derivePR(energy, irradiation, 4400)
	require.Len(t, out, 2)
	assert.Equal(t, t1, out[0].at)
	assert.InDelta(t, PerformanceRatio(2, 4400, 2), out[0].value, 1e-9)
	assert.InDelta(t, PerformanceRatio(3, 4400, 2), out[1].value, 1e-9)
}

func TestGetMetric_TotalPower(t *testing.T) {
	q := newFake()
	q.data["LAMAJA/P"] = series(tv{t0, 1000})
	q.data["RETAMAR/P"] = series(tv{t0, 500})
	s := newTestService(q)
	defer s.Close()

	got, err := s.GetMetric(context.Background(), "power", Total, 24)
	require.NoError(t, err)
	require.NoError(t, got.Err)
	require.Len(t, got.Points, 1)
	assert.Equal(t, 1.5, got.Points[0].Value)
	assert.Equal(t, "MW", got.Unit)
	assert.Empty(t, got.Failed)
}

func TestGetMetric_TotalIrradiance(t *testing.T) {
	q := newFake()
	q.data["LAMAJA/RadPOA01"] = series(tv{t0, 800})
	q.data["RETAMAR/RadPOA01"] = series(tv{t0, 600})
	s := newTestService(q)
	defer s.Close()

	got, err := s.GetMetric(context.Background(), "irradiance", Total, 0)
	require.NoError(t, err)
	require.Len(t, got.Points, 1)
	assert.InDelta(t, (4400*800.0+3300*600.0)/7700, got.Points[0].Value, 1e-3)
}

func TestGetMetric_EpsilonSnap(t *testing.T) {
	q := newFake()
	q.data["LAMAJA/P"] = series(tv{t0, 0.05}, tv{t1, 1200})
	s := newTestService(q)
	defer s.Close()

	got, err := s.GetMetric(context.Background(), "power", "LAMAJA", 6)
	require.NoError(t, err)
	require.Len(t, got.Points, 2)
	assert.Equal(t, 0.0, got.Points[0].Value)
	assert.Equal(t, 1.2, got.Points[1].Value)
	assert.Less(t, got.Points[0].Timestamp, got.Points[1].Timestamp)
}

func TestGetMetric_PartialFailure(t *testing.T) {
	q := newFake()
	q.data["LAMAJA/EPV"] = series(tv{t0, 1000}, tv{t1, 2000})
	q.fail["RETAMAR/EPV"] = true
	s := newTestService(q)
	defer s.Close()

	got, err := s.GetMetric(context.Background(), "energy", Total, 24)
	require.NoError(t, err)
	assert.NoError(t, got.Err)
	assert.Equal(t, []string{"RETAMAR"}, got.Failed)
	require.Len(t, got.Points, 2)
	assert.Equal(t, 3.0, got.Points[1].Value)
}

func TestGetMetric_AllFail(t *testing.T) {
	q := newFake()
	q.fail["LAMAJA/P"] = true
	q.fail["RETAMAR/P"] = true
	s := newTestService(q)
	defer s.Close()

	got, err := s.GetMetric(context.Background(), "power", Total, 24)
	require.NoError(t, err)
	assert.ErrorIs(t, got.Err, errDown)
	assert.Empty(t, got.Points)
	assert.NotNil(t, got.Points)
}

func TestGetMetric_MechAvailability(t *testing.T) {
	q := newFake()
	q.data["RETAMAR/DispoMec"] = series(tv{t0, 97.5})
	s := newTestService(q)
	defer s.Close()

	got, err := s.GetMetric(context.Background(), "mechAvailability", "LAMAJA", 24)
	require.NoError(t, err)
	assert.True(t, got.NoSource)
	assert.ErrorIs(t, got.Absence(), ErrNoSource)
	assert.Empty(t, got.Points)
	assert.Equal(t, 0, q.count(), "no query for a plant without a source")

	got, err = s.GetMetric(context.Background(), "mechAvailability", Total, 24)
	require.NoError(t, err)
	require.Len(t, got.Points, 1)
	assert.Equal(t, 97.5, got.Points[0].Value)
}

func TestGetMetric_PR(t *testing.T) {
	q := newFake()
	q.data["LAMAJA/EPV"] = series(tv{t0, 1000})
	q.data["LAMAJA/HPOA01"] = series(tv{t0, 1000})
	s := newTestService(q)
	defer s.Close()

	got, err := s.GetMetric(context.Background(), "pr", "LAMAJA", 24)
	require.NoError(t, err)
	require.Len(t, got.Points, 1)
	assert.InDelta(t, 22.727, got.Points[0].Value, 1e-9)
}

func TestGetMetric_Validation(t *testing.T) {
	s := newTestService(newFake())
	defer s.Close()

	_, err := s.GetMetric(context.Background(), "voltage", Total, 24)
	assert.ErrorIs(t, err, ErrUnknownMetric)
	_, err = s.GetMetric(context.Background(), "power", "ELSEWHERE", 24)
	assert.ErrorIs(t, err, ErrUnknownPlant)
	_, err = s.GetMetric(context.Background(), "power", Total, MaxHours+1)
	assert.ErrorIs(t, err, ErrInvalidHours)
}

func TestSnapshot(t *testing.T) {
	q := newFake()
	q.data["LAMAJA/P"] = series(tv{t0, 1000}, tv{t1, 2000})
	q.data["RETAMAR/P"] = series(tv{t1, 1000})
	q.data["LAMAJA/RadPOA01"] = series(tv{t1, 800})
	q.data["RETAMAR/RadPOA01"] = series(tv{t1, 600})
	q.data["RETAMAR/DispoElec"] = series(tv{t1, 90})
	q.fail["LAMAJA/EPV"] = true
	s := newTestService(q)
	defer s.Close()

	snap, err := s.Snapshot(context.Background(), nil, 24)
	require.NoError(t, err)
	require.Len(t, snap.Plants, 2)

	lamaja, retamar := snap.Plants[0], snap.Plants[1]
	assert.Equal(t, "LAMAJA", lamaja.Name)
	assert.Equal(t, 2.0, lamaja.PowerMW)
	assert.Equal(t, "2025-06-01T11:00:00Z", lamaja.Timestamp)
	assert.Nil(t, lamaja.DispoMec)
	require.NotNil(t, retamar.DispoMec)
	assert.Equal(t, 0.0, *retamar.DispoMec)

	assert.Equal(t, 3.0, snap.Totals.TotalPower)
	assert.Equal(t, 714.29, snap.Totals.TotalIrradiance)
	assert.Equal(t, 90.0, snap.Totals.ElecAvailability)
	assert.Equal(t, FallbackNoSource, snap.Totals.Fallbacks["mechAvailability"])
	assert.Equal(t, FallbackZero, snap.Totals.Fallbacks["pr"])
	assert.Contains(t, snap.Failed, "energy:LAMAJA")
	assert.Contains(t, snap.Failed, "profitability:LAMAJA")
}

func TestTotals_MechFromMeasuringPlant(t *testing.T) {
	mech := 95.0
	totals := Totals([]PlantAggregate{
		{Name: "LAMAJA", PR: 80, DispoElec: 99},
		{Name: "RETAMAR", PR: 0, DispoElec: 98, DispoMec: &mech},
	})
	assert.Equal(t, 95.0, totals.MechAvailability)
	assert.Equal(t, 80.0, totals.PR, "non-positive PR does not contribute")
	assert.Empty(t, totals.Fallbacks)
}

func TestDiscoverPlants(t *testing.T) {
	q := newFake()
	q.other = func(string) (string, error) {
		return "#datatype,string,long,string\n,result,table,_value\n,,0,RETAMAR\n,,0,LAMAJA\n", nil
	}
	s := newTestService(q)
	defer s.Close()

	plants, fromBackend := s.DiscoverPlants(context.Background())
	assert.True(t, fromBackend)
	assert.Equal(t, []string{"LAMAJA", "RETAMAR"}, plants)

	q.other = func(string) (string, error) { return "", errDown }
	plants, fromBackend = s.DiscoverPlants(context.Background())
	assert.False(t, fromBackend)
	assert.Equal(t, []string{"LAMAJA", "RETAMAR"}, plants)
}
