package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pvmonitor/pvdash/internal/tabular"
)

func ptr(v float64) *float64 { return &v }

func TestStationStatus(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	fresh := now.Add(-time.Hour).Format(time.RFC3339)

	tests := []struct {
		name     string
		data     StationData
		expected string
	}{
		{"old data is offline", StationData{Timestamp: now.Add(-8 * 24 * time.Hour).Format(time.RFC3339), AvEle: ptr(10)}, StatusOffline},
		{"negative power alerts", StationData{Timestamp: fresh, P: ptr(-60)}, StatusAlert},
		{"low electrical availability alerts", StationData{Timestamp: fresh, AvEle: ptr(40)}, StatusAlert},
		{"low mechanical availability alerts", StationData{Timestamp: fresh, AvMec: ptr(49.9)}, StatusAlert},
		{"high irradiance warns", StationData{Timestamp: fresh, Irrad: ptr(1250)}, StatusWarning},
		{"moderate availability warns", StationData{Timestamp: fresh, AvEle: ptr(84)}, StatusWarning},
		{"healthy is online", StationData{Timestamp: fresh, P: ptr(3000), AvEle: ptr(99), Irrad: ptr(800)}, StatusOnline},
		{"no readings is online", StationData{Timestamp: fresh}, StatusOnline},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, StationStatus(tt.data, now))
		})
	}
}

func TestParseStations(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	res, err := tabular.Parse(`,result,table,_time,AvEle,AvMec,Irrad,P,latitude,longitude,Plant,host
,,0,2025-06-10T11:00:00Z,99,98,700,3000,39.1,-2.5,LAMAJA,
,,0,2025-06-10T11:00:00Z,70,,800,2500,0,0,RETAMAR,
,,0,2025-06-10T11:00:00Z,99,,,,,,LAMAJA,
,,0,2025-06-10T11:00:00Z,,,,,,,,gw-7
`)
	require.NoError(t, err)

	stations := parseStations(res.Rows, now)
	require.Len(t, stations, 3)

	assert.Equal(t, "LAMAJA", stations[0].StationID)
	assert.Equal(t, [2]float64{39.1, -2.5}, stations[0].Coordinates)
	assert.True(t, stations[0].HasValidCoordinates)
	assert.Equal(t, StatusOnline, stations[0].Status)

	assert.Equal(t, "RETAMAR", stations[1].Name)
	assert.Equal(t, DefaultCoordinates, stations[1].Coordinates)
	assert.False(t, stations[1].HasValidCoordinates)
	assert.Nil(t, stations[1].Data.AvMec)
	assert.Equal(t, StatusWarning, stations[1].Status)

	assert.Equal(t, "gw-7", stations[2].StationID)
	assert.Equal(t, "gw-7", stations[2].Name)

	stats := Stats(stations)
	assert.Equal(t, StationStats{Total: 3, WithValidCoordinates: 1, Online: 2, Warning: 1}, stats)
}

func TestStations_BackendError(t *testing.T) {
	q := newFake()
	q.other = func(string) (string, error) { return "", errDown }
	s := newTestService(q)
	defer s.Close()

	_, err := s.Stations(context.Background())
	assert.ErrorIs(t, err, errDown)
}

func TestMergeStations(t *testing.T) {
	snap := Snapshot{Plants: []PlantAggregate{
		{Name: "LAMAJA", PowerMW: 2},
		{Name: "RETAMAR", PowerMW: 1, DispoMec: ptr(0)},
	}}
	MergeStations(&snap, []Station{
		{Name: "lamaja", Coordinates: [2]float64{39.1, -2.5}, HasValidCoordinates: true, Data: StationData{Irrad: ptr(650), AvEle: ptr(97)}},
		{Name: "RETAMAR", Coordinates: DefaultCoordinates, Data: StationData{AvMec: ptr(88)}},
	})

	assert.Equal(t, [2]float64{39.1, -2.5}, snap.Plants[0].Coordinates)
	assert.Equal(t, 650.0, snap.Plants[0].Irradiance)
	assert.Equal(t, 97.0, snap.Plants[0].DispoElec)
	assert.Equal(t, [2]float64{}, snap.Plants[1].Coordinates)
	assert.Equal(t, 88.0, *snap.Plants[1].DispoMec)
	assert.Equal(t, 3.0, snap.Totals.TotalPower)
	assert.Equal(t, 88.0, snap.Totals.MechAvailability)
}

func TestMonthBounds(t *testing.T) {
	madrid, err := time.LoadLocation("Europe/Madrid")
	require.NoError(t, err)

	start, end := MonthBounds(time.Date(2025, 3, 31, 23, 30, 0, 0, time.UTC), madrid)
	assert.Equal(t, time.Date(2025, 4, 1, 0, 0, 0, 0, madrid), start)
	assert.Equal(t, time.Date(2025, 5, 1, 0, 0, 0, 0, madrid), end)
}

func TestMonthlyProduction(t *testing.T) {
	q := newFake()
	q.other = func(string) (string, error) {
		return `,result,table,_time,_value,PVO_Plant
,,0,2025-06-03T23:00:00Z,15000.12345,LAMAJA
,,0,2025-06-01T23:00:00Z,12000,LAMAJA
,,0,2025-06-02T23:00:00Z,0.0004,LAMAJA
,,0,2025-06-04T23:00:00Z,-3,LAMAJA
`, nil
	}
	s := newTestService(q)
	defer s.Close()

	prod, err := s.MonthlyProduction(context.Background(), "LAMAJA", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), prod.Start)
	require.Len(t, prod.Data, 4)
	assert.Equal(t, 12000.0, prod.Data[0].Value)
	assert.Equal(t, 0.0, prod.Data[1].Value)
	assert.Equal(t, 15000.123, prod.Data[2].Value)
	assert.Equal(t, 0.0, prod.Data[3].Value)
	assert.Equal(t, DailyEnergyField, prod.Data[0].Field)

	assert.Equal(t, 2, prod.Stats.DaysWithData)
	assert.Equal(t, 27000.123, prod.Stats.Total)
	assert.Equal(t, 15000.123, prod.Stats.Max)
	assert.Equal(t, 12000.0, prod.Stats.Min)

	q.mu.Lock()
	last := q.queries[len(q.queries)-1]
	q.mu.Unlock()
	assert.Contains(t, last, `experimental.addDuration(d: -1h, to: r._time)`)
	assert.Contains(t, last, `r["_field"] == "DailyEPV"`)
}

func TestMonthlyProduction_Validation(t *testing.T) {
	s := newTestService(newFake())
	defer s.Close()

	_, err := s.MonthlyProduction(context.Background(), "NOWHERE", time.Time{}, time.Time{})
	assert.ErrorIs(t, err, ErrUnknownPlant)

	now := time.Now()
	_, err = s.MonthlyProduction(context.Background(), "LAMAJA", now, now.Add(-time.Hour))
	assert.Error(t, err)
}
