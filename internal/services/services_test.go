package services

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

	"github.com/pvmonitor/pvdash/internal/alerting"
	"github.com/pvmonitor/pvdash/internal/config"
	"github.com/pvmonitor/pvdash/internal/flux"
	"github.com/pvmonitor/pvdash/internal/influx"
	"github.com/pvmonitor/pvdash/internal/logging"
	"github.com/pvmonitor/pvdash/internal/metadata"
	"github.com/pvmonitor/pvdash/internal/metrics"
	"github.com/pvmonitor/pvdash/internal/models"
	"github.com/pvmonitor/pvdash/internal/resolver"
)

var errDown = errors.New("connection refused")

type fakeBackend struct {
	mu         sync.Mutex
	queries    []string
	configured bool
	buckets    []string
	bucketErr  error
	bucketHits int
	respond    func(q string) (string, error)
}

func newBackend(respond func(q string) (string, error)) *fakeBackend {
	return &fakeBackend{configured: true, buckets: []string{"PV", "GeoMap"}, respond: respond}
}

func (f *fakeBackend) QueryCSV(_ context.Context, q string) (string, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()
	if f.respond == nil {
		return "", nil
	}
	return f.respond(q)
}

func (f *fakeBackend) Buckets(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bucketHits++
	return f.buckets, f.bucketErr
}

func (f *fakeBackend) Configured() bool { return f.configured }

func (f *fakeBackend) Missing() []string {
	if f.configured {
		return nil
	}
	return []string{"INFLUXDB_URL", "INFLUXDB_TOKEN"}
}

func (f *fakeBackend) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...)
}

func csvColumn(column string, values ...string) string {
	var b strings.Builder
	b.WriteString("#datatype,string,long,string\n,result,table," + column + "\n")
	for _, v := range values {
		b.WriteString(",,0," + v + "\n")
	}
	return b.String()
}

func newExplorer(b *fakeBackend) *ExplorerService {
	r := resolver.New(b, metadata.NewMemoryStore(time.Minute), config.DefaultConfig().Resolver, logging.NewNop())
	s := NewExplorerService(b, r, time.Minute, logging.NewNop())
	s.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return s
}

func codeOf(t *testing.T, err error) string {
	t.Helper()
	var se *ServiceError
	require.ErrorAs(t, err, &se)
	return se.Code
}

func TestExplorer_Buckets(t *testing.T) {
	b := newBackend(nil)
	s := newExplorer(b)

	got, err := s.Buckets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, BucketList{Buckets: []string{"PV", "GeoMap"}, Source: models.SourceInfluxDB}, got)

	got, err = s.Buckets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.SourceCache, got.Source)
	assert.Equal(t, 1, b.bucketHits)
}

func TestExplorer_BucketsFallback(t *testing.T) {
	b := newBackend(nil)
	b.bucketErr = fmt.Errorf("%w: timeout", errDown)
	s := newExplorer(b)

	got, err := s.Buckets(context.Background())
	require.Error(t, err)
	assert.Equal(t, FallbackBuckets, got.Buckets)
	assert.Equal(t, models.SourceFallback, got.Source)

	b.configured = false
	got, err = s.Buckets(context.Background())
	assert.Equal(t, CodeNotConfigured, codeOf(t, err))
	assert.Equal(t, models.SourceEnvError, got.Source)
	assert.Equal(t, FallbackBuckets, got.Buckets)
}

func TestExplorer_Execute(t *testing.T) {
	b := newBackend(func(string) (string, error) {
		return csvColumn("_value", "1", "2", "3"), nil
	})
	s := newExplorer(b)

	_, err := s.Execute(context.Background(), flux.Placeholder)
	assert.Equal(t, CodeNoBucket, codeOf(t, err))
	assert.Empty(t, b.calls())

	got, err := s.Execute(context.Background(), `from(bucket: "PV") |> range(start: -1h)`)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Rows)
	assert.Equal(t, "0ms", got.ExecutionTime)
	assert.Contains(t, got.Data, "_value")
}

func TestExplorer_ExecuteBackendDown(t *testing.T) {
	s := newExplorer(newBackend(func(string) (string, error) {
		return "", fmt.Errorf("%w: refused", influx.ErrBackend)
	}))

	_, err := s.Execute(context.Background(), `from(bucket: "PV")`)
	assert.Equal(t, CodeBackendUnavailable, codeOf(t, err))
}

func TestExplorer_Build(t *testing.T) {
	s := newExplorer(newBackend(nil))

	got, err := s.Build(models.BuildRequest{})
	require.NoError(t, err)
	assert.False(t, got.Executable)
	assert.Equal(t, flux.Placeholder, got.Query)

	got, err = s.Build(models.BuildRequest{
		Bucket:    "PV",
		Filters:   []models.FilterInput{{Key: "PVO_Plant", Values: []string{"LAMAJA"}}},
		TimeRange: models.TimeRangeInput{Start: "-1h"},
	})
	require.NoError(t, err)
	assert.True(t, got.Executable)
	assert.Contains(t, got.Query, `from(bucket: "PV")`)
	assert.Contains(t, got.Query, "LAMAJA")

	_, err = s.Build(models.BuildRequest{
		Bucket:            "PV",
		WindowPeriod:      "5m",
		AggregateFunction: "explode",
	})
	assert.Equal(t, CodeInvalidRequest, codeOf(t, err))
}

func TestExplorer_FilterValuesPrunesSelection(t *testing.T) {
	b := newBackend(func(string) (string, error) {
		return csvColumn("PVO_id", "INV02", "INV01"), nil
	})
	s := newExplorer(b)

	got, err := s.FilterValues(context.Background(), models.FilterValuesRequest{
		Bucket:          "PV",
		FilterKey:       "PVO_id",
		UpstreamFilters: []models.FilterInput{{Key: "PVO_Plant", Values: []string{"LAMAJA"}}},
		SelectedValues:  []string{"INV01", "INV99"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"INV01", "INV02"}, got.Values)
	assert.Equal(t, []string{"INV01"}, got.SelectedValues)
	assert.Equal(t, 2, got.TotalFound)
}

func TestExplorer_FilterValuesKeepsSelectionWhenLookupFails(t *testing.T) {
	s := newExplorer(newBackend(func(string) (string, error) {
		return "", fmt.Errorf("%w: refused", influx.ErrBackend)
	}))

	got, err := s.FilterValues(context.Background(), models.FilterValuesRequest{
		Bucket:          "PV",
		FilterKey:       "PVO_Zone",
		UpstreamFilters: []models.FilterInput{{Key: "PVO_Plant", Values: []string{"LAMAJA"}}},
		SelectedValues:  []string{"CT01", "CT02"},
	})
	require.Error(t, err)
	assert.Empty(t, got.Values)
	assert.Equal(t, []string{"CT01", "CT02"}, got.SelectedValues)
}

func TestExplorer_FilterValuesTruncates(t *testing.T) {
	b := newBackend(func(string) (string, error) {
		return csvColumn("PVO_id", "A", "B", "C", "D"), nil
	})
	s := newExplorer(b)

	got, err := s.FilterValues(context.Background(), models.FilterValuesRequest{
		Bucket:          "PV",
		FilterKey:       "PVO_id",
		UpstreamFilters: []models.FilterInput{{Key: "PVO_Plant", Values: []string{"LAMAJA"}}},
		MaxValues:       2,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, got.Values)
	assert.Equal(t, []string{}, got.SelectedValues)
}

func TestExplorer_TagValuesNotConfigured(t *testing.T) {
	b := newBackend(nil)
	b.configured = false
	s := newExplorer(b)

	got, err := s.TagValues(context.Background(), models.TagValuesRequest{Bucket: "PV", Tag: "PVO_Plant"})
	assert.Equal(t, CodeNotConfigured, codeOf(t, err))
	assert.Equal(t, []string{"LAMAJA", "RETAMAR"}, got.Values)
	assert.Empty(t, b.calls())
}

func TestExplorer_Export(t *testing.T) {
	b := newBackend(func(string) (string, error) {
		return `#datatype,string,long,dateTime:RFC3339,string,string,double
,result,table,_time,_field,PVO_Plant,_value
,,0,2025-06-01T10:00:00Z,P,LAMAJA,1.5
,,0,2025-06-01T10:05:00Z,P,LAMAJA,2.5
`, nil
	})
	s := newExplorer(b)

	file, err := s.Export(context.Background(), models.ExportRequest{
		BuildRequest: models.BuildRequest{
			Bucket:    "PV",
			Filters:   []models.FilterInput{{Key: "PVO_Plant", Values: []string{"LAMAJA"}}},
			TimeRange: models.TimeRangeInput{Start: "-1h"},
		},
		Format: "csv-eu",
	})
	require.NoError(t, err)
	assert.Equal(t, "PV_LAMAJA_2025-06-01.csv", file.Filename)
	assert.Equal(t, 2, file.Rows)
	assert.Equal(t, 2, file.Columns)
	body := string(file.Body)
	assert.Contains(t, body, "tiempo;LAMAJA_P")
	assert.Contains(t, body, "1,5")
	assert.Contains(t, b.calls()[0], "holding_register")
}

func TestExplorer_ExportValidation(t *testing.T) {
	s := newExplorer(newBackend(nil))

	_, err := s.Export(context.Background(), models.ExportRequest{Format: "xlsx"})
	assert.Equal(t, CodeInvalidRequest, codeOf(t, err))

	_, err = s.Export(context.Background(), models.ExportRequest{})
	assert.Equal(t, CodeNoBucket, codeOf(t, err))
}

func TestExplorer_Explore(t *testing.T) {
	s := newExplorer(newBackend(func(string) (string, error) {
		return `#datatype,string,long,string,string,string,double
,result,table,_measurement,_field,PVO_Plant,_value
,,0,modbus,P,LAMAJA,1
`, nil
	}))

	got, err := s.Explore(context.Background(), "PV")
	require.NoError(t, err)
	assert.Equal(t, []string{"modbus"}, got.Measurements)
	assert.Equal(t, []string{"PVO_Plant"}, got.AvailableTags)
	assert.Contains(t, got.Headers, "_field")
}

// dashboard

type stubAlarms struct {
	report alerting.Report
	err    error
}

func (s stubAlarms) Report(context.Context) (alerting.Report, error) { return s.report, s.err }

func irradianceSeries(n int) string {
	var b strings.Builder
	b.WriteString("#datatype,string,long,dateTime:RFC3339,double\n,result,table,_time,_value\n")
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, ",,0,%s,%d\n", start.Add(time.Duration(i)*time.Minute).Format(time.RFC3339), 100+i%7)
	}
	return b.String()
}

func newDashboard(b *fakeBackend, alarms AlarmSource, grafana config.GrafanaConfig) *DashboardService {
	svc := metrics.NewService(b,
		config.InfluxConfig{Bucket: "PV", GeoMapBucket: "GeoMap"},
		config.MetricsConfig{Workers: 2, DefaultHours: 24, Timezone: "UTC"},
		logging.NewNop())
	return NewDashboardService(b, svc, alarms, alerting.NewClient(grafana, logging.NewNop()), time.Minute, logging.NewNop())
}

func TestDashboard_TimeseriesDownsamples(t *testing.T) {
	b := newBackend(func(q string) (string, error) {
		if strings.Contains(q, "RadPOA01") {
			return irradianceSeries(200), nil
		}
		return "", nil
	})
	s := newDashboard(b, stubAlarms{}, config.GrafanaConfig{})
	defer s.metrics.Close()

	got, err := s.Timeseries(context.Background(), models.TimeseriesRequest{
		Metric: "irradiance", Plant: "LAMAJA", Hours: 24, Downsample: "lttb", Points: 50,
	})
	require.NoError(t, err)
	assert.Equal(t, 200, got.OriginalPoints)
	assert.Len(t, got.Points, 50)
	assert.Equal(t, "lttb", got.Downsampling)

	got, err = s.Timeseries(context.Background(), models.TimeseriesRequest{Metric: "irradiance", Plant: "LAMAJA"})
	require.NoError(t, err)
	assert.Len(t, got.Points, 200)
	assert.Empty(t, got.Downsampling)
}

func TestDashboard_TimeseriesValidation(t *testing.T) {
	s := newDashboard(newBackend(nil), stubAlarms{}, config.GrafanaConfig{})
	defer s.metrics.Close()

	_, err := s.Timeseries(context.Background(), models.TimeseriesRequest{Metric: "voltage"})
	assert.Equal(t, CodeInvalidRequest, codeOf(t, err))

	b := newBackend(nil)
	b.configured = false
	s2 := newDashboard(b, stubAlarms{}, config.GrafanaConfig{})
	defer s2.metrics.Close()
	_, err = s2.Timeseries(context.Background(), models.TimeseriesRequest{Metric: "power"})
	assert.Equal(t, CodeNotConfigured, codeOf(t, err))
	assert.Empty(t, b.calls())
}

func TestDashboard_PlantsCached(t *testing.T) {
	b := newBackend(func(q string) (string, error) {
		if strings.Contains(q, "-7d") {
			return csvColumn("_value", "LAMAJA"), nil
		}
		return "", nil
	})
	s := newDashboard(b, stubAlarms{}, config.GrafanaConfig{})
	defer s.metrics.Close()

	first := s.Plants(context.Background())
	assert.Equal(t, PlantList{Plants: []string{"LAMAJA"}, Source: models.SourceInfluxDB}, first)
	n := len(b.calls())

	second := s.Plants(context.Background())
	assert.Equal(t, models.SourceCache, second.Source)
	assert.Len(t, b.calls(), n)
}

func TestDashboard_PlantsFallbackNotCached(t *testing.T) {
	b := newBackend(func(string) (string, error) { return "", errDown })
	s := newDashboard(b, stubAlarms{}, config.GrafanaConfig{})
	defer s.metrics.Close()

	got := s.Plants(context.Background())
	assert.Equal(t, []string{"LAMAJA", "RETAMAR"}, got.Plants)
	assert.Equal(t, models.SourceFallback, got.Source)
	assert.Nil(t, s.plants.Get(plantsKey))
}

func TestDashboard_MapData(t *testing.T) {
	b := newBackend(func(q string) (string, error) {
		if strings.Contains(q, "modbus") {
			return `#datatype,string,long,dateTime:RFC3339,double,double,string
,result,table,_time,P,AvEle,Plant
,,0,` + time.Now().UTC().Add(-time.Hour).Format(time.RFC3339) + `,3000,99,LAMAJA
`, nil
		}
		return "", nil
	})
	s := newDashboard(b, stubAlarms{}, config.GrafanaConfig{})
	defer s.metrics.Close()

	got, err := s.MapData(context.Background())
	require.NoError(t, err)
	require.Len(t, got.Stations, 1)
	assert.Equal(t, "LAMAJA", got.Stations[0].StationID)
	assert.Equal(t, 1, got.Stats.Total)
}

func TestDashboard_MapDataBackendDown(t *testing.T) {
	s := newDashboard(newBackend(func(string) (string, error) {
		return "", fmt.Errorf("%w: refused", influx.ErrBackend)
	}), stubAlarms{}, config.GrafanaConfig{})
	defer s.metrics.Close()

	got, err := s.MapData(context.Background())
	assert.Equal(t, CodeBackendUnavailable, codeOf(t, err))
	assert.NotNil(t, got.Stations)
}

func TestDashboard_MonthlyValidation(t *testing.T) {
	s := newDashboard(newBackend(nil), stubAlarms{}, config.GrafanaConfig{})
	defer s.metrics.Close()

	_, err := s.Monthly(context.Background(), models.MonthlyRequest{Plant: "NOWHERE"})
	assert.Equal(t, CodeInvalidRequest, codeOf(t, err))

	_, err = s.Monthly(context.Background(), models.MonthlyRequest{Plant: "LAMAJA", Start: "2025-06-10", End: "2025-06-01"})
	assert.Equal(t, CodeInvalidRequest, codeOf(t, err))
}

func TestDashboard_MonthlyInclusiveEnd(t *testing.T) {
	b := newBackend(nil)
	s := newDashboard(b, stubAlarms{}, config.GrafanaConfig{})
	defer s.metrics.Close()

	got, err := s.Monthly(context.Background(), models.MonthlyRequest{Plant: "LAMAJA", Start: "2025-06-01", End: "2025-06-30"})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC), got.End)
	assert.NotNil(t, got.Data)
}

func TestDashboard_Alarms(t *testing.T) {
	report := alerting.NewReport([]alerting.Alarm{{ID: "a", Plant: "LAMAJA", Severity: alerting.SeverityWarning}})
	s := newDashboard(newBackend(nil), stubAlarms{report: report}, config.GrafanaConfig{})
	defer s.metrics.Close()

	got, err := s.Alarms(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, got.Summary.Warning)

	s.monitor = stubAlarms{report: alerting.NewReport(nil), err: fmt.Errorf("threshold readings: %w", influx.ErrBackend)}
	_, err = s.Alarms(context.Background())
	assert.Equal(t, CodeBackendUnavailable, codeOf(t, err))
}

func TestDashboard_GrafanaNotConfigured(t *testing.T) {
	s := newDashboard(newBackend(nil), stubAlarms{}, config.GrafanaConfig{})
	defer s.metrics.Close()

	got, err := s.GrafanaAlarms(context.Background())
	assert.Equal(t, CodeNotConfigured, codeOf(t, err))
	assert.Empty(t, got.Alarms)
	assert.Contains(t, got.PlantAlarms, "LAMAJA")
}
