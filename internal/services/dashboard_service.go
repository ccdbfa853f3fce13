package services

import (
	"context"
	"fmt"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/pvmonitor/pvdash/internal/alerting"
	"github.com/pvmonitor/pvdash/internal/downsampling"
	"github.com/pvmonitor/pvdash/internal/logging"
	"github.com/pvmonitor/pvdash/internal/metrics"
	"github.com/pvmonitor/pvdash/internal/models"
)

const plantsKey = "plants"

// AlarmSource produces an alarm report.
type AlarmSource interface {
	Report(ctx context.Context) (alerting.Report, error)
}

// DashboardService serves the plant dashboard: metric series, the plant
// snapshot, map stations, monthly production and alarms.
type DashboardService struct {
	backend Backend
	metrics *metrics.Service
	monitor AlarmSource
	grafana *alerting.Client
	plants  *ttlcache.Cache[string, []string]
	flight  singleflight.Group
	logger  *logging.Logger
}

// NewDashboardService wires the dashboard. Discovered plants are cached for lookupTTL.
func NewDashboardService(backend Backend, svc *metrics.Service, monitor AlarmSource, grafana *alerting.Client,
	lookupTTL time.Duration, logger *logging.Logger) *DashboardService {
	if logger == nil {
		logger = logging.Global()
	}
	if lookupTTL <= 0 {
		lookupTTL = time.Minute
	}
	return &DashboardService{
		backend: backend,
		metrics: svc,
		monitor: monitor,
		grafana: grafana,
		plants: ttlcache.New(
			ttlcache.WithTTL[string, []string](lookupTTL),
			ttlcache.WithDisableTouchOnHit[string, []string](),
		),
		logger: logger.Component("dashboard"),
	}
}

func (s *DashboardService) ready() error {
	if !s.backend.Configured() {
		missing := s.backend.Missing()
		return NewServiceErrorWithDetails(CodeNotConfigured,
			"time-series backend not configured", map[string]interface{}{"missing": missing})
	}
	return nil
}

// Timeseries is the answer of Timeseries.
type Timeseries struct {
	metrics.Series
	OriginalPoints int    `json:"originalPoints"`
	Downsampling   string `json:"downsampling,omitempty"`
}

// Timeseries reads one metric series and downsamples it for charting.
func (s *DashboardService) Timeseries(ctx context.Context, req models.TimeseriesRequest) (Timeseries, error) {
	if err := s.ready(); err != nil {
		return Timeseries{}, err
	}
	plant := req.Plant
	if plant == "" {
		plant = metrics.Total
	}
	series, err := s.metrics.GetMetric(ctx, req.Metric, plant, req.Hours)
	if err != nil {
		return Timeseries{}, Classify(err)
	}
	out := Timeseries{Series: series, OriginalPoints: len(series.Points)}
	if series.Points == nil {
		out.Points = []metrics.Point{}
	}
	if series.Err != nil {
		return out, Classify(series.Err)
	}

	mode := downsampling.Mode(req.Downsample)
	if mode == "" {
		mode = downsampling.ModeNone
	}
	points, err := downsampling.Apply(series.Points, mode, req.Points)
	if err != nil {
		return out, NewServiceError(CodeInvalidRequest, err.Error())
	}
	out.Points = points
	if len(points) != out.OriginalPoints {
		out.Downsampling = string(mode)
	}
	return out, nil
}

// PlantList is a plant set with its origin.
type PlantList struct {
	Plants []string `json:"plants"`
	Source string   `json:"source"`
}

// Plants returns the plants that reported recently, cached. Concurrent
// misses share one discovery query.
func (s *DashboardService) Plants(ctx context.Context) PlantList {
	if item := s.plants.Get(plantsKey); item != nil {
		return PlantList{Plants: item.Value(), Source: models.SourceCache}
	}
	v, _, _ := s.flight.Do(plantsKey, func() (interface{}, error) {
		plants, fromBackend := s.metrics.DiscoverPlants(ctx)
		if !fromBackend {
			return PlantList{Plants: plants, Source: models.SourceFallback}, nil
		}
		s.plants.Set(plantsKey, plants, ttlcache.DefaultTTL)
		return PlantList{Plants: plants, Source: models.SourceInfluxDB}, nil
	})
	return v.(PlantList)
}

// PlantsData is the answer of PlantsData.
type PlantsData struct {
	metrics.Snapshot
	PlantSource string `json:"plantSource"`
}

// PlantsData builds the plant snapshot. Station readings of the map bucket
// fill coordinates and missing availabilities; their failure is only logged.
func (s *DashboardService) PlantsData(ctx context.Context, hours int) (PlantsData, error) {
	if err := s.ready(); err != nil {
		return PlantsData{Snapshot: metrics.Snapshot{Plants: []metrics.PlantAggregate{}}}, err
	}
	plants := s.Plants(ctx)

	var (
		snap     metrics.Snapshot
		stations []metrics.Station
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		snap, err = s.metrics.Snapshot(gctx, plants.Plants, hours)
		return err
	})
	g.Go(func() error {
		var err error
		stations, err = s.metrics.Stations(gctx)
		if err != nil {
			s.logger.Warn("Station readings unavailable for snapshot", "error", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return PlantsData{Snapshot: metrics.Snapshot{Plants: []metrics.PlantAggregate{}}}, Classify(err)
	}

	metrics.MergeStations(&snap, stations)
	return PlantsData{Snapshot: snap, PlantSource: plants.Source}, nil
}

// MapData is the answer of MapData.
type MapData struct {
	Stations []metrics.Station   `json:"stations"`
	Stats    metrics.StationStats `json:"stats"`
}

// MapData reads every station of the map bucket.
func (s *DashboardService) MapData(ctx context.Context) (MapData, error) {
	out := MapData{Stations: []metrics.Station{}}
	if err := s.ready(); err != nil {
		return out, err
	}
	stations, err := s.metrics.Stations(ctx)
	if err != nil {
		return out, Classify(err)
	}
	if stations != nil {
		out.Stations = stations
	}
	out.Stats = metrics.Stats(out.Stations)
	return out, nil
}

// Monthly reads the daily production of a plant. Dates are calendar days in
// the plant timezone; end is inclusive.
func (s *DashboardService) Monthly(ctx context.Context, req models.MonthlyRequest) (metrics.Production, error) {
	if err := s.ready(); err != nil {
		return metrics.Production{Plant: req.Plant, Data: []metrics.DailyPoint{}}, err
	}
	var start, end time.Time
	if req.Start != "" && req.End != "" {
		loc := s.metrics.Location()
		var err error
		if start, err = time.ParseInLocation(time.DateOnly, req.Start, loc); err != nil {
			return metrics.Production{}, NewServiceError(CodeInvalidRequest, fmt.Sprintf("invalid start %q", req.Start))
		}
		if end, err = time.ParseInLocation(time.DateOnly, req.End, loc); err != nil {
			return metrics.Production{}, NewServiceError(CodeInvalidRequest, fmt.Sprintf("invalid end %q", req.End))
		}
		end = end.AddDate(0, 0, 1)
	}
	prod, err := s.metrics.MonthlyProduction(ctx, req.Plant, start, end)
	if err != nil {
		if prod.Data == nil {
			prod.Data = []metrics.DailyPoint{}
		}
		return prod, Classify(err)
	}
	return prod, nil
}

// Alarms evaluates the threshold alarms.
func (s *DashboardService) Alarms(ctx context.Context) (alerting.Report, error) {
	if err := s.ready(); err != nil {
		return alerting.NewReport(nil), err
	}
	report, err := s.monitor.Report(ctx)
	if err != nil {
		return report, Classify(err)
	}
	return report, nil
}

// GrafanaAlarms fetches the alert manager alarms. The report is always
// usable; on failure it carries the fallback alarm.
func (s *DashboardService) GrafanaAlarms(ctx context.Context) (alerting.Report, error) {
	if !s.grafana.Configured() {
		return alerting.NewReport(nil), NewServiceErrorWithDetails(CodeNotConfigured,
			"alert manager not configured", map[string]interface{}{"missing": s.grafana.Missing()})
	}
	report, err := s.grafana.Report(ctx)
	if err != nil {
		s.logger.Warn("Alert manager fetch failed", "error", err)
		return report, Classify(err)
	}
	return report, nil
}
