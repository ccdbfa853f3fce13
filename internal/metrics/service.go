package metrics

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/alitto/pond/v2"

	"github.com/pvmonitor/pvdash/internal/config"
	"github.com/pvmonitor/pvdash/internal/flux"
	"github.com/pvmonitor/pvdash/internal/influx"
	"github.com/pvmonitor/pvdash/internal/logging"
	"github.com/pvmonitor/pvdash/internal/tabular"
)

// MaxHours bounds the window of a series request.
const MaxHours = 24 * 31

// ErrInvalidHours is returned for a window outside 1..MaxHours.
var ErrInvalidHours = errors.New("metrics: hours out of range")

// slot is one (metric, plant) read of a fan-out.
type slot struct {
	def   Definition
	plant string
}

type slotResult struct {
	slot
	values samples
	err    error
}

// Service reads plant metrics. Independent reads run on a bounded pool and a
// failing read never fails its siblings.
type Service struct {
	querier      influx.Querier
	bucket       string
	geoBucket    string
	defaultHours int
	location     *time.Location
	pool         pond.ResultPool[slotResult]
	logger       *logging.Logger
	now          func() time.Time
}

// NewService creates a metric service over the plant bucket of influxCfg.
func NewService(querier influx.Querier, influxCfg config.InfluxConfig, cfg config.MetricsConfig, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Global()
	}
	workers := cfg.Workers
	if workers < 1 {
		workers = 4
	}
	hours := cfg.DefaultHours
	if hours < 1 {
		hours = 24
	}
	return &Service{
		querier:      querier,
		bucket:       influxCfg.Bucket,
		geoBucket:    influxCfg.GeoMapBucket,
		defaultHours: hours,
		location:     cfg.Location(),
		pool:         pond.NewResultPool[slotResult](workers),
		logger:       logger.Component("metrics"),
		now:          time.Now,
	}
}

// Close stops the worker pool after running reads complete.
func (s *Service) Close() {
	s.pool.StopAndWait()
}

// Bucket returns the plant data bucket.
func (s *Service) Bucket() string {
	return s.bucket
}

// Location returns the plant timezone.
func (s *Service) Location() *time.Location {
	return s.location
}

func (s *Service) hours(h int) (int, error) {
	if h == 0 {
		return s.defaultHours, nil
	}
	if h < 1 || h > MaxHours {
		return 0, fmt.Errorf("%w: %d", ErrInvalidHours, h)
	}
	return h, nil
}

// GetMetric returns the series of metric for plant, or for every known plant
// combined when plant is Total. hours 0 means the configured default.
func (s *Service) GetMetric(ctx context.Context, metric, plant string, hours int) (Series, error) {
	def, err := Lookup(metric)
	if err != nil {
		return Series{}, err
	}
	if !ValidPlant(plant) {
		return Series{}, fmt.Errorf("%w: %q", ErrUnknownPlant, plant)
	}
	h, err := s.hours(hours)
	if err != nil {
		return Series{}, err
	}
	rng := flux.HoursBack(h)

	series := Series{Metric: def.Name, Plant: plant, Unit: def.Unit, Points: []Point{}}
	if plant != Total && !def.Supports(plant) {
		series.NoSource = true
		return series, nil
	}

	plants := []string{plant}
	if plant == Total {
		plants = Plants()
	}

	perPlant, failed, lastErr := s.readPlants(ctx, def, plants, rng)
	series.Failed = failed
	if len(perPlant) == 0 {
		series.Err = lastErr
		if series.Err == nil && def.Combine == CombineSingle {
			series.NoSource = true
		}
		return series, nil
	}

	if plant == Total {
		series.Points = combine(def, perPlant).points()
	} else {
		series.Points = perPlant[plant].points()
	}
	return series, nil
}

// readPlants reads def for every plant that has a source. Derived metrics
// read their inputs and compute per plant. Plants whose read failed are
// listed in failed and left out of the returned map.
func (s *Service) readPlants(ctx context.Context, def Definition, plants []string, rng flux.TimeRange) (map[string]samples, []string, error) {
	var slots []slot
	for _, p := range plants {
		if !def.Supports(p) {
			continue
		}
		if def.Derived {
			slots = append(slots, slot{definitions[Energy], p}, slot{definitions[Irradiation], p})
			continue
		}
		slots = append(slots, slot{def, p})
	}

	results := s.run(ctx, slots, rng)

	perPlant := make(map[string]samples)
	failedSet := make(map[string]struct{})
	var lastErr error
	inputs := make(map[string]map[Name]samples)
	for _, r := range results {
		if r.err != nil {
			failedSet[r.plant] = struct{}{}
			lastErr = r.err
			continue
		}
		if def.Derived {
			if inputs[r.plant] == nil {
				inputs[r.plant] = make(map[Name]samples)
			}
			inputs[r.plant][r.def.Name] = r.values
			continue
		}
		perPlant[r.plant] = r.values
	}
	if def.Derived {
		for p, in := range inputs {
			if _, bad := failedSet[p]; bad {
				continue
			}
			perPlant[p] = derivePR(in[Energy], in[Irradiation], Capacities[p])
		}
	}

	failed := make([]string, 0, len(failedSet))
	for p := range failedSet {
		failed = append(failed, p)
	}
	sort.Strings(failed)
	return perPlant, failed, lastErr
}

// run executes every slot on the pool. Results keep slot order.
func (s *Service) run(ctx context.Context, slots []slot, rng flux.TimeRange) []slotResult {
	if len(slots) == 0 {
		return nil
	}
	group := s.pool.NewGroupContext(ctx)
	for _, sl := range slots {
		group.Submit(func() slotResult {
			values, err := s.read(ctx, sl.def, sl.plant, rng)
			return slotResult{slot: sl, values: values, err: err}
		})
	}
	results, err := group.Wait()
	if err != nil {
		// Only context cancellation reaches here; slot errors are carried in results.
		s.logger.Warn("Metric fan-out interrupted", "error", err)
		out := make([]slotResult, len(slots))
		for i, sl := range slots {
			out[i] = slotResult{slot: sl, err: err}
		}
		return out
	}
	return results
}

// read runs one (metric, plant) query and post-processes it.
func (s *Service) read(ctx context.Context, def Definition, plant string, rng flux.TimeRange) (samples, error) {
	q := SeriesQuery(def, s.bucket, plant, rng)
	text, err := s.querier.QueryCSV(ctx, q)
	if err != nil {
		s.logger.Warn("Metric query failed", "metric", def.Name, "plant", plant, "error", err)
		return nil, err
	}
	raw, err := parseSamples(text, def.Fn)
	if err != nil {
		if errors.Is(err, tabular.ErrEmpty) {
			return samples{}, nil
		}
		s.logger.Warn("Metric response unparseable", "metric", def.Name, "plant", plant, "error", err)
		return samples{}, nil
	}
	return raw.transform(def), nil
}

// DiscoverPlants lists plants that reported meter power in the last week.
// fromBackend is false when the fixed plant list was used instead.
func (s *Service) DiscoverPlants(ctx context.Context) (plants []string, fromBackend bool) {
	text, err := s.querier.QueryCSV(ctx, PlantDiscoveryQuery(s.bucket))
	if err != nil {
		s.logger.Warn("Plant discovery failed, using known plants", "error", err)
		return Plants(), false
	}
	found := tabular.ParseColumn(text, flux.KeyValue)
	if len(found) == 0 {
		return Plants(), false
	}
	return found, true
}
