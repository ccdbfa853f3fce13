// Package resolver computes the candidate values of a filter given the
// filters before it. Every lookup degrades instead of failing: attempts that
// error are logged and the next fallback is tried, and only when all of them
// fail does the Result carry a non-fatal Err.
package resolver

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/pvmonitor/pvdash/internal/config"
	"github.com/pvmonitor/pvdash/internal/flux"
	"github.com/pvmonitor/pvdash/internal/influx"
	"github.com/pvmonitor/pvdash/internal/logging"
	"github.com/pvmonitor/pvdash/internal/metadata"
	"github.com/pvmonitor/pvdash/internal/tabular"
)

// Sources reported with a Result.
const (
	SourceBackend  = "influxdb"
	SourceCache    = "cache"
	SourceFallback = "fallback"
)

// PlantKey is the plant tag. Its values are a fixed, known set.
const PlantKey = "PVO_Plant"

// ErrNoValues is the non-fatal error of a lookup whose every attempt failed.
var ErrNoValues = errors.New("resolver: every lookup attempt failed")

// KnownPlants is the fixed plant list used when discovery is impossible.
var KnownPlants = []string{"LAMAJA", "RETAMAR"}

// Result is a resolved candidate set.
type Result struct {
	Values     []string `json:"values"`
	IsNumeric  bool     `json:"isNumeric"`
	TotalFound int      `json:"totalFound"`
	Source     string   `json:"source"`
	// Err is set when no attempt succeeded. Values is then empty or a fixed fallback.
	Err error `json:"-"`
}

func newResult(values []string, source string) Result {
	if values == nil {
		values = []string{}
	}
	values, numeric := tabular.SortValues(values)
	return Result{Values: values, IsNumeric: numeric, TotalFound: len(values), Source: source}
}

// Resolver runs value lookups against the backend.
type Resolver struct {
	querier influx.Querier
	store   metadata.Store
	cfg     config.ResolverConfig
	logger  *logging.Logger
	group   singleflight.Group
}

// New creates a resolver. store may be nil, in which case catalogues are not cached.
func New(querier influx.Querier, store metadata.Store, cfg config.ResolverConfig, logger *logging.Logger) *Resolver {
	if logger == nil {
		logger = logging.Global()
	}
	return &Resolver{
		querier: querier,
		store:   store,
		cfg:     cfg,
		logger:  logger.Component("resolver"),
	}
}

// Upstream keeps the predicates that constrain a lookup: non-reserved keys
// with at least one selected value.
func Upstream(preds []flux.Predicate) []flux.Predicate {
	out := make([]flux.Predicate, 0, len(preds))
	for _, p := range preds {
		if p.Key == "" || flux.IsReserved(p.Key) || len(p.Values) == 0 {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Resolve returns the candidate values of target among records matching
// every upstream predicate.
func (r *Resolver) Resolve(ctx context.Context, bucket, target string, upstream []flux.Predicate) Result {
	if bucket == "" || target == "" || flux.IsReserved(target) {
		return newResult(nil, SourceFallback)
	}
	upstream = Upstream(upstream)

	if len(upstream) == 0 {
		return r.resolveUnconstrained(ctx, bucket, target)
	}

	q := flux.DistinctQuery(bucket, target, upstream, flux.DistinctOptions{
		Start:          r.cfg.UpstreamWindow,
		RecordTypeOnly: target == flux.KeyField,
		SampleSize:     r.cfg.SampleSize,
		Limit:          r.cfg.UpstreamLimit,
	})
	values, err := r.distinct(ctx, q, target)
	if err == nil && len(values) > 0 {
		return newResult(values, SourceBackend)
	}
	if err != nil {
		r.logger.Warn("Constrained lookup failed, falling back", "bucket", bucket, "key", target, "error", err)
	}

	switch target {
	case flux.KeyField:
		return r.fieldsOrUniversal(ctx, bucket, upstream)
	case PlantKey:
		return newResult(append([]string(nil), KnownPlants...), SourceFallback)
	default:
		return r.UniversalValues(ctx, UniversalRequest{
			Bucket:    bucket,
			Field:     target,
			TimeRange: r.cfg.DefaultWindow,
			MaxValues: r.cfg.UniversalLimit,
			Enough:    r.cfg.LadderEnoughHint,
		})
	}
}

func (r *Resolver) resolveUnconstrained(ctx context.Context, bucket, target string) Result {
	switch target {
	case flux.KeyMeasurement:
		cat, err := r.Catalogue(ctx, bucket)
		if err == nil {
			if values, ok := cat.Values(target); ok {
				return newResult(append([]string(nil), values...), SourceCache)
			}
		}
		return r.UniversalValues(ctx, UniversalRequest{
			Bucket: bucket, Field: target, TimeRange: r.cfg.DefaultWindow, MaxValues: r.cfg.UniversalLimit,
		})
	case flux.KeyField:
		return r.fieldsOrUniversal(ctx, bucket, nil)
	case PlantKey:
		return newResult(append([]string(nil), KnownPlants...), SourceFallback)
	default:
		return r.UniversalValues(ctx, UniversalRequest{
			Bucket:    bucket,
			Field:     target,
			TimeRange: r.cfg.DefaultWindow,
			MaxValues: r.cfg.UniversalLimit,
		})
	}
}

// fieldsOrUniversal lists variable names of raw register records only. When
// that lookup fails the unfiltered field catalogue is used.
func (r *Resolver) fieldsOrUniversal(ctx context.Context, bucket string, upstream []flux.Predicate) Result {
	q := flux.DistinctQuery(bucket, flux.KeyField, upstream, flux.DistinctOptions{
		Start:          r.cfg.DefaultWindow,
		RecordTypeOnly: true,
		Limit:          r.cfg.FieldLimit,
	})
	values, err := r.distinct(ctx, q, flux.KeyField)
	if err == nil {
		return newResult(values, SourceBackend)
	}
	r.logger.Warn("Field lookup failed, falling back", "bucket", bucket, "error", err)
	return r.UniversalValues(ctx, UniversalRequest{
		Bucket:    bucket,
		Field:     flux.KeyField,
		TimeRange: r.cfg.DefaultWindow,
		MaxValues: r.cfg.FieldLimit,
	})
}

// distinct runs q and extracts column. A response without the column but with
// a _value column is read from _value, the shape of the schema functions.
func (r *Resolver) distinct(ctx context.Context, q, column string) ([]string, error) {
	text, err := r.querier.QueryCSV(ctx, q)
	if err != nil {
		return nil, err
	}
	res, err := tabular.Parse(text)
	if errors.Is(err, tabular.ErrEmpty) {
		return []string{}, nil
	}
	if err != nil {
		r.logger.Warn("Unparseable lookup response", "column", column, "error", err)
		return []string{}, nil
	}
	if !res.HasColumn(column) && res.HasColumn(flux.KeyValue) {
		column = flux.KeyValue
	}
	return res.Distinct(column), nil
}

// FallbackTagValues are the common values of a tag, chosen by its name.
func FallbackTagValues(tag string) []string {
	lower := strings.ToLower(tag)
	switch {
	case strings.Contains(lower, "plant"):
		return append([]string(nil), KnownPlants...)
	case strings.Contains(lower, "zone"):
		return []string{"CPM", "CT01", "CT02", "CT03", "CT04", "SUBESTACION", "RETAMAR"}
	case strings.Contains(lower, "id"):
		return []string{"INV01", "INV02", "INV03", "INV04", "INV05", "INV06", "INV07", "INV08", "INV09", "INV10", "INV11"}
	case strings.Contains(lower, "type"):
		return []string{"string", "number", "boolean"}
	}
	return []string{}
}
