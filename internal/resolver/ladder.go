package resolver

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pvmonitor/pvdash/internal/flux"
	"github.com/pvmonitor/pvdash/internal/tabular"
)

// Widening windows tried after the requested one.
var (
	UniversalLadder = []string{"-1h", "-6h", "-24h", "-7d", "-30d"}
	FieldLadder     = []string{"-1h", "-6h", "-24h", "-7d"}
)

// TagStrategy is one step of the tag-value lookup.
type TagStrategy struct {
	Range string
	Limit int
}

// TagStrategies are tried in order until one yields values.
var TagStrategies = []TagStrategy{
	{Range: "-1h", Limit: 100},
	{Range: "-24h", Limit: 200},
	{Range: "-7d", Limit: 500},
	{Range: "-30d", Limit: 1000},
}

// UniversalRequest is a lookup of every value of a dimension.
type UniversalRequest struct {
	Bucket    string
	Field     string
	TimeRange string
	MaxValues int
	// Enough stops the widening once this many values are known. Zero means MaxValues.
	Enough int
}

func ladder(first string, rest []string) []string {
	out := make([]string, 0, len(rest)+1)
	if first != "" {
		out = append(out, first)
	}
	for _, w := range rest {
		if len(out) > 0 && out[len(out)-1] == w {
			continue
		}
		out = append(out, w)
	}
	return out
}

// universalQuery picks the query shape for a dimension. rangeBound reports
// whether the window influences the answer at all.
func universalQuery(bucket, field, window string, limit int) (q string, rangeBound bool) {
	switch {
	case field == flux.KeyMeasurement:
		return flux.SchemaMeasurements(bucket, limit), false
	case field == flux.KeyField:
		return flux.SchemaFieldKeys(bucket, limit), false
	case strings.HasPrefix(field, "_"):
		return flux.ColumnDistinct(bucket, field, window, limit), true
	default:
		return flux.SchemaTagValues(bucket, field, window, limit), true
	}
}

// UniversalValues widens the window step by step, accumulating values until
// enough are known. Attempts run sequentially; failed attempts are logged.
func (r *Resolver) UniversalValues(ctx context.Context, req UniversalRequest) Result {
	if req.MaxValues <= 0 {
		req.MaxValues = r.cfg.UniversalLimit
	}
	enough := req.Enough
	if enough <= 0 || enough > req.MaxValues {
		enough = req.MaxValues
	}

	found := make(map[string]struct{})
	var lastErr error
	succeeded := false

	for _, window := range ladder(req.TimeRange, UniversalLadder) {
		if len(found) >= enough || ctx.Err() != nil {
			break
		}
		q, rangeBound := universalQuery(req.Bucket, req.Field, window, req.MaxValues)
		values, err := r.distinct(ctx, q, req.Field)
		if err != nil {
			lastErr = err
			r.logger.Warn("Lookup attempt failed", "bucket", req.Bucket, "key", req.Field, "window", window, "error", err)
			continue
		}
		succeeded = true
		for _, v := range values {
			if v = strings.TrimSpace(v); v != "" {
				found[v] = struct{}{}
			}
		}
		if !rangeBound {
			break
		}
	}

	res := newResult(keys(found), SourceBackend)
	if len(res.Values) > req.MaxValues {
		res.Values = res.Values[:req.MaxValues]
		res.TotalFound = len(res.Values)
	}
	if !succeeded {
		res.Source = SourceFallback
		res.Err = fmt.Errorf("%w: %s: %v", ErrNoValues, req.Field, lastErr)
	}
	return res
}

// TagValuesRequest looks up the values of one tag, optionally within a measurement.
type TagValuesRequest struct {
	Bucket      string
	Measurement string
	Tag         string
}

// TagValues tries each strategy until one returns values, then falls back to
// the common values for the tag's name.
func (r *Resolver) TagValues(ctx context.Context, req TagValuesRequest) Result {
	var lastErr error
	for _, s := range TagStrategies {
		if ctx.Err() != nil {
			break
		}
		var q string
		if req.Measurement != "" {
			q = flux.TagValuesInMeasurement(req.Bucket, req.Measurement, req.Tag, s.Range, s.Limit)
		} else {
			q = flux.SchemaTagValues(req.Bucket, req.Tag, s.Range, s.Limit)
		}
		values, err := r.distinct(ctx, q, req.Tag)
		if err != nil {
			lastErr = err
			r.logger.Warn("Tag lookup attempt failed", "tag", req.Tag, "range", s.Range, "error", err)
			continue
		}
		if len(values) > 0 {
			return newResult(values, SourceBackend)
		}
	}

	res := newResult(FallbackTagValues(req.Tag), SourceFallback)
	if lastErr != nil {
		res.Err = fmt.Errorf("%w: %s: %w", ErrNoValues, req.Tag, lastErr)
	}
	return res
}

// FieldValuesRequest looks up the recorded values of one field.
type FieldValuesRequest struct {
	Bucket    string
	Field     string
	TimeRange string
	MaxValues int
}

// FieldValues widens the window until MaxValues distinct values are known.
// Numbers are normalised: integers as is, others with two decimals.
func (r *Resolver) FieldValues(ctx context.Context, req FieldValuesRequest) Result {
	if req.MaxValues <= 0 {
		req.MaxValues = 100
	}
	found := make(map[string]struct{})
	var lastErr error
	succeeded := false

	for _, window := range ladder(req.TimeRange, FieldLadder) {
		if len(found) >= req.MaxValues || ctx.Err() != nil {
			break
		}
		values, err := r.distinct(ctx, flux.FieldValues(req.Bucket, req.Field, window, req.MaxValues), flux.KeyValue)
		if err != nil {
			lastErr = err
			r.logger.Warn("Field value attempt failed", "field", req.Field, "window", window, "error", err)
			continue
		}
		succeeded = true
		for _, v := range values {
			found[normaliseNumber(v)] = struct{}{}
		}
	}

	res := newResult(keys(found), SourceBackend)
	total := len(res.Values)
	if total > req.MaxValues {
		res.Values = res.Values[:req.MaxValues]
	}
	res.TotalFound = total
	if !succeeded {
		res.Source = SourceFallback
		res.Err = fmt.Errorf("%w: %s: %v", ErrNoValues, req.Field, lastErr)
	}
	return res
}

func normaliseNumber(v string) string {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return v
	}
	if f == math.Trunc(f) {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strconv.FormatFloat(f, 'f', 2, 64)
}

// Measurements lists measurements, from the catalogue when cached.
func (r *Resolver) Measurements(ctx context.Context, bucket string) Result {
	if cat, err := r.Catalogue(ctx, bucket); err == nil && len(cat.Measurements) > 0 {
		return newResult(append([]string(nil), cat.Measurements...), SourceCache)
	}
	return r.UniversalValues(ctx, UniversalRequest{
		Bucket: bucket, Field: flux.KeyMeasurement, TimeRange: r.cfg.DefaultWindow, MaxValues: 100,
	})
}

// TagKeys lists the tag keys of a bucket, reading _value of schema.tagKeys.
func (r *Resolver) TagKeys(ctx context.Context, bucket string) Result {
	values, err := r.distinct(ctx, flux.SchemaTagKeys(bucket, 200), flux.KeyValue)
	if err != nil {
		r.logger.Warn("Tag key lookup failed", "bucket", bucket, "error", err)
		res := newResult(nil, SourceFallback)
		res.Err = fmt.Errorf("%w: tag keys: %w", ErrNoValues, err)
		return res
	}
	return newResult(values, SourceBackend)
}

func keys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}

// parseAll is used where the shape of the response is itself the answer.
func parseAll(text string) *tabular.Result {
	res, err := tabular.Parse(text)
	if err != nil {
		return &tabular.Result{}
	}
	return res
}
