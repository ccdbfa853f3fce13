package resolver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pvmonitor/pvdash/internal/flux"
	"github.com/pvmonitor/pvdash/internal/metadata"
)

// Columns never offered as filter keys.
var excludedSystemFields = map[string]struct{}{
	"_start":  {},
	"_stop":   {},
	"table":   {},
	"_result": {},
	"_table":  {},
}

// SampleWindows are tried when the schema functions return nothing.
var SampleWindows = []string{"-1h", "-6h", "-24h", "-7d"}

// Catalogue returns the cached catalogue of bucket, discovering it on a miss.
// Concurrent misses for the same bucket share one discovery.
func (r *Resolver) Catalogue(ctx context.Context, bucket string) (*metadata.Catalogue, error) {
	if bucket == "" {
		return nil, flux.ErrNoBucket
	}
	if r.store != nil {
		cat, err := r.store.Get(ctx, bucket)
		if err == nil {
			return cat, nil
		}
		if !errors.Is(err, metadata.ErrNotFound) {
			r.logger.Warn("Catalogue cache read failed", "bucket", bucket, "error", err)
		}
	}

	v, err, _ := r.group.Do(bucket, func() (interface{}, error) {
		cat, err := r.Discover(ctx, bucket)
		if err != nil {
			return nil, err
		}
		if r.store != nil {
			if err := r.store.Put(ctx, cat); err != nil {
				r.logger.Warn("Catalogue cache write failed", "bucket", bucket, "error", err)
			}
		}
		return cat, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*metadata.Catalogue), nil
}

// Invalidate forgets the catalogue of bucket (every bucket when empty).
func (r *Resolver) Invalidate(ctx context.Context, bucket string) error {
	if r.store == nil {
		return nil
	}
	return r.store.Invalidate(ctx, bucket)
}

// Discover queries measurements, field keys and tag keys concurrently, then
// samples raw records when any of them came back empty.
func (r *Resolver) Discover(ctx context.Context, bucket string) (*metadata.Catalogue, error) {
	var (
		measurements, fields, tagKeys []string
		errs                          [3]error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		measurements, errs[0] = r.distinct(gctx, flux.SchemaMeasurements(bucket, 100), flux.KeyValue)
		return nil
	})
	g.Go(func() error {
		fields, errs[1] = r.distinct(gctx, flux.SchemaFieldKeys(bucket, 200), flux.KeyValue)
		return nil
	})
	g.Go(func() error {
		tagKeys, errs[2] = r.distinct(gctx, flux.SchemaTagKeys(bucket, 200), flux.KeyValue)
		return nil
	})
	_ = g.Wait()

	for _, err := range errs {
		if err != nil {
			r.logger.Warn("Schema lookup failed", "bucket", bucket, "error", err)
		}
	}

	sets := discovered{
		measurements: toSet(measurements),
		fields:       toSet(fields),
		columns:      toSet(tagKeys),
	}

	sampled := false
	if len(sets.measurements) == 0 || len(sets.fields) == 0 || len(sets.columns) == 0 {
		sampled = r.sample(ctx, bucket, &sets)
	}

	if errors.Join(errs[:]...) != nil && !sampled &&
		len(sets.measurements)+len(sets.fields)+len(sets.columns) == 0 {
		return nil, fmt.Errorf("%w: catalogue of %s: %w", ErrNoValues, bucket, errors.Join(errs[:]...))
	}

	cat := &metadata.Catalogue{
		Bucket:       bucket,
		Measurements: sortedKeys(sets.measurements),
		Fields:       sortedKeys(sets.fields),
		Source:       SourceBackend,
		FetchedAt:    time.Now().UTC(),
	}
	cat.TagKeys = sortedKeys(sets.columns)
	cat.SystemFields, cat.TagFields = ClassifyColumns(cat.TagKeys)
	return cat, nil
}

type discovered struct {
	measurements map[string]struct{}
	fields       map[string]struct{}
	columns      map[string]struct{}
}

// sample reads raw records over widening windows and collects column names,
// measurements and fields from them. It reports whether any attempt succeeded.
func (r *Resolver) sample(ctx context.Context, bucket string, sets *discovered) bool {
	ok := false
	for _, window := range SampleWindows {
		if ctx.Err() != nil {
			break
		}
		text, err := r.querier.QueryCSV(ctx, flux.Sample(bucket, window, 500))
		if err != nil {
			r.logger.Warn("Sampling attempt failed", "bucket", bucket, "window", window, "error", err)
			continue
		}
		ok = true
		res := parseAll(text)
		for _, h := range res.Headers {
			if h != "" && h != "result" && h != "table" {
				sets.columns[h] = struct{}{}
			}
		}
		for i, row := range res.Rows {
			if i >= 200 {
				break
			}
			if m := row.Get(flux.KeyMeasurement); m != "" && m != "null" {
				sets.measurements[m] = struct{}{}
			}
			if f := row.Get(flux.KeyField); f != "" && f != "null" {
				sets.fields[f] = struct{}{}
			}
		}
		if len(sets.measurements) > 0 && (len(sets.fields) > 0 || len(sets.columns) > 5) {
			break
		}
	}
	return ok
}

// ClassifyColumns splits column names into underscore-prefixed system fields
// and tag fields, dropping bookkeeping columns.
func ClassifyColumns(columns []string) (system, tags []string) {
	system, tags = []string{}, []string{}
	for _, c := range columns {
		if _, skip := excludedSystemFields[c]; skip || c == "" {
			continue
		}
		switch {
		case strings.HasPrefix(c, "_"):
			system = append(system, c)
		case c != "result" && c != "table":
			tags = append(tags, c)
		}
	}
	sort.Strings(system)
	sort.Strings(tags)
	return system, tags
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

func sortedKeys(set map[string]struct{}) []string {
	out := keys(set)
	sort.Strings(out)
	return out
}
