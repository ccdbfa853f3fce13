package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/pvmonitor/pvdash/internal/export"
	"github.com/pvmonitor/pvdash/internal/filterchain"
	"github.com/pvmonitor/pvdash/internal/flux"
	"github.com/pvmonitor/pvdash/internal/influx"
	"github.com/pvmonitor/pvdash/internal/logging"
	"github.com/pvmonitor/pvdash/internal/metadata"
	"github.com/pvmonitor/pvdash/internal/models"
	"github.com/pvmonitor/pvdash/internal/resolver"
	"github.com/pvmonitor/pvdash/internal/tabular"
)

// FallbackBuckets are listed when the backend cannot be asked.
var FallbackBuckets = []string{"DC", "GeoMap", "Omie", "PV", "_monitoring", "_tasks"}

// Backend is the time-series client as the services see it.
type Backend interface {
	influx.Querier
	Configured() bool
	Missing() []string
}

const bucketsKey = "buckets"

// ExplorerService backs the query builder: bucket and catalogue discovery,
// value lookups, query building, execution and export.
type ExplorerService struct {
	backend  Backend
	resolver *resolver.Resolver
	buckets  *ttlcache.Cache[string, []string]
	logger   *logging.Logger
	now      func() time.Time
}

// NewExplorerService creates the service. Bucket lists are cached for lookupTTL.
func NewExplorerService(backend Backend, r *resolver.Resolver, lookupTTL time.Duration, logger *logging.Logger) *ExplorerService {
	if logger == nil {
		logger = logging.Global()
	}
	if lookupTTL <= 0 {
		lookupTTL = time.Minute
	}
	return &ExplorerService{
		backend:  backend,
		resolver: r,
		buckets: ttlcache.New(
			ttlcache.WithTTL[string, []string](lookupTTL),
			ttlcache.WithDisableTouchOnHit[string, []string](),
		),
		logger: logger.Component("explorer"),
		now:    time.Now,
	}
}

// NotConfigured is the error answered while credentials are missing.
func (s *ExplorerService) NotConfigured() *ServiceError {
	missing := s.backend.Missing()
	return NewServiceErrorWithDetails(CodeNotConfigured,
		"time-series backend not configured: set "+strings.Join(missing, ", "),
		map[string]interface{}{"missing": missing})
}

func (s *ExplorerService) ready() error {
	if !s.backend.Configured() {
		return s.NotConfigured()
	}
	return nil
}

// BucketList is the answer of Buckets.
type BucketList struct {
	Buckets []string `json:"buckets"`
	Source  string   `json:"source"`
}

// Buckets lists the backend buckets. On failure the fixed fallback list is
// returned together with the error.
func (s *ExplorerService) Buckets(ctx context.Context) (BucketList, error) {
	if err := s.ready(); err != nil {
		return BucketList{Buckets: FallbackBuckets, Source: models.SourceEnvError}, err
	}
	if item := s.buckets.Get(bucketsKey); item != nil {
		return BucketList{Buckets: item.Value(), Source: models.SourceCache}, nil
	}
	names, err := s.backend.Buckets(ctx)
	if err != nil {
		s.logger.Warn("Bucket listing failed, using fallback list", "error", err)
		return BucketList{Buckets: FallbackBuckets, Source: models.SourceFallback}, Classify(err)
	}
	s.buckets.Set(bucketsKey, names, ttlcache.DefaultTTL)
	return BucketList{Buckets: names, Source: models.SourceInfluxDB}, nil
}

// Catalogue returns the (cached) catalogue of a bucket.
func (s *ExplorerService) Catalogue(ctx context.Context, bucket string) (*metadata.Catalogue, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	cat, err := s.resolver.Catalogue(ctx, bucket)
	if err != nil {
		return nil, Classify(err)
	}
	return cat, nil
}

// InvalidateCatalogue drops the cached catalogue of bucket.
func (s *ExplorerService) InvalidateCatalogue(ctx context.Context, bucket string) error {
	if err := s.resolver.Invalidate(ctx, bucket); err != nil {
		return Classify(err)
	}
	s.logger.Info("Catalogue invalidated", "bucket", bucket)
	return nil
}

// Exploration is a raw sample of a bucket.
type Exploration struct {
	Measurements  []string `json:"measurements"`
	AvailableTags []string `json:"availableTags"`
	Headers       []string `json:"headers"`
	SampleData    string   `json:"sampleData"`
}

// Explore reads a few records of the last hour to show the bucket columns.
func (s *ExplorerService) Explore(ctx context.Context, bucket string) (Exploration, error) {
	out := Exploration{Measurements: []string{}, AvailableTags: []string{}, Headers: []string{}}
	if err := s.ready(); err != nil {
		return out, err
	}
	text, err := s.backend.QueryCSV(ctx, flux.Sample(bucket, "-1h", 5))
	if err != nil {
		return out, Classify(err)
	}
	out.SampleData = text
	res, err := tabular.Parse(text)
	if err != nil {
		return out, nil
	}
	out.Headers = res.Headers
	out.Measurements = res.Distinct(flux.KeyMeasurement)
	for _, h := range res.Headers {
		if h == "" || strings.HasPrefix(h, "_") || h == "result" || h == "table" {
			continue
		}
		out.AvailableTags = append(out.AvailableTags, h)
	}
	return out, nil
}

func (s *ExplorerService) lookup(res resolver.Result) (resolver.Result, error) {
	if res.Err != nil {
		return res, Classify(res.Err)
	}
	return res, nil
}

// Measurements lists the measurements of a bucket.
func (s *ExplorerService) Measurements(ctx context.Context, bucket string) (resolver.Result, error) {
	if err := s.ready(); err != nil {
		return resolver.Result{Values: []string{}}, err
	}
	return s.lookup(s.resolver.Measurements(ctx, bucket))
}

// TagKeys lists the tag keys of a bucket.
func (s *ExplorerService) TagKeys(ctx context.Context, bucket string) (resolver.Result, error) {
	if err := s.ready(); err != nil {
		return resolver.Result{Values: []string{}}, err
	}
	return s.lookup(s.resolver.TagKeys(ctx, bucket))
}

// TagValues lists the values of a tag with the strategy ladder.
func (s *ExplorerService) TagValues(ctx context.Context, req models.TagValuesRequest) (resolver.Result, error) {
	if err := s.ready(); err != nil {
		return resolver.Result{Values: resolver.FallbackTagValues(req.Tag), Source: models.SourceEnvError}, err
	}
	return s.lookup(s.resolver.TagValues(ctx, resolver.TagValuesRequest{
		Bucket: req.Bucket, Measurement: req.Measurement, Tag: req.Tag,
	}))
}

// FieldValues lists the recorded values of a field.
func (s *ExplorerService) FieldValues(ctx context.Context, req models.FieldValuesRequest) (resolver.Result, error) {
	if err := s.ready(); err != nil {
		return resolver.Result{Values: []string{}}, err
	}
	return s.lookup(s.resolver.FieldValues(ctx, resolver.FieldValuesRequest{
		Bucket: req.Bucket, Field: req.Field, TimeRange: req.TimeRange, MaxValues: req.MaxValues,
	}))
}

// UniversalValues lists every value of a dimension, widening the window.
func (s *ExplorerService) UniversalValues(ctx context.Context, req models.UniversalValuesRequest) (resolver.Result, error) {
	if err := s.ready(); err != nil {
		return resolver.Result{Values: []string{}}, err
	}
	return s.lookup(s.resolver.UniversalValues(ctx, resolver.UniversalRequest{
		Bucket: req.Bucket, Field: req.FieldName, TimeRange: req.TimeRange, MaxValues: req.MaxValues,
	}))
}

// DependentValues is the answer of FilterValues.
type DependentValues struct {
	resolver.Result
	// SelectedValues is the caller's selection pruned to the new candidates.
	// It is returned unchanged when the lookup failed.
	SelectedValues []string `json:"selectedValues"`
}

// FilterValues resolves the candidates of a filter given the filters
// before it, and prunes the caller's selection to them. A failed lookup
// leaves the selection as it was.
func (s *ExplorerService) FilterValues(ctx context.Context, req models.FilterValuesRequest) (DependentValues, error) {
	if err := s.ready(); err != nil {
		return DependentValues{Result: resolver.Result{Values: []string{}}, SelectedValues: []string{}}, err
	}

	upstream := make([]flux.Predicate, 0, len(req.UpstreamFilters))
	for _, f := range req.UpstreamFilters {
		upstream = append(upstream, f.Predicate())
	}

	var res resolver.Result
	if len(resolver.Upstream(upstream)) == 0 && req.TimeRange != "" && !flux.IsReserved(req.FilterKey) {
		res = s.resolver.UniversalValues(ctx, resolver.UniversalRequest{
			Bucket: req.Bucket, Field: req.FilterKey, TimeRange: req.TimeRange, MaxValues: req.MaxValues,
		})
	} else {
		res = s.resolver.Resolve(ctx, req.Bucket, req.FilterKey, upstream)
	}
	if req.MaxValues > 0 && len(res.Values) > req.MaxValues {
		res.Values = res.Values[:req.MaxValues]
	}

	out := DependentValues{Result: res, SelectedValues: req.SelectedValues}
	if res.Err == nil {
		out.SelectedValues = filterchain.Prune(req.SelectedValues, res.Values)
	}
	if out.SelectedValues == nil {
		out.SelectedValues = []string{}
	}
	if res.Err != nil {
		return out, Classify(res.Err)
	}
	return out, nil
}

// BuildResult is the answer of Build.
type BuildResult struct {
	Query      string `json:"query"`
	Executable bool   `json:"executable"`
}

// Build renders the query of a request. Without a bucket the placeholder is
// returned as a non-executable query.
func (s *ExplorerService) Build(req models.BuildRequest) (BuildResult, error) {
	fr, err := req.Flux()
	if err != nil {
		return BuildResult{}, Classify(err)
	}
	if err := fr.Validate(); err != nil && !errors.Is(err, flux.ErrNoBucket) {
		return BuildResult{}, Classify(err)
	}
	q := flux.Build(fr)
	return BuildResult{Query: q, Executable: !flux.IsPlaceholder(q)}, nil
}

// ExecuteResult is the answer of Execute.
type ExecuteResult struct {
	Data          string `json:"data"`
	Rows          int    `json:"rows"`
	Query         string `json:"query"`
	ExecutionTime string `json:"executionTime"`
}

// Execute runs a raw query. The no-bucket placeholder is refused.
func (s *ExplorerService) Execute(ctx context.Context, query string) (ExecuteResult, error) {
	if flux.IsPlaceholder(query) {
		return ExecuteResult{}, NewServiceError(CodeNoBucket, "select a bucket before running the query")
	}
	if err := s.ready(); err != nil {
		return ExecuteResult{}, err
	}

	start := s.now()
	text, err := s.backend.QueryCSV(ctx, query)
	if err != nil {
		return ExecuteResult{}, Classify(err)
	}
	elapsed := s.now().Sub(start)
	s.logger.Debug("Query executed", "duration_ms", elapsed.Milliseconds())
	return ExecuteResult{
		Data:          text,
		Rows:          tabular.CountRows(text),
		Query:         query,
		ExecutionTime: fmt.Sprintf("%dms", elapsed.Milliseconds()),
	}, nil
}

// ExportFile is a rendered export.
type ExportFile struct {
	Filename    string
	ContentType string
	Body        []byte
	Rows        int
	Columns     int
}

// Export builds and runs the query of req and renders the wide matrix.
func (s *ExplorerService) Export(ctx context.Context, req models.ExportRequest) (ExportFile, error) {
	format, err := export.ParseFormat(req.Format)
	if err != nil {
		return ExportFile{}, Classify(err)
	}
	fr, err := req.Flux()
	if err != nil {
		return ExportFile{}, Classify(err)
	}
	if err := fr.Validate(); err != nil {
		return ExportFile{}, Classify(err)
	}
	if err := s.ready(); err != nil {
		return ExportFile{}, err
	}

	text, err := s.backend.QueryCSV(ctx, flux.Build(fr))
	if err != nil {
		return ExportFile{}, Classify(err)
	}

	var rows []export.Row
	if res, perr := tabular.Parse(text); perr == nil {
		rows = export.RowsFromResult(res)
	}
	matrix := export.ToWideMatrix(rows)

	var buf bytes.Buffer
	if err := export.Write(&buf, matrix, format); err != nil {
		return ExportFile{}, NewServiceError(CodeInternal, "render export: "+err.Error())
	}

	selections := make([]export.Selection, 0, len(req.Filters))
	for _, f := range req.Filters {
		selections = append(selections, export.Selection{Key: f.Key, Values: f.Values})
	}
	s.logger.Info("Export rendered", "bucket", req.Bucket, "format", string(format), "rows", len(matrix.Rows))
	return ExportFile{
		Filename:    export.Filename(req.Bucket, selections, s.now(), format),
		ContentType: format.ContentType(),
		Body:        buf.Bytes(),
		Rows:        len(matrix.Rows),
		Columns:     len(matrix.Headers),
	}, nil
}
