package models

import (
	"time"

	"github.com/pvmonitor/pvdash/internal/flux"
)

// FilterInput is one filter of a build, export or dependent-values request.
type FilterInput struct {
	Key       string     `json:"key" validate:"required,max=128"`
	Values    []string   `json:"values,omitempty" validate:"omitempty,dive,max=256"`
	TimeStart *time.Time `json:"timeStart,omitempty"`
	TimeEnd   *time.Time `json:"timeEnd,omitempty"`
	ValueMin  *float64   `json:"valueMin,omitempty"`
	ValueMax  *float64   `json:"valueMax,omitempty"`
}

// Flux converts the input into a builder filter.
func (f FilterInput) Flux() flux.Filter {
	return flux.Filter{
		Key:       f.Key,
		Values:    f.Values,
		TimeStart: f.TimeStart,
		TimeEnd:   f.TimeEnd,
		ValueMin:  f.ValueMin,
		ValueMax:  f.ValueMax,
	}
}

// Predicate converts the input into an upstream constraint.
func (f FilterInput) Predicate() flux.Predicate {
	return flux.Predicate{Key: f.Key, Values: f.Values}
}

// TimeRangeInput is either a relative range (start/stop) or a calendar
// selection (dates with HH:MM bounds). Dates win when both are set.
type TimeRangeInput struct {
	Start     string   `json:"start,omitempty" validate:"omitempty,max=64"`
	Stop      string   `json:"stop,omitempty" validate:"omitempty,max=64"`
	Dates     []string `json:"dates,omitempty" validate:"omitempty,max=2,dive,datetime=2006-01-02"`
	StartTime string   `json:"startTime,omitempty" validate:"omitempty,datetime=15:04"`
	EndTime   string   `json:"endTime,omitempty" validate:"omitempty,datetime=15:04"`
}

// Range converts the input into a query range.
func (t TimeRangeInput) Range() (flux.TimeRange, error) {
	if len(t.Dates) > 0 {
		return flux.CalendarSelection{Dates: t.Dates, StartTime: t.StartTime, EndTime: t.EndTime}.Range()
	}
	rng := flux.TimeRange{Start: t.Start, Stop: t.Stop}
	if err := rng.Validate(); err != nil {
		return flux.TimeRange{}, err
	}
	return rng, nil
}

// BuildRequest is the body of POST /api/influxdb/build.
type BuildRequest struct {
	Bucket            string         `json:"bucket" validate:"max=256"`
	Filters           []FilterInput  `json:"filters" validate:"omitempty,max=32,dive"`
	TimeRange         TimeRangeInput `json:"timeRange"`
	WindowPeriod      string         `json:"windowPeriod,omitempty" validate:"omitempty,max=16"`
	AggregateFunction string         `json:"aggregateFunction,omitempty" validate:"omitempty,max=32"`
}

// Flux converts the request into a builder request.
func (b BuildRequest) Flux() (flux.Request, error) {
	rng, err := b.TimeRange.Range()
	if err != nil {
		return flux.Request{}, err
	}
	req := flux.Request{
		Bucket:            b.Bucket,
		Range:             rng,
		WindowPeriod:      b.WindowPeriod,
		AggregateFunction: b.AggregateFunction,
		Filters:           make([]flux.Filter, 0, len(b.Filters)),
	}
	for _, f := range b.Filters {
		req.Filters = append(req.Filters, f.Flux())
	}
	return req, nil
}

// ExportRequest is the body of POST /api/export.
type ExportRequest struct {
	BuildRequest
	Format string `json:"format,omitempty" validate:"omitempty,oneof=csv csv-eu json"`
}

// QueryRequest is the body of POST /api/influxdb/query.
type QueryRequest struct {
	Query string `json:"query" validate:"required,max=65536"`
}

// BucketRequest carries only a bucket.
type BucketRequest struct {
	Bucket string `json:"bucket" validate:"required,max=256"`
}

// TagValuesRequest is the body of POST /api/influxdb/tag-values.
type TagValuesRequest struct {
	Bucket      string `json:"bucket" validate:"required,max=256"`
	Measurement string `json:"measurement,omitempty" validate:"omitempty,max=256"`
	Tag         string `json:"tag" validate:"required,max=128"`
}

// FieldValuesRequest is the body of POST /api/influxdb/field-values.
type FieldValuesRequest struct {
	Bucket    string `json:"bucket" validate:"required,max=256"`
	Field     string `json:"field" validate:"required,max=128"`
	TimeRange string `json:"timeRange,omitempty" validate:"omitempty,fluxduration"`
	MaxValues int    `json:"maxValues,omitempty" validate:"omitempty,min=1,max=10000"`
}

// UniversalValuesRequest is the body of POST /api/influxdb/universal-values.
type UniversalValuesRequest struct {
	Bucket    string `json:"bucket" validate:"required,max=256"`
	FieldName string `json:"fieldName" validate:"required,max=128"`
	TimeRange string `json:"timeRange,omitempty" validate:"omitempty,fluxduration"`
	MaxValues int    `json:"maxValues,omitempty" validate:"omitempty,min=1,max=10000"`
}

// FilterValuesRequest is the body of POST /api/influxdb/filter-values.
type FilterValuesRequest struct {
	Bucket          string        `json:"bucket" validate:"required,max=256"`
	FilterKey       string        `json:"filterKey" validate:"required,max=128"`
	UpstreamFilters []FilterInput `json:"upstreamFilters,omitempty" validate:"omitempty,max=32,dive"`
	TimeRange       string        `json:"timeRange,omitempty" validate:"omitempty,fluxduration"`
	MaxValues       int           `json:"maxValues,omitempty" validate:"omitempty,min=1,max=10000"`
	SelectedValues  []string      `json:"selectedValues,omitempty"`
}

// TimeseriesRequest is the query string of GET /api/timeseries-data.
type TimeseriesRequest struct {
	Metric     string `query:"metric" validate:"required"`
	Plant      string `query:"plant"`
	Hours      int    `query:"hours" validate:"omitempty,min=1,max=744"`
	Downsample string `query:"downsample" validate:"omitempty,oneof=none auto lttb minmax avg m4"`
	Points     int    `query:"points" validate:"omitempty,min=10,max=10000"`
}

// PlantsRequest is the query string of GET /api/plants-data.
type PlantsRequest struct {
	Hours int `query:"hours" validate:"omitempty,min=1,max=744"`
}

// MonthlyRequest is the query string of GET /api/monthly-production-data.
type MonthlyRequest struct {
	Plant string `query:"plant" validate:"required"`
	Start string `query:"start" validate:"omitempty,datetime=2006-01-02"`
	End   string `query:"end" validate:"omitempty,datetime=2006-01-02"`
}

// CreateSessionRequest opens a filter session.
type CreateSessionRequest struct {
	Bucket string `json:"bucket" validate:"max=256"`
}

// UpdateKeyRequest sets the key of a session filter.
type UpdateKeyRequest struct {
	Key string `json:"key" validate:"max=128"`
}

// SetValuesRequest replaces the selection of a session filter.
type SetValuesRequest struct {
	Values []string `json:"values"`
}

// ToggleValueRequest adds or removes one value of a session filter.
type ToggleValueRequest struct {
	Value    string `json:"value" validate:"required"`
	Included bool   `json:"included"`
}

// SessionQueryRequest is the query string of GET /api/filters/sessions/:id/query.
type SessionQueryRequest struct {
	Start             string `query:"start"`
	Stop              string `query:"stop"`
	WindowPeriod      string `query:"windowPeriod"`
	AggregateFunction string `query:"aggregateFunction"`
}

// SetBucketRequest moves a session to another bucket.
type SetBucketRequest struct {
	Bucket string `json:"bucket" validate:"required,max=256"`
}

// RangeRequest bounds a time or value filter of a session. Nil bounds are open.
type RangeRequest struct {
	ValueMin  *float64   `json:"valueMin,omitempty"`
	ValueMax  *float64   `json:"valueMax,omitempty"`
	TimeStart *time.Time `json:"timeStart,omitempty"`
	TimeEnd   *time.Time `json:"timeEnd,omitempty"`
}
