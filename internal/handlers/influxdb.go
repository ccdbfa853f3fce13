package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/pvmonitor/pvdash/internal/flux"
	"github.com/pvmonitor/pvdash/internal/models"
	"github.com/pvmonitor/pvdash/internal/resolver"
)

// BucketsResponse lists the buckets.
type BucketsResponse struct {
	models.Status
	Buckets []string `json:"buckets"`
}

// CatalogueResponse is the per-bucket catalogue.
type CatalogueResponse struct {
	models.Status
	Bucket       string   `json:"bucket"`
	Measurements []string `json:"measurements"`
	Fields       []string `json:"fields"`
	TagKeys      []string `json:"tagKeys"`
	SystemFields []string `json:"systemFields"`
	TagFields    []string `json:"tagFields"`
	FetchedAt    string   `json:"fetchedAt,omitempty"`
}

// ExploreResponse is a raw sample of a bucket.
type ExploreResponse struct {
	models.Status
	Measurements  []string `json:"measurements"`
	AvailableTags []string `json:"availableTags"`
	Headers       []string `json:"headers"`
	SampleData    string   `json:"sampleData"`
}

// ValuesResponse is a candidate value set.
type ValuesResponse struct {
	models.Status
	Values     []string `json:"values"`
	IsNumeric  bool     `json:"isNumeric"`
	TotalFound int      `json:"totalFound"`
}

// DependentValuesResponse adds the pruned selection to a value set.
type DependentValuesResponse struct {
	ValuesResponse
	SelectedValues []string `json:"selectedValues"`
}

// QueryResponse is a raw query result.
type QueryResponse struct {
	models.Status
	Data          string `json:"data"`
	Rows          int    `json:"rows"`
	ExecutionTime string `json:"executionTime"`
	Query         string `json:"query,omitempty"`
}

// BuildResponse is a rendered query.
type BuildResponse struct {
	models.Status
	Query      string `json:"query"`
	Executable bool   `json:"executable"`
}

// AggregationResponse lists the aggregate functions and window periods.
type AggregationResponse struct {
	models.Status
	Functions     []string        `json:"functions"`
	Details       []flux.Function `json:"details"`
	WindowPeriods []string        `json:"windowPeriods"`
}

func valuesResponse(res resolver.Result, err error) ValuesResponse {
	values := res.Values
	if values == nil {
		values = []string{}
	}
	return ValuesResponse{
		Status:     status(res.Source, err),
		Values:     values,
		IsNumeric:  res.IsNumeric,
		TotalFound: res.TotalFound,
	}
}

// Buckets handles GET /api/influxdb/buckets
func (h *Handler) Buckets(c *fiber.Ctx) error {
	list, err := h.explorer.Buckets(c.UserContext())
	return h.reply(c, err, BucketsResponse{
		Status:  status(list.Source, err),
		Buckets: list.Buckets,
	})
}

// Catalogue handles POST /api/influxdb/fast-filters
func (h *Handler) Catalogue(c *fiber.Ctx) error {
	var req models.BucketRequest
	if err := h.parseBody(c, &req); err != nil {
		return h.fail(c, err)
	}

	resp := CatalogueResponse{
		Bucket:       req.Bucket,
		Measurements: []string{},
		Fields:       []string{},
		TagKeys:      []string{},
		SystemFields: []string{},
		TagFields:    []string{},
	}
	cat, err := h.explorer.Catalogue(c.UserContext(), req.Bucket)
	if err != nil {
		resp.Status = status(models.SourceFallback, err)
		return h.reply(c, err, resp)
	}
	resp.Status = models.OK(cat.Source)
	resp.Measurements = orEmpty(cat.Measurements)
	resp.Fields = orEmpty(cat.Fields)
	resp.TagKeys = orEmpty(cat.TagKeys)
	resp.SystemFields = orEmpty(cat.SystemFields)
	resp.TagFields = orEmpty(cat.TagFields)
	if !cat.FetchedAt.IsZero() {
		resp.FetchedAt = cat.FetchedAt.UTC().Format(time.RFC3339)
	}
	return c.JSON(resp)
}

// InvalidateCatalogue handles DELETE /api/influxdb/catalogue/:bucket
func (h *Handler) InvalidateCatalogue(c *fiber.Ctx) error {
	if err := h.explorer.InvalidateCatalogue(c.UserContext(), c.Params("bucket")); err != nil {
		return h.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Explore handles POST /api/influxdb/explore
func (h *Handler) Explore(c *fiber.Ctx) error {
	var req models.BucketRequest
	if err := h.parseBody(c, &req); err != nil {
		return h.fail(c, err)
	}
	ex, err := h.explorer.Explore(c.UserContext(), req.Bucket)
	return h.reply(c, err, ExploreResponse{
		Status:        status(models.SourceInfluxDB, err),
		Measurements:  ex.Measurements,
		AvailableTags: ex.AvailableTags,
		Headers:       ex.Headers,
		SampleData:    ex.SampleData,
	})
}

// Measurements handles POST /api/influxdb/measurements
func (h *Handler) Measurements(c *fiber.Ctx) error {
	var req models.BucketRequest
	if err := h.parseBody(c, &req); err != nil {
		return h.fail(c, err)
	}
	res, err := h.explorer.Measurements(c.UserContext(), req.Bucket)
	return h.reply(c, err, valuesResponse(res, err))
}

// TagKeys handles POST /api/influxdb/tag-keys
func (h *Handler) TagKeys(c *fiber.Ctx) error {
	var req models.BucketRequest
	if err := h.parseBody(c, &req); err != nil {
		return h.fail(c, err)
	}
	res, err := h.explorer.TagKeys(c.UserContext(), req.Bucket)
	return h.reply(c, err, valuesResponse(res, err))
}

// TagValues handles POST /api/influxdb/tag-values
func (h *Handler) TagValues(c *fiber.Ctx) error {
	var req models.TagValuesRequest
	if err := h.parseBody(c, &req); err != nil {
		return h.fail(c, err)
	}
	res, err := h.explorer.TagValues(c.UserContext(), req)
	return h.reply(c, err, valuesResponse(res, err))
}

// FieldValues handles POST /api/influxdb/field-values
func (h *Handler) FieldValues(c *fiber.Ctx) error {
	var req models.FieldValuesRequest
	if err := h.parseBody(c, &req); err != nil {
		return h.fail(c, err)
	}
	res, err := h.explorer.FieldValues(c.UserContext(), req)
	return h.reply(c, err, valuesResponse(res, err))
}

// UniversalValues handles POST /api/influxdb/universal-values
func (h *Handler) UniversalValues(c *fiber.Ctx) error {
	var req models.UniversalValuesRequest
	if err := h.parseBody(c, &req); err != nil {
		return h.fail(c, err)
	}
	res, err := h.explorer.UniversalValues(c.UserContext(), req)
	return h.reply(c, err, valuesResponse(res, err))
}

// FilterValues handles POST /api/influxdb/filter-values
func (h *Handler) FilterValues(c *fiber.Ctx) error {
	var req models.FilterValuesRequest
	if err := h.parseBody(c, &req); err != nil {
		return h.fail(c, err)
	}
	res, err := h.explorer.FilterValues(c.UserContext(), req)
	return h.reply(c, err, DependentValuesResponse{
		ValuesResponse: valuesResponse(res.Result, err),
		SelectedValues: orEmpty(res.SelectedValues),
	})
}

// Query handles POST /api/influxdb/query
func (h *Handler) Query(c *fiber.Ctx) error {
	var req models.QueryRequest
	if err := h.parseBody(c, &req); err != nil {
		return h.fail(c, err)
	}
	res, err := h.explorer.Execute(c.UserContext(), req.Query)
	return h.reply(c, err, QueryResponse{
		Status:        status(models.SourceInfluxDB, err),
		Data:          res.Data,
		Rows:          res.Rows,
		ExecutionTime: res.ExecutionTime,
		Query:         res.Query,
	})
}

// Build handles POST /api/influxdb/build
func (h *Handler) Build(c *fiber.Ctx) error {
	var req models.BuildRequest
	if err := h.parseBody(c, &req); err != nil {
		return h.fail(c, err)
	}
	res, err := h.explorer.Build(req)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(BuildResponse{Status: models.OK(""), Query: res.Query, Executable: res.Executable})
}

// AggregationFunctions handles GET /api/influxdb/aggregation-functions
func (h *Handler) AggregationFunctions(c *fiber.Ctx) error {
	details := flux.Functions()
	names := make([]string, 0, len(details)+1)
	names = append(names, flux.FuncNone)
	for _, f := range details {
		names = append(names, f.Name)
	}
	return c.JSON(AggregationResponse{
		Status:        models.OK(""),
		Functions:     names,
		Details:       details,
		WindowPeriods: append([]string{flux.WindowAuto}, flux.WindowPeriods...),
	})
}

func orEmpty(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
