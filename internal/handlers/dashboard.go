package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/pvmonitor/pvdash/internal/alerting"
	"github.com/pvmonitor/pvdash/internal/metrics"
	"github.com/pvmonitor/pvdash/internal/models"
)

// TimeseriesResponse is one metric series.
type TimeseriesResponse struct {
	models.Status
	Metric         string          `json:"metric"`
	Plant          string          `json:"plant"`
	Unit           string          `json:"unit"`
	Data           []metrics.Point `json:"data"`
	DataPoints     int             `json:"dataPoints"`
	OriginalPoints int             `json:"originalPoints"`
	Downsampling   string          `json:"downsampling,omitempty"`
	Failed         []string        `json:"failed,omitempty"`
	NoSource       bool            `json:"noSource,omitempty"`
	// Reason says why a NoSource series is empty.
	Reason string `json:"reason,omitempty"`
}

// PlantsResponse is the plant snapshot.
type PlantsResponse struct {
	models.Status
	Plants      []metrics.PlantAggregate `json:"plants"`
	Totals      metrics.SystemTotals     `json:"totals"`
	Failed      []string                 `json:"failed,omitempty"`
	PlantSource string                   `json:"plantSource,omitempty"`
	Timestamp   string                   `json:"timestamp"`
}

// MapResponse lists the map stations.
type MapResponse struct {
	models.Status
	Stations []metrics.Station   `json:"stations"`
	Stats    metrics.StationStats `json:"stats"`
}

// MonthlyResponse is the daily production of a plant.
type MonthlyResponse struct {
	models.Status
	Plant string                  `json:"plant"`
	Start string                  `json:"start,omitempty"`
	End   string                  `json:"end,omitempty"`
	Data  []metrics.DailyPoint    `json:"data"`
	Stats metrics.ProductionStats `json:"stats"`
}

// AlarmsResponse is an alarm report.
type AlarmsResponse struct {
	models.Status
	Alarms      []alerting.Alarm            `json:"alarms"`
	PlantAlarms map[string][]alerting.Alarm `json:"plantAlarms"`
	Summary     alerting.Summary            `json:"summary"`
	Timestamp   string                      `json:"timestamp"`
}

func alarmsResponse(st models.Status, r alerting.Report) AlarmsResponse {
	if r.Alarms == nil {
		r = alerting.NewReport(nil)
	}
	return AlarmsResponse{
		Status:      st,
		Alarms:      r.Alarms,
		PlantAlarms: r.PlantAlarms,
		Summary:     r.Summary,
		Timestamp:   now(),
	}
}

// Timeseries handles GET /api/timeseries-data
func (h *Handler) Timeseries(c *fiber.Ctx) error {
	var req models.TimeseriesRequest
	if err := h.parseQuery(c, &req); err != nil {
		return h.fail(c, err)
	}

	ts, err := h.dashboard.Timeseries(c.UserContext(), req)
	source := models.SourceInfluxDB
	if ts.NoSource || (err != nil && len(ts.Points) == 0) {
		source = models.SourceFallback
	}
	data := ts.Points
	if data == nil {
		data = []metrics.Point{}
	}
	var reason string
	if absent := ts.Absence(); absent != nil {
		reason = absent.Error()
	}
	metric := string(ts.Metric)
	if metric == "" {
		metric = req.Metric
	}
	plant := ts.Plant
	if plant == "" {
		plant = req.Plant
	}
	return h.reply(c, err, TimeseriesResponse{
		Status:         status(source, err),
		Metric:         metric,
		Plant:          plant,
		Unit:           ts.Unit,
		Data:           data,
		DataPoints:     len(data),
		OriginalPoints: ts.OriginalPoints,
		Downsampling:   ts.Downsampling,
		Failed:         ts.Failed,
		NoSource:       ts.NoSource,
		Reason:         reason,
	})
}

// PlantsData handles GET /api/plants-data
func (h *Handler) PlantsData(c *fiber.Ctx) error {
	var req models.PlantsRequest
	if err := h.parseQuery(c, &req); err != nil {
		return h.fail(c, err)
	}

	snap, err := h.dashboard.PlantsData(c.UserContext(), req.Hours)
	source := models.SourceInfluxDB
	if err != nil {
		source = models.SourceFallback
	}
	plants := snap.Plants
	if plants == nil {
		plants = []metrics.PlantAggregate{}
	}
	return h.reply(c, err, PlantsResponse{
		Status:      status(source, err),
		Plants:      plants,
		Totals:      snap.Totals,
		Failed:      snap.Failed,
		PlantSource: snap.PlantSource,
		Timestamp:   now(),
	})
}

// MapData handles GET /api/map-data
func (h *Handler) MapData(c *fiber.Ctx) error {
	data, err := h.dashboard.MapData(c.UserContext())
	source := models.SourceInfluxDB
	if err != nil {
		source = models.SourceFallback
	}
	return h.reply(c, err, MapResponse{
		Status:   status(source, err),
		Stations: data.Stations,
		Stats:    data.Stats,
	})
}

// MonthlyProduction handles GET /api/monthly-production-data
func (h *Handler) MonthlyProduction(c *fiber.Ctx) error {
	var req models.MonthlyRequest
	if err := h.parseQuery(c, &req); err != nil {
		return h.fail(c, err)
	}

	prod, err := h.dashboard.Monthly(c.UserContext(), req)
	resp := MonthlyResponse{
		Status: status(models.SourceInfluxDB, err),
		Plant:  req.Plant,
		Data:   prod.Data,
		Stats:  prod.Stats,
	}
	if resp.Data == nil {
		resp.Data = []metrics.DailyPoint{}
	}
	if !prod.Start.IsZero() {
		resp.Start = prod.Start.Format("2006-01-02")
		resp.End = prod.End.AddDate(0, 0, -1).Format("2006-01-02")
	}
	return h.reply(c, err, resp)
}

// Alarms handles GET /api/alarms-data
func (h *Handler) Alarms(c *fiber.Ctx) error {
	report, err := h.dashboard.Alarms(c.UserContext())
	return h.reply(c, err, alarmsResponse(status(models.SourceInfluxDB, err), report))
}

// GrafanaAlarms handles GET /api/grafana-alarms
func (h *Handler) GrafanaAlarms(c *fiber.Ctx) error {
	report, err := h.dashboard.GrafanaAlarms(c.UserContext())
	source := models.SourceGrafana
	if err != nil {
		source = models.SourceFallback
	}
	return h.reply(c, err, alarmsResponse(status(source, err), report))
}
