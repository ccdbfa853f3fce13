package alerting

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/pvmonitor/pvdash/internal/flux"
	"github.com/pvmonitor/pvdash/internal/influx"
	"github.com/pvmonitor/pvdash/internal/logging"
	"github.com/pvmonitor/pvdash/internal/tabular"
)

// StaleAfter is the data age that raises a communication alarm.
const StaleAfter = 2 * time.Hour

// NoGenerationMax is the power, in kW, at or below which a plant in daylight
// is considered not generating.
const NoGenerationMax = 10.0

// ReadingFields are the fields read for threshold alarms.
var ReadingFields = []string{"P", "AvEle", "DispoElec", "DispoMec", "RadPOA01"}

// meterIDs restrict the power field to the plant meters.
var meterIDs = []string{"66KV", "CONTADOR01"}

// Thresholds are the alarm limits of one plant. Power is in kW, availability
// in percent and irradiance in W/m².
type Thresholds struct {
	PowerMin           float64
	PowerMax           float64
	AvailabilityMin    float64
	IrradianceMin      float64
	MecAvailabilityMin float64
	// CheckMechanical enables the mechanical availability alarm.
	CheckMechanical bool
}

// DefaultThresholds are the limits per plant.
var DefaultThresholds = map[string]Thresholds{
	"LAMAJA": {PowerMin: 1000, PowerMax: 5000, AvailabilityMin: 85, IrradianceMin: 100},
	"RETAMAR": {
		PowerMin: 800, PowerMax: 4000, AvailabilityMin: 85, IrradianceMin: 100,
		MecAvailabilityMin: 80, CheckMechanical: true,
	},
}

// Reading is the latest value of each alarm field of a plant.
type Reading struct {
	Plant  string
	Time   time.Time
	Values map[string]float64
}

func (r Reading) value(fields ...string) (float64, bool) {
	for _, f := range fields {
		if v, ok := r.Values[f]; ok && v != 0 {
			return v, true
		}
	}
	return 0, false
}

// Evaluate applies th to a reading. Stale data yields only the communication
// alarm; the operational checks run on fresh data.
func Evaluate(r Reading, th Thresholds, now time.Time) []Alarm {
	ts := now.UTC().Format(time.RFC3339)
	alarm := func(suffix, severity, kind, message string, value, threshold float64) Alarm {
		return Alarm{
			ID:        r.Plant + "_" + suffix,
			Plant:     r.Plant,
			Severity:  severity,
			Type:      kind,
			Message:   message,
			Timestamp: ts,
			Value:     float(math.Round(value)),
			Threshold: float(threshold),
		}
	}

	if r.Time.IsZero() {
		return []Alarm{{
			ID:        r.Plant + "_DATA_OLD",
			Plant:     r.Plant,
			Severity:  SeverityCritical,
			Type:      "communication",
			Message:   "Sin datos en el periodo consultado",
			Timestamp: ts,
			Threshold: float(StaleAfter.Hours()),
		}}
	}
	if age := now.Sub(r.Time); age > StaleAfter {
		hours := age.Hours()
		return []Alarm{alarm("DATA_OLD", SeverityCritical, "communication",
			fmt.Sprintf("Sin datos desde hace %.0f horas", math.Round(hours)), hours, StaleAfter.Hours())}
	}

	power, _ := r.value("P")
	avEle, _ := r.value("AvEle", "DispoElec")
	irradiance, _ := r.value("RadPOA01")
	daytime := irradiance > th.IrradianceMin

	var alarms []Alarm
	if daytime && power < th.PowerMin {
		alarms = append(alarms, alarm("POWER_LOW", SeverityWarning, "performance",
			fmt.Sprintf("Potencia baja: %.1f MW", power/1000), power, th.PowerMin))
	}
	if power > th.PowerMax {
		alarms = append(alarms, alarm("POWER_HIGH", SeverityCritical, "safety",
			fmt.Sprintf("Potencia excesiva: %.1f MW", power/1000), power, th.PowerMax))
	}
	if avEle < th.AvailabilityMin {
		alarms = append(alarms, alarm("AVAIL_ELEC_LOW", SeverityWarning, "availability",
			fmt.Sprintf("Disponibilidad eléctrica baja: %.1f%%", avEle), avEle, th.AvailabilityMin))
	}
	if th.CheckMechanical {
		if avMec, ok := r.value("DispoMec"); ok && avMec < th.MecAvailabilityMin {
			alarms = append(alarms, alarm("AVAIL_MEC_LOW", SeverityWarning, "mechanical",
				fmt.Sprintf("Disponibilidad mecánica baja: %.1f%%", avMec), avMec, th.MecAvailabilityMin))
		}
	}
	if daytime && power <= NoGenerationMax {
		alarms = append(alarms, alarm("NO_GENERATION", SeverityCritical, "generation",
			"Sin generación durante el día", power, NoGenerationMax))
	}
	return alarms
}

// ReadingsQuery reads the last hour of the alarm fields of plants.
func ReadingsQuery(bucket string, plants []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "from(bucket: %s)\n", flux.StringLiteral(bucket))
	b.WriteString("  |> range(start: -1h)\n")
	fmt.Fprintf(&b, "  |> filter(fn: (r) => %s)\n", flux.OrExpr("PVO_Plant", plants))
	fmt.Fprintf(&b, "  |> filter(fn: (r) => %s)\n", flux.OrExpr(flux.KeyField, ReadingFields))
	fmt.Fprintf(&b, "  |> filter(fn: (r) => r[\"_field\"] != \"P\" or %s)\n", flux.OrExpr("PVO_id", meterIDs))
	b.WriteString("  |> last()\n")
	b.WriteString("  |> keep(columns: [\"_time\", \"_value\", \"_field\", \"PVO_Plant\"])")
	return b.String()
}

// ParseReadings keeps the newest value per field and plant. The reading time
// is the newest record of the plant.
func ParseReadings(res *tabular.Result) map[string]Reading {
	type stamped struct {
		at    time.Time
		value float64
	}
	latest := make(map[string]map[string]stamped)
	for _, row := range res.Rows {
		plant := row.Get("PVO_Plant")
		field := row.Get(flux.KeyField)
		v, ok := row.Float(flux.KeyValue)
		if plant == "" || field == "" || !ok {
			continue
		}
		at, err := time.Parse(time.RFC3339Nano, row.Get(flux.KeyTime))
		if err != nil {
			continue
		}
		if latest[plant] == nil {
			latest[plant] = make(map[string]stamped)
		}
		if cur, seen := latest[plant][field]; !seen || at.After(cur.at) {
			latest[plant][field] = stamped{at: at, value: v}
		}
	}

	readings := make(map[string]Reading, len(latest))
	for plant, fields := range latest {
		r := Reading{Plant: plant, Values: make(map[string]float64, len(fields))}
		for f, s := range fields {
			r.Values[f] = s.value
			if s.at.After(r.Time) {
				r.Time = s.at
			}
		}
		readings[plant] = r
	}
	return readings
}

// Monitor evaluates threshold alarms against the latest plant readings.
type Monitor struct {
	querier    influx.Querier
	bucket     string
	thresholds map[string]Thresholds
	logger     *logging.Logger
	now        func() time.Time
}

// NewMonitor creates a monitor over bucket using DefaultThresholds.
func NewMonitor(querier influx.Querier, bucket string, logger *logging.Logger) *Monitor {
	if logger == nil {
		logger = logging.Global()
	}
	return &Monitor{
		querier:    querier,
		bucket:     bucket,
		thresholds: DefaultThresholds,
		logger:     logger.Component("thresholds"),
		now:        time.Now,
	}
}

// Report reads the plants and evaluates their thresholds. A plant with no
// record in the window raises a communication alarm.
func (m *Monitor) Report(ctx context.Context) (Report, error) {
	plants := make([]string, 0, len(Plants))
	for _, p := range Plants {
		if _, ok := m.thresholds[p]; ok {
			plants = append(plants, p)
		}
	}

	text, err := m.querier.QueryCSV(ctx, ReadingsQuery(m.bucket, plants))
	if err != nil {
		return NewReport(nil), fmt.Errorf("threshold readings: %w", err)
	}

	readings := map[string]Reading{}
	if res, err := tabular.Parse(text); err == nil {
		readings = ParseReadings(res)
	} else {
		m.logger.Warn("Empty threshold readings", "error", err)
	}

	now := m.now()
	var alarms []Alarm
	for _, p := range plants {
		r, ok := readings[p]
		if !ok {
			r = Reading{Plant: p}
		}
		alarms = append(alarms, Evaluate(r, m.thresholds[p], now)...)
	}
	return NewReport(alarms), nil
}
