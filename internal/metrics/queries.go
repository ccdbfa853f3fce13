package metrics

import (
	"fmt"
	"strings"
	"time"

	"github.com/pvmonitor/pvdash/internal/flux"
)

// SeriesQuery reads the windowed values of def for one plant. Scaling and
// accumulation happen after parsing.
func SeriesQuery(def Definition, bucket, plant string, rng flux.TimeRange) string {
	start, stop := rng.Bounds()

	var b strings.Builder
	fmt.Fprintf(&b, "from(bucket: %s)\n", flux.StringLiteral(bucket))
	fmt.Fprintf(&b, "  |> range(start: %s, stop: %s)\n", start, stop)
	fmt.Fprintf(&b, "  |> filter(fn: (r) => %s)\n", flux.OrExpr(PlantTag, []string{plant}))
	for _, m := range def.Match {
		fmt.Fprintf(&b, "  |> filter(fn: (r) => %s)\n", flux.OrExpr(m.Key, m.Values))
	}
	fmt.Fprintf(&b, "  |> filter(fn: (r) => %s)\n", flux.OrExpr(flux.KeyField, []string{def.Field}))
	fmt.Fprintf(&b, "  |> aggregateWindow(every: %s, fn: %s, createEmpty: false)\n", def.Window, def.Fn)
	b.WriteString("  |> keep(columns: [\"_time\", \"_value\"])")
	return b.String()
}

// PlantDiscoveryQuery lists the plants that reported meter power in the last week.
func PlantDiscoveryQuery(bucket string) string {
	power := definitions[Power]

	var b strings.Builder
	fmt.Fprintf(&b, "from(bucket: %s)\n", flux.StringLiteral(bucket))
	b.WriteString("  |> range(start: -7d)\n")
	fmt.Fprintf(&b, "  |> filter(fn: (r) => %s)\n", flux.OrExpr(flux.KeyField, []string{power.Field}))
	for _, m := range power.Match {
		fmt.Fprintf(&b, "  |> filter(fn: (r) => %s)\n", flux.OrExpr(m.Key, m.Values))
	}
	fmt.Fprintf(&b, "  |> group(columns: [%s])\n", flux.StringLiteral(PlantTag))
	fmt.Fprintf(&b, "  |> distinct(column: %s)\n", flux.StringLiteral(PlantTag))
	b.WriteString("  |> keep(columns: [\"_value\"])")
	return b.String()
}

// DailyEnergyQuery reads the daily energy of plant between start and stop.
// Records are stamped at the end of their day, so they are moved back one hour.
func DailyEnergyQuery(bucket, plant string, start, stop time.Time) string {
	var b strings.Builder
	b.WriteString("import \"experimental\"\n\n")
	fmt.Fprintf(&b, "from(bucket: %s)\n", flux.StringLiteral(bucket))
	fmt.Fprintf(&b, "  |> range(start: %s, stop: %s)\n", flux.TimeLiteral(start), flux.TimeLiteral(stop))
	fmt.Fprintf(&b, "  |> filter(fn: (r) => %s)\n", flux.OrExpr(PlantTag, []string{plant}))
	fmt.Fprintf(&b, "  |> filter(fn: (r) => %s)\n", flux.OrExpr("type", []string{"calculado"}))
	fmt.Fprintf(&b, "  |> filter(fn: (r) => %s)\n", flux.OrExpr(flux.KeyField, []string{DailyEnergyField}))
	b.WriteString("  |> map(fn: (r) => ({r with _time: experimental.addDuration(d: -1h, to: r._time)}))\n")
	b.WriteString("  |> sort(columns: [\"_time\"])")
	return b.String()
}

// StationsQuery pivots the latest value of every field of the map bucket.
func StationsQuery(bucket string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "from(bucket: %s)\n", flux.StringLiteral(bucket))
	b.WriteString("  |> range(start: -24h)\n")
	fmt.Fprintf(&b, "  |> filter(fn: (r) => %s)\n", flux.OrExpr(flux.KeyMeasurement, []string{StationMeasurement}))
	b.WriteString("  |> last()\n")
	b.WriteString("  |> pivot(rowKey: [\"_time\"], columnKey: [\"_field\"], valueColumn: \"_value\")\n")
	b.WriteString("  |> keep(columns: [\"_time\", \"AvEle\", \"AvMec\", \"Irrad\", \"P\", \"Q\", \"latitude\", \"longitude\", \"Plant\", \"host\", \"name\"])\n")
	b.WriteString("  |> group()")
	return b.String()
}
