package flux

import "fmt"

// Function is an entry of the aggregate function catalogue.
type Function struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	// Windowed functions go through aggregateWindow; the others are applied
	// as a transformation using the window period as their unit.
	Windowed bool `json:"windowed"`
}

func (f Function) stage(period string) string {
	switch f.Name {
	case "derivative":
		return fmt.Sprintf("  |> derivative(unit: %s, nonNegative: false)\n", period)
	case "nonnegative derivative":
		return fmt.Sprintf("  |> derivative(unit: %s, nonNegative: true)\n", period)
	case "increase":
		return fmt.Sprintf("  |> aggregateWindow(every: %s, fn: last, createEmpty: false)\n  |> increase()\n", period)
	default:
		return fmt.Sprintf("  |> aggregateWindow(every: %s, fn: %s, createEmpty: false)\n", period, f.Name)
	}
}

var functions = []Function{
	{Name: "mean", Description: "Average of the window", Windowed: true},
	{Name: "median", Description: "Median of the window", Windowed: true},
	{Name: "max", Description: "Largest value of the window", Windowed: true},
	{Name: "min", Description: "Smallest value of the window", Windowed: true},
	{Name: "sum", Description: "Sum of the window", Windowed: true},
	{Name: "count", Description: "Number of records in the window", Windowed: true},
	{Name: "first", Description: "First record of the window", Windowed: true},
	{Name: "last", Description: "Last record of the window", Windowed: true},
	{Name: "spread", Description: "Max minus min of the window", Windowed: true},
	{Name: "stddev", Description: "Standard deviation of the window", Windowed: true},
	{Name: "skew", Description: "Skew of the window", Windowed: true},
	{Name: "mode", Description: "Most frequent value of the window", Windowed: true},
	{Name: "derivative", Description: "Rate of change per window period"},
	{Name: "nonnegative derivative", Description: "Rate of change, negative steps dropped"},
	{Name: "increase", Description: "Cumulative increase of the last value per window"},
}

// Functions returns the catalogue in display order.
func Functions() []Function {
	out := make([]Function, len(functions))
	copy(out, functions)
	return out
}

// LookupFunction finds a catalogue entry by name.
func LookupFunction(name string) (Function, bool) {
	for _, f := range functions {
		if f.Name == name {
			return f, true
		}
	}
	return Function{}, false
}

// WindowPeriods are the periods offered for aggregation.
var WindowPeriods = []string{
	"5s", "10s", "15s", "1m", "5m", "15m", "1h", "6h", "12h", "24h", "2d", "7d", "30d",
}
