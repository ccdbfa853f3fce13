// Package flux builds the query text sent to the time-series backend.
//
// Builders only produce strings; they never talk to the backend. Every value
// interpolated into a query goes through StringLiteral so that user supplied
// tag values cannot break out of their string literal.
package flux

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Placeholder is returned by Build when no bucket is selected. It is a Flux
// comment, so callers must detect it with IsPlaceholder and refuse to run it.
const Placeholder = "// Select a bucket to start building your query"

// Reserved keys and fixed business predicates.
const (
	KeyTime        = "_time"
	KeyValue       = "_value"
	KeyField       = "_field"
	KeyMeasurement = "_measurement"

	// RecordTypeColumn/RecordTypeRaw restrict exports to raw register records.
	RecordTypeColumn = "type"
	RecordTypeRaw    = "holding_register"

	WindowAuto = "auto"
	FuncNone   = "none"

	DefaultStart = "-30m"
	DefaultStop  = "now()"

	ResultYield   = "result"
	DistinctYield = "distinct_values"
)

var (
	// ErrNoBucket marks a request that cannot be built into an executable query.
	ErrNoBucket = errors.New("flux: no bucket selected")
	// ErrInvalidWindow is returned for a window period that is not a Flux duration.
	ErrInvalidWindow = errors.New("flux: invalid window period")
	// ErrUnknownFunction is returned for an aggregate function outside the catalogue.
	ErrUnknownFunction = errors.New("flux: unknown aggregate function")
	// ErrInvalidRange is returned for unparseable calendar input.
	ErrInvalidRange = errors.New("flux: invalid time range")
)

var (
	identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
	durationPattern   = regexp.MustCompile(`^-?(\d+(ns|us|µs|ms|s|m|h|d|w|mo|y))+$`)
)

// IsReserved reports whether key is the time or value pseudo-dimension. Those
// never carry a value set and never need an async lookup.
func IsReserved(key string) bool {
	return key == KeyTime || key == KeyValue
}

// IsPlaceholder reports whether q is the "no bucket" placeholder or otherwise empty.
func IsPlaceholder(q string) bool {
	q = strings.TrimSpace(q)
	return q == "" || strings.HasPrefix(q, Placeholder)
}

// Filter is one link of a filter chain as the builder sees it.
type Filter struct {
	Key    string
	Values []string

	// Used only when Key is KeyTime.
	TimeStart *time.Time
	TimeEnd   *time.Time

	// Used only when Key is KeyValue.
	ValueMin *float64
	ValueMax *float64
}

// Predicate is an upstream equality or membership constraint.
type Predicate struct {
	Key    string
	Values []string
}

// Request is everything Build needs.
type Request struct {
	Bucket            string
	Filters           []Filter
	Range             TimeRange
	WindowPeriod      string
	AggregateFunction string
}

// Windowed reports whether an aggregation stage will be emitted.
func (r Request) Windowed() bool {
	return r.WindowPeriod != "" && r.WindowPeriod != WindowAuto &&
		r.AggregateFunction != "" && r.AggregateFunction != FuncNone
}

// Validate checks the parts Build interpolates verbatim.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Bucket) == "" {
		return ErrNoBucket
	}
	if err := r.Range.Validate(); err != nil {
		return err
	}
	if !r.Windowed() {
		return nil
	}
	if !IsDuration(r.WindowPeriod) {
		return fmt.Errorf("%w: %q", ErrInvalidWindow, r.WindowPeriod)
	}
	if _, ok := LookupFunction(r.AggregateFunction); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownFunction, r.AggregateFunction)
	}
	return nil
}

// IsDuration reports whether s is a Flux duration literal such as 5m or -1h30m.
func IsDuration(s string) bool {
	return durationPattern.MatchString(s)
}

// Build renders req as a query. Stage order: bucket, range, record-type
// predicate, per-filter predicates in chain order, time bound, value bounds,
// optional window aggregation, yield.
func Build(req Request) string {
	if strings.TrimSpace(req.Bucket) == "" {
		return Placeholder
	}

	var b strings.Builder
	start, stop := req.Range.Bounds()

	fmt.Fprintf(&b, "from(bucket: %s)\n", StringLiteral(req.Bucket))
	fmt.Fprintf(&b, "  |> range(start: %s, stop: %s)\n", start, stop)
	fmt.Fprintf(&b, "  |> filter(fn: (r) => %s)\n", RecordTypePredicate())

	var timeFilter, valueFilter *Filter
	for i := range req.Filters {
		f := &req.Filters[i]
		switch {
		case f.Key == "":
		case f.Key == KeyTime:
			timeFilter = f
		case f.Key == KeyValue:
			valueFilter = f
		case len(f.Values) > 0:
			fmt.Fprintf(&b, "  |> filter(fn: (r) => %s)\n", PredicateExpr(f.Key, f.Values))
		}
	}

	if timeFilter != nil {
		if expr := timeBoundExpr(timeFilter); expr != "" {
			fmt.Fprintf(&b, "  |> filter(fn: (r) => %s)\n", expr)
		}
	}
	if valueFilter != nil {
		if expr := valueBoundExpr(valueFilter); expr != "" {
			fmt.Fprintf(&b, "  |> filter(fn: (r) => %s)\n", expr)
		}
	}

	if req.Windowed() {
		fn, ok := LookupFunction(req.AggregateFunction)
		if ok {
			b.WriteString(fn.stage(req.WindowPeriod))
		}
	}

	fmt.Fprintf(&b, "  |> yield(name: %s)", StringLiteral(ResultYield))
	return b.String()
}

// RecordTypePredicate is the mandatory raw-register restriction.
func RecordTypePredicate() string {
	return fmt.Sprintf("r.%s == %s", RecordTypeColumn, StringLiteral(RecordTypeRaw))
}

// FieldRef renders a column reference: dotted for identifiers, bracketed otherwise.
func FieldRef(key string) string {
	if identifierPattern.MatchString(key) {
		return "r." + key
	}
	return "r[" + StringLiteral(key) + "]"
}

// PredicateExpr renders an equality for one value, a set membership for more.
func PredicateExpr(key string, values []string) string {
	ref := FieldRef(key)
	if len(values) == 1 {
		return fmt.Sprintf("%s == %s", ref, StringLiteral(values[0]))
	}
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = StringLiteral(v)
	}
	return fmt.Sprintf("contains(value: %s, set: [%s])", ref, strings.Join(quoted, ", "))
}

// OrExpr renders key == v1 or key == v2 ..., the form the plant queries use.
func OrExpr(key string, values []string) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprintf("r[%s] == %s", StringLiteral(key), StringLiteral(v))
	}
	return strings.Join(parts, " or ")
}

// StringLiteral quotes s as a Flux string literal.
func StringLiteral(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		case '$':
			// "${" starts interpolation in Flux strings.
			b.WriteString(`\$`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// TimeLiteral renders t as time(v: "RFC3339").
func TimeLiteral(t time.Time) string {
	return fmt.Sprintf("time(v: %s)", StringLiteral(t.UTC().Format(time.RFC3339Nano)))
}

func timeBoundExpr(f *Filter) string {
	var conds []string
	if f.TimeStart != nil {
		conds = append(conds, "r._time >= "+TimeLiteral(*f.TimeStart))
	}
	if f.TimeEnd != nil {
		conds = append(conds, "r._time <= "+TimeLiteral(*f.TimeEnd))
	}
	return strings.Join(conds, " and ")
}

func valueBoundExpr(f *Filter) string {
	var conds []string
	if f.ValueMin != nil {
		conds = append(conds, "r._value >= "+FloatLiteral(*f.ValueMin))
	}
	if f.ValueMax != nil {
		conds = append(conds, "r._value <= "+FloatLiteral(*f.ValueMax))
	}
	return strings.Join(conds, " and ")
}

// FloatLiteral renders v so Flux reads it as a float.
func FloatLiteral(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}
