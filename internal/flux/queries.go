package flux

import (
	"fmt"
	"strings"
)

const schemaImport = "import \"influxdata/influxdb/schema\"\n\n"

// DistinctOptions tune a dependent-value lookup.
type DistinctOptions struct {
	// Start is the range start, e.g. -2h.
	Start string
	// RecordTypeOnly adds the raw-register predicate.
	RecordTypeOnly bool
	// SampleSize, when positive, samples records before taking distincts.
	SampleSize int
	Limit      int
}

// DistinctQuery lists the distinct values of target among records matching
// every upstream predicate.
func DistinctQuery(bucket, target string, upstream []Predicate, opts DistinctOptions) string {
	var b strings.Builder
	fmt.Fprintf(&b, "from(bucket: %s)\n", StringLiteral(bucket))
	fmt.Fprintf(&b, "  |> range(start: %s)\n", orDefault(opts.Start, DefaultStart))
	for _, p := range upstream {
		if p.Key == "" || IsReserved(p.Key) || len(p.Values) == 0 {
			continue
		}
		fmt.Fprintf(&b, "  |> filter(fn: (r) => %s)\n", PredicateExpr(p.Key, p.Values))
	}
	if opts.RecordTypeOnly {
		fmt.Fprintf(&b, "  |> filter(fn: (r) => %s)\n", RecordTypePredicate())
	}
	if opts.SampleSize > 0 {
		fmt.Fprintf(&b, "  |> sample(n: %d)\n", opts.SampleSize)
	}
	col := StringLiteral(target)
	fmt.Fprintf(&b, "  |> keep(columns: [%s])\n", col)
	fmt.Fprintf(&b, "  |> distinct(column: %s)\n", col)
	fmt.Fprintf(&b, "  |> limit(n: %d)\n", opts.Limit)
	fmt.Fprintf(&b, "  |> sort(columns: [%s])\n", col)
	fmt.Fprintf(&b, "  |> yield(name: %s)", StringLiteral(DistinctYield))
	return b.String()
}

// SchemaMeasurements lists measurements of a bucket.
func SchemaMeasurements(bucket string, limit int) string {
	return fmt.Sprintf("%sschema.measurements(bucket: %s)\n  |> limit(n: %d)\n  |> sort()",
		schemaImport, StringLiteral(bucket), limit)
}

// SchemaFieldKeys lists field keys of a bucket.
func SchemaFieldKeys(bucket string, limit int) string {
	return fmt.Sprintf("%sschema.fieldKeys(bucket: %s)\n  |> limit(n: %d)\n  |> sort()",
		schemaImport, StringLiteral(bucket), limit)
}

// SchemaTagKeys lists tag keys of a bucket, system columns included.
func SchemaTagKeys(bucket string, limit int) string {
	return fmt.Sprintf("%sschema.tagKeys(bucket: %s)\n  |> limit(n: %d)\n  |> sort()",
		schemaImport, StringLiteral(bucket), limit)
}

// SchemaTagValues lists values of tag within the last start window.
func SchemaTagValues(bucket, tag, start string, limit int) string {
	return fmt.Sprintf("%sschema.tagValues(bucket: %s, tag: %s, start: %s)\n  |> limit(n: %d)\n  |> sort()",
		schemaImport, StringLiteral(bucket), StringLiteral(tag), orDefault(start, "-24h"), limit)
}

// ColumnDistinct lists distinct values of a system column such as _time or _value.
func ColumnDistinct(bucket, column, start string, limit int) string {
	col := StringLiteral(column)
	return fmt.Sprintf(`from(bucket: %s)
  |> range(start: %s)
  |> filter(fn: (r) => exists %s)
  |> keep(columns: [%s])
  |> distinct(column: %s)
  |> limit(n: %d)
  |> sort(columns: [%s])`,
		StringLiteral(bucket), start, FieldRef(column), col, col, limit, col)
}

// TagValuesInMeasurement lists tag values of one measurement.
func TagValuesInMeasurement(bucket, measurement, tag, start string, limit int) string {
	col := StringLiteral(tag)
	return fmt.Sprintf(`from(bucket: %s)
  |> range(start: %s)
  |> filter(fn: (r) => r._measurement == %s)
  |> filter(fn: (r) => exists %s)
  |> keep(columns: [%s])
  |> distinct(column: %s)
  |> limit(n: %d)`,
		StringLiteral(bucket), start, StringLiteral(measurement), FieldRef(tag), col, col, limit)
}

// FieldValues lists distinct values recorded for one field.
func FieldValues(bucket, field, start string, limit int) string {
	return fmt.Sprintf(`from(bucket: %s)
  |> range(start: %s)
  |> filter(fn: (r) => r._field == %s)
  |> filter(fn: (r) => exists r._value)
  |> keep(columns: ["_value"])
  |> distinct(column: "_value")
  |> limit(n: %d)
  |> sort(columns: ["_value"])`,
		StringLiteral(bucket), start, StringLiteral(field), limit)
}

// Sample returns the first records of a bucket, used to discover columns.
func Sample(bucket, start string, limit int) string {
	return fmt.Sprintf("from(bucket: %s)\n  |> range(start: %s)\n  |> limit(n: %d)",
		StringLiteral(bucket), start, limit)
}
