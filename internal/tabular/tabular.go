// Package tabular reads the delimited text the time-series backend returns for
// a query: a header line, then one line per record. Several result tables may
// follow each other, separated by a blank line and a fresh header.
package tabular

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/pvmonitor/pvdash/internal/logging"
)

// ErrEmpty is returned when the text holds no header line.
var ErrEmpty = errors.New("tabular: no header line")

// Row is one record keyed by header name. Cells missing from a short row are absent.
type Row map[string]string

// Get returns the cell for column, or "" when the row has none.
func (r Row) Get(column string) string {
	return r[column]
}

// Float parses the cell for column. ok is false for missing, null or non-numeric cells.
func (r Row) Float(column string) (float64, bool) {
	v, present := r[column]
	if !present || IsNull(v) {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Result is a fully materialised response.
type Result struct {
	// Headers is the union of every table header, in first-seen order.
	Headers []string
	Rows    []Row
}

// HasColumn reports whether any table carried column.
func (r *Result) HasColumn(column string) bool {
	for _, h := range r.Headers {
		if h == column {
			return true
		}
	}
	return false
}

// Parse reads text into rows. Blank lines and "#" annotation lines are skipped.
// A line following a blank line starts a new table when it carries the
// backend's "result" and "table" columns.
func Parse(text string) (*Result, error) {
	text = strings.TrimSpace(strings.ReplaceAll(text, "\r\n", "\n"))
	if text == "" {
		return nil, ErrEmpty
	}

	res := &Result{}
	seen := map[string]struct{}{}
	var header []string
	afterBlank := false

	for lineNo, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			afterBlank = true
			continue
		}
		if strings.HasPrefix(line, "#") {
			continue
		}

		cells, err := splitLine(line)
		if err != nil {
			return nil, fmt.Errorf("tabular: line %d: %w", lineNo+1, err)
		}

		if header == nil || (afterBlank && isTableHeader(cells)) {
			header = cells
			for _, h := range header {
				if _, ok := seen[h]; !ok && h != "" {
					seen[h] = struct{}{}
					res.Headers = append(res.Headers, h)
				}
			}
			afterBlank = false
			continue
		}
		afterBlank = false

		row := make(Row, len(header))
		for i, name := range header {
			if name == "" || i >= len(cells) {
				continue
			}
			row[name] = cells[i]
		}
		res.Rows = append(res.Rows, row)
	}

	if header == nil {
		return nil, ErrEmpty
	}
	return res, nil
}

func splitLine(line string) ([]string, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	cells, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	for i, c := range cells {
		cells[i] = strings.TrimSpace(strings.Trim(c, `"`))
	}
	return cells, nil
}

func isTableHeader(cells []string) bool {
	var hasResult, hasTable bool
	for _, c := range cells {
		switch c {
		case "result":
			hasResult = true
		case "table":
			hasTable = true
		}
	}
	return hasResult && hasTable
}

// IsNull reports whether a cell carries no value.
func IsNull(v string) bool {
	return v == "" || v == "null" || v == "undefined"
}

// ExtractColumn returns the distinct non-null values of column, sorted by SortValues.
// A missing column yields an empty, non-nil slice and no error.
func ExtractColumn(text, column string) ([]string, error) {
	res, err := Parse(text)
	if err != nil {
		return []string{}, err
	}
	return res.Distinct(column), nil
}

// Distinct returns the sorted distinct non-null values of column.
func (r *Result) Distinct(column string) []string {
	if !r.HasColumn(column) {
		return []string{}
	}
	set := make(map[string]struct{})
	for _, row := range r.Rows {
		v, ok := row[column]
		if !ok || IsNull(v) {
			continue
		}
		set[v] = struct{}{}
	}
	values := make([]string, 0, len(set))
	for v := range set {
		values = append(values, v)
	}
	values, _ = SortValues(values)
	return values
}

// ParseColumn is ExtractColumn for callers that treat a malformed response as
// "no values": the error is logged and an empty set returned.
func ParseColumn(text, column string) []string {
	values, err := ExtractColumn(text, column)
	if err != nil && !errors.Is(err, ErrEmpty) {
		logging.Warn("Unparseable tabular response", "component", "tabular", "column", column, "error", err)
	}
	return values
}

// CountRows returns the number of data rows in text, 0 when it cannot be parsed.
func CountRows(text string) int {
	res, err := Parse(text)
	if err != nil {
		return 0
	}
	return len(res.Rows)
}

// SortValues sorts values in place. When every value is a finite number the
// order is numeric, otherwise it is plain string order. numeric reports which.
func SortValues(values []string) ([]string, bool) {
	numeric := AllNumeric(values)
	if numeric {
		nums := make(map[string]float64, len(values))
		for _, v := range values {
			nums[v], _ = strconv.ParseFloat(strings.TrimSpace(v), 64)
		}
		sort.SliceStable(values, func(i, j int) bool {
			a, b := nums[values[i]], nums[values[j]]
			if a == b {
				return values[i] < values[j]
			}
			return a < b
		})
		return values, true
	}
	sort.Strings(values)
	return values, false
}

// AllNumeric reports whether every value parses as a finite number. An empty
// slice is not numeric.
func AllNumeric(values []string) bool {
	if len(values) == 0 {
		return false
	}
	for _, v := range values {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
