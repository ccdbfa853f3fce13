// Package export reshapes long query results (one record per device,
// variable and instant) into a wide matrix with one column per device and
// variable, and writes it as CSV or JSON.
package export

import (
	"sort"
	"strings"

	"github.com/pvmonitor/pvdash/internal/flux"
	"github.com/pvmonitor/pvdash/internal/tabular"
)

// TimeHeader is the header of the first column.
const TimeHeader = "tiempo"

// NoDevice identifies records without plant, zone or id tags.
const NoDevice = "N/A"

// Device tags joined into a device identifier, in order.
var DeviceTags = []string{"PVO_Plant", "PVO_Zone", "PVO_id"}

// Row is one long-format record.
type Row struct {
	DeviceID string `json:"deviceId"`
	Variable string `json:"variable"`
	Time     string `json:"time"`
	Value    string `json:"value"`
}

// Matrix is the wide form. Every row has len(Headers) cells; a device and
// variable pair without data at an instant has an empty cell.
type Matrix struct {
	Headers []string   `json:"headers"`
	Rows    [][]string `json:"rows"`
}

// DeviceID joins the non-empty parts with underscores, NoDevice when all are empty.
func DeviceID(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	if len(kept) == 0 {
		return NoDevice
	}
	return strings.Join(kept, "_")
}

// RowsFromResult converts parsed backend records. Records without a field or
// time are skipped.
func RowsFromResult(res *tabular.Result) []Row {
	rows := make([]Row, 0, len(res.Rows))
	for _, r := range res.Rows {
		field, at := r.Get(flux.KeyField), r.Get(flux.KeyTime)
		if field == "" || at == "" {
			continue
		}
		parts := make([]string, len(DeviceTags))
		for i, tag := range DeviceTags {
			parts[i] = r.Get(tag)
		}
		rows = append(rows, Row{
			DeviceID: DeviceID(parts...),
			Variable: field,
			Time:     at,
			Value:    r.Get(flux.KeyValue),
		})
	}
	return rows
}

// ToWideMatrix builds the matrix. Columns are every device crossed with every
// variable, both ascending; rows are every instant, ascending. When two
// records share a cell the later one wins.
func ToWideMatrix(rows []Row) Matrix {
	devices := make(map[string]struct{})
	variables := make(map[string]struct{})
	cells := make(map[string]map[string]string)
	for _, r := range rows {
		devices[r.DeviceID] = struct{}{}
		variables[r.Variable] = struct{}{}
		byColumn, ok := cells[r.Time]
		if !ok {
			byColumn = make(map[string]string)
			cells[r.Time] = byColumn
		}
		byColumn[column(r.DeviceID, r.Variable)] = r.Value
	}

	deviceList := sortedKeys(devices)
	variableList := sortedKeys(variables)
	times := make([]string, 0, len(cells))
	for t := range cells {
		times = append(times, t)
	}
	sort.Strings(times)

	m := Matrix{Headers: make([]string, 0, 1+len(deviceList)*len(variableList))}
	m.Headers = append(m.Headers, TimeHeader)
	for _, d := range deviceList {
		for _, v := range variableList {
			m.Headers = append(m.Headers, column(d, v))
		}
	}

	m.Rows = make([][]string, 0, len(times))
	for _, t := range times {
		row := make([]string, len(m.Headers))
		row[0] = t
		for i, h := range m.Headers[1:] {
			row[i+1] = cells[t][h]
		}
		m.Rows = append(m.Rows, row)
	}
	return m
}

func column(device, variable string) string {
	return device + "_" + variable
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
