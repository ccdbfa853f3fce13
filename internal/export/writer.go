package export

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/pvmonitor/pvdash/internal/utils"
)

// Format selects the file layout.
type Format string

const (
	// FormatCSV uses "," between fields and "." in numbers.
	FormatCSV Format = "csv"
	// FormatCSVEU uses ";" between fields and "," in numbers.
	FormatCSVEU Format = "csv-eu"
	// FormatJSON writes the matrix as {"headers": [...], "rows": [[...]]}.
	FormatJSON Format = "json"
)

// ErrUnknownFormat is returned by ParseFormat.
var ErrUnknownFormat = errors.New("export: unknown format")

// ParseFormat validates a format name. "" is FormatCSV.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatCSVEU:
		return FormatCSVEU, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// Extension is the file extension, without dot.
func (f Format) Extension() string {
	if f == FormatJSON {
		return "json"
	}
	return "csv"
}

// ContentType is the HTTP media type.
func (f Format) ContentType() string {
	if f == FormatJSON {
		return "application/json"
	}
	return "text/csv; charset=utf-8"
}

// Separator is the CSV field separator.
func (f Format) Separator() rune {
	if f == FormatCSVEU {
		return ';'
	}
	return ','
}

// LocalizeValue renders a numeric cell with the format's decimal separator.
// Non-numeric cells are returned unchanged.
func (f Format) LocalizeValue(v string) string {
	if f != FormatCSVEU || v == "" {
		return v
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return v
	}
	return utils.FormatDecimal(n, ",")
}

// Write encodes m in format f to w.
func Write(w io.Writer, m Matrix, f Format) error {
	bw := bufio.NewWriterSize(w, 64*1024)

	var err error
	switch f {
	case FormatJSON:
		enc := json.NewEncoder(bw)
		enc.SetIndent("", "  ")
		err = enc.Encode(m)
	case FormatCSV, FormatCSVEU:
		err = writeCSV(bw, m, f)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownFormat, f)
	}
	if err != nil {
		return err
	}
	return bw.Flush()
}

func writeCSV(w io.Writer, m Matrix, f Format) error {
	cw := csv.NewWriter(w)
	cw.Comma = f.Separator()
	if err := cw.Write(m.Headers); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, row := range Localize(m, f).Rows {
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// Localize returns a copy of m with every value cell localized for f.
func Localize(m Matrix, f Format) Matrix {
	out := Matrix{Headers: m.Headers, Rows: make([][]string, len(m.Rows))}
	for i, row := range m.Rows {
		cp := make([]string, len(row))
		for j, cell := range row {
			if j == 0 {
				cp[j] = cell
				continue
			}
			cp[j] = f.LocalizeValue(cell)
		}
		out.Rows[i] = cp
	}
	return out
}

// Selection is one active filter as it appears in a file name.
type Selection struct {
	Key    string
	Values []string
}

// FriendlyNames label multi-value filters in file names.
var FriendlyNames = map[string]string{
	"PVO_Plant": "Planta",
	"PVO_Zone":  "Zona",
	"PVO_type":  "Tipo",
	"PVO_id":    "ID",
	"_field":    "Variable",
}

var unsafeName = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// Filename names an export: the bucket, then per active filter its single
// value or "<label>_<n>valores", then the date, with every character outside
// [A-Za-z0-9_-] replaced by "_".
func Filename(bucket string, selections []Selection, now time.Time, f Format) string {
	if bucket == "" {
		bucket = "PV"
	}
	parts := []string{bucket}
	for _, s := range selections {
		if s.Key == "" || len(s.Values) == 0 {
			continue
		}
		if len(s.Values) == 1 {
			parts = append(parts, s.Values[0])
			continue
		}
		label, ok := FriendlyNames[s.Key]
		if !ok {
			label = s.Key
		}
		parts = append(parts, fmt.Sprintf("%s_%dvalores", label, len(s.Values)))
	}
	parts = append(parts, now.UTC().Format("2006-01-02"))
	name := unsafeName.ReplaceAllString(strings.Join(parts, "_"), "_")
	return name + "." + f.Extension()
}
