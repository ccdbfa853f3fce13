package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pvmonitor/pvdash/internal/export"
	"github.com/pvmonitor/pvdash/internal/tabular"
)

func TestReadQuery(t *testing.T) {
	q, err := readQuery("", []string{`from(bucket: "PV")`, "|> range(start: -1h)"})
	require.NoError(t, err)
	assert.Equal(t, `from(bucket: "PV") |> range(start: -1h)`, q)

	_, err = readQuery("", nil)
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "q.flux")
	require.NoError(t, os.WriteFile(path, []byte("buckets()"), 0o600))
	q, err = readQuery(path, []string{"ignored"})
	require.NoError(t, err)
	assert.Equal(t, "buckets()", q)
}

func TestPreview(t *testing.T) {
	res, err := tabular.Parse(",result,table,_time,_value,_field\n,_result,0,2025-06-01T10:00:00Z,1.5,P\n,_result,0,2025-06-01T10:05:00Z,2.5,P\n")
	require.NoError(t, err)

	var buf bytes.Buffer
	preview(&buf, res, 1)
	out := buf.String()
	assert.Contains(t, out, "_value")
	assert.Contains(t, out, "1.5")
	assert.NotContains(t, out, "2.5")
	assert.Contains(t, out, "2 records")
}

func TestPreviewMatrix(t *testing.T) {
	var buf bytes.Buffer
	previewMatrix(&buf, export.Matrix{
		Headers: []string{export.TimeHeader, "LAMAJA_P"},
		Rows:    [][]string{{"2025-06-01T10:00:00Z", "1.5"}},
	}, 10)
	assert.Contains(t, buf.String(), "LAMAJA_P")
}

func TestWriteFile(t *testing.T) {
	m := export.Matrix{
		Headers: []string{export.TimeHeader, "LAMAJA_P"},
		Rows:    [][]string{{"2025-06-01T10:00:00Z", "1.5"}},
	}
	path := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, writeFile(path, m, export.FormatCSVEU))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "1,5")

	err = writeFile(filepath.Join(t.TempDir(), "missing", "out.csv"), m, export.FormatCSV)
	assert.Error(t, err)
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"export", "--format", "xlsx", "buckets()"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	assert.Error(t, root.Execute())
}

func TestOptionsQuery_Build(t *testing.T) {
	opts := &options{
		bucket:  "PV",
		filters: []string{"PVO_Plant=LAMAJA", "_field=P, Q"},
		start:   "-24h",
	}
	q, err := opts.query(nil)
	require.NoError(t, err)
	assert.Contains(t, q, `from(bucket: "PV")`)
	assert.Contains(t, q, "range(start: -24h")
	assert.Contains(t, q, `"LAMAJA"`)
	assert.Contains(t, q, `"Q"`)

	assert.Equal(t, []export.Selection{
		{Key: "PVO_Plant", Values: []string{"LAMAJA"}},
		{Key: "_field", Values: []string{"P", "Q"}},
	}, opts.selections())

	opts.start = "yesterday"
	_, err = opts.query(nil)
	assert.Error(t, err)
}

func TestQueryCmd_PrintsBuiltQuery(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"query", "--bucket", "PV", "--filter", "PVO_Plant=RETAMAR"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), `"RETAMAR"`)
}
