package export

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pvmonitor/pvdash/internal/tabular"
)

func TestDeviceID(t *testing.T) {
	tests := []struct {
		parts    []string
		expected string
	}{
		{[]string{"P1", "Z1", "01"}, "P1_Z1_01"},
		{[]string{"P1", "", "01"}, "P1_01"},
		{[]string{"", "", "INV03"}, "INV03"},
		{[]string{"", "", ""}, NoDevice},
		{nil, NoDevice},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, DeviceID(tt.parts...))
	}
}

func TestToWideMatrix_CommaDecimalScenario(t *testing.T) {
	rows := []Row{
		{DeviceID: "P1_Z1_01", Variable: "Pca", Time: "T1", Value: "10.5"},
		{DeviceID: "P1_Z1_01", Variable: "PF", Time: "T1", Value: "0.98"},
	}

	m := Localize(ToWideMatrix(rows), FormatCSVEU)
	assert.Equal(t, []string{"tiempo", "P1_Z1_01_PF", "P1_Z1_01_Pca"}, m.Headers)
	require.Len(t, m.Rows, 1)
	assert.Equal(t, []string{"T1", "0,98", "10,5"}, m.Rows[0])

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, ToWideMatrix(rows), FormatCSVEU))
	assert.Equal(t, "tiempo;P1_Z1_01_PF;P1_Z1_01_Pca\nT1;0,98;10,5\n", buf.String())
}

func TestToWideMatrix_CrossProduct(t *testing.T) {
	rows := []Row{
		{DeviceID: "B", Variable: "P", Time: "T2", Value: "2"},
		{DeviceID: "A", Variable: "Q", Time: "T1", Value: "1"},
		{DeviceID: "A", Variable: "Q", Time: "T1", Value: "1.5"},
	}

	m := ToWideMatrix(rows)
	assert.Equal(t, []string{"tiempo", "A_P", "A_Q", "B_P", "B_Q"}, m.Headers)
	assert.Equal(t, [][]string{
		{"T1", "", "1.5", "", ""},
		{"T2", "", "", "2", ""},
	}, m.Rows)
}

func TestToWideMatrix_Empty(t *testing.T) {
	m := ToWideMatrix(nil)
	assert.Equal(t, []string{TimeHeader}, m.Headers)
	assert.Empty(t, m.Rows)
}

func TestRowsFromResult(t *testing.T) {
	res, err := tabular.Parse(`,result,table,_time,_value,_field,PVO_Plant,PVO_Zone,PVO_id
,,0,2025-06-01T10:00:00Z,10.5,Pca,P1,Z1,01
,,0,2025-06-01T10:00:00Z,7,Pca,,,
,,0,,3,Pca,P1,Z1,01
`)
	require.NoError(t, err)

	rows := RowsFromResult(res)
	require.Len(t, rows, 2)
	assert.Equal(t, Row{DeviceID: "P1_Z1_01", Variable: "Pca", Time: "2025-06-01T10:00:00Z", Value: "10.5"}, rows[0])
	assert.Equal(t, NoDevice, rows[1].DeviceID)
}

func TestWrite_CSVDefault(t *testing.T) {
	m := Matrix{Headers: []string{"tiempo", "A_P"}, Rows: [][]string{{"T1", "1.25"}}}

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, m, FormatCSV))
	assert.Equal(t, "tiempo,A_P\nT1,1.25\n", buf.String())
}

func TestWrite_CSVEU(t *testing.T) {
	m := Matrix{Headers: []string{"tiempo", "A_P", "A_Q"}, Rows: [][]string{{"2025-06-01T10:00:00.5Z", "1.25", ""}}}

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, m, FormatCSVEU))
	assert.Equal(t, "tiempo;A_P;A_Q\n2025-06-01T10:00:00.5Z;1,25;\n", buf.String())
}

func TestWrite_JSON(t *testing.T) {
	m := Matrix{Headers: []string{"tiempo", "A_P"}, Rows: [][]string{{"T1", "1.25"}}}

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, m, FormatJSON))

	var decoded Matrix
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, m, decoded)
}

func TestLocalizeValue(t *testing.T) {
	assert.Equal(t, "0,98", FormatCSVEU.LocalizeValue("0.98"))
	assert.Equal(t, "0.98", FormatCSV.LocalizeValue("0.98"))
	assert.Equal(t, "v1.2", FormatCSVEU.LocalizeValue("v1.2"))
	assert.Equal(t, "", FormatCSVEU.LocalizeValue(""))
	assert.Equal(t, "-12,5", FormatCSVEU.LocalizeValue("-12.50"))
	assert.Equal(t, "NaN", FormatCSVEU.LocalizeValue("NaN"))
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in       string
		expected Format
		wantErr  bool
	}{
		{"", FormatCSV, false},
		{"CSV", FormatCSV, false},
		{"csv-eu", FormatCSVEU, false},
		{"json", FormatJSON, false},
		{"xlsx", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrUnknownFormat)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.expected, got)
	}
}

func TestFilename(t *testing.T) {
	now := time.Date(2025, 6, 1, 15, 0, 0, 0, time.UTC)

	name := Filename("PV", []Selection{
		{Key: "PVO_Plant", Values: []string{"LAMAJA"}},
		{Key: "_field", Values: []string{"P", "Q", "S"}},
		{Key: "PVO_id", Values: nil},
		{Key: "custom tag", Values: []string{"a", "b"}},
	}, now, FormatCSVEU)
	assert.Equal(t, "PV_LAMAJA_Variable_3valores_custom_tag_2valores_2025-06-01.csv", name)

	name = Filename("", nil, now, FormatJSON)
	assert.Equal(t, "PV_2025-06-01.json", name)

	name = Filename("my bucket/é", nil, now, FormatCSV)
	assert.False(t, strings.ContainsAny(strings.TrimSuffix(name, ".csv"), " /é."))
}
