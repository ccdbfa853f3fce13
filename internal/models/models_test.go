package models

import (
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pvmonitor/pvdash/internal/flux"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		input   interface{}
		wantErr string
	}{
		{
			name:  "valid universal values",
			input: &UniversalValuesRequest{Bucket: "PV", FieldName: "_field", TimeRange: "-24h", MaxValues: 50},
		},
		{
			name:    "missing bucket",
			input:   &UniversalValuesRequest{FieldName: "_field"},
			wantErr: "Bucket is required",
		},
		{
			name:    "bad duration",
			input:   &FieldValuesRequest{Bucket: "PV", Field: "P", TimeRange: "yesterday"},
			wantErr: "TimeRange must be a duration",
		},
		{
			name:    "unknown format",
			input:   &ExportRequest{Format: "xlsx"},
			wantErr: "Format must be one of",
		},
		{
			name:    "bad calendar date",
			input:   &BuildRequest{TimeRange: TimeRangeInput{Dates: []string{"01/06/2025"}}},
			wantErr: "must match 2006-01-02",
		},
		{
			name:    "filter key required",
			input:   &BuildRequest{Filters: []FilterInput{{Values: []string{"x"}}}},
			wantErr: "Key is required",
		},
		{
			name:    "hours out of range",
			input:   &TimeseriesRequest{Metric: "power", Hours: 1000},
			wantErr: "Hours must be at most 744",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.input)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			var fe *fiber.Error
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, fiber.StatusBadRequest, fe.Code)
			assert.Contains(t, fe.Message, tt.wantErr)
		})
	}
}

func TestTimeRangeInput_Range(t *testing.T) {
	rng, err := TimeRangeInput{Start: "-6h"}.Range()
	require.NoError(t, err)
	assert.Equal(t, flux.TimeRange{Start: "-6h"}, rng)

	rng, err = TimeRangeInput{Dates: []string{"2025-06-03", "2025-06-01"}, StartTime: "08:00", EndTime: "18:30"}.Range()
	require.NoError(t, err)
	assert.Contains(t, rng.Start, "2025-06-01")
	assert.Contains(t, rng.Stop, "2025-06-03")

	_, err = TimeRangeInput{Start: "drop bucket"}.Range()
	assert.ErrorIs(t, err, flux.ErrInvalidRange)
}

func TestBuildRequest_Flux(t *testing.T) {
	lo := 1.5
	req, err := BuildRequest{
		Bucket: "PV",
		Filters: []FilterInput{
			{Key: "PVO_Plant", Values: []string{"LAMAJA"}},
			{Key: "_value", ValueMin: &lo},
		},
		TimeRange:         TimeRangeInput{Start: "-1h"},
		WindowPeriod:      "5m",
		AggregateFunction: "mean",
	}.Flux()
	require.NoError(t, err)
	assert.Equal(t, "PV", req.Bucket)
	require.Len(t, req.Filters, 2)
	assert.Equal(t, []string{"LAMAJA"}, req.Filters[0].Values)
	assert.Equal(t, &lo, req.Filters[1].ValueMin)
	assert.True(t, req.Windowed())
}

func TestStatus(t *testing.T) {
	assert.Equal(t, Status{Success: true, Source: SourceInfluxDB}, OK(SourceInfluxDB))
	assert.Equal(t, Status{Source: SourceFallback, Error: "down"}, Failed(SourceFallback, "down"))
}
