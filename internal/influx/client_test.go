package influx

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pvmonitor/pvdash/internal/config"
	"github.com/pvmonitor/pvdash/internal/logging"
)

const sampleCSV = `#datatype,string,long,string
#group,false,false,false
#default,distinct_values,,
,result,table,PVO_Plant
,,0,LAMAJA
,,0,RETAMAR
`

func testConfig(url string) config.InfluxConfig {
	return config.InfluxConfig{
		URL:     url,
		Token:   "secret-token",
		Org:     "plants",
		Bucket:  "PV",
		Timeout: 2 * time.Second,
		Breaker: config.BreakerConfig{
			Enabled:          true,
			MaxRequests:      1,
			Interval:         time.Minute,
			OpenTimeout:      time.Minute,
			FailureThreshold: 2,
		},
	}
}

func TestClient_NotConfigured(t *testing.T) {
	c := New(config.InfluxConfig{Bucket: "PV", Timeout: time.Second}, logging.NewNop())
	assert.False(t, c.Configured())

	_, err := c.QueryCSV(context.Background(), "from(bucket: \"PV\")")
	require.Error(t, err)
	assert.True(t, IsNotConfigured(err))
	assert.Contains(t, err.Error(), "INFLUXDB_URL")

	_, err = c.Buckets(context.Background())
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.False(t, c.Ping(context.Background()))
}

func TestClient_QueryCSV(t *testing.T) {
	var gotAuth, gotOrg, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/query" {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		gotOrg = r.URL.Query().Get("org")
		body, _ := io.ReadAll(r.Body)
		var payload struct {
			Query string `json:"query"`
		}
		_ = json.Unmarshal(body, &payload)
		gotQuery = payload.Query
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		_, _ = io.WriteString(w, sampleCSV)
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), logging.NewNop())
	defer c.Close()
	require.True(t, c.Configured())

	out, err := c.QueryCSV(context.Background(), `from(bucket: "PV") |> range(start: -1h)`)
	require.NoError(t, err)
	assert.Equal(t, sampleCSV, out)
	assert.Equal(t, "Token secret-token", gotAuth)
	assert.Equal(t, "plants", gotOrg)
	assert.Equal(t, `from(bucket: "PV") |> range(start: -1h)`, gotQuery)
}

func TestClient_Buckets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/buckets" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"buckets":[{"name":"PV","retentionRules":[]},{"name":"GeoMap","retentionRules":[]}]}`)
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), logging.NewNop())
	defer c.Close()

	names, err := c.Buckets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"PV", "GeoMap"}, names)
}

func TestClient_BreakerOpensAfterFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"code":"internal error","message":"boom"}`)
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), logging.NewNop())
	defer c.Close()

	for i := 0; i < 2; i++ {
		_, err := c.QueryCSV(context.Background(), "q")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrBackend)
	}
	assert.Equal(t, "open", c.BreakerState())

	before := hits.Load()
	_, err := c.QueryCSV(context.Background(), "q")
	assert.ErrorIs(t, err, ErrBackend)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, before, hits.Load())
}

func TestClient_BreakerDisabled(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Breaker.Enabled = false
	c := New(cfg, logging.NewNop())
	assert.Equal(t, "disabled", c.BreakerState())
}
