package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/pvmonitor/pvdash/internal/flux"
	"github.com/pvmonitor/pvdash/internal/tabular"
)

// StationMeasurement is the measurement of the map bucket.
const StationMeasurement = "modbus"

// DefaultCoordinates is used for stations without a valid position.
var DefaultCoordinates = [2]float64{40.136361, -2.372718}

// Station statuses.
const (
	StatusOnline  = "online"
	StatusWarning = "warning"
	StatusAlert   = "alert"
	StatusOffline = "offline"
)

// OfflineAfter is the data age after which a station is offline.
const OfflineAfter = 7 * 24 * time.Hour

// StationData holds the latest readings of a station. Absent or zero
// readings are nil.
type StationData struct {
	AvEle     *float64 `json:"AvEle"`
	AvMec     *float64 `json:"AvMec"`
	Irrad     *float64 `json:"Irrad"`
	P         *float64 `json:"P"`
	Q         *float64 `json:"Q"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Plant     string   `json:"Plant,omitempty"`
	Host      string   `json:"host,omitempty"`
	Name      string   `json:"name,omitempty"`
	Timestamp string   `json:"timestamp"`
}

// Station is one map marker.
type Station struct {
	StationID           string      `json:"stationId"`
	Name                string      `json:"name"`
	Coordinates         [2]float64  `json:"coordinates"`
	Data                StationData `json:"data"`
	Status              string      `json:"status"`
	HasValidCoordinates bool        `json:"hasValidCoordinates"`
}

// StationStats counts stations per status.
type StationStats struct {
	Total                int `json:"total"`
	WithValidCoordinates int `json:"withValidCoordinates"`
	Online               int `json:"online"`
	Warning              int `json:"warning"`
	Alert                int `json:"alert"`
	Offline              int `json:"offline"`
}

// Stations reads the latest values of every station of the map bucket.
func (s *Service) Stations(ctx context.Context) ([]Station, error) {
	text, err := s.querier.QueryCSV(ctx, StationsQuery(s.geoBucket))
	if err != nil {
		return nil, fmt.Errorf("stations: %w", err)
	}
	res, err := tabular.Parse(text)
	if err != nil {
		// An empty answer is no stations, not a failure.
		return []Station{}, nil
	}
	return parseStations(res.Rows, s.now()), nil
}

func parseStations(rows []tabular.Row, now time.Time) []Station {
	stations := make([]Station, 0, len(rows))
	seen := make(map[string]struct{})
	for _, row := range rows {
		id := firstNonEmpty(row.Get("Plant"), row.Get("host"), row.Get("name"), row.Get(flux.KeyMeasurement),
			fmt.Sprintf("station_%d", len(stations)))
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		data := StationData{
			AvEle:     reading(row, "AvEle"),
			AvMec:     reading(row, "AvMec"),
			Irrad:     reading(row, "Irrad"),
			P:         reading(row, "P"),
			Q:         reading(row, "Q"),
			Latitude:  reading(row, "latitude"),
			Longitude: reading(row, "longitude"),
			Plant:     row.Get("Plant"),
			Host:      row.Get("host"),
			Name:      row.Get("name"),
			Timestamp: row.Get(flux.KeyTime),
		}

		st := Station{
			StationID:   id,
			Name:        firstNonEmpty(data.Plant, data.Name, data.Host, fmt.Sprintf("Estación %d", len(stations)+1)),
			Coordinates: DefaultCoordinates,
			Data:        data,
		}
		if validCoordinates(data.Latitude, data.Longitude) {
			st.Coordinates = [2]float64{*data.Latitude, *data.Longitude}
			st.HasValidCoordinates = true
		}
		st.Status = StationStatus(data, now)
		stations = append(stations, st)
	}
	return stations
}

// reading returns the cell as a number, nil when missing, non-numeric or 0.
func reading(row tabular.Row, column string) *float64 {
	v, ok := row.Float(column)
	if !ok || v == 0 {
		return nil
	}
	return &v
}

func validCoordinates(lat, lon *float64) bool {
	if lat == nil || lon == nil {
		return false
	}
	return *lat >= -90 && *lat <= 90 && *lon >= -180 && *lon <= 180
}

// StationStatus classifies a station: offline when its data is older than a
// week, alert on negative power or availability under 50, warning on
// irradiance over 1200 or availability under 85, online otherwise.
func StationStatus(d StationData, now time.Time) string {
	if at, err := time.Parse(time.RFC3339Nano, d.Timestamp); err == nil && now.Sub(at) > OfflineAfter {
		return StatusOffline
	}

	below := func(v *float64, limit float64) bool { return v != nil && *v < limit }
	between := func(v *float64, lo, hi float64) bool { return v != nil && *v >= lo && *v < hi }

	if below(d.P, -50) || below(d.AvEle, 50) || below(d.AvMec, 50) {
		return StatusAlert
	}
	if (d.Irrad != nil && *d.Irrad > 1200) || between(d.AvEle, 50, 85) || between(d.AvMec, 50, 85) {
		return StatusWarning
	}
	return StatusOnline
}

// Stats counts stations per status.
func Stats(stations []Station) StationStats {
	stats := StationStats{Total: len(stations)}
	for _, st := range stations {
		if st.HasValidCoordinates {
			stats.WithValidCoordinates++
		}
		switch st.Status {
		case StatusOnline:
			stats.Online++
		case StatusWarning:
			stats.Warning++
		case StatusAlert:
			stats.Alert++
		case StatusOffline:
			stats.Offline++
		}
	}
	return stats
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
