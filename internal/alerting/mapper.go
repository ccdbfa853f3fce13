package alerting

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Alert is one entry of the alert manager response.
type Alert struct {
	Labels       map[string]string `json:"labels"`
	Annotations  map[string]string `json:"annotations"`
	Status       AlertStatus       `json:"status"`
	StartsAt     string            `json:"startsAt"`
	Fingerprint  string            `json:"fingerprint"`
	GeneratorURL string            `json:"generatorURL"`
}

// AlertStatus is the status block of an alert.
type AlertStatus struct {
	State string `json:"state"`
}

// Active reports whether the alert is firing.
func (a Alert) Active() bool {
	switch strings.ToLower(a.Status.State) {
	case "active", "firing":
		return true
	}
	return false
}

var devicePattern = regexp.MustCompile(`(?i)(INV|TRK|CONT)(\d+)`)

// SeverityFromPriority maps the Prioridad label: alta, media, baja. Anything
// else is a warning.
func SeverityFromPriority(priority string) string {
	switch strings.ToLower(priority) {
	case "alta":
		return SeverityCritical
	case "media":
		return SeverityWarning
	case "baja":
		return SeverityInfo
	default:
		return SeverityWarning
	}
}

// PlantFromAlert finds the plant named in the alert name, summary,
// description or folder. It returns "" when none matches.
func PlantFromAlert(a Alert) string {
	text := strings.ToLower(strings.Join([]string{
		a.Labels["alertname"], a.Annotations["summary"], a.Annotations["description"], a.Labels["folder"],
	}, " "))
	switch {
	case strings.Contains(text, "lamaja"), strings.Contains(text, "la maja"):
		return "LAMAJA"
	case strings.Contains(text, "retamar"):
		return "RETAMAR"
	}
	return ""
}

// typeRules are checked in order against the alert name and summary.
var typeRules = []struct {
	kind  string
	match func(text string) bool
}{
	{"inverter", func(s string) bool { return strings.Contains(s, "inv") && strings.Contains(s, "alarma") }},
	{"tracker", func(s string) bool { return strings.Contains(s, "trk") && strings.Contains(s, "alarma") }},
	{"substation", containsAny("subestacion", "subestación")},
	{"weather", containsAny("meteo")},
	{"communication", containsAny("comunicacion", "comunicación", "com.")},
	{"power", containsAny("ups")},
	{"protection", containsAny("rele", "relé", "cpm")},
	{"measurement", containsAny("contador", "cont")},
}

func containsAny(words ...string) func(string) bool {
	return func(s string) bool {
		for _, w := range words {
			if strings.Contains(s, w) {
				return true
			}
		}
		return false
	}
}

// AlarmType classifies the alert by keywords of its name and summary.
func AlarmType(a Alert) string {
	text := strings.ToLower(a.Labels["alertname"] + " " + a.Annotations["summary"])
	for _, r := range typeRules {
		if r.match(text) {
			return r.kind
		}
	}
	return "general"
}

// DeviceCode extracts a device code such as INV01 or TRK15 from an alert
// name, padding the number to two digits. It returns "" when there is none.
func DeviceCode(alertname string) string {
	m := devicePattern.FindStringSubmatch(alertname)
	if m == nil {
		return ""
	}
	num := m[2]
	if len(num) < 2 {
		num = "0" + num
	}
	return strings.ToUpper(m[1]) + num
}

// MapAlert normalises an alert. ok is false for alerts that are not firing
// or that belong to no known plant.
func MapAlert(a Alert, now time.Time) (Alarm, bool) {
	if !a.Active() {
		return Alarm{}, false
	}
	plant := PlantFromAlert(a)
	if plant == "" {
		return Alarm{}, false
	}

	name := a.Labels["alertname"]
	message := firstNonEmpty(a.Annotations["summary"], a.Annotations["description"], name, "Alarma activa")
	timestamp := a.StartsAt
	if timestamp == "" {
		timestamp = now.UTC().Format(time.RFC3339)
	}

	return Alarm{
		ID:          fmt.Sprintf("%s_%s_%s", plant, name, a.Fingerprint),
		Plant:       plant,
		Severity:    SeverityFromPriority(a.Labels["Prioridad"]),
		Type:        AlarmType(a),
		Message:     message,
		Description: a.Annotations["description"],
		Timestamp:   timestamp,
		Device:      DeviceCode(name),
		Source: &SourceAlert{
			RuleID:       name,
			Fingerprint:  a.Fingerprint,
			GeneratorURL: a.GeneratorURL,
			Priority:     a.Labels["Prioridad"],
			Folder:       a.Labels["folder"],
		},
	}, true
}

// MapAlerts normalises every firing alert of a known plant.
func MapAlerts(alerts []Alert, now time.Time) []Alarm {
	alarms := make([]Alarm, 0, len(alerts))
	for _, a := range alerts {
		if alarm, ok := MapAlert(a, now); ok {
			alarms = append(alarms, alarm)
		}
	}
	return alarms
}

// FallbackAlarms is the alarm list reported when the alert manager cannot
// be reached.
func FallbackAlarms(now time.Time) []Alarm {
	return []Alarm{{
		ID:        "FALLBACK_CONNECTION_ERROR",
		Plant:     SystemPlant,
		Severity:  SeverityWarning,
		Type:      "communication",
		Message:   "No se pudo conectar con Grafana",
		Timestamp: now.UTC().Format(time.RFC3339),
		Source:    &SourceAlert{RuleID: "connection_fallback", Fingerprint: "fallback_001"},
	}}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
