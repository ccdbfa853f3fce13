// Package alerting produces the plant alarm list, either from the alert
// manager of the monitoring backend or from thresholds applied to the
// latest plant readings.
package alerting

import "sort"

// Severities, from most to least urgent.
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"
)

// SystemPlant owns alarms that concern the dashboard itself.
const SystemPlant = "SYSTEM"

// Plants always present in a grouped alarm list.
var Plants = []string{"LAMAJA", "RETAMAR"}

// Alarm is a normalised alarm record.
type Alarm struct {
	ID          string       `json:"id"`
	Plant       string       `json:"plant"`
	Severity    string       `json:"severity"`
	Type        string       `json:"type"`
	Message     string       `json:"message"`
	Description string       `json:"description,omitempty"`
	Timestamp   string       `json:"timestamp"`
	Device      string       `json:"device,omitempty"`
	Value       *float64     `json:"value"`
	Threshold   *float64     `json:"threshold"`
	Source      *SourceAlert `json:"grafanaData,omitempty"`
}

// SourceAlert keeps the identifiers of the upstream alert.
type SourceAlert struct {
	RuleID       string `json:"ruleId"`
	Fingerprint  string `json:"fingerprint"`
	GeneratorURL string `json:"generatorURL,omitempty"`
	Priority     string `json:"priority,omitempty"`
	Folder       string `json:"folder,omitempty"`
}

// Summary counts alarms per severity.
type Summary struct {
	Critical int `json:"critical"`
	Warning  int `json:"warning"`
	Info     int `json:"info"`
	Total    int `json:"total"`
}

// Report is an alarm list with its grouping and summary.
type Report struct {
	Alarms      []Alarm            `json:"alarms"`
	PlantAlarms map[string][]Alarm `json:"plantAlarms"`
	Summary     Summary            `json:"summary"`
}

// NewReport groups and summarises alarms, most severe first.
func NewReport(alarms []Alarm) Report {
	if alarms == nil {
		alarms = []Alarm{}
	}
	sort.SliceStable(alarms, func(i, j int) bool {
		return severityRank(alarms[i].Severity) < severityRank(alarms[j].Severity)
	})
	return Report{
		Alarms:      alarms,
		PlantAlarms: GroupByPlant(alarms),
		Summary:     Summarize(alarms),
	}
}

// GroupByPlant keys alarms by plant. Every plant of Plants is present, and
// alarms of other plants get their own key.
func GroupByPlant(alarms []Alarm) map[string][]Alarm {
	groups := make(map[string][]Alarm, len(Plants))
	for _, p := range Plants {
		groups[p] = []Alarm{}
	}
	for _, a := range alarms {
		groups[a.Plant] = append(groups[a.Plant], a)
	}
	return groups
}

// Summarize counts alarms per severity.
func Summarize(alarms []Alarm) Summary {
	s := Summary{Total: len(alarms)}
	for _, a := range alarms {
		switch a.Severity {
		case SeverityCritical:
			s.Critical++
		case SeverityWarning:
			s.Warning++
		case SeverityInfo:
			s.Info++
		}
	}
	return s
}

func severityRank(s string) int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityWarning:
		return 1
	case SeverityInfo:
		return 2
	default:
		return 3
	}
}

func float(v float64) *float64 { return &v }
