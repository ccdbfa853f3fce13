package models

// Response sources.
const (
	SourceInfluxDB = "influxdb"
	SourceCache    = "cache"
	SourceFallback = "fallback"
	SourceEnvError = "env_error"
	SourceGrafana  = "grafana"
)

// HealthResponse represents health check response
type HealthResponse struct {
	Status            string `json:"status"`
	Timestamp         string `json:"timestamp"`
	Version           string `json:"version"`
	InfluxConfigured  bool   `json:"influxConfigured"`
	GrafanaConfigured bool   `json:"grafanaConfigured"`
	Breaker           string `json:"breaker,omitempty"`
}

// Status is embedded in every dashboard response.
type Status struct {
	Success bool   `json:"success"`
	Source  string `json:"source,omitempty"`
	Error   string `json:"error,omitempty"`
	// Missing lists the environment variables to set when Source is env_error.
	Missing []string `json:"missing,omitempty"`
}

// OK is a successful status from source.
func OK(source string) Status {
	return Status{Success: true, Source: source}
}

// Failed is an unsuccessful status.
func Failed(source, message string) Status {
	return Status{Success: false, Source: source, Error: message}
}

// ErrorResponse represents error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Path      string                 `json:"path,omitempty"`
	RequestID string                 `json:"requestId,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}
