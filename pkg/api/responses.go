package api

// StatusResponse acknowledges a control command.
type StatusResponse struct {
	Status string `json:"status"`
}

// HealthCheck is the status of one checked component.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status      string                 `json:"status"`
	Version     string                 `json:"version,omitempty"`
	LiveEngines int                    `json:"liveEngines"`
	Checks      map[string]HealthCheck `json:"checks"`
}
