package http

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse is the response body for GET /ready.
type ReadyResponse struct {
	Status string `json:"status"` // "ready" or "unavailable"
	Error  string `json:"error,omitempty"`
}

// StatusResponse is the response body for GET /api/v1/status.
type StatusResponse struct {
	Status  string         `json:"status"`
	Version string         `json:"version,omitempty"`
	Jobs    map[string]int `json:"jobs"` // Job count by state
	Total   int            `json:"total"`
}
