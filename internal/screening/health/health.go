// Package health provides system health monitoring and the operational
// HTTP endpoints.
package health

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy   SystemStatus = "healthy"
	StatusDegraded  SystemStatus = "degraded"
	StatusUnhealthy SystemStatus = "unhealthy"
)

// ComponentHealth describes the state of a single subsystem.
type ComponentHealth struct {
	Name   string       `json:"name"`
	Status SystemStatus `json:"status"`
	Detail string       `json:"detail,omitempty"`
}

// Report contains the full system health report.
type Report struct {
	Status     SystemStatus               `json:"status"`
	Paused     bool                       `json:"paused"`
	Components map[string]ComponentHealth `json:"components"`
}
