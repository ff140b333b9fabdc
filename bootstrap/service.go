package bootstrap

import "context"

// Service is one unit the lifecycle manages. Start must return only
// once the service is usable; Stop must release everything Start
// claimed. Both receive a context carrying the operation timeout.
type Service interface {
	// Name identifies the service in logs and health reports.
	Name() string

	// Start brings the service up.
	Start(ctx context.Context) error

	// Stop brings the service down.
	Stop(ctx context.Context) error

	// Health reports the service's current condition.
	Health(ctx context.Context) (HealthStatus, error)
}

// HealthState classifies a service's condition.
type HealthState string

const (
	// HealthUnknown means the service has not been checked.
	HealthUnknown HealthState = "unknown"

	// HealthHealthy means the service is operating normally.
	HealthHealthy HealthState = "healthy"

	// HealthUnhealthy means the service is degraded or failing.
	HealthUnhealthy HealthState = "unhealthy"

	// HealthStopped means the service is not running.
	HealthStopped HealthState = "stopped"
)

// HealthStatus is one service's health report.
type HealthStatus struct {
	// State classifies the condition.
	State HealthState `json:"state"`

	// Message carries detail, usually only when not healthy.
	Message string `json:"message,omitempty"`
}
