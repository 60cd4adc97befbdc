package storage

import (
	"context"
	"time"
)

// HealthChecker reports nil when the backend is reachable.
type HealthChecker func() error

// Client is implemented by every backend client.
type Client interface {
	// Name returns the backend type, e.g. "redis".
	Name() string
	// Ping verifies connectivity.
	Ping(ctx context.Context) error
	// Close releases the connection. It must be safe to call more than once.
	Close() error
	// Health returns a checker bound to a default timeout.
	Health() HealthChecker
}

// HealthStatus is the result of a single health check.
type HealthStatus struct {
	Name    string        `json:"name"`
	Healthy bool          `json:"healthy"`
	Latency time.Duration `json:"latency"`
	Error   error         `json:"-"`
}

// ErrorString returns the error text or an empty string.
func (s HealthStatus) ErrorString() string {
	if s.Error == nil {
		return ""
	}
	return s.Error.Error()
}
