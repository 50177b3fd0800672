package webhooks

import (
	"time"

	"github.com/rshade/fleetscale/internal/autoscaler"
)

// SamplePayload is a pushed fleet utilization reading.
type SamplePayload struct {
	// Utilization is the mean CPU utilization of the fleet, in percent.
	Utilization *float64 `json:"utilization"`

	// At defaults to the receive time when omitted.
	At time.Time `json:"at,omitempty"`

	// Source is free-form metadata for logging, e.g. "node-exporter".
	Source string `json:"source,omitempty"`
}

// SampleRecorder accepts pushed utilization readings.
type SampleRecorder interface {
	Record(at time.Time, utilization float64) error
}

// StatusProvider exposes the controller's current state.
type StatusProvider interface {
	Status() autoscaler.Status
}
