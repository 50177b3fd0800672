package autoscaler

import (
	"fmt"
	"time"
)

// CapacityBounds are the hard guardrails for desired capacity.
type CapacityBounds struct {
	Min int `mapstructure:"min" json:"min" validate:"gte=0"`
	Max int `mapstructure:"max" json:"max" validate:"gtefield=Min"`
}

// Clamp returns n limited to [Min, Max].
func (b CapacityBounds) Clamp(n int) int {
	if n < b.Min {
		return b.Min
	}
	if n > b.Max {
		return b.Max
	}
	return n
}

// StepRule maps a utilization band (Lower, Upper] to a capacity delta.
// A nil bound is unbounded on that side.
type StepRule struct {
	Lower *float64 `mapstructure:"lower" json:"lower,omitempty"`
	Upper *float64 `mapstructure:"upper" json:"upper,omitempty"`
	Delta int      `mapstructure:"delta" json:"delta"`
}

// DeadZone is a declared utilization band in which no step rule fires.
type DeadZone struct {
	Lower *float64 `mapstructure:"lower" json:"lower,omitempty"`
	Upper *float64 `mapstructure:"upper" json:"upper,omitempty"`
}

// ScheduleRule raises (or releases) a capacity floor at each cron instant.
type ScheduleRule struct {
	Name string `mapstructure:"name" json:"name" validate:"required"`

	// Cron is a standard five-field expression or a descriptor like "@daily".
	Cron string `mapstructure:"cron" json:"cron" validate:"required"`

	// TimeZone is an IANA zone name, e.g. "Asia/Tokyo". Empty means UTC.
	TimeZone string `mapstructure:"timeZone" json:"timeZone"`

	Floor int `mapstructure:"floor" json:"floor" validate:"gte=0"`

	// Group ties rules together; the latest fire in a group sets its floor.
	// Defaults to Name.
	Group string `mapstructure:"group" json:"group"`
}

// GroupName returns the group the rule's floor is tracked under.
func (r ScheduleRule) GroupName() string {
	if r.Group != "" {
		return r.Group
	}
	return r.Name
}

// Trigger identifies what started a reconciliation.
type Trigger string

const (
	TriggerMetric   Trigger = "metric"
	TriggerSchedule Trigger = "schedule"
	TriggerStartup  Trigger = "startup"
)

// Outcome is the result of one reconciliation.
type Outcome string

const (
	OutcomeApplied      Outcome = "applied"
	OutcomeUnchanged    Outcome = "unchanged"
	OutcomeCooldown     Outcome = "cooldown"
	OutcomeRetryPending Outcome = "retry-pending"
	OutcomeFailed       Outcome = "failed"
)

// Fire is a single schedule rule firing.
type Fire struct {
	Rule  string    `json:"rule"`
	Group string    `json:"group"`
	Floor int       `json:"floor"`
	At    time.Time `json:"at"`
}

// Event is a trigger delivered to the controller loop.
type Event struct {
	Trigger     Trigger
	At          time.Time
	Utilization float64
	Fire        *Fire
}

// Decision records everything about one reconciliation, for logs and the journal.
type Decision struct {
	ID            string    `json:"id"`
	Trigger       Trigger   `json:"trigger"`
	At            time.Time `json:"at"`
	Utilization   *float64  `json:"utilization,omitempty"`
	Delta         int       `json:"delta"`
	ScheduleFloor int       `json:"scheduleFloor"`
	Previous      int       `json:"previous"`
	Candidate     int       `json:"candidate"`
	Desired       int       `json:"desired"`
	Outcome       Outcome   `json:"outcome"`
	Reason        string    `json:"reason,omitempty"`
}

// ConfigError is a fatal configuration problem found at load time.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}
