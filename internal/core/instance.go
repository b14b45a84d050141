package core

import (
	"fmt"
	"time"
)

// HealthState is the probe-derived state of an instance.
type HealthState int

const (
	HealthUnknown HealthState = iota
	HealthHealthy
	HealthUnhealthy
)

// String returns the string representation of the state
func (s HealthState) String() string {
	switch s {
	case HealthHealthy:
		return "healthy"
	case HealthUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler
func (s HealthState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *HealthState) UnmarshalText(text []byte) error {
	switch string(text) {
	case "healthy":
		*s = HealthHealthy
	case "unhealthy":
		*s = HealthUnhealthy
	case "unknown", "":
		*s = HealthUnknown
	default:
		return fmt.Errorf("unknown health state %q", text)
	}
	return nil
}

// ServiceInstance represents one running deployment of a logical service
type ServiceInstance struct {
	ID                 string      `json:"id"`
	Name               string      `json:"name"`
	Address            string      `json:"address"`
	HealthCheckAddress string      `json:"healthCheckAddress"`
	State              HealthState `json:"state"`
	// Live reports membership in the live set. An instance joins on its
	// first successful probe and leaves once evicted.
	Live                bool              `json:"live"`
	Evicted             bool              `json:"evicted"`
	ConsecutiveFailures int               `json:"consecutiveFailures"`
	LastProbe           time.Time         `json:"lastProbe,omitzero"`
	LastError           string            `json:"lastError,omitempty"`
	RegisteredAt        time.Time         `json:"registeredAt"`
	Metadata            map[string]string `json:"metadata,omitempty"`
}

// ProbeResult is the outcome of a single liveness probe.
type ProbeResult struct {
	// Seq increases with every probe a monitor issues for an instance.
	Seq         uint64
	Healthy     bool
	StartedAt   time.Time
	CompletedAt time.Time
	Err         error
}

// Latency returns the probe round-trip duration.
func (r ProbeResult) Latency() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

// HealthEvent describes a change to an instance's registry record.
type HealthEvent struct {
	Type     HealthEventType `json:"type"`
	Instance ServiceInstance `json:"instance"`
	At       time.Time       `json:"at"`
}

// HealthEventType enumerates registry transitions.
type HealthEventType string

const (
	EventRegistered   HealthEventType = "registered"
	EventDeregistered HealthEventType = "deregistered"
	EventHealthy      HealthEventType = "healthy"
	EventUnhealthy    HealthEventType = "unhealthy"
	EventEvicted      HealthEventType = "evicted"
	EventRestored     HealthEventType = "restored"
)
