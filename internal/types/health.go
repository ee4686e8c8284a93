// Package types - Node health status definitions
package types

import "time"

// HealthStatus represents the reachability of a ledger node as seen by the
// health probe.
type HealthStatus string

const (
	// HealthOnline - Node answered GET /health with a 2xx status and a
	// decodable body.
	HealthOnline HealthStatus = "online"

	// HealthDegraded - Node answered, but with a non-2xx status or a body that
	// could not be decoded. The node is not counted as reachable.
	HealthDegraded HealthStatus = "degraded"

	// HealthOffline - Connection failed or the probe timed out.
	HealthOffline HealthStatus = "offline"

	// HealthUnknown - No probe has completed yet.
	HealthUnknown HealthStatus = "unknown"
)

// NodeHealth is the outcome of the most recent probe of one node.
type NodeHealth struct {
	Address     string        `json:"address"`
	Reachable   bool          `json:"reachable"`
	BlockHeight *int          `json:"block_height"` // nil when unreachable
	Status      HealthStatus  `json:"status"`
	Error       string        `json:"error,omitempty"`
	Latency     time.Duration `json:"latency"`
	CheckedAt   time.Time     `json:"checked_at"`
}

// UnknownHealth returns the placeholder health for a node that has not been
// probed yet.
func UnknownHealth(address string) NodeHealth {
	return NodeHealth{Address: address, Status: HealthUnknown}
}

// HealthDescription returns a human-readable description of the health status
func HealthDescription(status HealthStatus) string {
	switch status {
	case HealthOnline:
		return "Online"
	case HealthDegraded:
		return "Responding with errors"
	case HealthOffline:
		return "Offline"
	case HealthUnknown:
		return "Status unknown"
	default:
		return "Unknown"
	}
}
