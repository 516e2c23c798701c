package models

import "time"

// ConnectionState describes the widget's view of answer-service reachability. It is process-wide
// per widget instance and starts as ConnectionDisconnected.
type ConnectionState string

const (
	// ConnectionDisconnected means no candidate endpoint responded to the last check.
	ConnectionDisconnected ConnectionState = "disconnected"
	// ConnectionChecking means a reachability check is in flight.
	ConnectionChecking ConnectionState = "checking"
	// ConnectionConnected means at least one candidate endpoint responded.
	ConnectionConnected ConnectionState = "connected"
)

// ConnectionStatus pairs the connection state with the start time of the last authoritative check.
type ConnectionStatus struct {
	State       ConnectionState `json:"state"`
	LastChecked time.Time       `json:"lastChecked,omitempty"`
}
