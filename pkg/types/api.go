package types

import "time"

// ConnectionStatus is the wire form of the session state for /status.
type ConnectionStatus struct {
	// Manager endpoint, host:port.
	Endpoint string `json:"endpoint"`
	// connecting | connected | disconnected | reconnecting.
	Phase string `json:"phase"`
	// Set while disconnected.
	Since  *time.Time `json:"since,omitempty"`
	Reason string     `json:"reason,omitempty"`
	// Reconnect attempt counter while reconnecting.
	Attempt int `json:"attempt,omitempty"`
}

// PositionStatus summarizes one position for /positions and /status.
type PositionStatus struct {
	Position Position `json:"position"`
	RunState RunState `json:"run_state"`
	RunID    string   `json:"run_id,omitempty"`
	// Last per-position refresh failure, if any. A failure here never
	// tears down the session; stale data stays visible.
	LastError string `json:"last_error,omitempty"`
	// Nil until the first successful stats read of an active run.
	Stats      *StatsSnapshot `json:"stats,omitempty"`
	PoreCounts *PoreCounts    `json:"pore_counts,omitempty"`
	UpdatedAt  time.Time      `json:"updated_at,omitempty"`
}

// StatusResponse is the payload of GET /status.
type StatusResponse struct {
	Connection ConnectionStatus `json:"connection"`
	Positions  []PositionStatus `json:"positions"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}
