// Package types defines the JSON shapes served by the bridge's diagnostic API.
package types

// HealthResponse is the response from /health
type HealthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Uptime    int64  `json:"uptime"`
	Timestamp string `json:"timestamp"`
}

// Session is one live call as reported by /sessions. It never carries the
// control channel or any credential.
type Session struct {
	CallID          string           `json:"call_id"`
	SessionID       string           `json:"session_id"`
	State           string           `json:"state"`
	Direction       string           `json:"direction"`
	CreatedAt       string           `json:"created_at"`
	UpdatedAt       string           `json:"updated_at,omitempty"`
	PendingTransfer *PendingTransfer `json:"pending_transfer,omitempty"`
}

// PendingTransfer describes a referral still awaiting its outcome.
type PendingTransfer struct {
	ID          string `json:"id"`
	TargetKey   string `json:"target_key"`
	Destination string `json:"destination"`
	RequestedAt string `json:"requested_at"`
}

// SessionsResponse is the response from /sessions
type SessionsResponse struct {
	ActiveSessions int       `json:"active_sessions"`
	Timestamp      string    `json:"timestamp"`
	Sessions       []Session `json:"sessions"`
}

// ErrorResponse is returned for unmatched routes and webhook lookups that fail.
type ErrorResponse struct {
	Error string `json:"error"`
}
