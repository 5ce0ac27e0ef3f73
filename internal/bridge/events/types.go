// Package events defines the audit trail of session lifecycle changes and the
// publishers that carry it.
package events

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType identifies a session lifecycle event.
type EventType string

const (
	SessionOpened            EventType = "session.opened"
	SessionDialing           EventType = "session.dialing"
	SessionBridged           EventType = "session.bridged"
	SessionTransferring      EventType = "session.transferring"
	SessionTransferCompleted EventType = "session.transfer_completed"
	SessionTransferFailed    EventType = "session.transfer_failed"
	SessionReferRelayed      EventType = "session.refer_relayed"
	SessionClosed            EventType = "session.closed"
)

// SubjectPrefix roots every subject.
const SubjectPrefix = "voicebridge.sessions"

// Suffix is the last subject token for t, e.g. "transfer_completed".
func (t EventType) Suffix() string {
	s := string(t)
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '.' {
			return s[i+1:]
		}
	}
	return s
}

// Subject builds voicebridge.sessions.<call_id>.<suffix>.
func Subject(callID string, t EventType) string {
	return fmt.Sprintf("%s.%s.%s", SubjectPrefix, callID, t.Suffix())
}

// Event is anything a Publisher can carry.
type Event interface {
	Type() EventType
	Subject() string
	Timestamp() time.Time
	CallID() string
}

// SessionEvent records one state change of one session.
type SessionEvent struct {
	EventID    string    `json:"event_id"`
	EventType  EventType `json:"event_type"`
	EventTime  time.Time `json:"event_time"`
	Call       string    `json:"call_id"`
	SessionID  string    `json:"session_id"`
	Direction  string    `json:"direction,omitempty"`
	PriorState string    `json:"prior_state,omitempty"`
	State      string    `json:"state"`
	Trigger    string    `json:"trigger"`
	Action     string    `json:"action,omitempty"`

	TargetKey   string `json:"target_key,omitempty"`
	Destination string `json:"destination,omitempty"`
	Status      string `json:"status,omitempty"`
	SIPStatus   int    `json:"sip_status,omitempty"`
	Error       string `json:"error,omitempty"`
}

// NewSessionEvent stamps a new event with an id and the current time.
func NewSessionEvent(t EventType, callID, sessionID string) *SessionEvent {
	return &SessionEvent{
		EventID:   uuid.NewString(),
		EventType: t,
		EventTime: time.Now().UTC(),
		Call:      callID,
		SessionID: sessionID,
	}
}

func (e *SessionEvent) Type() EventType      { return e.EventType }
func (e *SessionEvent) Subject() string      { return Subject(e.Call, e.EventType) }
func (e *SessionEvent) Timestamp() time.Time { return e.EventTime }
func (e *SessionEvent) CallID() string       { return e.Call }
