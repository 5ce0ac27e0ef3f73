// Package control implements the call-control websocket protocol spoken with
// the telephony control plane: one websocket per call, JSON frames, inbound
// session/hook messages and outbound ack/command frames carrying verbs.
package control

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Subprotocol is negotiated on the websocket upgrade.
const Subprotocol = "ws.jambonz.org"

// Inbound message types.
const (
	TypeSessionNew = "session:new"
	TypeVerbHook   = "verb:hook"
	TypeVerbStatus = "verb:status"
	TypeCallStatus = "call:status"
	TypeError      = "jambonz:error"
)

// Hook paths this bridge arms on the verbs it issues.
const (
	HookRefer          = "/refer"
	HookDialAction     = "/dialAction"
	HookTransferAction = "/transferActionHook"
)

// Message is an inbound frame from the control plane.
type Message struct {
	Type    string          `json:"type"`
	MsgID   string          `json:"msgid"`
	CallSID string          `json:"call_sid,omitempty"`
	Hook    string          `json:"hook,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Decode unmarshals Data into v.
func (m Message) Decode(v any) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("%s message %s has no data", m.Type, m.MsgID)
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("decode %s data: %w", m.Type, err)
	}
	return nil
}

// SessionNew is the payload of session:new.
type SessionNew struct {
	CallSID    string  `json:"call_sid"`
	CallID     string  `json:"call_id"`
	SBCCallID  string  `json:"sbc_callid"`
	Direction  string  `json:"direction"`
	From       string  `json:"from"`
	To         string  `json:"to"`
	CallerName string  `json:"caller_name,omitempty"`
	SIP        SIPInfo `json:"sip"`
}

// SIPInfo carries the initial INVITE's headers.
type SIPInfo struct {
	Headers map[string]string `json:"headers"`
}

// Header returns a SIP header value, matching the name case-insensitively.
func (s SIPInfo) Header(name string) string {
	if v, ok := s.Headers[name]; ok {
		return v
	}
	for k, v := range s.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// ReferHook is the payload of the referHook armed on dial.
type ReferHook struct {
	To           string       `json:"to"`
	ReferDetails ReferDetails `json:"refer_details"`
}

// ReferDetails describes a REFER received from the far end.
type ReferDetails struct {
	ReferToUser string `json:"refer_to_user"`
	ReferredBy  string `json:"referred_by,omitempty"`
	ReferToHost string `json:"refer_to_host,omitempty"`
}

// DialAction is the payload of the dial actionHook.
type DialAction struct {
	DialCallStatus string `json:"dial_call_status"`
	DialSIPStatus  int    `json:"dial_sip_status,omitempty"`
	DialCallSID    string `json:"dial_call_sid,omitempty"`
}

// TransferAction is the payload of the sip:refer actionHook.
type TransferAction struct {
	ReferStatus             int `json:"referStatus"`
	FinalReferredCallStatus int `json:"final_referred_call_status,omitempty"`
}

// Accepted reports whether the far end accepted the referral.
func (t TransferAction) Accepted() bool {
	return t.ReferStatus >= 200 && t.ReferStatus < 300
}

// CallStatus is the payload of call:status.
type CallStatus struct {
	CallStatus string `json:"call_status"`
	SIPStatus  int    `json:"sip_status,omitempty"`
}

// ErrorData is the payload of jambonz:error.
type ErrorData struct {
	Error string `json:"error"`
}

// Command is an outbound frame.
type Command struct {
	Type         string `json:"type"`
	MsgID        string `json:"msgid,omitempty"`
	Command      string `json:"command,omitempty"`
	QueueCommand bool   `json:"queueCommand,omitempty"`
	Data         []Verb `json:"data,omitempty"`
}

// Ack answers an inbound message (session:new or a hook), optionally with verbs.
func Ack(msgID string, verbs ...Verb) Command {
	return Command{Type: "ack", MsgID: msgID, Data: verbs}
}

// Redirect replaces the call's current application with verbs.
func Redirect(verbs ...Verb) Command {
	return Command{Type: "command", Command: "redirect", Data: verbs}
}

// Describe renders a command for logs: "ack[dial,hangup]".
func (c Command) Describe() string {
	name := c.Type
	if c.Command != "" {
		name = c.Command
	}
	parts := make([]string, len(c.Data))
	for i, v := range c.Data {
		parts[i] = v.VerbName()
	}
	return name + "[" + strings.Join(parts, ",") + "]"
}
