package control

import (
	"bytes"
	"encoding/json"
)

// Verb is one call-control instruction. Verbs marshal with a "verb" discriminator.
type Verb interface {
	VerbName() string
}

// Target is a dial destination.
type Target struct {
	Type   string `json:"type"` // "phone" or "sip"
	Number string `json:"number,omitempty"`
	SIPURI string `json:"sipUri,omitempty"`
	Trunk  string `json:"trunk,omitempty"`
}

// Dial bridges the caller to a new leg.
type Dial struct {
	CallerID       string            `json:"callerId,omitempty"`
	AnswerOnBridge bool              `json:"answerOnBridge"`
	AnchorMedia    bool              `json:"anchorMedia"`
	ReferHook      string            `json:"referHook,omitempty"`
	ActionHook     string            `json:"actionHook,omitempty"`
	Target         []Target          `json:"target"`
	Headers        map[string]string `json:"headers,omitempty"`
}

// Hangup ends the call.
type Hangup struct {
	Headers map[string]string `json:"headers,omitempty"`
}

// SIPRefer sends a REFER on the caller's leg.
type SIPRefer struct {
	ReferTo    string `json:"referTo"`
	ReferredBy string `json:"referredBy,omitempty"`
	ActionHook string `json:"actionHook,omitempty"`
	EventHook  string `json:"eventHook,omitempty"`
}

// Say speaks text to the caller.
type Say struct {
	Text string `json:"text"`
}

// Pause inserts silence. Length is in seconds.
type Pause struct {
	Length float64 `json:"length"`
}

func (Dial) VerbName() string     { return "dial" }
func (Hangup) VerbName() string   { return "hangup" }
func (SIPRefer) VerbName() string { return "sip:refer" }
func (Say) VerbName() string      { return "say" }
func (Pause) VerbName() string    { return "pause" }

func (v Dial) MarshalJSON() ([]byte, error) {
	type plain Dial
	return marshalVerb(v.VerbName(), plain(v))
}

func (v Hangup) MarshalJSON() ([]byte, error) {
	type plain Hangup
	return marshalVerb(v.VerbName(), plain(v))
}

func (v SIPRefer) MarshalJSON() ([]byte, error) {
	type plain SIPRefer
	return marshalVerb(v.VerbName(), plain(v))
}

func (v Say) MarshalJSON() ([]byte, error) {
	type plain Say
	return marshalVerb(v.VerbName(), plain(v))
}

func (v Pause) MarshalJSON() ([]byte, error) {
	type plain Pause
	return marshalVerb(v.VerbName(), plain(v))
}

// marshalVerb splices {"verb":name} in front of the struct's own fields.
func marshalVerb(name string, v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	head, err := json.Marshal(name)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteString(`{"verb":`)
	buf.Write(head)
	if len(body) > 2 {
		buf.WriteByte(',')
		buf.Write(body[1:])
	} else {
		buf.WriteByte('}')
	}
	return buf.Bytes(), nil
}
