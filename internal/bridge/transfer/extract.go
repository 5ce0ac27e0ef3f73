package transfer

import (
	"strconv"
	"strings"
)

// CallContext is the voice-agent platform's description of the call that
// invoked the transfer tool.
type CallContext struct {
	CallID           string         `json:"call_id,omitempty"`
	CustomSIPHeaders map[string]any `json:"custom_sip_headers,omitempty"`
	DynamicVariables map[string]any `json:"retell_llm_dynamic_variables,omitempty"`
}

// IDSource says where a call id was found.
type IDSource string

const (
	SourceSIPHeader       IDSource = "custom_sip_headers.x-cid"
	SourceDynamicVariable IDSource = "retell_llm_dynamic_variables.cid"
)

const (
	callIDHeader   = "x-cid"
	callIDVariable = "cid"
)

// ExtractCallID finds the control-plane call id. The x-cid SIP header is
// preferred over the cid dynamic variable.
func ExtractCallID(c CallContext) (string, IDSource, bool) {
	if id := headerValue(c.CustomSIPHeaders, callIDHeader); id != "" {
		return id, SourceSIPHeader, true
	}
	if id := stringValue(c.DynamicVariables[callIDVariable]); id != "" {
		return id, SourceDynamicVariable, true
	}
	return "", "", false
}

// headerValue matches SIP header names case-insensitively.
func headerValue(headers map[string]any, name string) string {
	if v := stringValue(headers[name]); v != "" {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return stringValue(v)
		}
	}
	return ""
}

func stringValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}
