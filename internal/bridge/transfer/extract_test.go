package transfer

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestExtractCallID(t *testing.T) {
	tests := []struct {
		name   string
		ctx    CallContext
		id     string
		source IDSource
		ok     bool
	}{
		{"header", CallContext{CustomSIPHeaders: map[string]any{"x-cid": "h1"}}, "h1", SourceSIPHeader, true},
		{"header case", CallContext{CustomSIPHeaders: map[string]any{"X-CID": "h1"}}, "h1", SourceSIPHeader, true},
		{"variable", CallContext{DynamicVariables: map[string]any{"cid": "v1"}}, "v1", SourceDynamicVariable, true},
		{"empty header falls back", CallContext{
			CustomSIPHeaders: map[string]any{"x-cid": " "},
			DynamicVariables: map[string]any{"cid": "v1"},
		}, "v1", SourceDynamicVariable, true},
		{"numeric variable", CallContext{DynamicVariables: map[string]any{"cid": float64(42)}}, "42", SourceDynamicVariable, true},
		{"large numeric variable", CallContext{DynamicVariables: map[string]any{"cid": float64(12345678)}}, "12345678", SourceDynamicVariable, true},
		{"fractional numeric variable", CallContext{DynamicVariables: map[string]any{"cid": 1.5}}, "1.5", SourceDynamicVariable, true},
		{"nothing", CallContext{CallID: "agent-call"}, "", "", false},
		{"wrong keys", CallContext{
			CustomSIPHeaders: map[string]any{"x-call-id": "h1"},
			DynamicVariables: map[string]any{"call_id": "v1"},
		}, "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, source, ok := ExtractCallID(tt.ctx)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.id, id)
			assert.Equal(t, tt.source, source)
		})
	}
}

func TestExtractPrefersHeaderProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("x-cid header always wins over cid variable", prop.ForAll(
		func(header, variable string) bool {
			id, source, ok := ExtractCallID(CallContext{
				CustomSIPHeaders: map[string]any{"x-cid": header},
				DynamicVariables: map[string]any{"cid": variable},
			})
			return ok && id == header && source == SourceSIPHeader
		},
		gen.Identifier(),
		gen.Identifier(),
	))

	properties.TestingRun(t)
}
