package banner

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrintAlignsLabels(t *testing.T) {
	var buf bytes.Buffer
	Print(&buf, "Voice Bridge", []ConfigLine{
		{Label: "HTTP", Value: "0.0.0.0:3000"},
		{Label: "Agent trunk", Value: "retell"},
		{Label: "Country", Value: ""},
	})

	out := buf.String()
	assert.Contains(t, out, "Voice Bridge\n")
	assert.Contains(t, out, "  HTTP        : 0.0.0.0:3000\n")
	assert.Contains(t, out, "  Agent trunk : retell\n")
	assert.Contains(t, out, "  Country     : -\n")
	assert.True(t, strings.HasSuffix(out, "Ready.\n"+rule+"\n\n"))
}
