package directory

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveExactMatch(t *testing.T) {
	d, err := New([]Entry{
		{Key: "billing team", Destination: "+15551230000"},
		{Key: "spanish queue", Destination: "sip:9502@pbx.example.com"},
	})
	require.NoError(t, err)

	e, ok := d.Resolve("billing team")
	require.True(t, ok)
	assert.Equal(t, KindPhone, e.Kind)
	assert.Equal(t, "+15551230000", e.Destination)

	e, ok = d.Resolve("spanish queue")
	require.True(t, ok)
	assert.Equal(t, KindSIP, e.Kind)

	for _, key := range []string{"Billing Team", "billing", "billing team ", "unknown team", ""} {
		_, ok := d.Resolve(key)
		assert.False(t, ok, "key %q must not resolve", key)
	}
}

func TestNewRejectsInvalidEntries(t *testing.T) {
	cases := map[string][]Entry{
		"duplicate":   {{Key: "a", Destination: "+1"}, {Key: "a", Destination: "+2"}},
		"empty key":   {{Destination: "+1"}},
		"bad phone":   {{Key: "a", Kind: KindPhone, Destination: "12ab"}},
		"bad kind":    {{Key: "a", Kind: "fax", Destination: "+1"}},
		"no sip host": {{Key: "a", Kind: KindSIP, Destination: "sip:"}},
	}
	for name, entries := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := New(entries)
			assert.Error(t, err)
		})
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "destinations.yaml")
	doc := `version: "1"
destinations:
  - key: billing team
    kind: phone
    destination: "+15551230000"
  - key: front desk
    destination: sip:100@pbx.example.com
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	d, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, d.Len())
	assert.Equal(t, []string{"billing team", "front desk"}, d.Keys())

	e, ok := d.Resolve("front desk")
	require.True(t, ok)
	assert.Equal(t, KindSIP, e.Kind)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestDefault(t *testing.T) {
	d := Default()
	assert.Equal(t, len(defaultKeys), d.Len())

	e, ok := d.Resolve("billing team")
	require.True(t, ok)
	assert.Equal(t, humanQueue, e.Destination)
	assert.Equal(t, KindSIP, e.Kind)
}
