package api

import (
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func postHook(t *testing.T, url string) (int, []map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, nil
	}
	var verbs []map[string]any
	require.NoError(t, json.Unmarshal(data, &verbs))
	return resp.StatusCode, verbs
}

func TestCallHookDefaultQueue(t *testing.T) {
	ts := newTestServer(t, Options{})

	status, verbs := postHook(t, ts.URL+PathWebhookCallHook)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, verbs, 1)
	assert.Equal(t, "dial", verbs[0]["verb"])
	assert.Equal(t, PathWebhookDialAction, verbs[0]["actionHook"])

	target := verbs[0]["target"].([]any)[0].(map[string]any)
	assert.Equal(t, "sip", target["type"])
	assert.Equal(t, "sip:9502@smdcc.fusionnetworks.net", target["sipUri"])
}

func TestCallHookResolvesTargetKey(t *testing.T) {
	ts := newTestServer(t, Options{CallbackBase: "https://bridge.example.com/"})

	status, verbs := postHook(t, ts.URL+PathWebhookCallHook+"?target_key=billing+team")
	require.Equal(t, http.StatusOK, status)
	require.Len(t, verbs, 1)
	assert.Equal(t, "https://bridge.example.com/api/transfer/dial-action", verbs[0]["actionHook"])

	target := verbs[0]["target"].([]any)[0].(map[string]any)
	assert.Equal(t, "phone", target["type"])
	assert.Equal(t, "+15551230000", target["number"])
}

func TestCallHookUnknownKey(t *testing.T) {
	ts := newTestServer(t, Options{})

	resp, err := http.Post(ts.URL+PathWebhookCallHook+"?target_key=nobody", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(t, body["error"], "nobody")
}

func TestDialActionSaysGoodbye(t *testing.T) {
	ts := newTestServer(t, Options{})

	status, verbs := postHook(t, ts.URL+PathWebhookDialAction)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, verbs, 2)
	assert.Equal(t, "say", verbs[0]["verb"])
	assert.Equal(t, humanAgentEnded, verbs[0]["text"])
	assert.Equal(t, "hangup", verbs[1]["verb"])
}
