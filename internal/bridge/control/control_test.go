package control

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerbMarshalling(t *testing.T) {
	cmd := Ack("m-1",
		Dial{
			CallerID:       "+15551234567",
			AnswerOnBridge: true,
			AnchorMedia:    true,
			ReferHook:      HookRefer,
			ActionHook:     HookDialAction,
			Target:         []Target{{Type: "phone", Number: "+15557654321", Trunk: "agent"}},
			Headers:        map[string]string{"X-Original-CID": "abc"},
		},
		Hangup{},
	)

	data, err := json.Marshal(cmd)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "ack", got["type"])
	assert.Equal(t, "m-1", got["msgid"])

	verbs := got["data"].([]any)
	require.Len(t, verbs, 2)
	dial := verbs[0].(map[string]any)
	assert.Equal(t, "dial", dial["verb"])
	assert.Equal(t, "/refer", dial["referHook"])
	assert.Equal(t, true, dial["anchorMedia"])
	target := dial["target"].([]any)[0].(map[string]any)
	assert.Equal(t, "agent", target["trunk"])
	assert.Equal(t, map[string]any{"verb": "hangup"}, verbs[1])
}

func TestRedirectCommand(t *testing.T) {
	cmd := Redirect(Pause{Length: 0.5}, Say{Text: "hold on"}, SIPRefer{ReferTo: "sip:1@x", ActionHook: HookTransferAction})
	assert.Equal(t, "redirect[pause,say,sip:refer]", cmd.Describe())

	data, err := json.Marshal(cmd)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"command":"redirect"`)
	assert.Contains(t, string(data), `{"verb":"sip:refer","referTo":"sip:1@x","actionHook":"/transferActionHook"}`)
	assert.NotContains(t, string(data), "msgid")
}

func TestSIPHeaderLookupIsCaseInsensitive(t *testing.T) {
	info := SIPInfo{Headers: map[string]string{"x-authenticated-user": "retell"}}
	assert.Equal(t, "retell", info.Header("X-Authenticated-User"))
	assert.Equal(t, "", info.Header("X-Missing"))
}

func TestTransferActionAccepted(t *testing.T) {
	assert.True(t, TransferAction{ReferStatus: 202}.Accepted())
	assert.False(t, TransferAction{ReferStatus: 603}.Accepted())
	assert.False(t, TransferAction{}.Accepted())
}

func TestServerRoundTrip(t *testing.T) {
	received := make(chan Message, 1)
	closed := make(chan error, 1)

	srv := NewServer(context.Background(), HandlerFunc(func(ctx context.Context, s Stream) {
		msg, err := s.Receive()
		if err != nil {
			closed <- err
			return
		}
		received <- msg
		_ = s.Send(Ack(msg.MsgID, Hangup{}))
		_, err = s.Receive()
		closed <- err
		_ = s.Close()
	}))
	ts := httptest.NewServer(srv)
	defer ts.Close()

	dialer := websocket.Dialer{Subprotocols: []string{Subprotocol}}
	ws, resp, err := dialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	require.NoError(t, err)
	defer ws.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	assert.Equal(t, Subprotocol, ws.Subprotocol())

	require.NoError(t, ws.WriteJSON(map[string]any{
		"type":  TypeSessionNew,
		"msgid": "abc",
		"data":  map[string]any{"sbc_callid": "call-1", "direction": "inbound"},
	}))

	select {
	case msg := <-received:
		assert.Equal(t, TypeSessionNew, msg.Type)
		var sn SessionNew
		require.NoError(t, msg.Decode(&sn))
		assert.Equal(t, "call-1", sn.SBCCallID)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive message")
	}

	var ack map[string]any
	require.NoError(t, ws.ReadJSON(&ack))
	assert.Equal(t, "ack", ack["type"])
	assert.Equal(t, "abc", ack["msgid"])

	require.NoError(t, ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye")))

	select {
	case err := <-closed:
		var ce *CloseError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, websocket.CloseGoingAway, ce.Code)
		assert.Equal(t, "bye", ce.Reason)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not observe close")
	}
}

func TestMalformedFrameSkipped(t *testing.T) {
	received := make(chan Message, 1)
	failed := make(chan error, 1)
	srv := NewServer(context.Background(), HandlerFunc(func(ctx context.Context, s Stream) {
		msg, err := s.Receive()
		if err != nil {
			failed <- err
			return
		}
		received <- msg
		_ = s.Close()
	}))
	ts := httptest.NewServer(srv)
	defer ts.Close()

	dialer := websocket.Dialer{Subprotocols: []string{Subprotocol}}
	ws, _, err := dialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("not json {")))
	require.NoError(t, ws.WriteJSON(map[string]any{
		"type":  TypeCallStatus,
		"msgid": "m1",
		"data":  map[string]any{"call_status": "in-progress"},
	}))

	select {
	case msg := <-received:
		assert.Equal(t, TypeCallStatus, msg.Type)
		assert.Equal(t, "m1", msg.MsgID)
	case err := <-failed:
		t.Fatalf("receive failed on a malformed frame: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive message")
	}
}

func TestConnSendAfterClose(t *testing.T) {
	done := make(chan error, 1)
	srv := NewServer(context.Background(), HandlerFunc(func(ctx context.Context, s Stream) {
		_ = s.Close()
		_ = s.Close()
		done <- s.Send(Ack("x"))
	}))
	ts := httptest.NewServer(srv)
	defer ts.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	require.NoError(t, err)
	defer ws.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrChannelClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not finish")
	}
}
