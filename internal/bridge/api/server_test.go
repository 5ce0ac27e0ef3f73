package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	types "github.com/sebas/voicebridge/api/types/v1"
	"github.com/sebas/voicebridge/internal/bridge/control"
	"github.com/sebas/voicebridge/internal/bridge/directory"
	"github.com/sebas/voicebridge/internal/bridge/session"
)

type fakeSessions struct {
	snaps []session.Snapshot
}

func (f fakeSessions) List() []session.Snapshot { return f.snaps }
func (f fakeSessions) Len() int                  { return len(f.snaps) }

func testDirectory(t *testing.T) *directory.Directory {
	t.Helper()
	d, err := directory.New([]directory.Entry{
		{Key: "billing team", Destination: "+15551230000"},
		{Key: "front desk", Destination: "sip:100@pbx.example.com"},
	})
	require.NoError(t, err)
	return d
}

func newTestServer(t *testing.T, opts Options) *httptest.Server {
	t.Helper()
	if opts.Directory == nil {
		opts.Directory = testDirectory(t)
	}
	ts := httptest.NewServer(NewServer(opts).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, Options{})

	resp, err := http.Get(ts.URL + PathHealth)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body types.HealthResponse
	decodeBody(t, resp, &body)
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, ServiceName, body.Service)
	assert.NotEmpty(t, body.Timestamp)
}

func TestSessionsListsSnapshots(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ts := newTestServer(t, Options{Sessions: fakeSessions{snaps: []session.Snapshot{
		{CallID: "c1", SessionID: "s1", State: "BRIDGED", Direction: "inboundFromPstn", CreatedAt: created},
		{
			CallID: "c2", SessionID: "s2", State: "TRANSFERRING", Direction: "inboundFromAgent", CreatedAt: created,
			PendingTransfer: &session.PendingTransfer{ID: "p1", TargetKey: "billing team", Destination: "+15551230000", RequestedAt: created},
		},
	}}})

	resp, err := http.Get(ts.URL + PathSessions)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body types.SessionsResponse
	decodeBody(t, resp, &body)
	assert.Equal(t, 2, body.ActiveSessions)
	require.Len(t, body.Sessions, 2)
	assert.Equal(t, "c1", body.Sessions[0].CallID)
	assert.Equal(t, "BRIDGED", body.Sessions[0].State)
	assert.Equal(t, "2026-03-01T12:00:00Z", body.Sessions[0].CreatedAt)
	assert.Nil(t, body.Sessions[0].PendingTransfer)
	require.NotNil(t, body.Sessions[1].PendingTransfer)
	assert.Equal(t, "billing team", body.Sessions[1].PendingTransfer.TargetKey)
}

func TestSessionsEmpty(t *testing.T) {
	ts := newTestServer(t, Options{Sessions: fakeSessions{}})

	resp, err := http.Get(ts.URL + PathSessions)
	require.NoError(t, err)

	raw := map[string]any{}
	decodeBody(t, resp, &raw)
	assert.EqualValues(t, 0, raw["active_sessions"])
	assert.Equal(t, []any{}, raw["sessions"])
}

func TestNotFound(t *testing.T) {
	ts := newTestServer(t, Options{})

	for _, tc := range []struct {
		method, path string
	}{
		{http.MethodGet, "/nope"},
		{http.MethodPost, PathHealth},
		{http.MethodGet, PathWebhookDialAction},
	} {
		req, err := http.NewRequest(tc.method, ts.URL+tc.path, nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, "%s %s", tc.method, tc.path)

		var body types.ErrorResponse
		decodeBody(t, resp, &body)
		assert.Equal(t, "Not Found", body.Error)
	}
}

func TestTransferRouteIsPostOnly(t *testing.T) {
	var calls atomic.Int32
	ts := newTestServer(t, Options{Transfer: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	})})

	resp, err := http.Post(ts.URL+PathTransfer, "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + PathTransfer)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.EqualValues(t, 1, calls.Load())
}

func TestRecoverMiddleware(t *testing.T) {
	ts := newTestServer(t, Options{Transfer: http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})})

	resp, err := http.Post(ts.URL+PathTransfer, "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	var body types.ErrorResponse
	decodeBody(t, resp, &body)
	assert.Equal(t, "Internal server error", body.Error)
}

func TestControlRouteUpgrades(t *testing.T) {
	got := make(chan string, 1)
	ctrl := control.NewServer(context.Background(), control.HandlerFunc(func(_ context.Context, s control.Stream) {
		msg, err := s.Receive()
		if err == nil {
			got <- msg.Type
		}
		_ = s.Close()
	}))
	ts := newTestServer(t, Options{ControlPath: "/voicebridge", Control: ctrl})

	dialer := websocket.Dialer{Subprotocols: []string{control.Subprotocol}}
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/voicebridge"
	ws, resp, err := dialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()
	assert.Equal(t, control.Subprotocol, resp.Header.Get("Sec-WebSocket-Protocol"))

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"session:new","msgid":"m1","data":{}}`)))
	select {
	case typ := <-got:
		assert.Equal(t, control.TypeSessionNew, typ)
	case <-time.After(2 * time.Second):
		t.Fatal("control handler did not receive the frame")
	}
}

func TestHealthServerReportsServing(t *testing.T) {
	hs := NewHealthServer("127.0.0.1:0")
	require.NoError(t, hs.Start())
	t.Cleanup(hs.Stop)

	conn, err := grpc.NewClient(hs.Addr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	hs.Drain()
	resp, err = client.Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())
}
