package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebas/voicebridge/internal/bridge/control"
	"github.com/sebas/voicebridge/internal/bridge/control/controltest"
	"github.com/sebas/voicebridge/internal/bridge/directory"
)

func newTestSession(callID string) (*Session, *controltest.Stream) {
	stream := controltest.New()
	return New(Params{CallID: callID, Direction: DirectionFromPSTN}, stream), stream
}

func TestSendAfterCloseFails(t *testing.T) {
	s, stream := newTestSession("c1")
	require.NoError(t, s.Send(control.Ack("m1")))

	prior, first := s.Close()
	assert.True(t, first)
	assert.Equal(t, StateNew, prior)
	assert.True(t, stream.Closed())

	assert.ErrorIs(t, s.Send(control.Ack("m2")), ErrSessionClosed)
	assert.Len(t, stream.Sent(), 1)

	_, first = s.Close()
	assert.False(t, first)
}

func TestSendDispatchError(t *testing.T) {
	s, stream := newTestSession("c1")
	boom := errors.New("broken pipe")
	stream.FailSends(boom)

	err := s.Send(control.Redirect(control.Hangup{}))
	var de *DispatchError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "c1", de.CallID)
	assert.ErrorIs(t, err, boom)
}

func TestTransitionRejectsInvalid(t *testing.T) {
	s, _ := newTestSession("c1")
	_, err := s.TransitionTo(StateBridged)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, StateNew, s.State())

	prior, err := s.TransitionTo(StateDialing)
	require.NoError(t, err)
	assert.Equal(t, StateNew, prior)
	assert.Equal(t, "DIALING", s.Snapshot().State)
}

func TestCloseStopsHeartbeatOnce(t *testing.T) {
	s, stream := newTestSession("c1")
	s.StartHeartbeat(5 * time.Millisecond)

	require.Eventually(t, func() bool { return stream.Pings() >= 2 }, time.Second, time.Millisecond)

	hb := s.Heartbeat()
	require.NotNil(t, hb)
	s.Close()
	assert.True(t, hb.Stopped())
	assert.False(t, hb.Stop(), "second stop must be a no-op")

	pings := stream.Pings()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, pings, stream.Pings())
}

func TestHeartbeatStopReportsFirstCaller(t *testing.T) {
	hb := StartHeartbeat(time.Hour, func() error { return nil }, slog.New(slog.NewTextHandler(io.Discard, nil)))
	results := make(chan bool, 3)
	for i := 0; i < 3; i++ {
		go func() { results <- hb.Stop() }()
	}
	stopped := 0
	for i := 0; i < 3; i++ {
		if <-results {
			stopped++
		}
	}
	assert.Equal(t, 1, stopped)
}

func TestTransferRoundTrip(t *testing.T) {
	s, _ := newTestSession("c1")
	dest := directory.Entry{Key: "billing team", Kind: directory.KindPhone, Destination: "+15551230000"}

	go func() {
		ev := <-s.Inbox()
		req := ev.(*TransferRequest)
		req.Respond(TransferResult{Destination: req.Destination.Destination, PendingID: "p1"}, nil)
	}()

	res, err := s.Transfer(context.Background(), dest)
	require.NoError(t, err)
	assert.Equal(t, "+15551230000", res.Destination)
	assert.Equal(t, "p1", res.PendingID)
}

func TestTransferAfterClose(t *testing.T) {
	s, _ := newTestSession("c1")
	s.Close()

	_, err := s.Transfer(context.Background(), directory.Entry{Key: "x"})
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.ErrorIs(t, s.Deliver(Closed{}), ErrSessionClosed)
}

func TestTransferSessionClosesWhileWaiting(t *testing.T) {
	s, _ := newTestSession("c1")
	go func() {
		<-s.Inbox()
		s.Close()
	}()

	_, err := s.Transfer(context.Background(), directory.Entry{Key: "x"})
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestPendingMarker(t *testing.T) {
	s, _ := newTestSession("c1")
	_, ok := s.Pending()
	assert.False(t, ok)

	s.SetPending(PendingTransfer{ID: "p1", TargetKey: "billing team"})
	snap := s.Snapshot()
	require.NotNil(t, snap.PendingTransfer)
	assert.Equal(t, "billing team", snap.PendingTransfer.TargetKey)

	p, ok := s.TakePending()
	require.True(t, ok)
	assert.Equal(t, "p1", p.ID)

	_, ok = s.TakePending()
	assert.False(t, ok)
}
