// Package controltest provides an in-memory control.Stream for tests.
package controltest

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/sebas/voicebridge/internal/bridge/control"
)

// Stream is a scripted control.Stream. Tests push inbound messages with
// Deliver and inspect what the bridge sent with Sent or WaitSent.
type Stream struct {
	inbound chan result
	done    chan struct{}

	mu      sync.Mutex
	cond    *sync.Cond
	sent    []control.Command
	pings   int
	closed  bool
	sendErr error
}

type result struct {
	msg control.Message
	err error
}

// New returns an open Stream.
func New() *Stream {
	s := &Stream{inbound: make(chan result, 64), done: make(chan struct{})}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Deliver queues an inbound message. data is marshalled to JSON.
func (s *Stream) Deliver(typ, msgID, hook string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		panic(err)
	}
	s.inbound <- result{msg: control.Message{Type: typ, MsgID: msgID, Hook: hook, Data: raw}}
}

// PeerClose simulates the far end closing the websocket.
func (s *Stream) PeerClose(code int, reason string) {
	s.inbound <- result{err: &control.CloseError{Code: code, Reason: reason}}
}

// Fail simulates a transport error.
func (s *Stream) Fail(err error) {
	s.inbound <- result{err: err}
}

// FailSends makes every later Send return err.
func (s *Stream) FailSends(err error) {
	s.mu.Lock()
	s.sendErr = err
	s.mu.Unlock()
}

// Receive returns queued messages in order. Once the stream is closed locally
// it reports a normal closure.
func (s *Stream) Receive() (control.Message, error) {
	select {
	case r := <-s.inbound:
		return r.msg, r.err
	case <-s.done:
		return control.Message{}, &control.CloseError{Code: 1000}
	}
}

func (s *Stream) Send(cmd control.Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return control.ErrChannelClosed
	}
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, cmd)
	s.cond.Broadcast()
	return nil
}

func (s *Stream) Ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return control.ErrChannelClosed
	}
	s.pings++
	return nil
}

func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	s.cond.Broadcast()
	return nil
}

// Sent returns a copy of every command sent so far.
func (s *Stream) Sent() []control.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]control.Command(nil), s.sent...)
}

// Pings returns how many keep-alive pings were sent.
func (s *Stream) Pings() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pings
}

// Closed reports whether Close was called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ErrTimeout is returned by WaitSent when too few commands arrive.
var ErrTimeout = errors.New("timed out waiting for commands")

// WaitSent blocks until at least n commands were sent.
func (s *Stream) WaitSent(n int, timeout time.Duration) ([]control.Command, error) {
	deadline := time.Now().Add(timeout)
	timer := time.AfterFunc(timeout, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.sent) < n {
		if !time.Now().Before(deadline) {
			return append([]control.Command(nil), s.sent...), ErrTimeout
		}
		s.cond.Wait()
	}
	return append([]control.Command(nil), s.sent...), nil
}
