// Package session holds the per-call state of the voice bridge: the lifecycle
// state machine, the mailbox feeding the call's orchestrator, and the registry
// indexing live sessions by call id.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sebas/voicebridge/internal/bridge/control"
	"github.com/sebas/voicebridge/internal/bridge/directory"
)

const mailboxSize = 16

// Params are the immutable facts of a session, fixed at creation.
type Params struct {
	CallID         string
	ControlCallSID string
	Direction      Direction
	CallerIdentity string
	From           string
	To             string
}

// Session is one active call. Its state is mutated only by the goroutine that
// drains Inbox; other goroutines read it through State or Snapshot and reach
// it through Deliver and Transfer.
type Session struct {
	ID             string
	CallID         string
	ControlCallSID string
	Direction      Direction
	CallerIdentity string
	From           string
	To             string
	CreatedAt      time.Time

	channel control.Channel
	inbox   chan Event
	done    chan struct{}

	mu        sync.RWMutex
	state     State
	updatedAt time.Time
	pending   *PendingTransfer
	heartbeat *Heartbeat
}

// PendingTransfer marks an outstanding REFER whose outcome has not arrived.
type PendingTransfer struct {
	ID          string    `json:"id"`
	TargetKey   string    `json:"target_key"`
	Destination string    `json:"destination"`
	RequestedAt time.Time `json:"requested_at"`
}

// Snapshot is a copy of a session safe to hand to diagnostics.
type Snapshot struct {
	CallID          string           `json:"call_id"`
	SessionID       string           `json:"session_id"`
	State           string           `json:"state"`
	Direction       string           `json:"direction"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
	PendingTransfer *PendingTransfer `json:"pending_transfer,omitempty"`
}

// New creates a session in StateNew that owns ch.
func New(p Params, ch control.Channel) *Session {
	now := time.Now()
	return &Session{
		ID:             uuid.NewString(),
		CallID:         p.CallID,
		ControlCallSID: p.ControlCallSID,
		Direction:      p.Direction,
		CallerIdentity: p.CallerIdentity,
		From:           p.From,
		To:             p.To,
		CreatedAt:      now,
		channel:        ch,
		inbox:          make(chan Event, mailboxSize),
		done:           make(chan struct{}),
		state:          StateNew,
		updatedAt:      now,
	}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Snapshot returns a diagnostic copy.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		CallID:    s.CallID,
		SessionID: s.ID,
		State:     s.state.String(),
		Direction: s.Direction.String(),
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.updatedAt,
	}
	if s.pending != nil {
		p := *s.pending
		snap.PendingTransfer = &p
	}
	return snap
}

// TransitionTo moves the session to next, returning the prior state.
func (s *Session) TransitionTo(next State) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prior := s.state
	if !prior.CanTransitionTo(next) {
		return prior, &StateTransitionError{CallID: s.CallID, From: prior, To: next}
	}
	s.state = next
	s.updatedAt = time.Now()
	return prior, nil
}

// Send writes a command to the control channel. It fails with ErrSessionClosed
// once the session is closed and with a *DispatchError if the write fails.
func (s *Session) Send(cmd control.Command) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state.IsTerminal() {
		return ErrSessionClosed
	}
	if err := s.channel.Send(cmd); err != nil {
		return &DispatchError{CallID: s.CallID, Command: cmd.Describe(), Cause: err}
	}
	return nil
}

// Pending returns the outstanding transfer marker, if any.
func (s *Session) Pending() (PendingTransfer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.pending == nil {
		return PendingTransfer{}, false
	}
	return *s.pending, true
}

// SetPending arms a transfer marker.
func (s *Session) SetPending(p PendingTransfer) {
	s.mu.Lock()
	s.pending = &p
	s.mu.Unlock()
}

// TakePending clears and returns the transfer marker.
func (s *Session) TakePending() (PendingTransfer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return PendingTransfer{}, false
	}
	p := *s.pending
	s.pending = nil
	return p, true
}

// StartHeartbeat pings the control channel every interval until the session closes.
func (s *Session) StartHeartbeat(interval time.Duration) {
	hb := StartHeartbeat(interval, s.channel.Ping, slog.With("call_id", s.CallID))

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.IsTerminal() {
		hb.Stop()
		return
	}
	s.heartbeat = hb
}

// Close moves the session to StateClosed, stops its heartbeat and releases the
// control channel. Only the first call does anything; it returns the state the
// session was in and true.
func (s *Session) Close() (State, bool) {
	s.mu.Lock()
	prior := s.state
	if prior.IsTerminal() {
		s.mu.Unlock()
		return prior, false
	}
	s.state = StateClosed
	s.updatedAt = time.Now()
	s.pending = nil
	hb := s.heartbeat
	s.mu.Unlock()

	if hb != nil {
		hb.Stop()
	}
	close(s.done)
	if err := s.channel.Close(); err != nil {
		slog.Debug("[Session] Control channel close failed", "call_id", s.CallID, "error", err)
	}
	return prior, true
}

// Heartbeat returns the session's keep-alive, nil before StartHeartbeat.
func (s *Session) Heartbeat() *Heartbeat {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.heartbeat
}

// Inbox is the session's mailbox. Exactly one goroutine may drain it.
func (s *Session) Inbox() <-chan Event {
	return s.inbox
}

// Done is closed when the session closes.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Deliver queues ev for the session's handler.
func (s *Session) Deliver(ev Event) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	select {
	case s.inbox <- ev:
		return nil
	case <-s.done:
		return ErrSessionClosed
	}
}

// Transfer asks the session's handler to REFER the caller to dest and waits for
// the handler's answer.
func (s *Session) Transfer(ctx context.Context, dest directory.Entry) (TransferResult, error) {
	req := &TransferRequest{Destination: dest, reply: make(chan transferReply, 1)}
	if err := s.Deliver(req); err != nil {
		return TransferResult{}, err
	}

	select {
	case r := <-req.reply:
		return r.result, r.err
	case <-s.done:
		select {
		case r := <-req.reply:
			return r.result, r.err
		default:
			return TransferResult{}, ErrSessionClosed
		}
	case <-ctx.Done():
		return TransferResult{}, ctx.Err()
	}
}

// Event is a typed message consumed by a session's handler.
type Event interface {
	EventName() string
}

// ReferReceived is a REFER from the far leg asking to move the call.
type ReferReceived struct {
	MsgID      string
	ReferTo    string
	ReferredBy string
}

// DialOutcome reports how the initial dial ended.
type DialOutcome struct {
	MsgID     string
	Status    string
	SIPStatus int
}

// TransferOutcome reports how a REFER ended.
type TransferOutcome struct {
	MsgID       string
	ReferStatus int
	FinalStatus int // SIP status of the referred call, when reported
}

// CallStatus is an informational call progress update.
type CallStatus struct {
	Status    string
	SIPStatus int
}

// Closed means the control channel was closed by the far end.
type Closed struct {
	Code   int
	Reason string
}

// Failed means the control channel broke.
type Failed struct {
	Err error
}

// TransferRequest asks the handler to start a transfer. The handler must call
// Respond exactly once.
type TransferRequest struct {
	Destination directory.Entry
	reply       chan transferReply
}

// TransferResult is what a started transfer reports back to the requester.
type TransferResult struct {
	Destination string
	PendingID   string
}

type transferReply struct {
	result TransferResult
	err    error
}

// Respond answers the requester. Extra calls are dropped.
func (r *TransferRequest) Respond(res TransferResult, err error) {
	select {
	case r.reply <- transferReply{result: res, err: err}:
	default:
	}
}

func (ReferReceived) EventName() string    { return "refer-received" }
func (DialOutcome) EventName() string      { return "dial-outcome" }
func (TransferOutcome) EventName() string  { return "transfer-outcome" }
func (CallStatus) EventName() string       { return "call-status" }
func (Closed) EventName() string           { return "close" }
func (Failed) EventName() string           { return "error" }
func (*TransferRequest) EventName() string { return "transfer-request" }
