// Package orchestrator drives each call's state machine. Every call gets one
// goroutine that owns its session: inbound control-plane frames and transfer
// requests are delivered to it as typed events and handled strictly in order.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sebas/voicebridge/internal/bridge/config"
	"github.com/sebas/voicebridge/internal/bridge/control"
	"github.com/sebas/voicebridge/internal/bridge/events"
	"github.com/sebas/voicebridge/internal/bridge/session"
	"github.com/sebas/voicebridge/internal/bridge/telemetry"
)

// Config is the subset of the bridge configuration the orchestrator uses.
type Config struct {
	PSTNTrunk            string
	AgentTrunk           string
	TrustedUsername      string
	OverrideCallerID     string
	OverrideDialedNumber string
	Region               string // ISO region for E.164 normalization; empty disables it
	TransferAnnouncement string
	TransferReferredBy   string
	KeepAliveInterval    time.Duration
}

// ConfigFrom extracts the orchestrator settings from the loaded configuration.
func ConfigFrom(c *config.Config) Config {
	return Config{
		PSTNTrunk:            c.PSTNTrunk,
		AgentTrunk:           c.AgentTrunk,
		TrustedUsername:      c.TrustedUsername,
		OverrideCallerID:     c.OverrideCallerID,
		OverrideDialedNumber: c.OverrideDialedNumber,
		Region:               c.CountryCode,
		TransferAnnouncement: c.TransferAnnouncement,
		TransferReferredBy:   c.TransferReferredBy,
		KeepAliveInterval:    c.KeepAliveInterval,
	}
}

// announcementPause is the silence before the transfer announcement, in seconds.
const announcementPause = 0.5

// Orchestrator serves call-control connections.
type Orchestrator struct {
	cfg       Config
	registry  *session.Registry
	publisher events.Publisher
	metrics   *telemetry.Metrics

	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
}

// New creates an Orchestrator. publisher and metrics may be nil.
func New(cfg Config, registry *session.Registry, publisher events.Publisher, metrics *telemetry.Metrics) *Orchestrator {
	if cfg.KeepAliveInterval <= 0 {
		cfg.KeepAliveInterval = 25 * time.Second
	}
	if publisher == nil {
		publisher = events.NewNoopPublisher()
	}
	return &Orchestrator{
		cfg:       cfg,
		registry:  registry,
		publisher: publisher,
		metrics:   metrics,
	}
}

// Shutdown refuses new connections and blocks until every served session has
// ended. Cancel the serving context first or live calls keep it waiting.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	o.closing = true
	o.mu.Unlock()
	o.wg.Wait()
}

// ServeControl handles one call-control connection until the call ends or ctx
// is cancelled. It implements control.Handler.
func (o *Orchestrator) ServeControl(ctx context.Context, stream control.Stream) {
	o.mu.Lock()
	if o.closing {
		o.mu.Unlock()
		slog.Debug("[Orchestrator] Shutting down, refusing connection")
		_ = stream.Close()
		return
	}
	o.wg.Add(1)
	o.mu.Unlock()
	defer o.wg.Done()

	// Nothing owns the stream until session:new arrives, so cancellation
	// has to close it here to unblock Receive.
	opened := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = stream.Close()
		case <-opened:
		}
	}()

	first, err := stream.Receive()
	close(opened)
	if err != nil {
		slog.Debug("[Orchestrator] Connection ended before session:new", "error", err)
		_ = stream.Close()
		return
	}
	if first.Type != control.TypeSessionNew {
		slog.Warn("[Orchestrator] Expected session:new", "type", first.Type, "msgid", first.MsgID)
		_ = stream.Close()
		return
	}

	var sn control.SessionNew
	if err := first.Decode(&sn); err != nil {
		slog.Error("[Orchestrator] Bad session:new", "msgid", first.MsgID, "error", err)
		_ = stream.Send(control.Ack(first.MsgID, control.Hangup{}))
		_ = stream.Close()
		return
	}

	s, ok := o.open(ctx, first.MsgID, sn, stream)
	if !ok {
		return
	}

	go o.readLoop(s, stream)
	o.run(ctx, s)
}

// open registers the session and sends the initial dial batch.
func (o *Orchestrator) open(ctx context.Context, msgID string, sn control.SessionNew, stream control.Stream) (*session.Session, bool) {
	callID := sn.SBCCallID
	if callID == "" {
		callID = sn.CallSID
		slog.Warn("[Orchestrator] session:new without sbc_callid, keying by call_sid", "call_sid", sn.CallSID)
	}

	l := o.classify(sn)
	s := session.New(session.Params{
		CallID:         callID,
		ControlCallSID: sn.CallSID,
		Direction:      l.direction,
		CallerIdentity: l.callerID,
		From:           sn.From,
		To:             sn.To,
	}, stream)

	if err := o.registry.Put(s); err != nil {
		slog.Error("[Orchestrator] Rejecting session", "call_id", callID, "error", err)
		_ = stream.Send(control.Ack(msgID, control.Hangup{}))
		_ = stream.Close()
		return nil, false
	}

	slog.Info("[Orchestrator] Session opened",
		"call_id", callID,
		"session_id", s.ID,
		"direction", l.direction,
		"from", sn.From,
		"to", sn.To,
		"active", o.registry.Len(),
	)
	o.metrics.SessionOpened(ctx, l.direction.String())
	ev := o.event(s, events.SessionOpened, "", "session-opened", "")
	ev.Status = sn.Direction
	o.publish(ctx, ev)

	dial := control.Dial{
		CallerID:       l.callerID,
		AnswerOnBridge: true,
		AnchorMedia:    true,
		ReferHook:      control.HookRefer,
		ActionHook:     control.HookDialAction,
		Target:         []control.Target{l.target},
	}
	cmd := control.Ack(msgID, dial, control.Hangup{})
	if err := s.Send(cmd); err != nil {
		slog.Error("[Orchestrator] Initial dial failed", "call_id", callID, "error", err)
		o.terminate(ctx, s, "error", err)
		return nil, false
	}
	o.transition(ctx, s, session.StateDialing, "session-opened", cmd.Describe(), func(e *events.SessionEvent) {
		e.Destination = l.target.Number
	})

	s.StartHeartbeat(o.cfg.KeepAliveInterval)
	return s, true
}

// readLoop turns inbound frames into session events. It ends when the
// transport fails or the session closes.
func (o *Orchestrator) readLoop(s *session.Session, stream control.Stream) {
	for {
		msg, err := stream.Receive()
		if err != nil {
			var ce *control.CloseError
			var ev session.Event = session.Failed{Err: err}
			if errors.As(err, &ce) {
				ev = session.Closed{Code: ce.Code, Reason: ce.Reason}
			}
			_ = s.Deliver(ev)
			return
		}

		ev := translate(msg)
		if ev == nil {
			continue
		}
		if err := s.Deliver(ev); err != nil {
			if out, ok := ev.(session.TransferOutcome); ok {
				slog.Warn("[Orchestrator] Transfer outcome after close, ignoring",
					"call_id", s.CallID, "refer_status", out.ReferStatus)
				o.metrics.Anomaly(context.Background(), "late_transfer_outcome")
			}
			return
		}
	}
}

// run is the session's event loop.
func (o *Orchestrator) run(ctx context.Context, s *session.Session) {
	for {
		select {
		case ev := <-s.Inbox():
			o.handle(ctx, s, ev)
			if s.State().IsTerminal() {
				o.drain(s)
				return
			}
		case <-ctx.Done():
			o.terminate(context.WithoutCancel(ctx), s, "shutdown", nil)
			o.drain(s)
			return
		}
	}
}

// drain answers transfer requests that raced with the close.
func (o *Orchestrator) drain(s *session.Session) {
	for {
		select {
		case ev := <-s.Inbox():
			if req, ok := ev.(*session.TransferRequest); ok {
				req.Respond(session.TransferResult{}, session.ErrSessionClosed)
			}
		default:
			return
		}
	}
}

func (o *Orchestrator) handle(ctx context.Context, s *session.Session, ev session.Event) {
	switch e := ev.(type) {
	case session.ReferReceived:
		o.onRefer(ctx, s, e)
	case session.DialOutcome:
		o.onDialOutcome(ctx, s, e)
	case session.CallStatus:
		o.onCallStatus(ctx, s, e)
	case *session.TransferRequest:
		o.onTransferRequest(ctx, s, e)
	case session.TransferOutcome:
		o.onTransferOutcome(ctx, s, e)
	case session.Closed:
		slog.Info("[Orchestrator] Control channel closed",
			"call_id", s.CallID, "code", e.Code, "reason", e.Reason)
		o.terminate(ctx, s, ev.EventName(), nil)
	case session.Failed:
		slog.Error("[Orchestrator] Control channel error", "call_id", s.CallID, "error", e.Err)
		o.terminate(ctx, s, ev.EventName(), e.Err)
	case hookIgnored:
		slog.Debug("[Orchestrator] Acknowledging unhandled hook", "call_id", s.CallID, "hook", e.hook)
		o.ack(s, e.msgID)
	case controlError:
		slog.Warn("[Orchestrator] Control plane reported error", "call_id", s.CallID, "error", e.message)
		o.metrics.Anomaly(ctx, "control_plane_error")
	default:
		slog.Warn("[Orchestrator] Unexpected event", "call_id", s.CallID, "event", ev.EventName())
	}
}

// onRefer relays a REFER from the far leg to the caller's leg.
func (o *Orchestrator) onRefer(ctx context.Context, s *session.Session, e session.ReferReceived) {
	state := s.State()
	if state != session.StateBridged {
		slog.Warn("[Orchestrator] Refer outside bridged state, ignoring",
			"call_id", s.CallID, "state", state, "refer_to", e.ReferTo)
		o.metrics.Anomaly(ctx, "refer_not_bridged")
		o.ack(s, e.MsgID)
		return
	}

	cmd := control.Ack(e.MsgID, control.SIPRefer{ReferTo: e.ReferTo, ReferredBy: e.ReferredBy})
	if err := s.Send(cmd); err != nil {
		slog.Error("[Orchestrator] Refer relay failed", "call_id", s.CallID, "error", err)
		return
	}

	slog.Info("[Orchestrator] Relayed refer",
		"call_id", s.CallID,
		"state", state,
		"event", e.EventName(),
		"action", cmd.Describe(),
		"refer_to", e.ReferTo,
	)
	ev := o.event(s, events.SessionReferRelayed, state.String(), e.EventName(), cmd.Describe())
	ev.Destination = e.ReferTo
	o.publish(ctx, ev)
}

func (o *Orchestrator) onDialOutcome(ctx context.Context, s *session.Session, e session.DialOutcome) {
	o.ack(s, e.MsgID)

	if !dialConnected(e.Status) {
		slog.Warn("[Orchestrator] Dial did not connect",
			"call_id", s.CallID, "status", e.Status, "sip_status", e.SIPStatus)
		return
	}
	if s.State() != session.StateDialing {
		slog.Info("[Orchestrator] Dial outcome",
			"call_id", s.CallID, "state", s.State(), "status", e.Status, "sip_status", e.SIPStatus)
		return
	}
	o.transition(ctx, s, session.StateBridged, e.EventName(), "", func(ev *events.SessionEvent) {
		ev.Status = e.Status
		ev.SIPStatus = e.SIPStatus
	})
}

func (o *Orchestrator) onCallStatus(ctx context.Context, s *session.Session, e session.CallStatus) {
	slog.Debug("[Orchestrator] Call status", "call_id", s.CallID, "status", e.Status, "sip_status", e.SIPStatus)
	if e.Status == "in-progress" && s.State() == session.StateDialing {
		o.transition(ctx, s, session.StateBridged, e.EventName(), "", func(ev *events.SessionEvent) {
			ev.Status = e.Status
		})
	}
}

func (o *Orchestrator) onTransferRequest(ctx context.Context, s *session.Session, req *session.TransferRequest) {
	state := s.State()
	switch state {
	case session.StateBridged:
	case session.StateTransferring:
		req.Respond(session.TransferResult{}, session.ErrTransferPending)
		return
	default:
		req.Respond(session.TransferResult{}, &session.StateTransitionError{
			CallID: s.CallID, From: state, To: session.StateTransferring,
		})
		return
	}

	dest := req.Destination
	verbs := make([]control.Verb, 0, 3)
	if o.cfg.TransferAnnouncement != "" {
		verbs = append(verbs,
			control.Pause{Length: announcementPause},
			control.Say{Text: o.cfg.TransferAnnouncement},
		)
	}
	verbs = append(verbs, control.SIPRefer{
		ReferTo:    dest.Destination,
		ReferredBy: o.cfg.TransferReferredBy,
		ActionHook: control.HookTransferAction,
	})
	cmd := control.Redirect(verbs...)

	if err := s.Send(cmd); err != nil {
		slog.Error("[Orchestrator] Transfer dispatch failed",
			"call_id", s.CallID, "target_key", dest.Key, "error", err)
		req.Respond(session.TransferResult{}, err)
		return
	}

	pending := session.PendingTransfer{
		ID:          uuid.NewString(),
		TargetKey:   dest.Key,
		Destination: dest.Destination,
		RequestedAt: time.Now(),
	}
	s.SetPending(pending)
	o.transition(ctx, s, session.StateTransferring, req.EventName(), cmd.Describe(), func(ev *events.SessionEvent) {
		ev.TargetKey = dest.Key
		ev.Destination = dest.Destination
	})
	req.Respond(session.TransferResult{Destination: dest.Destination, PendingID: pending.ID}, nil)
}

func (o *Orchestrator) onTransferOutcome(ctx context.Context, s *session.Session, e session.TransferOutcome) {
	o.ack(s, e.MsgID)

	pending, ok := s.TakePending()
	if !ok || s.State() != session.StateTransferring {
		slog.Warn("[Orchestrator] Transfer outcome with no pending transfer, ignoring",
			"call_id", s.CallID,
			"state", s.State(),
			"refer_status", e.ReferStatus,
		)
		o.metrics.Anomaly(ctx, "unmatched_transfer_outcome")
		return
	}

	accepted := control.TransferAction{ReferStatus: e.ReferStatus}.Accepted()
	o.metrics.TransferOutcome(ctx, accepted)

	typ := events.SessionTransferCompleted
	if accepted {
		slog.Info("[Orchestrator] Transfer accepted",
			"call_id", s.CallID,
			"target_key", pending.TargetKey,
			"destination", pending.Destination,
			"refer_status", e.ReferStatus,
			"final_status", e.FinalStatus,
			"elapsed", time.Since(pending.RequestedAt),
		)
	} else {
		typ = events.SessionTransferFailed
		slog.Warn("[Orchestrator] Transfer failed, call stays with current party",
			"call_id", s.CallID,
			"target_key", pending.TargetKey,
			"destination", pending.Destination,
			"refer_status", e.ReferStatus,
			"final_status", e.FinalStatus,
		)
	}

	ev := o.event(s, typ, session.StateTransferring.String(), e.EventName(), "")
	ev.TargetKey = pending.TargetKey
	ev.Destination = pending.Destination
	ev.SIPStatus = e.ReferStatus
	if e.FinalStatus != 0 {
		ev.Status = strconv.Itoa(e.FinalStatus)
	}
	o.publish(ctx, ev)

	o.transition(ctx, s, session.StateBridged, e.EventName(), "", nil)
}

// terminate closes s and removes it from the registry. Only the first call
// has any effect.
func (o *Orchestrator) terminate(ctx context.Context, s *session.Session, trigger string, cause error) {
	prior, first := s.Close()
	if !first {
		return
	}
	o.registry.RemoveSession(s)

	lifetime := time.Since(s.CreatedAt)
	slog.Info("[Orchestrator] Session closed",
		"call_id", s.CallID,
		"prior_state", prior,
		"event", trigger,
		"lifetime", lifetime.Round(time.Millisecond),
		"active", o.registry.Len(),
	)
	o.metrics.Transition(ctx, prior.String(), session.StateClosed.String())
	o.metrics.SessionClosed(ctx, s.Direction.String(), trigger, lifetime)

	ev := o.event(s, events.SessionClosed, prior.String(), trigger, "")
	if cause != nil {
		ev.Error = cause.Error()
	}
	o.publish(ctx, ev)
}

// transition moves s to next and records it. An invalid transition is logged
// and leaves the session untouched.
func (o *Orchestrator) transition(ctx context.Context, s *session.Session, next session.State, trigger, action string, decorate func(*events.SessionEvent)) {
	prior, err := s.TransitionTo(next)
	if err != nil {
		slog.Warn("[Orchestrator] Rejected transition", "call_id", s.CallID, "event", trigger, "error", err)
		o.metrics.Anomaly(ctx, "invalid_transition")
		return
	}

	args := []any{
		"call_id", s.CallID,
		"from", prior,
		"to", next,
		"event", trigger,
	}
	if action != "" {
		args = append(args, "action", action)
	}
	slog.Info("[Orchestrator] State change", args...)
	o.metrics.Transition(ctx, prior.String(), next.String())

	typ, ok := stateEvents[next]
	if !ok {
		return
	}
	ev := o.event(s, typ, prior.String(), trigger, action)
	if decorate != nil {
		decorate(ev)
	}
	o.publish(ctx, ev)
}

var stateEvents = map[session.State]events.EventType{
	session.StateDialing:      events.SessionDialing,
	session.StateBridged:      events.SessionBridged,
	session.StateTransferring: events.SessionTransferring,
}

func (o *Orchestrator) event(s *session.Session, typ events.EventType, prior, trigger, action string) *events.SessionEvent {
	ev := events.NewSessionEvent(typ, s.CallID, s.ID)
	ev.Direction = s.Direction.String()
	ev.PriorState = prior
	ev.State = s.State().String()
	ev.Trigger = trigger
	ev.Action = action
	return ev
}

func (o *Orchestrator) publish(ctx context.Context, ev events.Event) {
	if err := o.publisher.Publish(ctx, ev); err != nil {
		slog.Warn("[Orchestrator] Event publish failed", "type", ev.Type(), "call_id", ev.CallID(), "error", err)
	}
}

// ack answers a hook with no verbs, letting the control plane continue.
func (o *Orchestrator) ack(s *session.Session, msgID string) {
	if err := s.Send(control.Ack(msgID)); err != nil {
		slog.Warn("[Orchestrator] Hook ack failed", "call_id", s.CallID, "msgid", msgID, "error", err)
	}
}

func dialConnected(status string) bool {
	switch status {
	case "answered", "early-media", "completed":
		return true
	}
	return false
}
