package orchestrator

import (
	"log/slog"

	"github.com/sebas/voicebridge/internal/bridge/control"
	"github.com/sebas/voicebridge/internal/bridge/session"
)

// hookIgnored is a hook this bridge did not arm; it still needs an ack.
type hookIgnored struct {
	msgID string
	hook  string
}

// controlError is an application error reported by the control plane.
type controlError struct {
	message string
}

func (hookIgnored) EventName() string  { return "hook-ignored" }
func (controlError) EventName() string { return "control-error" }

// translate maps an inbound frame to a session event. Frames that need no
// handling yield nil.
func translate(msg control.Message) session.Event {
	switch msg.Type {
	case control.TypeVerbHook:
		return translateHook(msg)

	case control.TypeCallStatus:
		var cs control.CallStatus
		if err := msg.Decode(&cs); err != nil {
			slog.Debug("[Orchestrator] Undecodable call:status", "error", err)
			return nil
		}
		return session.CallStatus{Status: cs.CallStatus, SIPStatus: cs.SIPStatus}

	case control.TypeError:
		var ed control.ErrorData
		if err := msg.Decode(&ed); err != nil {
			return controlError{message: string(msg.Data)}
		}
		return controlError{message: ed.Error}

	case control.TypeVerbStatus:
		return nil

	default:
		slog.Debug("[Orchestrator] Ignoring message", "type", msg.Type, "msgid", msg.MsgID)
		return nil
	}
}

func translateHook(msg control.Message) session.Event {
	switch msg.Hook {
	case control.HookRefer:
		var rh control.ReferHook
		if err := msg.Decode(&rh); err != nil {
			slog.Warn("[Orchestrator] Bad refer hook", "msgid", msg.MsgID, "error", err)
			return hookIgnored{msgID: msg.MsgID, hook: msg.Hook}
		}
		return session.ReferReceived{MsgID: msg.MsgID, ReferTo: rh.ReferDetails.ReferToUser, ReferredBy: rh.To}

	case control.HookDialAction:
		var da control.DialAction
		if err := msg.Decode(&da); err != nil {
			slog.Warn("[Orchestrator] Bad dial action", "msgid", msg.MsgID, "error", err)
			return hookIgnored{msgID: msg.MsgID, hook: msg.Hook}
		}
		return session.DialOutcome{MsgID: msg.MsgID, Status: da.DialCallStatus, SIPStatus: da.DialSIPStatus}

	case control.HookTransferAction:
		var ta control.TransferAction
		if err := msg.Decode(&ta); err != nil {
			slog.Warn("[Orchestrator] Bad transfer action", "msgid", msg.MsgID, "error", err)
			return hookIgnored{msgID: msg.MsgID, hook: msg.Hook}
		}
		return session.TransferOutcome{MsgID: msg.MsgID, ReferStatus: ta.ReferStatus, FinalStatus: ta.FinalReferredCallStatus}

	default:
		return hookIgnored{msgID: msg.MsgID, hook: msg.Hook}
	}
}
