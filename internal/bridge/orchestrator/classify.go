package orchestrator

import (
	"log/slog"
	"strings"

	"github.com/emiago/sipgo/sip"
	"github.com/nyaruka/phonenumbers"

	"github.com/sebas/voicebridge/internal/bridge/control"
	"github.com/sebas/voicebridge/internal/bridge/session"
)

const authenticatedUserHeader = "X-Authenticated-User"

// leg is the outbound leg computed for a new session.
type leg struct {
	direction session.Direction
	callerID  string
	target    control.Target
}

// classify decides where a new call goes. Inbound calls authenticated as the
// trusted voice-agent user go out to the PSTN; everything else goes to the agent.
func (o *Orchestrator) classify(sn control.SessionNew) leg {
	if o.fromAgent(sn) {
		callerID := sn.From
		if o.cfg.OverrideCallerID != "" {
			callerID = o.cfg.OverrideCallerID
		}
		return leg{
			direction: session.DirectionFromAgent,
			callerID:  callerID,
			target:    control.Target{Type: "phone", Number: sn.To, Trunk: o.cfg.PSTNTrunk},
		}
	}

	return leg{
		direction: session.DirectionFromPSTN,
		callerID:  sn.From,
		target:    control.Target{Type: "phone", Number: o.agentNumber(sn), Trunk: o.cfg.AgentTrunk},
	}
}

func (o *Orchestrator) fromAgent(sn control.SessionNew) bool {
	if sn.Direction != "inbound" || o.cfg.PSTNTrunk == "" || o.cfg.TrustedUsername == "" {
		return false
	}
	return authenticatedUser(sn.SIP.Header(authenticatedUserHeader)) == o.cfg.TrustedUsername
}

// authenticatedUser extracts the user part of an X-Authenticated-User value,
// which is either "user@domain" or a full SIP URI.
func authenticatedUser(v string) string {
	v = strings.Trim(strings.TrimSpace(v), "<>")
	if v == "" {
		return ""
	}
	if strings.HasPrefix(strings.ToLower(v), "sip:") {
		var uri sip.Uri
		if err := sip.ParseUri(v, &uri); err == nil {
			return uri.User
		}
	}
	user, _, _ := strings.Cut(v, "@")
	return user
}

// agentNumber is the number dialed on the agent trunk. With a region
// configured the callee is normalized to E.164; a number that does not parse
// is passed through unchanged.
func (o *Orchestrator) agentNumber(sn control.SessionNew) string {
	fallback := sn.To
	if o.cfg.OverrideDialedNumber != "" {
		fallback = o.cfg.OverrideDialedNumber
	}
	if o.cfg.Region == "" {
		return fallback
	}

	e164, err := FormatE164(sn.To, o.cfg.Region)
	if err != nil {
		slog.Warn("[Orchestrator] E.164 normalization failed, dialing unnormalized",
			"number", sn.To,
			"region", o.cfg.Region,
			"error", err,
		)
		return fallback
	}
	return e164
}

// FormatE164 parses number in the context of region ("US", "GB", ...) and
// formats it as +<country><national>.
func FormatE164(number, region string) (string, error) {
	num, err := phonenumbers.Parse(number, region)
	if err != nil {
		return "", err
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}
