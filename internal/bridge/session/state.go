package session

import "fmt"

// State is the lifecycle state of a bridged call.
type State int

const (
	// StateNew is a session that has been opened but not yet dialed.
	StateNew State = iota
	// StateDialing is after the dial batch was sent, awaiting the dial outcome.
	StateDialing
	// StateBridged is after the far leg answered.
	StateBridged
	// StateTransferring is while a REFER toward a directory destination is outstanding.
	StateTransferring
	// StateClosed is terminal.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateDialing:
		return "DIALING"
	case StateBridged:
		return "BRIDGED"
	case StateTransferring:
		return "TRANSFERRING"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

var validTransitions = map[State][]State{
	StateNew:          {StateDialing, StateClosed},
	StateDialing:      {StateBridged, StateClosed},
	StateBridged:      {StateTransferring, StateClosed},
	StateTransferring: {StateBridged, StateClosed},
	StateClosed:       {},
}

// CanTransitionTo reports whether s may move to next.
func (s State) CanTransitionTo(next State) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal returns true for StateClosed.
func (s State) IsTerminal() bool {
	return s == StateClosed
}

// Direction says which side originated the call.
type Direction int

const (
	// DirectionFromPSTN calls are forwarded to the voice agent.
	DirectionFromPSTN Direction = iota
	// DirectionFromAgent calls came from the voice agent and go out to the PSTN.
	DirectionFromAgent
)

func (d Direction) String() string {
	switch d {
	case DirectionFromPSTN:
		return "inboundFromPstn"
	case DirectionFromAgent:
		return "inboundFromAgent"
	default:
		return fmt.Sprintf("Unknown(%d)", d)
	}
}
