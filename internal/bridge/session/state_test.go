package session

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		from, to State
		ok       bool
	}{
		{StateNew, StateDialing, true},
		{StateNew, StateBridged, false},
		{StateDialing, StateBridged, true},
		{StateDialing, StateTransferring, false},
		{StateBridged, StateTransferring, true},
		{StateBridged, StateDialing, false},
		{StateTransferring, StateBridged, true},
		{StateTransferring, StateDialing, false},
		{StateClosed, StateBridged, false},
		{StateClosed, StateClosed, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ok, tt.from.CanTransitionTo(tt.to), "%s -> %s", tt.from, tt.to)
	}

	for _, s := range []State{StateNew, StateDialing, StateBridged, StateTransferring} {
		assert.True(t, s.CanTransitionTo(StateClosed), "%s must be able to close", s)
		assert.False(t, s.IsTerminal())
	}
	assert.True(t, StateClosed.IsTerminal())
}

func TestStateTransitionErrorUnwrap(t *testing.T) {
	err := error(&StateTransitionError{CallID: "c1", From: StateNew, To: StateBridged})
	assert.True(t, errors.Is(err, ErrInvalidState))
	assert.Contains(t, err.Error(), "NEW -> BRIDGED")
}

func TestDirectionString(t *testing.T) {
	assert.Equal(t, "inboundFromPstn", DirectionFromPSTN.String())
	assert.Equal(t, "inboundFromAgent", DirectionFromAgent.String())
}
