package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestState_Valid(t *testing.T) {
	t.Parallel()
	for _, s := range []State{StateUnknown, StateStarting, StateRunning, StateStopping, StateStopped, StateFailed} {
		assert.True(t, s.Valid(), s)
		assert.Equal(t, string(s), s.String())
	}
	for _, s := range []State{"", "paused", "RUNNING"} {
		assert.False(t, s.Valid(), s)
	}
}

func TestState_IsTerminal(t *testing.T) {
	t.Parallel()
	assert.True(t, StateStopped.IsTerminal())
	assert.True(t, StateFailed.IsTerminal())
	for _, s := range []State{StateUnknown, StateStarting, StateRunning, StateStopping} {
		assert.False(t, s.IsTerminal(), s)
	}
}

func TestValidTransition(t *testing.T) {
	t.Parallel()
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateUnknown, StateStarting, true},
		{StateStarting, StateRunning, true},
		{StateStarting, StateFailed, true},
		{StateRunning, StateStopping, true},
		{StateStopping, StateStopped, true},
		{StateStopped, StateStarting, true},
		{StateFailed, StateStarting, true},

		{StateUnknown, StateRunning, false},
		{StateRunning, StateRunning, false},
		{StateRunning, StateStopped, false},
		{StateStopped, StateRunning, false},
		{"bogus", StateStarting, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ValidTransition(tt.from, tt.to))
		})
	}
}
