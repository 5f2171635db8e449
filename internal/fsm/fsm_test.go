package fsm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	stateIdle      State = "idle"
	stateRecording State = "recording"
)

const (
	eventBark   Event = "bark"
	eventCommit Event = "commit"
)

func sampleMachine() Machine {
	return New(Table{
		stateIdle: {
			eventBark: stateRecording,
		},
		stateRecording: {
			eventBark:   stateRecording,
			eventCommit: stateIdle,
		},
	})
}

func TestTransitionHappyPath(t *testing.T) {
	m := sampleMachine()
	s := stateIdle

	next, err := m.Transition(s, eventBark)
	require.NoError(t, err)
	require.Equal(t, stateRecording, next)

	next, err = m.Transition(next, eventBark)
	require.NoError(t, err)
	require.Equal(t, stateRecording, next)

	next, err = m.Transition(next, eventCommit)
	require.NoError(t, err)
	require.Equal(t, stateIdle, next)
}

func TestTransitionInvalidEventKeepsState(t *testing.T) {
	m := sampleMachine()

	next, err := m.Transition(stateIdle, eventCommit)
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid transition")
	require.Equal(t, stateIdle, next)
}

func TestTransitionUnknownState(t *testing.T) {
	m := sampleMachine()

	next, err := m.Transition(State("mystery"), eventBark)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown state")
	require.Equal(t, State("mystery"), next)
}
