package transport

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandshakeTransitions(t *testing.T) {
	s, ok := step(StateClosed, eventConnect)
	require.True(t, ok)
	require.Equal(t, StateSynSent, s)

	s, ok = step(s, eventRecvSynAck)
	require.True(t, ok)
	require.Equal(t, StateEstablished, s)
}

func TestPassiveHandshakeTransitions(t *testing.T) {
	s, ok := step(StateClosed, eventRecvSyn)
	require.True(t, ok)
	require.Equal(t, StateSynReceived, s)

	s, ok = step(s, eventRecvAck)
	require.True(t, ok)
	require.Equal(t, StateEstablished, s)
}

func TestCloseTransitions(t *testing.T) {
	s, ok := step(StateEstablished, eventClose)
	require.True(t, ok)
	require.Equal(t, StateClosing, s)

	s, ok = step(s, eventRecvFinAck)
	require.True(t, ok)
	require.Equal(t, StateClosed, s)
}

func TestIllegalTransitionLeavesStateUnchanged(t *testing.T) {
	s, ok := step(StateEstablished, eventConnect)
	require.False(t, ok)
	require.Equal(t, StateEstablished, s)
}

func TestAbortReachesClosedFromAnyNonClosedState(t *testing.T) {
	for _, s := range []State{StateSynSent, StateSynReceived, StateEstablished, StateClosing} {
		next, ok := step(s, eventAbort)
		require.True(t, ok, "abort must be legal from %s", s)
		require.Equal(t, StateClosed, next)
	}
}

func TestStateString(t *testing.T) {
	require.Equal(t, "ESTABLISHED", StateEstablished.String())
}
