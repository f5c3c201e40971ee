package rtt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFirstSampleSetsSrttAndRttvar(t *testing.T) {
	e := NewEstimator(time.Second, 200*time.Millisecond, 60*time.Second)
	e.Sample(100 * time.Millisecond)
	require.Equal(t, 100*time.Millisecond, e.SRTT())
	require.Equal(t, 100*time.Millisecond+4*50*time.Millisecond, e.RTO())
}

func TestSubsequentSampleSmooths(t *testing.T) {
	e := NewEstimator(time.Second, 200*time.Millisecond, 60*time.Second)
	e.Sample(100 * time.Millisecond)
	e.Sample(200 * time.Millisecond)

	// rttvar = 0.75*50ms + 0.25*|100ms-200ms| = 37.5ms+25ms = 62.5ms
	// srtt = 0.875*100ms + 0.125*200ms = 87.5ms+25ms = 112.5ms
	require.InDelta(t, float64(112500*time.Microsecond), float64(e.SRTT()), float64(time.Microsecond))
}

func TestRTOClampedToBounds(t *testing.T) {
	e := NewEstimator(time.Second, 200*time.Millisecond, 300*time.Millisecond)
	e.Sample(1 * time.Millisecond)
	require.GreaterOrEqual(t, e.RTO(), 200*time.Millisecond)

	e.Sample(10 * time.Second)
	require.LessOrEqual(t, e.RTO(), 300*time.Millisecond)
}

func TestBackoffDoublesAndClamps(t *testing.T) {
	e := NewEstimator(1*time.Second, 200*time.Millisecond, 4*time.Second)
	require.Equal(t, 2*time.Second, e.Backoff())
	require.Equal(t, 4*time.Second, e.Backoff())
	require.Equal(t, 4*time.Second, e.Backoff(), "must clamp at Max, not overflow past it")
}
