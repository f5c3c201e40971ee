package transport

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestReceiver(rcvWndCap int) (*receiver, *[][]byte) {
	var delivered [][]byte
	r := newReceiver(zerolog.Nop(), rcvWndCap, &Stats{}, func(p []byte) {
		delivered = append(delivered, p)
	})
	r.reset(0)
	return r, &delivered
}

func TestReceiverDeliversInOrder(t *testing.T) {
	r, delivered := newTestReceiver(10)
	fin := r.onSegment(0, []byte("ab"), false)
	require.False(t, fin)
	require.Equal(t, [][]byte{[]byte("ab")}, *delivered)
	require.Equal(t, uint32(1), r.ackValue())
}

func TestReceiverBuffersOutOfOrderThenDrains(t *testing.T) {
	r, delivered := newTestReceiver(10)
	fin := r.onSegment(1, []byte("cd"), false) // arrives before seq 0
	require.False(t, fin)
	require.Empty(t, *delivered)

	fin = r.onSegment(0, []byte("ab"), false)
	require.False(t, fin)
	require.Equal(t, [][]byte{[]byte("ab"), []byte("cd")}, *delivered)
	require.Equal(t, uint32(2), r.ackValue())
}

func TestReceiverDropsDuplicate(t *testing.T) {
	r, delivered := newTestReceiver(10)
	r.onSegment(0, []byte("ab"), false)
	r.onSegment(0, []byte("ab"), false)
	require.Len(t, *delivered, 1)
	require.Equal(t, uint64(1), r.stats.DuplicatesDropped)
}

func TestReceiverDropsOutOfWindow(t *testing.T) {
	r, _ := newTestReceiver(2)
	r.onSegment(100, []byte("z"), false)
	require.Equal(t, uint64(1), r.stats.OutOfWindowDropped)
}

func TestReceiverWindowShrinksWithReorderBuffer(t *testing.T) {
	r, _ := newTestReceiver(5)
	require.Equal(t, uint16(5), r.window())
	r.onSegment(1, []byte("b"), false)
	require.Equal(t, uint16(4), r.window())
}

func TestReceiverDetectsFinDeliveredInOrder(t *testing.T) {
	r, _ := newTestReceiver(10)
	fin := r.onSegment(0, nil, true)
	require.True(t, fin)
}

func TestReceiverDetectsFinDrainedFromReorderBuffer(t *testing.T) {
	r, _ := newTestReceiver(10)
	fin := r.onSegment(1, nil, true) // FIN arrives early, buffered
	require.False(t, fin)

	fin = r.onSegment(0, []byte("a"), false) // fills the gap, drains the FIN
	require.True(t, fin)
}
