package transport

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/duskline/rdtp/rtt"
)

type sentSegment struct {
	seq     uint32
	flags   uint8
	payload []byte
}

func newTestSender(maxWindow, maxRetries int) (*sender, *[]sentSegment, *bool) {
	var sent []sentSegment
	aborted := false
	cfg := Config{MaxWindow: maxWindow, MaxRetries: maxRetries}
	stats := &Stats{}
	est := rtt.NewEstimator(50*time.Millisecond, 10*time.Millisecond, time.Second)
	s := newSender(zerolog.Nop(), 0, cfg, stats, est, func(seq uint32, flags uint8, payload []byte) {
		sent = append(sent, sentSegment{seq: seq, flags: flags, payload: payload})
	}, func() { aborted = true })
	s.bind(func(time.Duration) {}, func() {})
	return s, &sent, &aborted
}

func TestSenderCanSendRespectsWindow(t *testing.T) {
	s, _, _ := newTestSender(2, 5)
	require.True(t, s.canSend())
	s.enqueue([]byte("a"), false)
	require.True(t, s.canSend())
	s.enqueue([]byte("b"), false)
	require.False(t, s.canSend())
}

func TestSenderOnAckRemovesAcked(t *testing.T) {
	s, _, _ := newTestSender(10, 5)
	s.enqueue([]byte("hello"), false) // seq 0, consumes 1
	s.enqueue([]byte("!"), false)     // seq 1, consumes 1

	s.onAck(1, 10)
	require.Equal(t, 1, s.inflight.Len())
	require.Equal(t, uint32(1), s.inflight.Front().seq)

	s.onAck(2, 10)
	require.True(t, s.inflight.Empty())
}

func TestSenderOnAckShrinksWindowToPeerAdvertised(t *testing.T) {
	s, _, _ := newTestSender(10, 5)
	s.onAck(0, 3)
	require.Equal(t, 3, s.sndWnd)
}

func TestSenderOnAckIgnoresStaleAck(t *testing.T) {
	s, sent, _ := newTestSender(10, 5)
	s.enqueue([]byte("x"), false)
	s.onAck(1, 10)
	before := len(*sent)
	s.onAck(0, 10) // stale: does not advance sndUna
	require.Equal(t, before, len(*sent))
	require.Equal(t, uint32(1), uint32(s.sndUna))
}

func TestSenderOnTimeoutRetransmitsAllInflight(t *testing.T) {
	s, sent, aborted := newTestSender(10, 5)
	s.enqueue([]byte("a"), false)
	s.enqueue([]byte("b"), false)
	*sent = nil

	abort := s.onTimeout()
	require.False(t, abort)
	require.False(t, *aborted)
	require.Len(t, *sent, 2)
}

func TestSenderOnTimeoutAbortsAfterMaxRetries(t *testing.T) {
	s, _, aborted := newTestSender(10, 2)
	s.enqueue([]byte("a"), false)

	require.False(t, s.onTimeout()) // retries=1
	require.False(t, s.onTimeout()) // retries=2
	require.True(t, s.onTimeout())  // retries=3 > maxRetries=2
	require.True(t, *aborted)
}

func TestSenderKarnsRuleSkipsRetransmittedSamples(t *testing.T) {
	s, _, _ := newTestSender(10, 5)
	s.enqueue([]byte("a"), false)
	s.onTimeout() // retries becomes 1, so this segment must not be sampled on ack

	srttBefore := s.estimator.SRTT()
	s.onAck(1, 10)
	require.Equal(t, srttBefore, s.estimator.SRTT(), "a retransmitted segment's ack must not produce an RTT sample")
}
