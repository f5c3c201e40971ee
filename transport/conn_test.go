package transport

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/duskline/rdtp/segment"
)

type fakeAddr string

func (a fakeAddr) Network() string { return "fake" }
func (a fakeAddr) String() string  { return string(a) }

// establishedPair connects two Conns' outbound closures directly to each
// other's OnSegment, skipping the endpoint/socket layer entirely, so the
// sender/receiver/FSM logic can be exercised without a real UDP substrate.
func establishedPair(t *testing.T, cfg Config) (a, b *Conn) {
	t.Helper()

	bCh := make(chan *Conn, 1)

	var mu sync.Mutex
	var aConn, bConn *Conn

	aOut := func(buf []byte) error {
		s, err := segment.Decode(buf)
		if err != nil {
			return nil
		}
		mu.Lock()
		defer mu.Unlock()
		if bConn == nil {
			if !s.HasFlag(segment.FlagSYN) {
				return nil
			}
			bOut := func(buf []byte) error {
				s, err := segment.Decode(buf)
				if err != nil {
					return nil
				}
				go func() { aConn.OnSegment(s) }()
				return nil
			}
			bConn, _ = Respond(zerolog.Nop(), 1, fakeAddr("b"), fakeAddr("a"), cfg, bOut, s, func(c *Conn) {
				bCh <- c
			})
			return nil
		}
		go func() { bConn.OnSegment(s) }()
		return nil
	}

	aConn = Initiate(zerolog.Nop(), 1, fakeAddr("a"), fakeAddr("b"), cfg, aOut)

	require.NoError(t, aConn.WaitEstablished())

	select {
	case b = <-bCh:
	case <-time.After(time.Second):
		t.Fatal("responder never reached established")
	}
	return aConn, b
}

func TestHandshakeEstablishesBothSides(t *testing.T) {
	cfg := DefaultConfig()
	a, b := establishedPair(t, cfg)
	require.Equal(t, StateEstablished, a.State())
	require.Equal(t, StateEstablished, b.State())
}

func TestSendMsgDeliversToPeer(t *testing.T) {
	cfg := DefaultConfig()
	a, b := establishedPair(t, cfg)

	require.NoError(t, a.SendMsg([]byte("hello")))

	select {
	case msg := <-b.recvQueue:
		require.Equal(t, "hello", string(msg))
	case <-time.After(time.Second):
		t.Fatal("message never delivered")
	}
}

func TestSendMsgWouldBlockWhenWindowFull(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxWindow = 1
	a, _ := establishedPair(t, cfg)

	require.NoError(t, a.SendMsg([]byte("1")))
	err := a.SendMsg([]byte("2"))
	require.Equal(t, ErrWouldBlock, err)
}

func TestCloseIsIdempotent(t *testing.T) {
	cfg := DefaultConfig()
	a, _ := establishedPair(t, cfg)
	require.NoError(t, a.Close())

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, a.Close())
}

// DelayedACK (spec §6's recognized delayed_ack knob) defers a pure ACK
// instead of emitting it the instant DATA arrives, coalescing a burst of
// inbound segments onto one outbound ACK.
func TestDelayedACKCoalescesAndFires(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DelayedACK = 30 * time.Millisecond

	var pureAcks int32
	b := NewInitiator(zerolog.Nop(), 2, fakeAddr("b"), fakeAddr("a"), cfg, func(buf []byte) error {
		s, err := segment.Decode(buf)
		if err == nil && s.HasFlag(segment.FlagACK) && !s.HasFlag(segment.FlagDATA) && !s.HasFlag(segment.FlagSYN) {
			atomic.AddInt32(&pureAcks, 1)
		}
		return nil
	})
	b.iss = 0
	b.bindSenderReceiver(0, 0)
	b.state = StateEstablished

	b.OnSegment(segment.Segment{Flags: segment.FlagDATA, Seq: 0, Payload: []byte("a")})
	b.OnSegment(segment.Segment{Flags: segment.FlagDATA, Seq: 1, Payload: []byte("b")})

	require.Zero(t, atomic.LoadInt32(&pureAcks), "ack must not fire before DelayedACK elapses")

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&pureAcks) == 1
	}, time.Second, 5*time.Millisecond, "exactly one coalesced ack expected")

	time.Sleep(60 * time.Millisecond)
	require.Equal(t, int32(1), atomic.LoadInt32(&pureAcks), "no extra ack should follow the coalesced one")
}
