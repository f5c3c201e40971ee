package transport

import (
	"crypto/rand"
	"encoding/binary"
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/duskline/rdtp/segment"
)

// Grounded on the teacher's listenContext/createConnectedEndpoint/
// createEndpointAndPerformHandshake in transport/tcp/accept.go, minus the
// SYN-cookie machinery: spec has no SYN-flood defense requirement, so
// listen-side state is kept directly rather than encoded into iss.

// randomISN picks an initial sequence number the way the teacher's
// listenContext seeds its nonces, via crypto/rand rather than a
// predictable counter.
func randomISN() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand failing is not something this protocol can recover
		// from meaningfully; zero is a valid, if unlucky, ISN.
		return 0
	}
	return binary.BigEndian.Uint32(b[:])
}

// NewInitiator constructs a Conn for the active side of the handshake
// without sending anything yet. Callers must register the Conn in the
// endpoint's connection table under connID before calling StartHandshake,
// so a fast reply can never arrive before it is routable.
func NewInitiator(log zerolog.Logger, connID uint32, local, remote net.Addr, cfg Config, outbound Outbound) *Conn {
	c := newConn(log, connID, local, remote, cfg, outbound)
	c.iss = randomISN()
	return c
}

// StartHandshake sends the initial SYN and arms the retry timer (spec
// §4.3: CLOSED -> SYN-SENT). WaitEstablished blocks until the handshake
// resolves or times out.
func (c *Conn) StartHandshake() {
	c.mu.Lock()
	c.setStateLocked(StateSynSent, eventConnect)
	c.sendSynLocked()
	c.mu.Unlock()
}

// Initiate is a convenience wrapper combining NewInitiator and
// StartHandshake for callers (tests, simple wiring) that don't need the
// register-before-send ordering a networked endpoint requires.
func Initiate(log zerolog.Logger, connID uint32, local, remote net.Addr, cfg Config, outbound Outbound) *Conn {
	c := NewInitiator(log, connID, local, remote, cfg, outbound)
	c.StartHandshake()
	return c
}

// sendSynLocked transmits (or retransmits) the initial SYN and arms the
// handshake retry timer. Must be called with mu held.
func (c *Conn) sendSynLocked() {
	c.transmit(c.iss, segment.FlagSYN, nil)
	c.armHandshakeRetryLocked(c.resendSyn)
}

func (c *Conn) resendSyn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateSynSent {
		return
	}
	if !c.bumpHandshakeRetriesLocked() {
		return
	}
	c.sendSynLocked()
}

// armHandshakeRetryLocked schedules retry to fire after cfg.RTOInitial,
// used for both the initiator's SYN and the responder's SYN|ACK since the
// connection has no established RTT sample yet. The interval is the same
// on every retry; it is not backed off.
func (c *Conn) armHandshakeRetryLocked(retry func()) {
	if c.handshakeTimer != nil {
		c.handshakeTimer.Stop()
	}
	c.handshakeTimer = time.AfterFunc(c.cfg.RTOInitial, retry)
}

// bumpHandshakeRetriesLocked increments the retry count, returning false
// (and aborting the handshake) once MaxRetries is exceeded, per spec §5
// "connect fails with Timeout if the handshake does not complete within
// MAX_RETRIES × RTO".
func (c *Conn) bumpHandshakeRetriesLocked() bool {
	c.handshakeRetries++
	if c.handshakeRetries > c.cfg.MaxRetries {
		c.state = StateClosed
		c.closeOnce.Do(func() { close(c.closed) })
		return false
	}
	return true
}

func (c *Conn) stopHandshakeTimerLocked() {
	if c.handshakeTimer != nil {
		c.handshakeTimer.Stop()
		c.handshakeTimer = nil
	}
}

// handleSynSentLocked processes a segment while this Conn is awaiting the
// responder's SYN|ACK. Must be called with mu held.
func (c *Conn) handleSynSentLocked(s segment.Segment) {
	if !s.HasFlag(segment.FlagSYN) || !s.HasFlag(segment.FlagACK) {
		c.log.Debug().Msg("ignoring non SYN|ACK segment in SYN-SENT")
		return
	}
	if s.Ack != c.iss+1 {
		return
	}

	c.stopHandshakeTimerLocked()
	c.bindSenderReceiver(c.iss+1, s.Seq+1)
	c.setStateLocked(StateEstablished, eventRecvSynAck)
	c.transmit(c.iss+1, segment.FlagACK, nil)

	select {
	case c.handshake <- nil:
	default:
	}
}

// Respond is called by the endpoint dispatcher when a SYN arrives for an
// unknown conn_id (spec §4.5 step 2): it creates a SYN-RECEIVED Conn bound
// to the segment's source and replies with SYN|ACK. onEstablished, if
// non-nil, fires once the initiator's final ACK arrives, so the endpoint
// can deliver the Conn into its accept queue (teacher's deliverAccepted).
func Respond(log zerolog.Logger, connID uint32, local, remote net.Addr, cfg Config, outbound Outbound, s segment.Segment, onEstablished func(*Conn)) (*Conn, error) {
	if !s.HasFlag(segment.FlagSYN) {
		return nil, errors.Wrap(ErrProtocolViolation, "Respond called without a SYN segment")
	}

	c := newConn(log, connID, local, remote, cfg, outbound)
	c.iss = randomISN()
	c.onEstablished = onEstablished
	c.bindSenderReceiver(c.iss, s.Seq+1)

	c.mu.Lock()
	c.setStateLocked(StateSynReceived, eventRecvSyn)
	c.sendSynAckLocked()
	c.mu.Unlock()

	return c, nil
}

func (c *Conn) sendSynAckLocked() {
	c.transmit(c.iss, segment.FlagSYN|segment.FlagACK, nil)
	c.armHandshakeRetryLocked(c.resendSynAck)
}

func (c *Conn) resendSynAck() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateSynReceived {
		return
	}
	if !c.bumpHandshakeRetriesLocked() {
		return
	}
	c.sendSynAckLocked()
}

// handleSynReceivedLocked processes a segment while this Conn is awaiting
// the initiator's final ACK. Must be called with mu held.
func (c *Conn) handleSynReceivedLocked(s segment.Segment) {
	if !s.HasFlag(segment.FlagACK) {
		c.log.Debug().Msg("ignoring non-ACK segment in SYN-RECEIVED")
		return
	}
	if s.Ack != c.iss+1 {
		return
	}

	c.stopHandshakeTimerLocked()
	c.setStateLocked(StateEstablished, eventRecvAck)

	select {
	case c.handshake <- nil:
	default:
	}

	if c.onEstablished != nil {
		go c.onEstablished(c)
	}
}

// WaitEstablished blocks until the handshake started by Initiate completes,
// or Timeout if it aborts first.
func (c *Conn) WaitEstablished() error {
	select {
	case err := <-c.handshake:
		return err
	case <-c.closed:
		return ErrTimeout
	}
}
