package transport

import (
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/duskline/rdtp/rtt"
	"github.com/duskline/rdtp/segment"
	"github.com/duskline/rdtp/seqnum"
)

// Outbound is how a Conn hands a fully-framed segment to the socket layer
// that owns the UDP connection; the endpoint package supplies this.
type Outbound func(payload []byte) error

// Conn is one connection's complete state: FSM, sender, receiver, RTT
// estimator, stats and the mutex-guarded serialization domain of spec §5.
// All mutation of sender/receiver/FSM state happens while mu is held;
// OnSegment, OnTimer and SendMsg each take and release it internally so
// callers never have to manage it.
type Conn struct {
	log zerolog.Logger

	ConnID     uint32
	LocalAddr  net.Addr
	RemoteAddr net.Addr

	cfg Config

	mu    sync.Mutex
	state State

	// iss is this side's initial send sequence number, fixed for the
	// lifetime of the handshake.
	iss uint32

	// onEstablished, if set, is called once (outside mu) when the
	// responder side of the handshake completes, so the endpoint can move
	// the Conn from its half-open table into the accept queue.
	onEstablished func(*Conn)

	handshakeTimer   *time.Timer
	handshakeRetries int

	snd *sender
	rcv *receiver

	estimator *rtt.Estimator
	stats     *Stats

	outbound Outbound

	closeOnce   sync.Once
	closed      chan struct{}
	handshake   chan error // signaled once when the handshake completes
	recvQueue   chan []byte
	ourFin      uint32
	ourFinSent  bool
	ourFinAcked bool
	peerFinSeen bool

	pendingTimer *time.Timer
	ackTimer     *time.Timer
}

// newConn builds a Conn in StateClosed; callers (handshake.go) drive it
// through the FSM via the step* helpers below.
func newConn(log zerolog.Logger, connID uint32, local, remote net.Addr, cfg Config, outbound Outbound) *Conn {
	stats := &Stats{}
	est := rtt.NewEstimator(cfg.RTOInitial, cfg.RTOMin, cfg.RTOMax)

	c := &Conn{
		log:        log.With().Uint32("conn_id", connID).Logger(),
		ConnID:     connID,
		LocalAddr:  local,
		RemoteAddr: remote,
		cfg:        cfg,
		state:      StateClosed,
		estimator:  est,
		stats:      stats,
		outbound:   outbound,
		closed:     make(chan struct{}),
		handshake:  make(chan error, 1),
		recvQueue:  make(chan []byte, cfg.RcvWndCap),
	}
	return c
}

// bindSenderReceiver wires the sender and receiver with the connection's
// own transmit/deliver closures. Called once the handshake fixes iss/irs.
func (c *Conn) bindSenderReceiver(iss, irs uint32) {
	c.snd = newSender(c.log, iss, c.cfg, c.stats, c.estimator, c.transmit, c.onAbort)
	c.snd.bind(c.scheduleTimer, c.stopTimer)
	c.rcv = newReceiver(c.log, c.cfg.RcvWndCap, c.stats, c.onDeliver)
	c.rcv.reset(irs)
}

// transmit encodes and writes one segment, piggybacking the receiver's
// current ack and window (every outbound segment acks, per spec §4.4). Any
// pending delayed-ACK timer is cancelled: this segment already carries the
// ack it would have sent.
func (c *Conn) transmit(seq uint32, flags uint8, payload []byte) {
	if c.ackTimer != nil {
		c.ackTimer.Stop()
		c.ackTimer = nil
	}

	ack := uint32(0)
	win := uint16(c.cfg.RcvWndCap)
	if c.rcv != nil {
		ack = c.rcv.ackValue()
		win = c.rcv.window()
	}
	if flags&segment.FlagACK == 0 && c.state != StateSynSent {
		flags |= segment.FlagACK
	}

	buf, err := segment.Encode(segment.Segment{
		Flags:   flags,
		ConnID:  c.ConnID,
		Seq:     seq,
		Ack:     ack,
		Win:     win,
		Payload: payload,
	})
	if err != nil {
		c.log.Error().Err(err).Msg("failed to encode outbound segment")
		return
	}
	if err := c.outbound(buf); err != nil {
		c.log.Warn().Err(err).Msg("outbound write failed")
	}
}

func (c *Conn) onDeliver(payload []byte) {
	if len(payload) == 0 {
		return // FIN carries no application payload
	}
	select {
	case c.recvQueue <- payload:
	default:
		c.log.Warn().Msg("recv queue full, dropping delivered message")
	}
}

// OnSegment is the endpoint dispatcher's entry point for an inbound
// segment already verified and decoded for this connection (spec §4.5
// step 4: route ACK bits to the sender, DATA/FIN bits to the receiver).
func (c *Conn) OnSegment(s segment.Segment) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats.addSegmentsReceived(1)
	c.stats.addBytesReceived(uint64(len(s.Payload)))

	switch c.state {
	case StateSynSent:
		c.handleSynSentLocked(s)
		return
	case StateSynReceived:
		c.handleSynReceivedLocked(s)
		return
	case StateClosed:
		return
	}

	if s.HasFlag(segment.FlagACK) && c.snd != nil {
		c.snd.onAck(s.Ack, s.Win)
		if c.state == StateClosing && c.ourFinSent && seqnum.Value(c.ourFin).LessThan(c.snd.sndUna) {
			c.ourFinAcked = true
		}
	}

	if s.HasFlag(segment.FlagDATA) || s.HasFlag(segment.FlagFIN) {
		finDelivered := c.rcv.onSegment(s.Seq, s.Payload, s.HasFlag(segment.FlagFIN))
		c.scheduleAckLocked()
		if finDelivered {
			c.peerFinSeen = true
			if c.state == StateEstablished {
				c.setStateLocked(StateClosing, eventRecvFin)
			}
		}
	}

	c.maybeFinishClosingLocked()
}

// transmitPureAck emits a zero-payload ACK reflecting the receiver's
// current cumulative ack and window, used after every inbound DATA/FIN
// (spec §4.4 "in every case").
func (c *Conn) transmitPureAck() {
	c.transmit(uint32(c.snd.sndNxt), segment.FlagACK, nil)
}

// scheduleAckLocked arranges for the receiver's current ack to reach the
// peer, honoring cfg.DelayedACK: a recognized knob (spec §6) bounding how
// long a pure ACK may be deferred hoping to piggyback on outgoing data.
// Zero disables delay and acks immediately; values above 50ms are capped
// at 50ms. A second inbound segment while
// one ack is already pending coalesces onto the same timer; any outbound
// segment in the meantime (transmit) cancels it, since that segment
// already carries a fresher ack. Must be called with mu held.
func (c *Conn) scheduleAckLocked() {
	if c.cfg.DelayedACK <= 0 {
		c.transmitPureAck()
		return
	}
	if c.ackTimer != nil {
		return
	}

	const maxDelayedACK = 50 * time.Millisecond
	delay := c.cfg.DelayedACK
	if delay > maxDelayedACK {
		delay = maxDelayedACK
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.ackTimer != timer {
			return
		}
		c.ackTimer = nil
		if c.state != StateClosed {
			c.transmitPureAck()
		}
	})
	c.ackTimer = timer
}

// maybeFinishClosingLocked transitions CLOSING->CLOSED once both our FIN
// has been acked and the peer's FIN has been delivered (spec §4.3: "the
// connection enters CLOSED once both sides have acknowledged each
// other's FIN"). Must be called with mu held.
func (c *Conn) maybeFinishClosingLocked() {
	if c.state == StateClosing && c.ourFinAcked && c.peerFinSeen {
		c.setStateLocked(StateClosed, eventRecvFinAck)
		c.closeOnce.Do(func() { close(c.closed) })
	}
}

func (c *Conn) setStateLocked(s State, ev event) {
	next, ok := step(c.state, ev)
	if !ok || next != s {
		c.log.Error().Str("from", c.state.String()).Str("to", s.String()).Msg("illegal FSM transition attempted")
		return
	}
	c.state = next
}

// SendMsg enqueues payload as one DATA segment, per spec §4.2. It returns
// ErrWouldBlock immediately if the send window is full; callers that want
// blocking semantics should retry until it clears (the endpoint package's
// SendMsgBlocking does this by polling).
func (c *Conn) SendMsg(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateEstablished {
		return errors.Wrap(ErrConnectionAborted, "connection not established")
	}
	if len(payload) > c.cfg.MaxPayload {
		return errors.Errorf("payload exceeds max_payload of %d bytes", c.cfg.MaxPayload)
	}
	if !c.snd.canSend() {
		return ErrWouldBlock
	}
	c.snd.enqueue(payload, false)
	return nil
}

// Recv blocks until the next in-order application message is available or
// the connection closes.
func (c *Conn) Recv() ([]byte, error) {
	select {
	case p := <-c.recvQueue:
		return p, nil
	case <-c.closed:
		select {
		case p := <-c.recvQueue:
			return p, nil
		default:
			return nil, ErrClosed
		}
	}
}

// Close initiates a graceful close (spec §4.3): sends our FIN as the next
// segment, treated exactly like DATA for retransmission purposes. Idempotent.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosed {
		return nil
	}
	switch c.state {
	case StateEstablished:
		c.setStateLocked(StateClosing, eventClose)
	case StateClosing:
		// peer already initiated close (eventRecvFin); our own FIN still
		// needs to go out below.
	default:
		return errors.New("close called before connection established")
	}

	if !c.ourFinSent {
		c.ourFin = c.snd.enqueue(nil, true)
		c.ourFinSent = true
	}
	c.maybeFinishClosingLocked()
	return nil
}

// OnTimer fires when the retransmission timer armed by scheduleTimer
// elapses. Each connection owns its own time.AfterFunc timer; the endpoint
// runs no timer of its own.
func (c *Conn) OnTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.snd == nil {
		return
	}
	c.snd.onTimeout()
}

func (c *Conn) onAbort() {
	c.state = StateClosed
	if c.ackTimer != nil {
		c.ackTimer.Stop()
		c.ackTimer = nil
	}
	c.closeOnce.Do(func() { close(c.closed) })
}

// scheduleTimer and stopTimer adapt the sender's abstract timer callbacks
// onto a real time.Timer bound to this connection, guarded by mu on fire.
func (c *Conn) scheduleTimer(d time.Duration) {
	if c.pendingTimer != nil {
		c.pendingTimer.Stop()
	}
	c.pendingTimer = time.AfterFunc(d, func() {
		c.OnTimer()
	})
}

func (c *Conn) stopTimer() {
	if c.pendingTimer != nil {
		c.pendingTimer.Stop()
		c.pendingTimer = nil
	}
}

// Stats returns a point-in-time snapshot of this connection's counters
// (spec §6).
func (c *Conn) Stats() Snapshot {
	return c.stats.snapshot(c.estimator.SRTT(), c.estimator.RTO())
}

// SetLatencyRecorder wires fn to be called with the enqueue-to-ack latency
// of every message as it is cumulatively acknowledged (spec §6's
// per-message latency histogram), the integration point for the metrics
// package.
func (c *Conn) SetLatencyRecorder(fn func(time.Duration)) {
	c.stats.LatencyRecorder = fn
}

// State reports the connection's current FSM state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}
