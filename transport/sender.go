package transport

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/duskline/rdtp/rtt"
	"github.com/duskline/rdtp/segment"
	"github.com/duskline/rdtp/seqnum"
)

// sender holds the state needed for reliable, in-order, flow-controlled
// delivery of whole messages, per spec §4.2.
type sender struct {
	log zerolog.Logger

	sndUna seqnum.Value
	sndNxt seqnum.Value
	sndWnd int // effective window, in segments: min(maxWindow, peer advertised win)

	maxWindow int
	inflight  inflightList

	estimator *rtt.Estimator
	maxRetries int

	stats *Stats

	// transmit sends one on-wire segment; supplied by the connection,
	// which owns the socket and the current ack/win to piggyback.
	transmit func(seq uint32, flags uint8, payload []byte)

	// abort is called when a segment's retransmit count exceeds
	// maxRetries (spec §4.2 on_timeout).
	abort func()

	timerRunning bool
	timerFire    func(d time.Duration)
	timerStop    func()
}

func newSender(log zerolog.Logger, iss uint32, cfg Config, stats *Stats, estimator *rtt.Estimator, transmit func(seq uint32, flags uint8, payload []byte), abort func()) *sender {
	return &sender{
		log:        log,
		sndUna:     seqnum.Value(iss),
		sndNxt:     seqnum.Value(iss),
		sndWnd:     cfg.MaxWindow,
		maxWindow:  cfg.MaxWindow,
		estimator:  estimator,
		maxRetries: cfg.MaxRetries,
		stats:      stats,
		transmit:   transmit,
		abort:      abort,
	}
}

// bind wires the sender's timer to the connection's actual timer
// scheduling, done separately from newSender so tests can exercise the
// sender's accounting without a live timer.
func (s *sender) bind(fire func(d time.Duration), stop func()) {
	s.timerFire = fire
	s.timerStop = stop
}

// outstanding is snd_nxt - snd_una, the number of in-flight segments.
func (s *sender) outstanding() int {
	return int(s.sndUna.Size(s.sndNxt))
}

// canSend reports whether the flow-control window admits one more segment
// (spec invariant 2).
func (s *sender) canSend() bool {
	return s.outstanding() < s.sndWnd
}

// enqueue appends a new DATA (or FIN, when payload is empty and fin=true)
// segment at sndNxt, transmits it, and starts the retransmission timer if
// it isn't already running. The caller must have already checked canSend.
func (s *sender) enqueue(payload []byte, fin bool) uint32 {
	now := time.Now()
	seq := uint32(s.sndNxt)

	flags := flagFor(payload, fin)

	e := &inflightSegment{
		seq:       seq,
		flags:     flags,
		payload:   payload,
		firstSend: now,
		lastSend:  now,
	}
	s.inflight.PushBack(e)
	s.sndNxt = s.sndNxt.Add(e.logicalLen())

	s.transmit(seq, flags, payload)
	s.stats.addSegmentsSent(1)
	s.stats.addBytesSent(uint64(len(payload)))

	s.ensureTimerRunning()

	return seq
}

func flagFor(payload []byte, fin bool) uint8 {
	if fin {
		return segment.FlagFIN
	}
	return segment.FlagDATA
}

// onAck processes a cumulative ACK carrying ack and the peer's advertised
// window, per spec §4.2 on_ack.
func (s *sender) onAck(ack uint32, peerWin uint16) {
	s.sndWnd = s.maxWindow
	if int(peerWin) < s.sndWnd {
		s.sndWnd = int(peerWin)
	}

	ackVal := seqnum.Value(ack)
	if !s.ackAdvances(ackVal) {
		return
	}

	for !s.inflight.Empty() {
		front := s.inflight.Front()
		if !seqnum.Value(front.seq).LessThan(ackVal) {
			break
		}
		s.inflight.Remove(front)
		if front.retries == 0 {
			s.estimator.Sample(time.Since(front.firstSend))
		}
		s.stats.recordLatency(time.Since(front.firstSend))
	}
	s.sndUna = ackVal

	if s.inflight.Empty() {
		s.stopTimer()
	} else {
		s.restartTimer()
	}
}

// ackAdvances reports whether ack represents progress beyond sndUna, using
// modular comparison so it is safe across wraparound.
func (s *sender) ackAdvances(ack seqnum.Value) bool {
	return s.sndUna.LessThan(ack) || (ack == s.sndNxt && s.sndUna != s.sndNxt)
}

// onTimeout performs Go-Back-N retransmission of every in-flight segment,
// per spec §4.2 on_timeout. It returns true if the connection must abort
// because some segment exceeded MaxRetries.
func (s *sender) onTimeout() (shouldAbort bool) {
	now := time.Now()
	count := uint64(0)
	for e := s.inflight.Front(); e != nil; e = e.Next() {
		e.retries++
		e.lastSend = now
		if e.retries > s.maxRetries {
			shouldAbort = true
		}
		s.transmit(e.seq, e.flags, e.payload)
		count++
	}
	if count > 0 {
		s.stats.addRetransmissions(count)
	}

	s.estimator.Backoff()

	if shouldAbort {
		s.stopTimer()
		if s.abort != nil {
			s.abort()
		}
		return true
	}

	if !s.inflight.Empty() {
		s.restartTimer()
	}
	return false
}

func (s *sender) ensureTimerRunning() {
	if s.timerRunning || s.timerFire == nil {
		return
	}
	s.timerRunning = true
	s.timerFire(s.estimator.RTO())
}

func (s *sender) restartTimer() {
	if s.timerStop != nil {
		s.timerStop()
	}
	s.timerRunning = false
	s.ensureTimerRunning()
}

func (s *sender) stopTimer() {
	if s.timerStop != nil {
		s.timerStop()
	}
	s.timerRunning = false
}
