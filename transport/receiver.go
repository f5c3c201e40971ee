package transport

import (
	"github.com/rs/zerolog"

	"github.com/duskline/rdtp/seqnum"
)

// receiver holds the state needed to verify, dedup, reorder, and deliver
// segments to the application, per spec §4.4.
type receiver struct {
	log zerolog.Logger

	rcvNxt seqnum.Value
	rcvWnd int // RcvWndCap

	reorder map[uint32]bufferedSegment

	stats *Stats

	deliver func(payload []byte)
}

type bufferedSegment struct {
	payload []byte
	isFin   bool
}

func newReceiver(log zerolog.Logger, rcvWndCap int, stats *Stats, deliver func([]byte)) *receiver {
	return &receiver{
		log:     log,
		rcvWnd:  rcvWndCap,
		reorder: make(map[uint32]bufferedSegment),
		stats:   stats,
		deliver: deliver,
	}
}

// reset seeds rcvNxt after the handshake establishes the initial receive
// sequence number (irs+1, since irs itself was consumed by the SYN).
func (r *receiver) reset(rcvNxt uint32) {
	r.rcvNxt = seqnum.Value(rcvNxt)
}

// window returns the currently advertised receive window, in segments.
func (r *receiver) window() uint16 {
	w := r.rcvWnd - len(r.reorder)
	if w < 0 {
		w = 0
	}
	return uint16(w)
}

// ackValue returns the cumulative ack this receiver currently advertises.
func (r *receiver) ackValue() uint32 {
	return uint32(r.rcvNxt)
}

// onSegment processes one inbound DATA/FIN segment per spec §4.4 and
// reports whether the given segment (not a previously-buffered one) was
// delivered as a FIN at the rcvNxt boundary — the connection uses that to
// drive its close logic. Out-of-order segments are buffered, not delivered;
// the caller always emits an ACK afterward regardless of outcome ("in every
// case" per spec).
func (r *receiver) onSegment(seq uint32, payload []byte, isFin bool) (deliveredFin bool) {
	s := seqnum.Value(seq)

	switch {
	case s == r.rcvNxt:
		r.deliver(payload)
		r.rcvNxt = r.rcvNxt.Add(deliveredSize(payload))
		finDrained := r.drainReorder()
		return isFin || finDrained

	case s.InRange(r.rcvNxt.Add(1), r.rcvNxt.Add(seqnum.Size(r.rcvWnd))):
		if _, dup := r.reorder[seq]; !dup {
			r.reorder[seq] = bufferedSegment{payload: payload, isFin: isFin}
			r.stats.addOutOfOrder(1)
		} else {
			r.stats.addDuplicatesDropped(1)
		}

	case s.LessThan(r.rcvNxt):
		r.stats.addDuplicatesDropped(1)

	default:
		r.stats.addOutOfWindowDropped(1)
	}
	return false
}

// deliveredSize is the number of sequence numbers a delivered segment
// consumes: always one (spec §3: seq counts segments, not bytes), so a
// FIN or an empty payload advances rcvNxt exactly like any DATA segment.
func deliveredSize(payload []byte) seqnum.Size {
	return 1
}

// drainReorder delivers every contiguous buffered segment starting at the
// (now advanced) rcvNxt, and reports whether any of them was a FIN.
func (r *receiver) drainReorder() (sawFin bool) {
	for {
		next := uint32(r.rcvNxt)
		buffered, ok := r.reorder[next]
		if !ok {
			return sawFin
		}
		delete(r.reorder, next)
		r.deliver(buffered.payload)
		r.rcvNxt = r.rcvNxt.Add(deliveredSize(buffered.payload))
		sawFin = sawFin || buffered.isFin
	}
}

