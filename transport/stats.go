package transport

import (
	"sync/atomic"
	"time"
)

// Stats holds the counters exposed per connection (spec §6). All integer
// fields are updated with atomic operations so they may be read
// concurrently with the connection's updates to them; see Snapshot.
type Stats struct {
	SegmentsSent       uint64
	SegmentsReceived   uint64
	Retransmissions    uint64
	OutOfOrder         uint64
	DuplicatesDropped  uint64
	OutOfWindowDropped uint64
	BytesSent          uint64
	BytesReceived      uint64

	// LatencyRecorder, if set, is called with the enqueue-to-ack latency
	// of every message as it is cumulatively acknowledged. It is the
	// integration point for the metrics package's histogram (spec §6).
	LatencyRecorder func(time.Duration)
}

// Snapshot is a point-in-time, non-atomic copy of Stats' counters, safe to
// read and print without racing the connection that updates them, plus the
// live RTT estimator values at the time of the call.
type Snapshot struct {
	SegmentsSent      uint64
	SegmentsReceived  uint64
	Retransmissions   uint64
	OutOfOrder        uint64
	DuplicatesDropped uint64
	OutOfWindowDropped uint64
	BytesSent         uint64
	BytesReceived     uint64
	SRTT              time.Duration
	RTO               time.Duration
}

func (s *Stats) addSegmentsSent(n uint64)      { atomic.AddUint64(&s.SegmentsSent, n) }
func (s *Stats) addSegmentsReceived(n uint64)  { atomic.AddUint64(&s.SegmentsReceived, n) }
func (s *Stats) addRetransmissions(n uint64)   { atomic.AddUint64(&s.Retransmissions, n) }
func (s *Stats) addOutOfOrder(n uint64)        { atomic.AddUint64(&s.OutOfOrder, n) }
func (s *Stats) addDuplicatesDropped(n uint64) { atomic.AddUint64(&s.DuplicatesDropped, n) }
func (s *Stats) addOutOfWindowDropped(n uint64) { atomic.AddUint64(&s.OutOfWindowDropped, n) }
func (s *Stats) addBytesSent(n uint64)         { atomic.AddUint64(&s.BytesSent, n) }
func (s *Stats) addBytesReceived(n uint64)     { atomic.AddUint64(&s.BytesReceived, n) }

func (s *Stats) recordLatency(d time.Duration) {
	if s.LatencyRecorder != nil {
		s.LatencyRecorder(d)
	}
}

func (s *Stats) snapshot(srtt, rto time.Duration) Snapshot {
	return Snapshot{
		SegmentsSent:      atomic.LoadUint64(&s.SegmentsSent),
		SegmentsReceived:  atomic.LoadUint64(&s.SegmentsReceived),
		Retransmissions:   atomic.LoadUint64(&s.Retransmissions),
		OutOfOrder:        atomic.LoadUint64(&s.OutOfOrder),
		DuplicatesDropped: atomic.LoadUint64(&s.DuplicatesDropped),
		OutOfWindowDropped: atomic.LoadUint64(&s.OutOfWindowDropped),
		BytesSent:         atomic.LoadUint64(&s.BytesSent),
		BytesReceived:     atomic.LoadUint64(&s.BytesReceived),
		SRTT:              srtt,
		RTO:               rto,
	}
}
