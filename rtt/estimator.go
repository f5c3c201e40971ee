// Package rtt implements the Jacobson/Karn smoothed round-trip-time
// estimator used to size the retransmission timeout, per the recurrence in
// RFC 6298.
package rtt

import "time"

// Estimator tracks the smoothed RTT (srtt), its variation (rttvar), and the
// derived retransmission timeout (rto). Construct it with NewEstimator: the
// zero value has Min and Max of zero, which clamps rto to zero.
type Estimator struct {
	Min, Max time.Duration

	srtt    time.Duration
	rttvar  time.Duration
	rto     time.Duration
	sampled bool
}

// NewEstimator returns an Estimator whose rto is clamped to [min, max] and
// starts at initial until the first sample arrives.
func NewEstimator(initial, min, max time.Duration) *Estimator {
	return &Estimator{
		Min: min,
		Max: max,
		rto: clamp(initial, min, max),
	}
}

// RTO returns the current retransmission timeout.
func (e *Estimator) RTO() time.Duration {
	return e.rto
}

// SRTT returns the current smoothed RTT. It is zero until the first sample.
func (e *Estimator) SRTT() time.Duration {
	return e.srtt
}

// Sample folds a new RTT measurement R into the estimator. The caller must
// never sample from a retransmitted segment (Karn's rule); the sender is
// responsible for that filtering, not the estimator.
func (e *Estimator) Sample(r time.Duration) {
	if !e.sampled {
		e.srtt = r
		e.rttvar = r / 2
		e.sampled = true
	} else {
		diff := e.srtt - r
		if diff < 0 {
			diff = -diff
		}
		e.rttvar = (e.rttvar*3 + diff) / 4
		e.srtt = (e.srtt*7 + r) / 8
	}
	e.rto = clamp(e.srtt+4*e.rttvar, e.Min, e.Max)
}

// Backoff doubles the current rto (Go-Back-N timeout backoff), clamped to
// Max, and returns the new value. It does not touch srtt/rttvar — a
// timeout is not an RTT sample.
func (e *Estimator) Backoff() time.Duration {
	e.rto = clamp(e.rto*2, e.Min, e.Max)
	return e.rto
}

func clamp(d, min, max time.Duration) time.Duration {
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}
