// Package seqnum provides the modular arithmetic used to compare and order
// the 32-bit sequence and acknowledgement numbers carried on the wire.
//
// The sequence space wraps at 2^32; "greater than" is defined via signed
// difference rather than plain integer comparison, so that a small window
// near the wraparound point still orders correctly.
package seqnum

// Value is a sequence or acknowledgement number.
type Value uint32

// Size is a span of sequence numbers, e.g. a window size or a count of
// segments (each segment consumes one sequence number).
type Size uint32

// Add returns v+delta, wrapping at 2^32.
func (v Value) Add(delta Size) Value {
	return v + Value(delta)
}

// Size returns the forward distance from v to w, i.e. the number of
// sequence numbers in [v, w).
func (v Value) Size(w Value) Size {
	return Size(w - v)
}

// LessThan reports whether v precedes w in the sequence space, using
// signed-difference comparison so it stays correct across wraparound.
func (v Value) LessThan(w Value) bool {
	return int32(v-w) < 0
}

// LessThanEq reports whether v precedes or equals w.
func (v Value) LessThanEq(w Value) bool {
	return v == w || v.LessThan(w)
}

// InRange reports whether v lies in the half-open interval [a, b).
func (v Value) InRange(a, b Value) bool {
	if a == b {
		return false
	}
	if a.LessThan(b) {
		return a.LessThanEq(v) && v.LessThan(b)
	}
	// The interval wraps around zero.
	return a.LessThanEq(v) || v.LessThan(b)
}
