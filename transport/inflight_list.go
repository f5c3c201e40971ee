package transport

import "time"

// inflightSegment is one unacknowledged segment sitting between snd_una and
// snd_nxt: its payload, when it was first and most recently transmitted, and
// how many times it has been retransmitted.
type inflightSegment struct {
	inflightEntry
	seq       uint32
	flags     uint8
	payload   []byte
	firstSend time.Time
	lastSend  time.Time
	retries   int
}

// logicalLen is the number of sequence numbers this segment consumes.
// Spec §3 fixes seq as counting whole segments, not bytes: every DATA or
// FIN segment advances the sequence space by exactly one, regardless of
// payload length.
func (s *inflightSegment) logicalLen() uint32 {
	return 1
}

// inflightList is a typed doubly-linked list of inflightSegments, always
// kept in ascending seq order (entries are appended at the tail as snd_nxt
// advances and trimmed from the head as snd_una advances), mirroring the
// teacher's generated per-type packet lists.
type inflightList struct {
	head *inflightSegment
	tail *inflightSegment
	size int
}

func (l *inflightList) Empty() bool { return l.head == nil }
func (l *inflightList) Len() int    { return l.size }
func (l *inflightList) Front() *inflightSegment { return l.head }

func (l *inflightList) PushBack(e *inflightSegment) {
	e.SetNext(nil)
	e.SetPrev(l.tail)

	if l.tail != nil {
		l.tail.SetNext(e)
	} else {
		l.head = e
	}
	l.tail = e
	l.size++
}

func (l *inflightList) Remove(e *inflightSegment) {
	prev := e.Prev()
	next := e.Next()

	if prev != nil {
		prev.SetNext(next)
	} else {
		l.head = next
	}
	if next != nil {
		next.SetPrev(prev)
	} else {
		l.tail = prev
	}
	l.size--
}

type inflightEntry struct {
	next *inflightSegment
	prev *inflightSegment
}

func (e *inflightEntry) Next() *inflightSegment { return e.next }
func (e *inflightEntry) Prev() *inflightSegment { return e.prev }
func (e *inflightEntry) SetNext(s *inflightSegment) { e.next = s }
func (e *inflightEntry) SetPrev(s *inflightSegment) { e.prev = s }
