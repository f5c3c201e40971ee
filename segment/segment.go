// Package segment implements the wire codec for rdtp's protocol data unit:
// a fixed-layout header plus an opaque payload, checksummed with MD5 and
// carried one-per-datagram over the UDP substrate.
//
// Layout (network byte order, 34-byte header):
//
//	ver(1) flags(1) conn_id(4) seq(4) ack(4) win(2) len(2) checksum(16) payload(len)
package segment

import (
	"crypto/md5"
	"encoding/binary"

	"github.com/pkg/errors"
)

// Flag bits, per the positions fixed by the wire format.
const (
	FlagSYN  uint8 = 1 << 0
	FlagACK  uint8 = 1 << 1
	FlagFIN  uint8 = 1 << 2
	FlagDATA uint8 = 1 << 3
)

// Version is the only protocol version this codec accepts.
const Version uint8 = 1

// MaxPayload bounds a single application message so it always fits in one
// segment.
const MaxPayload = 1200

// HeaderSize is the fixed size, in bytes, of an encoded header.
const HeaderSize = 34

const (
	offVer      = 0
	offFlags    = 1
	offConnID   = 2
	offSeq      = 6
	offAck      = 10
	offWin      = 14
	offLen      = 16
	offChecksum = 18
)

// Segment is a decoded protocol data unit.
type Segment struct {
	Flags   uint8
	ConnID  uint32
	Seq     uint32
	Ack     uint32
	Win     uint16
	Payload []byte
}

// HasFlag reports whether all bits in mask are set.
func (s Segment) HasFlag(mask uint8) bool {
	return s.Flags&mask == mask
}

// Encode serializes s into a newly allocated buffer, computing the MD5
// checksum over the header (with the checksum field zeroed) and payload.
//
// Encode rejects payloads longer than MaxPayload; the caller (the sender,
// per spec) is responsible for rejecting oversized application messages
// before they reach the codec.
func Encode(s Segment) ([]byte, error) {
	if len(s.Payload) > MaxPayload {
		return nil, errors.Errorf("segment: payload of %d bytes exceeds MaxPayload %d", len(s.Payload), MaxPayload)
	}

	buf := make([]byte, HeaderSize+len(s.Payload))
	buf[offVer] = Version
	buf[offFlags] = s.Flags
	binary.BigEndian.PutUint32(buf[offConnID:], s.ConnID)
	binary.BigEndian.PutUint32(buf[offSeq:], s.Seq)
	binary.BigEndian.PutUint32(buf[offAck:], s.Ack)
	binary.BigEndian.PutUint16(buf[offWin:], s.Win)
	binary.BigEndian.PutUint16(buf[offLen:], uint16(len(s.Payload)))
	copy(buf[HeaderSize:], s.Payload)

	sum := checksum(buf)
	copy(buf[offChecksum:offChecksum+16], sum[:])

	return buf, nil
}

// DecodeError reports why a buffer failed to decode into a Segment. It is
// always a recoverable, silently-countable condition (spec's "Corrupt" and
// related error kinds), never a panic.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return "segment: " + e.Reason
}

// Decode validates and parses buf into a Segment. It never mutates buf and
// never panics; any structural or checksum problem is reported as a
// *DecodeError.
func Decode(buf []byte) (Segment, error) {
	if len(buf) < HeaderSize {
		return Segment{}, &DecodeError{Reason: "buffer shorter than header"}
	}

	if buf[offVer] != Version {
		return Segment{}, &DecodeError{Reason: "unsupported version"}
	}

	length := binary.BigEndian.Uint16(buf[offLen:])
	if int(length) != len(buf)-HeaderSize {
		return Segment{}, &DecodeError{Reason: "length field disagrees with trailing bytes"}
	}

	if !verifyChecksum(buf) {
		return Segment{}, &DecodeError{Reason: "checksum mismatch"}
	}

	s := Segment{
		Flags:  buf[offFlags],
		ConnID: binary.BigEndian.Uint32(buf[offConnID:]),
		Seq:    binary.BigEndian.Uint32(buf[offSeq:]),
		Ack:    binary.BigEndian.Uint32(buf[offAck:]),
		Win:    binary.BigEndian.Uint16(buf[offWin:]),
	}
	if length > 0 {
		s.Payload = make([]byte, length)
		copy(s.Payload, buf[HeaderSize:])
	}

	return s, nil
}

// checksum computes the MD5 digest of buf with the checksum field zeroed,
// without mutating the caller's buffer.
func checksum(buf []byte) [16]byte {
	tmp := make([]byte, len(buf))
	copy(tmp, buf)
	var zero [16]byte
	copy(tmp[offChecksum:offChecksum+16], zero[:])
	return md5.Sum(tmp)
}

func verifyChecksum(buf []byte) bool {
	var got [16]byte
	copy(got[:], buf[offChecksum:offChecksum+16])
	want := checksum(buf)
	return got == want
}
