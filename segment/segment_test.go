package segment

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := Segment{
		Flags:   FlagDATA | FlagACK,
		ConnID:  0xdeadbeef,
		Seq:     5,
		Ack:     3,
		Win:     10,
		Payload: []byte("msg-0005"),
	}

	buf, err := Encode(in)
	require.NoError(t, err)
	require.Len(t, buf, HeaderSize+len(in.Payload))

	out, err := Decode(buf)
	require.NoError(t, err)
	require.Equal(t, in.Flags, out.Flags)
	require.Equal(t, in.ConnID, out.ConnID)
	require.Equal(t, in.Seq, out.Seq)
	require.Equal(t, in.Ack, out.Ack)
	require.Equal(t, in.Win, out.Win)
	require.Equal(t, in.Payload, out.Payload)
}

func TestEncodeRejectsOversizedPayload(t *testing.T) {
	_, err := Encode(Segment{Payload: make([]byte, MaxPayload+1)})
	require.Error(t, err)
}

func TestDecodeRejectsShortBuffer(t *testing.T) {
	_, err := Decode(make([]byte, HeaderSize-1))
	require.Error(t, err)
}

func TestDecodeRejectsBadVersion(t *testing.T) {
	buf, err := Encode(Segment{ConnID: 1})
	require.NoError(t, err)
	buf[offVer] = 7
	_, err = Decode(buf)
	require.Error(t, err)
}

func TestDecodeRejectsLengthMismatch(t *testing.T) {
	buf, err := Encode(Segment{ConnID: 1, Payload: []byte("hi")})
	require.NoError(t, err)
	buf = append(buf, 0xff) // trailing byte not reflected in len field
	_, err = Decode(buf)
	require.Error(t, err)
}

func TestDecodeRejectsCorruption(t *testing.T) {
	buf, err := Encode(Segment{ConnID: 1, Seq: 5, Payload: []byte("payload")})
	require.NoError(t, err)

	for i := range buf {
		corrupt := make([]byte, len(buf))
		copy(corrupt, buf)
		corrupt[i] ^= 0x01
		if _, err := Decode(corrupt); err == nil {
			t.Fatalf("flipping bit in byte %d was not detected", i)
		}
	}
}

func TestDecodeDoesNotMutateInput(t *testing.T) {
	buf, err := Encode(Segment{ConnID: 1, Payload: []byte("abc")})
	require.NoError(t, err)
	before := append([]byte(nil), buf...)

	_, err = Decode(buf)
	require.NoError(t, err)
	require.Equal(t, before, buf)
}
