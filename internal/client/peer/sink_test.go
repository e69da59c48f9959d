package peer

import (
	"io"
	"testing"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/require"
)

func packetReader(t *testing.T, packets ...[]byte) func([]byte) (int, error) {
	t.Helper()

	return func(buf []byte) (int, error) {
		if len(packets) == 0 {
			return 0, io.EOF
		}

		p := packets[0]
		packets = packets[1:]

		return copy(buf, p), nil
	}
}

func marshalPacket(t *testing.T, seq uint16, payload []byte) []byte {
	t.Helper()

	raw, err := (&rtp.Packet{
		Header:  rtp.Header{Version: 2, PayloadType: 96, SequenceNumber: seq, SSRC: 1},
		Payload: payload,
	}).Marshal()
	require.NoError(t, err)

	return raw
}

func TestRTPSinkCountsPackets(t *testing.T) {
	sink := NewRTPSink()

	sink.drain("b", packetReader(t,
		marshalPacket(t, 7, []byte{1, 2, 3}),
		[]byte{0x00}, // не RTP
		marshalPacket(t, 8, []byte{4}),
	))

	st := sink.Stats("b")
	require.EqualValues(t, 2, st.Packets)
	require.EqualValues(t, 8, st.LastSequence)
	require.NotZero(t, st.Bytes)

	sink.Forget("b")
	require.Zero(t, sink.Stats("b").Packets)
}
