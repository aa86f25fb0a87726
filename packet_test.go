package srarq

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdditiveChecksum(t *testing.T) {
	p := Packet{SeqNum: 3, AckNum: NoAck, Payload: []byte{1, 2, 3, 250}}
	// 3 + (-1) + 256, in 32-bit wrapping arithmetic.
	assert.Equal(t, uint32(258), AdditiveChecksum(p))

	ack := Packet{SeqNum: 0, AckNum: 5, Payload: make([]byte, 20)}
	assert.Equal(t, uint32(5), AdditiveChecksum(ack))
}

func TestNewDataPacketPadsPayload(t *testing.T) {
	p := NewDataPacket(2, []byte("hi"), 8, AdditiveChecksum)

	assert.Equal(t, 2, p.SeqNum)
	assert.Equal(t, NoAck, p.AckNum)
	assert.False(t, p.IsAck())
	assert.Equal(t, []byte{'h', 'i', 0, 0, 0, 0, 0, 0}, p.Payload)
	assert.False(t, IsCorrupted(p, AdditiveChecksum))
}

func TestNewAckPacket(t *testing.T) {
	p := NewAckPacket(4, 8, AdditiveChecksum)

	assert.True(t, p.IsAck())
	assert.Equal(t, 0, p.SeqNum)
	assert.Equal(t, 4, p.AckNum)
	assert.Equal(t, make([]byte, 8), p.Payload)
	assert.Equal(t, "ack(4)", p.String())
}

func TestCorruptionIsDetected(t *testing.T) {
	for _, sum := range []Checksummer{AdditiveChecksum, InternetChecksum} {
		p := NewDataPacket(1, []byte("payload"), 20, sum)
		require.False(t, IsCorrupted(p, sum))

		flipped := p.clone()
		flipped.Payload[3] ^= 0x40
		assert.True(t, IsCorrupted(flipped, sum))

		renumbered := p.clone()
		renumbered.SeqNum = 2
		assert.True(t, IsCorrupted(renumbered, sum))
	}
}

func TestInternetChecksumIgnoresStoredChecksum(t *testing.T) {
	p := NewDataPacket(7, []byte("abc"), 20, InternetChecksum)
	q := p
	q.Checksum = 0
	assert.Equal(t, InternetChecksum(p), InternetChecksum(q))
}

func TestMarshalUnmarshal(t *testing.T) {
	p := NewAckPacket(6, 20, AdditiveChecksum)
	frame, err := p.MarshalBinary()
	require.NoError(t, err)
	assert.Len(t, frame, headerLength+20)

	decoded, err := UnmarshalPacket(frame)
	require.NoError(t, err)
	assert.Equal(t, p, decoded)
	assert.False(t, IsCorrupted(decoded, AdditiveChecksum))

	data := NewDataPacket(3, []byte("x"), 20, AdditiveChecksum)
	frame, err = data.MarshalBinary()
	require.NoError(t, err)
	decoded, err = UnmarshalPacket(frame)
	require.NoError(t, err)
	assert.Equal(t, NoAck, decoded.AckNum)
}

func TestUnmarshalMalformed(t *testing.T) {
	_, err := UnmarshalPacket([]byte{0, 1, 2})
	assert.ErrorIs(t, err, ErrMalformedFrame)

	frame, err := NewDataPacket(0, []byte("abc"), 4, AdditiveChecksum).MarshalBinary()
	require.NoError(t, err)
	_, err = UnmarshalPacket(frame[:len(frame)-1])
	assert.ErrorIs(t, err, ErrMalformedFrame)
}
