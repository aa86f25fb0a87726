package srarq

import (
	"encoding/binary"
	"fmt"

	"github.com/google/netstack/tcpip/header"
	"github.com/pkg/errors"
)

const (
	maxPayloadSize = 0xffff
	maxSeqSpace    = 1<<31 - 1
)

// Packet is the unit exchanged over the link. Data packets carry AckNum == NoAck,
// acknowledgments carry the acknowledged sequence number and an all-zero payload.
type Packet struct {
	SeqNum   int
	AckNum   int
	Checksum uint32
	Payload  []byte
}

// Checksummer computes the integrity value of a packet, ignoring its Checksum field.
type Checksummer func(p Packet) uint32

// AdditiveChecksum is seqnum + acknum + the sum of the payload bytes,
// in wrapping 32-bit arithmetic.
func AdditiveChecksum(p Packet) uint32 {
	sum := uint32(int32(p.SeqNum)) + uint32(int32(p.AckNum))
	for _, b := range p.Payload {
		sum += uint32(b)
	}
	return sum
}

// InternetChecksum is the ones-complement checksum over the framed packet
// with the checksum field zeroed.
func InternetChecksum(p Packet) uint32 {
	p.Checksum = 0
	buf := p.frame()
	return uint32(^header.Checksum(buf, 0))
}

func (p Packet) IsAck() bool {
	return p.AckNum != NoAck
}

func (p Packet) String() string {
	if p.IsAck() {
		return fmt.Sprintf("ack(%d)", p.AckNum)
	}
	return fmt.Sprintf("data(%d)", p.SeqNum)
}

// IsCorrupted reports whether the stored checksum disagrees with the computed one.
func IsCorrupted(p Packet, sum Checksummer) bool {
	return p.Checksum != sum(p)
}

// NewDataPacket frames msg as the payload of sequence number seq,
// zero padded to payloadSize.
func NewDataPacket(seq int, msg []byte, payloadSize int, sum Checksummer) Packet {
	p := Packet{
		SeqNum:  seq,
		AckNum:  NoAck,
		Payload: make([]byte, payloadSize),
	}
	copy(p.Payload, msg)
	p.Checksum = sum(p)
	return p
}

// NewAckPacket builds the acknowledgment for sequence number ack.
func NewAckPacket(ack int, payloadSize int, sum Checksummer) Packet {
	p := Packet{
		SeqNum:  0,
		AckNum:  ack,
		Payload: make([]byte, payloadSize),
	}
	p.Checksum = sum(p)
	return p
}

func (p Packet) clone() Packet {
	c := p
	c.Payload = append([]byte(nil), p.Payload...)
	return c
}

func (p Packet) frame() []byte {
	buffer := make([]byte, headerLength+len(p.Payload))
	binary.BigEndian.PutUint32(buffer[seqNumPosition.Start:seqNumPosition.End], uint32(int32(p.SeqNum)))
	binary.BigEndian.PutUint32(buffer[ackNumPosition.Start:ackNumPosition.End], uint32(int32(p.AckNum)))
	binary.BigEndian.PutUint32(buffer[checksumPosition.Start:checksumPosition.End], p.Checksum)
	binary.BigEndian.PutUint16(buffer[lengthPosition.Start:lengthPosition.End], uint16(len(p.Payload)))
	copy(buffer[headerLength:], p.Payload)
	return buffer
}

// MarshalBinary encodes the packet as
// seqnum(int32) | acknum(int32) | checksum(uint32) | length(uint16) | payload, big endian.
func (p Packet) MarshalBinary() ([]byte, error) {
	if len(p.Payload) > maxPayloadSize {
		return nil, errors.Wrapf(ErrPayloadTooLarge, "%d bytes", len(p.Payload))
	}
	return p.frame(), nil
}

// UnmarshalPacket decodes a frame produced by MarshalBinary.
// The checksum is not verified here.
func UnmarshalPacket(buffer []byte) (Packet, error) {
	if len(buffer) < headerLength {
		return Packet{}, errors.Wrapf(ErrMalformedFrame, "short header: %d bytes", len(buffer))
	}
	length := int(binary.BigEndian.Uint16(buffer[lengthPosition.Start:lengthPosition.End]))
	if len(buffer)-headerLength != length {
		return Packet{}, errors.Wrapf(ErrMalformedFrame,
			"payload length %d, frame carries %d", length, len(buffer)-headerLength)
	}
	return Packet{
		SeqNum:   int(int32(binary.BigEndian.Uint32(buffer[seqNumPosition.Start:seqNumPosition.End]))),
		AckNum:   int(int32(binary.BigEndian.Uint32(buffer[ackNumPosition.Start:ackNumPosition.End]))),
		Checksum: binary.BigEndian.Uint32(buffer[checksumPosition.Start:checksumPosition.End]),
		Payload:  append([]byte(nil), buffer[headerLength:]...),
	}, nil
}
