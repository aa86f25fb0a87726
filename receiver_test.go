package srarq_test

import (
	"strconv"
	"testing"

	"github.com/nicosta1132/srarq"
	"github.com/nicosta1132/srarq/srarqtest"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type ReceiverTestSuite struct {
	suite.Suite
	cfg  srarq.Config
	link *srarqtest.Link
}

func (s *ReceiverTestSuite) setup(window, space int) {
	s.cfg = srarq.DefaultConfig()
	s.cfg.WindowSize = window
	s.cfg.SeqSpace = space
	s.link = srarqtest.NewLink(s.T(), s.cfg)
}

func (s *ReceiverTestSuite) packet(sn int) srarq.Packet {
	return srarq.NewDataPacket(sn, []byte(strconv.Itoa(sn)), s.cfg.PayloadSize, srarq.AdditiveChecksum)
}

func (s *ReceiverTestSuite) ackNums() []int {
	var result []int
	for _, p := range s.link.Backward.Sent() {
		s.Require().True(p.IsAck())
		result = append(result, p.AckNum)
	}
	return result
}

func (s *ReceiverTestSuite) TestReorderedDelivery() {
	s.setup(4, 8)
	r := s.link.Receiver

	r.OnPacket(s.packet(2))
	s.Equal(0, s.link.App.Len())
	s.Equal(1, r.Buffered())

	r.OnPacket(s.packet(0))
	s.Equal([]string{"0"}, s.link.App.Strings())
	s.Equal(1, r.ExpectedSeqNum())

	r.OnPacket(s.packet(1))
	s.Equal([]string{"0", "1", "2"}, s.link.App.Strings())
	s.Equal(3, r.ExpectedSeqNum())
	s.Equal(0, r.Buffered())

	s.Equal([]int{2, 0, 1}, s.ackNums())
}

func (s *ReceiverTestSuite) TestIdempotentAck() {
	s.setup(4, 8)
	r := s.link.Receiver

	r.OnPacket(s.packet(1))
	r.OnPacket(s.packet(1))

	acks := s.link.Backward.Sent()
	s.Require().Len(acks, 2)
	s.Equal(acks[0], acks[1])
	s.Equal(1, acks[0].AckNum)
	s.Equal(1, r.Buffered())

	r.OnPacket(s.packet(0))
	s.Equal([]string{"0", "1"}, s.link.App.Strings())
}

func (s *ReceiverTestSuite) TestDeliveredPacketIsAcknowledgedAgain() {
	s.setup(4, 8)
	r := s.link.Receiver

	r.OnPacket(s.packet(0))
	r.OnPacket(s.packet(0))

	s.Equal([]int{0, 0}, s.ackNums())
	s.Equal(1, s.link.App.Len())
	s.Equal(1, r.ExpectedSeqNum())
}

func (s *ReceiverTestSuite) TestPacketAheadOfWindowDropped() {
	s.setup(2, 8)
	r := s.link.Receiver

	// Window is [0, 1], the already-delivered range is [6, 7].
	for _, sn := range []int{2, 3, 4, 5} {
		r.OnPacket(s.packet(sn))
	}
	r.OnPacket(srarq.NewDataPacket(9, nil, s.cfg.PayloadSize, srarq.AdditiveChecksum))

	s.Empty(s.link.Backward.Sent())
	s.Equal(0, r.Buffered())
	s.Equal(0, s.link.App.Len())

	r.OnPacket(s.packet(7))
	s.Equal([]int{7}, s.ackNums())
	s.Equal(0, s.link.App.Len())
}

func (s *ReceiverTestSuite) TestCorruptedPacketDropped() {
	s.setup(4, 8)
	r := s.link.Receiver

	r.OnPacket(srarqtest.Corrupt(s.packet(0)))
	s.Empty(s.link.Backward.Sent())
	s.Equal(0, s.link.App.Len())

	r.OnPacket(s.packet(0))
	s.Equal([]string{"0"}, s.link.App.Strings())
}

func (s *ReceiverTestSuite) TestWrongPayloadSizeDropped() {
	s.setup(4, 8)
	r := s.link.Receiver

	r.OnPacket(srarq.NewDataPacket(0, []byte("0"), s.cfg.PayloadSize/2, srarq.AdditiveChecksum))
	s.Empty(s.link.Backward.Sent())
	s.Equal(0, s.link.App.Len())
}

func (s *ReceiverTestSuite) TestAckOnReceivingSideIgnored() {
	s.setup(4, 8)
	s.link.Receiver.OnPacket(srarq.NewAckPacket(0, s.cfg.PayloadSize, srarq.AdditiveChecksum))
	s.Empty(s.link.Backward.Sent())
	s.Equal(0, s.link.Receiver.ExpectedSeqNum())
}

func (s *ReceiverTestSuite) TestDeliversPaddedPayload() {
	s.setup(4, 8)
	s.link.Receiver.OnPacket(s.packet(0))

	payloads := s.link.App.Payloads()
	s.Require().Len(payloads, 1)
	s.Len(payloads[0], s.cfg.PayloadSize)
	s.Equal(byte('0'), payloads[0][0])
}

func (s *ReceiverTestSuite) TestWraparound() {
	s.setup(2, 4)
	r := s.link.Receiver

	for _, sn := range []int{1, 0, 3, 2, 0, 1} {
		r.OnPacket(s.packet(sn))
	}
	s.Equal([]string{"0", "1", "2", "3", "0", "1"}, s.link.App.Strings())
	s.Equal(2, r.ExpectedSeqNum())
}

func (s *ReceiverTestSuite) TestReorderingAcrossSlotRingBoundary() {
	s.setup(3, 6)
	r := s.link.Receiver

	send := func(sn int, msg string) {
		r.OnPacket(srarq.NewDataPacket(sn, []byte(msg), s.cfg.PayloadSize, srarq.AdditiveChecksum))
	}
	for i := 0; i < 5; i++ {
		send(i, "m"+strconv.Itoa(i))
	}

	// The window is now {5, 0, 1}: slots 2, 0 and 1.
	send(1, "m7")
	send(0, "m6")
	s.Equal(2, r.Buffered())
	send(5, "m5")

	s.Equal([]string{"m0", "m1", "m2", "m3", "m4", "m5", "m6", "m7"}, s.link.App.Strings())
	s.Equal(2, r.ExpectedSeqNum())
	s.Equal(0, r.Buffered())
}

func (s *ReceiverTestSuite) TestInitResets() {
	s.setup(4, 8)
	r := s.link.Receiver
	r.OnPacket(s.packet(0))
	r.OnPacket(s.packet(2))
	r.Init()

	s.Equal(0, r.ExpectedSeqNum())
	s.Equal(0, r.Buffered())
}

func TestReceiver(t *testing.T) {
	suite.Run(t, new(ReceiverTestSuite))
}

func TestNewReceiverRejectsSpaceNotMultipleOfWindow(t *testing.T) {
	cfg := srarq.DefaultConfig()
	cfg.WindowSize = 3
	cfg.SeqSpace = 7
	_, err := srarq.NewReceiver(srarqtest.NewLogger(t), cfg, srarqtest.NewChannel(), &srarqtest.Recorder{})
	require.ErrorIs(t, err, srarq.ErrInvalidConfig)
}
