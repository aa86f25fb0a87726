package srarq

import (
	"log/slog"
	"time"

	"github.com/nicosta1132/srarq/container"
	"github.com/pkg/errors"
)

type senderSlot struct {
	packet      Packet
	sendTime    time.Time
	retransmits int
}

// SenderStats counts what happened to submitted messages.
type SenderStats struct {
	Submitted     int
	Rejected      int
	Retransmitted int
	AcksIgnored   int
}

// Sender is the sending half of a selective repeat link.
//
// Outstanding packets are kept in a ring of WindowSize slots indexed by
// seqnum mod WindowSize. A single timer guards the oldest unacknowledged
// packet; when it expires every unacknowledged packet in the window is
// sent again.
//
// A Sender is not safe for concurrent use. Its methods are event handlers
// that must be called one at a time.
type Sender struct {
	log     *slog.Logger
	cfg     Config
	sum     Checksummer
	channel Channel
	timer   Timer
	now     func() time.Time

	base       int
	nextSeqNum int
	slots      []senderSlot
	acked      *container.Bitmap

	stats SenderStats
}

func NewSender(log *slog.Logger, cfg Config, channel Channel, timer Timer) (*Sender, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if channel == nil || timer == nil {
		return nil, errors.New("sender needs a channel and a timer")
	}
	s := &Sender{
		log:     log,
		cfg:     cfg,
		sum:     cfg.checksummer(),
		channel: channel,
		timer:   timer,
		now:     time.Now,
		slots:   make([]senderSlot, cfg.WindowSize),
		acked:   container.New(cfg.WindowSize),
	}
	s.Init()
	return s, nil
}

// Init resets the sender to an empty window starting at sequence number 0.
func (s *Sender) Init() {
	s.timer.Stop()
	s.base = 0
	s.nextSeqNum = 0
	for i := range s.slots {
		s.slots[i] = senderSlot{}
	}
	s.acked.ClearAll()
	s.stats = SenderStats{}
}

func (s *Sender) Base() int {
	return s.base
}

func (s *Sender) NextSeqNum() int {
	return s.nextSeqNum
}

// Outstanding is the number of packets sent but not yet slid out of the window.
func (s *Sender) Outstanding() int {
	return seqDistance(s.base, s.nextSeqNum, s.cfg.SeqSpace)
}

func (s *Sender) Stats() SenderStats {
	return s.stats
}

// Submit frames msg into the next packet and transmits it.
// It returns ErrWindowFull, leaving the window untouched, when WindowSize
// packets are already outstanding; the caller should retry later.
func (s *Sender) Submit(msg []byte) error {
	if len(msg) > s.cfg.PayloadSize {
		return errors.Wrapf(ErrPayloadTooLarge, "%d bytes, limit %d", len(msg), s.cfg.PayloadSize)
	}
	if s.Outstanding() >= s.cfg.WindowSize {
		s.stats.Rejected++
		s.log.Debug(
			"Rejected message, window full",
			"base", s.base, "next_seq", s.nextSeqNum,
		)
		return ErrWindowFull
	}

	p := NewDataPacket(s.nextSeqNum, msg, s.cfg.PayloadSize, s.sum)
	index := slotIndex(s.nextSeqNum, s.cfg.WindowSize)
	s.slots[index] = senderSlot{packet: p, sendTime: s.now()}
	s.acked.Clear(index)

	s.log.Debug("Sending packet", "seq", p.SeqNum)
	if s.base == s.nextSeqNum {
		s.timer.Start(s.cfg.Timeout)
	}
	s.nextSeqNum = seqAdd(s.nextSeqNum, 1, s.cfg.SeqSpace)
	s.stats.Submitted++

	s.channel.Transmit(p.clone())
	return nil
}

// OnPacket handles a packet arriving from the link, normally an acknowledgment.
func (s *Sender) OnPacket(p Packet) {
	if IsCorrupted(p, s.sum) {
		s.log.Debug("Dropped corrupted packet", "packet", p)
		return
	}
	if !p.IsAck() {
		s.log.Debug("Ignored data packet on sending side", "seq", p.SeqNum)
		return
	}

	ack := p.AckNum
	if !inWindow(s.base, ack, s.Outstanding(), s.cfg.SeqSpace) {
		s.stats.AcksIgnored++
		s.log.Debug(
			"Ignored acknowledgment outside the window",
			"ack", ack, "base", s.base, "next_seq", s.nextSeqNum,
		)
		return
	}

	index := slotIndex(ack, s.cfg.WindowSize)
	if s.acked.Get(index) {
		s.stats.AcksIgnored++
		s.log.Debug("Ignored duplicate acknowledgment", "ack", ack)
		return
	}
	s.acked.Set(index)
	s.log.Debug("Acknowledgment received", "ack", ack)

	s.slide()
}

// slide advances base over every acknowledged slot at the front of the window
// and moves the timer to the new oldest unacknowledged packet.
func (s *Sender) slide() {
	advanced := false
	for s.base != s.nextSeqNum {
		index := slotIndex(s.base, s.cfg.WindowSize)
		if !s.acked.Get(index) {
			break
		}
		s.acked.Clear(index)
		s.slots[index] = senderSlot{}
		s.base = seqAdd(s.base, 1, s.cfg.SeqSpace)
		advanced = true
	}
	if !advanced {
		return
	}

	s.timer.Stop()
	if s.base != s.nextSeqNum {
		s.timer.Start(s.cfg.Timeout)
	}
}

// OnTimerExpired resends every unacknowledged packet in [base, nextSeqNum),
// oldest first, and restarts the timer.
func (s *Sender) OnTimerExpired() {
	if s.base == s.nextSeqNum {
		s.log.Debug("Timer expired with empty window")
		return
	}

	now := s.now()
	for sn := s.base; sn != s.nextSeqNum; sn = seqAdd(sn, 1, s.cfg.SeqSpace) {
		index := slotIndex(sn, s.cfg.WindowSize)
		if s.acked.Get(index) {
			continue
		}
		slot := &s.slots[index]
		slot.retransmits++
		slot.sendTime = now
		s.stats.Retransmitted++
		s.log.Debug("Retransmitting packet", "seq", sn, "attempt", slot.retransmits)
		s.channel.Transmit(slot.packet.clone())
	}

	s.timer.Start(s.cfg.Timeout)
}
