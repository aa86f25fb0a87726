package srarq

import (
	"log/slog"

	"github.com/nicosta1132/srarq/container"
	"github.com/pkg/errors"
)

type receiverSlot struct {
	packet Packet
}

// Receiver is the receiving half of a selective repeat link. It buffers
// packets that arrive out of order within its window and hands payloads to
// the application strictly in sequence order.
//
// Like Sender, a Receiver must only be driven from one goroutine at a time.
type Receiver struct {
	log     *slog.Logger
	cfg     Config
	sum     Checksummer
	channel Channel
	app     Application

	expectedSeqNum int
	slots          []receiverSlot
	received       *container.Bitmap
}

func NewReceiver(log *slog.Logger, cfg Config, channel Channel, app Application) (*Receiver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if channel == nil || app == nil {
		return nil, errors.New("receiver needs a channel and an application")
	}
	r := &Receiver{
		log:      log,
		cfg:      cfg,
		sum:      cfg.checksummer(),
		channel:  channel,
		app:      app,
		slots:    make([]receiverSlot, cfg.WindowSize),
		received: container.New(cfg.WindowSize),
	}
	r.Init()
	return r, nil
}

func (r *Receiver) Init() {
	r.expectedSeqNum = 0
	for i := range r.slots {
		r.slots[i] = receiverSlot{}
	}
	r.received.ClearAll()
}

func (r *Receiver) ExpectedSeqNum() int {
	return r.expectedSeqNum
}

// Buffered is the number of packets held back waiting for a gap to fill.
func (r *Receiver) Buffered() int {
	return r.received.Count()
}

// OnPacket handles a data packet arriving from the link.
func (r *Receiver) OnPacket(p Packet) {
	if IsCorrupted(p, r.sum) || len(p.Payload) != r.cfg.PayloadSize {
		r.log.Debug("Dropped corrupted packet", "packet", p)
		return
	}
	if p.IsAck() {
		r.log.Debug("Ignored acknowledgment on receiving side", "ack", p.AckNum)
		return
	}

	sn := p.SeqNum
	size, space := r.cfg.WindowSize, r.cfg.SeqSpace
	switch {
	case inWindow(r.expectedSeqNum, sn, size, space):
		index := slotIndex(sn, size)
		if r.received.Get(index) {
			r.log.Debug("Duplicate packet already buffered", "seq", sn)
		} else {
			r.slots[index] = receiverSlot{packet: p.clone()}
			r.received.Set(index)
		}
		r.sendAck(sn)
		r.deliverInOrder()

	case inWindow(seqAdd(r.expectedSeqNum, -size, space), sn, size, space):
		// Delivered already; the earlier acknowledgment may have been lost.
		r.sendAck(sn)

	default:
		r.log.Warn(
			"Dropped packet ahead of the receive window; sender and receiver disagree on window or sequence space",
			"seq", sn, "expected", r.expectedSeqNum, "window", size, "seq_space", space,
		)
	}
}

func (r *Receiver) sendAck(sn int) {
	r.log.Debug("Sending acknowledgment", "ack", sn)
	r.channel.Transmit(NewAckPacket(sn, r.cfg.PayloadSize, r.sum))
}

func (r *Receiver) deliverInOrder() {
	for {
		index := slotIndex(r.expectedSeqNum, r.cfg.WindowSize)
		if !r.received.Get(index) {
			return
		}
		payload := r.slots[index].packet.Payload
		r.slots[index] = receiverSlot{}
		r.received.Clear(index)
		r.log.Debug("Delivering packet", "seq", r.expectedSeqNum)
		r.expectedSeqNum = seqAdd(r.expectedSeqNum, 1, r.cfg.SeqSpace)
		r.app.Deliver(payload)
	}
}
