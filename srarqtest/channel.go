// Package srarqtest contains a scripted link simulator and other helpers
// for driving srarq senders and receivers deterministically in tests.
package srarqtest

import (
	"math/rand/v2"

	"github.com/nicosta1132/srarq"
	"github.com/nicosta1132/srarq/container"
)

// Handler is either side of a link: a *srarq.Sender or a *srarq.Receiver.
type Handler interface {
	OnPacket(p srarq.Packet)
}

// Channel is one direction of a simulated link. Transmitted packets are
// recorded and held in flight until the test delivers them, so a test
// decides exactly which packets arrive, in which order, and how often.
type Channel struct {
	sent     []srarq.Packet
	inFlight *container.Queue[flight]

	clock    func() int
	lifetime int

	dropNext    int
	dropSeq     map[int]int
	dropAcks    bool
	corruptNext int
	duplicate   bool

	rng                   *rand.Rand
	lossRate, corruptRate float64
	duplicateRate         float64
}

type flight struct {
	packet srarq.Packet
	born   int
}

func NewChannel() *Channel {
	return &Channel{
		inFlight: container.NewQueue[flight](),
		dropSeq:  make(map[int]int),
	}
}

// Transmit implements srarq.Channel.
func (c *Channel) Transmit(p srarq.Packet) {
	c.sent = append(c.sent, p)

	switch {
	case c.dropAcks && p.IsAck():
		return
	case c.dropNext > 0:
		c.dropNext--
		return
	case !p.IsAck() && c.dropSeq[p.SeqNum] > 0:
		c.dropSeq[p.SeqNum]--
		return
	case c.rng != nil && c.rng.Float64() < c.lossRate:
		return
	}

	if c.corruptNext > 0 {
		c.corruptNext--
		p = Corrupt(p)
	} else if c.rng != nil && c.rng.Float64() < c.corruptRate {
		p = Corrupt(p)
	}

	f := flight{packet: p, born: c.now()}
	c.inFlight.Enqueue(f)
	if c.duplicate || (c.rng != nil && c.rng.Float64() < c.duplicateRate) {
		c.inFlight.Enqueue(f)
	}
}

// Expire bounds how long a packet may stay in flight. Age is measured on
// clock, and a packet is lost once clock has advanced lifetime ticks past
// the moment it was transmitted.
func (c *Channel) Expire(clock func() int, lifetime int) {
	c.clock = clock
	c.lifetime = lifetime
}

func (c *Channel) now() int {
	if c.clock == nil {
		return 0
	}
	return c.clock()
}

func (c *Channel) expire() {
	if c.clock == nil {
		return
	}
	now := c.clock()
	items := c.inFlight.Items()
	for i := len(items) - 1; i >= 0; i-- {
		if now-items[i].born >= c.lifetime {
			c.inFlight.RemoveAt(i)
		}
	}
}

// DropNext loses the next n packets handed to Transmit.
func (c *Channel) DropNext(n int) {
	c.dropNext += n
}

// DropSeq loses the next transmission of the data packet with sequence number sn.
func (c *Channel) DropSeq(sn int) {
	c.dropSeq[sn]++
}

// DropAcks loses every acknowledgment while on is true.
func (c *Channel) DropAcks(on bool) {
	c.dropAcks = on
}

// CorruptNext flips a payload byte of the next packet that is not dropped.
func (c *Channel) CorruptNext() {
	c.corruptNext++
}

// Duplicate puts every surviving packet in flight twice while on is true.
func (c *Channel) Duplicate(on bool) {
	c.duplicate = on
}

// Lossy makes the channel lose, corrupt and duplicate packets at random,
// drawing from rng so that a run is reproducible.
func (c *Channel) Lossy(rng *rand.Rand, loss, corrupt, duplicate float64) {
	c.rng = rng
	c.lossRate = loss
	c.corruptRate = corrupt
	c.duplicateRate = duplicate
}

// Sent returns every packet handed to Transmit, including lost ones.
func (c *Channel) Sent() []srarq.Packet {
	return append([]srarq.Packet(nil), c.sent...)
}

func (c *Channel) ResetSent() {
	c.sent = nil
}

func (c *Channel) InFlight() int {
	c.expire()
	return c.inFlight.Len()
}

// Peek returns the packets in flight, oldest first, without delivering them.
func (c *Channel) Peek() []srarq.Packet {
	c.expire()
	var packets []srarq.Packet
	for _, f := range c.inFlight.Items() {
		packets = append(packets, f.packet)
	}
	return packets
}

// DeliverNext hands the oldest packet in flight to h.
func (c *Channel) DeliverNext(h Handler) bool {
	c.expire()
	f, ok := c.inFlight.Dequeue()
	if !ok {
		return false
	}
	h.OnPacket(f.packet)
	return true
}

// DeliverAt hands the packet at position index of the in-flight queue to h,
// overtaking everything in front of it.
func (c *Channel) DeliverAt(h Handler, index int) bool {
	c.expire()
	f, ok := c.inFlight.RemoveAt(index)
	if !ok {
		return false
	}
	h.OnPacket(f.packet)
	return true
}

// DeliverRandom hands a randomly chosen packet in flight to h.
func (c *Channel) DeliverRandom(h Handler, rng *rand.Rand) bool {
	c.expire()
	if c.inFlight.IsEmpty() {
		return false
	}
	return c.DeliverAt(h, rng.IntN(c.inFlight.Len()))
}

// DeliverAll hands every packet in flight to h in transmission order,
// including packets h causes to be sent on this channel meanwhile.
func (c *Channel) DeliverAll(h Handler) int {
	n := 0
	for c.DeliverNext(h) {
		n++
	}
	return n
}

// Discard loses everything currently in flight.
func (c *Channel) Discard() int {
	n := c.inFlight.Len()
	for !c.inFlight.IsEmpty() {
		c.inFlight.Dequeue()
	}
	return n
}

// Corrupt returns a copy of p with its first payload byte flipped and the
// checksum left as it was.
func Corrupt(p srarq.Packet) srarq.Packet {
	c := p
	c.Payload = append([]byte(nil), p.Payload...)
	if len(c.Payload) > 0 {
		c.Payload[0] ^= 0xff
	} else {
		c.Checksum ^= 1
	}
	return c
}
