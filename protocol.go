package srarq

import "time"

// Channel hands packets to the unreliable link. Transmit never blocks and
// gives no delivery guarantee: the packet may be lost, corrupted,
// duplicated, delayed or reordered.
type Channel interface {
	Transmit(p Packet)
}

// ChannelFunc adapts a function to a Channel.
type ChannelFunc func(p Packet)

func (f ChannelFunc) Transmit(p Packet) { f(p) }

// Timer is the single retransmission timer of a sender.
// Start on a running timer restarts it with the new duration.
type Timer interface {
	Start(d time.Duration)
	Stop()
}

// Application receives payloads in strict sequence order.
type Application interface {
	Deliver(payload []byte)
}

type ApplicationFunc func(payload []byte)

func (f ApplicationFunc) Deliver(payload []byte) { f(payload) }

// Connector is a datagram link carrying framed packets: each Write sends
// one frame and each Read returns one frame.
type Connector interface {
	Read(buffer []byte) (int, error)
	Write(buffer []byte) (int, error)
	Close() error
}
