package srarqtest

import (
	"math/rand/v2"
	"testing"

	"github.com/nicosta1132/srarq"
	"github.com/stretchr/testify/require"
)

// Link wires a Sender (A) to a Receiver (B) through two simulated channels.
type Link struct {
	Sender   *srarq.Sender
	Receiver *srarq.Receiver

	// Forward carries data from A to B, Backward carries acknowledgments from B to A.
	Forward  *Channel
	Backward *Channel

	Timer *ManualTimer
	App   *Recorder

	cfg srarq.Config
}

func NewLink(t testing.TB, cfg srarq.Config) *Link {
	t.Helper()

	l := &Link{
		Forward:  NewChannel(),
		Backward: NewChannel(),
		Timer:    &ManualTimer{},
		App:      &Recorder{},
		cfg:      cfg,
	}
	log := NewLogger(t)

	var err error
	l.Sender, err = srarq.NewSender(log.With("role", "A"), cfg, l.Forward, l.Timer)
	require.NoError(t, err)
	l.Receiver, err = srarq.NewReceiver(log.With("role", "B"), cfg, l.Backward, l.App)
	require.NoError(t, err)

	return l
}

// LimitPacketLifetime makes both channels lose packets that stay in flight
// too long. Age is counted in new messages accepted by the sender. A packet
// sent when the sender's next sequence number was n can be mistaken for a
// packet of the next cycle once n has advanced SeqSpace-2*WindowSize+1,
// so packets are expired at that age.
func (l *Link) LimitPacketLifetime() {
	clock := func() int { return l.Sender.Stats().Submitted }
	lifetime := l.cfg.SeqSpace - 2*l.cfg.WindowSize + 1
	l.Forward.Expire(clock, lifetime)
	l.Backward.Expire(clock, lifetime)
}

// Settle delivers everything in flight in both directions, in order,
// until the link is quiet. The timer is left alone.
func (l *Link) Settle() {
	for l.Forward.InFlight() > 0 || l.Backward.InFlight() > 0 {
		l.Forward.DeliverAll(l.Receiver)
		l.Backward.DeliverAll(l.Sender)
	}
}

// Step makes one thing happen on the link: it delivers one packet in flight
// or, if the link is quiet, fires a running timer. It reports false when
// there is nothing left to do. With a non-nil rng the packet and its
// direction are chosen at random, otherwise forward traffic goes first.
func (l *Link) Step(rng *rand.Rand) bool {
	forward, backward := l.Forward.InFlight(), l.Backward.InFlight()
	switch {
	case forward > 0 || backward > 0:
		l.deliverOne(rng, forward, backward)
		return true
	case l.Timer.Running():
		l.Timer.Fire(l.Sender)
		return true
	}
	return false
}

// Run steps the link until it is idle. It reports false if it had to fire
// the timer more than maxTimeouts times.
func (l *Link) Run(rng *rand.Rand, maxTimeouts int) bool {
	for timeouts := 0; ; {
		if l.Forward.InFlight() == 0 && l.Backward.InFlight() == 0 && l.Timer.Running() {
			timeouts++
			if timeouts > maxTimeouts {
				return false
			}
		}
		if !l.Step(rng) {
			return true
		}
	}
}

func (l *Link) deliverOne(rng *rand.Rand, forward, backward int) {
	if rng == nil {
		if forward > 0 {
			l.Forward.DeliverNext(l.Receiver)
		} else {
			l.Backward.DeliverNext(l.Sender)
		}
		return
	}
	if backward == 0 || (forward > 0 && rng.IntN(forward+backward) < forward) {
		l.Forward.DeliverRandom(l.Receiver, rng)
	} else {
		l.Backward.DeliverRandom(l.Sender, rng)
	}
}
