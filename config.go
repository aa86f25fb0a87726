package srarq

import (
	"time"

	"github.com/pkg/errors"
)

// ChecksumKind selects the integrity function both endpoints use.
type ChecksumKind int

const (
	// ChecksumAdditive sums seqnum, acknum and every payload byte.
	ChecksumAdditive ChecksumKind = iota
	// ChecksumInternet is the RFC 1071 ones-complement checksum.
	ChecksumInternet
)

func (k ChecksumKind) String() string {
	switch k {
	case ChecksumAdditive:
		return "additive"
	case ChecksumInternet:
		return "internet"
	default:
		return "unknown"
	}
}

// ParseChecksumKind maps a flag value onto a ChecksumKind.
func ParseChecksumKind(s string) (ChecksumKind, error) {
	switch s {
	case "additive", "":
		return ChecksumAdditive, nil
	case "internet":
		return ChecksumInternet, nil
	}
	return 0, errors.Wrapf(ErrInvalidConfig, "unknown checksum %q", s)
}

// Config holds the construction-time parameters shared by a Sender and a Receiver.
// Both ends of a link must agree on every field.
type Config struct {
	WindowSize  int
	SeqSpace    int
	PayloadSize int
	Timeout     time.Duration
	Checksum    ChecksumKind
}

func DefaultConfig() Config {
	return Config{
		WindowSize:  DefaultWindowSize,
		SeqSpace:    DefaultSeqSpace,
		PayloadSize: DefaultPayloadSize,
		Timeout:     DefaultTimeout,
		Checksum:    ChecksumAdditive,
	}
}

// Validate rejects configurations under which the protocol cannot tell
// a retransmitted old packet from a new one.
func (c Config) Validate() error {
	if c.WindowSize < 1 {
		return errors.Wrapf(ErrInvalidConfig, "window size %d", c.WindowSize)
	}
	if c.SeqSpace < 2*c.WindowSize {
		return errors.Wrapf(ErrInvalidConfig,
			"sequence space %d must be at least twice the window size %d", c.SeqSpace, c.WindowSize)
	}
	if c.SeqSpace%c.WindowSize != 0 {
		// Slots are indexed by seqnum mod WindowSize; any other space
		// maps two sequence numbers of one window onto the same slot.
		return errors.Wrapf(ErrInvalidConfig,
			"sequence space %d must be a multiple of the window size %d", c.SeqSpace, c.WindowSize)
	}
	if c.SeqSpace > maxSeqSpace {
		return errors.Wrapf(ErrInvalidConfig, "sequence space %d does not fit the header", c.SeqSpace)
	}
	if c.PayloadSize < 1 || c.PayloadSize > maxPayloadSize {
		return errors.Wrapf(ErrInvalidConfig, "payload size %d", c.PayloadSize)
	}
	if c.Timeout <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "timeout %s", c.Timeout)
	}
	if c.Checksum != ChecksumAdditive && c.Checksum != ChecksumInternet {
		return errors.Wrapf(ErrInvalidConfig, "checksum kind %d", int(c.Checksum))
	}
	return nil
}

func (c Config) checksummer() Checksummer {
	if c.Checksum == ChecksumInternet {
		return InternetChecksum
	}
	return AdditiveChecksum
}
