package srarq

import (
	"time"

	"github.com/pkg/errors"
)

const (
	DefaultWindowSize  = 6
	DefaultSeqSpace    = 2 * DefaultWindowSize
	DefaultPayloadSize = 20
	DefaultTimeout     = 16 * time.Millisecond
)

// NoAck marks the acknowledgment field of a data packet as unused.
const NoAck = -1

// Header layout of a framed packet on the wire.
type Position struct {
	Start int
	End   int
}

var seqNumPosition = Position{0, 4}
var ackNumPosition = Position{4, 8}
var checksumPosition = Position{8, 12}
var lengthPosition = Position{12, 14}

const headerLength = 14

var (
	ErrWindowFull      = errors.New("send window is full")
	ErrPayloadTooLarge = errors.New("message exceeds payload size")
	ErrInvalidConfig   = errors.New("invalid configuration")
	ErrMalformedFrame  = errors.New("malformed frame")
	ErrClosed          = errors.New("connection closed")
)

// retryInterval is how long Conn.Write waits before resubmitting
// a message that was rejected by a full window.
var retryInterval = 2 * time.Millisecond
