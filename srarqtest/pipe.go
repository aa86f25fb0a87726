package srarqtest

import (
	"io"
	"sync"
)

// PipeConnector is one end of an in-memory datagram link implementing
// srarq.Connector. Frames that do not fit the peer's queue are lost,
// as are frames rejected by the drop filter.
type PipeConnector struct {
	in  <-chan []byte
	out chan<- []byte

	mu   sync.Mutex
	drop func(frame []byte) bool

	closed    chan struct{}
	closeOnce *sync.Once
}

// NewPipe returns the two ends of a link whose directions each queue up to capacity frames.
func NewPipe(capacity int) (*PipeConnector, *PipeConnector) {
	ab, ba := make(chan []byte, capacity), make(chan []byte, capacity)
	closed, once := make(chan struct{}), &sync.Once{}
	a := &PipeConnector{in: ba, out: ab, closed: closed, closeOnce: once}
	b := &PipeConnector{in: ab, out: ba, closed: closed, closeOnce: once}
	return a, b
}

// DropWhen installs a filter deciding which written frames get lost.
func (c *PipeConnector) DropWhen(drop func(frame []byte) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drop = drop
}

func (c *PipeConnector) Write(buffer []byte) (int, error) {
	select {
	case <-c.closed:
		return 0, io.ErrClosedPipe
	default:
	}

	c.mu.Lock()
	drop := c.drop
	c.mu.Unlock()
	if drop != nil && drop(buffer) {
		return len(buffer), nil
	}

	frame := append([]byte(nil), buffer...)
	select {
	case c.out <- frame:
	default:
	}
	return len(buffer), nil
}

func (c *PipeConnector) Read(buffer []byte) (int, error) {
	select {
	case frame := <-c.in:
		return copy(buffer, frame), nil
	case <-c.closed:
		return 0, io.EOF
	}
}

// Close shuts down both ends of the pipe.
func (c *PipeConnector) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}
