package srarq

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/smallnest/ringbuffer"
)

const (
	readBufferSize = 64 * 1024
	maxFrameSize   = headerLength + maxPayloadSize
)

// Conn runs a full-duplex selective repeat endpoint over a Connector:
// a Sender for outgoing data and a Receiver for incoming data.
//
// All protocol state is owned by a single event loop goroutine.
// Frames read from the connector, timer expirations and submissions from
// Write are turned into events and handled one at a time, so the Sender
// and Receiver never see concurrent calls.
type Conn struct {
	log       *slog.Logger
	cfg       Config
	connector Connector

	sender   *Sender
	receiver *Receiver
	timer    *loopTimer

	events chan func()
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	writeMu sync.Mutex

	mu            sync.Mutex
	dataAvailable *sync.Cond
	readBuffer    *ringbuffer.RingBuffer
	backlog       []byte
	closed        bool
	closeErr      error
}

func NewConn(ctx context.Context, log *slog.Logger, cfg Config, connector Connector) (*Conn, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	c := &Conn{
		log:        log,
		cfg:        cfg,
		connector:  connector,
		events:     make(chan func(), 64),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		readBuffer: ringbuffer.New(readBufferSize),
	}
	c.dataAvailable = sync.NewCond(&c.mu)
	c.timer = &loopTimer{conn: c}

	channel := ChannelFunc(c.transmit)
	var err error
	c.sender, err = NewSender(log.With("role", "sender"), cfg, channel, c.timer)
	if err != nil {
		cancel()
		return nil, err
	}
	c.receiver, err = NewReceiver(log.With("role", "receiver"), cfg, channel, ApplicationFunc(c.deliver))
	if err != nil {
		cancel()
		return nil, err
	}

	go c.run()
	go c.readLoop()
	go func() {
		<-ctx.Done()
		c.shutdown()
	}()

	return c, nil
}

func (c *Conn) run() {
	defer close(c.done)
	for {
		select {
		case <-c.ctx.Done():
			c.timer.Stop()
			return
		case event := <-c.events:
			event()
		}
	}
}

// post queues event for the loop. It reports false once the Conn is closed.
func (c *Conn) post(event func()) bool {
	select {
	case c.events <- event:
		return true
	case <-c.ctx.Done():
		return false
	}
}

func (c *Conn) readLoop() {
	buffer := make([]byte, maxFrameSize)
	for {
		n, err := c.connector.Read(buffer)
		if err != nil {
			if c.ctx.Err() == nil {
				c.log.Info("Connector read failed, closing connection", "err", err)
				c.cancel()
			}
			return
		}

		p, err := UnmarshalPacket(buffer[:n])
		if err != nil {
			c.log.Debug("Dropped malformed frame", "err", err)
			continue
		}

		if !c.post(func() { c.dispatch(p) }) {
			return
		}
	}
}

func (c *Conn) dispatch(p Packet) {
	if p.IsAck() {
		c.sender.OnPacket(p)
	} else {
		c.receiver.OnPacket(p)
	}
}

// transmit is the Channel of both state machines; it runs on the loop goroutine.
func (c *Conn) transmit(p Packet) {
	frame, err := p.MarshalBinary()
	if err != nil {
		c.log.Warn("Failed to frame packet", "packet", p, "err", err)
		return
	}
	if _, err := c.connector.Write(frame); err != nil {
		// The link is unreliable anyway; a failed write is a lost packet.
		c.log.Debug("Connector write failed", "packet", p, "err", err)
	}
}

// deliver is the Application of the receiver; it runs on the loop goroutine.
func (c *Conn) deliver(payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.backlog = append(c.backlog, payload...)
	c.flushBacklog()
	c.dataAvailable.Broadcast()
}

// flushBacklog moves as much of the backlog into the ring buffer as fits.
// Callers hold c.mu.
func (c *Conn) flushBacklog() {
	if len(c.backlog) == 0 {
		return
	}
	n := min(c.readBuffer.Free(), len(c.backlog))
	if n == 0 {
		return
	}
	written, _ := c.readBuffer.Write(c.backlog[:n])
	c.backlog = c.backlog[written:]
	if len(c.backlog) == 0 {
		c.backlog = nil
	}
}

// Write splits p into payload-sized messages and submits them in order,
// waiting while the send window is full. It returns once every message has
// been accepted into the window, not once it has been acknowledged.
func (c *Conn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	written := 0
	for written < len(p) {
		end := min(written+c.cfg.PayloadSize, len(p))
		if err := c.submit(p[written:end]); err != nil {
			return written, err
		}
		written = end
	}
	return written, nil
}

func (c *Conn) submit(msg []byte) error {
	msg = append([]byte(nil), msg...)
	for {
		result := make(chan error, 1)
		if !c.post(func() { result <- c.sender.Submit(msg) }) {
			return ErrClosed
		}

		var err error
		select {
		case err = <-result:
		case <-c.ctx.Done():
			return ErrClosed
		}
		if !errors.Is(err, ErrWindowFull) {
			return err
		}

		select {
		case <-time.After(retryInterval):
		case <-c.ctx.Done():
			return ErrClosed
		}
	}
}

// Read copies delivered payload bytes into p, blocking until some are available.
// Payloads keep their zero padding.
func (c *Conn) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.readBuffer.IsEmpty() {
		if c.closed {
			return 0, ErrClosed
		}
		c.dataAvailable.Wait()
	}
	n, err := c.readBuffer.Read(p)
	c.flushBacklog()
	if err != nil && n == 0 {
		return 0, errors.Wrap(err, "read buffer")
	}
	return n, nil
}

// Flush blocks until every submitted message has been acknowledged.
func (c *Conn) Flush(ctx context.Context) error {
	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()
	for {
		result := make(chan int, 1)
		if !c.post(func() { result <- c.sender.Outstanding() }) {
			return ErrClosed
		}
		select {
		case outstanding := <-result:
			if outstanding == 0 {
				return nil
			}
		case <-c.ctx.Done():
			return ErrClosed
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		case <-c.ctx.Done():
			return ErrClosed
		}
	}
}

// Stats returns the sender counters, read on the loop goroutine.
func (c *Conn) Stats() (SenderStats, error) {
	result := make(chan SenderStats, 1)
	if !c.post(func() { result <- c.sender.Stats() }) {
		return SenderStats{}, ErrClosed
	}
	select {
	case stats := <-result:
		return stats, nil
	case <-c.ctx.Done():
		return SenderStats{}, ErrClosed
	}
}

// Close stops the connection and closes the connector. Every call reports
// the error from closing the connector, even if the context closed it first.
func (c *Conn) Close() error {
	c.cancel()
	<-c.done
	return c.shutdown()
}

func (c *Conn) shutdown() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return c.closeErr
	}
	c.closed = true
	c.dataAvailable.Broadcast()
	c.closeErr = errors.Wrap(c.connector.Close(), "close connector")
	return c.closeErr
}

// loopTimer implements Timer for a Conn. Start and Stop are only called on
// the loop goroutine; expirations are posted back to it, and an expiration
// belonging to an earlier Start is discarded by comparing generations.
type loopTimer struct {
	conn       *Conn
	t          *time.Timer
	generation uint64
}

func (lt *loopTimer) Start(d time.Duration) {
	lt.Stop()
	generation := lt.generation
	lt.t = time.AfterFunc(d, func() {
		lt.conn.post(func() {
			if lt.generation != generation {
				return
			}
			lt.t = nil
			lt.conn.sender.OnTimerExpired()
		})
	})
}

func (lt *loopTimer) Stop() {
	lt.generation++
	if lt.t != nil {
		lt.t.Stop()
		lt.t = nil
	}
}
