// Command srarq streams standard input from endpoint A to endpoint B over
// UDP using selective repeat ARQ.
//
// Run both ends in one process:
//
//	srarq < file > copy
//
// or in two processes:
//
//	srarq -mode recv -a 127.0.0.1:3030 -b 127.0.0.1:3031 > copy
//	srarq -mode send -a 127.0.0.1:3030 -b 127.0.0.1:3031 < file
//
// The receiver stops at the end of the input, then keeps acknowledging
// until the sender has been quiet for -idle.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/nicosta1132/srarq"
	"github.com/pkg/errors"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "srarq:", err)
		os.Exit(1)
	}
}

type options struct {
	mode     string
	addrA    string
	addrB    string
	cfg      srarq.Config
	secure   bool
	verbose  bool
	drainFor time.Duration
}

func parseFlags() (options, error) {
	defaults := srarq.DefaultConfig()
	var o options
	var checksum string

	flag.StringVar(&o.mode, "mode", "both", "which endpoint to run: both, send or recv")
	flag.StringVar(&o.addrA, "a", "127.0.0.1:3030", "UDP address of the sending endpoint A")
	flag.StringVar(&o.addrB, "b", "127.0.0.1:3031", "UDP address of the receiving endpoint B")
	flag.IntVar(&o.cfg.WindowSize, "window", defaults.WindowSize, "window size")
	flag.IntVar(&o.cfg.SeqSpace, "seqspace", defaults.SeqSpace, "sequence number space, a multiple of the window size and at least twice it")
	flag.IntVar(&o.cfg.PayloadSize, "payload", defaults.PayloadSize, "payload bytes per packet")
	flag.DurationVar(&o.cfg.Timeout, "timeout", defaults.Timeout, "retransmission timeout")
	flag.StringVar(&checksum, "checksum", defaults.Checksum.String(), "integrity function: additive or internet")
	flag.BoolVar(&o.secure, "secure", false, "encrypt the link with a Noise XX handshake")
	flag.BoolVar(&o.verbose, "v", false, "log every packet")
	flag.DurationVar(&o.drainFor, "idle", time.Second, "receiver exits after this long without data")
	flag.Parse()

	kind, err := srarq.ParseChecksumKind(checksum)
	if err != nil {
		return o, err
	}
	o.cfg.Checksum = kind

	switch o.mode {
	case "both", "send", "recv":
	default:
		return o, errors.Errorf("unknown mode %q", o.mode)
	}
	return o, o.cfg.Validate()
}

func run() error {
	o, err := parseFlags()
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if o.verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	done := make(chan error, 2)
	if o.mode == "both" || o.mode == "recv" {
		go func() { done <- receive(ctx, log.With("endpoint", "B"), o) }()
	}
	if o.mode == "both" || o.mode == "send" {
		go func() { done <- send(ctx, log.With("endpoint", "A"), o) }()
	}

	workers := 1
	if o.mode == "both" {
		workers = 2
	}
	var firstErr error
	for i := 0; i < workers; i++ {
		if err := <-done; err != nil && firstErr == nil {
			firstErr = err
			stop()
		}
	}
	return firstErr
}

func dial(ctx context.Context, log *slog.Logger, o options, local, remote string, initiator bool) (*srarq.Conn, error) {
	udp, err := srarq.NewUDPConnector(local, remote)
	if err != nil {
		return nil, err
	}
	var connector srarq.Connector = udp
	if o.secure {
		connector, err = srarq.NewSecureConnector(ctx, log, udp, srarq.SecureConfig{Initiator: initiator})
		if err != nil {
			_ = udp.Close()
			return nil, err
		}
	}
	return srarq.NewConn(ctx, log, o.cfg, connector)
}

func send(ctx context.Context, log *slog.Logger, o options) error {
	// Give a receiver started alongside us time to bind.
	time.Sleep(50 * time.Millisecond)

	conn, err := dial(ctx, log, o, o.addrA, o.addrB, true)
	if err != nil {
		return err
	}
	defer conn.Close()

	n, err := writeRecords(conn, os.Stdin, o.cfg.PayloadSize)
	if err != nil {
		return errors.Wrap(err, "send")
	}
	if err := conn.Flush(ctx); err != nil {
		return errors.Wrap(err, "wait for acknowledgments")
	}

	stats, err := conn.Stats()
	if err == nil {
		log.Info("Sent", "bytes", n, "packets", stats.Submitted, "retransmitted", stats.Retransmitted)
	}
	return nil
}

func receive(ctx context.Context, log *slog.Logger, o options) error {
	conn, err := dial(ctx, log, o, o.addrB, o.addrA, false)
	if err != nil {
		return err
	}

	// Conn.Read blocks until data arrives; the watchdog closes the connection
	// once the sender has been quiet for o.drainFor.
	activity := make(chan struct{}, 1)
	reader := activityReader{r: conn, activity: activity}
	go func() {
		timer := time.NewTimer(o.drainFor)
		defer timer.Stop()
		for {
			select {
			case <-activity:
				timer.Reset(o.drainFor)
			case <-timer.C:
				conn.Close()
				return
			case <-ctx.Done():
				conn.Close()
				return
			}
		}
	}()

	total, err := readRecords(os.Stdout, reader, o.cfg.PayloadSize)
	switch {
	case errors.Is(err, srarq.ErrClosed):
		log.Warn("Sender went quiet before the end of the stream", "bytes", total)
		return nil
	case err != nil:
		return err
	}
	log.Info("Received", "bytes", total)

	// Retransmissions still need acknowledging until the sender has seen them all.
	if _, err := io.Copy(io.Discard, reader); err != nil && !errors.Is(err, srarq.ErrClosed) {
		return errors.Wrap(err, "drain")
	}
	return nil
}
