package srarq_test

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nicosta1132/srarq"
	"github.com/nicosta1132/srarq/srarqtest"
	"github.com/stretchr/testify/require"
)

func dropEvery(n int64) func([]byte) bool {
	var count atomic.Int64
	return func([]byte) bool {
		return count.Add(1)%n == 0
	}
}

func newConnPair(t *testing.T, cfg srarq.Config, a, b srarq.Connector) (*srarq.Conn, *srarq.Conn) {
	t.Helper()
	log := srarqtest.NewLogger(t)

	alpha, err := srarq.NewConn(context.Background(), log.With("endpoint", "A"), cfg, a)
	require.NoError(t, err)
	t.Cleanup(func() { alpha.Close() })

	beta, err := srarq.NewConn(context.Background(), log.With("endpoint", "B"), cfg, b)
	require.NoError(t, err)
	t.Cleanup(func() { beta.Close() })

	return alpha, beta
}

// readAtLeast reads from c until n bytes arrived, failing the test after a while.
func readAtLeast(t *testing.T, c *srarq.Conn, n int) []byte {
	t.Helper()
	result := make(chan []byte, 1)
	go func() {
		got := make([]byte, 0, n)
		buffer := make([]byte, 64)
		for len(got) < n {
			k, err := c.Read(buffer)
			if err != nil {
				break
			}
			got = append(got, buffer[:k]...)
		}
		result <- got
	}()

	select {
	case got := <-result:
		return got
	case <-time.After(10 * time.Second):
		t.Fatalf("timed out waiting for %d bytes", n)
		return nil
	}
}

func padded(msg []byte, payloadSize int) []byte {
	n := (len(msg) + payloadSize - 1) / payloadSize * payloadSize
	out := make([]byte, n)
	copy(out, msg)
	return out
}

func TestConnTransfersOverLossyPipe(t *testing.T) {
	cfg := srarq.DefaultConfig()
	cfg.Timeout = 5 * time.Millisecond

	a, b := srarqtest.NewPipe(256)
	a.DropWhen(dropEvery(5))
	b.DropWhen(dropEvery(4))
	alpha, beta := newConnPair(t, cfg, a, b)

	message := bytes.Repeat([]byte("selective repeat "), 50)
	expected := padded(message, cfg.PayloadSize)

	writeErr := make(chan error, 1)
	go func() {
		_, err := alpha.Write(message)
		writeErr <- err
	}()

	got := readAtLeast(t, beta, len(expected))
	require.Equal(t, expected, got)
	require.NoError(t, <-writeErr)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, alpha.Flush(ctx))

	stats, err := alpha.Stats()
	require.NoError(t, err)
	require.Equal(t, len(expected)/cfg.PayloadSize, stats.Submitted)
	require.Positive(t, stats.Retransmitted)
}

func TestConnIsFullDuplex(t *testing.T) {
	cfg := srarq.DefaultConfig()
	cfg.Timeout = 5 * time.Millisecond

	a, b := srarqtest.NewPipe(64)
	alpha, beta := newConnPair(t, cfg, a, b)

	_, err := alpha.Write([]byte("ping"))
	require.NoError(t, err)
	_, err = beta.Write([]byte("pong"))
	require.NoError(t, err)

	require.Equal(t, padded([]byte("ping"), cfg.PayloadSize), readAtLeast(t, beta, cfg.PayloadSize))
	require.Equal(t, padded([]byte("pong"), cfg.PayloadSize), readAtLeast(t, alpha, cfg.PayloadSize))
}

func TestConnClose(t *testing.T) {
	cfg := srarq.DefaultConfig()
	a, b := srarqtest.NewPipe(64)
	alpha, _ := newConnPair(t, cfg, a, b)

	readErr := make(chan error, 1)
	go func() {
		_, err := alpha.Read(make([]byte, 8))
		readErr <- err
	}()

	require.NoError(t, alpha.Close())
	select {
	case err := <-readErr:
		require.ErrorIs(t, err, srarq.ErrClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("Read did not return after Close")
	}

	_, err := alpha.Write([]byte("late"))
	require.ErrorIs(t, err, srarq.ErrClosed)
}

var errCloseFailed = errors.New("close failed")

type failingCloseConnector struct {
	*srarqtest.PipeConnector
}

func (c failingCloseConnector) Close() error {
	_ = c.PipeConnector.Close()
	return errCloseFailed
}

func TestConnCloseReportsConnectorErrorAfterContextShutdown(t *testing.T) {
	cfg := srarq.DefaultConfig()
	a, _ := srarqtest.NewPipe(1)

	ctx, cancel := context.WithCancel(context.Background())
	conn, err := srarq.NewConn(ctx, srarqtest.NewLogger(t), cfg, failingCloseConnector{a})
	require.NoError(t, err)

	readErr := make(chan error, 1)
	go func() {
		_, err := conn.Read(make([]byte, 8))
		readErr <- err
	}()

	cancel()
	select {
	case err := <-readErr:
		require.ErrorIs(t, err, srarq.ErrClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("Read did not return after the context ended")
	}

	require.ErrorIs(t, conn.Close(), errCloseFailed)
	require.ErrorIs(t, conn.Close(), errCloseFailed)
}

func TestNewConnRejectsInvalidConfig(t *testing.T) {
	cfg := srarq.DefaultConfig()
	cfg.WindowSize = 0
	a, _ := srarqtest.NewPipe(1)
	_, err := srarq.NewConn(context.Background(), srarqtest.NewLogger(t), cfg, a)
	require.ErrorIs(t, err, srarq.ErrInvalidConfig)
}
