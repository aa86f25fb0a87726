package srarq

import (
	"net"
	"sync"

	"github.com/pkg/errors"
)

// UDPConnector is a Connector over a single UDP socket exchanging frames
// with one peer.
type UDPConnector struct {
	conn *net.UDPConn

	mu     sync.RWMutex
	remote *net.UDPAddr
}

// NewUDPConnector listens on localAddress and sends to remoteAddress.
// With an empty remoteAddress the peer is learned from the first frame received,
// and writes fail until then.
func NewUDPConnector(localAddress, remoteAddress string) (*UDPConnector, error) {
	local, err := net.ResolveUDPAddr("udp", localAddress)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve local address %q", localAddress)
	}

	var remote *net.UDPAddr
	if remoteAddress != "" {
		remote, err = net.ResolveUDPAddr("udp", remoteAddress)
		if err != nil {
			return nil, errors.Wrapf(err, "resolve remote address %q", remoteAddress)
		}
	}

	conn, err := net.ListenUDP("udp", local)
	if err != nil {
		return nil, errors.Wrapf(err, "listen on %s", local)
	}

	return &UDPConnector{conn: conn, remote: remote}, nil
}

func (connector *UDPConnector) LocalAddr() *net.UDPAddr {
	return connector.conn.LocalAddr().(*net.UDPAddr)
}

func (connector *UDPConnector) RemoteAddr() *net.UDPAddr {
	connector.mu.RLock()
	defer connector.mu.RUnlock()
	return connector.remote
}

func (connector *UDPConnector) Write(buffer []byte) (int, error) {
	remote := connector.RemoteAddr()
	if remote == nil {
		return 0, errors.New("udp connector has no peer yet")
	}
	n, err := connector.conn.WriteToUDP(buffer, remote)
	return n, errors.Wrap(err, "udp write")
}

// Read returns the next frame from the peer, discarding datagrams from anyone else.
func (connector *UDPConnector) Read(buffer []byte) (int, error) {
	for {
		n, from, err := connector.conn.ReadFromUDP(buffer)
		if err != nil {
			return 0, errors.Wrap(err, "udp read")
		}

		connector.mu.Lock()
		if connector.remote == nil {
			connector.remote = from
		}
		remote := connector.remote
		connector.mu.Unlock()

		if from.IP.Equal(remote.IP) && from.Port == remote.Port {
			return n, nil
		}
	}
}

func (connector *UDPConnector) Close() error {
	return errors.Wrap(connector.conn.Close(), "udp close")
}
