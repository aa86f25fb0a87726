package srarq

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/binary"
	"log/slog"
	"sync"

	"github.com/flynn/noise"
	"github.com/pkg/errors"
)

const (
	nonceLength         = 8
	maxHandshakeMessage = 1024
)

var cipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashBLAKE2b)

// SecureConfig configures the Noise XX handshake of a SecureConnector.
type SecureConfig struct {
	// Initiator sends the first handshake message. Exactly one end must set it.
	Initiator bool

	// StaticKey is this end's long-term key. A fresh key is generated when nil.
	StaticKey *noise.DHKey

	// PeerStatic, when set, is the only public key the peer may authenticate with.
	PeerStatic []byte
}

// GenerateKey creates a key pair usable as SecureConfig.StaticKey.
func GenerateKey() (noise.DHKey, error) {
	key, err := cipherSuite.GenerateKeypair(rand.Reader)
	return key, errors.Wrap(err, "generate key pair")
}

// SecureConnector encrypts and authenticates every frame of an inner Connector.
// Each frame carries its own nonce, so frames may be lost, duplicated or
// reordered without breaking the session. Frames that fail authentication
// are dropped silently, the same way the protocol treats corruption.
type SecureConnector struct {
	log   *slog.Logger
	inner Connector

	encrypter *noise.CipherState
	decrypter *noise.CipherState

	writeMu    sync.Mutex
	writeNonce uint64
}

// NewSecureConnector runs the handshake over inner and returns the secured link.
// Handshake messages are not retransmitted; if ctx ends first, inner is closed.
func NewSecureConnector(ctx context.Context, log *slog.Logger, inner Connector, cfg SecureConfig) (*SecureConnector, error) {
	key := cfg.StaticKey
	if key == nil {
		k, err := GenerateKey()
		if err != nil {
			return nil, err
		}
		key = &k
	}

	handshake, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   cipherSuite,
		Random:        rand.Reader,
		Pattern:       noise.HandshakeXX,
		Initiator:     cfg.Initiator,
		StaticKeypair: *key,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create handshake state")
	}

	sec := &SecureConnector{log: log, inner: inner}

	type result struct {
		encrypter, decrypter *noise.CipherState
		err                  error
	}
	done := make(chan result, 1)
	go func() {
		var r result
		if cfg.Initiator {
			r.encrypter, r.decrypter, r.err = sec.initiateHandshake(handshake)
		} else {
			r.decrypter, r.encrypter, r.err = sec.acceptHandshake(handshake)
		}
		done <- r
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		sec.encrypter, sec.decrypter = r.encrypter, r.decrypter
	case <-ctx.Done():
		_ = inner.Close()
		return nil, errors.Wrap(ctx.Err(), "handshake")
	}

	if cfg.PeerStatic != nil && !bytes.Equal(cfg.PeerStatic, handshake.PeerStatic()) {
		return nil, errors.New("peer authenticated with an unexpected static key")
	}

	log.Debug("Handshake complete", "initiator", cfg.Initiator)
	return sec, nil
}

// XX: -> e; <- e, ee, s, es; -> s, se
func (sec *SecureConnector) initiateHandshake(hs *noise.HandshakeState) (*noise.CipherState, *noise.CipherState, error) {
	if _, _, err := sec.writeHandshakeMessage(hs); err != nil {
		return nil, nil, err
	}
	if _, _, err := sec.readHandshakeMessage(hs); err != nil {
		return nil, nil, err
	}
	return sec.writeHandshakeMessage(hs)
}

func (sec *SecureConnector) acceptHandshake(hs *noise.HandshakeState) (*noise.CipherState, *noise.CipherState, error) {
	if _, _, err := sec.readHandshakeMessage(hs); err != nil {
		return nil, nil, err
	}
	if _, _, err := sec.writeHandshakeMessage(hs); err != nil {
		return nil, nil, err
	}
	return sec.readHandshakeMessage(hs)
}

func (sec *SecureConnector) writeHandshakeMessage(hs *noise.HandshakeState) (*noise.CipherState, *noise.CipherState, error) {
	msg, cs0, cs1, err := hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, nil, errors.Wrap(err, "write handshake message")
	}
	if _, err := sec.inner.Write(msg); err != nil {
		return nil, nil, errors.Wrap(err, "send handshake message")
	}
	return cs0, cs1, nil
}

func (sec *SecureConnector) readHandshakeMessage(hs *noise.HandshakeState) (*noise.CipherState, *noise.CipherState, error) {
	buffer := make([]byte, maxHandshakeMessage)
	n, err := sec.inner.Read(buffer)
	if err != nil {
		return nil, nil, errors.Wrap(err, "receive handshake message")
	}
	_, cs0, cs1, err := hs.ReadMessage(nil, buffer[:n])
	if err != nil {
		return nil, nil, errors.Wrap(err, "read handshake message")
	}
	return cs0, cs1, nil
}

// Write seals buffer as nonce | ciphertext and sends it as one frame.
func (sec *SecureConnector) Write(buffer []byte) (int, error) {
	sec.writeMu.Lock()
	nonce := sec.writeNonce
	sec.writeNonce++
	sec.writeMu.Unlock()

	frame := make([]byte, nonceLength, nonceLength+len(buffer)+16)
	binary.BigEndian.PutUint64(frame, nonce)
	frame = sec.encrypter.Cipher().Encrypt(frame, nonce, nil, buffer)

	if _, err := sec.inner.Write(frame); err != nil {
		return 0, err
	}
	return len(buffer), nil
}

// Read returns the next frame that authenticates, skipping any that do not.
func (sec *SecureConnector) Read(buffer []byte) (int, error) {
	frame := make([]byte, len(buffer)+nonceLength+16)
	for {
		n, err := sec.inner.Read(frame)
		if err != nil {
			return 0, err
		}
		if n < nonceLength {
			sec.log.Debug("Dropped short encrypted frame", "len", n)
			continue
		}
		nonce := binary.BigEndian.Uint64(frame[:nonceLength])
		plain, err := sec.decrypter.Cipher().Decrypt(nil, nonce, nil, frame[nonceLength:n])
		if err != nil {
			sec.log.Debug("Dropped frame failing authentication", "nonce", nonce)
			continue
		}
		return copy(buffer, plain), nil
	}
}

func (sec *SecureConnector) Close() error {
	return sec.inner.Close()
}
