// Package voice implements the data plane: a TCP server relaying opaque
// length-prefixed audio frames between clients in the same channel. The
// relay never parses the frame body; it re-sends the framed bytes verbatim
// to every other voice socket whose cached channel matches the sender's.
package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"

	"hybrid/server/internal/protocol"
	"hybrid/server/internal/state"
)

// defaultHandshakeLimit bounds the single username read performed right
// after connect.
const defaultHandshakeLimit = 1024

// Config holds the voice server's knobs.
type Config struct {
	Addr            string // listen address, e.g. "0.0.0.0:5556"
	MaxFramePayload uint32 // max voice frame payload (0 = protocol.MaxFramePayload)
	HandshakeLimit  int    // max bytes of the username handshake (0 = default)
}

func (c *Config) applyDefaults() {
	if c.MaxFramePayload == 0 {
		c.MaxFramePayload = protocol.MaxFramePayload
	}
	if c.HandshakeLimit == 0 {
		c.HandshakeLimit = defaultHandshakeLimit
	}
}

// Server accepts voice-plane connections and relays frames.
type Server struct {
	cfg      Config
	registry *state.Registry

	mu sync.Mutex
	ln net.Listener

	// Relay counters, reset on each Stats call.
	totalFrames atomic.Uint64
	totalBytes  atomic.Uint64
}

// NewServer returns an unstarted voice server.
func NewServer(cfg Config, reg *state.Registry) *Server {
	cfg.applyDefaults()
	return &Server{cfg: cfg, registry: reg}
}

// Listen binds the listening socket. Safe to call only once.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	slog.Info("voice server listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound listener address (nil before Listen).
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve runs the accept loop until ctx is canceled. Accept errors are
// logged and the loop continues.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return errors.New("voice server: Serve before Listen")
	}

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			slog.Warn("voice accept error", "err", err)
			continue
		}
		go s.handle(conn)
	}
}

// Stats returns accumulated frame/byte counts since the last call and
// resets them.
func (s *Server) Stats() (frames, bytes uint64) {
	return s.totalFrames.Swap(0), s.totalBytes.Swap(0)
}

// peer wraps one voice socket with a write lock so concurrent senders'
// frames never interleave mid-frame.
type peer struct {
	conn net.Conn
	mu   sync.Mutex
}

// SendFrame writes one complete framed payload. Implements state.VoicePeer.
func (p *peer) SendFrame(frame []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := p.conn.Write(frame)
	return err
}

// handle runs one voice connection: nodelay, username handshake, then the
// read-and-relay loop until disconnect or a malformed frame.
func (s *Server) handle(conn net.Conn) {
	p := &peer{conn: conn}
	defer func() {
		s.registry.RemoveVoice(p)
		_ = conn.Close()
	}()

	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}

	// The client performs a single send of its username right after
	// connect; there is no framing on this first read.
	buf := make([]byte, s.cfg.HandshakeLimit)
	n, err := conn.Read(buf)
	if err != nil {
		slog.Debug("voice handshake failed", "remote", conn.RemoteAddr().String(), "err", err)
		return
	}
	username := strings.TrimSpace(string(buf[:n]))

	s.registry.AddVoice(p, username)
	slog.Info("voice connection established", "username", username, "remote", conn.RemoteAddr().String())

	for {
		frame, err := protocol.ReadFrame(conn, s.cfg.MaxFramePayload)
		if err != nil {
			if errors.Is(err, protocol.ErrFrameTooLarge) {
				slog.Warn("oversized voice frame, closing connection", "username", username, "err", err)
			}
			return
		}
		s.relay(p, frame)
	}
}

// relay forwards one frame to every other voice peer in the sender's
// channel. Frames from a sender with no channel are dropped. Per-recipient
// send errors are swallowed — a slow or dead receiver must not penalise
// the sender; the receiver's own read loop will clean it up.
func (s *Server) relay(sender *peer, frame []byte) {
	channel := s.registry.VoiceChannelOf(sender)
	if channel == "" {
		return
	}

	s.totalFrames.Add(1)
	s.totalBytes.Add(uint64(len(frame)))

	for _, p := range s.registry.VoicePeersInChannel(channel) {
		if p == sender {
			continue
		}
		_ = p.SendFrame(frame)
	}
}
