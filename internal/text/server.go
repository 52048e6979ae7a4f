// Package text implements the control plane: a TCP server speaking the
// newline-delimited command protocol. Each accepted connection runs a
// two-phase state machine — an authentication phase accepting only
// REGISTER and LOGIN, then a session phase dispatching chat and channel
// commands and driving fan-out broadcasts.
package text

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"

	"hybrid/server/internal/auth"
	"hybrid/server/internal/channels"
	"hybrid/server/internal/protocol"
	"hybrid/server/internal/state"
)

// defaultMaxLineLen bounds one protocol line; a longer line is a protocol
// error and terminates the connection.
const defaultMaxLineLen = 64 * 1024

// Config holds the text server's knobs.
type Config struct {
	Addr       string // listen address, e.g. "0.0.0.0:5557"
	MaxLineLen int    // max bytes per protocol line (0 = default)
}

func (c *Config) applyDefaults() {
	if c.MaxLineLen == 0 {
		c.MaxLineLen = defaultMaxLineLen
	}
}

// Server accepts text-plane connections and spawns a handler goroutine per
// client.
type Server struct {
	cfg      Config
	registry *state.Registry
	auth     *auth.Manager
	channels *channels.Manager

	mu sync.Mutex
	ln net.Listener
}

// NewServer returns an unstarted text server.
func NewServer(cfg Config, reg *state.Registry, am *auth.Manager, cm *channels.Manager) *Server {
	cfg.applyDefaults()
	return &Server{cfg: cfg, registry: reg, auth: am, channels: cm}
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
	slog.Info("text server listening", "addr", ln.Addr().String())
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
// logged and the loop continues; only listener closure ends it.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return errors.New("text server: Serve before Listen")
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
			slog.Warn("text accept error", "err", err)
			continue
		}
		slog.Debug("text connection accepted", "remote", conn.RemoteAddr().String())
		go s.handle(conn)
	}
}

// client wraps one text socket with a write lock so broadcasts from other
// handlers never interleave with this handler's own replies.
type client struct {
	conn net.Conn
	mu   sync.Mutex
}

// SendLine writes one protocol line. Implements state.TextPeer.
func (c *client) SendLine(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.conn.Write([]byte(line + "\n"))
	return err
}

// handle runs the full connection lifecycle: auth phase, session setup,
// session loop, disconnect cleanup.
func (s *Server) handle(conn net.Conn) {
	c := &client{conn: conn}

	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 4096), s.cfg.MaxLineLen)

	username, ok := s.authPhase(c, sc)
	if !ok {
		_ = conn.Close()
		return
	}

	s.registry.AddText(c, username)
	slog.Info("user logged in", "username", username, "remote", conn.RemoteAddr().String())

	s.broadcastAll(protocol.EvtSystem+":"+username+" присоединился!", c)
	s.sendUserlist()
	_ = c.SendLine(protocol.EvtChannelList + ":" + strings.Join(s.channels.Names(), ","))

	s.session(c, sc, username)
	s.disconnect(c, username)
}

// authPhase reads lines until a successful LOGIN. Only REGISTER and LOGIN
// are accepted; everything else is answered with AUTH_FAIL and the
// connection stays unauthenticated. Returns ok=false when the peer goes
// away first. Bytes buffered beyond the LOGIN line stay in the scanner and
// are consumed by the session phase.
func (s *Server) authPhase(c *client, sc *bufio.Scanner) (string, bool) {
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		cmd, payload := protocol.ParseCommand(line)

		switch cmd {
		case protocol.CmdRegister:
			username, password, ok := strings.Cut(payload, ":")
			if !ok {
				if c.SendLine(protocol.RespRegFail+":Неверный формат") != nil {
					return "", false
				}
				continue
			}
			if err := s.auth.Register(username, password); err != nil {
				if c.SendLine(protocol.RespRegFail+":"+err.Error()) != nil {
					return "", false
				}
				continue
			}
			if c.SendLine(protocol.RespRegOK) != nil {
				return "", false
			}

		case protocol.CmdLogin:
			username, password, ok := strings.Cut(payload, ":")
			if !ok {
				if c.SendLine(protocol.RespAuthFail+":Неверный формат") != nil {
					return "", false
				}
				continue
			}
			if s.registry.UsernameOnline(username) {
				if c.SendLine(protocol.RespAuthFail+":Уже в сети") != nil {
					return "", false
				}
				continue
			}
			if err := s.auth.Verify(username, password); err != nil {
				if c.SendLine(protocol.RespAuthFail+":"+err.Error()) != nil {
					return "", false
				}
				continue
			}
			if c.SendLine(protocol.RespAuthOK) != nil {
				return "", false
			}
			return username, true

		default:
			if c.SendLine(protocol.RespAuthFail+":Сначала войдите (LOGIN/REGISTER)") != nil {
				return "", false
			}
		}
	}
	return "", false
}

// session dispatches commands until the read loop errors or the peer
// disconnects.
func (s *Server) session(c *client, sc *bufio.Scanner, username string) {
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		cmd, payload := protocol.ParseCommand(line)

		switch cmd {
		case protocol.CmdMsg:
			// No channel: drop silently.
			if ch := s.registry.ChannelOf(c); ch != "" {
				s.broadcastChannel(ch, protocol.CmdMsg+":"+username+":"+payload, c)
			}

		case protocol.CmdTyping:
			if ch := s.registry.ChannelOf(c); ch != "" {
				s.broadcastChannel(ch, protocol.CmdTyping+":"+username, c)
			}

		case protocol.CmdPing:
			if c.SendLine(protocol.RespPong) != nil {
				return
			}

		case protocol.CmdCreateChannel:
			if err := s.channels.Create(payload); err != nil {
				// Historical quirk kept for client compatibility: create
				// failures reuse the CHANNEL_DELETE_FAIL event.
				_ = c.SendLine(protocol.EvtChannelDeleteFail + ":" + err.Error())
				continue
			}
			s.broadcastAll(protocol.EvtChannelCreated+":"+payload, nil)
			s.sendChannelList()

		case protocol.CmdDeleteChannel:
			if err := s.channels.Delete(payload); err != nil {
				_ = c.SendLine(protocol.EvtChannelDeleteFail + ":" + err.Error())
				continue
			}
			// Members of a deleted channel land in the null channel; a
			// re-join is the client's responsibility.
			s.registry.ClearChannel(payload)
			s.broadcastAll(protocol.EvtChannelDeleted+":"+payload, nil)
			s.sendChannelList()

		case protocol.CmdJoinChannel:
			if !s.channels.Exists(payload) {
				_ = c.SendLine(protocol.EvtSystem + ":Канал не найден")
				continue
			}
			s.leaveCurrent(c, username)
			s.registry.SetChannel(c, payload)
			s.broadcastAll(protocol.EvtUserJoinedChannel+":"+username+":"+payload, nil)
			s.sendChannelUsers(payload)

		case protocol.CmdLeaveChannel:
			// Not in a channel: no-op, no broadcast.
			s.leaveCurrent(c, username)

		default:
			_ = c.SendLine(protocol.EvtSystem + ":Неизвестная команда")
		}
	}
}

// leaveCurrent moves c out of its channel, if any, emitting the leave event
// and a refreshed member list for the old channel.
func (s *Server) leaveCurrent(c *client, username string) {
	old := s.registry.ChannelOf(c)
	if old == "" {
		return
	}
	s.registry.SetChannel(c, "")
	s.broadcastAll(protocol.EvtUserLeftChannel+":"+username+":"+old, nil)
	s.sendChannelUsers(old)
}

// disconnect runs the cleanup path. It is idempotent: the registry ignores
// a second removal of the same peer.
func (s *Server) disconnect(c *client, username string) {
	_, channel, ok := s.registry.RemoveText(c)
	_ = c.conn.Close()
	if !ok {
		return
	}

	s.broadcastAll(protocol.EvtSystem+":"+username+" покинул чат", nil)
	s.sendUserlist()
	if channel != "" {
		s.sendChannelUsers(channel)
	}
	slog.Info("user disconnected", "username", username)
}

// broadcastAll writes line to every text peer except exclude. Per-recipient
// write errors are swallowed; the failing peer's own read loop cleans up.
func (s *Server) broadcastAll(line string, exclude state.TextPeer) {
	for _, p := range s.registry.AllTextPeers() {
		if p == exclude {
			continue
		}
		_ = p.SendLine(line)
	}
}

// broadcastChannel writes line to every text peer in channel except exclude.
func (s *Server) broadcastChannel(channel, line string, exclude state.TextPeer) {
	for _, p := range s.registry.TextPeersInChannel(channel) {
		if p == exclude {
			continue
		}
		_ = p.SendLine(line)
	}
}

// sendUserlist pushes the full online-user list to everyone.
func (s *Server) sendUserlist() {
	s.broadcastAll(protocol.EvtUserlist+":"+strings.Join(s.registry.AllUsernames(), ","), nil)
}

// sendChannelList pushes the full channel list to everyone.
func (s *Server) sendChannelList() {
	s.broadcastAll(protocol.EvtChannelList+":"+strings.Join(s.channels.Names(), ","), nil)
}

// sendChannelUsers pushes the member list of one channel to everyone, so
// every client can keep its channel sidebar current.
func (s *Server) sendChannelUsers(channel string) {
	users := s.registry.UsersInChannel(channel)
	s.broadcastAll(protocol.EvtChannelUsers+":"+channel+":"+strings.Join(users, ","), nil)
}
