// Package state holds the process-wide registry of live connections: which
// text and voice sockets are online, under which username, and in which
// channel. It is the only structure shared between handler goroutines.
//
// Locking discipline: one coarse mutex guards every field. The lock is
// never held across socket I/O — all methods return snapshots (peer slices,
// name lists) that callers write to after the lock is released. The single
// lock keeps the cross-plane invariant simple: changing a text
// connection's channel must also retag the voice connection of the same
// username.
package state

import (
	"log/slog"
	"sort"
	"sync"
)

// TextPeer is the write surface of one text connection, implemented by the
// text handler's connection wrapper. The registry never reads from a peer.
type TextPeer interface {
	SendLine(line string) error
}

// VoicePeer is the write surface of one voice connection.
type VoicePeer interface {
	SendFrame(frame []byte) error
}

type textEntry struct {
	username string
	channel  string // "" = not in any channel
	seq      uint64 // join order, for stable snapshots
}

type voiceEntry struct {
	username string
	channel  string // cache, derived from the text plane
}

// Registry tracks all live connections.
type Registry struct {
	mu      sync.Mutex
	nextSeq uint64
	text    map[TextPeer]*textEntry
	voice   map[VoicePeer]*voiceEntry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		text:  make(map[TextPeer]*textEntry),
		voice: make(map[VoicePeer]*voiceEntry),
	}
}

// AddText registers an authenticated text connection.
func (r *Registry) AddText(p TextPeer, username string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextSeq++
	r.text[p] = &textEntry{username: username, seq: r.nextSeq}
	slog.Debug("text connection registered", "username", username, "online", len(r.text))
}

// RemoveText unregisters a text connection and returns the username and
// channel it had. Removing an unknown peer is a no-op with ok=false, which
// makes repeated disconnect cleanup idempotent.
func (r *Registry) RemoveText(p TextPeer) (username, channel string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.text[p]
	if !ok {
		return "", "", false
	}
	delete(r.text, p)
	slog.Debug("text connection removed", "username", e.username, "online", len(r.text))
	return e.username, e.channel, true
}

// SetChannel moves a text connection into channel ("" leaves all channels)
// and retags every voice connection carrying the same username.
func (r *Registry) SetChannel(p TextPeer, channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.text[p]
	if !ok {
		return
	}
	e.channel = channel
	for _, v := range r.voice {
		if v.username == e.username {
			v.channel = channel
		}
	}
}

// AddVoice registers a voice connection under its claimed username. The
// channel cache is derived from the already-online text connection of the
// same username, so a voice socket that connects after a channel join
// starts receiving fan-out without a rejoin.
func (r *Registry) AddVoice(p VoicePeer, username string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	channel := ""
	for _, e := range r.text {
		if e.username == username {
			channel = e.channel
			break
		}
	}
	r.voice[p] = &voiceEntry{username: username, channel: channel}
	slog.Debug("voice connection registered", "username", username, "channel", channel)
}

// RemoveVoice unregisters a voice connection. Idempotent.
func (r *Registry) RemoveVoice(p VoicePeer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.voice[p]
	if !ok {
		return false
	}
	delete(r.voice, p)
	slog.Debug("voice connection removed", "username", e.username)
	return true
}

// ClearChannel moves every member of channel (on both planes) to the null
// channel. Used when a channel is deleted.
func (r *Registry) ClearChannel(channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.text {
		if e.channel == channel {
			e.channel = ""
		}
	}
	for _, v := range r.voice {
		if v.channel == channel {
			v.channel = ""
		}
	}
}

// UsernameOnline reports whether an authenticated text connection with the
// given username exists.
func (r *Registry) UsernameOnline(username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.text {
		if e.username == username {
			return true
		}
	}
	return false
}

// UsernameOf returns the username of a text connection.
func (r *Registry) UsernameOf(p TextPeer) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.text[p]
	if !ok {
		return "", false
	}
	return e.username, true
}

// ChannelOf returns the current channel of a text connection; "" means the
// peer is in no channel or unknown.
func (r *Registry) ChannelOf(p TextPeer) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.text[p]; ok {
		return e.channel
	}
	return ""
}

// VoiceChannelOf returns the cached channel of a voice connection.
func (r *Registry) VoiceChannelOf(p VoicePeer) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.voice[p]; ok {
		return e.channel
	}
	return ""
}

// UsersInChannel returns the usernames of text connections in channel, in
// join order.
func (r *Registry) UsersInChannel(channel string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.textEntriesLocked(func(e *textEntry) bool { return e.channel == channel })
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.username
	}
	return out
}

// TextPeersInChannel returns a snapshot of the text peers in channel.
func (r *Registry) TextPeersInChannel(channel string) []TextPeer {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []TextPeer
	for p, e := range r.text {
		if e.channel == channel {
			out = append(out, p)
		}
	}
	return out
}

// VoicePeersInChannel returns a snapshot of the voice peers in channel.
// Peers with no channel never match: channel "" returns nothing.
func (r *Registry) VoicePeersInChannel(channel string) []VoicePeer {
	if channel == "" {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var out []VoicePeer
	for p, e := range r.voice {
		if e.channel == channel {
			out = append(out, p)
		}
	}
	return out
}

// AllUsernames returns every online username in join order.
func (r *Registry) AllUsernames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.textEntriesLocked(nil)
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.username
	}
	return out
}

// AllTextPeers returns a snapshot of every registered text peer.
func (r *Registry) AllTextPeers() []TextPeer {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]TextPeer, 0, len(r.text))
	for p := range r.text {
		out = append(out, p)
	}
	return out
}

// TextCount returns the number of authenticated text connections.
func (r *Registry) TextCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.text)
}

// VoiceCount returns the number of registered voice connections.
func (r *Registry) VoiceCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.voice)
}

// UserInfo is a snapshot of one online user, used by the status API.
type UserInfo struct {
	Username string `json:"username"`
	Channel  string `json:"channel,omitempty"`
}

// OnlineUsers returns a join-ordered snapshot of all online users.
func (r *Registry) OnlineUsers() []UserInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.textEntriesLocked(nil)
	out := make([]UserInfo, len(entries))
	for i, e := range entries {
		out[i] = UserInfo{Username: e.username, Channel: e.channel}
	}
	return out
}

// textEntriesLocked returns the text entries matching keep (nil keeps all),
// sorted by join order. Caller must hold r.mu.
func (r *Registry) textEntriesLocked(keep func(*textEntry) bool) []*textEntry {
	out := make([]*textEntry, 0, len(r.text))
	for _, e := range r.text {
		if keep == nil || keep(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}
